// Command gateway is the Privacy & Safety Core process.
//
// It wires together the PII detector, the privacy gate, the credential
// vault, the audit log, and the fallback provider registry,
// then serves the management HTTP API so operators can inspect and
// adjust the running instance.
//
// This process does not intercept network traffic: callers embed it as
// a library-style chokepoint (via internal/gate) for any outbound model
// call, rather than routing HTTP/HTTPS through a MITM proxy.
//
// Usage:
//
//	./gateway
//
//	# Custom ports
//	GATE_PORT=9090 MANAGEMENT_PORT=9091 ./gateway
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"privacycore/internal/audit"
	"privacycore/internal/config"
	"privacycore/internal/fallback"
	"privacycore/internal/gate"
	"privacycore/internal/logger"
	"privacycore/internal/management"
	"privacycore/internal/metrics"
	"privacycore/internal/pii"
	"privacycore/internal/vault"
)

func main() {
	cfg := config.Load()

	printBanner(cfg)

	if err := os.MkdirAll(cfg.VaultDir, 0o700); err != nil {
		log.Fatalf("[GATEWAY] Fatal: create vault dir: %v", err)
	}
	// Shared metrics collector — passed to every component so counters
	// recorded by the gate, vault, safe executor, and fallback registry
	// surface through the same /metrics endpoint.
	m := metrics.New()

	v, err := vault.Open(cfg.VaultDir)
	if err != nil {
		log.Fatalf("[GATEWAY] Fatal: open vault: %v", err)
	}
	v.SetMetrics(m)
	v.SetLogger(logger.New("VAULT", cfg.LogLevel))
	if keys, err := v.List(); err == nil {
		log.Printf("[GATEWAY] Vault ready: %d stored credential(s)", len(keys))
	}

	cache, err := pii.NewValueCache(filepath.Join(filepath.Dir(cfg.AuditLogPath), "pii-cache.db"))
	if err != nil {
		log.Fatalf("[GATEWAY] Fatal: open pii cache: %v", err)
	}
	defer cache.Close()

	detector := pii.New(
		pii.WithNameAddressDetection(cfg.EnableNameAddressDetection),
		pii.WithCache(cache),
	)

	auditLog, err := audit.Open(cfg.AuditLogPath)
	if err != nil {
		log.Fatalf("[GATEWAY] Fatal: open audit log: %v", err)
	}

	registry := management.NewLocalProviderRegistry(cfg, "local-providers.json")

	// The gate itself is an in-process library, not a network
	// interceptor: embedding callers construct it exactly this way — with
	// this process's detector, audit log, provider registry, metrics, and
	// logger already wired — and call GateOutbound directly before
	// forwarding to a provider.
	g := gate.New(detector, auditLog, cfg.GateEnabled, registry, m, logger.New("GATE", cfg.LogLevel))
	log.Printf("[GATEWAY] Gate ready: enabled=%v local providers=%d", g.Enabled, len(registry.All()))

	fallbacks := fallback.Get(cfg)
	fallbacks.SetMetrics(m)
	fallbacks.SetLogger(logger.New("FALLBACK", cfg.LogLevel))
	if err := fallbacks.OpenHistory(filepath.Join(filepath.Dir(cfg.AuditLogPath), "fallback-history.db")); err != nil {
		log.Printf("[GATEWAY] Warning: fallback history disabled: %v", err)
	}

	mgmt := management.New(cfg, registry, m, auditLog, fallbacks)

	// Fatal is intentional: the gateway should not run without its
	// control plane reachable for status and metrics inspection.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- mgmt.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		log.Fatalf("[GATEWAY] Fatal: management server: %v", err)
	case <-quit:
		log.Printf("[GATEWAY] Shutting down…")
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := mgmt.Shutdown(ctx); err != nil {
			log.Printf("[GATEWAY] Shutdown error: %v", err)
		}
	}
}

func printBanner(cfg *config.Config) {
	fmt.Printf(`
╔══════════════════════════════════════════════════════╗
║          Privacy & Safety Core  (Go)                  ║
╚══════════════════════════════════════════════════════╝
  Gate enabled     : %v
  Management port  : %d
  Local providers  : %v
  Vault dir        : %s
  Audit log        : %s

  Check status:
    curl http://127.0.0.1:%d/status
`, cfg.GateEnabled, cfg.ManagementPort, cfg.LocalProviders, cfg.VaultDir, cfg.AuditLogPath, cfg.ManagementPort)
}
