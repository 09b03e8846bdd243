// Package management provides a lightweight HTTP API for runtime
// inspection and configuration of the running privacy core.
//
// Endpoints:
//
//	GET  /status             - health, uptime, gate/local-provider state
//	GET  /metrics            - counters and latency summaries
//	GET  /privacy/score      - audit log privacy score
//	GET  /fallback/status    - per-capability provider availability
//	POST /providers/add      - add a local-class provider name
//	POST /providers/remove   - remove a local-class provider name
package management

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"privacycore/internal/audit"
	"privacycore/internal/config"
	"privacycore/internal/fallback"
	"privacycore/internal/metrics"
)

// Server is the management API server.
type Server struct {
	cfg       *config.Config
	startTime time.Time
	providers *LocalProviderRegistry
	token     string // bearer token for auth; empty = no auth
	metrics   *metrics.Metrics
	auditLog  *audit.Log
	fallbacks *fallback.Registry
	srv       *http.Server
}

// LocalProviderRegistry holds the mutable set of provider names exempt
// from the Privacy Gate. It is shared between the gate and
// the management server; changes are persisted to disk via atomic file
// writes so they survive process restarts.
type LocalProviderRegistry struct {
	mu          sync.RWMutex
	providers   map[string]bool
	persistPath string // empty = no persistence
}

// NewLocalProviderRegistry creates a registry seeded from the config
// defaults. If persistPath is non-empty and the file exists, its
// contents take precedence over config defaults (it represents runtime
// overrides).
func NewLocalProviderRegistry(cfg *config.Config, persistPath string) *LocalProviderRegistry {
	r := &LocalProviderRegistry{
		providers:   make(map[string]bool, len(cfg.LocalProviders)),
		persistPath: persistPath,
	}

	if persistPath != "" {
		providers, err := r.loadFromDisk()
		switch {
		case err == nil:
			for _, p := range providers {
				r.providers[strings.ToLower(p)] = true
			}
			log.Printf("[PROVIDERS] Loaded %d local providers from %s", len(providers), persistPath)
			return r
		case !os.IsNotExist(err):
			log.Printf("[PROVIDERS] Warning: failed to load %s: %v (using config defaults)", persistPath, err)
		}
	}

	for _, p := range cfg.LocalProviders {
		r.providers[strings.ToLower(p)] = true
	}
	return r
}

// Has reports whether name is registered as a local-class provider,
// case-insensitively.
func (r *LocalProviderRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.providers[strings.ToLower(name)]
}

// Add registers name as a local-class provider and persists to disk.
func (r *LocalProviderRegistry) Add(name string) {
	r.mu.Lock()
	r.providers[strings.ToLower(name)] = true
	snapshot := r.snapshotLocked()
	r.mu.Unlock()
	r.persist(snapshot)
}

// Remove unregisters name and persists to disk.
func (r *LocalProviderRegistry) Remove(name string) {
	r.mu.Lock()
	delete(r.providers, strings.ToLower(name))
	snapshot := r.snapshotLocked()
	r.mu.Unlock()
	r.persist(snapshot)
}

// All returns a sorted slice of every registered provider name.
func (r *LocalProviderRegistry) All() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshotLocked()
}

func (r *LocalProviderRegistry) loadFromDisk() ([]string, error) {
	data, err := os.ReadFile(r.persistPath)
	if err != nil {
		return nil, err
	}
	var providers []string
	if err := json.Unmarshal(data, &providers); err != nil {
		return nil, fmt.Errorf("parse %s: %w", r.persistPath, err)
	}
	return providers, nil
}

// snapshotLocked returns a sorted copy of the current provider set.
// Caller must hold r.mu.
func (r *LocalProviderRegistry) snapshotLocked() []string {
	out := make([]string, 0, len(r.providers))
	for p := range r.providers {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// persist writes the given provider snapshot to disk atomically. It does
// NOT hold r.mu, so it won't block Has/All calls.
func (r *LocalProviderRegistry) persist(providers []string) {
	if r.persistPath == "" {
		return
	}

	data, err := json.MarshalIndent(providers, "", "  ")
	if err != nil {
		log.Printf("[PROVIDERS] Marshal error: %v", err)
		return
	}

	dir := filepath.Dir(r.persistPath)
	tmp, err := os.CreateTemp(dir, ".local-providers-*.tmp")
	if err != nil {
		log.Printf("[PROVIDERS] Persist error (create temp): %v", err)
		return
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(append(data, '\n')); err != nil {
		tmp.Close()        //nolint:errcheck // best-effort cleanup
		os.Remove(tmpName) //nolint:errcheck
		log.Printf("[PROVIDERS] Persist error (write): %v", err)
		return
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName) //nolint:errcheck
		log.Printf("[PROVIDERS] Persist error (close): %v", err)
		return
	}
	if err := os.Rename(tmpName, r.persistPath); err != nil {
		os.Remove(tmpName) //nolint:errcheck
		log.Printf("[PROVIDERS] Persist error (rename): %v", err)
		return
	}
}

// New creates a management server.
func New(cfg *config.Config, providers *LocalProviderRegistry, m *metrics.Metrics, auditLog *audit.Log, fallbacks *fallback.Registry) *Server {
	s := &Server{
		cfg:       cfg,
		startTime: time.Now(),
		providers: providers,
		token:     cfg.ManagementToken,
		metrics:   m,
		auditLog:  auditLog,
		fallbacks: fallbacks,
	}
	if s.token != "" {
		log.Printf("[MANAGEMENT] Bearer token authentication enabled")
	}
	return s
}

// Handler returns the HTTP handler for the management API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/status", s.handleStatus)
	mux.HandleFunc("/metrics", s.handleMetrics)
	mux.HandleFunc("/privacy/score", s.handlePrivacyScore)
	mux.HandleFunc("/fallback/status", s.handleFallbackStatus)
	mux.HandleFunc("/providers/add", s.handleAddProvider)
	mux.HandleFunc("/providers/remove", s.handleRemoveProvider)
	return s.authMiddleware(mux)
}

// authMiddleware checks for a valid Bearer token if one is configured.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.token == "" {
			next.ServeHTTP(w, r)
			return
		}
		auth := r.Header.Get("Authorization")
		const prefix = "Bearer "
		if !strings.HasPrefix(auth, prefix) ||
			subtle.ConstantTimeCompare([]byte(strings.TrimSpace(auth[len(prefix):])), []byte(s.token)) != 1 {
			log.Printf("[MANAGEMENT] Unauthorized access attempt from %s to %s", r.RemoteAddr, r.URL.Path)
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// providerNamePattern validates a local-provider identifier: letters,
// digits, dash, underscore only.
var providerNamePattern = regexp.MustCompile(`^[a-zA-Z0-9_-]{1,64}$`)

func validProviderName(name string) bool {
	return providerNamePattern.MatchString(name)
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	type response struct {
		Status         string   `json:"status"`
		Uptime         string   `json:"uptime"`
		GatePort       int      `json:"gatePort"`
		GateEnabled    bool     `json:"gateEnabled"`
		LocalProviders []string `json:"localProviders"`
	}

	resp := response{
		Status:         "running",
		Uptime:         time.Since(s.startTime).Round(time.Second).String(),
		GatePort:       s.cfg.GatePort,
		GateEnabled:    s.cfg.GateEnabled,
		LocalProviders: s.providers.All(),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAddProvider(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1024)
	var req struct {
		Provider string `json:"provider"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Provider == "" {
		http.Error(w, "invalid request: need {\"provider\":\"...\"}", http.StatusBadRequest)
		return
	}
	req.Provider = strings.ToLower(req.Provider)
	if !validProviderName(req.Provider) {
		http.Error(w, "invalid provider name", http.StatusBadRequest)
		return
	}
	s.providers.Add(req.Provider)
	log.Printf("[MANAGEMENT] Added local provider: %s", req.Provider)
	writeJSON(w, http.StatusOK, map[string]string{"added": req.Provider})
}

func (s *Server) handleRemoveProvider(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "POST only", http.StatusMethodNotAllowed)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, 1024)
	var req struct {
		Provider string `json:"provider"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Provider == "" {
		http.Error(w, "invalid request: need {\"provider\":\"...\"}", http.StatusBadRequest)
		return
	}
	req.Provider = strings.ToLower(req.Provider)
	if !validProviderName(req.Provider) {
		http.Error(w, "invalid provider name", http.StatusBadRequest)
		return
	}
	s.providers.Remove(req.Provider)
	log.Printf("[MANAGEMENT] Removed local provider: %s", req.Provider)
	writeJSON(w, http.StatusOK, map[string]string{"removed": req.Provider})
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	if s.metrics == nil {
		http.Error(w, "metrics not enabled", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, s.metrics.Snapshot())
}

func (s *Server) handlePrivacyScore(w http.ResponseWriter, _ *http.Request) {
	if s.auditLog == nil {
		http.Error(w, "audit log not enabled", http.StatusServiceUnavailable)
		return
	}
	score, err := s.auditLog.GetPrivacyScore()
	if err != nil {
		http.Error(w, "failed to compute privacy score", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, score)
}

func (s *Server) handleFallbackStatus(w http.ResponseWriter, r *http.Request) {
	if s.fallbacks == nil {
		http.Error(w, "fallback registry not enabled", http.StatusServiceUnavailable)
		return
	}
	capability := r.URL.Query().Get("capability")
	if capability == "" {
		http.Error(w, "missing capability query parameter", http.StatusBadRequest)
		return
	}
	statuses := s.fallbacks.GetChainStatus(r.Context(), capability)
	writeJSON(w, http.StatusOK, statuses)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[MANAGEMENT] JSON encode error: %v", err)
	}
}

// ListenAndServe starts the management HTTP server. It blocks until the
// server stops, returning nil after a call to Shutdown.
func (s *Server) ListenAndServe() error {
	addr := fmt.Sprintf("127.0.0.1:%d", s.cfg.ManagementPort)
	log.Printf("[MANAGEMENT] Listening on %s", addr)
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	err := s.srv.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully stops the management HTTP server, if running.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}
