package fallback

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"privacycore/internal/config"
	"privacycore/internal/errs"
	"privacycore/internal/logger"
	"privacycore/internal/metrics"
)

// Built-in capability names (Glossary: "Capability").
const (
	CapabilityLLM       = "llm"
	CapabilityEmbedding = "embedding"
	CapabilitySearch    = "search"
	CapabilityTTS       = "tts"
	CapabilitySTT       = "stt"
)

var builtinCapabilities = []string{
	CapabilityLLM, CapabilityEmbedding, CapabilitySearch, CapabilityTTS, CapabilitySTT,
}

// Registry is the process-wide keyed map from capability name to Chain.
// There is exactly one instance per process; use Get to obtain it.
type Registry struct {
	mu      sync.RWMutex
	chains  map[string]*Chain
	db      *bolt.DB         // optional attempt-history persistence; nil when unset
	metrics *metrics.Metrics // optional; nil skips counters
	log     *logger.Logger   // optional; nil skips logging
}

// SetMetrics attaches m so Execute records fallback-attempt counters.
func (r *Registry) SetMetrics(m *metrics.Metrics) {
	r.mu.Lock()
	r.metrics = m
	r.mu.Unlock()
}

// SetLogger attaches lg so Execute logs each capability's outcome.
func (r *Registry) SetLogger(lg *logger.Logger) {
	r.mu.Lock()
	r.log = lg
	r.mu.Unlock()
}

var (
	instance   *Registry
	instanceMu sync.Mutex
)

// Get returns the process-wide Registry, lazily initializing it with
// stub chains for every built-in capability on first call. cfg supplies
// each capability's per-attempt timeout (LLMTimeoutMs, SearchTimeoutMs,
// ...); it is only consulted the first time Get builds the registry — a
// nil cfg falls back to the same defaults config.Load() would produce.
// Later calls return the existing instance regardless of cfg.
func Get(cfg *config.Config) *Registry {
	instanceMu.Lock()
	defer instanceMu.Unlock()
	if instance == nil {
		instance = newRegistry(cfg)
	}
	return instance
}

// capabilityTimeoutMs returns cfg's configured timeout for capability,
// defaulting to the same values config.Load() would produce when cfg is
// nil or the capability is not one of the five built-ins.
func capabilityTimeoutMs(cfg *config.Config, capability string) int {
	defaults := map[string]int{
		CapabilityLLM:       60_000,
		CapabilityEmbedding: 30_000,
		CapabilitySearch:    15_000,
		CapabilityTTS:       30_000,
		CapabilitySTT:       30_000,
	}
	if cfg == nil {
		if ms, ok := defaults[capability]; ok {
			return ms
		}
		return 30_000
	}
	switch capability {
	case CapabilityLLM:
		return cfg.LLMTimeoutMs
	case CapabilityEmbedding:
		return cfg.EmbeddingTimeoutMs
	case CapabilitySearch:
		return cfg.SearchTimeoutMs
	case CapabilityTTS:
		return cfg.TTSTimeoutMs
	case CapabilitySTT:
		return cfg.STTTimeoutMs
	default:
		return 30_000
	}
}

// Reset discards the process-wide Registry so the next Get call builds a
// fresh one. Test-only entry point.
func Reset() {
	instanceMu.Lock()
	defer instanceMu.Unlock()
	if instance != nil && instance.db != nil {
		instance.db.Close()
	}
	instance = nil
}

func newRegistry(cfg *config.Config) *Registry {
	r := &Registry{chains: make(map[string]*Chain)}
	for _, capability := range builtinCapabilities {
		chain := NewChain(capabilityTimeoutMs(cfg, capability))
		chain.Register(stubProvider(capability))
		r.chains[capability] = chain
	}
	return r
}

// stubProvider is the built-in default for every capability: always
// registered, always fails execute(), so an empty host configuration
// fails loud rather than silently succeeding with no real backend.
func stubProvider(capability string) Provider {
	return Provider{
		Name:        "stub-" + capability,
		Priority:    1_000_000,
		IsAvailable: func(ctx context.Context) bool { return true },
		Execute: func(ctx context.Context, input any) (any, error) {
			return nil, errs.New(errs.KindTransient, fmt.Sprintf("no %s provider configured", capability))
		},
	}
}

// OpenHistory attaches a bbolt-backed attempt-history store at path. It is
// optional — a Registry with no history store simply does not persist
// attempt records across restarts.
func (r *Registry) OpenHistory(path string) error {
	db, err := bolt.Open(path, 0o600, nil)
	if err != nil {
		return errs.Wrap(errs.KindInternal, "open fallback attempt history", err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists([]byte(historyBucket))
		return err
	}); err != nil {
		db.Close()
		return errs.Wrap(errs.KindInternal, "create fallback attempt history bucket", err)
	}
	r.mu.Lock()
	r.db = db
	r.mu.Unlock()
	return nil
}

const historyBucket = "fallback_attempt_history"

// recordAttempts persists the attempts from one Execute call, keyed by
// capability and timestamp, for post-hoc inspection via the management
// API. A Registry with no history store silently skips persistence.
func (r *Registry) recordAttempts(capability string, attempts []Attempt) {
	r.mu.RLock()
	db := r.db
	r.mu.RUnlock()
	if db == nil || len(attempts) == 0 {
		return
	}
	type record struct {
		Capability string    `json:"capability"`
		Timestamp  int64     `json:"timestamp"`
		Attempts   []Attempt `json:"attempts"`
	}
	data, err := json.Marshal(record{Capability: capability, Timestamp: time.Now().UnixMilli(), Attempts: attempts})
	if err != nil {
		return
	}
	_ = db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket([]byte(historyBucket))
		if b == nil {
			return nil
		}
		key := fmt.Sprintf("%s/%d", capability, time.Now().UnixNano())
		return b.Put([]byte(key), data)
	})
}

// Chain returns the Chain for capability, registering a fresh stub chain
// on first reference to an unrecognized capability name.
func (r *Registry) Chain(capability string) *Chain {
	r.mu.Lock()
	defer r.mu.Unlock()
	chain, ok := r.chains[capability]
	if !ok {
		chain = NewChain(30_000)
		chain.Register(stubProvider(capability))
		r.chains[capability] = chain
	}
	return chain
}

// RegisterProvider adds p to capability's chain, creating the chain if
// this is the first provider registered for it.
func (r *Registry) RegisterProvider(capability string, p Provider) {
	r.Chain(capability).Register(p)
}

// Execute runs capability's chain and, if a history store is attached,
// persists the resulting attempts.
func (r *Registry) Execute(ctx context.Context, capability string, input any) (Result, error) {
	chain := r.Chain(capability)
	result, err := chain.Execute(ctx, input)
	r.recordAttempts(capability, result.Attempts)
	r.recordMetrics(capability, result, err)
	return result, err
}

// recordMetrics accounts for one capability Execute call: every attempt
// made counts toward FallbackAttempts, and the call itself counts as
// either a success or an exhausted chain.
func (r *Registry) recordMetrics(capability string, result Result, err error) {
	r.mu.RLock()
	m := r.metrics
	lg := r.log
	r.mu.RUnlock()

	if m != nil {
		m.FallbackAttempts.Add(int64(len(result.Attempts)))
		if err == nil {
			m.FallbackSuccesses.Add(1)
		} else {
			m.FallbackExhausted.Add(1)
		}
	}
	if lg != nil {
		if err != nil {
			lg.Warnf("execute", "capability %q exhausted after %d attempts: %v", capability, len(result.Attempts), err)
		} else {
			lg.Debugf("execute", "capability %q served by %s", capability, result.ProviderUsed)
		}
	}
}

// GetChainStatus probes every provider registered for capability.
func (r *Registry) GetChainStatus(ctx context.Context, capability string) []ChainStatus {
	return r.Chain(capability).GetChainStatus(ctx)
}
