// Package fallback implements the fallback chain and capability registry
// (component I): each capability (llm, embedding, search, tts, stt) owns
// one priority-ordered chain of providers; Chain.Execute tries them in
// order, probing availability before each attempt, and the process-wide
// Registry hands chains out by capability name.
package fallback

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"privacycore/internal/errs"
)

// Provider is one backend inside a Chain.
// Smaller Priority runs earlier; ties break by registration order.
type Provider struct {
	Name        string
	Priority    int
	IsAvailable func(ctx context.Context) bool
	Execute     func(ctx context.Context, input any) (any, error)
}

// Attempt records one provider's outcome during Chain.Execute.
type Attempt struct {
	Provider string
	Skipped  bool // true if isAvailable() returned false or panicked
	Err      error
	Duration time.Duration
}

// Result is the outcome of Chain.Execute.
type Result struct {
	Value        any
	ProviderUsed string
	Attempts     []Attempt
}

// ProbeTimeout bounds each isAvailable() call.
const ProbeTimeout = 2 * time.Second

// Chain is a priority-ordered sequence of providers for one capability.
// Providers are tried strictly in order; Chain never retries a single
// provider twice in one Execute call.
type Chain struct {
	mu        sync.RWMutex
	providers []Provider
	TimeoutMs int
}

// NewChain builds an empty chain with the given per-attempt timeout.
func NewChain(timeoutMs int) *Chain {
	if timeoutMs <= 0 {
		timeoutMs = 30_000
	}
	return &Chain{TimeoutMs: timeoutMs}
}

// Register appends a provider and keeps the chain sorted by priority
// (stable — insertion order breaks ties).
func (c *Chain) Register(p Provider) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.providers = append(c.providers, p)
	sort.SliceStable(c.providers, func(i, j int) bool {
		return c.providers[i].Priority < c.providers[j].Priority
	})
}

// Providers returns a snapshot of the chain's registered providers,
// ordered by priority.
func (c *Chain) Providers() []Provider {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]Provider, len(c.providers))
	copy(out, c.providers)
	return out
}

// ErrNoProviderAvailable is returned when every provider in the chain was
// skipped or failed.
var ErrNoProviderAvailable = errs.New(errs.KindTransient, "no provider available")

// Execute tries each provider in priority order: probe
// availability with ProbeTimeout, then run under the chain's timeout. The
// first success wins; failures are recorded and the next provider is
// tried.
func (c *Chain) Execute(ctx context.Context, input any) (Result, error) {
	providers := c.Providers()
	var attempts []Attempt

	for _, p := range providers {
		if !probe(ctx, p) {
			attempts = append(attempts, Attempt{Provider: p.Name, Skipped: true})
			continue
		}

		start := time.Now()
		value, err := runWithTimeout(ctx, time.Duration(c.TimeoutMs)*time.Millisecond, p, input)
		duration := time.Since(start)
		attempts = append(attempts, Attempt{Provider: p.Name, Err: err, Duration: duration})
		if err == nil {
			return Result{Value: value, ProviderUsed: p.Name, Attempts: attempts}, nil
		}
	}

	return Result{Attempts: attempts}, fmt.Errorf("%w: %d attempts", ErrNoProviderAvailable, len(attempts))
}

func probe(ctx context.Context, p Provider) (available bool) {
	if p.IsAvailable == nil {
		return true
	}
	probeCtx, cancel := context.WithTimeout(ctx, ProbeTimeout)
	defer cancel()

	defer func() {
		if recover() != nil {
			available = false
		}
	}()
	return p.IsAvailable(probeCtx)
}

func runWithTimeout(ctx context.Context, timeout time.Duration, p Provider, input any) (value any, err error) {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		value any
		err   error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("%v", r)}
			}
		}()
		v, e := p.Execute(runCtx, input)
		done <- outcome{value: v, err: e}
	}()

	select {
	case o := <-done:
		return o.value, o.err
	case <-runCtx.Done():
		return nil, fmt.Errorf("provider %q timed out", p.Name)
	}
}

// ChainStatus reports, for every registered provider, whether it is
// currently available. Probes run in parallel; a panicking probe counts
// as unavailable rather than failing the whole status call.
type ChainStatus struct {
	Provider  string
	Available bool
}

// GetChainStatus probes every provider in the chain concurrently.
func (c *Chain) GetChainStatus(ctx context.Context) []ChainStatus {
	providers := c.Providers()
	statuses := make([]ChainStatus, len(providers))

	g, gctx := errgroup.WithContext(ctx)
	for i, p := range providers {
		i, p := i, p
		g.Go(func() error {
			statuses[i] = ChainStatus{Provider: p.Name, Available: probe(gctx, p)}
			return nil
		})
	}
	_ = g.Wait() // probes never return an error; only panics, which probe() absorbs
	return statuses
}
