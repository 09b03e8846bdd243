// Package safeexec implements the safe tool executor (component H): every
// operation runs under a timeout/cancellation race, its errors are
// sanitized of stack frames and absolute paths before surfacing, and
// exactly one completion callback fires regardless of outcome.
package safeexec

import (
	"context"
	"fmt"
	"time"

	"privacycore/internal/errs"
	"privacycore/internal/logger"
	"privacycore/internal/metrics"
)

// DefaultTimeout is used when opts.Timeout is zero or negative.
const DefaultTimeout = 30 * time.Second

// Result is the outcome of one Execute call. Exactly one of Value/Err is
// populated once Execute returns.
type Result struct {
	Name       string
	Value      any
	Err        error
	DurationMs int64
}

// FailureSink receives a notification whenever Execute produces an error
// result. Implementations must not block; a panic in a sink is recovered
// and ignored by Execute.
type FailureSink interface {
	ToolFailure(result Result)
}

// Options configures one Execute call.
type Options struct {
	Timeout    time.Duration       // default DefaultTimeout when zero
	Cancel     <-chan struct{}     // external cancellation signal
	OnComplete func(result Result) // called exactly once, errors swallowed
	Failures   FailureSink         // notified on error, swallowed if it panics
	Metrics    *metrics.Metrics    // optional; records invocation/failure/timeout counters and latency
	Log        *logger.Logger      // optional; logs each call's outcome
}

// Execute runs fn under a timeout/cancellation race. If opts.Cancel
// is already closed on entry, fn never runs and the result reports
// "Aborted before execution" with DurationMs=0.
func Execute(ctx context.Context, name string, fn func(ctx context.Context) (any, error), opts Options) Result {
	start := time.Now()

	select {
	case <-opts.Cancel:
		result := Result{Name: name, Err: fmt.Errorf("Aborted before execution"), DurationMs: 0}
		finish(result, opts, false)
		return result
	default:
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

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
		v, err := fn(runCtx)
		done <- outcome{value: v, err: err}
	}()

	var result Result
	var timedOut bool
	select {
	case o := <-done:
		elapsed := time.Since(start).Milliseconds()
		if o.err != nil {
			result = Result{Name: name, Err: sanitizeToError(o.err), DurationMs: elapsed}
		} else {
			result = Result{Name: name, Value: o.value, DurationMs: elapsed}
		}
	case <-runCtx.Done():
		elapsed := time.Since(start).Milliseconds()
		if opts.Cancel != nil {
			select {
			case <-opts.Cancel:
				result = Result{Name: name, Err: fmt.Errorf("Aborted before execution"), DurationMs: elapsed}
				finish(result, opts, false)
				return result
			default:
			}
		}
		timedOut = true
		result = Result{
			Name:       name,
			Err:        fmt.Errorf("Tool %q timed out after %dms", name, timeout.Milliseconds()),
			DurationMs: elapsed,
		}
	case <-opts.Cancel:
		elapsed := time.Since(start).Milliseconds()
		result = Result{Name: name, Err: fmt.Errorf("Aborted before execution"), DurationMs: elapsed}
	}

	finish(result, opts, timedOut)
	return result
}

// finish delivers callbacks and records observability for one completed
// Execute call. timedOut is true only when the timeout branch produced
// result, not for cancellation or ordinary failures.
func finish(result Result, opts Options, timedOut bool) {
	if opts.Metrics != nil {
		opts.Metrics.ToolInvocations.Add(1)
		if result.Err != nil {
			opts.Metrics.ToolFailures.Add(1)
		}
		if timedOut {
			opts.Metrics.ToolTimeouts.Add(1)
		}
		opts.Metrics.RecordToolLatency(time.Duration(result.DurationMs) * time.Millisecond)
	}
	if opts.Log != nil {
		if result.Err != nil {
			opts.Log.Warnf("execute", "tool %q failed after %dms: %v", result.Name, result.DurationMs, result.Err)
		} else {
			opts.Log.Debugf("execute", "tool %q completed in %dms", result.Name, result.DurationMs)
		}
	}
	if opts.OnComplete != nil {
		safeCall(func() { opts.OnComplete(result) })
	}
	if result.Err != nil && opts.Failures != nil {
		safeCall(func() { opts.Failures.ToolFailure(result) })
	}
}

func safeCall(fn func()) {
	defer func() { recover() }() //nolint:errcheck // callbacks must never crash Execute
	fn()
}

// sanitizeToError applies errs.Sanitize to err's message, keeping its
// text but dropping stack frames and replacing absolute filesystem paths
// with "[path]".
func sanitizeToError(err error) error {
	return fmt.Errorf("%s", errs.Sanitize(err.Error()))
}
