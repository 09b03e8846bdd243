package safeexec

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"privacycore/internal/logger"
	"privacycore/internal/metrics"
)

func TestExecute_Success(t *testing.T) {
	result := Execute(context.Background(), "echo", func(ctx context.Context) (any, error) {
		return "hello", nil
	}, Options{})

	if result.Err != nil {
		t.Fatalf("unexpected error: %v", result.Err)
	}
	if result.Value != "hello" {
		t.Errorf("Value = %v, want hello", result.Value)
	}
}

func TestExecute_AbortedBeforeExecution(t *testing.T) {
	cancel := make(chan struct{})
	close(cancel)

	called := false
	result := Execute(context.Background(), "never", func(ctx context.Context) (any, error) {
		called = true
		return nil, nil
	}, Options{Cancel: cancel})

	if called {
		t.Error("fn must not run when already cancelled on entry")
	}
	if result.DurationMs != 0 {
		t.Errorf("DurationMs = %d, want 0", result.DurationMs)
	}
	if result.Err == nil || !strings.Contains(result.Err.Error(), "Aborted before execution") {
		t.Errorf("Err = %v, want Aborted before execution", result.Err)
	}
}

func TestExecute_Timeout(t *testing.T) {
	result := Execute(context.Background(), "slow", func(ctx context.Context) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}, Options{Timeout: 10 * time.Millisecond})

	if result.Err == nil {
		t.Fatal("expected timeout error")
	}
	if !strings.Contains(result.Err.Error(), `"slow" timed out after 10ms`) {
		t.Errorf("Err = %v, want timeout message mentioning tool name and timeout", result.Err)
	}
}

func TestExecute_ExternalCancellation(t *testing.T) {
	cancel := make(chan struct{})
	go func() {
		time.Sleep(5 * time.Millisecond)
		close(cancel)
	}()

	result := Execute(context.Background(), "slow", func(ctx context.Context) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}, Options{Cancel: cancel, Timeout: time.Second})

	if result.Err == nil {
		t.Fatal("expected error on external cancellation")
	}
}

func TestExecute_SanitizesAbsolutePaths(t *testing.T) {
	result := Execute(context.Background(), "fail", func(ctx context.Context) (any, error) {
		return nil, errors.New("read failed: /home/user/.secret/config.json")
	}, Options{})

	if result.Err == nil {
		t.Fatal("expected error")
	}
	if strings.Contains(result.Err.Error(), "/home/user") {
		t.Errorf("error should not leak absolute path: %v", result.Err)
	}
	if !strings.Contains(result.Err.Error(), "[path]") {
		t.Errorf("expected [path] placeholder, got %v", result.Err)
	}
}

func TestExecute_OnCompleteCalledExactlyOnce(t *testing.T) {
	calls := 0
	Execute(context.Background(), "ok", func(ctx context.Context) (any, error) {
		return 1, nil
	}, Options{OnComplete: func(r Result) { calls++ }})

	if calls != 1 {
		t.Errorf("OnComplete called %d times, want 1", calls)
	}
}

func TestExecute_OnCompletePanicIsSwallowed(t *testing.T) {
	result := Execute(context.Background(), "ok", func(ctx context.Context) (any, error) {
		return 1, nil
	}, Options{OnComplete: func(r Result) { panic("boom") }})

	if result.Value != 1 {
		t.Errorf("Execute should still return its result despite OnComplete panicking: %+v", result)
	}
}

type recordingSink struct {
	results []Result
}

func (s *recordingSink) ToolFailure(r Result) { s.results = append(s.results, r) }

func TestExecute_EmitsFailureOnError(t *testing.T) {
	sink := &recordingSink{}
	Execute(context.Background(), "fail", func(ctx context.Context) (any, error) {
		return nil, errors.New("boom")
	}, Options{Failures: sink})

	if len(sink.results) != 1 {
		t.Fatalf("expected 1 failure emitted, got %d", len(sink.results))
	}
}

func TestExecute_NoFailureEmittedOnSuccess(t *testing.T) {
	sink := &recordingSink{}
	Execute(context.Background(), "ok", func(ctx context.Context) (any, error) {
		return 1, nil
	}, Options{Failures: sink})

	if len(sink.results) != 0 {
		t.Errorf("expected no failure emitted on success, got %+v", sink.results)
	}
}

func TestExecute_RecordsMetricsOnSuccess(t *testing.T) {
	m := metrics.New()
	Execute(context.Background(), "ok", func(ctx context.Context) (any, error) {
		return 1, nil
	}, Options{Metrics: m})

	snap := m.Snapshot()
	if snap.Tool.Invocations != 1 || snap.Tool.Failures != 0 || snap.Tool.Timeouts != 0 {
		t.Errorf("unexpected tool snapshot: %+v", snap.Tool)
	}
}

func TestExecute_RecordsMetricsOnFailureAndTimeout(t *testing.T) {
	m := metrics.New()
	Execute(context.Background(), "fail", func(ctx context.Context) (any, error) {
		return nil, errors.New("boom")
	}, Options{Metrics: m})
	Execute(context.Background(), "slow", func(ctx context.Context) (any, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}, Options{Metrics: m, Timeout: 10 * time.Millisecond})

	snap := m.Snapshot()
	if snap.Tool.Invocations != 2 {
		t.Errorf("Invocations = %d, want 2", snap.Tool.Invocations)
	}
	if snap.Tool.Failures != 2 {
		t.Errorf("Failures = %d, want 2 (both the plain failure and the timeout)", snap.Tool.Failures)
	}
	if snap.Tool.Timeouts != 1 {
		t.Errorf("Timeouts = %d, want 1", snap.Tool.Timeouts)
	}
}

func TestExecute_LogsOutcome(t *testing.T) {
	lg := logger.New("EXEC", "debug")
	result := Execute(context.Background(), "ok", func(ctx context.Context) (any, error) {
		return 1, nil
	}, Options{Log: lg})

	if result.Err != nil {
		t.Fatalf("unexpected error: %v", result.Err)
	}
}

func TestExecute_ExactlyOneOfValueOrErr(t *testing.T) {
	ok := Execute(context.Background(), "ok", func(ctx context.Context) (any, error) {
		return "v", nil
	}, Options{})
	if ok.Err != nil || ok.Value == nil {
		t.Errorf("success result should have Value set and Err nil: %+v", ok)
	}

	bad := Execute(context.Background(), "bad", func(ctx context.Context) (any, error) {
		return nil, errors.New("boom")
	}, Options{})
	if bad.Err == nil || bad.Value != nil {
		t.Errorf("error result should have Err set and Value nil: %+v", bad)
	}
}
