package resilient

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/XcodeFish/codegenius-ai-gateway/internal/provider"
)

// noSleep makes retry loops instantaneous in tests.
func noSleep(ctx context.Context, d time.Duration) error { return nil }

func retryableErr() error {
	return &provider.UpstreamError{
		Provider:   "fake",
		StatusCode: 503,
		Code:       "overloaded",
		Message:    "try later",
		Retryable:  true,
	}
}

func TestRace_Completes(t *testing.T) {
	v, err := Race(context.Background(), time.Second, func(ctx context.Context) (string, error) {
		return "done", nil
	})
	if err != nil {
		t.Fatalf("Race: %v", err)
	}
	if v != "done" {
		t.Errorf("value = %q", v)
	}
}

func TestRace_TimeoutBound(t *testing.T) {
	deadline := 50 * time.Millisecond
	start := time.Now()

	_, err := Race(context.Background(), deadline, func(ctx context.Context) (string, error) {
		select {} // never resolves
	})
	elapsed := time.Since(start)

	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
	if elapsed > deadline+500*time.Millisecond {
		t.Errorf("timeout took %v, want ~%v", elapsed, deadline)
	}
}

func TestRace_LateCompletionIgnored(t *testing.T) {
	done := make(chan struct{})
	_, err := Race(context.Background(), 10*time.Millisecond, func(ctx context.Context) (int, error) {
		<-done
		return 42, nil
	})

	var te *TimeoutError
	if !errors.As(err, &te) {
		t.Fatalf("expected TimeoutError, got %v", err)
	}
	// Let the underlying call finish; nothing should panic or block.
	close(done)
	time.Sleep(10 * time.Millisecond)
}

func TestRace_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := Race(ctx, time.Second, func(ctx context.Context) (int, error) {
		select {}
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestExecute_RetryBound(t *testing.T) {
	attempts := 0
	policy := HostedPolicy()
	policy.Sleep = noSleep

	_, err := Execute(context.Background(), policy, time.Second, "fake", func(ctx context.Context) (string, error) {
		attempts++
		return "", retryableErr()
	})

	if attempts != 4 {
		t.Errorf("attempts = %d, want exactly 4 (maxRetries=3 + initial)", attempts)
	}
	var ue *provider.UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if !ue.Retryable {
		t.Error("surfaced error must carry retryable=true")
	}
	if ue.Code != "overloaded" || ue.Message != "try later" {
		t.Errorf("upstream code/message not preserved: %+v", ue)
	}
}

func TestExecute_NonRetryablePropagatesImmediately(t *testing.T) {
	attempts := 0
	policy := HostedPolicy()
	policy.Sleep = noSleep

	fatal := &provider.UpstreamError{Provider: "fake", StatusCode: 401, Code: "bad_key", Message: "no", Retryable: false}
	_, err := Execute(context.Background(), policy, time.Second, "fake", func(ctx context.Context) (string, error) {
		attempts++
		return "", fatal
	})

	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
	var ue *provider.UpstreamError
	if !errors.As(err, &ue) || ue.Code != "bad_key" {
		t.Fatalf("expected original error back, got %v", err)
	}
}

func TestExecute_SucceedsAfterRetries(t *testing.T) {
	attempts := 0
	policy := HostedPolicy()
	policy.Sleep = noSleep

	v, err := Execute(context.Background(), policy, time.Second, "fake", func(ctx context.Context) (string, error) {
		attempts++
		if attempts < 3 {
			return "", retryableErr()
		}
		return "recovered", nil
	})
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if v != "recovered" || attempts != 3 {
		t.Errorf("v=%q attempts=%d", v, attempts)
	}
}

func TestExecute_TimeoutSurfacesAsRetryableUpstreamError(t *testing.T) {
	policy := Policy{
		MaxRetries:  1,
		Backoff:     func(int) time.Duration { return 0 },
		IsRetryable: IsRetryableError,
		Sleep:       noSleep,
	}

	_, err := Execute(context.Background(), policy, 10*time.Millisecond, "fake", func(ctx context.Context) (string, error) {
		select {}
	})

	var ue *provider.UpstreamError
	if !errors.As(err, &ue) {
		t.Fatalf("expected UpstreamError, got %v", err)
	}
	if ue.Code != "timeout" || !ue.Retryable {
		t.Errorf("got %+v, want retryable timeout", ue)
	}
}

func TestExecute_FreshDeadlinePerAttempt(t *testing.T) {
	attempts := 0
	policy := Policy{
		MaxRetries:  2,
		Backoff:     func(int) time.Duration { return 0 },
		IsRetryable: IsRetryableError,
		Sleep:       noSleep,
	}

	// Each attempt hangs; every one must time out on its own deadline and a
	// later retry must start fresh.
	_, err := Execute(context.Background(), policy, 15*time.Millisecond, "fake", func(ctx context.Context) (string, error) {
		attempts++
		select {}
	})
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3", attempts)
	}
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestBackoffSchedules(t *testing.T) {
	hosted := HostedPolicy()
	wantHosted := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second}
	for i, want := range wantHosted {
		if got := hosted.Backoff(i + 1); got != want {
			t.Errorf("hosted backoff(%d) = %v, want %v", i+1, got, want)
		}
	}

	local := LocalPolicy()
	wantLocal := []time.Duration{2 * time.Second, 4 * time.Second}
	for i, want := range wantLocal {
		if got := local.Backoff(i + 1); got != want {
			t.Errorf("local backoff(%d) = %v, want %v", i+1, got, want)
		}
	}

	if hosted.MaxRetries != 3 || local.MaxRetries != 2 {
		t.Errorf("MaxRetries hosted=%d local=%d", hosted.MaxRetries, local.MaxRetries)
	}
}

func TestFor(t *testing.T) {
	p, d := For(false)
	if d != HostedDeadline || p.MaxRetries != 3 {
		t.Errorf("hosted: deadline=%v retries=%d", d, p.MaxRetries)
	}
	p, d = For(true)
	if d != LocalDeadline || p.MaxRetries != 2 {
		t.Errorf("local: deadline=%v retries=%d", d, p.MaxRetries)
	}
}
