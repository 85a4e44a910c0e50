package probe

import (
	"context"
	"strings"
	"testing"
	"time"
)

// scripted returns results in order, then keeps failing.
type scripted struct {
	results []CheckResult
	calls   int
}

func (s *scripted) Check(ctx context.Context, target string) CheckResult {
	s.calls++
	if s.calls > len(s.results) {
		return CheckResult{Message: "exhausted"}
	}
	return s.results[s.calls-1]
}

func TestRetryChecker_StopsOnFirstSuccess(t *testing.T) {
	inner := &scripted{results: []CheckResult{
		{Message: "503 Service Unavailable", StatusCode: 503},
		{Success: true, Message: "200 OK", StatusCode: 200},
	}}
	rc := &RetryChecker{Inner: inner, Attempts: 4, Backoff: 5 * time.Millisecond}

	out := rc.Check(context.Background(), "https://hc.example/ping")
	if !out.Success || out.Message != "200 OK" {
		t.Fatalf("want success after one retry, got %+v", out)
	}
	if inner.calls != 2 {
		t.Fatalf("want 2 attempts, got %d", inner.calls)
	}
}

func TestRetryChecker_ExhaustsAttemptsAndAnnotates(t *testing.T) {
	inner := &scripted{}
	rc := &RetryChecker{Inner: inner, Attempts: 3}

	out := rc.Check(context.Background(), "https://hc.example/ping")
	if out.Success {
		t.Fatal("want failure")
	}
	if inner.calls != 3 {
		t.Fatalf("want 3 attempts, got %d", inner.calls)
	}
	if !strings.HasSuffix(out.Message, "(after retries)") {
		t.Fatalf("message not annotated: %q", out.Message)
	}
}

func TestRetryChecker_SingleAttemptNotAnnotated(t *testing.T) {
	inner := &scripted{}
	out := (&RetryChecker{Inner: inner}).Check(context.Background(), "x")
	if inner.calls != 1 || out.Message != "exhausted" {
		t.Fatalf("calls=%d msg=%q", inner.calls, out.Message)
	}
}

func TestRetryChecker_CancelledContextStopsRetrying(t *testing.T) {
	inner := &scripted{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	rc := &RetryChecker{Inner: inner, Attempts: 10, Backoff: time.Second}
	start := time.Now()
	rc.Check(ctx, "x")
	if inner.calls > 1 || time.Since(start) > 500*time.Millisecond {
		t.Fatalf("cancelled check kept retrying: calls=%d", inner.calls)
	}
}
