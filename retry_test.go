package pancake

import (
	"testing"
	"time"
)

func TestBackoffDoublesAndCaps(t *testing.T) {
	policy := DefaultRetryPolicy()

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 1 * time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second},
		{10, 10 * time.Second},
	}
	for _, c := range cases {
		if got := policy.Backoff(c.attempt); got != c.want {
			t.Errorf("Backoff(%d) = %v, want %v", c.attempt, got, c.want)
		}
	}
}

func TestBackoffMonotonic(t *testing.T) {
	policy := RetryPolicy{
		InitialInterval: 100 * time.Millisecond,
		MaxInterval:     3 * time.Second,
		MaxAttempts:     10,
	}

	prev := time.Duration(0)
	for attempt := 1; attempt <= 10; attempt++ {
		d := policy.Backoff(attempt)
		if d < prev {
			t.Fatalf("Backoff(%d) = %v, less than previous %v", attempt, d, prev)
		}
		if d > policy.MaxInterval {
			t.Fatalf("Backoff(%d) = %v, exceeds cap %v", attempt, d, policy.MaxInterval)
		}
		prev = d
	}
}

func TestRetryableClassification(t *testing.T) {
	policy := DefaultRetryPolicy()

	cases := []struct {
		kind ErrorKind
		want bool
	}{
		{KindValidation, false},
		{KindAuth, false},
		{KindRateLimit, true},
		{KindConnection, true},
		{KindTimeout, true},
		{KindActivity, true},
	}
	for _, c := range cases {
		if got := policy.Retryable(c.kind); got != c.want {
			t.Errorf("Retryable(%q) = %v, want %v", c.kind, got, c.want)
		}
	}
}

func TestTruncateError(t *testing.T) {
	long := make([]byte, MaxErrorLength+100)
	for i := range long {
		long[i] = 'x'
	}
	err := NewActivityError(ActivityAnalyzeOrder, KindActivity, string(long))

	msg := TruncateError(err)
	if len(msg) != MaxErrorLength {
		t.Errorf("truncated length = %d, want %d", len(msg), MaxErrorLength)
	}
	if msg[len(msg)-len("... [TRUNCATED]"):] != "... [TRUNCATED]" {
		t.Error("truncation marker missing")
	}

	short := NewActivityError(ActivityAnalyzeOrder, KindActivity, "brief")
	if got := TruncateError(short); got != short.Error() {
		t.Errorf("short message altered: %q", got)
	}
}
