package outbox

import (
	"strings"
	"testing"
	"time"
)

func TestBackoff(t *testing.T) {
	tests := []struct {
		base     time.Duration
		attempts int
		want     time.Duration
	}{
		{0, 3, 0},
		{time.Second, 0, 0},
		{time.Second, 1, time.Second},
		{time.Second, 2, 2 * time.Second},
		{time.Second, 4, 8 * time.Second},
		{30 * time.Second, 10, time.Hour},
		{2 * time.Hour, 1, time.Hour},
	}
	for _, tt := range tests {
		if got := Backoff(tt.base, tt.attempts); got != tt.want {
			t.Errorf("Backoff(%v, %d) = %v, want %v", tt.base, tt.attempts, got, tt.want)
		}
	}
}

func TestTruncateError(t *testing.T) {
	short := "boom"
	if got := TruncateError(short); got != short {
		t.Fatalf("expected %q, got %q", short, got)
	}
	long := strings.Repeat("x", maxErrorLength+10)
	if got := TruncateError(long); len(got) != maxErrorLength {
		t.Fatalf("expected %d bytes, got %d", maxErrorLength, len(got))
	}
}

func TestClaimOptionsWithDefaults(t *testing.T) {
	o := ClaimOptions{}.WithDefaults()
	if o.BatchSize != DefaultBatchSize || o.VisibilityTimeout != DefaultVisibilityTimeout {
		t.Fatalf("unexpected defaults: %+v", o)
	}
	o = ClaimOptions{BatchSize: 3, VisibilityTimeout: time.Second}.WithDefaults()
	if o.BatchSize != 3 || o.VisibilityTimeout != time.Second {
		t.Fatalf("explicit values overwritten: %+v", o)
	}
}
