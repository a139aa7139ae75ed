package common

import (
	"context"
	"testing"
	"time"
)

func TestBackoffWithJitter_Bounds(t *testing.T) {
	base := time.Second
	max := 10 * time.Minute

	for attempts := 0; attempts < 12; attempts++ {
		for i := 0; i < 50; i++ {
			d := BackoffWithJitter(base, max, attempts)
			if d > max {
				t.Fatalf("attempt %d: backoff %s exceeds max %s", attempts, d, max)
			}
			if d <= 0 {
				t.Fatalf("attempt %d: non-positive backoff %s", attempts, d)
			}
		}
	}
}

func TestBackoffWithJitter_GrowsWithAttempts(t *testing.T) {
	base := time.Second
	max := time.Hour

	// нижняя граница окна (d/2) растёт экспоненциально
	low0 := BackoffWithJitter(base, max, 0)
	if low0 < base/2 {
		t.Fatalf("attempt 0: %s below base/2", low0)
	}
	low5 := BackoffWithJitter(base, max, 5)
	if low5 < 16*time.Second {
		t.Fatalf("attempt 5: %s below expected floor 16s", low5)
	}
}

func TestBackoffWithJitter_CapsAtMax(t *testing.T) {
	max := 2 * time.Second
	for i := 0; i < 20; i++ {
		if d := BackoffWithJitter(time.Second, max, 30); d > max {
			t.Fatalf("backoff %s above cap %s", d, max)
		}
	}
}

func TestPgInterval(t *testing.T) {
	if got := PgInterval(90 * time.Second); got != "90 seconds" {
		t.Fatalf("got %q", got)
	}
}

func TestSleepCtx_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	err := SleepCtx(ctx, time.Minute)
	if err == nil {
		t.Fatal("expected context error")
	}
	if time.Since(start) > time.Second {
		t.Fatal("SleepCtx ignored cancellation")
	}
}
