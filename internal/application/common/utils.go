package common

import (
	"context"
	"fmt"
	"math/rand"
	"time"
)

const Version = "0.1.0"

func PgInterval(d time.Duration) string {
	sec := int64(d / time.Second)
	return fmt.Sprintf("%d seconds", sec)
}

func NextBackoffWithJitter(attempts int) time.Duration {
	return BackoffWithJitter(time.Second, 30*time.Minute, attempts)
}

// BackoffWithJitter: min(max, base * 2^attempts), половина окна фиксирована,
// половина — равномерный джиттер. Нулевой attempt даёт порядка base.
func BackoffWithJitter(base, max time.Duration, attempts int) time.Duration {
	if attempts < 0 {
		attempts = 0
	}
	if base <= 0 {
		base = time.Second
	}

	d := base
	for i := 0; i < attempts; i++ {
		d <<= 1
		if d >= max {
			d = max
			break
		}
	}
	if d > max {
		d = max
	}

	jitter := time.Duration(rand.Int63n(int64(d/2) + 1))

	return d/2 + jitter
}

func SleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer func() {
		if !t.Stop() {
			select {
			case <-t.C:
			default:
			}
		}
	}()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
