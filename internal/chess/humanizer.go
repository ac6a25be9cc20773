package chess

import (
	"math"
	"math/rand"
	"time"
)

const (
	MinHumanDelay = 100 * time.Millisecond
	MaxHumanDelay = 10 * time.Second
)

// ClampDelay keeps a configured think delay inside the allowed window.
func ClampDelay(d time.Duration) time.Duration {
	if d < MinHumanDelay {
		return MinHumanDelay
	}
	if d > MaxHumanDelay {
		return MaxHumanDelay
	}
	return d
}

// HumanDelay spreads base by up to ±jitter (a fraction of base) so moves are not
// played on a fixed rhythm. A nil r disables jitter.
func HumanDelay(base time.Duration, jitter float64, r *rand.Rand) time.Duration {
	base = ClampDelay(base)
	if r == nil || jitter <= 0 {
		return base
	}
	jitter = math.Min(jitter, 1)
	offset := (r.Float64()*2 - 1) * jitter * float64(base)
	return ClampDelay(time.Duration(saturatingAdd(int64(base), int64(offset))))
}

func saturatingAdd(a, b int64) int64 {
	if b > 0 && a > math.MaxInt64-b {
		return math.MaxInt64
	}
	if b < 0 && a < math.MinInt64-b {
		return math.MinInt64
	}
	return a + b
}
