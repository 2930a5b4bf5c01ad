// Package random produces short non-secret tokens and jittered durations.
package random

import (
	"math/rand/v2"
	"time"
)

const charset = "0123456789abcdefghijklmnopqrstuvwxyz"

// String returns length characters drawn from [0-9a-z]. Not for secrets.
func String(length int) string {
	b := make([]byte, length)
	for i := range b {
		b[i] = charset[rand.IntN(len(charset))]
	}
	return string(b)
}

// Jitter scales d by a random factor in [1-frac, 1+frac]. frac is clamped
// to [0,1].
func Jitter(d time.Duration, frac float64) time.Duration {
	switch {
	case frac <= 0 || d <= 0:
		return d
	case frac > 1:
		frac = 1
	}
	f := 1 - frac + rand.Float64()*2*frac
	return time.Duration(float64(d) * f)
}
