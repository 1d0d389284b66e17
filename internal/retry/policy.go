package retry

import (
	"math"
	"math/rand"
	"time"
)

// Policy describes how long to wait between reconnect attempts and how many
// consecutive failures are tolerated before giving up.
type Policy struct {
	MaxAttempts  int           // consecutive failures before the connection is terminal
	InitialDelay time.Duration // delay before the first retry
	MaxDelay     time.Duration // cap on any single delay
	Multiplier   float64       // exponential growth per attempt
	Jitter       float64       // randomization factor in [0, 1]
}

// DefaultPolicy matches the schedule browser clients of the backend use:
// 1s, 2s, 4s, then 5s, with half-width jitter and a ceiling of 5 attempts.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:  5,
		InitialDelay: 1 * time.Second,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.5,
	}
}

// Delay returns the wait before retry number attempt (1-based). Jitter is
// applied around the exponential base and the result never exceeds MaxDelay.
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := float64(p.InitialDelay) * math.Pow(p.multiplier(), float64(attempt-1))
	if p.Jitter > 0 {
		spread := base * p.Jitter
		base = base - spread + rand.Float64()*2*spread
	}
	if p.MaxDelay > 0 && base > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	if base < 0 {
		return 0
	}
	return time.Duration(base)
}

// Exhausted reports whether attempts has reached the ceiling. A non-positive
// MaxAttempts means retry forever.
func (p Policy) Exhausted(attempts int) bool {
	return p.MaxAttempts > 0 && attempts >= p.MaxAttempts
}

func (p Policy) multiplier() float64 {
	if p.Multiplier < 1 {
		return 1
	}
	return p.Multiplier
}
