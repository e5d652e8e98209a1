package resilience

import (
	"math/rand/v2"
	"time"
)

type Config struct {
	// RetryMaxAttempts counts the first call, so N attempts allow N-1 retries.
	RetryMaxAttempts    int
	RetryInitialBackoff time.Duration
	// RetryMaxBackoff caps a single wait; zero leaves waits uncapped.
	RetryMaxBackoff time.Duration
	RetryMultiplier float64
	RetryJitter     bool
	// Jitter returns a value in [0,1); nil means math/rand.
	Jitter func() float64

	BreakerEnabled          bool
	BreakerMinRequests      uint32
	BreakerFailureRatio     float64
	BreakerOpenTimeout      time.Duration
	BreakerHalfOpenMaxCalls uint32
}

func DefaultConfig() Config {
	return Config{
		RetryMaxAttempts:    3,
		RetryInitialBackoff: 100 * time.Millisecond,
		RetryMaxBackoff:     400 * time.Millisecond,
		RetryMultiplier:     2.0,

		BreakerEnabled:          true,
		BreakerMinRequests:      10,
		BreakerFailureRatio:     0.5,
		BreakerOpenTimeout:      30 * time.Second,
		BreakerHalfOpenMaxCalls: 2,
	}
}

// ModelCallConfig is the policy for outbound model requests: five retries
// starting at one second, doubling, with full jitter on top.
func ModelCallConfig() Config {
	cfg := DefaultConfig()
	cfg.RetryMaxAttempts = 6
	cfg.RetryInitialBackoff = time.Second
	cfg.RetryMaxBackoff = 0
	cfg.RetryMultiplier = 2.0
	cfg.RetryJitter = true
	return cfg
}

func (c Config) normalize() Config {
	out := c
	def := DefaultConfig()

	if out.RetryMaxAttempts <= 0 {
		out.RetryMaxAttempts = def.RetryMaxAttempts
	}
	if out.RetryInitialBackoff <= 0 {
		out.RetryInitialBackoff = def.RetryInitialBackoff
	}
	if out.RetryMaxBackoff < 0 {
		out.RetryMaxBackoff = 0
	}
	if out.RetryMaxBackoff > 0 && out.RetryMaxBackoff < out.RetryInitialBackoff {
		out.RetryMaxBackoff = out.RetryInitialBackoff
	}
	if out.RetryMultiplier < 1.0 {
		out.RetryMultiplier = def.RetryMultiplier
	}
	if out.Jitter == nil {
		out.Jitter = rand.Float64
	}

	if out.BreakerMinRequests == 0 {
		out.BreakerMinRequests = def.BreakerMinRequests
	}
	if out.BreakerFailureRatio <= 0 || out.BreakerFailureRatio > 1 {
		out.BreakerFailureRatio = def.BreakerFailureRatio
	}
	if out.BreakerOpenTimeout <= 0 {
		out.BreakerOpenTimeout = def.BreakerOpenTimeout
	}
	if out.BreakerHalfOpenMaxCalls == 0 {
		out.BreakerHalfOpenMaxCalls = def.BreakerHalfOpenMaxCalls
	}

	return out
}

// Backoff returns the wait before retry number attempt (0-based):
// initial * multiplier^attempt * (1 + jitter).
func (c Config) Backoff(attempt int) time.Duration {
	wait := float64(c.RetryInitialBackoff)
	for i := 0; i < attempt; i++ {
		wait *= c.RetryMultiplier
	}
	if c.RetryJitter && c.Jitter != nil {
		wait *= 1 + c.Jitter()
	}
	d := time.Duration(wait)
	if c.RetryMaxBackoff > 0 && d > c.RetryMaxBackoff {
		d = c.RetryMaxBackoff
	}
	return d
}
