// Package ratelimiter throttles how fast new connections are admitted.
package ratelimiter

import "golang.org/x/time/rate"

// Limiter admits events at a sustained rate with a bounded burst, using the
// token bucket of golang.org/x/time/rate.
//
// A nil *Limiter admits everything, so callers can hold one unconditionally.
//
// Thread safety:
// All methods are safe for concurrent use.
type Limiter struct {
	limiter *rate.Limiter
}

// New creates a limiter allowing perSecond events per second with bursts of
// up to burst events.
//
// A perSecond of zero or less disables limiting. A burst below one is
// raised to one, otherwise no event could ever be admitted.
func New(perSecond float64, burst int) *Limiter {
	if perSecond <= 0 {
		return &Limiter{limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	if burst < 1 {
		burst = 1
	}
	return &Limiter{limiter: rate.NewLimiter(rate.Limit(perSecond), burst)}
}

// Allow consumes a token if one is available and reports whether it did.
func (l *Limiter) Allow() bool {
	if l == nil {
		return true
	}
	return l.limiter.Allow()
}

// Unlimited reports whether the limiter admits everything.
func (l *Limiter) Unlimited() bool {
	return l == nil || l.limiter.Limit() == rate.Inf
}

// Tokens returns the tokens currently available. Diagnostic only.
func (l *Limiter) Tokens() float64 {
	if l == nil || l.Unlimited() {
		return 0
	}
	return l.limiter.Tokens()
}
