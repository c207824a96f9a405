package resilience

import (
	"context"

	"golang.org/x/time/rate"
)

// Limiter wraps golang.org/x/time/rate.Limiter with the Allow/CallWait
// surface the rest of the codebase expects from a rate limiter.
type Limiter struct {
	rl *rate.Limiter
}

// NewLimiter creates a Limiter allowing ratePerSec events per second, with
// the given burst size.
func NewLimiter(ratePerSec float64, burst int) *Limiter {
	return &Limiter{rl: rate.NewLimiter(rate.Limit(ratePerSec), burst)}
}

// Allow reports whether an event may happen now, without blocking.
func (l *Limiter) Allow() bool {
	return l.rl.Allow()
}

// CallWait blocks until the limiter permits f to run, then runs it. Returns
// ctx.Err() if the wait is cancelled before a token is available.
func (l *Limiter) CallWait(ctx context.Context, f func(context.Context) error) error {
	if err := l.rl.Wait(ctx); err != nil {
		return err
	}
	return f(ctx)
}

// SetLimit adjusts the limiter's rate at runtime.
func (l *Limiter) SetLimit(ratePerSec float64) {
	l.rl.SetLimit(rate.Limit(ratePerSec))
}

// SetBurst adjusts the limiter's burst size at runtime.
func (l *Limiter) SetBurst(burst int) {
	l.rl.SetBurst(burst)
}
