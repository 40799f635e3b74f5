// File: internal/engine/limiter.go
package engine

import (
	"context"
	"math/rand/v2"
	"time"

	"golang.org/x/time/rate"

	"github.com/applyloop/applyloop/internal/config"
)

// Limiter paces all outbound traffic across workers: a minimum delay with
// random jitter between requests, and a hard attempts-per-hour ceiling on
// top for attempt starts. One Limiter is shared by the whole engine and by
// the model clients; per-worker pacing would defeat the point.
type Limiter struct {
	spacing *rate.Limiter
	hourly  *rate.Limiter
	jitter  time.Duration
}

// NewLimiter builds the shared pacer from engine configuration. Zero values
// disable the corresponding control.
func NewLimiter(cfg config.EngineConfig) *Limiter {
	l := &Limiter{
		jitter: time.Duration(cfg.JitterMs) * time.Millisecond,
	}
	if cfg.MinRequestDelay > 0 {
		l.spacing = rate.NewLimiter(rate.Every(cfg.MinRequestDelay), 1)
	}
	if cfg.MaxAttemptsPerHour > 0 {
		l.hourly = rate.NewLimiter(rate.Every(time.Hour/time.Duration(cfg.MaxAttemptsPerHour)), cfg.MaxAttemptsPerHour)
	}
	return l
}

// Acquire blocks until the next attempt may start or the context ends. It
// consumes hourly attempt budget on top of the request spacing.
func (l *Limiter) Acquire(ctx context.Context) error {
	if l.hourly != nil {
		if err := l.hourly.Wait(ctx); err != nil {
			return err
		}
	}
	return l.AcquireRequest(ctx)
}

// AcquireRequest paces one outbound request (a model call, a navigation)
// without touching the hourly attempt budget.
func (l *Limiter) AcquireRequest(ctx context.Context) error {
	if l.spacing != nil {
		if err := l.spacing.Wait(ctx); err != nil {
			return err
		}
	}
	if l.jitter > 0 {
		select {
		case <-time.After(rand.N(l.jitter)):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
