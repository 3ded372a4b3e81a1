package eth

import (
	"context"

	"golang.org/x/time/rate"
)

// Limiter gates outgoing RPC calls.
type Limiter interface {
	Wait(ctx context.Context) error
}

type nopLimiter struct{}

func (nopLimiter) Wait(ctx context.Context) error { return ctx.Err() }

// NewLimiter allows perSecond calls per second with a burst of the same size.
// perSecond <= 0 is unlimited.
func NewLimiter(perSecond int) Limiter {
	if perSecond <= 0 {
		return nopLimiter{}
	}
	return rate.NewLimiter(rate.Limit(perSecond), perSecond)
}
