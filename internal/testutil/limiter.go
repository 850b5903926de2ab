package testutil

import "context"

// Unlimited is a rate limiter that grants every request at once.
type Unlimited struct{}

// Acquire returns immediately unless ctx is already done.
func (Unlimited) Acquire(ctx context.Context) error {
	return ctx.Err()
}
