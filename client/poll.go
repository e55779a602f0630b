package client

import (
	"context"
	"errors"
	"time"
)

// ErrRetriesExhausted is returned when a poll gives up before the
// condition became true.
var ErrRetriesExhausted = errors.New("retries exhausted")

// Poll defaults. The interval grows geometrically so a slow peer does
// not get hammered, and the attempt cap bounds how long a caller can be
// stuck waiting on a match that will never go active.
const (
	DefaultPollInterval = 2 * time.Second
	DefaultPollGrowth   = 1.5
	DefaultMaxAttempts  = 10
)

// Poller repeatedly evaluates a condition with growing delays between
// attempts. The zero value uses the defaults.
type Poller struct {
	Interval    time.Duration
	Growth      float64
	MaxAttempts int
}

// Wait calls fn until it reports done, fails, the attempts run out, or
// ctx is cancelled. fn runs once immediately; the backoff applies
// between attempts.
func (p Poller) Wait(ctx context.Context, fn func(ctx context.Context) (bool, error)) error {
	interval := p.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	growth := p.Growth
	if growth < 1 {
		growth = DefaultPollGrowth
	}
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = DefaultMaxAttempts
	}

	for i := 0; i < attempts; i++ {
		done, err := fn(ctx)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		if i == attempts-1 {
			break
		}

		t := time.NewTimer(interval)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		interval = time.Duration(float64(interval) * growth)
	}
	return ErrRetriesExhausted
}
