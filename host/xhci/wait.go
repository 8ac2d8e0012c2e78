package xhci

import (
	"context"
	"fmt"
	"runtime"
	"time"

	"github.com/jpillora/backoff"

	"github.com/ardnew/softxhci/pkg"
)

// WaitPolicy bounds every busy-wait the engine performs: register polls
// during reset and bring-up, and event ring polls while a command or
// transfer is outstanding.
//
// A wait first polls Spin times back to back, yielding the processor
// between polls, then sleeps between polls for durations drawn from
// Backoff. A zero MaxIterations or MaxDuration leaves that bound off; a
// policy with both off waits until the condition holds or the context
// ends.
type WaitPolicy struct {
	MaxIterations int
	MaxDuration   time.Duration
	Spin          int
	Backoff       backoff.Backoff
}

// DefaultWaitPolicy returns the policy used by DefaultConfig.
func DefaultWaitPolicy() WaitPolicy {
	return WaitPolicy{
		MaxDuration: 5 * time.Second,
		Spin:        1024,
		Backoff: backoff.Backoff{
			Min:    10 * time.Microsecond,
			Max:    10 * time.Millisecond,
			Factor: 2,
		},
	}
}

// UnboundedWaitPolicy returns a policy that never times out.
func UnboundedWaitPolicy() WaitPolicy {
	p := DefaultWaitPolicy()
	p.MaxDuration = 0
	return p
}

// Wait polls cond until it returns true. It returns an error wrapping
// pkg.ErrTimeout when a bound is exceeded and pkg.ErrCancelled when ctx
// ends first. what names the condition in errors and logs.
func (p WaitPolicy) Wait(ctx context.Context, what string, cond func() bool) error {
	b := p.Backoff
	b.Reset()
	start := time.Now()

	for i := 1; ; i++ {
		if cond() {
			return nil
		}
		if p.MaxIterations > 0 && i >= p.MaxIterations {
			pkg.LogWarn(pkg.ComponentController, "wait exceeded iteration bound",
				"condition", what, "iterations", i)
			return fmt.Errorf("%w: %s after %d polls", pkg.ErrTimeout, what, i)
		}
		elapsed := time.Since(start)
		if p.MaxDuration > 0 && elapsed >= p.MaxDuration {
			pkg.LogWarn(pkg.ComponentController, "wait exceeded time bound",
				"condition", what, "elapsed", elapsed)
			return fmt.Errorf("%w: %s after %v", pkg.ErrTimeout, what, elapsed)
		}
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %s: %w", pkg.ErrCancelled, what, err)
		}

		if i <= p.Spin {
			runtime.Gosched()
			continue
		}

		d := b.Duration()
		if p.MaxDuration > 0 {
			if left := p.MaxDuration - elapsed; d > left {
				d = left
			}
		}
		t := time.NewTimer(d)
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("%w: %s: %w", pkg.ErrCancelled, what, ctx.Err())
		case <-t.C:
		}
	}
}
