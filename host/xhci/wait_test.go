package xhci

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jpillora/backoff"

	"github.com/ardnew/softxhci/pkg"
)

// =============================================================================
// WaitPolicy Tests
// =============================================================================

func TestWaitPolicy_Satisfied(t *testing.T) {
	calls := 0
	p := WaitPolicy{MaxIterations: 10, Spin: 10}
	err := p.Wait(context.Background(), "fifth poll", func() bool {
		calls++
		return calls == 5
	})
	if err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
	if calls != 5 {
		t.Errorf("polls = %d, want 5", calls)
	}
}

func TestWaitPolicy_IterationBound(t *testing.T) {
	calls := 0
	p := WaitPolicy{MaxIterations: 3, Spin: 3}
	err := p.Wait(context.Background(), "never", func() bool {
		calls++
		return false
	})
	if !errors.Is(err, pkg.ErrTimeout) {
		t.Fatalf("Wait() error = %v, want ErrTimeout", err)
	}
	if calls != 3 {
		t.Errorf("polls = %d, want 3", calls)
	}
}

func TestWaitPolicy_DurationBound(t *testing.T) {
	p := WaitPolicy{
		MaxDuration: 20 * time.Millisecond,
		Backoff:     backoff.Backoff{Min: time.Millisecond, Max: 5 * time.Millisecond, Factor: 2},
	}
	start := time.Now()
	err := p.Wait(context.Background(), "never", func() bool { return false })
	if !errors.Is(err, pkg.ErrTimeout) {
		t.Fatalf("Wait() error = %v, want ErrTimeout", err)
	}
	if elapsed := time.Since(start); elapsed < 20*time.Millisecond {
		t.Errorf("returned after %v, before the bound", elapsed)
	}
}

func TestWaitPolicy_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := UnboundedWaitPolicy().Wait(ctx, "never", func() bool { return false })
	if !errors.Is(err, pkg.ErrCancelled) {
		t.Fatalf("Wait() error = %v, want ErrCancelled", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Wait() error = %v, want it to wrap context.Canceled", err)
	}
}

func TestWaitPolicy_CancelledWhileSleeping(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	p := WaitPolicy{
		Backoff: backoff.Backoff{Min: time.Second, Max: time.Second},
	}
	err := p.Wait(ctx, "never", func() bool { return false })
	if !errors.Is(err, pkg.ErrCancelled) {
		t.Fatalf("Wait() error = %v, want ErrCancelled", err)
	}
}

func TestDefaultWaitPolicy(t *testing.T) {
	p := DefaultWaitPolicy()
	if p.MaxDuration <= 0 {
		t.Errorf("MaxDuration = %v, want a bound", p.MaxDuration)
	}
	if u := UnboundedWaitPolicy(); u.MaxDuration != 0 || u.MaxIterations != 0 {
		t.Errorf("UnboundedWaitPolicy() = %+v, want no bounds", u)
	}
}
