package host

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/ardnew/softxhci/pkg"
	"github.com/ardnew/softxhci/usb"
)

// Transfer represents an asynchronous request against one slot.
type Transfer struct {
	// Target slot
	Slot uint8

	// Operation to submit
	Op usb.RequestedOperation

	// Callback when transfer completes
	Callback func(*Transfer, usb.UCB, error)

	// Context for cancellation
	Context context.Context

	id uint64

	// claimed is won by the first completer; completed is set once ucb
	// and err are final.
	claimed   atomic.Bool
	completed atomic.Bool
	ucb       usb.UCB
	err       error
	done      chan struct{}
}

// ID returns the id assigned at submission.
func (t *Transfer) ID() uint64 {
	return t.id
}

// IsComplete returns true if the transfer has completed.
func (t *Transfer) IsComplete() bool {
	return t.completed.Load()
}

// Result returns the completion block and error. It is valid once
// IsComplete reports true.
func (t *Transfer) Result() (usb.UCB, error) {
	return t.ucb, t.err
}

// Wait blocks until the transfer completes or ctx ends.
func (t *Transfer) Wait(ctx context.Context) (usb.UCB, error) {
	select {
	case <-t.done:
		return t.ucb, t.err
	case <-ctx.Done():
		return usb.UCB{}, ctx.Err()
	}
}

// TransferManager runs transfers on a worker pool. Every transfer still
// reaches the controller through Host.Submit, one at a time.
type TransferManager struct {
	host *Host

	// Pending transfers (by ID)
	pending   map[uint64]*Transfer
	pendingMu sync.RWMutex

	nextID atomic.Uint64

	// Worker pool
	workers int
	jobs    chan *Transfer
	wg      sync.WaitGroup

	// State
	running bool
	stateMu sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewTransferManager creates a transfer manager over host.
func NewTransferManager(host *Host, workers int) *TransferManager {
	if workers < 1 {
		workers = DefaultWorkers
	}
	return &TransferManager{
		host:    host,
		pending: make(map[uint64]*Transfer),
		workers: workers,
	}
}

// Start starts the worker pool.
func (tm *TransferManager) Start(ctx context.Context) error {
	tm.stateMu.Lock()
	defer tm.stateMu.Unlock()
	if tm.running {
		return pkg.ErrAlreadyRunning
	}

	tm.ctx, tm.cancel = context.WithCancel(ctx)
	tm.jobs = make(chan *Transfer, DefaultQueueDepth)
	tm.running = true

	for i := 0; i < tm.workers; i++ {
		tm.wg.Add(1)
		go tm.worker(i)
	}
	return nil
}

// Stop stops accepting transfers and waits for the workers to drain the
// queue. Queued transfers complete with ErrCancelled.
func (tm *TransferManager) Stop() error {
	tm.stateMu.Lock()
	if !tm.running {
		tm.stateMu.Unlock()
		return nil
	}
	tm.running = false
	tm.cancel()
	close(tm.jobs)
	tm.stateMu.Unlock()

	tm.wg.Wait()
	return nil
}

// Submit queues t and returns its id.
func (tm *TransferManager) Submit(t *Transfer) (uint64, error) {
	if t.Op == nil {
		return 0, pkg.ErrInvalidRequest
	}

	tm.stateMu.Lock()
	defer tm.stateMu.Unlock()
	if !tm.running {
		return 0, pkg.ErrNotRunning
	}

	t.id = tm.nextID.Add(1)
	t.done = make(chan struct{})

	tm.pendingMu.Lock()
	tm.pending[t.id] = t
	tm.pendingMu.Unlock()

	select {
	case tm.jobs <- t:
		return t.id, nil
	default:
		tm.pendingMu.Lock()
		delete(tm.pending, t.id)
		tm.pendingMu.Unlock()
		return 0, pkg.ErrQueueFull
	}
}

// Cancel completes a pending transfer with ErrCancelled. If the
// transfer is already on the controller it still runs, but its result is
// discarded.
func (tm *TransferManager) Cancel(id uint64) error {
	tm.pendingMu.RLock()
	t, ok := tm.pending[id]
	tm.pendingMu.RUnlock()
	if !ok {
		return nil
	}
	tm.complete(t, usb.UCB{}, pkg.ErrCancelled)
	return nil
}

func (tm *TransferManager) worker(id int) {
	defer tm.wg.Done()
	pkg.LogDebug(pkg.ComponentHost, "transfer worker started", "id", id)

	for t := range tm.jobs {
		tm.execute(t)
	}

	pkg.LogDebug(pkg.ComponentHost, "transfer worker stopped", "id", id)
}

func (tm *TransferManager) execute(t *Transfer) {
	if t.claimed.Load() {
		return
	}

	ctx := t.Context
	if ctx == nil {
		ctx = tm.ctx
	}
	if ctx.Err() != nil || tm.ctx.Err() != nil {
		tm.complete(t, usb.UCB{}, pkg.ErrCancelled)
		return
	}

	ucb, err := tm.host.Submit(ctx, usb.URB{Slot: t.Slot, Op: t.Op})
	tm.complete(t, ucb, err)
}

// complete records the result once and invokes the callback.
func (tm *TransferManager) complete(t *Transfer, ucb usb.UCB, err error) {
	if !t.claimed.CompareAndSwap(false, true) {
		return
	}

	tm.pendingMu.Lock()
	delete(tm.pending, t.id)
	tm.pendingMu.Unlock()

	t.ucb = ucb
	t.err = err
	t.completed.Store(true)
	close(t.done)

	if err != nil {
		pkg.LogDebug(pkg.ComponentHost, "transfer failed",
			"id", t.id, "slot", t.Slot, "op", usb.OperationName(t.Op), "error", err)
	}
	if t.Callback != nil {
		t.Callback(t, ucb, err)
	}
}

// PendingCount returns the number of pending transfers.
func (tm *TransferManager) PendingCount() int {
	tm.pendingMu.RLock()
	defer tm.pendingMu.RUnlock()
	return len(tm.pending)
}

// WaitAll waits for all pending transfers to complete.
func (tm *TransferManager) WaitAll(ctx context.Context) error {
	for {
		tm.pendingMu.RLock()
		var t *Transfer
		for _, p := range tm.pending {
			t = p
			break
		}
		tm.pendingMu.RUnlock()

		if t == nil {
			return nil
		}
		select {
		case <-t.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
