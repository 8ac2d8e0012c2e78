package ring

import (
	"fmt"

	"github.com/ardnew/softxhci/host/hal"
	"github.com/ardnew/softxhci/host/xhci/trb"
	"github.com/ardnew/softxhci/pkg"
)

// ERSTEntrySize is the size of one Event Ring Segment Table entry.
const ERSTEntrySize = 16

// EventRing is the consumer ring the controller posts events to.
type EventRing struct {
	ring *Ring
	erst *hal.Buffer
}

// NewEventRing allocates a consumer ring of length TRBs and a one-entry
// segment table describing it.
func NewEventRing(p hal.Platform, length int) (*EventRing, error) {
	r, err := New(p, length, false)
	if err != nil {
		return nil, err
	}
	erst, err := p.Alloc(ERSTEntrySize, Alignment)
	if err != nil {
		r.Free()
		return nil, fmt.Errorf("ring: alloc segment table: %w", err)
	}
	erst.Store64(0, r.Base())
	erst.Store32(8, uint32(length)&0xFFFF)
	erst.Store32(12, 0)
	p.Sync(erst, hal.SyncForDevice)
	return &EventRing{ring: r, erst: erst}, nil
}

// Next dequeues one event. wrapped reports whether this dequeue flipped the
// consumer cycle state. A Transfer Event with completion code Invalid is
// not yet fully written and is left in place.
func (e *EventRing) Next() (ev trb.Event, wrapped bool, ok bool) {
	t, ok := e.ring.Current()
	if !ok {
		return nil, false, false
	}
	ev = trb.Decode(t)
	if te, isTransfer := ev.(trb.TransferEvent); isTransfer && te.Code == trb.CodeInvalid {
		pkg.LogDebug(pkg.ComponentEvent, "transfer event not ready",
			"index", e.ring.DequeueIndex())
		return nil, false, false
	}
	wrapped = e.ring.IncDequeue()
	return ev, wrapped, true
}

// ERDP returns the physical address of the next event to consume.
func (e *EventRing) ERDP() uint64 { return e.ring.DequeuePointer() }

// ERSTBA returns the physical address of the segment table.
func (e *EventRing) ERSTBA() uint64 { return e.erst.Phys() }

// ERSTSize returns the number of segment table entries.
func (e *EventRing) ERSTSize() uint32 { return 1 }

// Ring returns the underlying consumer ring.
func (e *EventRing) Ring() *Ring { return e.ring }

// Free releases the ring and its segment table.
func (e *EventRing) Free() {
	e.ring.Free()
	if e.erst != nil {
		e.ring.plat.Free(e.erst)
		e.erst = nil
	}
}
