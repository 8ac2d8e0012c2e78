package ring

import (
	"errors"
	"fmt"

	"github.com/ardnew/softxhci/host/hal"
	"github.com/ardnew/softxhci/host/xhci/trb"
	"github.com/ardnew/softxhci/pkg"
)

// Alignment is the required alignment of ring memory in bytes.
const Alignment = 64

// MinLength is the smallest ring a Link TRB leaves room in.
const MinLength = 2

// ErrLength reports an unusable ring length.
var ErrLength = errors.New("invalid ring length")

// Ring is a circular TRB buffer. The same index serves as the enqueue
// index for producers and the dequeue index for consumers.
type Ring struct {
	plat   hal.Platform
	buf    *hal.Buffer
	length int
	link   bool
	index  int
	cycle  bool
}

// New allocates a zeroed ring of length TRBs. In link mode the last slot
// is reserved for the Link TRB.
func New(p hal.Platform, length int, link bool) (*Ring, error) {
	if length < MinLength {
		return nil, fmt.Errorf("%w: %d", ErrLength, length)
	}
	buf, err := p.Alloc(length*trb.Size, Alignment)
	if err != nil {
		return nil, fmt.Errorf("ring: alloc %d TRBs: %w", length, err)
	}
	r := &Ring{
		plat:   p,
		buf:    buf,
		length: length,
		link:   link,
		cycle:  true,
	}
	pkg.LogDebug(pkg.ComponentRing, "ring allocated",
		"base", fmt.Sprintf("%#x", buf.Phys()), "length", length, "link", link)
	return r, nil
}

// Len returns the number of TRB slots including any Link slot.
func (r *Ring) Len() int { return r.length }

// Capacity returns the number of usable TRB slots per pass.
func (r *Ring) Capacity() int {
	if r.link {
		return r.length - 1
	}
	return r.length
}

// Link reports whether the ring wraps through a Link TRB.
func (r *Ring) Link() bool { return r.link }

// Base returns the physical address of slot 0.
func (r *Ring) Base() uint64 { return r.buf.Phys() }

// CycleState returns the producer or consumer cycle state.
func (r *Ring) CycleState() bool { return r.cycle }

// EnqueueIndex returns the slot the next Enqueue writes.
func (r *Ring) EnqueueIndex() int { return r.index }

// DequeueIndex returns the slot the next Current reads.
func (r *Ring) DequeueIndex() int { return r.index }

// EnqueuePointer returns the physical address of the next slot.
func (r *Ring) EnqueuePointer() uint64 { return r.addr(r.index) }

// DequeuePointer returns the physical address of the next slot.
func (r *Ring) DequeuePointer() uint64 { return r.addr(r.index) }

// Buffer returns the backing DMA buffer.
func (r *Ring) Buffer() *hal.Buffer { return r.buf }

func (r *Ring) addr(i int) uint64 { return r.buf.Phys() + uint64(i*trb.Size) }

// Enqueue writes t at the enqueue index with the ring's cycle bit and
// returns the physical address written. The control word is stored last.
// A Link TRB written behind a chained TRB carries the chain bit so the TD
// continues across the wrap.
func (r *Ring) Enqueue(t trb.TRB) uint64 {
	t.SetCycle(r.cycle)
	addr := r.write(r.index, t)

	r.index++
	if r.link && r.index == r.length-1 {
		l := trb.Link(r.Base(), true)
		if t.Has(trb.ControlChain) {
			l.Set(trb.ControlChain)
		}
		l.SetCycle(r.cycle)
		r.write(r.index, l)
		r.cycle = !r.cycle
		r.index = 0
		pkg.LogDebug(pkg.ComponentRing, "ring wrapped",
			"base", fmt.Sprintf("%#x", r.Base()), "cycle", r.cycle)
	}
	r.plat.Sync(r.buf, hal.SyncForDevice)
	return addr
}

func (r *Ring) write(i int, t trb.TRB) uint64 {
	off := i * trb.Size
	r.buf.Store32(off, t[0])
	r.buf.Store32(off+4, t[1])
	r.buf.Store32(off+8, t[2])
	r.buf.Store32(off+12, t[3])
	return r.addr(i)
}

// Read returns the raw TRB in slot i.
func (r *Ring) Read(i int) trb.TRB {
	off := i * trb.Size
	return trb.TRB{
		r.buf.Load32(off),
		r.buf.Load32(off + 4),
		r.buf.Load32(off + 8),
		r.buf.Load32(off + 12),
	}
}

// Current returns the TRB at the dequeue index if its cycle bit matches
// the expected cycle state.
func (r *Ring) Current() (trb.TRB, bool) {
	r.plat.Sync(r.buf, hal.SyncForCPU)
	off := r.index * trb.Size
	control := r.buf.Load32(off + 12)
	if (control&trb.ControlCycle != 0) != r.cycle {
		return trb.TRB{}, false
	}
	t := r.Read(r.index)
	t[3] = control
	return t, true
}

// IncDequeue advances the dequeue index and reports whether it wrapped,
// flipping the expected cycle state when it did.
func (r *Ring) IncDequeue() bool {
	r.index++
	if r.index == r.length {
		r.index = 0
		r.cycle = !r.cycle
		return true
	}
	return false
}

// Free releases the ring memory. The ring must not be used afterwards.
func (r *Ring) Free() {
	if r.buf == nil {
		return
	}
	r.plat.Free(r.buf)
	r.buf = nil
}
