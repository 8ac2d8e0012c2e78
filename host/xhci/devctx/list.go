package devctx

import (
	"fmt"

	"github.com/ardnew/softxhci/host/hal"
	"github.com/ardnew/softxhci/host/xhci/ring"
	"github.com/ardnew/softxhci/pkg"
)

// DCBAAEntries is the fixed size of the Device Context Base Address Array.
const DCBAAEntries = 256

// TransferRingLength is the length of every per-endpoint transfer ring.
const TransferRingLength = 32

// contextAlign is the alignment of DCBAA and context memory.
const contextAlign = 64

type slotState struct {
	hub   uint8
	port  uint8
	rings []*ring.Ring // indexed by DCI-1
}

// List is the Device Context List: the DCBAA, one output and one input
// context per slot, and the transfer rings of every enabled slot.
type List struct {
	plat     hal.Platform
	maxSlots uint8
	ctxSize  int
	dcbaa    *hal.Buffer
	out      []*hal.Buffer // indexed by slot, 0..maxSlots
	in       []*hal.Buffer
	slots    []*slotState
}

// NewList allocates the DCBAA and the contexts of slots 0..maxSlots and
// points each DCBAA entry at its slot's output context.
func NewList(p hal.Platform, maxSlots uint8, ctxSize int) (*List, error) {
	if ctxSize != ContextSize32 && ctxSize != ContextSize64 {
		return nil, fmt.Errorf("%w: context size %d", pkg.ErrInvalidParameter, ctxSize)
	}

	l := &List{
		plat:     p,
		maxSlots: maxSlots,
		ctxSize:  ctxSize,
		out:      make([]*hal.Buffer, int(maxSlots)+1),
		in:       make([]*hal.Buffer, int(maxSlots)+1),
		slots:    make([]*slotState, int(maxSlots)+1),
	}

	var err error
	if l.dcbaa, err = p.Alloc(DCBAAEntries*8, contextAlign); err != nil {
		return nil, fmt.Errorf("devctx: alloc dcbaa: %w", err)
	}
	for i := range l.out {
		if l.out[i], err = p.Alloc(DeviceContextBytes(ctxSize), contextAlign); err != nil {
			l.Free()
			return nil, fmt.Errorf("devctx: alloc output context %d: %w", i, err)
		}
		if l.in[i], err = p.Alloc(InputContextBytes(ctxSize), contextAlign); err != nil {
			l.Free()
			return nil, fmt.Errorf("devctx: alloc input context %d: %w", i, err)
		}
		l.dcbaa.Store64(8*i, l.out[i].Phys())
	}
	p.Sync(l.dcbaa, hal.SyncForDevice)

	pkg.LogDebug(pkg.ComponentContext, "device context list allocated",
		"dcbaa", fmt.Sprintf("%#x", l.dcbaa.Phys()), "slots", maxSlots, "context_size", ctxSize)
	return l, nil
}

// MaxSlots returns the number of device slots the list covers.
func (l *List) MaxSlots() uint8 { return l.maxSlots }

// ContextSize returns the context size in bytes.
func (l *List) ContextSize() int { return l.ctxSize }

// DCBAAP returns the physical address to program into DCBAAP.
func (l *List) DCBAAP() uint64 { return l.dcbaa.Phys() }

// Entry returns DCBAA entry i.
func (l *List) Entry(i int) uint64 { return l.dcbaa.Load64(8 * i) }

// SetEntry writes DCBAA entry i.
func (l *List) SetEntry(i int, addr uint64) {
	l.dcbaa.Store64(8*i, addr)
	l.plat.Sync(l.dcbaa, hal.SyncForDevice)
}

func (l *List) check(slot uint8) {
	if slot > l.maxSlots {
		panic(fmt.Sprintf("devctx: slot %d exceeds max slots %d", slot, l.maxSlots))
	}
}

// Output returns the output device context of slot.
func (l *List) Output(slot uint8) DeviceContext {
	l.check(slot)
	l.plat.Sync(l.out[slot], hal.SyncForCPU)
	return DeviceContext{buf: l.out[slot], size: l.ctxSize}
}

// Input returns the input context of slot.
func (l *List) Input(slot uint8) InputContext {
	l.check(slot)
	return InputContext{buf: l.in[slot], size: l.ctxSize}
}

// SyncInput publishes the input context of slot to the controller.
func (l *List) SyncInput(slot uint8) {
	l.check(slot)
	l.plat.Sync(l.in[slot], hal.SyncForDevice)
}

// NewSlot allocates numEP transfer rings for slot, indexed by DCI-1, and
// records the hub and port the device hangs off. slot must not exceed
// MaxSlots; slot ids only come from Enable Slot completions, so a larger
// value is a programming error and panics.
func (l *List) NewSlot(slot, hub, port uint8, numEP int) error {
	l.check(slot)
	if numEP <= 0 || numEP > MaxDCI+1 {
		return fmt.Errorf("%w: %d endpoints", pkg.ErrInvalidParameter, numEP)
	}
	if l.slots[slot] != nil {
		l.FreeSlot(slot)
	}

	s := &slotState{hub: hub, port: port, rings: make([]*ring.Ring, numEP)}
	for i := range s.rings {
		r, err := ring.New(l.plat, TransferRingLength, true)
		if err != nil {
			for _, done := range s.rings[:i] {
				done.Free()
			}
			return fmt.Errorf("devctx: slot %d ring %d: %w", slot, i+1, err)
		}
		s.rings[i] = r
	}
	l.slots[slot] = s

	pkg.LogDebug(pkg.ComponentContext, "slot rings allocated",
		"slot", slot, "hub", hub, "port", port, "rings", numEP)
	return nil
}

// FreeSlot releases the transfer rings of slot and zeroes its contexts.
// The DCBAA entry keeps pointing at the (now empty) output context.
func (l *List) FreeSlot(slot uint8) {
	l.check(slot)
	s := l.slots[slot]
	if s == nil {
		return
	}
	for _, r := range s.rings {
		r.Free()
	}
	l.slots[slot] = nil
	l.out[slot].Zero()
	l.in[slot].Zero()
	pkg.LogDebug(pkg.ComponentContext, "slot freed", "slot", slot)
}

// Active reports whether slot has rings allocated.
func (l *List) Active(slot uint8) bool {
	return slot <= l.maxSlots && l.slots[slot] != nil
}

// Ring returns the transfer ring of (slot, dci), or nil if none exists.
func (l *List) Ring(slot, dci uint8) *ring.Ring {
	if !l.Active(slot) || dci == 0 || int(dci) > len(l.slots[slot].rings) {
		return nil
	}
	return l.slots[slot].rings[dci-1]
}

// Hub returns the hub id recorded for slot.
func (l *List) Hub(slot uint8) uint8 {
	if !l.Active(slot) {
		return 0
	}
	return l.slots[slot].hub
}

// Port returns the root port recorded for slot.
func (l *List) Port(slot uint8) uint8 {
	if !l.Active(slot) {
		return 0
	}
	return l.slots[slot].port
}

// Free releases every buffer the list owns.
func (l *List) Free() {
	for i := range l.slots {
		if l.slots[i] != nil {
			l.FreeSlot(uint8(i))
		}
	}
	for i := range l.out {
		l.plat.Free(l.out[i])
		l.plat.Free(l.in[i])
		l.out[i], l.in[i] = nil, nil
	}
	l.plat.Free(l.dcbaa)
	l.dcbaa = nil
}
