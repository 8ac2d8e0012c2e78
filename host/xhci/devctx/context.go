package devctx

import "github.com/ardnew/softxhci/host/hal"

// Context sizes.
const (
	ContextSize32 = 32
	ContextSize64 = 64
)

// MaxDCI is the highest Device Context Index.
const MaxDCI = 31

// Slot states (slot context DW3 31:27).
const (
	SlotStateDisabled   = 0
	SlotStateDefault    = 1
	SlotStateAddressed  = 2
	SlotStateConfigured = 3
)

// Endpoint states (endpoint context DW0 2:0).
const (
	EndpointStateDisabled = 0
	EndpointStateRunning  = 1
	EndpointStateHalted   = 2
	EndpointStateStopped  = 3
	EndpointStateError    = 4
)

// Endpoint types (endpoint context DW1 5:3).
const (
	EndpointTypeNotValid     = 0
	EndpointTypeIsochOut     = 1
	EndpointTypeBulkOut      = 2
	EndpointTypeInterruptOut = 3
	EndpointTypeControl      = 4
	EndpointTypeIsochIn      = 5
	EndpointTypeBulkIn       = 6
	EndpointTypeInterruptIn  = 7
)

// EndpointType returns the context endpoint type for a USB transfer type
// (bmAttributes 1:0) and direction.
func EndpointType(transferType uint8, in bool) uint8 {
	transferType &= 0x3
	if transferType == 0 {
		return EndpointTypeControl
	}
	if in {
		return transferType | 0x4
	}
	return transferType
}

// dwords is a window of context dwords inside a buffer.
type dwords struct {
	buf *hal.Buffer
	off int
}

func (d dwords) get(i int) uint32    { return d.buf.Load32(d.off + 4*i) }
func (d dwords) set(i int, v uint32) { d.buf.Store32(d.off+4*i, v) }
func (d dwords) phys() uint64        { return d.buf.Phys() + uint64(d.off) }
func (d dwords) bits(i int, lo, width uint) uint32 {
	return (d.get(i) >> lo) & (1<<width - 1)
}
func (d dwords) setBits(i int, lo, width uint, v uint32) {
	mask := uint32(1<<width-1) << lo
	d.set(i, d.get(i)&^mask|v<<lo&mask)
}

// contextDwords is the number of defined dwords in every context; the
// upper half of a 64-byte context is reserved.
const contextDwords = 8

func (d dwords) copyFrom(src dwords) {
	for i := 0; i < contextDwords; i++ {
		d.set(i, src.get(i))
	}
}

func (d dwords) clear() {
	for i := 0; i < contextDwords; i++ {
		d.set(i, 0)
	}
}

// =============================================================================
// Slot Context
// =============================================================================

// SlotContext is a view of a slot context.
type SlotContext struct{ dwords }

// Phys returns the physical address of the context.
func (s SlotContext) Phys() uint64 { return s.phys() }

// Dword returns raw dword i.
func (s SlotContext) Dword(i int) uint32 { return s.get(i) }

// RouteString returns DW0 19:0.
func (s SlotContext) RouteString() uint32 { return s.bits(0, 0, 20) }

// SetRouteString sets DW0 19:0.
func (s SlotContext) SetRouteString(v uint32) { s.setBits(0, 0, 20, v) }

// Speed returns DW0 23:20, the protocol speed id.
func (s SlotContext) Speed() uint8 { return uint8(s.bits(0, 20, 4)) }

// SetSpeed sets DW0 23:20.
func (s SlotContext) SetSpeed(v uint8) { s.setBits(0, 20, 4, uint32(v)) }

// Hub reports DW0 bit 26.
func (s SlotContext) Hub() bool { return s.bits(0, 26, 1) != 0 }

// ContextEntries returns DW0 31:27, the highest valid DCI.
func (s SlotContext) ContextEntries() uint8 { return uint8(s.bits(0, 27, 5)) }

// SetContextEntries sets DW0 31:27.
func (s SlotContext) SetContextEntries(v uint8) { s.setBits(0, 27, 5, uint32(v)) }

// RootHubPort returns DW1 23:16.
func (s SlotContext) RootHubPort() uint8 { return uint8(s.bits(1, 16, 8)) }

// SetRootHubPort sets DW1 23:16.
func (s SlotContext) SetRootHubPort(v uint8) { s.setBits(1, 16, 8, uint32(v)) }

// InterrupterTarget returns DW2 31:22.
func (s SlotContext) InterrupterTarget() uint16 { return uint16(s.bits(2, 22, 10)) }

// SetInterrupterTarget sets DW2 31:22.
func (s SlotContext) SetInterrupterTarget(v uint16) { s.setBits(2, 22, 10, uint32(v)) }

// DeviceAddress returns DW3 7:0, assigned by the controller.
func (s SlotContext) DeviceAddress() uint8 { return uint8(s.bits(3, 0, 8)) }

// SetDeviceAddress sets DW3 7:0.
func (s SlotContext) SetDeviceAddress(v uint8) { s.setBits(3, 0, 8, uint32(v)) }

// State returns DW3 31:27.
func (s SlotContext) State() uint8 { return uint8(s.bits(3, 27, 5)) }

// SetState sets DW3 31:27.
func (s SlotContext) SetState(v uint8) { s.setBits(3, 27, 5, uint32(v)) }

// CopyFrom overwrites s with src.
func (s SlotContext) CopyFrom(src SlotContext) { s.copyFrom(src.dwords) }

// =============================================================================
// Endpoint Context
// =============================================================================

// EndpointContext is a view of an endpoint context.
type EndpointContext struct{ dwords }

// Phys returns the physical address of the context.
func (e EndpointContext) Phys() uint64 { return e.phys() }

// Dword returns raw dword i.
func (e EndpointContext) Dword(i int) uint32 { return e.get(i) }

// State returns DW0 2:0.
func (e EndpointContext) State() uint8 { return uint8(e.bits(0, 0, 3)) }

// SetState sets DW0 2:0.
func (e EndpointContext) SetState(v uint8) { e.setBits(0, 0, 3, uint32(v)) }

// Mult returns DW0 9:8.
func (e EndpointContext) Mult() uint8 { return uint8(e.bits(0, 8, 2)) }

// SetMult sets DW0 9:8.
func (e EndpointContext) SetMult(v uint8) { e.setBits(0, 8, 2, uint32(v)) }

// MaxPStreams returns DW0 14:10.
func (e EndpointContext) MaxPStreams() uint8 { return uint8(e.bits(0, 10, 5)) }

// SetMaxPStreams sets DW0 14:10.
func (e EndpointContext) SetMaxPStreams(v uint8) { e.setBits(0, 10, 5, uint32(v)) }

// Interval returns DW0 23:16.
func (e EndpointContext) Interval() uint8 { return uint8(e.bits(0, 16, 8)) }

// SetInterval sets DW0 23:16.
func (e EndpointContext) SetInterval(v uint8) { e.setBits(0, 16, 8, uint32(v)) }

// ErrorCount returns DW1 2:1.
func (e EndpointContext) ErrorCount() uint8 { return uint8(e.bits(1, 1, 2)) }

// SetErrorCount sets DW1 2:1.
func (e EndpointContext) SetErrorCount(v uint8) { e.setBits(1, 1, 2, uint32(v)) }

// Type returns DW1 5:3.
func (e EndpointContext) Type() uint8 { return uint8(e.bits(1, 3, 3)) }

// SetType sets DW1 5:3.
func (e EndpointContext) SetType(v uint8) { e.setBits(1, 3, 3, uint32(v)) }

// MaxBurst returns DW1 15:8.
func (e EndpointContext) MaxBurst() uint8 { return uint8(e.bits(1, 8, 8)) }

// SetMaxBurst sets DW1 15:8.
func (e EndpointContext) SetMaxBurst(v uint8) { e.setBits(1, 8, 8, uint32(v)) }

// MaxPacketSize returns DW1 31:16.
func (e EndpointContext) MaxPacketSize() uint16 { return uint16(e.bits(1, 16, 16)) }

// SetMaxPacketSize sets DW1 31:16.
func (e EndpointContext) SetMaxPacketSize(v uint16) { e.setBits(1, 16, 16, uint32(v)) }

// Dequeue returns the TR dequeue pointer from DW2-3.
func (e EndpointContext) Dequeue() uint64 {
	return (uint64(e.get(2)) | uint64(e.get(3))<<32) &^ 0xF
}

// DequeueCycle returns the dequeue cycle state, DW2 bit 0.
func (e EndpointContext) DequeueCycle() bool { return e.get(2)&1 != 0 }

// SetDequeue sets the TR dequeue pointer and dequeue cycle state.
func (e EndpointContext) SetDequeue(ptr uint64, cycle bool) {
	lo := uint32(ptr) &^ 0xF
	if cycle {
		lo |= 1
	}
	e.set(2, lo)
	e.set(3, uint32(ptr>>32))
}

// AverageTRBLength returns DW4 15:0.
func (e EndpointContext) AverageTRBLength() uint16 { return uint16(e.bits(4, 0, 16)) }

// SetAverageTRBLength sets DW4 15:0.
func (e EndpointContext) SetAverageTRBLength(v uint16) { e.setBits(4, 0, 16, uint32(v)) }

// MaxESITPayload returns DW4 31:16.
func (e EndpointContext) MaxESITPayload() uint16 { return uint16(e.bits(4, 16, 16)) }

// SetMaxESITPayload sets DW4 31:16.
func (e EndpointContext) SetMaxESITPayload(v uint16) { e.setBits(4, 16, 16, uint32(v)) }

// CopyFrom overwrites e with src.
func (e EndpointContext) CopyFrom(src EndpointContext) { e.copyFrom(src.dwords) }

// Clear zeroes e.
func (e EndpointContext) Clear() { e.clear() }

// =============================================================================
// Input Control Context
// =============================================================================

// InputControlContext is a view of the input control context.
type InputControlContext struct{ dwords }

// DropFlags returns DW0.
func (c InputControlContext) DropFlags() uint32 { return c.get(0) }

// AddFlags returns DW1.
func (c InputControlContext) AddFlags() uint32 { return c.get(1) }

// SetDropFlags replaces DW0. Bits 0 and 1 are reserved.
func (c InputControlContext) SetDropFlags(v uint32) { c.set(0, v&^0x3) }

// SetAddFlags replaces DW1.
func (c InputControlContext) SetAddFlags(v uint32) { c.set(1, v) }

// Add sets the add flag of context index i (0 = slot, DCI otherwise).
func (c InputControlContext) Add(i int) { c.set(1, c.get(1)|1<<uint(i)) }

// Drop sets the drop flag of DCI i.
func (c InputControlContext) Drop(i int) {
	if i < 2 {
		return
	}
	c.set(0, c.get(0)|1<<uint(i))
}

// Configuration returns DW7 7:0.
func (c InputControlContext) Configuration() uint8 { return uint8(c.bits(7, 0, 8)) }

// SetConfiguration sets DW7 7:0.
func (c InputControlContext) SetConfiguration(v uint8) { c.setBits(7, 0, 8, uint32(v)) }

// Interface returns DW7 15:8.
func (c InputControlContext) Interface() uint8 { return uint8(c.bits(7, 8, 8)) }

// SetInterface sets DW7 15:8.
func (c InputControlContext) SetInterface(v uint8) { c.setBits(7, 8, 8, uint32(v)) }

// Alternate returns DW7 23:16.
func (c InputControlContext) Alternate() uint8 { return uint8(c.bits(7, 16, 8)) }

// SetAlternate sets DW7 23:16.
func (c InputControlContext) SetAlternate(v uint8) { c.setBits(7, 16, 8, uint32(v)) }

// =============================================================================
// Device and Input Contexts
// =============================================================================

// DeviceContext is an output device context: the slot context followed by
// endpoint contexts indexed by DCI.
type DeviceContext struct {
	buf  *hal.Buffer
	size int
}

// Phys returns the physical address of the context.
func (d DeviceContext) Phys() uint64 { return d.buf.Phys() }

// Slot returns the slot context.
func (d DeviceContext) Slot() SlotContext { return SlotContext{dwords{d.buf, 0}} }

// Endpoint returns the endpoint context of DCI dci.
func (d DeviceContext) Endpoint(dci int) EndpointContext {
	return EndpointContext{dwords{d.buf, dci * d.size}}
}

// InputContext is an input context: the input control context followed by
// a slot context and endpoint contexts indexed by DCI.
type InputContext struct {
	buf  *hal.Buffer
	size int
}

// Phys returns the physical address of the context.
func (c InputContext) Phys() uint64 { return c.buf.Phys() }

// Control returns the input control context.
func (c InputContext) Control() InputControlContext {
	return InputControlContext{dwords{c.buf, 0}}
}

// Slot returns the slot context.
func (c InputContext) Slot() SlotContext { return SlotContext{dwords{c.buf, c.size}} }

// Endpoint returns the endpoint context of DCI dci.
func (c InputContext) Endpoint(dci int) EndpointContext {
	return EndpointContext{dwords{c.buf, (dci + 1) * c.size}}
}

// Reset zeroes the whole input context.
func (c InputContext) Reset() { c.buf.Zero() }

// DeviceContextAt returns a view of the output device context stored at
// the start of buf. buf must hold DeviceContextBytes(size) bytes.
func DeviceContextAt(buf *hal.Buffer, size int) DeviceContext {
	return DeviceContext{buf: buf, size: size}
}

// InputContextAt returns a view of the input context stored at the start
// of buf. buf must hold InputContextBytes(size) bytes.
func InputContextAt(buf *hal.Buffer, size int) InputContext {
	return InputContext{buf: buf, size: size}
}

// DeviceContextBytes returns the size of an output device context.
func DeviceContextBytes(size int) int { return (MaxDCI + 1) * size }

// InputContextBytes returns the size of an input context.
func InputContextBytes(size int) int { return (MaxDCI + 2) * size }
