package regs

// Runtime register offsets.
const (
	MFIndex         = 0x00
	InterrupterBase = 0x20
	InterrupterSize = 0x20
)

// Interrupter register offsets relative to the interrupter set.
const (
	IMAN   = 0x00
	IMOD   = 0x04
	ERSTSZ = 0x08
	ERSTBA = 0x10
	ERDP   = 0x18
)

// IMAN and ERDP bits.
const (
	IMANPending       = 1 << 0 // IP, write 1 to clear
	IMANEnable        = 1 << 1 // IE
	ERDPEventHandlerB = 1 << 3 // EHB, write 1 to clear
)

// Runtime is the runtime register block.
type Runtime struct{ block }

// MicroframeIndex returns MFINDEX.
func (r Runtime) MicroframeIndex() uint32 { return r.read32(MFIndex) & 0x3FFF }

// Interrupter returns the register set of interrupter n.
func (r Runtime) Interrupter(n int) Interrupter {
	return Interrupter{block{mmio: r.mmio, base: r.base + InterrupterBase + InterrupterSize*uint32(n)}}
}

// Interrupter is one interrupter register set.
type Interrupter struct{ block }

// Pending reports IMAN.IP.
func (i Interrupter) Pending() bool { return i.read32(IMAN)&IMANPending != 0 }

// Enabled reports IMAN.IE.
func (i Interrupter) Enabled() bool { return i.read32(IMAN)&IMANEnable != 0 }

// SetEnable sets or clears IMAN.IE without acknowledging a pending
// interrupt.
func (i Interrupter) SetEnable(on bool) {
	v := i.read32(IMAN) &^ IMANPending
	if on {
		v |= IMANEnable
	} else {
		v &^= IMANEnable
	}
	i.write32(IMAN, v)
}

// ClearPending acknowledges IMAN.IP.
func (i Interrupter) ClearPending() { i.write32(IMAN, i.read32(IMAN)|IMANPending) }

// SetModeration programs IMOD.IMODI in 250ns units.
func (i Interrupter) SetModeration(interval uint16) {
	i.write32(IMOD, i.read32(IMOD)&^0xFFFF|uint32(interval))
}

// Moderation returns IMOD.IMODI.
func (i Interrupter) Moderation() uint16 { return uint16(i.read32(IMOD)) }

// SetTableSize programs ERSTSZ.
func (i Interrupter) SetTableSize(n uint16) {
	i.write32(ERSTSZ, i.read32(ERSTSZ)&^0xFFFF|uint32(n))
}

// TableSize returns ERSTSZ.
func (i Interrupter) TableSize() uint16 { return uint16(i.read32(ERSTSZ)) }

// SetTableBase programs ERSTBA. Writing it enables the event ring.
func (i Interrupter) SetTableBase(ptr uint64) { i.write64(ERSTBA, ptr&^0x3F) }

// TableBase returns ERSTBA.
func (i Interrupter) TableBase() uint64 { return i.read64(ERSTBA) }

// SetDequeue programs ERDP. clearBusy acknowledges the Event Handler Busy
// flag in the same write.
func (i Interrupter) SetDequeue(ptr uint64, clearBusy bool) {
	v := ptr &^ 0xF
	if clearBusy {
		v |= ERDPEventHandlerB
	}
	i.write64(ERDP, v)
}

// Dequeue returns the programmed ERDP address.
func (i Interrupter) Dequeue() uint64 { return i.read64(ERDP) &^ 0xF }

// Busy reports ERDP.EHB.
func (i Interrupter) Busy() bool { return i.read64(ERDP)&ERDPEventHandlerB != 0 }
