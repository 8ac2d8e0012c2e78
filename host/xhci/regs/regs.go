package regs

import "github.com/ardnew/softxhci/host/hal"

// block is a register window at a fixed offset into the controller MMIO.
type block struct {
	mmio hal.MMIO
	base uint32
}

func (b block) read32(off uint32) uint32     { return b.mmio.Read32(b.base + off) }
func (b block) write32(off uint32, v uint32) { b.mmio.Write32(b.base+off, v) }
func (b block) read64(off uint32) uint64     { return b.mmio.Read64(b.base + off) }
func (b block) write64(off uint32, v uint64) { b.mmio.Write64(b.base+off, v) }

// Registers bundles the register blocks of one controller.
type Registers struct {
	Cap      Capability
	Op       Operational
	Runtime  Runtime
	Doorbell Doorbells
}

// New locates the register blocks of the controller mapped at m.
func New(m hal.MMIO) *Registers {
	c := Capability{block{mmio: m}}
	return &Registers{
		Cap:      c,
		Op:       Operational{block{mmio: m, base: uint32(c.Length())}},
		Runtime:  Runtime{block{mmio: m, base: c.RuntimeOffset()}},
		Doorbell: Doorbells{block{mmio: m, base: c.DoorbellOffset()}},
	}
}

// Port returns the register block of 1-based root port n.
func (r *Registers) Port(n uint8) Port {
	return r.Op.port(n)
}

// Interrupter returns the register set of interrupter n.
func (r *Registers) Interrupter(n int) Interrupter {
	return r.Runtime.Interrupter(n)
}

func bit(v uint32, n uint) bool { return v&(1<<n) != 0 }

func field(v uint32, lo, width uint) uint32 { return (v >> lo) & (1<<width - 1) }
