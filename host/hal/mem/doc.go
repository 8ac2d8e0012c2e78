// Package mem provides an in-memory [hal.Platform] for testing and simulation.
//
// DMA buffers are ordinary Go memory tagged with fabricated physical
// addresses handed out by a bump allocator. Because every buffer is
// registered, a simulated controller can resolve the physical addresses it
// finds in TRBs and contexts back to the same [hal.Buffer] the driver
// wrote, exactly as real hardware would through the system bus.
//
// # Address Map
//
//	0x0000_0000_4000_0000   first DMA allocation (DefaultBase)
//	      ...               bump-allocated, never reused
//	<attached>              MMIO windows registered with Attach
//
// # Usage
//
//	m := mem.New(4096)
//	m.Attach(0xfe00_0000, 0x10000, controller) // controller implements hal.MMIO
//
//	regs, err := m.Map(0xfe00_0000, 0x10000)
//	buf, err := m.Alloc(1024, 64)
//	b, off, ok := m.Lookup(buf.Phys() + 16)
package mem
