package regs

// Capability register offsets.
const (
	CapLength  = 0x00 // CAPLENGTH (7:0) and HCIVERSION (31:16)
	HCSParams1 = 0x04
	HCSParams2 = 0x08
	HCSParams3 = 0x0C
	HCCParams1 = 0x10
	DBOff      = 0x14
	RTSOff     = 0x18
	HCCParams2 = 0x1C
)

// Capability is the read-only capability register block.
type Capability struct{ block }

// Length returns CAPLENGTH, the offset of the operational registers.
func (c Capability) Length() uint8 { return uint8(c.read32(CapLength)) }

// Version returns HCIVERSION in BCD.
func (c Capability) Version() uint16 { return uint16(c.read32(CapLength) >> 16) }

// MaxSlots returns HCSPARAMS1.MaxSlots.
func (c Capability) MaxSlots() uint8 { return uint8(field(c.read32(HCSParams1), 0, 8)) }

// MaxInterrupters returns HCSPARAMS1.MaxIntrs.
func (c Capability) MaxInterrupters() uint16 {
	return uint16(field(c.read32(HCSParams1), 8, 11))
}

// MaxPorts returns HCSPARAMS1.MaxPorts.
func (c Capability) MaxPorts() uint8 { return uint8(field(c.read32(HCSParams1), 24, 8)) }

// IST returns HCSPARAMS2.IST, the isochronous scheduling threshold.
func (c Capability) IST() uint8 { return uint8(field(c.read32(HCSParams2), 0, 4)) }

// ERSTMax returns the log2 of the maximum Event Ring Segment Table size.
func (c Capability) ERSTMax() uint8 { return uint8(field(c.read32(HCSParams2), 4, 4)) }

// MaxScratchpadBuffers returns the number of scratchpad pages the
// controller requires, combined from HCSPARAMS2 Hi (25:21) and Lo (31:27).
func (c Capability) MaxScratchpadBuffers() int {
	v := c.read32(HCSParams2)
	return int(field(v, 21, 5)<<5 | field(v, 27, 5))
}

// ContextSize64 reports HCCPARAMS1.CSZ, set when contexts are 64 bytes.
func (c Capability) ContextSize64() bool { return bit(c.read32(HCCParams1), 2) }

// ContextSize returns the context data structure size in bytes.
func (c Capability) ContextSize() int {
	if c.ContextSize64() {
		return 64
	}
	return 32
}

// AC64 reports 64-bit addressing capability.
func (c Capability) AC64() bool { return bit(c.read32(HCCParams1), 0) }

// ExtendedCapabilities returns the xECP pointer in dwords.
func (c Capability) ExtendedCapabilities() uint16 {
	return uint16(c.read32(HCCParams1) >> 16)
}

// DoorbellOffset returns DBOFF.
func (c Capability) DoorbellOffset() uint32 { return c.read32(DBOff) &^ 0x3 }

// RuntimeOffset returns RTSOFF.
func (c Capability) RuntimeOffset() uint32 { return c.read32(RTSOff) &^ 0x1F }
