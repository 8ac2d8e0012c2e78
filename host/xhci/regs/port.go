package regs

import (
	"fmt"
	"strings"
)

// Port register offsets relative to the port block.
const (
	PortSC   = 0x0
	PortPMSC = 0x4
	PortLI   = 0x8
	PortHLPM = 0xC
)

// PORTSC bits.
const (
	PortConnect       = 1 << 0  // CCS
	PortEnabled       = 1 << 1  // PED, write 1 to disable
	PortOverCurrent   = 1 << 3  // OCA
	PortReset         = 1 << 4  // PR
	PortPower         = 1 << 9  // PP
	PortLinkWrite     = 1 << 16 // LWS
	PortConnectChange = 1 << 17 // CSC
	PortEnableChange  = 1 << 18 // PEC
	PortWarmChange    = 1 << 19 // WRC
	PortOCChange      = 1 << 20 // OCC
	PortResetChange   = 1 << 21 // PRC
	PortLinkChange    = 1 << 22 // PLC
	PortConfigError   = 1 << 23 // CEC
	PortWarmReset     = 1 << 31 // WPR

	PortChangeBits = PortConnectChange | PortEnableChange | PortWarmChange |
		PortOCChange | PortResetChange | PortLinkChange | PortConfigError

	portLinkShift  = 5
	portSpeedShift = 10

	// Bits that read back what software wrote or are read-only; all other
	// bits are zeroed before a write so nothing is cleared by accident.
	portPreserve = PortConnect | PortOverCurrent | 0xF<<portLinkShift | PortPower |
		0xF<<portSpeedShift | 0x3<<14 | 0x7<<25 | 1<<24 | 1<<30
)

// Port is the register block of one root port.
type Port struct {
	block
	n uint8
}

// Number returns the 1-based port number.
func (p Port) Number() uint8 { return p.n }

// Status returns the raw PORTSC value.
func (p Port) Status() uint32 { return p.read32(PortSC) }

// Connected reports PORTSC.CCS.
func (p Port) Connected() bool { return p.Status()&PortConnect != 0 }

// Enabled reports PORTSC.PED.
func (p Port) Enabled() bool { return p.Status()&PortEnabled != 0 }

// Resetting reports PORTSC.PR.
func (p Port) Resetting() bool { return p.Status()&PortReset != 0 }

// Powered reports PORTSC.PP.
func (p Port) Powered() bool { return p.Status()&PortPower != 0 }

// LinkState returns PORTSC.PLS.
func (p Port) LinkState() uint8 { return uint8(field(p.Status(), portLinkShift, 4)) }

// Speed returns PORTSC.Speed, the protocol speed id of the attached device.
func (p Port) Speed() uint8 { return uint8(field(p.Status(), portSpeedShift, 4)) }

// Changes returns the set PORTSC change bits.
func (p Port) Changes() uint32 { return p.Status() & PortChangeBits }

// neutral returns v with every write-1-to-clear and write-1-to-act bit
// zeroed.
func neutral(v uint32) uint32 { return v & portPreserve }

// SetReset starts a port reset.
func (p Port) SetReset() { p.write32(PortSC, neutral(p.Status())|PortReset) }

// SetPower sets or clears PORTSC.PP.
func (p Port) SetPower(on bool) {
	v := neutral(p.Status())
	if on {
		v |= PortPower
	} else {
		v &^= PortPower
	}
	p.write32(PortSC, v)
}

// Disable writes PED to disable the port.
func (p Port) Disable() { p.write32(PortSC, neutral(p.Status())|PortEnabled) }

// ClearChanges acknowledges the change bits in mask.
func (p Port) ClearChanges(mask uint32) {
	p.write32(PortSC, neutral(p.Status())|mask&PortChangeBits)
}

// PortStatus is a decoded PORTSC snapshot.
type PortStatus uint32

// Snapshot returns the decoded PORTSC value.
func (p Port) Snapshot() PortStatus { return PortStatus(p.Status()) }

// Connected reports CCS.
func (s PortStatus) Connected() bool { return s&PortConnect != 0 }

// Enabled reports PED.
func (s PortStatus) Enabled() bool { return s&PortEnabled != 0 }

// Speed returns the protocol speed id.
func (s PortStatus) Speed() uint8 { return uint8(field(uint32(s), portSpeedShift, 4)) }

// LinkState returns PLS.
func (s PortStatus) LinkState() uint8 { return uint8(field(uint32(s), portLinkShift, 4)) }

// String formats the set flags for logging.
func (s PortStatus) String() string {
	var flags []string
	for _, f := range []struct {
		mask uint32
		name string
	}{
		{PortConnect, "CCS"},
		{PortEnabled, "PED"},
		{PortOverCurrent, "OCA"},
		{PortReset, "PR"},
		{PortPower, "PP"},
		{PortConnectChange, "CSC"},
		{PortEnableChange, "PEC"},
		{PortWarmChange, "WRC"},
		{PortOCChange, "OCC"},
		{PortResetChange, "PRC"},
		{PortLinkChange, "PLC"},
		{PortConfigError, "CEC"},
	} {
		if uint32(s)&f.mask != 0 {
			flags = append(flags, f.name)
		}
	}
	return fmt.Sprintf("%08x[%s] speed=%d pls=%d", uint32(s), strings.Join(flags, "|"), s.Speed(), s.LinkState())
}
