package regs

// Operational register offsets.
const (
	USBCmd   = 0x00
	USBSts   = 0x04
	PageSize = 0x08
	DNCtrl   = 0x14
	CRCR     = 0x18
	DCBAAP   = 0x30
	Config   = 0x38
	PortBase = 0x400
	PortSize = 0x10
)

// USBCMD bits.
const (
	CmdRunStop         = 1 << 0
	CmdHCReset         = 1 << 1
	CmdInterruptEnable = 1 << 2
	CmdHostSystemError = 1 << 3
)

// USBSTS bits.
const (
	StsHalted             = 1 << 0
	StsHostSystemError    = 1 << 2
	StsEventInterrupt     = 1 << 3
	StsPortChangeDetect   = 1 << 4
	StsControllerNotReady = 1 << 11
	StsHostControllerErr  = 1 << 12

	stsRW1C = StsHostSystemError | StsEventInterrupt | StsPortChangeDetect | 1<<8 | 1<<9 | 1<<10
)

// CRCR bits.
const (
	CRCRRingCycleState = 1 << 0
	CRCRCommandStop    = 1 << 1
	CRCRCommandAbort   = 1 << 2
	CRCRRunning        = 1 << 3
)

// Operational is the operational register block.
type Operational struct{ block }

// Command returns USBCMD.
func (o Operational) Command() uint32 { return o.read32(USBCmd) }

// Status returns USBSTS.
func (o Operational) Status() uint32 { return o.read32(USBSts) }

func (o Operational) setCommand(mask uint32, on bool) {
	v := o.read32(USBCmd)
	if on {
		v |= mask
	} else {
		v &^= mask
	}
	o.write32(USBCmd, v)
}

// RunStop reports USBCMD.R/S.
func (o Operational) RunStop() bool { return o.Command()&CmdRunStop != 0 }

// SetRunStop sets or clears USBCMD.R/S.
func (o Operational) SetRunStop(on bool) { o.setCommand(CmdRunStop, on) }

// HostControllerReset reports USBCMD.HCRST, which the controller clears
// when reset completes.
func (o Operational) HostControllerReset() bool { return o.Command()&CmdHCReset != 0 }

// SetHostControllerReset sets USBCMD.HCRST.
func (o Operational) SetHostControllerReset() { o.setCommand(CmdHCReset, true) }

// SetInterruptEnable sets or clears USBCMD.INTE.
func (o Operational) SetInterruptEnable(on bool) { o.setCommand(CmdInterruptEnable, on) }

// Halted reports USBSTS.HCH.
func (o Operational) Halted() bool { return o.Status()&StsHalted != 0 }

// ControllerNotReady reports USBSTS.CNR.
func (o Operational) ControllerNotReady() bool { return o.Status()&StsControllerNotReady != 0 }

// HostSystemError reports USBSTS.HSE.
func (o Operational) HostSystemError() bool { return o.Status()&StsHostSystemError != 0 }

// ClearStatus acknowledges the write-1-to-clear status bits in mask.
func (o Operational) ClearStatus(mask uint32) { o.write32(USBSts, mask&stsRW1C) }

// PageSize returns the controller page size in bytes.
func (o Operational) PageSize() int { return int(o.read32(PageSize)&0xFFFF) << 12 }

// SetCommandRing programs CRCR with the command ring base and its
// consumer cycle state.
func (o Operational) SetCommandRing(ptr uint64, cycle bool) {
	v := ptr &^ 0x3F
	if cycle {
		v |= CRCRRingCycleState
	}
	o.write64(CRCR, v)
}

// CommandRingRunning reports CRCR.CRR.
func (o Operational) CommandRingRunning() bool { return o.read32(CRCR)&CRCRRunning != 0 }

// SetDCBAAP programs the Device Context Base Address Array pointer.
func (o Operational) SetDCBAAP(ptr uint64) { o.write64(DCBAAP, ptr&^0x3F) }

// DCBAAP returns the programmed DCBAA pointer.
func (o Operational) DCBAAP() uint64 { return o.read64(DCBAAP) }

// SetMaxSlotsEnabled programs CONFIG.MaxSlotsEn.
func (o Operational) SetMaxSlotsEnabled(n uint8) {
	o.write32(Config, o.read32(Config)&^0xFF|uint32(n))
}

// MaxSlotsEnabled returns CONFIG.MaxSlotsEn.
func (o Operational) MaxSlotsEnabled() uint8 { return uint8(o.read32(Config)) }

func (o Operational) port(n uint8) Port {
	return Port{block{mmio: o.mmio, base: o.base + PortBase + PortSize*uint32(n-1)}, n}
}
