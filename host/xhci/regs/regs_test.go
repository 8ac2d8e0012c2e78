package regs

import (
	"testing"

	"github.com/ardnew/softxhci/host/hal"
)

// regFile is a register block that records the last value written to each
// offset. 64-bit registers are stored as two dwords.
type regFile struct {
	regs   map[uint32]uint32
	writes []uint32 // offsets written, in order
}

func newRegFile() *regFile { return &regFile{regs: make(map[uint32]uint32)} }

func (r *regFile) Read32(off uint32) uint32 { return r.regs[off] }
func (r *regFile) Write32(off uint32, v uint32) {
	r.regs[off] = v
	r.writes = append(r.writes, off)
}
func (r *regFile) Read64(off uint32) uint64 {
	return uint64(r.regs[off]) | uint64(r.regs[off+4])<<32
}
func (r *regFile) Write64(off uint32, v uint64) {
	r.Write32(off, uint32(v))
	r.Write32(off+4, uint32(v>>32))
}

var _ hal.MMIO = (*regFile)(nil)

const (
	testCapLength = 0x20
	testRTSOff    = 0x600
	testDBOff     = 0x800
)

func newTestRegisters() (*regFile, *Registers) {
	f := newRegFile()
	f.regs[CapLength] = 0x0110_0000 | testCapLength
	f.regs[HCSParams1] = 4<<24 | 1<<8 | 8
	f.regs[HCSParams2] = 3<<27 | 1<<21
	f.regs[HCCParams1] = 1 << 2
	f.regs[DBOff] = testDBOff
	f.regs[RTSOff] = testRTSOff
	return f, New(f)
}

// =============================================================================
// Capability Tests
// =============================================================================

func TestCapability(t *testing.T) {
	_, r := newTestRegisters()

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"Length", r.Cap.Length(), uint8(testCapLength)},
		{"Version", r.Cap.Version(), uint16(0x0110)},
		{"MaxSlots", r.Cap.MaxSlots(), uint8(8)},
		{"MaxInterrupters", r.Cap.MaxInterrupters(), uint16(1)},
		{"MaxPorts", r.Cap.MaxPorts(), uint8(4)},
		{"MaxScratchpadBuffers", r.Cap.MaxScratchpadBuffers(), 1<<5 | 3},
		{"ContextSize", r.Cap.ContextSize(), 64},
		{"DoorbellOffset", r.Cap.DoorbellOffset(), uint32(testDBOff)},
		{"RuntimeOffset", r.Cap.RuntimeOffset(), uint32(testRTSOff)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
			}
		})
	}
}

func TestCapability_ContextSize32(t *testing.T) {
	f, r := newTestRegisters()
	f.regs[HCCParams1] = 0
	if r.Cap.ContextSize() != 32 {
		t.Errorf("ContextSize() = %d, want 32", r.Cap.ContextSize())
	}
}

// =============================================================================
// Operational Tests
// =============================================================================

func TestOperational_Command(t *testing.T) {
	f, r := newTestRegisters()
	op := testCapLength + USBCmd

	r.Op.SetRunStop(true)
	if f.regs[uint32(op)] != CmdRunStop || !r.Op.RunStop() {
		t.Errorf("USBCMD = %#x after SetRunStop(true)", f.regs[uint32(op)])
	}
	r.Op.SetInterruptEnable(true)
	r.Op.SetRunStop(false)
	if f.regs[uint32(op)] != CmdInterruptEnable {
		t.Errorf("USBCMD = %#x, want INTE only", f.regs[uint32(op)])
	}
	r.Op.SetHostControllerReset()
	if !r.Op.HostControllerReset() {
		t.Error("HostControllerReset() = false after set")
	}
}

func TestOperational_Status(t *testing.T) {
	f, r := newTestRegisters()
	sts := uint32(testCapLength + USBSts)

	f.regs[sts] = StsHalted | StsControllerNotReady
	if !r.Op.Halted() || !r.Op.ControllerNotReady() {
		t.Errorf("Halted/CNR not decoded from %#x", f.regs[sts])
	}

	r.Op.ClearStatus(StsEventInterrupt | StsHalted)
	if f.regs[sts] != StsEventInterrupt {
		t.Errorf("ClearStatus wrote %#x, want EINT only", f.regs[sts])
	}
}

func TestOperational_Pointers(t *testing.T) {
	f, r := newTestRegisters()

	r.Op.SetCommandRing(0x4000_1040, true)
	crcr := uint32(testCapLength + CRCR)
	if f.regs[crcr] != 0x4000_1041 || f.regs[crcr+4] != 0 {
		t.Errorf("CRCR = %#x:%#x", f.regs[crcr+4], f.regs[crcr])
	}

	r.Op.SetDCBAAP(0x1_4000_2000)
	if got := r.Op.DCBAAP(); got != 0x1_4000_2000 {
		t.Errorf("DCBAAP() = %#x", got)
	}

	f.regs[testCapLength+Config] = 0xFFFF_FF00
	r.Op.SetMaxSlotsEnabled(8)
	if got := r.Op.MaxSlotsEnabled(); got != 8 {
		t.Errorf("MaxSlotsEnabled() = %d, want 8", got)
	}
	if f.regs[testCapLength+Config]&^0xFF != 0xFFFF_FF00 {
		t.Error("SetMaxSlotsEnabled clobbered reserved bits")
	}
}

// =============================================================================
// Port Tests
// =============================================================================

func TestPort_Offset(t *testing.T) {
	f, r := newTestRegisters()
	f.regs[testCapLength+PortBase+2*PortSize] = PortConnect | PortEnabled | 3<<10
	p := r.Port(3)
	if p.Number() != 3 {
		t.Errorf("Number() = %d", p.Number())
	}
	if !p.Connected() || !p.Enabled() || p.Speed() != 3 {
		t.Errorf("port 3 status = %v", p.Snapshot())
	}
}

func TestPort_WritesAreNeutral(t *testing.T) {
	live := uint32(PortConnect | PortEnabled | PortPower | 4<<10 |
		PortConnectChange | PortResetChange)

	tests := []struct {
		name string
		op   func(Port)
		want uint32
	}{
		{"SetReset", Port.SetReset, PortConnect | PortPower | 4<<10 | PortReset},
		{"ClearChanges", func(p Port) { p.ClearChanges(PortResetChange | PortEnabled) },
			PortConnect | PortPower | 4<<10 | PortResetChange},
		{"Disable", Port.Disable, PortConnect | PortPower | 4<<10 | PortEnabled},
		{"SetPower off", func(p Port) { p.SetPower(false) }, PortConnect | 4<<10},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, r := newTestRegisters()
			off := uint32(testCapLength + PortBase)
			f.regs[off] = live
			tt.op(r.Port(1))
			if f.regs[off] != tt.want {
				t.Errorf("PORTSC write = %#x, want %#x", f.regs[off], tt.want)
			}
		})
	}
}

func TestPortStatus_String(t *testing.T) {
	s := PortStatus(PortConnect | PortEnabled | PortPower | 3<<10)
	want := "00000e03[CCS|PED|PP] speed=3 pls=0"
	if got := s.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}

// =============================================================================
// Runtime and Doorbell Tests
// =============================================================================

func TestInterrupter(t *testing.T) {
	f, r := newTestRegisters()
	ir := r.Interrupter(1)
	base := uint32(testRTSOff + InterrupterBase + InterrupterSize)

	f.regs[base+IMAN] = IMANPending
	ir.SetEnable(true)
	if f.regs[base+IMAN] != IMANEnable {
		t.Errorf("IMAN = %#x, SetEnable must not acknowledge IP", f.regs[base+IMAN])
	}

	ir.SetModeration(4000)
	ir.SetTableSize(1)
	ir.SetTableBase(0x4000_0040)
	if ir.Moderation() != 4000 || ir.TableSize() != 1 || ir.TableBase() != 0x4000_0040 {
		t.Errorf("IMOD/ERSTSZ/ERSTBA = %d/%d/%#x", ir.Moderation(), ir.TableSize(), ir.TableBase())
	}

	ir.SetDequeue(0x4000_1010, true)
	if f.regs[base+ERDP] != 0x4000_1010|ERDPEventHandlerB {
		t.Errorf("ERDP = %#x, want EHB set", f.regs[base+ERDP])
	}
	if ir.Dequeue() != 0x4000_1010 {
		t.Errorf("Dequeue() = %#x", ir.Dequeue())
	}
}

func TestDoorbell(t *testing.T) {
	f, r := newTestRegisters()
	r.Doorbell.Ring(2, 5, 7)
	if got := f.regs[testDBOff+8]; got != 7<<16|5 {
		t.Errorf("doorbell 2 = %#x", got)
	}
	r.Doorbell.RingCommand()
	if got := f.writes[len(f.writes)-1]; got != testDBOff {
		t.Errorf("RingCommand wrote %#x, want %#x", got, testDBOff)
	}
}
