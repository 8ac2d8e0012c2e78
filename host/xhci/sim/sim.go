package sim

import (
	"fmt"
	"sync"

	"github.com/ardnew/softxhci/host/hal"
	"github.com/ardnew/softxhci/host/hal/mem"
	"github.com/ardnew/softxhci/host/xhci/regs"
	"github.com/ardnew/softxhci/pkg"
)

// Register window layout.
const (
	CapLength      = 0x20
	Version        = 0x0110
	RuntimeOffset  = 0x2000
	DoorbellOffset = 0x3000
	WindowSize     = 0x10000
)

// Config describes the simulated controller.
type Config struct {
	MaxSlots       uint8
	MaxPorts       uint8
	MaxScratchpads int
	ContextSize    int // 32 or 64

	// ResetLatency is the number of register reads a host controller or
	// port reset takes to complete.
	ResetLatency int

	// Faults.
	StuckReset   bool // HCRST never clears
	StuckHalt    bool // HCH never sets after Run/Stop is cleared
	DropCommands bool // doorbell 0 is ignored
}

// DefaultConfig returns an 8-slot, 4-port controller with 32-byte
// contexts and no scratchpad buffers.
func DefaultConfig() Config {
	return Config{
		MaxSlots:     8,
		MaxPorts:     4,
		ContextSize:  32,
		ResetLatency: 2,
	}
}

// Stats counts controller activity.
type Stats struct {
	Commands      int
	Transfers     int
	Events        int
	DroppedEvents int
	Doorbells     int
	PortResets    int
}

// Controller is a simulated xHC. It implements hal.MMIO.
type Controller struct {
	mu  sync.Mutex
	cfg Config
	mem *mem.Memory

	// Operational registers
	usbcmd   uint32
	usbsts   uint32
	dnctrl   uint32
	crcr     uint64
	dcbaap   uint64
	config   uint32
	resetIn  int // reads until HCRST completes, -1 when idle
	mfindex  uint32
	cmdDeq   uint64
	cmdCycle bool

	// Interrupter 0
	iman   uint32
	imod   uint32
	erstsz uint32
	erstba uint64
	erdp   uint64
	events eventRing

	ports []*port
	slots []*slot

	stats Stats
}

// New attaches a simulated controller to m at physical address base.
func New(m *mem.Memory, base uint64, cfg Config) (*Controller, error) {
	if cfg.ContextSize != 32 && cfg.ContextSize != 64 {
		return nil, fmt.Errorf("%w: context size %d", pkg.ErrInvalidParameter, cfg.ContextSize)
	}
	if cfg.MaxSlots == 0 || cfg.MaxPorts == 0 {
		return nil, fmt.Errorf("%w: %d slots, %d ports", pkg.ErrInvalidParameter, cfg.MaxSlots, cfg.MaxPorts)
	}
	if cfg.MaxScratchpads < 0 || cfg.MaxScratchpads > 0x3FF {
		return nil, fmt.Errorf("%w: %d scratchpads", pkg.ErrInvalidParameter, cfg.MaxScratchpads)
	}

	c := &Controller{
		cfg:     cfg,
		mem:     m,
		usbsts:  regs.StsHalted,
		resetIn: -1,
		ports:   make([]*port, cfg.MaxPorts),
		slots:   make([]*slot, int(cfg.MaxSlots)+1),
	}
	for i := range c.ports {
		c.ports[i] = &port{n: uint8(i + 1), powered: true}
	}
	if err := m.Attach(base, WindowSize, c); err != nil {
		return nil, err
	}
	pkg.LogDebug(pkg.ComponentSim, "controller attached",
		"base", fmt.Sprintf("%#x", base), "slots", cfg.MaxSlots, "ports", cfg.MaxPorts,
		"scratchpads", cfg.MaxScratchpads, "context", cfg.ContextSize)
	return c, nil
}

// Stats returns a snapshot of the activity counters.
func (c *Controller) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Running reports whether the controller is running.
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running()
}

func (c *Controller) running() bool { return c.usbsts&regs.StsHalted == 0 }

// =============================================================================
// Register Access
// =============================================================================

const (
	opBase     = CapLength
	portsBase  = opBase + regs.PortBase
	irBase     = RuntimeOffset + regs.InterrupterBase
	doorbells  = DoorbellOffset
	doorbellsN = 256
)

// Read32 implements hal.MMIO.
func (c *Controller) Read32(off uint32) uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tick()

	switch {
	case off < opBase:
		return c.readCapability(off)
	case off >= portsBase && off < portsBase+regs.PortSize*uint32(len(c.ports)):
		p := c.ports[(off-portsBase)/regs.PortSize]
		if (off-portsBase)%regs.PortSize == regs.PortSC {
			return p.portsc()
		}
		return 0
	case off >= opBase && off < portsBase:
		return c.readOperational(off - opBase)
	case off >= RuntimeOffset && off < DoorbellOffset:
		return c.readRuntime(off - RuntimeOffset)
	default:
		return 0
	}
}

// Write32 implements hal.MMIO.
func (c *Controller) Write32(off uint32, v uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writeReg(off, v)
}

func (c *Controller) writeReg(off uint32, v uint32) {
	switch {
	case off < opBase:
		// Read-only
	case off >= portsBase && off < portsBase+regs.PortSize*uint32(len(c.ports)):
		p := c.ports[(off-portsBase)/regs.PortSize]
		if (off-portsBase)%regs.PortSize == regs.PortSC {
			c.writePortSC(p, v)
		}
	case off >= opBase && off < portsBase:
		c.writeOperational(off-opBase, v)
	case off >= RuntimeOffset && off < DoorbellOffset:
		c.writeRuntime(off-RuntimeOffset, v)
	case off >= doorbells && off < doorbells+4*doorbellsN:
		c.doorbell(uint8((off-doorbells)/4), v)
	}
}

// Read64 implements hal.MMIO.
func (c *Controller) Read64(off uint32) uint64 {
	lo := uint64(c.Read32(off))
	hi := uint64(c.Read32(off + 4))
	return lo | hi<<32
}

// Write64 implements hal.MMIO. The 64-bit registers take effect once,
// with both halves written.
func (c *Controller) Write64(off uint32, v uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch off {
	case opBase + regs.CRCR:
		c.writeCRCR(v)
	case opBase + regs.DCBAAP:
		c.dcbaap = v &^ 0x3F
	case irBase + regs.ERSTBA:
		c.writeERSTBA(v)
	case irBase + regs.ERDP:
		c.writeERDP(v)
	default:
		c.writeReg(off, uint32(v))
		c.writeReg(off+4, uint32(v>>32))
	}
}

func (c *Controller) readCapability(off uint32) uint32 {
	switch off {
	case regs.CapLength:
		return CapLength | Version<<16
	case regs.HCSParams1:
		return uint32(c.cfg.MaxSlots) | 1<<8 | uint32(c.cfg.MaxPorts)<<24
	case regs.HCSParams2:
		n := uint32(c.cfg.MaxScratchpads)
		return (n>>5)<<21 | (n&0x1F)<<27
	case regs.HCCParams1:
		v := uint32(1) // AC64
		if c.cfg.ContextSize == 64 {
			v |= 1 << 2
		}
		return v
	case regs.DBOff:
		return DoorbellOffset
	case regs.RTSOff:
		return RuntimeOffset
	default:
		return 0
	}
}

func (c *Controller) readOperational(off uint32) uint32 {
	switch off {
	case regs.USBCmd:
		return c.usbcmd
	case regs.USBSts:
		return c.usbsts
	case regs.PageSize:
		return 1 // 4 KiB
	case regs.DNCtrl:
		return c.dnctrl
	case regs.CRCR:
		if c.running() && c.cmdDeq != 0 {
			return regs.CRCRRunning
		}
		return 0
	case regs.CRCR + 4:
		return 0
	case regs.DCBAAP:
		return uint32(c.dcbaap)
	case regs.DCBAAP + 4:
		return uint32(c.dcbaap >> 32)
	case regs.Config:
		return c.config
	default:
		return 0
	}
}

func (c *Controller) writeOperational(off uint32, v uint32) {
	switch off {
	case regs.USBCmd:
		c.writeUSBCmd(v)
	case regs.USBSts:
		rw1c := uint32(regs.StsHostSystemError | regs.StsEventInterrupt | regs.StsPortChangeDetect)
		c.usbsts &^= v & rw1c
	case regs.DNCtrl:
		c.dnctrl = v
	case regs.CRCR:
		c.writeCRCR(c.crcr&^0xFFFFFFFF | uint64(v))
	case regs.CRCR + 4:
		c.writeCRCR(c.crcr&0xFFFFFFFF | uint64(v)<<32)
	case regs.DCBAAP:
		c.dcbaap = c.dcbaap&^0xFFFFFFFF | uint64(v&^0x3F)
	case regs.DCBAAP + 4:
		c.dcbaap = c.dcbaap&0xFFFFFFFF | uint64(v)<<32
	case regs.Config:
		c.config = v & 0x3FF
	}
}

func (c *Controller) writeUSBCmd(v uint32) {
	if v&regs.CmdHCReset != 0 {
		c.startReset()
		return
	}
	c.usbcmd = v &^ regs.CmdHCReset
	switch {
	case v&regs.CmdRunStop != 0 && !c.running():
		c.usbsts &^= regs.StsHalted
		pkg.LogDebug(pkg.ComponentSim, "controller running")
	case v&regs.CmdRunStop == 0 && c.running():
		if c.cfg.StuckHalt {
			pkg.LogDebug(pkg.ComponentSim, "controller refuses to halt")
			return
		}
		c.usbsts |= regs.StsHalted
		pkg.LogDebug(pkg.ComponentSim, "controller halted")
	}
}

// writeCRCR latches the command ring position. It is ignored while the
// command ring runs.
func (c *Controller) writeCRCR(v uint64) {
	c.crcr = v
	if c.running() && c.cmdDeq != 0 {
		return
	}
	c.cmdDeq = v &^ 0x3F
	c.cmdCycle = v&regs.CRCRRingCycleState != 0
}

func (c *Controller) readRuntime(off uint32) uint32 {
	if off == regs.MFIndex {
		return c.mfindex & 0x3FFF
	}
	if off < regs.InterrupterBase || off >= regs.InterrupterBase+regs.InterrupterSize {
		return 0
	}
	switch off - regs.InterrupterBase {
	case regs.IMAN:
		return c.iman
	case regs.IMOD:
		return c.imod
	case regs.ERSTSZ:
		return c.erstsz
	case regs.ERSTBA:
		return uint32(c.erstba)
	case regs.ERSTBA + 4:
		return uint32(c.erstba >> 32)
	case regs.ERDP:
		return uint32(c.erdp)
	case regs.ERDP + 4:
		return uint32(c.erdp >> 32)
	default:
		return 0
	}
}

func (c *Controller) writeRuntime(off uint32, v uint32) {
	if off < regs.InterrupterBase || off >= regs.InterrupterBase+regs.InterrupterSize {
		return
	}
	switch off - regs.InterrupterBase {
	case regs.IMAN:
		c.iman = c.iman&^regs.IMANEnable | v&regs.IMANEnable
		c.iman &^= v & regs.IMANPending
	case regs.IMOD:
		c.imod = v
	case regs.ERSTSZ:
		c.erstsz = v & 0xFFFF
	case regs.ERSTBA:
		c.writeERSTBA(c.erstba&^0xFFFFFFFF | uint64(v))
	case regs.ERSTBA + 4:
		c.writeERSTBA(c.erstba&0xFFFFFFFF | uint64(v)<<32)
	case regs.ERDP:
		c.writeERDP(c.erdp&^0xFFFFFFFF | uint64(v))
	case regs.ERDP + 4:
		c.writeERDP(c.erdp&0xFFFFFFFF | uint64(v)<<32)
	}
}

func (c *Controller) writeERDP(v uint64) {
	busy := c.erdp & regs.ERDPEventHandlerB
	if v&regs.ERDPEventHandlerB != 0 {
		busy = 0
	}
	c.erdp = v&^0xF | busy
}

// =============================================================================
// Reset and Time
// =============================================================================

func (c *Controller) startReset() {
	c.usbcmd = regs.CmdHCReset
	c.usbsts |= regs.StsControllerNotReady
	c.resetIn = c.cfg.ResetLatency
	pkg.LogDebug(pkg.ComponentSim, "host controller reset started")
	if c.resetIn == 0 && !c.cfg.StuckReset {
		c.finishReset()
	}
}

func (c *Controller) finishReset() {
	c.resetIn = -1
	c.usbcmd = 0
	c.usbsts = regs.StsHalted
	c.dnctrl, c.crcr, c.dcbaap, c.config = 0, 0, 0, 0
	c.cmdDeq, c.cmdCycle = 0, false
	c.iman, c.imod, c.erstsz, c.erstba, c.erdp = 0, 0, 0, 0, 0
	c.events = eventRing{}
	for i := range c.slots {
		c.slots[i] = nil
	}
	for _, p := range c.ports {
		p.reset()
	}
	pkg.LogDebug(pkg.ComponentSim, "host controller reset complete")
}

// tick advances simulated time by one register read.
func (c *Controller) tick() {
	c.mfindex++
	if c.resetIn > 0 && !c.cfg.StuckReset {
		c.resetIn--
		if c.resetIn == 0 {
			c.finishReset()
		}
	}
	for _, p := range c.ports {
		if p.resetIn > 0 {
			p.resetIn--
			if p.resetIn == 0 {
				c.finishPortReset(p)
			}
		}
	}
}

// doorbell dispatches a doorbell write.
func (c *Controller) doorbell(target uint8, v uint32) {
	c.stats.Doorbells++
	if !c.running() {
		pkg.LogDebug(pkg.ComponentSim, "doorbell while halted", "doorbell", target)
		return
	}
	if target == 0 {
		if c.cfg.DropCommands {
			pkg.LogDebug(pkg.ComponentSim, "command doorbell dropped")
			return
		}
		c.runCommands()
		return
	}
	c.runSlot(target, uint8(v&0xFF))
}

var _ hal.MMIO = (*Controller)(nil)
