package xhci

import (
	"context"
	"fmt"

	"github.com/ardnew/softxhci/host/xhci/devctx"
	"github.com/ardnew/softxhci/host/xhci/regs"
	"github.com/ardnew/softxhci/host/xhci/ring"
	"github.com/ardnew/softxhci/host/xhci/trb"
	"github.com/ardnew/softxhci/pkg"
)

// Init phase names, in execution order.
const (
	PhaseHardwareReset  = "chip_hardware_reset"
	PhaseMaxDeviceSlots = "set_max_device_slots"
	PhaseDCBAAP         = "set_dcbaap"
	PhaseCommandRing    = "set_cmd_ring"
	PhaseInterrupter    = "init_ir"
	PhaseScratchpads    = "setup_scratchpads"
	PhaseStart          = "start"
	PhaseTestCommand    = "test_cmd"
	PhaseResetPorts     = "reset_ports"
)

// testCommands is the number of No Op commands issued by test_cmd.
const testCommands = 3

type initPhase struct {
	name string
	run  func(ctx context.Context) error
}

func (c *Controller) initPhases() []initPhase {
	return []initPhase{
		{PhaseHardwareReset, c.hardwareReset},
		{PhaseMaxDeviceSlots, c.setMaxDeviceSlots},
		{PhaseDCBAAP, c.setDCBAAP},
		{PhaseCommandRing, c.setCommandRing},
		{PhaseInterrupter, c.initInterrupter},
		{PhaseScratchpads, c.setupScratchpads},
		{PhaseStart, c.start},
		{PhaseTestCommand, c.testCommand},
		{PhaseResetPorts, c.resetPorts},
	}
}

// InitPhases returns the names of the init phases in execution order.
func InitPhases() []string {
	var c Controller
	phases := c.initPhases()
	names := make([]string, len(phases))
	for i, p := range phases {
		names[i] = p.name
	}
	return names
}

// Init brings the controller from any state to running with every
// connected root port reset. It runs once; a failed Init releases what
// it allocated and may be retried.
func (c *Controller) Init(ctx context.Context) error {
	if c.initialized {
		return pkg.ErrAlreadyRunning
	}
	for _, p := range c.initPhases() {
		pkg.LogDebug(pkg.ComponentController, "init phase", "phase", p.name)
		if err := p.run(ctx); err != nil {
			pkg.LogError(pkg.ComponentController, "init phase failed",
				"phase", p.name, "error", err)
			c.release()
			return fmt.Errorf("xhci: %s: %w", p.name, err)
		}
		c.phase = p.name
	}
	c.initialized = true
	pkg.LogInfo(pkg.ComponentController, "controller running",
		"slots", c.maxSlots, "ports", c.maxPorts, "context", c.ctxSize)
	return nil
}

func (c *Controller) release() {
	if c.scratchpad != nil {
		c.scratchpad.Free()
		c.scratchpad = nil
	}
	if c.events != nil {
		c.events.Free()
		c.events = nil
	}
	if c.cmd != nil {
		c.cmd.Free()
		c.cmd = nil
	}
	if c.list != nil {
		c.list.Free()
		c.list = nil
	}
	c.initialized = false
	c.phase = ""
}

func (c *Controller) hardwareReset(ctx context.Context) error {
	op := c.regs.Op
	w := c.cfg.Wait

	op.SetRunStop(false)
	if err := w.Wait(ctx, "controller halted", op.Halted); err != nil {
		return err
	}
	ready := func() bool { return !op.ControllerNotReady() }
	if err := w.Wait(ctx, "controller ready", ready); err != nil {
		return err
	}
	op.SetHostControllerReset()
	done := func() bool { return !op.HostControllerReset() && !op.ControllerNotReady() }
	if err := w.Wait(ctx, "host controller reset", done); err != nil {
		return err
	}

	c.maxSlots = c.regs.Cap.MaxSlots()
	c.maxPorts = c.regs.Cap.MaxPorts()
	c.ctxSize = c.regs.Cap.ContextSize()
	pkg.LogDebug(pkg.ComponentController, "controller reset",
		"slots", c.maxSlots, "ports", c.maxPorts,
		"interrupters", c.regs.Cap.MaxInterrupters(),
		"scratchpads", c.regs.Cap.MaxScratchpadBuffers(),
		"context", c.ctxSize)
	return nil
}

func (c *Controller) setMaxDeviceSlots(context.Context) error {
	c.regs.Op.SetMaxSlotsEnabled(c.maxSlots)
	return nil
}

func (c *Controller) setDCBAAP(context.Context) error {
	l, err := devctx.NewList(c.plat, c.maxSlots, c.ctxSize)
	if err != nil {
		return err
	}
	c.list = l
	c.regs.Op.SetDCBAAP(l.DCBAAP())
	pkg.LogDebug(pkg.ComponentController, "dcbaap set",
		"dcbaap", fmt.Sprintf("%#x", l.DCBAAP()))
	return nil
}

func (c *Controller) setCommandRing(context.Context) error {
	r, err := ring.New(c.plat, c.cfg.CommandRingLength, true)
	if err != nil {
		return err
	}
	c.cmd = r
	c.regs.Op.SetCommandRing(r.Base(), r.CycleState())
	pkg.LogDebug(pkg.ComponentController, "command ring set",
		"base", fmt.Sprintf("%#x", r.Base()), "length", r.Len())
	return nil
}

func (c *Controller) initInterrupter(context.Context) error {
	e, err := ring.NewEventRing(c.plat, c.cfg.EventRingLength)
	if err != nil {
		return err
	}
	c.events = e

	c.ir.SetTableSize(uint16(e.ERSTSize()))
	c.ir.SetDequeue(e.ERDP(), false)
	c.ir.SetTableBase(e.ERSTBA())
	c.ir.SetModeration(c.cfg.ModerationInterval)
	c.ir.SetEnable(c.cfg.InterruptEnable)
	pkg.LogDebug(pkg.ComponentController, "interrupter initialized",
		"interrupter", c.cfg.Interrupter,
		"erstba", fmt.Sprintf("%#x", e.ERSTBA()),
		"erdp", fmt.Sprintf("%#x", e.ERDP()))
	return nil
}

func (c *Controller) setupScratchpads(context.Context) error {
	n := c.regs.Cap.MaxScratchpadBuffers()
	if n == 0 {
		pkg.LogDebug(pkg.ComponentController, "no scratchpad buffers requested")
		return nil
	}
	s, err := devctx.NewScratchpad(c.plat, n)
	if err != nil {
		return err
	}
	s.Register(c.list)
	c.scratchpad = s
	return nil
}

func (c *Controller) start(ctx context.Context) error {
	op := c.regs.Op
	op.SetInterruptEnable(c.cfg.InterruptEnable)
	op.SetRunStop(true)
	running := func() bool { return !op.Halted() }
	if err := c.cfg.Wait.Wait(ctx, "controller running", running); err != nil {
		return err
	}
	c.regs.Doorbell.RingCommand()
	return nil
}

func (c *Controller) testCommand(ctx context.Context) error {
	for i := 0; i < testCommands; i++ {
		if _, err := c.postCommand(ctx, trb.NoOpCommand()); err != nil {
			return err
		}
	}
	pkg.LogDebug(pkg.ComponentCommand, "command ring verified", "commands", testCommands)
	return nil
}

func (c *Controller) resetPorts(ctx context.Context) error {
	for n := uint8(1); n <= c.maxPorts; n++ {
		p := c.regs.Port(n)
		if !p.Powered() {
			p.SetPower(true)
		}
		if err := c.resetPort(ctx, p); err != nil {
			return err
		}
		c.drainEvents()
	}
	return nil
}

// resetPort pulses PR on p and waits for the reset to finish. An empty
// port is reset too and simply stays disabled.
func (c *Controller) resetPort(ctx context.Context, p regs.Port) error {
	p.SetReset()
	done := func() bool { return !p.Resetting() }
	if err := c.cfg.Wait.Wait(ctx, fmt.Sprintf("port %d reset", p.Number()), done); err != nil {
		return err
	}
	p.ClearChanges(regs.PortChangeBits)
	pkg.LogInfo(pkg.ComponentPort, "port reset", "port", p.Number(), "portsc", p.Snapshot())
	return nil
}
