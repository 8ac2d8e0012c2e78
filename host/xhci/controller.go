package xhci

import (
	"context"
	"fmt"
	"sort"

	"github.com/ardnew/softxhci/host/hal"
	"github.com/ardnew/softxhci/host/xhci/devctx"
	"github.com/ardnew/softxhci/host/xhci/regs"
	"github.com/ardnew/softxhci/host/xhci/ring"
	"github.com/ardnew/softxhci/pkg"
)

// Controller is one xHCI host controller.
type Controller struct {
	plat hal.Platform
	base uint64
	cfg  Config
	regs *regs.Registers
	ir   regs.Interrupter

	// Capabilities latched during bring-up
	maxSlots uint8
	maxPorts uint8
	ctxSize  int

	// Controller-shared memory
	list       *devctx.List
	cmd        *ring.Ring
	events     *ring.EventRing
	scratchpad *devctx.Scratchpad

	// Addressed devices by slot id
	devices map[uint8]*Attachment

	// Name of the last completed init phase
	phase       string
	initialized bool
}

// New maps the register window at base and returns an uninitialized
// controller.
func New(p hal.Platform, base uint64, cfg Config) (*Controller, error) {
	cfg.normalize()
	mmio, err := p.Map(base, cfg.MMIOSize)
	if err != nil {
		return nil, fmt.Errorf("xhci: map registers at %#x: %w", base, err)
	}
	r := regs.New(mmio)
	c := &Controller{
		plat:    p,
		base:    base,
		cfg:     cfg,
		regs:    r,
		ir:      r.Interrupter(cfg.Interrupter),
		devices: make(map[uint8]*Attachment),
	}
	pkg.LogDebug(pkg.ComponentController, "controller mapped",
		"base", fmt.Sprintf("%#x", base),
		"version", fmt.Sprintf("%#04x", r.Cap.Version()),
		"caplength", r.Cap.Length())
	return c, nil
}

// Config returns the controller configuration.
func (c *Controller) Config() Config { return c.cfg }

// Registers returns the register accessors.
func (c *Controller) Registers() *regs.Registers { return c.regs }

// MaxSlots returns the number of enabled device slots.
func (c *Controller) MaxSlots() uint8 { return c.maxSlots }

// MaxPorts returns the number of root hub ports.
func (c *Controller) MaxPorts() uint8 { return c.maxPorts }

// ContextSize returns the device context size in bytes.
func (c *Controller) ContextSize() int { return c.ctxSize }

// Phase returns the name of the last completed init phase.
func (c *Controller) Phase() string { return c.phase }

// Initialized reports whether Init completed.
func (c *Controller) Initialized() bool { return c.initialized }

// Attachment returns a copy of the record of slot.
func (c *Controller) Attachment(slot uint8) (Attachment, bool) {
	a, ok := c.devices[slot]
	if !ok {
		return Attachment{}, false
	}
	return a.clone(), true
}

// Slots returns the addressed slot ids in ascending order.
func (c *Controller) Slots() []uint8 {
	slots := make([]uint8, 0, len(c.devices))
	for s := range c.devices {
		slots = append(slots, s)
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i] < slots[j] })
	return slots
}

func (c *Controller) attachment(slot uint8) (*Attachment, error) {
	a, ok := c.devices[slot]
	if !ok {
		return nil, fmt.Errorf("%w: slot %d", pkg.ErrInvalidSlot, slot)
	}
	return a, nil
}

func (c *Controller) checkRunning() error {
	if !c.initialized {
		return pkg.ErrNotRunning
	}
	return nil
}

// Close halts the controller and releases its memory.
func (c *Controller) Close(ctx context.Context) error {
	if !c.initialized {
		return nil
	}
	c.regs.Op.SetRunStop(false)
	err := c.cfg.Wait.Wait(ctx, "controller halted", c.regs.Op.Halted)

	for slot := range c.devices {
		delete(c.devices, slot)
	}
	c.release()

	pkg.LogInfo(pkg.ComponentController, "controller closed")
	return err
}
