package xhci

import (
	"context"
	"fmt"

	"github.com/ardnew/softxhci/host/xhci/trb"
	"github.com/ardnew/softxhci/pkg"
)

// postCommand enqueues t on the command ring, rings doorbell 0 and waits
// for the matching completion. A completion code other than Success is
// returned as a *CommandError alongside the event.
func (c *Controller) postCommand(ctx context.Context, t trb.TRB) (trb.CommandCompletionEvent, error) {
	ptr := c.cmd.Enqueue(t)
	c.regs.Doorbell.RingCommand()
	pkg.LogDebug(pkg.ComponentCommand, "command posted",
		"type", t.Type(), "pointer", fmt.Sprintf("%#x", ptr))

	ev, err := c.waitCommand(ctx, ptr)
	if err != nil {
		return ev, fmt.Errorf("xhci: %s: %w", t.Type(), err)
	}
	if ev.Code != trb.CodeSuccess {
		pkg.LogWarn(pkg.ComponentCommand, "command failed",
			"type", t.Type(), "code", ev.Code, "slot", ev.Slot)
		return ev, &CommandError{Command: t.Type(), Code: ev.Code}
	}
	return ev, nil
}

// enableSlot asks the controller for a free device slot.
func (c *Controller) enableSlot(ctx context.Context) (uint8, error) {
	ev, err := c.postCommand(ctx, trb.EnableSlot(c.cfg.SlotType))
	if err != nil {
		return 0, err
	}
	if ev.Slot == 0 || ev.Slot > c.maxSlots {
		return 0, unknownf("enable slot returned slot %d of %d", ev.Slot, c.maxSlots)
	}
	pkg.LogDebug(pkg.ComponentCommand, "slot enabled", "slot", ev.Slot)
	return ev.Slot, nil
}

func (c *Controller) evaluateContext(ctx context.Context, slot uint8) error {
	c.list.SyncInput(slot)
	_, err := c.postCommand(ctx, trb.EvaluateContext(c.list.Input(slot).Phys(), slot))
	return err
}

func (c *Controller) configureEndpoint(ctx context.Context, slot uint8, deconfigure bool) error {
	c.list.SyncInput(slot)
	_, err := c.postCommand(ctx, trb.ConfigureEndpoint(c.list.Input(slot).Phys(), slot, deconfigure))
	return err
}

// DisableSlot releases slot in the controller and frees its rings.
func (c *Controller) DisableSlot(ctx context.Context, slot uint8) error {
	if err := c.checkRunning(); err != nil {
		return err
	}
	if _, err := c.attachment(slot); err != nil {
		return err
	}
	if _, err := c.postCommand(ctx, trb.DisableSlot(slot)); err != nil {
		return err
	}
	c.list.FreeSlot(slot)
	delete(c.devices, slot)
	pkg.LogInfo(pkg.ComponentController, "slot disabled", "slot", slot)
	return nil
}

// ResetDevice returns slot to the Default state. Every endpoint other
// than the default control endpoint is disabled and the device address
// is lost until the next Address Device.
func (c *Controller) ResetDevice(ctx context.Context, slot uint8) error {
	if err := c.checkRunning(); err != nil {
		return err
	}
	a, err := c.attachment(slot)
	if err != nil {
		return err
	}
	if _, err := c.postCommand(ctx, trb.ResetDevice(slot)); err != nil {
		return err
	}
	a.Configuration, a.Interface, a.Alternate = 0, 0, 0
	a.Config = nil
	a.Endpoints = map[uint8]EndpointInfo{1: a.Endpoints[1]}
	pkg.LogInfo(pkg.ComponentController, "device reset", "slot", slot)
	return nil
}

// StopEndpoint stops the endpoint (slot, dci). The endpoint stays
// Stopped until its doorbell is rung again.
func (c *Controller) StopEndpoint(ctx context.Context, slot, dci uint8) error {
	if err := c.checkRunning(); err != nil {
		return err
	}
	if _, err := c.endpointRing(slot, dci); err != nil {
		return err
	}
	_, err := c.postCommand(ctx, trb.StopEndpoint(slot, dci, false))
	return err
}

// SetTRDequeuePointer moves the controller's dequeue pointer of (slot,
// dci) to the ring's enqueue position, abandoning anything queued in
// between. The endpoint must be Stopped or in Error.
func (c *Controller) SetTRDequeuePointer(ctx context.Context, slot, dci uint8) error {
	if err := c.checkRunning(); err != nil {
		return err
	}
	r, err := c.endpointRing(slot, dci)
	if err != nil {
		return err
	}
	_, err = c.postCommand(ctx, trb.SetTRDequeue(slot, dci, r.EnqueuePointer(), r.CycleState()))
	return err
}

// recoverEndpoint clears a Halted endpoint and skips whatever the
// controller left on its ring.
func (c *Controller) recoverEndpoint(ctx context.Context, slot, dci uint8) error {
	if _, err := c.postCommand(ctx, trb.ResetEndpoint(slot, dci, false)); err != nil {
		return err
	}
	r := c.list.Ring(slot, dci)
	_, err := c.postCommand(ctx, trb.SetTRDequeue(slot, dci, r.EnqueuePointer(), r.CycleState()))
	if err != nil {
		return err
	}
	pkg.LogDebug(pkg.ComponentTransfer, "endpoint recovered", "slot", slot, "dci", dci)
	return nil
}
