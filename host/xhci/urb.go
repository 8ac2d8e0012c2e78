package xhci

import (
	"context"
	"fmt"

	"github.com/ardnew/softxhci/pkg"
	"github.com/ardnew/softxhci/usb"
)

// Submit executes urb and blocks until it completes. Every accepted URB
// yields exactly one UCB. A non-nil error accompanies a UCB only when the
// controller reported a completion code it cannot recover from; the
// error then wraps ErrFatal and the UCB carries the raw code.
func (c *Controller) Submit(ctx context.Context, urb usb.URB) (usb.UCB, error) {
	if err := c.checkRunning(); err != nil {
		return usb.UCB{}, err
	}
	if urb.Op == nil {
		return usb.UCB{}, fmt.Errorf("%w: urb without operation", pkg.ErrInvalidRequest)
	}

	if op, ok := urb.Op.(usb.Debug); ok {
		return c.debug(urb.Slot, op)
	}

	a, err := c.attachment(urb.Slot)
	if err != nil {
		return usb.UCB{}, err
	}

	var ucb usb.UCB
	switch op := urb.Op.(type) {
	case usb.ControlTransfer:
		ucb, err = c.controlTransfer(ctx, a.Slot, op.Setup, op.Data)
	case usb.BulkTransfer:
		ucb, err = c.normalTransfer(ctx, a, op.Endpoint, op.Data, usb.EndpointTypeBulk)
	case usb.InterruptTransfer:
		ucb, err = c.normalTransfer(ctx, a, op.Endpoint, op.Data, usb.EndpointTypeInterrupt)
	case usb.IsochTransfer:
		ucb, err = c.isochTransfer(ctx, a, op)
	case usb.SetupDevice:
		ucb, err = c.setupDevice(ctx, a, op.Config)
	case usb.SwitchInterface:
		ucb, err = c.switchInterface(ctx, a, op.Interface, op.Alternate)
	case usb.ResetEndpoint:
		ucb, err = c.resetEndpoint(ctx, a, op.DCI)
	case usb.Deconfigure:
		ucb, err = c.deconfigure(ctx, a)
	case usb.PrepareForTransfer:
		ucb, err = c.prepareForTransfer(a, op.DCI)
	default:
		return usb.UCB{}, fmt.Errorf("%w: %T", pkg.ErrNotSupported, urb.Op)
	}

	pkg.LogDebug(pkg.ComponentTransfer, "urb complete",
		"slot", urb.Slot, "op", usb.OperationName(urb.Op),
		"code", ucb.Code, "length", ucb.Length, "error", err)
	return ucb, err
}

func (c *Controller) debug(slot uint8, op usb.Debug) (usb.UCB, error) {
	var (
		report string
		err    error
	)
	switch op.Op {
	case usb.DebugDumpSlot:
		report, err = c.Dump(slot)
	case usb.DebugDumpPorts:
		report = c.DumpPorts()
	default:
		err = fmt.Errorf("%w: debug op %d", pkg.ErrNotSupported, op.Op)
	}
	if err != nil {
		return usb.UCB{}, err
	}
	return usb.UCB{Code: usb.DebugCode(), Report: report}, nil
}
