package xhci

import (
	"context"
	"fmt"

	"github.com/ardnew/softxhci/host/xhci/devctx"
	"github.com/ardnew/softxhci/pkg"
	"github.com/ardnew/softxhci/usb"
)

// Endpoint context tuning per transfer type.
const (
	periodicErrorCount = 3
	bulkAverageLength  = 3072
	intrAverageLength  = 1024
	isochAverageLength = 3072
	maxPacketSizeMask  = 0x7FF
)

// setupDevice adds an endpoint context for every standard endpoint in
// tree, issues Configure Endpoint and selects the configuration on the
// device.
func (c *Controller) setupDevice(ctx context.Context, a *Attachment, tree *usb.ConfigTree) (usb.UCB, error) {
	if tree == nil {
		return usb.UCB{}, fmt.Errorf("%w: no configuration", pkg.ErrInvalidParameter)
	}

	in := c.list.Input(a.Slot)
	in.Reset()
	out := c.list.Output(a.Slot)
	in.Slot().CopyFrom(out.Slot())

	ctl := in.Control()
	ctl.Add(0)
	var drop uint32
	for dci := range a.Endpoints {
		if dci > 1 {
			drop |= 1 << dci
		}
	}
	ctl.SetDropFlags(drop)

	endpoints := map[uint8]EndpointInfo{1: a.Endpoints[1]}
	maxDCI := uint8(1)
	for _, ep := range tree.Endpoints() {
		info, err := c.fillEndpoint(in, a, ep)
		if err != nil {
			return usb.UCB{}, err
		}
		ctl.Add(int(info.DCI))
		endpoints[info.DCI] = info
		if info.DCI > maxDCI {
			maxDCI = info.DCI
		}
	}
	in.Slot().SetContextEntries(maxDCI)

	if err := c.configureEndpoint(ctx, a.Slot, false); err != nil {
		return usb.UCB{}, err
	}
	a.Endpoints = endpoints
	a.Configuration, a.Interface, a.Alternate = 0, 0, 0
	a.Config = tree

	value := tree.Descriptor.ConfigurationValue
	ucb, err := c.controlTransfer(ctx, a.Slot, usb.SetConfigurationSetup(value), nil)
	if err != nil || !ucb.Code.IsSuccess() {
		return ucb, err
	}
	a.Configuration = value
	pkg.LogInfo(pkg.ComponentController, "device configured",
		"slot", a.Slot, "configuration", value, "endpoints", len(endpoints)-1,
		"context_entries", maxDCI)
	return ucb, nil
}

// fillEndpoint writes the input endpoint context for ep.
func (c *Controller) fillEndpoint(in devctx.InputContext, a *Attachment, ep *usb.Endpoint) (EndpointInfo, error) {
	d := &ep.Descriptor
	dci := d.DCI()
	r := c.list.Ring(a.Slot, dci)
	if r == nil {
		return EndpointInfo{}, fmt.Errorf("%w: endpoint %#02x has no transfer ring (dci %d)",
			pkg.ErrInvalidEndpoint, d.EndpointAddress, dci)
	}
	tt := d.TransferType()

	info := EndpointInfo{
		DCI:      dci,
		Address:  d.EndpointAddress,
		Type:     devctx.EndpointType(tt, d.IsIn()),
		Interval: endpointInterval(a.Speed, tt, d.Interval),
	}

	epc := in.Endpoint(int(dci))
	epc.Clear()
	epc.SetType(info.Type)
	epc.SetInterval(info.Interval)
	epc.SetDequeue(r.EnqueuePointer(), r.CycleState())

	errorCount := uint8(periodicErrorCount)
	switch tt {
	case usb.EndpointTypeBulk:
		// Bulk endpoints run without bursts or streams whatever the
		// companion advertises.
		info.MaxPacketSize = d.MaxPacketSize & maxPacketSizeMask
		epc.SetMaxPStreams(0)
		epc.SetAverageTRBLength(bulkAverageLength)

	case usb.EndpointTypeInterrupt, usb.EndpointTypeIsochronous:
		info.MaxPacketSize = d.MaxPacketSizeBase()
		info.MaxBurst = d.AdditionalTransactions()
		if ep.Companion != nil {
			info.MaxBurst = ep.Companion.MaxBurst
		}
		epc.SetMult(0)
		epc.SetMaxESITPayload(info.MaxPacketSize * uint16(info.MaxBurst+1))
		if tt == usb.EndpointTypeIsochronous {
			errorCount = 0
			epc.SetAverageTRBLength(isochAverageLength)
		} else {
			epc.SetAverageTRBLength(intrAverageLength)
		}

	default:
		info.MaxPacketSize = d.MaxPacketSize & maxPacketSizeMask
		epc.SetAverageTRBLength(controlAverageLength)
	}
	epc.SetMaxPacketSize(info.MaxPacketSize)
	epc.SetMaxBurst(info.MaxBurst)
	epc.SetErrorCount(errorCount)

	pkg.LogDebug(pkg.ComponentContext, "endpoint context",
		"slot", a.Slot, "dci", dci, "address", fmt.Sprintf("%#02x", d.EndpointAddress),
		"type", info.Type, "mps", info.MaxPacketSize, "burst", info.MaxBurst,
		"interval", info.Interval)
	return info, nil
}

// deconfigure drops every endpoint but the default control endpoint and
// returns the device to configuration 0.
func (c *Controller) deconfigure(ctx context.Context, a *Attachment) (usb.UCB, error) {
	in := c.list.Input(a.Slot)
	in.Reset()
	if err := c.configureEndpoint(ctx, a.Slot, true); err != nil {
		return usb.UCB{}, err
	}
	a.Endpoints = map[uint8]EndpointInfo{1: a.Endpoints[1]}
	a.Config = nil
	a.Interface, a.Alternate = 0, 0

	ucb, err := c.controlTransfer(ctx, a.Slot, usb.SetConfigurationSetup(0), nil)
	if err != nil || !ucb.Code.IsSuccess() {
		return ucb, err
	}
	a.Configuration = 0
	pkg.LogInfo(pkg.ComponentController, "device deconfigured", "slot", a.Slot)
	return ucb, nil
}

// switchInterface selects an alternate setting with SET_INTERFACE.
func (c *Controller) switchInterface(ctx context.Context, a *Attachment, iface, alt uint8) (usb.UCB, error) {
	if a.Config != nil && a.Config.Interface(iface, alt) == nil {
		return usb.UCB{}, fmt.Errorf("%w: interface %d alternate %d",
			pkg.ErrInvalidParameter, iface, alt)
	}
	ucb, err := c.controlTransfer(ctx, a.Slot, usb.SetInterfaceSetup(iface, alt), nil)
	if err != nil || !ucb.Code.IsSuccess() {
		return ucb, err
	}
	a.Interface, a.Alternate = iface, alt
	pkg.LogDebug(pkg.ComponentController, "interface selected",
		"slot", a.Slot, "interface", iface, "alternate", alt)
	return ucb, nil
}

// resetEndpoint recovers a halted non-control endpoint.
func (c *Controller) resetEndpoint(ctx context.Context, a *Attachment, dci uint8) (usb.UCB, error) {
	if dci == 1 {
		return usb.UCB{}, ErrControlPipe
	}
	if _, ok := a.Endpoints[dci]; !ok {
		return usb.UCB{}, fmt.Errorf("%w: dci %d", pkg.ErrInvalidEndpoint, dci)
	}
	if err := c.recoverEndpoint(ctx, a.Slot, dci); err != nil {
		return usb.UCB{}, err
	}
	return usb.UCB{Code: usb.EventCode(usb.EventSuccess)}, nil
}
