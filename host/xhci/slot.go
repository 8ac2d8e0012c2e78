package xhci

import (
	"context"
	"fmt"

	"github.com/ardnew/softxhci/host/xhci/devctx"
	"github.com/ardnew/softxhci/host/xhci/trb"
	"github.com/ardnew/softxhci/pkg"
	"github.com/ardnew/softxhci/usb"
)

// Default control endpoint tuning.
const (
	controlErrorCount    = 3
	controlAverageLength = 8
)

// EndpointInfo is the configured state of one endpoint.
type EndpointInfo struct {
	DCI           uint8
	Address       uint8 // bEndpointAddress; 0 for the default control endpoint
	Type          uint8 // devctx.EndpointType*
	MaxPacketSize uint16
	MaxBurst      uint8
	Interval      uint8 // xHCI encoding
}

// Attachment is one device attached to a root port and the slot serving
// it.
type Attachment struct {
	Slot           uint8
	Hub            uint8
	Port           uint8
	Route          uint32
	Speed          usb.Speed
	Address        uint8
	MaxPacketSize0 uint16

	Configuration uint8
	Interface     uint8
	Alternate     uint8

	// Endpoints holds every endpoint with a context, keyed by DCI.
	Endpoints map[uint8]EndpointInfo

	// Config is the tree passed to the last SetupDevice, or nil.
	Config *usb.ConfigTree
}

func (a *Attachment) clone() Attachment {
	b := *a
	b.Endpoints = make(map[uint8]EndpointInfo, len(a.Endpoints))
	for k, v := range a.Endpoints {
		b.Endpoints[k] = v
	}
	return b
}

// routeString returns the route string of a device on port behind hub.
// Root hub devices have an empty route string; their port goes in the
// slot context's root hub port field.
func routeString(hub, port uint8) (uint32, error) {
	if hub == 0 {
		return 0, nil
	}
	return appendPortToRouteString(0, port)
}

// attach enables a slot for the device on root port n and brings it to
// the Addressed state with a correct default control endpoint.
func (c *Controller) attach(ctx context.Context, port, psi uint8) (uint8, error) {
	slot, err := c.enableSlot(ctx)
	if err != nil {
		return 0, err
	}
	if err := c.list.NewSlot(slot, 0, port, c.cfg.EndpointRings); err != nil {
		c.abandonSlot(ctx, slot)
		return 0, err
	}
	a := &Attachment{
		Slot:      slot,
		Port:      port,
		Speed:     usb.Speed(psi),
		Endpoints: make(map[uint8]EndpointInfo),
	}
	if err := c.addressDevice(ctx, a); err != nil {
		c.abandonSlot(ctx, slot)
		return 0, err
	}
	c.devices[slot] = a

	if err := c.fixMaxPacketSize0(ctx, a); err != nil {
		c.abandonSlot(ctx, slot)
		return 0, err
	}
	return slot, nil
}

// abandonSlot gives a slot back after a failed attach.
func (c *Controller) abandonSlot(ctx context.Context, slot uint8) {
	delete(c.devices, slot)
	if c.list.Active(slot) {
		c.list.FreeSlot(slot)
	}
	if _, err := c.postCommand(ctx, trb.DisableSlot(slot)); err != nil {
		pkg.LogWarn(pkg.ComponentController, "disable slot after failed attach",
			"slot", slot, "error", err)
	}
}

// addressDevice fills the input context of a's slot with the slot and
// default control endpoint contexts and issues Address Device.
func (c *Controller) addressDevice(ctx context.Context, a *Attachment) error {
	route, err := routeString(a.Hub, a.Port)
	if err != nil {
		return err
	}
	mps, err := maxPacketSizeForSpeed(uint8(a.Speed))
	if err != nil {
		return err
	}

	in := c.list.Input(a.Slot)
	in.Reset()
	in.Control().SetAddFlags(1<<0 | 1<<1)

	sc := in.Slot()
	sc.SetRouteString(route)
	sc.SetSpeed(uint8(a.Speed))
	sc.SetContextEntries(1)
	sc.SetRootHubPort(a.Port)
	sc.SetInterrupterTarget(uint16(c.cfg.Interrupter))

	r := c.list.Ring(a.Slot, 1)
	ep := in.Endpoint(1)
	ep.SetType(devctx.EndpointTypeControl)
	ep.SetMaxPacketSize(mps)
	ep.SetErrorCount(controlErrorCount)
	ep.SetDequeue(r.EnqueuePointer(), r.CycleState())
	ep.SetAverageTRBLength(controlAverageLength)

	c.list.SyncInput(a.Slot)
	if _, err := c.postCommand(ctx, trb.AddressDevice(in.Phys(), a.Slot, false)); err != nil {
		return err
	}

	a.Route = route
	a.MaxPacketSize0 = mps
	a.Address = c.list.Output(a.Slot).Slot().DeviceAddress()
	a.Endpoints[1] = EndpointInfo{
		DCI:           1,
		Type:          devctx.EndpointTypeControl,
		MaxPacketSize: mps,
	}
	pkg.LogDebug(pkg.ComponentController, "device addressed",
		"slot", a.Slot, "address", a.Address, "route", fmt.Sprintf("%#05x", route),
		"speed", a.Speed, "mps0", mps)
	return nil
}

// fixMaxPacketSize0 reads bMaxPacketSize0 from the first eight bytes of
// the device descriptor and evaluates the corrected value into the
// default control endpoint context.
func (c *Controller) fixMaxPacketSize0(ctx context.Context, a *Attachment) error {
	buf := make([]byte, 8)
	setup := usb.GetDescriptorSetup(usb.DescriptorTypeDevice, 0, uint16(len(buf)))
	ucb, err := c.controlTransfer(ctx, a.Slot, setup, buf)
	if err != nil {
		return err
	}
	if !ucb.Code.IsSuccess() || ucb.Length < len(buf) {
		return fmt.Errorf("%w: device descriptor prefix: %s, %d bytes",
			ErrUnknown, ucb.Code, ucb.Length)
	}

	mps := uint16(buf[7])
	if a.Speed.IsSuperSpeed() {
		mps = 1 << buf[7]
	}
	if mps == 0 {
		return unknownf("device reports bMaxPacketSize0 %d", buf[7])
	}

	in := c.list.Input(a.Slot)
	ctl := in.Control()
	ctl.SetDropFlags(0)
	ctl.SetAddFlags(1 << 1)
	in.Endpoint(1).SetMaxPacketSize(mps)
	if err := c.evaluateContext(ctx, a.Slot); err != nil {
		return err
	}

	a.MaxPacketSize0 = mps
	ep := a.Endpoints[1]
	ep.MaxPacketSize = mps
	a.Endpoints[1] = ep
	return nil
}
