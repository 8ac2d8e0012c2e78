package sim

import (
	"errors"
	"fmt"

	"github.com/ardnew/softxhci/host/xhci/devctx"
	"github.com/ardnew/softxhci/host/xhci/trb"
	"github.com/ardnew/softxhci/pkg"
	"github.com/ardnew/softxhci/usb"
)

// maxRingWalk bounds how many TRBs one doorbell consumes.
const maxRingWalk = 4096

// slot is the controller-side state of an enabled device slot.
type slot struct {
	id   uint8
	port *port
	eps  [devctx.MaxDCI + 1]*endpoint
}

// endpoint is the controller-side transfer ring state of one endpoint.
type endpoint struct {
	dci   uint8
	deq   uint64
	cycle bool
}

// runCommands consumes the command ring until the producer cycle state no
// longer matches.
func (c *Controller) runCommands() {
	for n := 0; n < maxRingWalk; n++ {
		t, err := c.readTRB(c.cmdDeq)
		if err != nil {
			pkg.LogWarn(pkg.ComponentSim, "command ring unreadable", "error", err)
			return
		}
		if t.Cycle() != c.cmdCycle {
			return
		}
		if t.Type() == trb.TypeLink {
			c.cmdDeq = t.Parameter() &^ 0xF
			if t.Has(trb.ControlToggleCycle) {
				c.cmdCycle = !c.cmdCycle
			}
			continue
		}

		code, id := c.execute(t)
		pkg.LogDebug(pkg.ComponentSim, "command",
			"type", t.Type(), "slot", id, "code", code)
		c.post(trb.CommandCompletionTRB(c.cmdDeq, code, id))
		c.stats.Commands++
		c.cmdDeq += trb.Size
	}
	pkg.LogWarn(pkg.ComponentSim, "command ring walk limit reached")
}

func (c *Controller) execute(t trb.TRB) (trb.CompletionCode, uint8) {
	id := t.SlotID()
	switch t.Type() {
	case trb.TypeNoOpCommand:
		return trb.CodeSuccess, 0
	case trb.TypeEnableSlot:
		return c.enableSlot()
	case trb.TypeDisableSlot:
		return c.disableSlot(id), id
	case trb.TypeAddressDevice:
		return c.addressDevice(id, t.Parameter()&^0xF, t.Has(trb.ControlBSR)), id
	case trb.TypeConfigureEndpoint:
		return c.configureEndpoint(id, t.Parameter()&^0xF, t.Has(trb.ControlDeconfigure)), id
	case trb.TypeEvaluateContext:
		return c.evaluateContext(id, t.Parameter()&^0xF), id
	case trb.TypeResetEndpoint:
		return c.resetEndpoint(id, t.EndpointID()), id
	case trb.TypeStopEndpoint:
		return c.stopEndpoint(id, t.EndpointID()), id
	case trb.TypeSetTRDequeue:
		p := t.Parameter()
		return c.setTRDequeue(id, t.EndpointID(), p&^0xF, p&1 != 0), id
	case trb.TypeResetDevice:
		return c.resetDevice(id), id
	default:
		return trb.CodeTRB, id
	}
}

// =============================================================================
// Context Access
// =============================================================================

// slotLimit returns the number of slots software enabled in CONFIG.
func (c *Controller) slotLimit() int {
	n := int(c.config & 0xFF)
	if n > int(c.cfg.MaxSlots) {
		n = int(c.cfg.MaxSlots)
	}
	return n
}

func (c *Controller) slot(id uint8) *slot {
	if id == 0 || int(id) >= len(c.slots) {
		return nil
	}
	return c.slots[id]
}

// output returns a view of the output device context DCBAA entry id
// points at.
func (c *Controller) output(id uint8) (devctx.DeviceContext, error) {
	phys, err := c.read64(c.dcbaap + 8*uint64(id))
	if err != nil {
		return devctx.DeviceContext{}, err
	}
	b, off, ok := c.mem.Lookup(phys)
	if !ok || off != 0 || b.Len() < devctx.DeviceContextBytes(c.cfg.ContextSize) {
		return devctx.DeviceContext{}, errBadAddress(phys)
	}
	return devctx.DeviceContextAt(b, c.cfg.ContextSize), nil
}

// input returns a view of the input context at phys.
func (c *Controller) input(phys uint64) (devctx.InputContext, error) {
	b, off, ok := c.mem.Lookup(phys)
	if !ok || off != 0 || b.Len() < devctx.InputContextBytes(c.cfg.ContextSize) {
		return devctx.InputContext{}, errBadAddress(phys)
	}
	return devctx.InputContextAt(b, c.cfg.ContextSize), nil
}

// =============================================================================
// Slot Commands
// =============================================================================

func (c *Controller) enableSlot() (trb.CompletionCode, uint8) {
	for i := 1; i <= c.slotLimit(); i++ {
		if c.slots[i] == nil {
			c.slots[i] = &slot{id: uint8(i)}
			return trb.CodeSuccess, uint8(i)
		}
	}
	return trb.CodeNoSlotsAvailable, 0
}

func (c *Controller) disableSlot(id uint8) trb.CompletionCode {
	s := c.slot(id)
	if s == nil {
		return trb.CodeSlotNotEnabled
	}
	if out, err := c.output(id); err == nil {
		out.Slot().SetState(devctx.SlotStateDisabled)
		for dci := 1; dci <= devctx.MaxDCI; dci++ {
			out.Endpoint(dci).SetState(devctx.EndpointStateDisabled)
		}
	}
	c.slots[id] = nil
	return trb.CodeSuccess
}

func (c *Controller) addressDevice(id uint8, inPhys uint64, bsr bool) trb.CompletionCode {
	s := c.slot(id)
	if s == nil {
		return trb.CodeSlotNotEnabled
	}
	in, err := c.input(inPhys)
	if err != nil {
		return trb.CodeParameter
	}
	out, err := c.output(id)
	if err != nil {
		return trb.CodeParameter
	}
	if in.Control().AddFlags() != 0x3 || in.Control().DropFlags() != 0 {
		return trb.CodeParameter
	}
	state := out.Slot().State()
	if state > devctx.SlotStateDefault || (state == devctx.SlotStateDefault && bsr) {
		return trb.CodeContextState
	}

	p := c.port(in.Slot().RootHubPort())
	if p == nil || p.dev == nil || !p.enabled {
		return trb.CodeUSBTransaction
	}

	out.Slot().CopyFrom(in.Slot())
	out.Endpoint(1).CopyFrom(in.Endpoint(1))
	out.Endpoint(1).SetState(devctx.EndpointStateRunning)
	ep0 := in.Endpoint(1)
	s.port = p
	s.eps[1] = &endpoint{dci: 1, deq: ep0.Dequeue(), cycle: ep0.DequeueCycle()}

	if bsr {
		out.Slot().SetDeviceAddress(0)
		out.Slot().SetState(devctx.SlotStateDefault)
		return trb.CodeSuccess
	}
	if _, err := p.dev.Control(usb.SetAddressSetup(id), nil); err != nil {
		pkg.LogDebug(pkg.ComponentSim, "SET_ADDRESS failed", "slot", id, "error", err)
		return trb.CodeUSBTransaction
	}
	out.Slot().SetDeviceAddress(id)
	out.Slot().SetState(devctx.SlotStateAddressed)
	return trb.CodeSuccess
}

func (c *Controller) configureEndpoint(id uint8, inPhys uint64, deconfigure bool) trb.CompletionCode {
	s := c.slot(id)
	if s == nil {
		return trb.CodeSlotNotEnabled
	}
	out, err := c.output(id)
	if err != nil {
		return trb.CodeParameter
	}
	state := out.Slot().State()
	if state != devctx.SlotStateAddressed && state != devctx.SlotStateConfigured {
		return trb.CodeContextState
	}

	if deconfigure {
		c.disableEndpoints(s, out)
		out.Slot().SetState(devctx.SlotStateAddressed)
		return trb.CodeSuccess
	}

	in, err := c.input(inPhys)
	if err != nil {
		return trb.CodeParameter
	}
	drop, add := in.Control().DropFlags(), in.Control().AddFlags()
	for dci := 2; dci <= devctx.MaxDCI; dci++ {
		if add&(1<<uint(dci)) != 0 && in.Endpoint(dci).Type() == devctx.EndpointTypeNotValid {
			return trb.CodeParameter
		}
	}
	for dci := 2; dci <= devctx.MaxDCI; dci++ {
		bit := uint32(1) << uint(dci)
		if drop&bit != 0 {
			out.Endpoint(dci).Clear()
			s.eps[dci] = nil
		}
		if add&bit != 0 {
			ep := in.Endpoint(dci)
			out.Endpoint(dci).CopyFrom(ep)
			out.Endpoint(dci).SetState(devctx.EndpointStateRunning)
			s.eps[dci] = &endpoint{dci: uint8(dci), deq: ep.Dequeue(), cycle: ep.DequeueCycle()}
		}
	}
	if add&1 != 0 {
		out.Slot().SetContextEntries(in.Slot().ContextEntries())
	}

	out.Slot().SetState(devctx.SlotStateAddressed)
	for dci := 2; dci <= devctx.MaxDCI; dci++ {
		if s.eps[dci] != nil {
			out.Slot().SetState(devctx.SlotStateConfigured)
			break
		}
	}
	return trb.CodeSuccess
}

func (c *Controller) disableEndpoints(s *slot, out devctx.DeviceContext) {
	for dci := 2; dci <= devctx.MaxDCI; dci++ {
		out.Endpoint(dci).Clear()
		s.eps[dci] = nil
	}
	out.Slot().SetContextEntries(1)
}

func (c *Controller) evaluateContext(id uint8, inPhys uint64) trb.CompletionCode {
	s := c.slot(id)
	if s == nil {
		return trb.CodeSlotNotEnabled
	}
	out, err := c.output(id)
	if err != nil {
		return trb.CodeParameter
	}
	if out.Slot().State() == devctx.SlotStateDisabled {
		return trb.CodeContextState
	}
	in, err := c.input(inPhys)
	if err != nil {
		return trb.CodeParameter
	}
	add := in.Control().AddFlags()
	if add&^0x3 != 0 {
		return trb.CodeParameter
	}
	if add&1 != 0 {
		out.Slot().SetInterrupterTarget(in.Slot().InterrupterTarget())
	}
	if add&2 != 0 {
		out.Endpoint(1).SetMaxPacketSize(in.Endpoint(1).MaxPacketSize())
	}
	return trb.CodeSuccess
}

func (c *Controller) resetDevice(id uint8) trb.CompletionCode {
	s := c.slot(id)
	if s == nil {
		return trb.CodeSlotNotEnabled
	}
	out, err := c.output(id)
	if err != nil {
		return trb.CodeParameter
	}
	state := out.Slot().State()
	if state != devctx.SlotStateAddressed && state != devctx.SlotStateConfigured {
		return trb.CodeContextState
	}
	c.disableEndpoints(s, out)
	out.Slot().SetDeviceAddress(0)
	out.Slot().SetState(devctx.SlotStateDefault)
	if s.port != nil && s.port.dev != nil {
		s.port.dev.Reset()
	}
	return trb.CodeSuccess
}

// =============================================================================
// Endpoint Commands
// =============================================================================

var errNoEndpoint = errors.New("endpoint not enabled")

func (c *Controller) endpoint(id, dci uint8) (*endpoint, devctx.EndpointContext, trb.CompletionCode, error) {
	s := c.slot(id)
	if s == nil {
		return nil, devctx.EndpointContext{}, trb.CodeSlotNotEnabled, errNoEndpoint
	}
	if dci == 0 || dci > devctx.MaxDCI || s.eps[dci] == nil {
		return nil, devctx.EndpointContext{}, trb.CodeEndpointNotEnabled, errNoEndpoint
	}
	out, err := c.output(id)
	if err != nil {
		return nil, devctx.EndpointContext{}, trb.CodeParameter, err
	}
	return s.eps[dci], out.Endpoint(int(dci)), trb.CodeSuccess, nil
}

func (c *Controller) resetEndpoint(id, dci uint8) trb.CompletionCode {
	_, ctx, code, err := c.endpoint(id, dci)
	if err != nil {
		return code
	}
	if ctx.State() != devctx.EndpointStateHalted {
		return trb.CodeContextState
	}
	ctx.SetState(devctx.EndpointStateStopped)
	return trb.CodeSuccess
}

func (c *Controller) stopEndpoint(id, dci uint8) trb.CompletionCode {
	ep, ctx, code, err := c.endpoint(id, dci)
	if err != nil {
		return code
	}
	if ctx.State() != devctx.EndpointStateRunning {
		return trb.CodeContextState
	}
	ctx.SetDequeue(ep.deq, ep.cycle)
	ctx.SetState(devctx.EndpointStateStopped)
	return trb.CodeSuccess
}

func (c *Controller) setTRDequeue(id, dci uint8, ptr uint64, cycle bool) trb.CompletionCode {
	ep, ctx, code, err := c.endpoint(id, dci)
	if err != nil {
		return code
	}
	if s := ctx.State(); s != devctx.EndpointStateStopped && s != devctx.EndpointStateError {
		return trb.CodeContextState
	}
	if _, _, ok := c.mem.Lookup(ptr); !ok {
		return trb.CodeParameter
	}
	ep.deq, ep.cycle = ptr, cycle
	ctx.SetDequeue(ptr, cycle)
	ctx.SetState(devctx.EndpointStateStopped)
	pkg.LogDebug(pkg.ComponentSim, "dequeue moved",
		"slot", id, "dci", dci, "pointer", fmt.Sprintf("%#x", ptr), "cycle", cycle)
	return trb.CodeSuccess
}
