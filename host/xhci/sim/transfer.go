package sim

import (
	"errors"

	"github.com/ardnew/softxhci/host/xhci/devctx"
	"github.com/ardnew/softxhci/host/xhci/trb"
	"github.com/ardnew/softxhci/pkg"
	"github.com/ardnew/softxhci/usb"
)

// maxTDLength bounds how many TRBs the controller gathers into one TD.
const maxTDLength = 64

// queued is one TRB of a TD with the address it was read from.
type queued struct {
	addr uint64
	t    trb.TRB
}

// tdOutcome is what processing a TD did to the endpoint.
type tdOutcome int

const (
	tdDone    tdOutcome = iota // completed, advance past it
	tdPending                  // device NAKed, retry later
	tdHalted                   // endpoint halted on it
)

// endpointAddress returns the USB endpoint address of a non-control DCI.
func endpointAddress(dci uint8) uint8 {
	a := dci / 2
	if dci&1 != 0 {
		a |= usb.EndpointDirectionIn
	}
	return a
}

// runSlot services the rung endpoint of slot id, then retries every other
// endpoint of the slot that still has work queued.
func (c *Controller) runSlot(id, target uint8) {
	s := c.slot(id)
	if s == nil {
		pkg.LogDebug(pkg.ComponentSim, "doorbell for disabled slot", "slot", id)
		return
	}
	if target == 0 || target > devctx.MaxDCI {
		pkg.LogDebug(pkg.ComponentSim, "doorbell with bad target", "slot", id, "target", target)
		return
	}
	c.service(s, target, true)
	for dci := uint8(1); dci <= devctx.MaxDCI; dci++ {
		if dci != target {
			c.service(s, dci, false)
		}
	}
}

// Kick retries every endpoint with a TD left pending by a NAK.
func (c *Controller) Kick() {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, s := range c.slots {
		if s == nil {
			continue
		}
		for dci := uint8(1); dci <= devctx.MaxDCI; dci++ {
			c.service(s, dci, false)
		}
	}
}

// service processes TDs on one endpoint until its ring is empty, a TD
// is pending or the endpoint halts. rung restarts a stopped endpoint.
func (c *Controller) service(s *slot, dci uint8, rung bool) {
	ep := s.eps[dci]
	if ep == nil {
		return
	}
	out, err := c.output(s.id)
	if err != nil {
		pkg.LogWarn(pkg.ComponentSim, "output context unreadable", "slot", s.id, "error", err)
		return
	}
	ctx := out.Endpoint(int(dci))
	switch ctx.State() {
	case devctx.EndpointStateRunning:
	case devctx.EndpointStateStopped:
		if !rung {
			return
		}
		ctx.SetState(devctx.EndpointStateRunning)
	default:
		return
	}

	for n := 0; n < maxRingWalk; n++ {
		td, next, cycle, ok := c.collect(ep)
		if !ok {
			return
		}
		switch c.runTD(s, ep, ctx, td) {
		case tdPending:
			return
		case tdHalted:
			ctx.SetState(devctx.EndpointStateHalted)
			ctx.SetDequeue(ep.deq, ep.cycle)
			pkg.LogDebug(pkg.ComponentSim, "endpoint halted", "slot", s.id, "dci", dci)
			return
		}
		ep.deq, ep.cycle = next, cycle
		ctx.SetDequeue(next, cycle)
		c.stats.Transfers++
	}
}

// collect gathers the next complete TD at the endpoint's dequeue pointer.
// A control TD runs from its Setup stage to its Status stage; any other
// TD ends at the first TRB without the chain bit.
func (c *Controller) collect(ep *endpoint) ([]queued, uint64, bool, bool) {
	addr, cycle := ep.deq, ep.cycle
	var td []queued
	for len(td) < maxTDLength {
		t, err := c.readTRB(addr)
		if err != nil {
			pkg.LogWarn(pkg.ComponentSim, "transfer ring unreadable", "dci", ep.dci, "error", err)
			return nil, 0, false, false
		}
		if t.Cycle() != cycle {
			return nil, 0, false, false
		}
		if t.Type() == trb.TypeLink {
			addr = t.Parameter() &^ 0xF
			if t.Has(trb.ControlToggleCycle) {
				cycle = !cycle
			}
			continue
		}
		td = append(td, queued{addr: addr, t: t})
		addr += trb.Size

		control := td[0].t.Type() == trb.TypeSetup
		switch {
		case control && t.Type() == trb.TypeStatus:
			return td, addr, cycle, true
		case control:
		case !t.Has(trb.ControlChain):
			return td, addr, cycle, true
		}
	}
	pkg.LogWarn(pkg.ComponentSim, "TD too long", "dci", ep.dci)
	return nil, 0, false, false
}

func (c *Controller) device(s *slot) Device {
	if s.port == nil || !s.port.enabled {
		return nil
	}
	return s.port.dev
}

func (c *Controller) event(s *slot, ep *endpoint, q queued, residual uint32, code trb.CompletionCode) {
	c.post(trb.TransferEventTRB(q.addr, residual, code, s.id, ep.dci))
}

// failure maps a device error to the completion code of the halted TD.
func failure(err error) trb.CompletionCode {
	if errors.Is(err, ErrStall) {
		return trb.CodeStall
	}
	return trb.CodeUSBTransaction
}

func (c *Controller) runTD(s *slot, ep *endpoint, ctx devctx.EndpointContext, td []queued) tdOutcome {
	switch td[0].t.Type() {
	case trb.TypeSetup:
		return c.runControl(s, ep, td)
	case trb.TypeIsoch:
		return c.runIsoch(s, ep, ctx, td)
	default:
		return c.runNormal(s, ep, ctx, td)
	}
}

// =============================================================================
// Control
// =============================================================================

func (c *Controller) runControl(s *slot, ep *endpoint, td []queued) tdOutcome {
	setupTRB, status := td[0], td[len(td)-1]
	var data *queued
	if len(td) > 2 && td[1].t.Type() == trb.TypeData {
		data = &td[1]
	}
	setup := usb.SetupPacketFromUint64(setupTRB.t.Parameter())
	failAt := status
	dlen := 0
	if data != nil {
		failAt = *data
		dlen = int(data.t.NormalLength())
	}

	dev := c.device(s)
	if dev == nil {
		c.event(s, ep, failAt, uint32(dlen), trb.CodeUSBTransaction)
		return tdHalted
	}

	var payload []byte
	if data != nil && !setup.IsIn() {
		var err error
		if payload, err = c.readBytes(data.t.Parameter(), dlen); err != nil {
			c.event(s, ep, failAt, uint32(dlen), trb.CodeDataBuffer)
			return tdHalted
		}
	}
	resp, err := dev.Control(setup, payload)
	if errors.Is(err, ErrNAK) {
		return tdPending
	}
	if err != nil {
		code := failure(err)
		pkg.LogDebug(pkg.ComponentSim, "control request failed",
			"slot", s.id, "request", setup.Request, "error", err)
		c.event(s, ep, failAt, uint32(dlen), code)
		return tdHalted
	}

	if setupTRB.t.Has(trb.ControlIOC) {
		c.event(s, ep, setupTRB, 0, trb.CodeSuccess)
	}
	if data != nil {
		residual := 0
		if setup.IsIn() {
			n := len(resp)
			if n > dlen {
				n = dlen
			}
			if err := c.writeBytes(data.t.Parameter(), resp[:n]); err != nil {
				c.event(s, ep, *data, uint32(dlen), trb.CodeDataBuffer)
				return tdHalted
			}
			residual = dlen - n
		}
		switch {
		case residual > 0 && data.t.Has(trb.ControlISP):
			c.event(s, ep, *data, uint32(residual), trb.CodeShortPacket)
		case data.t.Has(trb.ControlIOC):
			c.event(s, ep, *data, uint32(residual), trb.CodeSuccess)
		}
	}
	if status.t.Has(trb.ControlIOC) {
		c.event(s, ep, status, 0, trb.CodeSuccess)
	}
	return tdDone
}

// =============================================================================
// Bulk and Interrupt
// =============================================================================

func inbound(ctx devctx.EndpointContext) bool { return ctx.Type()&0x4 != 0 }

func tdLength(td []queued) int {
	n := 0
	for _, q := range td {
		if q.t.Type() == trb.TypeNormal || q.t.Type() == trb.TypeIsoch {
			n += int(q.t.NormalLength())
		}
	}
	return n
}

// completeAll posts the completion of every TRB with IOC set.
func (c *Controller) completeAll(s *slot, ep *endpoint, td []queued) {
	for _, q := range td {
		if q.t.Has(trb.ControlIOC) {
			c.event(s, ep, q, 0, trb.CodeSuccess)
		}
	}
}

func (c *Controller) runNormal(s *slot, ep *endpoint, ctx devctx.EndpointContext, td []queued) tdOutcome {
	total := tdLength(td)
	if total == 0 {
		c.completeAll(s, ep, td)
		return tdDone
	}
	dev := c.device(s)
	if dev == nil {
		c.event(s, ep, td[0], uint32(total), trb.CodeUSBTransaction)
		return tdHalted
	}
	address := endpointAddress(ep.dci)

	if !inbound(ctx) {
		payload := make([]byte, 0, total)
		for _, q := range td {
			b, err := c.readBytes(q.t.Parameter(), int(q.t.NormalLength()))
			if err != nil {
				c.event(s, ep, q, q.t.NormalLength(), trb.CodeDataBuffer)
				return tdHalted
			}
			payload = append(payload, b...)
		}
		err := dev.Out(address, payload)
		if errors.Is(err, ErrNAK) {
			return tdPending
		}
		if err != nil {
			code := failure(err)
			c.event(s, ep, td[0], uint32(total), code)
			return tdHalted
		}
		c.completeAll(s, ep, td)
		return tdDone
	}

	resp, err := dev.In(address, total)
	if errors.Is(err, ErrNAK) {
		return tdPending
	}
	if err != nil {
		code := failure(err)
		c.event(s, ep, td[0], uint32(total), code)
		return tdHalted
	}
	for _, q := range td {
		l := int(q.t.NormalLength())
		n := l
		if n > len(resp) {
			n = len(resp)
		}
		if err := c.writeBytes(q.t.Parameter(), resp[:n]); err != nil {
			c.event(s, ep, q, uint32(l), trb.CodeDataBuffer)
			return tdHalted
		}
		resp = resp[n:]
		if n < l {
			c.event(s, ep, q, uint32(l-n), trb.CodeShortPacket)
			return tdDone
		}
		if q.t.Has(trb.ControlIOC) {
			c.event(s, ep, q, 0, trb.CodeSuccess)
		}
	}
	return tdDone
}

// =============================================================================
// Isochronous
// =============================================================================

// runIsoch moves one isochronous TD. Isochronous endpoints never halt and
// never NAK: a device with nothing to send produces a zero-length packet.
func (c *Controller) runIsoch(s *slot, ep *endpoint, ctx devctx.EndpointContext, td []queued) tdOutcome {
	last := td[len(td)-1]
	total := tdLength(td)
	dev := c.device(s)
	if dev == nil {
		c.event(s, ep, last, last.t.NormalLength(), trb.CodeMissedService)
		return tdDone
	}
	address := endpointAddress(ep.dci)

	if !inbound(ctx) {
		payload := make([]byte, 0, total)
		for _, q := range td {
			b, err := c.readBytes(q.t.Parameter(), int(q.t.NormalLength()))
			if err != nil {
				c.event(s, ep, last, last.t.NormalLength(), trb.CodeDataBuffer)
				return tdDone
			}
			payload = append(payload, b...)
		}
		if err := dev.Out(address, payload); err != nil && !errors.Is(err, ErrNAK) {
			c.event(s, ep, last, last.t.NormalLength(), trb.CodeUSBTransaction)
			return tdDone
		}
		c.completeAll(s, ep, td)
		return tdDone
	}

	resp, err := dev.In(address, total)
	if err != nil && !errors.Is(err, ErrNAK) {
		c.event(s, ep, last, last.t.NormalLength(), trb.CodeUSBTransaction)
		return tdDone
	}
	short := false
	residual := 0
	for _, q := range td {
		l := int(q.t.NormalLength())
		n := l
		if n > len(resp) {
			n = len(resp)
		}
		if err := c.writeBytes(q.t.Parameter(), resp[:n]); err != nil {
			c.event(s, ep, last, last.t.NormalLength(), trb.CodeDataBuffer)
			return tdDone
		}
		resp = resp[n:]
		residual = l - n
		if n < l {
			short = true
		}
	}
	if last.t.Has(trb.ControlIOC) {
		code := trb.CodeSuccess
		if short {
			code = trb.CodeShortPacket
		}
		c.event(s, ep, last, uint32(residual), code)
	}
	return tdDone
}
