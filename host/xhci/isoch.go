package xhci

import (
	"context"
	"fmt"

	"github.com/ardnew/softxhci/host/xhci/trb"
	"github.com/ardnew/softxhci/pkg"
	"github.com/ardnew/softxhci/usb"
)

// maxIsochTRBs bounds the TRBs of one isoch request to what a 32-entry
// transfer ring holds besides its Link TRB.
const maxIsochTRBs = 32

// splitIsoch lays out times packets of size bytes for an endpoint whose
// max packet size is mps. A request with packets larger than mps is
// re-cut into mps-sized packets plus one remainder packet of rem bytes.
func splitIsoch(size, times, mps int) (packet, n, rem int, err error) {
	packet, n = size, times
	if mps > 0 && mps < size {
		total := size * times
		packet, n, rem = mps, total/mps, total%mps
	}
	if n >= maxIsochTRBs || (rem > 0 && n >= maxIsochTRBs-1) {
		return packet, n, rem, fatalf("isoch request of %dx%d bytes needs %d+%d TRBs at %d bytes",
			times, size, n, min(rem, 1), packet)
	}
	return packet, n, rem, nil
}

// isochTransfer schedules an isochronous request as one Isoch TRB per
// packet, interrupting only on the last.
func (c *Controller) isochTransfer(ctx context.Context, a *Attachment, x usb.IsochTransfer) (usb.UCB, error) {
	dci := usb.EndpointDCI(x.Endpoint)
	info, ok := a.Endpoints[dci]
	if !ok || dci < 2 || info.Address != x.Endpoint || info.Type&0x3 != usb.EndpointTypeIsochronous {
		return usb.UCB{}, fmt.Errorf("%w: isoch endpoint %#02x", pkg.ErrInvalidEndpoint, x.Endpoint)
	}
	if x.PacketSize <= 0 || x.RequestTimes <= 0 {
		return usb.UCB{}, fmt.Errorf("%w: isoch %dx%d", pkg.ErrInvalidParameter, x.RequestTimes, x.PacketSize)
	}
	total := x.PacketSize * x.RequestTimes
	if len(x.Data) < total {
		return usb.UCB{}, fmt.Errorf("%w: isoch needs %d bytes, have %d",
			pkg.ErrBufferTooSmall, total, len(x.Data))
	}

	packet, n, rem, err := splitIsoch(x.PacketSize, x.RequestTimes, int(info.MaxPacketSize))
	if err != nil {
		pkg.LogError(pkg.ComponentTransfer, "isoch request too large",
			"slot", a.Slot, "dci", dci, "packet", x.PacketSize, "times", x.RequestTimes,
			"mps", info.MaxPacketSize)
		return usb.UCB{}, err
	}
	if packet != x.PacketSize {
		pkg.LogDebug(pkg.ComponentTransfer, "isoch request re-cut",
			"slot", a.Slot, "dci", dci, "packet", packet, "times", n, "remainder", rem)
	}

	r := c.list.Ring(a.Slot, dci)
	if c.halted(a.Slot, dci) {
		return haltedUCB(), nil
	}
	in := x.Endpoint&usb.EndpointDirectionIn != 0
	b, err := c.newBounce(x.Data[:total], in)
	if err != nil {
		return usb.UCB{}, err
	}

	lengths := make([]int, 0, n+1)
	for i := 0; i < n; i++ {
		lengths = append(lengths, packet)
	}
	if rem > 0 {
		lengths = append(lengths, rem)
	}

	d := &td{slot: a.Slot, dci: dci}
	off := 0
	for i, l := range lengths {
		flags := uint32(trb.ControlSIA)
		if i == len(lengths)-1 {
			flags |= trb.ControlIOC
		}
		d.add(r.Enqueue(trb.Isoch(b.phys()+uint64(off), uint32(l), 0, flags)), l)
		off += l
	}
	c.regs.Doorbell.Ring(a.Slot, dci, 0)

	res, err := c.waitTD(ctx, d)
	if err != nil {
		b.finish(0)
		return usb.UCB{}, err
	}
	b.finish(res.Length)

	code, err := resolve(res.Code)
	return usb.UCB{Code: code, Length: res.Length}, err
}
