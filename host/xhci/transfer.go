package xhci

import (
	"context"
	"fmt"

	"github.com/ardnew/softxhci/host/hal"
	"github.com/ardnew/softxhci/host/xhci/devctx"
	"github.com/ardnew/softxhci/host/xhci/ring"
	"github.com/ardnew/softxhci/host/xhci/trb"
	"github.com/ardnew/softxhci/pkg"
	"github.com/ardnew/softxhci/usb"
)

// Transfer limits.
const (
	// maxNormalLength is the largest buffer one Normal TRB moves; 64 KiB
	// keeps every TRB inside one 64 KiB boundary of an aligned buffer.
	maxNormalLength = 64 * 1024

	// bounceAlign is the alignment of transfer bounce buffers.
	bounceAlign = 64

	// maxTDSize is the largest TD Size field value.
	maxTDSize = 31

	// primeCount is the number of no-op Normal TRBs PrepareForTransfer
	// enqueues.
	primeCount = 31
)

// endpointRing returns the transfer ring of an addressed slot's endpoint.
func (c *Controller) endpointRing(slot, dci uint8) (*ring.Ring, error) {
	if _, err := c.attachment(slot); err != nil {
		return nil, err
	}
	r := c.list.Ring(slot, dci)
	if r == nil {
		return nil, fmt.Errorf("%w: slot %d dci %d", pkg.ErrInvalidEndpoint, slot, dci)
	}
	return r, nil
}

// halted reports whether the controller has halted (slot, dci).
func (c *Controller) halted(slot, dci uint8) bool {
	return c.list.Output(slot).Endpoint(int(dci)).State() == devctx.EndpointStateHalted
}

func haltedUCB() usb.UCB { return usb.UCB{Code: usb.EventCode(usb.EventHalt)} }

// resolve maps a completion code to the UCB vocabulary. Codes other than
// Success, Short Packet and Stall Error are fatal.
func resolve(code trb.CompletionCode) (usb.CompleteCode, error) {
	switch code {
	case trb.CodeSuccess, trb.CodeShortPacket:
		return usb.EventCode(usb.EventSuccess), nil
	case trb.CodeStall:
		return usb.EventCode(usb.EventStall), nil
	default:
		return usb.UnknownCode(uint8(code)), fatalf("transfer completed with %s", code)
	}
}

// bounce is a DMA copy of a caller's transfer buffer.
type bounce struct {
	plat hal.Platform
	buf  *hal.Buffer
	data []byte
	in   bool
}

// newBounce allocates a DMA buffer for data. OUT data is copied in and
// published to the controller.
func (c *Controller) newBounce(data []byte, in bool) (*bounce, error) {
	b := &bounce{plat: c.plat, data: data, in: in}
	if len(data) == 0 {
		return b, nil
	}
	buf, err := c.plat.Alloc(len(data), bounceAlign)
	if err != nil {
		return nil, fmt.Errorf("xhci: transfer buffer of %d bytes: %w", len(data), err)
	}
	b.buf = buf
	if !in {
		copy(buf.Bytes(), data)
	}
	c.plat.Sync(buf, hal.SyncForDevice)
	return b, nil
}

func (b *bounce) phys() uint64 {
	if b.buf == nil {
		return 0
	}
	return b.buf.Phys()
}

// finish copies n received bytes back for IN transfers and frees the
// buffer.
func (b *bounce) finish(n int) {
	if b.buf == nil {
		return
	}
	if b.in && n > 0 {
		b.plat.Sync(b.buf, hal.SyncForCPU)
		copy(b.data[:n], b.buf.Bytes())
	}
	b.plat.Free(b.buf)
	b.buf = nil
}

// controlTransfer runs one request on the default control pipe of slot.
// A Stall is returned in the UCB after the endpoint has been recovered.
func (c *Controller) controlTransfer(ctx context.Context, slot uint8, setup usb.SetupPacket, data []byte) (usb.UCB, error) {
	r, err := c.endpointRing(slot, 1)
	if err != nil {
		return usb.UCB{}, err
	}
	if c.halted(slot, 1) {
		pkg.LogWarn(pkg.ComponentTransfer, "control endpoint halted", "slot", slot)
		return haltedUCB(), nil
	}

	length := int(setup.Length)
	if len(data) < length {
		return usb.UCB{}, fmt.Errorf("%w: data stage needs %d bytes, have %d",
			pkg.ErrBufferTooSmall, length, len(data))
	}
	in := setup.IsIn()
	b, err := c.newBounce(data[:length], in)
	if err != nil {
		return usb.UCB{}, err
	}

	trt := trb.TransferNoData
	switch {
	case length > 0 && in:
		trt = trb.TransferIn
	case length > 0:
		trt = trb.TransferOut
	}

	d := &td{slot: slot, dci: 1, control: true}
	d.add(r.Enqueue(trb.Setup(setup.Uint64(), trt)), 0)
	if length > 0 {
		var flags uint32
		if in {
			flags |= trb.ControlISP
		}
		d.add(r.Enqueue(trb.Data(b.phys(), uint32(length), in, flags)), length)
	}
	d.add(r.Enqueue(trb.Status(length == 0 || !in, trb.ControlIOC)), 0)
	c.regs.Doorbell.Ring(slot, 1, 0)

	pkg.LogDebug(pkg.ComponentTransfer, "control transfer",
		"slot", slot, "request_type", fmt.Sprintf("%#02x", setup.RequestType),
		"request", setup.Request, "value", fmt.Sprintf("%#04x", setup.Value),
		"index", setup.Index, "length", length)

	res, err := c.waitTD(ctx, d)
	if err != nil {
		b.finish(0)
		return usb.UCB{}, err
	}
	b.finish(res.Length)

	code, err := resolve(res.Code)
	ucb := usb.UCB{Code: code, Length: res.Length}
	if err != nil {
		pkg.LogError(pkg.ComponentTransfer, "control transfer failed",
			"slot", slot, "code", res.Code)
		return ucb, err
	}
	if code.Event == usb.EventStall {
		pkg.LogDebug(pkg.ComponentTransfer, "control transfer stalled",
			"slot", slot, "request", setup.Request)
		if err := c.recoverEndpoint(ctx, slot, 1); err != nil {
			return ucb, err
		}
	}
	return ucb, nil
}

// tdSize returns the TD Size field for a TRB followed by remaining bytes
// of the same TD.
func tdSize(remaining, mps int) uint8 {
	if mps <= 0 || remaining <= 0 {
		return 0
	}
	packets := (remaining + mps - 1) / mps
	if packets > maxTDSize {
		return maxTDSize
	}
	return uint8(packets)
}

// normalTransfer moves data on a bulk or interrupt endpoint as one TD of
// chained Normal TRBs.
func (c *Controller) normalTransfer(ctx context.Context, a *Attachment, address uint8, data []byte, want uint8) (usb.UCB, error) {
	dci := usb.EndpointDCI(address)
	info, ok := a.Endpoints[dci]
	if !ok || dci < 2 || info.Address != address {
		return usb.UCB{}, fmt.Errorf("%w: endpoint %#02x", pkg.ErrInvalidEndpoint, address)
	}
	if info.Type&0x3 != want {
		return usb.UCB{}, fmt.Errorf("%w: endpoint %#02x has type %d",
			pkg.ErrInvalidEndpoint, address, info.Type)
	}
	r := c.list.Ring(a.Slot, dci)
	if c.halted(a.Slot, dci) {
		pkg.LogWarn(pkg.ComponentTransfer, "endpoint halted", "slot", a.Slot, "dci", dci)
		return haltedUCB(), nil
	}

	chunks := (len(data) + maxNormalLength - 1) / maxNormalLength
	if chunks == 0 {
		chunks = 1
	}
	if chunks > r.Capacity() {
		return usb.UCB{}, fatalf("%d byte transfer needs %d TRBs, ring holds %d",
			len(data), chunks, r.Capacity())
	}

	in := address&usb.EndpointDirectionIn != 0
	b, err := c.newBounce(data, in)
	if err != nil {
		return usb.UCB{}, err
	}

	d := &td{slot: a.Slot, dci: dci}
	for i, off := 0, 0; i < chunks; i++ {
		n := len(data) - off
		if n > maxNormalLength {
			n = maxNormalLength
		}
		flags := uint32(trb.ControlISP)
		if i < chunks-1 {
			flags |= trb.ControlChain
		} else {
			flags |= trb.ControlIOC
		}
		size := tdSize(len(data)-off-n, int(info.MaxPacketSize))
		d.add(r.Enqueue(trb.Normal(b.phys()+uint64(off), uint32(n), size, flags)), n)
		off += n
	}
	c.regs.Doorbell.Ring(a.Slot, dci, 0)

	pkg.LogDebug(pkg.ComponentTransfer, "normal transfer",
		"slot", a.Slot, "dci", dci, "length", len(data), "trbs", chunks)

	res, err := c.waitTD(ctx, d)
	if err != nil {
		b.finish(0)
		return usb.UCB{}, err
	}
	b.finish(res.Length)

	code, err := resolve(res.Code)
	ucb := usb.UCB{Code: code, Length: res.Length}
	if err != nil {
		pkg.LogError(pkg.ComponentTransfer, "transfer failed",
			"slot", a.Slot, "dci", dci, "code", res.Code)
	}
	return ucb, err
}

// prepareForTransfer primes the ring of (slot, dci) with zero-length
// Normal TRBs and rings its doorbell.
func (c *Controller) prepareForTransfer(a *Attachment, dci uint8) (usb.UCB, error) {
	if dci <= 1 {
		pkg.LogError(pkg.ComponentTransfer, "prepare on control endpoint",
			"slot", a.Slot, "dci", dci)
		return usb.UCB{}, fmt.Errorf("%w: prepare dci %d", pkg.ErrInvalidParameter, dci)
	}
	if _, ok := a.Endpoints[dci]; !ok {
		return usb.UCB{}, fmt.Errorf("%w: dci %d", pkg.ErrInvalidEndpoint, dci)
	}
	r := c.list.Ring(a.Slot, dci)
	for i := 0; i < primeCount; i++ {
		r.Enqueue(trb.Normal(0, 0, 0, 0))
	}
	c.regs.Doorbell.Ring(a.Slot, dci, 0)
	pkg.LogDebug(pkg.ComponentTransfer, "endpoint primed",
		"slot", a.Slot, "dci", dci, "trbs", primeCount)
	return usb.UCB{Code: usb.EventCode(usb.EventSuccess)}, nil
}
