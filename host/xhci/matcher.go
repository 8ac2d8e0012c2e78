package xhci

import (
	"context"
	"fmt"

	"github.com/ardnew/softxhci/host/xhci/regs"
	"github.com/ardnew/softxhci/host/xhci/trb"
	"github.com/ardnew/softxhci/pkg"
)

// next dequeues one event and hands the consumed position back to the
// controller. ERDP must follow every dequeue or the controller sees a full
// event ring and stops posting.
func (c *Controller) next() (trb.Event, bool) {
	ev, wrapped, ok := c.events.Next()
	if !ok {
		return nil, false
	}
	c.ir.SetDequeue(c.events.ERDP(), true)
	c.ir.ClearPending()
	c.regs.Op.ClearStatus(regs.StsEventInterrupt)
	if wrapped {
		pkg.LogDebug(pkg.ComponentEvent, "event ring wrapped",
			"erdp", fmt.Sprintf("%#x", c.events.ERDP()))
	}
	return ev, true
}

// skip logs an event that does not answer the outstanding request.
func (c *Controller) skip(ev trb.Event) {
	switch e := ev.(type) {
	case trb.PortStatusChangeEvent:
		pkg.LogInfo(pkg.ComponentEvent, "port status change",
			"port", e.Port, "portsc", c.portSnapshot(e.Port))
	case trb.HostControllerEvent:
		pkg.LogWarn(pkg.ComponentEvent, "host controller event", "code", e.Code)
	case trb.CommandCompletionEvent:
		pkg.LogDebug(pkg.ComponentEvent, "unmatched command completion",
			"pointer", fmt.Sprintf("%#x", e.Pointer), "code", e.Code, "slot", e.Slot)
	case trb.TransferEvent:
		pkg.LogDebug(pkg.ComponentEvent, "unmatched transfer event",
			"pointer", fmt.Sprintf("%#x", e.Pointer), "code", e.Code,
			"slot", e.Slot, "dci", e.Endpoint)
	default:
		pkg.LogDebug(pkg.ComponentEvent, "event skipped", "type", ev.TRB().Type())
	}
}

// waitEvent drains the event ring until match accepts an event. Events
// match rejects are logged and dropped.
func (c *Controller) waitEvent(ctx context.Context, what string, match func(trb.Event) bool) (trb.Event, error) {
	var found trb.Event
	cond := func() bool {
		for {
			ev, ok := c.next()
			if !ok {
				return false
			}
			if match(ev) {
				found = ev
				return true
			}
			c.skip(ev)
		}
	}
	if err := c.cfg.Wait.Wait(ctx, what, cond); err != nil {
		return nil, err
	}
	return found, nil
}

// drainEvents consumes every event currently posted.
func (c *Controller) drainEvents() int {
	n := 0
	for {
		ev, ok := c.next()
		if !ok {
			return n
		}
		c.skip(ev)
		n++
	}
}

// waitCommand waits for the completion of the command TRB at ptr.
// Completions carrying a code the engine cannot decode are ignored.
func (c *Controller) waitCommand(ctx context.Context, ptr uint64) (trb.CommandCompletionEvent, error) {
	var cc trb.CommandCompletionEvent
	_, err := c.waitEvent(ctx, fmt.Sprintf("command %#x", ptr), func(ev trb.Event) bool {
		e, ok := ev.(trb.CommandCompletionEvent)
		if !ok || e.Pointer != ptr {
			return false
		}
		if !e.Code.Known() {
			pkg.LogWarn(pkg.ComponentCommand, "command completion with unknown code",
				"pointer", fmt.Sprintf("%#x", ptr), "code", uint8(e.Code))
			return false
		}
		cc = e
		return true
	})
	return cc, err
}

// td is one transfer descriptor as enqueued: the address and data length
// of every TRB, in ring order.
type td struct {
	slot    uint8
	dci     uint8
	addrs   []uint64
	lengths []int

	// control marks a Setup/Data/Status TD, where a short Data stage is
	// followed by the Status stage completion.
	control bool
}

func (d *td) add(addr uint64, length int) {
	d.addrs = append(d.addrs, addr)
	d.lengths = append(d.lengths, length)
}

func (d *td) index(ptr uint64) int {
	for i, a := range d.addrs {
		if a == ptr {
			return i
		}
	}
	return -1
}

func (d *td) last() int { return len(d.addrs) - 1 }

// moved returns the bytes transferred when the event for TRB i reports
// residual bytes untransferred.
func (d *td) moved(i int, residual uint32) int {
	n := 0
	for _, l := range d.lengths[:i] {
		n += l
	}
	l := d.lengths[i] - int(residual)
	if l < 0 {
		l = 0
	}
	return n + l
}

func (d *td) total() int {
	n := 0
	for _, l := range d.lengths {
		n += l
	}
	return n
}

// tdResult is the outcome of one transfer descriptor.
type tdResult struct {
	Code   trb.CompletionCode
	Length int
	Event  trb.TransferEvent
}

// waitTD waits for the transfer events that complete d.
func (c *Controller) waitTD(ctx context.Context, d *td) (tdResult, error) {
	var res tdResult
	short := -1
	what := fmt.Sprintf("transfer slot %d dci %d", d.slot, d.dci)
	_, err := c.waitEvent(ctx, what, func(ev trb.Event) bool {
		e, ok := ev.(trb.TransferEvent)
		if !ok || e.Slot != d.slot || e.Endpoint != d.dci {
			return false
		}
		i := d.index(e.Pointer)
		if i < 0 {
			return false
		}
		res.Event = e
		res.Code = e.Code

		switch e.Code {
		case trb.CodeSuccess:
			if i != d.last() {
				pkg.LogDebug(pkg.ComponentTransfer, "intermediate completion",
					"slot", d.slot, "dci", d.dci, "trb", i)
				return false
			}
			res.Length = d.total()
			if short >= 0 {
				res.Length = short
				res.Code = trb.CodeShortPacket
			}
			return true

		case trb.CodeShortPacket:
			n := d.moved(i, e.Residual)
			if d.control && i != d.last() {
				short = n
				return false
			}
			res.Length = n
			return true

		default:
			res.Length = d.moved(i, e.Residual)
			return true
		}
	})
	return res, err
}
