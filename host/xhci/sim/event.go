package sim

import (
	"fmt"

	"github.com/ardnew/softxhci/host/xhci/regs"
	"github.com/ardnew/softxhci/host/xhci/trb"
	"github.com/ardnew/softxhci/pkg"
)

// eventRing is the producer side of interrupter 0's event ring. Only the
// first segment table entry is used.
type eventRing struct {
	base  uint64
	size  int
	enq   int
	cycle bool
}

func (e eventRing) valid() bool { return e.size > 0 }

// writeERSTBA latches the event ring segment described by the first ERST
// entry and resets the producer position.
func (c *Controller) writeERSTBA(v uint64) {
	c.erstba = v &^ 0x3F
	if c.erstsz == 0 {
		c.events = eventRing{}
		return
	}
	base, err := c.read64(c.erstba)
	if err != nil {
		pkg.LogWarn(pkg.ComponentSim, "bad segment table", "error", err)
		c.events = eventRing{}
		return
	}
	size, err := c.read32(c.erstba + 8)
	if err != nil || size&0xFFFF == 0 {
		pkg.LogWarn(pkg.ComponentSim, "bad segment size", "error", err)
		c.events = eventRing{}
		return
	}
	c.events = eventRing{base: base &^ 0x3F, size: int(size & 0xFFFF), cycle: true}
	pkg.LogDebug(pkg.ComponentSim, "event ring latched",
		"base", fmt.Sprintf("%#x", c.events.base), "size", c.events.size)
}

// full reports whether posting one more event would overwrite the entry
// the driver dequeues next.
func (c *Controller) full() bool {
	deq := c.erdp &^ 0xF
	if deq < c.events.base || deq >= c.events.base+uint64(c.events.size*trb.Size) {
		return false
	}
	next := (c.events.enq + 1) % c.events.size
	return next == int((deq-c.events.base)/trb.Size)
}

// post writes an event to the event ring. Events that do not fit are
// dropped and counted.
func (c *Controller) post(t trb.TRB) {
	if !c.events.valid() {
		c.stats.DroppedEvents++
		pkg.LogWarn(pkg.ComponentSim, "event without event ring", "type", t.Type())
		return
	}
	if c.full() {
		c.stats.DroppedEvents++
		pkg.LogWarn(pkg.ComponentSim, "event ring full", "type", t.Type())
		return
	}
	t.SetCycle(c.events.cycle)
	phys := c.events.base + uint64(c.events.enq*trb.Size)
	if err := c.writeTRB(phys, t); err != nil {
		c.stats.DroppedEvents++
		pkg.LogWarn(pkg.ComponentSim, "event write failed", "error", err)
		return
	}
	c.events.enq++
	if c.events.enq == c.events.size {
		c.events.enq = 0
		c.events.cycle = !c.events.cycle
	}
	c.stats.Events++
	c.erdp |= regs.ERDPEventHandlerB
	c.iman |= regs.IMANPending
	c.usbsts |= regs.StsEventInterrupt
}
