package sim

import (
	"fmt"

	"github.com/ardnew/softxhci/host/xhci/regs"
	"github.com/ardnew/softxhci/host/xhci/trb"
	"github.com/ardnew/softxhci/pkg"
)

// Port link states reported in PORTSC.PLS.
const (
	linkU0       = 0
	linkRxDetect = 5
	linkPolling  = 7
)

// port is one simulated root port.
type port struct {
	n       uint8
	dev     Device
	powered bool
	enabled bool
	resetIn int // register reads until PR clears, 0 when idle
	changes uint32
}

// portsc composes the PORTSC value.
func (p *port) portsc() uint32 {
	v := p.changes & regs.PortChangeBits
	link := uint32(linkRxDetect)
	if p.powered {
		v |= regs.PortPower
	}
	if p.dev != nil && p.powered {
		v |= regs.PortConnect | uint32(p.dev.Speed())<<10
		link = linkPolling
	}
	if p.enabled {
		v |= regs.PortEnabled
		link = linkU0
	}
	if p.resetIn > 0 {
		v |= regs.PortReset
	}
	return v | link<<5
}

// reset returns the port to its power-on state. An attached device shows
// up as a new connection.
func (p *port) reset() {
	p.powered = true
	p.enabled = false
	p.resetIn = 0
	p.changes = 0
	if p.dev != nil {
		p.changes = regs.PortConnectChange
	}
}

func (c *Controller) port(n uint8) *port {
	if n == 0 || int(n) > len(c.ports) {
		return nil
	}
	return c.ports[n-1]
}

func (c *Controller) writePortSC(p *port, v uint32) {
	p.changes &^= v & regs.PortChangeBits

	if v&regs.PortEnabled != 0 && p.enabled {
		p.enabled = false
		pkg.LogDebug(pkg.ComponentSim, "port disabled", "port", p.n)
	}
	if on := v&regs.PortPower != 0; on != p.powered {
		p.powered = on
		if !on {
			p.enabled = false
			p.resetIn = 0
		}
		pkg.LogDebug(pkg.ComponentSim, "port power", "port", p.n, "on", on)
	}
	if v&regs.PortReset != 0 && p.resetIn == 0 && p.powered {
		p.enabled = false
		p.resetIn = c.cfg.ResetLatency
		c.stats.PortResets++
		pkg.LogDebug(pkg.ComponentSim, "port reset started", "port", p.n)
		if p.resetIn == 0 {
			c.finishPortReset(p)
		}
	}
}

func (c *Controller) finishPortReset(p *port) {
	p.resetIn = 0
	if p.dev != nil {
		p.dev.Reset()
		p.enabled = true
	}
	p.changes |= regs.PortResetChange
	pkg.LogDebug(pkg.ComponentSim, "port reset complete", "port", p.n, "enabled", p.enabled)
	c.portChange(p)
}

// portChange signals a PORTSC change bit transition.
func (c *Controller) portChange(p *port) {
	c.usbsts |= regs.StsPortChangeDetect
	if c.running() {
		c.post(trb.PortStatusChangeTRB(p.n))
	}
}

// Plug connects dev to root port n.
func (c *Controller) Plug(n uint8, dev Device) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	p := c.port(n)
	if p == nil {
		return fmt.Errorf("%w: port %d", pkg.ErrInvalidParameter, n)
	}
	if p.dev != nil {
		return fmt.Errorf("%w: port %d occupied", pkg.ErrInvalidParameter, n)
	}
	p.dev = dev
	p.enabled = false
	p.changes |= regs.PortConnectChange
	pkg.LogInfo(pkg.ComponentSim, "device plugged", "port", n, "speed", dev.Speed())
	c.portChange(p)
	return nil
}

// Unplug disconnects the device on root port n, if any.
func (c *Controller) Unplug(n uint8) {
	c.mu.Lock()
	defer c.mu.Unlock()

	p := c.port(n)
	if p == nil || p.dev == nil {
		return
	}
	p.dev = nil
	p.changes |= regs.PortConnectChange
	if p.enabled {
		p.enabled = false
		p.changes |= regs.PortEnableChange
	}
	pkg.LogInfo(pkg.ComponentSim, "device unplugged", "port", n)
	c.portChange(p)
}
