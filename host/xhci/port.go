package xhci

import (
	"context"
	"errors"
	"fmt"

	"github.com/ardnew/softxhci/host/xhci/regs"
	"github.com/ardnew/softxhci/pkg"
	"github.com/ardnew/softxhci/usb"
)

// Route string layout: five 4-bit tiers, tier 0 in the low nibble.
const (
	routeTiers    = 5
	routeTierBits = 4
	maxRoutePort  = 1<<routeTierBits - 1
)

// ErrRouteFull is returned when a route string has no free tier.
var ErrRouteFull = errors.New("xhci: route string has no free tier")

// appendPortToRouteString stores port in the first empty tier of route.
func appendPortToRouteString(route uint32, port uint8) (uint32, error) {
	if port == 0 || port > maxRoutePort {
		return route, fmt.Errorf("%w: hub port %d", pkg.ErrInvalidParameter, port)
	}
	for tier := 0; tier < routeTiers; tier++ {
		shift := uint(tier * routeTierBits)
		if route>>shift&maxRoutePort == 0 {
			return route | uint32(port)<<shift, nil
		}
	}
	return route, fmt.Errorf("%w: %#05x", ErrRouteFull, route)
}

// maxPacketSizeForSpeed returns the initial max packet size of the
// default control endpoint for a PORTSC speed code.
func maxPacketSizeForSpeed(psi uint8) (uint16, error) {
	switch usb.Speed(psi) {
	case usb.SpeedFull, usb.SpeedHigh:
		return 64, nil
	case usb.SpeedLow:
		return 8, nil
	case usb.SpeedSuper:
		return 512, nil
	default:
		return 0, fatalf("no default max packet size for port speed %d", psi)
	}
}

func (c *Controller) portSnapshot(n uint8) regs.PortStatus {
	if n == 0 || n > c.maxPorts {
		return 0
	}
	return c.regs.Port(n).Snapshot()
}

// Ports returns the PORTSC value of every root port, indexed by port
// number minus one.
func (c *Controller) Ports() []regs.PortStatus {
	ports := make([]regs.PortStatus, c.maxPorts)
	for i := range ports {
		ports[i] = c.regs.Port(uint8(i + 1)).Snapshot()
	}
	return ports
}

// attachedPort reports whether a slot already serves root port n.
func (c *Controller) attachedPort(n uint8) (uint8, bool) {
	for slot, a := range c.devices {
		if a.Hub == 0 && a.Port == n {
			return slot, true
		}
	}
	return 0, false
}

// Probe attaches a slot to every enabled root port that has none yet and
// returns the new slot ids. On failure it returns the slots attached so
// far with the error.
func (c *Controller) Probe(ctx context.Context) ([]uint8, error) {
	if err := c.checkRunning(); err != nil {
		return nil, err
	}
	c.drainEvents()

	var slots []uint8
	for n := uint8(1); n <= c.maxPorts; n++ {
		p := c.regs.Port(n)
		st := p.Snapshot()
		pkg.LogInfo(pkg.ComponentPort, "port state", "port", n, "portsc", st)

		if !st.Enabled() {
			continue
		}
		if slot, ok := c.attachedPort(n); ok {
			pkg.LogDebug(pkg.ComponentPort, "port already attached", "port", n, "slot", slot)
			continue
		}
		if p.Changes() != 0 {
			p.ClearChanges(regs.PortChangeBits)
		}

		slot, err := c.attach(ctx, n, st.Speed())
		if err != nil {
			pkg.LogError(pkg.ComponentPort, "device attach failed", "port", n, "error", err)
			return slots, fmt.Errorf("xhci: port %d: %w", n, err)
		}
		a := c.devices[slot]
		pkg.LogInfo(pkg.ComponentPort, "device attached",
			"port", n, "slot", slot, "speed", a.Speed, "mps0", a.MaxPacketSize0)
		slots = append(slots, slot)
	}
	return slots, nil
}

// ResetPort pulses reset on root port n.
func (c *Controller) ResetPort(ctx context.Context, n uint8) error {
	if err := c.checkRunning(); err != nil {
		return err
	}
	if n == 0 || n > c.maxPorts {
		return fmt.Errorf("%w: port %d", pkg.ErrInvalidParameter, n)
	}
	return c.resetPort(ctx, c.regs.Port(n))
}
