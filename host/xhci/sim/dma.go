package sim

import (
	"fmt"

	"github.com/ardnew/softxhci/host/xhci/trb"
)

// errBadAddress reports controller access to unallocated memory.
type errBadAddress uint64

func (e errBadAddress) Error() string {
	return fmt.Sprintf("sim: no dma memory at %#x", uint64(e))
}

func (c *Controller) read32(phys uint64) (uint32, error) {
	b, off, ok := c.mem.Lookup(phys)
	if !ok || off+4 > b.Len() {
		return 0, errBadAddress(phys)
	}
	return b.Load32(off), nil
}

func (c *Controller) write32(phys uint64, v uint32) error {
	b, off, ok := c.mem.Lookup(phys)
	if !ok || off+4 > b.Len() {
		return errBadAddress(phys)
	}
	b.Store32(off, v)
	return nil
}

func (c *Controller) read64(phys uint64) (uint64, error) {
	lo, err := c.read32(phys)
	if err != nil {
		return 0, err
	}
	hi, err := c.read32(phys + 4)
	if err != nil {
		return 0, err
	}
	return uint64(lo) | uint64(hi)<<32, nil
}

func (c *Controller) write64(phys uint64, v uint64) error {
	if err := c.write32(phys, uint32(v)); err != nil {
		return err
	}
	return c.write32(phys+4, uint32(v>>32))
}

// readTRB loads the TRB at phys, control dword first.
func (c *Controller) readTRB(phys uint64) (trb.TRB, error) {
	var t trb.TRB
	var err error
	if t[3], err = c.read32(phys + 12); err != nil {
		return t, err
	}
	for i := 0; i < 3; i++ {
		if t[i], err = c.read32(phys + uint64(4*i)); err != nil {
			return t, err
		}
	}
	return t, nil
}

// writeTRB stores t at phys, control dword last.
func (c *Controller) writeTRB(phys uint64, t trb.TRB) error {
	for i := 0; i < 3; i++ {
		if err := c.write32(phys+uint64(4*i), t[i]); err != nil {
			return err
		}
	}
	return c.write32(phys+12, t[3])
}

// readBytes copies n bytes from guest memory at phys.
func (c *Controller) readBytes(phys uint64, n int) ([]byte, error) {
	if n == 0 {
		return nil, nil
	}
	b, off, ok := c.mem.Lookup(phys)
	if !ok || off+n > b.Len() {
		return nil, errBadAddress(phys)
	}
	out := make([]byte, n)
	copy(out, b.Bytes()[off:off+n])
	return out, nil
}

// writeBytes copies data into guest memory at phys.
func (c *Controller) writeBytes(phys uint64, data []byte) error {
	if len(data) == 0 {
		return nil
	}
	b, off, ok := c.mem.Lookup(phys)
	if !ok || off+len(data) > b.Len() {
		return errBadAddress(phys)
	}
	copy(b.Bytes()[off:], data)
	return nil
}
