package devctx

import (
	"fmt"

	"github.com/ardnew/softxhci/host/hal"
	"github.com/ardnew/softxhci/pkg"
)

// Scratchpad is the Scratchpad Buffer Array: controller-private pages and
// the array of their addresses.
type Scratchpad struct {
	plat  hal.Platform
	array *hal.Buffer
	pages []*hal.Buffer
}

// NewScratchpad allocates n page-aligned pages and the entry array
// describing them.
func NewScratchpad(p hal.Platform, n int) (*Scratchpad, error) {
	if n <= 0 {
		return nil, fmt.Errorf("%w: %d scratchpad buffers", pkg.ErrInvalidParameter, n)
	}
	page := p.PageSize()

	array, err := p.Alloc(8*n, contextAlign)
	if err != nil {
		return nil, fmt.Errorf("devctx: alloc scratchpad array: %w", err)
	}
	s := &Scratchpad{plat: p, array: array, pages: make([]*hal.Buffer, 0, n)}
	for i := 0; i < n; i++ {
		b, err := p.Alloc(page, page)
		if err != nil {
			s.Free()
			return nil, fmt.Errorf("devctx: alloc scratchpad page %d: %w", i, err)
		}
		s.pages = append(s.pages, b)
		array.Store64(8*i, b.Phys())
	}
	p.Sync(array, hal.SyncForDevice)

	pkg.LogDebug(pkg.ComponentContext, "scratchpad allocated",
		"array", fmt.Sprintf("%#x", array.Phys()), "pages", n)
	return s, nil
}

// Phys returns the physical address of the entry array.
func (s *Scratchpad) Phys() uint64 { return s.array.Phys() }

// Len returns the number of pages.
func (s *Scratchpad) Len() int { return len(s.pages) }

// Entry returns the address stored in array entry i.
func (s *Scratchpad) Entry(i int) uint64 { return s.array.Load64(8 * i) }

// Register stores the entry array address in DCBAA[0].
func (s *Scratchpad) Register(l *List) {
	l.SetEntry(0, s.Phys())
}

// Free releases the pages and the entry array.
func (s *Scratchpad) Free() {
	for _, b := range s.pages {
		s.plat.Free(b)
	}
	s.pages = nil
	s.plat.Free(s.array)
	s.array = nil
}
