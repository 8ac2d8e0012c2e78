package mem

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/ardnew/softxhci/host/hal"
	"github.com/ardnew/softxhci/pkg"
)

// DefaultBase is the physical address of the first DMA allocation.
const DefaultBase uint64 = 0x4000_0000

// Errors.
var (
	ErrOverlap   = errors.New("mmio window overlaps existing mapping")
	ErrExhausted = errors.New("dma memory limit reached")
)

type window struct {
	phys uint64
	size uint64
	dev  hal.MMIO
}

// Memory implements hal.Platform over Go-allocated memory.
type Memory struct {
	pageSize int

	mu      sync.Mutex
	next    uint64
	limit   uint64 // Maximum bytes outstanding, 0 for unlimited
	inUse   uint64
	regions []*hal.Buffer // Sorted by physical address
	windows []window
	syncs   [2]int
}

// New creates an in-memory platform with the given DMA page size.
func New(pageSize int) *Memory {
	if pageSize <= 0 {
		pageSize = 4096
	}
	return &Memory{
		pageSize: pageSize,
		next:     DefaultBase,
	}
}

// SetLimit bounds the number of bytes that may be allocated at once.
func (m *Memory) SetLimit(bytes int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.limit = uint64(bytes)
}

// PageSize returns the DMA page size.
func (m *Memory) PageSize() int {
	return m.pageSize
}

// Alloc returns a zeroed buffer aligned to align bytes.
func (m *Memory) Alloc(size, align int) (*hal.Buffer, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: size %d", pkg.ErrInvalidParameter, size)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	phys, err := hal.AlignUp(m.next, align)
	if err != nil {
		return nil, err
	}
	if m.limit > 0 && m.inUse+uint64(size) > m.limit {
		return nil, fmt.Errorf("%w: %w", pkg.ErrNoMemory, ErrExhausted)
	}

	b := hal.NewBuffer(phys, size, make([]uint32, (size+3)/4))
	m.next = phys + uint64(size)
	m.inUse += uint64(size)
	m.regions = append(m.regions, b)

	pkg.LogDebug(pkg.ComponentHAL, "dma alloc", "phys", fmt.Sprintf("%#x", phys), "size", size)
	return b, nil
}

// Free releases a buffer. Freeing an unknown buffer is a no-op.
func (m *Memory) Free(b *hal.Buffer) {
	if b == nil {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.search(b.Phys())
	if i < len(m.regions) && m.regions[i] == b {
		m.regions = append(m.regions[:i], m.regions[i+1:]...)
		m.inUse -= uint64(b.Len())
	}
}

// search returns the index of the first region starting at or after phys.
func (m *Memory) search(phys uint64) int {
	return sort.Search(len(m.regions), func(i int) bool {
		return m.regions[i].Phys() >= phys
	})
}

// Lookup resolves a physical address to its buffer and byte offset.
func (m *Memory) Lookup(phys uint64) (*hal.Buffer, int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	i := m.search(phys + 1)
	if i == 0 {
		return nil, 0, false
	}
	b := m.regions[i-1]
	if !b.Contains(phys) {
		return nil, 0, false
	}
	return b, int(phys - b.Phys()), true
}

// Allocated returns the number of live buffers.
func (m *Memory) Allocated() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.regions)
}

// Sync records a cache maintenance request. Go memory is coherent, so no
// work is needed beyond the atomic stores made through hal.Buffer.
func (m *Memory) Sync(b *hal.Buffer, dir hal.SyncDir) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if int(dir) < len(m.syncs) {
		m.syncs[dir]++
	}
}

// Syncs returns how many Sync calls were made in the given direction.
func (m *Memory) Syncs(dir hal.SyncDir) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if int(dir) >= len(m.syncs) {
		return 0
	}
	return m.syncs[dir]
}

// Attach registers dev as the register block at [phys, phys+size).
func (m *Memory) Attach(phys uint64, size int, dev hal.MMIO) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	end := phys + uint64(size)
	for _, w := range m.windows {
		if phys < w.phys+w.size && w.phys < end {
			return fmt.Errorf("%w: %#x", ErrOverlap, phys)
		}
	}
	m.windows = append(m.windows, window{phys: phys, size: uint64(size), dev: dev})
	return nil
}

// Map returns the attached register block covering [phys, phys+size).
func (m *Memory) Map(phys uint64, size int) (hal.MMIO, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, w := range m.windows {
		if phys >= w.phys && phys+uint64(size) <= w.phys+w.size {
			if phys == w.phys {
				return w.dev, nil
			}
			return &offsetMMIO{dev: w.dev, base: uint32(phys - w.phys)}, nil
		}
	}
	return nil, fmt.Errorf("%w: %#x", hal.ErrNotMapped, phys)
}

// offsetMMIO maps a sub-window of an attached register block.
type offsetMMIO struct {
	dev  hal.MMIO
	base uint32
}

func (o *offsetMMIO) Read32(off uint32) uint32     { return o.dev.Read32(o.base + off) }
func (o *offsetMMIO) Write32(off uint32, v uint32) { o.dev.Write32(o.base+off, v) }
func (o *offsetMMIO) Read64(off uint32) uint64     { return o.dev.Read64(o.base + off) }
func (o *offsetMMIO) Write64(off uint32, v uint64) { o.dev.Write64(o.base+off, v) }

var _ hal.Platform = (*Memory)(nil)
