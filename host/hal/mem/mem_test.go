package mem

import (
	"errors"
	"testing"

	"github.com/ardnew/softxhci/host/hal"
	"github.com/ardnew/softxhci/pkg"
)

// regFile is a trivial register block for Map tests.
type regFile struct {
	regs map[uint32]uint64
}

func newRegFile() *regFile { return &regFile{regs: make(map[uint32]uint64)} }

func (r *regFile) Read32(off uint32) uint32     { return uint32(r.regs[off]) }
func (r *regFile) Write32(off uint32, v uint32) { r.regs[off] = uint64(v) }
func (r *regFile) Read64(off uint32) uint64     { return r.regs[off] }
func (r *regFile) Write64(off uint32, v uint64) { r.regs[off] = v }

var _ hal.MMIO = (*regFile)(nil)

// =============================================================================
// Allocation Tests
// =============================================================================

func TestMemory_AllocAlignment(t *testing.T) {
	m := New(4096)

	a, err := m.Alloc(24, 8)
	if err != nil {
		t.Fatalf("Alloc failed: %v", err)
	}
	b, err := m.Alloc(512, 64)
	if err != nil {
		t.Fatalf("Alloc failed: %v", err)
	}
	p, err := m.Alloc(4096, 4096)
	if err != nil {
		t.Fatalf("Alloc failed: %v", err)
	}

	if a.Phys() != DefaultBase {
		t.Errorf("first Phys = %#x, want %#x", a.Phys(), DefaultBase)
	}
	if b.Phys()%64 != 0 {
		t.Errorf("Phys %#x not 64-byte aligned", b.Phys())
	}
	if p.Phys()%4096 != 0 {
		t.Errorf("Phys %#x not page aligned", p.Phys())
	}
	if b.Phys() < a.Phys()+24 {
		t.Errorf("allocations overlap: %#x < %#x", b.Phys(), a.Phys()+24)
	}
	if m.Allocated() != 3 {
		t.Errorf("Allocated() = %d, want 3", m.Allocated())
	}
}

func TestMemory_AllocInvalid(t *testing.T) {
	m := New(4096)
	if _, err := m.Alloc(0, 64); !errors.Is(err, pkg.ErrInvalidParameter) {
		t.Errorf("Alloc(0) error = %v, want ErrInvalidParameter", err)
	}
	if _, err := m.Alloc(16, 3); !errors.Is(err, hal.ErrBadAlignment) {
		t.Errorf("Alloc(align=3) error = %v, want ErrBadAlignment", err)
	}
}

func TestMemory_Limit(t *testing.T) {
	m := New(4096)
	m.SetLimit(100)

	b, err := m.Alloc(64, 64)
	if err != nil {
		t.Fatalf("Alloc failed: %v", err)
	}
	if _, err := m.Alloc(64, 64); !errors.Is(err, pkg.ErrNoMemory) {
		t.Errorf("over-limit Alloc error = %v, want ErrNoMemory", err)
	}

	m.Free(b)
	if _, err := m.Alloc(64, 64); err != nil {
		t.Errorf("Alloc after Free failed: %v", err)
	}
}

func TestMemory_LookupAndFree(t *testing.T) {
	m := New(4096)
	a, _ := m.Alloc(64, 64)
	b, _ := m.Alloc(64, 64)

	got, off, ok := m.Lookup(b.Phys() + 12)
	if !ok || got != b || off != 12 {
		t.Errorf("Lookup(b+12) = %p,%d,%v want %p,12,true", got, off, ok, b)
	}
	got, off, ok = m.Lookup(a.Phys())
	if !ok || got != a || off != 0 {
		t.Errorf("Lookup(a) = %p,%d,%v want %p,0,true", got, off, ok, a)
	}
	if _, _, ok := m.Lookup(DefaultBase - 1); ok {
		t.Error("Lookup below base succeeded")
	}

	m.Free(a)
	if _, _, ok := m.Lookup(a.Phys()); ok {
		t.Error("Lookup of freed buffer succeeded")
	}
	if m.Allocated() != 1 {
		t.Errorf("Allocated() = %d, want 1", m.Allocated())
	}
}

func TestMemory_WritesVisibleThroughLookup(t *testing.T) {
	m := New(4096)
	b, _ := m.Alloc(32, 16)
	b.Store32(8, 0x1234)

	got, off, _ := m.Lookup(b.Phys() + 8)
	if v := got.Load32(off); v != 0x1234 {
		t.Errorf("Load32 via Lookup = %#x, want 0x1234", v)
	}
}

// =============================================================================
// MMIO and Sync Tests
// =============================================================================

func TestMemory_Map(t *testing.T) {
	m := New(4096)
	rf := newRegFile()
	if err := m.Attach(0xfe000000, 0x1000, rf); err != nil {
		t.Fatalf("Attach failed: %v", err)
	}
	if err := m.Attach(0xfe000800, 0x1000, rf); !errors.Is(err, ErrOverlap) {
		t.Errorf("overlapping Attach error = %v, want ErrOverlap", err)
	}

	regs, err := m.Map(0xfe000000, 0x1000)
	if err != nil {
		t.Fatalf("Map failed: %v", err)
	}
	regs.Write32(0x20, 7)
	if rf.regs[0x20] != 7 {
		t.Error("write not forwarded to attached block")
	}

	sub, err := m.Map(0xfe000100, 0x100)
	if err != nil {
		t.Fatalf("Map sub-window failed: %v", err)
	}
	sub.Write64(0x8, 0xabc)
	if rf.regs[0x108] != 0xabc {
		t.Error("sub-window write not offset")
	}

	if _, err := m.Map(0x1000, 4); !errors.Is(err, hal.ErrNotMapped) {
		t.Errorf("Map unmapped error = %v, want ErrNotMapped", err)
	}
}

func TestMemory_Sync(t *testing.T) {
	m := New(4096)
	b, _ := m.Alloc(16, 16)
	m.Sync(b, hal.SyncForDevice)
	m.Sync(b, hal.SyncForDevice)
	m.Sync(b, hal.SyncForCPU)

	if got := m.Syncs(hal.SyncForDevice); got != 2 {
		t.Errorf("Syncs(ForDevice) = %d, want 2", got)
	}
	if got := m.Syncs(hal.SyncForCPU); got != 1 {
		t.Errorf("Syncs(ForCPU) = %d, want 1", got)
	}
}
