package hal

import (
	"errors"
	"testing"
)

// =============================================================================
// Buffer Tests
// =============================================================================

func TestBuffer_LoadStore(t *testing.T) {
	b := NewBuffer(0x1000, 16, make([]uint32, 4))

	b.Store32(0, 0xdeadbeef)
	b.Store64(8, 0x0123456789abcdef)

	if got := b.Load32(0); got != 0xdeadbeef {
		t.Errorf("Load32(0) = %#x, want 0xdeadbeef", got)
	}
	if got := b.Load64(8); got != 0x0123456789abcdef {
		t.Errorf("Load64(8) = %#x, want 0x0123456789abcdef", got)
	}
	if got := b.Load32(8); got != 0x89abcdef {
		t.Errorf("low dword = %#x, want 0x89abcdef", got)
	}

	data := b.Bytes()
	if len(data) != 16 {
		t.Fatalf("len(Bytes()) = %d, want 16", len(data))
	}
	if data[0] != 0xef || data[3] != 0xde {
		t.Errorf("byte view = % x, want little-endian dword", data[:4])
	}
}

func TestBuffer_Contains(t *testing.T) {
	b := NewBuffer(0x2000, 64, make([]uint32, 16))

	tests := []struct {
		phys uint64
		want bool
	}{
		{0x1fff, false},
		{0x2000, true},
		{0x203f, true},
		{0x2040, false},
	}
	for _, tt := range tests {
		if got := b.Contains(tt.phys); got != tt.want {
			t.Errorf("Contains(%#x) = %v, want %v", tt.phys, got, tt.want)
		}
	}
}

func TestBuffer_Zero(t *testing.T) {
	b := NewBuffer(0, 8, make([]uint32, 2))
	b.Store64(0, ^uint64(0))
	b.Zero()
	if got := b.Load64(0); got != 0 {
		t.Errorf("after Zero, Load64 = %#x", got)
	}
}

func TestBuffer_MisalignedPanics(t *testing.T) {
	b := NewBuffer(0, 8, make([]uint32, 2))
	defer func() {
		if recover() == nil {
			t.Error("Load32 at unaligned offset did not panic")
		}
	}()
	b.Load32(2)
}

func TestNewBuffer_ClampsSize(t *testing.T) {
	b := NewBuffer(0, 100, make([]uint32, 2))
	if b.Len() != 8 {
		t.Errorf("Len() = %d, want 8", b.Len())
	}
}

// =============================================================================
// AlignUp Tests
// =============================================================================

func TestAlignUp(t *testing.T) {
	tests := []struct {
		v     uint64
		align int
		want  uint64
	}{
		{0, 64, 0},
		{1, 64, 64},
		{64, 64, 64},
		{0x1001, 0x1000, 0x2000},
	}
	for _, tt := range tests {
		got, err := AlignUp(tt.v, tt.align)
		if err != nil {
			t.Fatalf("AlignUp(%#x, %d) error: %v", tt.v, tt.align, err)
		}
		if got != tt.want {
			t.Errorf("AlignUp(%#x, %d) = %#x, want %#x", tt.v, tt.align, got, tt.want)
		}
	}

	if _, err := AlignUp(1, 48); !errors.Is(err, ErrBadAlignment) {
		t.Errorf("AlignUp(1, 48) error = %v, want ErrBadAlignment", err)
	}
}

func TestSyncDir_String(t *testing.T) {
	if SyncForDevice.String() != "for-device" || SyncForCPU.String() != "for-cpu" {
		t.Errorf("unexpected SyncDir names %q %q", SyncForDevice, SyncForCPU)
	}
}
