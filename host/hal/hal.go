package hal

import (
	"errors"
	"fmt"
	"sync/atomic"
	"unsafe"
)

// Platform errors.
var (
	ErrBadAlignment = errors.New("alignment must be a power of two")
	ErrOutOfRange   = errors.New("offset out of range")
	ErrNotMapped    = errors.New("physical address not mapped")
)

// SyncDir selects the direction of a cache maintenance operation.
type SyncDir uint8

// Cache sync directions.
const (
	SyncForDevice SyncDir = iota // Clean: make CPU writes visible to the controller
	SyncForCPU                   // Invalidate: make controller writes visible to the CPU
)

// String returns a human-readable direction name.
func (d SyncDir) String() string {
	switch d {
	case SyncForDevice:
		return "for-device"
	case SyncForCPU:
		return "for-cpu"
	default:
		return fmt.Sprintf("SyncDir(%d)", uint8(d))
	}
}

// Platform is the capability set a board provides to the controller engine.
//
// Implementations must return zeroed, physically contiguous buffers whose
// physical address honors the requested alignment.
type Platform interface {
	// Alloc returns a zeroed DMA buffer of at least size bytes.
	Alloc(size, align int) (*Buffer, error)

	// Free releases a buffer returned by Alloc.
	Free(b *Buffer)

	// PageSize returns the DMA page size in bytes.
	PageSize() int

	// Sync performs cache maintenance on b for the given direction.
	Sync(b *Buffer, dir SyncDir)

	// Map returns an accessor for the register block at phys.
	Map(phys uint64, size int) (MMIO, error)
}

// MMIO accesses a memory-mapped register block. Offsets are relative to
// the mapped base and must be naturally aligned.
type MMIO interface {
	Read32(off uint32) uint32
	Write32(off uint32, v uint32)
	Read64(off uint32) uint64
	Write64(off uint32, v uint64)
}

// Buffer is a DMA region shared with the controller. Its backing store is
// a dword array so that every 32-bit access is naturally aligned; byte
// access goes through Bytes. All controller structures are little-endian.
type Buffer struct {
	phys  uint64
	size  int
	words []uint32
}

// NewBuffer wraps backing dwords located at phys. size is the usable
// length in bytes and must not exceed 4*len(words).
func NewBuffer(phys uint64, size int, words []uint32) *Buffer {
	if size > 4*len(words) {
		size = 4 * len(words)
	}
	return &Buffer{phys: phys, size: size, words: words}
}

// Phys returns the physical address of the first byte.
func (b *Buffer) Phys() uint64 { return b.phys }

// Len returns the buffer length in bytes.
func (b *Buffer) Len() int { return b.size }

// Contains reports whether phys falls inside the buffer.
func (b *Buffer) Contains(phys uint64) bool {
	return phys >= b.phys && phys < b.phys+uint64(b.size)
}

// Bytes returns a byte view of the buffer.
func (b *Buffer) Bytes() []byte {
	if b.size == 0 {
		return nil
	}
	return unsafe.Slice((*byte)(unsafe.Pointer(&b.words[0])), b.size)
}

func (b *Buffer) word(off int) *uint32 {
	if off < 0 || off&3 != 0 || off+4 > b.size {
		panic(fmt.Sprintf("hal: dword access at %#x in %d-byte buffer", off, b.size))
	}
	return &b.words[off>>2]
}

// Load32 atomically reads the dword at byte offset off.
func (b *Buffer) Load32(off int) uint32 {
	return atomic.LoadUint32(b.word(off))
}

// Store32 atomically writes the dword at byte offset off. A store is
// ordered after every preceding store, which makes it the publication
// point for cycle bits.
func (b *Buffer) Store32(off int, v uint32) {
	atomic.StoreUint32(b.word(off), v)
}

// Load64 reads a little-endian qword as two dwords, low first.
func (b *Buffer) Load64(off int) uint64 {
	return uint64(b.Load32(off)) | uint64(b.Load32(off+4))<<32
}

// Store64 writes a little-endian qword as two dwords, low first.
func (b *Buffer) Store64(off int, v uint64) {
	b.Store32(off, uint32(v))
	b.Store32(off+4, uint32(v>>32))
}

// Zero clears the buffer.
func (b *Buffer) Zero() {
	for i := range b.words {
		atomic.StoreUint32(&b.words[i], 0)
	}
}

// AlignUp rounds v up to a multiple of align, which must be a power of two.
func AlignUp(v uint64, align int) (uint64, error) {
	if align <= 0 || align&(align-1) != 0 {
		return 0, fmt.Errorf("%w: %d", ErrBadAlignment, align)
	}
	a := uint64(align)
	return (v + a - 1) &^ (a - 1), nil
}
