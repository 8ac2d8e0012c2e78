// Package trb defines the Transfer Request Block, the 16-byte unit of every
// xHCI ring.
//
// A [TRB] is four little-endian dwords:
//
//	dword 0-1  parameter (pointer, immediate data or command argument)
//	dword 2    status    (lengths, completion code)
//	dword 3    control   (cycle bit 0, flags, type 15:10, slot/endpoint ids)
//
// Builders return TRBs with the cycle bit clear; the producing ring sets it.
// Event TRBs written by the controller are classified with [Decode].
package trb
