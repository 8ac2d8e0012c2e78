// Package hal defines the platform capability set consumed by the xHCI
// controller engine.
//
// A board supplies a [Platform]: a DMA allocator returning page-aligned
// [Buffer] regions, the DMA page size, a cache maintenance primitive, and a
// mapping from a physical MMIO base to an [MMIO] register accessor. The
// engine never touches raw pointers; [Buffer] is the only place where a
// DMA region is reinterpreted, and all controller-visible stores go
// through its atomic dword accessors.
//
// # Implementing a Platform
//
// To bring the engine up on new hardware:
//  1. Back [Platform.Alloc] with physically contiguous, uncached or
//     cache-managed memory and wrap it with [NewBuffer]
//  2. Implement [Platform.Sync] with the architecture's clean/invalidate
//     instructions, or as a no-op on coherent systems
//  3. Return an [MMIO] over the controller's BAR from [Platform.Map]
//
// An in-memory platform for tests and simulation is available in
// [github.com/ardnew/softxhci/host/hal/mem].
package hal
