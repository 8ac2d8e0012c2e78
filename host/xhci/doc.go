// Package xhci implements the xHCI host controller engine.
//
// A [Controller] owns every structure it shares with the hardware: the
// command ring, the event ring and its segment table, the Device Context
// List, the scratchpad buffers and the transfer rings of each slot. It is
// constructed over a [hal.Platform] and the physical base of the register
// window; there is no package-level state.
//
// # Bring-up
//
// [Controller.Init] runs the initialization phases in a fixed order:
//
//	chip_hardware_reset → set_max_device_slots → set_dcbaap →
//	set_cmd_ring → init_ir → setup_scratchpads → start → test_cmd →
//	reset_ports
//
// [Controller.Probe] then enables a slot for every enabled root port,
// addresses the device, reads the first eight bytes of its device
// descriptor and corrects the default control endpoint's max packet size.
//
// # Completions
//
// The engine is synchronous. Every command and transfer blocks until the
// matching event arrives on the event ring, found by comparing the TRB
// pointer the event carries with the addresses the request enqueued.
// Unrelated events are logged and skipped. ERDP is advanced after every
// dequeue. Each wait is bounded by the [WaitPolicy] in [Config].
//
// # Errors
//
// Stall completions are reported through the UCB and are recoverable.
// Completion codes the engine has no recovery for are returned as errors
// wrapping [ErrFatal]; the engine never panics on hardware input.
//
// # Concurrency
//
// A Controller is not safe for concurrent use. Callers serialize every
// call behind one lock, as the host package does.
//
// [hal.Platform]: github.com/ardnew/softxhci/host/hal.Platform
package xhci
