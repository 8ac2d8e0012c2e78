// Package sim implements a simulated xHCI host controller.
//
// A [Controller] attaches to a [mem.Memory] platform as a register window
// and services the engine exactly as hardware would: it walks the command
// ring on doorbell 0, walks transfer rings on slot doorbells, reads and
// writes device contexts through the DCBAA, and posts events to the event
// ring described by ERSTBA, honoring ERDP when deciding whether the ring
// is full. Register reads advance simulated time, which completes host
// controller and port resets after [Config.ResetLatency] reads.
//
// Devices plug into root ports as [Device] implementations. [Model] is a
// descriptor-driven device that answers standard requests itself; the
// stock models ([NewMouse], [NewCamera], [NewSerial]) are built with
// [Builder].
//
// Fault knobs in [Config] make the controller misbehave for tests: a host
// controller reset that never completes, a controller that never halts,
// and a command ring that ignores its doorbell.
//
// [mem.Memory]: github.com/ardnew/softxhci/host/hal/mem.Memory
package sim
