// Package host implements the device layer above an xHCI controller.
//
// It drives a [Controller], normally a [xhci.Controller], and turns the
// slots it attaches into enumerated [Device] records.
//
// # Architecture
//
// The host stack is organized into several layers:
//
//   - Host owns the controller and serializes every call into it
//   - Device represents an enumerated slot with its descriptors
//   - Driver binds class logic to configured devices
//   - TransferManager runs requests asynchronously on a worker pool
//
// # Enumeration
//
// For every slot the controller attaches, the host reads the device
// descriptor, the supported strings, and the first configuration, then
// submits a SetupDevice request for it. The first registered driver whose
// ShouldActive reports true is activated.
//
// # Concurrency
//
// A controller processes one request at a time. Host.Submit holds a mutex
// for the whole request, so any number of goroutines, including the
// transfer workers, may share one Host.
//
// # Example
//
//	h := host.New(ctrl)
//	if err := h.Start(ctx); err != nil {
//	    log.Fatal(err)
//	}
//	defer h.Stop(ctx)
//
//	for _, dev := range h.Devices() {
//	    fmt.Println(dev.Slot(), dev.Product())
//	}
//
//	buf := make([]byte, 64)
//	n, err := dev.BulkTransfer(ctx, 0x81, buf)
package host
