// Package usb defines the vocabulary shared by the xHCI controller engine
// and the class drivers layered above it.
//
// It holds three groups of definitions:
//
//   - Wire structures: [SetupPacket], standard descriptors and their
//     Parse functions, request and descriptor type codes
//   - The parsed topology tree a class driver inspects to decide whether
//     it should bind: [DeviceTopology] → [ConfigTree] → [Function]
//     ([*Interface] or [*InterfaceAssociation]) → [Endpoint]
//   - Request and completion blocks: a [URB] names a slot and a
//     [RequestedOperation]; every accepted URB yields exactly one [UCB]
//     carrying a [CompleteCode]
//
// # Example
//
//	urb := usb.URB{
//	    Slot: 1,
//	    Op: usb.ControlTransfer{
//	        Setup: usb.GetDescriptorSetup(usb.DescriptorTypeDevice, 0, 18),
//	        Data:  make([]byte, 18),
//	    },
//	}
//	ucb, err := ctrl.Submit(ctx, urb)
//	if err == nil && ucb.Code.IsSuccess() {
//	    // urb.Op.(usb.ControlTransfer).Data holds the descriptor
//	}
package usb
