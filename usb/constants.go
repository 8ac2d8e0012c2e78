package usb

import "fmt"

// Speed is an xHCI Protocol Speed ID as reported in PORTSC.
type Speed uint8

// Default Protocol Speed IDs for the USB2 and USB3 protocols.
const (
	SpeedUnknown   Speed = 0
	SpeedFull      Speed = 1 // 12 Mbps
	SpeedLow       Speed = 2 // 1.5 Mbps
	SpeedHigh      Speed = 3 // 480 Mbps
	SpeedSuper     Speed = 4 // 5 Gbps
	SpeedSuperPlus Speed = 5 // 10 Gbps
)

// String returns a human-readable speed description.
func (s Speed) String() string {
	switch s {
	case SpeedLow:
		return "Low Speed (1.5 Mbps)"
	case SpeedFull:
		return "Full Speed (12 Mbps)"
	case SpeedHigh:
		return "High Speed (480 Mbps)"
	case SpeedSuper:
		return "Super Speed (5 Gbps)"
	case SpeedSuperPlus:
		return "Super Speed Plus (10 Gbps)"
	default:
		return fmt.Sprintf("Unknown Speed (%d)", uint8(s))
	}
}

// IsSuperSpeed reports whether s is a USB3 speed.
func (s Speed) IsSuperSpeed() bool {
	return s == SpeedSuper || s == SpeedSuperPlus
}

// Endpoint transfer types.
const (
	EndpointTypeControl     = 0x00 // Control transfer
	EndpointTypeIsochronous = 0x01 // Isochronous transfer
	EndpointTypeBulk        = 0x02 // Bulk transfer
	EndpointTypeInterrupt   = 0x03 // Interrupt transfer
)

// Endpoint directions.
const (
	EndpointDirectionOut = 0x00 // Host to device
	EndpointDirectionIn  = 0x80 // Device to host
)

// Descriptor types.
const (
	DescriptorTypeDevice               = 0x01
	DescriptorTypeConfiguration        = 0x02
	DescriptorTypeString               = 0x03
	DescriptorTypeInterface            = 0x04
	DescriptorTypeEndpoint             = 0x05
	DescriptorTypeDeviceQualifier      = 0x06
	DescriptorTypeOtherSpeedConfig     = 0x07
	DescriptorTypeInterfacePower       = 0x08
	DescriptorTypeOTG                  = 0x09
	DescriptorTypeDebug                = 0x0A
	DescriptorTypeInterfaceAssociation = 0x0B
	DescriptorTypeBOS                  = 0x0F
	DescriptorTypeHID                  = 0x21
	DescriptorTypeCSInterface          = 0x24
	DescriptorTypeCSEndpoint           = 0x25
	DescriptorTypeSSEndpointCompanion  = 0x30
)

// Standard request codes.
const (
	RequestGetStatus        = 0x00
	RequestClearFeature     = 0x01
	RequestSetFeature       = 0x03
	RequestSetAddress       = 0x05
	RequestGetDescriptor    = 0x06
	RequestSetDescriptor    = 0x07
	RequestGetConfiguration = 0x08
	RequestSetConfiguration = 0x09
	RequestGetInterface     = 0x0A
	RequestSetInterface     = 0x0B
	RequestSynchFrame       = 0x0C
)

// Request types (bmRequestType).
const (
	RequestTypeOut       = 0x00 // Host to device
	RequestTypeIn        = 0x80 // Device to host
	RequestTypeStandard  = 0x00 // Standard request
	RequestTypeClass     = 0x20 // Class-specific request
	RequestTypeVendor    = 0x40 // Vendor-specific request
	RequestTypeDevice    = 0x00 // Recipient: device
	RequestTypeInterface = 0x01 // Recipient: interface
	RequestTypeEndpoint  = 0x02 // Recipient: endpoint
	RequestTypeOther     = 0x03 // Recipient: other
)

// Feature selectors.
const (
	FeatureEndpointHalt       = 0x00
	FeatureDeviceRemoteWakeup = 0x01
)

// LangIDUSEnglish is the default language ID.
const LangIDUSEnglish = 0x0409

// Limits for descriptor retrieval.
const (
	// MaxDescriptorSize is the largest configuration tree fetched.
	MaxDescriptorSize = 1024

	// MaxStringsPerDevice bounds the string descriptor cache.
	MaxStringsPerDevice = 16
)
