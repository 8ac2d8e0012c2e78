package usb

import "fmt"

// TransferEventCode is the class-driver view of a completion.
type TransferEventCode uint8

// Transfer event codes.
const (
	EventSuccess TransferEventCode = iota // Success or short packet
	EventHalt                             // Endpoint was halted; nothing was transferred
	EventStall                            // Device answered with STALL
	EventUnknown                          // Any other hardware completion code
)

// String returns a human-readable code name.
func (c TransferEventCode) String() string {
	switch c {
	case EventSuccess:
		return "success"
	case EventHalt:
		return "halt"
	case EventStall:
		return "stall"
	case EventUnknown:
		return "unknown"
	default:
		return fmt.Sprintf("TransferEventCode(%d)", uint8(c))
	}
}

// CompleteKind discriminates a CompleteCode.
type CompleteKind uint8

// Completion kinds.
const (
	CompleteEvent CompleteKind = iota // Result of a hardware event
	CompleteDebug                     // Result of a debug operation
)

// CompleteCode is the outcome carried by a UCB.
type CompleteCode struct {
	Kind  CompleteKind
	Event TransferEventCode
	Raw   uint8 // Hardware completion code when Event is EventUnknown
}

// EventCode returns an event completion with the given code.
func EventCode(c TransferEventCode) CompleteCode {
	return CompleteCode{Kind: CompleteEvent, Event: c}
}

// UnknownCode returns an event completion for an unmapped hardware code.
func UnknownCode(raw uint8) CompleteCode {
	return CompleteCode{Kind: CompleteEvent, Event: EventUnknown, Raw: raw}
}

// DebugCode returns the completion of a debug operation.
func DebugCode() CompleteCode {
	return CompleteCode{Kind: CompleteDebug}
}

// IsSuccess reports whether the code is an event success.
func (c CompleteCode) IsSuccess() bool {
	return c.Kind == CompleteEvent && c.Event == EventSuccess
}

// String returns a human-readable completion description.
func (c CompleteCode) String() string {
	if c.Kind == CompleteDebug {
		return "debug"
	}
	if c.Event == EventUnknown {
		return fmt.Sprintf("unknown(%d)", c.Raw)
	}
	return c.Event.String()
}

// UCB is the completion block returned for every accepted URB.
type UCB struct {
	Code   CompleteCode
	Length int    // Bytes moved in the data stage
	Report string // Debug output, set only for debug operations
}

// URB requests one operation against an addressed device slot.
type URB struct {
	Slot uint8
	Op   RequestedOperation
}

// RequestedOperation is implemented by every operation a URB can carry.
type RequestedOperation interface {
	operation() string
}

// ControlTransfer issues a request on the default control pipe. Data is
// the data stage buffer; nil means no data stage.
type ControlTransfer struct {
	Setup SetupPacket
	Data  []byte
}

// BulkTransfer moves Data on a bulk endpoint.
type BulkTransfer struct {
	Endpoint uint8 // Endpoint address including direction bit
	Data     []byte
}

// InterruptTransfer moves Data on an interrupt endpoint.
type InterruptTransfer struct {
	Endpoint uint8
	Data     []byte
}

// IsochTransfer schedules RequestTimes packets of PacketSize bytes on an
// isochronous endpoint. Data must hold PacketSize*RequestTimes bytes.
type IsochTransfer struct {
	Endpoint     uint8
	PacketSize   int
	RequestTimes int
	Data         []byte
}

// Configuration is implemented by operations that change device state.
type Configuration interface {
	RequestedOperation
	configuration()
}

// SetupDevice configures every endpoint in Config and selects it.
type SetupDevice struct {
	Config *ConfigTree
}

// SwitchInterface selects an alternate setting.
type SwitchInterface struct {
	Interface uint8
	Alternate uint8
}

// ResetEndpoint recovers a halted endpoint.
type ResetEndpoint struct {
	DCI uint8
}

// Deconfigure drops every non-control endpoint.
type Deconfigure struct{}

// ExtraStep is implemented by endpoint preparation steps.
type ExtraStep interface {
	RequestedOperation
	extraStep()
}

// PrepareForTransfer primes a non-control endpoint's transfer ring.
type PrepareForTransfer struct {
	DCI uint8
}

// DebugOp selects what a Debug operation reports.
type DebugOp uint8

// Debug operations.
const (
	DebugDumpSlot  DebugOp = iota // Slot and endpoint contexts
	DebugDumpPorts                // Every PORTSC
)

// Debug asks the controller to report internal state.
type Debug struct {
	Op DebugOp
}

func (ControlTransfer) operation() string    { return "control" }
func (BulkTransfer) operation() string       { return "bulk" }
func (InterruptTransfer) operation() string  { return "interrupt" }
func (IsochTransfer) operation() string      { return "isoch" }
func (SetupDevice) operation() string        { return "setup-device" }
func (SwitchInterface) operation() string    { return "switch-interface" }
func (ResetEndpoint) operation() string      { return "reset-endpoint" }
func (Deconfigure) operation() string        { return "deconfigure" }
func (PrepareForTransfer) operation() string { return "prepare-for-transfer" }
func (Debug) operation() string              { return "debug" }

func (SetupDevice) configuration()     {}
func (SwitchInterface) configuration() {}
func (ResetEndpoint) configuration()   {}
func (Deconfigure) configuration()     {}

func (PrepareForTransfer) extraStep() {}

// OperationName returns a short name for op, for logging.
func OperationName(op RequestedOperation) string {
	if op == nil {
		return "none"
	}
	return op.operation()
}
