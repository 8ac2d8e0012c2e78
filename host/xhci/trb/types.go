package trb

import "fmt"

// Type is the 6-bit TRB type field.
type Type uint8

// Transfer TRB types.
const (
	TypeReserved  Type = 0
	TypeNormal    Type = 1
	TypeSetup     Type = 2
	TypeData      Type = 3
	TypeStatus    Type = 4
	TypeIsoch     Type = 5
	TypeLink      Type = 6
	TypeEventData Type = 7
	TypeNoOp      Type = 8
)

// Command TRB types.
const (
	TypeEnableSlot        Type = 9
	TypeDisableSlot       Type = 10
	TypeAddressDevice     Type = 11
	TypeConfigureEndpoint Type = 12
	TypeEvaluateContext   Type = 13
	TypeResetEndpoint     Type = 14
	TypeStopEndpoint      Type = 15
	TypeSetTRDequeue      Type = 16
	TypeResetDevice       Type = 17
	TypeForceEvent        Type = 18
	TypeNegotiateBW       Type = 19
	TypeSetLatencyTol     Type = 20
	TypeGetPortBandwidth  Type = 21
	TypeForceHeader       Type = 22
	TypeNoOpCommand       Type = 23
)

// Event TRB types.
const (
	TypeTransferEvent           Type = 32
	TypeCommandCompletionEvent  Type = 33
	TypePortStatusChangeEvent   Type = 34
	TypeBandwidthRequestEvent   Type = 35
	TypeDoorbellEvent           Type = 36
	TypeHostControllerEvent     Type = 37
	TypeDeviceNotificationEvent Type = 38
	TypeMFINDEXWrapEvent        Type = 39
)

var typeNames = map[Type]string{
	TypeNormal:                  "Normal",
	TypeSetup:                   "SetupStage",
	TypeData:                    "DataStage",
	TypeStatus:                  "StatusStage",
	TypeIsoch:                   "Isoch",
	TypeLink:                    "Link",
	TypeEventData:               "EventData",
	TypeNoOp:                    "NoOp",
	TypeEnableSlot:              "EnableSlot",
	TypeDisableSlot:             "DisableSlot",
	TypeAddressDevice:           "AddressDevice",
	TypeConfigureEndpoint:       "ConfigureEndpoint",
	TypeEvaluateContext:         "EvaluateContext",
	TypeResetEndpoint:           "ResetEndpoint",
	TypeStopEndpoint:            "StopEndpoint",
	TypeSetTRDequeue:            "SetTRDequeuePointer",
	TypeResetDevice:             "ResetDevice",
	TypeForceEvent:              "ForceEvent",
	TypeNegotiateBW:             "NegotiateBandwidth",
	TypeSetLatencyTol:           "SetLatencyToleranceValue",
	TypeGetPortBandwidth:        "GetPortBandwidth",
	TypeForceHeader:             "ForceHeader",
	TypeNoOpCommand:             "NoOpCommand",
	TypeTransferEvent:           "TransferEvent",
	TypeCommandCompletionEvent:  "CommandCompletionEvent",
	TypePortStatusChangeEvent:   "PortStatusChangeEvent",
	TypeBandwidthRequestEvent:   "BandwidthRequestEvent",
	TypeDoorbellEvent:           "DoorbellEvent",
	TypeHostControllerEvent:     "HostControllerEvent",
	TypeDeviceNotificationEvent: "DeviceNotificationEvent",
	TypeMFINDEXWrapEvent:        "MFINDEXWrapEvent",
}

// String returns the TRB type name.
func (t Type) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("Type(%d)", uint8(t))
}

// IsCommand reports whether t is a command TRB type.
func (t Type) IsCommand() bool {
	return t >= TypeEnableSlot && t <= TypeNoOpCommand
}

// IsEvent reports whether t is an event TRB type.
func (t Type) IsEvent() bool {
	return t >= TypeTransferEvent && t <= TypeMFINDEXWrapEvent
}

// SetupTransferType is the TRT field of a Setup Stage TRB.
type SetupTransferType uint8

// Setup Stage transfer types.
const (
	TransferNoData SetupTransferType = 0
	TransferOut    SetupTransferType = 2
	TransferIn     SetupTransferType = 3
)
