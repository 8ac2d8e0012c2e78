package trb

import "fmt"

// CompletionCode is the 8-bit completion code of an event TRB.
type CompletionCode uint8

// Completion codes.
const (
	CodeInvalid                CompletionCode = 0
	CodeSuccess                CompletionCode = 1
	CodeDataBuffer             CompletionCode = 2
	CodeBabbleDetected         CompletionCode = 3
	CodeUSBTransaction         CompletionCode = 4
	CodeTRB                    CompletionCode = 5
	CodeStall                  CompletionCode = 6
	CodeResource               CompletionCode = 7
	CodeBandwidth              CompletionCode = 8
	CodeNoSlotsAvailable       CompletionCode = 9
	CodeInvalidStreamType      CompletionCode = 10
	CodeSlotNotEnabled         CompletionCode = 11
	CodeEndpointNotEnabled     CompletionCode = 12
	CodeShortPacket            CompletionCode = 13
	CodeRingUnderrun           CompletionCode = 14
	CodeRingOverrun            CompletionCode = 15
	CodeVFEventRingFull        CompletionCode = 16
	CodeParameter              CompletionCode = 17
	CodeBandwidthOverrun       CompletionCode = 18
	CodeContextState           CompletionCode = 19
	CodeNoPingResponse         CompletionCode = 20
	CodeEventRingFull          CompletionCode = 21
	CodeIncompatibleDevice     CompletionCode = 22
	CodeMissedService          CompletionCode = 23
	CodeCommandRingStopped     CompletionCode = 24
	CodeCommandAborted         CompletionCode = 25
	CodeStopped                CompletionCode = 26
	CodeStoppedLengthInvalid   CompletionCode = 27
	CodeStoppedShortPacket     CompletionCode = 28
	CodeMaxExitLatencyTooLarge CompletionCode = 29
	CodeIsochBufferOverrun     CompletionCode = 31
	CodeEventLost              CompletionCode = 32
	CodeUndefined              CompletionCode = 33
	CodeInvalidStreamID        CompletionCode = 34
	CodeSecondaryBandwidth     CompletionCode = 35
	CodeSplitTransaction       CompletionCode = 36
	codeReserved30             CompletionCode = 30
)

var codeNames = [...]string{
	CodeInvalid:                "Invalid",
	CodeSuccess:                "Success",
	CodeDataBuffer:             "DataBufferError",
	CodeBabbleDetected:         "BabbleDetectedError",
	CodeUSBTransaction:         "USBTransactionError",
	CodeTRB:                    "TRBError",
	CodeStall:                  "StallError",
	CodeResource:               "ResourceError",
	CodeBandwidth:              "BandwidthError",
	CodeNoSlotsAvailable:       "NoSlotsAvailableError",
	CodeInvalidStreamType:      "InvalidStreamTypeError",
	CodeSlotNotEnabled:         "SlotNotEnabledError",
	CodeEndpointNotEnabled:     "EndpointNotEnabledError",
	CodeShortPacket:            "ShortPacket",
	CodeRingUnderrun:           "RingUnderrun",
	CodeRingOverrun:            "RingOverrun",
	CodeVFEventRingFull:        "VFEventRingFullError",
	CodeParameter:              "ParameterError",
	CodeBandwidthOverrun:       "BandwidthOverrunError",
	CodeContextState:           "ContextStateError",
	CodeNoPingResponse:         "NoPingResponseError",
	CodeEventRingFull:          "EventRingFullError",
	CodeIncompatibleDevice:     "IncompatibleDeviceError",
	CodeMissedService:          "MissedServiceError",
	CodeCommandRingStopped:     "CommandRingStopped",
	CodeCommandAborted:         "CommandAborted",
	CodeStopped:                "Stopped",
	CodeStoppedLengthInvalid:   "StoppedLengthInvalid",
	CodeStoppedShortPacket:     "StoppedShortPacket",
	CodeMaxExitLatencyTooLarge: "MaxExitLatencyTooLargeError",
	codeReserved30:             "",
	CodeIsochBufferOverrun:     "IsochBufferOverrun",
	CodeEventLost:              "EventLostError",
	CodeUndefined:              "UndefinedError",
	CodeInvalidStreamID:        "InvalidStreamIDError",
	CodeSecondaryBandwidth:     "SecondaryBandwidthError",
	CodeSplitTransaction:       "SplitTransactionError",
}

// Known reports whether c is a defined completion code. Reserved and
// vendor-defined values are unknown.
func (c CompletionCode) Known() bool {
	return int(c) < len(codeNames) && codeNames[c] != ""
}

// String returns the completion code name.
func (c CompletionCode) String() string {
	if c.Known() {
		return codeNames[c]
	}
	return fmt.Sprintf("CompletionCode(%d)", uint8(c))
}

// IsSuccess reports whether c is Success or ShortPacket.
func (c CompletionCode) IsSuccess() bool {
	return c == CodeSuccess || c == CodeShortPacket
}
