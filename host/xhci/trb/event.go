package trb

// Event is a decoded event TRB.
type Event interface {
	// TRB returns the raw event.
	TRB() TRB
}

// TransferEvent reports completion of a transfer TRB.
type TransferEvent struct {
	Raw       TRB
	Pointer   uint64 // address of the completed TRB, or event data
	Residual  uint32 // bytes not transferred
	Code      CompletionCode
	Slot      uint8
	Endpoint  uint8 // DCI
	EventData bool
}

// CommandCompletionEvent reports completion of a command TRB.
type CommandCompletionEvent struct {
	Raw       TRB
	Pointer   uint64 // address of the command TRB
	Parameter uint32
	Code      CompletionCode
	Slot      uint8
}

// PortStatusChangeEvent reports a PORTSC change bit being set.
type PortStatusChangeEvent struct {
	Raw  TRB
	Port uint8
	Code CompletionCode
}

// HostControllerEvent reports a controller-wide condition.
type HostControllerEvent struct {
	Raw  TRB
	Code CompletionCode
}

// OtherEvent is any event type the driver does not interpret.
type OtherEvent struct {
	Raw TRB
}

func (e TransferEvent) TRB() TRB          { return e.Raw }
func (e CommandCompletionEvent) TRB() TRB { return e.Raw }
func (e PortStatusChangeEvent) TRB() TRB  { return e.Raw }
func (e HostControllerEvent) TRB() TRB    { return e.Raw }
func (e OtherEvent) TRB() TRB             { return e.Raw }

// Decode classifies an event TRB by its type field.
func Decode(t TRB) Event {
	switch t.Type() {
	case TypeTransferEvent:
		return TransferEvent{
			Raw:       t,
			Pointer:   t.Parameter(),
			Residual:  t.TransferLength(),
			Code:      t.CompletionCode(),
			Slot:      t.SlotID(),
			Endpoint:  t.EndpointID(),
			EventData: t.Has(ControlEventData),
		}
	case TypeCommandCompletionEvent:
		return CommandCompletionEvent{
			Raw:       t,
			Pointer:   t.Parameter(),
			Parameter: t.TransferLength(),
			Code:      t.CompletionCode(),
			Slot:      t.SlotID(),
		}
	case TypePortStatusChangeEvent:
		return PortStatusChangeEvent{
			Raw:  t,
			Port: uint8(t[0] >> 24),
			Code: t.CompletionCode(),
		}
	case TypeHostControllerEvent:
		return HostControllerEvent{Raw: t, Code: t.CompletionCode()}
	default:
		return OtherEvent{Raw: t}
	}
}
