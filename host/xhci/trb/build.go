package trb

func newTRB(ty Type) TRB {
	var t TRB
	t.SetType(ty)
	return t
}

// =============================================================================
// Transfer TRBs
// =============================================================================

// Normal returns a Normal TRB moving length bytes at buf. tdSize is the
// number of packets remaining in the TD after this TRB.
func Normal(buf uint64, length uint32, tdSize uint8, flags uint32) TRB {
	t := newTRB(TypeNormal)
	t.SetParameter(buf)
	t[2] = length&normalLenMask | uint32(tdSize)<<tdSizeShift&tdSizeMask
	t[3] |= flags
	return t
}

// Setup returns a Setup Stage TRB carrying the 8-byte setup packet as
// immediate data.
func Setup(setup uint64, trt SetupTransferType) TRB {
	t := newTRB(TypeSetup)
	t.SetParameter(setup)
	t[2] = 8
	t[3] |= ControlIDT | uint32(trt)<<trtShift
	return t
}

// Data returns a Data Stage TRB.
func Data(buf uint64, length uint32, in bool, flags uint32) TRB {
	t := newTRB(TypeData)
	t.SetParameter(buf)
	t[2] = length & normalLenMask
	t[3] |= flags
	if in {
		t[3] |= ControlDir
	}
	return t
}

// Status returns a Status Stage TRB. in selects the status direction, which
// is opposite to the data stage.
func Status(in bool, flags uint32) TRB {
	t := newTRB(TypeStatus)
	t[3] |= flags
	if in {
		t[3] |= ControlDir
	}
	return t
}

// Isoch returns an Isoch TRB moving length bytes at buf.
func Isoch(buf uint64, length uint32, tdSize uint8, flags uint32) TRB {
	t := newTRB(TypeIsoch)
	t.SetParameter(buf)
	t[2] = length&normalLenMask | uint32(tdSize)<<tdSizeShift&tdSizeMask
	t[3] |= flags
	return t
}

// Link returns a Link TRB pointing at target.
func Link(target uint64, toggle bool) TRB {
	t := newTRB(TypeLink)
	t.SetParameter(target)
	if toggle {
		t[3] |= ControlToggleCycle
	}
	return t
}

// NoOp returns a transfer-ring No Op TRB.
func NoOp(flags uint32) TRB {
	t := newTRB(TypeNoOp)
	t[3] |= flags
	return t
}

// =============================================================================
// Command TRBs
// =============================================================================

// EnableSlot returns an Enable Slot command.
func EnableSlot(slotType uint8) TRB {
	t := newTRB(TypeEnableSlot)
	t[3] |= uint32(slotType&0x1F) << slotTypeSh
	return t
}

// DisableSlot returns a Disable Slot command.
func DisableSlot(slot uint8) TRB {
	t := newTRB(TypeDisableSlot)
	t.SetSlotID(slot)
	return t
}

// AddressDevice returns an Address Device command for the input context at
// input. bsr suppresses the SET_ADDRESS request.
func AddressDevice(input uint64, slot uint8, bsr bool) TRB {
	t := newTRB(TypeAddressDevice)
	t.SetParameter(input)
	t.SetSlotID(slot)
	if bsr {
		t[3] |= ControlBSR
	}
	return t
}

// ConfigureEndpoint returns a Configure Endpoint command.
func ConfigureEndpoint(input uint64, slot uint8, deconfigure bool) TRB {
	t := newTRB(TypeConfigureEndpoint)
	t.SetParameter(input)
	t.SetSlotID(slot)
	if deconfigure {
		t[3] |= ControlDeconfigure
	}
	return t
}

// EvaluateContext returns an Evaluate Context command.
func EvaluateContext(input uint64, slot uint8) TRB {
	t := newTRB(TypeEvaluateContext)
	t.SetParameter(input)
	t.SetSlotID(slot)
	return t
}

// ResetEndpoint returns a Reset Endpoint command. preserve sets TSP.
func ResetEndpoint(slot, dci uint8, preserve bool) TRB {
	t := newTRB(TypeResetEndpoint)
	t.SetSlotID(slot)
	t.SetEndpointID(dci)
	if preserve {
		t[3] |= 1 << 9
	}
	return t
}

// StopEndpoint returns a Stop Endpoint command.
func StopEndpoint(slot, dci uint8, suspend bool) TRB {
	t := newTRB(TypeStopEndpoint)
	t.SetSlotID(slot)
	t.SetEndpointID(dci)
	if suspend {
		t[3] |= 1 << 23
	}
	return t
}

// SetTRDequeue returns a Set TR Dequeue Pointer command moving the dequeue
// pointer of the endpoint to ptr with dequeue cycle state cycle.
func SetTRDequeue(slot, dci uint8, ptr uint64, cycle bool) TRB {
	t := newTRB(TypeSetTRDequeue)
	p := ptr &^ 0xF
	if cycle {
		p |= 1
	}
	t.SetParameter(p)
	t.SetSlotID(slot)
	t.SetEndpointID(dci)
	return t
}

// ResetDevice returns a Reset Device command.
func ResetDevice(slot uint8) TRB {
	t := newTRB(TypeResetDevice)
	t.SetSlotID(slot)
	return t
}

// NoOpCommand returns a No Op command.
func NoOpCommand() TRB {
	return newTRB(TypeNoOpCommand)
}

// =============================================================================
// Event TRBs (produced by controllers and models)
// =============================================================================

// TransferEventTRB returns a Transfer Event for the TRB at ptr.
func TransferEventTRB(ptr uint64, residual uint32, code CompletionCode, slot, dci uint8) TRB {
	t := newTRB(TypeTransferEvent)
	t.SetParameter(ptr)
	t[2] = residual & lengthMask
	t.SetCompletionCode(code)
	t.SetSlotID(slot)
	t.SetEndpointID(dci)
	return t
}

// CommandCompletionTRB returns a Command Completion Event for the command
// at ptr.
func CommandCompletionTRB(ptr uint64, code CompletionCode, slot uint8) TRB {
	t := newTRB(TypeCommandCompletionEvent)
	t.SetParameter(ptr)
	t.SetCompletionCode(code)
	t.SetSlotID(slot)
	return t
}

// PortStatusChangeTRB returns a Port Status Change Event for port.
func PortStatusChangeTRB(port uint8) TRB {
	t := newTRB(TypePortStatusChangeEvent)
	t[0] = uint32(port) << 24
	t.SetCompletionCode(CodeSuccess)
	return t
}

// HostControllerTRB returns a Host Controller Event.
func HostControllerTRB(code CompletionCode) TRB {
	t := newTRB(TypeHostControllerEvent)
	t.SetCompletionCode(code)
	return t
}
