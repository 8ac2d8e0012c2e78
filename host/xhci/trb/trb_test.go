package trb

import "testing"

// =============================================================================
// Field Accessor Tests
// =============================================================================

func TestTRB_Fields(t *testing.T) {
	var x TRB
	x.SetParameter(0x1122_3344_5566_7788)
	x.SetType(TypeNormal)
	x.SetSlotID(7)
	x.SetEndpointID(3)
	x.SetCycle(true)

	if x[0] != 0x5566_7788 || x[1] != 0x1122_3344 {
		t.Errorf("parameter dwords = %#x %#x", x[0], x[1])
	}
	if got := x.Parameter(); got != 0x1122_3344_5566_7788 {
		t.Errorf("Parameter() = %#x", got)
	}
	if got := x.Type(); got != TypeNormal {
		t.Errorf("Type() = %v, want Normal", got)
	}
	if got := x.SlotID(); got != 7 {
		t.Errorf("SlotID() = %d, want 7", got)
	}
	if got := x.EndpointID(); got != 3 {
		t.Errorf("EndpointID() = %d, want 3", got)
	}
	if !x.Cycle() {
		t.Error("Cycle() = false, want true")
	}
	if want := uint32(7<<24 | 3<<16 | 1<<10 | 1); x.Control() != want {
		t.Errorf("Control() = %#x, want %#x", x.Control(), want)
	}

	x.SetCycle(false)
	if x.Cycle() {
		t.Error("Cycle() = true after clear")
	}
}

func TestTRB_CompletionCode(t *testing.T) {
	var x TRB
	x[2] = 0x00AB_CDEF
	x.SetCompletionCode(CodeShortPacket)
	if got := x.CompletionCode(); got != CodeShortPacket {
		t.Errorf("CompletionCode() = %v", got)
	}
	if got := x.TransferLength(); got != 0xABCDEF {
		t.Errorf("TransferLength() = %#x, want 0xABCDEF", got)
	}
}

func TestTRB_ReturnedValues(t *testing.T) {
	// Accessors must work directly on call results, which are not addressable.
	if got := Link(0x1000, true).Type(); got != TypeLink {
		t.Errorf("Link().Type() = %v, want Link", got)
	}
	if !Link(0x1000, true).Has(ControlToggleCycle) {
		t.Error("Link().Has(ToggleCycle) = false")
	}
	if got := NoOp(ControlCycle).Cycle(); !got {
		t.Error("NoOp(Cycle).Cycle() = false")
	}

	raw := NoOp(0)
	raw.SetType(TypeTransferEvent)
	raw.SetSlotID(2)
	raw.SetEndpointID(5)
	raw.SetCompletionCode(CodeSuccess)
	ev := Decode(raw)
	if got := ev.TRB().Type(); got != TypeTransferEvent {
		t.Errorf("TRB().Type() = %v", got)
	}
	if got := ev.TRB().SlotID(); got != 2 {
		t.Errorf("TRB().SlotID() = %d, want 2", got)
	}
	if got := ev.TRB().CompletionCode(); got != CodeSuccess {
		t.Errorf("TRB().CompletionCode() = %v", got)
	}
}

// =============================================================================
// Builder Tests
// =============================================================================

func TestBuilders(t *testing.T) {
	tests := []struct {
		name    string
		trb     TRB
		typ     Type
		control uint32 // expected control word
		status  uint32
	}{
		{"normal", Normal(0x1000, 64, 2, ControlIOC), TypeNormal, 1<<10 | ControlIOC, 64 | 2<<17},
		{"setup in", Setup(0x0008_0000_0100_0680, TransferIn), TypeSetup, 2<<10 | ControlIDT | 3<<16, 8},
		{"setup no data", Setup(0, TransferNoData), TypeSetup, 2<<10 | ControlIDT, 8},
		{"data in", Data(0x2000, 18, true, 0), TypeData, 3<<10 | ControlDir, 18},
		{"status out", Status(false, ControlIOC), TypeStatus, 4<<10 | ControlIOC, 0},
		{"isoch", Isoch(0x3000, 188, 0, ControlSIA), TypeIsoch, 5<<10 | ControlSIA, 188},
		{"link", Link(0x4000, true), TypeLink, 6<<10 | ControlToggleCycle, 0},
		{"enable slot", EnableSlot(0), TypeEnableSlot, 9 << 10, 0},
		{"disable slot", DisableSlot(4), TypeDisableSlot, 10<<10 | 4<<24, 0},
		{"address device", AddressDevice(0x5000, 1, false), TypeAddressDevice, 11<<10 | 1<<24, 0},
		{"address device bsr", AddressDevice(0x5000, 1, true), TypeAddressDevice, 11<<10 | 1<<24 | ControlBSR, 0},
		{"configure", ConfigureEndpoint(0x5000, 2, false), TypeConfigureEndpoint, 12<<10 | 2<<24, 0},
		{"evaluate", EvaluateContext(0x5000, 2), TypeEvaluateContext, 13<<10 | 2<<24, 0},
		{"reset ep", ResetEndpoint(2, 1, false), TypeResetEndpoint, 14<<10 | 2<<24 | 1<<16, 0},
		{"stop ep", StopEndpoint(2, 5, false), TypeStopEndpoint, 15<<10 | 2<<24 | 5<<16, 0},
		{"noop cmd", NoOpCommand(), TypeNoOpCommand, 23 << 10, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.trb.Type(); got != tt.typ {
				t.Errorf("Type() = %v, want %v", got, tt.typ)
			}
			if tt.trb.Control() != tt.control {
				t.Errorf("Control() = %#x, want %#x", tt.trb.Control(), tt.control)
			}
			if tt.trb.Status() != tt.status {
				t.Errorf("Status() = %#x, want %#x", tt.trb.Status(), tt.status)
			}
			if tt.trb.Cycle() {
				t.Error("builder set the cycle bit")
			}
		})
	}
}

func TestSetTRDequeue(t *testing.T) {
	x := SetTRDequeue(3, 1, 0x7000, true)
	if got := x.Parameter(); got != 0x7001 {
		t.Errorf("Parameter() = %#x, want 0x7001", got)
	}
	x = SetTRDequeue(3, 1, 0x7000, false)
	if got := x.Parameter(); got != 0x7000 {
		t.Errorf("Parameter() = %#x, want 0x7000", got)
	}
	if x.SlotID() != 3 || x.EndpointID() != 1 {
		t.Errorf("ids = %d/%d", x.SlotID(), x.EndpointID())
	}
}

func TestSetup_TransferType(t *testing.T) {
	x := Setup(0, TransferOut)
	if got := x.TransferType(); got != TransferOut {
		t.Errorf("TransferType() = %d, want %d", got, TransferOut)
	}
}

// =============================================================================
// Decode Tests
// =============================================================================

func TestDecode(t *testing.T) {
	t.Run("transfer", func(t *testing.T) {
		ev, ok := Decode(TransferEventTRB(0x9000, 10, CodeShortPacket, 2, 3)).(TransferEvent)
		if !ok {
			t.Fatal("not a TransferEvent")
		}
		if ev.Pointer != 0x9000 || ev.Residual != 10 || ev.Code != CodeShortPacket || ev.Slot != 2 || ev.Endpoint != 3 {
			t.Errorf("decoded %+v", ev)
		}
	})

	t.Run("command", func(t *testing.T) {
		ev, ok := Decode(CommandCompletionTRB(0xA000, CodeSuccess, 1)).(CommandCompletionEvent)
		if !ok {
			t.Fatal("not a CommandCompletionEvent")
		}
		if ev.Pointer != 0xA000 || ev.Code != CodeSuccess || ev.Slot != 1 {
			t.Errorf("decoded %+v", ev)
		}
	})

	t.Run("port", func(t *testing.T) {
		ev, ok := Decode(PortStatusChangeTRB(4)).(PortStatusChangeEvent)
		if !ok {
			t.Fatal("not a PortStatusChangeEvent")
		}
		if ev.Port != 4 {
			t.Errorf("Port = %d, want 4", ev.Port)
		}
	})

	t.Run("host controller", func(t *testing.T) {
		ev, ok := Decode(HostControllerTRB(CodeEventRingFull)).(HostControllerEvent)
		if !ok || ev.Code != CodeEventRingFull {
			t.Errorf("decoded %#v", ev)
		}
	})

	t.Run("other", func(t *testing.T) {
		x := newTRB(TypeMFINDEXWrapEvent)
		if _, ok := Decode(x).(OtherEvent); !ok {
			t.Error("MFINDEX wrap not decoded as OtherEvent")
		}
	})
}

// =============================================================================
// Code and Type Tests
// =============================================================================

func TestCompletionCode_Known(t *testing.T) {
	tests := []struct {
		code CompletionCode
		want bool
		name string
	}{
		{CodeInvalid, true, "Invalid"},
		{CodeSuccess, true, "Success"},
		{CodeStall, true, "StallError"},
		{CodeShortPacket, true, "ShortPacket"},
		{CodeMaxExitLatencyTooLarge, true, "MaxExitLatencyTooLargeError"},
		{30, false, "CompletionCode(30)"},
		{CodeSplitTransaction, true, "SplitTransactionError"},
		{37, false, "CompletionCode(37)"},
		{192, false, "CompletionCode(192)"},
	}

	for _, tt := range tests {
		if got := tt.code.Known(); got != tt.want {
			t.Errorf("%d.Known() = %v, want %v", tt.code, got, tt.want)
		}
		if got := tt.code.String(); got != tt.name {
			t.Errorf("%d.String() = %q, want %q", tt.code, got, tt.name)
		}
	}
}

func TestType_Classes(t *testing.T) {
	if !TypeEnableSlot.IsCommand() || !TypeNoOpCommand.IsCommand() || TypeNormal.IsCommand() {
		t.Error("IsCommand classification wrong")
	}
	if !TypeTransferEvent.IsEvent() || !TypeMFINDEXWrapEvent.IsEvent() || TypeLink.IsEvent() {
		t.Error("IsEvent classification wrong")
	}
	if got := Type(63).String(); got != "Type(63)" {
		t.Errorf("String() = %q", got)
	}
}
