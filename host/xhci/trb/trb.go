package trb

import "fmt"

// Size is the size of a TRB in bytes.
const Size = 16

// TRB is one Transfer Request Block.
type TRB [4]uint32

// Control word bits.
const (
	ControlCycle       = 1 << 0  // C: cycle bit
	ControlToggleCycle = 1 << 1  // TC: Link TRB toggle cycle
	ControlENT         = 1 << 1  // ENT: evaluate next TRB
	ControlISP         = 1 << 2  // ISP: interrupt on short packet
	ControlNoSnoop     = 1 << 3  // NS: no snoop
	ControlChain       = 1 << 4  // CH: chain bit
	ControlIOC         = 1 << 5  // IOC: interrupt on completion
	ControlIDT         = 1 << 6  // IDT: immediate data
	ControlBSR         = 1 << 9  // BSR: block set address request
	ControlDeconfigure = 1 << 9  // DC: deconfigure
	ControlBEI         = 1 << 9  // BEI: block event interrupt
	ControlEventData   = 1 << 2  // ED: transfer event carries event data
	ControlDir         = 1 << 16 // DIR: data stage direction IN
	ControlSIA         = 1 << 31 // SIA: isoch start as soon as possible

	typeShift  = 10
	typeMask   = 0x3F << typeShift
	slotShift  = 24
	epShift    = 16
	epMask     = 0x1F << epShift
	trtShift   = 16
	trtMask    = 0x3 << trtShift
	slotTypeSh = 16
)

// Status word layout.
const (
	statusCodeShift = 24
	lengthMask      = 0x00FF_FFFF
	tdSizeShift     = 17
	tdSizeMask      = 0x1F << tdSizeShift
	normalLenMask   = 0x1_FFFF
)

// MaxTransferLength is the largest byte count one Normal/Data/Isoch TRB moves.
const MaxTransferLength = normalLenMask

// Parameter returns the 64-bit parameter field.
func (t TRB) Parameter() uint64 {
	return uint64(t[0]) | uint64(t[1])<<32
}

// SetParameter sets the 64-bit parameter field.
func (t *TRB) SetParameter(v uint64) {
	t[0] = uint32(v)
	t[1] = uint32(v >> 32)
}

// Status returns the status dword.
func (t TRB) Status() uint32 { return t[2] }

// Control returns the control dword.
func (t TRB) Control() uint32 { return t[3] }

// Cycle returns the cycle bit.
func (t TRB) Cycle() bool { return t[3]&ControlCycle != 0 }

// SetCycle sets or clears the cycle bit.
func (t *TRB) SetCycle(c bool) {
	if c {
		t[3] |= ControlCycle
	} else {
		t[3] &^= ControlCycle
	}
}

// Type returns the TRB type field.
func (t TRB) Type() Type { return Type((t[3] & typeMask) >> typeShift) }

// SetType sets the TRB type field.
func (t *TRB) SetType(ty Type) {
	t[3] = t[3]&^typeMask | uint32(ty)<<typeShift&typeMask
}

// Has reports whether every bit of flag is set in the control word.
func (t TRB) Has(flag uint32) bool { return t[3]&flag == flag }

// Set sets flag in the control word.
func (t *TRB) Set(flag uint32) { t[3] |= flag }

// SlotID returns the slot id in control bits 31:24.
func (t TRB) SlotID() uint8 { return uint8(t[3] >> slotShift) }

// SetSlotID sets the slot id in control bits 31:24.
func (t *TRB) SetSlotID(slot uint8) {
	t[3] = t[3]&^(0xFF<<slotShift) | uint32(slot)<<slotShift
}

// EndpointID returns the endpoint id (DCI) in control bits 20:16.
func (t TRB) EndpointID() uint8 { return uint8((t[3] & epMask) >> epShift) }

// SetEndpointID sets the endpoint id (DCI) in control bits 20:16.
func (t *TRB) SetEndpointID(dci uint8) {
	t[3] = t[3]&^epMask | uint32(dci)<<epShift&epMask
}

// CompletionCode returns the completion code of an event TRB.
func (t TRB) CompletionCode() CompletionCode {
	return CompletionCode(t[2] >> statusCodeShift)
}

// SetCompletionCode sets the completion code of an event TRB.
func (t *TRB) SetCompletionCode(c CompletionCode) {
	t[2] = t[2]&lengthMask | uint32(c)<<statusCodeShift
}

// TransferLength returns the 24-bit length field of an event TRB, which
// for Transfer Events is the residual byte count.
func (t TRB) TransferLength() uint32 { return t[2] & lengthMask }

// NormalLength returns the 17-bit TRB transfer length of a transfer TRB.
func (t TRB) NormalLength() uint32 { return t[2] & normalLenMask }

// TDSize returns the TD size field of a transfer TRB.
func (t TRB) TDSize() uint8 { return uint8((t[2] & tdSizeMask) >> tdSizeShift) }

// TransferType returns the TRT field of a Setup Stage TRB.
func (t TRB) TransferType() SetupTransferType {
	return SetupTransferType((t[3] & trtMask) >> trtShift)
}

// String formats the TRB for debugging.
func (t TRB) String() string {
	return fmt.Sprintf("%s{param=%#x status=%#x control=%#x}", t.Type(), t.Parameter(), t[2], t[3])
}
