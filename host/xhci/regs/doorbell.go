package regs

// Doorbell targets.
const (
	DoorbellCommand = 0 // Host controller doorbell target for the command ring
	DoorbellControl = 1 // DCI of the default control endpoint
)

// Doorbells is the doorbell register array.
type Doorbells struct{ block }

// Ring writes doorbell slot with the given target and stream id. Slot 0
// with target 0 rings the command ring.
func (d Doorbells) Ring(slot, target uint8, stream uint16) {
	d.write32(4*uint32(slot), uint32(target)|uint32(stream)<<16)
}

// RingCommand rings the host controller doorbell.
func (d Doorbells) RingCommand() { d.Ring(0, DoorbellCommand, 0) }
