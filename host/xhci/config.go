package xhci

// Config holds the tunables of a Controller.
type Config struct {
	// CommandRingLength is the number of TRBs in the command ring.
	CommandRingLength int

	// EventRingLength is the number of TRBs in the event ring segment.
	EventRingLength int

	// EndpointRings is the number of transfer rings allocated for each
	// slot, indexed by DCI-1.
	EndpointRings int

	// Interrupter is the interrupter whose event ring the engine drains.
	Interrupter int

	// ModerationInterval is written to IMOD in 250ns units.
	ModerationInterval uint16

	// InterruptEnable sets USBCMD.INTE and IMAN.IE. The engine polls
	// either way.
	InterruptEnable bool

	// SlotType is the slot type passed to Enable Slot. It is normally
	// found through the Supported Protocol capability, which requires PCI
	// configuration access; 0 is correct for the root hub ports of most
	// controllers.
	SlotType uint8

	// MMIOSize is the size of the register window to map.
	MMIOSize int

	// Wait bounds every busy-wait.
	Wait WaitPolicy
}

// DefaultConfig returns the default controller configuration.
func DefaultConfig() Config {
	return Config{
		CommandRingLength:  256,
		EventRingLength:    256,
		EndpointRings:      32,
		Interrupter:        0,
		ModerationInterval: 4000,
		InterruptEnable:    true,
		SlotType:           0,
		MMIOSize:           0x10000,
		Wait:               DefaultWaitPolicy(),
	}
}

func (c *Config) normalize() {
	d := DefaultConfig()
	if c.CommandRingLength < 2 {
		c.CommandRingLength = d.CommandRingLength
	}
	if c.EventRingLength < 2 {
		c.EventRingLength = d.EventRingLength
	}
	if c.EndpointRings <= 0 || c.EndpointRings > 32 {
		c.EndpointRings = d.EndpointRings
	}
	if c.MMIOSize <= 0 {
		c.MMIOSize = d.MMIOSize
	}
}
