package host

import "fmt"

// Device states as seen from the host.
const (
	DeviceStateDetached   DeviceState = 0 // Slot released or controller stopped
	DeviceStateAddress    DeviceState = 1 // Slot addressed, descriptors being read
	DeviceStateConfigured DeviceState = 2 // First configuration set up
	DeviceStateActive     DeviceState = 3 // Bound to a class driver
)

// DeviceState represents the lifecycle of an enumerated slot.
type DeviceState uint8

// String returns a human-readable state description.
func (s DeviceState) String() string {
	switch s {
	case DeviceStateDetached:
		return "Detached"
	case DeviceStateAddress:
		return "Address"
	case DeviceStateConfigured:
		return "Configured"
	case DeviceStateActive:
		return "Active"
	default:
		return fmt.Sprintf("Unknown State (%d)", s)
	}
}

// Transfer manager defaults.
const (
	// DefaultWorkers is the worker count used when none is given.
	DefaultWorkers = 2

	// DefaultQueueDepth is the capacity of the job queue.
	DefaultQueueDepth = 100
)
