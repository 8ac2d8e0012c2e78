package sim

import (
	"errors"

	"github.com/ardnew/softxhci/usb"
)

// Device responses.
var (
	// ErrStall makes the controller complete the transfer with Stall
	// Error and halt the endpoint.
	ErrStall = errors.New("sim: stall")

	// ErrNAK leaves the transfer pending; it is retried on the next
	// doorbell of the slot or the next Kick.
	ErrNAK = errors.New("sim: nak")
)

// Device is a USB device plugged into a simulated root port.
type Device interface {
	// Speed returns the PORTSC speed the device connects at.
	Speed() usb.Speed

	// Control handles one control request. data holds the OUT data
	// stage; the returned bytes are the IN data stage.
	Control(setup usb.SetupPacket, data []byte) ([]byte, error)

	// In returns up to max bytes from IN endpoint address.
	In(address uint8, max int) ([]byte, error)

	// Out delivers data to OUT endpoint address.
	Out(address uint8, data []byte) error

	// Reset returns the device to the Default state.
	Reset()
}
