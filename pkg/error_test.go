package pkg

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrors_Distinct(t *testing.T) {
	all := []error{
		ErrStall, ErrHalted, ErrTimeout, ErrCancelled, ErrNoDevice,
		ErrNotConfigured, ErrInvalidEndpoint, ErrInvalidSlot,
		ErrInvalidRequest, ErrInvalidParameter, ErrBufferTooSmall, ErrQueueFull,
		ErrNotSupported, ErrNoMemory, ErrDescriptorTooShort,
		ErrDescriptorTypeMismatch, ErrAlreadyRunning, ErrNotRunning,
	}

	seen := make(map[string]bool)
	for _, err := range all {
		if seen[err.Error()] {
			t.Errorf("duplicate error message %q", err.Error())
		}
		seen[err.Error()] = true
	}
}

func TestErrors_Wrapped(t *testing.T) {
	err := fmt.Errorf("%w: USBSTS.HCH never set", ErrTimeout)
	if !errors.Is(err, ErrTimeout) {
		t.Errorf("errors.Is(%v, ErrTimeout) = false", err)
	}
	if errors.Is(err, ErrStall) {
		t.Errorf("errors.Is(%v, ErrStall) = true", err)
	}
}
