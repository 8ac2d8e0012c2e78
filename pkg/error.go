package pkg

import "errors"

// Errors shared by the platform layer, the controller engine, and the host
// bus manager. Callers wrap them with fmt.Errorf("%w: ...") and test with
// errors.Is.
var (
	// ErrStall reports a STALL handshake from the device.
	ErrStall = errors.New("endpoint stalled")

	// ErrHalted reports a transfer refused because the endpoint context
	// is Halted; reset the endpoint before retrying.
	ErrHalted = errors.New("endpoint halted")

	// ErrTimeout reports a bounded register or event wait that expired.
	ErrTimeout = errors.New("wait timeout")

	// ErrCancelled reports a wait ended by the caller's context.
	ErrCancelled = errors.New("operation cancelled")

	// ErrNoDevice reports an empty port or a detached slot.
	ErrNoDevice = errors.New("device not present")

	// ErrNotConfigured reports a request that needs a configured slot.
	ErrNotConfigured = errors.New("device not configured")

	// ErrInvalidEndpoint reports an endpoint address or DCI the slot has
	// not configured, or one of the wrong transfer type.
	ErrInvalidEndpoint = errors.New("invalid endpoint")

	// ErrInvalidSlot reports a slot id that is zero, above MaxSlots, or
	// not enabled.
	ErrInvalidSlot = errors.New("invalid slot")

	// ErrInvalidRequest reports a URB the engine cannot carry out.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrInvalidParameter reports an argument outside its legal range.
	ErrInvalidParameter = errors.New("invalid parameter")

	// ErrBufferTooSmall reports a data buffer shorter than the transfer.
	ErrBufferTooSmall = errors.New("buffer too small")

	// ErrQueueFull reports a work queue with no free entry.
	ErrQueueFull = errors.New("queue full")

	// ErrNotSupported reports a feature the controller or model lacks.
	ErrNotSupported = errors.New("not supported")

	// ErrNoMemory reports a DMA allocation the platform could not satisfy.
	ErrNoMemory = errors.New("insufficient memory")

	// ErrDescriptorTooShort reports descriptor bytes shorter than bLength
	// or wTotalLength promise.
	ErrDescriptorTooShort = errors.New("descriptor too short")

	// ErrDescriptorTypeMismatch reports a descriptor of unexpected type.
	ErrDescriptorTypeMismatch = errors.New("descriptor type mismatch")

	// ErrAlreadyRunning reports a second Init or Start.
	ErrAlreadyRunning = errors.New("already running")

	// ErrNotRunning reports a request made before Init or after Close.
	ErrNotRunning = errors.New("not running")
)
