package sim

import (
	"sync"

	"github.com/ardnew/softxhci/usb"
)

// =============================================================================
// HID Mouse
// =============================================================================

// HID class codes and requests.
const (
	classHID              = 0x03
	hidSubclassBoot       = 0x01
	hidProtocolMouse      = 0x02
	hidDescriptorType     = 0x21
	hidReportType         = 0x22
	hidRequestGetReport   = 0x01
	hidRequestSetIdle     = 0x0A
	hidRequestSetProtocol = 0x0B
)

// MouseEndpoint is the interrupt IN endpoint of a Mouse.
const MouseEndpoint = 0x81

// mouseReport is a three-button boot protocol mouse report descriptor.
var mouseReport = []byte{
	0x05, 0x01, 0x09, 0x02, 0xA1, 0x01, 0x09, 0x01,
	0xA1, 0x00, 0x05, 0x09, 0x19, 0x01, 0x29, 0x03,
	0x15, 0x00, 0x25, 0x01, 0x95, 0x03, 0x75, 0x01,
	0x81, 0x02, 0x95, 0x01, 0x75, 0x05, 0x81, 0x01,
	0x05, 0x01, 0x09, 0x30, 0x09, 0x31, 0x09, 0x38,
	0x15, 0x81, 0x25, 0x7F, 0x75, 0x08, 0x95, 0x03,
	0x81, 0x06, 0xC0, 0xC0,
}

// Mouse is a boot protocol HID mouse with a queue of pending reports.
type Mouse struct {
	*Model

	mu       sync.Mutex
	reports  [][]byte
	protocol uint8
}

// NewMouse returns a mouse connecting at speed.
func NewMouse(speed usb.Speed) *Mouse {
	m := &Mouse{protocol: 1}
	interval := uint8(10)
	if speed == usb.SpeedHigh || speed.IsSuperSpeed() {
		interval = 7 // 2^(7-1) microframes = 8 ms
	}
	hid := []byte{9, hidDescriptorType, 0x11, 0x01, 0, 1, hidReportType,
		byte(len(mouseReport)), byte(len(mouseReport) >> 8)}

	model, err := NewBuilder(speed).
		WithVendorProduct(0x046D, 0xC077).
		WithStrings("softxhci", "Optical Mouse", "").
		AddConfiguration(1).
		AddInterface(0, 0, classHID, hidSubclassBoot, hidProtocolMouse).
		AddClassDescriptor(hid).
		AddEndpoint(MouseEndpoint, usb.EndpointTypeInterrupt, 4, interval).
		WithInterfaceDescriptor(0, hidReportType, mouseReport).
		OnRequest(m.request).
		OnIn(MouseEndpoint, m.report).
		Build()
	if err != nil {
		panic(err)
	}
	m.Model = model
	return m
}

// Move queues one report.
func (m *Mouse) Move(buttons uint8, dx, dy, wheel int8) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reports = append(m.reports, []byte{buttons, byte(dx), byte(dy), byte(wheel)})
}

// Pending returns the number of queued reports.
func (m *Mouse) Pending() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.reports)
}

func (m *Mouse) report(max int) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.reports) == 0 {
		return nil, ErrNAK
	}
	r := m.reports[0]
	m.reports = m.reports[1:]
	return r, nil
}

func (m *Mouse) request(setup usb.SetupPacket, data []byte) ([]byte, error) {
	if setup.RequestType&0x60 != usb.RequestTypeClass {
		return nil, ErrStall
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	switch setup.Request {
	case hidRequestSetIdle:
		return nil, nil
	case hidRequestSetProtocol:
		m.protocol = uint8(setup.Value)
		return nil, nil
	case hidRequestGetReport:
		return []byte{0, 0, 0, 0}, nil
	default:
		return nil, ErrStall
	}
}

// =============================================================================
// UVC Camera
// =============================================================================

// Video class codes and requests.
const (
	classVideo              = 0x0E
	videoSubclassControl    = 0x01
	videoSubclassStreaming  = 0x02
	videoSubclassCollection = 0x03
	uvcSetCur               = 0x01
	uvcGetCur               = 0x81
	uvcGetMin               = 0x82
	uvcGetMax               = 0x83
	uvcProbeControl         = 0x01
	uvcCommitControl        = 0x02
	uvcProbeLength          = 26
	uvcHeaderLength         = 2
	uvcFrameID              = 0x01
	uvcEndOfFrame           = 0x02
)

// Camera endpoints.
const (
	CameraStatusEndpoint = 0x83
	CameraVideoEndpoint  = 0x81
)

// Camera is a video camera streaming a test pattern from the isochronous
// endpoint of interface 1 alternate setting 1.
type Camera struct {
	*Model

	mu        sync.Mutex
	probe     []byte
	committed bool
	frameSize int
	sent      int
	fid       byte
	payloads  int
}

// NewCamera returns a camera connecting at speed whose streaming
// endpoint has the given max packet size. frameSize is the number of
// pattern bytes per video frame.
func NewCamera(speed usb.Speed, isochMPS uint16, frameSize int) *Camera {
	c := &Camera{probe: make([]byte, uvcProbeLength), frameSize: frameSize}
	interval := uint8(1)
	vcHeader := []byte{13, usb.DescriptorTypeCSInterface, 0x01, 0x10, 0x01,
		13, 0, 0x00, 0x6C, 0xDC, 0x02, 1, 1}
	vsHeader := []byte{14, usb.DescriptorTypeCSInterface, 0x01, 0, 14, 0,
		CameraVideoEndpoint, 0, 0, 0, 0, 0, 0, 0}

	model, err := NewBuilder(speed).
		WithClass(0xEF, 0x02, 0x01).
		WithVendorProduct(0x0C45, 0x6366).
		WithStrings("softxhci", "Test Camera", "CAM0001").
		AddConfiguration(1).
		AddAssociation(0, 2, classVideo, videoSubclassCollection, 0).
		AddInterface(0, 0, classVideo, videoSubclassControl, 0).
		AddClassDescriptor(vcHeader).
		AddEndpoint(CameraStatusEndpoint, usb.EndpointTypeInterrupt, 16, 8).
		AddInterface(1, 0, classVideo, videoSubclassStreaming, 0).
		AddClassDescriptor(vsHeader).
		AddInterface(1, 1, classVideo, videoSubclassStreaming, 0).
		AddEndpoint(CameraVideoEndpoint, usb.EndpointTypeIsochronous, isochMPS, interval).
		OnRequest(c.request).
		OnIn(CameraVideoEndpoint, c.stream).
		Build()
	if err != nil {
		panic(err)
	}
	c.Model = model
	return c
}

// Committed reports whether the host committed streaming parameters.
func (c *Camera) Committed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.committed
}

// Payloads returns the number of payloads streamed.
func (c *Camera) Payloads() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.payloads
}

// stream returns one payload: a header followed by pattern bytes. The
// last payload of a frame carries the end of frame bit.
func (c *Camera) stream(max int) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if max <= uvcHeaderLength {
		return nil, nil
	}
	n := max - uvcHeaderLength
	if left := c.frameSize - c.sent; n >= left {
		n = left
	}
	p := make([]byte, uvcHeaderLength+n)
	p[0] = uvcHeaderLength
	p[1] = c.fid
	for i := 0; i < n; i++ {
		p[uvcHeaderLength+i] = byte(c.sent + i)
	}
	c.sent += n
	if c.sent >= c.frameSize {
		p[1] |= uvcEndOfFrame
		c.sent = 0
		c.fid ^= uvcFrameID
	}
	c.payloads++
	return p, nil
}

func (c *Camera) request(setup usb.SetupPacket, data []byte) ([]byte, error) {
	if setup.RequestType&0x60 != usb.RequestTypeClass {
		return nil, ErrStall
	}
	selector := uint8(setup.Value >> 8)
	if selector != uvcProbeControl && selector != uvcCommitControl {
		return nil, ErrStall
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	switch setup.Request {
	case uvcSetCur:
		copy(c.probe, data)
		if selector == uvcCommitControl {
			c.committed = true
		}
		return nil, nil
	case uvcGetCur, uvcGetMin, uvcGetMax:
		return append([]byte(nil), c.probe...), nil
	default:
		return nil, ErrStall
	}
}

// =============================================================================
// CH341 Serial Adapter
// =============================================================================

// CH341 vendor requests.
const (
	ch341ReadVersion  = 0x5F
	ch341ReadRegister = 0x95
	ch341WriteReg     = 0x9A
	ch341SerialInit   = 0xA1
	ch341ModemControl = 0xA4
	ch341Version      = 0x30
)

// Serial endpoints.
const (
	SerialStatusEndpoint = 0x81
	SerialInEndpoint     = 0x82
	SerialOutEndpoint    = 0x02
)

// Serial is a CH341-like USB serial adapter that loops every byte written
// to its bulk OUT endpoint back to its bulk IN endpoint.
type Serial struct {
	*Model

	mu        sync.Mutex
	registers map[uint16]uint16
	modem     uint16
	buffer    []byte
}

// NewSerial returns a full speed serial adapter.
func NewSerial() *Serial {
	s := &Serial{registers: make(map[uint16]uint16)}
	model, err := NewBuilder(usb.SpeedFull).
		WithVendorProduct(0x1A86, 0x7523).
		WithClass(0xFF, 0, 0).
		WithStrings("", "USB Serial", "").
		AddConfiguration(1).
		AddInterface(0, 0, 0xFF, 0x01, 0x02).
		AddEndpoint(SerialInEndpoint, usb.EndpointTypeBulk, 32, 0).
		AddEndpoint(SerialOutEndpoint, usb.EndpointTypeBulk, 32, 0).
		AddEndpoint(SerialStatusEndpoint, usb.EndpointTypeInterrupt, 8, 1).
		OnRequest(s.request).
		OnIn(SerialInEndpoint, s.read).
		OnOut(SerialOutEndpoint, s.write).
		Build()
	if err != nil {
		panic(err)
	}
	s.Model = model
	return s
}

// Register returns the value last written to a chip register.
func (s *Serial) Register(reg uint16) uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.registers[reg]
}

// ModemControl returns the last modem control word.
func (s *Serial) ModemControl() uint16 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.modem
}

func (s *Serial) write(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.buffer = append(s.buffer, data...)
	return nil
}

func (s *Serial) read(max int) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.buffer) == 0 {
		return nil, ErrNAK
	}
	n := len(s.buffer)
	if n > max {
		n = max
	}
	out := append([]byte(nil), s.buffer[:n]...)
	s.buffer = s.buffer[n:]
	return out, nil
}

func (s *Serial) request(setup usb.SetupPacket, data []byte) ([]byte, error) {
	if setup.RequestType&0x60 != usb.RequestTypeVendor {
		return nil, ErrStall
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch setup.Request {
	case ch341ReadVersion:
		return []byte{ch341Version, 0}, nil
	case ch341ReadRegister:
		// Value holds two register addresses, one per byte.
		lo := s.registers[setup.Value&0xFF]
		hi := s.registers[setup.Value>>8]
		return []byte{byte(lo), byte(hi)}, nil
	case ch341WriteReg:
		s.registers[setup.Value&0xFF] = setup.Index & 0xFF
		s.registers[setup.Value>>8] = setup.Index >> 8
		return nil, nil
	case ch341SerialInit:
		s.registers[0x12] = setup.Value
		return nil, nil
	case ch341ModemControl:
		s.modem = ^setup.Value
		return nil, nil
	default:
		return nil, ErrStall
	}
}
