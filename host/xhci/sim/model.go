package sim

import (
	"encoding/binary"
	"sync"

	"github.com/ardnew/softxhci/pkg"
	"github.com/ardnew/softxhci/usb"
)

// RequestHandler answers class and vendor control requests.
type RequestHandler func(setup usb.SetupPacket, data []byte) ([]byte, error)

// InHandler produces up to max bytes for an IN endpoint. Returning ErrNAK
// leaves the transfer pending.
type InHandler func(max int) ([]byte, error)

// OutHandler consumes data sent to an OUT endpoint.
type OutHandler func(data []byte) error

// modelConfig is one configuration as the device reports it.
type modelConfig struct {
	value uint8
	raw   []byte

	// alternates lists the alternate settings of every interface.
	alternates map[uint8][]uint8

	// endpoints lists the endpoint addresses of every interface setting,
	// keyed by interface<<8 | alternate.
	endpoints map[uint16][]uint8
}

func (c *modelConfig) hasAlternate(iface, alt uint8) bool {
	for _, a := range c.alternates[iface] {
		if a == alt {
			return true
		}
	}
	return false
}

// Model is a Device that answers standard requests from its descriptors
// and routes data to per-endpoint handlers. Build one with a Builder.
type Model struct {
	mu sync.Mutex

	speed   usb.Speed
	desc    usb.DeviceDescriptor
	configs []*modelConfig
	strings map[uint8][]byte

	// interfaceDescs holds descriptors fetched with an interface
	// recipient, keyed by type<<8 | interface.
	interfaceDescs map[uint16][]byte

	address    uint8
	active     *modelConfig
	alternates map[uint8]uint8
	halted     map[uint8]bool
	wakeup     bool

	request RequestHandler
	in      map[uint8]InHandler
	out     map[uint8]OutHandler

	requests []usb.SetupPacket
	fail     []error
}

// Speed implements Device.
func (m *Model) Speed() usb.Speed { return m.speed }

// Descriptor returns the device descriptor.
func (m *Model) Descriptor() usb.DeviceDescriptor { return m.desc }

// Address returns the address assigned by SET_ADDRESS.
func (m *Model) Address() uint8 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.address
}

// Configuration returns the active configuration value, 0 when
// unconfigured.
func (m *Model) Configuration() uint8 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active == nil {
		return 0
	}
	return m.active.value
}

// Alternate returns the active alternate setting of iface.
func (m *Model) Alternate(iface uint8) uint8 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.alternates[iface]
}

// Halted reports whether the endpoint halt feature is set.
func (m *Model) Halted(address uint8) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.halted[address]
}

// Requests returns the control requests received so far.
func (m *Model) Requests() []usb.SetupPacket {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]usb.SetupPacket(nil), m.requests...)
}

// FailNext makes the next control request fail with err.
func (m *Model) FailNext(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fail = append(m.fail, err)
}

// SetHalt sets or clears the halt feature of an endpoint.
func (m *Model) SetHalt(address uint8, halted bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.halted[address] = halted
}

// Reset implements Device.
func (m *Model) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.address = 0
	m.active = nil
	m.alternates = make(map[uint8]uint8)
	m.halted = make(map[uint8]bool)
	m.wakeup = false
}

// Control implements Device.
func (m *Model) Control(setup usb.SetupPacket, data []byte) ([]byte, error) {
	m.mu.Lock()
	m.requests = append(m.requests, setup)
	if len(m.fail) > 0 {
		err := m.fail[0]
		m.fail = m.fail[1:]
		m.mu.Unlock()
		return nil, err
	}
	if setup.RequestType&0x60 != usb.RequestTypeStandard {
		h := m.request
		m.mu.Unlock()
		if h == nil {
			return nil, ErrStall
		}
		return h(setup, data)
	}
	defer m.mu.Unlock()

	resp, err := m.standard(setup)
	if err != nil {
		pkg.LogDebug(pkg.ComponentSim, "standard request rejected",
			"request", setup.Request, "value", setup.Value, "error", err)
		return nil, ErrStall
	}
	if len(resp) > int(setup.Length) {
		resp = resp[:setup.Length]
	}
	return resp, nil
}

// In implements Device.
func (m *Model) In(address uint8, max int) ([]byte, error) {
	m.mu.Lock()
	err := m.check(address)
	h := m.in[address]
	m.mu.Unlock()

	if err != nil {
		return nil, err
	}
	if h == nil {
		return nil, ErrNAK
	}
	b, err := h(max)
	if len(b) > max {
		b = b[:max]
	}
	return b, err
}

// Out implements Device.
func (m *Model) Out(address uint8, data []byte) error {
	m.mu.Lock()
	err := m.check(address)
	h := m.out[address]
	m.mu.Unlock()

	if err != nil {
		return err
	}
	if h == nil {
		return ErrNAK
	}
	return h(data)
}

// check stalls transfers to endpoints that are not part of the active
// interface settings or have their halt feature set.
func (m *Model) check(address uint8) error {
	if !m.activeEndpoint(address) || m.halted[address] {
		return ErrStall
	}
	return nil
}

func (m *Model) activeEndpoint(address uint8) bool {
	if m.active == nil {
		return false
	}
	for iface := range m.active.alternates {
		key := uint16(iface)<<8 | uint16(m.alternates[iface])
		for _, a := range m.active.endpoints[key] {
			if a == address {
				return true
			}
		}
	}
	return false
}

// =============================================================================
// Standard Requests
// =============================================================================

func (m *Model) standard(setup usb.SetupPacket) ([]byte, error) {
	switch setup.RequestType & 0x1F {
	case usb.RequestTypeDevice:
		return m.deviceRequest(setup)
	case usb.RequestTypeInterface:
		return m.interfaceRequest(setup)
	case usb.RequestTypeEndpoint:
		return m.endpointRequest(setup)
	default:
		return nil, pkg.ErrInvalidRequest
	}
}

func (m *Model) deviceRequest(setup usb.SetupPacket) ([]byte, error) {
	switch setup.Request {
	case usb.RequestGetStatus:
		var status uint16
		if m.wakeup {
			status |= 1 << 1
		}
		return binary.LittleEndian.AppendUint16(nil, status), nil
	case usb.RequestClearFeature, usb.RequestSetFeature:
		if setup.Value != usb.FeatureDeviceRemoteWakeup {
			return nil, pkg.ErrInvalidRequest
		}
		m.wakeup = setup.Request == usb.RequestSetFeature
		return nil, nil
	case usb.RequestSetAddress:
		if setup.Value > 127 || m.active != nil {
			return nil, pkg.ErrInvalidRequest
		}
		m.address = uint8(setup.Value)
		return nil, nil
	case usb.RequestGetDescriptor:
		return m.descriptor(uint8(setup.Value>>8), uint8(setup.Value))
	case usb.RequestGetConfiguration:
		return []byte{m.activeValue()}, nil
	case usb.RequestSetConfiguration:
		return nil, m.setConfiguration(uint8(setup.Value))
	default:
		return nil, pkg.ErrInvalidRequest
	}
}

func (m *Model) activeValue() uint8 {
	if m.active == nil {
		return 0
	}
	return m.active.value
}

func (m *Model) descriptor(kind, index uint8) ([]byte, error) {
	switch kind {
	case usb.DescriptorTypeDevice:
		buf := make([]byte, usb.DeviceDescriptorSize)
		m.desc.MarshalTo(buf)
		return buf, nil
	case usb.DescriptorTypeConfiguration:
		if int(index) >= len(m.configs) {
			return nil, pkg.ErrInvalidRequest
		}
		return m.configs[index].raw, nil
	case usb.DescriptorTypeString:
		s, ok := m.strings[index]
		if !ok {
			return nil, pkg.ErrInvalidRequest
		}
		return s, nil
	case usb.DescriptorTypeDeviceQualifier:
		if m.speed != usb.SpeedHigh {
			return nil, pkg.ErrNotSupported
		}
		q := make([]byte, 10)
		q[0] = 10
		q[1] = usb.DescriptorTypeDeviceQualifier
		binary.LittleEndian.PutUint16(q[2:4], m.desc.USBVersion)
		q[4] = m.desc.DeviceClass
		q[5] = m.desc.DeviceSubClass
		q[6] = m.desc.DeviceProtocol
		q[7] = m.desc.MaxPacketSize0
		q[8] = m.desc.NumConfigurations
		return q, nil
	default:
		return nil, pkg.ErrNotSupported
	}
}

func (m *Model) setConfiguration(value uint8) error {
	if m.address == 0 {
		return pkg.ErrInvalidRequest
	}
	m.alternates = make(map[uint8]uint8)
	m.halted = make(map[uint8]bool)
	if value == 0 {
		m.active = nil
		return nil
	}
	for _, c := range m.configs {
		if c.value == value {
			m.active = c
			return nil
		}
	}
	return pkg.ErrInvalidRequest
}

func (m *Model) interfaceRequest(setup usb.SetupPacket) ([]byte, error) {
	if m.active == nil {
		return nil, pkg.ErrNotConfigured
	}
	iface := uint8(setup.Index)
	if _, ok := m.active.alternates[iface]; !ok {
		return nil, pkg.ErrInvalidRequest
	}
	switch setup.Request {
	case usb.RequestGetStatus:
		return []byte{0, 0}, nil
	case usb.RequestGetInterface:
		return []byte{m.alternates[iface]}, nil
	case usb.RequestGetDescriptor:
		d, ok := m.interfaceDescs[setup.Value&0xFF00|uint16(iface)]
		if !ok {
			return nil, pkg.ErrInvalidRequest
		}
		return d, nil
	case usb.RequestSetInterface:
		alt := uint8(setup.Value)
		if !m.active.hasAlternate(iface, alt) {
			return nil, pkg.ErrInvalidRequest
		}
		for _, a := range m.active.endpoints[uint16(iface)<<8|uint16(alt)] {
			delete(m.halted, a)
		}
		m.alternates[iface] = alt
		return nil, nil
	default:
		return nil, pkg.ErrInvalidRequest
	}
}

func (m *Model) endpointRequest(setup usb.SetupPacket) ([]byte, error) {
	address := uint8(setup.Index)
	if address&0x7F != 0 && !m.activeEndpoint(address) {
		return nil, pkg.ErrInvalidEndpoint
	}
	switch setup.Request {
	case usb.RequestGetStatus:
		var status uint16
		if m.halted[address] {
			status = 1
		}
		return binary.LittleEndian.AppendUint16(nil, status), nil
	case usb.RequestClearFeature:
		if setup.Value != usb.FeatureEndpointHalt {
			return nil, pkg.ErrInvalidRequest
		}
		delete(m.halted, address)
		return nil, nil
	case usb.RequestSetFeature:
		if setup.Value != usb.FeatureEndpointHalt {
			return nil, pkg.ErrInvalidRequest
		}
		m.halted[address] = true
		return nil, nil
	case usb.RequestSynchFrame:
		return []byte{0, 0}, nil
	default:
		return nil, pkg.ErrInvalidRequest
	}
}

var _ Device = (*Model)(nil)
