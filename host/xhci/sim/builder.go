package sim

import (
	"fmt"

	"github.com/ardnew/softxhci/pkg"
	"github.com/ardnew/softxhci/usb"
)

// Configuration attributes reported by built models.
const (
	configAttributes = 0x80 // bus powered
	configMaxPower   = 50   // 100 mA
)

// pendingConfig collects the descriptors of one configuration.
type pendingConfig struct {
	value      uint8
	parts      [][]byte
	alternates map[uint8][]uint8
	endpoints  map[uint16][]uint8

	iface, alt uint8
	ifacePart  int // index into parts of the current interface, -1 if none
}

func (c *pendingConfig) hasAlternate(iface, alt uint8) bool {
	for _, a := range c.alternates[iface] {
		if a == alt {
			return true
		}
	}
	return false
}

// Builder provides a fluent API for building a Model.
type Builder struct {
	model   *Model
	configs []*pendingConfig
	config  *pendingConfig
	errors  []error
}

// NewBuilder starts a device connecting at speed. The default control
// endpoint packet size follows the speed.
func NewBuilder(speed usb.Speed) *Builder {
	desc := usb.DeviceDescriptor{
		Length:         usb.DeviceDescriptorSize,
		DescriptorType: usb.DescriptorTypeDevice,
		USBVersion:     0x0200,
		MaxPacketSize0: 64,
	}
	switch speed {
	case usb.SpeedLow:
		desc.USBVersion = 0x0110
		desc.MaxPacketSize0 = 8
	case usb.SpeedFull:
		desc.USBVersion = 0x0110
	case usb.SpeedSuper, usb.SpeedSuperPlus:
		desc.USBVersion = 0x0300
		desc.MaxPacketSize0 = 9 // 2^9 = 512
	}
	return &Builder{
		model: &Model{
			speed:          speed,
			desc:           desc,
			strings:        make(map[uint8][]byte),
			interfaceDescs: make(map[uint16][]byte),
			alternates:     make(map[uint8]uint8),
			halted:         make(map[uint8]bool),
			in:             make(map[uint8]InHandler),
			out:            make(map[uint8]OutHandler),
		},
	}
}

// WithVendorProduct sets vendor and product IDs.
func (b *Builder) WithVendorProduct(vendorID, productID uint16) *Builder {
	b.model.desc.VendorID = vendorID
	b.model.desc.ProductID = productID
	return b
}

// WithMaxPacketSize0 overrides bMaxPacketSize0. SuperSpeed devices
// encode it as an exponent of two.
func (b *Builder) WithMaxPacketSize0(mps uint8) *Builder {
	b.model.desc.MaxPacketSize0 = mps
	return b
}

// WithClass sets the device class triple.
func (b *Builder) WithClass(class, subClass, protocol uint8) *Builder {
	b.model.desc.DeviceClass = class
	b.model.desc.DeviceSubClass = subClass
	b.model.desc.DeviceProtocol = protocol
	return b
}

// WithStrings sets the manufacturer, product, and serial strings.
func (b *Builder) WithStrings(manufacturer, product, serial string) *Builder {
	m := b.model
	m.strings[0] = encode(func(buf []byte) int { return usb.LanguageDescriptorTo(buf, usb.LangIDUSEnglish) })
	for i, s := range []string{manufacturer, product, serial} {
		if s == "" {
			continue
		}
		idx := uint8(i + 1)
		m.strings[idx] = encode(func(buf []byte) int { return usb.StringDescriptorTo(buf, s) })
		switch idx {
		case 1:
			m.desc.ManufacturerIndex = idx
		case 2:
			m.desc.ProductIndex = idx
		case 3:
			m.desc.SerialNumberIndex = idx
		}
	}
	return b
}

func encode(marshal func([]byte) int) []byte {
	buf := make([]byte, 256)
	return buf[:marshal(buf)]
}

// AddConfiguration starts a new configuration.
func (b *Builder) AddConfiguration(value uint8) *Builder {
	if value == 0 {
		b.errors = append(b.errors, fmt.Errorf("%w: configuration value 0", pkg.ErrInvalidParameter))
		return b
	}
	b.config = &pendingConfig{
		value:      value,
		alternates: make(map[uint8][]uint8),
		endpoints:  make(map[uint16][]uint8),
		ifacePart:  -1,
	}
	b.configs = append(b.configs, b.config)
	return b
}

// AddAssociation adds an interface association descriptor.
func (b *Builder) AddAssociation(first, count, class, subClass, protocol uint8) *Builder {
	if b.config == nil {
		b.errors = append(b.errors, fmt.Errorf("%w: association outside configuration", pkg.ErrInvalidRequest))
		return b
	}
	d := usb.InterfaceAssociationDescriptor{
		FirstInterface:   first,
		InterfaceCount:   count,
		FunctionClass:    class,
		FunctionSubClass: subClass,
		FunctionProtocol: protocol,
	}
	b.config.parts = append(b.config.parts, encode(d.MarshalTo))
	return b
}

// AddInterface adds an interface setting to the current configuration.
func (b *Builder) AddInterface(number, alternate, class, subClass, protocol uint8) *Builder {
	c := b.config
	if c == nil {
		b.errors = append(b.errors, fmt.Errorf("%w: interface outside configuration", pkg.ErrInvalidRequest))
		return b
	}
	if c.hasAlternate(number, alternate) {
		b.errors = append(b.errors, fmt.Errorf("%w: interface %d alternate %d repeated",
			pkg.ErrInvalidParameter, number, alternate))
		return b
	}
	d := usb.InterfaceDescriptor{
		InterfaceNumber:   number,
		AlternateSetting:  alternate,
		InterfaceClass:    class,
		InterfaceSubClass: subClass,
		InterfaceProtocol: protocol,
	}
	c.parts = append(c.parts, encode(d.MarshalTo))
	c.ifacePart = len(c.parts) - 1
	c.iface, c.alt = number, alternate
	c.alternates[number] = append(c.alternates[number], alternate)
	return b
}

// AddEndpoint adds an endpoint to the current interface setting. A
// SuperSpeed device gets a companion descriptor after it.
func (b *Builder) AddEndpoint(address, transferType uint8, maxPacketSize uint16, interval uint8) *Builder {
	c := b.config
	if c == nil || c.ifacePart < 0 {
		b.errors = append(b.errors, fmt.Errorf("%w: endpoint outside interface", pkg.ErrInvalidRequest))
		return b
	}
	if address&0x0F == 0 || transferType == usb.EndpointTypeControl {
		b.errors = append(b.errors, fmt.Errorf("%w: endpoint %#02x", pkg.ErrInvalidEndpoint, address))
		return b
	}
	d := usb.EndpointDescriptor{
		EndpointAddress: address,
		Attributes:      transferType & 0x3,
		MaxPacketSize:   maxPacketSize,
		Interval:        interval,
	}
	c.parts = append(c.parts, encode(d.MarshalTo))
	c.parts[c.ifacePart][4]++ // bNumEndpoints

	if b.model.speed.IsSuperSpeed() {
		comp := usb.SSEndpointCompanionDescriptor{}
		if transferType == usb.EndpointTypeInterrupt || transferType == usb.EndpointTypeIsochronous {
			comp.BytesPerInterval = d.MaxPacketSizeBase()
		}
		c.parts = append(c.parts, encode(comp.MarshalTo))
	}

	key := uint16(c.iface)<<8 | uint16(c.alt)
	c.endpoints[key] = append(c.endpoints[key], address)
	return b
}

// AddClassDescriptor appends a raw class-specific descriptor.
func (b *Builder) AddClassDescriptor(raw []byte) *Builder {
	if b.config == nil || len(raw) < 2 || int(raw[0]) != len(raw) {
		b.errors = append(b.errors, fmt.Errorf("%w: class descriptor", pkg.ErrInvalidParameter))
		return b
	}
	b.config.parts = append(b.config.parts, append([]byte(nil), raw...))
	return b
}

// WithInterfaceDescriptor registers a descriptor returned by
// GET_DESCRIPTOR addressed to interface iface, such as a HID report
// descriptor.
func (b *Builder) WithInterfaceDescriptor(iface, kind uint8, raw []byte) *Builder {
	b.model.interfaceDescs[uint16(kind)<<8|uint16(iface)] = append([]byte(nil), raw...)
	return b
}

// OnRequest sets the handler for class and vendor control requests.
func (b *Builder) OnRequest(h RequestHandler) *Builder {
	b.model.request = h
	return b
}

// OnIn sets the data source of an IN endpoint.
func (b *Builder) OnIn(address uint8, h InHandler) *Builder {
	b.model.in[address|usb.EndpointDirectionIn] = h
	return b
}

// OnOut sets the data sink of an OUT endpoint.
func (b *Builder) OnOut(address uint8, h OutHandler) *Builder {
	b.model.out[address&0x0F] = h
	return b
}

// Build returns the constructed model.
func (b *Builder) Build() (*Model, error) {
	if len(b.errors) > 0 {
		return nil, b.errors[0]
	}
	if len(b.configs) == 0 {
		return nil, fmt.Errorf("%w: no configuration", pkg.ErrInvalidRequest)
	}
	m := b.model
	for i, pc := range b.configs {
		total := usb.ConfigurationDescriptorSize
		for _, p := range pc.parts {
			total += len(p)
		}
		hdr := usb.ConfigurationDescriptor{
			TotalLength:        uint16(total),
			NumInterfaces:      uint8(len(pc.alternates)),
			ConfigurationValue: pc.value,
			Attributes:         configAttributes,
			MaxPower:           configMaxPower,
		}
		raw := make([]byte, usb.ConfigurationDescriptorSize, total)
		hdr.MarshalTo(raw)
		for _, p := range pc.parts {
			raw = append(raw, p...)
		}
		m.configs = append(m.configs, &modelConfig{
			value:      pc.value,
			raw:        raw,
			alternates: pc.alternates,
			endpoints:  pc.endpoints,
		})
		pkg.LogDebug(pkg.ComponentSim, "model configuration",
			"index", i, "value", pc.value, "length", total)
	}
	m.desc.NumConfigurations = uint8(len(m.configs))
	return m, nil
}
