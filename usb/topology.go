package usb

import (
	"fmt"

	"github.com/ardnew/softxhci/pkg"
)

// DeviceTopology is the parsed descriptor tree of one attached device.
type DeviceTopology struct {
	Device  DeviceDescriptor
	Configs []*ConfigTree
}

// ConfigTree is one configuration and the functions it exposes.
type ConfigTree struct {
	Descriptor ConfigurationDescriptor
	Functions  []Function
	Extra      [][]byte // Descriptors preceding the first interface
}

// Function is either a standalone *Interface or an *InterfaceAssociation.
type Function interface {
	// Interfaces returns every interface node in the function.
	Interfaces() []*Interface
}

// Interface is one alternate setting of an interface.
type Interface struct {
	Descriptor InterfaceDescriptor
	Endpoints  []*Endpoint
	Extra      [][]byte // Class-specific descriptors
}

// Interfaces returns the interface itself.
func (i *Interface) Interfaces() []*Interface { return []*Interface{i} }

// InterfaceAssociation groups interfaces under one IAD.
type InterfaceAssociation struct {
	Descriptor InterfaceAssociationDescriptor
	Members    []*Interface
}

// Interfaces returns the associated interfaces.
func (a *InterfaceAssociation) Interfaces() []*Interface { return a.Members }

// Endpoint is a standard endpoint descriptor and its companions.
type Endpoint struct {
	Descriptor EndpointDescriptor
	Companion  *SSEndpointCompanionDescriptor
	Extra      [][]byte // Class-specific endpoint descriptors
}

// Endpoints returns every standard endpoint in the configuration, in
// descriptor order.
func (c *ConfigTree) Endpoints() []*Endpoint {
	var eps []*Endpoint
	for _, fn := range c.Functions {
		for _, iface := range fn.Interfaces() {
			eps = append(eps, iface.Endpoints...)
		}
	}
	return eps
}

// Interface returns the first node matching the interface number and
// alternate setting, or nil.
func (c *ConfigTree) Interface(number, alt uint8) *Interface {
	for _, fn := range c.Functions {
		for _, iface := range fn.Interfaces() {
			if iface.Descriptor.InterfaceNumber == number &&
				iface.Descriptor.AlternateSetting == alt {
				return iface
			}
		}
	}
	return nil
}

// ParseConfigTree parses a full configuration descriptor set.
//
// Interfaces whose number falls inside a preceding IAD's range are
// attached to that association; class-specific descriptors are kept as
// raw bytes on the node they follow.
func ParseConfigTree(data []byte) (*ConfigTree, error) {
	if len(data) < ConfigurationDescriptorSize {
		return nil, fmt.Errorf("%w: configuration %d bytes", pkg.ErrDescriptorTooShort, len(data))
	}

	tree := &ConfigTree{}
	if !ParseConfigurationDescriptor(data, &tree.Descriptor) {
		return nil, pkg.ErrDescriptorTooShort
	}
	if tree.Descriptor.DescriptorType != DescriptorTypeConfiguration {
		return nil, fmt.Errorf("%w: type %#x", pkg.ErrDescriptorTypeMismatch, tree.Descriptor.DescriptorType)
	}

	total := int(tree.Descriptor.TotalLength)
	if total > len(data) {
		total = len(data)
	}

	var (
		assoc    *InterfaceAssociation
		iface    *Interface
		endpoint *Endpoint
	)

	offset := int(tree.Descriptor.Length)
	if offset < ConfigurationDescriptorSize {
		offset = ConfigurationDescriptorSize
	}

	for offset+2 <= total {
		length := int(data[offset])
		descType := data[offset+1]

		if length < 2 || offset+length > total {
			return nil, fmt.Errorf("%w: descriptor at offset %d", pkg.ErrDescriptorTooShort, offset)
		}
		raw := data[offset : offset+length]

		switch descType {
		case DescriptorTypeInterfaceAssociation:
			a := &InterfaceAssociation{}
			if !ParseInterfaceAssociationDescriptor(raw, &a.Descriptor) {
				return nil, fmt.Errorf("%w: interface association", pkg.ErrDescriptorTooShort)
			}
			assoc = a
			iface, endpoint = nil, nil
			tree.Functions = append(tree.Functions, a)

		case DescriptorTypeInterface:
			node := &Interface{}
			if !ParseInterfaceDescriptor(raw, &node.Descriptor) {
				return nil, fmt.Errorf("%w: interface", pkg.ErrDescriptorTooShort)
			}
			if assoc != nil && inAssociation(&assoc.Descriptor, node.Descriptor.InterfaceNumber) {
				assoc.Members = append(assoc.Members, node)
			} else {
				assoc = nil
				tree.Functions = append(tree.Functions, node)
			}
			iface, endpoint = node, nil

		case DescriptorTypeEndpoint:
			ep := &Endpoint{}
			if !ParseEndpointDescriptor(raw, &ep.Descriptor) {
				return nil, fmt.Errorf("%w: endpoint", pkg.ErrDescriptorTooShort)
			}
			if iface == nil {
				return nil, fmt.Errorf("%w: endpoint before interface", pkg.ErrInvalidRequest)
			}
			iface.Endpoints = append(iface.Endpoints, ep)
			endpoint = ep

		case DescriptorTypeSSEndpointCompanion:
			if endpoint != nil {
				c := &SSEndpointCompanionDescriptor{}
				if ParseSSEndpointCompanionDescriptor(raw, c) {
					endpoint.Companion = c
				}
			}

		default:
			extra := make([]byte, length)
			copy(extra, raw)
			switch {
			case endpoint != nil && descType == DescriptorTypeCSEndpoint:
				endpoint.Extra = append(endpoint.Extra, extra)
			case iface != nil:
				iface.Extra = append(iface.Extra, extra)
			default:
				tree.Extra = append(tree.Extra, extra)
			}
		}

		offset += length
	}

	return tree, nil
}

func inAssociation(a *InterfaceAssociationDescriptor, number uint8) bool {
	return number >= a.FirstInterface && int(number) < int(a.FirstInterface)+int(a.InterfaceCount)
}
