package host

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/ardnew/softxhci/host/xhci"
	"github.com/ardnew/softxhci/pkg"
	"github.com/ardnew/softxhci/usb"
)

// Device represents an enumerated USB device from the host's perspective.
type Device struct {
	host  *Host
	slot  uint8
	hub   uint8
	port  uint8
	route uint32
	speed usb.Speed

	// Bus address assigned by the controller
	address uint8

	// Device descriptor
	descriptor usb.DeviceDescriptor

	// Parsed first configuration, nil if it could not be read
	config *usb.ConfigTree

	// String descriptors cache (indexed by string index)
	strings map[uint8]string

	// Current alternate setting per interface
	alternates map[uint8]uint8

	state  DeviceState
	driver Driver
	mutex  sync.RWMutex
}

// newDevice creates a device record from the controller's view of slot.
func newDevice(host *Host, a xhci.Attachment) *Device {
	return &Device{
		host:       host,
		slot:       a.Slot,
		hub:        a.Hub,
		port:       a.Port,
		route:      a.Route,
		speed:      a.Speed,
		address:    a.Address,
		strings:    make(map[uint8]string),
		alternates: make(map[uint8]uint8),
		state:      DeviceStateAddress,
	}
}

// Slot returns the controller slot id.
func (d *Device) Slot() uint8 {
	return d.slot
}

// Port returns the root port number the device is connected to.
func (d *Device) Port() uint8 {
	return d.port
}

// Route returns the route string of the device.
func (d *Device) Route() uint32 {
	return d.route
}

// Address returns the bus address assigned during attach.
func (d *Device) Address() uint8 {
	return d.address
}

// Speed returns the device speed.
func (d *Device) Speed() usb.Speed {
	return d.speed
}

// VendorID returns the vendor ID.
func (d *Device) VendorID() uint16 {
	return d.descriptor.VendorID
}

// ProductID returns the product ID.
func (d *Device) ProductID() uint16 {
	return d.descriptor.ProductID
}

// DeviceClass returns the device class.
func (d *Device) DeviceClass() uint8 {
	return d.descriptor.DeviceClass
}

// DeviceSubClass returns the device subclass.
func (d *Device) DeviceSubClass() uint8 {
	return d.descriptor.DeviceSubClass
}

// DeviceProtocol returns the device protocol.
func (d *Device) DeviceProtocol() uint8 {
	return d.descriptor.DeviceProtocol
}

// Descriptor returns the device descriptor.
func (d *Device) Descriptor() usb.DeviceDescriptor {
	return d.descriptor
}

// Config returns the parsed configuration tree, or nil.
func (d *Device) Config() *usb.ConfigTree {
	return d.config
}

// Configuration returns the configuration descriptor.
func (d *Device) Configuration() usb.ConfigurationDescriptor {
	if d.config == nil {
		return usb.ConfigurationDescriptor{}
	}
	return d.config.Descriptor
}

// Interfaces returns every interface node of the configuration,
// including alternate settings.
func (d *Device) Interfaces() []*usb.Interface {
	if d.config == nil {
		return nil
	}
	var result []*usb.Interface
	for _, fn := range d.config.Functions {
		result = append(result, fn.Interfaces()...)
	}
	return result
}

// Endpoints returns every endpoint of the configuration.
func (d *Device) Endpoints() []*usb.Endpoint {
	if d.config == nil {
		return nil
	}
	return d.config.Endpoints()
}

// Interface returns the interface node for num and alt, or nil.
func (d *Device) Interface(num, alt uint8) *usb.Interface {
	if d.config == nil {
		return nil
	}
	return d.config.Interface(num, alt)
}

// Endpoint returns the first endpoint with the given address, or nil.
func (d *Device) Endpoint(address uint8) *usb.Endpoint {
	for _, ep := range d.Endpoints() {
		if ep.Descriptor.EndpointAddress == address {
			return ep
		}
	}
	return nil
}

// String returns a cached string descriptor.
func (d *Device) String(index uint8) string {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.strings[index]
}

// Manufacturer returns the manufacturer string.
func (d *Device) Manufacturer() string {
	return d.String(d.descriptor.ManufacturerIndex)
}

// Product returns the product string.
func (d *Device) Product() string {
	return d.String(d.descriptor.ProductIndex)
}

// SerialNumber returns the serial number string.
func (d *Device) SerialNumber() string {
	return d.String(d.descriptor.SerialNumberIndex)
}

// State returns the device state.
func (d *Device) State() DeviceState {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.state
}

// Driver returns the bound class driver, or nil.
func (d *Device) Driver() Driver {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.driver
}

// Alternate returns the selected alternate setting of iface.
func (d *Device) Alternate(iface uint8) uint8 {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.alternates[iface]
}

func (d *Device) setState(s DeviceState) {
	d.mutex.Lock()
	d.state = s
	d.mutex.Unlock()
}

func (d *Device) bind(drv Driver) {
	d.mutex.Lock()
	d.driver = drv
	d.state = DeviceStateActive
	d.mutex.Unlock()
}

// Close marks the device detached. Requests fail afterwards.
func (d *Device) Close() error {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.state = DeviceStateDetached
	d.driver = nil
	return nil
}

// Submit sends op to the device's slot and returns the completion.
func (d *Device) Submit(ctx context.Context, op usb.RequestedOperation) (usb.UCB, error) {
	if d.State() == DeviceStateDetached {
		return usb.UCB{}, fmt.Errorf("%w: slot %d", pkg.ErrNoDevice, d.slot)
	}
	return d.host.Submit(ctx, usb.URB{Slot: d.slot, Op: op})
}

// transfer submits op and converts a failed completion into an error.
func (d *Device) transfer(ctx context.Context, op usb.RequestedOperation) (int, error) {
	ucb, err := d.Submit(ctx, op)
	if err != nil {
		return 0, err
	}
	return ucb.Length, completionError(ucb.Code)
}

// ControlTransfer performs a control transfer on the default pipe.
func (d *Device) ControlTransfer(ctx context.Context, setup usb.SetupPacket, data []byte) (int, error) {
	return d.transfer(ctx, usb.ControlTransfer{Setup: setup, Data: data})
}

// BulkTransfer performs a bulk transfer on endpoint.
func (d *Device) BulkTransfer(ctx context.Context, endpoint uint8, data []byte) (int, error) {
	return d.transfer(ctx, usb.BulkTransfer{Endpoint: endpoint, Data: data})
}

// InterruptTransfer performs an interrupt transfer on endpoint.
func (d *Device) InterruptTransfer(ctx context.Context, endpoint uint8, data []byte) (int, error) {
	return d.transfer(ctx, usb.InterruptTransfer{Endpoint: endpoint, Data: data})
}

// IsochTransfer schedules times packets of packetSize bytes on endpoint.
func (d *Device) IsochTransfer(ctx context.Context, endpoint uint8, packetSize, times int, data []byte) (int, error) {
	return d.transfer(ctx, usb.IsochTransfer{
		Endpoint:     endpoint,
		PacketSize:   packetSize,
		RequestTimes: times,
		Data:         data,
	})
}

// GetDescriptor reads a descriptor into data.
func (d *Device) GetDescriptor(ctx context.Context, descType, descIndex uint8, langID uint16, data []byte) (int, error) {
	setup := usb.GetDescriptorSetup(descType, descIndex, uint16(len(data)))
	setup.Index = langID
	return d.ControlTransfer(ctx, setup, data)
}

// GetStatus returns the device status word.
func (d *Device) GetStatus(ctx context.Context) (uint16, error) {
	return d.status(ctx, usb.RequestTypeDevice, 0)
}

// GetEndpointStatus returns the status word of endpoint.
func (d *Device) GetEndpointStatus(ctx context.Context, endpoint uint8) (uint16, error) {
	return d.status(ctx, usb.RequestTypeEndpoint, uint16(endpoint))
}

func (d *Device) status(ctx context.Context, recipient uint8, index uint16) (uint16, error) {
	setup := usb.SetupPacket{
		RequestType: usb.RequestTypeIn | usb.RequestTypeStandard | recipient,
		Request:     usb.RequestGetStatus,
		Index:       index,
		Length:      2,
	}
	var buf [2]byte
	n, err := d.ControlTransfer(ctx, setup, buf[:])
	if err != nil {
		return 0, err
	}
	if n < 2 {
		return 0, pkg.ErrDescriptorTooShort
	}
	return binary.LittleEndian.Uint16(buf[:]), nil
}

// ClearFeature clears a device feature.
func (d *Device) ClearFeature(ctx context.Context, feature uint16) error {
	return d.feature(ctx, usb.RequestClearFeature, usb.RequestTypeDevice, feature, 0)
}

// SetFeature sets a device feature.
func (d *Device) SetFeature(ctx context.Context, feature uint16) error {
	return d.feature(ctx, usb.RequestSetFeature, usb.RequestTypeDevice, feature, 0)
}

func (d *Device) feature(ctx context.Context, request, recipient uint8, feature, index uint16) error {
	setup := usb.SetupPacket{
		RequestType: usb.RequestTypeOut | usb.RequestTypeStandard | recipient,
		Request:     request,
		Value:       feature,
		Index:       index,
	}
	_, err := d.ControlTransfer(ctx, setup, nil)
	return err
}

// SetInterface selects alternate setting alt of iface and reconfigures
// the endpoints it exposes.
func (d *Device) SetInterface(ctx context.Context, iface, alt uint8) error {
	if d.Interface(iface, alt) == nil {
		return fmt.Errorf("%w: interface %d alternate %d", pkg.ErrInvalidParameter, iface, alt)
	}
	if _, err := d.transfer(ctx, usb.SwitchInterface{Interface: iface, Alternate: alt}); err != nil {
		return err
	}
	d.mutex.Lock()
	d.alternates[iface] = alt
	d.mutex.Unlock()
	return nil
}

// ClearEndpointHalt recovers a halted endpoint on both sides of the
// link: the host ring is reset, then the device's halt feature cleared.
func (d *Device) ClearEndpointHalt(ctx context.Context, endpoint uint8) error {
	dci := usb.EndpointDCI(endpoint)
	if dci <= 1 {
		return fmt.Errorf("%w: endpoint %#02x", pkg.ErrInvalidEndpoint, endpoint)
	}
	if _, err := d.transfer(ctx, usb.ResetEndpoint{DCI: dci}); err != nil {
		return err
	}
	_, err := d.ControlTransfer(ctx, usb.ClearEndpointHaltSetup(endpoint), nil)
	return err
}

// Prepare primes the transfer ring of endpoint.
func (d *Device) Prepare(ctx context.Context, endpoint uint8) error {
	_, err := d.transfer(ctx, usb.PrepareForTransfer{DCI: usb.EndpointDCI(endpoint)})
	return err
}

// Dump returns the controller's view of the slot and its endpoints.
func (d *Device) Dump(ctx context.Context) (string, error) {
	ucb, err := d.Submit(ctx, usb.Debug{Op: usb.DebugDumpSlot})
	if err != nil {
		return "", err
	}
	return ucb.Report, nil
}

// completionError maps a failed completion code to an error.
func completionError(code usb.CompleteCode) error {
	if code.IsSuccess() {
		return nil
	}
	if code.Kind == usb.CompleteEvent {
		switch code.Event {
		case usb.EventStall:
			return pkg.ErrStall
		case usb.EventHalt:
			return pkg.ErrHalted
		}
	}
	return fmt.Errorf("%w: completion %s", xhci.ErrUnknown, code)
}
