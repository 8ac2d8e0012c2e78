package host

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/ardnew/softxhci/pkg"
	"github.com/ardnew/softxhci/usb"
)

// Enumeration errors.
var (
	ErrEnumerationFailed = errors.New("enumeration failed")
)

// enumerate reads the descriptors of a freshly addressed slot and sets up
// its first configuration. A device whose descriptors were read but
// whose configuration failed is returned with the error in state
// DeviceStateAddress so it can still be inspected.
func (h *Host) enumerate(ctx context.Context, slot uint8) (*Device, error) {
	pkg.LogDebug(pkg.ComponentHost, "starting enumeration", "slot", slot)

	h.ctrlMu.Lock()
	a, ok := h.ctrl.Attachment(slot)
	h.ctrlMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("%w: slot %d", pkg.ErrInvalidSlot, slot)
	}
	dev := newDevice(h, a)

	var buf [usb.MaxDescriptorSize]byte

	n, err := dev.GetDescriptor(ctx, usb.DescriptorTypeDevice, 0, 0, buf[:usb.DeviceDescriptorSize])
	if err != nil {
		return nil, fmt.Errorf("device descriptor: %w", err)
	}
	if n < usb.DeviceDescriptorSize || !usb.ParseDeviceDescriptor(buf[:n], &dev.descriptor) {
		return nil, fmt.Errorf("%w: device descriptor %d bytes", ErrEnumerationFailed, n)
	}

	pkg.LogDebug(pkg.ComponentHost, "device descriptor",
		"slot", slot,
		"vendorID", dev.descriptor.VendorID,
		"productID", dev.descriptor.ProductID,
		"class", dev.descriptor.DeviceClass)

	if err := h.readStringDescriptors(ctx, dev, buf[:]); err != nil {
		// Strings are optional
		pkg.LogDebug(pkg.ComponentHost, "string descriptors unavailable", "slot", slot, "error", err)
	}

	if dev.descriptor.NumConfigurations == 0 {
		return dev, fmt.Errorf("%w: no configurations", ErrEnumerationFailed)
	}

	tree, err := h.readConfigTree(ctx, dev, buf[:])
	if err != nil {
		return dev, fmt.Errorf("configuration descriptor: %w", err)
	}
	dev.config = tree

	pkg.LogDebug(pkg.ComponentHost, "configuration descriptor",
		"slot", slot,
		"numInterfaces", tree.Descriptor.NumInterfaces,
		"configValue", tree.Descriptor.ConfigurationValue)

	if _, err := dev.transfer(ctx, usb.SetupDevice{Config: tree}); err != nil {
		return dev, fmt.Errorf("setup device: %w", err)
	}
	dev.setState(DeviceStateConfigured)
	return dev, nil
}

// readConfigTree reads configuration 0, header first for its total length.
func (h *Host) readConfigTree(ctx context.Context, dev *Device, buf []byte) (*usb.ConfigTree, error) {
	n, err := dev.GetDescriptor(ctx, usb.DescriptorTypeConfiguration, 0, 0, buf[:usb.ConfigurationDescriptorSize])
	if err != nil {
		return nil, err
	}
	if n < usb.ConfigurationDescriptorSize {
		return nil, fmt.Errorf("%w: %d bytes", pkg.ErrDescriptorTooShort, n)
	}

	total := int(binary.LittleEndian.Uint16(buf[2:4]))
	if total > len(buf) {
		total = len(buf)
	}
	if total < usb.ConfigurationDescriptorSize {
		return nil, fmt.Errorf("%w: total length %d", pkg.ErrDescriptorTooShort, total)
	}

	n, err = dev.GetDescriptor(ctx, usb.DescriptorTypeConfiguration, 0, 0, buf[:total])
	if err != nil {
		return nil, err
	}
	return usb.ParseConfigTree(buf[:n])
}

// readStringDescriptors caches the manufacturer, product, and serial
// strings in the first language the device reports.
func (h *Host) readStringDescriptors(ctx context.Context, dev *Device, buf []byte) error {
	indices := []uint8{
		dev.descriptor.ManufacturerIndex,
		dev.descriptor.ProductIndex,
		dev.descriptor.SerialNumberIndex,
	}
	present := false
	for _, idx := range indices {
		present = present || idx != 0
	}
	if !present {
		return nil
	}

	// String descriptor zero lists the supported languages
	n, err := dev.GetDescriptor(ctx, usb.DescriptorTypeString, 0, 0, buf[:255])
	if err != nil {
		return err
	}
	langID := uint16(usb.LangIDUSEnglish)
	if n >= 4 {
		langID = binary.LittleEndian.Uint16(buf[2:4])
	}

	for _, idx := range indices {
		if idx == 0 {
			continue
		}
		n, err := dev.GetDescriptor(ctx, usb.DescriptorTypeString, idx, langID, buf[:255])
		if err != nil {
			return fmt.Errorf("string %d: %w", idx, err)
		}
		s, ok := usb.ParseStringDescriptor(buf[:n])
		if !ok {
			continue
		}
		dev.mutex.Lock()
		dev.strings[idx] = s
		dev.mutex.Unlock()
	}
	return nil
}
