package usb

import (
	"bytes"
	"testing"
)

// =============================================================================
// Descriptor Marshaling Tests
// =============================================================================

func TestDeviceDescriptor_MarshalTo(t *testing.T) {
	d := DeviceDescriptor{
		USBVersion:        0x0200,
		MaxPacketSize0:    64,
		VendorID:          0x1a86,
		ProductID:         0x7523,
		DeviceVersion:     0x0264,
		ProductIndex:      2,
		NumConfigurations: 1,
	}
	buf := make([]byte, DeviceDescriptorSize)
	if n := d.MarshalTo(buf); n != DeviceDescriptorSize {
		t.Fatalf("MarshalTo = %d, want %d", n, DeviceDescriptorSize)
	}
	want := []byte{
		18, 0x01, 0x00, 0x02, 0, 0, 0, 64,
		0x86, 0x1a, 0x23, 0x75, 0x64, 0x02,
		0, 2, 0, 1,
	}
	if !bytes.Equal(buf, want) {
		t.Errorf("MarshalTo = % x, want % x", buf, want)
	}
	if n := d.MarshalTo(buf[:8]); n != 0 {
		t.Errorf("MarshalTo(short) = %d, want 0", n)
	}
}

func TestEndpointDescriptor_MarshalTo(t *testing.T) {
	e := EndpointDescriptor{
		EndpointAddress: 0x81,
		Attributes:      EndpointTypeIsochronous,
		MaxPacketSize:   0x0800 | 188,
		Interval:        1,
	}
	buf := make([]byte, EndpointDescriptorSize)
	e.MarshalTo(buf)

	var got EndpointDescriptor
	if !ParseEndpointDescriptor(buf, &got) {
		t.Fatal("ParseEndpointDescriptor returned false")
	}
	if got.MaxPacketSizeBase() != 188 || got.AdditionalTransactions() != 1 {
		t.Errorf("mps = %d, additional = %d, want 188, 1",
			got.MaxPacketSizeBase(), got.AdditionalTransactions())
	}
}

func TestStringDescriptor(t *testing.T) {
	buf := make([]byte, 64)
	n := StringDescriptorTo(buf, "USB Serial")
	if n != 2+2*10 {
		t.Fatalf("StringDescriptorTo = %d, want 22", n)
	}
	if buf[1] != DescriptorTypeString {
		t.Errorf("type = %#x, want %#x", buf[1], DescriptorTypeString)
	}
	s, ok := ParseStringDescriptor(buf[:n])
	if !ok || s != "USB Serial" {
		t.Errorf("ParseStringDescriptor = %q, %v", s, ok)
	}

	if n := StringDescriptorTo(make([]byte, 4), "long"); n != 0 {
		t.Errorf("StringDescriptorTo(short) = %d, want 0", n)
	}
	if _, ok := ParseStringDescriptor([]byte{4, DescriptorTypeDevice, 0, 0}); ok {
		t.Error("ParseStringDescriptor accepted a device descriptor")
	}
}

func TestLanguageDescriptorTo(t *testing.T) {
	buf := make([]byte, 4)
	if n := LanguageDescriptorTo(buf, LangIDUSEnglish); n != 4 {
		t.Fatalf("LanguageDescriptorTo = %d, want 4", n)
	}
	if want := []byte{4, 0x03, 0x09, 0x04}; !bytes.Equal(buf, want) {
		t.Errorf("LanguageDescriptorTo = % x, want % x", buf, want)
	}
}
