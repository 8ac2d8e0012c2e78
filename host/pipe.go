package host

import (
	"context"
	"fmt"
	"sync"

	"github.com/ardnew/softxhci/pkg"
)

// Pipe is a buffered byte stream over one bulk IN and one bulk OUT
// endpoint of a device.
type Pipe struct {
	device  *Device
	epIn    uint8
	epOut   uint8
	maxSize int

	mu      sync.Mutex
	readBuf []byte
	readPos int
	readLen int
}

// NewPipe returns a pipe over epIn and epOut. Reads fetch up to maxSize
// bytes per transfer and writes are split into maxSize chunks.
func NewPipe(dev *Device, epIn, epOut uint8, maxSize int) *Pipe {
	return &Pipe{
		device:  dev,
		epIn:    epIn,
		epOut:   epOut,
		maxSize: maxSize,
		readBuf: make([]byte, maxSize),
	}
}

// OpenPipe returns a pipe over the first bulk IN and bulk OUT endpoints
// of dev's active interfaces, sized to the IN endpoint's max packet size.
func OpenPipe(dev *Device) (*Pipe, error) {
	var in, out uint8
	var size int
	for _, ep := range dev.Endpoints() {
		d := ep.Descriptor
		if !d.IsBulk() {
			continue
		}
		if d.IsIn() && in == 0 {
			in, size = d.EndpointAddress, int(d.MaxPacketSizeBase())
		} else if d.IsOut() && out == 0 {
			out = d.EndpointAddress
		}
	}
	if in == 0 || out == 0 {
		return nil, fmt.Errorf("%w: slot %d has no bulk endpoint pair", pkg.ErrInvalidEndpoint, dev.Slot())
	}
	return NewPipe(dev, in, out, size), nil
}

// Read returns buffered bytes, fetching one transfer from the IN endpoint
// when the buffer is empty.
func (p *Pipe) Read(ctx context.Context, data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.readPos == p.readLen {
		n, err := p.device.BulkTransfer(ctx, p.epIn, p.readBuf)
		if err != nil {
			return 0, err
		}
		p.readPos, p.readLen = 0, n
	}
	n := copy(data, p.readBuf[p.readPos:p.readLen])
	p.readPos += n
	return n, nil
}

// Write sends data on the OUT endpoint in maxSize chunks.
func (p *Pipe) Write(ctx context.Context, data []byte) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	total := 0
	for len(data) > 0 {
		n := min(len(data), p.maxSize)
		written, err := p.device.BulkTransfer(ctx, p.epOut, data[:n])
		total += written
		if err != nil {
			return total, err
		}
		data = data[n:]
	}
	return total, nil
}

// Device returns the device the pipe runs on.
func (p *Pipe) Device() *Device {
	return p.device
}
