package host

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	uuid "github.com/satori/go.uuid"

	"github.com/ardnew/softxhci/host/xhci"
	"github.com/ardnew/softxhci/host/xhci/regs"
	"github.com/ardnew/softxhci/pkg"
	"github.com/ardnew/softxhci/usb"
)

// Controller is the host controller surface the host stack drives.
type Controller interface {
	Init(ctx context.Context) error
	Probe(ctx context.Context) ([]uint8, error)
	Submit(ctx context.Context, urb usb.URB) (usb.UCB, error)
	Attachment(slot uint8) (xhci.Attachment, bool)
	DisableSlot(ctx context.Context, slot uint8) error
	ResetPort(ctx context.Context, n uint8) error
	Ports() []regs.PortStatus
	Close(ctx context.Context) error
}

var _ Controller = (*xhci.Controller)(nil)

// Host manages one host controller and the devices enumerated on it.
type Host struct {
	ctrl Controller
	id   uuid.UUID

	// ctrlMu serializes every call into the controller.
	ctrlMu sync.Mutex

	// Enumerated devices by slot id
	devices map[uint8]*Device
	drivers []Driver

	// State
	running bool
	mutex   sync.RWMutex

	// Callbacks
	onDeviceConnect    func(*Device)
	onDeviceDisconnect func(*Device)
}

// New creates a host stack over ctrl.
func New(ctrl Controller) *Host {
	return &Host{
		ctrl:    ctrl,
		id:      uuid.NewV4(),
		devices: make(map[uint8]*Device),
	}
}

// ID returns the session id assigned at creation.
func (h *Host) ID() uuid.UUID {
	return h.id
}

// Start brings up the controller and enumerates every connected device.
// Devices that fail enumeration are logged and skipped.
func (h *Host) Start(ctx context.Context) error {
	h.mutex.Lock()
	if h.running {
		h.mutex.Unlock()
		return pkg.ErrAlreadyRunning
	}
	h.mutex.Unlock()

	h.ctrlMu.Lock()
	err := h.ctrl.Init(ctx)
	h.ctrlMu.Unlock()
	if err != nil {
		return fmt.Errorf("host: init: %w", err)
	}

	h.mutex.Lock()
	h.running = true
	h.mutex.Unlock()

	pkg.LogInfo(pkg.ComponentHost, "host started", "session", h.id)

	if _, err := h.Probe(ctx); err != nil {
		pkg.LogWarn(pkg.ComponentHost, "initial probe incomplete", "error", err)
	}
	return nil
}

// Stop closes the controller and detaches every device.
func (h *Host) Stop(ctx context.Context) error {
	h.mutex.Lock()
	if !h.running {
		h.mutex.Unlock()
		return nil
	}
	h.running = false
	devices := h.devices
	h.devices = make(map[uint8]*Device)
	h.mutex.Unlock()

	for _, dev := range devices {
		h.release(dev)
	}

	h.ctrlMu.Lock()
	err := h.ctrl.Close(ctx)
	h.ctrlMu.Unlock()

	pkg.LogInfo(pkg.ComponentHost, "host stopped", "session", h.id)
	return err
}

// IsRunning returns true if the host is running.
func (h *Host) IsRunning() bool {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.running
}

// Probe resets every connected port that is not yet enabled, attaches
// the devices behind enabled ports, and enumerates them. It returns the
// devices enumerated by this call; enumeration failures are joined into
// the error while the remaining slots are still processed.
func (h *Host) Probe(ctx context.Context) ([]*Device, error) {
	if !h.IsRunning() {
		return nil, pkg.ErrNotRunning
	}

	h.ctrlMu.Lock()
	for i, st := range h.ctrl.Ports() {
		if !st.Connected() || st.Enabled() {
			continue
		}
		if err := h.ctrl.ResetPort(ctx, uint8(i+1)); err != nil {
			pkg.LogWarn(pkg.ComponentHost, "port reset failed", "port", i+1, "error", err)
		}
	}
	slots, probeErr := h.ctrl.Probe(ctx)
	h.ctrlMu.Unlock()

	var (
		found []*Device
		errs  []error
	)
	if probeErr != nil {
		errs = append(errs, probeErr)
	}
	for _, slot := range slots {
		dev, err := h.enumerate(ctx, slot)
		if err != nil {
			pkg.LogWarn(pkg.ComponentHost, "enumeration failed", "slot", slot, "error", err)
			errs = append(errs, fmt.Errorf("host: slot %d: %w", slot, err))
			if dev == nil {
				h.abandon(ctx, slot)
				continue
			}
		}
		h.add(dev)
		found = append(found, dev)
	}
	return found, errors.Join(errs...)
}

// abandon disables a slot whose device could not be read at all, so the
// port is attached again by the next Probe.
func (h *Host) abandon(ctx context.Context, slot uint8) {
	h.ctrlMu.Lock()
	err := h.ctrl.DisableSlot(ctx, slot)
	h.ctrlMu.Unlock()
	if err != nil {
		pkg.LogWarn(pkg.ComponentHost, "slot disable failed", "slot", slot, "error", err)
		return
	}
	pkg.LogDebug(pkg.ComponentHost, "abandoned slot", "slot", slot)
}

// Submit forwards urb to the controller. Calls from any goroutine are
// serialized.
func (h *Host) Submit(ctx context.Context, urb usb.URB) (usb.UCB, error) {
	h.ctrlMu.Lock()
	defer h.ctrlMu.Unlock()
	return h.ctrl.Submit(ctx, urb)
}

// Ports returns the PORTSC value of every root port.
func (h *Host) Ports() []regs.PortStatus {
	h.ctrlMu.Lock()
	defer h.ctrlMu.Unlock()
	return h.ctrl.Ports()
}

// DumpPorts returns the controller's report of every root port.
func (h *Host) DumpPorts(ctx context.Context) (string, error) {
	ucb, err := h.Submit(ctx, usb.URB{Op: usb.Debug{Op: usb.DebugDumpPorts}})
	if err != nil {
		return "", err
	}
	return ucb.Report, nil
}

// Detach releases slot on the controller and forgets its device.
func (h *Host) Detach(ctx context.Context, slot uint8) error {
	h.mutex.Lock()
	dev, ok := h.devices[slot]
	delete(h.devices, slot)
	h.mutex.Unlock()
	if !ok {
		return fmt.Errorf("%w: slot %d", pkg.ErrInvalidSlot, slot)
	}

	h.release(dev)

	h.ctrlMu.Lock()
	err := h.ctrl.DisableSlot(ctx, slot)
	h.ctrlMu.Unlock()
	return err
}

// Devices returns the enumerated devices in slot order.
func (h *Host) Devices() []*Device {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	result := make([]*Device, 0, len(h.devices))
	for _, dev := range h.devices {
		result = append(result, dev)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].slot < result[j].slot })
	return result
}

// Device returns the device in slot, or nil.
func (h *Host) Device(slot uint8) *Device {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return h.devices[slot]
}

// RegisterDriver adds d to the drivers offered every enumerated device.
// Drivers are tried in registration order.
func (h *Host) RegisterDriver(d Driver) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.drivers = append(h.drivers, d)
}

// SetOnDeviceConnect sets the callback for device connection.
func (h *Host) SetOnDeviceConnect(cb func(*Device)) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.onDeviceConnect = cb
}

// SetOnDeviceDisconnect sets the callback for device disconnection.
func (h *Host) SetOnDeviceDisconnect(cb func(*Device)) {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.onDeviceDisconnect = cb
}

func (h *Host) add(dev *Device) {
	h.mutex.Lock()
	h.devices[dev.slot] = dev
	drivers := append([]Driver(nil), h.drivers...)
	cb := h.onDeviceConnect
	h.mutex.Unlock()

	if dev.State() == DeviceStateConfigured {
		h.bind(dev, drivers)
	}

	pkg.LogInfo(pkg.ComponentHost, "device enumerated",
		"slot", dev.slot,
		"vendorID", fmt.Sprintf("%04x", dev.VendorID()),
		"productID", fmt.Sprintf("%04x", dev.ProductID()),
		"state", dev.State())

	if cb != nil {
		cb(dev)
	}
}

// bind activates the first driver that claims dev.
func (h *Host) bind(dev *Device, drivers []Driver) {
	for _, d := range drivers {
		if !d.ShouldActive(dev) {
			continue
		}
		if err := d.Activate(dev); err != nil {
			pkg.LogWarn(pkg.ComponentHost, "driver activation failed",
				"slot", dev.slot, "driver", d.Name(), "error", err)
			continue
		}
		dev.bind(d)
		pkg.LogInfo(pkg.ComponentHost, "driver bound", "slot", dev.slot, "driver", d.Name())
		return
	}
	pkg.LogDebug(pkg.ComponentHost, "no driver for device", "slot", dev.slot)
}

func (h *Host) release(dev *Device) {
	if d := dev.Driver(); d != nil {
		d.Deactivate(dev)
	}
	dev.Close()

	h.mutex.RLock()
	cb := h.onDeviceDisconnect
	h.mutex.RUnlock()
	if cb != nil {
		cb(dev)
	}
}
