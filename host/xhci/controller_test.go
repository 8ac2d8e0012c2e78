package xhci

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"strings"
	"testing"

	"github.com/ardnew/softxhci/host/hal/mem"
	"github.com/ardnew/softxhci/host/xhci/regs"
	"github.com/ardnew/softxhci/host/xhci/sim"
	"github.com/ardnew/softxhci/host/xhci/trb"
	"github.com/ardnew/softxhci/pkg"
	"github.com/ardnew/softxhci/usb"
)

const benchBase = 0xE000_0000

// bench is a controller engine driving a simulated controller.
type bench struct {
	mem *mem.Memory
	sim *sim.Controller
	hc  *Controller
}

// testConfig keeps rings small and bounds every wait by poll count so a
// broken exchange fails fast instead of sleeping.
func testConfig() Config {
	cfg := DefaultConfig()
	cfg.CommandRingLength = 16
	cfg.EventRingLength = 16
	cfg.Wait = WaitPolicy{MaxIterations: 4096, Spin: 4096}
	return cfg
}

func newBench(t *testing.T, sc sim.Config, cfg Config) *bench {
	t.Helper()
	m := mem.New(4096)
	s, err := sim.New(m, benchBase, sc)
	if err != nil {
		t.Fatalf("sim.New() error = %v", err)
	}
	hc, err := New(m, benchBase, cfg)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return &bench{mem: m, sim: s, hc: hc}
}

// running returns an initialized bench with dev plugged into port 1.
func running(t *testing.T, sc sim.Config, dev sim.Device) *bench {
	t.Helper()
	b := newBench(t, sc, testConfig())
	if dev != nil {
		if err := b.sim.Plug(1, dev); err != nil {
			t.Fatalf("Plug() error = %v", err)
		}
	}
	if err := b.hc.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	return b
}

// attached returns a bench with dev plugged into port 1 and addressed.
func attached(t *testing.T, dev sim.Device) (*bench, uint8) {
	t.Helper()
	b := running(t, sim.DefaultConfig(), dev)
	slots, err := b.hc.Probe(context.Background())
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if len(slots) != 1 {
		t.Fatalf("Probe() = %v, want one slot", slots)
	}
	return b, slots[0]
}

func (b *bench) submit(t *testing.T, slot uint8, op usb.RequestedOperation) usb.UCB {
	t.Helper()
	ucb, err := b.hc.Submit(context.Background(), usb.URB{Slot: slot, Op: op})
	if err != nil {
		t.Fatalf("Submit(%s) error = %v", usb.OperationName(op), err)
	}
	return ucb
}

func (b *bench) control(t *testing.T, slot uint8, setup usb.SetupPacket, data []byte) usb.UCB {
	t.Helper()
	ucb := b.submit(t, slot, usb.ControlTransfer{Setup: setup, Data: data})
	if !ucb.Code.IsSuccess() {
		t.Fatalf("control request %#02x: %s", setup.Request, ucb.Code)
	}
	return ucb
}

// configTree reads and parses configuration 0 of slot.
func (b *bench) configTree(t *testing.T, slot uint8) *usb.ConfigTree {
	t.Helper()
	head := make([]byte, usb.ConfigurationDescriptorSize)
	b.control(t, slot, usb.GetDescriptorSetup(usb.DescriptorTypeConfiguration, 0, uint16(len(head))), head)
	full := make([]byte, binary.LittleEndian.Uint16(head[2:]))
	b.control(t, slot, usb.GetDescriptorSetup(usb.DescriptorTypeConfiguration, 0, uint16(len(full))), full)
	tree, err := usb.ParseConfigTree(full)
	if err != nil {
		t.Fatalf("ParseConfigTree() error = %v", err)
	}
	return tree
}

// configured returns a bench with dev attached and its first
// configuration set up.
func configured(t *testing.T, dev sim.Device) (*bench, uint8) {
	t.Helper()
	b, slot := attached(t, dev)
	tree := b.configTree(t, slot)
	ucb := b.submit(t, slot, usb.SetupDevice{Config: tree})
	if !ucb.Code.IsSuccess() {
		t.Fatalf("SetupDevice: %s", ucb.Code)
	}
	return b, slot
}

func (b *bench) checkNoDrops(t *testing.T) {
	t.Helper()
	if st := b.sim.Stats(); st.DroppedEvents != 0 {
		t.Errorf("controller dropped %d events", st.DroppedEvents)
	}
}

// =============================================================================
// Bring-up Tests
// =============================================================================

func TestInitPhases(t *testing.T) {
	want := []string{
		"chip_hardware_reset", "set_max_device_slots", "set_dcbaap",
		"set_cmd_ring", "init_ir", "setup_scratchpads", "start",
		"test_cmd", "reset_ports",
	}
	got := InitPhases()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("InitPhases() = %v, want %v", got, want)
	}
}

func TestInit(t *testing.T) {
	b := running(t, sim.DefaultConfig(), nil)
	hc := b.hc

	if !hc.Initialized() || hc.Phase() != PhaseResetPorts {
		t.Errorf("Initialized() = %t, Phase() = %q", hc.Initialized(), hc.Phase())
	}
	if hc.MaxSlots() != 8 || hc.MaxPorts() != 4 || hc.ContextSize() != 32 {
		t.Errorf("slots/ports/context = %d/%d/%d, want 8/4/32",
			hc.MaxSlots(), hc.MaxPorts(), hc.ContextSize())
	}
	if !b.sim.Running() {
		t.Error("controller not running after Init")
	}
	if st := b.sim.Stats(); st.Commands != testCommands {
		t.Errorf("commands = %d, want %d", st.Commands, testCommands)
	}
	if err := hc.Init(context.Background()); !errors.Is(err, pkg.ErrAlreadyRunning) {
		t.Errorf("second Init() error = %v, want ErrAlreadyRunning", err)
	}
}

func TestInit_ResetsEveryPort(t *testing.T) {
	b := newBench(t, sim.DefaultConfig(), testConfig())
	if err := b.sim.Plug(2, sim.NewSerial()); err != nil {
		t.Fatalf("Plug() error = %v", err)
	}
	if err := b.hc.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}

	if st := b.sim.Stats(); st.PortResets != 4 {
		t.Errorf("port resets = %d, want one per port", st.PortResets)
	}
	for i, st := range b.hc.Ports() {
		if want := i+1 == 2; st.Enabled() != want || st&regs.PortReset != 0 {
			t.Errorf("port %d = %v, want enabled=%t and reset done", i+1, st, want)
		}
	}
	b.checkNoDrops(t)
}

func TestInit_StuckReset(t *testing.T) {
	sc := sim.DefaultConfig()
	sc.StuckReset = true
	b := newBench(t, sc, testConfig())

	err := b.hc.Init(context.Background())
	if !errors.Is(err, pkg.ErrTimeout) {
		t.Fatalf("Init() error = %v, want ErrTimeout", err)
	}
	if !strings.Contains(err.Error(), PhaseHardwareReset) {
		t.Errorf("Init() error = %q, want it to name %s", err, PhaseHardwareReset)
	}
	if b.hc.Initialized() || b.hc.Phase() != "" {
		t.Errorf("Initialized() = %t, Phase() = %q after failure", b.hc.Initialized(), b.hc.Phase())
	}
	if n := b.mem.Allocated(); n != 0 {
		t.Errorf("Allocated() = %d after failed Init, want 0", n)
	}
}

func TestInit_Cancelled(t *testing.T) {
	sc := sim.DefaultConfig()
	sc.StuckReset = true
	cfg := testConfig()
	cfg.Wait = UnboundedWaitPolicy()
	b := newBench(t, sc, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := b.hc.Init(ctx); !errors.Is(err, pkg.ErrCancelled) {
		t.Fatalf("Init() error = %v, want ErrCancelled", err)
	}
}

func TestInit_DroppedCommand(t *testing.T) {
	sc := sim.DefaultConfig()
	sc.DropCommands = true
	b := newBench(t, sc, testConfig())

	err := b.hc.Init(context.Background())
	if !errors.Is(err, pkg.ErrTimeout) {
		t.Fatalf("Init() error = %v, want ErrTimeout", err)
	}
	if !strings.Contains(err.Error(), PhaseTestCommand) {
		t.Errorf("Init() error = %q, want it to name %s", err, PhaseTestCommand)
	}
}

func TestInit_Scratchpads(t *testing.T) {
	tests := []struct {
		name        string
		scratchpads int
	}{
		{"none", 0},
		{"four", 4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sc := sim.DefaultConfig()
			sc.MaxScratchpads = tt.scratchpads
			b := running(t, sc, nil)
			entry := b.hc.list.Entry(0)
			if tt.scratchpads == 0 {
				if b.hc.scratchpad != nil || entry != b.hc.list.Output(0).Phys() {
					t.Errorf("DCBAA[0] = %#x without scratchpads", entry)
				}
				return
			}
			if entry != b.hc.scratchpad.Phys() {
				t.Errorf("DCBAA[0] = %#x, want %#x", entry, b.hc.scratchpad.Phys())
			}
			if b.hc.scratchpad.Entry(tt.scratchpads-1) == 0 {
				t.Error("last scratchpad entry not populated")
			}
		})
	}
}

func TestInit_ResetsConnectedPorts(t *testing.T) {
	b := running(t, sim.DefaultConfig(), sim.NewMouse(usb.SpeedFull))
	ports := b.hc.Ports()
	if len(ports) != 4 {
		t.Fatalf("Ports() = %d entries, want 4", len(ports))
	}
	if !ports[0].Enabled() || ports[0].Speed() != uint8(usb.SpeedFull) {
		t.Errorf("port 1 = %s, want enabled at full speed", ports[0])
	}
	for i, st := range ports[1:] {
		if st.Enabled() {
			t.Errorf("empty port %d enabled", i+2)
		}
	}
}

func TestClose(t *testing.T) {
	b, slot := attached(t, sim.NewMouse(usb.SpeedFull))
	if err := b.hc.Close(context.Background()); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if b.sim.Running() {
		t.Error("controller still running after Close")
	}
	if n := b.mem.Allocated(); n != 0 {
		t.Errorf("Allocated() = %d after Close, want 0", n)
	}
	if _, err := b.hc.Submit(context.Background(), usb.URB{Slot: slot, Op: usb.Deconfigure{}}); !errors.Is(err, pkg.ErrNotRunning) {
		t.Errorf("Submit() after Close error = %v, want ErrNotRunning", err)
	}
	if err := b.hc.Close(context.Background()); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
}

func TestClose_StuckHalt(t *testing.T) {
	sc := sim.DefaultConfig()
	sc.StuckHalt = true
	b := running(t, sc, nil)

	if err := b.hc.Close(context.Background()); !errors.Is(err, pkg.ErrTimeout) {
		t.Fatalf("Close() error = %v, want ErrTimeout", err)
	}
	if b.hc.Initialized() {
		t.Error("Initialized() after Close")
	}
	if n := b.mem.Allocated(); n != 0 {
		t.Errorf("Allocated() = %d after Close, want 0", n)
	}
}

// =============================================================================
// Probe Tests
// =============================================================================

func TestProbe_HighSpeed(t *testing.T) {
	sc := sim.Config{MaxSlots: 8, MaxPorts: 1, ContextSize: 32, ResetLatency: 2}
	dev := sim.NewMouse(usb.SpeedHigh)
	b := running(t, sc, dev)

	slots, err := b.hc.Probe(context.Background())
	if err != nil {
		t.Fatalf("Probe() error = %v", err)
	}
	if len(slots) != 1 || slots[0] != 1 {
		t.Fatalf("Probe() = %v, want [1]", slots)
	}

	a, ok := b.hc.Attachment(1)
	if !ok {
		t.Fatal("Attachment(1) missing")
	}
	if a.Port != 1 || a.Hub != 0 || a.Route != 0 || a.Speed != usb.SpeedHigh {
		t.Errorf("attachment = port %d hub %d route %#x speed %d",
			a.Port, a.Hub, a.Route, a.Speed)
	}
	if a.MaxPacketSize0 != 64 || a.Endpoints[1].MaxPacketSize != 64 {
		t.Errorf("mps0 = %d/%d, want 64", a.MaxPacketSize0, a.Endpoints[1].MaxPacketSize)
	}
	if got := b.hc.list.Input(1).Endpoint(1).MaxPacketSize(); got != 64 {
		t.Errorf("input context EP0 mps = %d, want 64", got)
	}
	if got := b.hc.list.Output(1).Endpoint(1).MaxPacketSize(); got != 64 {
		t.Errorf("output context EP0 mps = %d, want 64", got)
	}
	if a.Address == 0 || dev.Address() != a.Address {
		t.Errorf("address = %d, device has %d", a.Address, dev.Address())
	}

	if again, err := b.hc.Probe(context.Background()); err != nil || len(again) != 0 {
		t.Errorf("second Probe() = %v, %v; want no new slots", again, err)
	}
	b.checkNoDrops(t)
}

func TestProbe_MaxPacketSize0(t *testing.T) {
	tests := []struct {
		speed usb.Speed
		want  uint16
	}{
		{usb.SpeedLow, 8},
		{usb.SpeedFull, 64},
		{usb.SpeedHigh, 64},
		{usb.SpeedSuper, 512},
	}
	for _, tt := range tests {
		t.Run(tt.speed.String(), func(t *testing.T) {
			b, slot := attached(t, sim.NewMouse(tt.speed))
			a, _ := b.hc.Attachment(slot)
			if a.MaxPacketSize0 != tt.want {
				t.Errorf("MaxPacketSize0 = %d, want %d", a.MaxPacketSize0, tt.want)
			}
			report, err := b.hc.Dump(slot)
			if err != nil {
				t.Fatalf("Dump() error = %v", err)
			}
			if !strings.Contains(report, "state=addressed") {
				t.Errorf("Dump() = %q, want an addressed slot", report)
			}
		})
	}
}

func TestProbe_ReportedMaxPacketSize0(t *testing.T) {
	dev, err := sim.NewBuilder(usb.SpeedFull).
		WithVendorProduct(0x1234, 0x0008).
		WithMaxPacketSize0(8).
		AddConfiguration(1).
		AddInterface(0, 0, 0xFF, 0, 0).
		Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	b, slot := attached(t, dev)

	a, _ := b.hc.Attachment(slot)
	if a.MaxPacketSize0 != 8 || a.Endpoints[1].MaxPacketSize != 8 {
		t.Errorf("attachment mps0 = %d/%d, want 8", a.MaxPacketSize0, a.Endpoints[1].MaxPacketSize)
	}
	if got := b.hc.list.Input(slot).Endpoint(1).MaxPacketSize(); got != 8 {
		t.Errorf("input context EP0 mps = %d, want 8", got)
	}
	if got := b.hc.list.Output(slot).Endpoint(1).MaxPacketSize(); got != 8 {
		t.Errorf("output context EP0 mps = %d, want 8", got)
	}

	// Eight-byte packets still move a full device descriptor.
	ucb := b.submit(t, slot, usb.ControlTransfer{
		Setup: usb.GetDescriptorSetup(usb.DescriptorTypeDevice, 0, usb.DeviceDescriptorSize),
		Data:  make([]byte, usb.DeviceDescriptorSize),
	})
	if !ucb.Code.IsSuccess() || ucb.Length != usb.DeviceDescriptorSize {
		t.Errorf("GET_DESCRIPTOR = %s, %d bytes", ucb.Code, ucb.Length)
	}
	b.checkNoDrops(t)
}

func TestProbe_ContextSize64(t *testing.T) {
	sc := sim.DefaultConfig()
	sc.ContextSize = 64
	b := running(t, sc, sim.NewSerial())
	if b.hc.ContextSize() != 64 {
		t.Fatalf("ContextSize() = %d, want 64", b.hc.ContextSize())
	}
	slots, err := b.hc.Probe(context.Background())
	if err != nil || len(slots) != 1 {
		t.Fatalf("Probe() = %v, %v", slots, err)
	}
	tree := b.configTree(t, slots[0])
	if ucb := b.submit(t, slots[0], usb.SetupDevice{Config: tree}); !ucb.Code.IsSuccess() {
		t.Errorf("SetupDevice: %s", ucb.Code)
	}
}

func TestProbe_Empty(t *testing.T) {
	b := running(t, sim.DefaultConfig(), nil)
	slots, err := b.hc.Probe(context.Background())
	if err != nil || len(slots) != 0 {
		t.Errorf("Probe() = %v, %v; want nothing", slots, err)
	}
}

func TestProbe_NotRunning(t *testing.T) {
	b := newBench(t, sim.DefaultConfig(), testConfig())
	if _, err := b.hc.Probe(context.Background()); !errors.Is(err, pkg.ErrNotRunning) {
		t.Errorf("Probe() error = %v, want ErrNotRunning", err)
	}
}

func TestProbe_AddressFailure(t *testing.T) {
	dev := sim.NewMouse(usb.SpeedFull)
	b := running(t, sim.DefaultConfig(), dev)
	dev.FailNext(sim.ErrStall)

	slots, err := b.hc.Probe(context.Background())
	if !IsCommandError(err, trb.CodeUSBTransaction) {
		t.Fatalf("Probe() error = %v, want a USB transaction command error", err)
	}
	if len(slots) != 0 || len(b.hc.Slots()) != 0 {
		t.Errorf("slots = %v/%v after failed attach", slots, b.hc.Slots())
	}

	slots, err = b.hc.Probe(context.Background())
	if err != nil || len(slots) != 1 || slots[0] != 1 {
		t.Errorf("retry Probe() = %v, %v; want slot 1 reused", slots, err)
	}
}

func TestProbe_AfterPlug(t *testing.T) {
	b := running(t, sim.DefaultConfig(), nil)
	if err := b.sim.Plug(3, sim.NewSerial()); err != nil {
		t.Fatalf("Plug() error = %v", err)
	}
	if slots, _ := b.hc.Probe(context.Background()); len(slots) != 0 {
		t.Fatalf("Probe() before reset = %v, want nothing", slots)
	}
	if err := b.hc.ResetPort(context.Background(), 3); err != nil {
		t.Fatalf("ResetPort() error = %v", err)
	}
	slots, err := b.hc.Probe(context.Background())
	if err != nil || len(slots) != 1 {
		t.Fatalf("Probe() = %v, %v", slots, err)
	}
	if a, _ := b.hc.Attachment(slots[0]); a.Port != 3 {
		t.Errorf("attached port = %d, want 3", a.Port)
	}
	if err := b.hc.ResetPort(context.Background(), 0); !errors.Is(err, pkg.ErrInvalidParameter) {
		t.Errorf("ResetPort(0) error = %v, want ErrInvalidParameter", err)
	}
}

// =============================================================================
// Event Ring Tests
// =============================================================================

func TestEventRing_DequeueFollowsConsumption(t *testing.T) {
	sc := sim.DefaultConfig()
	cfg := testConfig()
	cfg.EventRingLength = 4
	b := newBench(t, sc, cfg)
	dev := sim.NewMouse(usb.SpeedFull)
	if err := b.sim.Plug(1, dev); err != nil {
		t.Fatalf("Plug() error = %v", err)
	}
	if err := b.hc.Init(context.Background()); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	slots, err := b.hc.Probe(context.Background())
	if err != nil || len(slots) != 1 {
		t.Fatalf("Probe() = %v, %v", slots, err)
	}

	want := dev.Descriptor()
	for i := 0; i < 20; i++ {
		buf := make([]byte, usb.DeviceDescriptorSize)
		b.control(t, slots[0], usb.GetDescriptorSetup(usb.DescriptorTypeDevice, 0, uint16(len(buf))), buf)
		var got usb.DeviceDescriptor
		if !usb.ParseDeviceDescriptor(buf, &got) || got != want {
			t.Fatalf("read %d: descriptor = %+v, want %+v", i, got, want)
		}
	}
	b.checkNoDrops(t)
}

// =============================================================================
// Control Transfer Tests
// =============================================================================

func TestControlTransfer_ShortRead(t *testing.T) {
	b, slot := attached(t, sim.NewSerial())
	buf := make([]byte, 255)
	ucb := b.control(t, slot, usb.GetDescriptorSetup(usb.DescriptorTypeDevice, 0, uint16(len(buf))), buf)
	if ucb.Length != usb.DeviceDescriptorSize {
		t.Errorf("Length = %d, want %d", ucb.Length, usb.DeviceDescriptorSize)
	}
	if buf[1] != usb.DescriptorTypeDevice {
		t.Errorf("descriptor type = %#x", buf[1])
	}
}

func TestControlTransfer_Stall(t *testing.T) {
	dev := sim.NewSerial()
	b, slot := attached(t, dev)
	dev.FailNext(sim.ErrStall)

	buf := make([]byte, usb.DeviceDescriptorSize)
	setup := usb.GetDescriptorSetup(usb.DescriptorTypeDevice, 0, uint16(len(buf)))
	ucb := b.submit(t, slot, usb.ControlTransfer{Setup: setup, Data: buf})
	if ucb.Code.Event != usb.EventStall || ucb.Length != 0 {
		t.Fatalf("stalled request = %s, %d bytes", ucb.Code, ucb.Length)
	}

	ucb = b.control(t, slot, setup, buf)
	if ucb.Length != len(buf) {
		t.Errorf("request after stall moved %d bytes, want %d", ucb.Length, len(buf))
	}
}

func TestControlTransfer_VendorRequests(t *testing.T) {
	dev := sim.NewSerial()
	b, slot := attached(t, dev)

	out := usb.SetupPacket{
		RequestType: usb.RequestTypeOut | usb.RequestTypeVendor | usb.RequestTypeDevice,
		Request:     0x9A,
		Value:       0x2518,
		Index:       0x00C3,
	}
	b.control(t, slot, out, nil)
	if got := dev.Register(0x18); got != 0xC3 {
		t.Errorf("register 0x18 = %#x, want 0xc3", got)
	}

	in := usb.SetupPacket{
		RequestType: usb.RequestTypeIn | usb.RequestTypeVendor | usb.RequestTypeDevice,
		Request:     0x5F,
		Length:      2,
	}
	buf := make([]byte, 2)
	if ucb := b.control(t, slot, in, buf); ucb.Length != 2 || buf[0] != 0x30 {
		t.Errorf("version = % x (%d bytes)", buf, ucb.Length)
	}
}

func TestControlTransfer_BufferTooSmall(t *testing.T) {
	b, slot := attached(t, sim.NewSerial())
	setup := usb.GetDescriptorSetup(usb.DescriptorTypeDevice, 0, usb.DeviceDescriptorSize)
	_, err := b.hc.Submit(context.Background(), usb.URB{Slot: slot, Op: usb.ControlTransfer{Setup: setup, Data: make([]byte, 4)}})
	if !errors.Is(err, pkg.ErrBufferTooSmall) {
		t.Errorf("Submit() error = %v, want ErrBufferTooSmall", err)
	}
}

func TestSubmit_Errors(t *testing.T) {
	b, slot := attached(t, sim.NewSerial())
	ctx := context.Background()

	if _, err := b.hc.Submit(ctx, usb.URB{Slot: slot}); !errors.Is(err, pkg.ErrInvalidRequest) {
		t.Errorf("Submit(no op) error = %v, want ErrInvalidRequest", err)
	}
	if _, err := b.hc.Submit(ctx, usb.URB{Slot: 7, Op: usb.Deconfigure{}}); !errors.Is(err, pkg.ErrInvalidSlot) {
		t.Errorf("Submit(slot 7) error = %v, want ErrInvalidSlot", err)
	}

	idle := newBench(t, sim.DefaultConfig(), testConfig())
	if _, err := idle.hc.Submit(ctx, usb.URB{Slot: 1, Op: usb.Deconfigure{}}); !errors.Is(err, pkg.ErrNotRunning) {
		t.Errorf("Submit() before Init error = %v, want ErrNotRunning", err)
	}
}

// =============================================================================
// Configuration Tests
// =============================================================================

func TestSetupDevice(t *testing.T) {
	dev := sim.NewSerial()
	b, slot := configured(t, dev)

	a, _ := b.hc.Attachment(slot)
	if a.Configuration != 1 || dev.Configuration() != 1 {
		t.Errorf("configuration = %d, device has %d", a.Configuration, dev.Configuration())
	}
	want := map[uint8]uint8{
		3: sim.SerialStatusEndpoint,
		4: sim.SerialOutEndpoint,
		5: sim.SerialInEndpoint,
	}
	if len(a.Endpoints) != len(want)+1 {
		t.Errorf("endpoints = %v", a.Endpoints)
	}
	for dci, address := range want {
		if ep, ok := a.Endpoints[dci]; !ok || ep.Address != address || ep.DCI != dci {
			t.Errorf("dci %d = %+v, want address %#02x", dci, ep, address)
		}
	}
	if a.Endpoints[5].MaxPacketSize != 32 {
		t.Errorf("bulk IN mps = %d, want 32", a.Endpoints[5].MaxPacketSize)
	}

	report, err := b.hc.Dump(slot)
	if err != nil {
		t.Fatalf("Dump() error = %v", err)
	}
	for _, s := range []string{"state=configured", "config=1", "dci  5: state=running"} {
		if !strings.Contains(report, s) {
			t.Errorf("Dump() = %q, want %q", report, s)
		}
	}
}

func TestSetupDevice_BulkIgnoresCompanionBurst(t *testing.T) {
	dev, err := sim.NewBuilder(usb.SpeedSuper).
		WithVendorProduct(0x1234, 0x3000).
		AddConfiguration(1).
		AddInterface(0, 0, 0xFF, 0, 0).
		AddEndpoint(0x81, usb.EndpointTypeBulk, 1024, 0).
		AddEndpoint(0x01, usb.EndpointTypeBulk, 1024, 0).
		Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	b, slot := attached(t, dev)
	tree := b.configTree(t, slot)
	for _, ep := range tree.Endpoints() {
		if ep.Companion == nil {
			t.Fatalf("endpoint %#02x has no companion", ep.Descriptor.EndpointAddress)
		}
		ep.Companion.MaxBurst = 15
	}
	if ucb := b.submit(t, slot, usb.SetupDevice{Config: tree}); !ucb.Code.IsSuccess() {
		t.Fatalf("SetupDevice: %s", ucb.Code)
	}

	a, _ := b.hc.Attachment(slot)
	for _, dci := range []uint8{2, 3} {
		ep, ok := a.Endpoints[dci]
		if !ok {
			t.Fatalf("dci %d not configured: %v", dci, a.Endpoints)
		}
		if ep.MaxBurst != 0 || ep.MaxPacketSize != 1024 {
			t.Errorf("dci %d burst/mps = %d/%d, want 0/1024", dci, ep.MaxBurst, ep.MaxPacketSize)
		}
		epc := b.hc.list.Input(slot).Endpoint(int(dci))
		if epc.MaxBurst() != 0 || epc.MaxPStreams() != 0 {
			t.Errorf("dci %d context burst/streams = %d/%d, want 0/0",
				dci, epc.MaxBurst(), epc.MaxPStreams())
		}
	}
}

func TestSetupDevice_NilConfig(t *testing.T) {
	b, slot := attached(t, sim.NewSerial())
	_, err := b.hc.Submit(context.Background(), usb.URB{Slot: slot, Op: usb.SetupDevice{}})
	if !errors.Is(err, pkg.ErrInvalidParameter) {
		t.Errorf("Submit() error = %v, want ErrInvalidParameter", err)
	}
}

func TestDeconfigure(t *testing.T) {
	dev := sim.NewSerial()
	b, slot := configured(t, dev)

	if ucb := b.submit(t, slot, usb.Deconfigure{}); !ucb.Code.IsSuccess() {
		t.Fatalf("Deconfigure: %s", ucb.Code)
	}
	a, _ := b.hc.Attachment(slot)
	if a.Configuration != 0 || len(a.Endpoints) != 1 || a.Config != nil {
		t.Errorf("attachment after deconfigure = %+v", a)
	}
	if dev.Configuration() != 0 {
		t.Errorf("device configuration = %d, want 0", dev.Configuration())
	}
	_, err := b.hc.Submit(context.Background(), usb.URB{Slot: slot,
		Op: usb.BulkTransfer{Endpoint: sim.SerialOutEndpoint, Data: []byte{1}}})
	if !errors.Is(err, pkg.ErrInvalidEndpoint) {
		t.Errorf("bulk after deconfigure error = %v, want ErrInvalidEndpoint", err)
	}
}

func TestSwitchInterface(t *testing.T) {
	dev := sim.NewCamera(usb.SpeedHigh, 1024, 1<<20)
	b, slot := configured(t, dev)

	if ucb := b.submit(t, slot, usb.SwitchInterface{Interface: 1, Alternate: 1}); !ucb.Code.IsSuccess() {
		t.Fatalf("SwitchInterface: %s", ucb.Code)
	}
	if got := dev.Alternate(1); got != 1 {
		t.Errorf("device alternate = %d, want 1", got)
	}
	if a, _ := b.hc.Attachment(slot); a.Interface != 1 || a.Alternate != 1 {
		t.Errorf("attachment interface = %d/%d, want 1/1", a.Interface, a.Alternate)
	}

	_, err := b.hc.Submit(context.Background(), usb.URB{Slot: slot, Op: usb.SwitchInterface{Interface: 1, Alternate: 5}})
	if !errors.Is(err, pkg.ErrInvalidParameter) {
		t.Errorf("SwitchInterface(1, 5) error = %v, want ErrInvalidParameter", err)
	}
}

// =============================================================================
// Bulk and Interrupt Tests
// =============================================================================

func TestBulk_Loopback(t *testing.T) {
	b, slot := configured(t, sim.NewSerial())

	msg := []byte("hello xhci")
	ucb := b.submit(t, slot, usb.BulkTransfer{Endpoint: sim.SerialOutEndpoint, Data: msg})
	if !ucb.Code.IsSuccess() || ucb.Length != len(msg) {
		t.Fatalf("bulk OUT = %s, %d bytes", ucb.Code, ucb.Length)
	}

	buf := make([]byte, 64)
	ucb = b.submit(t, slot, usb.BulkTransfer{Endpoint: sim.SerialInEndpoint, Data: buf})
	if !ucb.Code.IsSuccess() || ucb.Length != len(msg) {
		t.Fatalf("bulk IN = %s, %d bytes", ucb.Code, ucb.Length)
	}
	if !bytes.Equal(buf[:ucb.Length], msg) {
		t.Errorf("read back %q, want %q", buf[:ucb.Length], msg)
	}
	b.checkNoDrops(t)
}

func TestBulk_MultiTRB(t *testing.T) {
	b, slot := configured(t, sim.NewSerial())

	msg := make([]byte, 100*1024)
	for i := range msg {
		msg[i] = byte(i * 7)
	}
	ucb := b.submit(t, slot, usb.BulkTransfer{Endpoint: sim.SerialOutEndpoint, Data: msg})
	if ucb.Length != len(msg) {
		t.Fatalf("bulk OUT moved %d bytes, want %d", ucb.Length, len(msg))
	}

	buf := make([]byte, len(msg))
	ucb = b.submit(t, slot, usb.BulkTransfer{Endpoint: sim.SerialInEndpoint, Data: buf})
	if ucb.Length != len(msg) || !bytes.Equal(buf, msg) {
		t.Errorf("bulk IN moved %d bytes, equal %t", ucb.Length, bytes.Equal(buf, msg))
	}
}

func TestBulk_WrongEndpoint(t *testing.T) {
	b, slot := configured(t, sim.NewSerial())
	tests := []struct {
		name string
		op   usb.RequestedOperation
	}{
		{"unknown endpoint", usb.BulkTransfer{Endpoint: 0x85, Data: []byte{1}}},
		{"interrupt on bulk", usb.InterruptTransfer{Endpoint: sim.SerialInEndpoint, Data: []byte{1}}},
		{"bulk on interrupt", usb.BulkTransfer{Endpoint: sim.SerialStatusEndpoint, Data: []byte{1}}},
		{"isoch on bulk", usb.IsochTransfer{Endpoint: sim.SerialInEndpoint, PacketSize: 1, RequestTimes: 1, Data: []byte{1}}},
		{"control endpoint", usb.BulkTransfer{Endpoint: 0x80, Data: []byte{1}}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := b.hc.Submit(context.Background(), usb.URB{Slot: slot, Op: tt.op})
			if !errors.Is(err, pkg.ErrInvalidEndpoint) {
				t.Errorf("Submit() error = %v, want ErrInvalidEndpoint", err)
			}
		})
	}
}

func TestInterrupt_Mouse(t *testing.T) {
	dev := sim.NewMouse(usb.SpeedFull)
	b, slot := configured(t, dev)

	a, _ := b.hc.Attachment(slot)
	if ep := a.Endpoints[3]; ep.Interval != 6 || ep.Type != 7 {
		t.Errorf("mouse endpoint = %+v, want interval 6 type 7", ep)
	}

	dev.Move(1, 5, -3, 0)
	buf := make([]byte, 8)
	ucb := b.submit(t, slot, usb.InterruptTransfer{Endpoint: sim.MouseEndpoint, Data: buf})
	if !ucb.Code.IsSuccess() || ucb.Length != 4 {
		t.Fatalf("interrupt IN = %s, %d bytes", ucb.Code, ucb.Length)
	}
	if want := []byte{1, 5, 0xFD, 0}; !bytes.Equal(buf[:4], want) {
		t.Errorf("report = % x, want % x", buf[:4], want)
	}
	if dev.Pending() != 0 {
		t.Errorf("Pending() = %d, want 0", dev.Pending())
	}
}

func TestInterrupt_HaltAndReset(t *testing.T) {
	dev := sim.NewMouse(usb.SpeedFull)
	b, slot := configured(t, dev)
	buf := make([]byte, 8)
	intr := usb.InterruptTransfer{Endpoint: sim.MouseEndpoint, Data: buf}

	dev.SetHalt(sim.MouseEndpoint, true)
	if ucb := b.submit(t, slot, intr); ucb.Code.Event != usb.EventStall {
		t.Fatalf("transfer to halted device endpoint = %s, want stall", ucb.Code)
	}
	if ucb := b.submit(t, slot, intr); ucb.Code.Event != usb.EventHalt {
		t.Fatalf("transfer to halted ring = %s, want halt", ucb.Code)
	}

	if _, err := b.hc.Submit(context.Background(), usb.URB{Slot: slot, Op: usb.ResetEndpoint{DCI: 1}}); !errors.Is(err, ErrControlPipe) {
		t.Errorf("ResetEndpoint(1) error = %v, want ErrControlPipe", err)
	}
	if ucb := b.submit(t, slot, usb.ResetEndpoint{DCI: 3}); !ucb.Code.IsSuccess() {
		t.Fatalf("ResetEndpoint(3) = %s", ucb.Code)
	}
	b.control(t, slot, usb.ClearEndpointHaltSetup(sim.MouseEndpoint), nil)
	if dev.Halted(sim.MouseEndpoint) {
		t.Fatal("device endpoint still halted")
	}

	dev.Move(0, 1, 1, 0)
	if ucb := b.submit(t, slot, intr); !ucb.Code.IsSuccess() || ucb.Length != 4 {
		t.Errorf("transfer after reset = %s, %d bytes", ucb.Code, ucb.Length)
	}
}

func TestPrepareForTransfer(t *testing.T) {
	dev := sim.NewMouse(usb.SpeedFull)
	b, slot := configured(t, dev)
	ctx := context.Background()

	for _, dci := range []uint8{0, 1} {
		_, err := b.hc.Submit(ctx, usb.URB{Slot: slot, Op: usb.PrepareForTransfer{DCI: dci}})
		if !errors.Is(err, pkg.ErrInvalidParameter) {
			t.Errorf("PrepareForTransfer(%d) error = %v, want ErrInvalidParameter", dci, err)
		}
	}
	if _, err := b.hc.Submit(ctx, usb.URB{Slot: slot, Op: usb.PrepareForTransfer{DCI: 9}}); !errors.Is(err, pkg.ErrInvalidEndpoint) {
		t.Errorf("PrepareForTransfer(9) error = %v, want ErrInvalidEndpoint", err)
	}

	// Priming fills the ring up to its link, so the next transfer runs
	// after a wrap.
	if ucb := b.submit(t, slot, usb.PrepareForTransfer{DCI: 3}); !ucb.Code.IsSuccess() {
		t.Fatalf("PrepareForTransfer(3) = %s", ucb.Code)
	}
	dev.Move(2, 0, 0, 0)
	buf := make([]byte, 4)
	if ucb := b.submit(t, slot, usb.InterruptTransfer{Endpoint: sim.MouseEndpoint, Data: buf}); ucb.Length != 4 || buf[0] != 2 {
		t.Errorf("transfer after priming = %s, % x", ucb.Code, buf)
	}
}

// =============================================================================
// Isochronous Tests
// =============================================================================

func TestIsoch_Camera(t *testing.T) {
	dev := sim.NewCamera(usb.SpeedHigh, 1024, 1<<20)
	b, slot := configured(t, dev)

	a, _ := b.hc.Attachment(slot)
	if ep := a.Endpoints[3]; ep.MaxPacketSize != 1024 || ep.Interval != 0 {
		t.Errorf("video endpoint = %+v, want mps 1024 interval 0", ep)
	}
	if ep := a.Endpoints[7]; ep.Interval != 7 {
		t.Errorf("status endpoint = %+v, want interval 7", ep)
	}
	b.submit(t, slot, usb.SwitchInterface{Interface: 1, Alternate: 1})

	buf := make([]byte, 3*1024)
	ucb := b.submit(t, slot, usb.IsochTransfer{
		Endpoint: sim.CameraVideoEndpoint, PacketSize: 1024, RequestTimes: 3, Data: buf,
	})
	if !ucb.Code.IsSuccess() || ucb.Length != len(buf) {
		t.Fatalf("isoch IN = %s, %d bytes", ucb.Code, ucb.Length)
	}
	if buf[0] != 2 || buf[2] != 0 || buf[3] != 1 {
		t.Errorf("payload starts % x", buf[:4])
	}
	if dev.Payloads() != 3 {
		t.Errorf("Payloads() = %d, want one per packet", dev.Payloads())
	}
}

func TestIsoch_InactiveAlternateIsFatal(t *testing.T) {
	b, slot := configured(t, sim.NewCamera(usb.SpeedHigh, 1024, 1<<20))

	buf := make([]byte, 1024)
	ucb, err := b.hc.Submit(context.Background(), usb.URB{Slot: slot, Op: usb.IsochTransfer{
		Endpoint: sim.CameraVideoEndpoint, PacketSize: 1024, RequestTimes: 1, Data: buf,
	}})
	if !errors.Is(err, ErrFatal) {
		t.Fatalf("Submit() error = %v, want ErrFatal", err)
	}
	if ucb.Code != usb.UnknownCode(uint8(trb.CodeUSBTransaction)) {
		t.Errorf("UCB code = %s, want the raw transaction error", ucb.Code)
	}
}

func TestIsoch_Errors(t *testing.T) {
	b, slot := configured(t, sim.NewCamera(usb.SpeedHigh, 1024, 1<<20))
	tests := []struct {
		name string
		x    usb.IsochTransfer
		err  error
	}{
		{"zero packets", usb.IsochTransfer{Endpoint: sim.CameraVideoEndpoint, PacketSize: 1024}, pkg.ErrInvalidParameter},
		{"short buffer", usb.IsochTransfer{Endpoint: sim.CameraVideoEndpoint, PacketSize: 1024, RequestTimes: 2, Data: make([]byte, 1024)}, pkg.ErrBufferTooSmall},
		{"too many packets", usb.IsochTransfer{Endpoint: sim.CameraVideoEndpoint, PacketSize: 3072, RequestTimes: 11, Data: make([]byte, 3072*11)}, ErrFatal},
		{"interrupt endpoint", usb.IsochTransfer{Endpoint: sim.CameraStatusEndpoint, PacketSize: 16, RequestTimes: 1, Data: make([]byte, 16)}, pkg.ErrInvalidEndpoint},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := b.hc.Submit(context.Background(), usb.URB{Slot: slot, Op: tt.x})
			if !errors.Is(err, tt.err) {
				t.Errorf("Submit() error = %v, want %v", err, tt.err)
			}
		})
	}
}

// =============================================================================
// Slot and Endpoint Command Tests
// =============================================================================

func TestDisableSlot(t *testing.T) {
	b, slot := attached(t, sim.NewSerial())
	ctx := context.Background()

	if err := b.hc.DisableSlot(ctx, slot); err != nil {
		t.Fatalf("DisableSlot() error = %v", err)
	}
	if _, ok := b.hc.Attachment(slot); ok || len(b.hc.Slots()) != 0 {
		t.Errorf("slot %d still attached", slot)
	}
	if err := b.hc.DisableSlot(ctx, slot); !errors.Is(err, pkg.ErrInvalidSlot) {
		t.Errorf("second DisableSlot() error = %v, want ErrInvalidSlot", err)
	}

	slots, err := b.hc.Probe(ctx)
	if err != nil || len(slots) != 1 {
		t.Errorf("Probe() after disable = %v, %v", slots, err)
	}
}

func TestResetDevice(t *testing.T) {
	b, slot := configured(t, sim.NewSerial())
	if err := b.hc.ResetDevice(context.Background(), slot); err != nil {
		t.Fatalf("ResetDevice() error = %v", err)
	}
	a, _ := b.hc.Attachment(slot)
	if a.Configuration != 0 || len(a.Endpoints) != 1 {
		t.Errorf("attachment after reset = %+v", a)
	}
	report, _ := b.hc.Dump(slot)
	if !strings.Contains(report, "state=default") {
		t.Errorf("Dump() = %q, want a default slot", report)
	}
}

func TestStopEndpoint(t *testing.T) {
	dev := sim.NewMouse(usb.SpeedFull)
	b, slot := configured(t, dev)
	ctx := context.Background()

	if err := b.hc.StopEndpoint(ctx, slot, 3); err != nil {
		t.Fatalf("StopEndpoint() error = %v", err)
	}
	if err := b.hc.StopEndpoint(ctx, slot, 3); !IsCommandError(err, trb.CodeContextState) {
		t.Errorf("second StopEndpoint() error = %v, want context state error", err)
	}
	if err := b.hc.SetTRDequeuePointer(ctx, slot, 3); err != nil {
		t.Fatalf("SetTRDequeuePointer() error = %v", err)
	}
	if err := b.hc.StopEndpoint(ctx, slot, 9); !IsCommandError(err, trb.CodeEndpointNotEnabled) {
		t.Errorf("StopEndpoint(9) error = %v, want endpoint not enabled", err)
	}
	if err := b.hc.StopEndpoint(ctx, 6, 3); !errors.Is(err, pkg.ErrInvalidSlot) {
		t.Errorf("StopEndpoint(slot 6) error = %v, want ErrInvalidSlot", err)
	}

	dev.Move(0, 0, 0, 1)
	buf := make([]byte, 4)
	if ucb := b.submit(t, slot, usb.InterruptTransfer{Endpoint: sim.MouseEndpoint, Data: buf}); ucb.Length != 4 {
		t.Errorf("transfer after stop = %s, %d bytes", ucb.Code, ucb.Length)
	}
}

// =============================================================================
// Debug Tests
// =============================================================================

func TestDebug(t *testing.T) {
	b, slot := attached(t, sim.NewSerial())

	ucb := b.submit(t, 0, usb.Debug{Op: usb.DebugDumpPorts})
	if ucb.Code != usb.DebugCode() || !strings.Contains(ucb.Report, "port 1:") {
		t.Errorf("ports report = %s %q", ucb.Code, ucb.Report)
	}
	ucb = b.submit(t, slot, usb.Debug{Op: usb.DebugDumpSlot})
	if !strings.HasPrefix(ucb.Report, "slot 1 @") || !strings.Contains(ucb.Report, "dci  1") {
		t.Errorf("slot report = %q", ucb.Report)
	}
	if _, err := b.hc.Submit(context.Background(), usb.URB{Slot: 5, Op: usb.Debug{Op: usb.DebugDumpSlot}}); !errors.Is(err, pkg.ErrInvalidSlot) {
		t.Errorf("dump of slot 5 error = %v, want ErrInvalidSlot", err)
	}
	if _, err := b.hc.Submit(context.Background(), usb.URB{Op: usb.Debug{Op: 9}}); !errors.Is(err, pkg.ErrNotSupported) {
		t.Errorf("debug op 9 error = %v, want ErrNotSupported", err)
	}
}
