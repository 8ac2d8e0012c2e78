package main

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"

	"github.com/google/shlex"

	"github.com/ardnew/softxhci/host"
	"github.com/ardnew/softxhci/host/xhci/sim"
	"github.com/ardnew/softxhci/pkg"
	"github.com/ardnew/softxhci/pkg/usbid"
	"github.com/ardnew/softxhci/usb"
)

var errQuit = errors.New("quit")

// command is one shell verb.
type command struct {
	usage string
	min   int // required arguments
	run   func(sh *shell, ctx context.Context, args []string) error
}

var commands map[string]command

func init() {
	commands = map[string]command{
		"help":    {"help", 0, (*shell).help},
		"ports":   {"ports", 0, (*shell).ports},
		"devices": {"devices", 0, (*shell).devices},
		"probe":   {"probe", 0, (*shell).probe},
		"plug":    {"plug <port> <model>", 2, (*shell).plug},
		"move":    {"move <port> <buttons> <dx> <dy>", 4, (*shell).move},
		"desc":    {"desc <slot>", 1, (*shell).desc},
		"control": {"control <slot> <type> <req> <value> <index> <len>", 6, (*shell).control},
		"bulk":    {"bulk <slot> <ep> <len|hex-data>", 3, (*shell).bulk},
		"intr":    {"intr <slot> <ep> <len>", 3, (*shell).intr},
		"isoch":   {"isoch <slot> <ep> <size> <times>", 4, (*shell).isoch},
		"alt":     {"alt <slot> <interface> <alternate>", 3, (*shell).alt},
		"prepare": {"prepare <slot> <dci>", 2, (*shell).prepare},
		"dump":    {"dump <slot|ports>", 1, (*shell).dump},
		"detach":  {"detach <slot>", 1, (*shell).detach},
		"stats":   {"stats", 0, (*shell).stats},
		"quit":    {"quit", 0, (*shell).quit},
		"exit":    {"exit", 0, (*shell).quit},
	}
}

// shell executes commands against one bus.
type shell struct {
	bus    *bus
	out    io.Writer
	ids    *usbid.Database
	models map[uint8]sim.Device
}

func newShell(b *bus, out io.Writer) *shell {
	return &shell{bus: b, out: out, ids: usbid.New(), models: make(map[uint8]sim.Device)}
}

func (sh *shell) exec(ctx context.Context, argv []string) error {
	cmd, ok := commands[argv[0]]
	if !ok {
		return fmt.Errorf("%s: unknown command", argv[0])
	}
	args := argv[1:]
	if len(args) < cmd.min {
		return fmt.Errorf("usage: %s", cmd.usage)
	}
	return cmd.run(sh, ctx, args)
}

// newModel returns a simulated device by model name.
func newModel(name string) (sim.Device, error) {
	switch name {
	case "mouse":
		return sim.NewMouse(usb.SpeedFull), nil
	case "mouse-ls":
		return sim.NewMouse(usb.SpeedLow), nil
	case "mouse-hs":
		return sim.NewMouse(usb.SpeedHigh), nil
	case "serial":
		return sim.NewSerial(), nil
	case "camera":
		return sim.NewCamera(usb.SpeedHigh, 1024, 1<<20), nil
	default:
		return nil, fmt.Errorf("%w: model %q", pkg.ErrNotSupported, name)
	}
}

// attachAll plugs every "PORT:MODEL" entry of list.
func (sh *shell) attachAll(list string) error {
	entries, err := shlex.Split(list)
	if err != nil {
		return fmt.Errorf("-attach: %w", err)
	}
	for _, e := range entries {
		port, model, ok := strings.Cut(e, ":")
		if !ok {
			return fmt.Errorf("-attach: %q is not PORT:MODEL", e)
		}
		if err := sh.attach(port, model); err != nil {
			return fmt.Errorf("-attach: %w", err)
		}
	}
	return nil
}

func (sh *shell) attach(portArg, model string) error {
	port, err := parseU8(portArg)
	if err != nil {
		return err
	}
	dev, err := newModel(model)
	if err != nil {
		return err
	}
	if err := sh.bus.sim.Plug(port, dev); err != nil {
		return err
	}
	sh.models[port] = dev
	return nil
}

// =============================================================================
// Bus Commands
// =============================================================================

func (sh *shell) help(ctx context.Context, args []string) error {
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintln(sh.out, commands[name].usage)
	}
	return nil
}

func (sh *shell) ports(ctx context.Context, args []string) error {
	for i, st := range sh.bus.host.Ports() {
		fmt.Fprintf(sh.out, "port %d: connected=%t enabled=%t speed=%s\n",
			i+1, st.Connected(), st.Enabled(), usb.Speed(st.Speed()))
	}
	return nil
}

func (sh *shell) devices(ctx context.Context, args []string) error {
	for _, dev := range sh.bus.host.Devices() {
		sh.printDevice(dev)
	}
	return nil
}

func (sh *shell) printDevice(dev *host.Device) {
	driver := "-"
	if d := dev.Driver(); d != nil {
		driver = d.Name()
	}
	fmt.Fprintf(sh.out, "slot %d: port %d %s %04x:%04x %q %s driver=%s\n",
		dev.Slot(), dev.Port(), dev.Speed(), dev.VendorID(), dev.ProductID(),
		dev.Product(), dev.State(), driver)
	if name := sh.ids.Describe(dev.VendorID(), dev.ProductID()); name != "" {
		fmt.Fprintf(sh.out, "  %s\n", name)
	}
}

func (sh *shell) probe(ctx context.Context, args []string) error {
	found, err := sh.bus.host.Probe(ctx)
	for _, dev := range found {
		sh.printDevice(dev)
	}
	if len(found) == 0 && err == nil {
		fmt.Fprintln(sh.out, "no new devices")
	}
	return err
}

func (sh *shell) plug(ctx context.Context, args []string) error {
	return sh.attach(args[0], args[1])
}

func (sh *shell) move(ctx context.Context, args []string) error {
	port, err := parseU8(args[0])
	if err != nil {
		return err
	}
	mouse, ok := sh.models[port].(*sim.Mouse)
	if !ok {
		return fmt.Errorf("%w: no mouse on port %d", pkg.ErrNoDevice, port)
	}
	v := make([]int64, 3)
	for i, a := range args[1:4] {
		if v[i], err = strconv.ParseInt(a, 0, 8); err != nil {
			return err
		}
	}
	mouse.Move(uint8(v[0]), int8(v[1]), int8(v[2]), 0)
	return nil
}

func (sh *shell) stats(ctx context.Context, args []string) error {
	st := sh.bus.sim.Stats()
	fmt.Fprintf(sh.out, "commands=%d transfers=%d events=%d dropped=%d doorbells=%d port_resets=%d\n",
		st.Commands, st.Transfers, st.Events, st.DroppedEvents, st.Doorbells, st.PortResets)
	return nil
}

func (sh *shell) quit(ctx context.Context, args []string) error {
	return errQuit
}

// =============================================================================
// Device Commands
// =============================================================================

func (sh *shell) device(arg string) (*host.Device, error) {
	slot, err := parseU8(arg)
	if err != nil {
		return nil, err
	}
	dev := sh.bus.host.Device(slot)
	if dev == nil {
		return nil, fmt.Errorf("%w: slot %d", pkg.ErrInvalidSlot, slot)
	}
	return dev, nil
}

func (sh *shell) desc(ctx context.Context, args []string) error {
	dev, err := sh.device(args[0])
	if err != nil {
		return err
	}
	d := dev.Descriptor()
	fmt.Fprintf(sh.out, "device: usb %x.%02x class %02x/%02x/%02x mps0 %d id %04x:%04x configs %d\n",
		d.USBVersion>>8, d.USBVersion&0xFF, d.DeviceClass, d.DeviceSubClass, d.DeviceProtocol,
		d.MaxPacketSize0, d.VendorID, d.ProductID, d.NumConfigurations)
	if name := sh.ids.Describe(d.VendorID, d.ProductID); name != "" {
		fmt.Fprintf(sh.out, "  %s\n", name)
	}
	fmt.Fprintf(sh.out, "strings: manufacturer=%q product=%q serial=%q\n",
		dev.Manufacturer(), dev.Product(), dev.SerialNumber())

	cfg := dev.Config()
	if cfg == nil {
		return nil
	}
	fmt.Fprintf(sh.out, "config %d: %d interfaces\n",
		cfg.Descriptor.ConfigurationValue, cfg.Descriptor.NumInterfaces)
	for _, iface := range dev.Interfaces() {
		id := iface.Descriptor
		fmt.Fprintf(sh.out, "  interface %d alt %d: class %02x/%02x/%02x",
			id.InterfaceNumber, id.AlternateSetting,
			id.InterfaceClass, id.InterfaceSubClass, id.InterfaceProtocol)
		if name := sh.ids.Class(id.InterfaceClass); name != "" {
			fmt.Fprintf(sh.out, " (%s)", name)
		}
		fmt.Fprintln(sh.out)
		for _, ep := range iface.Endpoints {
			ed := ep.Descriptor
			fmt.Fprintf(sh.out, "    endpoint %#02x dci %d: %s mps %d interval %d\n",
				ed.EndpointAddress, ed.DCI(), transferTypeName(ed.TransferType()),
				ed.MaxPacketSizeBase(), ed.Interval)
		}
	}
	return nil
}

func (sh *shell) control(ctx context.Context, args []string) error {
	dev, err := sh.device(args[0])
	if err != nil {
		return err
	}
	v := make([]uint64, 5)
	bits := []int{8, 8, 16, 16, 16}
	for i, a := range args[1:6] {
		if v[i], err = strconv.ParseUint(a, 0, bits[i]); err != nil {
			return err
		}
	}
	setup := usb.SetupPacket{
		RequestType: uint8(v[0]),
		Request:     uint8(v[1]),
		Value:       uint16(v[2]),
		Index:       uint16(v[3]),
		Length:      uint16(v[4]),
	}
	var data []byte
	if setup.Length > 0 {
		data = make([]byte, setup.Length)
	}
	ucb, err := dev.Submit(ctx, usb.ControlTransfer{Setup: setup, Data: data})
	if err != nil {
		return err
	}
	sh.printResult(ucb, data, setup.IsIn())
	return nil
}

func (sh *shell) bulk(ctx context.Context, args []string) error {
	dev, ep, err := sh.endpoint(args)
	if err != nil {
		return err
	}
	in := ep&usb.EndpointDirectionIn != 0
	var data []byte
	if in {
		n, err := strconv.Atoi(args[2])
		if err != nil {
			return err
		}
		data = make([]byte, n)
	} else if data, err = hex.DecodeString(args[2]); err != nil {
		return err
	}
	ucb, err := dev.Submit(ctx, usb.BulkTransfer{Endpoint: ep, Data: data})
	if err != nil {
		return err
	}
	sh.printResult(ucb, data, in)
	return nil
}

func (sh *shell) intr(ctx context.Context, args []string) error {
	dev, ep, err := sh.endpoint(args)
	if err != nil {
		return err
	}
	n, err := strconv.Atoi(args[2])
	if err != nil {
		return err
	}
	data := make([]byte, n)
	ucb, err := dev.Submit(ctx, usb.InterruptTransfer{Endpoint: ep, Data: data})
	if err != nil {
		return err
	}
	sh.printResult(ucb, data, ep&usb.EndpointDirectionIn != 0)
	return nil
}

func (sh *shell) isoch(ctx context.Context, args []string) error {
	dev, ep, err := sh.endpoint(args)
	if err != nil {
		return err
	}
	size, err := strconv.Atoi(args[2])
	if err != nil {
		return err
	}
	times, err := strconv.Atoi(args[3])
	if err != nil {
		return err
	}
	if size <= 0 || times <= 0 {
		return fmt.Errorf("%w: size %d times %d", pkg.ErrInvalidParameter, size, times)
	}
	data := make([]byte, size*times)
	ucb, err := dev.Submit(ctx, usb.IsochTransfer{
		Endpoint: ep, PacketSize: size, RequestTimes: times, Data: data,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(sh.out, "%s: %d bytes\n", ucb.Code, ucb.Length)
	return nil
}

func (sh *shell) alt(ctx context.Context, args []string) error {
	dev, err := sh.device(args[0])
	if err != nil {
		return err
	}
	iface, err := parseU8(args[1])
	if err != nil {
		return err
	}
	alt, err := parseU8(args[2])
	if err != nil {
		return err
	}
	return dev.SetInterface(ctx, iface, alt)
}

func (sh *shell) prepare(ctx context.Context, args []string) error {
	dev, err := sh.device(args[0])
	if err != nil {
		return err
	}
	dci, err := parseU8(args[1])
	if err != nil {
		return err
	}
	ucb, err := dev.Submit(ctx, usb.PrepareForTransfer{DCI: dci})
	if err != nil {
		return err
	}
	fmt.Fprintln(sh.out, ucb.Code)
	return nil
}

func (sh *shell) dump(ctx context.Context, args []string) error {
	if args[0] == "ports" {
		report, err := sh.bus.host.DumpPorts(ctx)
		if err != nil {
			return err
		}
		fmt.Fprint(sh.out, report)
		return nil
	}
	dev, err := sh.device(args[0])
	if err != nil {
		return err
	}
	report, err := dev.Dump(ctx)
	if err != nil {
		return err
	}
	fmt.Fprint(sh.out, report)
	return nil
}

func (sh *shell) detach(ctx context.Context, args []string) error {
	slot, err := parseU8(args[0])
	if err != nil {
		return err
	}
	return sh.bus.host.Detach(ctx, slot)
}

func (sh *shell) endpoint(args []string) (*host.Device, uint8, error) {
	dev, err := sh.device(args[0])
	if err != nil {
		return nil, 0, err
	}
	ep, err := parseU8(args[1])
	if err != nil {
		return nil, 0, err
	}
	return dev, ep, nil
}

func (sh *shell) printResult(ucb usb.UCB, data []byte, in bool) {
	fmt.Fprintf(sh.out, "%s: %d bytes\n", ucb.Code, ucb.Length)
	if in && ucb.Length > 0 {
		fmt.Fprintf(sh.out, "% x\n", data[:ucb.Length])
	}
}

func transferTypeName(t uint8) string {
	switch t {
	case usb.EndpointTypeControl:
		return "control"
	case usb.EndpointTypeIsochronous:
		return "isoch"
	case usb.EndpointTypeBulk:
		return "bulk"
	case usb.EndpointTypeInterrupt:
		return "interrupt"
	default:
		return "unknown"
	}
}

func parseU8(s string) (uint8, error) {
	if s == "" {
		return 0, fmt.Errorf("%w: empty number", pkg.ErrInvalidParameter)
	}
	var v uint8
	err := parseUint8(s, &v)
	return v, err
}
