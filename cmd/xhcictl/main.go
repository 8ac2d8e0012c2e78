// Command xhcictl drives the xHCI engine against a simulated controller.
//
// Usage:
//
//	xhcictl [-v] [-json] [-log LEVEL] [-slots N] [-ports N] [-scratchpads N]
//		[-attach "PORT:MODEL ..."] [-ids FILE] [-script FILE]
//
// Models are mouse, mouse-ls, mouse-hs, serial, and camera. Commands are
// read from FILE, an interactive prompt, or standard input, in that
// order of preference. Type "help" for the command list. Vendor and
// product names come from the usb.ids database at FILE or a system path.
package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/google/shlex"
	"github.com/mattn/go-isatty"
	"github.com/platinasystems/flags"
	"github.com/platinasystems/liner"
	"github.com/platinasystems/parms"

	"github.com/ardnew/softxhci/host"
	"github.com/ardnew/softxhci/host/hal/mem"
	"github.com/ardnew/softxhci/host/xhci"
	"github.com/ardnew/softxhci/host/xhci/sim"
	"github.com/ardnew/softxhci/pkg"
	"github.com/ardnew/softxhci/pkg/usbid"
)

const (
	busBase  = 0xE000_0000
	pageSize = 4096
	prompt   = "xhci> "
)

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "xhcictl:", err)
		os.Exit(1)
	}
}

func run(args []string, in io.Reader, out io.Writer) error {
	flag, args := flags.New(args, "-v", "-json")
	parm, args := parms.New(args, "-log", "-slots", "-ports", "-scratchpads", "-attach", "-ids", "-script")
	if len(args) > 0 {
		return fmt.Errorf("unexpected arguments: %v", args)
	}

	if flag.ByName["-json"] {
		pkg.SetLogFormat(os.Stderr, pkg.LogFormatJSON)
	}
	if flag.ByName["-v"] {
		pkg.SetLogLevel(slog.LevelDebug)
	}
	if s := parm.ByName["-log"]; s != "" {
		level, err := pkg.ParseLogLevel(s)
		if err != nil {
			return fmt.Errorf("-log: %w", err)
		}
		pkg.SetLogLevel(level)
	}

	cfg := sim.DefaultConfig()
	if err := parseUint8(parm.ByName["-slots"], &cfg.MaxSlots); err != nil {
		return fmt.Errorf("-slots: %w", err)
	}
	if err := parseUint8(parm.ByName["-ports"], &cfg.MaxPorts); err != nil {
		return fmt.Errorf("-ports: %w", err)
	}
	if s := parm.ByName["-scratchpads"]; s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return fmt.Errorf("-scratchpads: %w", err)
		}
		cfg.MaxScratchpads = n
	}

	bus, err := newBus(cfg, xhci.DefaultConfig())
	if err != nil {
		return err
	}
	sh := newShell(bus, out)
	if err := loadIDs(sh.ids, parm.ByName["-ids"]); err != nil {
		return err
	}
	if err := sh.attachAll(parm.ByName["-attach"]); err != nil {
		return err
	}

	ctx := context.Background()
	if err := bus.host.Start(ctx); err != nil {
		return err
	}
	defer bus.host.Stop(ctx)

	if path := parm.ByName["-script"]; path != "" {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		return sh.runScript(ctx, f)
	}
	if f, ok := in.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		return sh.runInteractive(ctx)
	}
	return sh.runScript(ctx, in)
}

// bus is a host stack over an engine on a simulated controller.
type bus struct {
	sim  *sim.Controller
	hc   *xhci.Controller
	host *host.Host
}

func newBus(sc sim.Config, cfg xhci.Config) (*bus, error) {
	m := mem.New(pageSize)
	s, err := sim.New(m, busBase, sc)
	if err != nil {
		return nil, err
	}
	hc, err := xhci.New(m, busBase, cfg)
	if err != nil {
		return nil, err
	}
	return &bus{sim: s, hc: hc, host: host.New(hc)}, nil
}

// runScript executes one command per line until EOF or quit.
func (sh *shell) runScript(ctx context.Context, r io.Reader) error {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		err := sh.execLine(ctx, scanner.Text())
		if errors.Is(err, errQuit) {
			return nil
		}
		if err != nil {
			return err
		}
	}
	return scanner.Err()
}

// runInteractive reads commands from a line editor. Command errors are
// printed and the prompt continues.
func (sh *shell) runInteractive(ctx context.Context) error {
	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	for {
		text, err := line.Prompt(prompt)
		if err == io.EOF || err == liner.ErrPromptAborted {
			return nil
		}
		if err != nil {
			return err
		}
		if strings.TrimSpace(text) != "" {
			line.AppendHistory(text)
		}
		err = sh.execLine(ctx, text)
		if errors.Is(err, errQuit) {
			return nil
		}
		if err != nil {
			fmt.Fprintln(sh.out, "error:", err)
		}
	}
}

// execLine splits a command line with shell quoting rules and runs it.
// Text after '#' is ignored.
func (sh *shell) execLine(ctx context.Context, text string) error {
	argv, err := shlex.Split(text)
	if err != nil {
		return fmt.Errorf("%q: %w", text, err)
	}
	if len(argv) == 0 {
		return nil
	}
	return sh.exec(ctx, argv)
}

// loadIDs loads path into db. Without a path the system database is
// optional.
func loadIDs(db *usbid.Database, path string) error {
	if path != "" {
		if err := db.Load(path); err != nil {
			return fmt.Errorf("-ids: %w", err)
		}
		return nil
	}
	if err := db.Load(); err != nil {
		pkg.LogDebug(pkg.ComponentHost, "no usb.ids database", "error", err)
	}
	return nil
}

func parseUint8(s string, out *uint8) error {
	if s == "" {
		return nil
	}
	v, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return err
	}
	*out = uint8(v)
	return nil
}
