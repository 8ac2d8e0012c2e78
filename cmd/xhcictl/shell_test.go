package main

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/ardnew/softxhci/pkg"
	"github.com/ardnew/softxhci/pkg/usbid"
)

// runLines executes script with args and returns the output.
func runLines(t *testing.T, args []string, lines ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	err := run(args, strings.NewReader(strings.Join(lines, "\n")), &out)
	return out.String(), err
}

func checkContains(t *testing.T, out string, want ...string) {
	t.Helper()
	for _, w := range want {
		if !strings.Contains(out, w) {
			t.Errorf("output missing %q:\n%s", w, out)
		}
	}
}

// =============================================================================
// Argument Tests
// =============================================================================

func TestRun_Arguments(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
		wantIs  error
	}{
		{"unexpected", []string{"extra"}, "unexpected arguments", nil},
		{"bad log level", []string{"-log", "loud"}, "-log", pkg.ErrInvalidParameter},
		{"bad slots", []string{"-slots", "many"}, "-slots", nil},
		{"bad ports", []string{"-ports", "300"}, "-ports", nil},
		{"bad scratchpads", []string{"-scratchpads", "x"}, "-scratchpads", nil},
		{"bad attach entry", []string{"-attach", "1"}, "not PORT:MODEL", nil},
		{"unknown model", []string{"-attach", "1:printer"}, "printer", pkg.ErrNotSupported},
		{"missing script", []string{"-script", "/nonexistent/xhcictl.script"}, "xhcictl.script", nil},
		{"missing ids", []string{"-ids", "/nonexistent/usb.ids"}, "-ids", usbid.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runLines(t, tt.args)
			if err == nil {
				t.Fatal("run() error = nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("run() error = %v, want %q", err, tt.wantErr)
			}
			if tt.wantIs != nil && !errors.Is(err, tt.wantIs) {
				t.Errorf("run() error = %v, want %v", err, tt.wantIs)
			}
		})
	}
}

func TestRun_EmptyScript(t *testing.T) {
	out, err := runLines(t, nil, "", "  ", "help")
	if err != nil {
		t.Fatalf("run() error = %v", err)
	}
	checkContains(t, out, "control <slot> <type> <req> <value> <index> <len>", "quit")
}

// =============================================================================
// Command Tests
// =============================================================================

func TestRun_Commands(t *testing.T) {
	tests := []struct {
		name    string
		lines   []string
		wantErr string
	}{
		{"unknown", []string{"bogus"}, "bogus: unknown command"},
		{"usage", []string{"desc"}, "usage: desc <slot>"},
		{"unknown slot", []string{"desc 9"}, "slot 9"},
		{"bad quoting", []string{`desc "1`}, "desc"},
		{"move without mouse", []string{"move 1 0 1 1"}, "no mouse on port 1"},
		{"isoch size", []string{"isoch 1 0x81 0 1"}, "size 0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := runLines(t, []string{"-attach", "1:serial"}, tt.lines...)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("run() error = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestRun_Quit(t *testing.T) {
	out, err := runLines(t, nil, "ports", "quit", "bogus")
	if err != nil {
		t.Fatalf("run() error = %v", err)
	}
	checkContains(t, out, "port 1: connected=false")
}

func TestRun_Mouse(t *testing.T) {
	out, err := runLines(t, []string{"-attach", "1:mouse", "-ports", "2"},
		"ports",
		"devices",
		"desc 1",
		"control 1 0x80 6 0x0100 0 18",
		"move 1 1 5 -3",
		"intr 1 0x81 4",
		"dump 1",
		"dump ports",
		"stats",
	)
	if err != nil {
		t.Fatalf("run() error = %v\n%s", err, out)
	}
	checkContains(t, out,
		"port 1: connected=true enabled=true speed=Full Speed",
		"port 2: connected=false",
		`slot 1: port 1 Full Speed (12 Mbps) 046d:c077 "Optical Mouse" Configured`,
		`manufacturer="softxhci" product="Optical Mouse"`,
		"interface 0 alt 0: class 03/01/02",
		"endpoint 0x81 dci 3: interrupt mps 4",
		"success: 18 bytes\n12 01",
		"success: 4 bytes\n01 05 fd 00",
		"slot 1 @",
		"commands=",
		"port_resets=2",
	)
}

func TestRun_Serial(t *testing.T) {
	out, err := runLines(t, []string{"-attach", "2:serial"},
		"bulk 1 0x02 68656c6c6f",
		"bulk 1 0x82 64",
		"prepare 1 5",
		"detach 1",
		"devices",
	)
	if err != nil {
		t.Fatalf("run() error = %v\n%s", err, out)
	}
	checkContains(t, out, "success: 5 bytes\n68 65 6c 6c 6f")
	if strings.Contains(out, "slot 1: port 2") {
		t.Errorf("detached device still listed:\n%s", out)
	}
}

func TestRun_Camera(t *testing.T) {
	out, err := runLines(t, []string{"-attach", "1:camera"},
		"alt 1 1 1",
		"isoch 1 0x81 1024 2",
	)
	if err != nil {
		t.Fatalf("run() error = %v\n%s", err, out)
	}
	checkContains(t, out, "success: 2048 bytes")
}

func TestRun_PlugAndProbe(t *testing.T) {
	out, err := runLines(t, nil,
		"probe",
		"plug 3 mouse-hs",
		"probe",
		"devices",
	)
	if err != nil {
		t.Fatalf("run() error = %v\n%s", err, out)
	}
	checkContains(t, out, "no new devices", "slot 1: port 3 High Speed")
}

func TestRun_Names(t *testing.T) {
	path := filepath.Join(t.TempDir(), "usb.ids")
	ids := "046d  Logitech, Inc.\n\tc077  M105 Optical Mouse\nC 03  Human Interface Device\n"
	if err := os.WriteFile(path, []byte(ids), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := runLines(t, []string{"-attach", "1:mouse", "-ids", path}, "devices", "desc 1")
	if err != nil {
		t.Fatalf("run() error = %v\n%s", err, out)
	}
	checkContains(t, out,
		"  Logitech, Inc. M105 Optical Mouse\n",
		"class 03/01/02 (Human Interface Device)",
	)
}
