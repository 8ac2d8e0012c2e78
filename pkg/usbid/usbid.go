package usbid

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"sync"
)

// ErrNotFound is returned by Load when no database file can be opened.
var ErrNotFound = errors.New("usbid: database not found")

// DefaultPaths lists the usual locations of usb.ids.
var DefaultPaths = []string{
	"/usr/share/hwdata/usb.ids",
	"/var/lib/usbutils/usb.ids",
	"/usr/share/misc/usb.ids",
}

// Database maps USB codes to names.
type Database struct {
	mu       sync.RWMutex
	vendors  map[uint16]string
	products map[uint32]string // vid<<16 | pid
	classes  map[uint8]string
	source   string
}

// New returns an empty database.
func New() *Database {
	return &Database{
		vendors:  make(map[uint16]string),
		products: make(map[uint32]string),
		classes:  make(map[uint8]string),
	}
}

// Load parses the first file in paths that can be opened, or the first of
// DefaultPaths when paths is empty.
func (db *Database) Load(paths ...string) error {
	if len(paths) == 0 {
		paths = DefaultPaths
	}
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			continue
		}
		err = db.Parse(f)
		f.Close()
		if err != nil {
			return fmt.Errorf("usbid: %s: %w", path, err)
		}
		db.mu.Lock()
		db.source = path
		db.mu.Unlock()
		return nil
	}
	return ErrNotFound
}

// section is the usb.ids block the parser is in.
type section int

const (
	sectionNone section = iota
	sectionVendor
	sectionClass
)

// Parse merges the entries read from r. Malformed lines are skipped.
func (db *Database) Parse(r io.Reader) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	var (
		sec    section
		vendor uint16
	)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || line[0] == '#' {
			continue
		}

		// Product and subclass entries are indented one tab; deeper
		// levels (interfaces, protocols) are ignored.
		if strings.HasPrefix(line, "\t\t") {
			continue
		}
		if line[0] == '\t' {
			if sec != sectionVendor {
				continue
			}
			if pid, name, ok := entry(line[1:], 4); ok {
				db.products[uint32(vendor)<<16|uint32(pid)] = name
			}
			continue
		}

		if strings.HasPrefix(line, "C ") {
			sec = sectionNone
			if class, name, ok := entry(line[2:], 2); ok {
				db.classes[uint8(class)] = name
				sec = sectionClass
			}
			continue
		}
		sec = sectionNone
		if vid, name, ok := entry(line, 4); ok {
			vendor = uint16(vid)
			db.vendors[vendor] = name
			sec = sectionVendor
		}
	}
	return scanner.Err()
}

// entry splits "hhhh  Name" where the code has digits hex digits.
func entry(s string, digits int) (uint64, string, bool) {
	if len(s) <= digits || s[digits] != ' ' {
		return 0, "", false
	}
	v, err := strconv.ParseUint(s[:digits], 16, 16)
	if err != nil {
		return 0, "", false
	}
	name := strings.TrimSpace(s[digits:])
	return v, name, name != ""
}

// Vendor returns the name of vid, or "".
func (db *Database) Vendor(vid uint16) string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.vendors[vid]
}

// Product returns the name of pid under vid, or "".
func (db *Database) Product(vid, pid uint16) string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.products[uint32(vid)<<16|uint32(pid)]
}

// Class returns the name of a device or interface class code, or "".
func (db *Database) Class(class uint8) string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.classes[class]
}

// Describe returns "Vendor Product" as far as either is known.
func (db *Database) Describe(vid, pid uint16) string {
	vendor, product := db.Vendor(vid), db.Product(vid, pid)
	switch {
	case vendor == "":
		return product
	case product == "":
		return vendor
	default:
		return vendor + " " + product
	}
}

// Source returns the path of the loaded file, or "" if none was loaded.
func (db *Database) Source() string {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return db.source
}

// Len returns the number of vendors and products known.
func (db *Database) Len() (vendors, products int) {
	db.mu.RLock()
	defer db.mu.RUnlock()
	return len(db.vendors), len(db.products)
}
