// Package usbid resolves vendor, product, and class codes to names using
// the usb.ids database distributed with usbutils.
//
// A [Database] is filled from any reader in usb.ids format, or from the
// first readable file among [DefaultPaths]:
//
//	db := usbid.New()
//	if err := db.Load(); err != nil {
//	    // names are unavailable; lookups return ""
//	}
//	fmt.Println(db.Describe(0x046D, 0xC077))
//
// Only vendor, product, and device class sections are kept. Lookups are
// safe for concurrent use.
package usbid
