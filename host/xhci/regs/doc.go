// Package regs provides typed accessors for the xHCI register blocks.
//
// Every field the engine touches has a named accessor; callers never shift
// or mask register values themselves. The blocks are located from the
// capability registers:
//
//	base + 0             capability registers (CAPLENGTH, HCSPARAMS, ...)
//	base + CAPLENGTH     operational registers (USBCMD, USBSTS, CRCR, ...)
//	base + CAPLENGTH + 0x400 + 0x10*(n-1)  PORTSC block of port n
//	base + RTSOFF        runtime registers and interrupters
//	base + DBOFF         doorbell array
//
// Write helpers that touch registers with write-1-to-clear bits (PORTSC,
// IMAN, ERDP) preserve read/write fields and never echo a set change bit
// back unless clearing it is the intent.
package regs
