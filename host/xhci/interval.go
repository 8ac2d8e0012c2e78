package xhci

import (
	"math/bits"

	"github.com/ardnew/softxhci/usb"
)

// Interval bounds of the xHCI encoding (2^Interval * 125us).
const (
	minInterval = 3  // 1 ms
	maxInterval = 10 // 128 ms
	maxExponent = 15
)

// endpointInterval converts bInterval to the endpoint context Interval
// field for an endpoint of the given transfer type on a device at speed.
//
// Full and low speed interrupt endpoints express bInterval in frames and
// are rounded down to a power of two microframe count. Full speed isoch
// and every high and SuperSpeed periodic endpoint use the 2^(bInterval-1)
// exponent form. Control and bulk endpoints have no interval.
func endpointInterval(speed usb.Speed, transferType uint8, bInterval uint8) uint8 {
	periodic := transferType == usb.EndpointTypeInterrupt || transferType == usb.EndpointTypeIsochronous
	if !periodic {
		return 0
	}

	switch {
	case transferType == usb.EndpointTypeInterrupt && (speed == usb.SpeedFull || speed == usb.SpeedLow):
		if bInterval == 0 {
			return minInterval
		}
		v := uint8(bits.Len(uint(bInterval)*8) - 1)
		if v < minInterval {
			v = minInterval
		}
		if v > maxInterval {
			v = maxInterval
		}
		return v

	case speed == usb.SpeedFull:
		v := clampExponent(bInterval) - 1 + minInterval
		if v > maxExponent {
			v = maxExponent
		}
		return v

	default:
		return clampExponent(bInterval) - 1
	}
}

// clampExponent bounds a 2^(n-1) style bInterval to 1..16.
func clampExponent(n uint8) uint8 {
	if n < 1 {
		return 1
	}
	if n > maxExponent+1 {
		return maxExponent + 1
	}
	return n
}
