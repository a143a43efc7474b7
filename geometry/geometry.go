// Package geometry converts sky directions into per-dipole delay switch
// settings for a 4x4 MWA-style tile.
package geometry

import (
	"math"

	"github.com/pkg/errors"
)

const (
	// NumDipoles is the number of dipoles on a tile.
	NumDipoles = 16

	// DelayStepPS is the delay line increment in picoseconds.
	DelayStepPS = 435.0

	// MaxDelay is the largest pointing delay the delay lines support.
	MaxDelay = 31

	dipoleSep = 1.10       // dipole separation in metres
	cMPerPS   = 0.000299798 // speed of light in metres per picosecond
)

// ErrBadPointing is returned for directions outside the accepted range.
var ErrBadPointing = errors.New("geometry: pointing out of range")

// DelayVector holds one delay switch setting per dipole, in fixed wiring
// order.
//
// Layout of the dipoles on the tile, looking down with north at the top:
//
//	      N
//	 0  1  2  3
//	 4  5  6  7
//	 8  9 10 11
//	12 13 14 15
//	      S
type DelayVector [NumDipoles]uint8

// Dipole offsets from the tile centre in metres. Positive x is east,
// positive y is north.
var xOffsets, yOffsets = dipoleOffsets()

func dipoleOffsets() (xs, ys [NumDipoles]float64) {
	for i := 0; i < NumDipoles; i++ {
		xs[i] = (-1.5 + float64(i%4)) * dipoleSep
		ys[i] = (1.5 - float64(i/4)) * dipoleSep
	}
	return xs, ys
}

// CalcDelays computes the delay switch settings that point the tile at the
// given azimuth and elevation, both in degrees. Azimuth 0 is north,
// increasing clockwise; elevation is measured up from the horizon.
//
// Azimuth must be in [0, 360) and elevation in [0, 90]; anything else
// returns ErrBadPointing before any hardware is touched. Every returned
// delay is in [0, MaxDelay]. The function is pure and safe for concurrent
// use.
func CalcDelays(az, el float64) (DelayVector, error) {
	var settings DelayVector
	if math.IsNaN(az) || math.IsNaN(el) || az < 0 || az >= 360 || el < 0 || el > 90 {
		return settings, errors.Wrapf(ErrBadPointing, "az=%.3f el=%.3f", az, el)
	}

	azr := az * math.Pi / 180
	zar := (90 - el) * math.Pi / 180 // zenith angle

	// Exact path delays in picoseconds, relative to the tile centre,
	// shifted so the smallest is zero.
	var delays [NumDipoles]float64
	minDelay := math.Inf(1)
	for i := 0; i < NumDipoles; i++ {
		delays[i] = (xOffsets[i]*math.Sin(azr) + yOffsets[i]*math.Cos(azr)) * math.Sin(zar) / cMPerPS
		if delays[i] < minDelay {
			minDelay = delays[i]
		}
	}
	for i := range delays {
		delays[i] -= minDelay
	}

	// Quantizing to whole delay steps loses precision; adding a common
	// offset before rounding can reduce the loss. Scan candidate offsets
	// in [-0.45, +0.45] steps and keep the one with the smallest mean
	// squared quantization error.
	bestOffset := -0.45 * DelayStepPS
	minSqDev := quantizeSqDev(delays, bestOffset)
	for off := bestOffset + DelayStepPS/20; off <= 0.45*DelayStepPS; off += DelayStepPS / 20 {
		if sq := quantizeSqDev(delays, off); sq < minSqDev {
			minSqDev = sq
			bestOffset = off
		}
	}

	for i := range delays {
		d := quantize(delays[i] + bestOffset)
		settings[i] = uint8(d)
	}
	return settings, nil
}

// quantize rounds a picosecond delay to whole delay steps, half away from
// zero, clamped to [0, MaxDelay].
func quantize(ps float64) int {
	d := int(math.Round(ps / DelayStepPS))
	if d < 0 {
		d = 0
	}
	if d > MaxDelay {
		d = MaxDelay
	}
	return d
}

func quantizeSqDev(delays [NumDipoles]float64, offset float64) float64 {
	var sq float64
	for i := range delays {
		d := delays[i] + offset
		err := float64(quantize(d))*DelayStepPS - d
		sq += err * err
	}
	return sq / NumDipoles
}
