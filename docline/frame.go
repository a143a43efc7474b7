// Package docline implements the bit-serial protocol carried on the centre
// conductor of the beamformer coax (the "data over coax" link): the 253-bit
// outbound configuration frame, the 24-bit inbound telemetry frame, and the
// clocked GPIO driver that exchanges them.
package docline

import (
	"github.com/pkg/errors"

	"github.com/MWATelescope/sda-bf/geometry"
)

const (
	// FrameBits is the length of the outbound configuration frame.
	FrameBits = 253

	// ReplyBits is the length of the inbound telemetry frame.
	ReplyBits = 24

	// DisableBit set in a delay code disconnects that dipole at the
	// summing junction; the low five bits are then ignored.
	DisableBit = 0x20

	// FlagCommOK is set in the reply flags when the beamformer accepted
	// the frame with a good checksum.
	FlagCommOK = 0x80

	// TempMask extracts the 12-bit temperature ADC value from the raw
	// reply word.
	TempMask = 0x0FFF

	numWords   = 12 // packed 16-bit delay words per frame
	headerBits = 32 // 8 zeros, 4 ones, 20 zeros
)

// DisableMask flags dipoles to disconnect, bit i for dipole i.
type DisableMask uint16

// OutboundFrame is the 253-bit configuration frame, index 0 clocked out
// first. Immutable once built.
type OutboundFrame [FrameBits]bool

// InboundFrame is the 24-bit telemetry frame, index 0 clocked in first.
type InboundFrame [ReplyBits]bool

// Encode builds the outbound frame that applies the same delay vector to
// both polarizations, disconnecting the dipoles set in disabled. Delay
// codes must fit in six bits.
func Encode(delays geometry.DelayVector, disabled DisableMask) (OutboundFrame, error) {
	return EncodeDual(delays, delays, disabled, disabled)
}

// EncodeDual builds the outbound frame from independent X and Y
// polarization delay vectors.
//
// The layout is a fixed hardware contract: 8 zeros, 4 ones, 20 zeros, then
// twelve 16-bit words each followed by a '1' marker, the words being the
// 32 six-bit delay codes (X then Y) packed MSB first, then the XOR
// checksum of the twelve words and a final '1' marker.
func EncodeDual(xdelays, ydelays geometry.DelayVector, xdis, ydis DisableMask) (OutboundFrame, error) {
	var frame OutboundFrame

	var codes [2 * geometry.NumDipoles]uint8
	for i, d := range xdelays {
		codes[i] = d
		if xdis&(1<<uint(i)) != 0 {
			codes[i] |= DisableBit
		}
	}
	for i, d := range ydelays {
		codes[geometry.NumDipoles+i] = d
		if ydis&(1<<uint(i)) != 0 {
			codes[geometry.NumDipoles+i] |= DisableBit
		}
	}
	for i, c := range codes {
		if c > 0x3F {
			return frame, errors.Errorf("docline: delay code %d out of range at dipole %d", c, i)
		}
	}

	// Header.
	for i := 8; i < 12; i++ {
		frame[i] = true
	}

	// Pack the 192 delay bits into twelve 16-bit words, MSB first.
	var words [numWords]uint16
	for i, c := range codes {
		for b := 0; b < 6; b++ {
			if c&(1<<uint(5-b)) != 0 {
				bit := i*6 + b
				words[bit/16] |= 1 << uint(15-bit%16)
			}
		}
	}

	pos := headerBits
	var checksum uint16
	for _, w := range words {
		checksum ^= w
		pos = packWord(&frame, pos, w)
		frame[pos] = true // word marker
		pos++
	}
	pos = packWord(&frame, pos, checksum)
	frame[pos] = true // marks the end of the checksum word
	return frame, nil
}

func packWord(frame *OutboundFrame, pos int, w uint16) int {
	for b := 15; b >= 0; b-- {
		frame[pos] = w&(1<<uint(b)) != 0
		pos++
	}
	return pos
}

// Decode splits the inbound frame into the flag byte and the raw 16-bit
// word. Both arrive MSB first: the raw word in bits 0-15, the flags in
// bits 16-23. The low 12 bits of the raw word are the temperature ADC
// value; the top four are reserved.
func Decode(reply InboundFrame) (flags uint8, raw uint16) {
	for i := 0; i < 16; i++ {
		if reply[i] {
			raw |= 1 << uint(15-i)
		}
	}
	for i := 0; i < 8; i++ {
		if reply[16+i] {
			flags |= 1 << uint(7-i)
		}
	}
	return flags, raw
}

// EncodeReply builds the inbound frame a beamformer would clock out for
// the given flags and raw word: the exact inverse of Decode. Used by the
// simulated hardware and by tests.
func EncodeReply(flags uint8, raw uint16) InboundFrame {
	var reply InboundFrame
	for i := 0; i < 16; i++ {
		reply[i] = raw&(1<<uint(15-i)) != 0
	}
	for i := 0; i < 8; i++ {
		reply[16+i] = flags&(1<<uint(7-i)) != 0
	}
	return reply
}

// Temperature converts the raw reply word to degrees Celsius. The sensor
// reports 0.0625 degrees per count with the sign carried in bit 12.
func Temperature(raw uint16) float64 {
	t := 0.0625 * float64(raw&TempMask)
	if raw&0x1000 != 0 {
		t -= 256.0
	}
	return t
}

// DelayField extracts the six-bit delay code for dipole i of the X
// polarization (i in 0..15) or Y polarization (i in 16..31) from an
// encoded frame. Used to verify frames against the packing contract.
func DelayField(frame OutboundFrame, i int) uint8 {
	var c uint8
	for b := 0; b < 6; b++ {
		bit := i*6 + b
		// Skip the header and the '1' marker after every 16 data bits.
		pos := headerBits + bit + bit/16
		if frame[pos] {
			c |= 1 << uint(5-b)
		}
	}
	return c
}
