// Copyright (c) xeonliu
// Licensed under the MIT license

// KL4E/KL3E decompression, the compressed-module format of later PSP
// firmware. The context layout and constants follow the firmware
// routines recovered by the pspdecrypt effort.

// Ported to Go.

package kl4e

import (
	"encoding/binary"
	"errors"

	"github.com/xeonliu/pspdecrypt/internal/rangecoder"
)

var (
	ErrInvalidFormat  = errors.New("kl4e: invalid or corrupt stream")
	ErrBufferOverflow = errors.New("kl4e: output exceeds declared capacity")
)

// Probability table layout. One flat array partitioned by these offsets;
// the accessors below are the only places that do slot arithmetic.
const (
	litContexts = 8
	litTreeSize = 255
	litBase     = 0
	litSize     = litContexts * litTreeSize

	matchBase = litBase + litSize
	matchSize = 8

	widthBase = matchBase + matchSize
	maxWidth  = 6
	numWidths = maxWidth + 1

	lenBase     = widthBase + numWidths + 1
	lenTreeSize = 255

	distBase = lenBase + numWidths*lenTreeSize

	// KL4E distance tries hold a full byte, KL3E half that.
	distTreeSizeKL4E = 255
	distTreeSizeKL3E = 127
)

// Adaptation constants for the match side of the model.
const (
	matchDecay = 4
	matchBonus = 15
)

// A decoded length byte of 0xff is the end-of-stream sentinel.
const endOfStream = 0xff

const headerSize = 9 // magic, flag byte, packed initial value

func litSlot(outPos int, prev byte, shift uint) int {
	group := (outPos&7<<8 | int(prev)) >> shift & 7
	return litBase + group*litTreeSize
}

func lenSlot(width int) int { return lenBase + width*lenTreeSize }

func distSlot(width, treeSize int) int { return distBase + width*treeSize }

// Decompress decodes a KL4E or KL3E stream into at most capacity bytes.
// The two formats differ only in the size of the distance model.
func Decompress(in []byte, capacity int) ([]byte, error) {
	if len(in) < headerSize {
		return nil, ErrInvalidFormat
	}

	var distTreeSize, distTreeWidth int
	switch string(in[:4]) {
	case "KL4E":
		distTreeSize, distTreeWidth = distTreeSizeKL4E, 8
	case "KL3E":
		distTreeSize, distTreeWidth = distTreeSizeKL3E, 7
	default:
		return nil, ErrInvalidFormat
	}

	flags := in[4]
	initial := binary.BigEndian.Uint32(in[5:headerSize])

	if flags&0x80 != 0 {
		// Raw escape for incompressible data: the packed value is the
		// literal byte count.
		n := int(initial)
		if n > capacity {
			return nil, ErrBufferOverflow
		}
		if headerSize+n > len(in) {
			return nil, ErrInvalidFormat
		}
		out := make([]byte, n)
		copy(out, in[headerSize:headerSize+n])
		return out, nil
	}

	shift := uint(flags & 7)
	seed := uint8(128 - (flags>>3&3)<<4)

	probs := make([]uint8, distBase+numWidths*distTreeSize)
	for i := range probs {
		probs[i] = seed
	}

	d := rangecoder.New(in[headerSize:], initial)
	out := make([]byte, 0, capacity)

	// The first output byte is always a literal.
	if capacity < 1 {
		return nil, ErrBufferOverflow
	}
	out = append(out, d.DecodeByte(probs, litSlot(0, 0, shift)))

	matchCtx := 0
	for {
		if d.DecodeBit(&probs[matchBase+matchCtx], matchDecay, matchBonus) == 0 {
			// Literal.
			if len(out) >= capacity {
				return nil, ErrBufferOverflow
			}
			prev := out[len(out)-1]
			out = append(out, d.DecodeByte(probs, litSlot(len(out), prev, shift)))
			if matchCtx > 0 {
				matchCtx--
			}
			continue
		}

		// Unary chain of ones selects the width sub-model, capped at 6.
		width := 0
		for width < maxWidth && d.DecodeBit(&probs[widthBase+width], matchDecay, matchBonus) == 1 {
			width++
		}

		length := int(d.DecodeTree(probs, lenSlot(width), 8, rangecoder.ByteDecay, rangecoder.ByteBonus))
		if length == endOfStream {
			return out, nil
		}

		top := int(d.DecodeTree(probs, distSlot(width, distTreeSize), distTreeWidth,
			rangecoder.ByteDecay, rangecoder.ByteBonus))
		low := 0
		for i := 0; i < width; i++ {
			low = low<<1 | d.DecodeBitUniform()
		}
		distance := top<<width | low

		if distance >= len(out) {
			return nil, ErrInvalidFormat
		}
		if len(out)+length+1 > capacity {
			return nil, ErrBufferOverflow
		}
		// Byte-at-a-time so overlapping copies repeat, which is the
		// intended LZ semantics when distance < length.
		src := len(out) - distance - 1
		for i := 0; i <= length; i++ {
			out = append(out, out[src+i])
		}
		matchCtx = 6 + len(out)&1
	}
}
