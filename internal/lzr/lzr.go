// Copyright (c) xeonliu
// Licensed under the MIT license

// 2RLZ decompression, the compressed-payload format of early PSP
// firmware updaters. Same arithmetic-coding family as KL4E but with its
// own context layout over a single 2800-slot probability array.

// Ported to Go.

package lzr

import (
	"encoding/binary"
	"errors"

	"github.com/xeonliu/pspdecrypt/internal/rangecoder"
)

var (
	ErrInvalidFormat  = errors.New("lzr: invalid or corrupt stream")
	ErrBufferOverflow = errors.New("lzr: output exceeds declared capacity")
)

// The shared probability array, partitioned by fixed offsets. Every slot
// starts at 0x80. The tail past the distance tries is unused but the
// firmware allocates it, so the size is kept.
const (
	probSize = 2800

	litBase     = 0
	litContexts = 8
	litTreeSize = 255

	matchBase = 2040
	matchSize = 8

	lenWidthBase = 2048
	maxWidth     = 6
	numWidths    = maxWidth + 1

	lenBase      = 2056
	lenTreeSlots = 64

	distWidthBase = 2504

	distBase      = 2512
	distTreeSlots = 32
	distTreeWidth = 5
)

const (
	matchDecay = 4
	matchBonus = 15
)

const endOfStream = 0xff

const headerSize = 9 // magic, stream type byte, packed initial value

func litSlot(outPos int, prev byte, shift uint) int {
	group := (outPos&7<<8 | int(prev)) >> shift & 7
	return litBase + group*litTreeSize
}

func lenSlot(width int) int { return lenBase + width*lenTreeSlots }

func distSlot(width int) int { return distBase + width*distTreeSlots }

// Decompress decodes a 2RLZ stream into at most capacity bytes.
func Decompress(in []byte, capacity int) ([]byte, error) {
	if len(in) < headerSize {
		return nil, ErrInvalidFormat
	}
	if string(in[:4]) != "2RLZ" {
		return nil, ErrInvalidFormat
	}

	streamType := int8(in[4])
	initial := binary.BigEndian.Uint32(in[5:headerSize])

	if streamType < 0 {
		// Uncompressed payload; the packed value is the byte count.
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

	shift := uint(streamType) & 31

	probs := make([]uint8, probSize)
	for i := range probs {
		probs[i] = 0x80
	}

	d := rangecoder.New(in[headerSize:], initial)
	out := make([]byte, 0, capacity)

	bufOff := 0
	for {
		if d.DecodeBit(&probs[matchBase+bufOff], matchDecay, matchBonus) == 0 {
			// Literal.
			if len(out) >= capacity {
				return nil, ErrBufferOverflow
			}
			var prev byte
			if len(out) > 0 {
				prev = out[len(out)-1]
			}
			out = append(out, d.DecodeByte(probs, litSlot(len(out), prev, shift)))
			if bufOff > 0 {
				bufOff--
			}
			continue
		}

		width := 0
		for width < maxWidth && d.DecodeBit(&probs[lenWidthBase+width], matchDecay, matchBonus) == 1 {
			width++
		}

		// The length value is width+2 bits. Wide values take their top
		// bits through the halving fast path, which skips
		// renormalization; the adaptive reads that follow repair the
		// range register.
		var length int
		if width >= 5 {
			top := 0
			for i := 0; i < width-4; i++ {
				top = top<<1 | d.DecodeBitRaw()
			}
			length = top<<6 | int(d.DecodeTree(probs, lenSlot(width), 6,
				rangecoder.ByteDecay, rangecoder.ByteBonus))
		} else {
			length = int(d.DecodeTree(probs, lenSlot(width), width+2,
				rangecoder.ByteDecay, rangecoder.ByteBonus))
		}
		if length == endOfStream {
			return out, nil
		}

		dwidth := 0
		for dwidth < maxWidth && d.DecodeBit(&probs[distWidthBase+dwidth], matchDecay, matchBonus) == 1 {
			dwidth++
		}
		top := 0
		for i := 0; i < dwidth; i++ {
			top = top<<1 | d.DecodeBitUniform()
		}
		distance := top<<distTreeWidth | int(d.DecodeTree(probs, distSlot(dwidth), distTreeWidth,
			rangecoder.ByteDecay, rangecoder.ByteBonus))

		if distance == 0 || distance > len(out) {
			return nil, ErrInvalidFormat
		}
		if len(out)+length+1 > capacity {
			return nil, ErrBufferOverflow
		}
		src := len(out) - distance
		for i := 0; i <= length; i++ {
			out = append(out, out[src+i])
		}
		bufOff = (len(out)+1)&1 + 6
	}
}
