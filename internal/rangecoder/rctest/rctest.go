// Copyright (c) xeonliu
// Licensed under the MIT license

// Package rctest is the bit-exact mirror of the rangecoder decoder, used
// by the codec tests to craft streams for round-trip coverage. Nothing
// outside _test.go files may import it; the tool has no encode path.
package rctest

// Encoder produces a stream that rangecoder.Decoder will read back with
// identical probability-table evolution. The caller drives it with the
// same slot, decay and bonus arguments the decoder will use.
type Encoder struct {
	out       []byte
	low       uint64
	rng       uint32
	cache     byte
	cacheSize int
}

func New() *Encoder {
	return &Encoder{rng: 0xffffffff, cacheSize: 1}
}

func (e *Encoder) shiftLow() {
	if uint32(e.low) < 0xff000000 || e.low>>32 != 0 {
		temp := e.cache
		for {
			e.out = append(e.out, temp+byte(e.low>>32))
			temp = 0xff
			e.cacheSize--
			if e.cacheSize == 0 {
				break
			}
		}
		e.cache = byte(e.low >> 24)
	}
	e.cacheSize++
	// Only the low 24 bits stay; the byte just captured in cache must
	// leave low, or it resurfaces as a phantom carry on the next shift.
	e.low = (e.low & 0x00ffffff) << 8
}

func (e *Encoder) normalize() {
	for e.rng>>24 == 0 {
		e.shiftLow()
		e.rng <<= 8
	}
}

func (e *Encoder) EncodeBit(p *uint8, decay, bonus uint8, bit int) {
	prob := uint32(*p)
	bound := (e.rng >> 8) * prob
	if bit == 0 {
		e.low += uint64(bound)
		e.rng -= bound
	} else {
		e.rng = bound
	}
	prob -= prob >> decay
	if bit == 1 {
		prob += uint32(bonus)
	}
	*p = uint8(prob)
	e.normalize()
}

func (e *Encoder) EncodeBitUniform(bit int) {
	bound := e.rng >> 1
	if bit == 0 {
		e.low += uint64(bound)
		e.rng -= bound
	} else {
		e.rng = bound
	}
	e.normalize()
}

// EncodeBitRaw mirrors the non-renormalizing halving read.
func (e *Encoder) EncodeBitRaw(bit int) {
	e.rng >>= 1
	if bit == 0 {
		e.low += uint64(e.rng)
	}
}

func (e *Encoder) EncodeTree(probs []uint8, base, width int, decay, bonus uint8, value uint32) {
	v := uint32(1)
	for i := width - 1; i >= 0; i-- {
		bit := int(value>>uint(i)) & 1
		e.EncodeBit(&probs[base+int(v)-1], decay, bonus, bit)
		v = v<<1 | uint32(bit)
	}
}

func (e *Encoder) EncodeByte(probs []uint8, base int, b byte) {
	e.EncodeTree(probs, base, 8, 3, 31, uint32(b))
}

// Finish flushes the encoder and splits the stream the way the codec
// headers carry it: the four bytes that preload the decoder's code
// register, then the body the decoder renormalizes from. The leading
// stream byte is always zero and is dropped, as in every range coder of
// this family.
func (e *Encoder) Finish() (code [4]byte, body []byte) {
	for i := 0; i < 5; i++ {
		e.shiftLow()
	}
	if e.out[0] != 0 {
		panic("rctest: leading stream byte not zero")
	}
	copy(code[:], e.out[1:5])
	return code, e.out[5:]
}
