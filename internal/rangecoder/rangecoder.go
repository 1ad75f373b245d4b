// Copyright (c) xeonliu
// Licensed under the MIT license

// Binary arithmetic decoder for the PSP's proprietary compressed formats.

// The register layout and renormalization follow the firmware routines
// reverse engineered by the psardumper and pspdecrypt projects; the
// probability update rule (decay shift plus bonus on the one branch) is
// theirs, not LZMA's, so this cannot be replaced by an off-the-shelf
// range decoder.

// Ported to Go.

package rangecoder

// Decoder reads bits from an adaptive binary arithmetic stream held
// entirely in memory. The probability table is owned by the caller; a
// Decoder holds only the range/code registers and the input cursor.
//
// A Decoder performs no validation of its own. A truncated stream drains
// zero bytes past the end, and the resulting garbage is caught by the
// format-level checks of the codec driving the Decoder.
type Decoder struct {
	in   []byte
	pos  int
	rng  uint32
	code uint32
}

// New returns a Decoder over in with the code register preloaded from the
// codec header. The range register starts fully open.
func New(in []byte, code uint32) *Decoder {
	return &Decoder{in: in, rng: 0xffffffff, code: code}
}

// Pos reports how many input bytes have been folded into the code
// register so far.
func (d *Decoder) Pos() int { return d.pos }

func (d *Decoder) next() uint32 {
	if d.pos >= len(d.in) {
		d.pos++
		return 0
	}
	b := d.in[d.pos]
	d.pos++
	return uint32(b)
}

// normalize folds input bytes until the top byte of the range register is
// nonzero again.
func (d *Decoder) normalize() {
	for d.rng>>24 == 0 {
		d.code = d.code<<8 | d.next()
		d.rng <<= 8
	}
}

// DecodeBit decodes one bit against the probability slot p.
//
// The slot always decays by its own value shifted right decay places and
// gains bonus only when the decoded bit is one. A zero bit narrows the
// range from the bottom, a one bit from the top; this polarity matches
// the firmware, which is the reverse of LZMA's.
func (d *Decoder) DecodeBit(p *uint8, decay, bonus uint8) int {
	prob := uint32(*p)
	bound := (d.rng >> 8) * prob
	var bit int
	if d.code >= bound {
		d.code -= bound
		d.rng -= bound
	} else {
		d.rng = bound
		bit = 1
	}
	prob -= prob >> decay
	if bit == 1 {
		prob += uint32(bonus)
	}
	*p = uint8(prob)
	d.normalize()
	return bit
}

// DecodeBitUniform decodes one bit at a fixed probability of one half,
// with no table slot and no adaptation.
func (d *Decoder) DecodeBitUniform() int {
	bound := d.rng >> 1
	var bit int
	if d.code >= bound {
		d.code -= bound
		d.rng -= bound
	} else {
		d.rng = bound
		bit = 1
	}
	d.normalize()
	return bit
}

// DecodeBitRaw halves the range and decodes one bit against it without
// renormalizing. The range register may be left with a zero top byte;
// the next adaptive decode then multiplies the sub-normal range, which
// truncates differently from the normalized form. The firmware relies on
// exactly this in its fast length path, so both forms are kept distinct.
func (d *Decoder) DecodeBitRaw() int {
	d.rng >>= 1
	if d.code >= d.rng {
		d.code -= d.rng
		return 0
	}
	return 1
}

// DecodeTree decodes width bits most significant first through a binary
// trie of 2^width-1 probability slots rooted at base. Each internal node
// lives at base plus the accumulated value minus one.
func (d *Decoder) DecodeTree(probs []uint8, base, width int, decay, bonus uint8) uint32 {
	v := uint32(1)
	top := uint32(1) << width
	for v < top {
		bit := d.DecodeBit(&probs[base+int(v)-1], decay, bonus)
		v = v<<1 | uint32(bit)
	}
	return v - top
}

// Probability constants shared by both codecs for trie-coded bytes.
const (
	ByteDecay = 3
	ByteBonus = 31
)

// DecodeByte decodes one byte through the 255-slot trie at base.
func (d *Decoder) DecodeByte(probs []uint8, base int) byte {
	return byte(d.DecodeTree(probs, base, 8, ByteDecay, ByteBonus))
}
