// Copyright (c) xeonliu
// Licensed under the MIT license

package container

import (
	"encoding/binary"
	"fmt"
)

// A PBP is an EBOOT wrapper: eight offsets into one blob, in a fixed
// order. Only the last two sections matter to the decrypt pipeline but
// all eight are exposed for extraction.
type PBP struct {
	ParamSFO []byte
	Icon0PNG []byte
	Icon1PMF []byte
	Pic0PNG  []byte
	Pic1PNG  []byte
	Snd0AT3  []byte
	DataPSP  []byte
	DataPSAR []byte
}

const pbpHeaderSize = 0x28

// ParsePBP splits a "\x00PBP" blob into its sections.
func ParsePBP(in []byte) (*PBP, error) {
	if magicBE(in) != MagicPBP {
		return nil, fmt.Errorf("%w: not a PBP", ErrInvalidFormat)
	}
	if len(in) < pbpHeaderSize {
		return nil, fmt.Errorf("%w: truncated PBP header", ErrInvalidSize)
	}
	var offs [8]int
	for i := range offs {
		offs[i] = int(binary.LittleEndian.Uint32(in[8+4*i:]))
	}
	prev := pbpHeaderSize
	for i, off := range offs {
		if off < prev || off > len(in) {
			return nil, fmt.Errorf("%w: PBP offset %d is %#x", ErrInvalidSize, i, off)
		}
		prev = off
	}
	section := func(i int) []byte {
		end := len(in)
		if i < 7 {
			end = offs[i+1]
		}
		return in[offs[i]:end]
	}
	return &PBP{
		ParamSFO: section(0),
		Icon0PNG: section(1),
		Icon1PMF: section(2),
		Pic0PNG:  section(3),
		Pic1PNG:  section(4),
		Snd0AT3:  section(5),
		DataPSP:  section(6),
		DataPSAR: section(7),
	}, nil
}
