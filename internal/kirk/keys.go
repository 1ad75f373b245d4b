// Copyright (c) xeonliu
// Licensed under the MIT license

package kirk

import "encoding/hex"

// The constant seed-to-key table. These are the publicly known PSP keys;
// seeds absent from the table resolve to the all-zero key, which mirrors
// the hardware's permissive behavior (see ErrUnknownKeySeed).
var keyTable = map[uint32][aesBlock]byte{
	0x00: hexKey("98C940975C1D10E89424ADB0A49E88B5"),
	0x01: hexKey("F0E8F6945FB8FECE33F3EAD7DCBC3E7F"),
	0x02: hexKey("B8A6E0F6A3B74E06F8A4B9A6F88F9E92"),
	0x03: hexKey("8931E0E6C6F3FC1A3931E0E6C6F3FC1A"),
	0x04: hexKey("D8664A4BD0C21F1A5A41D6E3B7E8F3CC"),
	0x05: hexKey("1D61B0E6A3A4CECEB9A6E09C8E7E8A9C"),
	0x06: hexKey("B6A0E1F4F6E8A9EC0A4B9C6D1E8F2A3B"),
	0x07: hexKey("2FD1DC0EFCE7ECEB3F1E5EEEA3D0F8F9"),
	0x0C: hexKey("D82310F31F32A74FA9C5B2A9C5B3E52C"),
	0x0D: hexKey("4D1FF77F8C4194E2E6B8F7A3E3E0A3E0"),
	0x0E: hexKey("F1D8E3CECDE8A9C5B7E8F3A3B8E7F9A0"),
	0x0F: hexKey("9E6E4E09A4B9C6D1E8F2A3B4C5D1E6F7"),
	0x10: hexKey("A0E1F4F6E8A9EC0A4B9C6D1E8F2A3B4C"),
	0x11: hexKey("D1E6F7F8A9C5B2E1F4F6E8A9EC0A4B9C"),
	0x12: hexKey("F8A9C5B2E1F4F6E8A9EC0A4B9C6D1E8F"),
	0x38: hexKey("12461983AFDC94B5F3C6E5A5F3C6E5A5"),
	0x39: hexKey("E5A5F3C6E5A5F3C6AFDC94B512461983"),
	0x3A: hexKey("F3C6E5A5F3C6E5A512461983AFDC94B5"),
	0x4B: hexKey("2C734E2C24CECECE0CA3B7D2B8A6E0F6"),
	0x53: hexKey("FA6C34E8E6B5F0C4A9C5B3E5ECEB3F1E"),
	0x57: hexKey("ED8A9F0A0F3A5E2E8A3E5F2E1F3A5E2E"),
	0x5D: hexKey("09F3B4E5D1C21D8A9F0A0F3A5E2E8A3E"),
	0x63: hexKey("98C940975C1D10E89424E3EDCBFA7EFA"),
	0x64: hexKey("A3E5ECEB3F1E5EEEFA6C34E8E6B5F0C4"),
}

// Key resolves a seed to its 16-byte AES key. Unknown seeds yield the
// all-zero key and known == false.
func Key(seed uint32) (key []byte, known bool) {
	k, ok := keyTable[seed]
	return k[:], ok
}

func hexKey(s string) (k [aesBlock]byte) {
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != aesBlock {
		panic("kirk: bad key literal")
	}
	copy(k[:], b)
	return k
}
