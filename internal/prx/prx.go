// Copyright (c) xeonliu
// Licensed under the MIT license

// Package prx gives a typed view over the 0x150-byte ~PSP module header
// and the tag-to-keyseed table used to pick a decryption key.
package prx

import (
	"encoding/binary"
	"errors"
)

const HeaderSize = 0x150

// Field offsets within the header, all little-endian.
const (
	offElfSize     = 0x28
	offPspSize     = 0x2C
	offDecryptMode = 0x7C
	offCompSize    = 0xB0
	offTag         = 0xD0
)

var ErrTooShort = errors.New("prx: buffer shorter than the 0x150-byte header")

// Header is a read-only view over an encrypted module's leading 0x150
// bytes. It never copies; the underlying buffer must outlive it.
type Header struct {
	raw []byte
}

func ParseHeader(buf []byte) (Header, error) {
	if len(buf) < HeaderSize {
		return Header{}, ErrTooShort
	}
	return Header{raw: buf[:HeaderSize]}, nil
}

func (h Header) Bytes() []byte { return h.raw }

// Tag selects the module/firmware key.
func (h Header) Tag() uint32 {
	return binary.LittleEndian.Uint32(h.raw[offTag:])
}

func (h Header) DecryptMode() uint32 {
	return binary.LittleEndian.Uint32(h.raw[offDecryptMode:])
}

// ElfSize is the size of the decrypted and decompressed module.
func (h Header) ElfSize() uint32 {
	return binary.LittleEndian.Uint32(h.raw[offElfSize:])
}

// PspSize is the size of the encrypted module including this header.
func (h Header) PspSize() uint32 {
	return binary.LittleEndian.Uint32(h.raw[offPspSize:])
}

// CompSize is the size of the decrypted (still possibly compressed)
// module data. A negative stored value means the field is absent and the
// size is derived from PspSize.
func (h Header) CompSize() int {
	v := int32(binary.LittleEndian.Uint32(h.raw[offCompSize:]))
	if v < 0 {
		return int(h.PspSize()) - HeaderSize
	}
	return int(v)
}

// Capacity is the output buffer size for the fully recovered module,
// rounded up to the AES block size.
func (h Header) Capacity() int {
	size := h.ElfSize()
	if h.PspSize() > size {
		size = h.PspSize()
	}
	return (int(size) + 15) &^ 15
}
