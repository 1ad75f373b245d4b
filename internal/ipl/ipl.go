// Copyright (c) xeonliu
// Licensed under the MIT license

// Package ipl handles pre-kernel boot images: a chain of fixed-size
// encrypted blocks that concatenate into one or more loadable stages.
// Only the first stage's block cipher is understood here; later stages
// use per-firmware schemes supplied through StageDecrypter.
package ipl

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/xeonliu/pspdecrypt/internal/kirk"
)

const (
	// BlockSize is the stride of the encrypted block chain.
	BlockSize = 0x1000
	// blockHeaderSize covers load address, payload size, entry address
	// and checksum, in that order, little-endian.
	blockHeaderSize = 0x10
)

var (
	ErrInvalidFormat      = errors.New("ipl: malformed boot image")
	ErrChecksum           = errors.New("ipl: block checksum mismatch")
	ErrUnsupportedVersion = errors.New("ipl: later-stage scheme not supported")
)

// A StageDecrypter decrypts one follow-on stage blob. Implementations
// are per firmware generation; Decrypt falls back to
// ErrUnsupportedVersion when none is supplied and a later stage exists.
type StageDecrypter interface {
	DecryptStage(stage []byte) ([]byte, error)
}

// A Block is one decrypted unit of the chain. A non-zero entry address
// terminates the current stage.
type Block struct {
	LoadAddr uint32
	Entry    uint32
	Data     []byte
}

// Split cuts a raw boot image into its encrypted blocks.
func Split(in []byte) ([][]byte, error) {
	if len(in) == 0 || len(in)%BlockSize != 0 {
		return nil, fmt.Errorf("%w: %#x bytes is not a whole block chain", ErrInvalidFormat, len(in))
	}
	blocks := make([][]byte, 0, len(in)/BlockSize)
	for off := 0; off < len(in); off += BlockSize {
		blocks = append(blocks, in[off:off+BlockSize])
	}
	return blocks, nil
}

// DecryptBlock runs one encrypted block through the engine and checks
// its payload checksum.
func DecryptBlock(e *kirk.Engine, raw []byte) (Block, error) {
	dec, err := e.Command(kirk.CmdSignedDecrypt, raw)
	if err != nil {
		return Block{}, err
	}
	if len(dec) < blockHeaderSize {
		return Block{}, fmt.Errorf("%w: decrypted block is %#x bytes", ErrInvalidFormat, len(dec))
	}
	b := Block{
		LoadAddr: binary.LittleEndian.Uint32(dec),
		Entry:    binary.LittleEndian.Uint32(dec[8:]),
	}
	size := binary.LittleEndian.Uint32(dec[4:])
	sum := binary.LittleEndian.Uint32(dec[12:])
	payload := dec[blockHeaderSize:]
	if uint64(size) > uint64(len(payload)) || size%4 != 0 {
		return Block{}, fmt.Errorf("%w: payload size %#x", ErrInvalidFormat, size)
	}
	b.Data = payload[:size]
	if got := checksum(b.Data); got != sum {
		return Block{}, fmt.Errorf("%w: got %#08x, header says %#08x", ErrChecksum, got, sum)
	}
	return b, nil
}

// Decrypt walks the whole chain. The first stage decrypts with the
// engine; any bytes past its terminating block form the next stage and
// go through next, or fail with ErrUnsupportedVersion when next is nil.
func Decrypt(e *kirk.Engine, in []byte, next StageDecrypter) ([]byte, error) {
	blocks, err := Split(in)
	if err != nil {
		return nil, err
	}
	var out []byte
	for i, raw := range blocks {
		b, err := DecryptBlock(e, raw)
		if err != nil {
			return nil, fmt.Errorf("block %d: %w", i, err)
		}
		out = append(out, b.Data...)
		if b.Entry == 0 {
			continue
		}
		// Stage boundary.
		rest := in[(i+1)*BlockSize:]
		if len(rest) == 0 {
			return out, nil
		}
		if next == nil {
			return nil, ErrUnsupportedVersion
		}
		tail, err := next.DecryptStage(rest)
		if err != nil {
			return nil, err
		}
		return append(out, tail...), nil
	}
	return nil, fmt.Errorf("%w: chain has no terminating block", ErrInvalidFormat)
}

// checksum is the additive word sum the block headers carry.
func checksum(data []byte) uint32 {
	var sum uint32
	for i := 0; i+4 <= len(data); i += 4 {
		sum += binary.LittleEndian.Uint32(data[i:])
	}
	return sum
}
