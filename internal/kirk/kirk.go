// Copyright (c) xeonliu
// Licensed under the MIT license

// Software rendition of the PSP's KIRK cryptographic coprocessor,
// covering the four commands firmware containers are wrapped in. Key
// material and command semantics follow libkirk as used by the psardumper
// and pspdecrypt lineage of tools.

// Ported to Go.

package kirk

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/sha1"
	"encoding/binary"
	"errors"
	"fmt"
)

// Cmd selects one of the fixed-function transforms. The numbers are the
// hardware command ids.
type Cmd int

const (
	CmdSignedDecrypt Cmd = 1  // AES-CBC decrypt with the key embedded in the header
	CmdEncryptCBC    Cmd = 4  // AES-CBC encrypt with a table-looked-up key
	CmdDecryptCBC    Cmd = 7  // AES-CBC decrypt with a table-looked-up key
	CmdHash          Cmd = 11 // SHA-1 digest
)

var (
	ErrNotInitialized = errors.New("kirk: engine not initialized")
	ErrInvalidSize    = errors.New("kirk: declared size exceeds available data")
	ErrInvalidCommand = errors.New("kirk: unknown command")

	// ErrUnknownKeySeed is a diagnostic, not a failure: the hardware
	// resolves an unlisted seed to the all-zero key and carries on, and
	// so does this engine, but callers must be able to see it happened.
	// Command output is valid when this is the returned error.
	ErrUnknownKeySeed = errors.New("kirk: unknown key seed, zero key used")
)

// Command header layouts, all little-endian.
const (
	cmd1HeaderSize = 0x90 // key at 0x00, payload size at 0x70
	cmd1KeyOffset  = 0x00
	cmd1SizeOffset = 0x70

	cbcHeaderSize = 0x14 // key seed at 0x0C, payload size at 0x10
	cbcSeedOffset = 0x0C
	cbcSizeOffset = 0x10

	hashHeaderSize = 4 // payload size only

	aesBlock = 16
)

// Engine holds the per-process KIRK state: the constant key table (shared,
// read-only) and the 16-byte fuse id, all zeros unless a device secure id
// is supplied. The zero Engine is unusable; construct with New.
type Engine struct {
	fuse  [16]byte
	ready bool
}

func New() *Engine {
	return &Engine{ready: true}
}

// SetFuseID installs the device secure id. Called once before any
// command; the id is treated as opaque.
func (e *Engine) SetFuseID(id [16]byte) {
	e.fuse = id
}

func (e *Engine) FuseID() [16]byte {
	return e.fuse
}

// Command runs one transform over a header-plus-payload block and returns
// the output bytes. See the Cmd constants for the header layouts.
func (e *Engine) Command(cmd Cmd, in []byte) ([]byte, error) {
	if e == nil || !e.ready {
		return nil, ErrNotInitialized
	}
	switch cmd {
	case CmdSignedDecrypt:
		return signedDecrypt(in)
	case CmdEncryptCBC:
		return tableCBC(in, true)
	case CmdDecryptCBC:
		return tableCBC(in, false)
	case CmdHash:
		return hashPayload(in)
	default:
		return nil, fmt.Errorf("%w: %d", ErrInvalidCommand, cmd)
	}
}

// CBCBlock assembles a table-keyed CBC command block (CmdEncryptCBC or
// CmdDecryptCBC) around payload.
func CBCBlock(seed uint32, payload []byte) []byte {
	blk := make([]byte, cbcHeaderSize+len(payload))
	binary.LittleEndian.PutUint32(blk[cbcSeedOffset:], seed)
	binary.LittleEndian.PutUint32(blk[cbcSizeOffset:], uint32(len(payload)))
	copy(blk[cbcHeaderSize:], payload)
	return blk
}

// HashBlock assembles a CmdHash command block around payload.
func HashBlock(payload []byte) []byte {
	blk := make([]byte, hashHeaderSize+len(payload))
	binary.LittleEndian.PutUint32(blk, uint32(len(payload)))
	copy(blk[hashHeaderSize:], payload)
	return blk
}

func signedDecrypt(in []byte) ([]byte, error) {
	if len(in) < cmd1HeaderSize {
		return nil, ErrInvalidSize
	}
	key := in[cmd1KeyOffset : cmd1KeyOffset+aesBlock]
	size := binary.LittleEndian.Uint32(in[cmd1SizeOffset:])
	payload := in[cmd1HeaderSize:]
	if uint64(size) > uint64(len(payload)) {
		return nil, ErrInvalidSize
	}
	return cbcTransform(key, payload[:size], false)
}

func tableCBC(in []byte, encrypt bool) ([]byte, error) {
	if len(in) < cbcHeaderSize {
		return nil, ErrInvalidSize
	}
	seed := binary.LittleEndian.Uint32(in[cbcSeedOffset:])
	size := binary.LittleEndian.Uint32(in[cbcSizeOffset:])
	payload := in[cbcHeaderSize:]
	if uint64(size) > uint64(len(payload)) {
		return nil, ErrInvalidSize
	}
	key, known := Key(seed)
	out, err := cbcTransform(key, payload[:size], encrypt)
	if err != nil {
		return nil, err
	}
	if !known {
		return out, fmt.Errorf("%w (seed %#x)", ErrUnknownKeySeed, seed)
	}
	return out, nil
}

// cbcTransform is AES-128-CBC with a zero IV, the only cipher mode the
// command set uses. Sizes that are not a whole number of blocks are
// rejected rather than guessed at; the hardware behavior for them is
// unspecified.
func cbcTransform(key, data []byte, encrypt bool) ([]byte, error) {
	if len(data)%aesBlock != 0 {
		return nil, fmt.Errorf("%w: payload size %#x not a multiple of the cipher block", ErrInvalidSize, len(data))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(data))
	var iv [aesBlock]byte
	if encrypt {
		cipher.NewCBCEncrypter(block, iv[:]).CryptBlocks(out, data)
	} else {
		cipher.NewCBCDecrypter(block, iv[:]).CryptBlocks(out, data)
	}
	return out, nil
}

func hashPayload(in []byte) ([]byte, error) {
	if len(in) < hashHeaderSize {
		return nil, ErrInvalidSize
	}
	size := binary.LittleEndian.Uint32(in)
	payload := in[hashHeaderSize:]
	if uint64(size) > uint64(len(payload)) {
		return nil, ErrInvalidSize
	}
	digest := sha1.Sum(payload[:size])
	return digest[:], nil
}
