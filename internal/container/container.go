// Copyright (c) xeonliu
// Licensed under the MIT license

// Package container is the header-driven dispatcher: it classifies a
// firmware container, picks the KIRK commands its header calls for, and
// hands the decrypted body to whichever codec its compression magic
// selects. It is the only package that knows the whole pipeline.
package container

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"

	"github.com/xeonliu/pspdecrypt/internal/kirk"
	"github.com/xeonliu/pspdecrypt/internal/kl4e"
	"github.com/xeonliu/pspdecrypt/internal/lzr"
	"github.com/xeonliu/pspdecrypt/internal/prx"
)

// Outer magics, read big-endian.
const (
	MagicELF  = 0x7F454C46 // "\x7fELF"
	MagicSCE  = 0x7E534345 // "~SCE"
	MagicPSP  = 0x7E505350 // "~PSP"
	MagicPSAR = 0x50534152 // "PSAR"
	MagicPBP  = 0x00504250 // "\x00PBP"
)

var (
	ErrInvalidFormat          = errors.New("container: malformed container")
	ErrInvalidSize            = errors.New("container: size field out of bounds")
	ErrBufferOverflow         = errors.New("container: decompressed output exceeds capacity")
	ErrUnsupportedCompression = errors.New("container: unrecognized compression magic")

	// ErrArchive marks input that is a PSAR archive rather than a single
	// module; the psar package handles those.
	ErrArchive = errors.New("container: input is a PSAR archive")
)

// A Diagnostic reports a permissive-fallback path that was taken: the
// result is still produced, but may be wrong, and the caller decides
// whether to warn or abort. Silence is never an option here.
type Diagnostic struct {
	Code   DiagCode
	Detail string
}

type DiagCode int

const (
	DiagUnknownDecryptMode DiagCode = iota // body passed through undecrypted
	DiagUnknownKeySeed                     // zero key substituted
)

func (c DiagCode) String() string {
	switch c {
	case DiagUnknownDecryptMode:
		return "unknown decrypt mode"
	case DiagUnknownKeySeed:
		return "unknown key seed"
	}
	return fmt.Sprintf("diag(%d)", int(c))
}

func (d Diagnostic) String() string {
	return d.Code.String() + ": " + d.Detail
}

// Result is a successful decode plus any fallback diagnostics.
type Result struct {
	Data        []byte
	Diagnostics []Diagnostic
}

type Options struct {
	// SkipDecompress leaves a compressed body as-is after decryption.
	SkipDecompress bool
}

func magicBE(b []byte) uint32 {
	if len(b) < 4 {
		return 0
	}
	return binary.BigEndian.Uint32(b)
}

// SkipSCE drops a leading ~SCE signature header if present and reports
// how many bytes were skipped.
func SkipSCE(in []byte) ([]byte, int, error) {
	if magicBE(in) != MagicSCE {
		return in, 0, nil
	}
	if len(in) < 8 {
		return nil, 0, fmt.Errorf("%w: truncated ~SCE header", ErrInvalidSize)
	}
	size := int(binary.LittleEndian.Uint32(in[4:]))
	if size < 0x40 {
		return nil, 0, fmt.Errorf("%w: ~SCE header size %#x smaller than the header itself", ErrInvalidSize, size)
	}
	if size > len(in) || len(in)-size < 4 {
		return nil, 0, fmt.Errorf("%w: ~SCE header size %#x leaves no data", ErrInvalidSize, size)
	}
	return in[size:], size, nil
}

// DecryptContainer is the top-level entry point: one opaque container in,
// plaintext out. The optional secure id seeds the engine's fuse id.
func DecryptContainer(in []byte, secureID *[16]byte) (Result, error) {
	e := kirk.New()
	if secureID != nil {
		e.SetFuseID(*secureID)
	}
	return Decrypt(e, in, Options{})
}

// Decrypt runs one container through the pipeline with an existing
// engine.
func Decrypt(e *kirk.Engine, in []byte, opts Options) (Result, error) {
	body, _, err := SkipSCE(in)
	if err != nil {
		return Result{}, err
	}
	switch magicBE(body) {
	case MagicELF:
		// Already plaintext.
		return Result{Data: body}, nil
	case MagicPSP:
		return decryptPRX(e, body, opts)
	case MagicPSAR:
		return Result{}, ErrArchive
	default:
		return Result{}, fmt.Errorf("%w: magic %#08x", ErrInvalidFormat, magicBE(body))
	}
}

func decryptPRX(e *kirk.Engine, body []byte, opts Options) (Result, error) {
	hdr, err := prx.ParseHeader(body)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrInvalidSize, err)
	}
	payload := body[prx.HeaderSize:]

	var diags []Diagnostic
	var dec []byte

	switch mode := hdr.DecryptMode(); {
	case mode >= 1 && mode <= 3:
		out, err := e.Command(kirk.CmdSignedDecrypt, payload)
		if err != nil {
			return Result{}, err
		}
		dec = out

	case mode >= 4 && mode <= 6:
		// compSize only matters on this path; validating it earlier
		// would make a garbage field abort the passthrough fallback.
		compSize := hdr.CompSize()
		if compSize < 0 || compSize > len(payload) {
			return Result{}, fmt.Errorf("%w: compressed size %#x, payload %#x", ErrInvalidSize, compSize, len(payload))
		}
		seed, known := prx.SeedForTag(hdr.Tag())
		if !known {
			diags = append(diags, Diagnostic{DiagUnknownKeySeed,
				fmt.Sprintf("tag %#08x not in the key table, derived seed %#x", hdr.Tag(), seed)})
		}
		out, err := e.Command(kirk.CmdDecryptCBC, kirk.CBCBlock(seed, payload[:compSize]))
		if errors.Is(err, kirk.ErrUnknownKeySeed) {
			if known { // listed tag but hole in the key table
				diags = append(diags, Diagnostic{DiagUnknownKeySeed, err.Error()})
			}
		} else if err != nil {
			return Result{}, err
		}
		dec = out

	default:
		// Forward compatibility with unseen firmware: assume plaintext,
		// but loudly.
		diags = append(diags, Diagnostic{DiagUnknownDecryptMode,
			fmt.Sprintf("mode %d, body passed through", mode)})
		dec = bytes.Clone(payload)
	}

	if !opts.SkipDecompress && IsCompressed(dec) {
		out, err := Decompress(dec, hdr.Capacity())
		if err != nil {
			return Result{}, err
		}
		dec = out
	}

	data := make([]byte, 0, prx.HeaderSize+len(dec))
	data = append(data, hdr.Bytes()...)
	data = append(data, dec...)
	return Result{Data: data, Diagnostics: diags}, nil
}

// IsCompressed reports whether buf starts with a compression magic the
// pipeline knows how to undo.
func IsCompressed(buf []byte) bool {
	if len(buf) >= 2 && buf[0] == 0x1f && buf[1] == 0x8b {
		return true
	}
	if len(buf) < 4 {
		return false
	}
	switch string(buf[:4]) {
	case "KL4E", "KL3E", "2RLZ":
		return true
	}
	return false
}

// Decompress dispatches on the compression magic and decodes at most
// capacity bytes. The capacity bound holds for every format, including
// GZIP, so crafted streams cannot balloon past the declared output size.
func Decompress(in []byte, capacity int) ([]byte, error) {
	switch {
	case len(in) >= 2 && in[0] == 0x1f && in[1] == 0x8b:
		zr, err := gzip.NewReader(bytes.NewReader(in))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
		}
		defer zr.Close()
		out, err := io.ReadAll(io.LimitReader(zr, int64(capacity)+1))
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidFormat, err)
		}
		if len(out) > capacity {
			return nil, ErrBufferOverflow
		}
		return out, nil
	case len(in) >= 4 && (string(in[:4]) == "KL4E" || string(in[:4]) == "KL3E"):
		return kl4e.Decompress(in, capacity)
	case len(in) >= 4 && string(in[:4]) == "2RLZ":
		return lzr.Decompress(in, capacity)
	default:
		return nil, ErrUnsupportedCompression
	}
}
