// Copyright (c) xeonliu
// Licensed under the MIT license

package container

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/xeonliu/pspdecrypt/internal/kirk"
	"github.com/xeonliu/pspdecrypt/internal/prx"
)

func makeHeader(tag, mode, elfSize, pspSize uint32, compSize int32) []byte {
	hdr := make([]byte, prx.HeaderSize)
	binary.BigEndian.PutUint32(hdr, MagicPSP)
	binary.LittleEndian.PutUint32(hdr[0x28:], elfSize)
	binary.LittleEndian.PutUint32(hdr[0x2C:], pspSize)
	binary.LittleEndian.PutUint32(hdr[0x7C:], mode)
	binary.LittleEndian.PutUint32(hdr[0xB0:], uint32(compSize))
	binary.LittleEndian.PutUint32(hdr[0xD0:], tag)
	return hdr
}

func sceWrap(size int, body []byte) []byte {
	out := make([]byte, size, size+len(body))
	binary.BigEndian.PutUint32(out, MagicSCE)
	binary.LittleEndian.PutUint32(out[4:], uint32(size))
	return append(out, body...)
}

func TestSkipSCE(t *testing.T) {
	elf := []byte{0x7F, 'E', 'L', 'F', 1, 2, 3, 4}
	body, n, err := SkipSCE(sceWrap(0x40, elf))
	if err != nil {
		t.Fatal(err)
	}
	if n != 0x40 || !bytes.Equal(body, elf) {
		t.Fatalf("skipped %#x, body %x", n, body)
	}

	// No header present.
	body, n, err = SkipSCE(elf)
	if err != nil || n != 0 || !bytes.Equal(body, elf) {
		t.Fatalf("plain input changed: %x, %d, %v", body, n, err)
	}

	for _, tc := range []struct {
		name string
		in   []byte
	}{
		{"size below header", sceWrap(0x3F, elf)},
		{"size past end", sceWrap(0x40, elf)[:0x3F]},
		{"nothing after header", sceWrap(0x40, elf[:3])},
	} {
		if _, _, err := SkipSCE(tc.in); !errors.Is(err, ErrInvalidSize) {
			t.Errorf("%s: got %v", tc.name, err)
		}
	}
}

func TestDecryptELFPassthrough(t *testing.T) {
	elf := []byte{0x7F, 'E', 'L', 'F', 0, 0, 0, 0}
	res, err := DecryptContainer(sceWrap(0x40, elf), nil)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(res.Data, elf) || len(res.Diagnostics) != 0 {
		t.Fatalf("got %x, diags %v", res.Data, res.Diagnostics)
	}
}

func TestDecryptRejectsUnknownMagic(t *testing.T) {
	_, err := DecryptContainer([]byte{1, 2, 3, 4, 5, 6, 7, 8}, nil)
	if !errors.Is(err, ErrInvalidFormat) {
		t.Fatalf("got %v", err)
	}
}

func TestDecryptPSARIsArchive(t *testing.T) {
	_, err := DecryptContainer([]byte("PSAR\x01\x00\x00\x00"), nil)
	if !errors.Is(err, ErrArchive) {
		t.Fatalf("got %v", err)
	}
}

// An unlisted decrypt mode must not abort the pipeline: the body is
// passed through untouched and the caller is told about it.
func TestUnknownDecryptModePassesThrough(t *testing.T) {
	body := []byte{0x7F, 'E', 'L', 'F', 0xDE, 0xAD, 0xBE, 0xEF}
	in := append(makeHeader(0xD91605F0, 99, 8, 0, int32(len(body))), body...)

	res, err := DecryptContainer(in, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(res.Data[prx.HeaderSize:], body) {
		t.Fatalf("body changed: %x", res.Data[prx.HeaderSize:])
	}
	if len(res.Diagnostics) != 1 || res.Diagnostics[0].Code != DiagUnknownDecryptMode {
		t.Fatalf("diags %v", res.Diagnostics)
	}

	// The fallback must hold even when the unused compressed-size field
	// is garbage; only the table-decrypt modes consume it.
	in = append(makeHeader(0xD91605F0, 99, 8, 0, 0x7FFFFFFF), body...)
	res, err = DecryptContainer(in, nil)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(res.Data[prx.HeaderSize:], body) {
		t.Fatalf("body changed under a bad size field: %x", res.Data[prx.HeaderSize:])
	}
	if len(res.Diagnostics) != 1 || res.Diagnostics[0].Code != DiagUnknownDecryptMode {
		t.Fatalf("diags %v", res.Diagnostics)
	}
}

func TestDecryptCBCMode(t *testing.T) {
	plain := []byte{0x7F, 'E', 'L', 'F'}
	plain = append(plain, bytes.Repeat([]byte{0xA5}, 12)...) // one AES block

	e := kirk.New()
	enc, err := e.Command(kirk.CmdEncryptCBC, kirk.CBCBlock(0x4B, plain))
	if err != nil {
		t.Fatal(err)
	}

	in := append(makeHeader(0xD91605F0, 4, uint32(len(plain)), 0, int32(len(enc))), enc...)
	res, err := Decrypt(e, in, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(res.Data[prx.HeaderSize:], plain) {
		t.Fatalf("got %x, want %x", res.Data[prx.HeaderSize:], plain)
	}
	if len(res.Diagnostics) != 0 {
		t.Fatalf("unexpected diags %v", res.Diagnostics)
	}
}

// A tag missing from the key table falls back to a seed derived from the
// tag itself. The pipeline still runs but reports the guess.
func TestUnknownTagFallbackSeed(t *testing.T) {
	const tag = 0xAAAA0001 // unlisted; tag & 0x7f = seed 1, which exists
	plain := bytes.Repeat([]byte{0x11}, 16)

	e := kirk.New()
	enc, err := e.Command(kirk.CmdEncryptCBC, kirk.CBCBlock(0x01, plain))
	if err != nil {
		t.Fatal(err)
	}

	in := append(makeHeader(tag, 5, uint32(len(plain)), 0, int32(len(enc))), enc...)
	res, err := Decrypt(e, in, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(res.Data[prx.HeaderSize:], plain) {
		t.Fatalf("got %x", res.Data[prx.HeaderSize:])
	}
	if len(res.Diagnostics) != 1 || res.Diagnostics[0].Code != DiagUnknownKeySeed {
		t.Fatalf("diags %v", res.Diagnostics)
	}
}

func TestDecryptThenDecompress(t *testing.T) {
	want := []byte("modload")

	// Stored-mode stream, sized to a whole AES block so it can be
	// CBC-wrapped as-is.
	stream := append([]byte("KL4E"), 0x80)
	stream = binary.BigEndian.AppendUint32(stream, uint32(len(want)))
	stream = append(stream, want...)
	if len(stream)%16 != 0 {
		t.Fatalf("test stream is %d bytes, want a block multiple", len(stream))
	}

	e := kirk.New()
	enc, err := e.Command(kirk.CmdEncryptCBC, kirk.CBCBlock(0x53, stream))
	if err != nil {
		t.Fatal(err)
	}

	in := append(makeHeader(0xD91606F0, 4, uint32(len(want)), 0, int32(len(enc))), enc...)
	res, err := Decrypt(e, in, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(res.Data[prx.HeaderSize:], want) {
		t.Fatalf("got %x, want %x", res.Data[prx.HeaderSize:], want)
	}

	// And with decompression disabled the stream survives.
	res, err = Decrypt(e, in, Options{SkipDecompress: true})
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(res.Data[prx.HeaderSize:], stream) {
		t.Fatalf("got %x, want unexpanded stream", res.Data[prx.HeaderSize:])
	}
}

func TestDecryptRejectsBadCompSize(t *testing.T) {
	in := append(makeHeader(0xD91605F0, 4, 16, 0, 0x1000), make([]byte, 16)...)
	if _, err := DecryptContainer(in, nil); !errors.Is(err, ErrInvalidSize) {
		t.Fatalf("got %v", err)
	}
}

func TestDecompressGzip(t *testing.T) {
	want := bytes.Repeat([]byte("abcd"), 64)
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	zw.Write(want)
	zw.Close()

	got, err := Decompress(buf.Bytes(), len(want))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("got %d bytes", len(got))
	}

	if _, err := Decompress(buf.Bytes(), len(want)-1); !errors.Is(err, ErrBufferOverflow) {
		t.Fatalf("capacity not enforced: %v", err)
	}
}

func TestDecompressUnknownMagic(t *testing.T) {
	if _, err := Decompress([]byte("NOPE\x00\x00"), 64); !errors.Is(err, ErrUnsupportedCompression) {
		t.Fatalf("got %v", err)
	}
}

func TestIsCompressed(t *testing.T) {
	for _, tc := range []struct {
		in   []byte
		want bool
	}{
		{[]byte("KL4E\x80"), true},
		{[]byte("KL3E\x00"), true},
		{[]byte("2RLZ\x00"), true},
		{[]byte{0x1f, 0x8b}, true},
		{[]byte{0x7F, 'E', 'L', 'F'}, false},
		{[]byte("KL"), false},
		{nil, false},
	} {
		if got := IsCompressed(tc.in); got != tc.want {
			t.Errorf("IsCompressed(%x) = %v", tc.in, got)
		}
	}
}

func TestParsePBP(t *testing.T) {
	sections := [][]byte{
		[]byte("sfo"), []byte("icon0"), nil, nil, nil, nil,
		[]byte("datapsp"), []byte("datapsar"),
	}
	blob := make([]byte, pbpHeaderSize)
	binary.BigEndian.PutUint32(blob, MagicPBP)
	off := pbpHeaderSize
	for i, s := range sections {
		binary.LittleEndian.PutUint32(blob[8+4*i:], uint32(off))
		off += len(s)
	}
	for _, s := range sections {
		blob = append(blob, s...)
	}

	pbp, err := ParsePBP(blob)
	if err != nil {
		t.Fatal(err)
	}
	if string(pbp.ParamSFO) != "sfo" || string(pbp.DataPSP) != "datapsp" || string(pbp.DataPSAR) != "datapsar" {
		t.Fatalf("sections %q %q %q", pbp.ParamSFO, pbp.DataPSP, pbp.DataPSAR)
	}
	if len(pbp.Pic1PNG) != 0 {
		t.Fatalf("empty section came back %d bytes", len(pbp.Pic1PNG))
	}

	// Decreasing offsets.
	binary.LittleEndian.PutUint32(blob[8+4*7:], 0)
	if _, err := ParsePBP(blob); !errors.Is(err, ErrInvalidSize) {
		t.Fatalf("got %v", err)
	}

	if _, err := ParsePBP([]byte("not a pbp")); !errors.Is(err, ErrInvalidFormat) {
		t.Fatalf("got %v", err)
	}
}

func TestProbe(t *testing.T) {
	body := append([]byte("KL3E"), make([]byte, 12)...)
	in := append(makeHeader(0xD91609F0, 4, 0x1000, 0, int32(len(body))), body...)

	info, err := Probe(sceWrap(0x40, in))
	if err != nil {
		t.Fatal(err)
	}
	if info.Kind != "PRX" || info.SCESkipped != 0x40 {
		t.Fatalf("info %+v", info)
	}
	if info.Tag != 0xD91609F0 || info.KeySet != "keys280_0" || info.DecryptMode != 4 {
		t.Fatalf("info %+v", info)
	}
	if info.Compression != "KL3E" {
		t.Fatalf("compression %q", info.Compression)
	}

	info, err = Probe([]byte{0x7F, 'E', 'L', 'F'})
	if err != nil || info.Kind != "ELF" {
		t.Fatalf("info %+v, %v", info, err)
	}
}
