// Copyright (c) xeonliu
// Licensed under the MIT license

package prx

import (
	"encoding/binary"
	"errors"
	"testing"
)

func header(t *testing.T, set func(h []byte)) Header {
	t.Helper()
	raw := make([]byte, HeaderSize)
	set(raw)
	h, err := ParseHeader(raw)
	if err != nil {
		t.Fatal(err)
	}
	return h
}

func TestParseHeaderTooShort(t *testing.T) {
	if _, err := ParseHeader(make([]byte, HeaderSize-1)); !errors.Is(err, ErrTooShort) {
		t.Fatalf("got %v", err)
	}
}

func TestFields(t *testing.T) {
	h := header(t, func(raw []byte) {
		binary.LittleEndian.PutUint32(raw[0x28:], 0x1000)   // elf size
		binary.LittleEndian.PutUint32(raw[0x2C:], 0x2000)   // psp size
		binary.LittleEndian.PutUint32(raw[0x7C:], 2)        // decrypt mode
		binary.LittleEndian.PutUint32(raw[0xB0:], 0x1800)   // comp size
		binary.LittleEndian.PutUint32(raw[0xD0:], 0xD91605F0)
	})
	if h.ElfSize() != 0x1000 || h.PspSize() != 0x2000 {
		t.Fatalf("sizes: %#x %#x", h.ElfSize(), h.PspSize())
	}
	if h.DecryptMode() != 2 {
		t.Fatalf("mode: %d", h.DecryptMode())
	}
	if h.CompSize() != 0x1800 {
		t.Fatalf("comp size: %#x", h.CompSize())
	}
	if h.Tag() != 0xD91605F0 {
		t.Fatalf("tag: %#x", h.Tag())
	}
}

func TestCompSizeDerivedWhenNegative(t *testing.T) {
	h := header(t, func(raw []byte) {
		binary.LittleEndian.PutUint32(raw[0x2C:], 0x2000)
		binary.LittleEndian.PutUint32(raw[0xB0:], 0xFFFFFFFF) // stored as -1
	})
	if h.CompSize() != 0x2000-HeaderSize {
		t.Fatalf("got %#x", h.CompSize())
	}
}

func TestCapacity(t *testing.T) {
	h := header(t, func(raw []byte) {
		binary.LittleEndian.PutUint32(raw[0x28:], 0x1001)
		binary.LittleEndian.PutUint32(raw[0x2C:], 0x0800)
	})
	if h.Capacity() != 0x1010 {
		t.Fatalf("got %#x", h.Capacity())
	}
	h = header(t, func(raw []byte) {
		binary.LittleEndian.PutUint32(raw[0x28:], 0x0800)
		binary.LittleEndian.PutUint32(raw[0x2C:], 0x1000)
	})
	if h.Capacity() != 0x1000 {
		t.Fatalf("got %#x", h.Capacity())
	}
}

func TestSeedForTag(t *testing.T) {
	seed, known := SeedForTag(0xD91609F0)
	if !known || seed != 0x5D {
		t.Fatalf("got %#x %v", seed, known)
	}
	if KeySetName(0xD91609F0) != "keys280_0" {
		t.Fatalf("got %q", KeySetName(0xD91609F0))
	}

	seed, known = SeedForTag(0xDEADBEEF)
	if known {
		t.Fatal("unlisted tag reported as known")
	}
	if seed != 0xDEADBEEF&0x7f {
		t.Fatalf("fallback seed %#x", seed)
	}
	if KeySetName(0xDEADBEEF) != "" {
		t.Fatal("unlisted tag must have no key set name")
	}
}
