// Copyright (c) xeonliu
// Licensed under the MIT license

// Package psar reads firmware update archives: a flat table of named
// entries, each one an independently decryptable container.
package psar

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
)

const (
	headerSize = 0x10
	entrySize  = 0x110
	nameSize   = 0x100
)

var (
	ErrInvalidFormat      = errors.New("psar: malformed archive")
	ErrUnsupportedVersion = errors.New("psar: unsupported archive version")
	ErrBadEntryName       = errors.New("psar: entry name escapes the archive root")
)

// Entry flags.
const (
	// FlagPlain marks an entry stored as-is, never handed to the
	// decrypt pipeline even when its magic looks like a container.
	FlagPlain = 1 << 0
)

type Entry struct {
	Name   string
	Offset uint32
	Size   uint32
	Flags  uint32

	data []byte
}

// Data is the entry's raw bytes as stored in the archive.
func (e *Entry) Data() []byte { return e.data }

type Archive struct {
	Version uint32
	Entries []Entry
}

// Parse validates the archive table and binds each entry to its slice of
// in. Entry payloads are not copied; in must outlive the archive.
func Parse(in []byte) (*Archive, error) {
	if len(in) < headerSize || string(in[:4]) != "PSAR" {
		return nil, fmt.Errorf("%w: bad magic", ErrInvalidFormat)
	}
	version := binary.LittleEndian.Uint32(in[4:])
	if version != 1 {
		return nil, fmt.Errorf("%w: version %d", ErrUnsupportedVersion, version)
	}
	count := int(binary.LittleEndian.Uint32(in[8:]))
	tableEnd := headerSize + count*entrySize
	if count < 0 || tableEnd > len(in) {
		return nil, fmt.Errorf("%w: table of %d entries does not fit", ErrInvalidFormat, count)
	}

	ar := &Archive{Version: version, Entries: make([]Entry, 0, count)}
	for i := 0; i < count; i++ {
		rec := in[headerSize+i*entrySize:]
		name := string(rec[:nameSize])
		if n := strings.IndexByte(name, 0); n >= 0 {
			name = name[:n]
		}
		e := Entry{
			Name:   name,
			Offset: binary.LittleEndian.Uint32(rec[nameSize:]),
			Size:   binary.LittleEndian.Uint32(rec[nameSize+4:]),
			Flags:  binary.LittleEndian.Uint32(rec[nameSize+8:]),
		}
		if err := checkName(e.Name); err != nil {
			return nil, fmt.Errorf("%w: entry %d %q", err, i, e.Name)
		}
		end := uint64(e.Offset) + uint64(e.Size)
		if e.Offset < uint32(tableEnd) || end > uint64(len(in)) {
			return nil, fmt.Errorf("%w: entry %q spans [%#x,%#x)", ErrInvalidFormat, e.Name, e.Offset, end)
		}
		e.data = in[e.Offset:end]
		ar.Entries = append(ar.Entries, e)
	}
	return ar, nil
}

// checkName rejects names that would write outside the extraction root.
// Archive names always use forward slashes.
func checkName(name string) error {
	if name == "" || strings.HasPrefix(name, "/") || strings.Contains(name, "\\") {
		return ErrBadEntryName
	}
	for _, part := range strings.Split(name, "/") {
		if part == "" || part == "." || part == ".." {
			return ErrBadEntryName
		}
	}
	return nil
}
