// Copyright (c) xeonliu
// Licensed under the MIT license

package container

import (
	"fmt"

	"github.com/xeonliu/pspdecrypt/internal/prx"
)

// Info is what Probe can tell about a container without touching the
// crypto engine.
type Info struct {
	Kind        string // "ELF", "PRX", "PSAR", "PBP"
	SCESkipped  int    // bytes of ~SCE header dropped
	Tag         uint32 // PRX only
	KeySet      string // PRX only, "" when the tag is unlisted
	DecryptMode uint32 // PRX only
	ElfSize     uint32 // PRX only
	PspSize     uint32 // PRX only
	Compression string // PRX only, "" when plainly stored
}

// Probe classifies a container and reads out the header fields that
// drive the pipeline. It never decrypts, so the compression field is
// only known for containers whose body is already plaintext.
func Probe(in []byte) (Info, error) {
	if magicBE(in) == MagicPBP {
		return Info{Kind: "PBP"}, nil
	}
	body, skipped, err := SkipSCE(in)
	if err != nil {
		return Info{}, err
	}
	info := Info{SCESkipped: skipped}
	switch magicBE(body) {
	case MagicELF:
		info.Kind = "ELF"
	case MagicPSAR:
		info.Kind = "PSAR"
	case MagicPSP:
		info.Kind = "PRX"
		hdr, err := prx.ParseHeader(body)
		if err != nil {
			return Info{}, fmt.Errorf("%w: %v", ErrInvalidSize, err)
		}
		info.Tag = hdr.Tag()
		info.KeySet = prx.KeySetName(hdr.Tag())
		info.DecryptMode = hdr.DecryptMode()
		info.ElfSize = hdr.ElfSize()
		info.PspSize = hdr.PspSize()
		payload := body[prx.HeaderSize:]
		if IsCompressed(payload) {
			if payload[0] == 0x1f {
				info.Compression = "GZIP"
			} else {
				info.Compression = string(payload[:4])
			}
		}
	default:
		return Info{}, fmt.Errorf("%w: magic %#08x", ErrInvalidFormat, magicBE(body))
	}
	return info, nil
}
