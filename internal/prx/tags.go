// Copyright (c) xeonliu
// Licensed under the MIT license

package prx

// tagSeeds maps the known module tags to KIRK key-table seeds. The names
// record which firmware key set a tag belongs to.
var tagSeeds = map[uint32]struct {
	seed uint32
	name string
}{
	0xD91605F0: {0x4B, "keys260_0"},
	0xD91606F0: {0x53, "keys260_1"},
	0xD91608F0: {0x57, "keys260_2"},
	0xD91609F0: {0x5D, "keys280_0"},
	0xD91611F0: {0x63, "keys280_1"},
	0xD91612F0: {0x64, "keys280_2"},
}

// SeedForTag resolves a module tag to a key seed. Unknown tags fall back
// to the tag's low bits so decryption can still be attempted; callers
// must surface the miss rather than trust the result silently.
func SeedForTag(tag uint32) (seed uint32, known bool) {
	if e, ok := tagSeeds[tag]; ok {
		return e.seed, true
	}
	return tag & 0x7f, false
}

// KeySetName names the firmware key set a known tag belongs to, for
// diagnostics. Empty for unknown tags.
func KeySetName(tag uint32) string {
	if e, ok := tagSeeds[tag]; ok {
		return e.name
	}
	return ""
}
