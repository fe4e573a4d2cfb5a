// Package extract recognises archive containers and unpacks them with an
// external 7-Zip binary.
package extract

import (
	"bytes"
	"path/filepath"
	"strings"
)

// Format describes a container format the indexer may meet.
type Format struct {
	Name       string   // Canonical format name
	Extensions []string // Lowercase extensions including the dot
	Signature  []byte   // Magic bytes at offset 0; nil if none
	SevenZip   bool     // 7-Zip can unpack it
}

// KnownFormats is the built-in format table.
var KnownFormats = []Format{
	{
		Name:       "zip",
		Extensions: []string{".zip"},
		Signature:  []byte("PK\x03\x04"),
		SevenZip:   true,
	},
	{
		Name:       "7z",
		Extensions: []string{".7z"},
		Signature:  []byte{'7', 'z', 0xBC, 0xAF, 0x27, 0x1C},
		SevenZip:   true,
	},
	{
		Name:       "rar",
		Extensions: []string{".rar"},
		Signature:  []byte("Rar!\x1A\x07"),
		SevenZip:   true,
	},
	{
		Name:       "gzip",
		Extensions: []string{".gz", ".tgz"},
		Signature:  []byte{0x1F, 0x8B},
		SevenZip:   true,
	},
	{
		Name:       "xz",
		Extensions: []string{".xz", ".txz"},
		Signature:  []byte{0xFD, '7', 'z', 'X', 'Z', 0x00},
		SevenZip:   true,
	},
	{
		Name:       "tar",
		Extensions: []string{".tar"},
		SevenZip:   true,
	},
	// Bethesda game archives. Recognised so they are reported, but 7-Zip
	// cannot unpack them.
	{
		Name:       "bsa",
		Extensions: []string{".bsa"},
		Signature:  []byte("BSA\x00"),
	},
	{
		Name:       "ba2",
		Extensions: []string{".ba2"},
		Signature:  []byte("BTDX"),
	},
}

// SniffLen is the number of leading bytes Sniff needs.
const SniffLen = 8

// Lookup returns the format registered for name's extension, or nil.
func Lookup(name string) *Format {
	ext := strings.ToLower(filepath.Ext(name))
	if ext == "" {
		return nil
	}
	for i := range KnownFormats {
		f := &KnownFormats[i]
		for _, e := range f.Extensions {
			if e == ext {
				return f
			}
		}
	}
	return nil
}

// Sniff returns the format whose signature prefixes header, or nil.
func Sniff(header []byte) *Format {
	for i := range KnownFormats {
		f := &KnownFormats[i]
		if len(f.Signature) > 0 && bytes.HasPrefix(header, f.Signature) {
			return f
		}
	}
	return nil
}
