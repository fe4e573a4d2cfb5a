// Package model defines the data structures shared by the modlist compiler:
// content hashes, relative paths, directives and the exported manifest.
package model

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Hash is the 64-bit xxHash digest of a file's bytes. Two files with the
// same Hash are treated as content-identical regardless of where they live.
type Hash uint64

// HashBytes returns the content hash of data.
func HashBytes(data []byte) Hash {
	return Hash(xxhash.Sum64(data))
}

// Bytes returns the little-endian encoding of the digest.
func (h Hash) Bytes() [8]byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(h))
	return b
}

// String returns the digest as 16 hex characters, used in logs and blob ids.
func (h Hash) String() string {
	b := h.Bytes()
	return hex.EncodeToString(b[:])
}

// MarshalText encodes the digest as base64 of its little-endian bytes,
// the form installers expect in the manifest.
func (h Hash) MarshalText() ([]byte, error) {
	b := h.Bytes()
	return []byte(base64.StdEncoding.EncodeToString(b[:])), nil
}

// UnmarshalText parses the base64 form written by MarshalText.
func (h *Hash) UnmarshalText(text []byte) error {
	decoded, err := base64.StdEncoding.DecodeString(string(text))
	if err != nil {
		return fmt.Errorf("parsing hash %q: %w", text, err)
	}
	if len(decoded) != 8 {
		return fmt.Errorf("hash %q is %d bytes, want 8", text, len(decoded))
	}
	*h = Hash(binary.LittleEndian.Uint64(decoded))
	return nil
}
