// Package chash centralizes the BLAKE3 hashing used for content hashes,
// schema IDs, session IDs, and the protocol capability hash, so every
// subsystem derives these 32-byte identifiers the same way.
package chash

import (
	"encoding/hex"

	"lukechampine.com/blake3"
)

// Sum256 returns the 32-byte BLAKE3 hash of data.
func Sum256(data []byte) [32]byte {
	return blake3.Sum256(data)
}

// SchemaID returns BLAKE3("summit.<name>") per §4.4.
func SchemaID(name string) [32]byte {
	return Sum256([]byte("summit." + name))
}

// SessionID returns BLAKE3(min(a,b) || max(a,b))[0:16] per §3: both peers
// of a session derive the same 16-byte ID independently.
func SessionID(min, max [32]byte) [16]byte {
	buf := make([]byte, 0, 64)
	buf = append(buf, min[:]...)
	buf = append(buf, max[:]...)
	full := Sum256(buf)
	var id [16]byte
	copy(id[:], full[:16])
	return id
}

// CapabilityHash returns a single BLAKE3 hash identifying the protocol
// variant and feature set a node advertises (§3, GLOSSARY). Devices with
// mismatched hashes ignore each other's announcements.
func CapabilityHash(descriptor string) [32]byte {
	return Sum256([]byte(descriptor))
}

// HexString is a convenience formatter for 32-byte hashes.
func HexString(h [32]byte) string {
	return hex.EncodeToString(h[:])
}
