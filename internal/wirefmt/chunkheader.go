// Package wirefmt implements the two fixed on-wire layouts from §6: the
// 72-byte chunk header (inside the AEAD plaintext) and the 80-byte
// capability announcement (sent in the clear over multicast). Both are
// encoded with encoding/binary rather than a general codec because their
// byte offsets are part of the wire contract itself, not an implementation
// detail a schema library should own.
package wirefmt

import (
	"encoding/binary"
	"fmt"

	"github.com/summit-p2p/summit/internal/wireerr"
)

// ChunkHeaderLen is the fixed size of a ChunkHeader on the wire.
const ChunkHeaderLen = 72

// ChunkHeader is the fixed 72-byte header prefixed to every chunk payload,
// per §3 and §6.
type ChunkHeader struct {
	ContentHash [32]byte
	SchemaID    [32]byte
	TypeTag     uint8
	Flags       uint8
	Version     uint16
	Length      uint32
}

// Marshal encodes the header followed by payload into a single buffer
// suitable as the AEAD plaintext for one datagram.
func (h *ChunkHeader) Marshal(payload []byte) []byte {
	buf := make([]byte, ChunkHeaderLen+len(payload))
	copy(buf[0:32], h.ContentHash[:])
	copy(buf[32:64], h.SchemaID[:])
	buf[64] = h.TypeTag
	buf[65] = h.Flags
	binary.BigEndian.PutUint16(buf[66:68], h.Version)
	binary.BigEndian.PutUint32(buf[68:72], h.Length)
	copy(buf[72:], payload)
	return buf
}

// ParseChunk splits a decrypted frame into its header and payload,
// validating the declared length matches what actually followed.
func ParseChunk(frame []byte) (*ChunkHeader, []byte, error) {
	if len(frame) < ChunkHeaderLen {
		return nil, nil, wireerr.New(wireerr.MalformedWire,
			fmt.Sprintf("frame too short: %d bytes, need at least %d", len(frame), ChunkHeaderLen))
	}

	h := &ChunkHeader{}
	copy(h.ContentHash[:], frame[0:32])
	copy(h.SchemaID[:], frame[32:64])
	h.TypeTag = frame[64]
	h.Flags = frame[65]
	h.Version = binary.BigEndian.Uint16(frame[66:68])
	h.Length = binary.BigEndian.Uint32(frame[68:72])

	payload := frame[72:]
	if uint32(len(payload)) != h.Length {
		return nil, nil, wireerr.New(wireerr.MalformedWire,
			fmt.Sprintf("declared length %d does not match payload length %d", h.Length, len(payload)))
	}

	return h, payload, nil
}

// NewChunkHeader builds a header for a payload whose content hash and
// schema ID the caller has already computed.
func NewChunkHeader(contentHash, schemaID [32]byte, typeTag, flags uint8, version uint16, payload []byte) *ChunkHeader {
	return &ChunkHeader{
		ContentHash: contentHash,
		SchemaID:    schemaID,
		TypeTag:     typeTag,
		Flags:       flags,
		Version:     version,
		Length:      uint32(len(payload)),
	}
}
