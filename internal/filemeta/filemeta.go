// Package filemeta defines the file.metadata payload schema (§4.4, §4.6):
// a filename, total size, and the ordered list of chunk hashes that make up
// the file, canonical-CBOR encoded so content_hash = BLAKE3(encoded form)
// is reproducible.
package filemeta

import "github.com/summit-p2p/summit/internal/cborcanon"

// Metadata is the file.metadata payload.
type Metadata struct {
	Filename   string    `cbor:"filename"`
	TotalBytes uint64    `cbor:"total_bytes"`
	ChunkHashes [][32]byte `cbor:"chunk_hashes"`
}

// Marshal encodes m to canonical CBOR.
func (m *Metadata) Marshal() ([]byte, error) {
	return cborcanon.Marshal(m)
}

// Parse decodes a file.metadata payload, returning an error on malformed
// CBOR. It does not check required fields; Validate does.
func Parse(payload []byte) (*Metadata, error) {
	var m Metadata
	if err := cborcanon.Unmarshal(payload, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate reports whether payload parses as a well-formed Metadata record,
// for use as the file.metadata schema validator.
func Validate(payload []byte) bool {
	m, err := Parse(payload)
	if err != nil {
		return false
	}
	return m.Filename != "" && len(m.ChunkHashes) > 0
}
