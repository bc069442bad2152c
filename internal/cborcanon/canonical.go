// Package cborcanon provides the canonical CBOR encoding used for every
// structured chunk payload (file.metadata, compute.request, compute.result).
// Canonical (deterministic key order, no indefinite-length items) encoding
// matters here because content_hash is BLAKE3 of the encoded payload bytes:
// two encoders of the same struct must produce identical bytes.
package cborcanon

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

var mode cbor.EncMode

func init() {
	var err error
	mode, err = cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("cborcanon: failed to build canonical encode mode: %v", err))
	}
}

// Marshal encodes v as canonical CBOR.
func Marshal(v interface{}) ([]byte, error) {
	return mode.Marshal(v)
}

// Unmarshal decodes canonical (or any valid) CBOR into v.
func Unmarshal(data []byte, v interface{}) error {
	return cbor.Unmarshal(data, v)
}
