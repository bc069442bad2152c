// Package schema implements the built-in schema registry from §4.4: each
// schema names a payload shape by a BLAKE3-derived id and an optional
// validator predicate run by the Trust Gate before admission.
package schema

import (
	"unicode/utf8"

	"github.com/summit-p2p/summit/internal/chash"
)

// TypeTag values from §4.6's dispatch table.
const (
	TypeTagPing           uint8 = 0
	TypeTagMessage        uint8 = 1
	TypeTagFileData       uint8 = 2
	TypeTagFileMetadata   uint8 = 3
	TypeTagComputeRequest uint8 = 4
	TypeTagComputeResult  uint8 = 5
)

const (
	maxMessageBytes = 64 * 1024
	maxChunkBytes   = 32 * 1024
)

// Validator is a pure predicate over payload bytes.
type Validator func(payload []byte) bool

// Schema names a payload shape with its id and optional validator.
type Schema struct {
	Name      string
	ID        [32]byte
	TypeTag   uint8
	Validator Validator
}

// Registry is the set of known schemas, keyed by schema id.
type Registry struct {
	byID map[[32]byte]*Schema
}

// NewRegistry builds a registry pre-populated with the built-in schemas from
// §4.4. MetadataParser and TaskParser plug in the file-metadata and
// compute-record parsers so this package does not need to import them
// directly.
func NewRegistry(metadataParser, taskParser, taskResultParser Validator) *Registry {
	r := &Registry{byID: make(map[[32]byte]*Schema)}

	r.register("test.ping", TypeTagPing, validUTF8)
	r.register("text.message", TypeTagMessage, validMessage)
	r.register("file.chunk", TypeTagFileData, validChunkLength)
	r.register("file.data", TypeTagFileData, validChunkLength)
	r.register("file.metadata", TypeTagFileMetadata, metadataParser)
	r.register("compute.request", TypeTagComputeRequest, taskParser)
	r.register("compute.result", TypeTagComputeResult, taskResultParser)

	return r
}

func (r *Registry) register(name string, tag uint8, v Validator) {
	id := chash.SchemaID(name)
	r.byID[id] = &Schema{Name: name, ID: id, TypeTag: tag, Validator: v}
}

// Lookup returns the schema for an id, if known.
func (r *Registry) Lookup(id [32]byte) (*Schema, bool) {
	s, ok := r.byID[id]
	return s, ok
}

// LookupByName returns the schema registered under name, used by the
// control surface's send() to resolve a human-given schema name to its id.
func (r *Registry) LookupByName(name string) (*Schema, bool) {
	for _, s := range r.byID {
		if s.Name == name {
			return s, true
		}
	}
	return nil, false
}

// All returns every registered schema, for the control surface's schemas().
func (r *Registry) All() []*Schema {
	out := make([]*Schema, 0, len(r.byID))
	for _, s := range r.byID {
		out = append(out, s)
	}
	return out
}

func validUTF8(payload []byte) bool {
	return utf8.Valid(payload)
}

func validMessage(payload []byte) bool {
	return utf8.Valid(payload) && len(payload) <= maxMessageBytes
}

func validChunkLength(payload []byte) bool {
	return len(payload) <= maxChunkBytes
}
