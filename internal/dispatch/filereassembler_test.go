package dispatch

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/summit-p2p/summit/internal/filemeta"
	"github.com/summit-p2p/summit/internal/schema"
	"github.com/summit-p2p/summit/internal/trust"
)

func TestFileReassemblyOutOfOrderArrival(t *testing.T) {
	dir := t.TempDir()
	r := NewFileReassembler(dir)

	h1, h2 := [32]byte{1}, [32]byte{2}
	meta := &filemeta.Metadata{Filename: "out.bin", TotalBytes: 6, ChunkHashes: [][32]byte{h1, h2}}
	metaBytes, err := meta.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	metaHash := [32]byte{0xaa}

	// Data for h2 arrives before metadata, then metadata, then h1: the
	// reassembler must still materialize once both are present.
	r.Submit([32]byte{9}, trust.ChunkMeta{ContentHash: h2, TypeTag: schema.TypeTagFileData}, []byte("world"))
	r.Submit([32]byte{9}, trust.ChunkMeta{ContentHash: metaHash, TypeTag: schema.TypeTagFileMetadata}, metaBytes)
	r.Submit([32]byte{9}, trust.ChunkMeta{ContentHash: h1, TypeTag: schema.TypeTagFileData}, []byte("hello "))

	data, err := os.ReadFile(filepath.Join(dir, "out.bin"))
	if err != nil {
		t.Fatalf("materialized file not found: %v", err)
	}
	if string(data) != "hello world" {
		t.Fatalf("reassembled content = %q, want %q", data, "hello world")
	}
}

func TestDuplicateMetadataIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	r := NewFileReassembler(dir)

	h1 := [32]byte{1}
	meta := &filemeta.Metadata{Filename: "one.bin", TotalBytes: 1, ChunkHashes: [][32]byte{h1}}
	metaBytes, _ := meta.Marshal()
	metaHash := [32]byte{0xbb}

	r.Submit([32]byte{9}, trust.ChunkMeta{ContentHash: metaHash, TypeTag: schema.TypeTagFileMetadata}, metaBytes)
	r.Submit([32]byte{9}, trust.ChunkMeta{ContentHash: h1, TypeTag: schema.TypeTagFileData}, []byte("x"))
	// Duplicate metadata re-announce after materialization must be a no-op,
	// not re-create an in-progress entry.
	r.Submit([32]byte{9}, trust.ChunkMeta{ContentHash: metaHash, TypeTag: schema.TypeTagFileMetadata}, metaBytes)

	if len(r.byMeta) != 0 {
		t.Fatal("duplicate metadata should not reopen a completed file")
	}
}
