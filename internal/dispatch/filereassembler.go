package dispatch

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/summit-p2p/summit/internal/filemeta"
	"github.com/summit-p2p/summit/internal/logging"
	"github.com/summit-p2p/summit/internal/schema"
	"github.com/summit-p2p/summit/internal/trust"
)

// inProgress is one file's reassembly state, §4.6. order preserves the
// metadata's declared chunk_hashes sequence so materialization writes the
// file back out in the right order regardless of arrival order.
type inProgress struct {
	filename  string
	order     [][32]byte
	chunks    map[[32]byte][]byte // content_hash -> payload, filled as file.data arrives
	remaining map[[32]byte]struct{}
}

// FileReassembler is the file.data/file.metadata consumer (§4.6). A single
// instance handles both type tags; register it under both.
type FileReassembler struct {
	outputDir string

	mu       sync.Mutex
	byMeta   map[[32]byte]*inProgress // metadata content_hash -> in-progress entry
	complete map[[32]byte]string      // metadata hash -> filename, for idempotent re-announce and status
}

func NewFileReassembler(outputDir string) *FileReassembler {
	return &FileReassembler{
		outputDir: outputDir,
		byMeta:    make(map[[32]byte]*inProgress),
		complete:  make(map[[32]byte]string),
	}
}

var fileLog = logging.For("filereassembler")

// FileStatus summarizes one reassembly for the control surface's
// files_status() (§6).
type FileStatus struct {
	Filename string
	Complete bool
	Received int
	Total    int
}

// Statuses lists every in-progress and completed reassembly.
func (f *FileReassembler) Statuses() []FileStatus {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]FileStatus, 0, len(f.byMeta)+len(f.complete))
	for _, ip := range f.byMeta {
		out = append(out, FileStatus{
			Filename: ip.filename,
			Complete: false,
			Received: len(ip.order) - len(ip.remaining),
			Total:    len(ip.order),
		})
	}
	for _, filename := range f.complete {
		out = append(out, FileStatus{Filename: filename, Complete: true})
	}
	return out
}

// Submit implements Consumer for both file.metadata and file.data, routing
// on the schema's type tag.
func (f *FileReassembler) Submit(peerPub [32]byte, meta trust.ChunkMeta, payload []byte) {
	switch meta.TypeTag {
	case schema.TypeTagFileMetadata:
		f.onMetadata(meta.ContentHash, payload)
	case schema.TypeTagFileData:
		f.onData(meta.ContentHash, payload)
	}
}

// onMetadata creates the in-progress entry, or leaves it unchanged if one
// already exists — metadata announcements are idempotent (§4.6, §8).
func (f *FileReassembler) onMetadata(metaHash [32]byte, payload []byte) {
	m, err := filemeta.Parse(payload)
	if err != nil {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if _, done := f.complete[metaHash]; done {
		return // already materialized; re-announce is a no-op
	}
	if _, exists := f.byMeta[metaHash]; exists {
		return
	}

	remaining := make(map[[32]byte]struct{}, len(m.ChunkHashes))
	for _, h := range m.ChunkHashes {
		remaining[h] = struct{}{}
	}

	f.byMeta[metaHash] = &inProgress{
		filename:  m.Filename,
		order:     m.ChunkHashes,
		chunks:    make(map[[32]byte][]byte),
		remaining: remaining,
	}

	if len(remaining) == 0 {
		f.materializeLocked(metaHash, f.byMeta[metaHash])
	}
}

// onData writes the payload into every in-progress file expecting it. A
// single data chunk can belong to more than one in-flight file in principle
// (rare, but harmless); duplicates within one file are skipped.
func (f *FileReassembler) onData(contentHash [32]byte, payload []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for metaHash, ip := range f.byMeta {
		if _, wanted := ip.remaining[contentHash]; !wanted {
			continue
		}
		if _, already := ip.chunks[contentHash]; already {
			continue
		}
		ip.chunks[contentHash] = payload
		delete(ip.remaining, contentHash)

		if len(ip.remaining) == 0 {
			f.materializeLocked(metaHash, ip)
		}
	}
}

// materializeLocked writes the completed file to outputDir in the metadata's
// declared chunk order. Caller holds f.mu.
func (f *FileReassembler) materializeLocked(metaHash [32]byte, ip *inProgress) {
	path := filepath.Join(f.outputDir, ip.filename)
	if err := os.MkdirAll(f.outputDir, 0o755); err != nil {
		fileLog.WithError(err).Warn("failed to create output directory")
		return
	}

	file, err := os.Create(path)
	if err != nil {
		fileLog.WithError(err).Warn("failed to create reassembled file")
		return
	}
	defer file.Close()

	for _, order := range ip.order {
		if _, err := file.Write(ip.chunks[order]); err != nil {
			fileLog.WithError(err).Warn("failed writing reassembled file")
			return
		}
	}

	delete(f.byMeta, metaHash)
	f.complete[metaHash] = ip.filename
}
