// Package cache implements the content-addressed chunk store from §4.1 (G):
// a two-level fanout directory under the OS temp directory, atomic
// write-then-rename puts, and a small in-memory stats cache invalidated on
// mutation. The cache is the single source of truth for chunk bodies once
// admitted (§3).
package cache

import (
	"encoding/hex"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/summit-p2p/summit/internal/wireerr"
)

// PutOutcome distinguishes a fresh write from a pre-existing one, matching
// §4.1's put(hash, bytes) → {Stored, AlreadyPresent}.
type PutOutcome int

const (
	Stored PutOutcome = iota
	AlreadyPresent
)

// Stats mirrors §4.1's stats() → (count, total_bytes).
type Stats struct {
	Count      int64
	TotalBytes int64
}

// Entry is one item yielded by Iter.
type Entry struct {
	Hash [32]byte
	Size int64
}

// Cache is a filesystem-backed, concurrency-safe content-addressed store.
type Cache struct {
	root string

	mu        sync.Mutex // serializes stat cache recomputation, not file I/O
	statValid atomic.Bool
	count     atomic.Int64
	bytes     atomic.Int64
}

// New creates a cache rooted at root, creating the directory if needed.
// root is typically filepath.Join(os.TempDir(), "summit", runID).
func New(root string) (*Cache, error) {
	if err := os.MkdirAll(root, 0o700); err != nil {
		return nil, wireerr.Wrap(wireerr.IOError, "create cache root", err)
	}
	c := &Cache{root: root}
	return c, nil
}

// Root returns the cache's base directory.
func (c *Cache) Root() string { return c.root }

func hexOf(hash [32]byte) string {
	return hex.EncodeToString(hash[:])
}

// pathFor returns the two-level fanout path for hash: <root>/<xx>/<hash>.
func (c *Cache) pathFor(hash [32]byte) (dir, path string) {
	h := hexOf(hash)
	dir = filepath.Join(c.root, h[:2])
	path = filepath.Join(dir, h)
	return dir, path
}

// Put stores bytes under hash, trusting the caller has already verified
// hash == BLAKE3(bytes) (§4.1: "the hash is trusted"). The write lands via
// a temp file in the same fanout directory followed by an atomic rename, so
// concurrent readers never observe a torn file.
func (c *Cache) Put(hash [32]byte, data []byte) (PutOutcome, error) {
	dir, path := c.pathFor(hash)

	if _, err := os.Stat(path); err == nil {
		return AlreadyPresent, nil
	} else if !os.IsNotExist(err) {
		return AlreadyPresent, wireerr.Wrap(wireerr.IOError, "stat existing entry", err)
	}

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return Stored, wireerr.Wrap(wireerr.IOError, "create fanout dir", err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return Stored, wireerr.Wrap(wireerr.IOError, "create temp file", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return Stored, wireerr.Wrap(wireerr.IOError, "write temp file", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return Stored, wireerr.Wrap(wireerr.IOError, "close temp file", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		// A concurrent writer may have won the race; treat that as success.
		if _, statErr := os.Stat(path); statErr == nil {
			return AlreadyPresent, nil
		}
		return Stored, wireerr.Wrap(wireerr.IOError, "rename into place", err)
	}

	c.invalidateStats()
	return Stored, nil
}

// Get reads the payload for hash, if present. Absence is reported as
// (nil, false, nil) — not an error — per §4.1.
func (c *Cache) Get(hash [32]byte) ([]byte, bool, error) {
	_, path := c.pathFor(hash)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, false, nil
		}
		return nil, false, wireerr.Wrap(wireerr.IOError, "read entry", err)
	}
	return data, true, nil
}

// Has is a stat-only existence check.
func (c *Cache) Has(hash [32]byte) bool {
	_, path := c.pathFor(hash)
	_, err := os.Stat(path)
	return err == nil
}

// Iter produces a lazy, non-restartable traversal of all cached entries on
// a buffered channel. The returned cancel func must be called once the
// caller is done draining (or gives up early) to stop the walker goroutine.
func (c *Cache) Iter() (<-chan Entry, func()) {
	out := make(chan Entry, 32)
	done := make(chan struct{})
	cancel := func() { close(done) }

	go func() {
		defer close(out)
		fanouts, err := os.ReadDir(c.root)
		if err != nil {
			return
		}
		for _, fo := range fanouts {
			if !fo.IsDir() {
				continue
			}
			entries, err := os.ReadDir(filepath.Join(c.root, fo.Name()))
			if err != nil {
				continue
			}
			for _, e := range entries {
				if e.IsDir() || filepath.Ext(e.Name()) != "" {
					continue
				}
				raw, err := hex.DecodeString(e.Name())
				if err != nil || len(raw) != 32 {
					continue
				}
				info, err := e.Info()
				if err != nil {
					continue
				}
				var hash [32]byte
				copy(hash[:], raw)
				select {
				case out <- Entry{Hash: hash, Size: info.Size()}:
				case <-done:
					return
				}
			}
		}
	}()

	return out, cancel
}

// Clear removes every entry and returns the count removed.
func (c *Cache) Clear() (int, error) {
	entries, err := os.ReadDir(c.root)
	if err != nil {
		return 0, wireerr.Wrap(wireerr.IOError, "read cache root", err)
	}

	removed := 0
	for _, fo := range entries {
		dirPath := filepath.Join(c.root, fo.Name())
		if !fo.IsDir() {
			continue
		}
		files, err := os.ReadDir(dirPath)
		if err != nil {
			continue
		}
		removed += len(files)
		if err := os.RemoveAll(dirPath); err != nil {
			return removed, wireerr.Wrap(wireerr.IOError, "remove fanout dir", err)
		}
	}

	c.invalidateStats()
	return removed, nil
}

func (c *Cache) invalidateStats() {
	c.statValid.Store(false)
}

// Stats scans the cache on first call after invalidation and caches the
// result until the next mutation, per §4.1.
func (c *Cache) Stats() (Stats, error) {
	if c.statValid.Load() {
		return Stats{Count: c.count.Load(), TotalBytes: c.bytes.Load()}, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.statValid.Load() {
		return Stats{Count: c.count.Load(), TotalBytes: c.bytes.Load()}, nil
	}

	var count, total int64
	ch, cancel := c.Iter()
	defer cancel()
	for e := range ch {
		count++
		total += e.Size
	}

	c.count.Store(count)
	c.bytes.Store(total)
	c.statValid.Store(true)

	return Stats{Count: count, TotalBytes: total}, nil
}
