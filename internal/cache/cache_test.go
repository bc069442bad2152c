package cache

import (
	"bytes"
	"testing"

	"github.com/summit-p2p/summit/internal/chash"
)

func TestPutGetRoundTrip(t *testing.T) {
	c, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	payload := []byte("hello summit")
	hash := chash.Sum256(payload)

	outcome, err := c.Put(hash, payload)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if outcome != Stored {
		t.Fatalf("first put = %v, want Stored", outcome)
	}

	got, ok, err := c.Get(hash)
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("Get returned %q, want %q", got, payload)
	}

	outcome, err = c.Put(hash, payload)
	if err != nil {
		t.Fatalf("second Put: %v", err)
	}
	if outcome != AlreadyPresent {
		t.Fatalf("second put = %v, want AlreadyPresent", outcome)
	}
}

func TestGetMissingIsNotError(t *testing.T) {
	c, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	var hash [32]byte
	data, ok, err := c.Get(hash)
	if err != nil {
		t.Fatalf("Get missing returned error: %v", err)
	}
	if ok || data != nil {
		t.Fatalf("Get missing = (%v, %v), want (nil, false)", data, ok)
	}
}

func TestFanoutPathPrefix(t *testing.T) {
	c, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	payload := []byte("fanout check")
	hash := chash.Sum256(payload)
	if _, err := c.Put(hash, payload); err != nil {
		t.Fatalf("Put: %v", err)
	}

	_, path := c.pathFor(hash)
	want := hexOf(hash)[:2]
	got := path[len(c.Root())+1 : len(c.Root())+3]
	if got != want {
		t.Fatalf("fanout dir = %q, want %q", got, want)
	}
}

func TestIterAndClear(t *testing.T) {
	c, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	payloads := [][]byte{[]byte("a"), []byte("b"), []byte("c")}
	for _, p := range payloads {
		if _, err := c.Put(chash.Sum256(p), p); err != nil {
			t.Fatalf("Put: %v", err)
		}
	}

	ch, cancel := c.Iter()
	defer cancel()
	count := 0
	for range ch {
		count++
	}
	if count != len(payloads) {
		t.Fatalf("Iter yielded %d entries, want %d", count, len(payloads))
	}

	stats, err := c.Stats()
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.Count != int64(len(payloads)) {
		t.Fatalf("Stats.Count = %d, want %d", stats.Count, len(payloads))
	}

	removed, err := c.Clear()
	if err != nil {
		t.Fatalf("Clear: %v", err)
	}
	if removed != len(payloads) {
		t.Fatalf("Clear removed %d, want %d", removed, len(payloads))
	}

	stats, err = c.Stats()
	if err != nil {
		t.Fatalf("Stats after clear: %v", err)
	}
	if stats.Count != 0 {
		t.Fatalf("Stats.Count after clear = %d, want 0", stats.Count)
	}
}
