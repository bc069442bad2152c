// Package dispatch implements the reassembly/dispatch layer from §4.6, §9:
// a table from type_tag to a narrow consumer interface, plus the one
// consumer the core owns outright, the file reassembler.
package dispatch

import (
	"sync"

	"github.com/summit-p2p/summit/internal/trust"
)

// Consumer is the narrow interface every dispatch target implements (§9:
// "each consumer a narrow interface... no inheritance hierarchy needed").
type Consumer interface {
	Submit(peerPub [32]byte, meta trust.ChunkMeta, payload []byte)
}

// Table routes admitted chunks by type_tag to a consumer, per §4.6.
type Table struct {
	mu        sync.RWMutex
	consumers map[uint8]Consumer
}

func NewTable() *Table {
	return &Table{consumers: make(map[uint8]Consumer)}
}

// Register installs the consumer for a type_tag, overwriting any prior one.
func (t *Table) Register(typeTag uint8, c Consumer) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.consumers[typeTag] = c
}

// Submit implements trust.Sink: the trust gate calls this for every
// admitted or promotion-flushed chunk.
func (t *Table) Submit(peerPub [32]byte, meta trust.ChunkMeta, payload []byte) {
	t.mu.RLock()
	c, ok := t.consumers[meta.TypeTag]
	t.mu.RUnlock()
	if !ok {
		return // type_tag 0 (test.ping) and any unregistered tag are diagnostics-only
	}
	c.Submit(peerPub, meta, payload)
}
