// Package trust implements the trust registry and admission gate from §4.4:
// a per-peer trust level gates whether a decrypted chunk reaches the
// dispatch pipeline immediately, is buffered pending promotion, or is
// dropped outright.
package trust

import (
	"sync"
	"time"

	"github.com/summit-p2p/summit/internal/cache"
	"github.com/summit-p2p/summit/internal/logging"
	"github.com/summit-p2p/summit/internal/metrics"
	"github.com/summit-p2p/summit/internal/peer"
	"github.com/summit-p2p/summit/internal/schema"
	"github.com/summit-p2p/summit/internal/wireerr"
)

// Level is a peer's trust level, §3.
type Level uint8

const (
	Untrusted Level = iota // default for an unseen peer
	Trusted
	Blocked
)

func (l Level) String() string {
	switch l {
	case Trusted:
		return "trusted"
	case Blocked:
		return "blocked"
	default:
		return "untrusted"
	}
}

// Rule is one entry in the trust registry, §3.
type Rule struct {
	PublicKey [32]byte
	Level     Level
	Since     time.Time
}

// Registry is the concurrent trust-level table. Mutation is administrative
// only, via Add/Block/Reset.
type Registry struct {
	mu    sync.RWMutex
	rules map[[32]byte]*Rule
}

func NewRegistry() *Registry {
	return &Registry{rules: make(map[[32]byte]*Rule)}
}

// Level returns a peer's current trust level; an unseen peer is Untrusted.
func (r *Registry) Level(pub [32]byte) Level {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if rule, ok := r.rules[pub]; ok {
		return rule.Level
	}
	return Untrusted
}

func (r *Registry) set(pub [32]byte, level Level) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules[pub] = &Rule{PublicKey: pub, Level: level, Since: time.Now()}
}

// Add promotes a peer to Trusted.
func (r *Registry) Add(pub [32]byte) { r.set(pub, Trusted) }

// Block demotes a peer to Blocked.
func (r *Registry) Block(pub [32]byte) { r.set(pub, Blocked) }

// Reset returns a peer to the default Untrusted level.
func (r *Registry) Reset(pub [32]byte) { r.set(pub, Untrusted) }

// List returns every explicit rule, for the control surface's trust_list().
func (r *Registry) List() []Rule {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Rule, 0, len(r.rules))
	for _, rule := range r.rules {
		out = append(out, *rule)
	}
	return out
}

// Sink is the narrow interface the gate dispatches admitted chunks to,
// implemented by the reassembly/dispatch table (§9: "a narrow interface,
// each consumer... no inheritance hierarchy needed").
type Sink interface {
	Submit(peerPub [32]byte, header ChunkMeta, payload []byte)
}

// ChunkMeta is the header fields the dispatch layer needs, decoupled from
// the wire struct so this package does not import wirefmt.
type ChunkMeta struct {
	ContentHash [32]byte
	SchemaID    [32]byte
	TypeTag     uint8
}

// PendingNotifier is called whenever a chunk is buffered for an Untrusted
// peer, so the control surface can surface trust_pending() without polling.
type PendingNotifier func(peerPub [32]byte)

// Gate ties the trust registry, schema registry, cache, and peer table
// together to implement the admission rule in §4.4.
type Gate struct {
	Trust    *Registry
	Schemas  *schema.Registry
	Peers    *peer.Table
	Counters *metrics.Counters
	Sink      Sink
	OnPending PendingNotifier
}

var gateLog = logging.For("trust")

// Admit runs the five-step admission rule from §4.4 on one decrypted chunk
// and returns the error that would have caused a drop, or nil if admitted
// or buffered.
func (g *Gate) Admit(peerPub [32]byte, meta ChunkMeta, payload []byte, verifyContentHash func([]byte) [32]byte, store *cache.Cache) error {
	level := g.Trust.Level(peerPub)
	if level == Blocked {
		g.Counters.TrustBlocked.Add(1)
		return wireerr.New(wireerr.TrustBlocked, "sender is blocked")
	}

	if got := verifyContentHash(payload); got != meta.ContentHash {
		g.Counters.IntegrityFailures.Add(1)
		return wireerr.New(wireerr.IntegrityFailure, "content hash mismatch")
	}

	sch, ok := g.Schemas.Lookup(meta.SchemaID)
	if !ok {
		g.Counters.UnknownSchema.Add(1)
		return wireerr.New(wireerr.UnknownSchema, "schema id not registered")
	}

	if sch.Validator != nil && !sch.Validator(payload) {
		g.Counters.ValidatorRejects.Add(1)
		return wireerr.New(wireerr.ValidatorReject, "payload failed schema validator")
	}

	if _, err := store.Put(meta.ContentHash, payload); err != nil {
		return wireerr.Wrap(wireerr.IOError, "cache put failed", err)
	}

	if level == Trusted {
		g.Sink.Submit(peerPub, meta, payload)
		return nil
	}

	// Untrusted: buffer the reference and notify, per §4.4 step 5.
	rec, ok := g.Peers.Get(peerPub)
	if !ok {
		return wireerr.New(wireerr.MalformedWire, "no peer record for sender")
	}
	rec.BufferChunk(meta.ContentHash, meta.SchemaID, meta.TypeTag)
	if g.OnPending != nil {
		g.OnPending(peerPub)
	}
	gateLog.WithField("peer", peerPub).Debug("buffered chunk for untrusted peer")
	return nil
}

// Promote moves a peer to Trusted and flushes its untrusted buffer into the
// dispatch pipeline in FIFO order (§4.4, §5). The payloads themselves are
// re-read from the cache since the buffer only stores references.
func (g *Gate) Promote(peerPub [32]byte, fetch func(hash [32]byte) ([]byte, bool, error)) {
	g.Trust.Add(peerPub)

	rec, ok := g.Peers.Get(peerPub)
	if !ok {
		return
	}
	for _, ref := range rec.DrainBuffer() {
		payload, found, err := fetch(ref.ContentHash)
		if err != nil || !found {
			continue
		}
		g.Sink.Submit(peerPub, ChunkMeta{ContentHash: ref.ContentHash, SchemaID: ref.SchemaID, TypeTag: ref.TypeTag}, payload)
	}
}

// Demote moves a peer to Blocked and drops its untrusted buffer outright
// (§4.4: "Trust → Blocked drops the buffer").
func (g *Gate) Demote(peerPub [32]byte) {
	g.Trust.Block(peerPub)
	if rec, ok := g.Peers.Get(peerPub); ok {
		rec.DrainBuffer()
	}
}
