// Package peer implements the peer table from §3: records created on first
// valid announcement, refreshed on subsequent ones, and pruned after the
// TTL window. Per §9's design note, the table only stores a session_id
// reference (not a session pointer) to avoid a cyclic dependency with the
// session package.
package peer

import (
	"net"
	"sync"
	"time"

	"github.com/summit-p2p/summit/internal/constants"
)

// Record is one entry in the peer table, §3.
type Record struct {
	mu sync.RWMutex

	PublicKey       [32]byte
	LastSeen        time.Time
	SessionPort     uint16
	ChunkPort       uint16
	Contract        uint8
	Version         uint32
	CapabilityHash  [32]byte
	SocketAddr      *net.UDPAddr
	BufferedChunks  []BufferedChunk
	bufferedSet     map[[32]byte]struct{}
	SessionID       *[16]byte // set once a session is established; nil otherwise
}

// BufferedChunk is one untrusted-buffer entry: enough of a reference for the
// trust gate to re-validate and dispatch a chunk once its sender is
// promoted, without re-admitting the chunk itself (§4.4's Untrusted Buffer).
type BufferedChunk struct {
	ContentHash [32]byte
	SchemaID    [32]byte
	TypeTag     uint8
}

func newRecord(pub [32]byte, addr *net.UDPAddr) *Record {
	return &Record{
		PublicKey:   pub,
		LastSeen:    time.Now(),
		SocketAddr:  addr,
		bufferedSet: make(map[[32]byte]struct{}),
	}
}

// Touch refreshes last-seen and the advertised ports/contract/version.
func (r *Record) Touch(sessionPort, chunkPort uint16, contract uint8, version uint32, capHash [32]byte, addr *net.UDPAddr) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.LastSeen = time.Now()
	r.SessionPort = sessionPort
	r.ChunkPort = chunkPort
	r.Contract = contract
	r.Version = version
	r.CapabilityHash = capHash
	r.SocketAddr = addr
}

// Expired reports whether the record's last-seen timestamp predates now by
// more than the peer TTL (§4.2).
func (r *Record) Expired(now time.Time) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return now.Sub(r.LastSeen) > constants.PeerTTL
}

// Snapshot returns a value copy safe to hand to callers outside the lock.
type Snapshot struct {
	PublicKey      [32]byte
	LastSeen       time.Time
	SessionPort    uint16
	ChunkPort      uint16
	Contract       uint8
	Version        uint32
	CapabilityHash [32]byte
	SocketAddr     *net.UDPAddr
	SessionID      *[16]byte
}

func (r *Record) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return Snapshot{
		PublicKey:      r.PublicKey,
		LastSeen:       r.LastSeen,
		SessionPort:    r.SessionPort,
		ChunkPort:      r.ChunkPort,
		Contract:       r.Contract,
		Version:        r.Version,
		CapabilityHash: r.CapabilityHash,
		SocketAddr:     r.SocketAddr,
		SessionID:      r.SessionID,
	}
}

// SetSessionID records the session_id once a handshake with this peer
// completes, or clears it (pass nil) on drop.
func (r *Record) SetSessionID(id *[16]byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.SessionID = id
}

// BufferChunk appends a (content_hash, schema_id, type_tag) reference to the
// untrusted buffer in arrival order, skipping a hash already buffered. The
// caller enforces any capacity bound before calling (§4.4).
func (r *Record) BufferChunk(contentHash, schemaID [32]byte, typeTag uint8) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.bufferedSet[contentHash]; dup {
		return
	}
	r.bufferedSet[contentHash] = struct{}{}
	r.BufferedChunks = append(r.BufferedChunks, BufferedChunk{ContentHash: contentHash, SchemaID: schemaID, TypeTag: typeTag})
}

// DrainBuffer returns the buffered references in FIFO insertion order and
// empties the buffer, used on promotion to Trusted (§4.4) or on a Blocked
// verdict, where the caller discards the drained slice instead of replaying
// it.
func (r *Record) DrainBuffer() []BufferedChunk {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := r.BufferedChunks
	r.BufferedChunks = nil
	r.bufferedSet = make(map[[32]byte]struct{})
	return out
}

// BufferLen reports the current untrusted-buffer depth.
func (r *Record) BufferLen() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.BufferedChunks)
}

// Table is the concurrent peer table, keyed by public key. §3 invariant: a
// record exists iff a valid announcement was received within the TTL.
type Table struct {
	self [32]byte

	mu      sync.RWMutex
	records map[[32]byte]*Record
}

func NewTable(self [32]byte) *Table {
	return &Table{self: self, records: make(map[[32]byte]*Record)}
}

// Upsert creates or refreshes the record for pub. Announcements from the
// local node's own key are rejected by the caller before reaching here
// (§4.2: "a peer's own public-key record is never created"), but Upsert
// double-checks as a defensive invariant.
func (t *Table) Upsert(pub [32]byte, sessionPort, chunkPort uint16, contract uint8, version uint32, capHash [32]byte, addr *net.UDPAddr) *Record {
	if pub == t.self {
		return nil
	}

	t.mu.RLock()
	r, ok := t.records[pub]
	t.mu.RUnlock()

	if ok {
		r.Touch(sessionPort, chunkPort, contract, version, capHash, addr)
		return r
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if r, ok := t.records[pub]; ok {
		r.Touch(sessionPort, chunkPort, contract, version, capHash, addr)
		return r
	}
	r = newRecord(pub, addr)
	r.Touch(sessionPort, chunkPort, contract, version, capHash, addr)
	t.records[pub] = r
	return r
}

// Get returns the record for pub, if any.
func (t *Table) Get(pub [32]byte) (*Record, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.records[pub]
	return r, ok
}

// ByAddr finds the peer record whose last-known socket address matches
// addr, used by the session manager to attribute an inbound handshake
// datagram to a known peer (§4.3).
func (t *Table) ByAddr(addr *net.UDPAddr) (*Record, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, r := range t.records {
		snap := r.Snapshot()
		if snap.SocketAddr != nil && snap.SocketAddr.IP.Equal(addr.IP) && snap.SocketAddr.Port == addr.Port {
			return r, true
		}
	}
	return nil, false
}

// All returns every current record.
func (t *Table) All() []*Record {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*Record, 0, len(t.records))
	for _, r := range t.records {
		out = append(out, r)
	}
	return out
}

// ExpireStale removes records whose last-seen predates the TTL and returns
// the removed public keys, so the caller can tear down associated sessions
// (§4.2).
func (t *Table) ExpireStale() [][32]byte {
	now := time.Now()
	t.mu.Lock()
	defer t.mu.Unlock()

	var expired [][32]byte
	for pub, r := range t.records {
		if r.Expired(now) {
			expired = append(expired, pub)
			delete(t.records, pub)
		}
	}
	return expired
}

// Remove deletes a record outright (used on explicit admin action or test
// teardown).
func (t *Table) Remove(pub [32]byte) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.records, pub)
}
