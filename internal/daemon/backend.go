package daemon

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/summit-p2p/summit/internal/chash"
	"github.com/summit-p2p/summit/internal/sched"
	"github.com/summit-p2p/summit/internal/trust"
)

// Status implements control.Backend.
func (d *Daemon) Status() map[string]interface{} {
	return map[string]interface{}{
		"pubkey":     d.id.String(),
		"run_id":     d.runID.String(),
		"interface":  d.iface.Name,
		"uptime_sec": time.Since(d.startedAt).Seconds(),
		"peers":      len(d.peers.All()),
		"sessions":   len(d.sessions.Sessions()),
		"counters":   d.counters.Snapshot(),
	}
}

// Peers implements control.Backend.
func (d *Daemon) Peers() []map[string]interface{} {
	recs := d.peers.All()
	out := make([]map[string]interface{}, 0, len(recs))
	for _, rec := range recs {
		snap := rec.Snapshot()
		entry := map[string]interface{}{
			"pubkey":       hex.EncodeToString(snap.PublicKey[:]),
			"contract":     snap.Contract,
			"version":      snap.Version,
			"session_port": snap.SessionPort,
			"chunk_port":   snap.ChunkPort,
			"last_seen":    snap.LastSeen,
			"trust":        d.trustReg.Level(snap.PublicKey).String(),
		}
		if snap.SocketAddr != nil {
			entry["address"] = snap.SocketAddr.String()
		}
		if snap.SessionID != nil {
			entry["session_id"] = hex.EncodeToString(snap.SessionID[:])
		}
		out = append(out, entry)
	}
	return out
}

// TrustList implements control.Backend.
func (d *Daemon) TrustList() []map[string]interface{} {
	rules := d.trustReg.List()
	out := make([]map[string]interface{}, 0, len(rules))
	for _, r := range rules {
		out = append(out, map[string]interface{}{
			"pubkey": hex.EncodeToString(r.PublicKey[:]),
			"level":  r.Level.String(),
			"since":  r.Since,
		})
	}
	return out
}

func parsePubkey(pubkeyHex string) ([32]byte, error) {
	var pub [32]byte
	raw, err := hex.DecodeString(pubkeyHex)
	if err != nil || len(raw) != 32 {
		return pub, fmt.Errorf("invalid pubkey hex %q", pubkeyHex)
	}
	copy(pub[:], raw)
	return pub, nil
}

// TrustAdd implements control.Backend.
func (d *Daemon) TrustAdd(pubkeyHex string) error {
	pub, err := parsePubkey(pubkeyHex)
	if err != nil {
		return err
	}
	d.gate.Promote(pub, d.cache.Get)
	return nil
}

// TrustBlock implements control.Backend.
func (d *Daemon) TrustBlock(pubkeyHex string) error {
	pub, err := parsePubkey(pubkeyHex)
	if err != nil {
		return err
	}
	d.gate.Demote(pub)
	return nil
}

// TrustPending implements control.Backend: every peer currently Untrusted
// with a non-empty buffer.
func (d *Daemon) TrustPending() []map[string]interface{} {
	out := []map[string]interface{}{}
	for _, rec := range d.peers.All() {
		snap := rec.Snapshot()
		if d.trustReg.Level(snap.PublicKey) != trust.Untrusted {
			continue
		}
		if n := rec.BufferLen(); n > 0 {
			out = append(out, map[string]interface{}{
				"pubkey":         hex.EncodeToString(snap.PublicKey[:]),
				"buffered_count": n,
			})
		}
	}
	return out
}

func parseSessionID(sessionIDHex string) ([16]byte, error) {
	var id [16]byte
	raw, err := hex.DecodeString(sessionIDHex)
	if err != nil || len(raw) != 16 {
		return id, fmt.Errorf("invalid session id hex %q", sessionIDHex)
	}
	copy(id[:], raw)
	return id, nil
}

// SessionsInspect implements control.Backend.
func (d *Daemon) SessionsInspect(sessionIDHex string) (map[string]interface{}, error) {
	id, err := parseSessionID(sessionIDHex)
	if err != nil {
		return nil, err
	}
	sess, ok := d.sessions.SessionByID(id)
	if !ok {
		return nil, fmt.Errorf("no session with id %s", sessionIDHex)
	}
	out := map[string]interface{}{
		"session_id":     hex.EncodeToString(sess.ID[:]),
		"peer_pubkey":    hex.EncodeToString(sess.PeerPublicKey[:]),
		"contract":       sess.Contract,
		"established_at": sess.EstablishedAt,
	}
	if addr := sess.ChunkSocketAddr(); addr != nil {
		out["chunk_socket"] = addr.String()
	}
	return out, nil
}

// SessionsDrop implements control.Backend.
func (d *Daemon) SessionsDrop(sessionIDHex string) error {
	id, err := parseSessionID(sessionIDHex)
	if err != nil {
		return err
	}
	sess, ok := d.sessions.SessionByID(id)
	if !ok {
		return fmt.Errorf("no session with id %s", sessionIDHex)
	}
	d.sessions.Drop(sess.PeerPublicKey)
	return nil
}

// CacheStats implements control.Backend.
func (d *Daemon) CacheStats() map[string]interface{} {
	stats, err := d.cache.Stats()
	if err != nil {
		return map[string]interface{}{"error": err.Error()}
	}
	return map[string]interface{}{
		"count":       stats.Count,
		"total_bytes": stats.TotalBytes,
		"root":        d.cache.Root(),
	}
}

// CacheClear implements control.Backend.
func (d *Daemon) CacheClear() (int, error) {
	return d.cache.Clear()
}

// Schemas implements control.Backend.
func (d *Daemon) Schemas() []map[string]interface{} {
	schemas := d.schemas.All()
	out := make([]map[string]interface{}, 0, len(schemas))
	for _, s := range schemas {
		out = append(out, map[string]interface{}{
			"name":     s.Name,
			"id":       hex.EncodeToString(s.ID[:]),
			"type_tag": s.TypeTag,
		})
	}
	return out
}

// Send implements control.Backend: resolves the named schema, hashes the
// payload, and hands it to the scheduler per §4.5's target kinds.
func (d *Daemon) Send(payloadB64, schemaName string, typeTag uint8, targetKind, targetKey string) error {
	payload, err := base64.StdEncoding.DecodeString(payloadB64)
	if err != nil {
		return fmt.Errorf("invalid base64 payload: %w", err)
	}

	sch, ok := d.schemas.LookupByName(schemaName)
	if !ok {
		return fmt.Errorf("unknown schema %q", schemaName)
	}

	hash := chash.Sum256(payload)
	if _, err := d.cache.Put(hash, payload); err != nil {
		return fmt.Errorf("cache put failed: %w", err)
	}

	var target sched.Target
	switch targetKind {
	case "broadcast", "":
		target = sched.Target{Kind: sched.TargetBroadcast}
	case "peer":
		pub, err := parsePubkey(targetKey)
		if err != nil {
			return err
		}
		target = sched.Target{Kind: sched.TargetPeer, PeerPub: pub}
	case "session":
		id, err := parseSessionID(targetKey)
		if err != nil {
			return err
		}
		target = sched.Target{Kind: sched.TargetSession, SessionID: id}
	default:
		return fmt.Errorf("unknown target kind %q", targetKind)
	}

	d.scheduler.Send(target, hash, sch.ID, typeTag, payload)
	return nil
}

// FilesStatus implements control.Backend.
func (d *Daemon) FilesStatus() []map[string]interface{} {
	statuses := d.files.Statuses()
	out := make([]map[string]interface{}, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, map[string]interface{}{
			"filename": s.Filename,
			"complete": s.Complete,
			"received": s.Received,
			"total":    s.Total,
		})
	}
	return out
}
