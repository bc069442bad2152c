// Package sched implements the Send Scheduler from §4.5: it accepts
// application send requests, applies per-session QoS token buckets and
// Background suppression, and fans a broadcast out across every eligible
// session.
package sched

import (
	"encoding/binary"
	"net"

	"github.com/summit-p2p/summit/internal/cache"
	"github.com/summit-p2p/summit/internal/constants"
	"github.com/summit-p2p/summit/internal/logging"
	"github.com/summit-p2p/summit/internal/metrics"
	"github.com/summit-p2p/summit/internal/session"
	"github.com/summit-p2p/summit/internal/wirefmt"
)

// TargetKind selects which sessions a send request reaches, §4.5.
type TargetKind uint8

const (
	TargetBroadcast TargetKind = iota
	TargetPeer
	TargetSession
)

// Target names the destination of a send request.
type Target struct {
	Kind      TargetKind
	PeerPub   [32]byte
	SessionID [16]byte
}

// Outcome reports per-session disposition for a send request, returned to
// the caller of Send.
type Outcome struct {
	SessionID [16]byte
	Sent      bool
	Reason    string
}

// Scheduler is the Send Scheduler (E).
type Scheduler struct {
	sessions *session.Manager
	cache    *cache.Cache
	conn     *net.UDPConn // the shared chunk-traffic socket
	counters *metrics.Counters
	log      interface {
		Warn(args ...interface{})
	}
}

func New(sessions *session.Manager, cache *cache.Cache, conn *net.UDPConn, counters *metrics.Counters) *Scheduler {
	return &Scheduler{sessions: sessions, cache: cache, conn: conn, counters: counters, log: logging.For("sched")}
}

// Send builds the 72-byte chunk header for payload, caches it locally
// (put_if_absent, §4.5), and transmits it on every session selected by
// target, honoring QoS and Background suppression.
func (s *Scheduler) Send(target Target, contentHash [32]byte, schemaID [32]byte, typeTag uint8, payload []byte) []Outcome {
	if _, err := s.cache.Put(contentHash, payload); err != nil {
		s.log.Warn("cache put on send failed: ", err)
	}

	header := wirefmt.NewChunkHeader(contentHash, schemaID, typeTag, 0, uint16(constants.ProtocolVersion), payload)
	frame := header.Marshal(payload)

	sessions := s.eligible(target)
	realtimeUp := s.anyRealtimeEstablished()

	outcomes := make([]Outcome, 0, len(sessions))
	for _, sess := range sessions {
		outcomes = append(outcomes, s.sendOne(sess, frame, realtimeUp))
	}
	return outcomes
}

func (s *Scheduler) eligible(target Target) []*session.Session {
	switch target.Kind {
	case TargetPeer:
		if sess, ok := s.sessions.Session(target.PeerPub); ok {
			return []*session.Session{sess}
		}
		return nil
	case TargetSession:
		if sess, ok := s.sessions.SessionByID(target.SessionID); ok {
			return []*session.Session{sess}
		}
		return nil
	default: // TargetBroadcast: a no-op with zero established sessions (§8)
		return s.sessions.Sessions()
	}
}

func (s *Scheduler) anyRealtimeEstablished() bool {
	for _, sess := range s.sessions.Sessions() {
		if sess.Contract == constants.ContractRealtime {
			return true
		}
	}
	return false
}

func (s *Scheduler) sendOne(sess *session.Session, frame []byte, realtimeUp bool) Outcome {
	if sess.Contract == constants.ContractBackground && realtimeUp {
		s.counters.QuotaExhausted.Add(1)
		return Outcome{SessionID: sess.ID, Sent: false, Reason: "background suppressed while realtime is established"}
	}
	if !sess.QoS.Allow() {
		s.counters.QuotaExhausted.Add(1)
		return Outcome{SessionID: sess.ID, Sent: false, Reason: "quota exhausted"}
	}

	addr := sess.ChunkSocketAddr()
	if addr == nil {
		return Outcome{SessionID: sess.ID, Sent: false, Reason: "chunk socket not yet confirmed"}
	}

	nonce, ciphertext := sess.Encrypt(frame)
	datagram := make([]byte, 8+len(ciphertext))
	binary.BigEndian.PutUint64(datagram, nonce)
	copy(datagram[8:], ciphertext)

	if _, err := s.conn.WriteToUDP(datagram, addr); err != nil {
		return Outcome{SessionID: sess.ID, Sent: false, Reason: err.Error()}
	}
	return Outcome{SessionID: sess.ID, Sent: true}
}
