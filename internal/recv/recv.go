// Package recv implements the Chunk Receive Loop from §4.6 (A): one task
// owning the chunk-port UDP socket, attributing each datagram to a session,
// decrypting it, and handing the result to the Trust Gate.
package recv

import (
	"context"
	"encoding/binary"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/summit-p2p/summit/internal/cache"
	"github.com/summit-p2p/summit/internal/chash"
	"github.com/summit-p2p/summit/internal/logging"
	"github.com/summit-p2p/summit/internal/metrics"
	"github.com/summit-p2p/summit/internal/session"
	"github.com/summit-p2p/summit/internal/trust"
	"github.com/summit-p2p/summit/internal/wirefmt"
)

// Loop is the Chunk Receive Loop (A).
type Loop struct {
	conn     *net.UDPConn
	sessions *session.Manager
	gate     *trust.Gate
	cache    *cache.Cache
	counters *metrics.Counters
	log      *logrus.Entry
}

func New(conn *net.UDPConn, sessions *session.Manager, gate *trust.Gate, cache *cache.Cache, counters *metrics.Counters) *Loop {
	return &Loop{conn: conn, sessions: sessions, gate: gate, cache: cache, counters: counters, log: logging.For("recv")}
}

// Serve runs until ctx is canceled.
func (l *Loop) Serve(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	buf := make([]byte, 65536)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		l.conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		n, addr, err := l.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		if n < 9 { // 8-byte nonce prefix + at least one ciphertext byte
			l.counters.MalformedWire.Add(1)
			continue
		}

		datagram := append([]byte(nil), buf[:n]...)
		go l.handle(datagram, addr)
	}
}

func (l *Loop) handle(datagram []byte, addr *net.UDPAddr) {
	sess, ok := l.sessions.SessionByChunkAddr(addr)
	if !ok {
		l.counters.MalformedWire.Add(1)
		return
	}

	nonce := binary.BigEndian.Uint64(datagram[:8])
	ciphertext := datagram[8:]

	plaintext, err := sess.Decrypt(nonce, ciphertext)
	if err != nil {
		l.counters.AEADFailures.Add(1)
		if sess.ExceedsFailureThreshold() {
			l.log.WithField("peer", sess.PeerPublicKey).Warn("AEAD failure threshold exceeded, dropping session")
			l.sessions.Drop(sess.PeerPublicKey)
		}
		return
	}

	header, payload, err := wirefmt.ParseChunk(plaintext)
	if err != nil {
		l.counters.MalformedWire.Add(1)
		return
	}

	meta := trust.ChunkMeta{ContentHash: header.ContentHash, SchemaID: header.SchemaID, TypeTag: header.TypeTag}
	if err := l.gate.Admit(sess.PeerPublicKey, meta, payload, chash.Sum256, l.cache); err != nil {
		l.log.WithError(err).Debug("chunk dropped by trust gate")
	}
}
