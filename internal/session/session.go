package session

import (
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/flynn/noise"

	"github.com/summit-p2p/summit/internal/chash"
	"github.com/summit-p2p/summit/internal/constants"
	"github.com/summit-p2p/summit/internal/identity"
	"github.com/summit-p2p/summit/internal/qos"
	"github.com/summit-p2p/summit/internal/wireerr"
)

const (
	aeadFailureWindow    = constants.AEADFailureWindow
	aeadFailureThreshold = constants.AEADFailureLimit
)

// Session is an established, mutually authenticated, encrypted session
// with one peer, per §3. tx/rx state are single-writer: one goroutine owns
// sends, one owns receives, per §5.
type Session struct {
	ID             [16]byte
	PeerPublicKey  [32]byte
	Contract       uint8
	ChunkSocket    *net.UDPAddr
	EstablishedAt  time.Time
	QoS            *qos.TokenBucket

	tx     noise.Cipher
	rx     noise.Cipher
	txSeq  atomic.Uint64
	window *replayWindow

	mu          sync.Mutex
	aeadFailure int
	windowStart time.Time

	closed atomic.Bool
}

func newSession(id [16]byte, peerPub [32]byte, contract uint8, tx, rx noise.Cipher) *Session {
	return &Session{
		ID:            id,
		PeerPublicKey: peerPub,
		Contract:      contract,
		EstablishedAt: time.Now(),
		QoS:           qos.NewTokenBucket(contract),
		tx:            tx,
		rx:            rx,
		window:        newReplayWindow(128),
		windowStart:   time.Now(),
	}
}

// Encrypt seals plaintext (a chunk header + payload) with the next send
// nonce and returns the on-wire nonce alongside the ciphertext. Only the
// single goroutine that owns this session's send path may call Encrypt.
func (s *Session) Encrypt(plaintext []byte) (nonce uint64, ciphertext []byte) {
	n := s.txSeq.Add(1) - 1
	ct := s.tx.Encrypt(nil, n, nil, plaintext)
	return n, ct
}

// Decrypt opens a received frame at the given on-wire nonce. Replay or a
// failed AEAD tag both return an error; callers should treat both as a
// dropped frame (§4.3, §7). Only the single goroutine that owns this
// session's receive path may call Decrypt.
func (s *Session) Decrypt(nonce uint64, ciphertext []byte) ([]byte, error) {
	if !s.window.accept(nonce) {
		return nil, wireerr.New(wireerr.AEADFailure, "replayed or stale nonce")
	}

	plaintext, err := s.rx.Decrypt(nil, nonce, nil, ciphertext)
	if err != nil {
		s.recordAEADFailure()
		return nil, wireerr.Wrap(wireerr.AEADFailure, "AEAD open failed", err)
	}
	return plaintext, nil
}

// recordAEADFailure tracks consecutive-window AEAD failures; the caller is
// responsible for dropping the whole session once ExceedsFailureThreshold
// reports true (§4.3: "if the counter exceeds a threshold... drop the
// whole session").
func (s *Session) recordAEADFailure() {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	if now.Sub(s.windowStart) > aeadFailureWindow {
		s.aeadFailure = 0
		s.windowStart = now
	}
	s.aeadFailure++
}

// ExceedsFailureThreshold reports whether the AEAD failure counter has
// crossed the threshold within the current window.
func (s *Session) ExceedsFailureThreshold() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.aeadFailure > aeadFailureThreshold
}

// SetChunkSocket records the peer's confirmed chunk-socket address, learned
// from the post-handshake port-confirmation frame (§4.3).
func (s *Session) SetChunkSocket(addr *net.UDPAddr) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ChunkSocket = addr
}

// ChunkSocketAddr returns the peer's confirmed chunk-socket address, if any.
func (s *Session) ChunkSocketAddr() *net.UDPAddr {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ChunkSocket
}

// Close marks the session as torn down. Subsequent Encrypt/Decrypt calls
// remain mechanically valid but callers should stop issuing them once a
// session is removed from the manager's table.
func (s *Session) Close() { s.closed.Store(true) }

// Closed reports whether Close has been called.
func (s *Session) Closed() bool { return s.closed.Load() }

// deriveSessionID computes §3's deterministic session ID.
func deriveSessionID(a, b [32]byte) [16]byte {
	min, max := identity.MinMax(a, b)
	return chash.SessionID(min, max)
}
