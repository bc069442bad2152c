package session

import (
	"context"
	"encoding/binary"
	"net"
	"sync"
	"time"

	"github.com/flynn/noise"
	"github.com/sirupsen/logrus"

	"github.com/summit-p2p/summit/internal/constants"
	"github.com/summit-p2p/summit/internal/identity"
	"github.com/summit-p2p/summit/internal/logging"
	"github.com/summit-p2p/summit/internal/metrics"
	"github.com/summit-p2p/summit/internal/peer"
)

var cipherSuite = noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashBLAKE2s)

// Frame type tags on the session socket, distinct from the chunk-socket
// wire format in §6.
const (
	frameMsg1        byte = 0x01
	frameMsg2        byte = 0x02
	frameMsg3        byte = 0x03
	framePortConfirm byte = 0x04
)

// attempt tracks one in-progress handshake with a single peer.
type attempt struct {
	mu          sync.Mutex
	peerPub     [32]byte
	peerAddr    *net.UDPAddr
	state       State
	hs          *noise.HandshakeState
	isInitiator bool
	contract    uint8
	deadline    *time.Timer
}

// Manager owns the session socket, the handshake state machine for every
// peer, and the table of established sessions (§4.3).
type Manager struct {
	id       *identity.Identity
	peers    *peer.Table
	contract uint8
	counters *metrics.Counters
	log      *logrus.Entry

	conn *net.UDPConn

	mu             sync.Mutex
	attempts       map[[32]byte]*attempt
	sessions       map[[32]byte]*Session // keyed by peer public key
	byAddr         map[string]*attempt   // responder-side attempts before pubkey is known
	onSession      func(*Session, bool)  // called with (session, established) on change
	localChunkPort uint16
}

// Config configures a Manager.
type Config struct {
	Identity *identity.Identity
	Peers    *peer.Table
	Contract uint8
	Counters *metrics.Counters
	OnSession func(*Session, bool)
}

func NewManager(cfg Config) *Manager {
	return &Manager{
		id:        cfg.Identity,
		peers:     cfg.Peers,
		contract:  cfg.Contract,
		counters:  cfg.Counters,
		log:       logging.For("session"),
		attempts:  make(map[[32]byte]*attempt),
		sessions:  make(map[[32]byte]*Session),
		byAddr:    make(map[string]*attempt),
		onSession: cfg.OnSession,
	}
}

// Listen binds the session socket. The caller subsequently calls Serve to
// run the receive loop.
func (m *Manager) Listen() (uint16, error) {
	conn, err := net.ListenUDP("udp6", &net.UDPAddr{})
	if err != nil {
		return 0, err
	}
	m.conn = conn
	return uint16(conn.LocalAddr().(*net.UDPAddr).Port), nil
}

// Serve runs the session-socket receive loop until ctx is canceled.
func (m *Manager) Serve(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	buf := make([]byte, 4096)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		m.conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		n, addr, err := m.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue
		}
		if n < 1 {
			continue
		}

		frame := append([]byte(nil), buf[:n]...)
		go m.handleFrame(frame, addr)
	}
}

func (m *Manager) handleFrame(frame []byte, addr *net.UDPAddr) {
	switch frame[0] {
	case frameMsg1:
		m.handleMsg1(frame[1:], addr)
	case frameMsg2:
		m.handleMsg2(frame[1:], addr)
	case frameMsg3:
		m.handleMsg3(frame[1:], addr)
	case framePortConfirm:
		m.handlePortConfirm(frame[1:], addr)
	}
}

// Initiate begins a handshake toward a known peer record, honoring the
// lexicographic tie-break in §4.3: only the smaller public key actually
// initiates.
func (m *Manager) Initiate(pub [32]byte, addr *net.UDPAddr, contract uint8) {
	if !identity.Less(m.id.PublicKey, pub) {
		return // we are not the rightful initiator toward this peer
	}

	m.mu.Lock()
	if _, exists := m.attempts[pub]; exists {
		m.mu.Unlock()
		return
	}
	if _, exists := m.sessions[pub]; exists {
		m.mu.Unlock()
		return
	}
	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite: cipherSuite,
		Pattern:     noise.HandshakeXX,
		Initiator:   true,
		StaticKeypair: noise.DHKey{
			Private: m.id.PrivateKey[:],
			Public:  m.id.PublicKey[:],
		},
	})
	if err != nil {
		m.mu.Unlock()
		m.log.WithError(err).Warn("failed to build initiator handshake state")
		return
	}

	at := &attempt{peerPub: pub, peerAddr: addr, state: Initiating, hs: hs, isInitiator: true, contract: contract}
	m.attempts[pub] = at
	m.mu.Unlock()

	msg, _, _, err := hs.WriteMessage(nil, nil)
	if err != nil {
		m.failAttempt(at)
		return
	}
	m.send(addr, frameMsg1, msg)
	m.armTimeout(at)
}

func (m *Manager) armTimeout(at *attempt) {
	at.mu.Lock()
	if at.deadline != nil {
		at.deadline.Stop()
	}
	at.deadline = time.AfterFunc(constants.HandshakeLegTimeout, func() {
		m.failAttempt(at)
	})
	at.mu.Unlock()
}

func (m *Manager) failAttempt(at *attempt) {
	at.mu.Lock()
	at.state = Failed
	at.mu.Unlock()

	// The Failed attempt stays in m.attempts through the cooldown, so
	// Initiate toward this peer is a no-op until it is removed.
	m.mu.Lock()
	delete(m.byAddr, at.peerAddr.String())
	m.mu.Unlock()

	if m.counters != nil {
		m.counters.HandshakeTimeouts.Add(1)
	}

	// Cooldown, then eligible to re-initiate (§4.3, §5).
	time.AfterFunc(constants.FailedCooldown, func() {
		m.mu.Lock()
		if m.attempts[at.peerPub] == at {
			delete(m.attempts, at.peerPub)
		}
		m.mu.Unlock()
	})
}

func (m *Manager) handleMsg1(payload []byte, addr *net.UDPAddr) {
	m.mu.Lock()
	// Tie-break: if we already have a pending Initiating attempt toward the
	// sender and our key is smaller, we are the rightful initiator — drop
	// their msg1 and keep waiting for our own msg2.
	if rec, ok := m.peers.ByAddr(addr); ok {
		pub := rec.Snapshot().PublicKey
		if existing, exists := m.attempts[pub]; exists {
			existing.mu.Lock()
			isInit := existing.isInitiator
			existing.mu.Unlock()
			if isInit {
				if identity.Less(m.id.PublicKey, pub) {
					m.mu.Unlock()
					return // we are the rightful initiator; ignore their msg1
				}
				// We lose the tie-break: abandon our attempt and respond instead.
				delete(m.attempts, pub)
			}
		}
		if _, exists := m.sessions[pub]; exists {
			m.mu.Unlock()
			return // already established, ignore stray msg1
		}
	}
	m.mu.Unlock()

	hs, err := noise.NewHandshakeState(noise.Config{
		CipherSuite: cipherSuite,
		Pattern:     noise.HandshakeXX,
		Initiator:   false,
		StaticKeypair: noise.DHKey{
			Private: m.id.PrivateKey[:],
			Public:  m.id.PublicKey[:],
		},
	})
	if err != nil {
		m.log.WithError(err).Warn("failed to build responder handshake state")
		return
	}

	if _, _, _, err := hs.ReadMessage(nil, payload); err != nil {
		if m.counters != nil {
			m.counters.MalformedWire.Add(1)
		}
		return
	}

	at := &attempt{peerAddr: addr, state: Responding, hs: hs, isInitiator: false, contract: m.contract}

	msg2, _, _, err := hs.WriteMessage(nil, nil)
	if err != nil {
		return
	}

	at.state = WaitComplete
	m.mu.Lock()
	m.byAddr[addr.String()] = at
	m.mu.Unlock()

	m.send(addr, frameMsg2, msg2)
	m.armTimeout(at)
}

func (m *Manager) handleMsg2(payload []byte, addr *net.UDPAddr) {
	m.mu.Lock()
	rec, ok := m.peers.ByAddr(addr)
	if !ok {
		m.mu.Unlock()
		return
	}
	pub := rec.Snapshot().PublicKey
	at, exists := m.attempts[pub]
	m.mu.Unlock()
	if !exists {
		return
	}

	at.mu.Lock()
	if at.state != Initiating {
		at.mu.Unlock()
		return
	}
	hs := at.hs
	at.mu.Unlock()

	if _, _, _, err := hs.ReadMessage(nil, payload); err != nil {
		m.failAttempt(at)
		return
	}

	msg3, cs1, cs2, err := hs.WriteMessage(nil, nil)
	if err != nil {
		m.failAttempt(at)
		return
	}

	at.mu.Lock()
	at.state = Responding2
	at.mu.Unlock()

	m.send(addr, frameMsg3, msg3)

	if cs1 != nil && cs2 != nil {
		m.establish(at.peerPub, addr, at.contract, cs1.Cipher(), cs2.Cipher(), true)
	}
}

func (m *Manager) handleMsg3(payload []byte, addr *net.UDPAddr) {
	m.mu.Lock()
	at, exists := m.byAddr[addr.String()]
	m.mu.Unlock()
	if !exists {
		return
	}

	at.mu.Lock()
	if at.state != WaitComplete {
		at.mu.Unlock()
		return
	}
	hs := at.hs
	at.mu.Unlock()

	_, cs1, cs2, err := hs.ReadMessage(nil, payload)
	if err != nil {
		m.failAttempt(at)
		return
	}
	if cs1 == nil || cs2 == nil {
		return
	}

	peerPub := hs.PeerStatic()
	var pub [32]byte
	copy(pub[:], peerPub)

	m.mu.Lock()
	delete(m.byAddr, addr.String())
	m.mu.Unlock()

	// cs1 carries initiator-to-responder traffic, so for the responder cs1 is
	// its read key and cs2 its write key; establish swaps them accordingly.
	m.establish(pub, addr, at.contract, cs1.Cipher(), cs2.Cipher(), false)
}

// establish finalizes a session from completed handshake cipher states.
// isInitiator selects which cipher state is the send direction: for the
// initiator cs1 is tx/cs2 is rx; for the responder it's the reverse so
// both sides agree on which physical key encrypts which direction.
func (m *Manager) establish(peerPub [32]byte, addr *net.UDPAddr, contract uint8, c1, c2 noise.Cipher, isInitiator bool) {
	id := deriveSessionID(m.id.PublicKey, peerPub)

	var tx, rx noise.Cipher
	if isInitiator {
		tx, rx = c1, c2
	} else {
		tx, rx = c2, c1
	}

	sess := newSession(id, peerPub, contract, tx, rx)

	m.mu.Lock()
	if existing, ok := m.sessions[peerPub]; ok {
		// Invariant: at most one session per peer pubkey. Keep the existing
		// one; the loser's handshake simply completes and is discarded.
		m.mu.Unlock()
		_ = existing
		return
	}
	m.sessions[peerPub] = sess
	delete(m.attempts, peerPub)
	delete(m.byAddr, addr.String())
	m.mu.Unlock()

	if rec, ok := m.peers.Get(peerPub); ok {
		sessionID := id
		rec.SetSessionID(&sessionID)
	}

	m.log.WithField("peer", peerPub).Info("session established")
	if m.onSession != nil {
		m.onSession(sess, true)
	}

	// Send the authoritative chunk-port confirmation over this new session.
	m.sendPortConfirm(sess, addr)
}

func (m *Manager) sendPortConfirm(sess *Session, addr *net.UDPAddr) {
	// The caller (daemon) is expected to set the local chunk port on the
	// manager before sessions are established; ChunkPort defaults to 0
	// until PublishChunkPort is called.
	m.mu.Lock()
	port := m.localChunkPort
	m.mu.Unlock()

	plain := make([]byte, 2)
	binary.BigEndian.PutUint16(plain, port)
	nonce, ct := sess.Encrypt(plain)

	buf := make([]byte, 0, 1+16+8+len(ct))
	buf = append(buf, framePortConfirm)
	buf = append(buf, sess.ID[:]...)
	nonceBuf := make([]byte, 8)
	binary.BigEndian.PutUint64(nonceBuf, nonce)
	buf = append(buf, nonceBuf...)
	buf = append(buf, ct...)

	m.conn.WriteToUDP(buf, addr)
}

func (m *Manager) handlePortConfirm(payload []byte, addr *net.UDPAddr) {
	if len(payload) < 16+8 {
		return
	}
	var sid [16]byte
	copy(sid[:], payload[:16])
	nonce := binary.BigEndian.Uint64(payload[16:24])
	ct := payload[24:]

	m.mu.Lock()
	var sess *Session
	for _, s := range m.sessions {
		if s.ID == sid {
			sess = s
			break
		}
	}
	m.mu.Unlock()
	if sess == nil {
		return
	}

	plain, err := sess.Decrypt(nonce, ct)
	if err != nil || len(plain) < 2 {
		return
	}
	port := binary.BigEndian.Uint16(plain)

	chunkAddr := &net.UDPAddr{IP: addr.IP, Port: int(port), Zone: addr.Zone}
	sess.SetChunkSocket(chunkAddr)

	if rec, ok := m.peers.Get(sess.PeerPublicKey); ok {
		snap := rec.Snapshot()
		rec.Touch(snap.SessionPort, port, snap.Contract, snap.Version, snap.CapabilityHash, snap.SocketAddr)
	}
}

func (m *Manager) send(addr *net.UDPAddr, frameType byte, payload []byte) {
	buf := make([]byte, 0, 1+len(payload))
	buf = append(buf, frameType)
	buf = append(buf, payload...)
	m.conn.WriteToUDP(buf, addr)
}

// PublishChunkPort records the node's current chunk-socket port for
// inclusion in the post-handshake confirmation frame.
func (m *Manager) PublishChunkPort(port uint16) {
	m.mu.Lock()
	m.localChunkPort = port
	m.mu.Unlock()
}

// Session returns the established session for a peer, if any.
func (m *Manager) Session(pub [32]byte) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[pub]
	return s, ok
}

// SessionByID returns the established session with the given session id, if
// any.
func (m *Manager) SessionByID(id [16]byte) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if s.ID == id {
			return s, true
		}
	}
	return nil, false
}

// SessionByChunkAddr finds the established session whose confirmed chunk
// socket matches addr, used by the receive loop to attribute an inbound
// chunk datagram to a session (§4.6).
func (m *Manager) SessionByChunkAddr(addr *net.UDPAddr) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.sessions {
		if chunkAddr := s.ChunkSocketAddr(); chunkAddr != nil && chunkAddr.IP.Equal(addr.IP) && chunkAddr.Port == addr.Port {
			return s, true
		}
	}
	return nil, false
}

// Sessions returns every established session.
func (m *Manager) Sessions() []*Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out
}

// Drop tears down the session for a peer, e.g. on AEAD failure threshold or
// peer expiry (§4.2, §4.3).
func (m *Manager) Drop(pub [32]byte) {
	m.mu.Lock()
	sess, ok := m.sessions[pub]
	if ok {
		delete(m.sessions, pub)
	}
	m.mu.Unlock()

	if !ok {
		return
	}
	sess.Close()
	if rec, ok := m.peers.Get(pub); ok {
		rec.SetSessionID(nil)
	}
	if m.onSession != nil {
		m.onSession(sess, false)
	}
}

// Close shuts down the session socket.
func (m *Manager) Close() error {
	if m.conn != nil {
		return m.conn.Close()
	}
	return nil
}
