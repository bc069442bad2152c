// Package discovery implements §4.2 (B): periodic capability announcements
// over link-local IPv6 multicast, and a receive loop that builds and
// refreshes the peer table from its companion package, internal/peer.
package discovery

import (
	"context"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/summit-p2p/summit/internal/chash"
	"github.com/summit-p2p/summit/internal/constants"
	"github.com/summit-p2p/summit/internal/logging"
	"github.com/summit-p2p/summit/internal/metrics"
	"github.com/summit-p2p/summit/internal/peer"
	"github.com/summit-p2p/summit/internal/wirefmt"
)

// CapabilityDescriptor identifies the protocol variant this build speaks;
// nodes with mismatched hashes ignore each other's announcements (GLOSSARY).
const CapabilityDescriptor = "summit/core/v1"

// PortSource supplies the current session and chunk listener ports at
// announce time — the chunk port is explicitly ephemeral per §4.2.
type PortSource interface {
	SessionPort() uint16
	ChunkPort() uint16
}

// Config configures a Discovery instance.
type Config struct {
	Identity  [32]byte
	Interface *net.Interface
	Contract  uint8
	Ports     PortSource
	Peers     *peer.Table
	Counters  *metrics.Counters
	// OnExpire, if set, is called for each peer public key pruned from the
	// table so the session manager can tear down any associated session.
	OnExpire func(pub [32]byte)
}

// Discovery owns the multicast broadcaster and listener for one node.
type Discovery struct {
	cfg       Config
	capHash   [32]byte
	groupAddr *net.UDPAddr
	log       *logrus.Entry

	mu         sync.Mutex
	listenConn *net.UDPConn
	sendConn   *net.UDPConn
}

// New constructs a Discovery instance bound to cfg.Interface. It does not
// start network I/O until Start is called.
func New(cfg Config) *Discovery {
	return &Discovery{
		cfg:     cfg,
		capHash: chash.CapabilityHash(CapabilityDescriptor),
		groupAddr: &net.UDPAddr{
			IP:   net.ParseIP(constants.MulticastGroup),
			Port: constants.DiscoveryPort,
		},
		log: logging.For("discovery"),
	}
}

// Start binds the multicast listener and send socket, then launches the
// announce loop, listen loop, and expiry loop as background goroutines. It
// returns once the sockets are bound; the loops run until ctx is canceled.
func (d *Discovery) Start(ctx context.Context, wg *sync.WaitGroup) error {
	listenConn, err := net.ListenMulticastUDP("udp6", d.cfg.Interface, d.groupAddr)
	if err != nil {
		d.log.WithError(err).Warn("failed to join multicast group, discovery disabled")
		return err
	}

	sendConn, err := net.ListenUDP("udp6", &net.UDPAddr{})
	if err != nil {
		listenConn.Close()
		d.log.WithError(err).Warn("failed to open discovery send socket")
		return err
	}

	d.mu.Lock()
	d.listenConn = listenConn
	d.sendConn = sendConn
	d.mu.Unlock()

	wg.Add(3)
	go d.announceLoop(ctx, wg)
	go d.listenLoop(ctx, wg)
	go d.expiryLoop(ctx, wg)

	return nil
}

// announceLoop transmits one capability announcement every AnnounceInterval
// (§4.2). A send failure backs off and retries rather than blocking other
// subsystems, per §4.2's failure semantics.
func (d *Discovery) announceLoop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(constants.AnnounceInterval)
	defer ticker.Stop()

	backoff := constants.AnnounceInterval
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := d.announceOnce(); err != nil {
				d.log.WithError(err).Debug("announce failed, backing off")
				backoff *= 2
				if backoff > 30*time.Second {
					backoff = 30 * time.Second
				}
				time.Sleep(backoff)
				continue
			}
			backoff = constants.AnnounceInterval
		}
	}
}

func (d *Discovery) announceOnce() error {
	ann := &wirefmt.Announcement{
		CapabilityHash: d.capHash,
		PublicKey:      d.cfg.Identity,
		SessionPort:    d.cfg.Ports.SessionPort(),
		ChunkPort:      d.cfg.Ports.ChunkPort(),
		Version:        constants.ProtocolVersion,
		Contract:       d.cfg.Contract,
	}

	d.mu.Lock()
	conn := d.sendConn
	d.mu.Unlock()
	if conn == nil {
		return nil
	}

	dst := &net.UDPAddr{IP: d.groupAddr.IP, Port: d.groupAddr.Port, Zone: d.cfg.Interface.Name}
	_, err := conn.WriteToUDP(ann.Marshal(), dst)
	return err
}

// listenLoop reads announcements off the multicast group and folds valid
// ones into the peer table (§4.2).
func (d *Discovery) listenLoop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	buf := make([]byte, 2048)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		d.mu.Lock()
		conn := d.listenConn
		d.mu.Unlock()
		if conn == nil {
			return
		}

		conn.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			continue // read timeout or transient error; keep listening
		}

		ann, err := wirefmt.ParseAnnouncement(buf[:n])
		if err != nil {
			if d.cfg.Counters != nil {
				d.cfg.Counters.MalformedWire.Add(1)
			}
			continue // dropped silently per §4.2
		}

		if ann.PublicKey == d.cfg.Identity {
			continue // self-discovery, dropped per §4.2
		}

		if ann.CapabilityHash != d.capHash {
			continue // mismatched protocol variant, GLOSSARY
		}

		d.cfg.Peers.Upsert(ann.PublicKey, ann.SessionPort, ann.ChunkPort, ann.Contract, ann.Version, ann.CapabilityHash, addr)
	}
}

// expiryLoop prunes peer records whose last_seen exceeds the TTL, every
// PeerExpiryInterval (§4.2). Each expired key is passed to cfg.OnExpire, if
// set, so the caller can tear down the associated session.
func (d *Discovery) expiryLoop(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	ticker := time.NewTicker(constants.PeerExpiryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired := d.cfg.Peers.ExpireStale()
			for _, pub := range expired {
				d.log.WithField("peer", pub).Debug("peer record expired")
				if d.cfg.OnExpire != nil {
					d.cfg.OnExpire(pub)
				}
			}
		}
	}
}

// Close releases the discovery sockets.
func (d *Discovery) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.listenConn != nil {
		d.listenConn.Close()
	}
	if d.sendConn != nil {
		d.sendConn.Close()
	}
	return nil
}
