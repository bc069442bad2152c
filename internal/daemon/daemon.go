// Package daemon wires every core component together per §2's dependency
// order (cache, discovery, session manager, trust/schema, receive/send
// loops, dispatch) and owns the cooperative shutdown sequence from §4.7.
package daemon

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/summit-p2p/summit/internal/cache"
	"github.com/summit-p2p/summit/internal/compute"
	"github.com/summit-p2p/summit/internal/constants"
	"github.com/summit-p2p/summit/internal/discovery"
	"github.com/summit-p2p/summit/internal/dispatch"
	"github.com/summit-p2p/summit/internal/filemeta"
	"github.com/summit-p2p/summit/internal/identity"
	"github.com/summit-p2p/summit/internal/logging"
	"github.com/summit-p2p/summit/internal/metrics"
	"github.com/summit-p2p/summit/internal/peer"
	"github.com/summit-p2p/summit/internal/recv"
	"github.com/summit-p2p/summit/internal/sched"
	"github.com/summit-p2p/summit/internal/schema"
	"github.com/summit-p2p/summit/internal/session"
	"github.com/summit-p2p/summit/internal/trust"
)

// Config configures a Daemon at startup.
type Config struct {
	InterfaceName string
	Contract      uint8
	CacheRoot     string // defaults to os.TempDir()/summit/<run-id> when empty
	OutputDir     string // where reassembled files are materialized
	ControlSocket string // defaults to <cache-root>/control.sock when empty
}

// Daemon is the top-level orchestrator: every long-running subsystem plus
// the registries they share (§9: "an explicit state bundle passed to each
// subsystem, not singletons").
type Daemon struct {
	runID uuid.UUID
	id    *identity.Identity
	cfg   Config
	iface *net.Interface
	log   *logrus.Entry

	counters *metrics.Counters
	cache    *cache.Cache
	peers    *peer.Table
	trustReg *trust.Registry
	schemas  *schema.Registry
	gate     *trust.Gate

	dispatchTable *dispatch.Table
	messages      *dispatch.MessageStore
	files         *dispatch.FileReassembler
	computeExec   *dispatch.ComputeExecutor
	computeSub    *dispatch.ComputeSubmitter

	sessions  *session.Manager
	discovery *discovery.Discovery
	recvLoop  *recv.Loop
	scheduler *sched.Scheduler

	chunkConn       *net.UDPConn
	controlListener net.Listener

	startedAt time.Time
	wg        sync.WaitGroup
}

// New builds the subsystems that don't require a bound socket. Bind finishes
// construction (discovery needs its announced ports) and Serve starts
// everything.
func New(cfg Config) (*Daemon, error) {
	id, err := identity.Generate()
	if err != nil {
		return nil, fmt.Errorf("daemon: generate identity: %w", err)
	}

	iface, err := net.InterfaceByName(cfg.InterfaceName)
	if err != nil {
		return nil, fmt.Errorf("daemon: interface %q: %w", cfg.InterfaceName, err)
	}

	runID := uuid.New()
	if cfg.CacheRoot == "" {
		cfg.CacheRoot = filepath.Join(os.TempDir(), constants.CacheDirName, runID.String())
	}
	if cfg.OutputDir == "" {
		cfg.OutputDir = filepath.Join(cfg.CacheRoot, "files")
	}
	if cfg.ControlSocket == "" {
		cfg.ControlSocket = filepath.Join(cfg.CacheRoot, "control.sock")
	}

	store, err := cache.New(filepath.Join(cfg.CacheRoot, "cache"))
	if err != nil {
		return nil, fmt.Errorf("daemon: init cache: %w", err)
	}

	peers := peer.NewTable(id.PublicKey)
	trustReg := trust.NewRegistry()

	messages := dispatch.NewMessageStore()
	files := dispatch.NewFileReassembler(cfg.OutputDir)
	computeExec := dispatch.NewComputeExecutor()
	computeSub := dispatch.NewComputeSubmitter()

	dispatchTable := dispatch.NewTable()
	dispatchTable.Register(schema.TypeTagMessage, messages)
	dispatchTable.Register(schema.TypeTagFileData, files)
	dispatchTable.Register(schema.TypeTagFileMetadata, files)
	dispatchTable.Register(schema.TypeTagComputeRequest, computeExec)
	dispatchTable.Register(schema.TypeTagComputeResult, computeSub)

	schemas := schema.NewRegistry(filemeta.Validate, compute.ValidateTaskRecord, compute.ValidateTaskResult)

	counters := &metrics.Counters{}

	gate := &trust.Gate{
		Trust:    trustReg,
		Schemas:  schemas,
		Peers:    peers,
		Counters: counters,
		Sink:     dispatchTable,
	}

	sessions := session.NewManager(session.Config{
		Identity: id,
		Peers:    peers,
		Contract: cfg.Contract,
		Counters: counters,
	})

	d := &Daemon{
		runID:         runID,
		id:            id,
		cfg:           cfg,
		iface:         iface,
		log:           logging.For("daemon"),
		counters:      counters,
		cache:         store,
		peers:         peers,
		trustReg:      trustReg,
		schemas:       schemas,
		gate:          gate,
		dispatchTable: dispatchTable,
		messages:      messages,
		files:         files,
		computeExec:   computeExec,
		computeSub:    computeSub,
		sessions:      sessions,
	}
	return d, nil
}

// announcedPorts adapts the daemon's bound sockets to discovery.PortSource.
type announcedPorts struct {
	sessionPort, chunkPort uint16
}

func (p announcedPorts) SessionPort() uint16 { return p.sessionPort }
func (p announcedPorts) ChunkPort() uint16   { return p.chunkPort }

// Bind allocates every socket the daemon needs without starting any of the
// long-running loops. Callers that need the control listener before the
// daemon starts serving (e.g. to attach a control.Server) call Bind, then
// Serve.
func (d *Daemon) Bind() error {
	sessionPort, err := d.sessions.Listen()
	if err != nil {
		return fmt.Errorf("daemon: bind session socket: %w", err)
	}

	d.chunkConn, err = net.ListenUDP("udp6", &net.UDPAddr{})
	if err != nil {
		return fmt.Errorf("daemon: bind chunk socket: %w", err)
	}
	chunkPort := uint16(d.chunkConn.LocalAddr().(*net.UDPAddr).Port)
	d.sessions.PublishChunkPort(chunkPort)

	d.discovery = discovery.New(discovery.Config{
		Identity:  d.id.PublicKey,
		Interface: d.iface,
		Contract:  d.cfg.Contract,
		Ports:     announcedPorts{sessionPort: sessionPort, chunkPort: chunkPort},
		Peers:     d.peers,
		Counters:  d.counters,
		OnExpire:  d.sessions.Drop,
	})

	d.recvLoop = recv.New(d.chunkConn, d.sessions, d.gate, d.cache, d.counters)
	d.scheduler = sched.New(d.sessions, d.cache, d.chunkConn, d.counters)

	if err := os.MkdirAll(filepath.Dir(d.cfg.ControlSocket), 0o755); err != nil {
		return fmt.Errorf("daemon: create control socket directory: %w", err)
	}
	os.Remove(d.cfg.ControlSocket)
	d.controlListener, err = net.Listen("unix", d.cfg.ControlSocket)
	if err != nil {
		return fmt.Errorf("daemon: bind control socket: %w", err)
	}

	return nil
}

// Serve starts every long-running task, blocking until ctx is canceled,
// then draining per the shutdown sequence in §4.7. Bind must have already
// succeeded.
func (d *Daemon) Serve(ctx context.Context) error {
	d.startedAt = time.Now()

	if err := d.discovery.Start(ctx, &d.wg); err != nil {
		return fmt.Errorf("daemon: start discovery: %w", err)
	}
	d.wg.Add(2)
	go d.sessions.Serve(ctx, &d.wg)
	go d.recvLoop.Serve(ctx, &d.wg)

	d.wg.Add(1)
	go d.reconcileSessions(ctx)

	d.log.WithFields(logrus.Fields{
		"pubkey":     d.id.String(),
		"interface":  d.iface.Name,
		"run_id":     d.runID.String(),
		"cache_root": d.cfg.CacheRoot,
	}).Info("summit daemon started")

	<-ctx.Done()
	return d.shutdown()
}

// Run binds then serves; a convenience for callers that don't need the
// control listener before the daemon starts (e.g. tests).
func (d *Daemon) Run(ctx context.Context) error {
	if err := d.Bind(); err != nil {
		return err
	}
	return d.Serve(ctx)
}

// reconcileSessions periodically initiates toward any discovered peer that
// lacks an established session. Both sides call Initiate; the tie-break in
// §4.3 ensures only one handshake actually proceeds.
func (d *Daemon) reconcileSessions(ctx context.Context) {
	defer d.wg.Done()

	ticker := time.NewTicker(constants.AnnounceInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, rec := range d.peers.All() {
				snap := rec.Snapshot()
				if snap.SessionID != nil {
					continue
				}
				if snap.SocketAddr == nil {
					continue
				}
				handshakeAddr := &net.UDPAddr{IP: snap.SocketAddr.IP, Port: int(snap.SessionPort), Zone: snap.SocketAddr.Zone}
				d.sessions.Initiate(snap.PublicKey, handshakeAddr, d.cfg.Contract)
			}
		}
	}
}

// shutdown implements §4.7: stop accepting new control connections, wait for
// the running tasks to exit (at most the drain deadline), and close every
// socket.
func (d *Daemon) shutdown() error {
	d.log.Info("shutting down")

	if d.controlListener != nil {
		d.controlListener.Close()
	}

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(constants.ShutdownDrainDeadline):
		d.log.Warn("shutdown drain deadline elapsed before all tasks exited")
	}

	d.sessions.Close()
	if d.chunkConn != nil {
		d.chunkConn.Close()
	}
	d.discovery.Close()

	return nil
}

// ControlListener exposes the bound control socket listener so main can
// hand it to a control.Server.
func (d *Daemon) ControlListener() net.Listener { return d.controlListener }

// Identity returns the daemon's local identity.
func (d *Daemon) Identity() *identity.Identity { return d.id }
