package sched

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/summit-p2p/summit/internal/cache"
	"github.com/summit-p2p/summit/internal/constants"
	"github.com/summit-p2p/summit/internal/identity"
	"github.com/summit-p2p/summit/internal/metrics"
	"github.com/summit-p2p/summit/internal/peer"
	"github.com/summit-p2p/summit/internal/session"
)

func TestBroadcastWithNoSessionsIsNoop(t *testing.T) {
	id, _ := identity.Generate()
	mgr := session.NewManager(session.Config{Identity: id, Peers: peer.NewTable(id.PublicKey), Contract: constants.ContractBulk, Counters: &metrics.Counters{}})
	store, _ := cache.New(t.TempDir())
	conn, _ := net.ListenUDP("udp6", &net.UDPAddr{})
	defer conn.Close()

	s := New(mgr, store, conn, &metrics.Counters{})
	outcomes := s.Send(Target{Kind: TargetBroadcast}, [32]byte{1}, [32]byte{2}, 0, []byte("x"))
	if len(outcomes) != 0 {
		t.Fatalf("broadcast with zero sessions should transmit nothing, got %d outcomes", len(outcomes))
	}
}

// establishPair runs a real handshake between two managers over loopback and
// returns each side's manager/session plus a cancel func to stop serving.
func establishPair(t *testing.T, contract uint8) (mgrA, mgrB *session.Manager, sessA, sessB *session.Session, stop func()) {
	t.Helper()

	idA, _ := identity.Generate()
	idB, _ := identity.Generate()
	if !identity.Less(idA.PublicKey, idB.PublicKey) {
		idA, idB = idB, idA
	}

	peersA := peer.NewTable(idA.PublicKey)
	peersB := peer.NewTable(idB.PublicKey)
	mgrA = session.NewManager(session.Config{Identity: idA, Peers: peersA, Contract: contract, Counters: &metrics.Counters{}})
	mgrB = session.NewManager(session.Config{Identity: idB, Peers: peersB, Contract: contract, Counters: &metrics.Counters{}})

	portA, err := mgrA.Listen()
	if err != nil {
		t.Fatalf("Listen A: %v", err)
	}
	portB, err := mgrB.Listen()
	if err != nil {
		t.Fatalf("Listen B: %v", err)
	}

	chunkConnA, _ := net.ListenUDP("udp6", &net.UDPAddr{})
	chunkConnB, _ := net.ListenUDP("udp6", &net.UDPAddr{})
	mgrA.PublishChunkPort(uint16(chunkConnA.LocalAddr().(*net.UDPAddr).Port))
	mgrB.PublishChunkPort(uint16(chunkConnB.LocalAddr().(*net.UDPAddr).Port))

	addrA := &net.UDPAddr{IP: net.ParseIP("::1"), Port: int(portA)}
	addrB := &net.UDPAddr{IP: net.ParseIP("::1"), Port: int(portB)}
	peersA.Upsert(idB.PublicKey, portB, 0, contract, 1, [32]byte{}, addrB)
	peersB.Upsert(idA.PublicKey, portA, 0, contract, 1, [32]byte{}, addrA)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(2)
	go mgrA.Serve(ctx, &wg)
	go mgrB.Serve(ctx, &wg)

	mgrA.Initiate(idB.PublicKey, addrB, contract)
	mgrB.Initiate(idA.PublicKey, addrA, contract)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		sessA, _ = mgrA.Session(idB.PublicKey)
		sessB, _ = mgrB.Session(idA.PublicKey)
		if sessA != nil && sessB != nil && sessA.ChunkSocketAddr() != nil && sessB.ChunkSocketAddr() != nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	stop = func() {
		cancel()
		wg.Wait()
		mgrA.Close()
		mgrB.Close()
		chunkConnA.Close()
		chunkConnB.Close()
	}
	return
}

func TestBulkSessionRespectsQoSBurst(t *testing.T) {
	mgrA, _, sessA, _, stop := establishPair(t, constants.ContractBulk)
	defer stop()
	if sessA == nil {
		t.Fatal("session never established with a confirmed chunk socket")
	}

	store, _ := cache.New(t.TempDir())
	chunkConn, _ := net.ListenUDP("udp6", &net.UDPAddr{})
	defer chunkConn.Close()

	s := New(mgrA, store, chunkConn, &metrics.Counters{})

	sent := 0
	for i := 0; i < constants.BulkBurst+5; i++ {
		outcomes := s.Send(Target{Kind: TargetBroadcast}, [32]byte{byte(i)}, [32]byte{9}, 0, []byte("payload"))
		if len(outcomes) == 1 && outcomes[0].Sent {
			sent++
		}
	}
	if sent != constants.BulkBurst {
		t.Fatalf("sent %d chunks, want exactly the bulk burst size %d", sent, constants.BulkBurst)
	}
}
