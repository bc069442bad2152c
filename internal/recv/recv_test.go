package recv

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/summit-p2p/summit/internal/cache"
	"github.com/summit-p2p/summit/internal/chash"
	"github.com/summit-p2p/summit/internal/constants"
	"github.com/summit-p2p/summit/internal/dispatch"
	"github.com/summit-p2p/summit/internal/identity"
	"github.com/summit-p2p/summit/internal/metrics"
	"github.com/summit-p2p/summit/internal/peer"
	"github.com/summit-p2p/summit/internal/sched"
	"github.com/summit-p2p/summit/internal/schema"
	"github.com/summit-p2p/summit/internal/session"
	"github.com/summit-p2p/summit/internal/trust"
)

func alwaysValid(payload []byte) bool { return true }

// TestEndToEndChunkDeliveryToTrustedPeer wires the send scheduler and
// receive loop together over a real established session and confirms a
// chunk sent by A is admitted and dispatched at B (§8 scenario with a
// pre-trusted sender).
func TestEndToEndChunkDeliveryToTrustedPeer(t *testing.T) {
	idA, _ := identity.Generate()
	idB, _ := identity.Generate()
	if !identity.Less(idA.PublicKey, idB.PublicKey) {
		idA, idB = idB, idA
	}

	peersA := peer.NewTable(idA.PublicKey)
	peersB := peer.NewTable(idB.PublicKey)
	mgrA := session.NewManager(session.Config{Identity: idA, Peers: peersA, Contract: constants.ContractBulk, Counters: &metrics.Counters{}})
	mgrB := session.NewManager(session.Config{Identity: idB, Peers: peersB, Contract: constants.ContractBulk, Counters: &metrics.Counters{}})

	handshakePortA, _ := mgrA.Listen()
	handshakePortB, _ := mgrB.Listen()

	chunkConnA, _ := net.ListenUDP("udp6", &net.UDPAddr{})
	chunkConnB, _ := net.ListenUDP("udp6", &net.UDPAddr{})
	defer chunkConnA.Close()
	defer chunkConnB.Close()
	mgrA.PublishChunkPort(uint16(chunkConnA.LocalAddr().(*net.UDPAddr).Port))
	mgrB.PublishChunkPort(uint16(chunkConnB.LocalAddr().(*net.UDPAddr).Port))

	addrA := &net.UDPAddr{IP: net.ParseIP("::1"), Port: int(handshakePortA)}
	addrB := &net.UDPAddr{IP: net.ParseIP("::1"), Port: int(handshakePortB)}
	peersA.Upsert(idB.PublicKey, handshakePortB, 0, constants.ContractBulk, 1, [32]byte{}, addrB)
	peersB.Upsert(idA.PublicKey, handshakePortA, 0, constants.ContractBulk, 1, [32]byte{}, addrA)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	wg.Add(2)
	go mgrA.Serve(ctx, &wg)
	go mgrB.Serve(ctx, &wg)
	defer wg.Wait()

	mgrA.Initiate(idB.PublicKey, addrB, constants.ContractBulk)
	mgrB.Initiate(idA.PublicKey, addrA, constants.ContractBulk)

	deadline := time.Now().Add(2 * time.Second)
	var sessA *session.Session
	for time.Now().Before(deadline) {
		sessA, _ = mgrA.Session(idB.PublicKey)
		sb, _ := mgrB.Session(idA.PublicKey)
		if sessA != nil && sb != nil && sessA.ChunkSocketAddr() != nil && sb.ChunkSocketAddr() != nil {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if sessA == nil || sessA.ChunkSocketAddr() == nil {
		t.Fatal("session never established with a confirmed chunk socket")
	}

	storeA, _ := cache.New(t.TempDir())
	storeB, _ := cache.New(t.TempDir())

	schemas := schema.NewRegistry(alwaysValid, alwaysValid, alwaysValid)
	var pingSchemaID [32]byte
	for _, s := range schemas.All() {
		if s.Name == "test.ping" {
			pingSchemaID = s.ID
		}
	}

	msgStore := dispatch.NewMessageStore()
	table := dispatch.NewTable()
	table.Register(schema.TypeTagMessage, msgStore)

	gateB := &trust.Gate{
		Trust:    trust.NewRegistry(),
		Schemas:  schemas,
		Peers:    peersB,
		Counters: &metrics.Counters{},
		Sink:     table,
	}
	gateB.Trust.Add(idA.PublicKey) // pre-trust the sender for this scenario

	recvLoop := New(chunkConnB, mgrB, gateB, storeB, &metrics.Counters{})
	wg.Add(1)
	go recvLoop.Serve(ctx, &wg)

	scheduler := sched.New(mgrA, storeA, chunkConnA, &metrics.Counters{})
	payload := []byte("hello")
	hash := chash.Sum256(payload)
	outcomes := scheduler.Send(sched.Target{Kind: sched.TargetPeer, PeerPub: idB.PublicKey}, hash, pingSchemaID, schema.TypeTagMessage, payload)
	if len(outcomes) != 1 || !outcomes[0].Sent {
		t.Fatalf("expected the chunk to send over the one established session, got %+v", outcomes)
	}

	deadline = time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if len(msgStore.All()) == 1 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	delivered := msgStore.All()
	if len(delivered) != 1 {
		t.Fatalf("expected exactly one delivered message, got %d", len(delivered))
	}
	if string(delivered[0].Body) != "hello" {
		t.Fatalf("delivered payload = %q, want %q", delivered[0].Body, "hello")
	}
	if !storeB.Has(hash) {
		t.Fatal("receiver cache should hold the admitted chunk by content hash")
	}
}
