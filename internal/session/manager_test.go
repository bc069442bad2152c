package session

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/summit-p2p/summit/internal/constants"
	"github.com/summit-p2p/summit/internal/identity"
	"github.com/summit-p2p/summit/internal/metrics"
	"github.com/summit-p2p/summit/internal/peer"
)

func newTestManager(t *testing.T, id *identity.Identity) (*Manager, *peer.Table, uint16) {
	t.Helper()
	table := peer.NewTable(id.PublicKey)
	m := NewManager(Config{
		Identity: id,
		Peers:    table,
		Contract: constants.ContractBulk,
		Counters: &metrics.Counters{},
	})
	port, err := m.Listen()
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	return m, table, port
}

// TestHandshakeEstablishesMatchingSessionID exercises §8 scenario 1: two
// nodes that know about each other converge on a single Established session
// with an identical session_id on both sides.
func TestHandshakeEstablishesMatchingSessionID(t *testing.T) {
	idA, err := identity.Generate()
	if err != nil {
		t.Fatalf("identity.Generate: %v", err)
	}
	idB, err := identity.Generate()
	if err != nil {
		t.Fatalf("identity.Generate: %v", err)
	}

	mgrA, peersA, portA := newTestManager(t, idA)
	defer mgrA.Close()
	mgrB, peersB, portB := newTestManager(t, idB)
	defer mgrB.Close()

	addrA := &net.UDPAddr{IP: net.ParseIP("::1"), Port: int(portA)}
	addrB := &net.UDPAddr{IP: net.ParseIP("::1"), Port: int(portB)}

	peersA.Upsert(idB.PublicKey, portB, 0, constants.ContractBulk, 1, [32]byte{}, addrB)
	peersB.Upsert(idA.PublicKey, portA, 0, constants.ContractBulk, 1, [32]byte{}, addrA)

	var wg sync.WaitGroup
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	wg.Add(2)
	go mgrA.Serve(ctx, &wg)
	go mgrB.Serve(ctx, &wg)

	// Both sides attempt to initiate; the tie-break in §4.3 resolves to one.
	var initiatorID, responderID *identity.Identity
	if identity.Less(idA.PublicKey, idB.PublicKey) {
		initiatorID, responderID = idA, idB
	} else {
		initiatorID, responderID = idB, idA
	}
	_ = initiatorID
	_ = responderID

	mgrA.Initiate(idB.PublicKey, addrB, constants.ContractBulk)
	mgrB.Initiate(idA.PublicKey, addrA, constants.ContractBulk)

	deadline := time.Now().Add(1500 * time.Millisecond)
	var sa, sb *Session
	var ok bool
	for time.Now().Before(deadline) {
		sa, ok = mgrA.Session(idB.PublicKey)
		if ok {
			sb, ok = mgrB.Session(idA.PublicKey)
			if ok {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
	}

	cancel()
	wg.Wait()

	if sa == nil || sb == nil {
		t.Fatal("handshake did not establish a session on both sides in time")
	}
	if sa.ID != sb.ID {
		t.Fatalf("session IDs differ: a=%x b=%x", sa.ID, sb.ID)
	}
}

// TestFailedHandshakeEntersCooldownThenEligible covers the Failed -> Idle
// cooldown transition: initiating toward an address with nobody listening
// should time out into Failed, hold the attempt through the cooldown, and
// then leave the attempt table clear for retry.
func TestFailedHandshakeEntersCooldownThenEligible(t *testing.T) {
	idA, _ := identity.Generate()
	idB, _ := identity.Generate()
	if !identity.Less(idA.PublicKey, idB.PublicKey) {
		idA, idB = idB, idA
	}

	mgrA, _, _ := newTestManager(t, idA)
	defer mgrA.Close()

	unreachable := &net.UDPAddr{IP: net.ParseIP("::1"), Port: 1} // nobody listening

	mgrA.Initiate(idB.PublicKey, unreachable, constants.ContractBulk)

	mgrA.mu.Lock()
	_, exists := mgrA.attempts[idB.PublicKey]
	mgrA.mu.Unlock()
	if !exists {
		t.Fatal("expected a pending attempt immediately after Initiate")
	}

	time.Sleep(constants.HandshakeLegTimeout + 200*time.Millisecond)

	mgrA.mu.Lock()
	failed, inCooldown := mgrA.attempts[idB.PublicKey]
	mgrA.mu.Unlock()
	if !inCooldown {
		t.Fatal("attempt should stay in the table during the cooldown after the per-leg timeout fires")
	}
	failed.mu.Lock()
	state := failed.state
	failed.mu.Unlock()
	if state != Failed {
		t.Fatalf("attempt state after the per-leg timeout = %v, want Failed", state)
	}

	time.Sleep(constants.FailedCooldown)

	mgrA.mu.Lock()
	_, stillExists := mgrA.attempts[idB.PublicKey]
	mgrA.mu.Unlock()
	if stillExists {
		t.Fatal("attempt should be cleared from the table once the cooldown elapses")
	}
}
