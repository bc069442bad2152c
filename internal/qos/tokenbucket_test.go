package qos

import (
	"testing"
	"time"

	"github.com/summit-p2p/summit/internal/constants"
)

func TestRealtimeIsNeverLimited(t *testing.T) {
	tb := NewTokenBucket(constants.ContractRealtime)
	for i := 0; i < 1000; i++ {
		if !tb.Allow() {
			t.Fatal("realtime bucket refused a send")
		}
	}
}

func TestBulkBurstThenDrop(t *testing.T) {
	tb := NewTokenBucket(constants.ContractBulk)

	allowed := 0
	for i := 0; i < constants.BulkBurst+5; i++ {
		if tb.Allow() {
			allowed++
		}
	}
	if allowed != constants.BulkBurst {
		t.Fatalf("allowed %d sends, want exactly the burst size %d", allowed, constants.BulkBurst)
	}
}

func TestBucketRefillsOverTime(t *testing.T) {
	tb := NewTokenBucket(constants.ContractBackground)
	for tb.Allow() {
		// drain the burst
	}
	if tb.Allow() {
		t.Fatal("bucket should be empty immediately after draining the burst")
	}

	tb.mu.Lock()
	tb.lastRefill = time.Now().Add(-1 * time.Second)
	tb.mu.Unlock()

	if !tb.Allow() {
		t.Fatal("bucket should have refilled after one second at the background rate")
	}
}
