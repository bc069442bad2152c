// Package qos implements the per-session token bucket from §4.5, grounded
// on the continuous-refill bucket-per-key shape used elsewhere in the pack
// for request rate limiting, generalized here to a per-session chunk-rate
// limiter keyed by contract.
package qos

import (
	"sync"
	"time"

	"github.com/summit-p2p/summit/internal/constants"
)

// TokenBucket rate-limits chunk sends for one session according to its
// contract. Realtime sessions are never limited (Allow always true).
type TokenBucket struct {
	mu sync.Mutex

	contract   uint8
	unlimited  bool
	capacity   float64
	refillRate float64 // tokens per second
	tokens     float64
	lastRefill time.Time
}

// NewTokenBucket builds a bucket parameterized by contract per the table in
// §4.5.
func NewTokenBucket(contract uint8) *TokenBucket {
	tb := &TokenBucket{contract: contract, lastRefill: time.Now()}

	switch contract {
	case constants.ContractRealtime:
		tb.unlimited = true
	case constants.ContractBulk:
		tb.capacity = constants.BulkBurst
		tb.refillRate = constants.BulkRefillPerSecond
		tb.tokens = tb.capacity
	case constants.ContractBackground:
		tb.capacity = constants.BackgroundBurst
		tb.refillRate = constants.BackgroundRefillPerSecond
		tb.tokens = tb.capacity
	default:
		// Unknown contracts are treated as Background, the most
		// conservative of the three named contracts.
		tb.capacity = constants.BackgroundBurst
		tb.refillRate = constants.BackgroundRefillPerSecond
		tb.tokens = tb.capacity
	}

	return tb
}

func (tb *TokenBucket) refillLocked(now time.Time) {
	if tb.unlimited {
		return
	}
	elapsed := now.Sub(tb.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	tb.tokens += elapsed * tb.refillRate
	if tb.tokens > tb.capacity {
		tb.tokens = tb.capacity
	}
	tb.lastRefill = now
}

// Allow attempts to consume one token, returning true if the send may
// proceed. A Bulk/Background send with no tokens available is dropped, not
// queued, per §4.5.
func (tb *TokenBucket) Allow() bool {
	if tb.unlimited {
		return true
	}

	tb.mu.Lock()
	defer tb.mu.Unlock()

	tb.refillLocked(time.Now())
	if tb.tokens < 1 {
		return false
	}
	tb.tokens--
	return true
}

// Contract reports the contract this bucket was built for.
func (tb *TokenBucket) Contract() uint8 { return tb.contract }
