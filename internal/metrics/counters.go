// Package metrics holds the atomic counters surfaced by the control API's
// status() call, grounded on the counter-heavy ContentStats shape used by
// the teacher's content package.
package metrics

import "sync/atomic"

// Counters aggregates the drop/error counters named throughout §7 and §8.
type Counters struct {
	MalformedWire     atomic.Uint64
	IntegrityFailures atomic.Uint64
	AEADFailures      atomic.Uint64
	UnknownSchema     atomic.Uint64
	ValidatorRejects  atomic.Uint64
	TrustBlocked      atomic.Uint64
	QuotaExhausted    atomic.Uint64
	ChannelFull       atomic.Uint64
	HandshakeTimeouts atomic.Uint64
}

// Snapshot is a point-in-time, JSON-friendly copy of Counters.
type Snapshot struct {
	MalformedWire     uint64 `json:"malformed_wire"`
	IntegrityFailures uint64 `json:"integrity_failures"`
	AEADFailures      uint64 `json:"aead_failures"`
	UnknownSchema     uint64 `json:"unknown_schema"`
	ValidatorRejects  uint64 `json:"validator_rejects"`
	TrustBlocked      uint64 `json:"trust_blocked"`
	QuotaExhausted    uint64 `json:"quota_exhausted"`
	ChannelFull       uint64 `json:"channel_full"`
	HandshakeTimeouts uint64 `json:"handshake_timeouts"`
}

func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		MalformedWire:     c.MalformedWire.Load(),
		IntegrityFailures: c.IntegrityFailures.Load(),
		AEADFailures:      c.AEADFailures.Load(),
		UnknownSchema:     c.UnknownSchema.Load(),
		ValidatorRejects:  c.ValidatorRejects.Load(),
		TrustBlocked:      c.TrustBlocked.Load(),
		QuotaExhausted:    c.QuotaExhausted.Load(),
		ChannelFull:       c.ChannelFull.Load(),
		HandshakeTimeouts: c.HandshakeTimeouts.Load(),
	}
}
