// Package session implements the Noise_XX session manager from §4.3 (C):
// handshake state machine, per-session AEAD framing with explicit
// monotonic nonces and replay protection, and the ephemeral chunk-socket
// handoff.
package session

import "fmt"

// State is one row of the per-peer state machine table in §4.3.
type State uint8

const (
	Idle State = iota
	Initiating
	Responding
	Responding2
	WaitComplete
	Established
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case Initiating:
		return "Initiating"
	case Responding:
		return "Responding"
	case Responding2:
		return "Responding2"
	case WaitComplete:
		return "WaitComplete"
	case Established:
		return "Established"
	case Failed:
		return "Failed"
	default:
		return fmt.Sprintf("State(%d)", uint8(s))
	}
}
