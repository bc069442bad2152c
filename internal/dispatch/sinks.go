package dispatch

import (
	"sync"

	"github.com/summit-p2p/summit/internal/trust"
)

// MessageStore is the text.message consumer (type_tag 1): an in-memory
// ordered log, since message persistence is an external collaborator's
// concern per §1.
type MessageStore struct {
	mu       sync.Mutex
	messages []StoredMessage
}

// StoredMessage is one delivered text.message.
type StoredMessage struct {
	PeerPub [32]byte
	Body    []byte
}

func NewMessageStore() *MessageStore { return &MessageStore{} }

func (s *MessageStore) Submit(peerPub [32]byte, meta trust.ChunkMeta, payload []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, StoredMessage{PeerPub: peerPub, Body: append([]byte(nil), payload...)})
}

// All returns every delivered message, newest last.
func (s *MessageStore) All() []StoredMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]StoredMessage, len(s.messages))
	copy(out, s.messages)
	return out
}

// ComputeExecutor is the compute.request consumer (type_tag 4). Running the
// task itself is an external collaborator's concern; this sink only queues
// accepted requests for it to drain.
type ComputeExecutor struct {
	mu       sync.Mutex
	requests []ComputeRequest
}

// ComputeRequest is one admitted compute.request, handed to the external
// executor.
type ComputeRequest struct {
	PeerPub [32]byte
	Payload []byte
}

func NewComputeExecutor() *ComputeExecutor { return &ComputeExecutor{} }

func (c *ComputeExecutor) Submit(peerPub [32]byte, meta trust.ChunkMeta, payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, ComputeRequest{PeerPub: peerPub, Payload: append([]byte(nil), payload...)})
}

// Drain removes and returns every queued request.
func (c *ComputeExecutor) Drain() []ComputeRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.requests
	c.requests = nil
	return out
}

// ComputeSubmitter is the compute.result consumer (type_tag 5), handing
// completed results back to whatever originated the task.
type ComputeSubmitter struct {
	mu      sync.Mutex
	results []ComputeResult
}

// ComputeResult is one admitted compute.result.
type ComputeResult struct {
	PeerPub [32]byte
	Payload []byte
}

func NewComputeSubmitter() *ComputeSubmitter { return &ComputeSubmitter{} }

func (c *ComputeSubmitter) Submit(peerPub [32]byte, meta trust.ChunkMeta, payload []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.results = append(c.results, ComputeResult{PeerPub: peerPub, Payload: append([]byte(nil), payload...)})
}

func (c *ComputeSubmitter) Drain() []ComputeResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.results
	c.results = nil
	return out
}
