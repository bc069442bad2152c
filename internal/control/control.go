// Package control implements the local control surface from §6: a
// line-delimited JSON request/response protocol over a Unix domain socket,
// consumed by the HTTP API and CLI client (both external collaborators per
// §1). The wire shape is grounded on the teacher's control API, adapted
// from a TCP listener to a per-run Unix socket.
package control

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"

	"github.com/summit-p2p/summit/internal/logging"
)

// Request is one control-surface call.
type Request struct {
	Method string                 `json:"method"`
	ID     string                 `json:"id"`
	Params map[string]interface{} `json:"params,omitempty"`
}

// Response answers one Request.
type Response struct {
	ID     string      `json:"id"`
	Result interface{} `json:"result,omitempty"`
	Error  string      `json:"error,omitempty"`
}

// Backend is everything the control server needs from the daemon, kept
// narrow so this package doesn't import the orchestrator (§9).
type Backend interface {
	Status() map[string]interface{}
	Peers() []map[string]interface{}
	TrustList() []map[string]interface{}
	TrustAdd(pubkeyHex string) error
	TrustBlock(pubkeyHex string) error
	TrustPending() []map[string]interface{}
	SessionsInspect(sessionIDHex string) (map[string]interface{}, error)
	SessionsDrop(sessionIDHex string) error
	CacheStats() map[string]interface{}
	CacheClear() (int, error)
	Schemas() []map[string]interface{}
	Send(payloadB64 string, schemaName string, typeTag uint8, target string, targetKey string) error
	FilesStatus() []map[string]interface{}
}

// Server is the control API server, one instance per daemon.
type Server struct {
	backend Backend
}

func NewServer(backend Backend) *Server {
	return &Server{backend: backend}
}

var serverLog = logging.For("control")

// Serve accepts connections on listener until ctx is canceled.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	var wg sync.WaitGroup
	go func() {
		<-ctx.Done()
		listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				wg.Wait()
				return ctx.Err()
			}
			serverLog.WithError(err).Warn("control socket accept failed")
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.handleConnection(ctx, conn)
		}()
	}
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	decoder := json.NewDecoder(conn)
	encoder := json.NewEncoder(conn)

	for {
		var req Request
		if err := decoder.Decode(&req); err != nil {
			return
		}
		resp := s.dispatch(req)
		if err := encoder.Encode(resp); err != nil {
			return
		}
		if ctx.Err() != nil {
			return
		}
	}
}

func (s *Server) dispatch(req Request) Response {
	switch req.Method {
	case "status":
		return Response{ID: req.ID, Result: s.backend.Status()}
	case "peers":
		return Response{ID: req.ID, Result: s.backend.Peers()}
	case "trust_list":
		return Response{ID: req.ID, Result: s.backend.TrustList()}
	case "trust_add":
		pub, ok := req.Params["pubkey"].(string)
		if !ok {
			return errResp(req.ID, "pubkey parameter is required")
		}
		if err := s.backend.TrustAdd(pub); err != nil {
			return errResp(req.ID, err.Error())
		}
		return Response{ID: req.ID, Result: "ok"}
	case "trust_block":
		pub, ok := req.Params["pubkey"].(string)
		if !ok {
			return errResp(req.ID, "pubkey parameter is required")
		}
		if err := s.backend.TrustBlock(pub); err != nil {
			return errResp(req.ID, err.Error())
		}
		return Response{ID: req.ID, Result: "ok"}
	case "trust_pending":
		return Response{ID: req.ID, Result: s.backend.TrustPending()}
	case "sessions_inspect":
		id, _ := req.Params["session_id"].(string)
		result, err := s.backend.SessionsInspect(id)
		if err != nil {
			return errResp(req.ID, err.Error())
		}
		return Response{ID: req.ID, Result: result}
	case "sessions_drop":
		id, _ := req.Params["session_id"].(string)
		if err := s.backend.SessionsDrop(id); err != nil {
			return errResp(req.ID, err.Error())
		}
		return Response{ID: req.ID, Result: "ok"}
	case "cache_stats":
		return Response{ID: req.ID, Result: s.backend.CacheStats()}
	case "cache_clear":
		n, err := s.backend.CacheClear()
		if err != nil {
			return errResp(req.ID, err.Error())
		}
		return Response{ID: req.ID, Result: n}
	case "schemas":
		return Response{ID: req.ID, Result: s.backend.Schemas()}
	case "send":
		payload, _ := req.Params["payload_base64"].(string)
		schemaName, _ := req.Params["schema"].(string)
		typeTagF, _ := req.Params["type_tag"].(float64)
		target, _ := req.Params["target"].(string)
		targetKey, _ := req.Params["target_key"].(string)
		if err := s.backend.Send(payload, schemaName, uint8(typeTagF), target, targetKey); err != nil {
			return errResp(req.ID, err.Error())
		}
		return Response{ID: req.ID, Result: "accepted"}
	case "files_status":
		return Response{ID: req.ID, Result: s.backend.FilesStatus()}
	default:
		return errResp(req.ID, fmt.Sprintf("unknown method: %s", req.Method))
	}
}

func errResp(id, msg string) Response {
	return Response{ID: id, Error: msg}
}
