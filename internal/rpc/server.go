package rpc

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/sharetube/roomcluster/internal/raft"
	"github.com/sharetube/roomcluster/internal/roomstate"
	"github.com/sharetube/roomcluster/internal/wire"
	"github.com/sharetube/roomcluster/pkg/ctxlogger"
	"github.com/sharetube/roomcluster/pkg/rest"
)

// Server exposes /rpc and /health on the node's RPC port (§4.4/§6).
type Server struct {
	nodeID string
	rooms  RoomLookup
	logger *slog.Logger
}

func NewServer(nodeID string, rooms RoomLookup, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{nodeID: nodeID, rooms: rooms, logger: logger}
}

func (s *Server) Mux() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(s.requestIDMw)
	r.Use(s.requestLoggingMw)

	r.Get("/health", s.handleHealth)
	r.Post("/rpc", s.handleRPC)

	return r
}

func (s *Server) requestIDMw(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := ctxlogger.AppendCtx(r.Context(), slog.String("request_id", uuid.NewString()))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Server) requestLoggingMw(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.logger.DebugContext(r.Context(), "rpc request", "method", r.Method, "path", r.URL.Path, "remote_addr", r.RemoteAddr)
		next.ServeHTTP(w, r)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	_ = rest.WriteJSON(w, http.StatusOK, rest.Envelope{"status": "ok", "nodeId": s.nodeID})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) handleRPC(w http.ResponseWriter, r *http.Request) {
	var env wire.Envelope
	if err := rest.ReadJSON(r, &env); err != nil {
		s.logger.DebugContext(r.Context(), "rpc: malformed envelope", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	switch env.Type {
	case wire.RPCTypeRequestVote:
		s.handleRequestVote(w, r, env)
	case wire.RPCTypeAppendEntries:
		s.handleAppendEntries(w, r, env)
	case wire.RPCTypeCreateRoom:
		s.handleCreateRoom(w, r, env)
	default:
		s.handleForwardedClientOp(w, r, env)
	}
}

func (s *Server) handleRequestVote(w http.ResponseWriter, r *http.Request, env wire.Envelope) {
	var args raft.RequestVoteArgs
	if err := decodeInto(env.Payload, &args); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	node, ok := s.rooms.RaftNode(env.RoomCode)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	reply, err := node.HandleRequestVote(r.Context(), args)
	if err != nil {
		s.logger.WarnContext(r.Context(), "rpc: request vote failed", "error", err)
		w.WriteHeader(http.StatusGatewayTimeout)
		return
	}

	writeJSON(w, http.StatusOK, reply)
}

func (s *Server) handleAppendEntries(w http.ResponseWriter, r *http.Request, env wire.Envelope) {
	var args raft.AppendEntriesArgs
	if err := decodeInto(env.Payload, &args); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	node, ok := s.rooms.RaftNode(env.RoomCode)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	reply, err := node.HandleAppendEntries(r.Context(), args)
	if err != nil {
		s.logger.WarnContext(r.Context(), "rpc: append entries failed", "error", err)
		w.WriteHeader(http.StatusGatewayTimeout)
		return
	}

	writeJSON(w, http.StatusOK, reply)
}

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request, env wire.Envelope) {
	var args wire.CreateRoomArgs
	if err := decodeInto(env.Payload, &args); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if err := s.rooms.HandleCreateRoom(r.Context(), args.RoomCode, args.CreatorUserID, args.CreatorUsername); err != nil {
		s.logger.WarnContext(r.Context(), "rpc: create room handshake failed", "error", err)
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

// ForwardedOpReply is returned to the node that forwarded a client write to
// us. Err is set ("not_leader", or the propose error's text) when the
// operation could not be proposed; LeaderID carries the current leader when known, so the caller
// can retry there without a round trip through the client (§4.6).
type ForwardedOpReply struct {
	Term     uint64 `json:"term,omitempty"`
	Index    uint64 `json:"index,omitempty"`
	Err      string `json:"err,omitempty"`
	LeaderID string `json:"leaderId,omitempty"`
}

// handleForwardedClientOp accepts a client-originated write forwarded by a
// non-leader node (§4.6): proposes it here if this node is the leader, else
// replies with the current leader id so the caller can retry there.
func (s *Server) handleForwardedClientOp(w http.ResponseWriter, r *http.Request, env wire.Envelope) {
	node, ok := s.rooms.RaftNode(env.RoomCode)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	var op roomstate.Operation
	if err := decodeInto(env.Payload, &op); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	// Overwrite whatever the forwarding node stamped: only the node that
	// actually appends to the log gets to set the authoritative time.
	op.SubmitTimestamp = time.Now().UnixMilli()

	term, index, err := node.Propose(r.Context(), op)
	if err != nil {
		var notLeader *raft.ErrNotLeader
		if errors.As(err, &notLeader) {
			writeJSON(w, http.StatusConflict, ForwardedOpReply{Err: "not_leader", LeaderID: notLeader.LeaderID})
			return
		}
		writeJSON(w, http.StatusInternalServerError, ForwardedOpReply{Err: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, ForwardedOpReply{Term: term, Index: index})
}
