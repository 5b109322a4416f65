// Package gateway is the cluster node's client-facing half (§4.1/§4.6/§6):
// it upgrades /ws connections, validates and dispatches the nine client
// message kinds onto the registry, and fans committed room state back out
// to every subscribed session through a per-session backpressure queue.
package gateway

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/sharetube/roomcluster/internal/registry"
	"github.com/sharetube/roomcluster/internal/wire"
	"github.com/sharetube/roomcluster/pkg/ctxlogger"
	"github.com/sharetube/roomcluster/pkg/randcode"
	"github.com/sharetube/roomcluster/pkg/rest"
	"github.com/sharetube/roomcluster/pkg/validator"
	"github.com/sharetube/roomcluster/pkg/wsrouter"
	"github.com/sharetube/roomcluster/pkg/ytvideodata"
)

// codeGenerator is the subset of *randcode.Generator the gateway needs,
// narrowed so tests can substitute a deterministic generator.
type codeGenerator interface {
	Generate() string
}

// titleLookupFunc fetches a best-effort video title for PLAYLIST_ADD
// (§9) — matches ytvideodata.Title's signature so it can be swapped out in
// tests without a network round trip.
type titleLookupFunc func(videoID string) (string, error)

// Config wires a Gateway to the rest of this node.
type Config struct {
	NodeID        string
	Registry      *registry.Registry
	Validator     *validator.Validator
	Logger        *slog.Logger
	MaxFrameBytes int

	codeGen     codeGenerator
	titleLookup titleLookupFunc
}

type Gateway struct {
	nodeID      string
	reg         *registry.Registry
	validate    *validator.Validator
	logger      *slog.Logger
	upgrader    websocket.Upgrader
	router      *wsrouter.Router
	codeGen     codeGenerator
	titleLookup titleLookupFunc
}

func New(cfg Config) *Gateway {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Validator == nil {
		cfg.Validator = validator.New()
	}
	if cfg.codeGen == nil {
		cfg.codeGen = randcode.New()
	}
	if cfg.titleLookup == nil {
		cfg.titleLookup = ytvideodata.Title
	}

	g := &Gateway{
		nodeID:      cfg.NodeID,
		reg:         cfg.Registry,
		validate:    cfg.Validator,
		logger:      cfg.Logger,
		codeGen:     cfg.codeGen,
		titleLookup: cfg.titleLookup,
		upgrader: websocket.Upgrader{
			// Watch parties are joined by room code, not by origin; the
			// teacher's own controller.go upgrader accepts every origin
			// for the same reason.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}

	g.router = wsrouter.New(cfg.MaxFrameBytes)
	g.router.Use(g.wsLoggingMw)
	g.router.Handle(wire.TypeRoomCreate, g.handleRoomCreate)
	g.router.Handle(wire.TypeRoomJoin, g.handleRoomJoin)
	g.router.Handle(wire.TypeRoomLeave, g.handleRoomLeave)
	g.router.Handle(wire.TypePlaybackPlay, g.handlePlaybackPlay)
	g.router.Handle(wire.TypePlaybackPause, g.handlePlaybackPause)
	g.router.Handle(wire.TypePlaybackSeek, g.handlePlaybackSeek)
	g.router.Handle(wire.TypePlaylistAdd, g.handlePlaylistAdd)
	g.router.Handle(wire.TypePlaylistRemove, g.handlePlaylistRemove)
	g.router.Handle(wire.TypeChatMessage, g.handleChatMessage)

	return g
}

// Mux builds the node's client-facing HTTP handler: a health check and the
// single /ws upgrade endpoint (§6). Every room action rides over that one
// socket as a message kind, not as a separate REST route.
func (g *Gateway) Mux() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(g.requestIDMw)
	r.Use(g.requestLoggingMw)
	r.Use(cors.AllowAll().Handler)

	r.Get("/health", g.handleHealth)
	r.Get("/ws", g.handleWS)

	return r
}

func (g *Gateway) requestIDMw(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := ctxlogger.AppendCtx(r.Context(), slog.String("request_id", uuid.NewString()))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (g *Gateway) requestLoggingMw(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g.logger.DebugContext(r.Context(), "gateway request", "method", r.Method, "path", r.URL.Path, "remote_addr", r.RemoteAddr)
		next.ServeHTTP(w, r)
	})
}

func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	_ = rest.WriteJSON(w, http.StatusOK, rest.Envelope{"status": "ok", "nodeId": g.nodeID})
}

// handleWS upgrades the connection, announces CONNECTED, and hands the
// socket to the router until ServeConn returns (the client disconnected or
// a frame read failed), at which point it unwinds any room subscription.
func (g *Gateway) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.WarnContext(r.Context(), "gateway: websocket upgrade failed", "error", err)
		return
	}

	sess := newSession(uuid.NewString(), g, conn)
	ctx := withSession(r.Context(), sess)

	go sess.writeLoop()
	sess.outbound.EnqueueImportant(frameFor(wire.TypeConnected, wire.ConnectedMsg{ClientID: sess.id, NodeID: g.nodeID}))

	if err := g.router.ServeConn(ctx, conn); err != nil {
		g.logger.DebugContext(ctx, "gateway: connection closed", "session", sess.id, "error", err)
	}

	sess.onDisconnect(ctx)
	sess.Close()
	_ = conn.Close()
}
