// Package wsrouter is a tiny message-type router for a single websocket
// connection, with a middleware chain in the same shape as net/http's.
package wsrouter

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/gorilla/websocket"

	"github.com/sharetube/roomcluster/internal/wire"
)

// HandlerFunc handles one decoded message on a live connection.
type HandlerFunc func(ctx context.Context, conn *websocket.Conn, payload json.RawMessage) error

// Middleware wraps a HandlerFunc to add cross-cutting behavior (logging,
// request ids, timing) around every routed message.
type Middleware func(next HandlerFunc) HandlerFunc

// ErrUnknownType describes a frame whose type has no route. ServeConn sends
// its message to the client as an ERROR frame and keeps reading.
type ErrUnknownType struct{ Type string }

func (e ErrUnknownType) Error() string { return fmt.Sprintf("unknown message type %q", e.Type) }

type Router struct {
	routes      map[string]HandlerFunc
	middlewares []Middleware
	maxFrame    int
}

// New constructs a Router. maxFrameBytes bounds the size of a single decoded
// frame (enforced both at the websocket read-limit and by wire.Decode's own
// size check); 0 falls back to wire.DefaultMaxFrameBytes.
func New(maxFrameBytes int) *Router {
	if maxFrameBytes <= 0 {
		maxFrameBytes = wire.DefaultMaxFrameBytes
	}
	return &Router{
		routes:   make(map[string]HandlerFunc),
		maxFrame: maxFrameBytes,
	}
}

// Use appends a middleware; middlewares wrap handlers in registration order,
// so the first Use call is the outermost layer.
func (r *Router) Use(mw Middleware) {
	r.middlewares = append(r.middlewares, mw)
}

// Handle registers the handler for a message type, wrapped in every
// middleware registered so far.
func (r *Router) Handle(messageType string, h HandlerFunc) {
	for i := len(r.middlewares) - 1; i >= 0; i-- {
		h = r.middlewares[i](h)
	}
	r.routes[messageType] = h
}

// ServeConn reads frames off conn until it closes or a read fails, dispatching
// each to its registered handler. It does not close conn; the caller owns the
// connection's lifetime (the gateway closes it once it has unwound any
// bound-session bookkeeping).
func (r *Router) ServeConn(ctx context.Context, conn *websocket.Conn) error {
	conn.SetReadLimit(int64(r.maxFrame) + 1)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return err
		}

		f, err := wire.Decode(raw, r.maxFrame)
		if err != nil {
			conn.WriteJSON(map[string]any{"type": "ERROR", "payload": map[string]string{"message": err.Error()}})
			continue
		}

		msgCtx := withMessageType(ctx, f.Type)

		handler, ok := r.routes[f.Type]
		if !ok {
			conn.WriteJSON(map[string]any{"type": "ERROR", "payload": map[string]string{"message": ErrUnknownType{Type: f.Type}.Error()}})
			continue
		}

		if err := handler(msgCtx, conn, f.Payload); err != nil {
			conn.WriteJSON(map[string]any{"type": "ERROR", "payload": map[string]string{"message": err.Error()}})
		}
	}
}
