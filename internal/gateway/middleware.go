package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sharetube/roomcluster/pkg/ctxlogger"
	"github.com/sharetube/roomcluster/pkg/wsrouter"
)

// wsLoggingMw mirrors the teacher's loggerWSMw: it times the handler and
// tags every log line for the message's lifetime with the message type and
// the owning session id, the websocket analogue of requestLoggingMw.
func (g *Gateway) wsLoggingMw(next wsrouter.HandlerFunc) wsrouter.HandlerFunc {
	return func(ctx context.Context, conn *websocket.Conn, payload json.RawMessage) error {
		sess := sessionFromCtx(ctx)
		sessionID := ""
		if sess != nil {
			sessionID = sess.id
		}

		ctx = ctxlogger.AppendCtx(ctx, slog.String("session_id", sessionID))
		ctx = ctxlogger.AppendCtx(ctx, slog.String("message_type", wsrouter.MessageType(ctx)))

		start := time.Now()
		err := next(ctx, conn, payload)

		g.logger.DebugContext(ctx, "gateway: handled message", "duration_ms", time.Since(start).Milliseconds(), "error", errString(err))
		return err
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
