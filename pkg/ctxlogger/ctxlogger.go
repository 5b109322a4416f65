// Package ctxlogger lets handlers enrich the ambient slog.Logger with
// request-scoped attributes without threading a *slog.Logger through every
// call signature.
package ctxlogger

import (
	"context"
	"log/slog"
)

type ctxKey struct{}

// ContextHandler pulls attributes stashed by AppendCtx into every record it
// emits, on top of whatever Handler does with them.
type ContextHandler struct {
	slog.Handler
}

func (h *ContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if attrs, ok := ctx.Value(ctxKey{}).([]slog.Attr); ok {
		for _, a := range attrs {
			r.AddAttrs(a)
		}
	}

	return h.Handler.Handle(ctx, r)
}

// AppendCtx returns a context carrying attr in addition to any already
// attached. Handlers call this to tag every subsequent log line in a request
// or message's lifetime (request id, room code, message type, ...).
func AppendCtx(ctx context.Context, attr slog.Attr) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}

	if attrs, ok := ctx.Value(ctxKey{}).([]slog.Attr); ok {
		return context.WithValue(ctx, ctxKey{}, append(attrs, attr))
	}

	v := make([]slog.Attr, 0, 4)
	v = append(v, attr)
	return context.WithValue(ctx, ctxKey{}, v)
}
