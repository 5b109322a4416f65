package wsrouter

import "context"

type ctxKey string

const messageTypeKey ctxKey = "message_type"

func withMessageType(ctx context.Context, t string) context.Context {
	return context.WithValue(ctx, messageTypeKey, t)
}

// MessageType returns the message type the current handler was routed on,
// or "" if called outside a handler invoked by ServeConn.
func MessageType(ctx context.Context) string {
	t, _ := ctx.Value(messageTypeKey).(string)
	return t
}
