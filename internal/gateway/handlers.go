package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gorilla/websocket"

	"github.com/sharetube/roomcluster/internal/roomstate"
	"github.com/sharetube/roomcluster/internal/wire"
	"github.com/sharetube/roomcluster/pkg/randcode"
	"github.com/sharetube/roomcluster/pkg/validator"
)

var errNotInRoom = errors.New("not a member of this room")

// requireBoundRoom normalizes claimedCode and checks it against the
// session's own bound room, rejecting any message whose roomCode doesn't
// match what ROOM_CREATE/ROOM_JOIN already bound this connection to.
func requireBoundRoom(sess *session, claimedCode string) (string, error) {
	bound := sess.RoomCode()
	if bound == "" || bound != randcode.Normalize(claimedCode) {
		return "", errNotInRoom
	}
	return bound, nil
}

func (g *Gateway) handleRoomCreate(ctx context.Context, conn *websocket.Conn, payload json.RawMessage) error {
	sess := sessionFromCtx(ctx)

	var msg wire.RoomCreateMsg
	if err := wire.DecodeRawPayload(payload, wire.TypeRoomCreate, &msg); err != nil {
		return sendError(conn, "BAD_REQUEST", err.Error())
	}
	if errs, ok := g.validate.Validate(msg); !ok {
		return sendValidationError(conn, errs)
	}

	code := g.generateUniqueCode(ctx)

	if _, err := g.reg.CreateRoom(ctx, code, msg.UserID, msg.Username); err != nil {
		return sendError(conn, "ROOM_CREATE_FAILED", err.Error())
	}

	if err := g.reg.Subscribe(code, sess); err != nil {
		return sendError(conn, "ROOM_CREATE_FAILED", err.Error())
	}
	sess.bindRoom(code, msg.UserID, msg.Username)

	op := roomstate.NewOperation(roomstate.KindRoomCreate, msg.UserID, 0, roomstate.RoomCreatePayload{Username: msg.Username})
	if _, _, err := g.reg.Propose(ctx, code, op); err != nil {
		return sendError(conn, "ROOM_CREATE_FAILED", err.Error())
	}

	snapshot, err := g.reg.GetForRead(code)
	if err != nil {
		return sendError(conn, "ROOM_CREATE_FAILED", err.Error())
	}

	return writeFrame(conn, wire.TypeRoomCreated, wire.RoomCreatedMsg{RoomCode: code, RoomState: snapshot})
}

func (g *Gateway) handleRoomJoin(ctx context.Context, conn *websocket.Conn, payload json.RawMessage) error {
	sess := sessionFromCtx(ctx)

	var msg wire.RoomJoinMsg
	if err := wire.DecodeRawPayload(payload, wire.TypeRoomJoin, &msg); err != nil {
		return sendError(conn, "BAD_REQUEST", err.Error())
	}
	if errs, ok := g.validate.Validate(msg); !ok {
		return sendValidationError(conn, errs)
	}

	code := randcode.Normalize(msg.RoomCode)
	if _, ok := g.reg.RaftNode(code); !ok {
		return sendError(conn, "ROOM_NOT_FOUND", "room not found")
	}

	if err := g.reg.Subscribe(code, sess); err != nil {
		return sendError(conn, "ROOM_NOT_FOUND", err.Error())
	}
	sess.bindRoom(code, msg.UserID, msg.Username)

	op := roomstate.NewOperation(roomstate.KindRoomJoin, msg.UserID, 0, roomstate.RoomJoinPayload{Username: msg.Username})
	if _, _, err := g.reg.Propose(ctx, code, op); err != nil {
		g.reg.Unsubscribe(code, sess.SessionID())
		sess.unbindRoom()
		return sendError(conn, "ROOM_JOIN_FAILED", err.Error())
	}

	snapshot, err := g.reg.GetForRead(code)
	if err != nil {
		return sendError(conn, "ROOM_JOIN_FAILED", err.Error())
	}

	return writeFrame(conn, wire.TypeRoomJoined, wire.RoomJoinedMsg{RoomCode: code, RoomState: snapshot})
}

func (g *Gateway) handleRoomLeave(ctx context.Context, conn *websocket.Conn, payload json.RawMessage) error {
	sess := sessionFromCtx(ctx)

	var msg wire.RoomLeaveMsg
	if err := wire.DecodeRawPayload(payload, wire.TypeRoomLeave, &msg); err != nil {
		return sendError(conn, "BAD_REQUEST", err.Error())
	}
	if errs, ok := g.validate.Validate(msg); !ok {
		return sendValidationError(conn, errs)
	}

	code, err := requireBoundRoom(sess, msg.RoomCode)
	if err != nil {
		return sendError(conn, "NOT_IN_ROOM", err.Error())
	}

	op := roomstate.NewOperation(roomstate.KindRoomLeave, sess.UserID(), 0, roomstate.RoomLeavePayload{})
	if _, _, err := g.reg.Propose(ctx, code, op); err != nil {
		return sendError(conn, "ROOM_LEAVE_FAILED", err.Error())
	}

	g.reg.Unsubscribe(code, sess.SessionID())
	sess.unbindRoom()

	return writeFrame(conn, wire.TypeRoomLeft, wire.RoomLeftMsg{RoomCode: code})
}

func (g *Gateway) handlePlaybackPlay(ctx context.Context, conn *websocket.Conn, payload json.RawMessage) error {
	sess := sessionFromCtx(ctx)

	var msg wire.PlaybackPlayMsg
	if err := wire.DecodeRawPayload(payload, wire.TypePlaybackPlay, &msg); err != nil {
		return sendError(conn, "BAD_REQUEST", err.Error())
	}
	if errs, ok := g.validate.Validate(msg); !ok {
		return sendValidationError(conn, errs)
	}

	code, err := requireBoundRoom(sess, msg.RoomCode)
	if err != nil {
		return sendError(conn, "NOT_IN_ROOM", err.Error())
	}

	op := roomstate.NewOperation(roomstate.KindPlaybackPlay, sess.UserID(), 0, roomstate.PlaybackPlayPayload{
		VideoID:         msg.VideoID,
		PositionSeconds: msg.PositionSeconds,
	})
	if _, _, err := g.reg.Propose(ctx, code, op); err != nil {
		return sendError(conn, "PROPOSE_FAILED", err.Error())
	}
	return nil
}

func (g *Gateway) handlePlaybackPause(ctx context.Context, conn *websocket.Conn, payload json.RawMessage) error {
	sess := sessionFromCtx(ctx)

	var msg wire.PlaybackPauseMsg
	if err := wire.DecodeRawPayload(payload, wire.TypePlaybackPause, &msg); err != nil {
		return sendError(conn, "BAD_REQUEST", err.Error())
	}
	if errs, ok := g.validate.Validate(msg); !ok {
		return sendValidationError(conn, errs)
	}

	code, err := requireBoundRoom(sess, msg.RoomCode)
	if err != nil {
		return sendError(conn, "NOT_IN_ROOM", err.Error())
	}

	op := roomstate.NewOperation(roomstate.KindPlaybackPause, sess.UserID(), 0, roomstate.PlaybackPausePayload{
		PositionSeconds: msg.PositionSeconds,
	})
	if _, _, err := g.reg.Propose(ctx, code, op); err != nil {
		return sendError(conn, "PROPOSE_FAILED", err.Error())
	}
	return nil
}

func (g *Gateway) handlePlaybackSeek(ctx context.Context, conn *websocket.Conn, payload json.RawMessage) error {
	sess := sessionFromCtx(ctx)

	var msg wire.PlaybackSeekMsg
	if err := wire.DecodeRawPayload(payload, wire.TypePlaybackSeek, &msg); err != nil {
		return sendError(conn, "BAD_REQUEST", err.Error())
	}
	if errs, ok := g.validate.Validate(msg); !ok {
		return sendValidationError(conn, errs)
	}

	code, err := requireBoundRoom(sess, msg.RoomCode)
	if err != nil {
		return sendError(conn, "NOT_IN_ROOM", err.Error())
	}

	op := roomstate.NewOperation(roomstate.KindPlaybackSeek, sess.UserID(), 0, roomstate.PlaybackSeekPayload{
		NewPositionSeconds: msg.NewPositionSeconds,
	})
	if _, _, err := g.reg.Propose(ctx, code, op); err != nil {
		return sendError(conn, "PROPOSE_FAILED", err.Error())
	}
	return nil
}

func (g *Gateway) handlePlaylistAdd(ctx context.Context, conn *websocket.Conn, payload json.RawMessage) error {
	sess := sessionFromCtx(ctx)

	var msg wire.PlaylistAddMsg
	if err := wire.DecodeRawPayload(payload, wire.TypePlaylistAdd, &msg); err != nil {
		return sendError(conn, "BAD_REQUEST", err.Error())
	}
	if errs, ok := g.validate.Validate(msg); !ok {
		return sendValidationError(conn, errs)
	}

	code, err := requireBoundRoom(sess, msg.RoomCode)
	if err != nil {
		return sendError(conn, "NOT_IN_ROOM", err.Error())
	}

	title := msg.Title
	if title == nil && g.titleLookup != nil {
		// Best-effort only: apply() must stay pure, so enrichment happens
		// here, before the operation is proposed, and a lookup failure
		// never blocks the add (§9).
		if t, lerr := g.titleLookup(msg.VideoID); lerr == nil {
			title = &t
		}
	}

	op := roomstate.NewOperation(roomstate.KindPlaylistAdd, sess.UserID(), 0, roomstate.PlaylistAddPayload{
		VideoID:  msg.VideoID,
		Title:    title,
		Position: msg.NewVideoPosition,
	})
	if _, _, err := g.reg.Propose(ctx, code, op); err != nil {
		return sendError(conn, "PROPOSE_FAILED", err.Error())
	}
	return nil
}

func (g *Gateway) handlePlaylistRemove(ctx context.Context, conn *websocket.Conn, payload json.RawMessage) error {
	sess := sessionFromCtx(ctx)

	var msg wire.PlaylistRemoveMsg
	if err := wire.DecodeRawPayload(payload, wire.TypePlaylistRemove, &msg); err != nil {
		return sendError(conn, "BAD_REQUEST", err.Error())
	}
	if errs, ok := g.validate.Validate(msg); !ok {
		return sendValidationError(conn, errs)
	}

	code, err := requireBoundRoom(sess, msg.RoomCode)
	if err != nil {
		return sendError(conn, "NOT_IN_ROOM", err.Error())
	}

	op := roomstate.NewOperation(roomstate.KindPlaylistRemove, sess.UserID(), 0, roomstate.PlaylistRemovePayload{
		VideoID:              msg.VideoID,
		RemovedVideoPosition: msg.RemovedVideoPosition,
	})
	if _, _, err := g.reg.Propose(ctx, code, op); err != nil {
		return sendError(conn, "PROPOSE_FAILED", err.Error())
	}
	return nil
}

func (g *Gateway) handleChatMessage(ctx context.Context, conn *websocket.Conn, payload json.RawMessage) error {
	sess := sessionFromCtx(ctx)

	var msg wire.ChatMessageMsg
	if err := wire.DecodeRawPayload(payload, wire.TypeChatMessage, &msg); err != nil {
		return sendError(conn, "BAD_REQUEST", err.Error())
	}
	if errs, ok := g.validate.Validate(msg); !ok {
		return sendValidationError(conn, errs)
	}
	if err := wire.CheckChatText(msg.MessageText); err != nil {
		return sendError(conn, "CHAT_TEXT_TOO_LONG", err.Error())
	}

	code, err := requireBoundRoom(sess, msg.RoomCode)
	if err != nil {
		return sendError(conn, "NOT_IN_ROOM", err.Error())
	}

	op := roomstate.NewOperation(roomstate.KindChatMessage, sess.UserID(), 0, roomstate.ChatMessagePayload{Text: msg.MessageText})
	if _, _, err := g.reg.Propose(ctx, code, op); err != nil {
		return sendError(conn, "PROPOSE_FAILED", err.Error())
	}
	return nil
}

// generateUniqueCode retries randcode.Generate until it lands on a code this
// node has no local room for. Collisions are vanishingly rare at 36^6
// codes, but the loop costs nothing and keeps CreateRoom from ever silently
// double-booking a code (§4.5).
func (g *Gateway) generateUniqueCode(ctx context.Context) string {
	for {
		code := g.codeGen.Generate()
		if _, ok := g.reg.RaftNode(code); !ok {
			return code
		}
	}
}

func writeFrame(conn *websocket.Conn, typ string, payload any) error {
	return conn.WriteJSON(frameFor(typ, payload))
}

func sendError(conn *websocket.Conn, code, message string) error {
	return writeFrame(conn, wire.TypeError, wire.ErrorMsg{Code: code, Message: message})
}

func sendValidationError(conn *websocket.Conn, errs []validator.FieldError) error {
	if len(errs) == 0 {
		return sendError(conn, "VALIDATION_FAILED", "validation failed")
	}
	return sendError(conn, "VALIDATION_FAILED", fmt.Sprintf("%s: %s", errs[0].Field, errs[0].Message))
}
