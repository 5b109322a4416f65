package gateway

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/sharetube/roomcluster/internal/roomstate"
	"github.com/sharetube/roomcluster/internal/wire"
)

// session is one live client connection. It satisfies registry.Subscriber;
// Push and PushLeaderChanged run synchronously on the room's Raft goroutine,
// so they only ever touch outboundQueue's mutex — never the socket, never
// the registry.
type session struct {
	id      string
	gateway *Gateway
	conn    *websocket.Conn

	mu       sync.RWMutex
	userID   string
	username string
	roomCode string

	outbound  *outboundQueue
	closeCh   chan struct{}
	closeOnce sync.Once
}

func newSession(id string, g *Gateway, conn *websocket.Conn) *session {
	return &session{
		id:       id,
		gateway:  g,
		conn:     conn,
		outbound: newOutboundQueue(),
		closeCh:  make(chan struct{}),
	}
}

func (s *session) SessionID() string { return s.id }

func (s *session) Push(snapshot roomstate.State) {
	s.outbound.EnqueueStateUpdate(wire.RoomStateUpdateMsg{RoomCode: snapshot.Code, RoomState: snapshot})
}

func (s *session) PushLeaderChanged(leaderID string) {
	var p *string
	if leaderID != "" {
		p = &leaderID
	}
	s.outbound.EnqueueImportant(frameFor(wire.TypeLeaderChanged, wire.LeaderChangedMsg{RoomCode: s.RoomCode(), LeaderID: p}))
}

func (s *session) RoomCode() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.roomCode
}

func (s *session) UserID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.userID
}

func (s *session) Username() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.username
}

func (s *session) bindRoom(code, userID, username string) {
	s.mu.Lock()
	s.roomCode = code
	s.userID = userID
	s.username = username
	s.mu.Unlock()
}

func (s *session) unbindRoom() {
	s.mu.Lock()
	s.roomCode = ""
	s.mu.Unlock()
}

// writeLoop drains the outbound queue onto the socket until the session is
// closed or a write fails. It is the only goroutine that ever calls
// conn.WriteJSON, so no write-side locking is needed on conn itself.
func (s *session) writeLoop() {
	for {
		select {
		case <-s.closeCh:
			return
		case <-s.outbound.signal:
		}

		frames, state, overflowed := s.outbound.drain()

		for _, f := range frames {
			if err := s.conn.WriteJSON(f); err != nil {
				s.Close()
				return
			}
		}

		if state != nil {
			if err := s.conn.WriteJSON(frameFor(wire.TypeRoomStateUpdate, *state)); err != nil {
				s.Close()
				return
			}
		}

		if overflowed {
			s.gateway.logger.Warn("gateway: session outbound queue overflowed, closing session", "session", s.id)
			s.Close()
			return
		}
	}
}

func (s *session) Close() {
	s.closeOnce.Do(func() {
		s.outbound.Close()
		close(s.closeCh)
	})
}

// onDisconnect synthesizes a ROOM_LEAVE for whatever room the session was
// bound to (§4.6) so other participants don't wait on anything to notice a
// dropped connection, then drops the subscription.
func (s *session) onDisconnect(ctx context.Context) {
	code, userID := s.RoomCode(), s.UserID()
	if code == "" {
		return
	}

	op := roomstate.NewOperation(roomstate.KindRoomLeave, userID, 0, roomstate.RoomLeavePayload{})
	if _, _, err := s.gateway.reg.Propose(ctx, code, op); err != nil {
		s.gateway.logger.WarnContext(ctx, "gateway: disconnect ROOM_LEAVE failed", "room", code, "error", err)
	}

	s.gateway.reg.Unsubscribe(code, s.id)
}

func frameFor(typ string, payload any) wire.Frame {
	raw, err := json.Marshal(payload)
	if err != nil {
		panic("gateway: payload does not marshal: " + err.Error())
	}
	return wire.Frame{Type: typ, Payload: raw}
}
