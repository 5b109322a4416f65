package wire

import "github.com/sharetube/roomcluster/internal/roomstate"

// Server-to-client message type tags (§6).
const (
	TypeConnected       = "CONNECTED"
	TypeRoomCreated     = "ROOM_CREATED"
	TypeRoomJoined      = "ROOM_JOINED"
	TypeRoomLeft        = "ROOM_LEFT"
	TypeRoomStateUpdate = "ROOM_STATE_UPDATE"
	TypeLeaderChanged   = "LEADER_CHANGED"
	TypeError           = "ERROR"
)

type ConnectedMsg struct {
	ClientID string `json:"clientId"`
	NodeID   string `json:"nodeId"`
}

type RoomCreatedMsg struct {
	RoomCode  string          `json:"roomCode"`
	RoomState roomstate.State `json:"roomState"`
}

type RoomJoinedMsg struct {
	RoomCode  string          `json:"roomCode"`
	RoomState roomstate.State `json:"roomState"`
}

type RoomLeftMsg struct {
	RoomCode string `json:"roomCode"`
}

type RoomStateUpdateMsg struct {
	RoomCode  string          `json:"roomCode"`
	RoomState roomstate.State `json:"roomState"`
}

type LeaderChangedMsg struct {
	RoomCode string  `json:"roomCode"`
	LeaderID *string `json:"leaderId"`
}

// ErrorMsg.Code is an optional machine-readable category, e.g.
// "VALIDATION_FAILED" or "ROOM_NOT_FOUND", left empty for frames the router
// rejects before dispatch (malformed frames, unknown types).
type ErrorMsg struct {
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}
