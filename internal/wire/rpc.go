package wire

import "encoding/json"

// RPC envelope type tags (§6). The remaining tags are forwarded client-op
// types (ROOM_JOIN, ROOM_LEAVE, playback/playlist/chat) reusing the
// Type* constants in client.go. RequestVote/AppendEntries argument and
// reply shapes are owned by package raft (they travel as the envelope's
// opaque Payload); wire only defines the envelope itself and the two RPCs
// that have no Raft-internal equivalent.
const (
	RPCTypeRequestVote   = "REQUEST_VOTE"
	RPCTypeAppendEntries = "APPEND_ENTRIES"
	RPCTypeCreateRoom    = "CREATE_ROOM"
)

// Envelope is the inter-node RPC frame (§4.4/§6). TargetNodeID names the
// addressed peer; fan-out messages like CREATE_ROOM are sent as one envelope
// per peer, each with that peer's id.
type Envelope struct {
	Type         string          `json:"type"`
	Payload      json.RawMessage `json:"payload"`
	SourceNodeID string          `json:"sourceNodeId"`
	TargetNodeID string          `json:"targetNodeId,omitempty"`
	MessageID    string          `json:"messageId"`
	RoomCode     string          `json:"roomCode"`
}

// NewEnvelope marshals payload and builds an Envelope. Panics on marshal
// failure: every payload type passed to this constructor is a plain struct
// of basic JSON types.
func NewEnvelope(typ, sourceNodeID, targetNodeID, messageID, roomCode string, payload any) Envelope {
	raw, err := json.Marshal(payload)
	if err != nil {
		panic("wire: rpc payload does not marshal: " + err.Error())
	}

	return Envelope{
		Type:         typ,
		Payload:      raw,
		SourceNodeID: sourceNodeID,
		TargetNodeID: targetNodeID,
		MessageID:    messageID,
		RoomCode:     roomCode,
	}
}

// CreateRoomArgs is the cluster-wide, non-Raft room-creation handshake
// (§4.5): fan out before the first AppendEntries so every peer already has
// the room's Raft group instantiated.
type CreateRoomArgs struct {
	RoomCode        string `json:"roomCode"`
	CreatorUserID   string `json:"creatorUserId"`
	CreatorUsername string `json:"creatorUsername"`
}

// HealthStatus is the GET /health response body (§6).
type HealthStatus struct {
	Status string `json:"status"`
	NodeID string `json:"nodeId"`
}
