// Package rpc is the inter-node transport (§4.4): a reliable HTTP
// request/response link carrying RequestVote, AppendEntries, and the
// CREATE_ROOM handshake, multiplexed across rooms by roomCode. It implements
// raft.Transport on the outbound side and dispatches onto the right room's
// raft.Node on the inbound side.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sharetube/roomcluster/internal/raft"
)

// RoomLookup is the seam between the transport and the room registry. It
// lets this package stay ignorant of how rooms are stored.
type RoomLookup interface {
	RaftNode(roomCode string) (*raft.Node, bool)
	HandleCreateRoom(ctx context.Context, roomCode, creatorUserID, creatorUsername string) error
}

func decodeInto(raw json.RawMessage, dst any) error {
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("rpc: malformed payload: %w", err)
	}
	return nil
}
