package raft

import "context"

// Transport sends RPCs to a named peer of this room's group. Implementations
// (internal/rpc) own addressing, framing, and the per-call timeout; a
// Transport error is treated by Node the same as a timeout — the peer is
// assumed down and retried on the next heartbeat (§4.3 Failure semantics).
type Transport interface {
	SendRequestVote(ctx context.Context, peerID, roomCode string, args RequestVoteArgs) (RequestVoteReply, error)
	SendAppendEntries(ctx context.Context, peerID, roomCode string, args AppendEntriesArgs) (AppendEntriesReply, error)
}

// Applier is invoked once per committed entry, in log order, by the node
// that owns the log. It is expected to mutate the room state machine and
// fan the resulting snapshot out to local subscribers (§4.5/§4.6); Node
// never touches the RSM or the network itself (§9 Subscriber fanout
// separation).
type Applier func(entry LogEntry)
