// Package registry owns the cluster node's local room map: code -> {rsm,
// raftGroup, subscribers} (§4.5). It is the RoomLookup a node's inbound RPC
// server dispatches through, and the entry point a gateway session uses to
// create/join/propose against a room without knowing anything about Raft.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/sharetube/roomcluster/internal/raft"
	"github.com/sharetube/roomcluster/internal/roomstate"
	"github.com/sharetube/roomcluster/internal/rpc"
	"github.com/sharetube/roomcluster/internal/wire"
)

// ErrRoomNotFound is returned by any accessor for a code this node has not
// (yet) instantiated a Raft group for.
var ErrRoomNotFound = errors.New("registry: room not found")

// ErrRoomUnhealthy is returned by Propose once a room's RSM has hit a
// determinism violation (§7 category 4): the room stops accepting writes
// until an operator restarts the node.
var ErrRoomUnhealthy = errors.New("registry: room unhealthy, refusing further writes")

// Subscriber receives every RSM snapshot after it changes, and leader
// changes, for rooms it has joined. Push and PushLeaderChanged are called
// synchronously from the room's Raft goroutine and must never block or call
// back into the registry/Raft — implementations own their own backpressure
// (the gateway session's bounded, drop-oldest queue).
type Subscriber interface {
	SessionID() string
	Push(snapshot roomstate.State)
	PushLeaderChanged(leaderID string)
}

// Transport is the subset of *rpc.Client the registry needs: fanning the
// CREATE_ROOM handshake out to peers and forwarding a client write to a
// peer believed to be the room's leader.
type Transport interface {
	SendCreateRoom(ctx context.Context, peerID string, args wire.CreateRoomArgs) error
	SendForwardedOp(ctx context.Context, peerID, roomCode string, op roomstate.Operation) (rpc.ForwardedOpReply, error)
}

// Room bundles one room's RSM snapshot, Raft group, and subscriber set.
type Room struct {
	code string
	node *raft.Node

	mu        sync.RWMutex
	snapshot  roomstate.State
	unhealthy bool

	subMu       sync.RWMutex
	subscribers map[string]Subscriber

	cancel context.CancelFunc
}

func (r *Room) Code() string { return r.code }

func (r *Room) Snapshot() roomstate.State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshot
}

func (r *Room) Unhealthy() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.unhealthy
}

func (r *Room) Subscribe(sub Subscriber) {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	r.subscribers[sub.SessionID()] = sub
}

func (r *Room) Unsubscribe(sessionID string) {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	delete(r.subscribers, sessionID)
}

func (r *Room) fanoutSnapshot(s roomstate.State) {
	r.subMu.RLock()
	defer r.subMu.RUnlock()
	for _, sub := range r.subscribers {
		sub.Push(s)
	}
}

func (r *Room) fanoutLeaderChanged(leaderID string) {
	r.subMu.RLock()
	defer r.subMu.RUnlock()
	for _, sub := range r.subscribers {
		sub.PushLeaderChanged(leaderID)
	}
}

// apply is the raft.Applier for this room: it folds one committed entry
// into the RSM and fans the new snapshot out. It runs on the room's single
// Raft goroutine, so no lock is needed around the fold itself — only around
// publishing the new snapshot for concurrent readers (GetForRead).
func (r *Room) apply(entry raft.LogEntry, logger *slog.Logger) {
	r.mu.RLock()
	prev := r.snapshot
	unhealthy := r.unhealthy
	r.mu.RUnlock()

	if unhealthy {
		return
	}

	next, err := roomstate.Apply(prev, entry.Operation)
	if err != nil {
		logger.Error("registry: determinism violation, room marked unhealthy",
			"room", r.code, "kind", entry.Operation.Kind, "index", entry.Index, "error", err)
		r.mu.Lock()
		r.unhealthy = true
		r.mu.Unlock()
		return
	}

	r.mu.Lock()
	r.snapshot = next
	r.mu.Unlock()

	r.fanoutSnapshot(next)
}

// Registry is safe for concurrent use. Room creation/drop take a short
// critical section; everything else is per-room.
type Registry struct {
	nodeID    string
	peerIDs   []string
	transport raft.Transport
	fanoutRPC Transport
	logger    *slog.Logger

	mu    sync.Mutex
	rooms map[string]*Room
}

// New builds a Registry. peerIDs is every other node in the cluster;
// transport is the raft.Transport for each room's group and fanoutRPC the
// client for CREATE_ROOM/forwarded writes (a node passes its one *rpc.Client
// as both).
func New(nodeID string, peerIDs []string, transport raft.Transport, fanoutRPC Transport, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		nodeID:    nodeID,
		peerIDs:   peerIDs,
		transport: transport,
		fanoutRPC: fanoutRPC,
		logger:    logger,
		rooms:     make(map[string]*Room),
	}
}

// CreateRoomLocal instantiates code's RSM and Raft group on this node only,
// with no cluster fanout. It is idempotent: a second call for an
// already-present code is a no-op. This is what an RPC server calls on
// receipt of a peer's CREATE_ROOM handshake, and what the originating node
// calls on itself before fanning the handshake out.
func (g *Registry) CreateRoomLocal(ctx context.Context, code string) (*Room, error) {
	g.mu.Lock()
	if room, ok := g.rooms[code]; ok {
		g.mu.Unlock()
		return room, nil
	}

	room := &Room{
		code:        code,
		subscribers: make(map[string]Subscriber),
	}

	// The group outlives the request that created it (a CREATE_ROOM RPC or a
	// client's socket); only DropRoom stops it.
	roomCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	room.cancel = cancel

	node := raft.NewNode(raft.Config{
		NodeID:         g.nodeID,
		RoomCode:       code,
		PeerIDs:        g.peerIDs,
		Transport:      g.transport,
		Applier:        func(entry raft.LogEntry) { room.apply(entry, g.logger) },
		OnLeaderChange: room.fanoutLeaderChanged,
		Logger:         g.logger,
	})
	room.node = node

	g.rooms[code] = room
	g.mu.Unlock()

	go node.Run(roomCtx)

	g.logger.Info("registry: room created locally", "room", code)
	return room, nil
}

// CreateRoom performs the full creator-side flow (§4.5): instantiate
// locally, then fan the CREATE_ROOM handshake out to every peer so each has
// the room's Raft group before the first AppendEntries for it can arrive.
// Fanout is best-effort; an unreachable peer is treated the same as an
// unreachable Raft peer (it will fail RequestVote/AppendEntries with a
// transport error until it recovers or an operator intervenes).
func (g *Registry) CreateRoom(ctx context.Context, code, creatorUserID, creatorUsername string) (*Room, error) {
	room, err := g.CreateRoomLocal(ctx, code)
	if err != nil {
		return nil, err
	}

	args := wire.CreateRoomArgs{RoomCode: code, CreatorUserID: creatorUserID, CreatorUsername: creatorUsername}
	for _, peer := range g.peerIDs {
		if err := g.fanoutRPC.SendCreateRoom(ctx, peer, args); err != nil {
			g.logger.Warn("registry: CREATE_ROOM handshake failed", "room", code, "peer", peer, "error", err)
		}
	}

	return room, nil
}

// DropRoom stops a room's Raft group and removes it from the local map.
func (g *Registry) DropRoom(code string) {
	g.mu.Lock()
	room, ok := g.rooms[code]
	if ok {
		delete(g.rooms, code)
	}
	g.mu.Unlock()

	if ok && room.cancel != nil {
		room.cancel()
	}
}

// GetForRead returns a read-only snapshot of code's RSM.
func (g *Registry) GetForRead(code string) (roomstate.State, error) {
	room, ok := g.get(code)
	if !ok {
		return roomstate.State{}, ErrRoomNotFound
	}
	return room.Snapshot(), nil
}

// RaftNode satisfies rpc.RoomLookup: resolves code to its local Raft group.
func (g *Registry) RaftNode(code string) (*raft.Node, bool) {
	room, ok := g.get(code)
	if !ok {
		return nil, false
	}
	return room.node, true
}

// HandleCreateRoom satisfies rpc.RoomLookup: the receiving side of another
// node's CREATE_ROOM handshake. No fanout — the sender already did that.
func (g *Registry) HandleCreateRoom(ctx context.Context, roomCode, creatorUserID, creatorUsername string) error {
	_, err := g.CreateRoomLocal(ctx, roomCode)
	return err
}

// Subscribe registers sub to receive snapshot and leader-change pushes for
// code. Returns ErrRoomNotFound if code is not instantiated locally.
func (g *Registry) Subscribe(code string, sub Subscriber) error {
	room, ok := g.get(code)
	if !ok {
		return ErrRoomNotFound
	}
	room.Subscribe(sub)
	return nil
}

// Unsubscribe removes sessionID from code's subscriber set, if present.
func (g *Registry) Unsubscribe(code, sessionID string) {
	if room, ok := g.get(code); ok {
		room.Unsubscribe(sessionID)
	}
}

// proposeNoLeaderTimeout bounds how long Propose retries a room that has no
// leader at all yet (freshly created, mid-election) before giving up. A
// brand-new single-node room needs to sit out one election timeout
// (300-500ms) before it can vote itself in; failing a client's first write
// during that window would make every ROOM_CREATE flaky.
const proposeNoLeaderTimeout = 2 * time.Second

// Propose submits op against code's room: directly if this node is the
// room's current leader, or by forwarding to the leader over RPC otherwise
// (§4.6). On success it returns the (term, index) the leader appended the
// entry at; it does not wait for that entry to commit.
func (g *Registry) Propose(ctx context.Context, code string, op roomstate.Operation) (term, index uint64, err error) {
	room, ok := g.get(code)
	if !ok {
		return 0, 0, ErrRoomNotFound
	}
	if room.Unhealthy() {
		return 0, 0, ErrRoomUnhealthy
	}

	// The timestamp a client's own node stamps here is advisory only: if
	// this node isn't the room's leader, the actual leader overwrites it
	// with its own clock before appending to the log (§4.6).
	op.SubmitTimestamp = time.Now().UnixMilli()

	deadline := time.Now().Add(proposeNoLeaderTimeout)
	backoff := 10 * time.Millisecond

	for {
		term, index, err = room.node.Propose(ctx, op)
		if err == nil {
			return term, index, nil
		}

		var notLeader *raft.ErrNotLeader
		if !errors.As(err, &notLeader) {
			return 0, 0, fmt.Errorf("registry: propose on %s: %w", code, err)
		}

		if notLeader.LeaderID != "" {
			reply, ferr := g.fanoutRPC.SendForwardedOp(ctx, notLeader.LeaderID, code, op)
			if ferr != nil {
				return 0, 0, fmt.Errorf("registry: forward to leader %s for %s: %w", notLeader.LeaderID, code, ferr)
			}
			if reply.Err != "" {
				return 0, 0, fmt.Errorf("registry: leader %s rejected forwarded op for %s: %s", notLeader.LeaderID, code, reply.Err)
			}
			return reply.Term, reply.Index, nil
		}

		if time.Now().After(deadline) {
			return 0, 0, fmt.Errorf("registry: propose on %s: %w", code, err)
		}
		select {
		case <-ctx.Done():
			return 0, 0, ctx.Err()
		case <-time.After(backoff):
		}
		if backoff < 100*time.Millisecond {
			backoff *= 2
		}
	}
}

func (g *Registry) get(code string) (*Room, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	room, ok := g.rooms[code]
	return room, ok
}
