package registry_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sharetube/roomcluster/internal/raft"
	"github.com/sharetube/roomcluster/internal/registry"
	"github.com/sharetube/roomcluster/internal/roomstate"
	"github.com/sharetube/roomcluster/internal/rpc"
	"github.com/sharetube/roomcluster/internal/wire"
)

// fakeTransport routes raft.Transport and registry.Transport calls directly
// to in-process registries, keyed by node id, with no real network hop.
type fakeTransport struct {
	node string
	regs map[string]*registry.Registry
}

func (t *fakeTransport) SendRequestVote(ctx context.Context, peerID, roomCode string, args raft.RequestVoteArgs) (raft.RequestVoteReply, error) {
	node, ok := t.regs[peerID].RaftNode(roomCode)
	if !ok {
		return raft.RequestVoteReply{}, errRoomGone
	}
	return node.HandleRequestVote(ctx, args)
}

func (t *fakeTransport) SendAppendEntries(ctx context.Context, peerID, roomCode string, args raft.AppendEntriesArgs) (raft.AppendEntriesReply, error) {
	node, ok := t.regs[peerID].RaftNode(roomCode)
	if !ok {
		return raft.AppendEntriesReply{}, errRoomGone
	}
	return node.HandleAppendEntries(ctx, args)
}

func (t *fakeTransport) SendCreateRoom(ctx context.Context, peerID string, args wire.CreateRoomArgs) error {
	return t.regs[peerID].HandleCreateRoom(ctx, args.RoomCode, args.CreatorUserID, args.CreatorUsername)
}

func (t *fakeTransport) SendForwardedOp(ctx context.Context, peerID, roomCode string, op roomstate.Operation) (rpc.ForwardedOpReply, error) {
	term, index, err := t.regs[peerID].Propose(ctx, roomCode, op)
	if err != nil {
		return rpc.ForwardedOpReply{Err: err.Error()}, nil
	}
	return rpc.ForwardedOpReply{Term: term, Index: index}, nil
}

var errRoomGone = errors.New("room not instantiated on peer")

type recordingSubscriber struct {
	id        string
	snapshots chan roomstate.State
}

func newRecordingSubscriber(id string) *recordingSubscriber {
	return &recordingSubscriber{id: id, snapshots: make(chan roomstate.State, 16)}
}

func (s *recordingSubscriber) SessionID() string { return s.id }
func (s *recordingSubscriber) Push(snapshot roomstate.State) {
	select {
	case s.snapshots <- snapshot:
	default:
	}
}
func (s *recordingSubscriber) PushLeaderChanged(leaderID string) {}

func newTestCluster(t *testing.T, ids []string) map[string]*registry.Registry {
	t.Helper()

	regs := make(map[string]*registry.Registry, len(ids))
	transports := make(map[string]*fakeTransport, len(ids))

	// regs is filled in below, but every transport shares this same map
	// reference, so registrations made for later ids are visible to
	// transports built for earlier ones too.
	for _, id := range ids {
		transports[id] = &fakeTransport{node: id, regs: regs}
	}

	for _, id := range ids {
		peers := make([]string, 0, len(ids)-1)
		for _, other := range ids {
			if other != id {
				peers = append(peers, other)
			}
		}
		regs[id] = registry.New(id, peers, transports[id], transports[id], nil)
	}

	return regs
}

func TestCreateRoomReplicatesHandshakeToAllPeers(t *testing.T) {
	ids := []string{"n1", "n2", "n3"}
	regs := newTestCluster(t, ids)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	_, err := regs["n1"].CreateRoom(ctx, "ABC123", "u1", "alice")
	require.NoError(t, err)

	for _, id := range ids {
		_, ok := regs[id].RaftNode("ABC123")
		require.True(t, ok, "room missing on %s", id)
	}
}

func TestProposeCommitsAndFansOutToSubscribers(t *testing.T) {
	ids := []string{"n1", "n2", "n3"}
	regs := newTestCluster(t, ids)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	_, err := regs["n1"].CreateRoom(ctx, "ABC123", "u1", "alice")
	require.NoError(t, err)

	sub := newRecordingSubscriber("sess-1")
	require.NoError(t, regs["n1"].Subscribe("ABC123", sub))

	op := roomstate.NewOperation(roomstate.KindRoomCreate, "u1", 1000, roomstate.RoomCreatePayload{Username: "alice"})

	require.Eventually(t, func() bool {
		_, _, err := regs["n1"].Propose(ctx, "ABC123", op)
		return err == nil
	}, 2*time.Second, 10*time.Millisecond, "propose never succeeded (no leader elected?)")

	select {
	case snap := <-sub.snapshots:
		require.Equal(t, "u1", snap.CreatedBy)
	case <-time.After(time.Second):
		t.Fatal("subscriber never received a snapshot")
	}

	state, err := regs["n1"].GetForRead("ABC123")
	require.NoError(t, err)
	require.Len(t, state.Participants, 1)
	require.True(t, state.Participants[0].IsCreator)
}

func TestGetForReadUnknownRoom(t *testing.T) {
	regs := newTestCluster(t, []string{"n1"})
	_, err := regs["n1"].GetForRead("NOPE00")
	require.ErrorIs(t, err, registry.ErrRoomNotFound)
}
