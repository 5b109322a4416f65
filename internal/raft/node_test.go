package raft

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sharetube/roomcluster/internal/roomstate"
)

// fakeTransport routes RPCs directly to the in-process peer nodes of a
// test cluster, standing in for internal/rpc's HTTP transport.
type fakeTransport struct {
	mu    sync.RWMutex
	nodes map[string]*Node
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{nodes: make(map[string]*Node)}
}

func (f *fakeTransport) register(n *Node) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nodes[n.ID()] = n
}

func (f *fakeTransport) peer(id string) *Node {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.nodes[id]
}

func (f *fakeTransport) SendRequestVote(ctx context.Context, peerID, roomCode string, args RequestVoteArgs) (RequestVoteReply, error) {
	peer := f.peer(peerID)
	if peer == nil {
		return RequestVoteReply{}, context.DeadlineExceeded
	}
	return peer.HandleRequestVote(ctx, args)
}

func (f *fakeTransport) SendAppendEntries(ctx context.Context, peerID, roomCode string, args AppendEntriesArgs) (AppendEntriesReply, error) {
	peer := f.peer(peerID)
	if peer == nil {
		return AppendEntriesReply{}, context.DeadlineExceeded
	}
	return peer.HandleAppendEntries(ctx, args)
}

// recordingApplier collects committed entries per node id, in apply order.
type recordingApplier struct {
	mu      sync.Mutex
	applied map[string][]LogEntry
}

func newRecordingApplier() *recordingApplier {
	return &recordingApplier{applied: make(map[string][]LogEntry)}
}

func (r *recordingApplier) forNode(id string) Applier {
	return func(entry LogEntry) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.applied[id] = append(r.applied[id], entry)
	}
}

func (r *recordingApplier) countFor(id string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.applied[id])
}

func testTimings() (min, max, heartbeat, rpcTimeout time.Duration) {
	return 30 * time.Millisecond, 60 * time.Millisecond, 10 * time.Millisecond, 200 * time.Millisecond
}

func newTestCluster(t *testing.T, ids []string) (map[string]*Node, *fakeTransport, *recordingApplier, context.CancelFunc) {
	t.Helper()
	transport := newFakeTransport()
	applier := newRecordingApplier()
	min, max, hb, rpcTO := testTimings()

	nodes := make(map[string]*Node, len(ids))
	for _, id := range ids {
		var peers []string
		for _, other := range ids {
			if other != id {
				peers = append(peers, other)
			}
		}
		n := NewNode(Config{
			NodeID:             id,
			RoomCode:           "ABC123",
			PeerIDs:            peers,
			Transport:          transport,
			Applier:            applier.forNode(id),
			ElectionTimeoutMin: min,
			ElectionTimeoutMax: max,
			HeartbeatInterval:  hb,
			RPCTimeout:         rpcTO,
		})
		nodes[id] = n
		transport.register(n)
	}

	ctx, cancel := context.WithCancel(context.Background())
	for _, n := range nodes {
		go n.Run(ctx)
	}
	return nodes, transport, applier, cancel
}

func waitForLeader(t *testing.T, nodes map[string]*Node) *Node {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		for _, n := range nodes {
			s, err := n.State(context.Background())
			if err == nil && s.Role == Leader {
				return n
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("no leader elected within deadline")
	return nil
}

func TestElectsExactlyOneLeaderPerTerm(t *testing.T) {
	nodes, _, _, cancel := newTestCluster(t, []string{"n1", "n2", "n3"})
	defer cancel()

	leader := waitForLeader(t, nodes)
	leaderState, err := leader.State(context.Background())
	require.NoError(t, err)

	leaderCount := 0
	for _, n := range nodes {
		s, err := n.State(context.Background())
		require.NoError(t, err)
		if s.CurrentTerm == leaderState.CurrentTerm && s.Role == Leader {
			leaderCount++
		}
	}
	assert.Equal(t, 1, leaderCount, "at most one leader per term")
}

func TestProposeReplicatesToAllNodes(t *testing.T) {
	nodes, _, applier, cancel := newTestCluster(t, []string{"n1", "n2", "n3"})
	defer cancel()

	leader := waitForLeader(t, nodes)

	op := roomstate.NewOperation(roomstate.KindChatMessage, "u1", 1000, roomstate.ChatMessagePayload{Text: "hello"})
	term, index, err := leader.Propose(context.Background(), op)
	require.NoError(t, err)
	assert.Greater(t, index, uint64(0))
	assert.Greater(t, term, uint64(0))

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		allCaughtUp := true
		for id := range nodes {
			if applier.countFor(id) < 1 {
				allCaughtUp = false
			}
		}
		if allCaughtUp {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	for id := range nodes {
		assert.GreaterOrEqual(t, applier.countFor(id), 1, "node %s should have applied the committed entry", id)
	}
}

func TestProposeOnFollowerReturnsNotLeader(t *testing.T) {
	nodes, _, _, cancel := newTestCluster(t, []string{"n1", "n2", "n3"})
	defer cancel()

	leader := waitForLeader(t, nodes)

	var follower *Node
	for id, n := range nodes {
		if n != leader {
			follower = nodes[id]
			break
		}
	}
	require.NotNil(t, follower)

	op := roomstate.NewOperation(roomstate.KindChatMessage, "u1", 1000, roomstate.ChatMessagePayload{Text: "hi"})
	_, _, err := follower.Propose(context.Background(), op)
	require.Error(t, err)
	var notLeader *ErrNotLeader
	assert.ErrorAs(t, err, &notLeader)
}
