package raft

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/sharetube/roomcluster/internal/roomstate"
)

const (
	DefaultElectionTimeoutMin = 300 * time.Millisecond
	DefaultElectionTimeoutMax = 500 * time.Millisecond
	DefaultHeartbeatInterval  = 100 * time.Millisecond
	DefaultRPCTimeout         = 2 * time.Second
)

// Config carries everything a Node needs beyond its peer set. RoomCode
// identifies the group to the Transport, which multiplexes RPCs across
// many rooms on the same connections (§4.4).
type Config struct {
	NodeID   string
	RoomCode string
	PeerIDs  []string

	Transport Transport
	Applier   Applier

	// OnLeaderChange, if set, is invoked (from the Node's own goroutine)
	// every time the room's known leader changes, including transitions to
	// "" (no leader known). The gateway uses this to push LEADER_CHANGED to
	// subscribers (§6); it must not block or call back into the Node.
	OnLeaderChange func(leaderID string)

	ElectionTimeoutMin, ElectionTimeoutMax time.Duration
	HeartbeatInterval                      time.Duration
	RPCTimeout                             time.Duration

	Logger *slog.Logger
}

// Node is one room's Raft group as seen from this cluster node. All fields
// below the mailbox line are owned exclusively by the goroutine running
// Run; everything else is read-only for the lifetime of the Node.
type Node struct {
	id       string
	roomCode string
	peerIDs  []string

	transport      Transport
	applier        Applier
	onLeaderChange func(leaderID string)
	logger         *slog.Logger

	electionMin, electionMax time.Duration
	heartbeatInterval        time.Duration
	rpcTimeout               time.Duration

	mailbox chan event
	timer   *electionTimer

	// persistent-in-memory fields (§3) — this spec has no durability
	// requirement across a full cluster restart, so these live only in
	// process memory instead of behind a Persister abstraction.
	currentTerm uint64
	votedFor    string
	log         []LogEntry // log[0] is a zero sentinel; log[i].Index == i

	role     Role
	leaderID string

	commitIndex uint64
	lastApplied uint64

	voteSet  map[string]bool
	nextIndex  map[string]uint64
	matchIndex map[string]uint64
	inFlight   map[string]bool
	pending    map[string]bool
}

// NewNode constructs a Node in the Follower role with an empty log. Call Run
// to start its event loop; nothing else is safe to call concurrently with
// Run except through the exported RPC/Propose/State methods, which hand off
// to the mailbox.
func NewNode(cfg Config) *Node {
	if cfg.ElectionTimeoutMin == 0 {
		cfg.ElectionTimeoutMin = DefaultElectionTimeoutMin
	}
	if cfg.ElectionTimeoutMax == 0 {
		cfg.ElectionTimeoutMax = DefaultElectionTimeoutMax
	}
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if cfg.RPCTimeout == 0 {
		cfg.RPCTimeout = DefaultRPCTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	n := &Node{
		id:        cfg.NodeID,
		roomCode:  cfg.RoomCode,
		peerIDs:   cfg.PeerIDs,
		transport:      cfg.Transport,
		applier:        cfg.Applier,
		onLeaderChange: cfg.OnLeaderChange,
		logger:         cfg.Logger,

		electionMin:       cfg.ElectionTimeoutMin,
		electionMax:       cfg.ElectionTimeoutMax,
		heartbeatInterval: cfg.HeartbeatInterval,
		rpcTimeout:        cfg.RPCTimeout,

		mailbox: make(chan event, 64),
		log:     []LogEntry{{Term: 0, Index: 0}},
		role:    Follower,

		inFlight: make(map[string]bool),
		pending:  make(map[string]bool),
	}
	n.timer = newElectionTimer(n.electionMin, n.electionMax, func(v uint64) {
		n.mailbox <- electionTimeoutEvent{version: v}
	})
	return n
}

// Run drives the event loop until ctx is canceled. It must run on its own
// goroutine; every Raft state transition happens here.
func (n *Node) Run(ctx context.Context) {
	n.timer.reset()
	ticker := time.NewTicker(n.heartbeatInterval)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				select {
				case n.mailbox <- heartbeatTickEvent{}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			n.timer.stop()
			return
		case ev := <-n.mailbox:
			n.handle(ctx, ev)
		}
	}
}

func (n *Node) handle(ctx context.Context, ev event) {
	switch e := ev.(type) {
	case electionTimeoutEvent:
		if n.timer.matches(e.version) {
			n.startElection(ctx)
		}
	case heartbeatTickEvent:
		if n.role == Leader {
			for _, peer := range n.peerIDs {
				n.replicateToPeer(ctx, peer)
			}
		}
	case requestVoteEvent:
		e.reply <- n.onRequestVote(e.args)
	case appendEntriesEvent:
		e.reply <- n.onAppendEntries(e.args)
	case voteReplyEvent:
		n.onVoteReply(ctx, e)
	case appendReplyEvent:
		n.onAppendReply(ctx, e)
	case proposeEvent:
		e.reply <- n.onPropose(ctx, e.op)
	case stateQueryEvent:
		e.reply <- n.snapshot()
	default:
		n.logger.Warn("raft: unhandled event type", "room", n.roomCode)
	}
}

func (n *Node) lastLogIndex() uint64 { return n.log[len(n.log)-1].Index }
func (n *Node) lastLogTerm() uint64  { return n.log[len(n.log)-1].Term }

func (n *Node) notifyLeaderChange() {
	if n.onLeaderChange != nil {
		n.onLeaderChange(n.leaderID)
	}
}

func (n *Node) becomeFollower(term uint64, leaderID string) {
	if term > n.currentTerm {
		n.currentTerm = term
		n.votedFor = ""
		if leaderID == "" && n.leaderID != "" {
			// A new term with no leader named yet: the old leader is gone.
			n.leaderID = ""
			n.notifyLeaderChange()
		}
	}
	n.role = Follower
	if leaderID != "" && leaderID != n.leaderID {
		n.leaderID = leaderID
		n.notifyLeaderChange()
	}
	n.voteSet = nil
	n.nextIndex = nil
	n.matchIndex = nil
	n.timer.reset()
}

func (n *Node) snapshot() State {
	return State{
		Role:        n.role,
		CurrentTerm: n.currentTerm,
		LeaderID:    n.leaderID,
		CommitIndex: n.commitIndex,
		LastApplied: n.lastApplied,
		LastIndex:   n.lastLogIndex(),
	}
}

// --- RequestVote (§4.3) ---

func (n *Node) onRequestVote(args RequestVoteArgs) RequestVoteReply {
	if args.Term < n.currentTerm {
		return RequestVoteReply{CurrentTerm: n.currentTerm, VoteGranted: false}
	}
	if args.Term > n.currentTerm {
		n.becomeFollower(args.Term, "")
	}

	upToDate := args.LastLogTerm > n.lastLogTerm() ||
		(args.LastLogTerm == n.lastLogTerm() && args.LastLogIndex >= n.lastLogIndex())

	if (n.votedFor == "" || n.votedFor == args.CandidateID) && upToDate {
		n.votedFor = args.CandidateID
		n.timer.reset()
		return RequestVoteReply{CurrentTerm: n.currentTerm, VoteGranted: true}
	}

	return RequestVoteReply{CurrentTerm: n.currentTerm, VoteGranted: false}
}

// --- AppendEntries (§4.3) ---

func (n *Node) onAppendEntries(args AppendEntriesArgs) AppendEntriesReply {
	if args.Term < n.currentTerm {
		return AppendEntriesReply{CurrentTerm: n.currentTerm, Success: false}
	}

	n.becomeFollower(args.Term, args.LeaderID)

	if args.PrevLogIndex > n.lastLogIndex() || n.log[args.PrevLogIndex].Term != args.PrevLogTerm {
		return AppendEntriesReply{CurrentTerm: n.currentTerm, Success: false, MatchIndex: n.lastLogIndex()}
	}

	if len(args.Entries) > 0 {
		n.log = append(n.log[:args.PrevLogIndex+1], args.Entries...)
	}

	if args.LeaderCommit > n.commitIndex {
		last := n.lastLogIndex()
		if args.LeaderCommit < last {
			n.commitIndex = args.LeaderCommit
		} else {
			n.commitIndex = last
		}
		n.applyCommitted()
	}

	return AppendEntriesReply{CurrentTerm: n.currentTerm, Success: true, MatchIndex: n.lastLogIndex()}
}

// --- Candidate / election ---

func (n *Node) startElection(ctx context.Context) {
	n.role = Candidate
	n.currentTerm++
	n.votedFor = n.id
	n.voteSet = map[string]bool{n.id: true}
	n.timer.reset()

	if len(n.voteSet) > (len(n.peerIDs)+1)/2 {
		// Lone node in its own group: our own vote is already a majority.
		n.becomeLeader(ctx)
		return
	}

	term := n.currentTerm
	args := RequestVoteArgs{
		Term:         term,
		CandidateID:  n.id,
		LastLogIndex: n.lastLogIndex(),
		LastLogTerm:  n.lastLogTerm(),
	}

	for _, peer := range n.peerIDs {
		peer := peer
		go func() {
			rctx, cancel := context.WithTimeout(ctx, n.rpcTimeout)
			defer cancel()
			reply, err := n.transport.SendRequestVote(rctx, peer, n.roomCode, args)
			select {
			case n.mailbox <- voteReplyEvent{peerID: peer, termAsked: term, reply: reply, err: err}:
			case <-ctx.Done():
			}
		}()
	}
}

func (n *Node) onVoteReply(ctx context.Context, e voteReplyEvent) {
	if n.role != Candidate || e.termAsked != n.currentTerm {
		return // stale reply from a prior election
	}
	if e.err != nil {
		return // peer unreachable; next election timeout tries again
	}
	if e.reply.CurrentTerm > n.currentTerm {
		n.becomeFollower(e.reply.CurrentTerm, "")
		return
	}
	if !e.reply.VoteGranted {
		return
	}

	n.voteSet[e.peerID] = true
	if len(n.voteSet) > (len(n.peerIDs)+1)/2 {
		n.becomeLeader(ctx)
	}
}

func (n *Node) becomeLeader(ctx context.Context) {
	n.role = Leader
	if n.leaderID != n.id {
		n.leaderID = n.id
		n.notifyLeaderChange()
	}
	n.nextIndex = make(map[string]uint64, len(n.peerIDs))
	n.matchIndex = make(map[string]uint64, len(n.peerIDs))
	for _, peer := range n.peerIDs {
		n.nextIndex[peer] = n.lastLogIndex() + 1
		n.matchIndex[peer] = 0
		n.inFlight[peer] = false
		n.pending[peer] = false
	}
	n.timer.stop()
	n.logger.Info("raft: elected leader", "room", n.roomCode, "node", n.id, "term", n.currentTerm)

	for _, peer := range n.peerIDs {
		n.replicateToPeer(ctx, peer)
	}
}

// --- Leader replication (§4.3 Timers and ordering: at most one in-flight
// AppendEntries per peer; later triggers coalesce) ---

func (n *Node) replicateToPeer(ctx context.Context, peer string) {
	if n.role != Leader {
		return
	}
	if n.inFlight[peer] {
		n.pending[peer] = true
		return
	}

	next := n.nextIndex[peer]
	prevIndex := next - 1
	var entries []LogEntry
	if next <= n.lastLogIndex() {
		entries = append(entries, n.log[next:]...)
	}

	args := AppendEntriesArgs{
		Term:         n.currentTerm,
		LeaderID:     n.id,
		PrevLogIndex: prevIndex,
		PrevLogTerm:  n.log[prevIndex].Term,
		Entries:      entries,
		LeaderCommit: n.commitIndex,
	}
	sentUpTo := prevIndex + uint64(len(entries))
	term := n.currentTerm

	n.inFlight[peer] = true
	go func() {
		rctx, cancel := context.WithTimeout(ctx, n.rpcTimeout)
		defer cancel()
		reply, err := n.transport.SendAppendEntries(rctx, peer, n.roomCode, args)
		select {
		case n.mailbox <- appendReplyEvent{peerID: peer, termSent: term, sentUpTo: sentUpTo, reply: reply, err: err}:
		case <-ctx.Done():
		}
	}()
}

func (n *Node) onAppendReply(ctx context.Context, e appendReplyEvent) {
	n.inFlight[e.peerID] = false
	wasPending := n.pending[e.peerID]
	n.pending[e.peerID] = false

	if n.role != Leader || e.termSent != n.currentTerm {
		return // stale reply from a prior term's round
	}

	if e.err != nil {
		// transport failure: treated as peer-down (§4.3 Failure semantics);
		// the next heartbeat retries.
		if wasPending {
			n.replicateToPeer(ctx, e.peerID)
		}
		return
	}

	if e.reply.CurrentTerm > n.currentTerm {
		n.becomeFollower(e.reply.CurrentTerm, "")
		return
	}

	if e.reply.Success {
		if e.sentUpTo > n.matchIndex[e.peerID] {
			n.matchIndex[e.peerID] = e.sentUpTo
			n.nextIndex[e.peerID] = e.sentUpTo + 1
			n.updateCommitIndex()
		}
		if n.nextIndex[e.peerID] <= n.lastLogIndex() || wasPending {
			n.replicateToPeer(ctx, e.peerID)
		}
		return
	}

	// consistency check failed: back off nextIndex using the follower's
	// length hint and retry (§4.3 step 3).
	if e.reply.MatchIndex+1 < n.nextIndex[e.peerID] {
		n.nextIndex[e.peerID] = e.reply.MatchIndex + 1
	} else if n.nextIndex[e.peerID] > 1 {
		n.nextIndex[e.peerID]--
	}
	n.replicateToPeer(ctx, e.peerID)
}

// updateCommitIndex applies the leader commit rule (§4.3): advance to the
// highest N with a majority matchIndex >= N AND log[N].Term == currentTerm.
func (n *Node) updateCommitIndex() {
	all := make([]uint64, 0, len(n.peerIDs)+1)
	for _, idx := range n.matchIndex {
		all = append(all, idx)
	}
	all = append(all, n.lastLogIndex()) // leader always matches its own log
	sort.Slice(all, func(i, j int) bool { return all[i] < all[j] })

	candidate := all[(len(all)-1)/2]
	if candidate > n.commitIndex && n.log[candidate].Term == n.currentTerm {
		n.commitIndex = candidate
		n.applyCommitted()
	}
}

func (n *Node) applyCommitted() {
	for n.lastApplied < n.commitIndex {
		n.lastApplied++
		if n.applier != nil {
			n.applier(n.log[n.lastApplied])
		}
	}
}

// --- Propose (§4.3 Propose path) ---

func (n *Node) onPropose(ctx context.Context, op roomstate.Operation) proposeResult {
	if n.role != Leader {
		return proposeResult{err: &ErrNotLeader{LeaderID: n.leaderID}}
	}

	entry := LogEntry{Term: n.currentTerm, Index: n.lastLogIndex() + 1, Operation: op}
	n.log = append(n.log, entry)

	// A lone leader is its own majority: no append reply will ever arrive to
	// advance commitIndex, so apply the commit rule here as well.
	n.updateCommitIndex()

	for _, peer := range n.peerIDs {
		n.replicateToPeer(ctx, peer)
	}

	return proposeResult{term: entry.Term, index: entry.Index}
}

// --- Public, cross-goroutine API: every method below round-trips through
// the mailbox so callers never touch Raft state directly. ---

// Propose appends op to the log if this node is the room's current leader.
// It returns ErrNotLeader otherwise; the caller (the registry) must forward
// the write by RPC to ErrNotLeader.LeaderID when non-empty.
func (n *Node) Propose(ctx context.Context, op roomstate.Operation) (term, index uint64, err error) {
	reply := make(chan proposeResult, 1)
	select {
	case n.mailbox <- proposeEvent{op: op, reply: reply}:
	case <-ctx.Done():
		return 0, 0, ctx.Err()
	}
	select {
	case r := <-reply:
		return r.term, r.index, r.err
	case <-ctx.Done():
		return 0, 0, ctx.Err()
	}
}

// HandleRequestVote services an inbound RequestVote RPC (§4.3).
func (n *Node) HandleRequestVote(ctx context.Context, args RequestVoteArgs) (RequestVoteReply, error) {
	reply := make(chan RequestVoteReply, 1)
	select {
	case n.mailbox <- requestVoteEvent{args: args, reply: reply}:
	case <-ctx.Done():
		return RequestVoteReply{}, ctx.Err()
	}
	select {
	case r := <-reply:
		return r, nil
	case <-ctx.Done():
		return RequestVoteReply{}, ctx.Err()
	}
}

// HandleAppendEntries services an inbound AppendEntries RPC (§4.3).
func (n *Node) HandleAppendEntries(ctx context.Context, args AppendEntriesArgs) (AppendEntriesReply, error) {
	reply := make(chan AppendEntriesReply, 1)
	select {
	case n.mailbox <- appendEntriesEvent{args: args, reply: reply}:
	case <-ctx.Done():
		return AppendEntriesReply{}, ctx.Err()
	}
	select {
	case r := <-reply:
		return r, nil
	case <-ctx.Done():
		return AppendEntriesReply{}, ctx.Err()
	}
}

// State returns a snapshot of the node's current role, term, and indices.
func (n *Node) State(ctx context.Context) (State, error) {
	reply := make(chan State, 1)
	select {
	case n.mailbox <- stateQueryEvent{reply: reply}:
	case <-ctx.Done():
		return State{}, ctx.Err()
	}
	select {
	case s := <-reply:
		return s, nil
	case <-ctx.Done():
		return State{}, ctx.Err()
	}
}

// ID reports the node's own id, useful for Transport implementations that
// need to address a Node without a round-trip through the mailbox.
func (n *Node) ID() string { return n.id }
