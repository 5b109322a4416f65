package raft

import "github.com/sharetube/roomcluster/internal/roomstate"

// event is the union of everything that can arrive on a node's mailbox.
// Every state transition happens inside handle(), on the node's single
// goroutine, so none of these need synchronization of their own.
type event interface{ isEvent() }

type requestVoteEvent struct {
	args  RequestVoteArgs
	reply chan RequestVoteReply
}

func (requestVoteEvent) isEvent() {}

type appendEntriesEvent struct {
	args  AppendEntriesArgs
	reply chan AppendEntriesReply
}

func (appendEntriesEvent) isEvent() {}

type proposeEvent struct {
	op    roomstate.Operation
	reply chan proposeResult
}

func (proposeEvent) isEvent() {}

type proposeResult struct {
	term  uint64
	index uint64
	err   error
}

type voteReplyEvent struct {
	peerID     string
	termAsked  uint64
	reply      RequestVoteReply
	err        error
}

func (voteReplyEvent) isEvent() {}

type appendReplyEvent struct {
	peerID      string
	termSent    uint64
	sentUpTo    uint64 // prevLogIndex + len(entries) sent in this round
	reply       AppendEntriesReply
	err         error
}

func (appendReplyEvent) isEvent() {}

type electionTimeoutEvent struct{ version uint64 }

func (electionTimeoutEvent) isEvent() {}

type heartbeatTickEvent struct{}

func (heartbeatTickEvent) isEvent() {}

type stateQueryEvent struct{ reply chan State }

func (stateQueryEvent) isEvent() {}
