// Package raft implements one Raft consensus group per room (§4.3). Every
// state transition — timer fire, RPC arrival, propose call — is serialized
// through a single goroutine's mailbox, so Raft state needs no lock. The
// room state machine itself lives in package roomstate; this package only
// agrees on the order of operations and hands committed ones to an Applier.
package raft

import (
	"fmt"

	"github.com/sharetube/roomcluster/internal/roomstate"
)

// Role is one of the three Raft states (§4.3).
type Role int

const (
	Follower Role = iota
	Candidate
	Leader
)

func (r Role) String() string {
	switch r {
	case Follower:
		return "follower"
	case Candidate:
		return "candidate"
	case Leader:
		return "leader"
	default:
		return "unknown"
	}
}

// LogEntry is one record of the replicated log (§3). Index is 1-based and
// contiguous; the log slice held by Node always satisfies log[i].Index == i.
type LogEntry struct {
	Term      uint64              `json:"term"`
	Index     uint64              `json:"index"`
	Operation roomstate.Operation `json:"operation"`
}

// RequestVoteArgs mirrors §4.3's RequestVote arguments. Tagged for direct
// JSON marshaling as an RPC envelope payload (internal/rpc).
type RequestVoteArgs struct {
	Term         uint64 `json:"term"`
	CandidateID  string `json:"candidateId"`
	LastLogIndex uint64 `json:"lastLogIndex"`
	LastLogTerm  uint64 `json:"lastLogTerm"`
}

type RequestVoteReply struct {
	CurrentTerm uint64 `json:"currentTerm"`
	VoteGranted bool   `json:"voteGranted"`
}

// AppendEntriesArgs mirrors §4.3's AppendEntries arguments.
type AppendEntriesArgs struct {
	Term         uint64     `json:"term"`
	LeaderID     string     `json:"leaderId"`
	PrevLogIndex uint64     `json:"prevLogIndex"`
	PrevLogTerm  uint64     `json:"prevLogTerm"`
	Entries      []LogEntry `json:"entries"`
	LeaderCommit uint64     `json:"leaderCommit"`
}

// AppendEntriesReply.MatchIndex doubles as the fast-backtrack hint on
// failure: len(log) at the receiver (§4.3 step 3).
type AppendEntriesReply struct {
	CurrentTerm uint64 `json:"currentTerm"`
	Success     bool   `json:"success"`
	MatchIndex  uint64 `json:"matchIndex"`
}

// ErrNotLeader is returned by Propose when this node is not (or no longer)
// the room's leader. LeaderID is empty when no leader is currently known.
type ErrNotLeader struct {
	LeaderID string
}

func (e *ErrNotLeader) Error() string {
	if e.LeaderID == "" {
		return "raft: not leader, no leader known"
	}
	return fmt.Sprintf("raft: not leader, leader is %s", e.LeaderID)
}

// State is a read-only snapshot for diagnostics and gateway forwarding
// decisions (§4.6 needs to know the current leader id).
type State struct {
	Role        Role
	CurrentTerm uint64
	LeaderID    string
	CommitIndex uint64
	LastApplied uint64
	LastIndex   uint64
}
