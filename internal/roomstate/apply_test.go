package roomstate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedState(code string) State {
	return State{Code: code}
}

func mustApply(t *testing.T, state State, op Operation) State {
	t.Helper()
	next, err := Apply(state, op)
	require.NoError(t, err)
	return next
}

func TestRoomCreate(t *testing.T) {
	s := seedState("ABC123")
	op := NewOperation(KindRoomCreate, "u1", 1000, RoomCreatePayload{Username: "Alice"})

	s = mustApply(t, s, op)

	require.Len(t, s.Participants, 1)
	assert.Equal(t, "u1", s.CreatedBy)
	assert.Equal(t, int64(1000), s.CreatedAt)
	assert.True(t, s.Participants[0].IsCreator)
	assert.Equal(t, "Alice", s.Participants[0].Username)

	// idempotent
	s2 := mustApply(t, s, op)
	assert.Equal(t, s, s2)
}

func TestRoomJoinAndLeaveIdempotent(t *testing.T) {
	s := seedState("ABC123")
	s = mustApply(t, s, NewOperation(KindRoomCreate, "u1", 1000, RoomCreatePayload{Username: "Alice"}))

	joinOp := NewOperation(KindRoomJoin, "u2", 2000, RoomJoinPayload{Username: "Bob"})
	s = mustApply(t, s, joinOp)
	require.Len(t, s.Participants, 2)
	assert.False(t, s.Participants[1].IsCreator)

	s2 := mustApply(t, s, joinOp)
	assert.Equal(t, s, s2, "second ROOM_JOIN must be a no-op")

	leaveOp := NewOperation(KindRoomLeave, "u2", 3000, RoomLeavePayload{})
	s = mustApply(t, s, leaveOp)
	require.Len(t, s.Participants, 1)

	s3 := mustApply(t, s, leaveOp)
	assert.Equal(t, s, s3, "second ROOM_LEAVE must be a no-op")
}

func TestCreatorNotTransferredOnLeave(t *testing.T) {
	s := seedState("ABC123")
	s = mustApply(t, s, NewOperation(KindRoomCreate, "u1", 1000, RoomCreatePayload{Username: "Alice"}))
	s = mustApply(t, s, NewOperation(KindRoomJoin, "u2", 2000, RoomJoinPayload{Username: "Bob"}))
	s = mustApply(t, s, NewOperation(KindRoomLeave, "u1", 3000, RoomLeavePayload{}))

	require.Len(t, s.Participants, 1)
	assert.Equal(t, "u2", s.Participants[0].UserID)
	assert.False(t, s.Participants[0].IsCreator, "isCreator is never transferred")
	assert.Equal(t, "u1", s.CreatedBy, "createdBy is unchanged")
}

func TestPlaybackTransitions(t *testing.T) {
	s := seedState("ABC123")
	s = mustApply(t, s, NewOperation(KindRoomCreate, "u1", 1000, RoomCreatePayload{Username: "Alice"}))

	s = mustApply(t, s, NewOperation(KindPlaybackPlay, "u1", 5000, PlaybackPlayPayload{VideoID: "dQw4w9WgXcQ", PositionSeconds: 0}))
	require.NotNil(t, s.Playback.CurrentVideoID)
	assert.Equal(t, "dQw4w9WgXcQ", *s.Playback.CurrentVideoID)
	assert.True(t, s.Playback.IsPlaying)
	assert.Equal(t, int64(5000), s.Playback.LastUpdated)

	s = mustApply(t, s, NewOperation(KindPlaybackPause, "u1", 6000, PlaybackPausePayload{PositionSeconds: 10}))
	assert.False(t, s.Playback.IsPlaying)
	assert.Equal(t, 10.0, s.Playback.PositionSeconds)
	require.NotNil(t, s.Playback.CurrentVideoID)
	assert.Equal(t, "dQw4w9WgXcQ", *s.Playback.CurrentVideoID, "currentVideoId preserved across pause")

	// seek while paused (scenario 5)
	s = mustApply(t, s, NewOperation(KindPlaybackSeek, "u1", 7000, PlaybackSeekPayload{NewPositionSeconds: 42}))
	assert.False(t, s.Playback.IsPlaying, "isPlaying preserved across seek")
	assert.Equal(t, 42.0, s.Playback.PositionSeconds)
	assert.Equal(t, int64(7000), s.Playback.LastUpdated)
}

func TestPlaylistAddPositionBoundaries(t *testing.T) {
	s := seedState("ABC123")
	s = mustApply(t, s, NewOperation(KindRoomCreate, "u1", 1000, RoomCreatePayload{Username: "Alice"}))

	// -1 appends
	s = mustApply(t, s, NewOperation(KindPlaylistAdd, "u1", 1100, PlaylistAddPayload{VideoID: "v1", Position: -1}))
	require.Len(t, s.Playlist, 1)
	assert.Equal(t, "v1", s.Playlist[0].VideoID)

	// position > len appends
	s = mustApply(t, s, NewOperation(KindPlaylistAdd, "u1", 1200, PlaylistAddPayload{VideoID: "v2", Position: 99}))
	require.Len(t, s.Playlist, 2)
	assert.Equal(t, "v2", s.Playlist[1].VideoID)

	// position 0 prepends
	s = mustApply(t, s, NewOperation(KindPlaylistAdd, "u1", 1300, PlaylistAddPayload{VideoID: "v0", Position: 0}))
	require.Len(t, s.Playlist, 3)
	assert.Equal(t, "v0", s.Playlist[0].VideoID)
	assert.Equal(t, "v1", s.Playlist[1].VideoID)
	assert.Equal(t, "v2", s.Playlist[2].VideoID)
}

func TestPlaylistRemoveStalePositionFallsBackToHead(t *testing.T) {
	s := seedState("ABC123")
	s = mustApply(t, s, NewOperation(KindRoomCreate, "u1", 1000, RoomCreatePayload{Username: "Alice"}))
	s = mustApply(t, s, NewOperation(KindPlaylistAdd, "u1", 1100, PlaylistAddPayload{VideoID: "v1", Position: -1}))
	s = mustApply(t, s, NewOperation(KindPlaylistAdd, "u1", 1200, PlaylistAddPayload{VideoID: "v2", Position: -1}))

	// removedVideoPosition no longer matches (stale), but videoId matches at index 0.
	s = mustApply(t, s, NewOperation(KindPlaylistRemove, "u1", 1300, PlaylistRemovePayload{VideoID: "v1", RemovedVideoPosition: 5}))
	require.Len(t, s.Playlist, 1)
	assert.Equal(t, "v2", s.Playlist[0].VideoID)

	// no match at all: no-op.
	before := s
	s = mustApply(t, s, NewOperation(KindPlaylistRemove, "u1", 1400, PlaylistRemovePayload{VideoID: "missing", RemovedVideoPosition: 0}))
	assert.Equal(t, before, s)
}

func TestChatOverflowTruncatesOldest(t *testing.T) {
	s := seedState("ABC123")
	s = mustApply(t, s, NewOperation(KindRoomCreate, "u1", 1000, RoomCreatePayload{Username: "Alice"}))

	for i := 0; i < MaxChatLog; i++ {
		s = mustApply(t, s, NewOperation(KindChatMessage, "u1", int64(2000+i), ChatMessagePayload{Text: "hi"}))
	}
	require.Len(t, s.ChatLog, MaxChatLog)
	oldestID := s.ChatLog[0].ID

	s = mustApply(t, s, NewOperation(KindChatMessage, "u1", int64(2000+MaxChatLog), ChatMessagePayload{Text: "overflow"}))
	require.Len(t, s.ChatLog, MaxChatLog)

	for _, m := range s.ChatLog {
		assert.NotEqual(t, oldestID, m.ID, "oldest message must be evicted")
	}
}

func TestChatTextBoundary(t *testing.T) {
	s := seedState("ABC123")
	s = mustApply(t, s, NewOperation(KindRoomCreate, "u1", 1000, RoomCreatePayload{Username: "Alice"}))

	text500 := make([]byte, 500)
	for i := range text500 {
		text500[i] = 'a'
	}
	s = mustApply(t, s, NewOperation(KindChatMessage, "u1", 2000, ChatMessagePayload{Text: string(text500)}))
	require.Len(t, s.ChatLog, 1)
	assert.Len(t, s.ChatLog[0].Text, 500)
	// Rejecting 501+ chars is the wire codec's job (§4.1), not the RSM's —
	// Apply accepts any string it's handed.
}
