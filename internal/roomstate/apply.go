package roomstate

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// ErrDeterminismViolation wraps any failure inside Apply. Per §7.4 of the
// spec this is never expected in production; the Raft group that sees it
// must mark the room unhealthy and stop applying further entries rather than
// risk divergent state.
type ErrDeterminismViolation struct {
	Kind Kind
	Err  error
}

func (e *ErrDeterminismViolation) Error() string {
	return fmt.Sprintf("roomstate: determinism violation applying %s: %s", e.Kind, e.Err)
}

func (e *ErrDeterminismViolation) Unwrap() error { return e.Err }

// Apply is the sole entry point into the state machine: (state, operation)
// -> state'. It never mutates its input and never consults a clock or the
// network.
func Apply(state State, op Operation) (State, error) {
	switch op.Kind {
	case KindRoomCreate:
		return applyRoomCreate(state, op)
	case KindRoomJoin:
		return applyRoomJoin(state, op)
	case KindRoomLeave:
		return applyRoomLeave(state, op)
	case KindPlaybackPlay:
		return applyPlaybackPlay(state, op)
	case KindPlaybackPause:
		return applyPlaybackPause(state, op)
	case KindPlaybackSeek:
		return applyPlaybackSeek(state, op)
	case KindPlaylistAdd:
		return applyPlaylistAdd(state, op)
	case KindPlaylistRemove:
		return applyPlaylistRemove(state, op)
	case KindChatMessage:
		return applyChatMessage(state, op)
	default:
		return state, &ErrDeterminismViolation{Kind: op.Kind, Err: fmt.Errorf("unknown operation kind")}
	}
}

func decode[T any](op Operation) (T, error) {
	var payload T
	if len(op.Payload) == 0 {
		return payload, nil
	}
	if err := json.Unmarshal(op.Payload, &payload); err != nil {
		return payload, err
	}
	return payload, nil
}

func applyRoomCreate(state State, op Operation) (State, error) {
	if state.created() {
		// idempotent: a second ROOM_CREATE on an already-created room is a no-op.
		return state, nil
	}

	payload, err := decode[RoomCreatePayload](op)
	if err != nil {
		return state, &ErrDeterminismViolation{Kind: op.Kind, Err: err}
	}

	next := state.clone()
	next.Code = state.Code
	next.CreatedAt = op.SubmitTimestamp
	next.CreatedBy = op.OriginUserID
	next.Participants = []Participant{{
		UserID:    op.OriginUserID,
		Username:  payload.Username,
		JoinedAt:  op.SubmitTimestamp,
		IsCreator: true,
	}}
	next.Playlist = []PlaylistItem{}
	next.ChatLog = []ChatMessage{}

	return next, nil
}

func applyRoomJoin(state State, op Operation) (State, error) {
	if state.findParticipant(op.OriginUserID) >= 0 {
		// idempotent: already a participant.
		return state, nil
	}

	payload, err := decode[RoomJoinPayload](op)
	if err != nil {
		return state, &ErrDeterminismViolation{Kind: op.Kind, Err: err}
	}

	next := state.clone()
	next.Participants = append(next.Participants, Participant{
		UserID:    op.OriginUserID,
		Username:  payload.Username,
		JoinedAt:  op.SubmitTimestamp,
		IsCreator: false,
	})

	return next, nil
}

func applyRoomLeave(state State, op Operation) (State, error) {
	idx := state.findParticipant(op.OriginUserID)
	if idx < 0 {
		// idempotent: already absent.
		return state, nil
	}

	next := state.clone()
	next.Participants = append(next.Participants[:idx], next.Participants[idx+1:]...)
	// createdBy and the original creator's isCreator flag on any remaining
	// entry are untouched; isCreator is never transferred (§4.2).

	return next, nil
}

func applyPlaybackPlay(state State, op Operation) (State, error) {
	payload, err := decode[PlaybackPlayPayload](op)
	if err != nil {
		return state, &ErrDeterminismViolation{Kind: op.Kind, Err: err}
	}

	next := state.clone()
	videoID := payload.VideoID
	next.Playback = Playback{
		IsPlaying:       true,
		CurrentVideoID:  &videoID,
		PositionSeconds: payload.PositionSeconds,
		LastUpdated:     op.SubmitTimestamp,
	}

	return next, nil
}

func applyPlaybackPause(state State, op Operation) (State, error) {
	payload, err := decode[PlaybackPausePayload](op)
	if err != nil {
		return state, &ErrDeterminismViolation{Kind: op.Kind, Err: err}
	}

	next := state.clone()
	next.Playback.IsPlaying = false
	next.Playback.PositionSeconds = payload.PositionSeconds
	next.Playback.LastUpdated = op.SubmitTimestamp
	// CurrentVideoID preserved.

	return next, nil
}

func applyPlaybackSeek(state State, op Operation) (State, error) {
	payload, err := decode[PlaybackSeekPayload](op)
	if err != nil {
		return state, &ErrDeterminismViolation{Kind: op.Kind, Err: err}
	}

	next := state.clone()
	next.Playback.PositionSeconds = payload.NewPositionSeconds
	next.Playback.LastUpdated = op.SubmitTimestamp
	// IsPlaying preserved.

	return next, nil
}

func applyPlaylistAdd(state State, op Operation) (State, error) {
	payload, err := decode[PlaylistAddPayload](op)
	if err != nil {
		return state, &ErrDeterminismViolation{Kind: op.Kind, Err: err}
	}

	next := state.clone()
	item := PlaylistItem{
		VideoID: payload.VideoID,
		Title:   payload.Title,
		AddedBy: op.OriginUserID,
		AddedAt: op.SubmitTimestamp,
	}

	pos := payload.Position
	if pos < 0 || pos > len(next.Playlist) {
		pos = len(next.Playlist)
	}

	next.Playlist = append(next.Playlist, PlaylistItem{})
	copy(next.Playlist[pos+1:], next.Playlist[pos:])
	next.Playlist[pos] = item

	return next, nil
}

func applyPlaylistRemove(state State, op Operation) (State, error) {
	payload, err := decode[PlaylistRemovePayload](op)
	if err != nil {
		return state, &ErrDeterminismViolation{Kind: op.Kind, Err: err}
	}

	next := state.clone()

	pos := payload.RemovedVideoPosition
	if pos >= 0 && pos < len(next.Playlist) && next.Playlist[pos].VideoID == payload.VideoID {
		next.Playlist = append(next.Playlist[:pos], next.Playlist[pos+1:]...)
		return next, nil
	}

	// concurrent edit: position is stale, fall back to first match from the head.
	for i, v := range next.Playlist {
		if v.VideoID == payload.VideoID {
			next.Playlist = append(next.Playlist[:i], next.Playlist[i+1:]...)
			return next, nil
		}
	}

	// no match at all: no-op.
	return next, nil
}

func applyChatMessage(state State, op Operation) (State, error) {
	payload, err := decode[ChatMessagePayload](op)
	if err != nil {
		return state, &ErrDeterminismViolation{Kind: op.Kind, Err: err}
	}

	next := state.clone()
	next.ChatLog = append(next.ChatLog, ChatMessage{
		ID:        strconv.FormatInt(op.SubmitTimestamp, 10) + "-" + op.OriginUserID,
		UserID:    op.OriginUserID,
		Text:      payload.Text,
		Timestamp: op.SubmitTimestamp,
	})

	if len(next.ChatLog) > MaxChatLog {
		next.ChatLog = next.ChatLog[len(next.ChatLog)-MaxChatLog:]
	}

	return next, nil
}
