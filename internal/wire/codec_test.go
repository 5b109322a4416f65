package wire

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeRoundTrip(t *testing.T) {
	msg := RoomJoinMsg{RoomCode: "ABC123", UserID: "u2", Username: "Bob"}
	payloadRaw, err := json.Marshal(msg)
	require.NoError(t, err)

	raw, err := Encode(Frame{Type: TypeRoomJoin, Payload: payloadRaw})
	require.NoError(t, err)

	f, err := Decode(raw, 0)
	require.NoError(t, err)
	assert.Equal(t, TypeRoomJoin, f.Type)

	var decoded RoomJoinMsg
	require.NoError(t, DecodePayload(f, &decoded))
	assert.Equal(t, msg, decoded)
}

func TestDecodeRejectsOversizeFrame(t *testing.T) {
	raw := []byte(`{"type":"CHAT_MESSAGE","payload":{}}`)
	_, err := Decode(raw, 4)
	require.Error(t, err)
	var de *DecodeError
	require.ErrorAs(t, err, &de)
}

func TestDecodeRejectsUnknownTopLevelField(t *testing.T) {
	raw := []byte(`{"type":"CHAT_MESSAGE","payload":{},"extra":1}`)
	_, err := Decode(raw, 0)
	require.Error(t, err)
}

func TestDecodeRejectsTrailingData(t *testing.T) {
	raw := []byte(`{"type":"CHAT_MESSAGE","payload":{}}{"type":"CHAT_MESSAGE","payload":{}}`)
	_, err := Decode(raw, 0)
	require.Error(t, err)
}

func TestDecodeRejectsMissingType(t *testing.T) {
	raw := []byte(`{"payload":{}}`)
	_, err := Decode(raw, 0)
	require.Error(t, err)
}

func TestDecodePayloadRejectsUnknownField(t *testing.T) {
	f := Frame{Type: TypeRoomLeave, Payload: []byte(`{"roomCode":"ABC123","userId":"u1","bogus":true}`)}
	var msg RoomLeaveMsg
	err := DecodePayload(f, &msg)
	require.Error(t, err)
}

func TestCheckChatText(t *testing.T) {
	require.NoError(t, CheckChatText(strings.Repeat("a", 500)))
	require.Error(t, CheckChatText(strings.Repeat("a", 501)))
}
