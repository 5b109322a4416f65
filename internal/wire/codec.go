// Package wire implements the framed JSON codec shared by the client link
// and the inter-node RPC link (§4.1/§6). It never panics on the hot path:
// every failure is a typed DecodeError with a short reason, so a gateway or
// transport handler can log it and keep the connection open.
package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"unicode/utf8"
)

// DefaultMaxFrameBytes is the default frame size cap (§4.1).
const DefaultMaxFrameBytes = 64 * 1024

// MaxChatText is the hard cap on CHAT_MESSAGE.messageText length (§4.1).
const MaxChatText = 500

// DecodeError is returned for every codec-level failure: oversize frames,
// malformed JSON, unknown top-level fields, and oversize chat text.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string { return "wire: decode error: " + e.Reason }

// Frame is the wire shape of every client-link message: a type tag plus an
// opaque payload. RPC bodies use Envelope (rpc.go) instead.
type Frame struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Decode parses raw into a Frame, enforcing the size cap and strict
// unknown-field rejection at the top level. maxBytes <= 0 uses
// DefaultMaxFrameBytes.
func Decode(raw []byte, maxBytes int) (Frame, error) {
	if maxBytes <= 0 {
		maxBytes = DefaultMaxFrameBytes
	}
	if len(raw) > maxBytes {
		return Frame{}, &DecodeError{Reason: fmt.Sprintf("frame exceeds %d bytes", maxBytes)}
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()

	var f Frame
	if err := dec.Decode(&f); err != nil {
		return Frame{}, &DecodeError{Reason: "malformed json: " + err.Error()}
	}
	if dec.More() {
		return Frame{}, &DecodeError{Reason: "trailing data after frame"}
	}

	if f.Type == "" {
		return Frame{}, &DecodeError{Reason: "missing type"}
	}

	return f, nil
}

// Encode serializes a Frame back to bytes.
func Encode(f Frame) ([]byte, error) {
	return json.Marshal(f)
}

// DecodePayload strictly unmarshals a frame's payload into dst.
func DecodePayload(f Frame, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(f.Payload))
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		return &DecodeError{Reason: fmt.Sprintf("malformed %s payload: %s", f.Type, err)}
	}

	return nil
}

// DecodeRawPayload strictly unmarshals a bare payload (as handed to a
// wsrouter handler, which only receives the payload, not the enclosing
// Frame) into dst. typeName is used for the error message only.
func DecodeRawPayload(raw json.RawMessage, typeName string, dst any) error {
	return DecodePayload(Frame{Type: typeName, Payload: raw}, dst)
}

// CheckChatText enforces the 500-character cap on chat text independent of
// struct decoding, since the cap is a codec-level concern (§4.1), not an RSM
// concern (the RSM accepts whatever text it is handed).
func CheckChatText(text string) error {
	if utf8.RuneCountInString(text) > MaxChatText {
		return &DecodeError{Reason: fmt.Sprintf("chat text exceeds %d characters", MaxChatText)}
	}
	return nil
}
