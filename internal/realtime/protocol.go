package realtime

import (
	"encoding/json"
	"fmt"
	"strconv"

	"slidecollab/internal/models"
)

// Client to server operations
const (
	TypeJoinBoard = "JoinBoard"
	TypeModify    = "Modify"
	TypeSaveSvg   = "SaveSvg"
)

// Server to client messages
const (
	TypeUpdateDrawing       = "UpdateDrawing"
	TypeSvgSaved            = "SvgSaved"
	TypeSaveSuccessful      = "SaveSuccessful"
	TypeError               = "Error"
	TypeReceiveUserJoinInfo = "ReceiveUserJoinInfo"
	TypeCompletion          = "Completion"
)

// Envelope is the JSON frame exchanged in both directions. ID is set by a
// caller that expects a Completion for its invocation.
type Envelope struct {
	Type string            `json:"type"`
	ID   string            `json:"id,omitempty"`
	Args []json.RawMessage `json:"args,omitempty"`
}

// Encode builds a frame of msgType with args
func Encode(msgType string, args ...any) ([]byte, error) {
	return EncodeInvocation("", msgType, args...)
}

// EncodeInvocation builds a frame whose sender expects a Completion carrying id
func EncodeInvocation(id string, msgType string, args ...any) ([]byte, error) {
	envelope := Envelope{
		Type: msgType,
		ID:   id,
	}
	for _, arg := range args {
		raw, err := json.Marshal(arg)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s argument: %w", msgType, err)
		}
		envelope.Args = append(envelope.Args, raw)
	}
	return json.Marshal(envelope)
}

// EncodeCompletion answers the invocation id with result
func EncodeCompletion(id string, result any) ([]byte, error) {
	raw, err := json.Marshal(result)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal completion: %w", err)
	}
	return json.Marshal(Envelope{
		Type: TypeCompletion,
		ID:   id,
		Args: []json.RawMessage{raw},
	})
}

// Decode parses a frame
func Decode(data []byte) (*Envelope, error) {
	var envelope Envelope
	if err := json.Unmarshal(data, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %s", models.ErrInvalidFormat, err)
	}
	if envelope.Type == "" {
		return nil, fmt.Errorf("%w: missing message type", models.ErrInvalidFormat)
	}
	return &envelope, nil
}

// StringArg returns argument i as text. Numbers are accepted and rendered in
// decimal, so a slide id may be sent either way. A missing argument is "".
func (e *Envelope) StringArg(i int) (string, error) {
	if i >= len(e.Args) {
		return "", nil
	}
	raw := e.Args[i]

	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		return text, nil
	}
	var number json.Number
	if err := json.Unmarshal(raw, &number); err == nil {
		return number.String(), nil
	}
	if string(raw) == "null" {
		return "", nil
	}
	return "", fmt.Errorf("%w: argument %d of %s is not a string", models.ErrInvalidFormat, i, e.Type)
}

// RoomKey normalizes a room identifier. Slide ids are rooms, so "007" and 7
// name the same room.
func RoomKey(key string) string {
	if id, err := strconv.ParseInt(key, 10, 64); err == nil && id > 0 {
		return strconv.FormatInt(id, 10)
	}
	return key
}

// SlideRoom is the room of a slide
func SlideRoom(slideID int64) string {
	return strconv.FormatInt(slideID, 10)
}
