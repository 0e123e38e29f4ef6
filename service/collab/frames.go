package collab

import (
	"encoding/json"
	"fmt"

	"NProject/service/ot"
	"NProject/tools/errs"
)

// Wire events. Inbound frames come from clients, outbound frames are what the
// core pushes back; the shapes below are the whole transport boundary.
const (
	EventRoomJoin     = "room:join"
	EventRoomLeave    = "room:leave"
	EventDocOperation = "document:operation"
	EventDocCursor    = "document:cursor"
	EventPing         = "ping"

	EventRoomUsers   = "room:users"
	EventUserJoined  = "user:joined"
	EventUserLeft    = "user:left"
	EventDocAck      = "document:ack"
	EventDocSync     = "document:sync"
	EventRoomError   = "room:error"
	EventRoomWarning = "room:warning"
	EventPong        = "pong"
)

// Frame is one inbound websocket message.
type Frame struct {
	Event   string         `json:"event"`
	Seq     int64          `json:"seq,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

func ParseFrame(raw []byte) (*Frame, error) {
	frame := &Frame{}
	if err := json.Unmarshal(raw, frame); err != nil {
		return nil, fmt.Errorf("unmarshal frame failed: %w", err)
	}
	if frame.Event == "" {
		return nil, fmt.Errorf("frame has no event")
	}
	return frame, nil
}

type outboundFrame struct {
	Event   string `json:"event"`
	Payload any    `json:"payload,omitempty"`
}

// EncodeFrame builds the outbound wire form of an event.
func EncodeFrame(event string, payload any) []byte {
	raw, err := json.Marshal(outboundFrame{Event: event, Payload: payload})
	if err != nil {
		// payloads are our own structs; a marshal failure is a programming error
		raw, _ = json.Marshal(outboundFrame{
			Event:   EventRoomError,
			Payload: ErrorPayload{Code: errs.InvalidOperationCode, Message: "encode failed"},
		})
	}
	return raw
}

// ---- inbound payloads ----

type JoinPayload struct {
	NoteID string `json:"note_id"`
	Token  string `json:"token"`
}

type LeavePayload struct {
	NoteID string `json:"note_id"`
}

// OperationDTO is the client's loose operation form; it is narrowed into the
// closed ot.Operation variant before it touches a room.
type OperationDTO struct {
	Kind      string `json:"kind"`
	Pos       int    `json:"pos"`
	Text      string `json:"text,omitempty"`
	Len       int    `json:"len,omitempty"`
	ClientSeq int64  `json:"client_seq"`
}

type OperationPayload struct {
	NoteID      string       `json:"note_id"`
	FromVersion int64        `json:"from_version"`
	Op          OperationDTO `json:"op"`
}

// ToOperation narrows the DTO; author and origin version come from the
// session, never from the client payload.
func (d OperationDTO) ToOperation(authorID string, fromVersion int64) (ot.Operation, error) {
	kind, ok := ot.KindOf(d.Kind)
	if !ok {
		return ot.Operation{}, errs.ErrInvalidOperation.WrapMsg("unknown kind", "kind", d.Kind)
	}
	op := ot.Operation{
		Kind:          kind,
		Pos:           d.Pos,
		Text:          d.Text,
		Len:           d.Len,
		OriginVersion: fromVersion,
		AuthorID:      authorID,
		ClientSeq:     d.ClientSeq,
	}
	if op.Pos < 0 || op.Len < 0 {
		return ot.Operation{}, errs.ErrInvalidOperation.WrapMsg("negative position or length")
	}
	return op, nil
}

type CursorPayload struct {
	NoteID string `json:"note_id"`
	Cursor Cursor `json:"cursor"`
}

// ---- outbound payloads ----

type SyncPayload struct {
	NoteID  string `json:"note_id"`
	Content string `json:"content"`
	Version int64  `json:"version"`
}

type AckPayload struct {
	NoteID    string `json:"note_id"`
	Version   int64  `json:"version"`
	ClientSeq int64  `json:"client_seq"`
}

type OperationBroadcast struct {
	NoteID   string         `json:"note_id"`
	Version  int64          `json:"version"`
	AuthorID string         `json:"author_id"`
	Ops      []ot.Operation `json:"ops"`
}

type UsersPayload struct {
	NoteID string          `json:"note_id"`
	Users  []PresenceEntry `json:"users"`
}

type UserJoinedPayload struct {
	NoteID string `json:"note_id"`
	UserID string `json:"user_id"`
}

type UserLeftPayload struct {
	NoteID string `json:"note_id"`
	UserID string `json:"user_id"`
}

type ErrorPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Seq     int64  `json:"seq,omitempty"`
}

type WarningPayload struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ErrorPayloadOf maps any error onto the wire error shape.
func ErrorPayloadOf(err error) ErrorPayload {
	if ce, ok := errs.CodeOf(err); ok {
		msg := ce.Msg
		if ce.Detail != "" {
			msg = ce.Msg + ": " + ce.Detail
		}
		return ErrorPayload{Code: ce.Code, Message: msg}
	}
	return ErrorPayload{Code: errs.InvalidOperationCode, Message: err.Error()}
}

// ErrorPayloadFor additionally echoes the client's frame seq so the sender
// can correlate the rejection with the request that caused it.
func ErrorPayloadFor(err error, seq int64) ErrorPayload {
	p := ErrorPayloadOf(err)
	p.Seq = seq
	return p
}
