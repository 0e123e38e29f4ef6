package collab

import (
	"NProject/service/ot"
)

// Cursor is one member's caret and optional selection range.
type Cursor struct {
	Pos      int  `json:"pos"`
	SelStart *int `json:"sel_start,omitempty"`
	SelEnd   *int `json:"sel_end,omitempty"`
}

// PresenceEntry is the per-user slice of a room's presence set.
type PresenceEntry struct {
	UserID string `json:"user_id"`
	Cursor Cursor `json:"cursor"`
}

// Broadcaster is the injected send capability. Rooms and the registry never
// reach through a global socket server; they hold one of these.
type Broadcaster interface {
	SendToSession(sessionID, event string, payload any)
	SendToRoom(noteID, event string, payload any, except ...string)
}

// OperationSink receives every applied operation, e.g. a Kafka audit trail.
type OperationSink interface {
	Append(noteID string, version int64, op ot.Operation)
}

// EventTap mirrors room broadcasts to an out-of-process bus (NATS relay).
type EventTap interface {
	Publish(noteID, event string, payload any)
}

// Context carries the wired core services into frame handlers.
type Context struct {
	Reg   *SessionRegistry
	Rooms *RoomTable
	Gate  *Gate
	Mgr   *ConnManager
	Bc    Broadcaster
}
