package handlers

import (
	"NProject/service/collab"
	"NProject/tools/decode"
	"NProject/tools/errs"
)

// LeaveHandler removes the session from a room without closing the socket.
type LeaveHandler struct{}

func NewLeaveHandler() *LeaveHandler { return &LeaveHandler{} }

func (h *LeaveHandler) Event() string { return collab.EventRoomLeave }

func (h *LeaveHandler) Handle(ctx *collab.Context, frame *collab.Frame, conn *collab.WsConn) error {
	p, err := decode.DecodeMap[collab.LeavePayload](frame.Payload)
	if err != nil {
		return errs.ErrInvalidOperation.WrapMsg("bad leave payload")
	}
	if p.NoteID == "" {
		return errs.ErrInvalidOperation.WrapMsg("note_id is required")
	}

	ctx.Reg.UnbindRoom(conn.SessionID, p.NoteID)
	ctx.Rooms.Leave(p.NoteID, conn.SessionID)
	ctx.Reg.FlushPresence(p.NoteID)
	return nil
}
