package handlers

import (
	"NProject/service/collab"
	"NProject/tools/decode"
	"NProject/tools/errs"
)

// CursorHandler records caret moves; broadcasts are coalesced by the
// registry, so a typing burst does not flood the room.
type CursorHandler struct{}

func NewCursorHandler() *CursorHandler { return &CursorHandler{} }

func (h *CursorHandler) Event() string { return collab.EventDocCursor }

func (h *CursorHandler) Handle(ctx *collab.Context, frame *collab.Frame, conn *collab.WsConn) error {
	p, err := decode.DecodeMap[collab.CursorPayload](frame.Payload)
	if err != nil {
		return errs.ErrInvalidOperation.WrapMsg("bad cursor payload")
	}
	ctx.Reg.UpdateCursor(conn.SessionID, p.NoteID, p.Cursor)
	return nil
}
