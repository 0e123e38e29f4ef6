package handlers

import (
	"NProject/service/collab"
	"NProject/tools/decode"
	"NProject/tools/errs"
)

// OperationHandler feeds one client edit into the note's room and acks the
// sender with the version their edit landed as.
type OperationHandler struct{}

func NewOperationHandler() *OperationHandler { return &OperationHandler{} }

func (h *OperationHandler) Event() string { return collab.EventDocOperation }

func (h *OperationHandler) Handle(ctx *collab.Context, frame *collab.Frame, conn *collab.WsConn) error {
	p, err := decode.DecodeMap[collab.OperationPayload](frame.Payload)
	if err != nil {
		return errs.ErrInvalidOperation.WrapMsg("bad operation payload")
	}

	sess, ok := ctx.Reg.Get(conn.SessionID)
	if !ok || sess.UserID == "" || sess.NoteID != p.NoteID {
		return errs.ErrStaleSession.WrapMsg("session is not in this room", "note", p.NoteID)
	}

	op, err := p.Op.ToOperation(sess.UserID, p.FromVersion)
	if err != nil {
		return err
	}

	version, err := ctx.Rooms.Submit(p.NoteID, conn.SessionID, p.FromVersion, op)
	if err != nil {
		return err
	}

	ctx.Bc.SendToSession(conn.SessionID, collab.EventDocAck, collab.AckPayload{
		NoteID:    p.NoteID,
		Version:   version,
		ClientSeq: p.Op.ClientSeq,
	})
	return nil
}
