package handlers

import (
	"context"
	"time"

	"NProject/service/collab"
	"NProject/tools/decode"
	"NProject/tools/errs"
)

const joinTimeout = 5 * time.Second

// JoinHandler admits a session into a note's room: token check, permission
// resolution, room membership, then a full snapshot for the newcomer.
type JoinHandler struct{}

func NewJoinHandler() *JoinHandler { return &JoinHandler{} }

func (h *JoinHandler) Event() string { return collab.EventRoomJoin }

func (h *JoinHandler) Handle(ctx *collab.Context, frame *collab.Frame, conn *collab.WsConn) error {
	p, err := decode.DecodeMap[collab.JoinPayload](frame.Payload)
	if err != nil {
		return errs.ErrInvalidOperation.WrapMsg("bad join payload")
	}
	if p.NoteID == "" || p.Token == "" {
		return errs.ErrInvalidOperation.WrapMsg("note_id and token are required")
	}

	reqCtx, cancel := context.WithTimeout(context.Background(), joinTimeout)
	defer cancel()

	userID, perm, err := ctx.Gate.AuthorizeJoin(reqCtx, p.Token, p.NoteID)
	if err != nil {
		return err
	}

	ctx.Reg.Authenticate(conn.SessionID, userID, perm)
	ctx.Mgr.SetUser(conn.SessionID, userID)

	prev := ctx.Reg.BindToRoom(conn.SessionID, p.NoteID)
	if prev != "" && prev != p.NoteID {
		ctx.Rooms.Leave(prev, conn.SessionID)
		ctx.Reg.FlushPresence(prev)
	}

	content, version, err := ctx.Rooms.Join(reqCtx, p.NoteID, collab.Member{
		SessionID:  conn.SessionID,
		UserID:     userID,
		Permission: perm,
	})
	if err != nil {
		ctx.Reg.UnbindRoom(conn.SessionID, p.NoteID)
		return err
	}

	ctx.Bc.SendToSession(conn.SessionID, collab.EventDocSync, collab.SyncPayload{
		NoteID:  p.NoteID,
		Content: content,
		Version: version,
	})
	ctx.Reg.FlushPresence(p.NoteID)
	return nil
}
