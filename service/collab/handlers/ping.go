package handlers

import (
	"NProject/service/collab"
)

// PingHandler answers application-level keepalives.
type PingHandler struct{}

func NewPingHandler() *PingHandler { return &PingHandler{} }

func (h *PingHandler) Event() string { return collab.EventPing }

func (h *PingHandler) Handle(ctx *collab.Context, frame *collab.Frame, conn *collab.WsConn) error {
	ctx.Reg.Heartbeat(conn.SessionID)
	ctx.Bc.SendToSession(conn.SessionID, collab.EventPong, nil)
	return nil
}
