package collab

import (
	"net/http"
	"time"

	"NProject/logger"
	"NProject/tools/ids"
	"NProject/tools/safe"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pingPeriod     = 25 * time.Second
	maxMessageSize = 1 << 20
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server accepts websocket upgrades and runs one read loop plus one write
// pump per connection. All document and presence work happens in the frame
// handlers; the server only moves bytes and tracks liveness.
type Server struct {
	ctx  *Context
	disp *Dispatcher
}

func NewServer(ctx *Context, disp *Dispatcher) *Server {
	return &Server{ctx: ctx, disp: disp}
}

// HandleWS is the gin endpoint for GET /ws.
func (s *Server) HandleWS(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logger.Warnf("[ws] upgrade failed remote=%s err=%v", c.ClientIP(), err)
		return
	}

	sid := ids.GenerateString()
	w, err := s.ctx.Mgr.Add(sid, conn)
	if err != nil {
		_ = conn.Close()
		return
	}
	s.ctx.Reg.Register(sid)
	s.ctx.Mgr.AttachPongHandler(conn, sid)
	logger.Infof("[ws] connect session=%s remote=%s", sid, w.Remote)

	safe.SafeGo(func() { s.writePump(w) })
	s.readLoop(w)
}

// readLoop consumes frames until the socket dies, then tears the session
// down. Teardown through Unregister also releases any room membership.
func (s *Server) readLoop(w *WsConn) {
	defer func() {
		logger.Infof("[ws] disconnect session=%s user=%s", w.SessionID, w.UserID)
		s.ctx.Reg.Unregister(w.SessionID)
		s.ctx.Mgr.Remove(w.SessionID)
	}()

	w.Conn.SetReadLimit(maxMessageSize)

	for {
		_, raw, err := w.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Warnf("[ws] read error session=%s err=%v", w.SessionID, err)
			}
			return
		}

		s.ctx.Mgr.Touch(w.SessionID)
		s.ctx.Reg.Heartbeat(w.SessionID)

		frame, err := ParseFrame(raw)
		if err != nil {
			s.ctx.Bc.SendToSession(w.SessionID, EventRoomError, ErrorPayloadOf(err))
			continue
		}

		h, ok := s.disp.GetHandler(frame.Event)
		if !ok {
			continue
		}
		if err := h.Handle(s.ctx, frame, w); err != nil {
			logger.Infof("[ws] handler error session=%s event=%s err=%v", w.SessionID, frame.Event, err)
			s.ctx.Bc.SendToSession(w.SessionID, EventRoomError, ErrorPayloadFor(err, frame.Seq))
		}
	}
}

// writePump drains the connection's queue and keeps the socket alive with
// pings. Exits when the manager closes the SendChan.
func (s *Server) writePump(w *WsConn) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		closeQuiet(w.Conn)
	}()

	for {
		select {
		case data, ok := <-w.SendChan:
			_ = w.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = w.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := w.Conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = w.Conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := w.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
