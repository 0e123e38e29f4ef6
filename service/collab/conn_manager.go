package collab

import (
	"errors"
	"net"
	"sync"
	"time"

	"NProject/logger"

	"github.com/gorilla/websocket"
)

// ===== configuration =====

type ManagerConf struct {
	ConnTTL    time.Duration    // heartbeat TTL; expired conns are swept
	SweepEvery time.Duration    // sweep period
	SendBuffer int              // per-connection outbound queue length
	Clock      func() time.Time // injectable clock (tests); nil => time.Now
}

func (c *ManagerConf) norm() {
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.SweepEvery <= 0 {
		c.SweepEvery = 10 * time.Second
	}
	if c.ConnTTL <= 0 {
		c.ConnTTL = 90 * time.Second
	}
	if c.SendBuffer <= 0 {
		c.SendBuffer = 256
	}
}

// ===== data =====

// WsConn is one live websocket. SessionID doubles as the session registry
// key; one session per socket.
type WsConn struct {
	SessionID string
	UserID    string

	Conn   *websocket.Conn
	Remote net.Addr

	SendChan chan []byte // per-connection outbound queue, drained by the write pump

	CreatedAt time.Time
	UpdatedAt time.Time
	Heartbeat time.Time
	ExpireAt  time.Time
}

// ConnManager indexes live sockets by session id and sweeps expired ones.
// It owns each connection's SendChan; senders never write to a socket
// directly.
type ConnManager struct {
	mu        sync.RWMutex
	bySession map[string]*WsConn

	conf     ManagerConf
	stopOnce sync.Once
	stopCh   chan struct{}
	nodeID   string
}

func NewConnManager(conf ManagerConf, nodeID string) *ConnManager {
	conf.norm()
	m := &ConnManager{
		bySession: make(map[string]*WsConn),
		conf:      conf,
		nodeID:    nodeID,
		stopCh:    make(chan struct{}),
	}
	go m.sweeper()
	return m
}

func (m *ConnManager) NodeID() string { return m.nodeID }

func (m *ConnManager) Close() {
	m.stopOnce.Do(func() { close(m.stopCh) })
	m.mu.Lock()
	defer m.mu.Unlock()
	for sid, w := range m.bySession {
		delete(m.bySession, sid)
		close(w.SendChan)
		closeQuiet(w.Conn)
	}
}

// Add registers a freshly upgraded socket under sessionID.
func (m *ConnManager) Add(sessionID string, conn *websocket.Conn) (*WsConn, error) {
	if sessionID == "" || conn == nil {
		return nil, errors.New("sessionID/conn empty")
	}
	now := m.conf.Clock()
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.bySession[sessionID]; exists {
		return nil, errors.New("sessionID exists")
	}

	w := &WsConn{
		SessionID: sessionID,
		Conn:      conn,
		Remote:    conn.RemoteAddr(),
		SendChan:  make(chan []byte, m.conf.SendBuffer),
		CreatedAt: now,
		UpdatedAt: now,
		Heartbeat: now,
		ExpireAt:  now.Add(m.conf.ConnTTL),
	}
	m.bySession[sessionID] = w
	return w, nil
}

func (m *ConnManager) Get(sessionID string) (*WsConn, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.bySession[sessionID]
	return w, ok
}

// SetUser records the authenticated user once the join token is verified.
func (m *ConnManager) SetUser(sessionID, userID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.bySession[sessionID]; ok {
		w.UserID = userID
		w.UpdatedAt = m.conf.Clock()
	}
}

// Touch refreshes the heartbeat and expiry of a connection.
func (m *ConnManager) Touch(sessionID string) {
	now := m.conf.Clock()
	m.mu.Lock()
	defer m.mu.Unlock()
	if w, ok := m.bySession[sessionID]; ok {
		w.Heartbeat = now
		w.ExpireAt = now.Add(m.conf.ConnTTL)
		w.UpdatedAt = now
	}
}

// AttachPongHandler renews the heartbeat on websocket pongs.
func (m *ConnManager) AttachPongHandler(conn *websocket.Conn, sessionID string) {
	if conn == nil || sessionID == "" {
		return
	}
	conn.SetPongHandler(func(appData string) error {
		m.Touch(sessionID) // the conn may have just been swept; Touch is a no-op then
		return nil
	})
}

// Remove closes and drops the connection for sessionID. SendChan is closed
// while holding the write lock so it cannot race a send in SendOne.
func (m *ConnManager) Remove(sessionID string) {
	m.mu.Lock()
	w, ok := m.bySession[sessionID]
	if ok {
		delete(m.bySession, sessionID)
		close(w.SendChan)
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	closeQuiet(w.Conn)
}

// SendOne queues a frame for one session. Never blocks: a client too slow to
// drain its queue loses frames and is expected to resync. The send happens
// under the read lock; every close of a SendChan holds the write lock, so a
// present map entry is a live channel.
func (m *ConnManager) SendOne(sessionID string, data []byte) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.bySession[sessionID]
	if !ok {
		return
	}
	select {
	case w.SendChan <- data:
	default:
		logger.Warnf("[ws] send queue full, drop frame session=%s user=%s", w.SessionID, w.UserID)
	}
}

// ===== sweeper =====

func (m *ConnManager) sweeper() {
	t := time.NewTicker(m.conf.SweepEvery)
	defer t.Stop()
	for {
		select {
		case <-m.stopCh:
			return
		case now := <-t.C:
			m.sweepOnce(now)
		}
	}
}

func (m *ConnManager) sweepOnce(now time.Time) {
	var expired []*WsConn

	m.mu.Lock()
	for sid, w := range m.bySession {
		if now.After(w.ExpireAt) {
			// SendChan closes under the lock, the socket closes outside it
			expired = append(expired, w)
			delete(m.bySession, sid)
			close(w.SendChan)
		}
	}
	m.mu.Unlock()

	for _, w := range expired {
		logger.Infof("[ws] sweep expired session=%s user=%s", w.SessionID, w.UserID)
		closeQuiet(w.Conn)
	}
}

func closeQuiet(c *websocket.Conn) {
	if c != nil {
		_ = c.Close()
	}
}
