package collab

import (
	"context"
	"sync"
	"time"

	"NProject/logger"
	"NProject/service/authz"
	"NProject/service/storage"
	"NProject/tools/safe"
)

type RegistryConf struct {
	SessionTTL     time.Duration    // liveness window refreshed by any inbound frame
	SweepEvery     time.Duration    // stale-session sweep period
	CursorInterval time.Duration    // presence broadcast coalescing window
	Clock          func() time.Time // injectable clock (tests); nil => time.Now
}

func (c *RegistryConf) norm() {
	if c.Clock == nil {
		c.Clock = time.Now
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = 90 * time.Second
	}
	if c.SweepEvery <= 0 {
		c.SweepEvery = 10 * time.Second
	}
	if c.CursorInterval <= 0 {
		c.CursorInterval = 50 * time.Millisecond
	}
}

// Session is one authenticated websocket's collaborative state. A session is
// bound to at most one note at a time; joining another note leaves the first.
type Session struct {
	SessionID  string
	UserID     string
	NoteID     string
	Permission authz.Permission
	Cursor     Cursor
	LastSeen   time.Time
}

// SessionRegistry tracks who is connected, which note they edit and where
// their cursor is. It owns presence broadcasts; rooms own document state.
type SessionRegistry struct {
	mu        sync.Mutex
	bySession map[string]*Session
	byNote    map[string]map[string]*Session // noteID -> sessionID -> session

	// per-note presence flush coalescing
	flushScheduled map[string]bool

	conf     RegistryConf
	nodeID   string
	stopOnce sync.Once
	stopCh   chan struct{}

	// wired after construction via Attach
	bc    Broadcaster
	rooms *RoomTable
	mgr   *ConnManager
}

func NewSessionRegistry(conf RegistryConf, nodeID string) *SessionRegistry {
	conf.norm()
	return &SessionRegistry{
		bySession:      make(map[string]*Session),
		byNote:         make(map[string]map[string]*Session),
		flushScheduled: make(map[string]bool),
		conf:           conf,
		nodeID:         nodeID,
		stopCh:         make(chan struct{}),
	}
}

// Attach wires the send path and the room table. The registry, broadcaster
// and room table reference each other, so construction happens in two steps.
func (r *SessionRegistry) Attach(bc Broadcaster, rooms *RoomTable, mgr *ConnManager) {
	r.bc = bc
	r.rooms = rooms
	r.mgr = mgr
}

func (r *SessionRegistry) Start() {
	go r.sweeper()
}

func (r *SessionRegistry) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

// Register creates an unauthenticated session for a fresh socket.
func (r *SessionRegistry) Register(sessionID string) *Session {
	s := &Session{SessionID: sessionID, LastSeen: r.conf.Clock()}
	r.mu.Lock()
	r.bySession[sessionID] = s
	r.mu.Unlock()
	return s
}

// Authenticate records the verified user and granted permission.
func (r *SessionRegistry) Authenticate(sessionID, userID string, perm authz.Permission) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.bySession[sessionID]; ok {
		s.UserID = userID
		s.Permission = perm
	}
}

func (r *SessionRegistry) Get(sessionID string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.bySession[sessionID]
	return s, ok
}

// Heartbeat refreshes session liveness.
func (r *SessionRegistry) Heartbeat(sessionID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.bySession[sessionID]; ok {
		s.LastSeen = r.conf.Clock()
	}
}

// BindToRoom attaches the session to a note's presence set. Any previous
// binding is released first.
func (r *SessionRegistry) BindToRoom(sessionID, noteID string) (prevNote string) {
	r.mu.Lock()
	s, ok := r.bySession[sessionID]
	if !ok {
		r.mu.Unlock()
		return ""
	}
	prevNote = s.NoteID
	if prevNote != "" && prevNote != noteID {
		r.dropFromNoteLocked(prevNote, sessionID)
	}
	s.NoteID = noteID
	s.Cursor = Cursor{}
	set := r.byNote[noteID]
	if set == nil {
		set = make(map[string]*Session)
		r.byNote[noteID] = set
	}
	set[sessionID] = s
	userID := s.UserID
	r.mu.Unlock()

	safe.SafeGo(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := storage.PresenceOnline(ctx, noteID, userID, r.nodeID, r.conf.SessionTTL); err != nil {
			logger.Warnf("[session] presence online failed note=%s user=%s err=%v", noteID, userID, err)
		}
	})
	return prevNote
}

// UnbindRoom detaches the session from the note's presence set.
func (r *SessionRegistry) UnbindRoom(sessionID, noteID string) {
	r.mu.Lock()
	s, ok := r.bySession[sessionID]
	if ok && s.NoteID == noteID {
		s.NoteID = ""
		s.Cursor = Cursor{}
	}
	r.dropFromNoteLocked(noteID, sessionID)
	var userID string
	if ok {
		userID = s.UserID
	}
	r.mu.Unlock()

	if userID != "" {
		safe.SafeGo(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = storage.PresenceOffline(ctx, noteID, userID)
		})
	}
}

// caller holds r.mu
func (r *SessionRegistry) dropFromNoteLocked(noteID, sessionID string) {
	if set := r.byNote[noteID]; set != nil {
		delete(set, sessionID)
		if len(set) == 0 {
			delete(r.byNote, noteID)
		}
	}
}

// UpdateCursor records the caret position and schedules one coalesced
// presence broadcast. Bursts of cursor moves inside the window collapse into
// a single room:users frame.
func (r *SessionRegistry) UpdateCursor(sessionID, noteID string, cur Cursor) {
	r.mu.Lock()
	s, ok := r.bySession[sessionID]
	if !ok || s.NoteID != noteID {
		r.mu.Unlock()
		return
	}
	s.Cursor = cur
	s.LastSeen = r.conf.Clock()
	already := r.flushScheduled[noteID]
	if !already {
		r.flushScheduled[noteID] = true
	}
	r.mu.Unlock()

	if already {
		return
	}
	time.AfterFunc(r.conf.CursorInterval, func() {
		r.mu.Lock()
		delete(r.flushScheduled, noteID)
		r.mu.Unlock()
		r.FlushPresence(noteID)
	})
}

// Presence returns the note's current presence set sorted by nothing in
// particular; callers treat it as a set.
func (r *SessionRegistry) Presence(noteID string) []PresenceEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.byNote[noteID]
	out := make([]PresenceEntry, 0, len(set))
	for _, s := range set {
		out = append(out, PresenceEntry{UserID: s.UserID, Cursor: s.Cursor})
	}
	return out
}

// SessionsInNote lists the session ids bound to a note; the broadcaster's
// room fan-out runs off this.
func (r *SessionRegistry) SessionsInNote(noteID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	set := r.byNote[noteID]
	out := make([]string, 0, len(set))
	for sid := range set {
		out = append(out, sid)
	}
	return out
}

// SessionsOfUser lists the user's sessions bound to a note. A user editing
// from two tabs holds two sessions.
func (r *SessionRegistry) SessionsOfUser(noteID, userID string) []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []string
	for sid, s := range r.byNote[noteID] {
		if s.UserID == userID {
			out = append(out, sid)
		}
	}
	return out
}

// FlushPresence pushes the full presence set to everyone in the room.
func (r *SessionRegistry) FlushPresence(noteID string) {
	if r.bc == nil {
		return
	}
	users := r.Presence(noteID)
	r.bc.SendToRoom(noteID, EventRoomUsers, UsersPayload{NoteID: noteID, Users: users})
}

// Unregister removes the session entirely, releasing any room binding.
func (r *SessionRegistry) Unregister(sessionID string) {
	r.mu.Lock()
	s, ok := r.bySession[sessionID]
	if !ok {
		r.mu.Unlock()
		return
	}
	delete(r.bySession, sessionID)
	noteID := s.NoteID
	userID := s.UserID
	if noteID != "" {
		r.dropFromNoteLocked(noteID, sessionID)
	}
	r.mu.Unlock()

	if noteID == "" {
		return
	}
	if r.rooms != nil {
		// the room broadcasts user:left to the remaining members
		r.rooms.Leave(noteID, sessionID)
	}
	r.FlushPresence(noteID)
	if userID != "" {
		safe.SafeGo(func() {
			ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = storage.PresenceOffline(ctx, noteID, userID)
		})
	}
}

// ===== stale sweep =====

func (r *SessionRegistry) sweeper() {
	t := time.NewTicker(r.conf.SweepEvery)
	defer t.Stop()
	for {
		select {
		case <-r.stopCh:
			return
		case now := <-t.C:
			r.SweepStale(now)
		}
	}
}

// SweepStale force-removes sessions whose liveness window expired. The
// departure is indistinguishable from an explicit leave for everyone else in
// the room.
func (r *SessionRegistry) SweepStale(now time.Time) {
	r.mu.Lock()
	var stale []string
	for sid, s := range r.bySession {
		if now.Sub(s.LastSeen) > r.conf.SessionTTL {
			stale = append(stale, sid)
		}
	}
	r.mu.Unlock()

	for _, sid := range stale {
		logger.Infof("[session] sweep stale session=%s", sid)
		r.Unregister(sid)
		if r.mgr != nil {
			r.mgr.Remove(sid)
		}
	}
}
