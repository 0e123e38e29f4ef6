package collab

import (
	"NProject/logger"
	"NProject/service/authz"
	"NProject/service/ot"
	"NProject/service/store"
	"NProject/tools/errs"
)

type RoomConf struct {
	HistoryLimit int // transform log cap; exceeding it forces a full resync
	Writer       store.WriterConf
}

func (c *RoomConf) norm() {
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 4096
	}
}

// Member is one session inside a room with its effective permission.
type Member struct {
	SessionID  string
	UserID     string
	Permission authz.Permission
}

// Room serializes all mutations of one note through a single goroutine.
// Document content, version, the transform log and the member set are owned
// by the loop; callers talk to it through closures on the command channel, so
// none of that state needs a lock.
type Room struct {
	noteID string
	conf   RoomConf

	cmds chan func()
	done chan struct{}

	bc     Broadcaster
	writer *store.Writer
	sink   OperationSink // nil when auditing is off

	// loop-owned
	content     string
	version     int64
	baseVersion int64 // oldest version the transform log can rebase from
	history     []ot.HistoryEntry
	members     map[string]Member
}

func NewRoom(noteID, content string, version int64, conf RoomConf,
	bc Broadcaster, st store.DocumentStore, sink OperationSink) *Room {
	conf.norm()
	r := &Room{
		noteID:      noteID,
		conf:        conf,
		cmds:        make(chan func(), 64),
		done:        make(chan struct{}),
		bc:          bc,
		writer:      store.NewWriter(noteID, st, conf.Writer),
		sink:        sink,
		content:     content,
		version:     version,
		baseVersion: version,
		members:     make(map[string]Member),
	}
	r.writer.OnDegraded = func(failures int) {
		logger.Errorf("[room] persistence degraded note=%s failures=%d", noteID, failures)
		bc.SendToRoom(noteID, EventRoomWarning, WarningPayload{
			Code:    errs.StoreErrorCode,
			Message: "PersistenceDegraded",
		})
	}
	r.writer.OnRecovered = func() {
		logger.Infof("[room] persistence recovered note=%s", noteID)
	}
	r.writer.Start()
	go r.loop()
	return r
}

func (r *Room) NoteID() string { return r.noteID }

func (r *Room) loop() {
	for {
		select {
		case cmd := <-r.cmds:
			cmd()
		case <-r.done:
			return
		}
	}
}

// run executes fn on the room goroutine and waits for it. Returns
// ErrRoomClosed when the room shut down before or while fn was queued.
func (r *Room) run(fn func()) error {
	wait := make(chan struct{})
	select {
	case <-r.done:
		return errs.ErrRoomClosed.Wrap()
	case r.cmds <- func() {
		fn()
		close(wait)
	}:
	}
	select {
	case <-wait:
		return nil
	case <-r.done:
		// fn itself may have closed the room; it still ran
		select {
		case <-wait:
			return nil
		default:
			return errs.ErrRoomClosed.Wrap()
		}
	}
}

func (r *Room) Closed() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// Join adds a member and returns the snapshot the newcomer syncs from.
// Everyone already present learns about the arrival.
func (r *Room) Join(m Member) (content string, version int64, err error) {
	err = r.run(func() {
		r.members[m.SessionID] = m
		content, version = r.content, r.version
		r.bc.SendToRoom(r.noteID, EventUserJoined,
			UserJoinedPayload{NoteID: r.noteID, UserID: m.UserID}, m.SessionID)
	})
	return content, version, err
}

// Leave drops a member and reports how many remain.
func (r *Room) Leave(sessionID string) (remaining int, err error) {
	err = r.run(func() {
		m, ok := r.members[sessionID]
		if !ok {
			remaining = len(r.members)
			return
		}
		delete(r.members, sessionID)
		remaining = len(r.members)
		r.bc.SendToRoom(r.noteID, EventUserLeft,
			UserLeftPayload{NoteID: r.noteID, UserID: m.UserID})
	})
	return remaining, err
}

// UpdateMemberPermission applies a live grant change, e.g. after revocation.
func (r *Room) UpdateMemberPermission(sessionID string, perm authz.Permission) error {
	return r.run(func() {
		if m, ok := r.members[sessionID]; ok {
			m.Permission = perm
			r.members[sessionID] = m
		}
	})
}

// Submit rebases one client operation onto the current document, applies it,
// and broadcasts the applied form to everyone else. The returned version is
// what the sender is acked with; each accepted submission advances the
// version by exactly one.
func (r *Room) Submit(sessionID string, fromVersion int64, op ot.Operation) (ackVersion int64, err error) {
	var inner error
	runErr := r.run(func() {
		m, ok := r.members[sessionID]
		if !ok {
			inner = errs.ErrStaleSession.WrapMsg("not a member", "note", r.noteID)
			return
		}
		if !m.Permission.CanEdit() {
			inner = errs.ErrPermissionDenied.WrapMsg("permission is read only")
			return
		}
		if fromVersion > r.version {
			inner = errs.ErrInvalidOperation.WrapMsg("version from the future",
				"from", fromVersion, "current", r.version)
			return
		}
		if fromVersion < r.baseVersion {
			// the transform log no longer reaches back that far
			inner = errs.ErrInvalidOperation.WrapMsg("version below transform horizon",
				"from", fromVersion, "base", r.baseVersion)
			r.sendSyncLocked(sessionID)
			return
		}

		ops := ot.Rebase(op, fromVersion, r.history)
		next, applyErr := ot.ApplyAll(r.content, ops)
		if applyErr != nil {
			inner = errs.ErrInvalidOperation.WrapMsg(applyErr.Error())
			r.sendSyncLocked(sessionID)
			return
		}

		r.content = next
		r.version++
		ackVersion = r.version
		r.history = append(r.history, ot.HistoryEntry{
			Version:  r.version,
			AuthorID: op.AuthorID,
			Ops:      ops,
		})

		r.writer.Enqueue(r.content, r.version)
		if r.sink != nil {
			for _, applied := range ops {
				r.sink.Append(r.noteID, r.version, applied)
			}
		}

		r.bc.SendToRoom(r.noteID, EventDocOperation, OperationBroadcast{
			NoteID:   r.noteID,
			Version:  r.version,
			AuthorID: op.AuthorID,
			Ops:      ops,
		}, sessionID)

		if len(r.history) > r.conf.HistoryLimit {
			r.resetHistoryLocked()
		}
	})
	if runErr != nil {
		return 0, runErr
	}
	return ackVersion, inner
}

// Resync pushes the current snapshot to one session.
func (r *Room) Resync(sessionID string) error {
	return r.run(func() { r.sendSyncLocked(sessionID) })
}

// Snapshot reads the current content and version.
func (r *Room) Snapshot() (content string, version int64, err error) {
	err = r.run(func() { content, version = r.content, r.version })
	return content, version, err
}

// caller is the room goroutine
func (r *Room) sendSyncLocked(sessionID string) {
	r.bc.SendToSession(sessionID, EventDocSync, SyncPayload{
		NoteID:  r.noteID,
		Content: r.content,
		Version: r.version,
	})
}

// caller is the room goroutine. Dropping the transform log means nobody can
// rebase across the gap anymore, so every member gets a fresh snapshot.
func (r *Room) resetHistoryLocked() {
	logger.Infof("[room] transform log capped, resync note=%s version=%d", r.noteID, r.version)
	r.history = nil
	r.baseVersion = r.version
	r.bc.SendToRoom(r.noteID, EventDocSync, SyncPayload{
		NoteID:  r.noteID,
		Content: r.content,
		Version: r.version,
	})
}

// CloseIfEmpty shuts the room down only if no members remain; the emptiness
// check runs on the room goroutine, so a join queued ahead of it wins.
func (r *Room) CloseIfEmpty() (closed bool) {
	err := r.run(func() {
		if len(r.members) == 0 {
			close(r.done)
			closed = true
		}
	})
	if err != nil || closed {
		// Writer.Close is idempotent; the room may have shut down elsewhere.
		r.writer.Close()
		return true
	}
	return false
}

// Shutdown closes the room unconditionally and flushes the writer.
func (r *Room) Shutdown() {
	_ = r.run(func() { close(r.done) })
	r.writer.Close()
}
