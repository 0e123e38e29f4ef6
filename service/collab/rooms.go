package collab

import (
	"context"
	"sync"

	"NProject/logger"
	"NProject/service/authz"
	"NProject/service/ot"
	"NProject/service/store"
	"NProject/tools/errs"
)

// RoomTable owns the note -> room mapping. Rooms are created on the first
// join, loaded from the document store, and torn down when the last member
// leaves.
type RoomTable struct {
	mu    sync.RWMutex
	rooms map[string]*Room

	conf RoomConf
	st   store.DocumentStore
	sink OperationSink
	bc   Broadcaster
}

func NewRoomTable(conf RoomConf, st store.DocumentStore, sink OperationSink) *RoomTable {
	conf.norm()
	return &RoomTable{
		rooms: make(map[string]*Room),
		conf:  conf,
		st:    st,
		sink:  sink,
	}
}

func (t *RoomTable) Attach(bc Broadcaster) { t.bc = bc }

func (t *RoomTable) Get(noteID string) (*Room, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	r, ok := t.rooms[noteID]
	return r, ok
}

// getOrCreate returns the live room for noteID, loading the document outside
// the table lock and double-checking on insert.
func (t *RoomTable) getOrCreate(ctx context.Context, noteID string) (*Room, error) {
	t.mu.RLock()
	r, ok := t.rooms[noteID]
	t.mu.RUnlock()
	if ok {
		return r, nil
	}

	content, version, err := t.st.Load(ctx, noteID)
	if err != nil {
		return nil, errs.ErrStoreError.WrapMsg("load document", "note", noteID, "err", err)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if r, ok = t.rooms[noteID]; ok {
		return r, nil
	}
	r = NewRoom(noteID, content, version, t.conf, t.bc, t.st, t.sink)
	t.rooms[noteID] = r
	logger.Infof("[rooms] open note=%s version=%d", noteID, version)
	return r, nil
}

// Join places the member in the note's room and returns the sync snapshot.
// A join can race the previous room's teardown; losing that race just means
// retrying against a fresh room.
func (t *RoomTable) Join(ctx context.Context, noteID string, m Member) (content string, version int64, err error) {
	for attempt := 0; attempt < 3; attempt++ {
		r, gErr := t.getOrCreate(ctx, noteID)
		if gErr != nil {
			return "", 0, gErr
		}
		content, version, err = r.Join(m)
		if err == nil {
			return content, version, nil
		}
		if !errs.ErrRoomClosed.Is(err) {
			return "", 0, err
		}
		t.dropIfClosed(noteID, r)
	}
	return "", 0, errs.ErrRoomClosed.WrapMsg("join kept racing teardown", "note", noteID)
}

// Leave removes the member and tears the room down when it empties.
func (t *RoomTable) Leave(noteID, sessionID string) {
	r, ok := t.Get(noteID)
	if !ok {
		return
	}
	remaining, err := r.Leave(sessionID)
	if err != nil {
		t.dropIfClosed(noteID, r)
		return
	}
	if remaining == 0 && r.CloseIfEmpty() {
		t.dropIfClosed(noteID, r)
		logger.Infof("[rooms] close note=%s", noteID)
	}
}

// Submit forwards an operation to the note's room.
func (t *RoomTable) Submit(noteID, sessionID string, fromVersion int64, op ot.Operation) (int64, error) {
	r, ok := t.Get(noteID)
	if !ok {
		return 0, errs.ErrStaleSession.WrapMsg("no room for note", "note", noteID)
	}
	return r.Submit(sessionID, fromVersion, op)
}

// Resync pushes a fresh snapshot of the note to one session.
func (t *RoomTable) Resync(noteID, sessionID string) error {
	r, ok := t.Get(noteID)
	if !ok {
		return errs.ErrStaleSession.WrapMsg("no room for note", "note", noteID)
	}
	return r.Resync(sessionID)
}

// UpdatePermission applies a live grant change to a room member.
func (t *RoomTable) UpdatePermission(noteID, sessionID string, perm authz.Permission) {
	r, ok := t.Get(noteID)
	if !ok {
		return
	}
	_ = r.UpdateMemberPermission(sessionID, perm)
}

// dropIfClosed removes the mapping only while it still points at this room;
// a racing join may already have installed a replacement.
func (t *RoomTable) dropIfClosed(noteID string, r *Room) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if cur, ok := t.rooms[noteID]; ok && cur == r {
		delete(t.rooms, noteID)
	}
}

// Shutdown closes every room, flushing each writer.
func (t *RoomTable) Shutdown() {
	t.mu.Lock()
	rooms := make([]*Room, 0, len(t.rooms))
	for _, r := range t.rooms {
		rooms = append(rooms, r)
	}
	t.rooms = make(map[string]*Room)
	t.mu.Unlock()

	for _, r := range rooms {
		r.Shutdown()
	}
}
