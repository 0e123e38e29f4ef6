package collab

import (
	"context"
	"errors"
	"sync"
	"testing"

	"NProject/service/authz"
	"NProject/service/ot"
	"NProject/service/store"
	"NProject/tools/errs"
)

// fakeBc records every send for assertions.
type fakeBc struct {
	mu       sync.Mutex
	sessions map[string][]sentFrame // per-session frames
	room     []sentFrame            // room-wide frames
}

type sentFrame struct {
	event   string
	payload any
	except  []string
}

func newFakeBc() *fakeBc {
	return &fakeBc{sessions: make(map[string][]sentFrame)}
}

func (b *fakeBc) SendToSession(sessionID, event string, payload any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sessions[sessionID] = append(b.sessions[sessionID], sentFrame{event: event, payload: payload})
}

func (b *fakeBc) SendToRoom(noteID, event string, payload any, except ...string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.room = append(b.room, sentFrame{event: event, payload: payload, except: except})
}

func (b *fakeBc) sessionEvents(sessionID string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for _, f := range b.sessions[sessionID] {
		out = append(out, f.event)
	}
	return out
}

func (b *fakeBc) roomEvents() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for _, f := range b.room {
		out = append(out, f.event)
	}
	return out
}

func countEvent(events []string, event string) int {
	n := 0
	for _, e := range events {
		if e == event {
			n++
		}
	}
	return n
}

func insertOp(author string, seq int64, pos int, text string) ot.Operation {
	return ot.Operation{Kind: ot.Insert, Pos: pos, Text: text, AuthorID: author, ClientSeq: seq}
}

func deleteOp(author string, seq int64, pos, n int) ot.Operation {
	return ot.Operation{Kind: ot.Delete, Pos: pos, Len: n, AuthorID: author, ClientSeq: seq}
}

func newTestRoom(t *testing.T, content string, conf RoomConf) (*Room, *fakeBc, *store.MemoryStore) {
	t.Helper()
	st := store.NewMemoryStore()
	st.Seed("n1", content, 0)
	bc := newFakeBc()
	r := NewRoom("n1", content, 0, conf, bc, st, nil)
	t.Cleanup(r.Shutdown)
	return r, bc, st
}

func TestRoomSubmitAdvancesVersionByOne(t *testing.T) {
	r, bc, _ := newTestRoom(t, "", RoomConf{})

	if _, _, err := r.Join(Member{SessionID: "s1", UserID: "alice", Permission: authz.PermEdit}); err != nil {
		t.Fatal(err)
	}
	if _, _, err := r.Join(Member{SessionID: "s2", UserID: "bob", Permission: authz.PermEdit}); err != nil {
		t.Fatal(err)
	}

	v1, err := r.Submit("s1", 0, insertOp("alice", 1, 0, "hi"))
	if err != nil {
		t.Fatalf("submit 1: %v", err)
	}
	v2, err := r.Submit("s1", 1, insertOp("alice", 2, 2, "!"))
	if err != nil {
		t.Fatalf("submit 2: %v", err)
	}
	if v1 != 1 || v2 != 2 {
		t.Fatalf("versions %d, %d", v1, v2)
	}

	content, version, err := r.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	if content != "hi!" || version != 2 {
		t.Fatalf("snapshot %q v%d", content, version)
	}

	// every accepted edit reaches the room exactly once
	if n := countEvent(bc.roomEvents(), EventDocOperation); n != 2 {
		t.Fatalf("document:operation broadcast %d times", n)
	}
}

func TestRoomConcurrentDeleteAndInsertConverge(t *testing.T) {
	r, _, _ := newTestRoom(t, "hello", RoomConf{})

	if _, _, err := r.Join(Member{SessionID: "s1", UserID: "alice", Permission: authz.PermEdit}); err != nil {
		t.Fatal(err)
	}
	if _, _, err := r.Join(Member{SessionID: "s2", UserID: "bob", Permission: authz.PermEdit}); err != nil {
		t.Fatal(err)
	}

	// both clients edit off version 0
	if _, err := r.Submit("s1", 0, deleteOp("alice", 1, 0, 5)); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Submit("s2", 0, insertOp("bob", 1, 2, "XY")); err != nil {
		t.Fatal(err)
	}

	content, version, _ := r.Snapshot()
	if content != "XY" || version != 2 {
		t.Fatalf("got %q v%d, want %q v2", content, version, "XY")
	}
}

func TestRoomConcurrentInsertsFromSameVersionConverge(t *testing.T) {
	st := store.NewMemoryStore()
	st.Seed("n1", "hello", 5)
	bc := newFakeBc()
	r := NewRoom("n1", "hello", 5, RoomConf{}, bc, st, nil)
	t.Cleanup(r.Shutdown)

	if _, _, err := r.Join(Member{SessionID: "sx", UserID: "x", Permission: authz.PermEdit}); err != nil {
		t.Fatal(err)
	}
	if _, _, err := r.Join(Member{SessionID: "sy", UserID: "y", Permission: authz.PermEdit}); err != nil {
		t.Fatal(err)
	}

	// both edit off version 5; y's op arrives first
	v6, err := r.Submit("sy", 5, insertOp("y", 1, 0, ">>"))
	if err != nil {
		t.Fatal(err)
	}
	v7, err := r.Submit("sx", 5, insertOp("x", 1, 5, "!"))
	if err != nil {
		t.Fatal(err)
	}
	if v6 != 6 || v7 != 7 {
		t.Fatalf("versions %d, %d", v6, v7)
	}

	content, version, _ := r.Snapshot()
	if content != ">>hello!" || version != 7 {
		t.Fatalf("got %q v%d, want %q v7", content, version, ">>hello!")
	}
}

func TestRoomRejectsReadOnlyEditor(t *testing.T) {
	r, _, _ := newTestRoom(t, "doc", RoomConf{})

	if _, _, err := r.Join(Member{SessionID: "s1", UserID: "viewer", Permission: authz.PermView}); err != nil {
		t.Fatal(err)
	}

	_, err := r.Submit("s1", 0, insertOp("viewer", 1, 0, "x"))
	if !errs.ErrPermissionDenied.Is(err) {
		t.Fatalf("want PermissionDenied, got %v", err)
	}

	content, version, _ := r.Snapshot()
	if content != "doc" || version != 0 {
		t.Fatalf("rejected edit mutated the document: %q v%d", content, version)
	}
}

func TestRoomRejectsNonMemberAndFutureVersion(t *testing.T) {
	r, _, _ := newTestRoom(t, "doc", RoomConf{})

	if _, err := r.Submit("ghost", 0, insertOp("g", 1, 0, "x")); !errs.ErrStaleSession.Is(err) {
		t.Fatalf("want StaleSession, got %v", err)
	}

	if _, _, err := r.Join(Member{SessionID: "s1", UserID: "alice", Permission: authz.PermEdit}); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Submit("s1", 9, insertOp("alice", 1, 0, "x")); !errs.ErrInvalidOperation.Is(err) {
		t.Fatalf("want InvalidOperation for future version, got %v", err)
	}
}

func TestRoomHistoryCapForcesResync(t *testing.T) {
	r, bc, _ := newTestRoom(t, "", RoomConf{HistoryLimit: 2})

	if _, _, err := r.Join(Member{SessionID: "s1", UserID: "alice", Permission: authz.PermEdit}); err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 3; i++ {
		if _, err := r.Submit("s1", int64(i), insertOp("alice", int64(i+1), i, "a")); err != nil {
			t.Fatalf("submit %d: %v", i, err)
		}
	}

	if n := countEvent(bc.roomEvents(), EventDocSync); n != 1 {
		t.Fatalf("document:sync broadcast %d times, want 1", n)
	}

	// an edit from before the horizon is refused and answered with a snapshot
	_, err := r.Submit("s1", 1, insertOp("alice", 9, 0, "z"))
	if !errs.ErrInvalidOperation.Is(err) {
		t.Fatalf("want InvalidOperation below horizon, got %v", err)
	}
	if n := countEvent(bc.sessionEvents("s1"), EventDocSync); n != 1 {
		t.Fatalf("sender got %d syncs, want 1", n)
	}

	// current-version edits still flow
	_, version, _ := r.Snapshot()
	if _, err := r.Submit("s1", version, insertOp("alice", 10, 0, "z")); err != nil {
		t.Fatalf("submit after resync: %v", err)
	}
}

func TestResyncIsIdempotent(t *testing.T) {
	r, bc, _ := newTestRoom(t, "stable", RoomConf{})

	if _, _, err := r.Join(Member{SessionID: "s1", UserID: "alice", Permission: authz.PermEdit}); err != nil {
		t.Fatal(err)
	}

	if err := r.Resync("s1"); err != nil {
		t.Fatal(err)
	}
	if err := r.Resync("s1"); err != nil {
		t.Fatal(err)
	}

	frames := bc.sessions["s1"]
	if len(frames) != 2 {
		t.Fatalf("got %d frames", len(frames))
	}
	for _, f := range frames {
		p, ok := f.payload.(SyncPayload)
		if !ok || f.event != EventDocSync {
			t.Fatalf("unexpected frame %+v", f)
		}
		if p.Content != "stable" || p.Version != 0 {
			t.Fatalf("sync payload %+v", p)
		}
	}

	// resync never advances the version
	_, version, _ := r.Snapshot()
	if version != 0 {
		t.Fatalf("version %d after resync", version)
	}
}

func TestRoomClosedAfterLastLeave(t *testing.T) {
	r, _, _ := newTestRoom(t, "doc", RoomConf{})

	if _, _, err := r.Join(Member{SessionID: "s1", UserID: "alice", Permission: authz.PermEdit}); err != nil {
		t.Fatal(err)
	}
	remaining, err := r.Leave("s1")
	if err != nil || remaining != 0 {
		t.Fatalf("leave: remaining=%d err=%v", remaining, err)
	}
	if !r.CloseIfEmpty() {
		t.Fatal("empty room did not close")
	}
	if !r.Closed() {
		t.Fatal("room reports open after close")
	}
	if _, _, err := r.Join(Member{SessionID: "s2", UserID: "bob", Permission: authz.PermEdit}); !errs.ErrRoomClosed.Is(err) {
		t.Fatalf("join on closed room: %v", err)
	}
}

func TestRoomCloseIfEmptyRefusesWhileOccupied(t *testing.T) {
	r, _, _ := newTestRoom(t, "doc", RoomConf{})

	if _, _, err := r.Join(Member{SessionID: "s1", UserID: "alice", Permission: authz.PermEdit}); err != nil {
		t.Fatal(err)
	}
	if r.CloseIfEmpty() {
		t.Fatal("closed a room with a member in it")
	}
}

func TestRoomPersistsThroughWriter(t *testing.T) {
	r, _, st := newTestRoom(t, "", RoomConf{})

	if _, _, err := r.Join(Member{SessionID: "s1", UserID: "alice", Permission: authz.PermEdit}); err != nil {
		t.Fatal(err)
	}
	if _, err := r.Submit("s1", 0, insertOp("alice", 1, 0, "saved")); err != nil {
		t.Fatal(err)
	}
	r.Shutdown() // flushes the writer

	content, version, err := st.Load(context.Background(), "n1")
	if err != nil {
		t.Fatal(err)
	}
	if content != "saved" || version != 1 {
		t.Fatalf("store has %q v%d", content, version)
	}
}

func TestRoomTableRecreatesAfterTeardown(t *testing.T) {
	st := store.NewMemoryStore()
	st.Seed("n1", "persisted", 3)
	bc := newFakeBc()
	table := NewRoomTable(RoomConf{}, st, nil)
	table.Attach(bc)
	t.Cleanup(table.Shutdown)

	m := Member{SessionID: "s1", UserID: "alice", Permission: authz.PermOwner}
	content, version, err := table.Join(context.Background(), "n1", m)
	if err != nil {
		t.Fatal(err)
	}
	if content != "persisted" || version != 3 {
		t.Fatalf("loaded %q v%d", content, version)
	}

	table.Leave("n1", "s1")
	if _, ok := table.Get("n1"); ok {
		t.Fatal("room still mapped after last leave")
	}

	// a new join builds a fresh room from the store
	content, version, err = table.Join(context.Background(), "n1", m)
	if err != nil {
		t.Fatalf("rejoin: %v", err)
	}
	if content != "persisted" || version != 3 {
		t.Fatalf("rejoin loaded %q v%d", content, version)
	}

	if err := table.Resync("n1", "s1"); err != nil {
		t.Fatalf("resync: %v", err)
	}
	if countEvent(bc.sessionEvents("s1"), EventDocSync) != 1 {
		t.Fatal("resync did not reach the session")
	}
}

// brokenStore fails every Load so joins cannot build a room.
type brokenStore struct{}

func (brokenStore) Load(context.Context, string) (string, int64, error) {
	return "", 0, errors.New("backend down")
}

func (brokenStore) Save(context.Context, string, string, int64) error {
	return errors.New("backend down")
}

func TestRoomTableJoinSurfacesStoreFailure(t *testing.T) {
	table := NewRoomTable(RoomConf{}, brokenStore{}, nil)
	table.Attach(newFakeBc())
	t.Cleanup(table.Shutdown)

	m := Member{SessionID: "s1", UserID: "alice", Permission: authz.PermEdit}
	_, _, err := table.Join(context.Background(), "n1", m)
	if !errs.ErrStoreError.Is(err) {
		t.Fatalf("want store error, got %v", err)
	}
	if _, ok := table.Get("n1"); ok {
		t.Fatal("failed load left a room mapped")
	}
}
