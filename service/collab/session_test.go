package collab

import (
	"context"
	"testing"
	"time"

	"NProject/service/authz"
	"NProject/service/store"
)

func newTestRegistry(t *testing.T, conf RegistryConf) (*SessionRegistry, *RoomTable, *fakeBc) {
	t.Helper()
	st := store.NewMemoryStore()
	bc := newFakeBc()
	table := NewRoomTable(RoomConf{}, st, nil)
	table.Attach(bc)
	reg := NewSessionRegistry(conf, "node-test")
	reg.Attach(bc, table, nil)
	t.Cleanup(func() {
		reg.Stop()
		table.Shutdown()
	})
	return reg, table, bc
}

func joinNote(t *testing.T, reg *SessionRegistry, table *RoomTable, sid, user, note string) {
	t.Helper()
	reg.Register(sid)
	reg.Authenticate(sid, user, authz.PermEdit)
	reg.BindToRoom(sid, note)
	if _, _, err := table.Join(context.Background(), note, Member{
		SessionID: sid, UserID: user, Permission: authz.PermEdit,
	}); err != nil {
		t.Fatalf("join %s: %v", sid, err)
	}
}

func TestPresenceTracksBoundSessions(t *testing.T) {
	reg, table, _ := newTestRegistry(t, RegistryConf{})

	joinNote(t, reg, table, "s1", "alice", "n1")
	joinNote(t, reg, table, "s2", "bob", "n1")
	joinNote(t, reg, table, "s3", "carol", "n2")

	users := reg.Presence("n1")
	if len(users) != 2 {
		t.Fatalf("n1 presence = %d, want 2", len(users))
	}
	seen := map[string]bool{}
	for _, u := range users {
		seen[u.UserID] = true
	}
	if !seen["alice"] || !seen["bob"] || seen["carol"] {
		t.Fatalf("presence set wrong: %+v", users)
	}

	if got := len(reg.SessionsInNote("n2")); got != 1 {
		t.Fatalf("n2 sessions = %d", got)
	}
}

func TestRebindReleasesPreviousNote(t *testing.T) {
	reg, table, _ := newTestRegistry(t, RegistryConf{})

	joinNote(t, reg, table, "s1", "alice", "n1")
	prev := reg.BindToRoom("s1", "n2")
	if prev != "n1" {
		t.Fatalf("prev note = %q", prev)
	}
	if len(reg.Presence("n1")) != 0 {
		t.Fatal("still present on old note")
	}
	if len(reg.Presence("n2")) != 1 {
		t.Fatal("not present on new note")
	}
}

func TestCursorUpdatesCoalesceIntoOneBroadcast(t *testing.T) {
	reg, table, bc := newTestRegistry(t, RegistryConf{CursorInterval: 20 * time.Millisecond})

	joinNote(t, reg, table, "s1", "alice", "n1")
	before := countEvent(bc.roomEvents(), EventRoomUsers)

	for i := 0; i < 10; i++ {
		reg.UpdateCursor("s1", "n1", Cursor{Pos: i})
	}
	time.Sleep(60 * time.Millisecond)

	got := countEvent(bc.roomEvents(), EventRoomUsers) - before
	if got != 1 {
		t.Fatalf("room:users sent %d times for one burst, want 1", got)
	}

	users := reg.Presence("n1")
	if len(users) != 1 || users[0].Cursor.Pos != 9 {
		t.Fatalf("cursor not at latest position: %+v", users)
	}
}

func TestCursorUpdateIgnoresWrongNote(t *testing.T) {
	reg, table, _ := newTestRegistry(t, RegistryConf{})

	joinNote(t, reg, table, "s1", "alice", "n1")
	reg.UpdateCursor("s1", "other", Cursor{Pos: 7})

	users := reg.Presence("n1")
	if len(users) != 1 || users[0].Cursor.Pos != 0 {
		t.Fatalf("cursor moved by a frame for another note: %+v", users)
	}
}

func TestUnregisterLeavesRoom(t *testing.T) {
	reg, table, bc := newTestRegistry(t, RegistryConf{})

	joinNote(t, reg, table, "s1", "alice", "n1")
	joinNote(t, reg, table, "s2", "bob", "n1")

	reg.Unregister("s1")

	if len(reg.Presence("n1")) != 1 {
		t.Fatal("departed session still in presence")
	}
	if countEvent(bc.roomEvents(), EventUserLeft) == 0 {
		t.Fatal("no user:left broadcast")
	}
	if _, ok := reg.Get("s1"); ok {
		t.Fatal("session still registered")
	}
	// room survives with the remaining member
	if _, ok := table.Get("n1"); !ok {
		t.Fatal("room torn down while occupied")
	}
}

func TestSweepStaleEvictsSilentSessions(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }
	reg, table, bc := newTestRegistry(t, RegistryConf{SessionTTL: time.Minute, Clock: clock})

	joinNote(t, reg, table, "s1", "alice", "n1")
	joinNote(t, reg, table, "s2", "bob", "n1")

	// bob keeps pinging, alice goes silent
	later := now.Add(2 * time.Minute)
	reg.mu.Lock()
	reg.bySession["s2"].LastSeen = later
	reg.mu.Unlock()

	reg.SweepStale(later)

	if len(reg.Presence("n1")) != 1 {
		t.Fatalf("presence = %+v", reg.Presence("n1"))
	}
	if _, ok := reg.Get("s1"); ok {
		t.Fatal("stale session survived the sweep")
	}
	if _, ok := reg.Get("s2"); !ok {
		t.Fatal("live session was swept")
	}
	if countEvent(bc.roomEvents(), EventUserLeft) == 0 {
		t.Fatal("sweep did not announce the departure")
	}
}
