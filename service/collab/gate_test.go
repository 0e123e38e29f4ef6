package collab

import (
	"context"
	"testing"

	"NProject/service/authz"
	"NProject/service/store"
	"NProject/tools/errs"
	"NProject/tools/security"
)

func newTestGate(t *testing.T, oracle authz.Oracle) (*Gate, *SessionRegistry, *RoomTable, *fakeBc, security.Options) {
	t.Helper()
	st := store.NewMemoryStore()
	bc := newFakeBc()
	table := NewRoomTable(RoomConf{}, st, nil)
	table.Attach(bc)
	reg := NewSessionRegistry(RegistryConf{}, "node-test")
	reg.Attach(bc, table, nil)
	t.Cleanup(func() {
		reg.Stop()
		table.Shutdown()
	})
	opts := security.DefaultOptions([]byte("test-secret"))
	return NewGate(oracle, opts, reg, table, bc), reg, table, bc, opts
}

func tokenFor(t *testing.T, opts security.Options, userID string) string {
	t.Helper()
	tok, _, err := security.Generate(opts, userID)
	if err != nil {
		t.Fatalf("generate token: %v", err)
	}
	return tok
}

func TestAuthorizeJoinResolvesPermission(t *testing.T) {
	oracle := authz.NewMapOracle()
	oracle.Owners["n1"] = "alice"
	oracle.Collaborators["n1"] = map[string]authz.Permission{"bob": authz.PermView}
	gate, _, _, _, opts := newTestGate(t, oracle)

	userID, perm, err := gate.AuthorizeJoin(context.Background(), tokenFor(t, opts, "alice"), "n1")
	if err != nil {
		t.Fatalf("owner join: %v", err)
	}
	if userID != "alice" || perm != authz.PermOwner {
		t.Fatalf("got %s/%s", userID, perm)
	}

	_, perm, err = gate.AuthorizeJoin(context.Background(), tokenFor(t, opts, "bob"), "n1")
	if err != nil {
		t.Fatalf("viewer join: %v", err)
	}
	if perm != authz.PermView {
		t.Fatalf("bob perm = %s", perm)
	}
}

func TestAuthorizeJoinRejectsBadToken(t *testing.T) {
	gate, _, _, _, _ := newTestGate(t, authz.NewMapOracle())

	_, _, err := gate.AuthorizeJoin(context.Background(), "not-a-token", "n1")
	if !errs.ErrTokenInvalid.Is(err) {
		t.Fatalf("want TokenInvalid, got %v", err)
	}

	// token signed with another secret
	other := security.DefaultOptions([]byte("wrong-secret"))
	tok, _, _ := security.Generate(other, "alice")
	_, _, err = gate.AuthorizeJoin(context.Background(), tok, "n1")
	if !errs.ErrTokenInvalid.Is(err) {
		t.Fatalf("want TokenInvalid for forged token, got %v", err)
	}
}

func TestAuthorizeJoinRejectsStrangers(t *testing.T) {
	oracle := authz.NewMapOracle()
	oracle.Owners["n1"] = "alice"
	gate, _, _, _, opts := newTestGate(t, oracle)

	_, _, err := gate.AuthorizeJoin(context.Background(), tokenFor(t, opts, "mallory"), "n1")
	if !errs.ErrPermissionDenied.Is(err) {
		t.Fatalf("want PermissionDenied, got %v", err)
	}
}

func TestAuthorizeJoinHonorsDisabledSwitch(t *testing.T) {
	oracle := authz.NewMapOracle()
	oracle.Owners["n1"] = "alice"
	oracle.Disabled["n1"] = "maintenance"
	gate, _, _, _, opts := newTestGate(t, oracle)

	_, _, err := gate.AuthorizeJoin(context.Background(), tokenFor(t, opts, "alice"), "n1")
	if !errs.ErrCollaborationDisabled.Is(err) {
		t.Fatalf("want CollaborationDisabled, got %v", err)
	}

	// the global switch blocks every note
	delete(oracle.Disabled, "n1")
	oracle.Disabled["*"] = "incident"
	_, _, err = gate.AuthorizeJoin(context.Background(), tokenFor(t, opts, "alice"), "n2")
	if !errs.ErrCollaborationDisabled.Is(err) {
		t.Fatalf("want CollaborationDisabled globally, got %v", err)
	}
}

func TestRevokeEjectsUserFromRoom(t *testing.T) {
	oracle := authz.NewMapOracle()
	oracle.Owners["n1"] = "alice"
	oracle.Collaborators["n1"] = map[string]authz.Permission{"bob": authz.PermEdit}
	gate, reg, table, bc, _ := newTestGate(t, oracle)

	joinNote(t, reg, table, "s1", "alice", "n1")
	joinNote(t, reg, table, "s2", "bob", "n1")

	delete(oracle.Collaborators["n1"], "bob")
	gate.Revoke(context.Background(), "bob", "n1")

	if got := reg.SessionsOfUser("n1", "bob"); len(got) != 0 {
		t.Fatalf("bob still bound: %v", got)
	}
	if countEvent(bc.sessionEvents("s2"), EventRoomError) != 1 {
		t.Fatal("revoked session got no room:error")
	}
	if len(reg.Presence("n1")) != 1 {
		t.Fatalf("presence = %+v", reg.Presence("n1"))
	}

	// alice is untouched
	if got := reg.SessionsOfUser("n1", "alice"); len(got) != 1 {
		t.Fatalf("alice sessions = %v", got)
	}
}

func TestRevokeDowngradesToReadOnly(t *testing.T) {
	oracle := authz.NewMapOracle()
	oracle.Owners["n1"] = "alice"
	oracle.Collaborators["n1"] = map[string]authz.Permission{"bob": authz.PermEdit}
	gate, reg, table, _, _ := newTestGate(t, oracle)

	joinNote(t, reg, table, "s1", "alice", "n1")
	joinNote(t, reg, table, "s2", "bob", "n1")

	oracle.Collaborators["n1"]["bob"] = authz.PermView
	gate.Revoke(context.Background(), "bob", "n1")

	// bob stays in the room but can no longer edit
	if got := reg.SessionsOfUser("n1", "bob"); len(got) != 1 {
		t.Fatalf("bob sessions = %v", got)
	}
	_, err := table.Submit("n1", "s2", 0, insertOp("bob", 1, 0, "x"))
	if !errs.ErrPermissionDenied.Is(err) {
		t.Fatalf("want PermissionDenied after downgrade, got %v", err)
	}

	s, _ := reg.Get("s2")
	if s.Permission != authz.PermView {
		t.Fatalf("session perm = %s", s.Permission)
	}
}
