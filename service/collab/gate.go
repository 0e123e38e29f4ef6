package collab

import (
	"context"

	"NProject/logger"
	"NProject/service/authz"
	"NProject/tools/errs"
	"NProject/tools/security"
)

// Gate decides who enters a room and with what permission. Permission is
// resolved once at join time and cached on the session; a revocation signal
// is the only thing that re-resolves it.
type Gate struct {
	oracle authz.Oracle
	jwt    security.Options

	reg   *SessionRegistry
	rooms *RoomTable
	bc    Broadcaster
}

func NewGate(oracle authz.Oracle, jwtOpts security.Options,
	reg *SessionRegistry, rooms *RoomTable, bc Broadcaster) *Gate {
	return &Gate{oracle: oracle, jwt: jwtOpts, reg: reg, rooms: rooms, bc: bc}
}

// AuthorizeJoin verifies the join token, checks the collaboration switch and
// resolves the user's effective permission on the note.
func (g *Gate) AuthorizeJoin(ctx context.Context, token, noteID string) (userID string, perm authz.Permission, err error) {
	userID, err = security.VerifySubject(g.jwt, token)
	if err != nil {
		return "", authz.PermNone, errs.ErrTokenInvalid.WrapMsg(err.Error())
	}

	status, err := g.oracle.CollaborationStatus(ctx, noteID)
	if err != nil {
		// the switch store being down must not lock everyone out
		logger.Warnf("[gate] collaboration status lookup failed note=%s err=%v", noteID, err)
		status = authz.Status{Enabled: true}
	}
	if !status.Enabled {
		reason := status.Reason
		if reason == "" {
			reason = "collaboration is turned off for this note"
		}
		return "", authz.PermNone, errs.ErrCollaborationDisabled.WrapMsg(reason)
	}

	perm, err = g.oracle.ResolvePermission(ctx, userID, noteID)
	if err != nil {
		return "", authz.PermNone, errs.ErrStoreError.WrapMsg("permission lookup failed", "note", noteID)
	}
	if !perm.CanView() {
		return "", authz.PermNone, errs.ErrPermissionDenied.WrapMsg("no access to note", "note", noteID)
	}
	return userID, perm, nil
}

// Revoke re-resolves the user's permission and applies the result to every
// live session they hold on the note: a downgrade takes effect on the next
// operation, a full revocation ejects them from the room.
func (g *Gate) Revoke(ctx context.Context, userID, noteID string) {
	perm, err := g.oracle.ResolvePermission(ctx, userID, noteID)
	if err != nil {
		logger.Warnf("[gate] revoke lookup failed user=%s note=%s err=%v", userID, noteID, err)
		return
	}

	sids := g.reg.SessionsOfUser(noteID, userID)
	if len(sids) == 0 {
		return
	}
	logger.Infof("[gate] revoke user=%s note=%s perm=%s sessions=%d", userID, noteID, perm, len(sids))

	for _, sid := range sids {
		if perm.CanView() {
			g.reg.Authenticate(sid, userID, perm)
			g.rooms.UpdatePermission(noteID, sid, perm)
			continue
		}
		g.bc.SendToSession(sid, EventRoomError,
			ErrorPayloadOf(errs.ErrPermissionDenied.WrapMsg("access revoked", "note", noteID)))
		g.rooms.Leave(noteID, sid)
		g.reg.UnbindRoom(sid, noteID)
	}
	if !perm.CanView() {
		g.reg.FlushPresence(noteID)
	}
}
