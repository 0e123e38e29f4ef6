package authz

import (
	"context"
	"time"
)

// Permission is the effective access a user has on a note.
type Permission uint8

const (
	PermNone Permission = iota
	PermView
	PermEdit
	PermOwner
)

func (p Permission) CanView() bool { return p >= PermView }
func (p Permission) CanEdit() bool { return p >= PermEdit }

func (p Permission) String() string {
	switch p {
	case PermView:
		return "view"
	case PermEdit:
		return "edit"
	case PermOwner:
		return "owner"
	}
	return "none"
}

// ParsePermission maps stored permission strings to Permission.
func ParsePermission(s string) Permission {
	switch s {
	case "owner":
		return PermOwner
	case "edit":
		return PermEdit
	case "view":
		return PermView
	}
	return PermNone
}

// Status is the collaboration feature switch for one note (or globally).
type Status struct {
	Enabled       bool
	Reason        string
	DisabledUntil *time.Time
}

// Oracle is the narrow interface to the surrounding system's authorization
// data. The gate resolves permission once at join time and again only on an
// explicit revocation signal.
type Oracle interface {
	ResolvePermission(ctx context.Context, userID, noteID string) (Permission, error)
	CollaborationStatus(ctx context.Context, noteID string) (Status, error)
}

// MapOracle is an in-memory Oracle for tests and single-node development.
type MapOracle struct {
	Owners        map[string]string                // noteID -> userID
	Collaborators map[string]map[string]Permission // noteID -> userID -> perm
	Disabled      map[string]string                // noteID (or "*") -> reason
}

func NewMapOracle() *MapOracle {
	return &MapOracle{
		Owners:        make(map[string]string),
		Collaborators: make(map[string]map[string]Permission),
		Disabled:      make(map[string]string),
	}
}

func (o *MapOracle) ResolvePermission(_ context.Context, userID, noteID string) (Permission, error) {
	if o.Owners[noteID] == userID {
		return PermOwner, nil
	}
	if m := o.Collaborators[noteID]; m != nil {
		return m[userID], nil
	}
	return PermNone, nil
}

func (o *MapOracle) CollaborationStatus(_ context.Context, noteID string) (Status, error) {
	if reason, ok := o.Disabled["*"]; ok {
		return Status{Enabled: false, Reason: reason}, nil
	}
	if reason, ok := o.Disabled[noteID]; ok {
		return Status{Enabled: false, Reason: reason}, nil
	}
	return Status{Enabled: true}, nil
}
