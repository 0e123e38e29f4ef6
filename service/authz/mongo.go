package authz

import (
	"context"
	"time"

	"NProject/data/database/mgo/mongoutil"
	"NProject/tools/errs"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
)

const (
	notesCollection        = "notes"
	collaboratorCollection = "note_collaborators"
	invitationCollection   = "note_invitations"
)

type noteOwnerDoc struct {
	NoteID  string `bson:"_id"`
	OwnerID string `bson:"owner_id"`
}

type grantDoc struct {
	NoteID     string `bson:"note_id"`
	UserID     string `bson:"user_id"`
	Permission string `bson:"permission"` // "edit" | "view"
	Status     string `bson:"status"`     // only "accepted" grants access
}

// MongoOracle resolves permissions from the surrounding note system's
// collections and the collaboration feature flags kept in redis.
type MongoOracle struct {
	notes         *mongo.Collection
	collaborators *mongo.Collection
	invitations   *mongo.Collection
	flags         *FlagStore
}

func NewMongoOracle(cli *mongoutil.Client, flags *FlagStore) *MongoOracle {
	db := cli.GetDB()
	return &MongoOracle{
		notes:         db.Collection(notesCollection),
		collaborators: db.Collection(collaboratorCollection),
		invitations:   db.Collection(invitationCollection),
		flags:         flags,
	}
}

// ResolvePermission applies the precedence: owner, accepted collaborator,
// accepted invitation, none.
func (o *MongoOracle) ResolvePermission(ctx context.Context, userID, noteID string) (Permission, error) {
	var owner noteOwnerDoc
	err := o.notes.FindOne(ctx, bson.M{"_id": noteID}).Decode(&owner)
	if err != nil && err != mongo.ErrNoDocuments {
		return PermNone, errs.WrapMsg(err, "resolve owner", "note_id", noteID)
	}
	if err == nil && owner.OwnerID == userID {
		return PermOwner, nil
	}

	if p, ok, err := o.lookupGrant(ctx, o.collaborators, userID, noteID); err != nil {
		return PermNone, err
	} else if ok {
		return p, nil
	}
	if p, ok, err := o.lookupGrant(ctx, o.invitations, userID, noteID); err != nil {
		return PermNone, err
	} else if ok {
		return p, nil
	}
	return PermNone, nil
}

func (o *MongoOracle) lookupGrant(ctx context.Context, coll *mongo.Collection, userID, noteID string) (Permission, bool, error) {
	var g grantDoc
	err := coll.FindOne(ctx, bson.M{
		"note_id": noteID,
		"user_id": userID,
		"status":  "accepted",
	}).Decode(&g)
	if err == mongo.ErrNoDocuments {
		return PermNone, false, nil
	}
	if err != nil {
		return PermNone, false, errs.WrapMsg(err, "lookup grant", "note_id", noteID, "user_id", userID)
	}
	return ParsePermission(g.Permission), true, nil
}

func (o *MongoOracle) CollaborationStatus(ctx context.Context, noteID string) (Status, error) {
	if o.flags == nil {
		return Status{Enabled: true}, nil
	}
	st, err := o.flags.Lookup(ctx, noteID)
	if err != nil {
		// fail open: a flag-store outage must not lock everyone out
		return Status{Enabled: true}, nil
	}
	if st != nil && !expired(st, time.Now()) {
		return *st, nil
	}
	return Status{Enabled: true}, nil
}

func expired(st *Status, now time.Time) bool {
	return st.DisabledUntil != nil && now.After(*st.DisabledUntil)
}
