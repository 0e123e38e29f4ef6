package store

import (
	"context"
	"time"

	"NProject/data/database/mgo/mongoutil"
	"NProject/tools/errs"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const noteCollection = "note_documents"

type noteDoc struct {
	NoteID    string    `bson:"_id"`
	Content   string    `bson:"content"`
	Version   int64     `bson:"version"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// MongoStore persists note content/version in a single mongo collection.
type MongoStore struct {
	coll *mongo.Collection
}

func NewMongoStore(cli *mongoutil.Client) *MongoStore {
	return &MongoStore{coll: cli.GetDB().Collection(noteCollection)}
}

func (s *MongoStore) Load(ctx context.Context, noteID string) (string, int64, error) {
	var doc noteDoc
	err := s.coll.FindOne(ctx, bson.M{"_id": noteID}).Decode(&doc)
	if err == mongo.ErrNoDocuments {
		// a note that was never collaboratively edited starts empty at v0
		return "", 0, nil
	}
	if err != nil {
		return "", 0, errs.ErrStoreError.WrapMsg("load note", "note_id", noteID, "err", err)
	}
	return doc.Content, doc.Version, nil
}

func (s *MongoStore) Save(ctx context.Context, noteID string, content string, version int64) error {
	// Versions from the core are strictly increasing; the guard keeps a late
	// retry from clobbering a newer write.
	filter := bson.M{"_id": noteID, "version": bson.M{"$lt": version}}
	update := bson.M{"$set": bson.M{
		"content":    content,
		"version":    version,
		"updated_at": time.Now(),
	}}
	_, err := s.coll.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true))
	if err != nil {
		if mongo.IsDuplicateKeyError(err) {
			// upsert raced a newer version; nothing to do
			return nil
		}
		return errs.ErrStoreError.WrapMsg("save note", "note_id", noteID, "version", version, "err", err)
	}
	return nil
}
