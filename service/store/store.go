package store

import "context"

// DocumentStore is the narrow interface the collaboration core uses to reach
// the surrounding note system's persistence. The core only ever calls Save
// with a strictly increasing version per note; the store provides
// last-write-wins at note granularity.
type DocumentStore interface {
	Load(ctx context.Context, noteID string) (content string, version int64, err error)
	Save(ctx context.Context, noteID string, content string, version int64) error
}
