package storage

import (
	"context"
	"time"

	redisx "NProject/service/storage/redis"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// presence key: note:presence:<note>:<user>
// Value: node_id, TTL controls the editing-presence validity period. This is
// a best-effort mirror for sibling nodes and ops tooling; the in-process
// session registry is authoritative for broadcasts.
func presenceKey(noteID, userID string) string {
	return "note:presence:" + noteID + ":" + userID
}

// PresenceOnline marks the user as editing the note and renews the TTL.
func PresenceOnline(ctx context.Context, noteID, userID, nodeID string, ttl time.Duration) error {
	if !redisx.Initialized() {
		return nil
	}
	return redisx.GetRedis().Set(ctx, presenceKey(noteID, userID), nodeID, ttl).Err()
}

// PresenceOffline actively removes the editing-presence key.
func PresenceOffline(ctx context.Context, noteID, userID string) error {
	if !redisx.Initialized() {
		return nil
	}
	return redisx.GetRedis().Del(ctx, presenceKey(noteID, userID)).Err()
}

// PresenceLookup checks whether the user currently shows as editing the note.
func PresenceLookup(ctx context.Context, noteID, userID string) (nodeID string, online bool, err error) {
	if !redisx.Initialized() {
		return "", false, nil
	}
	val, err := redisx.GetRedis().Get(ctx, presenceKey(noteID, userID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}
