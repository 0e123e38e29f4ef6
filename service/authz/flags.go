package authz

import (
	"context"
	"encoding/json"
	"time"

	redisx "NProject/service/storage/redis"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// flag key: collab:disabled:<note> or collab:disabled:global
// Value: JSON {reason, until}. Absent key means collaboration is enabled.
const globalFlagKey = "collab:disabled:global"

func noteFlagKey(noteID string) string { return "collab:disabled:" + noteID }

type flagDoc struct {
	Reason string     `json:"reason,omitempty"`
	Until  *time.Time `json:"until,omitempty"`
}

// FlagStore reads and writes the collaboration kill switches in redis.
type FlagStore struct{}

func NewFlagStore() *FlagStore { return &FlagStore{} }

// Lookup returns a disabled Status if either the global or the per-note flag
// is set, nil otherwise.
func (s *FlagStore) Lookup(ctx context.Context, noteID string) (*Status, error) {
	if !redisx.Initialized() {
		return nil, nil
	}
	for _, key := range []string{globalFlagKey, noteFlagKey(noteID)} {
		raw, err := redisx.GetRedis().Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, err
		}
		var doc flagDoc
		if err := json.Unmarshal([]byte(raw), &doc); err != nil {
			continue
		}
		return &Status{Enabled: false, Reason: doc.Reason, DisabledUntil: doc.Until}, nil
	}
	return nil, nil
}

// Disable sets the per-note flag; empty noteID sets the global one. A zero
// until disables indefinitely.
func (s *FlagStore) Disable(ctx context.Context, noteID, reason string, until time.Time) error {
	if !redisx.Initialized() {
		return errors.New("redis not initialized")
	}
	doc := flagDoc{Reason: reason}
	var ttl time.Duration
	if !until.IsZero() {
		doc.Until = &until
		ttl = time.Until(until)
		if ttl <= 0 {
			return nil
		}
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return err
	}
	key := globalFlagKey
	if noteID != "" {
		key = noteFlagKey(noteID)
	}
	return redisx.GetRedis().Set(ctx, key, raw, ttl).Err()
}

// Enable clears the per-note flag; empty noteID clears the global one.
func (s *FlagStore) Enable(ctx context.Context, noteID string) error {
	if !redisx.Initialized() {
		return errors.New("redis not initialized")
	}
	key := globalFlagKey
	if noteID != "" {
		key = noteFlagKey(noteID)
	}
	return redisx.GetRedis().Del(ctx, key).Err()
}
