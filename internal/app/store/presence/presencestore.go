// internal/app/store/presence/presencestore.go
package presencestore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Entry is the cross-node view of one live session.
type Entry struct {
	ConnectionID string    `json:"connection_id"`
	UserID       string    `json:"user_id"`
	State        string    `json:"state"`
	Node         string    `json:"node"`
	LastSeenAt   time.Time `json:"last_seen_at"`
}

// Store mirrors presence into Redis so other nodes (and the REST layer) can
// see who is on a content item. Each content item is a hash keyed by
// connection id; the hash TTL is refreshed on every write so that a node
// which dies without cleaning up ages out.
type Store struct {
	rdb    *redis.Client
	prefix string
	ttl    time.Duration
}

func New(rdb *redis.Client, prefix string, ttl time.Duration) *Store {
	if prefix == "" {
		prefix = "coedit"
	}
	return &Store{rdb: rdb, prefix: prefix, ttl: ttl}
}

func (s *Store) key(contentID string) string {
	return fmt.Sprintf("%s:presence:%s", s.prefix, contentID)
}

// Put records or refreshes a session.
func (s *Store) Put(ctx context.Context, contentID string, e Entry) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	k := s.key(contentID)
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, k, e.ConnectionID, b)
	if s.ttl > 0 {
		pipe.Expire(ctx, k, s.ttl)
	}
	_, err = pipe.Exec(ctx)
	return err
}

// Remove deletes a session from the mirror.
func (s *Store) Remove(ctx context.Context, contentID, connectionID string) error {
	return s.rdb.HDel(ctx, s.key(contentID), connectionID).Err()
}

// List returns mirrored sessions for a content item. Entries older than the
// TTL are filtered even if the hash itself has not expired yet.
func (s *Store) List(ctx context.Context, contentID string, now time.Time) ([]Entry, error) {
	raw, err := s.rdb.HGetAll(ctx, s.key(contentID)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(raw))
	for _, v := range raw {
		var e Entry
		if err := json.Unmarshal([]byte(v), &e); err != nil {
			continue
		}
		if s.ttl > 0 && now.Sub(e.LastSeenAt) > s.ttl {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Ping verifies connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}
