// Package redis stores session documents in Redis.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"go.pilab.hu/sociallink/session"
)

// Store implements session.Store on a Redis client. Documents are kept as
// JSON strings and expire after the configured TTL.
type Store struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

// NewStore creates a Store. Keys are "<prefix>:session:<id>".
func NewStore(client redis.UniversalClient, prefix string, ttl time.Duration) *Store {
	return &Store{
		client: client,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (s *Store) redisKey(id string) string {
	return fmt.Sprintf("%s:session:%s", s.prefix, id)
}

// Load implements session.Store.
func (s *Store) Load(ctx context.Context, id string) (*session.Document, error) {
	raw, err := s.client.Get(ctx, s.redisKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, session.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session from Redis: %w", err)
	}

	// Sliding expiry, like the in-memory store.
	if err := s.client.Expire(ctx, s.redisKey(id), s.ttl).Err(); err != nil {
		return nil, fmt.Errorf("failed to refresh session expiry in Redis: %w", err)
	}

	return session.LoadDocument(id, raw)
}

// Save implements session.Store.
func (s *Store) Save(ctx context.Context, doc *session.Document) error {
	raw, err := doc.MarshalJSON()
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	if err := s.client.Set(ctx, s.redisKey(doc.ID()), raw, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set session in Redis: %w", err)
	}
	return nil
}

// Destroy implements session.Store.
func (s *Store) Destroy(ctx context.Context, id string) error {
	if err := s.client.Del(ctx, s.redisKey(id)).Err(); err != nil {
		return fmt.Errorf("failed to delete session from Redis: %w", err)
	}
	return nil
}

// Clear removes every session under the prefix.
func (s *Store) Clear(ctx context.Context) error {
	iter := s.client.Scan(ctx, 0, s.prefix+":session:*", 100).Iterator()
	for iter.Next(ctx) {
		if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("failed to delete session key %s: %w", iter.Val(), err)
		}
	}
	return iter.Err()
}

var _ session.Store = (*Store)(nil)
