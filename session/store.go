package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jellydator/ttlcache/v3"
)

// ErrNotFound is returned by a Store when no session exists for an id.
var ErrNotFound = errors.New("session not found")

// Store persists session documents between requests.
type Store interface {
	Load(ctx context.Context, id string) (*Document, error)
	Save(ctx context.Context, doc *Document) error
	Destroy(ctx context.Context, id string) error
}

// MemoryStore keeps encoded sessions in a TTL cache. Reading a session
// extends its lifetime.
type MemoryStore struct {
	cache *ttlcache.Cache[string, []byte]
}

// NewMemoryStore creates a store whose sessions expire after ttl of inactivity.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	cache := ttlcache.New(
		ttlcache.WithTTL[string, []byte](ttl),
	)

	go cache.Start()

	return &MemoryStore{cache: cache}
}

// Load implements Store.
func (s *MemoryStore) Load(_ context.Context, id string) (*Document, error) {
	item := s.cache.Get(id)
	if item == nil {
		return nil, ErrNotFound
	}
	return LoadDocument(id, item.Value())
}

// Save implements Store.
func (s *MemoryStore) Save(_ context.Context, doc *Document) error {
	raw, err := doc.MarshalJSON()
	if err != nil {
		return fmt.Errorf("failed to encode session: %w", err)
	}
	s.cache.Set(doc.ID(), raw, ttlcache.DefaultTTL)
	return nil
}

// Destroy implements Store.
func (s *MemoryStore) Destroy(_ context.Context, id string) error {
	s.cache.Delete(id)
	return nil
}

// Len returns the number of live sessions.
func (s *MemoryStore) Len() int {
	return s.cache.Len()
}

// Close stops the expiry goroutine.
func (s *MemoryStore) Close() error {
	s.cache.Stop()
	return nil
}

var _ Store = (*MemoryStore)(nil)
