// Package memory provides map-backed repositories for tests, demos and
// single-process deployments.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.pilab.hu/sociallink/domain"
)

// Names of the uniqueness constraints, matching the SQL schema.
const (
	ConstraintProviderIdentity = "social_accounts_table_provider_provider_uid_key"
	ConstraintOwnerProvider    = "social_accounts_table_foreign_id_provider_key"
)

var errDuplicate = errors.New("duplicate key")

type ownerKey struct{ ownerType, ownerID, provider string }

type identityKey struct{ ownerType, provider, providerUID string }

// SocialAccountRepository keeps links in memory and enforces both
// uniqueness constraints atomically under one lock.
type SocialAccountRepository struct {
	mu         sync.RWMutex
	nextID     int64
	rows       map[int64]domain.SocialAccountRecord
	byOwner    map[ownerKey]int64
	byIdentity map[identityKey]int64
	now        func() time.Time
}

// NewSocialAccountRepository returns an empty repository.
func NewSocialAccountRepository() *SocialAccountRepository {
	return &SocialAccountRepository{
		rows:       map[int64]domain.SocialAccountRecord{},
		byOwner:    map[ownerKey]int64{},
		byIdentity: map[identityKey]int64{},
		now:        func() time.Time { return time.Now().UTC() },
	}
}

func (r *SocialAccountRepository) FindByOwnerAndProvider(_ context.Context, ownerType, ownerID, provider string) (*domain.SocialAccount, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byOwner[ownerKey{ownerType, ownerID, provider}]
	if !ok {
		return nil, nil
	}
	return domain.RestoreSocialAccount(r.rows[id]), nil
}

func (r *SocialAccountRepository) FindByProviderIdentity(_ context.Context, ownerType, provider, providerUID string) (*domain.SocialAccount, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byIdentity[identityKey{ownerType, provider, providerUID}]
	if !ok {
		return nil, nil
	}
	return domain.RestoreSocialAccount(r.rows[id]), nil
}

func (r *SocialAccountRepository) ListByOwner(_ context.Context, ownerType, ownerID string) ([]*domain.SocialAccount, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.SocialAccount
	for _, row := range r.rows {
		if row.OwnerType == ownerType && row.OwnerID == ownerID {
			out = append(out, domain.RestoreSocialAccount(row))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out, nil
}

func (r *SocialAccountRepository) Insert(_ context.Context, account *domain.SocialAccount) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := account.Record()
	ok, ik := keysOf(rec)
	if _, exists := r.byIdentity[ik]; exists {
		return domain.NewConflictError("insert", ConstraintProviderIdentity, errDuplicate)
	}
	if _, exists := r.byOwner[ok]; exists {
		return domain.NewConflictError("insert", ConstraintOwnerProvider, errDuplicate)
	}

	r.nextID++
	now := r.now()
	rec.ID, rec.CreatedAt, rec.UpdatedAt = r.nextID, now, now
	if err := account.MarkPersisted(rec.ID, now, now); err != nil {
		return &domain.PersistenceError{Op: "insert", Err: err}
	}

	r.rows[rec.ID] = rec
	r.byOwner[ok] = rec.ID
	r.byIdentity[ik] = rec.ID
	return nil
}

func (r *SocialAccountRepository) Update(_ context.Context, account *domain.SocialAccount) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec := account.Record()
	old, found := r.rows[rec.ID]
	if !found {
		return &domain.PersistenceError{Op: "update", Err: domain.ErrNotLinked}
	}

	_, ik := keysOf(rec)
	if id, exists := r.byIdentity[ik]; exists && id != rec.ID {
		return domain.NewConflictError("update", ConstraintProviderIdentity, errDuplicate)
	}

	now := r.now()
	rec.CreatedAt, rec.UpdatedAt = old.CreatedAt, now
	if err := account.MarkPersisted(rec.ID, old.CreatedAt, now); err != nil {
		return &domain.PersistenceError{Op: "update", Err: err}
	}

	_, oldIK := keysOf(old)
	delete(r.byIdentity, oldIK)
	r.byIdentity[ik] = rec.ID
	r.rows[rec.ID] = rec
	return nil
}

func (r *SocialAccountRepository) Delete(_ context.Context, account *domain.SocialAccount) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	row, found := r.rows[account.ID()]
	if !found {
		return &domain.PersistenceError{Op: "delete", Err: domain.ErrNotLinked}
	}
	ok, ik := keysOf(row)
	delete(r.byOwner, ok)
	delete(r.byIdentity, ik)
	delete(r.rows, row.ID)
	return nil
}

// Len returns the number of stored links.
func (r *SocialAccountRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rows)
}

func keysOf(rec domain.SocialAccountRecord) (ownerKey, identityKey) {
	return ownerKey{rec.OwnerType, rec.OwnerID, rec.Provider},
		identityKey{rec.OwnerType, rec.Provider, rec.ProviderUID}
}

var _ domain.SocialAccountRepository = (*SocialAccountRepository)(nil)
