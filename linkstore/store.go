// Package linkstore owns the lifecycle of social account links: it resolves,
// creates, updates and deletes the rows that bind a local entity to a
// provider identity.
package linkstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"go.pilab.hu/sociallink/domain"
)

// Store is the only component that mutates social account links.
type Store struct {
	repo domain.SocialAccountRepository
}

// New creates a Store over repo.
func New(repo domain.SocialAccountRepository) *Store {
	return &Store{repo: repo}
}

// ResolveOrCreate returns the link for (ownerType, ownerID, provider) with its
// payload refreshed, or a new link when none exists yet. Nothing is written;
// the caller persists the result with Save.
func (s *Store) ResolveOrCreate(ctx context.Context, ownerType, ownerID, provider, providerUID, providerUsername string, profile *domain.Profile) (*domain.SocialAccount, error) {
	account, err := s.repo.FindByOwnerAndProvider(ctx, ownerType, ownerID, provider)
	if err != nil {
		return nil, fmt.Errorf("failed to look up social account: %w", err)
	}

	if account == nil {
		account, err = domain.NewSocialAccount(ownerType, ownerID, provider, providerUID)
		if err != nil {
			return nil, err
		}
	}

	if err := account.Refresh(providerUID, providerUsername, profile); err != nil {
		return nil, err
	}
	return account, nil
}

// Save inserts a new link or updates an existing one.
func (s *Store) Save(ctx context.Context, account *domain.SocialAccount) error {
	op := "update"
	save := s.repo.Update
	if account.IsNew() {
		op = "insert"
		save = s.repo.Insert
	}

	if err := save(ctx, account); err != nil {
		perr := asPersistenceError(op, err)
		log.Error().Err(perr.Err).
			Str("op", op).
			Str("owner_type", account.OwnerType()).
			Str("owner_id", account.OwnerID()).
			Str("provider", account.Provider()).
			Str("constraint", perr.Constraint).
			Bool("conflict", perr.Conflict).
			Msg("Failed to save social account")
		return perr
	}
	return nil
}

// FindByOwnerAndProvider returns nil, nil when the owner has no link for provider.
func (s *Store) FindByOwnerAndProvider(ctx context.Context, ownerType, ownerID, provider string) (*domain.SocialAccount, error) {
	return s.repo.FindByOwnerAndProvider(ctx, ownerType, ownerID, provider)
}

// FindLocalIDByProviderIdentity resolves a provider identity to the owner id
// it is linked to. An unknown identity is reported through the bool, not as
// an error.
func (s *Store) FindLocalIDByProviderIdentity(ctx context.Context, ownerType, provider, providerUID string) (string, bool, error) {
	account, err := s.repo.FindByProviderIdentity(ctx, ownerType, provider, providerUID)
	if err != nil {
		return "", false, fmt.Errorf("failed to look up provider identity: %w", err)
	}
	if account == nil {
		return "", false, nil
	}
	return account.OwnerID(), true, nil
}

// ListByOwner returns every link of an owner.
func (s *Store) ListByOwner(ctx context.Context, ownerType, ownerID string) ([]*domain.SocialAccount, error) {
	return s.repo.ListByOwner(ctx, ownerType, ownerID)
}

// Delete removes a link.
func (s *Store) Delete(ctx context.Context, account *domain.SocialAccount) error {
	if err := s.repo.Delete(ctx, account); err != nil {
		perr := asPersistenceError("delete", err)
		log.Error().Err(perr.Err).
			Int64("id", account.ID()).
			Str("owner_id", account.OwnerID()).
			Str("provider", account.Provider()).
			Msg("Failed to delete social account")
		return perr
	}
	return nil
}

func asPersistenceError(op string, err error) *domain.PersistenceError {
	var perr *domain.PersistenceError
	if errors.As(err, &perr) {
		return perr
	}
	return &domain.PersistenceError{Op: op, Err: err}
}
