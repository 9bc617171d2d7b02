// Package services holds the social login orchestration: login through a
// linked provider identity, association of a provider with the current
// user, unlinking and logout.
package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"go.pilab.hu/sociallink/domain"
	"go.pilab.hu/sociallink/internal/audit"
	"go.pilab.hu/sociallink/internal/federation"
	"go.pilab.hu/sociallink/internal/metrics"
	"go.pilab.hu/sociallink/linkstore"
)

// IdentityEngine is the per-request view of the identity engine.
// *federation.Client implements it.
type IdentityEngine interface {
	Authenticate(ctx context.Context, provider string, params federation.Params) (federation.Adapter, error)
	ConnectedProviders() []string
	Adapter(provider string) (federation.Adapter, error)
	RequiresIdentifier(provider string) (bool, error)
	DisconnectAll() error
}

// LoginRequest carries the provider selector read from the request. An
// empty Provider means the browser is returning from a provider.
type LoginRequest struct {
	Provider   string
	Identifier string
	ReturnTo   string
}

// SocialLoginService orchestrates the engine, the link store and the user
// repository. It keeps no state of its own between calls.
type SocialLoginService struct {
	opts  Options
	links *linkstore.Store
	users domain.UserRepository
}

// NewSocialLoginService validates opts and builds the service.
func NewSocialLoginService(opts Options, links *linkstore.Store, users domain.UserRepository) (*SocialLoginService, error) {
	opts, err := opts.Validate()
	if err != nil {
		return nil, err
	}
	if links == nil {
		return nil, &domain.ConfigurationError{Field: "links", Reason: "is required"}
	}
	if users == nil {
		return nil, &domain.ConfigurationError{Field: "users", Reason: "is required"}
	}
	return &SocialLoginService{opts: opts, links: links, users: users}, nil
}

// Options returns the validated options.
func (s *SocialLoginService) Options() Options {
	return s.opts
}

// Login authenticates through a provider and returns the linked local user
// without its password field. A provider identity nobody linked yields
// nil, nil. A *federation.RedirectError means the browser has to visit the
// provider first.
func (s *SocialLoginService) Login(ctx context.Context, engine IdentityEngine, req LoginRequest) (user domain.UserRecord, err error) {
	provider := req.Provider
	defer func() { observe(metrics.LoginTotal, provider, user == nil, err) }()

	if provider == "" {
		connected := engine.ConnectedProviders()
		if len(connected) == 0 {
			return nil, &domain.ValidationError{Field: s.opts.Fields.Provider, Reason: "is required"}
		}
		provider = connected[0]
	} else if err := s.validateSelector(engine, req); err != nil {
		return nil, err
	}

	adapter, err := engine.Authenticate(ctx, provider, federation.Params{
		ReturnTo:   req.ReturnTo,
		Identifier: req.Identifier,
	})
	if err != nil {
		return nil, err
	}

	profile, err := s.profile(ctx, adapter)
	if err != nil {
		return nil, err
	}

	ownerID, found, err := s.links.FindLocalIDByProviderIdentity(ctx, s.opts.UserModel, provider, profile.Identifier)
	if err != nil {
		return nil, err
	}
	if !found {
		log.Debug().Str("provider", provider).Str("provider_uid", profile.Identifier).Msg("No local user linked to provider identity")
		return nil, nil
	}

	record, err := s.users.FindUser(ctx, domain.UserQuery{
		Collection: s.opts.UserModel,
		PrimaryKey: s.opts.PrimaryKey,
		ID:         ownerID,
		Scope:      s.opts.Scope,
		Contain:    s.opts.Contain,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to load user %s: %w", ownerID, err)
	}
	if record == nil {
		log.Warn().Str("provider", provider).Str("owner_id", ownerID).Msg("Linked user not found or out of scope")
		return nil, nil
	}

	return record.Without(s.opts.Fields.Password), nil
}

// BeginAssociation drops every provider connection of the session and
// starts a fresh authentication, so the next Associate binds exactly the
// provider the user chose.
func (s *SocialLoginService) BeginAssociation(ctx context.Context, engine IdentityEngine, req LoginRequest) error {
	if req.Provider == "" {
		return &domain.ValidationError{Field: s.opts.Fields.Provider, Reason: "is required"}
	}
	if err := s.validateSelector(engine, req); err != nil {
		return err
	}
	if err := engine.DisconnectAll(); err != nil {
		return fmt.Errorf("failed to reset provider connections: %w", err)
	}

	_, err := engine.Authenticate(ctx, req.Provider, federation.Params{
		ReturnTo:   req.ReturnTo,
		Identifier: req.Identifier,
	})
	return err
}

// Associate links the first connected provider identity to currentUser.
// A link lost to a concurrent request, or an identity that already belongs
// to another user, is reported as domain.ErrAlreadyLinked.
func (s *SocialLoginService) Associate(ctx context.Context, engine IdentityEngine, currentUser domain.UserRecord) (account *domain.SocialAccount, err error) {
	var provider, providerUID string
	defer func() { observe(metrics.AssociateTotal, provider, false, err) }()

	ownerID := currentUser.ID(s.opts.PrimaryKey)
	if ownerID == "" {
		return nil, &domain.ValidationError{Field: s.opts.PrimaryKey, Reason: "current user is required"}
	}
	defer func() {
		if provider != "" {
			s.audit(audit.ActionAssociate, ownerID, provider, providerUID, err)
		}
	}()

	var profile *domain.Profile
	for _, name := range engine.ConnectedProviders() {
		adapter, err := engine.Adapter(name)
		if err != nil {
			continue
		}
		p, err := s.profile(ctx, adapter)
		if err != nil {
			provider = name
			return nil, err
		}
		if p.Identifier != "" {
			provider, providerUID, profile = name, p.Identifier, p
			break
		}
	}
	if profile == nil {
		return nil, &domain.ValidationError{Field: s.opts.Fields.Provider, Reason: "has no connected identity"}
	}

	account, err = s.links.ResolveOrCreate(ctx, s.opts.UserModel, ownerID, provider, profile.Identifier, profile.DisplayName, profile)
	if err != nil {
		return nil, err
	}
	if err := s.links.Save(ctx, account); err != nil {
		if domain.IsConflict(err) {
			return nil, fmt.Errorf("%w: %w", domain.ErrAlreadyLinked, err)
		}
		return nil, err
	}

	log.Info().
		Str("owner_type", s.opts.UserModel).
		Str("owner_id", ownerID).
		Str("provider", provider).
		Int64("id", account.ID()).
		Msg("Social account associated")
	return account, nil
}

// Unlink removes the currentUser's link to provider. A missing link is
// domain.ErrNotLinked.
func (s *SocialLoginService) Unlink(ctx context.Context, currentUser domain.UserRecord, provider string) (err error) {
	defer func() { observe(metrics.UnlinkTotal, provider, false, err) }()

	ownerID := currentUser.ID(s.opts.PrimaryKey)
	if ownerID == "" {
		return &domain.ValidationError{Field: s.opts.PrimaryKey, Reason: "current user is required"}
	}
	if provider == "" {
		return &domain.ValidationError{Field: s.opts.Fields.Provider, Reason: "is required"}
	}

	account, err := s.links.FindByOwnerAndProvider(ctx, s.opts.UserModel, ownerID, provider)
	if err != nil {
		return err
	}
	if account == nil {
		return fmt.Errorf("%w: %s", domain.ErrNotLinked, provider)
	}
	err = s.links.Delete(ctx, account)
	s.audit(audit.ActionUnlink, ownerID, provider, account.ProviderUID(), err)
	return err
}

func (s *SocialLoginService) audit(action, ownerID, provider, providerUID string, err error) {
	audit.Log(audit.Event{
		Source:      "web",
		Action:      action,
		OwnerType:   s.opts.UserModel,
		OwnerID:     ownerID,
		Provider:    provider,
		ProviderUID: providerUID,
	}, err)
}

// Logout disconnects every provider of the session.
func (s *SocialLoginService) Logout(_ context.Context, engine IdentityEngine) error {
	return engine.DisconnectAll()
}

// LinkedAccounts lists the links of currentUser.
func (s *SocialLoginService) LinkedAccounts(ctx context.Context, currentUser domain.UserRecord) ([]*domain.SocialAccount, error) {
	ownerID := currentUser.ID(s.opts.PrimaryKey)
	if ownerID == "" {
		return nil, &domain.ValidationError{Field: s.opts.PrimaryKey, Reason: "current user is required"}
	}
	return s.links.ListByOwner(ctx, s.opts.UserModel, ownerID)
}

func (s *SocialLoginService) validateSelector(engine IdentityEngine, req LoginRequest) error {
	required, err := engine.RequiresIdentifier(req.Provider)
	if err != nil {
		if errors.Is(err, federation.ErrProviderNotFound) {
			return &domain.ValidationError{Field: s.opts.Fields.Provider, Reason: "is not a known provider"}
		}
		return err
	}
	if required && req.Identifier == "" {
		return &domain.ValidationError{Field: s.opts.Fields.OpenIDIdentifier, Reason: "is required"}
	}
	return nil
}

// profile fetches the adapter's profile. On failure the adapter is
// disconnected so no half-authenticated connection stays in the session.
func (s *SocialLoginService) profile(ctx context.Context, adapter federation.Adapter) (*domain.Profile, error) {
	profile, err := adapter.UserProfile(ctx)
	if err == nil && profile != nil {
		return profile, nil
	}
	if err == nil {
		err = errors.New("empty profile")
	}

	if derr := adapter.Disconnect(); derr != nil {
		log.Warn().Err(derr).Str("provider", adapter.Provider()).Msg("Failed to disconnect provider after profile failure")
	}
	return nil, &domain.UpstreamProfileError{Provider: adapter.Provider(), Err: err}
}

func observe(counter *prometheus.CounterVec, provider string, noUser bool, err error) {
	if provider == "" {
		provider = "none"
	}
	counter.WithLabelValues(provider, outcome(noUser, err)).Inc()
}

func outcome(noUser bool, err error) string {
	if _, ok := federation.AsRedirect(err); ok {
		return metrics.OutcomeRedirect
	}
	switch {
	case err == nil && noUser:
		return metrics.OutcomeNoUser
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.Is(err, domain.ErrValidation), errors.Is(err, domain.ErrNotLinked):
		return metrics.OutcomeDeclined
	case errors.Is(err, domain.ErrAlreadyLinked):
		return metrics.OutcomeConflict
	default:
		return metrics.OutcomeError
	}
}
