package domain

import "context"

// SocialAccountRepository persists social account links. Implementations
// enforce both uniqueness constraints and report violations as a
// PersistenceError with Conflict set.
type SocialAccountRepository interface {
	// FindByOwnerAndProvider returns nil, nil when no link exists.
	FindByOwnerAndProvider(ctx context.Context, ownerType, ownerID, provider string) (*SocialAccount, error)
	// FindByProviderIdentity returns nil, nil when no link exists.
	FindByProviderIdentity(ctx context.Context, ownerType, provider, providerUID string) (*SocialAccount, error)
	ListByOwner(ctx context.Context, ownerType, ownerID string) ([]*SocialAccount, error)
	Insert(ctx context.Context, account *SocialAccount) error
	Update(ctx context.Context, account *SocialAccount) error
	Delete(ctx context.Context, account *SocialAccount) error
}

// UserRepository reads local users.
type UserRepository interface {
	// FindUser returns nil, nil when no row matches.
	FindUser(ctx context.Context, q UserQuery) (UserRecord, error)
}

// UserWriter inserts local users. Only the CLI seeds users; the host
// application owns them otherwise.
type UserWriter interface {
	InsertUser(ctx context.Context, collection string, record UserRecord) error
}
