package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Column limits of the social_accounts table.
const (
	maxOwnerTypeLen = 255
	maxOwnerIDLen   = 36
	maxProviderLen  = 255
	maxUIDLen       = 255
)

// Profile is the provider's view of an authenticated identity, as last fetched.
type Profile struct {
	Identifier  string         `json:"identifier" bson:"identifier"`
	DisplayName string         `json:"display_name,omitempty" bson:"display_name,omitempty"`
	Email       string         `json:"email,omitempty" bson:"email,omitempty"`
	FirstName   string         `json:"first_name,omitempty" bson:"first_name,omitempty"`
	LastName    string         `json:"last_name,omitempty" bson:"last_name,omitempty"`
	PhotoURL    string         `json:"photo_url,omitempty" bson:"photo_url,omitempty"`
	Raw         map[string]any `json:"raw,omitempty" bson:"raw,omitempty"`
}

// SocialAccount links one local entity (owner type + owner id) to one
// identity at an external provider.
//
// Only the payload (provider uid, username, profile) is mutable. The owner
// and provider are fixed at construction and the id is fixed once assigned.
type SocialAccount struct {
	id               int64
	ownerType        string
	ownerID          string
	provider         string
	providerUID      string
	providerUsername string
	profile          *Profile
	createdAt        time.Time
	updatedAt        time.Time
}

// NewSocialAccount builds an unsaved link. All four key fields are required.
func NewSocialAccount(ownerType, ownerID, provider, providerUID string) (*SocialAccount, error) {
	if err := requireField("owner_type", ownerType, maxOwnerTypeLen); err != nil {
		return nil, err
	}
	if err := requireField("owner_id", ownerID, maxOwnerIDLen); err != nil {
		return nil, err
	}
	if err := requireField("provider", provider, maxProviderLen); err != nil {
		return nil, err
	}
	if err := requireField("provider_uid", providerUID, maxUIDLen); err != nil {
		return nil, err
	}

	return &SocialAccount{
		ownerType:   ownerType,
		ownerID:     ownerID,
		provider:    provider,
		providerUID: providerUID,
	}, nil
}

func requireField(name, value string, max int) error {
	if value == "" {
		return &ValidationError{Field: name, Reason: "must not be empty"}
	}
	if len(value) > max {
		return &ValidationError{Field: name, Reason: fmt.Sprintf("must be at most %d characters", max)}
	}
	return nil
}

func (a *SocialAccount) ID() int64                { return a.id }
func (a *SocialAccount) OwnerType() string        { return a.ownerType }
func (a *SocialAccount) OwnerID() string          { return a.ownerID }
func (a *SocialAccount) Provider() string         { return a.provider }
func (a *SocialAccount) ProviderUID() string      { return a.providerUID }
func (a *SocialAccount) ProviderUsername() string { return a.providerUsername }
func (a *SocialAccount) Profile() *Profile        { return a.profile }
func (a *SocialAccount) CreatedAt() time.Time     { return a.createdAt }
func (a *SocialAccount) UpdatedAt() time.Time     { return a.updatedAt }

// IsNew reports whether the link has never been persisted.
func (a *SocialAccount) IsNew() bool { return a.id == 0 }

// Refresh replaces the mutable payload of the link in place.
func (a *SocialAccount) Refresh(providerUID, providerUsername string, profile *Profile) error {
	if err := requireField("provider_uid", providerUID, maxUIDLen); err != nil {
		return err
	}
	a.providerUID = providerUID
	a.providerUsername = providerUsername
	a.profile = profile
	return nil
}

// MarkPersisted records the storage-assigned id and timestamps. Repositories
// call it after a successful insert or update. A link that already carries an
// id cannot be given a different one.
func (a *SocialAccount) MarkPersisted(id int64, createdAt, updatedAt time.Time) error {
	if id <= 0 {
		return fmt.Errorf("invalid social account id %d", id)
	}
	if a.id != 0 && a.id != id {
		return fmt.Errorf("social account id is immutable: have %d, got %d", a.id, id)
	}
	a.id = id
	if a.createdAt.IsZero() {
		a.createdAt = createdAt
	}
	a.updatedAt = updatedAt
	return nil
}

// SocialAccountRecord is the flat storage form of a SocialAccount.
type SocialAccountRecord struct {
	ID               int64
	OwnerType        string
	OwnerID          string
	Provider         string
	ProviderUID      string
	ProviderUsername string
	Profile          *Profile
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Record flattens the link for a repository.
func (a *SocialAccount) Record() SocialAccountRecord {
	return SocialAccountRecord{
		ID:               a.id,
		OwnerType:        a.ownerType,
		OwnerID:          a.ownerID,
		Provider:         a.provider,
		ProviderUID:      a.providerUID,
		ProviderUsername: a.providerUsername,
		Profile:          a.profile,
		CreatedAt:        a.createdAt,
		UpdatedAt:        a.updatedAt,
	}
}

// RestoreSocialAccount rebuilds a link loaded from storage.
func RestoreSocialAccount(r SocialAccountRecord) *SocialAccount {
	return &SocialAccount{
		id:               r.ID,
		ownerType:        r.OwnerType,
		ownerID:          r.OwnerID,
		provider:         r.Provider,
		providerUID:      r.ProviderUID,
		providerUsername: r.ProviderUsername,
		profile:          r.Profile,
		createdAt:        r.CreatedAt,
		updatedAt:        r.UpdatedAt,
	}
}

// EncodeProfile serializes a profile snapshot for a text or JSON column.
// A nil profile encodes to nil.
func EncodeProfile(p *Profile) ([]byte, error) {
	if p == nil {
		return nil, nil
	}
	return json.Marshal(p)
}

// DecodeProfile parses a stored profile snapshot. Empty input yields nil.
func DecodeProfile(raw []byte) (*Profile, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var p Profile
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("failed to decode user profile: %w", err)
	}
	return &p, nil
}
