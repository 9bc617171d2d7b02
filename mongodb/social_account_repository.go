package mongodb

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"go.pilab.hu/sociallink/domain"
)

// Index names double as constraint names in conflict errors.
const (
	ConstraintProviderIdentity = "social_accounts_table_provider_provider_uid_key"
	ConstraintOwnerProvider    = "social_accounts_table_foreign_id_provider_key"
)

type socialAccountDocument struct {
	ID               int64           `bson:"_id"`
	OwnerType        string          `bson:"table"`
	OwnerID          string          `bson:"foreign_id"`
	Provider         string          `bson:"provider"`
	ProviderUID      string          `bson:"provider_uid"`
	ProviderUsername string          `bson:"provider_username,omitempty"`
	UserProfile      *domain.Profile `bson:"user_profile,omitempty"`
	CreatedAt        time.Time       `bson:"created_at"`
	UpdatedAt        time.Time       `bson:"updated_at,omitempty"`
}

func (d *socialAccountDocument) toDomain() *domain.SocialAccount {
	return domain.RestoreSocialAccount(domain.SocialAccountRecord{
		ID:               d.ID,
		OwnerType:        d.OwnerType,
		OwnerID:          d.OwnerID,
		Provider:         d.Provider,
		ProviderUID:      d.ProviderUID,
		ProviderUsername: d.ProviderUsername,
		Profile:          d.UserProfile,
		CreatedAt:        d.CreatedAt,
		UpdatedAt:        d.UpdatedAt,
	})
}

// SocialAccountRepository stores links with numeric ids drawn from a
// counters collection, so ids match the SQL backends.
type SocialAccountRepository struct {
	collection *mongo.Collection
	counters   *mongo.Collection
}

// NewSocialAccountRepository creates the repository and ensures its unique indexes.
func NewSocialAccountRepository(ctx context.Context, db *mongo.Database) (*SocialAccountRepository, error) {
	repo := &SocialAccountRepository{
		collection: db.Collection(SocialAccountsCollection),
		counters:   db.Collection(CountersCollection),
	}
	if err := repo.createIndexes(ctx); err != nil {
		return nil, err
	}
	return repo, nil
}

func (r *SocialAccountRepository) createIndexes(ctx context.Context) error {
	indexModels := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "table", Value: 1}, {Key: "provider", Value: 1}, {Key: "provider_uid", Value: 1}},
			Options: options.Index().SetUnique(true).SetName(ConstraintProviderIdentity),
		},
		{
			Keys:    bson.D{{Key: "table", Value: 1}, {Key: "foreign_id", Value: 1}, {Key: "provider", Value: 1}},
			Options: options.Index().SetUnique(true).SetName(ConstraintOwnerProvider),
		},
	}

	if _, err := r.collection.Indexes().CreateMany(ctx, indexModels); err != nil {
		return fmt.Errorf("failed to create indexes for %s collection: %w", SocialAccountsCollection, err)
	}
	log.Info().Msgf("Indexes for %s collection ensured.", SocialAccountsCollection)
	return nil
}

func (r *SocialAccountRepository) nextID(ctx context.Context) (int64, error) {
	var counter struct {
		Seq int64 `bson:"seq"`
	}
	err := r.counters.FindOneAndUpdate(ctx,
		bson.M{"_id": SocialAccountsCollection},
		bson.M{"$inc": bson.M{"seq": int64(1)}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&counter)
	if err != nil {
		return 0, fmt.Errorf("failed to allocate social account id: %w", err)
	}
	return counter.Seq, nil
}

func (r *SocialAccountRepository) findOne(ctx context.Context, filter bson.M) (*domain.SocialAccount, error) {
	var doc socialAccountDocument
	err := r.collection.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		log.Error().Err(err).Interface("filter", filter).Msg("Error getting social account")
		return nil, err
	}
	return doc.toDomain(), nil
}

func (r *SocialAccountRepository) FindByOwnerAndProvider(ctx context.Context, ownerType, ownerID, provider string) (*domain.SocialAccount, error) {
	return r.findOne(ctx, bson.M{"table": ownerType, "foreign_id": ownerID, "provider": provider})
}

func (r *SocialAccountRepository) FindByProviderIdentity(ctx context.Context, ownerType, provider, providerUID string) (*domain.SocialAccount, error) {
	return r.findOne(ctx, bson.M{"table": ownerType, "provider": provider, "provider_uid": providerUID})
}

func (r *SocialAccountRepository) ListByOwner(ctx context.Context, ownerType, ownerID string) ([]*domain.SocialAccount, error) {
	cursor, err := r.collection.Find(ctx,
		bson.M{"table": ownerType, "foreign_id": ownerID},
		options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}),
	)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []socialAccountDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]*domain.SocialAccount, 0, len(docs))
	for i := range docs {
		out = append(out, docs[i].toDomain())
	}
	return out, nil
}

func (r *SocialAccountRepository) Insert(ctx context.Context, account *domain.SocialAccount) error {
	id, err := r.nextID(ctx)
	if err != nil {
		return &domain.PersistenceError{Op: "insert", Err: err}
	}

	rec := account.Record()
	now := time.Now().UTC().Truncate(time.Millisecond)
	doc := socialAccountDocument{
		ID:               id,
		OwnerType:        rec.OwnerType,
		OwnerID:          rec.OwnerID,
		Provider:         rec.Provider,
		ProviderUID:      rec.ProviderUID,
		ProviderUsername: rec.ProviderUsername,
		UserProfile:      rec.Profile,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if _, err := r.collection.InsertOne(ctx, doc); err != nil {
		return mapError("insert", err)
	}
	return account.MarkPersisted(id, now, now)
}

func (r *SocialAccountRepository) Update(ctx context.Context, account *domain.SocialAccount) error {
	rec := account.Record()
	now := time.Now().UTC().Truncate(time.Millisecond)

	set := bson.M{"provider_uid": rec.ProviderUID, "updated_at": now}
	unset := bson.M{}
	if rec.ProviderUsername != "" {
		set["provider_username"] = rec.ProviderUsername
	} else {
		unset["provider_username"] = ""
	}
	if rec.Profile != nil {
		set["user_profile"] = rec.Profile
	} else {
		unset["user_profile"] = ""
	}
	update := bson.M{"$set": set}
	if len(unset) > 0 {
		update["$unset"] = unset
	}

	var doc socialAccountDocument
	err := r.collection.FindOneAndUpdate(ctx, bson.M{"_id": rec.ID}, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return &domain.PersistenceError{Op: "update", Err: domain.ErrNotLinked}
	}
	if err != nil {
		return mapError("update", err)
	}
	return account.MarkPersisted(rec.ID, doc.CreatedAt, now)
}

func (r *SocialAccountRepository) Delete(ctx context.Context, account *domain.SocialAccount) error {
	result, err := r.collection.DeleteOne(ctx, bson.M{"_id": account.ID()})
	if err != nil {
		return mapError("delete", err)
	}
	if result.DeletedCount == 0 {
		return &domain.PersistenceError{Op: "delete", Err: domain.ErrNotLinked}
	}
	return nil
}

func mapError(op string, err error) error {
	if mongo.IsDuplicateKeyError(err) {
		constraint := ConstraintOwnerProvider
		if strings.Contains(err.Error(), ConstraintProviderIdentity) {
			constraint = ConstraintProviderIdentity
		}
		return domain.NewConflictError(op, constraint, err)
	}
	return &domain.PersistenceError{Op: op, Err: err}
}

var _ domain.SocialAccountRepository = (*SocialAccountRepository)(nil)
