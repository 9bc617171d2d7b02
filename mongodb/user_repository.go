package mongodb

import (
	"context"
	"fmt"
	"strconv"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"go.pilab.hu/sociallink/domain"
)

// UserRepository reads host users from arbitrary collections. Relations are
// joined with $lookup stages.
type UserRepository struct {
	db *mongo.Database
}

// NewUserRepository creates a repository over db.
func NewUserRepository(db *mongo.Database) *UserRepository {
	return &UserRepository{db: db}
}

// FindUser implements domain.UserRepository.
func (r *UserRepository) FindUser(ctx context.Context, q domain.UserQuery) (domain.UserRecord, error) {
	match := bson.M{q.PrimaryKey: bson.M{"$in": idCandidates(q.ID)}}
	for k, v := range q.Scope {
		match[k] = v
	}

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$limit", Value: 1}},
	}
	for _, rel := range q.Contain {
		pipeline = append(pipeline, bson.D{{Key: "$lookup", Value: bson.M{
			"from":         rel.Collection,
			"localField":   q.PrimaryKey,
			"foreignField": rel.ForeignKey,
			"as":           rel.Name,
		}}})
	}

	cursor, err := r.db.Collection(q.Collection).Aggregate(ctx, pipeline)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", q.Collection, err)
	}
	defer cursor.Close(ctx)

	var docs []bson.M
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", q.Collection, err)
	}
	if len(docs) == 0 {
		return nil, nil
	}

	user := domain.UserRecord{}
	for k, v := range docs[0] {
		user[k] = normalize(v)
	}
	return user, nil
}

// InsertUser implements domain.UserWriter. Records without an "id" get a
// fresh ObjectID hex string, since the social login looks users up by it.
func (r *UserRepository) InsertUser(ctx context.Context, collection string, record domain.UserRecord) error {
	doc := bson.M{}
	for k, v := range record {
		doc[k] = v
	}
	if _, ok := doc[DefaultPrimaryKey]; !ok {
		doc[DefaultPrimaryKey] = NewObjectID()
	}
	if _, err := r.db.Collection(collection).InsertOne(ctx, doc); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return domain.NewConflictError("insert user", collection, err)
		}
		return &domain.PersistenceError{Op: "insert user", Err: err}
	}
	return nil
}

// Host ids may be stored as strings, integers or ObjectIDs.
func idCandidates(id string) []any {
	out := []any{id}
	if n, err := strconv.ParseInt(id, 10, 64); err == nil {
		out = append(out, n)
	}
	if oid, err := primitive.ObjectIDFromHex(id); err == nil {
		out = append(out, oid)
	}
	return out
}

func normalize(v any) any {
	switch t := v.(type) {
	case primitive.ObjectID:
		return t.Hex()
	case primitive.M:
		out := make(map[string]any, len(t))
		for k, e := range t {
			out[k] = normalize(e)
		}
		return out
	case primitive.A:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = normalize(e)
		}
		return out
	default:
		return v
	}
}

var (
	_ domain.UserRepository = (*UserRepository)(nil)
	_ domain.UserWriter     = (*UserRepository)(nil)
)
