package mongodb_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"go.pilab.hu/sociallink/domain"
	"go.pilab.hu/sociallink/linkstore"
	"go.pilab.hu/sociallink/mongodb"
	"go.pilab.hu/sociallink/mongodb/testutil"
)

func TestSocialAccountRepository(t *testing.T) {
	db, cleanup := testutil.SetupTestMongoDB(t, "sociallink_links")
	defer cleanup()

	ctx := context.Background()
	repo, err := mongodb.NewSocialAccountRepository(ctx, db)
	require.NoError(t, err)
	store := linkstore.New(repo)

	t.Run("resolve, save and refresh", func(t *testing.T) {
		acc, err := store.ResolveOrCreate(ctx, "Users", "42", "OpenID", "https://example.com/u/42", "jane",
			&domain.Profile{Identifier: "https://example.com/u/42", DisplayName: "Jane"})
		require.NoError(t, err)
		require.NoError(t, store.Save(ctx, acc))
		assert.Equal(t, int64(1), acc.ID())

		again, err := store.ResolveOrCreate(ctx, "Users", "42", "OpenID", "https://example.com/u/42b", "", nil)
		require.NoError(t, err)
		require.NoError(t, store.Save(ctx, again))
		assert.Equal(t, acc.ID(), again.ID())
		assert.True(t, acc.CreatedAt().Equal(again.CreatedAt()))

		loaded, err := repo.FindByOwnerAndProvider(ctx, "Users", "42", "OpenID")
		require.NoError(t, err)
		require.NotNil(t, loaded)
		assert.Equal(t, "https://example.com/u/42b", loaded.ProviderUID())
		assert.Nil(t, loaded.Profile())

		id, found, err := store.FindLocalIDByProviderIdentity(ctx, "Users", "OpenID", "https://example.com/u/42b")
		require.NoError(t, err)
		assert.True(t, found)
		assert.Equal(t, "42", id)
	})

	t.Run("unique constraints", func(t *testing.T) {
		a, err := domain.NewSocialAccount("Users", "7", "GitHub", "gh-7")
		require.NoError(t, err)
		require.NoError(t, repo.Insert(ctx, a))

		b, err := domain.NewSocialAccount("Users", "8", "GitHub", "gh-7")
		require.NoError(t, err)
		err = repo.Insert(ctx, b)
		var perr *domain.PersistenceError
		require.ErrorAs(t, err, &perr)
		assert.True(t, perr.Conflict)
		assert.Equal(t, mongodb.ConstraintProviderIdentity, perr.Constraint)

		c, err := domain.NewSocialAccount("Users", "7", "GitHub", "gh-other")
		require.NoError(t, err)
		err = repo.Insert(ctx, c)
		require.ErrorAs(t, err, &perr)
		assert.Equal(t, mongodb.ConstraintOwnerProvider, perr.Constraint)
	})

	t.Run("concurrent insert", func(t *testing.T) {
		var wg sync.WaitGroup
		errs := make([]error, 4)
		for i := range errs {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				acc, err := domain.NewSocialAccount("Users", "99", "Google", "g-99")
				if err != nil {
					errs[i] = err
					return
				}
				errs[i] = store.Save(ctx, acc)
			}(i)
		}
		wg.Wait()

		ok := 0
		for _, err := range errs {
			if err == nil {
				ok++
				continue
			}
			assert.True(t, domain.IsConflict(err), "unexpected error: %v", err)
		}
		assert.Equal(t, 1, ok)
	})

	t.Run("delete", func(t *testing.T) {
		acc, err := repo.FindByOwnerAndProvider(ctx, "Users", "7", "GitHub")
		require.NoError(t, err)
		require.NotNil(t, acc)
		require.NoError(t, store.Delete(ctx, acc))
		assert.ErrorIs(t, store.Delete(ctx, acc), domain.ErrPersistence)
	})
}

func TestUserRepository(t *testing.T) {
	db, cleanup := testutil.SetupTestMongoDB(t, "sociallink_users")
	defer cleanup()

	ctx := context.Background()
	_, err := db.Collection("users").InsertMany(ctx, []any{
		bson.M{"_id": int64(42), "username": "jane", "password": "hash", "active": true},
		bson.M{"_id": int64(43), "username": "joe", "active": false},
	})
	require.NoError(t, err)
	_, err = db.Collection("profiles").InsertOne(ctx, bson.M{"user_id": int64(42), "bio": "hello"})
	require.NoError(t, err)

	repo := mongodb.NewUserRepository(db)
	q := domain.UserQuery{
		Collection: "users",
		PrimaryKey: "_id",
		ID:         "42",
		Scope:      map[string]any{"active": true},
		Contain:    []domain.Relation{{Name: "profiles", Collection: "profiles", ForeignKey: "user_id"}},
	}

	user, err := repo.FindUser(ctx, q)
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Equal(t, "jane", user["username"])
	assert.Equal(t, "42", user.ID("_id"))
	assert.Len(t, user["profiles"], 1)

	q.ID = "43"
	user, err = repo.FindUser(ctx, q)
	require.NoError(t, err)
	assert.Nil(t, user)
}

func TestUserRepository_InsertUser(t *testing.T) {
	db, cleanup := testutil.SetupTestMongoDB(t, "sociallink_insert_users")
	defer cleanup()

	ctx := context.Background()
	_, err := db.Collection("users").Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "username", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	require.NoError(t, err)

	repo := mongodb.NewUserRepository(db)
	require.NoError(t, repo.InsertUser(ctx, "users", domain.UserRecord{"username": "jane", "password": "hash"}))

	user, err := repo.FindUser(ctx, domain.UserQuery{Collection: "users", PrimaryKey: "username", ID: "jane"})
	require.NoError(t, err)
	require.NotNil(t, user)
	assert.Len(t, user.ID(mongodb.DefaultPrimaryKey), 24)

	err = repo.InsertUser(ctx, "users", domain.UserRecord{"username": "jane"})
	assert.True(t, domain.IsConflict(err), "unexpected error: %v", err)
}
