package linkstore_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"go.pilab.hu/sociallink/domain"
	"go.pilab.hu/sociallink/linkstore"
	"go.pilab.hu/sociallink/memory"
)

func TestResolveOrCreate_NewLink(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewSocialAccountRepository()
	store := linkstore.New(repo)

	profile := &domain.Profile{Identifier: "https://example.com/u/42", DisplayName: "Jane"}
	acc, err := store.ResolveOrCreate(ctx, "Users", "42", "OpenID", "https://example.com/u/42", "jane", profile)
	require.NoError(t, err)
	assert.True(t, acc.IsNew())
	assert.Equal(t, 0, repo.Len(), "resolve does not persist")

	require.NoError(t, store.Save(ctx, acc))
	assert.Equal(t, 1, repo.Len())
	assert.False(t, acc.IsNew())

	byOwner, err := store.FindByOwnerAndProvider(ctx, "Users", "42", "OpenID")
	require.NoError(t, err)
	require.NotNil(t, byOwner)
	assert.Equal(t, acc.ID(), byOwner.ID())
	assert.Equal(t, "jane", byOwner.ProviderUsername())
	assert.Equal(t, "Jane", byOwner.Profile().DisplayName)

	id, found, err := store.FindLocalIDByProviderIdentity(ctx, "Users", "OpenID", "https://example.com/u/42")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "42", id)
}

func TestResolveOrCreate_RefreshKeepsIdentity(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewSocialAccountRepository()
	store := linkstore.New(repo)

	first, err := store.ResolveOrCreate(ctx, "Users", "42", "Google", "g-1", "old", nil)
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, first))

	second, err := store.ResolveOrCreate(ctx, "Users", "42", "Google", "g-2", "new", &domain.Profile{Identifier: "g-2"})
	require.NoError(t, err)
	assert.False(t, second.IsNew())
	require.NoError(t, store.Save(ctx, second))

	assert.Equal(t, 1, repo.Len())
	assert.Equal(t, first.ID(), second.ID())
	assert.Equal(t, first.CreatedAt(), second.CreatedAt())
	assert.Equal(t, "g-2", second.ProviderUID())

	_, found, err := store.FindLocalIDByProviderIdentity(ctx, "Users", "Google", "g-1")
	require.NoError(t, err)
	assert.False(t, found, "old identity no longer resolves")

	id, found, err := store.FindLocalIDByProviderIdentity(ctx, "Users", "Google", "g-2")
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "42", id)
}

func TestFindLocalIDByProviderIdentity_Empty(t *testing.T) {
	store := linkstore.New(memory.NewSocialAccountRepository())

	id, found, err := store.FindLocalIDByProviderIdentity(context.Background(), "Users", "OpenID", "nobody")
	assert.NoError(t, err)
	assert.False(t, found)
	assert.Empty(t, id)

	acc, err := store.FindByOwnerAndProvider(context.Background(), "Users", "42", "OpenID")
	assert.NoError(t, err)
	assert.Nil(t, acc)
}

func TestResolveOrCreate_Validation(t *testing.T) {
	store := linkstore.New(memory.NewSocialAccountRepository())

	_, err := store.ResolveOrCreate(context.Background(), "Users", "", "Google", "g-1", "", nil)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestSave_ConcurrentInsertsConflict(t *testing.T) {
	ctx := context.Background()
	store := linkstore.New(memory.NewSocialAccountRepository())

	const attempts = 8
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Both requests resolve before either saves, as in a double submit.
			acc, err := domain.NewSocialAccount("Users", "42", "Google", "g-1")
			if err != nil {
				errs[i] = err
				return
			}
			errs[i] = store.Save(ctx, acc)
		}(i)
	}
	wg.Wait()

	var ok, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case domain.IsConflict(err):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, attempts-1, conflicts)
}

func TestSave_IdentityOwnedByAnotherUser(t *testing.T) {
	ctx := context.Background()
	store := linkstore.New(memory.NewSocialAccountRepository())

	a, err := store.ResolveOrCreate(ctx, "Users", "1", "GitHub", "gh-7", "", nil)
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, a))

	b, err := store.ResolveOrCreate(ctx, "Users", "2", "GitHub", "gh-7", "", nil)
	require.NoError(t, err)
	err = store.Save(ctx, b)
	require.Error(t, err)

	var perr *domain.PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.True(t, perr.Conflict)
	assert.Equal(t, memory.ConstraintProviderIdentity, perr.Constraint)
}

func TestDelete(t *testing.T) {
	ctx := context.Background()
	repo := memory.NewSocialAccountRepository()
	store := linkstore.New(repo)

	acc, err := store.ResolveOrCreate(ctx, "Users", "42", "Google", "g-1", "", nil)
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, acc))

	list, err := store.ListByOwner(ctx, "Users", "42")
	require.NoError(t, err)
	assert.Len(t, list, 1)

	require.NoError(t, store.Delete(ctx, acc))
	assert.Equal(t, 0, repo.Len())

	err = store.Delete(ctx, acc)
	assert.ErrorIs(t, err, domain.ErrPersistence)
}

type mockRepo struct {
	mock.Mock
}

func (m *mockRepo) FindByOwnerAndProvider(ctx context.Context, ownerType, ownerID, provider string) (*domain.SocialAccount, error) {
	args := m.Called(ctx, ownerType, ownerID, provider)
	acc, _ := args.Get(0).(*domain.SocialAccount)
	return acc, args.Error(1)
}

func (m *mockRepo) FindByProviderIdentity(ctx context.Context, ownerType, provider, providerUID string) (*domain.SocialAccount, error) {
	args := m.Called(ctx, ownerType, provider, providerUID)
	acc, _ := args.Get(0).(*domain.SocialAccount)
	return acc, args.Error(1)
}

func (m *mockRepo) ListByOwner(ctx context.Context, ownerType, ownerID string) ([]*domain.SocialAccount, error) {
	args := m.Called(ctx, ownerType, ownerID)
	list, _ := args.Get(0).([]*domain.SocialAccount)
	return list, args.Error(1)
}

func (m *mockRepo) Insert(ctx context.Context, account *domain.SocialAccount) error {
	return m.Called(ctx, account).Error(0)
}

func (m *mockRepo) Update(ctx context.Context, account *domain.SocialAccount) error {
	return m.Called(ctx, account).Error(0)
}

func (m *mockRepo) Delete(ctx context.Context, account *domain.SocialAccount) error {
	return m.Called(ctx, account).Error(0)
}

func TestSave_WrapsBackendErrors(t *testing.T) {
	ctx := context.Background()
	repo := new(mockRepo)
	store := linkstore.New(repo)

	acc, err := domain.NewSocialAccount("Users", "42", "Google", "g-1")
	require.NoError(t, err)

	cause := errors.New("connection refused")
	repo.On("Insert", ctx, acc).Return(cause).Once()

	err = store.Save(ctx, acc)
	require.Error(t, err)

	var perr *domain.PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "insert", perr.Op)
	assert.False(t, perr.Conflict)
	assert.ErrorIs(t, err, cause)
	repo.AssertExpectations(t)
}

func TestLookups_PropagateBackendErrors(t *testing.T) {
	ctx := context.Background()
	repo := new(mockRepo)
	store := linkstore.New(repo)

	cause := errors.New("timeout")
	repo.On("FindByProviderIdentity", ctx, "Users", "Google", "g-1").Return(nil, cause).Once()
	repo.On("FindByOwnerAndProvider", ctx, "Users", "42", "Google").Return(nil, cause).Once()

	_, found, err := store.FindLocalIDByProviderIdentity(ctx, "Users", "Google", "g-1")
	assert.ErrorIs(t, err, cause)
	assert.False(t, found)

	_, err = store.ResolveOrCreate(ctx, "Users", "42", "Google", "g-1", "", nil)
	assert.ErrorIs(t, err, cause)
	repo.AssertExpectations(t)
}
