package domain_test

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.pilab.hu/sociallink/domain"
)

func TestNewSocialAccount(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		acc, err := domain.NewSocialAccount("Users", "42", "OpenID", "https://example.com/u/42")
		require.NoError(t, err)
		assert.True(t, acc.IsNew())
		assert.Equal(t, "Users", acc.OwnerType())
		assert.Equal(t, "42", acc.OwnerID())
		assert.Equal(t, "OpenID", acc.Provider())
		assert.Equal(t, "https://example.com/u/42", acc.ProviderUID())
	})

	cases := map[string][4]string{
		"owner_type":   {"", "42", "OpenID", "uid"},
		"owner_id":     {"Users", "", "OpenID", "uid"},
		"provider":     {"Users", "42", "", "uid"},
		"provider_uid": {"Users", "42", "OpenID", ""},
	}
	for field, in := range cases {
		t.Run("missing "+field, func(t *testing.T) {
			_, err := domain.NewSocialAccount(in[0], in[1], in[2], in[3])
			require.Error(t, err)
			assert.ErrorIs(t, err, domain.ErrValidation)

			var ve *domain.ValidationError
			require.True(t, errors.As(err, &ve))
			assert.Equal(t, field, ve.Field)
		})
	}

	t.Run("owner id longer than column", func(t *testing.T) {
		_, err := domain.NewSocialAccount("Users", strings.Repeat("x", 37), "OpenID", "uid")
		assert.ErrorIs(t, err, domain.ErrValidation)
	})
}

func TestSocialAccount_MarkPersisted(t *testing.T) {
	acc, err := domain.NewSocialAccount("Users", "42", "Google", "g-1")
	require.NoError(t, err)

	created := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, acc.MarkPersisted(7, created, created))
	assert.False(t, acc.IsNew())

	later := created.Add(time.Hour)
	require.NoError(t, acc.MarkPersisted(7, later, later))
	assert.Equal(t, created, acc.CreatedAt(), "created_at must not move")
	assert.Equal(t, later, acc.UpdatedAt())

	assert.Error(t, acc.MarkPersisted(8, later, later), "id is immutable")
	assert.Equal(t, int64(7), acc.ID())
}

func TestSocialAccount_Refresh(t *testing.T) {
	acc, err := domain.NewSocialAccount("Users", "42", "Google", "g-1")
	require.NoError(t, err)

	p := &domain.Profile{Identifier: "g-2", DisplayName: "Jane"}
	require.NoError(t, acc.Refresh("g-2", "jane", p))
	assert.Equal(t, "g-2", acc.ProviderUID())
	assert.Equal(t, "jane", acc.ProviderUsername())
	assert.Same(t, p, acc.Profile())

	assert.ErrorIs(t, acc.Refresh("", "jane", p), domain.ErrValidation)
	assert.Equal(t, "g-2", acc.ProviderUID())
}

func TestPersistenceError(t *testing.T) {
	cause := errors.New("duplicate key")
	err := domain.NewConflictError("insert", "uq_owner_provider", cause)

	assert.True(t, domain.IsConflict(err))
	assert.ErrorIs(t, err, domain.ErrPersistence)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "uq_owner_provider")

	plain := &domain.PersistenceError{Op: "delete", Err: cause}
	assert.False(t, domain.IsConflict(plain))
}

func TestUserRecord(t *testing.T) {
	u := domain.UserRecord{"id": int64(42), "password": "secret", "name": "Jane"}
	assert.Equal(t, "42", u.ID("id"))

	stripped := u.Without("password")
	assert.NotContains(t, stripped, "password")
	assert.Contains(t, u, "password", "original is untouched")
}
