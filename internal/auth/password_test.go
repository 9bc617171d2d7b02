package auth_test

import (
	"crypto/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"go.pilab.hu/sociallink/internal/auth"
)

func TestPasswordHasher(t *testing.T) {
	hasher := auth.NewBcryptPasswordHasher(bcrypt.MinCost)

	hash, err := hasher.Hash("password")
	require.NoError(t, err)
	assert.NoError(t, hasher.Verify(hash, "password"))
	assert.ErrorIs(t, hasher.Verify(hash, "wrong"), auth.ErrPasswordMismatch)
	assert.ErrorIs(t, hasher.Verify("", "password"), auth.ErrPasswordMismatch)

	t.Run("malformed hash", func(t *testing.T) {
		err := hasher.Verify("not-a-hash", "password")
		require.Error(t, err)
		assert.NotErrorIs(t, err, auth.ErrPasswordMismatch)
	})

	t.Run("too long password", func(t *testing.T) {
		tooLongPass := make([]byte, 73)
		_, _ = rand.Read(tooLongPass)

		_, err := hasher.Hash(string(tooLongPass))
		assert.Error(t, err)
	})
}

func TestNewBcryptPasswordHasher_DefaultCost(t *testing.T) {
	assert.Equal(t, bcrypt.DefaultCost, auth.NewBcryptPasswordHasher(0).Cost)
}
