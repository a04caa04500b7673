package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func newManager(t *testing.T) *Manager {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	return NewManager("test-secret", time.Hour, "admin", string(hash))
}

func TestLogin_IssuesValidToken(t *testing.T) {
	m := newManager(t)

	token, err := m.Login("admin", "s3cret")
	require.NoError(t, err)

	claims, err := m.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, "admin", claims.Sub)
	assert.True(t, claims.Staff)
}

func TestLogin_RejectsBadCredentials(t *testing.T) {
	m := newManager(t)

	_, err := m.Login("admin", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = m.Login("root", "s3cret")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	_, err = NewManager("test-secret", time.Hour, "admin", "").Login("admin", "")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestValidateToken_Rejections(t *testing.T) {
	m := newManager(t)

	other := NewManager("other-secret", time.Hour, "admin", "")
	foreign, err := other.GenerateToken("admin")
	require.NoError(t, err)
	_, err = m.ValidateToken(foreign)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired := NewManager("test-secret", -time.Minute, "admin", "")
	expired.expiration = -time.Minute
	stale, err := expired.GenerateToken("admin")
	require.NoError(t, err)
	_, err = m.ValidateToken(stale)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = m.ValidateToken("not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, &Claims{Sub: "admin", Staff: true})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = m.ValidateToken(unsigned)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestGenerateToken_RequiresSecret(t *testing.T) {
	_, err := NewManager("", time.Hour, "admin", "").GenerateToken("admin")
	assert.ErrorIs(t, err, ErrNoSecret)
}

func TestHashPassword(t *testing.T) {
	hash, err := HashPassword("hunter2")
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("hunter2")))
}
