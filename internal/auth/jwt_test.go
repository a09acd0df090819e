package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"classroom/pkg/interfaces"
	"classroom/pkg/types"
)

func newAuth(t *testing.T) *JWTAuthenticator {
	t.Helper()
	a, err := NewJWTAuthenticator("test-secret", time.Hour)
	require.NoError(t, err)
	return a
}

func TestJWTAuthenticator_RoundTrip(t *testing.T) {
	a := newAuth(t)
	want := types.Identity{UserID: "u-1", Name: "Ada", Role: types.RoleTeacher}

	token, err := a.Issue(want)
	require.NoError(t, err)

	got, err := a.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestJWTAuthenticator_Rejections(t *testing.T) {
	a := newAuth(t)
	other, err := NewJWTAuthenticator("other-secret", time.Hour)
	require.NoError(t, err)

	foreign, err := other.Issue(types.Identity{UserID: "u-1", Role: types.RoleStudent})
	require.NoError(t, err)

	badRole, err := a.Issue(types.Identity{UserID: "u-1", Role: "admin"})
	require.NoError(t, err)

	expiredAuth := newAuth(t)
	expiredAuth.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, err := expiredAuth.Issue(types.Identity{UserID: "u-1", Role: types.RoleStudent})
	require.NoError(t, err)

	none := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{ID: "u-1", Role: types.RoleTeacher})
	unsigned, err := none.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := map[string]string{
		"empty":        "",
		"garbage":      "not.a.token",
		"wrong secret": foreign,
		"unknown role": badRole,
		"expired":      expired,
		"alg none":     unsigned,
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := a.Verify(token)
			assert.ErrorIs(t, err, interfaces.ErrAuthRejected)
		})
	}
}

func TestNewJWTAuthenticator_RequiresSecret(t *testing.T) {
	_, err := NewJWTAuthenticator("", time.Hour)
	assert.ErrorIs(t, err, ErrMissingSecret)
}
