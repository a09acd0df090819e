// Package auth verifies the bearer tokens presented when a connection opens.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"

	"classroom/pkg/interfaces"
	"classroom/pkg/types"
)

var ErrMissingSecret = errors.New("jwt secret must not be empty")

// Claims carries the identity fields issued at login
type Claims struct {
	ID    string     `json:"id"`
	Name  string     `json:"name"`
	Email string     `json:"email,omitempty"`
	Role  types.Role `json:"role"`
	jwt.RegisteredClaims
}

// JWTAuthenticator verifies HS256 tokens signed with a shared secret
type JWTAuthenticator struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

var _ interfaces.Authenticator = (*JWTAuthenticator)(nil)

// NewJWTAuthenticator creates an authenticator; ttl applies to issued tokens
func NewJWTAuthenticator(secret string, ttl time.Duration) (*JWTAuthenticator, error) {
	if secret == "" {
		return nil, ErrMissingSecret
	}
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &JWTAuthenticator{secret: []byte(secret), ttl: ttl, now: time.Now}, nil
}

// Verify returns the identity carried by token
func (a *JWTAuthenticator) Verify(token string) (types.Identity, error) {
	if token == "" {
		return types.Identity{}, fmt.Errorf("%w: token missing", interfaces.ErrAuthRejected)
	}

	claims := &Claims{}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	parsed, err := parser.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	})
	if err != nil {
		var ve *jwt.ValidationError
		if errors.As(err, &ve) && ve.Errors&jwt.ValidationErrorExpired != 0 {
			return types.Identity{}, fmt.Errorf("%w: token expired", interfaces.ErrAuthRejected)
		}
		return types.Identity{}, fmt.Errorf("%w: %v", interfaces.ErrAuthRejected, err)
	}
	if !parsed.Valid {
		return types.Identity{}, fmt.Errorf("%w: token invalid", interfaces.ErrAuthRejected)
	}

	identity := types.Identity{UserID: claims.ID, Name: claims.Name, Role: claims.Role}
	if err := identity.Validate(); err != nil {
		return types.Identity{}, fmt.Errorf("%w: %v", interfaces.ErrAuthRejected, err)
	}
	return identity, nil
}

// Issue signs a token for identity. Production tokens come from the login
// service; this exists for tests and local tooling.
func (a *JWTAuthenticator) Issue(identity types.Identity) (string, error) {
	now := a.now()
	claims := Claims{
		ID:   identity.UserID,
		Name: identity.Name,
		Role: identity.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}
