package user

import (
	"errors"
	"strings"
	"testing"
	"time"

	"go-realtime-chat/internal/apperr"
	"go-realtime-chat/internal/config"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestService(secret string, ttl time.Duration) *Service {
	return NewService(nil, nil, config.AuthConfig{
		JWTSecret:  secret,
		Issuer:     "go-chat-app",
		TokenTTL:   ttl,
		BcryptCost: 4,
	})
}

func TestService_TokenRoundTrip(t *testing.T) {
	s := newTestService("secret", time.Hour)

	token, err := s.IssueToken(&User{ID: 42, Username: "alice", Role: RoleAdmin})
	require.NoError(t, err)

	id, err := s.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), id.UserID)
	assert.Equal(t, "alice", id.Username)
	assert.True(t, id.IsAdmin())
}

func TestService_ValidateTokenRejects(t *testing.T) {
	s := newTestService("secret", time.Hour)

	other, err := newTestService("other-secret", time.Hour).IssueToken(&User{ID: 1, Username: "bob"})
	require.NoError(t, err)

	expired, err := newTestService("secret", -time.Minute).IssueToken(&User{ID: 1, Username: "bob"})
	require.NoError(t, err)

	wrongIssuer, err := jwt.NewWithClaims(jwt.SigningMethodHS256, MyJWTClaims{
		ID: 1,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "someone-else",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	unsigned, err := jwt.NewWithClaims(jwt.SigningMethodNone, MyJWTClaims{ID: 1}).
		SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	tests := map[string]string{
		"wrong secret": other,
		"expired":      expired,
		"wrong issuer": wrongIssuer,
		"alg none":     unsigned,
		"garbage":      "not-a-token",
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := s.ValidateToken(token)
			require.Error(t, err)
			assert.True(t, errors.Is(err, apperr.ErrAuth))
		})
	}
}

func TestValidateRegistration(t *testing.T) {
	tests := []struct {
		name    string
		req     RegisterRequest
		wantErr bool
	}{
		{name: "valid", req: RegisterRequest{Username: "alice", Email: "a@example.com", Password: "secret1"}},
		{name: "short username", req: RegisterRequest{Username: "al", Email: "a@example.com", Password: "secret1"}, wantErr: true},
		{name: "bad email", req: RegisterRequest{Username: "alice", Email: "nope", Password: "secret1"}, wantErr: true},
		{name: "short password", req: RegisterRequest{Username: "alice", Email: "a@example.com", Password: "123"}, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := validateRegistration(&tt.req)
			if tt.wantErr {
				assert.ErrorIs(t, err, apperr.ErrValidation)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestService_SearchUsersEmptyQuery(t *testing.T) {
	s := newTestService("secret", time.Hour)
	users, err := s.SearchUsers(t.Context(), "   ", 1)
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestService_UpdateProfileRejects(t *testing.T) {
	s := newTestService("secret", time.Hour)
	short := " ab "
	long := strings.Repeat("x", 31)

	tests := map[string]*UpdateProfileRequest{
		"empty":          {},
		"short username": {Username: &short},
		"long username":  {Username: &long},
	}
	for name, req := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := s.UpdateProfile(t.Context(), 1, req)
			assert.ErrorIs(t, err, apperr.ErrValidation)
		})
	}
}
