package auth

import (
	"context"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Mindburn-Labs/treasury/pkg/errs"
)

var secret = []byte("test-secret")

func TestRoleGate(t *testing.T) {
	gate := RoleGate{Role: RoleTreasurer}

	err := gate.RequireAuthority(context.Background())
	assert.ErrorIs(t, err, errs.ErrUnauthorized)

	viewer := WithPrincipal(context.Background(), Principal{ID: "bob", Roles: []string{"viewer"}})
	err = gate.RequireAuthority(viewer)
	assert.ErrorIs(t, err, errs.ErrUnauthorized)
	assert.Contains(t, err.Error(), "bob")

	treasurer := WithPrincipal(context.Background(), Principal{ID: "alice", Roles: []string{"viewer", RoleTreasurer}})
	assert.NoError(t, gate.RequireAuthority(treasurer))
}

func TestAllowAll(t *testing.T) {
	assert.NoError(t, AllowAll{}.RequireAuthority(context.Background()))
}

func TestToken_RoundTrip(t *testing.T) {
	token, err := IssueToken(Principal{ID: "alice", Roles: []string{RoleTreasurer}}, secret, time.Hour)
	require.NoError(t, err)

	p, err := ParseToken(token, secret)
	require.NoError(t, err)
	assert.Equal(t, "alice", p.ID)
	assert.True(t, p.HasRole(RoleTreasurer))
}

func TestToken_Rejections(t *testing.T) {
	valid, err := IssueToken(Principal{ID: "alice"}, secret, time.Hour)
	require.NoError(t, err)

	expired, err := IssueToken(Principal{ID: "alice"}, secret, -time.Minute)
	require.NoError(t, err)

	noSubject, err := IssueToken(Principal{}, secret, time.Hour)
	require.NoError(t, err)

	foreign, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "mallory",
			Issuer:    "someone-else",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}).SignedString(secret)
	require.NoError(t, err)

	tests := []struct {
		name   string
		token  string
		secret []byte
	}{
		{"wrong secret", valid, []byte("other")},
		{"no secret configured", valid, nil},
		{"expired", expired, secret},
		{"missing subject", noSubject, secret},
		{"wrong issuer", foreign, secret},
		{"garbage", "not-a-token", secret},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseToken(tt.token, tt.secret)
			assert.ErrorIs(t, err, errs.ErrUnauthorized)
		})
	}
}

func TestIssueToken_RequiresSecret(t *testing.T) {
	_, err := IssueToken(Principal{ID: "alice"}, nil, time.Hour)
	assert.ErrorIs(t, err, errs.ErrValidation)
}
