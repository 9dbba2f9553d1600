package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret-0123456789"

func TestIssueAndValidate(t *testing.T) {
	iss, err := NewIssuer(secret, time.Hour)
	require.NoError(t, err)

	tok, err := iss.Issue("agt_x")
	require.NoError(t, err)

	claims, err := iss.Validate(tok)
	require.NoError(t, err)
	assert.Equal(t, "agt_x", claims.Subject)
	assert.Equal(t, RoleAgent, claims.Role)
	assert.NotEmpty(t, claims.ID)
}

func TestValidateRejects(t *testing.T) {
	iss, err := NewIssuer(secret, time.Hour)
	require.NoError(t, err)
	other, err := NewIssuer("another-secret-abcdefgh", time.Hour)
	require.NoError(t, err)

	tok, err := other.Issue("agt_x")
	require.NoError(t, err)
	_, err = iss.Validate(tok)
	assert.Error(t, err, "wrong key")

	iss.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	expired, err := iss.Issue("agt_x")
	require.NoError(t, err)
	iss.now = time.Now
	_, err = iss.Validate(expired)
	assert.Error(t, err, "expired")

	noSubject, err := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{Role: RoleAgent}).SignedString([]byte(secret))
	require.NoError(t, err)
	_, err = iss.Validate(noSubject)
	assert.Error(t, err)

	_, err = iss.Validate("not-a-token")
	assert.Error(t, err)
}

func TestNewIssuerNeedsSecret(t *testing.T) {
	_, err := NewIssuer("short", time.Hour)
	assert.Error(t, err)
}
