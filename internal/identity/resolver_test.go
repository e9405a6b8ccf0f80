package identity

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dm-gateway/internal/errs"
)

func TestIssueResolveRoundTrip(t *testing.T) {
	resolver := NewJWTResolver("test-secret", "dm-gateway")

	token, err := resolver.Issue("user_alice", time.Hour)
	require.NoError(t, err)

	userID, err := resolver.Resolve(token)
	require.NoError(t, err)
	assert.Equal(t, "user_alice", userID)
}

func TestResolveRejectsInvalidTokens(t *testing.T) {
	resolver := NewJWTResolver("test-secret", "dm-gateway")
	other := NewJWTResolver("other-secret", "dm-gateway")
	wrongIssuer := NewJWTResolver("test-secret", "someone-else")

	validToken, err := resolver.Issue("user_alice", time.Hour)
	require.NoError(t, err)
	foreignToken, err := other.Issue("user_alice", time.Hour)
	require.NoError(t, err)
	expiredToken, err := resolver.Issue("user_alice", -time.Minute)
	require.NoError(t, err)
	emptySubToken, err := resolver.Issue("", time.Hour)
	require.NoError(t, err)

	tests := []struct {
		name     string
		resolver *JWTResolver
		token    string
	}{
		{"空字串", resolver, ""},
		{"亂碼", resolver, "not-a-jwt"},
		{"錯誤密鑰", resolver, foreignToken},
		{"過期", resolver, expiredToken},
		{"sub 為空", resolver, emptySubToken},
		{"簽發者不符", wrongIssuer, validToken},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.resolver.Resolve(tt.token)
			assert.ErrorIs(t, err, errs.ErrUnauthorized)
		})
	}
}

func TestResolveWithoutIssuerCheck(t *testing.T) {
	// issuer 為空時不校驗 iss
	issuing := NewJWTResolver("test-secret", "dm-gateway")
	resolving := NewJWTResolver("test-secret", "")

	token, err := issuing.Issue("user_bob", time.Hour)
	require.NoError(t, err)

	userID, err := resolving.Resolve(token)
	require.NoError(t, err)
	assert.Equal(t, "user_bob", userID)
}
