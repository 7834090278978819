package middleware

import (
	"testing"
	"time"

	"github.com/kasuganosora/guilds/server/host"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-jwt-secret-32bytes-padded!!"

var alice = host.Player{ID: "p-alice", Name: "Alice"}

func TestParseToken_RoundTrip(t *testing.T) {
	tok, err := GenerateToken(host.Player{ID: "p-root", Name: "Root", Admin: true}, testSecret, time.Hour)
	require.NoError(t, err)

	claims, err := ParseToken(tok, testSecret)
	require.NoError(t, err)
	assert.Equal(t, host.Player{ID: "p-root", Name: "Root", Admin: true}, claims.Player())
	assert.Equal(t, "p-root", claims.Subject)
}

func TestGenerateToken_NeedsSecret(t *testing.T) {
	_, err := GenerateToken(alice, "", time.Hour)
	assert.Error(t, err)
}

func TestParseToken_WrongSecret(t *testing.T) {
	tok, err := GenerateToken(alice, testSecret, time.Hour)
	require.NoError(t, err)

	_, err = ParseToken(tok, "wrong-secret")
	assert.Error(t, err)
}

func TestParseToken_Expired(t *testing.T) {
	tok, err := GenerateToken(alice, testSecret, -time.Second)
	require.NoError(t, err)

	_, err = ParseToken(tok, testSecret)
	assert.Error(t, err)
}

func TestParseToken_Malformed(t *testing.T) {
	for _, tok := range []string{"", "not.a.jwt"} {
		_, err := ParseToken(tok, testSecret)
		assert.Error(t, err, tok)
	}
}
