package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/require"
)

func TestPlayerTokenRoundTrip(t *testing.T) {
	tok, err := IssuePlayerToken("secret", "player-1", time.Hour)
	require.NoError(t, err)

	pid, err := ParsePlayerToken("secret", tok)
	require.NoError(t, err)
	require.Equal(t, "player-1", pid)
}

func TestPlayerTokenRejectsWrongSecretAndExpiry(t *testing.T) {
	tok, err := IssuePlayerToken("secret", "player-1", time.Hour)
	require.NoError(t, err)
	_, err = ParsePlayerToken("other", tok)
	require.ErrorIs(t, err, ErrInvalidToken)

	expired, err := IssuePlayerToken("secret", "player-1", -time.Minute)
	require.NoError(t, err)
	_, err = ParsePlayerToken("secret", expired)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestPlayerTokenRejectsOtherAlgorithms(t *testing.T) {
	tok := jwt.NewWithClaims(jwt.SigningMethodHS512, jwt.MapClaims{"player_id": "p"})
	signed, err := tok.SignedString([]byte("secret"))
	require.NoError(t, err)

	_, err = ParsePlayerToken("secret", signed)
	require.ErrorIs(t, err, ErrInvalidToken)
}

func TestAdminToken(t *testing.T) {
	hash, err := HashAdminToken("letmein")
	require.NoError(t, err)
	require.True(t, VerifyAdminToken(hash, "letmein"))
	require.False(t, VerifyAdminToken(hash, "nope"))
	require.False(t, VerifyAdminToken("", "letmein"))
}
