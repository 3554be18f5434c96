package auth

import (
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokensRoundTrip(t *testing.T) {
	tokens := NewTokens("secret", time.Hour)
	tok, expires, err := tokens.Issue(42)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expires, time.Minute)

	id, err := tokens.Validate(tok)
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
}

func TestTokensReject(t *testing.T) {
	tokens := NewTokens("secret", time.Hour)
	tok, _, err := tokens.Issue(1)
	require.NoError(t, err)

	_, err = NewTokens("other", time.Hour).Validate(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = tokens.Validate("not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired := NewTokens("secret", time.Hour)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	old, _, err := expired.Issue(1)
	require.NoError(t, err)
	_, err = tokens.Validate(old)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestCallbackSigner(t *testing.T) {
	s := NewCallbackSigner("https://app.example.com/", "k")

	raw := s.URL(17)
	assert.True(t, strings.HasPrefix(raw, "https://app.example.com/api/generate/callback/17?token="), raw)

	u, err := url.Parse(raw)
	require.NoError(t, err)
	token := u.Query().Get("token")
	assert.True(t, s.Verify(17, token))
	assert.False(t, s.Verify(18, token))
	assert.False(t, s.Verify(17, "zz"))
	assert.False(t, NewCallbackSigner("https://app.example.com", "other").Verify(17, token))
}
