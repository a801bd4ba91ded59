package auth

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignatureLinksRoundTrip(t *testing.T) {
	links := NewSignatureLinks("test-secret", time.Hour)

	token, err := links.Issue(42, 7, "waiver-v2")
	require.NoError(t, err)
	require.NotEmpty(t, token)

	claims, err := links.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, int64(42), claims.OrgID)
	assert.Equal(t, int64(7), claims.MemberID)
	assert.Equal(t, "waiver-v2", claims.Document)
	assert.Equal(t, "fitstack", claims.Issuer)
	assert.Equal(t, "member:7", claims.Subject)
}

func TestSignatureLinksExpired(t *testing.T) {
	links := NewSignatureLinks("test-secret", -time.Minute)

	token, err := links.Issue(42, 7, "waiver-v2")
	require.NoError(t, err)

	_, err = links.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidSignatureToken)
}

func TestSignatureLinksWrongSecret(t *testing.T) {
	issuer := NewSignatureLinks("secret-a", time.Hour)
	verifier := NewSignatureLinks("secret-b", time.Hour)

	token, err := issuer.Issue(42, 7, "waiver-v2")
	require.NoError(t, err)

	_, err = verifier.Verify(token)
	assert.ErrorIs(t, err, ErrInvalidSignatureToken)
}

func TestSignatureLinksMalformed(t *testing.T) {
	links := NewSignatureLinks("test-secret", time.Hour)

	tests := []struct {
		name  string
		token string
	}{
		{"empty", ""},
		{"whitespace", "   "},
		{"garbage", "not.a.token"},
		{"truncated", "eyJhbGciOiJIUzI1NiJ9"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := links.Verify(tt.token)
			assert.ErrorIs(t, err, ErrInvalidSignatureToken)
		})
	}
}

func TestSignatureLinksMissingSecret(t *testing.T) {
	links := NewSignatureLinks("", time.Hour)

	_, err := links.Issue(42, 7, "waiver-v2")
	assert.Error(t, err)
}
