package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const signatureIssuer = "fitstack"

// ErrInvalidSignatureToken indicates the link token failed validation
var ErrInvalidSignatureToken = errors.New("invalid signature link token")

// SignatureClaims are the claims carried by a public signature-link token.
// These links (waiver/contract signature pages) are reachable without a
// session, so the token itself must bind the member and organization.
type SignatureClaims struct {
	OrgID    int64  `json:"org_id"`
	MemberID int64  `json:"member_id"`
	Document string `json:"document"`
	jwt.RegisteredClaims
}

// SignatureLinks issues and verifies HMAC-signed public signature links
type SignatureLinks struct {
	secret []byte
	ttl    time.Duration
}

// NewSignatureLinks creates a signature link signer
func NewSignatureLinks(secret string, ttl time.Duration) *SignatureLinks {
	return &SignatureLinks{secret: []byte(secret), ttl: ttl}
}

// Issue signs a link token for the given member and document
func (s *SignatureLinks) Issue(orgID, memberID int64, document string) (string, error) {
	if len(s.secret) == 0 {
		return "", errors.New("signature link secret is not configured")
	}

	now := time.Now().UTC()
	claims := SignatureClaims{
		OrgID:    orgID,
		MemberID: memberID,
		Document: document,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    signatureIssuer,
			Subject:   fmt.Sprintf("member:%d", memberID),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
			ID:        uuid.NewString(),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("sign link token: %w", err)
	}
	return signed, nil
}

// Verify validates a link token and returns its claims
func (s *SignatureLinks) Verify(token string) (*SignatureClaims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidSignatureToken
	}

	parsed, err := jwt.ParseWithClaims(token, &SignatureClaims{}, func(t *jwt.Token) (interface{}, error) {
		if t.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidSignatureToken
		}
		return s.secret, nil
	})
	if err != nil {
		return nil, ErrInvalidSignatureToken
	}
	claims, ok := parsed.Claims.(*SignatureClaims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidSignatureToken
	}
	if claims.Issuer != signatureIssuer {
		return nil, ErrInvalidSignatureToken
	}
	return claims, nil
}
