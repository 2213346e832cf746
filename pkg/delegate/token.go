// Package delegate forwards action execution to a remote action server over
// HTTP, authenticated by short-lived signed tokens, and records an audit task
// for every attempt.
package delegate

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// TokenTTL is the delegation token lifetime. Tokens are minted fresh per
// remote call and never persisted or reused.
const TokenTTL = 5 * time.Minute

const (
	tokenIssuer   = "actionkernel"
	tokenAudience = "action-server"
)

// DelegationClaims scope a token to one bot and its workspace.
type DelegationClaims struct {
	jwt.RegisteredClaims
	BotID     string   `json:"botId"`
	Scopes    []string `json:"scopes"`
	Workspace string   `json:"workspace"`
}

// TokenMinter signs delegation tokens with a shared HS256 secret.
type TokenMinter struct {
	secret []byte
	ttl    time.Duration
}

// NewTokenMinter creates a minter. An empty secret is refused at wiring time
// rather than failing every call.
func NewTokenMinter(secret []byte) (*TokenMinter, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("delegation token secret must not be empty")
	}
	return &TokenMinter{secret: secret, ttl: TokenTTL}, nil
}

// Mint creates a signed token scoped to {botId, scopes:["*"], workspace}.
func (m *TokenMinter) Mint(botID, workspaceID string) (string, error) {
	now := time.Now().UTC()
	claims := DelegationClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Subject:   botID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.ttl)),
			Issuer:    tokenIssuer,
			Audience:  jwt.ClaimStrings{tokenAudience},
		},
		BotID:     botID,
		Scopes:    []string{"*"},
		Workspace: workspaceID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", fmt.Errorf("sign delegation token: %w", err)
	}
	return signed, nil
}

// ValidateToken parses and validates a delegation token. Action servers use
// this when they share the secret; the core only mints.
func (m *TokenMinter) ValidateToken(tokenString string) (*DelegationClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &DelegationClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithAudience(tokenAudience), jwt.WithIssuer(tokenIssuer))
	if err != nil {
		return nil, err
	}
	if claims, ok := token.Claims.(*DelegationClaims); ok && token.Valid {
		return claims, nil
	}
	return nil, jwt.ErrTokenSignatureInvalid
}
