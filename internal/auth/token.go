// Package auth issues the participant tokens that admit a client to a session websocket and
// checks the service key that guards session control.
package auth

import (
	"crypto/ed25519"
	"crypto/sha256"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// ErrInvalidToken is returned for any token that fails verification.
var ErrInvalidToken = errors.New("invalid participant token")

// Role is what a token holder may do in the session.
type Role string

const (
	RolePlayer    Role = "player"
	RoleSpectator Role = "spectator"
)

// Claims identify one participant of one session. Subject carries the participant ID.
type Claims struct {
	SessionID uuid.UUID `json:"sid"`
	Role      Role      `json:"role"`
	Name      string    `json:"name,omitempty"`
	jwt.RegisteredClaims
}

// ParticipantID parses the subject.
func (c *Claims) ParticipantID() (uuid.UUID, error) {
	return uuid.Parse(c.Subject)
}

// Authority signs and verifies participant tokens with an ed25519 key pair.
type Authority struct {
	private ed25519.PrivateKey
	public  ed25519.PublicKey
	ttl     time.Duration
	now     func() time.Time
}

// NewAuthority derives the key pair from secret so every node agrees on it. An empty secret
// generates a throwaway pair, which only suits a single node. A ttl of 0 issues tokens
// without expiry.
func NewAuthority(secret string, ttl time.Duration) (*Authority, error) {
	a := &Authority{ttl: ttl, now: time.Now}
	if secret == "" {
		pub, priv, err := ed25519.GenerateKey(nil)
		if err != nil {
			return nil, fmt.Errorf("failed to generate ed25519 key pair: %w", err)
		}
		a.private, a.public = priv, pub
		return a, nil
	}
	seed := sha256.Sum256([]byte(secret))
	a.private = ed25519.NewKeyFromSeed(seed[:])
	a.public = a.private.Public().(ed25519.PublicKey)
	return a, nil
}

// Issue signs a token for participantID in sessionID.
func (a *Authority) Issue(sessionID, participantID uuid.UUID, name string, role Role) (string, error) {
	now := a.now()
	claims := Claims{
		SessionID: sessionID,
		Role:      role,
		Name:      name,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:  participantID.String(),
			IssuedAt: jwt.NewNumericDate(now),
		},
	}
	if a.ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(now.Add(a.ttl))
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	return token.SignedString(a.private)
}

// Verify checks the signature and expiry and returns the claims.
func (a *Authority) Verify(tokenString string) (*Claims, error) {
	claims := &Claims{}
	t, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return a.public, nil
	}, jwt.WithTimeFunc(a.now))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidToken, err)
	}
	if !t.Valid {
		return nil, ErrInvalidToken
	}
	if _, err := claims.ParticipantID(); err != nil {
		return nil, fmt.Errorf("%w: bad subject: %w", ErrInvalidToken, err)
	}
	if claims.SessionID == uuid.Nil {
		return nil, fmt.Errorf("%w: missing session", ErrInvalidToken)
	}
	if claims.Role != RolePlayer && claims.Role != RoleSpectator {
		return nil, fmt.Errorf("%w: unknown role %q", ErrInvalidToken, claims.Role)
	}
	return claims, nil
}
