package service

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/nbd-wtf/go-nostr"

	"github.com/navcom/groupctl/internal/errs"
	"github.com/navcom/groupctl/internal/model"
)

// Claims are the bearer token claims. Subject is the actor pubkey.
type Claims struct {
	Role model.Role `json:"role"`
	jwt.RegisteredClaims
}

// Tokens issues and verifies HS256 actor tokens.
type Tokens struct {
	signKey []byte
	ttl     time.Duration
	now     func() time.Time
}

// NewTokens constructs a token service. ttl <= 0 means one hour.
func NewTokens(signKey []byte, ttl time.Duration) *Tokens {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Tokens{signKey: signKey, ttl: ttl, now: time.Now}
}

// Issue signs a token for actor.
func (t *Tokens) Issue(actor Actor) (string, time.Time, error) {
	if !nostr.IsValid32ByteHex(actor.Pubkey) {
		return "", time.Time{}, fmt.Errorf("%w: actor pubkey", errs.ErrValidation)
	}
	if !actor.Role.Valid() {
		return "", time.Time{}, fmt.Errorf("%w: actor role %q", errs.ErrValidation, actor.Role)
	}
	now := t.now()
	exp := now.Add(t.ttl)
	claims := Claims{
		Role: actor.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   actor.Pubkey,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := tok.SignedString(t.signKey)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, exp, nil
}

// Verify parses a token and returns its actor.
func (t *Tokens) Verify(raw string) (Actor, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(raw, &claims, func(tok *jwt.Token) (any, error) {
		if tok.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing method")
		}
		return t.signKey, nil
	}, jwt.WithTimeFunc(t.now))
	if err != nil {
		return Actor{}, fmt.Errorf("%w: %v", errs.ErrUnauthorized, err)
	}
	if !nostr.IsValid32ByteHex(claims.Subject) || !claims.Role.Valid() {
		return Actor{}, errs.ErrUnauthorized
	}
	return Actor{Pubkey: claims.Subject, Role: claims.Role}, nil
}
