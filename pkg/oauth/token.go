// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// TokenKind discriminates the three persisted token record types.
type TokenKind string

// Persisted token kinds.
const (
	TokenKindAuthorizationCode TokenKind = "auth_code"
	TokenKindAccess            TokenKind = "access"
	TokenKindRefresh           TokenKind = "refresh"
)

// Token is a persisted, revocable token record. The identifier doubles as
// the jti claim of the signed access-token representation and as the opaque
// value of authorization codes and refresh tokens.
type Token struct {
	// ID is the unique token identifier. Never reused.
	ID string

	// Kind discriminates codes, access tokens, and refresh tokens.
	Kind TokenKind

	// ClientID is the owning client.
	ClientID string

	// UserID is the owning user. Empty for client-credentials tokens.
	UserID string

	// Scopes is the finalized scope identifier list.
	Scopes []string

	// IssuedAt is when the token was created.
	IssuedAt time.Time

	// ExpiresAt is computed once at issuance and immutable thereafter.
	ExpiresAt time.Time

	// Revoked marks the token unusable. Revocation is one-way.
	Revoked bool

	// RedirectURI binds an authorization code to the redirect target it
	// was issued for. Codes only.
	RedirectURI string

	// CodeChallenge and CodeChallengeMethod carry the PKCE binding of an
	// authorization code. Codes only.
	CodeChallenge       string
	CodeChallengeMethod string

	// AccessTokenID links a refresh token to the access token it renews.
	// Refresh tokens only.
	AccessTokenID string

	// OriginGrant records the grant type that issued a refresh token.
	// Rotation preserves it; redemption checks it against the grants that
	// are actually enabled so a refresh token can never be reused under a
	// grant path that no longer exists. Refresh tokens only.
	OriginGrant GrantType
}

// NewTokenID returns a fresh, unique token identifier.
func NewTokenID() string {
	return uuid.NewString()
}

// IsExpired reports whether the token is past its expiry at the given time.
func (t *Token) IsExpired(now time.Time) bool {
	return now.After(t.ExpiresAt)
}

// TokenSigner produces the signed external representation of an access
// token. The authorization server provides a JWT implementation; grants only
// depend on this interface.
type TokenSigner interface {
	// SignAccessToken signs the claims derived from the token record.
	SignAccessToken(ctx context.Context, token *Token) (string, error)
}
