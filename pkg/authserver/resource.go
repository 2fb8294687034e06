// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"context"
	"time"

	"github.com/grantd/grantd/pkg/oauth"
	"github.com/grantd/grantd/pkg/storage"
)

// Identity is what a verified access token proves: who is acting, through
// which client, with which scopes.
type Identity struct {
	// TokenID is the jti of the presented token.
	TokenID string

	// Subject is the acting principal: the user, or the client itself
	// for tokens without a user.
	Subject string

	// ClientID is the client the token was issued to.
	ClientID string

	// Scopes is the granted scope identifier list.
	Scopes []string

	// ExpiresAt is the token expiry.
	ExpiresAt time.Time
}

// HasScope reports whether the identity carries the scope.
func (id *Identity) HasScope(scope string) bool {
	for _, s := range id.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}

// ResourceServer verifies bearer tokens for protected endpoints. It fails
// closed: a signature, expiry, or revocation lookup problem all reject the
// token.
type ResourceServer struct {
	signer *JWTSigner
	tokens storage.TokenStore
}

// NewResourceServer builds a verifier over the signer's key material and the
// shared token store.
func NewResourceServer(signer *JWTSigner, tokens storage.TokenStore) *ResourceServer {
	return &ResourceServer{signer: signer, tokens: tokens}
}

// VerifyAccessToken checks the signature, standard claims, and revocation
// state of a bearer token and returns the identity it proves.
func (rs *ResourceServer) VerifyAccessToken(ctx context.Context, raw string) (*Identity, error) {
	claims, err := rs.signer.VerifyAccessToken(ctx, raw)
	if err != nil {
		return nil, oauth.InvalidClient().WithCause(err)
	}

	revoked, err := rs.tokens.IsTokenRevoked(ctx, claims.TokenID)
	if err != nil {
		return nil, oauth.ServerError("failed to check token revocation").WithCause(err)
	}
	if revoked {
		return nil, oauth.InvalidClient()
	}

	return &Identity{
		TokenID:   claims.TokenID,
		Subject:   claims.Subject,
		ClientID:  claims.ClientID,
		Scopes:    claims.Scopes,
		ExpiresAt: claims.ExpiresAt,
	}, nil
}

type identityContextKey struct{}

// WithIdentity attaches a verified identity to the context.
func WithIdentity(ctx context.Context, identity *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey{}, identity)
}

// IdentityFromContext retrieves the verified identity, if any.
func IdentityFromContext(ctx context.Context) (*Identity, bool) {
	identity, ok := ctx.Value(identityContextKey{}).(*Identity)
	return identity, ok
}
