// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package grant

import (
	"context"
	"errors"

	"github.com/grantd/grantd/pkg/logger"
	"github.com/grantd/grantd/pkg/oauth"
	"github.com/grantd/grantd/pkg/storage"
)

// RefreshToken implements the refresh_token grant with rotation: every
// successful redemption consumes the presented token, revokes the access
// token it renewed, and issues a fresh access and refresh token pair.
type RefreshToken struct {
	deps Dependencies
}

// Kind implements Grant.
func (*RefreshToken) Kind() oauth.GrantType {
	return oauth.GrantTypeRefreshToken
}

// Respond redeems a refresh token. Like authorization codes, the token is
// consumed before validation so a failed redemption burns it.
func (g *RefreshToken) Respond(
	ctx context.Context,
	client *oauth.Client,
	req *oauth.TokenRequest,
) (*oauth.TokenResponse, error) {
	if req.RefreshToken == "" {
		return nil, oauth.InvalidRequest("refresh_token parameter is required")
	}

	token, err := g.deps.Tokens.ConsumeToken(ctx, req.RefreshToken)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrConsumed):
			return nil, oauth.InvalidGrant("refresh token has already been used")
		case errors.Is(err, storage.ErrNotFound):
			return nil, oauth.InvalidGrant("refresh token is invalid")
		default:
			return nil, oauth.ServerError("failed to consume refresh token").WithCause(err)
		}
	}

	if token.Kind != oauth.TokenKindRefresh {
		return nil, oauth.InvalidGrant("refresh token is invalid")
	}
	if token.ClientID != client.ID {
		return nil, oauth.InvalidGrant("refresh token was issued to another client")
	}
	if token.Revoked {
		return nil, oauth.InvalidGrant("refresh token has been revoked")
	}
	if token.IsExpired(g.deps.now()) {
		return nil, oauth.InvalidGrant("refresh token has expired")
	}
	if token.OriginGrant != "" && !g.deps.grantEnabled(token.OriginGrant) {
		return nil, oauth.InvalidGrant("refresh token was issued by a grant that is no longer enabled")
	}

	scopes, err := narrowScopes(token.Scopes, req.Scopes)
	if err != nil {
		return nil, err
	}

	// Retire the access token this refresh token renewed. Failure here is
	// logged but does not block rotation; the old access token still ages
	// out at its original expiry.
	if token.AccessTokenID != "" {
		if err := g.deps.Tokens.RevokeToken(ctx, token.AccessTokenID); err != nil {
			logger.Warnw("failed to revoke rotated access token",
				"access_token_id", token.AccessTokenID, "error", err)
		}
	}

	return respond(ctx, &g.deps, client, token.UserID, scopes, token.OriginGrant, true)
}

// narrowScopes applies the optional scope parameter of a refresh request.
// The requested set must be a subset of the originally granted set; an
// empty request inherits the original scopes unchanged.
func narrowScopes(granted, requested []string) ([]string, error) {
	if len(requested) == 0 {
		return granted, nil
	}
	grantedSet := make(map[string]bool, len(granted))
	for _, id := range granted {
		grantedSet[id] = true
	}
	narrowed := make([]string, 0, len(requested))
	seen := make(map[string]bool, len(requested))
	for _, id := range requested {
		if !grantedSet[id] {
			return nil, oauth.InvalidScope(id)
		}
		if !seen[id] {
			seen[id] = true
			narrowed = append(narrowed, id)
		}
	}
	return narrowed, nil
}
