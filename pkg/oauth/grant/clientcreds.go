// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package grant

import (
	"context"
	"errors"

	"github.com/grantd/grantd/pkg/oauth"
	"github.com/grantd/grantd/pkg/storage"
)

// ClientCredentials implements the client_credentials grant. Issued tokens
// act on behalf of the client's configured default user, so a client without
// one cannot use this grant at all.
type ClientCredentials struct {
	deps Dependencies
}

// Kind implements Grant.
func (*ClientCredentials) Kind() oauth.GrantType {
	return oauth.GrantTypeClientCredentials
}

// Respond issues an access token for the client itself. No refresh token is
// returned; the client can always re-authenticate.
func (g *ClientCredentials) Respond(
	ctx context.Context,
	client *oauth.Client,
	req *oauth.TokenRequest,
) (*oauth.TokenResponse, error) {
	if client.DefaultUserID == "" {
		return nil, oauth.ServerError("client has no default user configured")
	}
	user, err := g.deps.Users.GetUser(ctx, client.DefaultUserID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, oauth.ServerError("configured default user does not exist")
		}
		return nil, oauth.ServerError("failed to load default user").WithCause(err)
	}
	if user.Blocked {
		return nil, oauth.ServerError("configured default user is blocked")
	}

	requested, err := g.deps.Scopes.ResolveAll(ctx, req.Scopes)
	if err != nil {
		return nil, err
	}
	finalized, err := g.deps.Scopes.FinalizeScopes(ctx, requested, g.Kind(), client, user.ID)
	if err != nil {
		return nil, err
	}

	return respond(ctx, &g.deps, client, user.ID, oauth.ScopeIDs(finalized), g.Kind(), false)
}
