// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package grant

import (
	"context"

	"github.com/grantd/grantd/pkg/oauth"
)

// Password implements the resource owner password credentials grant. The
// user directory decides whether a username and password pair matches; a
// blocked account counts as no match.
type Password struct {
	deps Dependencies
}

// Kind implements Grant.
func (*Password) Kind() oauth.GrantType {
	return oauth.GrantTypePassword
}

// Respond exchanges resource owner credentials for tokens. Credential
// failures collapse into a single invalid_grant so the response does not
// leak whether the username exists.
func (g *Password) Respond(
	ctx context.Context,
	client *oauth.Client,
	req *oauth.TokenRequest,
) (*oauth.TokenResponse, error) {
	if req.Username == "" || req.Password == "" {
		return nil, oauth.InvalidRequest("username and password parameters are required")
	}

	user, err := g.deps.Users.CheckCredentials(ctx, req.Username, req.Password)
	if err != nil {
		return nil, oauth.ServerError("failed to verify credentials").WithCause(err)
	}
	if user == nil {
		return nil, oauth.InvalidGrant("invalid username or password")
	}

	requested, err := g.deps.Scopes.ResolveAll(ctx, req.Scopes)
	if err != nil {
		return nil, err
	}
	finalized, err := g.deps.Scopes.FinalizeScopes(ctx, requested, g.Kind(), client, user.ID)
	if err != nil {
		return nil, err
	}

	return respond(ctx, &g.deps, client, user.ID, oauth.ScopeIDs(finalized), g.Kind(), true)
}
