// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package grant

import (
	"context"

	"github.com/grantd/grantd/pkg/oauth"
)

// Implicit issues access tokens directly on the authorization redirect. It
// never appears at the token endpoint and never issues refresh tokens, so it
// does not implement Grant; the authorization server calls it from the
// response_type=token path when the grant is enabled.
type Implicit struct {
	deps Dependencies
}

// NewImplicit constructs the implicit issuance path.
func NewImplicit(deps Dependencies) *Implicit {
	return &Implicit{deps: deps}
}

// IssueAccessToken mints the fragment token for an approved request. The
// caller has already authenticated the user and finalized the scopes.
func (g *Implicit) IssueAccessToken(
	ctx context.Context,
	client *oauth.Client,
	request *oauth.AuthorizationRequest,
) (*oauth.TokenResponse, error) {
	if !g.deps.grantEnabled(oauth.GrantTypeImplicit) {
		return nil, oauth.ServerError("the implicit grant is not enabled")
	}

	_, signed, err := issueAccessToken(ctx, &g.deps, client, request.UserID, oauth.ScopeIDs(request.Scopes))
	if err != nil {
		return nil, err
	}

	return &oauth.TokenResponse{
		TokenType:   "Bearer",
		ExpiresIn:   int64(g.deps.AccessTokenTTL.Seconds()),
		AccessToken: signed,
	}, nil
}
