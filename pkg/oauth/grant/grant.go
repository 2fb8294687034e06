// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package grant implements the token issuance state machines. The set of
// grants is a closed enum: the dispatch in New is the only place a grant
// type maps to an implementation, and callers get explicit errors for grant
// types that do not exist or cannot be redeemed at the token endpoint.
package grant

import (
	"context"
	"time"

	"github.com/grantd/grantd/pkg/oauth"
	"github.com/grantd/grantd/pkg/storage"
)

// Dependencies carries everything a grant needs, injected by the
// authorization server at construction time. Grants hold no global state.
type Dependencies struct {
	Clients *oauth.ClientDirectory
	Scopes  *oauth.ScopeRepository
	Users   oauth.UserDirectory
	Tokens  storage.TokenStore
	Signer  oauth.TokenSigner

	AccessTokenTTL       time.Duration
	RefreshTokenTTL      time.Duration
	AuthorizationCodeTTL time.Duration

	// Enabled reports whether a grant type is switched on in the server
	// configuration. The refresh grant uses it to reject tokens whose
	// issuing grant has been disabled since issuance.
	Enabled func(oauth.GrantType) bool

	// Now is the clock. Nil means time.Now.
	Now func() time.Time
}

func (d *Dependencies) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d *Dependencies) grantEnabled(gt oauth.GrantType) bool {
	return d.Enabled != nil && d.Enabled(gt)
}

// Grant redeems a token request for an already-authenticated client. The
// authorization server parses the request, enforces the enabled-grant check,
// and authenticates the client before dispatching here.
type Grant interface {
	// Kind identifies the grant type this machine implements.
	Kind() oauth.GrantType

	// Respond validates the request against the grant's rules and issues
	// tokens. Errors are *oauth.Error values.
	Respond(ctx context.Context, client *oauth.Client, req *oauth.TokenRequest) (*oauth.TokenResponse, error)
}

// New maps a grant type onto its implementation. The implicit grant never
// reaches the token endpoint, and unknown types fail closed.
func New(kind oauth.GrantType, deps Dependencies) (Grant, error) {
	switch kind {
	case oauth.GrantTypeAuthorizationCode:
		return &AuthorizationCode{deps: deps}, nil
	case oauth.GrantTypeClientCredentials:
		return &ClientCredentials{deps: deps}, nil
	case oauth.GrantTypeRefreshToken:
		return &RefreshToken{deps: deps}, nil
	case oauth.GrantTypePassword:
		return &Password{deps: deps}, nil
	case oauth.GrantTypeImplicit:
		return nil, oauth.InvalidGrant("the implicit grant has no token endpoint")
	default:
		return nil, oauth.InvalidGrant("unsupported grant type")
	}
}

// issueAccessToken creates and persists a fresh access token record and
// returns it alongside its signed representation.
func issueAccessToken(
	ctx context.Context,
	deps *Dependencies,
	client *oauth.Client,
	userID string,
	scopes []string,
) (*oauth.Token, string, error) {
	now := deps.now()
	token := &oauth.Token{
		ID:        oauth.NewTokenID(),
		Kind:      oauth.TokenKindAccess,
		ClientID:  client.ID,
		UserID:    userID,
		Scopes:    scopes,
		IssuedAt:  now,
		ExpiresAt: now.Add(deps.AccessTokenTTL),
	}
	if err := deps.Tokens.CreateToken(ctx, token); err != nil {
		return nil, "", oauth.ServerError("failed to persist access token").WithCause(err)
	}
	signed, err := deps.Signer.SignAccessToken(ctx, token)
	if err != nil {
		return nil, "", oauth.ServerError("failed to sign access token").WithCause(err)
	}
	return token, signed, nil
}

// issueRefreshToken creates and persists a refresh token tied to the given
// access token. The origin grant travels with the record through every
// rotation.
func issueRefreshToken(
	ctx context.Context,
	deps *Dependencies,
	client *oauth.Client,
	userID string,
	scopes []string,
	accessTokenID string,
	origin oauth.GrantType,
) (*oauth.Token, error) {
	now := deps.now()
	token := &oauth.Token{
		ID:            oauth.NewTokenID(),
		Kind:          oauth.TokenKindRefresh,
		ClientID:      client.ID,
		UserID:        userID,
		Scopes:        scopes,
		IssuedAt:      now,
		ExpiresAt:     now.Add(deps.RefreshTokenTTL),
		AccessTokenID: accessTokenID,
		OriginGrant:   origin,
	}
	if err := deps.Tokens.CreateToken(ctx, token); err != nil {
		return nil, oauth.ServerError("failed to persist refresh token").WithCause(err)
	}
	return token, nil
}

// respond assembles the token endpoint payload. withRefresh controls whether
// a refresh token accompanies the access token; the refresh grant must also
// be enabled for one to be issued.
func respond(
	ctx context.Context,
	deps *Dependencies,
	client *oauth.Client,
	userID string,
	scopes []string,
	origin oauth.GrantType,
	withRefresh bool,
) (*oauth.TokenResponse, error) {
	access, signed, err := issueAccessToken(ctx, deps, client, userID, scopes)
	if err != nil {
		return nil, err
	}

	response := &oauth.TokenResponse{
		TokenType:   "Bearer",
		ExpiresIn:   int64(deps.AccessTokenTTL / time.Second),
		AccessToken: signed,
	}

	if withRefresh && deps.grantEnabled(oauth.GrantTypeRefreshToken) {
		refresh, err := issueRefreshToken(ctx, deps, client, userID, scopes, access.ID, origin)
		if err != nil {
			return nil, err
		}
		response.RefreshToken = refresh.ID
	}
	return response, nil
}
