// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package grant

import (
	"context"
	"crypto/subtle"
	"errors"

	xoauth2 "golang.org/x/oauth2"

	"github.com/grantd/grantd/pkg/oauth"
	"github.com/grantd/grantd/pkg/storage"
)

// CodeChallengeMethodS256 is the only accepted PKCE challenge method.
// Plain challenges defeat the point of the extension and are rejected at
// the authorization endpoint.
const CodeChallengeMethodS256 = "S256"

// AuthorizationCode implements the authorization_code grant: it mints
// single-use codes during the authorization leg and redeems them for tokens
// at the token endpoint.
type AuthorizationCode struct {
	deps Dependencies
}

// Kind implements Grant.
func (*AuthorizationCode) Kind() oauth.GrantType {
	return oauth.GrantTypeAuthorizationCode
}

// IssueCode mints an authorization code bound to the approved request. The
// code record carries the redirect target, the finalized scopes, and the
// PKCE challenge so redemption can re-verify all three.
func (g *AuthorizationCode) IssueCode(ctx context.Context, request *oauth.AuthorizationRequest) (string, error) {
	now := g.deps.now()
	code := &oauth.Token{
		ID:                  oauth.NewTokenID(),
		Kind:                oauth.TokenKindAuthorizationCode,
		ClientID:            request.ClientID,
		UserID:              request.UserID,
		Scopes:              oauth.ScopeIDs(request.Scopes),
		IssuedAt:            now,
		ExpiresAt:           now.Add(g.deps.AuthorizationCodeTTL),
		RedirectURI:         request.RedirectURI,
		CodeChallenge:       request.CodeChallenge,
		CodeChallengeMethod: request.CodeChallengeMethod,
	}
	if err := g.deps.Tokens.CreateToken(ctx, code); err != nil {
		return "", oauth.ServerError("failed to persist authorization code").WithCause(err)
	}
	return code.ID, nil
}

// Respond redeems an authorization code. The code is consumed before any
// validation runs, so a code that fails validation is burned and cannot be
// retried with corrected parameters.
func (g *AuthorizationCode) Respond(
	ctx context.Context,
	client *oauth.Client,
	req *oauth.TokenRequest,
) (*oauth.TokenResponse, error) {
	if req.Code == "" {
		return nil, oauth.InvalidRequest("code parameter is required")
	}

	code, err := g.deps.Tokens.ConsumeToken(ctx, req.Code)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrConsumed):
			return nil, oauth.InvalidGrant("authorization code has already been used")
		case errors.Is(err, storage.ErrNotFound):
			return nil, oauth.InvalidGrant("authorization code is invalid")
		default:
			return nil, oauth.ServerError("failed to consume authorization code").WithCause(err)
		}
	}

	if code.Kind != oauth.TokenKindAuthorizationCode {
		return nil, oauth.InvalidGrant("authorization code is invalid")
	}
	if code.ClientID != client.ID {
		return nil, oauth.InvalidGrant("authorization code was issued to another client")
	}
	if code.Revoked {
		return nil, oauth.InvalidGrant("authorization code has been revoked")
	}
	if code.IsExpired(g.deps.now()) {
		return nil, oauth.InvalidGrant("authorization code has expired")
	}
	if code.RedirectURI != "" && code.RedirectURI != req.RedirectURI {
		return nil, oauth.InvalidGrant("redirect_uri does not match the authorization request")
	}
	if err := g.verifyProofKey(client, code, req.CodeVerifier); err != nil {
		return nil, err
	}

	return respond(ctx, &g.deps, client, code.UserID, code.Scopes, g.Kind(), true)
}

// verifyProofKey checks the PKCE binding between the stored challenge and
// the presented verifier.
func (g *AuthorizationCode) verifyProofKey(client *oauth.Client, code *oauth.Token, verifier string) error {
	if code.CodeChallenge == "" {
		if client.RequirePKCE {
			return oauth.InvalidGrant("client requires PKCE but the authorization request carried no code challenge")
		}
		if verifier != "" {
			return oauth.InvalidGrant("code_verifier provided but the authorization request carried no code challenge")
		}
		return nil
	}

	if verifier == "" {
		return oauth.InvalidRequest("code_verifier parameter is required")
	}
	if code.CodeChallengeMethod != CodeChallengeMethodS256 {
		return oauth.InvalidGrant("unsupported code challenge method")
	}
	if len(verifier) < 43 || len(verifier) > 128 {
		return oauth.InvalidGrant("code_verifier length is out of range")
	}

	computed := xoauth2.S256ChallengeFromVerifier(verifier)
	if subtle.ConstantTimeCompare([]byte(computed), []byte(code.CodeChallenge)) != 1 {
		return oauth.InvalidGrant("code_verifier does not match the code challenge")
	}
	return nil
}
