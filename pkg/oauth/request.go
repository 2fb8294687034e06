// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package oauth

import "time"

// AuthorizationRequest is the transient product of validating an authorize
// call. It is either completed synchronously (redirect) or round-tripped
// through the pending-authorization store while interactive consent runs.
type AuthorizationRequest struct {
	// ID keys the request in the pending-authorization store during the
	// consent round-trip.
	ID string

	// ClientID is the validated requesting client.
	ClientID string

	// ResponseType is the validated response_type ("code" or "token").
	ResponseType string

	// GrantType is the grant the response type selected.
	GrantType GrantType

	// RedirectURI is the validated redirect target.
	RedirectURI string

	// Scopes is the validated requested scope set.
	Scopes []Scope

	// State is the client's opaque state parameter, echoed on redirect.
	State string

	// CodeChallenge and CodeChallengeMethod carry the PKCE parameters.
	CodeChallenge       string
	CodeChallengeMethod string

	// UserID is the granting user, set after authentication.
	UserID string

	// Approved is set once the user (or the consent-skip policy) decided.
	Approved bool

	// CreatedAt bounds the consent round-trip lifetime.
	CreatedAt time.Time
}

// TokenRequest is the canonical internal representation of a POST /token
// call. HTTP adapters construct it at the boundary; nothing below the
// authorization server touches transport types.
type TokenRequest struct {
	GrantType    GrantType
	ClientID     string
	ClientSecret string

	// SecretPresented distinguishes an empty secret parameter from an
	// absent one; the public-client exemption depends on the difference.
	SecretPresented bool

	// Authorization-code exchange fields.
	Code         string
	CodeVerifier string
	RedirectURI  string

	// Refresh-token redemption field.
	RefreshToken string

	// Resource-owner password fields.
	Username string
	Password string

	// Scopes is the raw requested scope identifier list.
	Scopes []string
}

// TokenResponse is the successful token endpoint payload.
type TokenResponse struct {
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
}
