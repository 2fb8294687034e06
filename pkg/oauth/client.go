// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/grantd/grantd/pkg/logger"
)

// GrantType identifies one of the supported token-issuance flows. The set is
// closed; adding a grant type is a deliberate code change, not a runtime
// plugin registration.
type GrantType string

// Supported grant types.
const (
	GrantTypeAuthorizationCode GrantType = "authorization_code"
	GrantTypeImplicit          GrantType = "implicit"
	GrantTypeClientCredentials GrantType = "client_credentials"
	GrantTypeRefreshToken      GrantType = "refresh_token"
	GrantTypePassword          GrantType = "password"
)

// ParseGrantType maps a grant_type request parameter onto the closed enum.
// An unknown or empty value yields invalid_grant, matching the behavior the
// token endpoint exposes for unconfigured grants.
func ParseGrantType(raw string) (GrantType, error) {
	switch GrantType(raw) {
	case GrantTypeAuthorizationCode, GrantTypeClientCredentials,
		GrantTypeRefreshToken, GrantTypePassword:
		return GrantType(raw), nil
	case GrantTypeImplicit:
		// Implicit tokens are issued on the authorize redirect; the token
		// endpoint has no leg for them.
		return "", InvalidGrant("The implicit grant has no token endpoint")
	default:
		return "", InvalidGrant("Check the configuration to see if the grant is enabled")
	}
}

// Client is a registered OAuth client. Records are created and updated by an
// external administrative workflow; this core only reads them.
type Client struct {
	// ID is the public, stable client identifier.
	ID string

	// Name is the human-readable label shown on the consent page.
	Name string

	// SecretHash is the bcrypt hash of the client secret. Empty for clients
	// that never registered a secret.
	SecretHash string

	// Confidential reports whether the client can securely hold a secret.
	Confidential bool

	// RedirectURI is the registered callback. Exact-match only.
	RedirectURI string

	// RequirePKCE forces a code challenge on authorization-code flows.
	RequirePKCE bool

	// ThirdParty controls whether interactive consent is mandatory.
	// First-party clients skip the consent prompt entirely.
	ThirdParty bool

	// DefaultUserID is the identity bound to client-credentials tokens.
	// A client-credentials request fails with server_error when unset.
	DefaultUserID string

	// Scopes is the set of role-backed scope identifiers associated with
	// the client. Finalization back-fills these onto issued tokens.
	Scopes []string
}

// IsPublic reports whether the client is a public (non-confidential) client.
func (c *Client) IsPublic() bool {
	return !c.Confidential
}

// ClientStore resolves a client identifier to its stored record.
type ClientStore interface {
	// GetClient loads a client by its public identifier. Implementations
	// return an error wrapping storage.ErrNotFound for unknown clients.
	GetClient(ctx context.Context, id string) (*Client, error)
}

// ClientDirectory resolves and authenticates clients. It is read-only: the
// administrative workflow that mutates client records lives outside the core.
type ClientDirectory struct {
	store ClientStore
}

// NewClientDirectory creates a directory backed by the given store.
func NewClientDirectory(store ClientStore) *ClientDirectory {
	return &ClientDirectory{store: store}
}

// GetClient resolves a client by identifier.
func (d *ClientDirectory) GetClient(ctx context.Context, id string) (*Client, error) {
	client, err := d.store.GetClient(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("client lookup: %w", err)
	}
	return client, nil
}

// ValidateClient checks the client authentication carried by a token
// request.
//
// Unknown clients fail closed without leaking existence. A public client with
// no registered secret authenticates by omitting the client_secret parameter
// entirely, for every grant except client_credentials; once a secret is
// registered it is always checked, regardless of confidentiality.
// See https://datatracker.ietf.org/doc/html/rfc6749#section-4.4
func (d *ClientDirectory) ValidateClient(ctx context.Context, req *TokenRequest) bool {
	client, err := d.store.GetClient(ctx, req.ClientID)
	if err != nil {
		if !errors.Is(err, context.Canceled) {
			logger.Debugw("client validation failed: lookup error", "client_id", req.ClientID, "error", err.Error())
		}
		return false
	}

	if client.SecretHash == "" {
		// The client_credentials grant issues tokens on the client's own
		// authority, so it always requires a registered, matching secret.
		if req.GrantType == GrantTypeClientCredentials {
			logger.Debugw("client validation failed: client_credentials without a registered secret",
				"client_id", req.ClientID)
			return false
		}
		if client.IsPublic() {
			// The exemption covers an absent parameter only. A secret the
			// directory has nothing to check against is a failed
			// authentication attempt, not a pass.
			if req.SecretPresented {
				logger.Debugw("client validation failed: secret presented but none registered",
					"client_id", req.ClientID)
			}
			return !req.SecretPresented
		}
		// Confidential client that never registered a secret. There is
		// nothing to check against.
		return true
	}

	if req.ClientSecret == "" {
		return false
	}

	// bcrypt comparison is constant-time in the digest check.
	if err := bcrypt.CompareHashAndPassword([]byte(client.SecretHash), []byte(req.ClientSecret)); err != nil {
		logger.Debugw("client validation failed: secret mismatch", "client_id", req.ClientID)
		return false
	}
	return true
}

// HashClientSecret hashes a plaintext client secret for storage. Exposed for
// the registration workflow and test fixtures.
func HashClientSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash client secret: %w", err)
	}
	return string(hash), nil
}
