// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"fmt"
	"net/url"
	"time"

	"github.com/grantd/grantd/pkg/authserver/keys"
	"github.com/grantd/grantd/pkg/oauth"
)

// Default token lifetimes.
const (
	DefaultAccessTokenTTL       = 5 * time.Minute
	DefaultRefreshTokenTTL      = 14 * 24 * time.Hour
	DefaultAuthorizationCodeTTL = 5 * time.Minute
)

// MinSecretLength is the minimum byte length of the token sealing secret.
// Shorter secrets make the HMAC seal guessable, so they are rejected
// outright instead of degrading silently.
const MinSecretLength = 32

// Config is the authorization server configuration. It is validated once at
// construction; the server never re-reads configuration while running.
type Config struct {
	// Issuer is the base URL the server identifies as in the iss claim
	// and in discovery metadata. Required, absolute, no fragment.
	Issuer string

	// Grants is the set of enabled grant types. A grant type outside
	// this set fails at the token endpoint even though the machine for
	// it exists.
	Grants []oauth.GrantType

	// AccessTokenTTL bounds access token lifetime. Zero means
	// DefaultAccessTokenTTL.
	AccessTokenTTL time.Duration

	// RefreshTokenTTL bounds refresh token lifetime. Zero means
	// DefaultRefreshTokenTTL.
	RefreshTokenTTL time.Duration

	// AuthorizationCodeTTL bounds authorization code lifetime. Zero
	// means DefaultAuthorizationCodeTTL.
	AuthorizationCodeTTL time.Duration

	// Secret keys the HMAC seal on authorization codes and refresh
	// tokens. At least MinSecretLength bytes.
	Secret []byte

	// RememberApprovedClients skips the consent screen when the user has
	// previously approved the client for at least the requested scopes.
	RememberApprovedClients bool

	// Keys selects the signing key source.
	Keys keys.Config
}

// Validate normalizes defaults and rejects configurations the server cannot
// run with.
func (c *Config) Validate() error {
	if c.Issuer == "" {
		return fmt.Errorf("issuer is required")
	}
	issuer, err := url.Parse(c.Issuer)
	if err != nil {
		return fmt.Errorf("issuer is not a valid URL: %w", err)
	}
	if !issuer.IsAbs() {
		return fmt.Errorf("issuer must be an absolute URL")
	}
	if issuer.Fragment != "" {
		return fmt.Errorf("issuer must not contain a fragment")
	}

	if len(c.Grants) == 0 {
		return fmt.Errorf("at least one grant type must be enabled")
	}
	for _, gt := range c.Grants {
		switch gt {
		case oauth.GrantTypeAuthorizationCode, oauth.GrantTypeImplicit,
			oauth.GrantTypeClientCredentials, oauth.GrantTypeRefreshToken,
			oauth.GrantTypePassword:
		default:
			return fmt.Errorf("unknown grant type %q", gt)
		}
	}

	if len(c.Secret) < MinSecretLength {
		return fmt.Errorf("secret must be at least %d bytes, got %d", MinSecretLength, len(c.Secret))
	}

	if c.AccessTokenTTL == 0 {
		c.AccessTokenTTL = DefaultAccessTokenTTL
	}
	if c.RefreshTokenTTL == 0 {
		c.RefreshTokenTTL = DefaultRefreshTokenTTL
	}
	if c.AuthorizationCodeTTL == 0 {
		c.AuthorizationCodeTTL = DefaultAuthorizationCodeTTL
	}
	if c.AccessTokenTTL < 0 || c.RefreshTokenTTL < 0 || c.AuthorizationCodeTTL < 0 {
		return fmt.Errorf("token lifetimes must be positive")
	}

	return nil
}

// GrantEnabled reports whether the grant type is in the enabled set.
func (c *Config) GrantEnabled(gt oauth.GrantType) bool {
	for _, enabled := range c.Grants {
		if enabled == gt {
			return true
		}
	}
	return false
}
