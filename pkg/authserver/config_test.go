// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"bytes"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grantd/grantd/pkg/oauth"
)

func validConfig() Config {
	return Config{
		Issuer: "https://auth.example.com",
		Grants: []oauth.GrantType{oauth.GrantTypeAuthorizationCode, oauth.GrantTypeRefreshToken},
		Secret: bytes.Repeat([]byte("s"), MinSecretLength),
	}
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:   "valid",
			mutate: func(*Config) {},
		},
		{
			name:    "missing issuer",
			mutate:  func(c *Config) { c.Issuer = "" },
			wantErr: "issuer is required",
		},
		{
			name:    "relative issuer",
			mutate:  func(c *Config) { c.Issuer = "/auth" },
			wantErr: "absolute",
		},
		{
			name:    "issuer with fragment",
			mutate:  func(c *Config) { c.Issuer = "https://auth.example.com#frag" },
			wantErr: "fragment",
		},
		{
			name:    "no grants",
			mutate:  func(c *Config) { c.Grants = nil },
			wantErr: "at least one grant",
		},
		{
			name:    "unknown grant",
			mutate:  func(c *Config) { c.Grants = []oauth.GrantType{"device_code"} },
			wantErr: "unknown grant type",
		},
		{
			name:    "short secret",
			mutate:  func(c *Config) { c.Secret = []byte("too-short") },
			wantErr: "at least 32 bytes",
		},
		{
			name:    "negative ttl",
			mutate:  func(c *Config) { c.AccessTokenTTL = -time.Minute },
			wantErr: "must be positive",
		},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestConfigValidateAppliesDefaults(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, DefaultAccessTokenTTL, cfg.AccessTokenTTL)
	assert.Equal(t, DefaultRefreshTokenTTL, cfg.RefreshTokenTTL)
	assert.Equal(t, DefaultAuthorizationCodeTTL, cfg.AuthorizationCodeTTL)

	cfg = validConfig()
	cfg.AccessTokenTTL = time.Minute
	require.NoError(t, cfg.Validate())
	assert.Equal(t, time.Minute, cfg.AccessTokenTTL, "explicit values are kept")
}

func TestConfigGrantEnabled(t *testing.T) {
	t.Parallel()

	cfg := validConfig()
	assert.True(t, cfg.GrantEnabled(oauth.GrantTypeAuthorizationCode))
	assert.True(t, cfg.GrantEnabled(oauth.GrantTypeRefreshToken))
	assert.False(t, cfg.GrantEnabled(oauth.GrantTypePassword))
	assert.False(t, cfg.GrantEnabled(oauth.GrantTypeImplicit))
}
