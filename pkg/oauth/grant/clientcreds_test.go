// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package grant

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grantd/grantd/pkg/oauth"
)

func TestClientCredentials(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("issues an access token bound to the default user", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, oauth.GrantTypeClientCredentials)
		g := &ClientCredentials{deps: f.deps}
		client := &oauth.Client{ID: "batch-job", DefaultUserID: "user-1", Scopes: []string{"billing"}}

		response, err := g.Respond(ctx, client, &oauth.TokenRequest{
			GrantType: oauth.GrantTypeClientCredentials,
			ClientID:  "batch-job",
			Scopes:    []string{"reader"},
		})
		require.NoError(t, err)
		assert.Equal(t, "Bearer", response.TokenType)
		assert.Empty(t, response.RefreshToken, "client credentials never issues a refresh token")

		token, err := f.store.GetToken(ctx, strings.TrimPrefix(response.AccessToken, "signed."))
		require.NoError(t, err)
		assert.Equal(t, "user-1", token.UserID)
		assert.Equal(t, []string{"reader", "billing"}, token.Scopes,
			"client scopes back-fill after requested scopes")
	})

	t.Run("no default user configured", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, oauth.GrantTypeClientCredentials)
		g := &ClientCredentials{deps: f.deps}

		_, err := g.Respond(ctx, &oauth.Client{ID: "batch-job"}, &oauth.TokenRequest{
			GrantType: oauth.GrantTypeClientCredentials,
			ClientID:  "batch-job",
		})
		requireOAuthError(t, err, oauth.ErrorCodeServerError)
	})

	t.Run("default user does not exist", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, oauth.GrantTypeClientCredentials)
		g := &ClientCredentials{deps: f.deps}

		_, err := g.Respond(ctx, &oauth.Client{ID: "batch-job", DefaultUserID: "ghost"}, &oauth.TokenRequest{
			GrantType: oauth.GrantTypeClientCredentials,
			ClientID:  "batch-job",
		})
		requireOAuthError(t, err, oauth.ErrorCodeServerError)
	})

	t.Run("default user is blocked", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, oauth.GrantTypeClientCredentials)
		require.NoError(t, f.store.RegisterUser(ctx, &oauth.User{
			ID:       "user-2",
			Username: "mallory",
			Blocked:  true,
		}))
		g := &ClientCredentials{deps: f.deps}

		_, err := g.Respond(ctx, &oauth.Client{ID: "batch-job", DefaultUserID: "user-2"}, &oauth.TokenRequest{
			GrantType: oauth.GrantTypeClientCredentials,
			ClientID:  "batch-job",
		})
		requireOAuthError(t, err, oauth.ErrorCodeServerError)
	})

	t.Run("unknown scope is rejected", func(t *testing.T) {
		t.Parallel()
		f := newFixture(t, oauth.GrantTypeClientCredentials)
		g := &ClientCredentials{deps: f.deps}

		_, err := g.Respond(ctx, &oauth.Client{ID: "batch-job", DefaultUserID: "user-1"}, &oauth.TokenRequest{
			GrantType: oauth.GrantTypeClientCredentials,
			ClientID:  "batch-job",
			Scopes:    []string{"no-such-scope"},
		})
		requireOAuthError(t, err, oauth.ErrorCodeInvalidScope)
	})
}
