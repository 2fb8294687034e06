// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"bytes"
	"context"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	xoauth2 "golang.org/x/oauth2"

	"github.com/grantd/grantd/pkg/oauth"
	"github.com/grantd/grantd/pkg/storage"
)

const testVerifier = "dBjftJeZ4CVP-mB92K27uhbUJU1p1r_wW1gFWFOEjXk"

type echoSigner struct{}

func (echoSigner) SignAccessToken(_ context.Context, token *oauth.Token) (string, error) {
	return "signed." + token.ID, nil
}

type serverFixture struct {
	server *Server
	store  *storage.MemoryStorage
	now    time.Time
}

func (f *serverFixture) advance(d time.Duration) {
	f.now = f.now.Add(d)
}

func newTestServer(t *testing.T, mutate func(*Config)) *serverFixture {
	t.Helper()
	ctx := context.Background()

	store := storage.NewMemoryStorage()
	t.Cleanup(func() { _ = store.Close() })

	require.NoError(t, store.RegisterRole(ctx, oauth.Scope{ID: "reader", Name: "Reader"}))
	require.NoError(t, store.RegisterRole(ctx, oauth.Scope{ID: "writer", Name: "Writer"}))

	require.NoError(t, store.RegisterUser(ctx, &oauth.User{
		ID:       "user-1",
		Username: "alice",
		Roles:    []string{"reader"},
	}))

	secretHash, err := oauth.HashClientSecret("hunter2")
	require.NoError(t, err)

	require.NoError(t, store.RegisterClient(ctx, &oauth.Client{
		ID:          "web-app",
		Name:        "Web App",
		RedirectURI: "https://app.example.com/callback",
	}))
	require.NoError(t, store.RegisterClient(ctx, &oauth.Client{
		ID:          "partner",
		Name:        "Partner Integration",
		RedirectURI: "https://partner.example.com/cb",
		ThirdParty:  true,
	}))
	require.NoError(t, store.RegisterClient(ctx, &oauth.Client{
		ID:           "machine",
		Name:         "Machine Client",
		SecretHash:   secretHash,
		Confidential: true,
	}))

	cfg := Config{
		Issuer: "https://auth.example.com",
		Grants: []oauth.GrantType{
			oauth.GrantTypeAuthorizationCode,
			oauth.GrantTypeRefreshToken,
		},
		Secret:                  bytes.Repeat([]byte("k"), MinSecretLength),
		RememberApprovedClients: true,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	f := &serverFixture{store: store, now: time.Now()}
	server, err := New(cfg, store, echoSigner{}, WithClock(func() time.Time { return f.now }))
	require.NoError(t, err)
	f.server = server
	return f
}

func codeParams(clientID string) AuthorizeParams {
	return AuthorizeParams{
		ClientID:            clientID,
		ResponseType:        "code",
		State:               "xyzzy",
		CodeChallenge:       xoauth2.S256ChallengeFromVerifier(testVerifier),
		CodeChallengeMethod: "S256",
		Scopes:              []string{"reader"},
	}
}

// authorizeToRedirect drives a request through validation and authorization
// for a logged-in user and returns the parsed redirect URL.
func authorizeToRedirect(t *testing.T, f *serverFixture, params AuthorizeParams) *url.URL {
	t.Helper()
	ctx := context.Background()

	request, err := f.server.ValidateAuthorizationRequest(ctx, params)
	require.NoError(t, err)

	result, err := f.server.Authorize(ctx, request, "user-1")
	require.NoError(t, err)
	require.Equal(t, OutcomeRedirect, result.Outcome)

	u, err := url.Parse(result.RedirectURL)
	require.NoError(t, err)
	return u
}

func TestAuthorizationCodeFlow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newTestServer(t, nil)

	u := authorizeToRedirect(t, f, codeParams("web-app"))
	assert.Equal(t, "app.example.com", u.Host)
	assert.Equal(t, "xyzzy", u.Query().Get("state"))

	code := u.Query().Get("code")
	require.NotEmpty(t, code)
	assert.Contains(t, code, ".", "wire codes carry the HMAC seal")

	response, err := f.server.IssueToken(ctx, &oauth.TokenRequest{
		GrantType:    oauth.GrantTypeAuthorizationCode,
		ClientID:     "web-app",
		Code:         code,
		RedirectURI:  "https://app.example.com/callback",
		CodeVerifier: testVerifier,
	})
	require.NoError(t, err)
	assert.Equal(t, "Bearer", response.TokenType)
	assert.True(t, strings.HasPrefix(response.AccessToken, "signed."))
	require.NotEmpty(t, response.RefreshToken)
	assert.Contains(t, response.RefreshToken, ".", "wire refresh tokens carry the HMAC seal")

	t.Run("refresh rotation through the sealed form", func(t *testing.T) {
		rotated, err := f.server.IssueToken(ctx, &oauth.TokenRequest{
			GrantType:    oauth.GrantTypeRefreshToken,
			ClientID:     "web-app",
			RefreshToken: response.RefreshToken,
		})
		require.NoError(t, err)
		assert.NotEqual(t, response.RefreshToken, rotated.RefreshToken)
	})
}

func TestAuthorizationCodeFlowRejections(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("forged code", func(t *testing.T) {
		t.Parallel()
		f := newTestServer(t, nil)
		_, err := f.server.IssueToken(ctx, &oauth.TokenRequest{
			GrantType:    oauth.GrantTypeAuthorizationCode,
			ClientID:     "web-app",
			Code:         "guessed-id.Zm9yZ2VkLXRhZw",
			RedirectURI:  "https://app.example.com/callback",
			CodeVerifier: testVerifier,
		})
		oerr := &oauth.Error{}
		require.ErrorAs(t, err, &oerr)
		assert.Equal(t, oauth.ErrorCodeInvalidGrant, oerr.Code)
		assert.Equal(t, "malformed token", oerr.Description)
	})

	t.Run("expired code", func(t *testing.T) {
		t.Parallel()
		f := newTestServer(t, nil)
		u := authorizeToRedirect(t, f, codeParams("web-app"))
		f.advance(DefaultAuthorizationCodeTTL + time.Minute)

		_, err := f.server.IssueToken(ctx, &oauth.TokenRequest{
			GrantType:    oauth.GrantTypeAuthorizationCode,
			ClientID:     "web-app",
			Code:         u.Query().Get("code"),
			RedirectURI:  "https://app.example.com/callback",
			CodeVerifier: testVerifier,
		})
		oerr := &oauth.Error{}
		require.ErrorAs(t, err, &oerr)
		assert.Equal(t, oauth.ErrorCodeInvalidGrant, oerr.Code)
	})

	t.Run("disabled grant", func(t *testing.T) {
		t.Parallel()
		f := newTestServer(t, nil)
		_, err := f.server.IssueToken(ctx, &oauth.TokenRequest{
			GrantType: oauth.GrantTypePassword,
			ClientID:  "web-app",
			Username:  "alice",
			Password:  "hunter2",
		})
		oerr := &oauth.Error{}
		require.ErrorAs(t, err, &oerr)
		assert.Equal(t, oauth.ErrorCodeInvalidGrant, oerr.Code)
	})

	t.Run("missing client_id", func(t *testing.T) {
		t.Parallel()
		f := newTestServer(t, nil)
		_, err := f.server.IssueToken(ctx, &oauth.TokenRequest{
			GrantType: oauth.GrantTypeAuthorizationCode,
			Code:      "whatever",
		})
		oerr := &oauth.Error{}
		require.ErrorAs(t, err, &oerr)
		assert.Equal(t, oauth.ErrorCodeInvalidRequest, oerr.Code)
	})

	t.Run("wrong client secret", func(t *testing.T) {
		t.Parallel()
		f := newTestServer(t, func(c *Config) {
			c.Grants = append(c.Grants, oauth.GrantTypeClientCredentials)
		})
		_, err := f.server.IssueToken(ctx, &oauth.TokenRequest{
			GrantType:    oauth.GrantTypeClientCredentials,
			ClientID:     "machine",
			ClientSecret: "wrong",
		})
		oerr := &oauth.Error{}
		require.ErrorAs(t, err, &oerr)
		assert.Equal(t, oauth.ErrorCodeInvalidClient, oerr.Code)
	})
}

func TestValidateAuthorizationRequest(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	requireCode := func(t *testing.T, err error, code oauth.ErrorCode) {
		t.Helper()
		oerr := &oauth.Error{}
		require.ErrorAs(t, err, &oerr)
		assert.Equal(t, code, oerr.Code)
	}

	t.Run("unknown client", func(t *testing.T) {
		t.Parallel()
		f := newTestServer(t, nil)
		params := codeParams("nobody")
		_, err := f.server.ValidateAuthorizationRequest(ctx, params)
		requireCode(t, err, oauth.ErrorCodeInvalidClient)
	})

	t.Run("redirect mismatch", func(t *testing.T) {
		t.Parallel()
		f := newTestServer(t, nil)
		params := codeParams("web-app")
		params.RedirectURI = "https://evil.example.com/steal"
		_, err := f.server.ValidateAuthorizationRequest(ctx, params)
		requireCode(t, err, oauth.ErrorCodeInvalidRequest)
	})

	t.Run("registered redirect is the default", func(t *testing.T) {
		t.Parallel()
		f := newTestServer(t, nil)
		request, err := f.server.ValidateAuthorizationRequest(ctx, codeParams("web-app"))
		require.NoError(t, err)
		assert.Equal(t, "https://app.example.com/callback", request.RedirectURI)
	})

	t.Run("client without registered redirect is rejected", func(t *testing.T) {
		t.Parallel()
		f := newTestServer(t, nil)
		require.NoError(t, f.store.RegisterClient(ctx, &oauth.Client{ID: "bare"}))

		params := codeParams("bare")
		params.RedirectURI = "https://attacker.example.com/steal"
		_, err := f.server.ValidateAuthorizationRequest(ctx, params)
		requireCode(t, err, oauth.ErrorCodeInvalidRequest)

		params.RedirectURI = ""
		_, err = f.server.ValidateAuthorizationRequest(ctx, params)
		requireCode(t, err, oauth.ErrorCodeInvalidRequest)
	})

	t.Run("disabled authorization code grant", func(t *testing.T) {
		t.Parallel()
		f := newTestServer(t, func(cfg *Config) {
			cfg.Grants = []oauth.GrantType{oauth.GrantTypePassword}
		})
		_, err := f.server.ValidateAuthorizationRequest(ctx, codeParams("web-app"))
		requireCode(t, err, oauth.ErrorCodeUnauthorizedClient)
	})

	t.Run("implicit disabled is a server fault", func(t *testing.T) {
		t.Parallel()
		f := newTestServer(t, nil)
		params := codeParams("web-app")
		params.ResponseType = "token"
		_, err := f.server.ValidateAuthorizationRequest(ctx, params)
		requireCode(t, err, oauth.ErrorCodeServerError)
	})

	t.Run("unsupported response type", func(t *testing.T) {
		t.Parallel()
		f := newTestServer(t, nil)
		params := codeParams("web-app")
		params.ResponseType = "id_token"
		_, err := f.server.ValidateAuthorizationRequest(ctx, params)
		requireCode(t, err, oauth.ErrorCodeInvalidRequest)
	})

	t.Run("plain challenge method", func(t *testing.T) {
		t.Parallel()
		f := newTestServer(t, nil)
		params := codeParams("web-app")
		params.CodeChallengeMethod = "plain"
		_, err := f.server.ValidateAuthorizationRequest(ctx, params)
		requireCode(t, err, oauth.ErrorCodeInvalidRequest)
	})

	t.Run("unknown scope", func(t *testing.T) {
		t.Parallel()
		f := newTestServer(t, nil)
		params := codeParams("web-app")
		params.Scopes = []string{"no-such"}
		_, err := f.server.ValidateAuthorizationRequest(ctx, params)
		requireCode(t, err, oauth.ErrorCodeInvalidScope)
	})

	t.Run("pkce-required client without challenge", func(t *testing.T) {
		t.Parallel()
		f := newTestServer(t, nil)
		require.NoError(t, f.store.RegisterClient(ctx, &oauth.Client{
			ID:          "strict",
			RedirectURI: "https://strict.example.com/cb",
			RequirePKCE: true,
		}))
		params := codeParams("strict")
		params.CodeChallenge = ""
		params.CodeChallengeMethod = ""
		_, err := f.server.ValidateAuthorizationRequest(ctx, params)
		requireCode(t, err, oauth.ErrorCodeInvalidRequest)
	})
}

func TestAuthorizeLoginRequired(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newTestServer(t, nil)

	request, err := f.server.ValidateAuthorizationRequest(ctx, codeParams("web-app"))
	require.NoError(t, err)

	result, err := f.server.Authorize(ctx, request, "")
	require.NoError(t, err)
	assert.Equal(t, OutcomeLoginRequired, result.Outcome)
}

func TestConsentFlow(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	startConsent := func(t *testing.T, f *serverFixture) *AuthorizeResult {
		t.Helper()
		request, err := f.server.ValidateAuthorizationRequest(ctx, codeParams("partner"))
		require.NoError(t, err)
		result, err := f.server.Authorize(ctx, request, "user-1")
		require.NoError(t, err)
		require.Equal(t, OutcomeConsentRequired, result.Outcome)
		return result
	}

	t.Run("approval issues a code and remembers the client", func(t *testing.T) {
		t.Parallel()
		f := newTestServer(t, nil)
		pending := startConsent(t, f)

		result, err := f.server.FinishAuthorization(ctx, pending.Request.ID, true)
		require.NoError(t, err)
		require.Equal(t, OutcomeRedirect, result.Outcome)

		u, err := url.Parse(result.RedirectURL)
		require.NoError(t, err)
		assert.NotEmpty(t, u.Query().Get("code"))
		assert.Equal(t, "xyzzy", u.Query().Get("state"))

		t.Run("remembered approval skips the next consent", func(t *testing.T) {
			request, err := f.server.ValidateAuthorizationRequest(ctx, codeParams("partner"))
			require.NoError(t, err)
			again, err := f.server.Authorize(ctx, request, "user-1")
			require.NoError(t, err)
			assert.Equal(t, OutcomeRedirect, again.Outcome)
		})
	})

	t.Run("denial redirects with access_denied", func(t *testing.T) {
		t.Parallel()
		f := newTestServer(t, nil)
		pending := startConsent(t, f)

		result, err := f.server.FinishAuthorization(ctx, pending.Request.ID, false)
		require.NoError(t, err)
		require.Equal(t, OutcomeRedirect, result.Outcome)

		u, err := url.Parse(result.RedirectURL)
		require.NoError(t, err)
		assert.Equal(t, "partner.example.com", u.Host)
		assert.Equal(t, "access_denied", u.Query().Get("error"))
		assert.Equal(t, "xyzzy", u.Query().Get("state"))
	})

	t.Run("a decision cannot be replayed", func(t *testing.T) {
		t.Parallel()
		f := newTestServer(t, nil)
		pending := startConsent(t, f)

		_, err := f.server.FinishAuthorization(ctx, pending.Request.ID, true)
		require.NoError(t, err)

		_, err = f.server.FinishAuthorization(ctx, pending.Request.ID, true)
		oerr := &oauth.Error{}
		require.ErrorAs(t, err, &oerr)
		assert.Equal(t, oauth.ErrorCodeInvalidRequest, oerr.Code)
	})

	t.Run("consent is not skipped when remembering is off", func(t *testing.T) {
		t.Parallel()
		f := newTestServer(t, func(c *Config) { c.RememberApprovedClients = false })
		pending := startConsent(t, f)
		_, err := f.server.FinishAuthorization(ctx, pending.Request.ID, true)
		require.NoError(t, err)

		startConsent(t, f)
	})
}

func TestImplicitFlow(t *testing.T) {
	t.Parallel()
	f := newTestServer(t, func(c *Config) {
		c.Grants = append(c.Grants, oauth.GrantTypeImplicit)
	})

	params := AuthorizeParams{
		ClientID:     "web-app",
		ResponseType: "token",
		State:        "opaque",
		Scopes:       []string{"reader"},
	}
	u := authorizeToRedirect(t, f, params)

	fragment, err := url.ParseQuery(u.Fragment)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(fragment.Get("access_token"), "signed."))
	assert.Equal(t, "Bearer", fragment.Get("token_type"))
	assert.Equal(t, "opaque", fragment.Get("state"))
	assert.NotEmpty(t, fragment.Get("expires_in"))
	assert.Empty(t, u.Query().Get("access_token"), "implicit responses never use the query string")

	t.Run("implicit grant has no token endpoint", func(t *testing.T) {
		_, err := f.server.IssueToken(context.Background(), &oauth.TokenRequest{
			GrantType: oauth.GrantTypeImplicit,
			ClientID:  "web-app",
		})
		oerr := &oauth.Error{}
		require.ErrorAs(t, err, &oerr)
		assert.Equal(t, oauth.ErrorCodeInvalidGrant, oerr.Code)
	})
}

func TestRevokeToken(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	f := newTestServer(t, nil)

	u := authorizeToRedirect(t, f, codeParams("web-app"))
	response, err := f.server.IssueToken(ctx, &oauth.TokenRequest{
		GrantType:    oauth.GrantTypeAuthorizationCode,
		ClientID:     "web-app",
		Code:         u.Query().Get("code"),
		RedirectURI:  "https://app.example.com/callback",
		CodeVerifier: testVerifier,
	})
	require.NoError(t, err)

	require.NoError(t, f.server.RevokeToken(ctx, response.RefreshToken))

	_, err = f.server.IssueToken(ctx, &oauth.TokenRequest{
		GrantType:    oauth.GrantTypeRefreshToken,
		ClientID:     "web-app",
		RefreshToken: response.RefreshToken,
	})
	oerr := &oauth.Error{}
	require.ErrorAs(t, err, &oerr)
	assert.Equal(t, oauth.ErrorCodeInvalidGrant, oerr.Code)
}
