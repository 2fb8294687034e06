// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package authserver assembles the OAuth2 authorization server: request
// validation, the authorization leg with its login and consent round trips,
// token issuance through the grant machines, and access token verification
// for resource servers.
package authserver

import (
	"context"
	"errors"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/grantd/grantd/pkg/logger"
	"github.com/grantd/grantd/pkg/oauth"
	"github.com/grantd/grantd/pkg/oauth/grant"
	"github.com/grantd/grantd/pkg/storage"
)

// Server is the authorization server core. All collaborators are injected
// at construction; the only process-global it touches is the logger.
type Server struct {
	cfg     Config
	store   storage.Storage
	clients *oauth.ClientDirectory
	scopes  *oauth.ScopeRepository
	signer  oauth.TokenSigner

	grants   map[oauth.GrantType]grant.Grant
	authCode *grant.AuthorizationCode
	implicit *grant.Implicit
	seal     sealer

	now func() time.Time
}

// Option adjusts server construction.
type Option func(*Server)

// WithClock overrides the server clock. Tests use it to control expiry.
func WithClock(now func() time.Time) Option {
	return func(s *Server) { s.now = now }
}

// New validates the configuration and wires the server together. The grant
// machines for every enabled grant are built once, here; nothing else in the
// process maps grant types to implementations.
func New(cfg Config, store storage.Storage, signer oauth.TokenSigner, opts ...Option) (*Server, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Server{
		cfg:     cfg,
		store:   store,
		clients: oauth.NewClientDirectory(store),
		scopes:  oauth.NewScopeRepository(store),
		signer:  signer,
		grants:  make(map[oauth.GrantType]grant.Grant),
		seal:    newSealer(cfg.Secret),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}

	deps := grant.Dependencies{
		Clients:              s.clients,
		Scopes:               s.scopes,
		Users:                store,
		Tokens:               store,
		Signer:               signer,
		AccessTokenTTL:       cfg.AccessTokenTTL,
		RefreshTokenTTL:      cfg.RefreshTokenTTL,
		AuthorizationCodeTTL: cfg.AuthorizationCodeTTL,
		Enabled:              cfg.GrantEnabled,
		Now:                  s.now,
	}

	for _, gt := range cfg.Grants {
		if gt == oauth.GrantTypeImplicit {
			continue
		}
		g, err := grant.New(gt, deps)
		if err != nil {
			return nil, err
		}
		s.grants[gt] = g
	}

	// The authorization code machine is needed for the authorization leg
	// even when the operator only enabled the implicit grant alongside it.
	if ac, ok := s.grants[oauth.GrantTypeAuthorizationCode].(*grant.AuthorizationCode); ok {
		s.authCode = ac
	}
	s.implicit = grant.NewImplicit(deps)

	return s, nil
}

// Issuer returns the configured issuer URL.
func (s *Server) Issuer() string {
	return s.cfg.Issuer
}

// GrantEnabled reports whether a grant type is enabled.
func (s *Server) GrantEnabled(gt oauth.GrantType) bool {
	return s.cfg.GrantEnabled(gt)
}

// AuthorizeParams is the raw parameter set of a GET /oauth/authorize call.
type AuthorizeParams struct {
	ClientID            string
	ResponseType        string
	RedirectURI         string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
	Scopes              []string
}

// ValidateAuthorizationRequest turns raw authorize parameters into the
// canonical internal request. Every error it returns happens before a
// trustworthy redirect target is established, so callers must render these
// errors directly instead of redirecting.
func (s *Server) ValidateAuthorizationRequest(ctx context.Context, params AuthorizeParams) (*oauth.AuthorizationRequest, error) {
	if params.ClientID == "" {
		return nil, oauth.InvalidRequest("client_id parameter is required")
	}
	client, err := s.clients.GetClient(ctx, params.ClientID)
	if err != nil {
		return nil, oauth.InvalidClient().WithCause(err)
	}

	// A presented redirect_uri is only trustworthy when it matches a
	// registered one; a client without a registered redirect URI has no
	// basis for the match, so the request is rejected outright rather
	// than adopting whatever the caller supplied.
	if client.RedirectURI == "" {
		return nil, oauth.InvalidRequest("client has no registered redirect URI")
	}
	redirectURI := params.RedirectURI
	if redirectURI == "" {
		redirectURI = client.RedirectURI
	}
	if redirectURI != client.RedirectURI {
		return nil, oauth.InvalidRequest("redirect_uri does not match the registered value")
	}

	var grantType oauth.GrantType
	switch params.ResponseType {
	case "code":
		grantType = oauth.GrantTypeAuthorizationCode
	case "token":
		grantType = oauth.GrantTypeImplicit
	default:
		return nil, oauth.InvalidRequest("unsupported response_type")
	}
	if !s.cfg.GrantEnabled(grantType) {
		// A token response type against a deployment that never enabled
		// the implicit grant is a configuration fault, not a client
		// denial.
		if grantType == oauth.GrantTypeImplicit {
			return nil, oauth.ServerError("the implicit grant is not enabled")
		}
		return nil, oauth.UnauthorizedClient("the requested response type is disabled")
	}

	scopes, err := s.scopes.ResolveAll(ctx, params.Scopes)
	if err != nil {
		return nil, err
	}

	if err := validateChallenge(client, grantType, params.CodeChallenge, params.CodeChallengeMethod); err != nil {
		return nil, err
	}

	return &oauth.AuthorizationRequest{
		ID:                  oauth.NewTokenID(),
		ClientID:            client.ID,
		ResponseType:        params.ResponseType,
		GrantType:           grantType,
		RedirectURI:         redirectURI,
		Scopes:              scopes,
		State:               params.State,
		CodeChallenge:       params.CodeChallenge,
		CodeChallengeMethod: params.CodeChallengeMethod,
		CreatedAt:           s.now(),
	}, nil
}

func validateChallenge(client *oauth.Client, grantType oauth.GrantType, challenge, method string) error {
	if grantType != oauth.GrantTypeAuthorizationCode {
		return nil
	}
	if challenge == "" {
		if client.RequirePKCE {
			return oauth.InvalidRequest("client requires PKCE but no code_challenge was provided")
		}
		return nil
	}
	if method != grant.CodeChallengeMethodS256 {
		return oauth.InvalidRequest("only the S256 code_challenge_method is supported")
	}
	if len(challenge) < 43 || len(challenge) > 128 {
		return oauth.InvalidRequest("code_challenge length is out of range")
	}
	return nil
}

// AuthorizeOutcome names the three ways the authorization leg can pause or
// finish.
type AuthorizeOutcome string

// Authorization leg outcomes.
const (
	OutcomeLoginRequired   AuthorizeOutcome = "login_required"
	OutcomeConsentRequired AuthorizeOutcome = "consent_required"
	OutcomeRedirect        AuthorizeOutcome = "redirect"
)

// AuthorizeResult is what the authorization leg produced: a redirect back
// to the client, or a pause for login or consent.
type AuthorizeResult struct {
	Outcome AuthorizeOutcome

	// RedirectURL is set for OutcomeRedirect.
	RedirectURL string

	// Request echoes the in-flight request. For OutcomeConsentRequired
	// its ID addresses the pending record the consent decision resolves.
	Request *oauth.AuthorizationRequest
}

// Authorize advances a validated request for the given user. An empty user
// means nobody is logged in. First-party clients skip consent entirely;
// third-party clients skip it only when remembered approvals cover the
// request.
func (s *Server) Authorize(ctx context.Context, request *oauth.AuthorizationRequest, userID string) (*AuthorizeResult, error) {
	if userID == "" {
		return &AuthorizeResult{Outcome: OutcomeLoginRequired, Request: request}, nil
	}
	request.UserID = userID

	client, err := s.clients.GetClient(ctx, request.ClientID)
	if err != nil {
		return nil, oauth.InvalidClient().WithCause(err)
	}

	finalized, err := s.scopes.FinalizeScopes(ctx, request.Scopes, request.GrantType, client, userID)
	if err != nil {
		return nil, err
	}
	request.Scopes = finalized

	if client.ThirdParty && !s.isRemembered(ctx, request, userID) {
		if err := s.store.StorePendingAuthorization(ctx, request); err != nil {
			return nil, oauth.ServerError("failed to store pending authorization").WithCause(err)
		}
		return &AuthorizeResult{Outcome: OutcomeConsentRequired, Request: request}, nil
	}

	request.Approved = true
	return s.finishApproved(ctx, request, client)
}

func (s *Server) isRemembered(ctx context.Context, request *oauth.AuthorizationRequest, userID string) bool {
	if !s.cfg.RememberApprovedClients {
		return false
	}
	remembered, err := s.store.IsAuthorized(ctx, userID, request.ClientID, oauth.ScopeIDs(request.Scopes))
	if err != nil {
		logger.Warnw("failed to check remembered approvals, falling back to consent",
			"user_id", userID, "client_id", request.ClientID, "error", err)
		return false
	}
	return remembered
}

// FinishAuthorization resolves a pending consent decision. The pending
// record is consumed either way, so a decision cannot be replayed. A denial
// still redirects: the client learns access_denied through the redirect URI
// it registered.
func (s *Server) FinishAuthorization(ctx context.Context, pendingID string, approved bool) (*AuthorizeResult, error) {
	request, err := s.store.ConsumePendingAuthorization(ctx, pendingID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, oauth.InvalidRequest("unknown or expired authorization session")
		}
		return nil, oauth.ServerError("failed to load pending authorization").WithCause(err)
	}

	client, err := s.clients.GetClient(ctx, request.ClientID)
	if err != nil {
		return nil, oauth.InvalidClient().WithCause(err)
	}

	if !approved {
		return &AuthorizeResult{
			Outcome:     OutcomeRedirect,
			RedirectURL: errorRedirect(request, oauth.AccessDenied()),
			Request:     request,
		}, nil
	}

	if s.cfg.RememberApprovedClients && client.ThirdParty {
		if err := s.store.RememberClient(ctx, request.UserID, request.ClientID, oauth.ScopeIDs(request.Scopes)); err != nil {
			logger.Warnw("failed to remember client approval",
				"user_id", request.UserID, "client_id", request.ClientID, "error", err)
		}
	}

	request.Approved = true
	return s.finishApproved(ctx, request, client)
}

// finishApproved issues the authorization response for an approved request:
// a sealed code on the query string, or an implicit access token on the
// fragment.
func (s *Server) finishApproved(ctx context.Context, request *oauth.AuthorizationRequest, client *oauth.Client) (*AuthorizeResult, error) {
	switch request.GrantType {
	case oauth.GrantTypeAuthorizationCode:
		if s.authCode == nil {
			return nil, oauth.UnauthorizedClient("the authorization code grant is disabled")
		}
		code, err := s.authCode.IssueCode(ctx, request)
		if err != nil {
			return nil, err
		}
		values := url.Values{"code": {s.seal.seal(code)}}
		if request.State != "" {
			values.Set("state", request.State)
		}
		return &AuthorizeResult{
			Outcome:     OutcomeRedirect,
			RedirectURL: appendQuery(request.RedirectURI, values),
			Request:     request,
		}, nil

	case oauth.GrantTypeImplicit:
		response, err := s.implicit.IssueAccessToken(ctx, client, request)
		if err != nil {
			return nil, err
		}
		values := url.Values{
			"access_token": {response.AccessToken},
			"token_type":   {response.TokenType},
			"expires_in":   {strconv.FormatInt(response.ExpiresIn, 10)},
		}
		if len(request.Scopes) > 0 {
			values.Set("scope", joinScopes(request.Scopes))
		}
		if request.State != "" {
			values.Set("state", request.State)
		}
		return &AuthorizeResult{
			Outcome:     OutcomeRedirect,
			RedirectURL: appendFragment(request.RedirectURI, values),
			Request:     request,
		}, nil

	default:
		return nil, oauth.ServerError("approved request has no issuable response type")
	}
}

// IssueToken handles a POST /token request end to end: enabled-grant check,
// client authentication, unsealing of presented credentials, and dispatch to
// the grant machine. Refresh tokens leave sealed the same way codes do.
func (s *Server) IssueToken(ctx context.Context, req *oauth.TokenRequest) (*oauth.TokenResponse, error) {
	if !s.cfg.GrantEnabled(req.GrantType) {
		return nil, oauth.InvalidGrant("grant type is not enabled")
	}
	if req.ClientID == "" {
		return nil, oauth.InvalidRequest("client_id parameter is required")
	}
	if !s.clients.ValidateClient(ctx, req) {
		return nil, oauth.InvalidClient()
	}
	client, err := s.clients.GetClient(ctx, req.ClientID)
	if err != nil {
		return nil, oauth.InvalidClient().WithCause(err)
	}

	if req.Code != "" {
		id, err := s.seal.unseal(req.Code)
		if err != nil {
			return nil, err
		}
		req.Code = id
	}
	if req.RefreshToken != "" {
		id, err := s.seal.unseal(req.RefreshToken)
		if err != nil {
			return nil, err
		}
		req.RefreshToken = id
	}

	g, ok := s.grants[req.GrantType]
	if !ok {
		return nil, oauth.InvalidGrant("grant type is not enabled")
	}
	response, err := g.Respond(ctx, client, req)
	if err != nil {
		return nil, err
	}
	if response.RefreshToken != "" {
		response.RefreshToken = s.seal.seal(response.RefreshToken)
	}
	return response, nil
}

// ValidateClientCredentials authenticates a client outside a grant flow,
// for endpoints like revocation that require client authentication but do
// not issue anything.
func (s *Server) ValidateClientCredentials(ctx context.Context, req *oauth.TokenRequest) bool {
	return s.clients.ValidateClient(ctx, req)
}

// RevokeToken marks a stored token unusable. Sealed wire forms and bare
// identifiers are both accepted.
func (s *Server) RevokeToken(ctx context.Context, value string) error {
	if id, err := s.seal.unseal(value); err == nil {
		value = id
	}
	if err := s.store.RevokeToken(ctx, value); err != nil {
		return oauth.ServerError("failed to revoke token").WithCause(err)
	}
	return nil
}

func errorRedirect(request *oauth.AuthorizationRequest, oerr *oauth.Error) string {
	values := url.Values{"error": {string(oerr.Code)}}
	if oerr.Description != "" {
		values.Set("error_description", oerr.Description)
	}
	if request.State != "" {
		values.Set("state", request.State)
	}
	if request.ResponseType == "token" {
		return appendFragment(request.RedirectURI, values)
	}
	return appendQuery(request.RedirectURI, values)
}

func appendQuery(target string, values url.Values) string {
	u, err := url.Parse(target)
	if err != nil {
		return target
	}
	q := u.Query()
	for key, vals := range values {
		for _, v := range vals {
			q.Set(key, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String()
}

func appendFragment(target string, values url.Values) string {
	u, err := url.Parse(target)
	if err != nil {
		return target
	}
	u.Fragment = ""
	return u.String() + "#" + values.Encode()
}

func joinScopes(scopes []oauth.Scope) string {
	return strings.Join(oauth.ScopeIDs(scopes), " ")
}
