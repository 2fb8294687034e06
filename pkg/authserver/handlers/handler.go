// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package handlers provides the HTTP surface of the authorization server.
// Handlers translate between the wire and the canonical request types; all
// protocol decisions live below them.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/grantd/grantd/pkg/authserver"
	"github.com/grantd/grantd/pkg/logger"
	"github.com/grantd/grantd/pkg/oauth"
)

// SessionResolver reports which user owns the browser session, if any. The
// host application decides how sessions work; an empty user means nobody is
// logged in.
type SessionResolver interface {
	UserID(r *http.Request) string
}

// SessionResolverFunc adapts a function to SessionResolver.
type SessionResolverFunc func(r *http.Request) string

// UserID implements SessionResolver.
func (f SessionResolverFunc) UserID(r *http.Request) string {
	return f(r)
}

// Handler provides the HTTP handlers for the authorization server endpoints.
type Handler struct {
	server   *authserver.Server
	resource *authserver.ResourceServer
	jwks     *JWKSSource
	sessions SessionResolver

	// loginURL is where unauthenticated authorize requests are sent. The
	// original destination rides along in the destination parameter.
	// Empty means unauthenticated requests get a 401 instead.
	loginURL string
}

// NewHandler wires the HTTP surface to the server core.
func NewHandler(
	server *authserver.Server,
	resource *authserver.ResourceServer,
	jwks *JWKSSource,
	sessions SessionResolver,
	loginURL string,
) *Handler {
	return &Handler{
		server:   server,
		resource: resource,
		jwks:     jwks,
		sessions: sessions,
		loginURL: loginURL,
	}
}

// Routes returns a router with every endpoint registered.
func (h *Handler) Routes() http.Handler {
	r := chi.NewRouter()
	h.OAuthRoutes(r)
	h.WellKnownRoutes(r)
	return r
}

// OAuthRoutes registers the OAuth endpoints on the provided router.
func (h *Handler) OAuthRoutes(r chi.Router) {
	r.Get("/oauth/authorize", h.AuthorizeHandler)
	r.Post("/oauth/authorize/decision", h.DecisionHandler)
	r.Post("/oauth/token", h.TokenHandler)
	r.Post("/oauth/revoke", h.RevokeHandler)
	r.With(RequireBearer(h.resource)).Get("/oauth/debug", h.DebugHandler)
}

// WellKnownRoutes registers the discovery endpoints on the provided router.
func (h *Handler) WellKnownRoutes(r chi.Router) {
	r.Get("/.well-known/jwks.json", h.JWKSHandler)
	r.Get("/.well-known/oauth-authorization-server", h.DiscoveryHandler)
}

// writeJSON writes a JSON response body with the given status.
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json;charset=UTF-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logger.Warnw("failed to write response body", "error", err)
	}
}

// writeError renders a protocol error as the RFC 6749 JSON error body with
// the status the error code maps to.
func writeError(w http.ResponseWriter, err error) {
	oerr := oauth.AsError(err)
	if oerr.Code == oauth.ErrorCodeInvalidClient {
		w.Header().Set("WWW-Authenticate", `Basic realm="grantd"`)
	}
	writeJSON(w, oerr.Status(), map[string]string{
		"error":             string(oerr.Code),
		"error_description": oerr.Description,
	})
}
