// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"net/http"
	"strings"

	"github.com/grantd/grantd/pkg/authserver"
)

// RequireBearer verifies the bearer token on every request and attaches the
// resulting identity to the context. Requests without a valid token get a
// 401 with a WWW-Authenticate challenge and never reach the handler.
func RequireBearer(resource *authserver.ResourceServer) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				unauthorized(w, "missing bearer token")
				return
			}
			identity, err := resource.VerifyAccessToken(r.Context(), raw)
			if err != nil {
				unauthorized(w, "token is invalid, expired, or revoked")
				return
			}
			next.ServeHTTP(w, r.WithContext(authserver.WithIdentity(r.Context(), identity)))
		})
	}
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return ""
	}
	return strings.TrimSpace(header[len(prefix):])
}

func unauthorized(w http.ResponseWriter, description string) {
	w.Header().Set("WWW-Authenticate", `Bearer realm="grantd", error="invalid_token"`)
	writeJSON(w, http.StatusUnauthorized, map[string]string{
		"error":             "invalid_token",
		"error_description": description,
	})
}

// DebugHandler handles GET /oauth/debug: it echoes what the presented
// access token proves, for integration debugging.
func (h *Handler) DebugHandler(w http.ResponseWriter, r *http.Request) {
	identity, ok := authserver.IdentityFromContext(r.Context())
	if !ok {
		unauthorized(w, "no verified identity on request")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token_id":   identity.TokenID,
		"subject":    identity.Subject,
		"client_id":  identity.ClientID,
		"scopes":     identity.Scopes,
		"expires_at": identity.ExpiresAt,
	})
}
