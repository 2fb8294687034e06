// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"net/http"
	"strings"

	"github.com/grantd/grantd/pkg/logger"
	"github.com/grantd/grantd/pkg/oauth"
)

// TokenHandler handles POST /oauth/token. It parses the form and client
// credentials into the canonical token request and hands it to the server;
// every error comes back as the standard JSON error body.
func (h *Handler) TokenHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, oauth.InvalidRequest("malformed request body"))
		return
	}

	grantType, err := oauth.ParseGrantType(r.PostFormValue("grant_type"))
	if err != nil {
		writeError(w, err)
		return
	}

	req := &oauth.TokenRequest{
		GrantType:    grantType,
		Code:         r.PostFormValue("code"),
		CodeVerifier: r.PostFormValue("code_verifier"),
		RedirectURI:  r.PostFormValue("redirect_uri"),
		RefreshToken: r.PostFormValue("refresh_token"),
		Username:     r.PostFormValue("username"),
		Password:     r.PostFormValue("password"),
		Scopes:       splitScope(r.PostFormValue("scope")),
	}
	fillClientCredentials(r, req)

	response, err := h.server.IssueToken(r.Context(), req)
	if err != nil {
		logger.Debugw("token request failed",
			"grant_type", grantType, "client_id", req.ClientID, "error", err)
		writeError(w, err)
		return
	}

	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	writeJSON(w, http.StatusOK, response)
}

// RevokeHandler handles POST /oauth/revoke per RFC 7009. The client must
// authenticate; revocation of an unknown token still succeeds so callers
// cannot probe for valid tokens.
func (h *Handler) RevokeHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, oauth.InvalidRequest("malformed request body"))
		return
	}

	req := &oauth.TokenRequest{}
	fillClientCredentials(r, req)
	if req.ClientID == "" || !h.server.ValidateClientCredentials(r.Context(), req) {
		writeError(w, oauth.InvalidClient())
		return
	}

	token := r.PostFormValue("token")
	if token == "" {
		writeError(w, oauth.InvalidRequest("token parameter is required"))
		return
	}
	if err := h.server.RevokeToken(r.Context(), token); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

// fillClientCredentials extracts client authentication from HTTP Basic auth
// or the form body. Basic auth wins when both are present.
func fillClientCredentials(r *http.Request, req *oauth.TokenRequest) {
	if id, secret, ok := r.BasicAuth(); ok {
		req.ClientID = id
		req.ClientSecret = secret
		req.SecretPresented = true
		return
	}
	req.ClientID = r.PostFormValue("client_id")
	req.ClientSecret = r.PostFormValue("client_secret")
	_, req.SecretPresented = r.PostForm["client_secret"]
}

func splitScope(scope string) []string {
	if scope == "" {
		return nil
	}
	return strings.Fields(scope)
}
