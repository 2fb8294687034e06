// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"fmt"
	"html"
	"net/http"
	"net/url"

	"github.com/grantd/grantd/pkg/authserver"
	"github.com/grantd/grantd/pkg/logger"
	"github.com/grantd/grantd/pkg/oauth"
)

// AuthorizeHandler handles GET /oauth/authorize. Validation failures render
// directly because no trustworthy redirect target exists yet; once the
// request is validated the outcome is a redirect, a login bounce, or the
// consent form.
func (h *Handler) AuthorizeHandler(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	params := authserver.AuthorizeParams{
		ClientID:            query.Get("client_id"),
		ResponseType:        query.Get("response_type"),
		RedirectURI:         query.Get("redirect_uri"),
		State:               query.Get("state"),
		CodeChallenge:       query.Get("code_challenge"),
		CodeChallengeMethod: query.Get("code_challenge_method"),
		Scopes:              splitScope(query.Get("scope")),
	}

	request, err := h.server.ValidateAuthorizationRequest(r.Context(), params)
	if err != nil {
		logger.Debugw("authorization request rejected",
			"client_id", params.ClientID, "error", err)
		writeError(w, err)
		return
	}

	result, err := h.server.Authorize(r.Context(), request, h.sessions.UserID(r))
	if err != nil {
		writeError(w, err)
		return
	}
	h.renderAuthorizeResult(w, r, result)
}

// DecisionHandler handles POST /oauth/authorize/decision, the consent form
// submission. Anything other than an explicit approval is a denial.
func (h *Handler) DecisionHandler(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, oauth.InvalidRequest("malformed request body"))
		return
	}
	requestID := r.PostFormValue("request_id")
	if requestID == "" {
		writeError(w, oauth.InvalidRequest("request_id parameter is required"))
		return
	}
	approved := r.PostFormValue("decision") == "approve"

	result, err := h.server.FinishAuthorization(r.Context(), requestID, approved)
	if err != nil {
		writeError(w, err)
		return
	}
	h.renderAuthorizeResult(w, r, result)
}

func (h *Handler) renderAuthorizeResult(w http.ResponseWriter, r *http.Request, result *authserver.AuthorizeResult) {
	switch result.Outcome {
	case authserver.OutcomeRedirect:
		http.Redirect(w, r, result.RedirectURL, http.StatusFound)

	case authserver.OutcomeLoginRequired:
		if h.loginURL == "" {
			w.Header().Set("WWW-Authenticate", `Bearer realm="grantd"`)
			writeJSON(w, http.StatusUnauthorized, map[string]string{
				"error":             "login_required",
				"error_description": "authentication is required to authorize this request",
			})
			return
		}
		destination := url.Values{"destination": {r.URL.String()}}
		http.Redirect(w, r, h.loginURL+"?"+destination.Encode(), http.StatusFound)

	case authserver.OutcomeConsentRequired:
		h.renderConsentForm(w, result.Request)

	default:
		writeError(w, oauth.ServerError("unexpected authorization outcome"))
	}
}

// renderConsentForm renders the built-in consent page. Hosts that want their
// own UI can redirect here later; the form posts back to the decision
// endpoint with the pending request identifier.
func (h *Handler) renderConsentForm(w http.ResponseWriter, request *oauth.AuthorizationRequest) {
	w.Header().Set("Content-Type", "text/html;charset=UTF-8")
	w.WriteHeader(http.StatusOK)

	scopes := ""
	for _, scope := range request.Scopes {
		scopes += "<li>" + html.EscapeString(scope.Name) + "</li>"
	}

	fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head><title>Authorize %[1]s</title></head>
<body>
<h1>An application requests access to your account</h1>
<p>Client <strong>%[1]s</strong> is asking for the following permissions:</p>
<ul>%[2]s</ul>
<form method="post" action="/oauth/authorize/decision">
<input type="hidden" name="request_id" value="%[3]s">
<button type="submit" name="decision" value="approve">Allow</button>
<button type="submit" name="decision" value="deny">Deny</button>
</form>
</body>
</html>
`,
		html.EscapeString(request.ClientID),
		scopes,
		html.EscapeString(request.ID),
	)
}
