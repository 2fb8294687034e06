// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"net/http"
	"strings"

	"github.com/grantd/grantd/pkg/oauth"
)

// serverMetadata is the RFC 8414 authorization server metadata document.
type serverMetadata struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	RevocationEndpoint                string   `json:"revocation_endpoint"`
	JWKSURI                           string   `json:"jwks_uri"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported"`
}

// DiscoveryHandler handles GET /.well-known/oauth-authorization-server.
// The advertised grant and response types reflect what is actually enabled.
func (h *Handler) DiscoveryHandler(w http.ResponseWriter, _ *http.Request) {
	issuer := strings.TrimSuffix(h.server.Issuer(), "/")

	responseTypes := make([]string, 0, 2)
	if h.server.GrantEnabled(oauth.GrantTypeAuthorizationCode) {
		responseTypes = append(responseTypes, "code")
	}
	if h.server.GrantEnabled(oauth.GrantTypeImplicit) {
		responseTypes = append(responseTypes, "token")
	}

	grantTypes := make([]string, 0, 4)
	for _, gt := range []oauth.GrantType{
		oauth.GrantTypeAuthorizationCode,
		oauth.GrantTypeClientCredentials,
		oauth.GrantTypeRefreshToken,
		oauth.GrantTypePassword,
	} {
		if h.server.GrantEnabled(gt) {
			grantTypes = append(grantTypes, string(gt))
		}
	}

	writeJSON(w, http.StatusOK, serverMetadata{
		Issuer:                        issuer,
		AuthorizationEndpoint:         issuer + "/oauth/authorize",
		TokenEndpoint:                 issuer + "/oauth/token",
		RevocationEndpoint:            issuer + "/oauth/revoke",
		JWKSURI:                       issuer + "/.well-known/jwks.json",
		ResponseTypesSupported:        responseTypes,
		GrantTypesSupported:           grantTypes,
		CodeChallengeMethodsSupported: []string{"S256"},
		TokenEndpointAuthMethodsSupported: []string{
			"client_secret_basic",
			"client_secret_post",
		},
	})
}
