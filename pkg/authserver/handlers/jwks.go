// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"context"
	"fmt"
	"net/http"

	"github.com/lestrrat-go/jwx/v2/jwa"
	"github.com/lestrrat-go/jwx/v2/jwk"

	"github.com/grantd/grantd/pkg/authserver/keys"
	"github.com/grantd/grantd/pkg/logger"
	"github.com/grantd/grantd/pkg/oauth"
)

// JWKSSource builds the JWK set the verification endpoint serves from the
// key provider's public keys.
type JWKSSource struct {
	provider keys.Provider
}

// NewJWKSSource wraps a key provider.
func NewJWKSSource(provider keys.Provider) *JWKSSource {
	return &JWKSSource{provider: provider}
}

// JWKS assembles the public key set.
func (s *JWKSSource) JWKS(ctx context.Context) (jwk.Set, error) {
	publicKeys, err := s.provider.PublicKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get public keys: %w", err)
	}

	set := jwk.NewSet()
	for _, pk := range publicKeys {
		key, err := jwk.FromRaw(pk.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("failed to build JWK for key %s: %w", pk.KeyID, err)
		}
		if err := key.Set(jwk.KeyIDKey, pk.KeyID); err != nil {
			return nil, fmt.Errorf("failed to set key ID: %w", err)
		}
		if err := key.Set(jwk.AlgorithmKey, jwa.KeyAlgorithmFrom(pk.Algorithm)); err != nil {
			return nil, fmt.Errorf("failed to set algorithm: %w", err)
		}
		if err := key.Set(jwk.KeyUsageKey, string(jwk.ForSignature)); err != nil {
			return nil, fmt.Errorf("failed to set key usage: %w", err)
		}
		if err := set.AddKey(key); err != nil {
			return nil, fmt.Errorf("failed to add key to set: %w", err)
		}
	}
	return set, nil
}

// JWKSHandler handles GET /.well-known/jwks.json.
func (h *Handler) JWKSHandler(w http.ResponseWriter, r *http.Request) {
	set, err := h.jwks.JWKS(r.Context())
	if err != nil {
		logger.Errorf("failed to assemble JWKS: %v", err)
		writeError(w, oauth.ServerError("failed to assemble key set"))
		return
	}
	writeJSON(w, http.StatusOK, set)
}
