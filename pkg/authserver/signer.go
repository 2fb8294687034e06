// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/grantd/grantd/pkg/authserver/keys"
	"github.com/grantd/grantd/pkg/oauth"
)

// JWTSigner produces the signed JWT representation of access tokens using
// the configured key provider. The token identifier becomes the jti claim,
// which the resource server uses for revocation checks.
type JWTSigner struct {
	issuer   string
	provider keys.Provider
}

// NewJWTSigner creates a signer bound to the issuer identity.
func NewJWTSigner(issuer string, provider keys.Provider) *JWTSigner {
	return &JWTSigner{issuer: issuer, provider: provider}
}

// SignAccessToken implements oauth.TokenSigner.
func (s *JWTSigner) SignAccessToken(ctx context.Context, token *oauth.Token) (string, error) {
	key, err := s.provider.SigningKey(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to get signing key: %w", err)
	}

	method := jwt.GetSigningMethod(key.Algorithm)
	if method == nil {
		return "", fmt.Errorf("unsupported signing algorithm: %s", key.Algorithm)
	}

	subject := token.UserID
	if subject == "" {
		subject = token.ClientID
	}

	claims := jwt.MapClaims{
		"iss":       s.issuer,
		"sub":       subject,
		"aud":       token.ClientID,
		"client_id": token.ClientID,
		"iat":       token.IssuedAt.Unix(),
		"nbf":       token.IssuedAt.Unix(),
		"exp":       token.ExpiresAt.Unix(),
		"jti":       token.ID,
	}
	if len(token.Scopes) > 0 {
		claims["scope"] = strings.Join(token.Scopes, " ")
	}

	jwtToken := jwt.NewWithClaims(method, claims)
	jwtToken.Header["kid"] = key.KeyID

	signed, err := jwtToken.SignedString(key.Key)
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, nil
}

// AccessTokenClaims is the validated claim set of a verified access token.
type AccessTokenClaims struct {
	TokenID   string
	Subject   string
	ClientID  string
	Scopes    []string
	ExpiresAt time.Time
}

// VerifyAccessToken parses and verifies a signed access token against the
// provider's public keys and the issuer identity. Revocation is the caller's
// concern; this only proves the token is ours, intact, and unexpired.
func (s *JWTSigner) VerifyAccessToken(ctx context.Context, raw string) (*AccessTokenClaims, error) {
	publicKeys, err := s.provider.PublicKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get public keys: %w", err)
	}

	keyfunc := func(t *jwt.Token) (any, error) {
		kid, _ := t.Header["kid"].(string)
		for _, pk := range publicKeys {
			if pk.KeyID == kid {
				return pk.PublicKey, nil
			}
		}
		return nil, fmt.Errorf("unknown key id %q", kid)
	}

	parsed, err := jwt.Parse(raw, keyfunc,
		jwt.WithValidMethods([]string{"RS256", "RS384", "RS512", "ES256", "ES384", "ES512"}),
		jwt.WithIssuer(s.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("token verification failed: %w", err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return nil, fmt.Errorf("unexpected claims type %T", parsed.Claims)
	}

	jti, _ := claims["jti"].(string)
	if jti == "" {
		return nil, fmt.Errorf("token has no jti claim")
	}
	subject, _ := claims["sub"].(string)
	clientID, _ := claims["client_id"].(string)

	var scopes []string
	if scope, _ := claims["scope"].(string); scope != "" {
		scopes = strings.Fields(scope)
	}

	expiry, err := claims.GetExpirationTime()
	if err != nil || expiry == nil {
		return nil, fmt.Errorf("token has no usable exp claim")
	}

	return &AccessTokenClaims{
		TokenID:   jti,
		Subject:   subject,
		ClientID:  clientID,
		Scopes:    scopes,
		ExpiresAt: expiry.Time,
	}, nil
}

var _ oauth.TokenSigner = (*JWTSigner)(nil)
