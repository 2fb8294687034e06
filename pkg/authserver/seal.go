// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package authserver

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"strings"

	"github.com/grantd/grantd/pkg/oauth"
)

// sealer binds the opaque wire form of authorization codes and refresh
// tokens to the server secret. The wire format is "<id>.<hmac>"; a token
// whose tag does not verify is rejected before any storage lookup, so
// guessed or tampered values never touch the backend.
type sealer struct {
	secret []byte
}

func newSealer(secret []byte) sealer {
	return sealer{secret: secret}
}

func (s sealer) tag(id string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(id))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// seal produces the wire form of a stored token identifier.
func (s sealer) seal(id string) string {
	return id + "." + s.tag(id)
}

// unseal recovers the stored identifier from the wire form. Malformed or
// forged values come back as invalid_grant.
func (s sealer) unseal(value string) (string, error) {
	id, tag, ok := strings.Cut(value, ".")
	if !ok || id == "" {
		return "", oauth.InvalidGrant("malformed token")
	}
	if !hmac.Equal([]byte(tag), []byte(s.tag(id))) {
		return "", oauth.InvalidGrant("malformed token")
	}
	return id, nil
}
