// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package oauth holds the protocol core of the authorization server: the
// RFC 6749 error taxonomy, client and user models with their validation
// rules, scope resolution and finalization, and the canonical request and
// token types the grant machines operate on. It is transport-free; the HTTP
// surface lives in pkg/authserver.
package oauth
