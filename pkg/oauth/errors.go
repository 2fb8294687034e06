// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode identifies one of the OAuth 2.0 error responses defined in
// RFC 6749 Section 5.2. The set is closed; everything the server can signal
// maps onto one of these codes before it reaches the HTTP boundary.
type ErrorCode string

// The error taxonomy. Layers below the authorization server never write HTTP
// responses; they return one of these and the boundary performs the mapping.
const (
	ErrorCodeInvalidRequest     ErrorCode = "invalid_request"
	ErrorCodeInvalidClient      ErrorCode = "invalid_client"
	ErrorCodeInvalidGrant       ErrorCode = "invalid_grant"
	ErrorCodeInvalidScope       ErrorCode = "invalid_scope"
	ErrorCodeUnauthorizedClient ErrorCode = "unauthorized_client"
	ErrorCodeAccessDenied       ErrorCode = "access_denied"
	ErrorCodeServerError        ErrorCode = "server_error"
)

// statusForCode is the error to HTTP status mapping. Interoperability depends
// on these exact pairs.
var statusForCode = map[ErrorCode]int{
	ErrorCodeInvalidRequest:     http.StatusBadRequest,
	ErrorCodeInvalidClient:      http.StatusUnauthorized,
	ErrorCodeInvalidGrant:       http.StatusBadRequest,
	ErrorCodeInvalidScope:       http.StatusBadRequest,
	ErrorCodeUnauthorizedClient: http.StatusBadRequest,
	ErrorCodeAccessDenied:       http.StatusForbidden,
	ErrorCodeServerError:        http.StatusInternalServerError,
}

// Error is the protocol-level error type. It carries the OAuth error code,
// a client-facing description, and an optional wrapped cause that is logged
// but never serialized.
type Error struct {
	Code        ErrorCode
	Description string
	cause       error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Description == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Description)
}

// Unwrap returns the wrapped cause, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// Status returns the HTTP status code this error maps to.
func (e *Error) Status() int {
	if status, ok := statusForCode[e.Code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// WithCause attaches an underlying error for logging and errors.Is checks.
func (e *Error) WithCause(err error) *Error {
	clone := *e
	clone.cause = err
	return &clone
}

// InvalidRequest signals a malformed or missing required parameter.
func InvalidRequest(description string) *Error {
	return &Error{Code: ErrorCodeInvalidRequest, Description: description}
}

// InvalidClient signals an unknown client or a failed secret check. The
// description is deliberately generic so client existence is not leaked.
func InvalidClient() *Error {
	return &Error{Code: ErrorCodeInvalidClient, Description: "Client authentication failed"}
}

// InvalidGrant signals a bad, expired, or reused code or refresh token, bad
// resource-owner credentials, or a missing/unknown grant_type.
func InvalidGrant(description string) *Error {
	return &Error{Code: ErrorCodeInvalidGrant, Description: description}
}

// InvalidScope signals a requested scope that could not be resolved.
func InvalidScope(scope string) *Error {
	return &Error{
		Code:        ErrorCodeInvalidScope,
		Description: fmt.Sprintf("The requested scope is invalid or unknown: %q", scope),
	}
}

// UnauthorizedClient signals a client that is not permitted to use the
// requested grant type.
func UnauthorizedClient(description string) *Error {
	return &Error{Code: ErrorCodeUnauthorizedClient, Description: description}
}

// AccessDenied signals that the resource owner refused the authorization.
// It only ever travels on the authorize redirect, never as a token response.
func AccessDenied() *Error {
	return &Error{Code: ErrorCodeAccessDenied, Description: "The resource owner denied the request"}
}

// ServerError signals misconfiguration or an internal failure: missing
// signing keys, a client-credentials client with no default user, or a
// persistence failure after signing.
func ServerError(description string) *Error {
	return &Error{Code: ErrorCodeServerError, Description: description}
}

// AsError converts any error into a *Error. Non-protocol errors become
// server_error so repository failures are never silently swallowed and never
// leak internals to the caller.
func AsError(err error) *Error {
	var oauthErr *Error
	if errors.As(err, &oauthErr) {
		return oauthErr
	}
	return ServerError("An unexpected error occurred").WithCause(err)
}
