// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package storage provides the storage interfaces and implementations for
// the grantd authorization server: token records, remembered client
// approvals, pending authorization requests, and the adapters over the
// external client and user stores.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/grantd/grantd/pkg/oauth"
)

// Sentinel errors shared by all backends.
var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrExpired indicates the record exists but is past its TTL.
	ErrExpired = errors.New("expired")

	// ErrAlreadyExists indicates a uniqueness violation on create.
	ErrAlreadyExists = errors.New("already exists")

	// ErrConsumed indicates a single-use token was already redeemed.
	ErrConsumed = errors.New("already consumed")
)

// DefaultPendingAuthorizationTTL bounds the consent round-trip lifetime.
const DefaultPendingAuthorizationTTL = 10 * time.Minute

// DefaultCleanupInterval is how often in-memory backends sweep expired
// entries.
const DefaultCleanupInterval = 5 * time.Minute

// TokenStore persists and revokes authorization codes, access tokens, and
// refresh tokens.
type TokenStore interface {
	// CreateToken persists exactly one new token record. Identifiers are
	// never reused; creating a duplicate identifier is ErrAlreadyExists.
	CreateToken(ctx context.Context, token *oauth.Token) error

	// GetToken loads a token record by identifier.
	GetToken(ctx context.Context, id string) (*oauth.Token, error)

	// ConsumeToken atomically loads a single-use token and marks it
	// consumed. Exactly one of any number of concurrent calls for the
	// same identifier succeeds; the rest receive ErrConsumed. Used for
	// authorization codes and refresh tokens.
	ConsumeToken(ctx context.Context, id string) (*oauth.Token, error)

	// RevokeToken marks the token revoked. Idempotent: revoking an
	// already revoked or unknown token is not an error.
	RevokeToken(ctx context.Context, id string) error

	// IsTokenRevoked reports whether the token is revoked. Unknown
	// tokens are treated as revoked (fail closed).
	IsTokenRevoked(ctx context.Context, id string) (bool, error)
}

// KnownClientsStore remembers which client+scope combinations a user has
// already approved, so repeat consent prompts can be suppressed.
type KnownClientsStore interface {
	// IsAuthorized reports whether every requested scope is already in
	// the remembered set for (user, client). Subset check, not equality.
	IsAuthorized(ctx context.Context, userID, clientID string, scopes []string) (bool, error)

	// RememberClient merges the scopes into the remembered set for
	// (user, client). The set grows monotonically; existing scopes are
	// never removed.
	RememberClient(ctx context.Context, userID, clientID string, scopes []string) error
}

// PendingAuthorizationStore round-trips a validated AuthorizationRequest
// while interactive consent runs. Entries are single-use and TTL-bounded.
type PendingAuthorizationStore interface {
	// StorePendingAuthorization stores the request under its ID.
	StorePendingAuthorization(ctx context.Context, request *oauth.AuthorizationRequest) error

	// ConsumePendingAuthorization atomically loads and removes the
	// request. A second consume for the same ID is ErrNotFound.
	ConsumePendingAuthorization(ctx context.Context, id string) (*oauth.AuthorizationRequest, error)
}

// ClientRegistry is the adapter over the external entity store that holds
// client records. Registration exists for configuration loading and tests;
// the protocol core only reads.
type ClientRegistry interface {
	oauth.ClientStore

	// RegisterClient adds or replaces a client record.
	RegisterClient(ctx context.Context, client *oauth.Client) error
}

// UserRegistry is the adapter over the external account directory.
type UserRegistry interface {
	oauth.UserDirectory

	// RegisterUser adds or replaces a user record.
	RegisterUser(ctx context.Context, user *oauth.User) error

	// RegisterRole adds or replaces a role-backed scope.
	RegisterRole(ctx context.Context, role oauth.Scope) error
}

// Storage combines every store the authorization server needs. Backends
// implement the whole bundle so token persistence and code consumption live
// in a single transaction domain.
type Storage interface {
	TokenStore
	KnownClientsStore
	PendingAuthorizationStore
	ClientRegistry
	UserRegistry
	oauth.RoleSource

	// Health reports backend availability.
	Health(ctx context.Context) error

	// Close releases resources held by the backend.
	Close() error
}
