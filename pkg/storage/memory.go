// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/grantd/grantd/pkg/logger"
	"github.com/grantd/grantd/pkg/oauth"
)

// timedEntry wraps a value with its expiry for TTL tracking.
type timedEntry[T any] struct {
	value     T
	createdAt time.Time
	expiresAt time.Time
}

// MemoryStorage implements Storage with in-memory maps. It is thread-safe
// and suitable for development, testing, and single-instance deployments;
// use RedisStorage for anything shared.
//
// Single-use semantics (authorization codes, refresh tokens, pending
// authorizations) are enforced under the package mutex, so concurrent
// redemptions of the same value serialize and exactly one succeeds.
type MemoryStorage struct {
	mu sync.RWMutex

	// tokens maps token ID -> record for codes, access, and refresh
	// tokens. The consumed flag lives on the stored record.
	tokens map[string]*timedEntry[*oauth.Token]

	// consumed tracks single-use tokens that have been redeemed, kept
	// past deletion of the record so replays stay detectable until the
	// original expiry passes.
	consumed map[string]*timedEntry[bool]

	// knownClients maps "user\x00client" -> approved scope identifiers.
	knownClients map[string][]string

	// pendingAuthorizations tracks authorization requests awaiting the
	// consent round-trip.
	pendingAuthorizations map[string]*timedEntry[*oauth.AuthorizationRequest]

	// clients, users, roles back the external-store adapters.
	clients map[string]*oauth.Client
	users   map[string]*oauth.User
	roles   map[string]oauth.Scope

	cleanupInterval time.Duration

	stopCleanup chan struct{}
	cleanupDone chan struct{}
}

// MemoryStorageOption configures a MemoryStorage instance.
type MemoryStorageOption func(*MemoryStorage)

// WithCleanupInterval sets a custom cleanup interval.
func WithCleanupInterval(interval time.Duration) MemoryStorageOption {
	return func(s *MemoryStorage) {
		s.cleanupInterval = interval
	}
}

// NewMemoryStorage creates a MemoryStorage with initialized maps and starts
// the background cleanup goroutine.
func NewMemoryStorage(opts ...MemoryStorageOption) *MemoryStorage {
	s := &MemoryStorage{
		tokens:                make(map[string]*timedEntry[*oauth.Token]),
		consumed:              make(map[string]*timedEntry[bool]),
		knownClients:          make(map[string][]string),
		pendingAuthorizations: make(map[string]*timedEntry[*oauth.AuthorizationRequest]),
		clients:               make(map[string]*oauth.Client),
		users:                 make(map[string]*oauth.User),
		roles:                 make(map[string]oauth.Scope),
		cleanupInterval:       DefaultCleanupInterval,
		stopCleanup:           make(chan struct{}),
		cleanupDone:           make(chan struct{}),
	}

	for _, opt := range opts {
		opt(s)
	}

	go s.cleanupLoop()

	return s
}

// Health is a no-op for in-memory storage since it is always available.
func (*MemoryStorage) Health(_ context.Context) error {
	return nil
}

// Close stops the background cleanup goroutine and waits for it to finish.
func (s *MemoryStorage) Close() error {
	close(s.stopCleanup)
	<-s.cleanupDone
	return nil
}

func (s *MemoryStorage) cleanupLoop() {
	defer close(s.cleanupDone)

	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopCleanup:
			return
		case <-ticker.C:
			s.cleanupExpired()
		}
	}
}

// cleanupExpired removes expired entries. Collect under read lock, delete
// under write lock, to keep write lock hold time short.
func (s *MemoryStorage) cleanupExpired() {
	now := time.Now()

	s.mu.RLock()
	var expiredTokens []string
	for id, entry := range s.tokens {
		if now.After(entry.expiresAt) {
			expiredTokens = append(expiredTokens, id)
		}
	}
	var expiredConsumed []string
	for id, entry := range s.consumed {
		if now.After(entry.expiresAt) {
			expiredConsumed = append(expiredConsumed, id)
		}
	}
	var expiredPending []string
	for id, entry := range s.pendingAuthorizations {
		if now.After(entry.expiresAt) {
			expiredPending = append(expiredPending, id)
		}
	}
	s.mu.RUnlock()

	if len(expiredTokens) == 0 && len(expiredConsumed) == 0 && len(expiredPending) == 0 {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range expiredTokens {
		delete(s.tokens, id)
	}
	for _, id := range expiredConsumed {
		delete(s.consumed, id)
	}
	for _, id := range expiredPending {
		delete(s.pendingAuthorizations, id)
	}
}

// copyToken makes a defensive copy to prevent aliasing issues.
func copyToken(t *oauth.Token) *oauth.Token {
	if t == nil {
		return nil
	}
	clone := *t
	clone.Scopes = slices.Clone(t.Scopes)
	return &clone
}

// -----------------------
// TokenStore
// -----------------------

// CreateToken persists a new token record.
func (s *MemoryStorage) CreateToken(_ context.Context, token *oauth.Token) error {
	if token == nil || token.ID == "" {
		return fmt.Errorf("%w: token must have an identifier", ErrAlreadyExists)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tokens[token.ID]; exists {
		return fmt.Errorf("%w: token %s", ErrAlreadyExists, token.ID)
	}

	s.tokens[token.ID] = &timedEntry[*oauth.Token]{
		value:     copyToken(token),
		createdAt: time.Now(),
		expiresAt: token.ExpiresAt,
	}
	return nil
}

// GetToken loads a token record by identifier.
func (s *MemoryStorage) GetToken(_ context.Context, id string) (*oauth.Token, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.tokens[id]
	if !ok {
		logger.Debugw("token not found")
		return nil, fmt.Errorf("%w: token", ErrNotFound)
	}
	return copyToken(entry.value), nil
}

// ConsumeToken atomically loads a single-use token and marks it consumed.
// The check and the mark happen under one write lock, so of any number of
// concurrent redemptions exactly one succeeds.
func (s *MemoryStorage) ConsumeToken(_ context.Context, id string) (*oauth.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.consumed[id] != nil {
		logger.Warnw("replay detected: token already consumed", "token_id", id)
		return nil, fmt.Errorf("%w: token %s", ErrConsumed, id)
	}

	entry, ok := s.tokens[id]
	if !ok {
		return nil, fmt.Errorf("%w: token", ErrNotFound)
	}

	s.consumed[id] = &timedEntry[bool]{
		value:     true,
		createdAt: time.Now(),
		expiresAt: entry.expiresAt,
	}
	return copyToken(entry.value), nil
}

// RevokeToken marks the token revoked. Idempotent.
func (s *MemoryStorage) RevokeToken(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.tokens[id]
	if !ok {
		// Unknown tokens are already as revoked as they can get.
		return nil
	}
	entry.value.Revoked = true
	return nil
}

// IsTokenRevoked reports whether the token is revoked, treating "not found"
// as revoked.
func (s *MemoryStorage) IsTokenRevoked(_ context.Context, id string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entry, ok := s.tokens[id]
	if !ok {
		return true, nil
	}
	return entry.value.Revoked, nil
}

// -----------------------
// KnownClientsStore
// -----------------------

// knownClientKey builds a collision-free composite key.
func knownClientKey(userID, clientID string) string {
	return userID + "\x00" + clientID
}

// IsAuthorized reports whether every requested scope is already remembered
// for the (user, client) pair.
func (s *MemoryStorage) IsAuthorized(_ context.Context, userID, clientID string, scopes []string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	remembered, ok := s.knownClients[knownClientKey(userID, clientID)]
	if !ok {
		return false, nil
	}
	for _, scope := range scopes {
		if !slices.Contains(remembered, scope) {
			return false, nil
		}
	}
	return true, nil
}

// RememberClient unions the scopes into the remembered set. Existing scopes
// are never removed.
func (s *MemoryStorage) RememberClient(_ context.Context, userID, clientID string, scopes []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := knownClientKey(userID, clientID)
	remembered := s.knownClients[key]
	for _, scope := range scopes {
		if !slices.Contains(remembered, scope) {
			remembered = append(remembered, scope)
		}
	}
	s.knownClients[key] = remembered
	return nil
}

// -----------------------
// PendingAuthorizationStore
// -----------------------

// copyAuthorizationRequest makes a defensive copy.
func copyAuthorizationRequest(r *oauth.AuthorizationRequest) *oauth.AuthorizationRequest {
	if r == nil {
		return nil
	}
	clone := *r
	clone.Scopes = slices.Clone(r.Scopes)
	return &clone
}

// StorePendingAuthorization stores a consent round-trip request.
func (s *MemoryStorage) StorePendingAuthorization(_ context.Context, request *oauth.AuthorizationRequest) error {
	if request == nil || request.ID == "" {
		return fmt.Errorf("%w: pending authorization must have an identifier", ErrAlreadyExists)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	s.pendingAuthorizations[request.ID] = &timedEntry[*oauth.AuthorizationRequest]{
		value:     copyAuthorizationRequest(request),
		createdAt: now,
		expiresAt: now.Add(DefaultPendingAuthorizationTTL),
	}
	return nil
}

// ConsumePendingAuthorization atomically loads and removes the request.
func (s *MemoryStorage) ConsumePendingAuthorization(_ context.Context, id string) (*oauth.AuthorizationRequest, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.pendingAuthorizations[id]
	if !ok {
		logger.Debugw("pending authorization not found")
		return nil, fmt.Errorf("%w: pending authorization", ErrNotFound)
	}
	delete(s.pendingAuthorizations, id)

	if time.Now().After(entry.expiresAt) {
		return nil, ErrExpired
	}
	return copyAuthorizationRequest(entry.value), nil
}

// -----------------------
// ClientRegistry
// -----------------------

// RegisterClient adds or replaces a client record.
func (s *MemoryStorage) RegisterClient(_ context.Context, client *oauth.Client) error {
	if client == nil || client.ID == "" {
		return fmt.Errorf("%w: client must have an identifier", ErrAlreadyExists)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *client
	clone.Scopes = slices.Clone(client.Scopes)
	s.clients[client.ID] = &clone
	return nil
}

// GetClient loads a client by its public identifier.
func (s *MemoryStorage) GetClient(_ context.Context, id string) (*oauth.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	client, ok := s.clients[id]
	if !ok {
		logger.Debugw("client not found", "client_id", id)
		return nil, fmt.Errorf("%w: client", ErrNotFound)
	}
	clone := *client
	clone.Scopes = slices.Clone(client.Scopes)
	return &clone, nil
}

// -----------------------
// UserRegistry
// -----------------------

// RegisterUser adds or replaces a user record.
func (s *MemoryStorage) RegisterUser(_ context.Context, user *oauth.User) error {
	if user == nil || user.ID == "" {
		return fmt.Errorf("%w: user must have an identifier", ErrAlreadyExists)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	clone := *user
	clone.Roles = slices.Clone(user.Roles)
	s.users[user.ID] = &clone
	return nil
}

// GetUser loads a user by identifier.
func (s *MemoryStorage) GetUser(_ context.Context, id string) (*oauth.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return nil, fmt.Errorf("%w: user", ErrNotFound)
	}
	clone := *user
	clone.Roles = slices.Clone(user.Roles)
	return &clone, nil
}

// CheckCredentials validates a username/password pair. A nil user with a nil
// error means the credentials did not match.
func (s *MemoryStorage) CheckCredentials(_ context.Context, username, password string) (*oauth.User, error) {
	s.mu.RLock()
	var match *oauth.User
	for _, user := range s.users {
		if strings.EqualFold(user.Username, username) {
			match = user
			break
		}
	}
	s.mu.RUnlock()

	if match == nil || match.Blocked {
		// Burn comparable time for unknown users so the response does
		// not reveal whether the username exists.
		_ = bcrypt.CompareHashAndPassword(
			[]byte("$2a$10$7EqJtq98hPqEX7fNZaFWoOhi5B4yHQ0sR6kFI/P3dGq9fJXyWNDGi"), []byte(password))
		return nil, nil
	}
	if err := bcrypt.CompareHashAndPassword([]byte(match.PasswordHash), []byte(password)); err != nil {
		return nil, nil
	}
	clone := *match
	clone.Roles = slices.Clone(match.Roles)
	return &clone, nil
}

// RegisterRole adds or replaces a role-backed scope.
func (s *MemoryStorage) RegisterRole(_ context.Context, role oauth.Scope) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	role.Claim = false
	s.roles[role.ID] = role
	return nil
}

// GetRole resolves a role-backed scope by identifier.
func (s *MemoryStorage) GetRole(_ context.Context, id string) (oauth.Scope, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	role, ok := s.roles[id]
	return role, ok, nil
}

// -----------------------
// Metrics/Stats (for testing and monitoring)
// -----------------------

// Stats contains statistics about the storage contents.
type Stats struct {
	Tokens                int
	Consumed              int
	KnownClients          int
	PendingAuthorizations int
	Clients               int
	Users                 int
	Roles                 int
}

// Stats returns current statistics about storage contents.
func (s *MemoryStorage) Stats() Stats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return Stats{
		Tokens:                len(s.tokens),
		Consumed:              len(s.consumed),
		KnownClients:          len(s.knownClients),
		PendingAuthorizations: len(s.pendingAuthorizations),
		Clients:               len(s.clients),
		Users:                 len(s.users),
		Roles:                 len(s.roles),
	}
}

// Compile-time interface compliance check.
var _ Storage = (*MemoryStorage)(nil)
