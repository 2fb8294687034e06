// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"github.com/grantd/grantd/pkg/oauth"
)

// Redis key prefixes. Every key carries the grantd namespace so the backend
// can share an instance with other applications.
const (
	redisTokenPrefix    = "grantd:token:"
	redisConsumedPrefix = "grantd:consumed:"
	redisRevokedPrefix  = "grantd:revoked:"
	redisKnownPrefix    = "grantd:known:"
	redisPendingPrefix  = "grantd:pending:"
	redisClientPrefix   = "grantd:client:"
	redisUserPrefix     = "grantd:user:"
	redisUsernamePrefix = "grantd:username:"
	redisRolePrefix     = "grantd:role:"
)

// consumeScript atomically checks the consumed marker, loads the token, and
// sets the marker with the token's remaining TTL. Running it as one script
// guarantees that of any number of concurrent redemptions exactly one sees
// the token.
var consumeScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[2]) == 1 then
  return redis.error_reply('CONSUMED')
end
local value = redis.call('GET', KEYS[1])
if not value then
  return redis.error_reply('NOTFOUND')
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl > 0 then
  redis.call('SET', KEYS[2], '1', 'PX', ttl)
else
  redis.call('SET', KEYS[2], '1')
end
return value
`)

// RedisStorage implements Storage on a Redis backend so multiple grantd
// instances can share token state. TTLs ride on the Redis keys themselves,
// so there is no cleanup goroutine.
type RedisStorage struct {
	client *redis.Client
}

// NewRedisStorage creates a RedisStorage over the given client. The caller
// keeps ownership of the client's lifecycle until Close is called.
func NewRedisStorage(client *redis.Client) *RedisStorage {
	return &RedisStorage{client: client}
}

// Health pings the backend.
func (s *RedisStorage) Health(ctx context.Context) error {
	if err := s.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// Close releases the underlying client.
func (s *RedisStorage) Close() error {
	return s.client.Close()
}

func tokenTTL(token *oauth.Token) time.Duration {
	ttl := time.Until(token.ExpiresAt)
	if ttl <= 0 {
		// Keep already-expired records around briefly so replay checks
		// still observe them.
		ttl = time.Minute
	}
	return ttl
}

// -----------------------
// TokenStore
// -----------------------

// CreateToken persists a new token record.
func (s *RedisStorage) CreateToken(ctx context.Context, token *oauth.Token) error {
	if token == nil || token.ID == "" {
		return fmt.Errorf("%w: token must have an identifier", ErrAlreadyExists)
	}

	payload, err := json.Marshal(token)
	if err != nil {
		return fmt.Errorf("marshal token: %w", err)
	}

	ok, err := s.client.SetNX(ctx, redisTokenPrefix+token.ID, payload, tokenTTL(token)).Result()
	if err != nil {
		return fmt.Errorf("store token: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: token %s", ErrAlreadyExists, token.ID)
	}
	return nil
}

// GetToken loads a token record by identifier.
func (s *RedisStorage) GetToken(ctx context.Context, id string) (*oauth.Token, error) {
	payload, err := s.client.Get(ctx, redisTokenPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: token", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load token: %w", err)
	}

	var token oauth.Token
	if err := json.Unmarshal(payload, &token); err != nil {
		return nil, fmt.Errorf("unmarshal token: %w", err)
	}

	// The revocation marker is authoritative over the serialized flag.
	revoked, err := s.client.Exists(ctx, redisRevokedPrefix+id).Result()
	if err != nil {
		return nil, fmt.Errorf("load revocation marker: %w", err)
	}
	if revoked > 0 {
		token.Revoked = true
	}
	return &token, nil
}

// ConsumeToken atomically loads a single-use token and marks it consumed
// via a server-side script.
func (s *RedisStorage) ConsumeToken(ctx context.Context, id string) (*oauth.Token, error) {
	result, err := consumeScript.Run(ctx, s.client,
		[]string{redisTokenPrefix + id, redisConsumedPrefix + id}).Result()
	if err != nil {
		switch {
		case strings.Contains(err.Error(), "CONSUMED"):
			return nil, fmt.Errorf("%w: token %s", ErrConsumed, id)
		case strings.Contains(err.Error(), "NOTFOUND"):
			return nil, fmt.Errorf("%w: token", ErrNotFound)
		default:
			return nil, fmt.Errorf("consume token: %w", err)
		}
	}

	payload, ok := result.(string)
	if !ok {
		return nil, fmt.Errorf("consume token: unexpected script result %T", result)
	}

	var token oauth.Token
	if err := json.Unmarshal([]byte(payload), &token); err != nil {
		return nil, fmt.Errorf("unmarshal token: %w", err)
	}

	revoked, err := s.client.Exists(ctx, redisRevokedPrefix+id).Result()
	if err != nil {
		return nil, fmt.Errorf("load revocation marker: %w", err)
	}
	if revoked > 0 {
		token.Revoked = true
	}
	return &token, nil
}

// RevokeToken sets the revocation marker. Idempotent; the marker inherits
// the token's remaining TTL when the record still exists.
func (s *RedisStorage) RevokeToken(ctx context.Context, id string) error {
	ttl, err := s.client.PTTL(ctx, redisTokenPrefix+id).Result()
	if err != nil {
		return fmt.Errorf("load token ttl: %w", err)
	}
	if ttl <= 0 {
		// Unknown or expired tokens are already treated as revoked.
		return nil
	}
	if err := s.client.Set(ctx, redisRevokedPrefix+id, "1", ttl).Err(); err != nil {
		return fmt.Errorf("store revocation marker: %w", err)
	}
	return nil
}

// IsTokenRevoked reports whether the token is revoked, treating "not found"
// as revoked.
func (s *RedisStorage) IsTokenRevoked(ctx context.Context, id string) (bool, error) {
	exists, err := s.client.Exists(ctx, redisTokenPrefix+id).Result()
	if err != nil {
		return true, fmt.Errorf("load token: %w", err)
	}
	if exists == 0 {
		return true, nil
	}
	revoked, err := s.client.Exists(ctx, redisRevokedPrefix+id).Result()
	if err != nil {
		return true, fmt.Errorf("load revocation marker: %w", err)
	}
	return revoked > 0, nil
}

// -----------------------
// KnownClientsStore
// -----------------------

func redisKnownKey(userID, clientID string) string {
	return redisKnownPrefix + userID + ":" + clientID
}

// IsAuthorized reports whether every requested scope is already remembered
// for the (user, client) pair.
func (s *RedisStorage) IsAuthorized(ctx context.Context, userID, clientID string, scopes []string) (bool, error) {
	if len(scopes) == 0 {
		exists, err := s.client.Exists(ctx, redisKnownKey(userID, clientID)).Result()
		if err != nil {
			return false, fmt.Errorf("load known client: %w", err)
		}
		return exists > 0, nil
	}

	members := make([]any, len(scopes))
	for i, scope := range scopes {
		members[i] = scope
	}
	results, err := s.client.SMIsMember(ctx, redisKnownKey(userID, clientID), members...).Result()
	if err != nil {
		return false, fmt.Errorf("load known client: %w", err)
	}
	for _, present := range results {
		if !present {
			return false, nil
		}
	}
	return true, nil
}

// RememberClient unions the scopes into the remembered set.
func (s *RedisStorage) RememberClient(ctx context.Context, userID, clientID string, scopes []string) error {
	if len(scopes) == 0 {
		return nil
	}
	members := make([]any, len(scopes))
	for i, scope := range scopes {
		members[i] = scope
	}
	if err := s.client.SAdd(ctx, redisKnownKey(userID, clientID), members...).Err(); err != nil {
		return fmt.Errorf("store known client: %w", err)
	}
	return nil
}

// -----------------------
// PendingAuthorizationStore
// -----------------------

// StorePendingAuthorization stores a consent round-trip request with a TTL.
func (s *RedisStorage) StorePendingAuthorization(ctx context.Context, request *oauth.AuthorizationRequest) error {
	if request == nil || request.ID == "" {
		return fmt.Errorf("%w: pending authorization must have an identifier", ErrAlreadyExists)
	}

	payload, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("marshal pending authorization: %w", err)
	}
	if err := s.client.Set(ctx, redisPendingPrefix+request.ID, payload,
		DefaultPendingAuthorizationTTL).Err(); err != nil {
		return fmt.Errorf("store pending authorization: %w", err)
	}
	return nil
}

// ConsumePendingAuthorization atomically loads and removes the request via
// GETDEL, so a second consume loses.
func (s *RedisStorage) ConsumePendingAuthorization(ctx context.Context, id string) (*oauth.AuthorizationRequest, error) {
	payload, err := s.client.GetDel(ctx, redisPendingPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: pending authorization", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load pending authorization: %w", err)
	}

	var request oauth.AuthorizationRequest
	if err := json.Unmarshal(payload, &request); err != nil {
		return nil, fmt.Errorf("unmarshal pending authorization: %w", err)
	}
	return &request, nil
}

// -----------------------
// ClientRegistry
// -----------------------

// RegisterClient adds or replaces a client record.
func (s *RedisStorage) RegisterClient(ctx context.Context, client *oauth.Client) error {
	if client == nil || client.ID == "" {
		return fmt.Errorf("%w: client must have an identifier", ErrAlreadyExists)
	}
	payload, err := json.Marshal(client)
	if err != nil {
		return fmt.Errorf("marshal client: %w", err)
	}
	if err := s.client.Set(ctx, redisClientPrefix+client.ID, payload, 0).Err(); err != nil {
		return fmt.Errorf("store client: %w", err)
	}
	return nil
}

// GetClient loads a client by its public identifier.
func (s *RedisStorage) GetClient(ctx context.Context, id string) (*oauth.Client, error) {
	payload, err := s.client.Get(ctx, redisClientPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: client", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load client: %w", err)
	}
	var client oauth.Client
	if err := json.Unmarshal(payload, &client); err != nil {
		return nil, fmt.Errorf("unmarshal client: %w", err)
	}
	return &client, nil
}

// -----------------------
// UserRegistry
// -----------------------

// RegisterUser adds or replaces a user record and its username index.
func (s *RedisStorage) RegisterUser(ctx context.Context, user *oauth.User) error {
	if user == nil || user.ID == "" {
		return fmt.Errorf("%w: user must have an identifier", ErrAlreadyExists)
	}
	payload, err := json.Marshal(user)
	if err != nil {
		return fmt.Errorf("marshal user: %w", err)
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, redisUserPrefix+user.ID, payload, 0)
	pipe.Set(ctx, redisUsernamePrefix+strings.ToLower(user.Username), user.ID, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("store user: %w", err)
	}
	return nil
}

// GetUser loads a user by identifier.
func (s *RedisStorage) GetUser(ctx context.Context, id string) (*oauth.User, error) {
	payload, err := s.client.Get(ctx, redisUserPrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: user", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	var user oauth.User
	if err := json.Unmarshal(payload, &user); err != nil {
		return nil, fmt.Errorf("unmarshal user: %w", err)
	}
	return &user, nil
}

// CheckCredentials validates a username/password pair through the username
// index. A nil user with a nil error means the credentials did not match.
func (s *RedisStorage) CheckCredentials(ctx context.Context, username, password string) (*oauth.User, error) {
	id, err := s.client.Get(ctx, redisUsernamePrefix+strings.ToLower(username)).Result()
	if errors.Is(err, redis.Nil) {
		_ = bcrypt.CompareHashAndPassword(
			[]byte("$2a$10$7EqJtq98hPqEX7fNZaFWoOhi5B4yHQ0sR6kFI/P3dGq9fJXyWNDGi"), []byte(password))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load username index: %w", err)
	}

	user, err := s.GetUser(ctx, id)
	if err != nil {
		return nil, err
	}
	if user.Blocked {
		return nil, nil
	}
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return nil, nil
	}
	return user, nil
}

// RegisterRole adds or replaces a role-backed scope.
func (s *RedisStorage) RegisterRole(ctx context.Context, role oauth.Scope) error {
	role.Claim = false
	payload, err := json.Marshal(role)
	if err != nil {
		return fmt.Errorf("marshal role: %w", err)
	}
	if err := s.client.Set(ctx, redisRolePrefix+role.ID, payload, 0).Err(); err != nil {
		return fmt.Errorf("store role: %w", err)
	}
	return nil
}

// GetRole resolves a role-backed scope by identifier.
func (s *RedisStorage) GetRole(ctx context.Context, id string) (oauth.Scope, bool, error) {
	payload, err := s.client.Get(ctx, redisRolePrefix+id).Bytes()
	if errors.Is(err, redis.Nil) {
		return oauth.Scope{}, false, nil
	}
	if err != nil {
		return oauth.Scope{}, false, fmt.Errorf("load role: %w", err)
	}
	var role oauth.Scope
	if err := json.Unmarshal(payload, &role); err != nil {
		return oauth.Scope{}, false, fmt.Errorf("unmarshal role: %w", err)
	}
	return role, true, nil
}

// Compile-time interface compliance check.
var _ Storage = (*RedisStorage)(nil)
