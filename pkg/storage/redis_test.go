// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package storage

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grantd/grantd/pkg/oauth"
)

func newTestRedisStorage(t *testing.T) (*RedisStorage, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewRedisStorage(client)
	t.Cleanup(func() { _ = store.Close() })
	return store, mr
}

func TestRedisStorageHealth(t *testing.T) {
	t.Parallel()
	store, mr := newTestRedisStorage(t)

	require.NoError(t, store.Health(context.Background()))

	mr.Close()
	assert.Error(t, store.Health(context.Background()))
}

func TestRedisStorageTokenLifecycle(t *testing.T) {
	t.Parallel()
	store, _ := newTestRedisStorage(t)
	ctx := context.Background()

	token := newAccessToken("tok-1", time.Hour)
	require.NoError(t, store.CreateToken(ctx, token))

	err := store.CreateToken(ctx, newAccessToken("tok-1", time.Hour))
	require.ErrorIs(t, err, ErrAlreadyExists)

	got, err := store.GetToken(ctx, "tok-1")
	require.NoError(t, err)
	assert.Equal(t, token.ClientID, got.ClientID)
	assert.Equal(t, token.Scopes, got.Scopes)

	_, err = store.GetToken(ctx, "ghost")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStorageConsumeToken(t *testing.T) {
	t.Parallel()
	store, _ := newTestRedisStorage(t)
	ctx := context.Background()

	require.NoError(t, store.CreateToken(ctx, newAccessToken("code-1", time.Hour)))

	got, err := store.ConsumeToken(ctx, "code-1")
	require.NoError(t, err)
	assert.Equal(t, "code-1", got.ID)

	_, err = store.ConsumeToken(ctx, "code-1")
	require.ErrorIs(t, err, ErrConsumed)

	_, err = store.ConsumeToken(ctx, "never-existed")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStorageTokenExpiry(t *testing.T) {
	t.Parallel()
	store, mr := newTestRedisStorage(t)
	ctx := context.Background()

	require.NoError(t, store.CreateToken(ctx, newAccessToken("short", time.Minute)))
	mr.FastForward(2 * time.Minute)

	_, err := store.GetToken(ctx, "short")
	require.ErrorIs(t, err, ErrNotFound, "expired records age out of redis")
}

func TestRedisStorageRevocation(t *testing.T) {
	t.Parallel()
	store, _ := newTestRedisStorage(t)
	ctx := context.Background()

	require.NoError(t, store.CreateToken(ctx, newAccessToken("tok-r", time.Hour)))

	revoked, err := store.IsTokenRevoked(ctx, "tok-r")
	require.NoError(t, err)
	assert.False(t, revoked)

	require.NoError(t, store.RevokeToken(ctx, "tok-r"))
	require.NoError(t, store.RevokeToken(ctx, "tok-r"))

	revoked, err = store.IsTokenRevoked(ctx, "tok-r")
	require.NoError(t, err)
	assert.True(t, revoked)

	got, err := store.GetToken(ctx, "tok-r")
	require.NoError(t, err)
	assert.True(t, got.Revoked, "revocation marker is reflected on loads")

	revoked, err = store.IsTokenRevoked(ctx, "ghost")
	require.NoError(t, err)
	assert.True(t, revoked, "unknown tokens count as revoked")
}

func TestRedisStorageKnownClients(t *testing.T) {
	t.Parallel()
	store, _ := newTestRedisStorage(t)
	ctx := context.Background()

	ok, err := store.IsAuthorized(ctx, "u1", "c1", []string{"reader"})
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.RememberClient(ctx, "u1", "c1", []string{"reader", "writer"}))

	ok, err = store.IsAuthorized(ctx, "u1", "c1", []string{"reader"})
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.IsAuthorized(ctx, "u1", "c1", []string{"reader", "admin"})
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.RememberClient(ctx, "u1", "c1", []string{"admin"}))
	ok, err = store.IsAuthorized(ctx, "u1", "c1", []string{"reader", "writer", "admin"})
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedisStoragePendingAuthorizations(t *testing.T) {
	t.Parallel()
	store, _ := newTestRedisStorage(t)
	ctx := context.Background()

	request := &oauth.AuthorizationRequest{
		ID:       "pending-1",
		ClientID: "c1",
		UserID:   "u1",
		Scopes:   []oauth.Scope{{ID: "reader"}},
	}
	require.NoError(t, store.StorePendingAuthorization(ctx, request))

	got, err := store.ConsumePendingAuthorization(ctx, "pending-1")
	require.NoError(t, err)
	assert.Equal(t, "c1", got.ClientID)
	assert.Equal(t, "u1", got.UserID)

	_, err = store.ConsumePendingAuthorization(ctx, "pending-1")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStorageRegistries(t *testing.T) {
	t.Parallel()
	store, _ := newTestRedisStorage(t)
	ctx := context.Background()

	hash, err := oauth.HashClientSecret("hunter2")
	require.NoError(t, err)

	require.NoError(t, store.RegisterClient(ctx, &oauth.Client{ID: "c1", Name: "App", SecretHash: hash}))
	client, err := store.GetClient(ctx, "c1")
	require.NoError(t, err)
	assert.Equal(t, "App", client.Name)

	_, err = store.GetClient(ctx, "ghost")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, store.RegisterUser(ctx, &oauth.User{
		ID: "u1", Username: "Alice", PasswordHash: hash, Roles: []string{"reader"},
	}))

	t.Run("credentials check is case-insensitive on username", func(t *testing.T) {
		user, err := store.CheckCredentials(ctx, "alice", "hunter2")
		require.NoError(t, err)
		require.NotNil(t, user)
		assert.Equal(t, "u1", user.ID)
	})

	t.Run("wrong password yields no user", func(t *testing.T) {
		user, err := store.CheckCredentials(ctx, "alice", "nope")
		require.NoError(t, err)
		assert.Nil(t, user)
	})

	require.NoError(t, store.RegisterRole(ctx, oauth.Scope{ID: "reader", Name: "Reader"}))
	role, ok, err := store.GetRole(ctx, "reader")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Reader", role.Name)
	assert.False(t, role.Claim)

	_, ok, err = store.GetRole(ctx, "ghost")
	require.NoError(t, err)
	assert.False(t, ok)
}
