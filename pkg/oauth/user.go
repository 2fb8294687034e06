// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package oauth

import "context"

// User is the slice of the external account directory this core needs:
// identity, credential hash, and role membership. Account management lives
// elsewhere.
type User struct {
	ID           string
	Username     string
	PasswordHash string
	Blocked      bool
	Roles        []string
}

// UserDirectory is the external user/account collaborator.
type UserDirectory interface {
	// GetUser loads a user by identifier. Implementations return an error
	// wrapping storage.ErrNotFound for unknown users.
	GetUser(ctx context.Context, id string) (*User, error)

	// CheckCredentials validates a username/password pair and returns the
	// matching user. A nil user with a nil error means the credentials did
	// not match; callers translate that into invalid_grant.
	CheckCredentials(ctx context.Context, username, password string) (*User, error)
}
