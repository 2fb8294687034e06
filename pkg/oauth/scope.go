// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

package oauth

import (
	"context"
)

// Scope is a named unit of granted access. Role-backed scopes map one-to-one
// onto permission groups in the user directory; claim scopes are a fixed
// table of identity-claim exposures that exist independently of any role.
type Scope struct {
	ID    string
	Name  string
	Claim bool
}

// claimScopes is the fixed identity-claim scope table. These are not roles
// but must survive finalization whenever they were requested.
var claimScopes = map[string]string{
	"openid":  "User information",
	"profile": "Profile information",
	"email":   "E-Mail",
	"phone":   "Phone",
	"address": "Address",
}

// ClaimScope returns the claim scope for the identifier, if it is one.
func ClaimScope(id string) (Scope, bool) {
	name, ok := claimScopes[id]
	if !ok {
		return Scope{}, false
	}
	return Scope{ID: id, Name: name, Claim: true}, true
}

// RoleSource resolves role-backed scope identifiers. It is backed by the
// external user directory's permission groups.
type RoleSource interface {
	// GetRole resolves a role-backed scope by identifier. The boolean is
	// false when no such role exists.
	GetRole(ctx context.Context, id string) (Scope, bool, error)
}

// ScopeRepository resolves requested scope identifiers and finalizes the
// scope set granted to a token. Resolution checks role-backed scopes first
// and falls back to the fixed claim-scope table.
type ScopeRepository struct {
	roles RoleSource
}

// NewScopeRepository creates a repository over the given role source.
func NewScopeRepository(roles RoleSource) *ScopeRepository {
	return &ScopeRepository{roles: roles}
}

// Resolve maps a scope identifier to its descriptor. Role-backed scopes take
// precedence over the claim table so a role named like a claim keeps its
// role semantics.
func (r *ScopeRepository) Resolve(ctx context.Context, id string) (Scope, bool, error) {
	role, ok, err := r.roles.GetRole(ctx, id)
	if err != nil {
		return Scope{}, false, err
	}
	if ok {
		return role, true, nil
	}
	if claim, ok := ClaimScope(id); ok {
		return claim, true, nil
	}
	return Scope{}, false, nil
}

// ResolveAll resolves every requested identifier, failing with invalid_scope
// on the first identifier that resolves to nothing.
func (r *ScopeRepository) ResolveAll(ctx context.Context, ids []string) ([]Scope, error) {
	scopes := make([]Scope, 0, len(ids))
	for _, id := range ids {
		scope, ok, err := r.Resolve(ctx, id)
		if err != nil {
			return nil, AsError(err)
		}
		if !ok {
			return nil, InvalidScope(id)
		}
		scopes = append(scopes, scope)
	}
	return scopes, nil
}

// FinalizeScopes computes the scope set granted to a token.
//
// The result starts from the requested scopes that resolve as roles, then
// back-fills roles present on the client that were not requested, and finally
// re-appends requested claim scopes so they survive even though the role pass
// drops them. Order is preserved, duplicates are removed by identifier, and
// the whole computation is deterministic: finalizing an already finalized set
// is a no-op.
func (r *ScopeRepository) FinalizeScopes(
	ctx context.Context,
	requested []Scope,
	_ GrantType,
	client *Client,
	_ string,
) ([]Scope, error) {
	finalized := make([]Scope, 0, len(requested)+len(client.Scopes))
	seen := make(map[string]bool, len(requested)+len(client.Scopes))

	appendScope := func(s Scope) {
		if !seen[s.ID] {
			seen[s.ID] = true
			finalized = append(finalized, s)
		}
	}

	// Requested role-backed scopes, in request order.
	for _, scope := range requested {
		if scope.Claim {
			continue
		}
		role, ok, err := r.roles.GetRole(ctx, scope.ID)
		if err != nil {
			return nil, AsError(err)
		}
		if ok {
			appendScope(role)
		}
	}

	// Back-fill roles on the client that were not requested.
	for _, id := range client.Scopes {
		role, ok, err := r.roles.GetRole(ctx, id)
		if err != nil {
			return nil, AsError(err)
		}
		if ok {
			appendScope(role)
		}
	}

	// Claim scopes that were requested always make it into the final set.
	for _, scope := range requested {
		if claim, ok := ClaimScope(scope.ID); ok {
			appendScope(claim)
		}
	}

	return finalized, nil
}

// ScopeIDs projects a scope list onto its identifiers.
func ScopeIDs(scopes []Scope) []string {
	ids := make([]string, len(scopes))
	for i, s := range scopes {
		ids[i] = s.ID
	}
	return ids
}
