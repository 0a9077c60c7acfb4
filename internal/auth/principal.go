// Copyright Project Flowplane Authors
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package auth carries the resolved principal contract handed to the
// core by the authentication collaborator. Token issuance, password
// hashing and scope parsing happen outside this module.
package auth

import (
	"context"
	"fmt"
)

// Principal is the resolved identity attached to a request or stream.
type Principal struct {
	UserID        string
	Team          string
	Scopes        map[string]bool
	IsAdmin       bool
	CorrelationID string
}

// HasScope reports whether the principal carries the named scope.
// Admins implicitly hold every scope.
func (p *Principal) HasScope(scope string) bool {
	if p.IsAdmin {
		return true
	}
	return p.Scopes[scope]
}

// AuthorizeTeam checks that the principal may act on the given team.
func (p *Principal) AuthorizeTeam(team string) error {
	if p.IsAdmin {
		return nil
	}
	if p.Team != team {
		return &TeamMismatchError{Principal: p.Team, Requested: team}
	}
	return nil
}

// TeamMismatchError reports a principal reaching outside its team.
type TeamMismatchError struct {
	Principal string
	Requested string
}

func (e *TeamMismatchError) Error() string {
	return fmt.Sprintf("principal of team %q may not act on team %q", e.Principal, e.Requested)
}

type contextKey struct{}

// NewContext returns a context carrying the principal.
func NewContext(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, contextKey{}, p)
}

// FromContext extracts the principal installed by the authentication
// collaborator, if any.
func FromContext(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(contextKey{}).(*Principal)
	return p, ok
}
