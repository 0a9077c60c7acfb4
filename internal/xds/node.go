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

package xds

import (
	"context"

	envoy_config_core_v3 "github.com/envoyproxy/go-control-plane/envoy/config/core/v3"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/rajeevramani/flowplane/internal/auth"
	"github.com/rajeevramani/flowplane/internal/xdscache"
)

// Node metadata keys the router understands.
const (
	MetadataTeam            = "team"
	MetadataAPIDefinitionID = "api_definition_id"
)

// TeamLookup answers whether a team is registered. The repository
// implements it.
type TeamLookup interface {
	TeamExists(ctx context.Context, name string) (bool, error)
}

// NodeRouter resolves an Envoy node identity to the cache key whose
// snapshot the node should be served.
type NodeRouter struct {
	Teams TeamLookup
}

// Resolve derives the NodeKey from the node metadata, verifies the
// team exists, and checks the stream's principal (when one is
// attached) against the requested team. Failures map to
// PermissionDenied, per the xDS contract for unauthorized nodes.
func (r *NodeRouter) Resolve(ctx context.Context, node *envoy_config_core_v3.Node) (xdscache.NodeKey, error) {
	team, apiDefID := nodeMetadata(node)
	if team == "" {
		return xdscache.NodeKey{}, status.Error(codes.PermissionDenied, "node metadata missing team")
	}

	if r.Teams != nil {
		ok, err := r.Teams.TeamExists(ctx, team)
		if err != nil {
			return xdscache.NodeKey{}, status.Errorf(codes.Unavailable, "looking up team: %v", err)
		}
		if !ok {
			return xdscache.NodeKey{}, status.Errorf(codes.PermissionDenied, "unknown team %q", team)
		}
	}

	if principal, ok := auth.FromContext(ctx); ok {
		if err := principal.AuthorizeTeam(team); err != nil {
			return xdscache.NodeKey{}, status.Error(codes.PermissionDenied, err.Error())
		}
	}

	return xdscache.NodeKey{Team: team, APIDefinitionID: apiDefID}, nil
}

func nodeMetadata(node *envoy_config_core_v3.Node) (team, apiDefID string) {
	fields := node.GetMetadata().GetFields()
	if v, ok := fields[MetadataTeam]; ok {
		team = v.GetStringValue()
	}
	if v, ok := fields[MetadataAPIDefinitionID]; ok {
		apiDefID = v.GetStringValue()
	}
	return team, apiDefID
}
