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
	"testing"

	envoy_config_core_v3 "github.com/envoyproxy/go-control-plane/envoy/config/core/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	grpc_codes "google.golang.org/grpc/codes"
	grpc_status "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/rajeevramani/flowplane/internal/auth"
	"github.com/rajeevramani/flowplane/internal/fixture"
	"github.com/rajeevramani/flowplane/internal/store"
	"github.com/rajeevramani/flowplane/internal/xdscache"
)

func testNode(fields map[string]string) *envoy_config_core_v3.Node {
	meta := &structpb.Struct{Fields: map[string]*structpb.Value{}}
	for k, v := range fields {
		meta.Fields[k] = structpb.NewStringValue(v)
	}
	return &envoy_config_core_v3.Node{Id: "node-1", Metadata: meta}
}

func newRouter(t *testing.T) *NodeRouter {
	t.Helper()
	st := store.NewInMemory(fixture.NewTestLogger(t))
	_, err := st.CreateTeam(context.Background(), "alpha", "org-1")
	require.NoError(t, err)
	return &NodeRouter{Teams: st}
}

func TestResolveNodeKey(t *testing.T) {
	router := newRouter(t)

	key, err := router.Resolve(context.Background(), testNode(map[string]string{"team": "alpha"}))
	require.NoError(t, err)
	assert.Equal(t, xdscache.NodeKey{Team: "alpha"}, key)
}

func TestResolveIsolatedNodeKey(t *testing.T) {
	router := newRouter(t)

	key, err := router.Resolve(context.Background(), testNode(map[string]string{
		"team":              "alpha",
		"api_definition_id": "def-1",
	}))
	require.NoError(t, err)
	assert.Equal(t, xdscache.NodeKey{Team: "alpha", APIDefinitionID: "def-1"}, key)
}

func TestResolveMissingTeam(t *testing.T) {
	router := newRouter(t)

	_, err := router.Resolve(context.Background(), testNode(nil))
	require.Error(t, err)
	assert.Equal(t, grpc_codes.PermissionDenied, grpc_status.Code(err))
}

func TestResolveUnknownTeam(t *testing.T) {
	router := newRouter(t)

	_, err := router.Resolve(context.Background(), testNode(map[string]string{"team": "ghosts"}))
	require.Error(t, err)
	assert.Equal(t, grpc_codes.PermissionDenied, grpc_status.Code(err))
}

func TestResolvePrincipalTeamMismatch(t *testing.T) {
	router := newRouter(t)

	ctx := auth.NewContext(context.Background(), &auth.Principal{UserID: "u1", Team: "beta"})
	_, err := router.Resolve(ctx, testNode(map[string]string{"team": "alpha"}))
	require.Error(t, err)
	assert.Equal(t, grpc_codes.PermissionDenied, grpc_status.Code(err))
}

func TestResolveAdminBypassesTeamCheck(t *testing.T) {
	router := newRouter(t)

	ctx := auth.NewContext(context.Background(), &auth.Principal{UserID: "root", IsAdmin: true})
	key, err := router.Resolve(ctx, testNode(map[string]string{"team": "alpha"}))
	require.NoError(t, err)
	assert.Equal(t, "alpha", key.Team)
}
