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

package store

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rajeevramani/flowplane/internal/fixture"
	"github.com/rajeevramani/flowplane/internal/model"
)

func clusterSpec(host string) model.ClusterSpec {
	return model.ClusterSpec{
		Endpoints:             []model.Endpoint{{Host: host, Port: 8080}},
		ConnectTimeoutSeconds: 5,
	}
}

func hcmListenerFilter(t *testing.T, routeConfig string) model.ListenerFilter {
	t.Helper()
	cfg, err := json.Marshal(model.HCMConfig{RouteConfigName: routeConfig})
	require.NoError(t, err)
	return model.ListenerFilter{
		Name:   "http",
		Kind:   model.FilterKindHTTPConnectionManager,
		Config: cfg,
	}
}

func routeTo(cluster string) model.RouteSpec {
	return model.RouteSpec{
		VirtualHosts: []model.VirtualHost{{
			Name:    "default",
			Domains: []string{"example.com"},
			Routes: []model.RouteRule{{
				Match:  model.RouteMatch{Path: model.PathMatch{Kind: model.PathPrefix, Value: "/"}},
				Action: model.RouteAction{Forward: &model.ForwardAction{Cluster: cluster}},
			}},
		}},
	}
}

func TestClusterRoundTrip(t *testing.T) {
	s := NewInMemory(fixture.NewTestLogger(t))
	ctx := context.Background()

	spec := clusterSpec("10.0.0.1")
	created, err := s.CreateCluster(ctx, &model.ClusterRow{Team: "alpha", Name: "c1", Spec: spec})
	require.NoError(t, err)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, uint64(1), created.Version)
	assert.Equal(t, model.SourceNative, created.Source)

	got, err := s.GetCluster(ctx, "alpha", created.ID)
	require.NoError(t, err)
	assert.Equal(t, spec, got.Spec)

	byName, err := s.GetClusterByName(ctx, "alpha", "c1")
	require.NoError(t, err)
	assert.Equal(t, created.ID, byName.ID)

	// Rows are invisible to other teams.
	_, err = s.GetCluster(ctx, "beta", created.ID)
	assert.Equal(t, ErrNotFound, err)
}

func TestClusterNameConflict(t *testing.T) {
	s := NewInMemory(fixture.NewTestLogger(t))
	ctx := context.Background()

	_, err := s.CreateCluster(ctx, &model.ClusterRow{Team: "alpha", Name: "c1", Spec: clusterSpec("10.0.0.1")})
	require.NoError(t, err)

	_, err = s.CreateCluster(ctx, &model.ClusterRow{Team: "alpha", Name: "c1", Spec: clusterSpec("10.0.0.2")})
	var conflict *NameConflictError
	require.ErrorAs(t, err, &conflict)

	// The same name in another team is fine.
	_, err = s.CreateCluster(ctx, &model.ClusterRow{Team: "beta", Name: "c1", Spec: clusterSpec("10.0.0.3")})
	require.NoError(t, err)
}

func TestClusterOptimisticConcurrency(t *testing.T) {
	s := NewInMemory(fixture.NewTestLogger(t))
	ctx := context.Background()

	created, err := s.CreateCluster(ctx, &model.ClusterRow{Team: "alpha", Name: "c1", Spec: clusterSpec("10.0.0.1")})
	require.NoError(t, err)

	updated, err := s.UpdateCluster(ctx, "alpha", created.ID, 1, clusterSpec("10.0.0.2"))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), updated.Version)

	// A second update against the stale version loses.
	_, err = s.UpdateCluster(ctx, "alpha", created.ID, 1, clusterSpec("10.0.0.3"))
	var conflict *VersionConflictError
	require.ErrorAs(t, err, &conflict)
	assert.Equal(t, uint64(2), conflict.Actual)
}

func TestReferentialDelete(t *testing.T) {
	s := NewInMemory(fixture.NewTestLogger(t))
	ctx := context.Background()

	cluster, err := s.CreateCluster(ctx, &model.ClusterRow{Team: "alpha", Name: "c1", Spec: clusterSpec("10.0.0.1")})
	require.NoError(t, err)
	route, err := s.CreateRoute(ctx, &model.RouteRow{Team: "alpha", Name: "r1", Spec: routeTo("c1")})
	require.NoError(t, err)

	// The cluster is pinned by the route.
	err = s.DeleteCluster(ctx, "alpha", cluster.ID)
	var referenced *ReferencedError
	require.ErrorAs(t, err, &referenced)
	assert.Equal(t, []string{"route/r1"}, referenced.By)

	// Deleting the dependent first unblocks the delete.
	require.NoError(t, s.DeleteRoute(ctx, "alpha", route.ID))
	require.NoError(t, s.DeleteCluster(ctx, "alpha", cluster.ID))
}

func TestRouteReferencedByListener(t *testing.T) {
	s := NewInMemory(fixture.NewTestLogger(t))
	ctx := context.Background()

	_, err := s.CreateCluster(ctx, &model.ClusterRow{Team: "alpha", Name: "c1", Spec: clusterSpec("10.0.0.1")})
	require.NoError(t, err)
	route, err := s.CreateRoute(ctx, &model.RouteRow{Team: "alpha", Name: "r1", Spec: routeTo("c1")})
	require.NoError(t, err)

	spec := model.ListenerSpec{
		Address:  "0.0.0.0",
		Port:     8080,
		Protocol: model.ProtocolHTTP,
		FilterChains: []model.FilterChain{{
			Filters: []model.ListenerFilter{hcmListenerFilter(t, "r1")},
		}},
	}
	listener, err := s.CreateListener(ctx, &model.ListenerRow{Team: "alpha", Name: "l1", Spec: spec})
	require.NoError(t, err)

	err = s.DeleteRoute(ctx, "alpha", route.ID)
	var referenced *ReferencedError
	require.ErrorAs(t, err, &referenced)
	assert.Equal(t, []string{"listener/l1"}, referenced.By)

	require.NoError(t, s.DeleteListener(ctx, "alpha", listener.ID))
	require.NoError(t, s.DeleteRoute(ctx, "alpha", route.ID))
}

func TestPersistenceAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "flowplane.db")
	log := fixture.NewTestLogger(t)
	ctx := context.Background()

	s, err := Open(path, log)
	require.NoError(t, err)

	_, err = s.CreateTeam(ctx, "alpha", "org-1")
	require.NoError(t, err)
	created, err := s.CreateCluster(ctx, &model.ClusterRow{Team: "alpha", Name: "c1", Spec: clusterSpec("10.0.0.1")})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path, log)
	require.NoError(t, err)
	defer s.Close()

	got, err := s.GetCluster(ctx, "alpha", created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.Spec, got.Spec)
	assert.Equal(t, created.Version, got.Version)

	ok, err := s.TeamExists(ctx, "alpha")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestCascadeDeleteAPIDefinition(t *testing.T) {
	s := NewInMemory(fixture.NewTestLogger(t))
	ctx := context.Background()

	def, err := s.CreateAPIDefinition(ctx, &model.APIDefinitionRow{Team: "alpha", Domain: "api.example.com", ListenerIsolation: true})
	require.NoError(t, err)

	cluster, err := s.CreateCluster(ctx, &model.ClusterRow{
		Team: "alpha", Name: "gen-c", Spec: clusterSpec("10.0.0.1"),
		Source: model.SourceGenerated, ImportID: def.ID,
	})
	require.NoError(t, err)
	route, err := s.CreateRoute(ctx, &model.RouteRow{
		Team: "alpha", Name: "gen-r", Spec: routeTo("gen-c"),
		Source: model.SourceGenerated, ImportID: def.ID,
	})
	require.NoError(t, err)

	require.NoError(t, s.CascadeDeleteAPIDefinition(ctx, "alpha", def.ID))

	_, err = s.GetCluster(ctx, "alpha", cluster.ID)
	assert.Equal(t, ErrNotFound, err)
	_, err = s.GetRoute(ctx, "alpha", route.ID)
	assert.Equal(t, ErrNotFound, err)
	_, err = s.GetAPIDefinition(ctx, "alpha", def.ID)
	assert.Equal(t, ErrNotFound, err)
}

func TestFilterDeleteBlockedByAttachment(t *testing.T) {
	s := NewInMemory(fixture.NewTestLogger(t))
	ctx := context.Background()

	filter, err := s.CreateFilter(ctx, &model.FilterRow{
		Team: "alpha", Name: "ratelimit", Type: model.FilterTypeLocalRateLimit,
	})
	require.NoError(t, err)

	att, err := s.CreateAttachment(ctx, &model.FilterAttachmentRow{
		Team: "alpha", FilterID: filter.ID,
		Scope: model.ScopeListener, ScopeID: "l1",
		Mode: model.OverrideUseBase,
	})
	require.NoError(t, err)

	err = s.DeleteFilter(ctx, "alpha", filter.ID)
	var referenced *ReferencedError
	require.ErrorAs(t, err, &referenced)

	require.NoError(t, s.DeleteAttachment(ctx, "alpha", att.ID))
	require.NoError(t, s.DeleteFilter(ctx, "alpha", filter.ID))
}

func TestAttachmentModeValidated(t *testing.T) {
	s := NewInMemory(fixture.NewTestLogger(t))
	ctx := context.Background()

	filter, err := s.CreateFilter(ctx, &model.FilterRow{
		Team: "alpha", Name: "authz", Type: model.FilterTypeExtAuthz,
	})
	require.NoError(t, err)

	_, err = s.CreateAttachment(ctx, &model.FilterAttachmentRow{
		Team: "alpha", FilterID: filter.ID,
		Scope: model.ScopeRoute, ScopeID: "r1/default/0",
		Mode: model.OverrideReplace,
	})
	var verr *model.ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestListAllForSnapshot(t *testing.T) {
	s := NewInMemory(fixture.NewTestLogger(t))
	ctx := context.Background()

	_, err := s.CreateCluster(ctx, &model.ClusterRow{Team: "alpha", Name: "c1", Spec: clusterSpec("10.0.0.1")})
	require.NoError(t, err)
	_, err = s.CreateRoute(ctx, &model.RouteRow{Team: "alpha", Name: "r1", Spec: routeTo("c1")})
	require.NoError(t, err)
	_, err = s.CreateCluster(ctx, &model.ClusterRow{Team: "beta", Name: "other", Spec: clusterSpec("10.0.0.9")})
	require.NoError(t, err)

	cfg, err := s.ListAllForSnapshot(ctx, "alpha")
	require.NoError(t, err)
	assert.Len(t, cfg.Clusters, 1)
	assert.Len(t, cfg.Routes, 1)
	assert.Empty(t, cfg.Listeners)
}

func TestAuditAppendAndList(t *testing.T) {
	s := NewInMemory(fixture.NewTestLogger(t))
	ctx := context.Background()

	require.NoError(t, s.AppendAudit(ctx, &AuditEvent{
		Actor: "user-1", Team: "alpha", ResourceType: "cluster", Op: "create",
		ResourceID: "id-1", NewVersion: 1,
	}))
	require.NoError(t, s.AppendAudit(ctx, &AuditEvent{
		Actor: "user-1", Team: "alpha", ResourceType: "cluster", Op: "update",
		ResourceID: "id-1", OldVersion: 1, NewVersion: 2,
	}))

	events, err := s.ListAudit(ctx, "alpha")
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "create", events[0].Op)
	assert.Equal(t, "update", events[1].Op)
}

func TestContextExpiryIsTransient(t *testing.T) {
	s := NewInMemory(fixture.NewTestLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.ListClusters(ctx, "alpha")
	require.Error(t, err)
	assert.True(t, IsTransient(err))
	assert.True(t, errors.Is(err, context.Canceled))
}
