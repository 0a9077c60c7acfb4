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

package apidef

import (
	"context"
	"testing"

	resource_v3 "github.com/envoyproxy/go-control-plane/pkg/resource/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rajeevramani/flowplane/internal/fixture"
	"github.com/rajeevramani/flowplane/internal/model"
	"github.com/rajeevramani/flowplane/internal/orchestrator"
	"github.com/rajeevramani/flowplane/internal/store"
	"github.com/rajeevramani/flowplane/internal/xdscache"
)

type harness struct {
	store *store.Store
	cache *xdscache.SnapshotCache
	mat   *Materializer
}

func newHarness(t *testing.T, portCount int) *harness {
	t.Helper()
	log := fixture.NewTestLogger(t)
	st := store.NewInMemory(log)
	cache := xdscache.NewSnapshotCache(log)
	orch := orchestrator.New(log, st, cache, nil)
	return &harness{
		store: st,
		cache: cache,
		mat: &Materializer{
			FieldLogger: log,
			Store:       st,
			Orch:        orch,
			Ports:       &RangeAllocator{Store: st, Base: 10000, Count: portCount},
		},
	}
}

func isolatedSpec(domain string) *model.APIDefinitionSpec {
	return &model.APIDefinitionSpec{
		Team:              "beta",
		Domain:            domain,
		ListenerIsolation: true,
		Routes: []model.APIRoute{
			{
				Match:   model.RouteMatch{Path: model.PathMatch{Kind: model.PathPrefix, Value: "/orders"}},
				Methods: []string{"GET", "POST"},
				Targets: []model.UpstreamTarget{
					{Name: "orders-a", Endpoint: model.Endpoint{Host: "10.1.0.1", Port: 9000}, Weight: 50},
					{Name: "orders-b", Endpoint: model.Endpoint{Host: "10.1.0.2", Port: 9000}, Weight: 50},
				},
			},
			{
				Match:   model.RouteMatch{Path: model.PathMatch{Kind: model.PathPrefix, Value: "/users"}},
				Targets: []model.UpstreamTarget{
					{Name: "users", Endpoint: model.Endpoint{Host: "10.1.0.3", Port: 9000}},
				},
			},
		},
	}
}

func TestMaterializeIsolated(t *testing.T) {
	h := newHarness(t, 10)
	ctx := context.Background()

	result, err := h.mat.Materialize(ctx, nil, isolatedSpec("orders.example.com"))
	require.NoError(t, err)
	assert.Len(t, result.ClusterIDs, 3)
	assert.NotEmpty(t, result.RouteID)
	assert.NotEmpty(t, result.ListenerID)
	assert.Equal(t, 10000, result.Port)

	// Generated rows carry provenance back to the definition.
	clusters, err := h.store.ListClusters(ctx, "beta")
	require.NoError(t, err)
	require.Len(t, clusters, 3)
	for _, c := range clusters {
		assert.Equal(t, model.SourceGenerated, c.Source)
		assert.Equal(t, result.APIDefinitionID, c.ImportID)
	}

	// The isolated node key serves the generated listener, route and
	// clusters.
	key := xdscache.NodeKey{Team: "beta", APIDefinitionID: result.APIDefinitionID}
	snap := h.cache.Get(key)
	require.NotNil(t, snap)
	assert.Len(t, snap.Resources(resource_v3.ListenerType), 1)
	assert.Len(t, snap.Resources(resource_v3.RouteType), 1)
	assert.Len(t, snap.Resources(resource_v3.ClusterType), 3)

	// The team's shared snapshot does not carry the isolated listener.
	shared := h.cache.Get(xdscache.NodeKey{Team: "beta"})
	require.NotNil(t, shared)
	assert.Empty(t, shared.Resources(resource_v3.ListenerType))

	// The logical routes are persisted with the definition, and the
	// bootstrap location is recorded.
	apiRoutes, err := h.store.ListAPIRoutes(ctx, "beta", result.APIDefinitionID)
	require.NoError(t, err)
	assert.Len(t, apiRoutes, 2)

	def, err := h.store.GetAPIDefinition(ctx, "beta", result.APIDefinitionID)
	require.NoError(t, err)
	assert.Contains(t, def.BootstrapURI, result.APIDefinitionID)
}

// Any step failure unwinds every row written before it and leaves the
// snapshot untouched.
func TestMaterializeRollsBackOnPortExhaustion(t *testing.T) {
	h := newHarness(t, 0) // no free ports: the listener step must fail
	ctx := context.Background()

	_, err := h.mat.Materialize(ctx, nil, isolatedSpec("orders.example.com"))
	var step *StepError
	require.ErrorAs(t, err, &step)
	assert.Equal(t, "listener", step.Step)

	var verr *model.ValidationError
	require.ErrorAs(t, err, &verr)

	// The repository is back to the state before step 1.
	clusters, err := h.store.ListClusters(ctx, "beta")
	require.NoError(t, err)
	assert.Empty(t, clusters)
	routes, err := h.store.ListRoutes(ctx, "beta")
	require.NoError(t, err)
	assert.Empty(t, routes)
	_, err = h.store.GetAPIDefinitionByDomain(ctx, "beta", "orders.example.com")
	assert.Equal(t, store.ErrNotFound, err)

	// No snapshot was installed.
	assert.Nil(t, h.cache.Get(xdscache.NodeKey{Team: "beta"}))
}

// Repeating a materialization converges on the same rows.
func TestMaterializeIdempotent(t *testing.T) {
	h := newHarness(t, 10)
	ctx := context.Background()

	first, err := h.mat.Materialize(ctx, nil, isolatedSpec("orders.example.com"))
	require.NoError(t, err)
	second, err := h.mat.Materialize(ctx, nil, isolatedSpec("orders.example.com"))
	require.NoError(t, err)

	assert.Equal(t, first.APIDefinitionID, second.APIDefinitionID)
	assert.ElementsMatch(t, first.ClusterIDs, second.ClusterIDs)
	assert.Equal(t, first.RouteID, second.RouteID)

	clusters, err := h.store.ListClusters(ctx, "beta")
	require.NoError(t, err)
	assert.Len(t, clusters, 3)
}

// Without isolation the virtual host merges into the shared listener's
// route row.
func TestMaterializeShared(t *testing.T) {
	h := newHarness(t, 10)
	ctx := context.Background()

	spec := isolatedSpec("orders.example.com")
	spec.ListenerIsolation = false
	_, err := h.mat.Materialize(ctx, nil, spec)
	require.NoError(t, err)

	spec2 := isolatedSpec("users.example.com")
	spec2.ListenerIsolation = false
	_, err = h.mat.Materialize(ctx, nil, spec2)
	require.NoError(t, err)

	shared, err := h.store.GetRouteByName(ctx, "beta", sharedRouteName)
	require.NoError(t, err)
	require.Len(t, shared.Spec.VirtualHosts, 2)

	// One shared listener serves both domains.
	listeners, err := h.store.ListListeners(ctx, "beta")
	require.NoError(t, err)
	require.Len(t, listeners, 1)
	assert.Equal(t, sharedListenerName, listeners[0].Name)

	snap := h.cache.Get(xdscache.NodeKey{Team: "beta"})
	require.NotNil(t, snap)
	assert.Len(t, snap.Resources(resource_v3.ListenerType), 1)
}

// Per route filter overrides become attachments validated against the
// filter type's support level.
func TestMaterializeFilterOverride(t *testing.T) {
	h := newHarness(t, 10)
	ctx := context.Background()

	filter, err := h.store.CreateFilter(ctx, &model.FilterRow{
		Team: "beta", Name: "authz", Type: model.FilterTypeExtAuthz,
	})
	require.NoError(t, err)

	spec := isolatedSpec("orders.example.com")
	spec.Routes[0].Filters = map[string]model.FilterOverride{
		"authz": {Mode: model.OverrideDisable},
	}

	result, err := h.mat.Materialize(ctx, nil, spec)
	require.NoError(t, err)

	attachments, err := h.store.ListAttachments(ctx, "beta")
	require.NoError(t, err)
	require.Len(t, attachments, 1)
	assert.Equal(t, filter.ID, attachments[0].FilterID)
	assert.Equal(t, model.ScopeRoute, attachments[0].Scope)
	assert.Equal(t, model.OverrideDisable, attachments[0].Mode)
	assert.NotEmpty(t, result.APIDefinitionID)
}

// An unsupported override mode fails the whole materialization.
func TestMaterializeUnsupportedOverrideRollsBack(t *testing.T) {
	h := newHarness(t, 10)
	ctx := context.Background()

	_, err := h.store.CreateFilter(ctx, &model.FilterRow{
		Team: "beta", Name: "authz", Type: model.FilterTypeExtAuthz,
	})
	require.NoError(t, err)

	spec := isolatedSpec("orders.example.com")
	spec.Routes[0].Filters = map[string]model.FilterOverride{
		"authz": {Mode: model.OverrideReplace, Config: []byte(`{}`)},
	}

	_, err = h.mat.Materialize(ctx, nil, spec)
	var step *StepError
	require.ErrorAs(t, err, &step)
	assert.Equal(t, "filters", step.Step)

	clusters, err := h.store.ListClusters(ctx, "beta")
	require.NoError(t, err)
	assert.Empty(t, clusters)

	attachments, err := h.store.ListAttachments(ctx, "beta")
	require.NoError(t, err)
	assert.Empty(t, attachments)
}