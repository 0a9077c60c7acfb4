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

package xdscache

import (
	"fmt"
	"testing"

	envoy_config_cluster_v3 "github.com/envoyproxy/go-control-plane/envoy/config/cluster/v3"
	envoy_config_listener_v3 "github.com/envoyproxy/go-control-plane/envoy/config/listener/v3"
	resource_v3 "github.com/envoyproxy/go-control-plane/pkg/resource/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rajeevramani/flowplane/internal/fixture"
)

func clusterSet(names ...string) ResourceSet {
	var clusters []*envoy_config_cluster_v3.Cluster
	for _, name := range names {
		clusters = append(clusters, &envoy_config_cluster_v3.Cluster{Name: name})
	}
	return NewResourceSet(clusters, nil, nil, nil)
}

func TestInstallAdvancesVersion(t *testing.T) {
	c := NewSnapshotCache(fixture.NewTestLogger(t))
	key := NodeKey{Team: "alpha"}

	changed, err := c.Install(key, clusterSet("c1"))
	require.NoError(t, err)
	assert.Contains(t, changed, resource_v3.ClusterType)

	snap := c.Get(key)
	require.NotNil(t, snap)
	assert.Equal(t, "00000000000000000001", snap.Version)
	assert.Equal(t, "00000000000000000001", snap.TypeVersion(resource_v3.ClusterType))

	changed, err = c.Install(key, clusterSet("c1", "c2"))
	require.NoError(t, err)
	assert.Contains(t, changed, resource_v3.ClusterType)
	assert.Equal(t, "00000000000000000002", c.Get(key).Version)
}

// Installing identical contents is a no-op: no version advance, no
// notification.
func TestInstallContentHashInvariance(t *testing.T) {
	c := NewSnapshotCache(fixture.NewTestLogger(t))
	key := NodeKey{Team: "alpha"}

	_, err := c.Install(key, clusterSet("c1"))
	require.NoError(t, err)
	before := c.Get(key)

	ch, cancel := c.Watch(key)
	defer cancel()
	<-ch // drain the priming notification

	changed, err := c.Install(key, clusterSet("c1"))
	require.NoError(t, err)
	assert.Empty(t, changed)
	assert.Same(t, before, c.Get(key))

	select {
	case snap := <-ch:
		t.Fatalf("unexpected notification for no-op install: %v", snap.Version)
	default:
	}
}

// Only the types whose contents changed advance; the others carry
// their version forward.
func TestInstallPerTypeVersions(t *testing.T) {
	c := NewSnapshotCache(fixture.NewTestLogger(t))
	key := NodeKey{Team: "alpha"}

	set := clusterSet("c1")
	set[resource_v3.ListenerType]["l1"] = &envoy_config_listener_v3.Listener{Name: "l1"}
	_, err := c.Install(key, set)
	require.NoError(t, err)

	// Change only the cluster set.
	set2 := clusterSet("c1", "c2")
	set2[resource_v3.ListenerType]["l1"] = &envoy_config_listener_v3.Listener{Name: "l1"}
	changed, err := c.Install(key, set2)
	require.NoError(t, err)

	assert.Equal(t, []string{resource_v3.ClusterType}, changed)
	snap := c.Get(key)
	assert.Equal(t, "00000000000000000002", snap.TypeVersion(resource_v3.ClusterType))
	assert.Equal(t, "00000000000000000001", snap.TypeVersion(resource_v3.ListenerType))
}

// Version strings are strictly increasing and never reused per key.
func TestVersionMonotonicity(t *testing.T) {
	c := NewSnapshotCache(fixture.NewTestLogger(t))
	key := NodeKey{Team: "alpha"}

	seen := map[string]bool{}
	last := ""
	for i := 0; i < 50; i++ {
		_, err := c.Install(key, clusterSet(fmt.Sprintf("c%d", i)))
		require.NoError(t, err)

		version := c.Get(key).Version
		assert.False(t, seen[version], "version %s reused", version)
		assert.Greater(t, version, last)
		seen[version] = true
		last = version
	}
}

func TestKeysArePartitioned(t *testing.T) {
	c := NewSnapshotCache(fixture.NewTestLogger(t))
	alpha := NodeKey{Team: "alpha"}
	isolated := NodeKey{Team: "alpha", APIDefinitionID: "def-1"}

	_, err := c.Install(alpha, clusterSet("shared"))
	require.NoError(t, err)
	_, err = c.Install(isolated, clusterSet("generated"))
	require.NoError(t, err)

	assert.Len(t, c.Get(alpha).Resources(resource_v3.ClusterType), 1)
	assert.Contains(t, c.Get(alpha).Resources(resource_v3.ClusterType), "shared")
	assert.Contains(t, c.Get(isolated).Resources(resource_v3.ClusterType), "generated")
	assert.Len(t, c.Keys(), 2)
}

// A slow subscriber may miss intermediate versions but always
// converges on the latest.
func TestWatchCoalesces(t *testing.T) {
	c := NewSnapshotCache(fixture.NewTestLogger(t))
	key := NodeKey{Team: "alpha"}

	ch, cancel := c.Watch(key)
	defer cancel()

	for i := 0; i < 10; i++ {
		_, err := c.Install(key, clusterSet(fmt.Sprintf("c%d", i)))
		require.NoError(t, err)
	}

	snap := <-ch
	assert.Equal(t, "00000000000000000010", snap.Version)

	select {
	case extra := <-ch:
		t.Fatalf("expected a single coalesced notification, got %v", extra.Version)
	default:
	}
}

// Canceling a watch removes the subscription from the notifier.
func TestWatchCancelRemovesSubscription(t *testing.T) {
	c := NewSnapshotCache(fixture.NewTestLogger(t))
	key := NodeKey{Team: "alpha"}

	_, cancel := c.Watch(key)
	cancel()

	c.mu.RLock()
	defer c.mu.RUnlock()
	assert.Empty(t, c.entries[key].watchers)
}

func TestWatchPrimedWithCurrentSnapshot(t *testing.T) {
	c := NewSnapshotCache(fixture.NewTestLogger(t))
	key := NodeKey{Team: "alpha"}

	_, err := c.Install(key, clusterSet("c1"))
	require.NoError(t, err)

	ch, cancel := c.Watch(key)
	defer cancel()

	snap := <-ch
	assert.Equal(t, "00000000000000000001", snap.Version)
}
