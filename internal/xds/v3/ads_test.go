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

package v3

import (
	"context"
	"testing"
	"time"

	envoy_config_cluster_v3 "github.com/envoyproxy/go-control-plane/envoy/config/cluster/v3"
	envoy_config_core_v3 "github.com/envoyproxy/go-control-plane/envoy/config/core/v3"
	envoy_config_listener_v3 "github.com/envoyproxy/go-control-plane/envoy/config/listener/v3"
	envoy_service_discovery_v3 "github.com/envoyproxy/go-control-plane/envoy/service/discovery/v3"
	resource_v3 "github.com/envoyproxy/go-control-plane/pkg/resource/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genproto/googleapis/rpc/status"
	grpc_codes "google.golang.org/grpc/codes"
	grpc_status "google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/rajeevramani/flowplane/internal/fixture"
	"github.com/rajeevramani/flowplane/internal/store"
	"github.com/rajeevramani/flowplane/internal/timeout"
	"github.com/rajeevramani/flowplane/internal/xds"
	"github.com/rajeevramani/flowplane/internal/xdscache"
)

type testStream struct {
	ctx   context.Context
	reqs  chan *envoy_service_discovery_v3.DiscoveryRequest
	resps chan *envoy_service_discovery_v3.DiscoveryResponse
}

func (s *testStream) Context() context.Context { return s.ctx }

func (s *testStream) Send(resp *envoy_service_discovery_v3.DiscoveryResponse) error {
	select {
	case s.resps <- resp:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
}

func (s *testStream) Recv() (*envoy_service_discovery_v3.DiscoveryRequest, error) {
	select {
	case req := <-s.reqs:
		return req, nil
	case <-s.ctx.Done():
		return nil, s.ctx.Err()
	}
}

type adsHarness struct {
	cache  *xdscache.SnapshotCache
	stream *testStream
	result chan error
	cancel context.CancelFunc
}

func newHarness(t *testing.T, opts ...Option) *adsHarness {
	t.Helper()

	log := fixture.NewTestLogger(t)
	st := store.NewInMemory(log)
	_, err := st.CreateTeam(context.Background(), "alpha", "org-1")
	require.NoError(t, err)

	cache := xdscache.NewSnapshotCache(log)
	opts = append([]Option{WithResendInterval(timeout.DisabledSetting())}, opts...)
	srv := NewServer(log, cache, &xds.NodeRouter{Teams: st}, opts...)

	ctx, cancel := context.WithCancel(context.Background())
	h := &adsHarness{
		cache: cache,
		stream: &testStream{
			ctx:   ctx,
			reqs:  make(chan *envoy_service_discovery_v3.DiscoveryRequest),
			resps: make(chan *envoy_service_discovery_v3.DiscoveryResponse),
		},
		result: make(chan error, 1),
		cancel: cancel,
	}
	t.Cleanup(cancel)

	go func() {
		h.result <- srv.stream(h.stream)
	}()
	return h
}

func (h *adsHarness) send(t *testing.T, req *envoy_service_discovery_v3.DiscoveryRequest) {
	t.Helper()
	select {
	case h.stream.reqs <- req:
	case <-time.After(time.Second):
		t.Fatal("timed out sending request")
	}
}

func (h *adsHarness) expectResponse(t *testing.T) *envoy_service_discovery_v3.DiscoveryResponse {
	t.Helper()
	select {
	case resp := <-h.stream.resps:
		return resp
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for response")
		return nil
	}
}

func (h *adsHarness) expectNoResponse(t *testing.T) {
	t.Helper()
	select {
	case resp := <-h.stream.resps:
		t.Fatalf("unexpected response at version %q", resp.VersionInfo)
	case <-time.After(100 * time.Millisecond):
	}
}

func (h *adsHarness) expectStreamError(t *testing.T, code grpc_codes.Code) {
	t.Helper()
	select {
	case err := <-h.result:
		require.Error(t, err)
		assert.Equal(t, code, grpc_status.Code(err))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for stream to terminate")
	}
}

func node(team string) *envoy_config_core_v3.Node {
	return &envoy_config_core_v3.Node{
		Id: "node-1",
		Metadata: &structpb.Struct{Fields: map[string]*structpb.Value{
			"team": structpb.NewStringValue(team),
		}},
	}
}

func clusterResources(names ...string) xdscache.ResourceSet {
	var clusters []*envoy_config_cluster_v3.Cluster
	for _, name := range names {
		clusters = append(clusters, &envoy_config_cluster_v3.Cluster{Name: name})
	}
	return xdscache.NewResourceSet(clusters, nil, nil, nil)
}

// A fresh subscription is answered with the current snapshot, and the
// matching ACK unblocks the next push.
func TestPublishAndAck(t *testing.T) {
	h := newHarness(t)

	_, err := h.cache.Install(xdscache.NodeKey{Team: "alpha"}, clusterResources("c1"))
	require.NoError(t, err)

	h.send(t, &envoy_service_discovery_v3.DiscoveryRequest{
		Node:    node("alpha"),
		TypeUrl: resource_v3.ClusterType,
	})

	resp := h.expectResponse(t)
	assert.Equal(t, "00000000000000000001", resp.VersionInfo)
	assert.Equal(t, resource_v3.ClusterType, resp.TypeUrl)
	assert.NotEmpty(t, resp.Nonce)
	require.Len(t, resp.Resources, 1)

	// ACK.
	h.send(t, &envoy_service_discovery_v3.DiscoveryRequest{
		TypeUrl:       resource_v3.ClusterType,
		VersionInfo:   resp.VersionInfo,
		ResponseNonce: resp.Nonce,
	})

	// The next install is pushed.
	_, err = h.cache.Install(xdscache.NodeKey{Team: "alpha"}, clusterResources("c1", "c2"))
	require.NoError(t, err)

	resp = h.expectResponse(t)
	assert.Equal(t, "00000000000000000002", resp.VersionInfo)
	assert.Len(t, resp.Resources, 2)
}

// A request whose nonce is not the most recently sent one produces no
// response.
func TestStaleNonceIgnored(t *testing.T) {
	h := newHarness(t)

	_, err := h.cache.Install(xdscache.NodeKey{Team: "alpha"}, clusterResources("c1"))
	require.NoError(t, err)

	h.send(t, &envoy_service_discovery_v3.DiscoveryRequest{
		Node:    node("alpha"),
		TypeUrl: resource_v3.ClusterType,
	})
	resp := h.expectResponse(t)

	h.send(t, &envoy_service_discovery_v3.DiscoveryRequest{
		TypeUrl:       resource_v3.ClusterType,
		VersionInfo:   resp.VersionInfo,
		ResponseNonce: "stale-nonce",
	})
	h.expectNoResponse(t)
}

// A NACK is recorded but the server does not resend the rejected
// version; the next install triggers the retry.
func TestNackWaitsForNextInstall(t *testing.T) {
	h := newHarness(t)

	_, err := h.cache.Install(xdscache.NodeKey{Team: "alpha"}, clusterResources("c1"))
	require.NoError(t, err)

	h.send(t, &envoy_service_discovery_v3.DiscoveryRequest{
		Node:    node("alpha"),
		TypeUrl: resource_v3.ClusterType,
	})
	resp := h.expectResponse(t)

	// NACK the update.
	h.send(t, &envoy_service_discovery_v3.DiscoveryRequest{
		TypeUrl:       resource_v3.ClusterType,
		VersionInfo:   "",
		ResponseNonce: resp.Nonce,
		ErrorDetail:   &status.Status{Code: 3, Message: "bad config"},
	})
	h.expectNoResponse(t)

	// The next install goes out at the newer version.
	_, err = h.cache.Install(xdscache.NodeKey{Team: "alpha"}, clusterResources("c3"))
	require.NoError(t, err)

	resp = h.expectResponse(t)
	assert.Equal(t, "00000000000000000002", resp.VersionInfo)
}

// Updating one type leaves the other types' stream state untouched.
func TestCrossTypePushesIndependent(t *testing.T) {
	h := newHarness(t)
	key := xdscache.NodeKey{Team: "alpha"}

	set := clusterResources("c1")
	set[resource_v3.ListenerType]["l1"] = &envoy_config_listener_v3.Listener{Name: "l1"}
	_, err := h.cache.Install(key, set)
	require.NoError(t, err)

	// Subscribe to both types and ACK both responses.
	h.send(t, &envoy_service_discovery_v3.DiscoveryRequest{Node: node("alpha"), TypeUrl: resource_v3.ClusterType})
	cdsResp := h.expectResponse(t)
	h.send(t, &envoy_service_discovery_v3.DiscoveryRequest{TypeUrl: resource_v3.ClusterType, VersionInfo: cdsResp.VersionInfo, ResponseNonce: cdsResp.Nonce})

	h.send(t, &envoy_service_discovery_v3.DiscoveryRequest{TypeUrl: resource_v3.ListenerType})
	ldsResp := h.expectResponse(t)
	h.send(t, &envoy_service_discovery_v3.DiscoveryRequest{TypeUrl: resource_v3.ListenerType, VersionInfo: ldsResp.VersionInfo, ResponseNonce: ldsResp.Nonce})

	// Change only the cluster set.
	set2 := clusterResources("c1", "c2")
	set2[resource_v3.ListenerType]["l1"] = &envoy_config_listener_v3.Listener{Name: "l1"}
	_, err = h.cache.Install(key, set2)
	require.NoError(t, err)

	resp := h.expectResponse(t)
	assert.Equal(t, resource_v3.ClusterType, resp.TypeUrl)
	assert.Equal(t, "00000000000000000002", resp.VersionInfo)

	// No Listener response follows.
	h.expectNoResponse(t)
}

// Changing only the subscription set is answered immediately at the
// current version.
func TestSubscriptionChangeResends(t *testing.T) {
	h := newHarness(t)

	_, err := h.cache.Install(xdscache.NodeKey{Team: "alpha"}, clusterResources("c1", "c2"))
	require.NoError(t, err)

	h.send(t, &envoy_service_discovery_v3.DiscoveryRequest{
		Node:          node("alpha"),
		TypeUrl:       resource_v3.ClusterType,
		ResourceNames: []string{"c1"},
	})
	resp := h.expectResponse(t)
	require.Len(t, resp.Resources, 1)

	// ACK and widen the subscription in one request.
	h.send(t, &envoy_service_discovery_v3.DiscoveryRequest{
		TypeUrl:       resource_v3.ClusterType,
		VersionInfo:   resp.VersionInfo,
		ResponseNonce: resp.Nonce,
		ResourceNames: []string{"c1", "c2"},
	})

	resp = h.expectResponse(t)
	assert.Equal(t, "00000000000000000001", resp.VersionInfo)
	assert.Len(t, resp.Resources, 2)
}

// An unacknowledged response is eventually resent at the latest
// version with a fresh nonce.
func TestWatchdogResend(t *testing.T) {
	h := newHarness(t, WithResendInterval(timeout.DurationSetting(50*time.Millisecond)))

	_, err := h.cache.Install(xdscache.NodeKey{Team: "alpha"}, clusterResources("c1"))
	require.NoError(t, err)

	h.send(t, &envoy_service_discovery_v3.DiscoveryRequest{
		Node:    node("alpha"),
		TypeUrl: resource_v3.ClusterType,
	})
	first := h.expectResponse(t)

	second := h.expectResponse(t)
	assert.Equal(t, first.VersionInfo, second.VersionInfo)
	assert.NotEqual(t, first.Nonce, second.Nonce)
}

func TestUnknownTypeURLClosesStream(t *testing.T) {
	h := newHarness(t)

	h.send(t, &envoy_service_discovery_v3.DiscoveryRequest{
		Node:    node("alpha"),
		TypeUrl: "type.googleapis.com/envoy.config.bogus.v3.Bogus",
	})
	h.expectStreamError(t, grpc_codes.InvalidArgument)
}

func TestUnknownTeamRejected(t *testing.T) {
	h := newHarness(t)

	h.send(t, &envoy_service_discovery_v3.DiscoveryRequest{
		Node:    node("ghosts"),
		TypeUrl: resource_v3.ClusterType,
	})
	h.expectStreamError(t, grpc_codes.PermissionDenied)
}

func TestMissingTeamMetadataRejected(t *testing.T) {
	h := newHarness(t)

	h.send(t, &envoy_service_discovery_v3.DiscoveryRequest{
		Node:    &envoy_config_core_v3.Node{Id: "node-1"},
		TypeUrl: resource_v3.ClusterType,
	})
	h.expectStreamError(t, grpc_codes.PermissionDenied)
}

// A subscriber that joins before the first install receives it as soon
// as it lands.
func TestSubscribeBeforeFirstInstall(t *testing.T) {
	h := newHarness(t)

	h.send(t, &envoy_service_discovery_v3.DiscoveryRequest{
		Node:    node("alpha"),
		TypeUrl: resource_v3.ClusterType,
	})
	h.expectNoResponse(t)

	_, err := h.cache.Install(xdscache.NodeKey{Team: "alpha"}, clusterResources("c1"))
	require.NoError(t, err)

	resp := h.expectResponse(t)
	assert.Equal(t, "00000000000000000001", resp.VersionInfo)
}
