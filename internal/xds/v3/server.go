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

// Package v3 implements the v3 Aggregated Discovery Service in the
// state-of-the-world variant. One bidirectional stream carries the
// cluster, endpoint, listener and route types; each type keeps its own
// subscription and ACK state.
package v3

import (
	"context"
	"fmt"
	"time"

	envoy_service_discovery_v3 "github.com/envoyproxy/go-control-plane/envoy/service/discovery/v3"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/rajeevramani/flowplane/internal/timeout"
	"github.com/rajeevramani/flowplane/internal/xds"
	"github.com/rajeevramani/flowplane/internal/xdscache"
)

// defaultResendInterval is the watchdog after which an unacknowledged
// response may be resent at the latest version with a fresh nonce.
const defaultResendInterval = 30 * time.Second

// StreamMetrics receives stream lifecycle observations. Implementations
// must be safe for concurrent use.
type StreamMetrics interface {
	StreamOpened(team string)
	StreamClosed(team string)
	NackRecorded(team, typeURL string)
}

// NackSink receives a record of every NACK for auditing.
type NackSink func(ctx context.Context, team, typeURL, version, detail string)

// Server serves the aggregated discovery stream from a SnapshotCache.
type Server struct {
	envoy_service_discovery_v3.UnimplementedAggregatedDiscoveryServiceServer

	logrus.FieldLogger

	cache  *xdscache.SnapshotCache
	router *xds.NodeRouter

	resend  time.Duration // zero disables the watchdog
	metrics StreamMetrics
	nacks   NackSink

	connections xds.Counter
}

// Option configures a Server.
type Option func(*Server)

// WithResendInterval sets the unacknowledged-response watchdog.
func WithResendInterval(setting timeout.Setting) Option {
	return func(s *Server) {
		switch {
		case setting.IsDisabled():
			s.resend = 0
		case setting.UseDefault():
			s.resend = defaultResendInterval
		default:
			s.resend = setting.Duration()
		}
	}
}

// WithStreamMetrics wires stream observations into a metrics sink.
func WithStreamMetrics(m StreamMetrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithNackSink wires NACK records into an audit sink.
func WithNackSink(sink NackSink) Option {
	return func(s *Server) { s.nacks = sink }
}

// NewServer creates the ADS handler.
func NewServer(log logrus.FieldLogger, cache *xdscache.SnapshotCache, router *xds.NodeRouter, opts ...Option) *Server {
	s := &Server{
		FieldLogger: log,
		cache:       cache,
		router:      router,
		resend:      defaultResendInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// StreamAggregatedResources processes one ADS stream.
func (s *Server) StreamAggregatedResources(stream envoy_service_discovery_v3.AggregatedDiscoveryService_StreamAggregatedResourcesServer) error {
	return s.stream(stream)
}

// DeltaAggregatedResources is not implemented; only the
// state-of-the-world variant is served.
func (s *Server) DeltaAggregatedResources(envoy_service_discovery_v3.AggregatedDiscoveryService_DeltaAggregatedResourcesServer) error {
	return status.Error(codes.Unimplemented, "incremental xDS is not supported")
}

// Helper function to log request details in the stream loop.
func logDiscoveryRequestDetails(l logrus.FieldLogger, req *envoy_service_discovery_v3.DiscoveryRequest) logrus.FieldLogger {
	log := l.WithField("version_info", req.VersionInfo).WithField("response_nonce", req.ResponseNonce)
	if req.Node != nil {
		log = log.WithField("node_id", req.Node.Id)

		if bv := req.Node.GetUserAgentBuildVersion(); bv != nil && bv.Version != nil {
			log = log.WithField("node_version", fmt.Sprintf("v%d.%d.%d", bv.Version.MajorNumber, bv.Version.MinorNumber, bv.Version.Patch))
		}
	}

	log = log.WithField("resource_names", req.ResourceNames).WithField("type_url", req.GetTypeUrl())

	log.Debug("handling v3 xDS resource request")
	return log
}
