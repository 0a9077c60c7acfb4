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
	envoy_service_discovery_v3 "github.com/envoyproxy/go-control-plane/envoy/service/discovery/v3"
	grpc_middleware "github.com/grpc-ecosystem/go-grpc-middleware"
	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"github.com/prometheus/client_golang/prometheus"
	"google.golang.org/grpc"
)

// Server is the aggregated discovery handler.
type Server interface {
	envoy_service_discovery_v3.AggregatedDiscoveryServiceServer
}

// RegisterServer registers the given xDS protocol Server with the gRPC
// runtime. If registry is non-nil gRPC server metrics will be
// automatically configured and enabled.
func RegisterServer(srv Server, registry *prometheus.Registry, opts ...grpc.ServerOption) *grpc.Server {
	var metrics *grpc_prometheus.ServerMetrics

	if registry != nil {
		metrics = grpc_prometheus.NewServerMetrics()
		registry.MustRegister(metrics)

		opts = append(opts,
			grpc.StreamInterceptor(grpc_middleware.ChainStreamServer(
				metrics.StreamServerInterceptor(),
			)),
			grpc.UnaryInterceptor(grpc_middleware.ChainUnaryServer(
				metrics.UnaryServerInterceptor(),
			)),
		)
	}

	g := grpc.NewServer(opts...)

	envoy_service_discovery_v3.RegisterAggregatedDiscoveryServiceServer(g, srv)

	if metrics != nil {
		metrics.InitializeMetrics(g)
	}

	return g
}
