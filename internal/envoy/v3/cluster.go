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
	"sort"
	"time"

	envoy_config_cluster_v3 "github.com/envoyproxy/go-control-plane/envoy/config/cluster/v3"
	envoy_config_core_v3 "github.com/envoyproxy/go-control-plane/envoy/config/core/v3"
	envoy_transport_socket_tls_v3 "github.com/envoyproxy/go-control-plane/envoy/extensions/transport_sockets/tls/v3"
	envoy_type_v3 "github.com/envoyproxy/go-control-plane/envoy/type/v3"

	"github.com/rajeevramani/flowplane/internal/envoy"
	"github.com/rajeevramani/flowplane/internal/model"
	"github.com/rajeevramani/flowplane/internal/protobuf"
	"github.com/rajeevramani/flowplane/internal/sorter"
)

// defaultConnectTimeout applies when a cluster row does not set one.
const defaultConnectTimeout = 2 * time.Second

// BuildClusters converts cluster rows to Envoy Cluster resources,
// sorted by name. Malformed rows are dropped and reported.
func BuildClusters(rows []*model.ClusterRow) ([]*envoy_config_cluster_v3.Cluster, []Diagnostic) {
	var (
		clusters []*envoy_config_cluster_v3.Cluster
		diags    []Diagnostic
	)
	for _, row := range rows {
		c, diag := Cluster(row)
		if diag != nil {
			diags = append(diags, *diag)
			continue
		}
		clusters = append(clusters, c)
	}
	sort.Stable(sorter.For(clusters))
	return clusters, diags
}

// Cluster converts one cluster row. A non-nil Diagnostic means the row
// was dropped.
func Cluster(row *model.ClusterRow) (*envoy_config_cluster_v3.Cluster, *Diagnostic) {
	spec := row.Spec

	if len(spec.Endpoints) == 0 {
		d := dropf("cluster", row.Name, "endpoints", "no endpoints")
		return nil, &d
	}
	for _, ep := range spec.Endpoints {
		if ep.Port < 1 || ep.Port > 65535 {
			d := dropf("cluster", row.Name, "endpoints", "port %d out of range", ep.Port)
			return nil, &d
		}
	}

	connectTimeout, ok := secondsToDuration(spec.ConnectTimeoutSeconds)
	if !ok {
		d := dropf("cluster", row.Name, "connect_timeout_seconds", "negative timeout")
		return nil, &d
	}
	if connectTimeout == 0 {
		connectTimeout = defaultConnectTimeout
	}

	cluster := &envoy_config_cluster_v3.Cluster{
		Name:           row.Name,
		ConnectTimeout: protobuf.Duration(connectTimeout),
		LbPolicy:       lbPolicy(spec.LBPolicy),
		ClusterDiscoveryType: &envoy_config_cluster_v3.Cluster_Type{
			Type: envoy_config_cluster_v3.Cluster_EDS,
		},
		EdsClusterConfig: &envoy_config_cluster_v3.Cluster_EdsClusterConfig{
			EdsConfig:   ConfigSource(),
			ServiceName: envoy.ClusterLoadAssignmentName(row.Name),
		},
	}

	if hc := spec.HealthCheck; hc != nil {
		h, diag := healthCheck(row.Name, hc)
		if diag != nil {
			return nil, diag
		}
		cluster.HealthChecks = []*envoy_config_core_v3.HealthCheck{h}
		// Drain connections immediately when a health checked endpoint
		// is removed from the assignment.
		cluster.IgnoreHealthOnHostRemoval = true
	}

	if cb := spec.CircuitBreakers; cb != nil {
		cluster.CircuitBreakers = &envoy_config_cluster_v3.CircuitBreakers{
			Thresholds: []*envoy_config_cluster_v3.CircuitBreakers_Thresholds{{
				MaxConnections:     protobuf.UInt32OrNil(cb.MaxConnections),
				MaxPendingRequests: protobuf.UInt32OrNil(cb.MaxPendingRequests),
				MaxRequests:        protobuf.UInt32OrNil(cb.MaxRequests),
				MaxRetries:         protobuf.UInt32OrNil(cb.MaxRetries),
			}},
		}
	}

	if tls := spec.TLS; tls != nil {
		cluster.TransportSocket = UpstreamTLSTransportSocket(UpstreamTLSContext(tls))
	}

	return cluster, nil
}

// ConfigSource returns the config source pointing resources at the
// aggregated discovery stream that delivered them.
func ConfigSource() *envoy_config_core_v3.ConfigSource {
	return &envoy_config_core_v3.ConfigSource{
		ResourceApiVersion: envoy_config_core_v3.ApiVersion_V3,
		ConfigSourceSpecifier: &envoy_config_core_v3.ConfigSource_Ads{
			Ads: &envoy_config_core_v3.AggregatedConfigSource{},
		},
	}
}

func lbPolicy(strategy string) envoy_config_cluster_v3.Cluster_LbPolicy {
	switch strategy {
	case model.LBLeastRequest:
		return envoy_config_cluster_v3.Cluster_LEAST_REQUEST
	case model.LBRandom:
		return envoy_config_cluster_v3.Cluster_RANDOM
	case model.LBRingHash:
		return envoy_config_cluster_v3.Cluster_RING_HASH
	default:
		return envoy_config_cluster_v3.Cluster_ROUND_ROBIN
	}
}

func healthCheck(clusterName string, hc *model.HealthCheck) (*envoy_config_core_v3.HealthCheck, *Diagnostic) {
	interval, ok := secondsToDuration(hc.IntervalSeconds)
	if !ok {
		d := dropf("cluster", clusterName, "health_check.interval_seconds", "negative interval")
		return nil, &d
	}
	if interval == 0 {
		interval = 10 * time.Second
	}
	timeout, ok := secondsToDuration(hc.TimeoutSeconds)
	if !ok {
		d := dropf("cluster", clusterName, "health_check.timeout_seconds", "negative timeout")
		return nil, &d
	}
	if timeout == 0 {
		timeout = 2 * time.Second
	}

	host := hc.Host
	if host == "" {
		host = clusterName
	}

	return &envoy_config_core_v3.HealthCheck{
		Interval:           protobuf.Duration(interval),
		Timeout:            protobuf.Duration(timeout),
		UnhealthyThreshold: protobuf.UInt32OrNil(hc.UnhealthyThreshold),
		HealthyThreshold:   protobuf.UInt32OrNil(hc.HealthyThreshold),
		HealthChecker: &envoy_config_core_v3.HealthCheck_HttpHealthCheck_{
			HttpHealthCheck: &envoy_config_core_v3.HealthCheck_HttpHealthCheck{
				Path:            hc.Path,
				Host:            host,
				CodecClientType: envoy_type_v3.CodecClientType_HTTP1,
			},
		},
	}, nil
}

// UpstreamTLSContext builds the TLS context for an upstream cluster.
func UpstreamTLSContext(tls *model.ClusterTLS) *envoy_transport_socket_tls_v3.UpstreamTlsContext {
	context := &envoy_transport_socket_tls_v3.UpstreamTlsContext{
		CommonTlsContext: &envoy_transport_socket_tls_v3.CommonTlsContext{},
		Sni:              tls.SNI,
	}

	if tls.CACertPath != "" && !tls.InsecureSkipVerify {
		context.CommonTlsContext.ValidationContextType = &envoy_transport_socket_tls_v3.CommonTlsContext_ValidationContext{
			ValidationContext: &envoy_transport_socket_tls_v3.CertificateValidationContext{
				TrustedCa: &envoy_config_core_v3.DataSource{
					Specifier: &envoy_config_core_v3.DataSource_Filename{
						Filename: tls.CACertPath,
					},
				},
			},
		}
	}

	return context
}

// UpstreamTLSTransportSocket returns a custom transport socket using
// the provided TLS context.
func UpstreamTLSTransportSocket(tls *envoy_transport_socket_tls_v3.UpstreamTlsContext) *envoy_config_core_v3.TransportSocket {
	return &envoy_config_core_v3.TransportSocket{
		Name: "envoy.transport_sockets.tls",
		ConfigType: &envoy_config_core_v3.TransportSocket_TypedConfig{
			TypedConfig: protobuf.MustMarshalAny(tls),
		},
	}
}

// secondsToDuration converts a seconds value from a stored row to a
// duration with nanosecond precision. Zero means unset. The second
// return is false when the value is negative.
func secondsToDuration(seconds float64) (time.Duration, bool) {
	if seconds < 0 {
		return 0, false
	}
	return time.Duration(seconds * float64(time.Second)), true
}
