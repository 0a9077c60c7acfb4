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

	envoy_config_core_v3 "github.com/envoyproxy/go-control-plane/envoy/config/core/v3"
	envoy_config_endpoint_v3 "github.com/envoyproxy/go-control-plane/envoy/config/endpoint/v3"

	"github.com/rajeevramani/flowplane/internal/envoy"
	"github.com/rajeevramani/flowplane/internal/model"
	"github.com/rajeevramani/flowplane/internal/sorter"
)

// BuildEndpoints converts cluster rows to ClusterLoadAssignment
// resources, sorted by cluster name. A row whose Cluster conversion
// would fail is dropped here too so CDS and EDS stay consistent.
func BuildEndpoints(rows []*model.ClusterRow) ([]*envoy_config_endpoint_v3.ClusterLoadAssignment, []Diagnostic) {
	var (
		assignments []*envoy_config_endpoint_v3.ClusterLoadAssignment
		diags       []Diagnostic
	)
	for _, row := range rows {
		if _, diag := Cluster(row); diag != nil {
			diags = append(diags, *diag)
			continue
		}
		assignments = append(assignments, ClusterLoadAssignment(row))
	}
	sort.Stable(sorter.For(assignments))
	return assignments, diags
}

// ClusterLoadAssignment converts a cluster row's endpoints into the
// EDS resource its Cluster references.
func ClusterLoadAssignment(row *model.ClusterRow) *envoy_config_endpoint_v3.ClusterLoadAssignment {
	addrs := make([]*envoy_config_core_v3.Address, 0, len(row.Spec.Endpoints))
	for _, ep := range row.Spec.Endpoints {
		addrs = append(addrs, SocketAddress(ep.Host, ep.Port))
	}
	return &envoy_config_endpoint_v3.ClusterLoadAssignment{
		ClusterName: envoy.ClusterLoadAssignmentName(row.Name),
		Endpoints:   Endpoints(addrs...),
	}
}

// LBEndpoint creates a new LbEndpoint.
func LBEndpoint(addr *envoy_config_core_v3.Address) *envoy_config_endpoint_v3.LbEndpoint {
	return &envoy_config_endpoint_v3.LbEndpoint{
		HostIdentifier: &envoy_config_endpoint_v3.LbEndpoint_Endpoint{
			Endpoint: &envoy_config_endpoint_v3.Endpoint{
				Address: addr,
			},
		},
	}
}

// Endpoints returns a slice of LocalityLbEndpoints. The slice contains
// one entry, with one LbEndpoint per Address supplied.
func Endpoints(addrs ...*envoy_config_core_v3.Address) []*envoy_config_endpoint_v3.LocalityLbEndpoints {
	lbendpoints := make([]*envoy_config_endpoint_v3.LbEndpoint, 0, len(addrs))
	for _, addr := range addrs {
		lbendpoints = append(lbendpoints, LBEndpoint(addr))
	}
	return []*envoy_config_endpoint_v3.LocalityLbEndpoints{{
		LbEndpoints: lbendpoints,
	}}
}

// StaticClusterLoadAssignment builds the load assignment for a
// statically addressed cluster, such as the bootstrap's control plane
// cluster.
func StaticClusterLoadAssignment(clusterName, address string, port int) *envoy_config_endpoint_v3.ClusterLoadAssignment {
	return &envoy_config_endpoint_v3.ClusterLoadAssignment{
		ClusterName: clusterName,
		Endpoints:   Endpoints(SocketAddress(address, port)),
	}
}

// SocketAddress returns a TCP socket address.
func SocketAddress(address string, port int) *envoy_config_core_v3.Address {
	return &envoy_config_core_v3.Address{
		Address: &envoy_config_core_v3.Address_SocketAddress{
			SocketAddress: &envoy_config_core_v3.SocketAddress{
				Protocol: envoy_config_core_v3.SocketAddress_TCP,
				Address:  address,
				PortSpecifier: &envoy_config_core_v3.SocketAddress_PortValue{
					PortValue: uint32(port), //nolint:gosec // range checked by callers
				},
			},
		},
	}
}
