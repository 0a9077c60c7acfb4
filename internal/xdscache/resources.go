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
	envoy_config_cluster_v3 "github.com/envoyproxy/go-control-plane/envoy/config/cluster/v3"
	envoy_config_endpoint_v3 "github.com/envoyproxy/go-control-plane/envoy/config/endpoint/v3"
	envoy_config_listener_v3 "github.com/envoyproxy/go-control-plane/envoy/config/listener/v3"
	envoy_config_route_v3 "github.com/envoyproxy/go-control-plane/envoy/config/route/v3"
	resource_v3 "github.com/envoyproxy/go-control-plane/pkg/resource/v3"
	"google.golang.org/protobuf/proto"
)

// NewResourceSet arranges built resources by type URL and name, ready
// for Install. Every served type is present, possibly empty, so
// removals hash as changes.
func NewResourceSet(
	clusters []*envoy_config_cluster_v3.Cluster,
	endpoints []*envoy_config_endpoint_v3.ClusterLoadAssignment,
	routes []*envoy_config_route_v3.RouteConfiguration,
	listeners []*envoy_config_listener_v3.Listener,
) ResourceSet {
	set := ResourceSet{
		resource_v3.ClusterType:  map[string]proto.Message{},
		resource_v3.EndpointType: map[string]proto.Message{},
		resource_v3.RouteType:    map[string]proto.Message{},
		resource_v3.ListenerType: map[string]proto.Message{},
	}
	for _, c := range clusters {
		set[resource_v3.ClusterType][c.Name] = c
	}
	for _, e := range endpoints {
		set[resource_v3.EndpointType][e.ClusterName] = e
	}
	for _, r := range routes {
		set[resource_v3.RouteType][r.Name] = r
	}
	for _, l := range listeners {
		set[resource_v3.ListenerType][l.Name] = l
	}
	return set
}
