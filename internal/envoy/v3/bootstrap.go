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
	"time"

	envoy_config_bootstrap_v3 "github.com/envoyproxy/go-control-plane/envoy/config/bootstrap/v3"
	envoy_config_cluster_v3 "github.com/envoyproxy/go-control-plane/envoy/config/cluster/v3"
	envoy_config_core_v3 "github.com/envoyproxy/go-control-plane/envoy/config/core/v3"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/rajeevramani/flowplane/internal/envoy"
	"github.com/rajeevramani/flowplane/internal/protobuf"
)

// BootstrapConfig holds the inputs for rendering a minimal Envoy
// bootstrap that connects a data plane node to this control plane.
type BootstrapConfig struct {
	NodeID          string
	Team            string
	APIDefinitionID string
	XDSAddress      string
	XDSPort         int
	AdminAddress    string
	AdminPort       int
}

// Bootstrap renders the bootstrap proto for a node. The node metadata
// carries the team, and optionally the API definition id for nodes
// that serve an isolated listener.
func Bootstrap(c *BootstrapConfig) *envoy_config_bootstrap_v3.Bootstrap {
	fields := map[string]*structpb.Value{
		"team": structpb.NewStringValue(c.Team),
	}
	if c.APIDefinitionID != "" {
		fields["api_definition_id"] = structpb.NewStringValue(c.APIDefinitionID)
	}

	adminAddress := c.AdminAddress
	if adminAddress == "" {
		adminAddress = "127.0.0.1"
	}
	adminPort := c.AdminPort
	if adminPort == 0 {
		adminPort = 9001
	}

	return &envoy_config_bootstrap_v3.Bootstrap{
		Node: &envoy_config_core_v3.Node{
			Id:       c.NodeID,
			Metadata: &structpb.Struct{Fields: fields},
		},
		Admin: &envoy_config_bootstrap_v3.Admin{
			Address: SocketAddress(adminAddress, adminPort),
		},
		DynamicResources: &envoy_config_bootstrap_v3.Bootstrap_DynamicResources{
			AdsConfig: &envoy_config_core_v3.ApiConfigSource{
				ApiType:             envoy_config_core_v3.ApiConfigSource_GRPC,
				TransportApiVersion: envoy_config_core_v3.ApiVersion_V3,
				GrpcServices: []*envoy_config_core_v3.GrpcService{{
					TargetSpecifier: &envoy_config_core_v3.GrpcService_EnvoyGrpc_{
						EnvoyGrpc: &envoy_config_core_v3.GrpcService_EnvoyGrpc{
							ClusterName: envoy.ControlPlaneCluster,
						},
					},
				}},
			},
			CdsConfig: ConfigSource(),
			LdsConfig: ConfigSource(),
		},
		StaticResources: &envoy_config_bootstrap_v3.Bootstrap_StaticResources{
			Clusters: []*envoy_config_cluster_v3.Cluster{{
				Name:           envoy.ControlPlaneCluster,
				ConnectTimeout: protobuf.Duration(5 * time.Second),
				ClusterDiscoveryType: &envoy_config_cluster_v3.Cluster_Type{
					Type: envoy_config_cluster_v3.Cluster_STRICT_DNS,
				},
				Http2ProtocolOptions: &envoy_config_core_v3.Http2ProtocolOptions{},
				LoadAssignment:       StaticClusterLoadAssignment(envoy.ControlPlaneCluster, c.XDSAddress, c.XDSPort),
			}},
		},
	}
}
