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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rajeevramani/flowplane/internal/envoy"
)

func TestBootstrap(t *testing.T) {
	b := Bootstrap(&BootstrapConfig{
		NodeID:          "node-1",
		Team:            "alpha",
		APIDefinitionID: "def-1",
		XDSAddress:      "flowplane.internal",
		XDSPort:         8001,
	})

	assert.Equal(t, "node-1", b.Node.Id)
	fields := b.Node.Metadata.Fields
	assert.Equal(t, "alpha", fields["team"].GetStringValue())
	assert.Equal(t, "def-1", fields["api_definition_id"].GetStringValue())

	require.Len(t, b.StaticResources.Clusters, 1)
	assert.Equal(t, envoy.ControlPlaneCluster, b.StaticResources.Clusters[0].Name)
	assert.Equal(t, uint32(8001), b.StaticResources.Clusters[0].LoadAssignment.
		Endpoints[0].LbEndpoints[0].GetEndpoint().Address.GetSocketAddress().GetPortValue())

	require.NotNil(t, b.DynamicResources.AdsConfig)
	require.Len(t, b.DynamicResources.AdsConfig.GrpcServices, 1)
}

func TestBootstrapOmitsAPIDefinitionWhenUnset(t *testing.T) {
	b := Bootstrap(&BootstrapConfig{
		NodeID:     "node-1",
		Team:       "alpha",
		XDSAddress: "flowplane.internal",
		XDSPort:    8001,
	})

	_, ok := b.Node.Metadata.Fields["api_definition_id"]
	assert.False(t, ok)
}
