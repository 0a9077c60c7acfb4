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

// Package envoy holds naming conventions shared by the typed resource
// builders and the code that consumes the resources they emit.
package envoy

import "strings"

// ControlPlaneCluster is the name Envoy bootstrap configs use for the
// cluster pointing back at this control plane's ADS endpoint.
const ControlPlaneCluster = "flowplane"

// ClusterLoadAssignmentName returns the EDS resource name for a
// cluster. Snapshots are already partitioned per team, so the stored
// cluster name is used unchanged. This is the contract between the
// CDS resources (EdsClusterConfig.ServiceName) and the EDS resources.
func ClusterLoadAssignmentName(clusterName string) string {
	return clusterName
}

// StatPrefix derives a stats-safe prefix from a resource name.
func StatPrefix(name string) string {
	return strings.NewReplacer("/", "_", ".", "_").Replace(name)
}
