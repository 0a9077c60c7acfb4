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

package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validRouteSpec() RouteSpec {
	return RouteSpec{
		VirtualHosts: []VirtualHost{{
			Name:    "default",
			Domains: []string{"example.com"},
			Routes: []RouteRule{{
				Match:  RouteMatch{Path: PathMatch{Kind: PathPrefix, Value: "/"}},
				Action: RouteAction{Forward: &ForwardAction{Cluster: "backend"}},
			}},
		}},
	}
}

func TestRouteSpecValidate(t *testing.T) {
	tests := map[string]struct {
		mutate  func(*RouteSpec)
		wantErr string
	}{
		"valid": {
			mutate: func(*RouteSpec) {},
		},
		"no virtual hosts": {
			mutate:  func(s *RouteSpec) { s.VirtualHosts = nil },
			wantErr: "virtual_hosts",
		},
		"no domains": {
			mutate:  func(s *RouteSpec) { s.VirtualHosts[0].Domains = nil },
			wantErr: "domains",
		},
		"no action": {
			mutate: func(s *RouteSpec) {
				s.VirtualHosts[0].Routes[0].Action = RouteAction{}
			},
			wantErr: "exactly one of",
		},
		"two actions": {
			mutate: func(s *RouteSpec) {
				s.VirtualHosts[0].Routes[0].Action.Redirect = &RedirectAction{Host: "example.org"}
			},
			wantErr: "exactly one of",
		},
		"unknown path kind": {
			mutate: func(s *RouteSpec) {
				s.VirtualHosts[0].Routes[0].Match.Path.Kind = "glob"
			},
			wantErr: "unknown path match kind",
		},
		"empty forward cluster": {
			mutate: func(s *RouteSpec) {
				s.VirtualHosts[0].Routes[0].Action.Forward.Cluster = ""
			},
			wantErr: "cluster must not be empty",
		},
		"both rewrites": {
			mutate: func(s *RouteSpec) {
				s.VirtualHosts[0].Routes[0].Action.Forward.PrefixRewrite = "/a"
				s.VirtualHosts[0].Routes[0].Action.Forward.TemplateRewrite = "/b/{x}"
			},
			wantErr: "mutually exclusive",
		},
		"zero weights": {
			mutate: func(s *RouteSpec) {
				s.VirtualHosts[0].Routes[0].Action = RouteAction{
					Weighted: &WeightedAction{Clusters: []WeightedCluster{{Name: "a", Weight: 0}}},
				}
			},
			wantErr: "positive",
		},
		"total weight mismatch": {
			mutate: func(s *RouteSpec) {
				s.VirtualHosts[0].Routes[0].Action = RouteAction{
					Weighted: &WeightedAction{
						Clusters:    []WeightedCluster{{Name: "a", Weight: 10}, {Name: "b", Weight: 20}},
						TotalWeight: 100,
					},
				}
			},
			wantErr: "total_weight",
		},
		"bad redirect code": {
			mutate: func(s *RouteSpec) {
				s.VirtualHosts[0].Routes[0].Action = RouteAction{
					Redirect: &RedirectAction{Host: "example.org", Code: 999},
				}
			},
			wantErr: "unsupported redirect code",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			spec := validRouteSpec()
			tc.mutate(&spec)
			err := spec.Validate()
			if tc.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestRouteSpecClusterNames(t *testing.T) {
	spec := RouteSpec{
		VirtualHosts: []VirtualHost{{
			Name:    "default",
			Domains: []string{"example.com"},
			Routes: []RouteRule{
				{
					Match:  RouteMatch{Path: PathMatch{Kind: PathPrefix, Value: "/"}},
					Action: RouteAction{Forward: &ForwardAction{Cluster: "backend"}},
				},
				{
					Match: RouteMatch{Path: PathMatch{Kind: PathPrefix, Value: "/split"}},
					Action: RouteAction{Weighted: &WeightedAction{
						Clusters: []WeightedCluster{
							{Name: "canary", Weight: 10},
							{Name: "backend", Weight: 90},
						},
					}},
				},
				{
					Match:  RouteMatch{Path: PathMatch{Kind: PathExact, Value: "/moved"}},
					Action: RouteAction{Redirect: &RedirectAction{Host: "example.org"}},
				},
			},
		}},
	}

	assert.Equal(t, []string{"backend", "canary"}, spec.ClusterNames())
}
