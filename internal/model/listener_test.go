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
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hcmFilter(routeConfig string) ListenerFilter {
	cfg, _ := json.Marshal(HCMConfig{RouteConfigName: routeConfig})
	return ListenerFilter{
		Name:   "http",
		Kind:   FilterKindHTTPConnectionManager,
		Config: cfg,
	}
}

func validListenerSpec() ListenerSpec {
	return ListenerSpec{
		Address:  "0.0.0.0",
		Port:     8080,
		Protocol: ProtocolHTTP,
		FilterChains: []FilterChain{{
			Filters: []ListenerFilter{hcmFilter("default-routes")},
		}},
	}
}

func TestListenerSpecValidate(t *testing.T) {
	tests := map[string]struct {
		mutate  func(*ListenerSpec)
		wantErr string
	}{
		"valid": {
			mutate: func(*ListenerSpec) {},
		},
		"empty address": {
			mutate:  func(s *ListenerSpec) { s.Address = "" },
			wantErr: "address",
		},
		"port out of range": {
			mutate:  func(s *ListenerSpec) { s.Port = 70000 },
			wantErr: "out of range",
		},
		"negative port": {
			mutate:  func(s *ListenerSpec) { s.Port = -1 },
			wantErr: "out of range",
		},
		"no filter chains": {
			mutate:  func(s *ListenerSpec) { s.FilterChains = nil },
			wantErr: "filter chain",
		},
		"missing route config name": {
			mutate: func(s *ListenerSpec) {
				s.FilterChains[0].Filters[0] = hcmFilter("")
			},
			wantErr: "route_config_name",
		},
		"stored router filter": {
			mutate: func(s *ListenerSpec) {
				cfg, _ := json.Marshal(HCMConfig{
					RouteConfigName: "default-routes",
					HTTPFilters:     []string{"envoy.filters.http.router"},
				})
				s.FilterChains[0].Filters[0].Config = cfg
			},
			wantErr: "appended automatically",
		},
		"unknown filter kind": {
			mutate: func(s *ListenerSpec) {
				s.FilterChains[0].Filters[0].Kind = "tcp_proxy"
			},
			wantErr: "unknown filter kind",
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			spec := validListenerSpec()
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

func TestListenerSpecRouteConfigNames(t *testing.T) {
	spec := validListenerSpec()
	assert.Equal(t, []string{"default-routes"}, spec.RouteConfigNames())
}

func TestValidateAttachment(t *testing.T) {
	// local_ratelimit supports every mode.
	require.NoError(t, ValidateAttachment(FilterTypeLocalRateLimit, OverrideUseBase))
	require.NoError(t, ValidateAttachment(FilterTypeLocalRateLimit, OverrideDisable))
	require.NoError(t, ValidateAttachment(FilterTypeLocalRateLimit, OverrideReplace))

	// ext_authz can only be disabled per scope.
	require.NoError(t, ValidateAttachment(FilterTypeExtAuthz, OverrideDisable))
	require.Error(t, ValidateAttachment(FilterTypeExtAuthz, OverrideReplace))

	// Unknown filter types can not be attached at all.
	require.Error(t, ValidateAttachment("envoy.filters.http.made_up", OverrideUseBase))

	// Unknown modes are rejected.
	require.Error(t, ValidateAttachment(FilterTypeLocalRateLimit, OverrideMode("sideways")))
}
