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
	"fmt"
)

// Listener protocols.
const (
	ProtocolHTTP = "http"
	ProtocolTCP  = "tcp"
)

// Filter kind for the HTTP connection manager entry in a filter chain.
// The terminal router filter is appended by the resource builder and
// must not appear in stored configuration.
const FilterKindHTTPConnectionManager = "http_connection_manager"

// ListenerSpec is the user supplied configuration of a listener.
type ListenerSpec struct {
	Address      string        `json:"address"`
	Port         int           `json:"port"`
	Protocol     string        `json:"protocol,omitempty"`
	FilterChains []FilterChain `json:"filter_chains"`
}

// FilterChain is an ordered list of network filters.
type FilterChain struct {
	Name    string           `json:"name,omitempty"`
	Filters []ListenerFilter `json:"filters"`
}

// ListenerFilter is one entry in a filter chain. For the HTTP
// connection manager kind, Config carries an HCMConfig.
type ListenerFilter struct {
	Name   string          `json:"name"`
	Kind   string          `json:"kind"`
	Config json.RawMessage `json:"config,omitempty"`
}

// HCMConfig is the configuration of the HTTP connection manager filter.
type HCMConfig struct {
	RouteConfigName string   `json:"route_config_name"`
	HTTPFilters     []string `json:"http_filters,omitempty"`
}

// HCM decodes the filter's HCMConfig. It returns an error for filters
// of a different kind.
func (f *ListenerFilter) HCM() (*HCMConfig, error) {
	if f.Kind != FilterKindHTTPConnectionManager {
		return nil, fmt.Errorf("filter %q is not an HTTP connection manager", f.Name)
	}
	var hcm HCMConfig
	if err := json.Unmarshal(f.Config, &hcm); err != nil {
		return nil, fmt.Errorf("filter %q: decoding config: %w", f.Name, err)
	}
	return &hcm, nil
}

// RouteConfigNames returns the route configuration names referenced by
// the spec's HTTP connection managers.
func (s *ListenerSpec) RouteConfigNames() []string {
	var names []string
	for _, chain := range s.FilterChains {
		for _, f := range chain.Filters {
			if f.Kind != FilterKindHTTPConnectionManager {
				continue
			}
			if hcm, err := f.HCM(); err == nil && hcm.RouteConfigName != "" {
				names = append(names, hcm.RouteConfigName)
			}
		}
	}
	return names
}

// Validate checks the structural validity of the spec.
func (s *ListenerSpec) Validate() error {
	if s.Address == "" {
		return validationErrorf("address", "address must not be empty")
	}
	if s.Port < 1 || s.Port > 65535 {
		return validationErrorf("port", "port %d out of range", s.Port)
	}
	switch s.Protocol {
	case "", ProtocolHTTP, ProtocolTCP:
	default:
		return validationErrorf("protocol", "unknown protocol %q", s.Protocol)
	}
	if len(s.FilterChains) == 0 {
		return validationErrorf("filter_chains", "at least one filter chain is required")
	}
	for i, chain := range s.FilterChains {
		if len(chain.Filters) == 0 {
			return validationErrorf(fmt.Sprintf("filter_chains[%d].filters", i), "at least one filter is required")
		}
		for j, f := range chain.Filters {
			field := fmt.Sprintf("filter_chains[%d].filters[%d]", i, j)
			if f.Name == "" {
				return validationErrorf(field+".name", "name must not be empty")
			}
			switch f.Kind {
			case FilterKindHTTPConnectionManager:
				hcm, err := f.HCM()
				if err != nil {
					return validationErrorf(field+".config", "%v", err)
				}
				if hcm.RouteConfigName == "" {
					return validationErrorf(field+".config.route_config_name", "route_config_name must not be empty")
				}
				for _, name := range hcm.HTTPFilters {
					if name == "envoy.filters.http.router" {
						return validationErrorf(field+".config.http_filters", "the router filter is appended automatically and must not be configured")
					}
				}
			default:
				return validationErrorf(field+".kind", "unknown filter kind %q", f.Kind)
			}
		}
	}
	return nil
}
