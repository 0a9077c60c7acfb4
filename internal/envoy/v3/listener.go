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
	"fmt"
	"sort"

	envoy_config_listener_v3 "github.com/envoyproxy/go-control-plane/envoy/config/listener/v3"
	envoy_filter_network_http_connection_manager_v3 "github.com/envoyproxy/go-control-plane/envoy/extensions/filters/network/http_connection_manager/v3"
	"github.com/envoyproxy/go-control-plane/pkg/wellknown"

	"github.com/rajeevramani/flowplane/internal/envoy"
	"github.com/rajeevramani/flowplane/internal/model"
	"github.com/rajeevramani/flowplane/internal/protobuf"
	"github.com/rajeevramani/flowplane/internal/sorter"
)

// BuildListeners converts listener rows to Envoy Listener resources,
// sorted by name. A row whose HTTP connection manager references a
// route configuration outside knownRouteConfigs is dropped whole and
// reported; dependents keep being served from the previous snapshot
// until the reference resolves.
func BuildListeners(rows []*model.ListenerRow, knownRouteConfigs map[string]bool, filters *FilterTable) ([]*envoy_config_listener_v3.Listener, []Diagnostic) {
	var (
		listeners []*envoy_config_listener_v3.Listener
		diags     []Diagnostic
	)
	for _, row := range rows {
		l, diag := Listener(row, knownRouteConfigs, filters)
		if diag != nil {
			diags = append(diags, *diag)
			continue
		}
		listeners = append(listeners, l)
	}
	sort.Stable(sorter.For(listeners))
	return listeners, diags
}

// Listener converts one listener row. A non-nil Diagnostic means the
// row was dropped.
func Listener(row *model.ListenerRow, knownRouteConfigs map[string]bool, filters *FilterTable) (*envoy_config_listener_v3.Listener, *Diagnostic) {
	spec := row.Spec

	if spec.Port < 1 || spec.Port > 65535 {
		d := dropf("listener", row.Name, "port", "port %d out of range", spec.Port)
		return nil, &d
	}

	out := &envoy_config_listener_v3.Listener{
		Name:    row.Name,
		Address: SocketAddress(spec.Address, spec.Port),
	}

	for i, chain := range spec.FilterChains {
		var chainFilters []*envoy_config_listener_v3.Filter
		for _, f := range chain.Filters {
			switch f.Kind {
			case model.FilterKindHTTPConnectionManager:
				hcm, err := f.HCM()
				if err != nil {
					d := dropf("listener", row.Name, fmt.Sprintf("filter_chains[%d]", i), "%v", err)
					return nil, &d
				}
				if !knownRouteConfigs[hcm.RouteConfigName] {
					d := dropf("listener", row.Name, fmt.Sprintf("filter_chains[%d]", i), "references unknown route configuration %q", hcm.RouteConfigName)
					return nil, &d
				}
				filter, err := httpConnectionManager(row.Name, hcm, filters)
				if err != nil {
					d := dropf("listener", row.Name, fmt.Sprintf("filter_chains[%d]", i), "%v", err)
					return nil, &d
				}
				chainFilters = append(chainFilters, filter)
			default:
				d := dropf("listener", row.Name, fmt.Sprintf("filter_chains[%d]", i), "unknown filter kind %q", f.Kind)
				return nil, &d
			}
		}
		out.FilterChains = append(out.FilterChains, &envoy_config_listener_v3.FilterChain{
			Name:    chain.Name,
			Filters: chainFilters,
		})
	}

	return out, nil
}

// httpConnectionManager assembles the HCM filter for a listener. The
// HTTP filter chain is: the filters the row names, then the team's
// listener-scoped attachments, then the terminal router filter.
func httpConnectionManager(listenerName string, hcm *model.HCMConfig, filters *FilterTable) (*envoy_config_listener_v3.Filter, error) {
	var httpFilters []*envoy_filter_network_http_connection_manager_v3.HttpFilter
	seen := map[string]bool{}

	for _, name := range hcm.HTTPFilters {
		filter := filters.filterByName(name)
		if filter == nil {
			return nil, fmt.Errorf("references unknown filter %q", name)
		}
		hf, err := httpFilter(filter, nil)
		if err != nil {
			return nil, err
		}
		httpFilters = append(httpFilters, hf)
		seen[filter.ID] = true
	}

	atts := filters.attachmentsFor(model.ScopeListener, listenerName)
	sort.Slice(atts, func(i, j int) bool { return atts[i].FilterID < atts[j].FilterID })
	for _, att := range atts {
		if att.Mode == model.OverrideDisable || seen[att.FilterID] {
			continue
		}
		filter := filters.filterByID(att.FilterID)
		if filter == nil {
			return nil, fmt.Errorf("attachment references unknown filter %q", att.FilterID)
		}
		hf, err := httpFilter(filter, att)
		if err != nil {
			return nil, err
		}
		httpFilters = append(httpFilters, hf)
		seen[filter.ID] = true
	}

	httpFilters = append(httpFilters, RouterFilter())

	manager := &envoy_filter_network_http_connection_manager_v3.HttpConnectionManager{
		StatPrefix: envoy.StatPrefix(listenerName),
		RouteSpecifier: &envoy_filter_network_http_connection_manager_v3.HttpConnectionManager_Rds{
			Rds: &envoy_filter_network_http_connection_manager_v3.Rds{
				RouteConfigName: hcm.RouteConfigName,
				ConfigSource:    ConfigSource(),
			},
		},
		HttpFilters: httpFilters,
	}

	return &envoy_config_listener_v3.Filter{
		Name: wellknown.HTTPConnectionManager,
		ConfigType: &envoy_config_listener_v3.Filter_TypedConfig{
			TypedConfig: protobuf.MustMarshalAny(manager),
		},
	}, nil
}
