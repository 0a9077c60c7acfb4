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
	"encoding/json"
	"fmt"

	envoy_config_route_v3 "github.com/envoyproxy/go-control-plane/envoy/config/route/v3"
	envoy_filter_http_buffer_v3 "github.com/envoyproxy/go-control-plane/envoy/extensions/filters/http/buffer/v3"
	envoy_filter_http_cors_v3 "github.com/envoyproxy/go-control-plane/envoy/extensions/filters/http/cors/v3"
	envoy_filter_http_ext_authz_v3 "github.com/envoyproxy/go-control-plane/envoy/extensions/filters/http/ext_authz/v3"
	envoy_filter_http_local_ratelimit_v3 "github.com/envoyproxy/go-control-plane/envoy/extensions/filters/http/local_ratelimit/v3"
	envoy_filter_http_router_v3 "github.com/envoyproxy/go-control-plane/envoy/extensions/filters/http/router/v3"
	envoy_filter_network_http_connection_manager_v3 "github.com/envoyproxy/go-control-plane/envoy/extensions/filters/network/http_connection_manager/v3"
	"github.com/envoyproxy/go-control-plane/pkg/wellknown"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/anypb"

	"github.com/rajeevramani/flowplane/internal/model"
	"github.com/rajeevramani/flowplane/internal/protobuf"
)

// filterProtos maps a stored filter type to factories for its HTTP
// filter config proto and its per-route override proto. A nil perRoute
// factory means the filter has no distinct per-route message and uses
// the filter proto itself.
type filterProtos struct {
	filter   func() proto.Message
	perRoute func() proto.Message
}

var filterRegistry = map[string]filterProtos{
	model.FilterTypeLocalRateLimit: {
		filter: func() proto.Message { return &envoy_filter_http_local_ratelimit_v3.LocalRateLimit{} },
	},
	model.FilterTypeCORS: {
		filter:   func() proto.Message { return &envoy_filter_http_cors_v3.Cors{} },
		perRoute: func() proto.Message { return &envoy_filter_http_cors_v3.CorsPolicy{} },
	},
	model.FilterTypeExtAuthz: {
		filter:   func() proto.Message { return &envoy_filter_http_ext_authz_v3.ExtAuthz{} },
		perRoute: func() proto.Message { return &envoy_filter_http_ext_authz_v3.ExtAuthzPerRoute{} },
	},
	model.FilterTypeBuffer: {
		filter:   func() proto.Message { return &envoy_filter_http_buffer_v3.Buffer{} },
		perRoute: func() proto.Message { return &envoy_filter_http_buffer_v3.BufferPerRoute{} },
	},
}

// FilterTable indexes a team's filter rows and attachments for use
// during materialization.
type FilterTable struct {
	byID   map[string]*model.FilterRow
	byName map[string]*model.FilterRow
	scopes map[string][]*model.FilterAttachmentRow
}

// NewFilterTable builds a FilterTable from stored rows.
func NewFilterTable(filters []*model.FilterRow, attachments []*model.FilterAttachmentRow) *FilterTable {
	t := &FilterTable{
		byID:   map[string]*model.FilterRow{},
		byName: map[string]*model.FilterRow{},
		scopes: map[string][]*model.FilterAttachmentRow{},
	}
	for _, f := range filters {
		t.byID[f.ID] = f
		t.byName[f.Name] = f
	}
	for _, a := range attachments {
		key := scopeKey(a.Scope, a.ScopeID)
		t.scopes[key] = append(t.scopes[key], a)
	}
	return t
}

func scopeKey(scope model.AttachmentScope, scopeID string) string {
	return string(scope) + "/" + scopeID
}

// attachmentsFor returns the attachments bound to a scope.
func (t *FilterTable) attachmentsFor(scope model.AttachmentScope, scopeID string) []*model.FilterAttachmentRow {
	if t == nil {
		return nil
	}
	return t.scopes[scopeKey(scope, scopeID)]
}

func (t *FilterTable) filterByID(id string) *model.FilterRow {
	if t == nil {
		return nil
	}
	return t.byID[id]
}

func (t *FilterTable) filterByName(name string) *model.FilterRow {
	if t == nil {
		return nil
	}
	return t.byName[name]
}

// httpFilter builds the HCM chain entry for a filter row, using the
// attachment's override config when mode is "override".
func httpFilter(filter *model.FilterRow, att *model.FilterAttachmentRow) (*envoy_filter_network_http_connection_manager_v3.HttpFilter, error) {
	protos, ok := filterRegistry[filter.Type]
	if !ok {
		return nil, fmt.Errorf("unknown filter type %q", filter.Type)
	}

	config := filter.Config
	if att != nil && att.Mode == model.OverrideReplace && len(att.Config) > 0 {
		config = att.Config
	}

	msg := protos.filter()
	if err := unmarshalFilterConfig(config, msg); err != nil {
		return nil, fmt.Errorf("filter %q: %w", filter.Name, err)
	}

	return &envoy_filter_network_http_connection_manager_v3.HttpFilter{
		Name: filter.Type,
		ConfigType: &envoy_filter_network_http_connection_manager_v3.HttpFilter_TypedConfig{
			TypedConfig: protobuf.MustMarshalAny(msg),
		},
	}, nil
}

// perFilterConfig builds the typed_per_filter_config entry for an
// attachment at virtual host or route scope.
func perFilterConfig(filter *model.FilterRow, att *model.FilterAttachmentRow) (*anypb.Any, error) {
	if att.Mode == model.OverrideDisable {
		// The generic route-scoped disable wrapper works for every
		// filter Envoy knows about.
		return protobuf.MustMarshalAny(&envoy_config_route_v3.FilterConfig{Disabled: true}), nil
	}

	protos, ok := filterRegistry[filter.Type]
	if !ok {
		return nil, fmt.Errorf("unknown filter type %q", filter.Type)
	}

	factory := protos.perRoute
	if factory == nil {
		factory = protos.filter
	}

	config := filter.Config
	if att.Mode == model.OverrideReplace && len(att.Config) > 0 {
		config = att.Config
	}

	msg := factory()
	if err := unmarshalFilterConfig(config, msg); err != nil {
		return nil, fmt.Errorf("filter %q: %w", filter.Name, err)
	}
	return protobuf.MustMarshalAny(msg), nil
}

// typedPerFilterConfig resolves inline per-filter config entries keyed
// by filter type, as stored on route rules and weighted clusters.
func typedPerFilterConfig(raw map[string]json.RawMessage) (map[string]*anypb.Any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	out := make(map[string]*anypb.Any, len(raw))
	for filterType, config := range raw {
		protos, ok := filterRegistry[filterType]
		if !ok {
			return nil, fmt.Errorf("unknown filter type %q", filterType)
		}
		factory := protos.perRoute
		if factory == nil {
			factory = protos.filter
		}
		msg := factory()
		if err := unmarshalFilterConfig(config, msg); err != nil {
			return nil, fmt.Errorf("filter type %q: %w", filterType, err)
		}
		out[filterType] = protobuf.MustMarshalAny(msg)
	}
	return out, nil
}

func unmarshalFilterConfig(config json.RawMessage, msg proto.Message) error {
	if len(config) == 0 {
		return nil
	}
	if err := protojson.Unmarshal(config, msg); err != nil {
		return fmt.Errorf("decoding config: %w", err)
	}
	return nil
}

// RouterFilter is the terminal filter of every HTTP connection
// manager. It is appended automatically and must not be stored.
func RouterFilter() *envoy_filter_network_http_connection_manager_v3.HttpFilter {
	return &envoy_filter_network_http_connection_manager_v3.HttpFilter{
		Name: wellknown.Router,
		ConfigType: &envoy_filter_network_http_connection_manager_v3.HttpFilter_TypedConfig{
			TypedConfig: protobuf.MustMarshalAny(&envoy_filter_http_router_v3.Router{}),
		},
	}
}
