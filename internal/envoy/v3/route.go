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
	"strconv"

	envoy_config_core_v3 "github.com/envoyproxy/go-control-plane/envoy/config/core/v3"
	envoy_config_route_v3 "github.com/envoyproxy/go-control-plane/envoy/config/route/v3"
	envoy_path_match_uri_template_v3 "github.com/envoyproxy/go-control-plane/envoy/extensions/path/match/uri_template/v3"
	envoy_path_rewrite_uri_template_v3 "github.com/envoyproxy/go-control-plane/envoy/extensions/path/rewrite/uri_template/v3"
	envoy_type_matcher_v3 "github.com/envoyproxy/go-control-plane/envoy/type/matcher/v3"
	"google.golang.org/protobuf/types/known/anypb"

	"github.com/rajeevramani/flowplane/internal/model"
	"github.com/rajeevramani/flowplane/internal/protobuf"
	"github.com/rajeevramani/flowplane/internal/sorter"
)

const (
	uriTemplateMatcherName  = "envoy.path.match.uri_template.uri_template_matcher"
	uriTemplateRewriterName = "envoy.path.rewrite.uri_template.uri_template_rewriter"
)

// BuildRoutes converts route rows to Envoy RouteConfiguration
// resources, sorted by name. A row that references a cluster outside
// knownClusters, or that carries an undecodable filter config, is
// dropped whole and reported; the remaining rows are unaffected.
func BuildRoutes(rows []*model.RouteRow, knownClusters map[string]bool, filters *FilterTable) ([]*envoy_config_route_v3.RouteConfiguration, []Diagnostic) {
	var (
		configs []*envoy_config_route_v3.RouteConfiguration
		diags   []Diagnostic
	)
	for _, row := range rows {
		rc, diag := RouteConfiguration(row, knownClusters, filters)
		if diag != nil {
			diags = append(diags, *diag)
			continue
		}
		configs = append(configs, rc)
	}
	sort.Stable(sorter.For(configs))
	return configs, diags
}

// RouteConfiguration converts one route row. A non-nil Diagnostic
// means the row was dropped.
func RouteConfiguration(row *model.RouteRow, knownClusters map[string]bool, filters *FilterTable) (*envoy_config_route_v3.RouteConfiguration, *Diagnostic) {
	for _, name := range row.Spec.ClusterNames() {
		if !knownClusters[name] {
			d := dropf("route", row.Name, "action", "references unknown cluster %q", name)
			return nil, &d
		}
	}

	config := &envoy_config_route_v3.RouteConfiguration{Name: row.Name}
	for _, vh := range row.Spec.VirtualHosts {
		evh, err := virtualHost(row, &vh, filters)
		if err != nil {
			d := dropf("route", row.Name, fmt.Sprintf("virtual_hosts/%s", vh.Name), "%v", err)
			return nil, &d
		}
		config.VirtualHosts = append(config.VirtualHosts, evh)
	}
	return config, nil
}

func virtualHost(row *model.RouteRow, vh *model.VirtualHost, filters *FilterTable) (*envoy_config_route_v3.VirtualHost, error) {
	evh := &envoy_config_route_v3.VirtualHost{
		Name:    vh.Name,
		Domains: vh.Domains,
	}

	for i := range vh.Routes {
		rule := &vh.Routes[i]
		er, err := routeRule(rule)
		if err != nil {
			return nil, fmt.Errorf("routes[%d]: %w", i, err)
		}

		perFilter, err := attachmentConfigs(filters, model.ScopeRoute, routeScopeID(row.Name, vh.Name, i))
		if err != nil {
			return nil, fmt.Errorf("routes[%d]: %w", i, err)
		}
		for name, cfg := range perFilter {
			if er.TypedPerFilterConfig == nil {
				er.TypedPerFilterConfig = map[string]*anypb.Any{}
			}
			er.TypedPerFilterConfig[name] = cfg
		}

		evh.Routes = append(evh.Routes, er)
	}

	perFilter, err := attachmentConfigs(filters, model.ScopeVirtualHost, vhostScopeID(row.Name, vh.Name))
	if err != nil {
		return nil, err
	}
	if len(perFilter) > 0 {
		evh.TypedPerFilterConfig = perFilter
	}

	return evh, nil
}

// vhostScopeID is the attachment scope id of a virtual host.
func vhostScopeID(routeName, vhostName string) string {
	return routeName + "/" + vhostName
}

// routeScopeID is the attachment scope id of a single route rule.
func routeScopeID(routeName, vhostName string, index int) string {
	return routeName + "/" + vhostName + "/" + strconv.Itoa(index)
}

// attachmentConfigs resolves the filter attachments bound to a scope
// into typed_per_filter_config entries, keyed by filter type.
func attachmentConfigs(filters *FilterTable, scope model.AttachmentScope, scopeID string) (map[string]*anypb.Any, error) {
	atts := filters.attachmentsFor(scope, scopeID)
	if len(atts) == 0 {
		return nil, nil
	}
	out := map[string]*anypb.Any{}
	for _, att := range atts {
		filter := filters.filterByID(att.FilterID)
		if filter == nil {
			return nil, fmt.Errorf("attachment references unknown filter %q", att.FilterID)
		}
		if att.Mode == model.OverrideUseBase {
			// Inherit from the parent scope; nothing to emit here.
			continue
		}
		cfg, err := perFilterConfig(filter, att)
		if err != nil {
			return nil, err
		}
		out[filter.Type] = cfg
	}
	return out, nil
}

func routeRule(rule *model.RouteRule) (*envoy_config_route_v3.Route, error) {
	match, err := RouteMatch(&rule.Match)
	if err != nil {
		return nil, err
	}

	er := &envoy_config_route_v3.Route{Match: match}

	inline, err := typedPerFilterConfig(rule.TypedPerFilterConfig)
	if err != nil {
		return nil, err
	}
	if len(inline) > 0 {
		er.TypedPerFilterConfig = inline
	}

	switch {
	case rule.Action.Forward != nil:
		action, err := forwardAction(rule.Action.Forward)
		if err != nil {
			return nil, err
		}
		er.Action = action
	case rule.Action.Weighted != nil:
		action, err := weightedAction(rule.Action.Weighted)
		if err != nil {
			return nil, err
		}
		er.Action = action
	case rule.Action.Redirect != nil:
		er.Action = redirectAction(rule.Action.Redirect)
	default:
		return nil, fmt.Errorf("route has no action")
	}

	return er, nil
}

// RouteMatch translates a stored match into its Envoy variant.
func RouteMatch(m *model.RouteMatch) (*envoy_config_route_v3.RouteMatch, error) {
	match := &envoy_config_route_v3.RouteMatch{
		Headers:         headerMatchers(m.Headers),
		QueryParameters: queryParamMatchers(m.QueryParams),
	}

	switch m.Path.Kind {
	case model.PathExact:
		match.PathSpecifier = &envoy_config_route_v3.RouteMatch_Path{Path: m.Path.Value}
	case model.PathPrefix:
		match.PathSpecifier = &envoy_config_route_v3.RouteMatch_Prefix{Prefix: m.Path.Value}
	case model.PathRegex:
		match.PathSpecifier = &envoy_config_route_v3.RouteMatch_SafeRegex{
			SafeRegex: &envoy_type_matcher_v3.RegexMatcher{Regex: m.Path.Value},
		}
	case model.PathTemplate:
		match.PathSpecifier = &envoy_config_route_v3.RouteMatch_PathMatchPolicy{
			PathMatchPolicy: &envoy_config_core_v3.TypedExtensionConfig{
				Name: uriTemplateMatcherName,
				TypedConfig: protobuf.MustMarshalAny(&envoy_path_match_uri_template_v3.UriTemplateMatchConfig{
					PathTemplate: m.Path.Value,
				}),
			},
		}
	default:
		return nil, fmt.Errorf("unknown path match kind %q", m.Path.Kind)
	}

	return match, nil
}

func headerMatchers(headers []model.HeaderMatch) []*envoy_config_route_v3.HeaderMatcher {
	var matchers []*envoy_config_route_v3.HeaderMatcher
	for _, h := range headers {
		matcher := &envoy_config_route_v3.HeaderMatcher{Name: h.Name}
		switch h.Kind {
		case model.HeaderPresent:
			matcher.HeaderMatchSpecifier = &envoy_config_route_v3.HeaderMatcher_PresentMatch{PresentMatch: true}
		case model.HeaderRegex:
			matcher.HeaderMatchSpecifier = &envoy_config_route_v3.HeaderMatcher_StringMatch{
				StringMatch: &envoy_type_matcher_v3.StringMatcher{
					MatchPattern: &envoy_type_matcher_v3.StringMatcher_SafeRegex{
						SafeRegex: &envoy_type_matcher_v3.RegexMatcher{Regex: h.Value},
					},
				},
			}
		case model.HeaderContains:
			matcher.HeaderMatchSpecifier = &envoy_config_route_v3.HeaderMatcher_StringMatch{
				StringMatch: &envoy_type_matcher_v3.StringMatcher{
					MatchPattern: &envoy_type_matcher_v3.StringMatcher_Contains{Contains: h.Value},
				},
			}
		default:
			matcher.HeaderMatchSpecifier = &envoy_config_route_v3.HeaderMatcher_StringMatch{
				StringMatch: &envoy_type_matcher_v3.StringMatcher{
					MatchPattern: &envoy_type_matcher_v3.StringMatcher_Exact{Exact: h.Value},
				},
			}
		}
		matchers = append(matchers, matcher)
	}
	return matchers
}

func queryParamMatchers(params []model.QueryParamMatch) []*envoy_config_route_v3.QueryParameterMatcher {
	var matchers []*envoy_config_route_v3.QueryParameterMatcher
	for _, q := range params {
		matcher := &envoy_config_route_v3.QueryParameterMatcher{Name: q.Name}
		switch q.Kind {
		case model.QueryPresent:
			matcher.QueryParameterMatchSpecifier = &envoy_config_route_v3.QueryParameterMatcher_PresentMatch{PresentMatch: true}
		case model.QueryRegex:
			matcher.QueryParameterMatchSpecifier = &envoy_config_route_v3.QueryParameterMatcher_StringMatch{
				StringMatch: &envoy_type_matcher_v3.StringMatcher{
					MatchPattern: &envoy_type_matcher_v3.StringMatcher_SafeRegex{
						SafeRegex: &envoy_type_matcher_v3.RegexMatcher{Regex: q.Value},
					},
				},
			}
		default:
			matcher.QueryParameterMatchSpecifier = &envoy_config_route_v3.QueryParameterMatcher_StringMatch{
				StringMatch: &envoy_type_matcher_v3.StringMatcher{
					MatchPattern: &envoy_type_matcher_v3.StringMatcher_Exact{Exact: q.Value},
				},
			}
		}
		matchers = append(matchers, matcher)
	}
	return matchers
}

func forwardAction(fwd *model.ForwardAction) (*envoy_config_route_v3.Route_Route, error) {
	timeout, ok := secondsToDuration(fwd.TimeoutSeconds)
	if !ok {
		return nil, fmt.Errorf("negative timeout")
	}

	action := &envoy_config_route_v3.RouteAction{
		ClusterSpecifier: &envoy_config_route_v3.RouteAction_Cluster{Cluster: fwd.Cluster},
	}
	if timeout > 0 {
		action.Timeout = protobuf.Duration(timeout)
	}
	if fwd.PrefixRewrite != "" {
		action.PrefixRewrite = fwd.PrefixRewrite
	}
	if fwd.TemplateRewrite != "" {
		action.PathRewritePolicy = &envoy_config_core_v3.TypedExtensionConfig{
			Name: uriTemplateRewriterName,
			TypedConfig: protobuf.MustMarshalAny(&envoy_path_rewrite_uri_template_v3.UriTemplateRewriteConfig{
				PathTemplateRewrite: fwd.TemplateRewrite,
			}),
		}
	}
	if rp := fwd.RetryPolicy; rp != nil {
		perTry, ok := secondsToDuration(rp.PerTryTimeoutSeconds)
		if !ok {
			return nil, fmt.Errorf("negative per-try timeout")
		}
		policy := &envoy_config_route_v3.RetryPolicy{
			RetryOn:    rp.RetryOn,
			NumRetries: protobuf.UInt32OrNil(rp.NumRetries),
		}
		if perTry > 0 {
			policy.PerTryTimeout = protobuf.Duration(perTry)
		}
		action.RetryPolicy = policy
	}

	return &envoy_config_route_v3.Route_Route{Route: action}, nil
}

func weightedAction(w *model.WeightedAction) (*envoy_config_route_v3.Route_Route, error) {
	weighted := &envoy_config_route_v3.WeightedCluster{}
	for _, wc := range w.Clusters {
		inline, err := typedPerFilterConfig(wc.TypedPerFilterConfig)
		if err != nil {
			return nil, err
		}
		weighted.Clusters = append(weighted.Clusters, &envoy_config_route_v3.WeightedCluster_ClusterWeight{
			Name:                 wc.Name,
			Weight:               protobuf.UInt32(wc.Weight),
			TypedPerFilterConfig: inline,
		})
	}

	return &envoy_config_route_v3.Route_Route{
		Route: &envoy_config_route_v3.RouteAction{
			ClusterSpecifier: &envoy_config_route_v3.RouteAction_WeightedClusters{
				WeightedClusters: weighted,
			},
		},
	}, nil
}

func redirectAction(r *model.RedirectAction) *envoy_config_route_v3.Route_Redirect {
	redirect := &envoy_config_route_v3.RedirectAction{}
	if r.Host != "" {
		redirect.HostRedirect = r.Host
	}
	if r.Path != "" {
		redirect.PathRewriteSpecifier = &envoy_config_route_v3.RedirectAction_PathRedirect{
			PathRedirect: r.Path,
		}
	}
	switch r.Code {
	case 302:
		redirect.ResponseCode = envoy_config_route_v3.RedirectAction_FOUND
	case 303:
		redirect.ResponseCode = envoy_config_route_v3.RedirectAction_SEE_OTHER
	case 307:
		redirect.ResponseCode = envoy_config_route_v3.RedirectAction_TEMPORARY_REDIRECT
	case 308:
		redirect.ResponseCode = envoy_config_route_v3.RedirectAction_PERMANENT_REDIRECT
	default:
		redirect.ResponseCode = envoy_config_route_v3.RedirectAction_MOVED_PERMANENTLY
	}
	return &envoy_config_route_v3.Route_Redirect{Redirect: redirect}
}
