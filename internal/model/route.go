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

// RouteSpec is the user supplied configuration of a route configuration.
type RouteSpec struct {
	VirtualHosts []VirtualHost `json:"virtual_hosts"`
}

// VirtualHost groups routes under a set of domains.
type VirtualHost struct {
	Name    string      `json:"name"`
	Domains []string    `json:"domains"`
	Routes  []RouteRule `json:"routes"`
}

// RouteRule pairs a match with an action.
type RouteRule struct {
	Match                RouteMatch                 `json:"match"`
	Action               RouteAction                `json:"action"`
	TypedPerFilterConfig map[string]json.RawMessage `json:"typed_per_filter_config,omitempty"`
}

// PathMatchKind enumerates the supported path match variants.
type PathMatchKind string

const (
	PathExact    PathMatchKind = "exact"
	PathPrefix   PathMatchKind = "prefix"
	PathRegex    PathMatchKind = "regex"
	PathTemplate PathMatchKind = "template"
)

// RouteMatch selects requests for a rule.
type RouteMatch struct {
	Path        PathMatch         `json:"path"`
	Headers     []HeaderMatch     `json:"headers,omitempty"`
	QueryParams []QueryParamMatch `json:"query_params,omitempty"`
}

// PathMatch matches on the request path.
type PathMatch struct {
	Kind  PathMatchKind `json:"kind"`
	Value string        `json:"value"`
}

// HeaderMatchKind enumerates the supported header match variants.
type HeaderMatchKind string

const (
	HeaderExact    HeaderMatchKind = "exact"
	HeaderRegex    HeaderMatchKind = "regex"
	HeaderPresent  HeaderMatchKind = "present"
	HeaderContains HeaderMatchKind = "contains"
)

// HeaderMatch matches on a request header.
type HeaderMatch struct {
	Name  string          `json:"name"`
	Kind  HeaderMatchKind `json:"kind"`
	Value string          `json:"value,omitempty"`
}

// QueryParamMatchKind enumerates the supported query parameter match variants.
type QueryParamMatchKind string

const (
	QueryExact   QueryParamMatchKind = "exact"
	QueryRegex   QueryParamMatchKind = "regex"
	QueryPresent QueryParamMatchKind = "present"
)

// QueryParamMatch matches on a request query parameter.
type QueryParamMatch struct {
	Name  string              `json:"name"`
	Kind  QueryParamMatchKind `json:"kind"`
	Value string              `json:"value,omitempty"`
}

// RouteAction is a closed sum: exactly one of Forward, Weighted or
// Redirect must be set.
type RouteAction struct {
	Forward  *ForwardAction  `json:"forward,omitempty"`
	Weighted *WeightedAction `json:"weighted,omitempty"`
	Redirect *RedirectAction `json:"redirect,omitempty"`
}

// ForwardAction routes to a single upstream cluster.
type ForwardAction struct {
	Cluster         string       `json:"cluster"`
	TimeoutSeconds  float64      `json:"timeout_seconds,omitempty"`
	PrefixRewrite   string       `json:"prefix_rewrite,omitempty"`
	TemplateRewrite string       `json:"template_rewrite,omitempty"`
	RetryPolicy     *RetryPolicy `json:"retry_policy,omitempty"`
}

// RetryPolicy configures upstream retries on a forward action.
type RetryPolicy struct {
	RetryOn              string  `json:"retry_on"`
	NumRetries           uint32  `json:"num_retries,omitempty"`
	PerTryTimeoutSeconds float64 `json:"per_try_timeout_seconds,omitempty"`
}

// WeightedAction splits traffic across clusters.
type WeightedAction struct {
	Clusters    []WeightedCluster `json:"clusters"`
	TotalWeight uint32            `json:"total_weight,omitempty"`
}

// WeightedCluster is one arm of a weighted action.
type WeightedCluster struct {
	Name                 string                     `json:"name"`
	Weight               uint32                     `json:"weight"`
	TypedPerFilterConfig map[string]json.RawMessage `json:"typed_per_filter_config,omitempty"`
}

// RedirectAction answers with a redirect instead of forwarding.
type RedirectAction struct {
	Host string `json:"host,omitempty"`
	Path string `json:"path,omitempty"`
	Code uint32 `json:"code,omitempty"`
}

// ClusterNames returns the set of cluster names this spec forwards to,
// in encounter order, without duplicates.
func (s *RouteSpec) ClusterNames() []string {
	seen := map[string]bool{}
	var names []string
	add := func(name string) {
		if name != "" && !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	for _, vh := range s.VirtualHosts {
		for _, r := range vh.Routes {
			if r.Action.Forward != nil {
				add(r.Action.Forward.Cluster)
			}
			if r.Action.Weighted != nil {
				for _, wc := range r.Action.Weighted.Clusters {
					add(wc.Name)
				}
			}
		}
	}
	return names
}

// Validate checks the structural validity of the spec.
func (s *RouteSpec) Validate() error {
	if len(s.VirtualHosts) == 0 {
		return validationErrorf("virtual_hosts", "at least one virtual host is required")
	}
	for i, vh := range s.VirtualHosts {
		field := fmt.Sprintf("virtual_hosts[%d]", i)
		if vh.Name == "" {
			return validationErrorf(field+".name", "name must not be empty")
		}
		if len(vh.Domains) == 0 {
			return validationErrorf(field+".domains", "at least one domain is required")
		}
		for j, r := range vh.Routes {
			rfield := fmt.Sprintf("%s.routes[%d]", field, j)
			if err := r.Match.validate(rfield + ".match"); err != nil {
				return err
			}
			if err := r.Action.validate(rfield + ".action"); err != nil {
				return err
			}
		}
	}
	return nil
}

func (m *RouteMatch) validate(field string) error {
	switch m.Path.Kind {
	case PathExact, PathPrefix, PathRegex, PathTemplate:
	default:
		return validationErrorf(field+".path.kind", "unknown path match kind %q", m.Path.Kind)
	}
	if m.Path.Value == "" {
		return validationErrorf(field+".path.value", "value must not be empty")
	}
	for i, h := range m.Headers {
		switch h.Kind {
		case HeaderExact, HeaderRegex, HeaderPresent, HeaderContains:
		default:
			return validationErrorf(fmt.Sprintf("%s.headers[%d].kind", field, i), "unknown header match kind %q", h.Kind)
		}
		if h.Name == "" {
			return validationErrorf(fmt.Sprintf("%s.headers[%d].name", field, i), "name must not be empty")
		}
	}
	for i, q := range m.QueryParams {
		switch q.Kind {
		case QueryExact, QueryRegex, QueryPresent:
		default:
			return validationErrorf(fmt.Sprintf("%s.query_params[%d].kind", field, i), "unknown query param match kind %q", q.Kind)
		}
		if q.Name == "" {
			return validationErrorf(fmt.Sprintf("%s.query_params[%d].name", field, i), "name must not be empty")
		}
	}
	return nil
}

func (a *RouteAction) validate(field string) error {
	var arms int
	if a.Forward != nil {
		arms++
	}
	if a.Weighted != nil {
		arms++
	}
	if a.Redirect != nil {
		arms++
	}
	if arms != 1 {
		return validationErrorf(field, "exactly one of forward, weighted or redirect must be set")
	}

	switch {
	case a.Forward != nil:
		if a.Forward.Cluster == "" {
			return validationErrorf(field+".forward.cluster", "cluster must not be empty")
		}
		if a.Forward.PrefixRewrite != "" && a.Forward.TemplateRewrite != "" {
			return validationErrorf(field+".forward", "prefix_rewrite and template_rewrite are mutually exclusive")
		}
	case a.Weighted != nil:
		if len(a.Weighted.Clusters) == 0 {
			return validationErrorf(field+".weighted.clusters", "at least one weighted cluster is required")
		}
		var sum uint32
		for i, wc := range a.Weighted.Clusters {
			if wc.Name == "" {
				return validationErrorf(fmt.Sprintf("%s.weighted.clusters[%d].name", field, i), "name must not be empty")
			}
			sum += wc.Weight
		}
		if sum == 0 {
			return validationErrorf(field+".weighted", "cluster weights must sum to a positive value")
		}
		if a.Weighted.TotalWeight != 0 && sum != a.Weighted.TotalWeight {
			return validationErrorf(field+".weighted.total_weight", "weights sum to %d, expected %d", sum, a.Weighted.TotalWeight)
		}
	case a.Redirect != nil:
		if a.Redirect.Host == "" && a.Redirect.Path == "" {
			return validationErrorf(field+".redirect", "at least one of host or path must be set")
		}
		switch a.Redirect.Code {
		case 0, 301, 302, 303, 307, 308:
		default:
			return validationErrorf(field+".redirect.code", "unsupported redirect code %d", a.Redirect.Code)
		}
	}
	return nil
}
