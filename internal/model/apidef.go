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
	"fmt"
	"time"
)

// APIDefinitionSpec is the higher level service description that the
// materializer expands into native rows.
type APIDefinitionSpec struct {
	Team              string     `json:"team"`
	Domain            string     `json:"domain"`
	ListenerIsolation bool       `json:"listener_isolation,omitempty"`
	Routes            []APIRoute `json:"routes"`
}

// APIRoute is one logical route of an API definition.
type APIRoute struct {
	Match   RouteMatch                `json:"match"`
	Methods []string                  `json:"methods,omitempty"`
	Targets []UpstreamTarget          `json:"targets"`
	Filters map[string]FilterOverride `json:"filters,omitempty"`
}

// UpstreamTarget names one backend of an API route. Weight only
// matters when a route has several targets.
type UpstreamTarget struct {
	Name     string   `json:"name"`
	Endpoint Endpoint `json:"endpoint"`
	Weight   uint32   `json:"weight,omitempty"`
}

// FilterOverride is a per route filter override in an API definition,
// keyed by the filter's stored name.
type FilterOverride struct {
	Mode   OverrideMode `json:"mode"`
	Config []byte       `json:"config,omitempty"`
}

// APIRouteRow persists one logical route of an API definition so a
// definition can be re-materialized without resupplying its spec.
type APIRouteRow struct {
	ID              string    `json:"id"`
	Team            string    `json:"team"`
	APIDefinitionID string    `json:"api_definition_id"`
	Index           int       `json:"index"`
	Spec            APIRoute  `json:"spec"`
	CreatedAt       time.Time `json:"created_at"`
}

// Validate checks the structural validity of the spec.
func (s *APIDefinitionSpec) Validate() error {
	if s.Team == "" {
		return validationErrorf("team", "team must not be empty")
	}
	if s.Domain == "" {
		return validationErrorf("domain", "domain must not be empty")
	}
	if len(s.Routes) == 0 {
		return validationErrorf("routes", "at least one route is required")
	}
	for i, r := range s.Routes {
		field := fmt.Sprintf("routes[%d]", i)
		if err := r.Match.validate(field + ".match"); err != nil {
			return err
		}
		if len(r.Targets) == 0 {
			return validationErrorf(field+".targets", "at least one target is required")
		}
		for j, tgt := range r.Targets {
			tfield := fmt.Sprintf("%s.targets[%d]", field, j)
			if tgt.Name == "" {
				return validationErrorf(tfield+".name", "name must not be empty")
			}
			if tgt.Endpoint.Host == "" {
				return validationErrorf(tfield+".endpoint.host", "host must not be empty")
			}
			if tgt.Endpoint.Port < 1 || tgt.Endpoint.Port > 65535 {
				return validationErrorf(tfield+".endpoint.port", "port %d out of range", tgt.Endpoint.Port)
			}
		}
	}
	return nil
}
