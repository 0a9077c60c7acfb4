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

// Package apidef translates an API definition into native cluster,
// route and listener rows. The translation runs as one logical
// transaction on the team's mutation queue: either every generated row
// lands, or a failure unwinds the rows written so far and the team's
// snapshot is left untouched.
package apidef

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/rajeevramani/flowplane/internal/auth"
	"github.com/rajeevramani/flowplane/internal/model"
	"github.com/rajeevramani/flowplane/internal/orchestrator"
	"github.com/rajeevramani/flowplane/internal/store"
)

// Materializer expands API definitions.
type Materializer struct {
	logrus.FieldLogger

	Store *store.Store
	Orch  *orchestrator.Orchestrator
	Ports PortAllocator
}

// Result lists the native resources a materialization produced, all
// linked to the API definition id for later cascade delete.
type Result struct {
	APIDefinitionID string
	ClusterIDs      []string
	RouteID         string
	ListenerID      string
	Port            int
}

// StepError identifies the step of the materialization that failed;
// prior steps have been rolled back.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("materialization step %q failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// Naming helpers. Names derive deterministically from the API
// definition id so repeated materialization is idempotent.
func clusterName(defID, target string) string { return fmt.Sprintf("apidef-%s-%s", defID, target) }
func routeName(defID string) string           { return fmt.Sprintf("apidef-%s-routes", defID) }
func listenerName(defID string) string        { return fmt.Sprintf("apidef-%s-listener", defID) }

// Materialize expands the spec into native rows and publishes a single
// coalesced snapshot on success. On failure, writes performed so far
// are undone in reverse order and no snapshot is installed.
func (m *Materializer) Materialize(ctx context.Context, principal *auth.Principal, spec *model.APIDefinitionSpec) (*Result, error) {
	if principal != nil {
		if err := principal.AuthorizeTeam(spec.Team); err != nil {
			return nil, err
		}
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	var result *Result
	err := m.Orch.RunForTeam(ctx, spec.Team, func(ctx context.Context) error {
		var err error
		result, err = m.materialize(ctx, spec)
		if err != nil {
			return err
		}
		// One coalesced publish for the whole translation.
		return m.Orch.Rebuild(ctx, spec.Team)
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (m *Materializer) materialize(ctx context.Context, spec *model.APIDefinitionSpec) (result *Result, err error) {
	// Compensation stack: every persisted write pushes its undo.
	var undo []func()
	defer func() {
		if err == nil {
			return
		}
		for i := len(undo) - 1; i >= 0; i-- {
			undo[i]()
		}
	}()

	team := spec.Team

	// Step 1: the definition row itself.
	def, err := m.Store.GetAPIDefinitionByDomain(ctx, team, spec.Domain)
	if err == store.ErrNotFound {
		def, err = m.Store.CreateAPIDefinition(ctx, &model.APIDefinitionRow{
			Team:              team,
			Domain:            spec.Domain,
			ListenerIsolation: spec.ListenerIsolation,
		})
		if err == nil {
			undo = append(undo, func() {
				if derr := m.Store.CascadeDeleteAPIDefinition(ctx, team, def.ID); derr != nil {
					m.WithError(derr).Error("rolling back api definition row")
				}
			})
		}
	}
	if err != nil {
		return nil, &StepError{Step: "definition", Err: err}
	}

	result = &Result{APIDefinitionID: def.ID}

	// Persist the logical routes so the definition can be rebuilt or
	// audited without resupplying the spec. Prior rows are restored on
	// rollback.
	prevRoutes, err := m.Store.ListAPIRoutes(ctx, team, def.ID)
	if err != nil {
		return nil, &StepError{Step: "definition", Err: err}
	}
	if _, err = m.Store.ReplaceAPIRoutes(ctx, team, def.ID, spec.Routes); err != nil {
		return nil, &StepError{Step: "definition", Err: err}
	}
	undo = append(undo, func() {
		restore := make([]model.APIRoute, 0, len(prevRoutes))
		for _, row := range prevRoutes {
			restore = append(restore, row.Spec)
		}
		if _, rerr := m.Store.ReplaceAPIRoutes(ctx, team, def.ID, restore); rerr != nil {
			m.WithError(rerr).Error("rolling back api routes")
		}
	})

	// Step 2: one cluster per distinct upstream target.
	created := map[string]string{} // target name → cluster name
	for _, route := range spec.Routes {
		for _, target := range route.Targets {
			if _, ok := created[target.Name]; ok {
				continue
			}
			name := clusterName(def.ID, target.Name)
			created[target.Name] = name

			if existing, gerr := m.Store.GetClusterByName(ctx, team, name); gerr == nil {
				result.ClusterIDs = append(result.ClusterIDs, existing.ID)
				continue
			} else if gerr != store.ErrNotFound {
				return nil, &StepError{Step: "clusters", Err: gerr}
			}

			row, cerr := m.Store.CreateCluster(ctx, &model.ClusterRow{
				Team:     team,
				Name:     name,
				Source:   model.SourceGenerated,
				ImportID: def.ID,
				Spec: model.ClusterSpec{
					Endpoints: []model.Endpoint{target.Endpoint},
				},
			})
			if cerr != nil {
				return nil, &StepError{Step: "clusters", Err: cerr}
			}
			result.ClusterIDs = append(result.ClusterIDs, row.ID)
			undo = append(undo, func() {
				if derr := m.Store.DeleteCluster(ctx, team, row.ID); derr != nil {
					m.WithError(derr).Error("rolling back generated cluster")
				}
			})
		}
	}

	// Steps 3 and 4: the virtual host for the definition's domain. An
	// isolated definition gets its own route row and a dedicated
	// listener; otherwise the virtual host merges into the route row
	// of the team's shared listener.
	vhost := m.virtualHost(def.ID, spec)
	var routeRow *model.RouteRow
	if spec.ListenerIsolation {
		routeRow, err = m.upsertRoute(ctx, team, routeName(def.ID), def.ID,
			model.RouteSpec{VirtualHosts: []model.VirtualHost{vhost}}, &undo)
		if err != nil {
			return nil, &StepError{Step: "routes", Err: err}
		}

		if existing, gerr := m.Store.GetListenerByName(ctx, team, listenerName(def.ID)); gerr == nil {
			// A previous materialization already bound the listener;
			// keep its port.
			result.ListenerID = existing.ID
			result.Port = existing.Spec.Port
		} else if gerr != store.ErrNotFound {
			return nil, &StepError{Step: "listener", Err: gerr}
		} else {
			port, perr := m.Ports.Allocate(ctx, team)
			if perr != nil {
				return nil, &StepError{Step: "listener", Err: perr}
			}
			lrow, lerr := m.createListener(ctx, team, listenerName(def.ID), def.ID, port, routeRow.Name, &undo)
			if lerr != nil {
				return nil, &StepError{Step: "listener", Err: lerr}
			}
			result.ListenerID = lrow.ID
			result.Port = port
		}
	} else {
		routeRow, err = m.mergeIntoSharedRoute(ctx, team, vhost, &undo)
		if err != nil {
			return nil, &StepError{Step: "routes", Err: err}
		}
	}
	result.RouteID = routeRow.ID

	// Record where the node bootstrap for this definition is served.
	// The admin API renders it with the bootstrap builder.
	if def.BootstrapURI == "" {
		uri := fmt.Sprintf("/api/v1/teams/%s/api-definitions/%s/bootstrap", team, def.ID)
		if _, berr := m.Store.SetAPIDefinitionBootstrapURI(ctx, team, def.ID, uri); berr != nil {
			return nil, &StepError{Step: "definition", Err: berr}
		}
	}

	// Step 5: per route filter overrides become attachments at route
	// scope, validated against each filter type's support level.
	vhostName := spec.Domain
	for i, route := range spec.Routes {
		for filterName, override := range route.Filters {
			filter, ferr := m.Store.GetFilterByName(ctx, team, filterName)
			if ferr != nil {
				return nil, &StepError{Step: "filters", Err: fmt.Errorf("filter %q: %w", filterName, ferr)}
			}
			att, aerr := m.Store.CreateAttachment(ctx, &model.FilterAttachmentRow{
				Team:     team,
				FilterID: filter.ID,
				Scope:    model.ScopeRoute,
				ScopeID:  routeRow.Name + "/" + vhostName + "/" + strconv.Itoa(i),
				Mode:     override.Mode,
				Config:   override.Config,
			})
			if aerr != nil {
				return nil, &StepError{Step: "filters", Err: aerr}
			}
			undo = append(undo, func() {
				if derr := m.Store.DeleteAttachment(ctx, team, att.ID); derr != nil {
					m.WithError(derr).Error("rolling back filter attachment")
				}
			})
		}
	}

	return result, nil
}

// Shared listener conventions for teams without isolation.
const (
	sharedListenerName = "default"
	sharedRouteName    = "default-routes"
)

// createListener persists a generated listener bound to a route row.
func (m *Materializer) createListener(ctx context.Context, team, name, defID string, port int, routeConfigName string, undo *[]func()) (*model.ListenerRow, error) {
	hcm, err := json.Marshal(model.HCMConfig{RouteConfigName: routeConfigName})
	if err != nil {
		return nil, err
	}
	row, err := m.Store.CreateListener(ctx, &model.ListenerRow{
		Team:     team,
		Name:     name,
		Source:   model.SourceGenerated,
		ImportID: defID,
		Spec: model.ListenerSpec{
			Address:  "0.0.0.0",
			Port:     port,
			Protocol: model.ProtocolHTTP,
			FilterChains: []model.FilterChain{{
				Filters: []model.ListenerFilter{{
					Name:   "http",
					Kind:   model.FilterKindHTTPConnectionManager,
					Config: hcm,
				}},
			}},
		},
	})
	if err != nil {
		return nil, err
	}
	*undo = append(*undo, func() {
		if derr := m.Store.DeleteListener(ctx, team, row.ID); derr != nil {
			m.WithError(derr).Error("rolling back generated listener")
		}
	})
	return row, nil
}

// mergeIntoSharedRoute installs the virtual host into the route row of
// the team's shared listener, creating the shared listener and its
// route row on first use. An existing virtual host for the same domain
// is replaced.
func (m *Materializer) mergeIntoSharedRoute(ctx context.Context, team string, vhost model.VirtualHost, undo *[]func()) (*model.RouteRow, error) {
	existing, err := m.Store.GetRouteByName(ctx, team, sharedRouteName)
	if err == store.ErrNotFound {
		row, cerr := m.Store.CreateRoute(ctx, &model.RouteRow{
			Team:   team,
			Name:   sharedRouteName,
			Source: model.SourceGenerated,
			Spec:   model.RouteSpec{VirtualHosts: []model.VirtualHost{vhost}},
		})
		if cerr != nil {
			return nil, cerr
		}
		*undo = append(*undo, func() {
			if derr := m.Store.DeleteRoute(ctx, team, row.ID); derr != nil {
				m.WithError(derr).Error("rolling back shared route")
			}
		})

		port, perr := m.Ports.Allocate(ctx, team)
		if perr != nil {
			return nil, perr
		}
		if _, lerr := m.createListener(ctx, team, sharedListenerName, "", port, row.Name, undo); lerr != nil {
			return nil, lerr
		}
		return row, nil
	}
	if err != nil {
		return nil, err
	}

	prevSpec := existing.Spec
	merged := model.RouteSpec{}
	replaced := false
	for _, vh := range existing.Spec.VirtualHosts {
		if vh.Name == vhost.Name {
			merged.VirtualHosts = append(merged.VirtualHosts, vhost)
			replaced = true
			continue
		}
		merged.VirtualHosts = append(merged.VirtualHosts, vh)
	}
	if !replaced {
		merged.VirtualHosts = append(merged.VirtualHosts, vhost)
	}

	row, err := m.Store.UpdateRoute(ctx, team, existing.ID, existing.Version, merged)
	if err != nil {
		return nil, err
	}
	*undo = append(*undo, func() {
		if _, uerr := m.Store.UpdateRoute(ctx, team, row.ID, row.Version, prevSpec); uerr != nil {
			m.WithError(uerr).Error("rolling back shared route update")
		}
	})
	return row, nil
}

// virtualHost derives the virtual host for a definition.
func (m *Materializer) virtualHost(defID string, spec *model.APIDefinitionSpec) model.VirtualHost {
	vh := model.VirtualHost{
		Name:    spec.Domain,
		Domains: []string{spec.Domain},
	}

	for _, route := range spec.Routes {
		match := route.Match
		if len(route.Methods) > 0 {
			match.Headers = append(match.Headers, methodMatcher(route.Methods))
		}

		var action model.RouteAction
		if len(route.Targets) == 1 {
			action.Forward = &model.ForwardAction{
				Cluster: clusterName(defID, route.Targets[0].Name),
			}
		} else {
			weighted := &model.WeightedAction{}
			for _, target := range route.Targets {
				weight := target.Weight
				if weight == 0 {
					weight = 1
				}
				weighted.Clusters = append(weighted.Clusters, model.WeightedCluster{
					Name:   clusterName(defID, target.Name),
					Weight: weight,
				})
			}
			action.Weighted = weighted
		}

		vh.Routes = append(vh.Routes, model.RouteRule{Match: match, Action: action})
	}

	return vh
}

// methodMatcher matches the :method pseudo header against the allowed
// set.
func methodMatcher(methods []string) model.HeaderMatch {
	if len(methods) == 1 {
		return model.HeaderMatch{Name: ":method", Kind: model.HeaderExact, Value: methods[0]}
	}
	escaped := make([]string, 0, len(methods))
	for _, method := range methods {
		escaped = append(escaped, regexp.QuoteMeta(method))
	}
	pattern := "^(?:" + strings.Join(escaped, "|") + ")$"
	return model.HeaderMatch{Name: ":method", Kind: model.HeaderRegex, Value: pattern}
}

// upsertRoute creates the generated route row, or replaces its spec if
// a previous materialization already created it. The undo either
// deletes the created row or restores the previous spec.
func (m *Materializer) upsertRoute(ctx context.Context, team, name, defID string, spec model.RouteSpec, undo *[]func()) (*model.RouteRow, error) {
	existing, err := m.Store.GetRouteByName(ctx, team, name)
	if err == store.ErrNotFound {
		row, cerr := m.Store.CreateRoute(ctx, &model.RouteRow{
			Team:     team,
			Name:     name,
			Source:   model.SourceGenerated,
			ImportID: defID,
			Spec:     spec,
		})
		if cerr != nil {
			return nil, cerr
		}
		*undo = append(*undo, func() {
			if derr := m.Store.DeleteRoute(ctx, team, row.ID); derr != nil {
				m.WithError(derr).Error("rolling back generated route")
			}
		})
		return row, nil
	}
	if err != nil {
		return nil, err
	}

	prevSpec := existing.Spec
	row, err := m.Store.UpdateRoute(ctx, team, existing.ID, existing.Version, spec)
	if err != nil {
		return nil, err
	}
	*undo = append(*undo, func() {
		if _, uerr := m.Store.UpdateRoute(ctx, team, row.ID, row.Version, prevSpec); uerr != nil {
			m.WithError(uerr).Error("rolling back generated route update")
		}
	})
	return row, nil
}
