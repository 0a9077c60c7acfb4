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

// Package orchestrator is the single serialization point for
// configuration mutations. Mutations for one team run on that team's
// worker, in order; teams proceed in parallel. Each mutation
// validates, persists, rebuilds the affected typed resources and
// installs the new snapshot before the next mutation for the team
// starts, so snapshot versions per team are totally ordered.
package orchestrator

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rajeevramani/flowplane/internal/auth"
	envoy_v3 "github.com/rajeevramani/flowplane/internal/envoy/v3"
	"github.com/rajeevramani/flowplane/internal/model"
	"github.com/rajeevramani/flowplane/internal/store"
	"github.com/rajeevramani/flowplane/internal/xdscache"
)

// retryAttempts bounds internal retries of transient storage errors.
const retryAttempts = 3

// MetricsSink receives snapshot observations after each install.
type MetricsSink interface {
	OnSnapshotInstall(team string, counts map[string]int)
}

// Orchestrator owns the write path from validated input to installed
// snapshot.
type Orchestrator struct {
	logrus.FieldLogger

	store   *store.Store
	cache   *xdscache.SnapshotCache
	metrics MetricsSink

	mu      sync.Mutex
	workers map[string]chan *task

	// queueDepth bounds each team's pending mutations.
	queueDepth int
}

type task struct {
	ctx  context.Context
	fn   func(ctx context.Context) error
	done chan error
}

// New creates an Orchestrator.
func New(log logrus.FieldLogger, st *store.Store, cache *xdscache.SnapshotCache, metrics MetricsSink) *Orchestrator {
	return &Orchestrator{
		FieldLogger: log,
		store:       st,
		cache:       cache,
		metrics:     metrics,
		workers:     map[string]chan *task{},
		queueDepth:  64,
	}
}

// worker returns (starting if needed) the team's mutation queue.
func (o *Orchestrator) worker(team string) chan *task {
	o.mu.Lock()
	defer o.mu.Unlock()

	ch, ok := o.workers[team]
	if !ok {
		ch = make(chan *task, o.queueDepth)
		o.workers[team] = ch
		go func() {
			for t := range ch {
				t.done <- t.fn(t.ctx)
			}
		}()
	}
	return ch
}

// RunForTeam executes fn on the team's worker, serialized with every
// other mutation for the team. The API definition materializer uses
// this to make its multi-row translation one logical transaction.
func (o *Orchestrator) RunForTeam(ctx context.Context, team string, fn func(ctx context.Context) error) error {
	t := &task{ctx: ctx, fn: fn, done: make(chan error, 1)}
	select {
	case o.worker(team) <- t:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-t.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// retryTransient runs fn, retrying transient storage errors with
// jittered backoff. Typed errors pass through untouched.
func (o *Orchestrator) retryTransient(ctx context.Context, fn func() error) error {
	var err error
	backoff := 50 * time.Millisecond
	for attempt := 0; attempt < retryAttempts; attempt++ {
		if err = fn(); err == nil || !store.IsTransient(err) {
			return err
		}
		o.WithError(err).WithField("attempt", attempt+1).Warn("retrying transient storage error")
		select {
		case <-time.After(backoff + time.Duration(rand.Int63n(int64(backoff)))):
		case <-ctx.Done():
			return ctx.Err()
		}
		backoff *= 2
	}
	return err
}

// authorize checks the principal against the team. A nil principal is
// treated as an internal caller and allowed.
func authorize(principal *auth.Principal, team string) error {
	if principal == nil {
		return nil
	}
	return principal.AuthorizeTeam(team)
}

func actor(principal *auth.Principal) (user, correlation string) {
	if principal == nil {
		return "system", ""
	}
	return principal.UserID, principal.CorrelationID
}

// audit records a mutation; failures are logged, not surfaced, since
// the mutation itself has already committed.
func (o *Orchestrator) audit(ctx context.Context, principal *auth.Principal, team, resourceType, op, resourceID string, oldVersion, newVersion uint64) {
	user, correlation := actor(principal)
	ev := &store.AuditEvent{
		Actor:         user,
		Team:          team,
		ResourceType:  resourceType,
		Op:            op,
		ResourceID:    resourceID,
		OldVersion:    oldVersion,
		NewVersion:    newVersion,
		CorrelationID: correlation,
	}
	if err := o.store.AppendAudit(ctx, ev); err != nil {
		o.WithError(err).Error("appending audit event")
	}
	o.WithField("team", team).
		WithField("resource_type", resourceType).
		WithField("op", op).
		WithField("resource_id", resourceID).
		WithField("old_version", oldVersion).
		WithField("new_version", newVersion).
		WithField("correlation_id", correlation).
		Info("configuration mutated")
}

// RecordNack appends an audit event for a data plane NACK.
func (o *Orchestrator) RecordNack(ctx context.Context, team, typeURL, version, detail string) {
	ev := &store.AuditEvent{
		Actor:        "envoy",
		Team:         team,
		ResourceType: typeURL,
		Op:           "nack",
		ResourceID:   version,
	}
	if err := o.store.AppendAudit(ctx, ev); err != nil {
		o.WithError(err).Error("appending audit event")
	}
	o.WithField("team", team).
		WithField("type_url", typeURL).
		WithField("version", version).
		WithField("detail", detail).
		Warn("configuration rejected by data plane")
}

// RebuildAll rebuilds and installs every team's snapshot. Run at
// startup before the xDS server accepts streams.
func (o *Orchestrator) RebuildAll(ctx context.Context) error {
	teams, err := o.store.ListTeams(ctx)
	if err != nil {
		return err
	}
	for _, team := range teams {
		if err := o.RunForTeam(ctx, team.Name, func(ctx context.Context) error {
			return o.rebuild(ctx, team.Name)
		}); err != nil {
			return err
		}
	}
	return nil
}

// Rebuild regenerates a team's snapshots. It must run on the team's
// worker, i.e. inside RunForTeam; the materializer uses it for its
// single coalesced publish.
func (o *Orchestrator) Rebuild(ctx context.Context, team string) error {
	return o.rebuild(ctx, team)
}

// rebuild regenerates every cache key of a team from a consistent
// repository read and installs the results. Must run on the team's
// worker.
func (o *Orchestrator) rebuild(ctx context.Context, team string) error {
	cfg, err := o.store.ListAllForSnapshot(ctx, team)
	if err != nil {
		return err
	}
	defs, err := o.store.ListAPIDefinitions(ctx, team)
	if err != nil {
		return err
	}

	if err := o.install(team, xdscache.NodeKey{Team: team}, teamScope(cfg, defs)); err != nil {
		return err
	}
	for _, def := range defs {
		if !def.ListenerIsolation {
			continue
		}
		key := xdscache.NodeKey{Team: team, APIDefinitionID: def.ID}
		if err := o.install(team, key, isolatedScope(cfg, def.ID)); err != nil {
			return err
		}
	}
	return nil
}

// install materializes one scope and installs it into the cache.
func (o *Orchestrator) install(team string, key xdscache.NodeKey, cfg *model.TeamConfig) error {
	resources, diags := buildResources(cfg)
	for _, d := range diags {
		// A dropped row is an audit-level event, not an error: the
		// commit that stored it already succeeded, and dependents keep
		// the last good snapshot until the row is fixed.
		o.WithField("team", team).WithField("key", key.String()).Warn(d.String())
	}

	changed, err := o.cache.Install(key, resources)
	if err != nil {
		return err
	}
	if len(changed) > 0 && o.metrics != nil && key.APIDefinitionID == "" {
		counts := make(map[string]int, len(xdscache.TypeURLs))
		snap := o.cache.Get(key)
		for _, typeURL := range xdscache.TypeURLs {
			counts[typeURL] = snap.ResourceCount(typeURL)
		}
		o.metrics.OnSnapshotInstall(team, counts)
	}
	return nil
}

// buildResources runs the typed resource builders over a scope.
func buildResources(cfg *model.TeamConfig) (xdscache.ResourceSet, []envoy_v3.Diagnostic) {
	var diags []envoy_v3.Diagnostic

	filters := envoy_v3.NewFilterTable(cfg.Filters, cfg.Attachments)

	clusters, ds := envoy_v3.BuildClusters(cfg.Clusters)
	diags = append(diags, ds...)

	endpoints, ds := envoy_v3.BuildEndpoints(cfg.Clusters)
	diags = append(diags, ds...)

	knownClusters := map[string]bool{}
	for _, c := range clusters {
		knownClusters[c.Name] = true
	}

	routes, ds := envoy_v3.BuildRoutes(cfg.Routes, knownClusters, filters)
	diags = append(diags, ds...)

	knownRoutes := map[string]bool{}
	for _, r := range routes {
		knownRoutes[r.Name] = true
	}

	listeners, ds := envoy_v3.BuildListeners(cfg.Listeners, knownRoutes, filters)
	diags = append(diags, ds...)

	return xdscache.NewResourceSet(clusters, endpoints, routes, listeners), diags
}

// teamScope is the shared snapshot of a team: everything except
// listeners that belong to an isolation-enabled API definition.
func teamScope(cfg *model.TeamConfig, defs []*model.APIDefinitionRow) *model.TeamConfig {
	isolated := map[string]bool{}
	for _, def := range defs {
		if def.ListenerIsolation {
			isolated[def.ID] = true
		}
	}

	out := *cfg
	out.Listeners = nil
	for _, l := range cfg.Listeners {
		if l.ImportID != "" && isolated[l.ImportID] {
			continue
		}
		out.Listeners = append(out.Listeners, l)
	}
	return &out
}

// isolatedScope is the snapshot served to nodes bound to one API
// definition: its listeners, the routes they reference, and the
// clusters those routes forward to.
func isolatedScope(cfg *model.TeamConfig, apiDefID string) *model.TeamConfig {
	out := &model.TeamConfig{
		Filters:     cfg.Filters,
		Attachments: cfg.Attachments,
	}

	routeNames := map[string]bool{}
	for _, l := range cfg.Listeners {
		if l.ImportID != apiDefID {
			continue
		}
		out.Listeners = append(out.Listeners, l)
		for _, name := range l.Spec.RouteConfigNames() {
			routeNames[name] = true
		}
	}

	clusterNames := map[string]bool{}
	for _, r := range cfg.Routes {
		if !routeNames[r.Name] {
			continue
		}
		out.Routes = append(out.Routes, r)
		for _, name := range r.Spec.ClusterNames() {
			clusterNames[name] = true
		}
	}

	for _, c := range cfg.Clusters {
		if clusterNames[c.Name] {
			out.Clusters = append(out.Clusters, c)
		}
	}

	return out
}
