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

package orchestrator

import (
	"context"

	"github.com/rajeevramani/flowplane/internal/auth"
	"github.com/rajeevramani/flowplane/internal/model"
	"github.com/rajeevramani/flowplane/internal/store"
)

// CreateCluster validates, persists and publishes a new cluster.
func (o *Orchestrator) CreateCluster(ctx context.Context, principal *auth.Principal, team, name string, spec model.ClusterSpec) (*model.ClusterRow, error) {
	if err := authorize(principal, team); err != nil {
		return nil, err
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	var row *model.ClusterRow
	err := o.RunForTeam(ctx, team, func(ctx context.Context) error {
		err := o.retryTransient(ctx, func() error {
			var err error
			row, err = o.store.CreateCluster(ctx, &model.ClusterRow{Team: team, Name: name, Spec: spec})
			return err
		})
		if err != nil {
			return err
		}
		o.audit(ctx, principal, team, "cluster", "create", row.ID, 0, row.Version)
		return o.rebuild(ctx, team)
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

// UpdateCluster applies a new spec under optimistic concurrency.
func (o *Orchestrator) UpdateCluster(ctx context.Context, principal *auth.Principal, team, id string, expectedVersion uint64, spec model.ClusterSpec) (*model.ClusterRow, error) {
	if err := authorize(principal, team); err != nil {
		return nil, err
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	var row *model.ClusterRow
	err := o.RunForTeam(ctx, team, func(ctx context.Context) error {
		err := o.retryTransient(ctx, func() error {
			var err error
			row, err = o.store.UpdateCluster(ctx, team, id, expectedVersion, spec)
			return err
		})
		if err != nil {
			return err
		}
		o.audit(ctx, principal, team, "cluster", "update", row.ID, row.Version-1, row.Version)
		return o.rebuild(ctx, team)
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

// DeleteCluster removes a cluster unless routes still reference it.
func (o *Orchestrator) DeleteCluster(ctx context.Context, principal *auth.Principal, team, id string) error {
	if err := authorize(principal, team); err != nil {
		return err
	}
	return o.RunForTeam(ctx, team, func(ctx context.Context) error {
		row, err := o.store.GetCluster(ctx, team, id)
		if err != nil {
			return err
		}
		if err := o.retryTransient(ctx, func() error {
			return o.store.DeleteCluster(ctx, team, id)
		}); err != nil {
			return err
		}
		o.audit(ctx, principal, team, "cluster", "delete", id, row.Version, row.Version)
		return o.rebuild(ctx, team)
	})
}

// CreateRoute validates, persists and publishes a new route
// configuration. Referenced clusters must already exist in the team.
func (o *Orchestrator) CreateRoute(ctx context.Context, principal *auth.Principal, team, name string, spec model.RouteSpec) (*model.RouteRow, error) {
	if err := authorize(principal, team); err != nil {
		return nil, err
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	var row *model.RouteRow
	err := o.RunForTeam(ctx, team, func(ctx context.Context) error {
		if err := o.checkRouteClusters(ctx, team, &spec); err != nil {
			return err
		}
		err := o.retryTransient(ctx, func() error {
			var err error
			row, err = o.store.CreateRoute(ctx, &model.RouteRow{Team: team, Name: name, Spec: spec})
			return err
		})
		if err != nil {
			return err
		}
		o.audit(ctx, principal, team, "route", "create", row.ID, 0, row.Version)
		return o.rebuild(ctx, team)
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

// UpdateRoute applies a new spec under optimistic concurrency.
func (o *Orchestrator) UpdateRoute(ctx context.Context, principal *auth.Principal, team, id string, expectedVersion uint64, spec model.RouteSpec) (*model.RouteRow, error) {
	if err := authorize(principal, team); err != nil {
		return nil, err
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	var row *model.RouteRow
	err := o.RunForTeam(ctx, team, func(ctx context.Context) error {
		if err := o.checkRouteClusters(ctx, team, &spec); err != nil {
			return err
		}
		err := o.retryTransient(ctx, func() error {
			var err error
			row, err = o.store.UpdateRoute(ctx, team, id, expectedVersion, spec)
			return err
		})
		if err != nil {
			return err
		}
		o.audit(ctx, principal, team, "route", "update", row.ID, row.Version-1, row.Version)
		return o.rebuild(ctx, team)
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

// DeleteRoute removes a route unless listeners still reference it.
func (o *Orchestrator) DeleteRoute(ctx context.Context, principal *auth.Principal, team, id string) error {
	if err := authorize(principal, team); err != nil {
		return err
	}
	return o.RunForTeam(ctx, team, func(ctx context.Context) error {
		row, err := o.store.GetRoute(ctx, team, id)
		if err != nil {
			return err
		}
		if err := o.retryTransient(ctx, func() error {
			return o.store.DeleteRoute(ctx, team, id)
		}); err != nil {
			return err
		}
		o.audit(ctx, principal, team, "route", "delete", id, row.Version, row.Version)
		return o.rebuild(ctx, team)
	})
}

// CreateListener validates, persists and publishes a new listener. The
// referenced route configuration must already exist in the team.
func (o *Orchestrator) CreateListener(ctx context.Context, principal *auth.Principal, team, name string, spec model.ListenerSpec) (*model.ListenerRow, error) {
	if err := authorize(principal, team); err != nil {
		return nil, err
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	var row *model.ListenerRow
	err := o.RunForTeam(ctx, team, func(ctx context.Context) error {
		if err := o.checkListenerRoutes(ctx, team, &spec); err != nil {
			return err
		}
		err := o.retryTransient(ctx, func() error {
			var err error
			row, err = o.store.CreateListener(ctx, &model.ListenerRow{Team: team, Name: name, Spec: spec})
			return err
		})
		if err != nil {
			return err
		}
		o.audit(ctx, principal, team, "listener", "create", row.ID, 0, row.Version)
		return o.rebuild(ctx, team)
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

// UpdateListener applies a new spec under optimistic concurrency.
func (o *Orchestrator) UpdateListener(ctx context.Context, principal *auth.Principal, team, id string, expectedVersion uint64, spec model.ListenerSpec) (*model.ListenerRow, error) {
	if err := authorize(principal, team); err != nil {
		return nil, err
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	var row *model.ListenerRow
	err := o.RunForTeam(ctx, team, func(ctx context.Context) error {
		if err := o.checkListenerRoutes(ctx, team, &spec); err != nil {
			return err
		}
		err := o.retryTransient(ctx, func() error {
			var err error
			row, err = o.store.UpdateListener(ctx, team, id, expectedVersion, spec)
			return err
		})
		if err != nil {
			return err
		}
		o.audit(ctx, principal, team, "listener", "update", row.ID, row.Version-1, row.Version)
		return o.rebuild(ctx, team)
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

// DeleteListener removes a listener.
func (o *Orchestrator) DeleteListener(ctx context.Context, principal *auth.Principal, team, id string) error {
	if err := authorize(principal, team); err != nil {
		return err
	}
	return o.RunForTeam(ctx, team, func(ctx context.Context) error {
		row, err := o.store.GetListener(ctx, team, id)
		if err != nil {
			return err
		}
		if err := o.retryTransient(ctx, func() error {
			return o.store.DeleteListener(ctx, team, id)
		}); err != nil {
			return err
		}
		o.audit(ctx, principal, team, "listener", "delete", id, row.Version, row.Version)
		return o.rebuild(ctx, team)
	})
}

// CreateFilter persists a filter definition and republishes.
func (o *Orchestrator) CreateFilter(ctx context.Context, principal *auth.Principal, team string, row *model.FilterRow) (*model.FilterRow, error) {
	if err := authorize(principal, team); err != nil {
		return nil, err
	}

	var created *model.FilterRow
	err := o.RunForTeam(ctx, team, func(ctx context.Context) error {
		in := *row
		in.Team = team
		err := o.retryTransient(ctx, func() error {
			var err error
			created, err = o.store.CreateFilter(ctx, &in)
			return err
		})
		if err != nil {
			return err
		}
		o.audit(ctx, principal, team, "filter", "create", created.ID, 0, created.Version)
		return o.rebuild(ctx, team)
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// AttachFilter binds a filter to a scope and republishes.
func (o *Orchestrator) AttachFilter(ctx context.Context, principal *auth.Principal, team string, row *model.FilterAttachmentRow) (*model.FilterAttachmentRow, error) {
	if err := authorize(principal, team); err != nil {
		return nil, err
	}

	var created *model.FilterAttachmentRow
	err := o.RunForTeam(ctx, team, func(ctx context.Context) error {
		in := *row
		in.Team = team
		err := o.retryTransient(ctx, func() error {
			var err error
			created, err = o.store.CreateAttachment(ctx, &in)
			return err
		})
		if err != nil {
			return err
		}
		o.audit(ctx, principal, team, "filter_attachment", "create", created.ID, 0, 1)
		return o.rebuild(ctx, team)
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

// checkRouteClusters enforces that every cluster a route forwards to
// resolves within the team at mutation time. (A later cluster delete
// is blocked by the referential check on the cluster side.)
func (o *Orchestrator) checkRouteClusters(ctx context.Context, team string, spec *model.RouteSpec) error {
	for _, name := range spec.ClusterNames() {
		if _, err := o.store.GetClusterByName(ctx, team, name); err != nil {
			if err == store.ErrNotFound {
				return &model.ValidationError{Field: "action", Reason: "unknown cluster " + name}
			}
			return err
		}
	}
	return nil
}

// checkListenerRoutes enforces that every route configuration a
// listener references resolves within the team at mutation time.
func (o *Orchestrator) checkListenerRoutes(ctx context.Context, team string, spec *model.ListenerSpec) error {
	for _, name := range spec.RouteConfigNames() {
		if _, err := o.store.GetRouteByName(ctx, team, name); err != nil {
			if err == store.ErrNotFound {
				return &model.ValidationError{Field: "filter_chains", Reason: "unknown route configuration " + name}
			}
			return err
		}
	}
	return nil
}
