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

package store

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/rajeevramani/flowplane/internal/model"
)

// CreateRoute persists a new route configuration row.
func (s *Store) CreateRoute(ctx context.Context, row *model.RouteRow) (*model.RouteRow, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}

	s.writer.Lock()
	defer s.writer.Unlock()

	txn := s.db.Txn(true)
	if existing, err := txn.First(tableRoutes, indexTeamName, row.Team, row.Name); err != nil {
		txn.Abort()
		return nil, err
	} else if existing != nil {
		txn.Abort()
		return nil, &NameConflictError{Team: row.Team, Name: row.Name}
	}

	stored := *row
	stored.ID = uuid.NewString()
	stored.Version = 1
	if stored.Source == "" {
		stored.Source = model.SourceNative
	}
	stored.CreatedAt = now()
	stored.UpdatedAt = stored.CreatedAt

	if err := txn.Insert(tableRoutes, &stored); err != nil {
		txn.Abort()
		return nil, err
	}
	if err := s.commit(txn, []change{{tableRoutes, stored.ID, &stored}}); err != nil {
		return nil, err
	}

	out := stored
	return &out, nil
}

// UpdateRoute replaces a route's spec under optimistic concurrency.
func (s *Store) UpdateRoute(ctx context.Context, team, id string, expectedVersion uint64, spec model.RouteSpec) (*model.RouteRow, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}

	s.writer.Lock()
	defer s.writer.Unlock()

	txn := s.db.Txn(true)
	raw, err := txn.First(tableRoutes, indexID, id)
	if err != nil {
		txn.Abort()
		return nil, err
	}
	cur, ok := raw.(*model.RouteRow)
	if !ok || cur.Team != team {
		txn.Abort()
		return nil, ErrNotFound
	}
	if cur.Version != expectedVersion {
		txn.Abort()
		return nil, &VersionConflictError{ID: id, Expected: expectedVersion, Actual: cur.Version}
	}

	updated := *cur
	updated.Spec = spec
	updated.Version = cur.Version + 1
	updated.UpdatedAt = now()

	if err := txn.Insert(tableRoutes, &updated); err != nil {
		txn.Abort()
		return nil, err
	}
	if err := s.commit(txn, []change{{tableRoutes, updated.ID, &updated}}); err != nil {
		return nil, err
	}

	out := updated
	return &out, nil
}

// DeleteRoute removes a route row. The delete is refused while any
// listener in the same team still references the route configuration.
func (s *Store) DeleteRoute(ctx context.Context, team, id string) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}

	s.writer.Lock()
	defer s.writer.Unlock()

	txn := s.db.Txn(true)
	raw, err := txn.First(tableRoutes, indexID, id)
	if err != nil {
		txn.Abort()
		return err
	}
	cur, ok := raw.(*model.RouteRow)
	if !ok || cur.Team != team {
		txn.Abort()
		return ErrNotFound
	}

	referrers, err := routeReferrers(txn, team, cur.Name)
	if err != nil {
		txn.Abort()
		return err
	}
	if len(referrers) > 0 {
		txn.Abort()
		return &ReferencedError{ID: id, By: referrers}
	}

	if err := txn.Delete(tableRoutes, cur); err != nil {
		txn.Abort()
		return err
	}
	return s.commit(txn, []change{{tableRoutes, id, nil}})
}

// GetRoute returns a route row by id.
func (s *Store) GetRoute(ctx context.Context, team, id string) (*model.RouteRow, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	txn := s.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(tableRoutes, indexID, id)
	if err != nil {
		return nil, err
	}
	cur, ok := raw.(*model.RouteRow)
	if !ok || cur.Team != team {
		return nil, ErrNotFound
	}
	out := *cur
	return &out, nil
}

// GetRouteByName returns a route row by its per-team unique name.
func (s *Store) GetRouteByName(ctx context.Context, team, name string) (*model.RouteRow, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	txn := s.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(tableRoutes, indexTeamName, team, name)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, ErrNotFound
	}
	out := *(raw.(*model.RouteRow))
	return &out, nil
}

// ListRoutes returns the team's route rows.
func (s *Store) ListRoutes(ctx context.Context, team string) ([]*model.RouteRow, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	txn := s.db.Txn(false)
	defer txn.Abort()
	return listRoutes(txn, team)
}

func listRoutes(txn readTxn, team string) ([]*model.RouteRow, error) {
	it, err := txn.Get(tableRoutes, indexTeam, team)
	if err != nil {
		return nil, err
	}
	var rows []*model.RouteRow
	for raw := it.Next(); raw != nil; raw = it.Next() {
		out := *(raw.(*model.RouteRow))
		rows = append(rows, &out)
	}
	return rows, nil
}

// routeReferrers lists "listener/<name>" descriptors for listeners
// whose HTTP connection managers reference the named route config.
func routeReferrers(txn readTxn, team, routeName string) ([]string, error) {
	it, err := txn.Get(tableListeners, indexTeam, team)
	if err != nil {
		return nil, err
	}
	var referrers []string
	for raw := it.Next(); raw != nil; raw = it.Next() {
		l := raw.(*model.ListenerRow)
		for _, name := range l.Spec.RouteConfigNames() {
			if name == routeName {
				referrers = append(referrers, fmt.Sprintf("listener/%s", l.Name))
				break
			}
		}
	}
	return referrers, nil
}
