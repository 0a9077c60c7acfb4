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
	"sort"

	"github.com/google/uuid"

	"github.com/rajeevramani/flowplane/internal/model"
)

// CreateAPIDefinition persists a new API definition row.
func (s *Store) CreateAPIDefinition(ctx context.Context, row *model.APIDefinitionRow) (*model.APIDefinitionRow, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}

	s.writer.Lock()
	defer s.writer.Unlock()

	txn := s.db.Txn(true)
	if existing, err := txn.First(tableAPIDefinitions, indexTeamName, row.Team, row.Domain); err != nil {
		txn.Abort()
		return nil, err
	} else if existing != nil {
		txn.Abort()
		return nil, &NameConflictError{Team: row.Team, Name: row.Domain}
	}

	stored := *row
	stored.ID = uuid.NewString()
	stored.Version = 1
	stored.CreatedAt = now()
	stored.UpdatedAt = stored.CreatedAt

	if err := txn.Insert(tableAPIDefinitions, &stored); err != nil {
		txn.Abort()
		return nil, err
	}
	if err := s.commit(txn, []change{{tableAPIDefinitions, stored.ID, &stored}}); err != nil {
		return nil, err
	}

	out := stored
	return &out, nil
}

// GetAPIDefinition returns an API definition row by id.
func (s *Store) GetAPIDefinition(ctx context.Context, team, id string) (*model.APIDefinitionRow, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	txn := s.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(tableAPIDefinitions, indexID, id)
	if err != nil {
		return nil, err
	}
	cur, ok := raw.(*model.APIDefinitionRow)
	if !ok || cur.Team != team {
		return nil, ErrNotFound
	}
	out := *cur
	return &out, nil
}

// GetAPIDefinitionByDomain returns an API definition row by its
// per-team unique domain.
func (s *Store) GetAPIDefinitionByDomain(ctx context.Context, team, domain string) (*model.APIDefinitionRow, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	txn := s.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(tableAPIDefinitions, indexTeamName, team, domain)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, ErrNotFound
	}
	out := *(raw.(*model.APIDefinitionRow))
	return &out, nil
}

// ListAPIDefinitions returns the team's API definition rows.
func (s *Store) ListAPIDefinitions(ctx context.Context, team string) ([]*model.APIDefinitionRow, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	txn := s.db.Txn(false)
	defer txn.Abort()
	return listAPIDefinitions(txn, team)
}

func listAPIDefinitions(txn readTxn, team string) ([]*model.APIDefinitionRow, error) {
	it, err := txn.Get(tableAPIDefinitions, indexTeam, team)
	if err != nil {
		return nil, err
	}
	var rows []*model.APIDefinitionRow
	for raw := it.Next(); raw != nil; raw = it.Next() {
		out := *(raw.(*model.APIDefinitionRow))
		rows = append(rows, &out)
	}
	return rows, nil
}

// SetAPIDefinitionBootstrapURI records where a node bootstrap for the
// definition can be fetched, bumping the definition's version.
func (s *Store) SetAPIDefinitionBootstrapURI(ctx context.Context, team, id, uri string) (*model.APIDefinitionRow, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}

	s.writer.Lock()
	defer s.writer.Unlock()

	txn := s.db.Txn(true)
	raw, err := txn.First(tableAPIDefinitions, indexID, id)
	if err != nil {
		txn.Abort()
		return nil, err
	}
	cur, ok := raw.(*model.APIDefinitionRow)
	if !ok || cur.Team != team {
		txn.Abort()
		return nil, ErrNotFound
	}

	updated := *cur
	updated.BootstrapURI = uri
	updated.Version = cur.Version + 1
	updated.UpdatedAt = now()

	if err := txn.Insert(tableAPIDefinitions, &updated); err != nil {
		txn.Abort()
		return nil, err
	}
	if err := s.commit(txn, []change{{tableAPIDefinitions, updated.ID, &updated}}); err != nil {
		return nil, err
	}

	out := updated
	return &out, nil
}

// ReplaceAPIRoutes swaps the persisted logical routes of a definition
// for the supplied set, in one transaction.
func (s *Store) ReplaceAPIRoutes(ctx context.Context, team, defID string, routes []model.APIRoute) ([]*model.APIRouteRow, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}

	s.writer.Lock()
	defer s.writer.Unlock()

	txn := s.db.Txn(true)

	var changes []change
	it, err := txn.Get(tableAPIRoutes, indexDef, defID)
	if err != nil {
		txn.Abort()
		return nil, err
	}
	var stale []any
	for raw := it.Next(); raw != nil; raw = it.Next() {
		stale = append(stale, raw)
	}
	for _, raw := range stale {
		row := raw.(*model.APIRouteRow)
		if err := txn.Delete(tableAPIRoutes, row); err != nil {
			txn.Abort()
			return nil, err
		}
		changes = append(changes, change{tableAPIRoutes, row.ID, nil})
	}

	out := make([]*model.APIRouteRow, 0, len(routes))
	for i, route := range routes {
		row := &model.APIRouteRow{
			ID:              uuid.NewString(),
			Team:            team,
			APIDefinitionID: defID,
			Index:           i,
			Spec:            route,
			CreatedAt:       now(),
		}
		if err := txn.Insert(tableAPIRoutes, row); err != nil {
			txn.Abort()
			return nil, err
		}
		changes = append(changes, change{tableAPIRoutes, row.ID, row})
		copied := *row
		out = append(out, &copied)
	}

	if err := s.commit(txn, changes); err != nil {
		return nil, err
	}
	return out, nil
}

// ListAPIRoutes returns the persisted logical routes of a definition
// in index order.
func (s *Store) ListAPIRoutes(ctx context.Context, team, defID string) ([]*model.APIRouteRow, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	txn := s.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(tableAPIRoutes, indexDef, defID)
	if err != nil {
		return nil, err
	}
	var rows []*model.APIRouteRow
	for raw := it.Next(); raw != nil; raw = it.Next() {
		row := raw.(*model.APIRouteRow)
		if row.Team != team {
			continue
		}
		copied := *row
		rows = append(rows, &copied)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Index < rows[j].Index })
	return rows, nil
}

// CascadeDeleteAPIDefinition removes an API definition together with
// every generated row linked to it through ImportID. Generated rows
// reference only each other, so they are removed in dependency order:
// listeners, then routes, then clusters.
func (s *Store) CascadeDeleteAPIDefinition(ctx context.Context, team, id string) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}

	s.writer.Lock()
	defer s.writer.Unlock()

	txn := s.db.Txn(true)
	raw, err := txn.First(tableAPIDefinitions, indexID, id)
	if err != nil {
		txn.Abort()
		return err
	}
	def, ok := raw.(*model.APIDefinitionRow)
	if !ok || def.Team != team {
		txn.Abort()
		return ErrNotFound
	}

	var changes []change

	it, err := txn.Get(tableAPIRoutes, indexDef, id)
	if err != nil {
		txn.Abort()
		return err
	}
	var apiRoutes []any
	for raw := it.Next(); raw != nil; raw = it.Next() {
		apiRoutes = append(apiRoutes, raw)
	}
	for _, raw := range apiRoutes {
		row := raw.(*model.APIRouteRow)
		if err := txn.Delete(tableAPIRoutes, row); err != nil {
			txn.Abort()
			return err
		}
		changes = append(changes, change{tableAPIRoutes, row.ID, nil})
	}

	for _, table := range []string{tableListeners, tableRoutes, tableClusters} {
		it, err := txn.Get(table, indexImport, id)
		if err != nil {
			txn.Abort()
			return err
		}
		var generated []any
		for raw := it.Next(); raw != nil; raw = it.Next() {
			generated = append(generated, raw)
		}
		for _, row := range generated {
			if err := txn.Delete(table, row); err != nil {
				txn.Abort()
				return err
			}
			changes = append(changes, change{table, rowID(row), nil})
		}
	}

	if err := txn.Delete(tableAPIDefinitions, def); err != nil {
		txn.Abort()
		return err
	}
	changes = append(changes, change{tableAPIDefinitions, id, nil})

	return s.commit(txn, changes)
}

func rowID(row any) string {
	switch r := row.(type) {
	case *model.ClusterRow:
		return r.ID
	case *model.RouteRow:
		return r.ID
	case *model.ListenerRow:
		return r.ID
	default:
		return ""
	}
}
