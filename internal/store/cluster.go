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

// CreateCluster persists a new cluster row. The caller supplies Team,
// Name, Spec and optionally Source and ImportID; the store assigns the
// id, version and timestamps.
func (s *Store) CreateCluster(ctx context.Context, row *model.ClusterRow) (*model.ClusterRow, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}

	s.writer.Lock()
	defer s.writer.Unlock()

	txn := s.db.Txn(true)
	if existing, err := txn.First(tableClusters, indexTeamName, row.Team, row.Name); err != nil {
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

	if err := txn.Insert(tableClusters, &stored); err != nil {
		txn.Abort()
		return nil, err
	}
	if err := s.commit(txn, []change{{tableClusters, stored.ID, &stored}}); err != nil {
		return nil, err
	}

	out := stored
	return &out, nil
}

// UpdateCluster replaces a cluster's spec under optimistic concurrency.
func (s *Store) UpdateCluster(ctx context.Context, team, id string, expectedVersion uint64, spec model.ClusterSpec) (*model.ClusterRow, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}

	s.writer.Lock()
	defer s.writer.Unlock()

	txn := s.db.Txn(true)
	raw, err := txn.First(tableClusters, indexID, id)
	if err != nil {
		txn.Abort()
		return nil, err
	}
	cur, ok := raw.(*model.ClusterRow)
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

	if err := txn.Insert(tableClusters, &updated); err != nil {
		txn.Abort()
		return nil, err
	}
	if err := s.commit(txn, []change{{tableClusters, updated.ID, &updated}}); err != nil {
		return nil, err
	}

	out := updated
	return &out, nil
}

// DeleteCluster removes a cluster row. The delete is refused while any
// route action in the same team still forwards to the cluster.
func (s *Store) DeleteCluster(ctx context.Context, team, id string) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}

	s.writer.Lock()
	defer s.writer.Unlock()

	txn := s.db.Txn(true)
	raw, err := txn.First(tableClusters, indexID, id)
	if err != nil {
		txn.Abort()
		return err
	}
	cur, ok := raw.(*model.ClusterRow)
	if !ok || cur.Team != team {
		txn.Abort()
		return ErrNotFound
	}

	referrers, err := clusterReferrers(txn, team, cur.Name)
	if err != nil {
		txn.Abort()
		return err
	}
	if len(referrers) > 0 {
		txn.Abort()
		return &ReferencedError{ID: id, By: referrers}
	}

	if err := txn.Delete(tableClusters, cur); err != nil {
		txn.Abort()
		return err
	}
	return s.commit(txn, []change{{tableClusters, id, nil}})
}

// GetCluster returns a cluster row by id.
func (s *Store) GetCluster(ctx context.Context, team, id string) (*model.ClusterRow, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	txn := s.db.Txn(false)
	defer txn.Abort()
	return getCluster(txn, team, id)
}

// GetClusterByName returns a cluster row by its per-team unique name.
func (s *Store) GetClusterByName(ctx context.Context, team, name string) (*model.ClusterRow, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	txn := s.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(tableClusters, indexTeamName, team, name)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, ErrNotFound
	}
	out := *(raw.(*model.ClusterRow))
	return &out, nil
}

// ListClusters returns the team's cluster rows.
func (s *Store) ListClusters(ctx context.Context, team string) ([]*model.ClusterRow, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	txn := s.db.Txn(false)
	defer txn.Abort()
	return listClusters(txn, team)
}

func getCluster(txn readTxn, team, id string) (*model.ClusterRow, error) {
	raw, err := txn.First(tableClusters, indexID, id)
	if err != nil {
		return nil, err
	}
	cur, ok := raw.(*model.ClusterRow)
	if !ok || cur.Team != team {
		return nil, ErrNotFound
	}
	out := *cur
	return &out, nil
}

func listClusters(txn readTxn, team string) ([]*model.ClusterRow, error) {
	it, err := txn.Get(tableClusters, indexTeam, team)
	if err != nil {
		return nil, err
	}
	var rows []*model.ClusterRow
	for raw := it.Next(); raw != nil; raw = it.Next() {
		out := *(raw.(*model.ClusterRow))
		rows = append(rows, &out)
	}
	return rows, nil
}

// clusterReferrers lists "route/<name>" descriptors for routes whose
// actions forward to the named cluster.
func clusterReferrers(txn readTxn, team, clusterName string) ([]string, error) {
	it, err := txn.Get(tableRoutes, indexTeam, team)
	if err != nil {
		return nil, err
	}
	var referrers []string
	for raw := it.Next(); raw != nil; raw = it.Next() {
		route := raw.(*model.RouteRow)
		for _, name := range route.Spec.ClusterNames() {
			if name == clusterName {
				referrers = append(referrers, fmt.Sprintf("route/%s", route.Name))
				break
			}
		}
	}
	return referrers, nil
}
