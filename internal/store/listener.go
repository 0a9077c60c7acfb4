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

	"github.com/google/uuid"

	"github.com/rajeevramani/flowplane/internal/model"
)

// CreateListener persists a new listener row.
func (s *Store) CreateListener(ctx context.Context, row *model.ListenerRow) (*model.ListenerRow, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}

	s.writer.Lock()
	defer s.writer.Unlock()

	txn := s.db.Txn(true)
	if existing, err := txn.First(tableListeners, indexTeamName, row.Team, row.Name); err != nil {
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

	if err := txn.Insert(tableListeners, &stored); err != nil {
		txn.Abort()
		return nil, err
	}
	if err := s.commit(txn, []change{{tableListeners, stored.ID, &stored}}); err != nil {
		return nil, err
	}

	out := stored
	return &out, nil
}

// UpdateListener replaces a listener's spec under optimistic concurrency.
func (s *Store) UpdateListener(ctx context.Context, team, id string, expectedVersion uint64, spec model.ListenerSpec) (*model.ListenerRow, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}

	s.writer.Lock()
	defer s.writer.Unlock()

	txn := s.db.Txn(true)
	raw, err := txn.First(tableListeners, indexID, id)
	if err != nil {
		txn.Abort()
		return nil, err
	}
	cur, ok := raw.(*model.ListenerRow)
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

	if err := txn.Insert(tableListeners, &updated); err != nil {
		txn.Abort()
		return nil, err
	}
	if err := s.commit(txn, []change{{tableListeners, updated.ID, &updated}}); err != nil {
		return nil, err
	}

	out := updated
	return &out, nil
}

// DeleteListener removes a listener row. Nothing references listeners,
// so the delete only requires the row to exist.
func (s *Store) DeleteListener(ctx context.Context, team, id string) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}

	s.writer.Lock()
	defer s.writer.Unlock()

	txn := s.db.Txn(true)
	raw, err := txn.First(tableListeners, indexID, id)
	if err != nil {
		txn.Abort()
		return err
	}
	cur, ok := raw.(*model.ListenerRow)
	if !ok || cur.Team != team {
		txn.Abort()
		return ErrNotFound
	}

	if err := txn.Delete(tableListeners, cur); err != nil {
		txn.Abort()
		return err
	}
	return s.commit(txn, []change{{tableListeners, id, nil}})
}

// GetListener returns a listener row by id.
func (s *Store) GetListener(ctx context.Context, team, id string) (*model.ListenerRow, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	txn := s.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(tableListeners, indexID, id)
	if err != nil {
		return nil, err
	}
	cur, ok := raw.(*model.ListenerRow)
	if !ok || cur.Team != team {
		return nil, ErrNotFound
	}
	out := *cur
	return &out, nil
}

// GetListenerByName returns a listener row by its per-team unique name.
func (s *Store) GetListenerByName(ctx context.Context, team, name string) (*model.ListenerRow, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	txn := s.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(tableListeners, indexTeamName, team, name)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, ErrNotFound
	}
	out := *(raw.(*model.ListenerRow))
	return &out, nil
}

// ListListeners returns the team's listener rows.
func (s *Store) ListListeners(ctx context.Context, team string) ([]*model.ListenerRow, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	txn := s.db.Txn(false)
	defer txn.Abort()
	return listListeners(txn, team)
}

func listListeners(txn readTxn, team string) ([]*model.ListenerRow, error) {
	it, err := txn.Get(tableListeners, indexTeam, team)
	if err != nil {
		return nil, err
	}
	var rows []*model.ListenerRow
	for raw := it.Next(); raw != nil; raw = it.Next() {
		out := *(raw.(*model.ListenerRow))
		rows = append(rows, &out)
	}
	return rows, nil
}
