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

// CreateFilter persists a new filter definition row.
func (s *Store) CreateFilter(ctx context.Context, row *model.FilterRow) (*model.FilterRow, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	if model.SupportForFilterType(row.Type) == model.OverrideSupportNone {
		return nil, &model.ValidationError{Field: "type", Reason: fmt.Sprintf("unsupported filter type %q", row.Type)}
	}

	s.writer.Lock()
	defer s.writer.Unlock()

	txn := s.db.Txn(true)
	if existing, err := txn.First(tableFilters, indexTeamName, row.Team, row.Name); err != nil {
		txn.Abort()
		return nil, err
	} else if existing != nil {
		txn.Abort()
		return nil, &NameConflictError{Team: row.Team, Name: row.Name}
	}

	stored := *row
	stored.ID = uuid.NewString()
	stored.Version = 1
	stored.CreatedAt = now()
	stored.UpdatedAt = stored.CreatedAt

	if err := txn.Insert(tableFilters, &stored); err != nil {
		txn.Abort()
		return nil, err
	}
	if err := s.commit(txn, []change{{tableFilters, stored.ID, &stored}}); err != nil {
		return nil, err
	}

	out := stored
	return &out, nil
}

// DeleteFilter removes a filter definition. The delete is refused
// while attachments still reference the filter.
func (s *Store) DeleteFilter(ctx context.Context, team, id string) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}

	s.writer.Lock()
	defer s.writer.Unlock()

	txn := s.db.Txn(true)
	raw, err := txn.First(tableFilters, indexID, id)
	if err != nil {
		txn.Abort()
		return err
	}
	cur, ok := raw.(*model.FilterRow)
	if !ok || cur.Team != team {
		txn.Abort()
		return ErrNotFound
	}

	it, err := txn.Get(tableAttachments, indexFilter, id)
	if err != nil {
		txn.Abort()
		return err
	}
	var referrers []string
	for raw := it.Next(); raw != nil; raw = it.Next() {
		att := raw.(*model.FilterAttachmentRow)
		referrers = append(referrers, fmt.Sprintf("attachment/%s/%s", att.Scope, att.ScopeID))
	}
	if len(referrers) > 0 {
		txn.Abort()
		return &ReferencedError{ID: id, By: referrers}
	}

	if err := txn.Delete(tableFilters, cur); err != nil {
		txn.Abort()
		return err
	}
	return s.commit(txn, []change{{tableFilters, id, nil}})
}

// GetFilter returns a filter row by id.
func (s *Store) GetFilter(ctx context.Context, team, id string) (*model.FilterRow, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	txn := s.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(tableFilters, indexID, id)
	if err != nil {
		return nil, err
	}
	cur, ok := raw.(*model.FilterRow)
	if !ok || cur.Team != team {
		return nil, ErrNotFound
	}
	out := *cur
	return &out, nil
}

// GetFilterByName returns a filter row by its per-team unique name.
func (s *Store) GetFilterByName(ctx context.Context, team, name string) (*model.FilterRow, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	txn := s.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(tableFilters, indexTeamName, team, name)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, ErrNotFound
	}
	out := *(raw.(*model.FilterRow))
	return &out, nil
}

// ListFilters returns the team's filter rows.
func (s *Store) ListFilters(ctx context.Context, team string) ([]*model.FilterRow, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	txn := s.db.Txn(false)
	defer txn.Abort()
	return listFilters(txn, team)
}

func listFilters(txn readTxn, team string) ([]*model.FilterRow, error) {
	it, err := txn.Get(tableFilters, indexTeam, team)
	if err != nil {
		return nil, err
	}
	var rows []*model.FilterRow
	for raw := it.Next(); raw != nil; raw = it.Next() {
		out := *(raw.(*model.FilterRow))
		rows = append(rows, &out)
	}
	return rows, nil
}

// CreateAttachment binds a filter to a scope. The override mode is
// validated against the filter type's support level.
func (s *Store) CreateAttachment(ctx context.Context, row *model.FilterAttachmentRow) (*model.FilterAttachmentRow, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}

	s.writer.Lock()
	defer s.writer.Unlock()

	txn := s.db.Txn(true)
	raw, err := txn.First(tableFilters, indexID, row.FilterID)
	if err != nil {
		txn.Abort()
		return nil, err
	}
	filter, ok := raw.(*model.FilterRow)
	if !ok || filter.Team != row.Team {
		txn.Abort()
		return nil, ErrNotFound
	}
	if err := model.ValidateAttachment(filter.Type, row.Mode); err != nil {
		txn.Abort()
		return nil, err
	}

	stored := *row
	stored.ID = uuid.NewString()
	stored.CreatedAt = now()

	if err := txn.Insert(tableAttachments, &stored); err != nil {
		txn.Abort()
		return nil, err
	}
	if err := s.commit(txn, []change{{tableAttachments, stored.ID, &stored}}); err != nil {
		return nil, err
	}

	out := stored
	return &out, nil
}

// DeleteAttachment removes a filter attachment.
func (s *Store) DeleteAttachment(ctx context.Context, team, id string) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}

	s.writer.Lock()
	defer s.writer.Unlock()

	txn := s.db.Txn(true)
	raw, err := txn.First(tableAttachments, indexID, id)
	if err != nil {
		txn.Abort()
		return err
	}
	cur, ok := raw.(*model.FilterAttachmentRow)
	if !ok || cur.Team != team {
		txn.Abort()
		return ErrNotFound
	}

	if err := txn.Delete(tableAttachments, cur); err != nil {
		txn.Abort()
		return err
	}
	return s.commit(txn, []change{{tableAttachments, id, nil}})
}

// ListAttachments returns the team's filter attachments.
func (s *Store) ListAttachments(ctx context.Context, team string) ([]*model.FilterAttachmentRow, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	txn := s.db.Txn(false)
	defer txn.Abort()
	return listAttachments(txn, team)
}

func listAttachments(txn readTxn, team string) ([]*model.FilterAttachmentRow, error) {
	it, err := txn.Get(tableAttachments, indexTeam, team)
	if err != nil {
		return nil, err
	}
	var rows []*model.FilterAttachmentRow
	for raw := it.Next(); raw != nil; raw = it.Next() {
		out := *(raw.(*model.FilterAttachmentRow))
		rows = append(rows, &out)
	}
	return rows, nil
}
