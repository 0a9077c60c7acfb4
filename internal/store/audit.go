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
	"time"

	"github.com/google/uuid"
)

// AuditEvent records one mutation against the repository.
type AuditEvent struct {
	ID            string    `json:"id"`
	Actor         string    `json:"actor"`
	Team          string    `json:"team"`
	ResourceType  string    `json:"resource_type"`
	Op            string    `json:"op"`
	ResourceID    string    `json:"resource_id"`
	OldVersion    uint64    `json:"old_version"`
	NewVersion    uint64    `json:"new_version"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	At            time.Time `json:"at"`
}

// AppendAudit persists an audit event.
func (s *Store) AppendAudit(ctx context.Context, ev *AuditEvent) error {
	if err := checkCtx(ctx); err != nil {
		return err
	}

	s.writer.Lock()
	defer s.writer.Unlock()

	stored := *ev
	stored.ID = uuid.NewString()
	if stored.At.IsZero() {
		stored.At = now()
	}

	txn := s.db.Txn(true)
	if err := txn.Insert(tableAuditLog, &stored); err != nil {
		txn.Abort()
		return err
	}
	return s.commit(txn, []change{{tableAuditLog, stored.ID, &stored}})
}

// ListAudit returns the team's audit events, newest last.
func (s *Store) ListAudit(ctx context.Context, team string) ([]*AuditEvent, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	txn := s.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(tableAuditLog, indexTeam, team)
	if err != nil {
		return nil, err
	}
	var events []*AuditEvent
	for raw := it.Next(); raw != nil; raw = it.Next() {
		out := *(raw.(*AuditEvent))
		events = append(events, &out)
	}
	// memdb iterates in index order (by id); order by time instead.
	sort.Slice(events, func(i, j int) bool { return events[i].At.Before(events[j].At) })
	return events, nil
}
