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

// Package store is the durable configuration repository. Rows are
// indexed in a go-memdb database for transactional reads and written
// through to a single bbolt file for durability. Mutations are
// serialized by an internal writer lock; reads run against
// snapshot-isolated memdb transactions and never block the writer.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	memdb "github.com/hashicorp/go-memdb"
	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"

	"github.com/rajeevramani/flowplane/internal/model"
)

// Store is the configuration repository.
type Store struct {
	db   *memdb.MemDB
	bolt *bolt.DB
	log  logrus.FieldLogger

	// writer serializes all mutations so that the memdb commit and the
	// bbolt write-through land in the same order.
	writer sync.Mutex
}

// Open opens (creating if necessary) the repository file at path and
// loads its contents into the in-memory index.
func Open(path string, log logrus.FieldLogger) (*Store, error) {
	db, err := memdb.NewMemDB(schema())
	if err != nil {
		return nil, fmt.Errorf("building schema: %w", err)
	}

	bdb, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 5 * time.Second})
	if err != nil {
		return nil, &TransientError{Err: fmt.Errorf("opening %s: %w", path, err)}
	}

	s := &Store{db: db, bolt: bdb, log: log}
	if err := s.load(); err != nil {
		_ = bdb.Close()
		return nil, err
	}
	return s, nil
}

// NewInMemory returns a Store without a backing file. Contents do not
// survive a restart; intended for tests.
func NewInMemory(log logrus.FieldLogger) *Store {
	db, err := memdb.NewMemDB(schema())
	if err != nil {
		// The schema is static; failing to build it is a programming error.
		panic(err)
	}
	return &Store{db: db, log: log}
}

// Close releases the backing file.
func (s *Store) Close() error {
	if s.bolt == nil {
		return nil
	}
	return s.bolt.Close()
}

var tables = []string{
	tableTeams,
	tableClusters,
	tableRoutes,
	tableListeners,
	tableAPIDefinitions,
	tableAPIRoutes,
	tableFilters,
	tableAttachments,
	tableAuditLog,
}

func (s *Store) load() error {
	if err := s.bolt.Update(func(tx *bolt.Tx) error {
		for _, table := range tables {
			if _, err := tx.CreateBucketIfNotExists([]byte(table)); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return &TransientError{Err: err}
	}

	txn := s.db.Txn(true)
	defer txn.Abort()

	err := s.bolt.View(func(tx *bolt.Tx) error {
		for _, table := range tables {
			b := tx.Bucket([]byte(table))
			if err := b.ForEach(func(k, v []byte) error {
				row, err := decodeRow(table, v)
				if err != nil {
					return fmt.Errorf("table %s key %s: %w", table, k, err)
				}
				return txn.Insert(table, row)
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("loading repository: %w", err)
	}

	txn.Commit()
	return nil
}

func decodeRow(table string, data []byte) (any, error) {
	var row any
	switch table {
	case tableTeams:
		row = &model.Team{}
	case tableClusters:
		row = &model.ClusterRow{}
	case tableRoutes:
		row = &model.RouteRow{}
	case tableListeners:
		row = &model.ListenerRow{}
	case tableAPIDefinitions:
		row = &model.APIDefinitionRow{}
	case tableAPIRoutes:
		row = &model.APIRouteRow{}
	case tableFilters:
		row = &model.FilterRow{}
	case tableAttachments:
		row = &model.FilterAttachmentRow{}
	case tableAuditLog:
		row = &AuditEvent{}
	default:
		return nil, fmt.Errorf("unknown table %q", table)
	}
	if err := json.Unmarshal(data, row); err != nil {
		return nil, err
	}
	return row, nil
}

// readTxn is the subset of *memdb.Txn the lookup helpers need, letting
// them run inside either a read or a write transaction.
type readTxn interface {
	First(table, index string, args ...any) (any, error)
	Get(table, index string, args ...any) (memdb.ResultIterator, error)
}

// change is one row mutation to write through to the backing file.
// A nil value deletes the key.
type change struct {
	table string
	key   string
	value any
}

// commit writes the accumulated changes to the backing file, then
// commits the memdb transaction. If the write-through fails the memdb
// transaction is aborted and the error is surfaced as transient.
func (s *Store) commit(txn *memdb.Txn, changes []change) error {
	if s.bolt != nil {
		err := s.bolt.Update(func(tx *bolt.Tx) error {
			for _, c := range changes {
				b := tx.Bucket([]byte(c.table))
				if c.value == nil {
					if err := b.Delete([]byte(c.key)); err != nil {
						return err
					}
					continue
				}
				data, err := json.Marshal(c.value)
				if err != nil {
					return err
				}
				if err := b.Put([]byte(c.key), data); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			txn.Abort()
			return &TransientError{Err: err}
		}
	}

	txn.Commit()
	return nil
}

func checkCtx(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return &TransientError{Err: err}
	}
	return nil
}

func now() time.Time {
	return time.Now().UTC()
}

// CreateTeam registers a team. Team names are immutable.
func (s *Store) CreateTeam(ctx context.Context, name, orgID string) (*model.Team, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	if name == "" {
		return nil, &model.ValidationError{Field: "name", Reason: "name must not be empty"}
	}

	s.writer.Lock()
	defer s.writer.Unlock()

	txn := s.db.Txn(true)
	if existing, err := txn.First(tableTeams, indexID, name); err != nil {
		txn.Abort()
		return nil, fmt.Errorf("looking up team: %w", err)
	} else if existing != nil {
		txn.Abort()
		return nil, &NameConflictError{Team: name, Name: name}
	}

	team := &model.Team{Name: name, OrgID: orgID, CreatedAt: now()}
	if err := txn.Insert(tableTeams, team); err != nil {
		txn.Abort()
		return nil, err
	}
	if err := s.commit(txn, []change{{tableTeams, name, team}}); err != nil {
		return nil, err
	}

	out := *team
	return &out, nil
}

// GetTeam returns the named team.
func (s *Store) GetTeam(ctx context.Context, name string) (*model.Team, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	txn := s.db.Txn(false)
	defer txn.Abort()

	raw, err := txn.First(tableTeams, indexID, name)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, ErrNotFound
	}
	out := *(raw.(*model.Team))
	return &out, nil
}

// TeamExists reports whether the named team is registered.
func (s *Store) TeamExists(ctx context.Context, name string) (bool, error) {
	_, err := s.GetTeam(ctx, name)
	if err == ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// ListTeams returns every registered team.
func (s *Store) ListTeams(ctx context.Context) ([]*model.Team, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}
	txn := s.db.Txn(false)
	defer txn.Abort()

	it, err := txn.Get(tableTeams, indexID)
	if err != nil {
		return nil, err
	}
	var teams []*model.Team
	for raw := it.Next(); raw != nil; raw = it.Next() {
		out := *(raw.(*model.Team))
		teams = append(teams, &out)
	}
	return teams, nil
}
