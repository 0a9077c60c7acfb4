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

	"github.com/rajeevramani/flowplane/internal/model"
)

// ListAllForSnapshot returns the full configuration of a team from a
// single snapshot-isolated read transaction, for rebuilding the team's
// xDS snapshot.
func (s *Store) ListAllForSnapshot(ctx context.Context, team string) (*model.TeamConfig, error) {
	if err := checkCtx(ctx); err != nil {
		return nil, err
	}

	txn := s.db.Txn(false)
	defer txn.Abort()

	clusters, err := listClusters(txn, team)
	if err != nil {
		return nil, err
	}
	routes, err := listRoutes(txn, team)
	if err != nil {
		return nil, err
	}
	listeners, err := listListeners(txn, team)
	if err != nil {
		return nil, err
	}
	filters, err := listFilters(txn, team)
	if err != nil {
		return nil, err
	}
	attachments, err := listAttachments(txn, team)
	if err != nil {
		return nil, err
	}

	return &model.TeamConfig{
		Clusters:    clusters,
		Routes:      routes,
		Listeners:   listeners,
		Filters:     filters,
		Attachments: attachments,
	}, nil
}
