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
	memdb "github.com/hashicorp/go-memdb"
)

// Table names. Each configuration table is indexed by id, by team and
// by the unique (team, name) pair.
const (
	tableTeams          = "teams"
	tableClusters       = "clusters"
	tableRoutes         = "routes"
	tableListeners      = "listeners"
	tableAPIDefinitions = "api_definitions"
	tableAPIRoutes      = "api_routes"
	tableFilters        = "filters"
	tableAttachments    = "filter_attachments"
	tableAuditLog       = "audit_log"
)

const (
	indexID       = "id"
	indexTeam     = "team"
	indexTeamName = "team_name"
	indexScope    = "scope"
	indexFilter   = "filter"
	indexImport   = "import"
	indexDef      = "def"
)

func configTableSchema(name string) *memdb.TableSchema {
	return &memdb.TableSchema{
		Name: name,
		Indexes: map[string]*memdb.IndexSchema{
			indexID: {
				Name:    indexID,
				Unique:  true,
				Indexer: &memdb.StringFieldIndex{Field: "ID"},
			},
			indexTeam: {
				Name:    indexTeam,
				Indexer: &memdb.StringFieldIndex{Field: "Team"},
			},
			indexTeamName: {
				Name:   indexTeamName,
				Unique: true,
				Indexer: &memdb.CompoundIndex{
					Indexes: []memdb.Indexer{
						&memdb.StringFieldIndex{Field: "Team"},
						&memdb.StringFieldIndex{Field: "Name"},
					},
				},
			},
			indexImport: {
				Name:         indexImport,
				AllowMissing: true,
				Indexer:      &memdb.StringFieldIndex{Field: "ImportID"},
			},
		},
	}
}

func schema() *memdb.DBSchema {
	return &memdb.DBSchema{
		Tables: map[string]*memdb.TableSchema{
			tableTeams: {
				Name: tableTeams,
				Indexes: map[string]*memdb.IndexSchema{
					indexID: {
						Name:    indexID,
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "Name"},
					},
				},
			},
			tableClusters:  configTableSchema(tableClusters),
			tableRoutes:    configTableSchema(tableRoutes),
			tableListeners: configTableSchema(tableListeners),
			tableAPIDefinitions: {
				Name: tableAPIDefinitions,
				Indexes: map[string]*memdb.IndexSchema{
					indexID: {
						Name:    indexID,
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "ID"},
					},
					indexTeam: {
						Name:    indexTeam,
						Indexer: &memdb.StringFieldIndex{Field: "Team"},
					},
					indexTeamName: {
						Name:   indexTeamName,
						Unique: true,
						Indexer: &memdb.CompoundIndex{
							Indexes: []memdb.Indexer{
								&memdb.StringFieldIndex{Field: "Team"},
								&memdb.StringFieldIndex{Field: "Domain"},
							},
						},
					},
				},
			},
			tableAPIRoutes: {
				Name: tableAPIRoutes,
				Indexes: map[string]*memdb.IndexSchema{
					indexID: {
						Name:    indexID,
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "ID"},
					},
					indexTeam: {
						Name:    indexTeam,
						Indexer: &memdb.StringFieldIndex{Field: "Team"},
					},
					indexDef: {
						Name:    indexDef,
						Indexer: &memdb.StringFieldIndex{Field: "APIDefinitionID"},
					},
				},
			},
			tableFilters: {
				Name: tableFilters,
				Indexes: map[string]*memdb.IndexSchema{
					indexID: {
						Name:    indexID,
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "ID"},
					},
					indexTeam: {
						Name:    indexTeam,
						Indexer: &memdb.StringFieldIndex{Field: "Team"},
					},
					indexTeamName: {
						Name:   indexTeamName,
						Unique: true,
						Indexer: &memdb.CompoundIndex{
							Indexes: []memdb.Indexer{
								&memdb.StringFieldIndex{Field: "Team"},
								&memdb.StringFieldIndex{Field: "Name"},
							},
						},
					},
				},
			},
			tableAttachments: {
				Name: tableAttachments,
				Indexes: map[string]*memdb.IndexSchema{
					indexID: {
						Name:    indexID,
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "ID"},
					},
					indexTeam: {
						Name:    indexTeam,
						Indexer: &memdb.StringFieldIndex{Field: "Team"},
					},
					indexScope: {
						Name: indexScope,
						Indexer: &memdb.CompoundIndex{
							Indexes: []memdb.Indexer{
								&memdb.StringFieldIndex{Field: "Scope"},
								&memdb.StringFieldIndex{Field: "ScopeID"},
							},
						},
					},
					indexFilter: {
						Name:    indexFilter,
						Indexer: &memdb.StringFieldIndex{Field: "FilterID"},
					},
				},
			},
			tableAuditLog: {
				Name: tableAuditLog,
				Indexes: map[string]*memdb.IndexSchema{
					indexID: {
						Name:    indexID,
						Unique:  true,
						Indexer: &memdb.StringFieldIndex{Field: "ID"},
					},
					indexTeam: {
						Name:    indexTeam,
						Indexer: &memdb.StringFieldIndex{Field: "Team"},
					},
				},
			},
		},
	}
}
