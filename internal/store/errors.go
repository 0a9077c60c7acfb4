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
	"errors"
	"fmt"
	"strings"
)

// ErrNotFound reports a row that does not exist.
var ErrNotFound = errors.New("not found")

// NameConflictError reports a (team, name) uniqueness violation.
type NameConflictError struct {
	Team string
	Name string
}

func (e *NameConflictError) Error() string {
	return fmt.Sprintf("name %q already taken in team %q", e.Name, e.Team)
}

// VersionConflictError reports an optimistic concurrency failure.
type VersionConflictError struct {
	ID       string
	Expected uint64
	Actual   uint64
}

func (e *VersionConflictError) Error() string {
	return fmt.Sprintf("row %q is at version %d, expected %d", e.ID, e.Actual, e.Expected)
}

// ReferencedError reports a delete blocked by rows that still
// reference the target. By holds "type/name" descriptors.
type ReferencedError struct {
	ID string
	By []string
}

func (e *ReferencedError) Error() string {
	return fmt.Sprintf("row %q is referenced by %s", e.ID, strings.Join(e.By, ", "))
}

// TransientError wraps a storage failure that the caller may retry.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient storage error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err is retriable.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
