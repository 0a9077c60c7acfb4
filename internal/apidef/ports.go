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

package apidef

import (
	"context"

	"github.com/rajeevramani/flowplane/internal/model"
	"github.com/rajeevramani/flowplane/internal/store"
)

// PortAllocator assigns listener ports for isolated API definitions.
// The default implementation draws from a configured range; a
// deployment can substitute its own policy.
type PortAllocator interface {
	Allocate(ctx context.Context, team string) (int, error)
}

// RangeAllocator hands out the first port in [Base, Base+Count) not
// already bound by one of the team's listeners.
type RangeAllocator struct {
	Store *store.Store
	Base  int
	Count int
}

// Allocate picks a free port, or fails with a validation error when
// the range is exhausted.
func (a *RangeAllocator) Allocate(ctx context.Context, team string) (int, error) {
	listeners, err := a.Store.ListListeners(ctx, team)
	if err != nil {
		return 0, err
	}
	used := map[int]bool{}
	for _, l := range listeners {
		used[l.Spec.Port] = true
	}
	for port := a.Base; port < a.Base+a.Count; port++ {
		if !used[port] {
			return port, nil
		}
	}
	return 0, &model.ValidationError{Field: "port", Reason: "no free listener port in configured range"}
}
