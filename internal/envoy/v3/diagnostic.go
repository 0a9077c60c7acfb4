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

// Package v3 materializes stored configuration rows into Envoy v3
// typed resources. Every conversion is total: malformed rows are
// dropped from the output and reported as diagnostics, never as
// errors, so a bad row can not take down the rows around it.
package v3

import "fmt"

// Diagnostic reports a row that was dropped during materialization.
type Diagnostic struct {
	Resource string // cluster, route, listener, endpoint
	Name     string
	Field    string
	Reason   string
}

func (d Diagnostic) String() string {
	if d.Field == "" {
		return fmt.Sprintf("%s/%s: %s", d.Resource, d.Name, d.Reason)
	}
	return fmt.Sprintf("%s/%s: %s: %s", d.Resource, d.Name, d.Field, d.Reason)
}

func dropf(resource, name, field, format string, args ...any) Diagnostic {
	return Diagnostic{
		Resource: resource,
		Name:     name,
		Field:    field,
		Reason:   fmt.Sprintf(format, args...),
	}
}
