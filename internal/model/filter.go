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

package model

import (
	"encoding/json"
	"time"
)

// Well known HTTP filter types that can be stored and attached.
const (
	FilterTypeLocalRateLimit = "envoy.filters.http.local_ratelimit"
	FilterTypeCORS           = "envoy.filters.http.cors"
	FilterTypeExtAuthz       = "envoy.filters.http.ext_authz"
	FilterTypeBuffer         = "envoy.filters.http.buffer"
)

// OverrideSupport describes which per scope override modes a filter
// type accepts.
type OverrideSupport string

const (
	OverrideSupportFull          OverrideSupport = "full_config"
	OverrideSupportReferenceOnly OverrideSupport = "reference_only"
	OverrideSupportDisableOnly   OverrideSupport = "disable_only"
	OverrideSupportNone          OverrideSupport = "not_supported"
)

// filterSupport is the closed table of attachable filter types.
var filterSupport = map[string]OverrideSupport{
	FilterTypeLocalRateLimit: OverrideSupportFull,
	FilterTypeCORS:           OverrideSupportFull,
	FilterTypeExtAuthz:       OverrideSupportDisableOnly,
	FilterTypeBuffer:         OverrideSupportFull,
}

// SupportForFilterType returns the override support level of a filter
// type, or OverrideSupportNone for unknown types.
func SupportForFilterType(filterType string) OverrideSupport {
	if s, ok := filterSupport[filterType]; ok {
		return s
	}
	return OverrideSupportNone
}

// FilterRow is a stored, team scoped filter definition.
type FilterRow struct {
	ID        string          `json:"id"`
	Team      string          `json:"team"`
	Name      string          `json:"name"`
	Version   uint64          `json:"version"`
	Type      string          `json:"type"`
	Config    json.RawMessage `json:"config,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// AttachmentScope names the level a filter is attached at.
type AttachmentScope string

const (
	ScopeListener    AttachmentScope = "listener"
	ScopeVirtualHost AttachmentScope = "vhost"
	ScopeRoute       AttachmentScope = "route"
)

// OverrideMode selects how an attachment configures its filter.
type OverrideMode string

const (
	OverrideUseBase OverrideMode = "use_base"
	OverrideDisable OverrideMode = "disable"
	OverrideReplace OverrideMode = "override"
)

// FilterAttachmentRow binds a filter to a scope with an override mode.
type FilterAttachmentRow struct {
	ID        string          `json:"id"`
	Team      string          `json:"team"`
	FilterID  string          `json:"filter_id"`
	Scope     AttachmentScope `json:"scope"`
	ScopeID   string          `json:"scope_id"`
	Mode      OverrideMode    `json:"mode"`
	Config    json.RawMessage `json:"config,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// ValidateAttachment checks that the attachment's mode is allowed for
// the filter type it references.
func ValidateAttachment(filterType string, mode OverrideMode) error {
	support := SupportForFilterType(filterType)
	switch mode {
	case OverrideUseBase:
		if support == OverrideSupportNone {
			return validationErrorf("mode", "filter type %q cannot be attached", filterType)
		}
	case OverrideDisable:
		switch support {
		case OverrideSupportFull, OverrideSupportDisableOnly:
		default:
			return validationErrorf("mode", "filter type %q does not support disable overrides", filterType)
		}
	case OverrideReplace:
		if support != OverrideSupportFull {
			return validationErrorf("mode", "filter type %q does not support config overrides", filterType)
		}
	default:
		return validationErrorf("mode", "unknown override mode %q", mode)
	}
	return nil
}
