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

package timeout

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := map[string]struct {
		duration string
		want     Setting
		wantErr  bool
	}{
		"empty": {
			duration: "",
			want:     DefaultSetting(),
		},
		"zero": {
			duration: "0s",
			want:     DefaultSetting(),
		},
		"infinity": {
			duration: "infinity",
			want:     DisabledSetting(),
		},
		"10 seconds": {
			duration: "10s",
			want:     DurationSetting(10 * time.Second),
		},
		"invalid": {
			duration: "10", // missing unit
			wantErr:  true,
		},
		"garbage": {
			duration: "not-a-duration",
			wantErr:  true,
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			got, err := Parse(tc.duration)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestSetting(t *testing.T) {
	s := DefaultSetting()
	assert.True(t, s.UseDefault())
	assert.False(t, s.IsDisabled())

	s = DisabledSetting()
	assert.False(t, s.UseDefault())
	assert.True(t, s.IsDisabled())

	s = DurationSetting(time.Minute)
	assert.False(t, s.UseDefault())
	assert.False(t, s.IsDisabled())
	assert.Equal(t, time.Minute, s.Duration())
}
