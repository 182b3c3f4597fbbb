/*
Copyright 2026 Altaira Labs.

SPDX-License-Identifier: Apache-2.0

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package manifest

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const appManifest = `manifest_version: 1
# application metadata
application:
  name: hello
  version: 0.1.0
  trigger:
    type: http
components:
  - id: hello
    source: hello/target/hello.wasm
    build:
      command: cargo build
      workdir: hello
  - id: static
    source: static.wasm
`

func component(t *testing.T, doc string) []Component {
	t.Helper()
	m, err := Parse([]byte(doc))
	require.NoError(t, err)
	comps, err := m.Components()
	require.NoError(t, err)
	return comps
}

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		data    string
		wantErr string
	}{
		{name: "valid", data: appManifest},
		{name: "empty", data: "", wantErr: "empty"},
		{name: "not a mapping", data: "- a\n- b\n", wantErr: "must be a mapping"},
		{name: "bad yaml", data: "a: [\n", wantErr: "failed to parse"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data))
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestManifest_Accessors(t *testing.T) {
	m, err := Parse([]byte(appManifest))
	require.NoError(t, err)
	assert.Equal(t, "http", m.AppTriggerType())

	comps, err := m.Components()
	require.NoError(t, err)
	require.Len(t, comps, 2)
	assert.Equal(t, "hello", comps[0].ID)
	assert.Equal(t, "hello", comps[0].Workdir())
	assert.Equal(t, "static", comps[1].ID)
	assert.Empty(t, comps[1].Workdir())
}

func TestManifest_ComponentsErrors(t *testing.T) {
	for name, doc := range map[string]string{
		"not a list":   "components: {a: b}\n",
		"missing id":   "components:\n  - source: x\n",
		"scalar entry": "components:\n  - x\n",
	} {
		t.Run(name, func(t *testing.T) {
			m, err := Parse([]byte(doc))
			require.NoError(t, err)
			_, err = m.Components()
			assert.Error(t, err)
		})
	}
}

func TestManifest_StripComponents(t *testing.T) {
	m, err := Parse([]byte(appManifest))
	require.NoError(t, err)
	m.StripComponents()

	out, err := m.Bytes()
	require.NoError(t, err)
	assert.NotContains(t, string(out), "components")
	assert.Contains(t, string(out), "# application metadata", "comments survive")
	assert.Contains(t, string(out), "type: http")

	again, err := Parse(out)
	require.NoError(t, err)
	comps, err := again.Components()
	require.NoError(t, err)
	assert.Empty(t, comps)
}

func TestMerge(t *testing.T) {
	entries := component(t, `components:
  - id: api
    source: api/target/api.wasm
    build:
      workdir: api
`)

	out, err := Merge([]byte(appManifest), entries)
	require.NoError(t, err)

	m, err := Parse(out)
	require.NoError(t, err)
	comps, err := m.Components()
	require.NoError(t, err)
	ids := make([]string, len(comps))
	for i, c := range comps {
		ids[i] = c.ID
	}
	assert.Equal(t, []string{"hello", "static", "api"}, ids, "existing order preserved, new appended")
	assert.Equal(t, "http", m.AppTriggerType())
	assert.True(t, strings.HasPrefix(string(out), "manifest_version: 1\n# application metadata\n"))
}

func TestMerge_NoComponentsKey(t *testing.T) {
	entries := component(t, "components:\n  - id: api\n")

	for name, doc := range map[string]string{
		"absent":     "manifest_version: 1\napplication:\n  name: x\n",
		"empty flow": "manifest_version: 1\ncomponents: []\n",
	} {
		t.Run(name, func(t *testing.T) {
			out, err := Merge([]byte(doc), entries)
			require.NoError(t, err)
			assert.Contains(t, string(out), "components:\n  - id: api\n")
		})
	}
}

func TestMerge_Conflicts(t *testing.T) {
	t.Run("against existing", func(t *testing.T) {
		_, err := Merge([]byte(appManifest), component(t, "components:\n  - id: hello\n"))
		var conflict *ConflictError
		require.ErrorAs(t, err, &conflict)
		assert.Equal(t, "hello", conflict.ComponentID)
	})

	t.Run("within new entries", func(t *testing.T) {
		_, err := Merge([]byte(appManifest), component(t, "components:\n  - id: a\n  - id: a\n"))
		var conflict *ConflictError
		require.ErrorAs(t, err, &conflict)
		assert.Equal(t, "a", conflict.ComponentID)
	})
}

func TestComponent_Relocate(t *testing.T) {
	tests := []struct {
		name        string
		doc         string
		from, to    string
		wantWorkdir string
		wantSource  string
	}{
		{
			name:        "workdir renamed",
			doc:         "components:\n  - id: a\n    source: hello/target/a.wasm\n    build:\n      workdir: hello\n",
			from:        "hello",
			to:          "api",
			wantWorkdir: "api",
			wantSource:  "api/target/a.wasm",
		},
		{
			name:        "root content moved under directory",
			doc:         "components:\n  - id: a\n    source: target/a.wasm\n    build:\n      command: make\n",
			from:        "",
			to:          "api",
			wantWorkdir: "api",
			wantSource:  "api/target/a.wasm",
		},
		{
			name:       "source outside workdir untouched",
			doc:        "components:\n  - id: a\n    source: shared/a.wasm\n",
			from:       "hello",
			to:         "api",
			wantSource: "shared/a.wasm",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			comps := component(t, tt.doc)
			comps[0].Relocate(tt.from, tt.to)
			assert.Equal(t, tt.wantWorkdir, comps[0].Workdir())
			assert.Equal(t, tt.wantSource, lookup(comps[0].node, keySource).Value)
		})
	}
}

func TestDigest(t *testing.T) {
	assert.Equal(t, Digest([]byte("a")), Digest([]byte("a")))
	assert.NotEqual(t, Digest([]byte("a")), Digest([]byte("b")))
	assert.Len(t, Digest(nil), 64)
}
