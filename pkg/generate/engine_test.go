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

package generate

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/go-logr/logr"
	"github.com/gofrs/flock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altairalabs/stencil/pkg/manifest"
	"github.com/altairalabs/stencil/pkg/params"
	"github.com/altairalabs/stencil/pkg/render"
	"github.com/altairalabs/stencil/pkg/sandbox"
	"github.com/altairalabs/stencil/pkg/template"
)

const componentManifest = `manifest_version: 1
application:
  name: {{ param "project-name" }}
  trigger:
    type: http
components:
  - id: {{ param "project-name" }}
    source: target/{{ param "project-name-snake" }}.wasm
    trigger:
      route: {{ param "http-path" }}
    build:
      command: cargo build
`

var httpRustContent = map[string]string{
	"stencil.yaml":       componentManifest,
	"src/lib.rs":         "// {{ param \"project-description\" }}\n",
	"Cargo.toml":         "name = \"{{ param \"project-name-snake\" }}\"\n",
	".gitignore.stencil": "target/\n",
	"README.md":          "# {{ param \"project-name\" }}\n",
}

func ptr(s string) *string { return &s }

func newEngine(t *testing.T, opts ...Option) *Engine {
	t.Helper()
	sb, err := sandbox.New(logr.Discard(), sandbox.DefaultOptions())
	require.NoError(t, err)
	opts = append([]Option{WithLockDir(t.TempDir())}, opts...)
	return New(logr.Discard(), render.NewRenderer(), sb, opts...)
}

// httpRust builds a template whose content area holds files.
func httpRust(t *testing.T, files map[string]string) template.Template {
	t.Helper()
	root := t.TempDir()
	for name, body := range files {
		p := filepath.Join(root, template.ContentDir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	}
	return template.Template{
		Name:     "http",
		Language: "rust",
		Trigger:  "http",
		Parameters: []template.ParameterDefinition{
			{Key: "project-description", Type: template.ParameterTypeString, Default: ptr("")},
			{Key: "http-path", Type: template.ParameterTypeString, Default: ptr("/..."), Pattern: `/\S*`},
		},
		Root: root,
	}
}

// snapshotTree returns every file under root with its content.
func snapshotTree(t *testing.T, root string) map[string]string {
	t.Helper()
	out := map[string]string{}
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(root, p)
		if d.IsDir() {
			out[rel+"/"] = ""
			return nil
		}
		data, err := os.ReadFile(p)
		if err != nil {
			return err
		}
		out[rel] = string(data)
		return nil
	})
	require.NoError(t, err)
	return out
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

func TestGenerate_SmolApp(t *testing.T) {
	parent := t.TempDir()
	target := filepath.Join(parent, "hello")

	res, err := newEngine(t).Generate(context.Background(), Request{
		Template: httpRust(t, httpRustContent),
		Mode:     SmolApp,
		Name:     "hello-world",
		Target:   target,
		Values:   map[string]string{"project-description": "says hi"},
	})
	require.NoError(t, err)
	assert.Equal(t, target, res.Root)
	assert.Equal(t, []string{".gitignore", "Cargo.toml", "README.md", "src/lib.rs", "stencil.yaml"}, res.Files)
	assert.Equal(t, "hello_world", res.Params[ParamProjectNameSnake])

	assert.Equal(t, "// says hi\n", readFile(t, filepath.Join(target, "src", "lib.rs")))
	assert.Equal(t, "name = \"hello_world\"\n", readFile(t, filepath.Join(target, "Cargo.toml")))
	assert.FileExists(t, filepath.Join(target, ".gitignore"))
	assert.NoFileExists(t, filepath.Join(target, ".gitignore.stencil"))
	assert.Contains(t, readFile(t, filepath.Join(target, manifest.FileName)), "route: /...")

	entries, err := os.ReadDir(parent)
	require.NoError(t, err)
	require.Len(t, entries, 1, "stage and lock file are gone")
	assert.Equal(t, "hello", entries[0].Name())
}

func TestGenerate_ScenarioA_EmptyApp(t *testing.T) {
	target := filepath.Join(t.TempDir(), "empty")

	res, err := newEngine(t).Generate(context.Background(), Request{
		Template: BareTemplate(),
		Mode:     BareApp,
		Name:     "empty",
		Target:   target,
		Values:   map[string]string{"trigger": "HTTP"},
		Authors:  "Ada <ada@example.com>",
	})
	require.NoError(t, err)
	assert.Equal(t, []string{manifest.FileName}, res.Files)

	data, err := os.ReadFile(filepath.Join(target, manifest.FileName))
	require.NoError(t, err)
	m, err := manifest.Parse(data)
	require.NoError(t, err)
	assert.Equal(t, "http", m.AppTriggerType())
	comps, err := m.Components()
	require.NoError(t, err)
	assert.Empty(t, comps)
	assert.Contains(t, string(data), `name: "empty"`)
	assert.Contains(t, string(data), `"Ada <ada@example.com>"`)
}

func TestGenerate_BareAppStripsComponents(t *testing.T) {
	target := filepath.Join(t.TempDir(), "bare")

	res, err := newEngine(t).Generate(context.Background(), Request{
		Template: httpRust(t, httpRustContent),
		Mode:     BareApp,
		Name:     "bare",
		Target:   target,
	})
	require.NoError(t, err)
	assert.Equal(t, []string{manifest.FileName}, res.Files)

	tree := snapshotTree(t, target)
	assert.Equal(t, []string{"./", manifest.FileName}, sortedKeys(tree))
	assert.NotContains(t, tree[manifest.FileName], "components")
	assert.Contains(t, tree[manifest.FileName], "type: http")
}

func TestGenerate_EmptyDirectoryTarget(t *testing.T) {
	target := t.TempDir()
	_, err := newEngine(t).Generate(context.Background(), Request{
		Template: httpRust(t, httpRustContent),
		Name:     "hello",
		Target:   target,
	})
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(target, manifest.FileName))
}

func TestGenerate_FailuresLeaveTargetUntouched(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Request)
		check   func(t *testing.T, err error)
		targets func(t *testing.T, dir string)
	}{
		{
			name:   "target not empty",
			mutate: func(r *Request) {},
			targets: func(t *testing.T, dir string) {
				require.NoError(t, os.WriteFile(filepath.Join(dir, "keep.txt"), []byte("mine"), 0o644))
			},
			check: func(t *testing.T, err error) { assert.ErrorIs(t, err, ErrTargetExists) },
		},
		{
			name:   "validation",
			mutate: func(r *Request) { r.Values = map[string]string{"http-path": "no-slash", "typo": "x"} },
			check: func(t *testing.T, err error) {
				var vErr *params.ValidationError
				require.ErrorAs(t, err, &vErr)
				assert.Len(t, vErr.Fields, 2)
			},
		},
		{
			name:   "invalid project name",
			mutate: func(r *Request) { r.Name = "9lives" },
			check: func(t *testing.T, err error) {
				var vErr *params.ValidationError
				require.ErrorAs(t, err, &vErr)
				_, ok := vErr.Field(ParamProjectName)
				assert.True(t, ok)
			},
		},
		{
			name: "render",
			mutate: func(r *Request) {
				r.Template = httpRust(t, map[string]string{
					"stencil.yaml": "manifest_version: 1\n",
					"bad.txt":      "{{ param \"nope\" }}",
				})
			},
			check: func(t *testing.T, err error) { assert.ErrorContains(t, err, `unknown parameter "nope"`) },
		},
		{
			name: "pre logic",
			mutate: func(r *Request) {
				r.Template.Logic = &template.Logic{Pre: template.PreLogic{Files: "files + ['/etc/passwd']"}}
			},
			check: func(t *testing.T, err error) {
				var sbErr *sandbox.Error
				assert.ErrorAs(t, err, &sbErr)
			},
		},
		{
			name: "no manifest",
			mutate: func(r *Request) {
				r.Template = httpRust(t, map[string]string{"main.go": "package main\n"})
			},
			check: func(t *testing.T, err error) { assert.ErrorIs(t, err, ErrNoManifest) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			parent := t.TempDir()
			target := filepath.Join(parent, "app")
			require.NoError(t, os.Mkdir(target, 0o755))
			if tt.targets != nil {
				tt.targets(t, target)
			}
			before := snapshotTree(t, parent)

			req := Request{Template: httpRust(t, httpRustContent), Mode: SmolApp, Name: "hello", Target: target}
			tt.mutate(&req)
			_, err := newEngine(t).Generate(context.Background(), req)
			require.Error(t, err)
			tt.check(t, err)

			assert.Equal(t, before, snapshotTree(t, parent), "parent of the target is byte-identical")
		})
	}
}

func TestGenerate_PreLogic(t *testing.T) {
	tmpl := httpRust(t, httpRustContent)
	tmpl.Logic = &template.Logic{
		Pre: template.PreLogic{
			Parameters: map[string]string{"project-description": "params['project-description'] + ' (generated)'"},
			Files:      "files.filter(f, f != 'README.md')",
		},
		Post: template.PostLogic{Message: "'cd ' + params['project-name'] + ' && cargo build'"},
	}
	target := filepath.Join(t.TempDir(), "hello")

	res, err := newEngine(t).Generate(context.Background(), Request{
		Template: tmpl,
		Name:     "hello",
		Target:   target,
		Values:   map[string]string{"project-description": "demo"},
	})
	require.NoError(t, err)
	assert.NoFileExists(t, filepath.Join(target, "README.md"))
	assert.Equal(t, "// demo (generated)\n", readFile(t, filepath.Join(target, "src", "lib.rs")), "kept files are rendered again")
	assert.Equal(t, "demo (generated)", res.Params["project-description"])
	assert.Equal(t, "cd hello && cargo build", res.Message)
}

func newApp(t *testing.T) (string, string) {
	t.Helper()
	root := filepath.Join(t.TempDir(), "app")
	require.NoError(t, os.MkdirAll(filepath.Join(root, "hello"), 0o755))
	doc := `manifest_version: 1
application:
  name: app
  trigger:
    type: http
components:
  # the first component
  - id: hello
    source: hello/target/hello.wasm
    build:
      workdir: hello
`
	require.NoError(t, os.WriteFile(filepath.Join(root, manifest.FileName), []byte(doc), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "hello", "lib.rs"), []byte("// hello\n"), 0o644))
	return root, filepath.Join(root, manifest.FileName)
}

func TestGenerate_IncrementalAdd(t *testing.T) {
	root, manifestPath := newApp(t)

	res, err := newEngine(t).Generate(context.Background(), Request{
		Template: httpRust(t, httpRustContent),
		Mode:     IncrementalAdd,
		Name:     "api",
		Target:   root,
		Values:   map[string]string{"http-path": "/api/..."},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"api"}, res.Components)
	assert.Equal(t, []string{"api/.gitignore", "api/Cargo.toml", "api/README.md", "api/src/lib.rs", manifest.FileName}, res.Files)

	assert.Equal(t, "// hello\n", readFile(t, filepath.Join(root, "hello", "lib.rs")))
	assert.Equal(t, "name = \"api\"\n", readFile(t, filepath.Join(root, "api", "Cargo.toml")))

	data := readFile(t, manifestPath)
	m, err := manifest.Parse([]byte(data))
	require.NoError(t, err)
	comps, err := m.Components()
	require.NoError(t, err)
	require.Len(t, comps, 2)
	assert.Equal(t, "hello", comps[0].ID)
	assert.Equal(t, "api", comps[1].ID)
	assert.Equal(t, "api", comps[1].Workdir())
	assert.Contains(t, data, "source: api/target/api.wasm")
	assert.Contains(t, data, "# the first component")
	assert.Contains(t, data, "name: app", "application metadata of the component template is not merged")
}

func TestGenerate_IncrementalAddOutputPath(t *testing.T) {
	root, _ := newApp(t)
	_, err := newEngine(t).Generate(context.Background(), Request{
		Template:   httpRust(t, httpRustContent),
		Mode:       IncrementalAdd,
		Name:       "api",
		Target:     filepath.Join(root, manifest.FileName),
		OutputPath: "services/api",
	})
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(root, "services", "api", "Cargo.toml"))

	_, err = newEngine(t).Generate(context.Background(), Request{
		Template:   httpRust(t, httpRustContent),
		Mode:       IncrementalAdd,
		Name:       "other",
		Target:     root,
		OutputPath: "../escape",
	})
	var vErr *params.ValidationError
	require.ErrorAs(t, err, &vErr)
}

func TestGenerate_IncrementalAddFailures(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(t *testing.T, root string)
		req     func(r *Request)
		check   func(t *testing.T, err error)
	}{
		{
			name: "component id conflict",
			req:  func(r *Request) { r.Name = "hello"; r.OutputPath = "hello2" },
			check: func(t *testing.T, err error) {
				var conflict *manifest.ConflictError
				require.ErrorAs(t, err, &conflict)
				assert.Equal(t, "hello", conflict.ComponentID)
				var commitErr *CommitError
				assert.ErrorAs(t, err, &commitErr)
			},
		},
		{
			name: "file collision",
			prepare: func(t *testing.T, root string) {
				require.NoError(t, os.MkdirAll(filepath.Join(root, "api", "src"), 0o755))
				require.NoError(t, os.WriteFile(filepath.Join(root, "api", "src", "lib.rs"), []byte("mine"), 0o644))
			},
			check: func(t *testing.T, err error) { assert.ErrorIs(t, err, ErrFileExists) },
		},
		{
			name: "no components",
			req: func(r *Request) {
				r.Template = httpRust(t, map[string]string{"stencil.yaml": "manifest_version: 1\n"})
			},
			check: func(t *testing.T, err error) { assert.ErrorIs(t, err, ErrNoComponents) },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			root, _ := newApp(t)
			if tt.prepare != nil {
				tt.prepare(t, root)
			}
			before := snapshotTree(t, filepath.Dir(root))

			req := Request{Template: httpRust(t, httpRustContent), Mode: IncrementalAdd, Name: "api", Target: root}
			if tt.req != nil {
				tt.req(&req)
			}
			_, err := newEngine(t).Generate(context.Background(), req)
			require.Error(t, err)
			tt.check(t, err)
			assert.Equal(t, before, snapshotTree(t, filepath.Dir(root)))
		})
	}
}

func TestGenerate_TargetBusy(t *testing.T) {
	locks := t.TempDir()
	root, _ := newApp(t)
	engine := newEngine(t, WithLockDir(locks))
	req := Request{Template: httpRust(t, httpRustContent), Mode: IncrementalAdd, Name: "api", Target: root}

	held := flock.New(lockPath(locks, root))
	locked, err := held.TryLock()
	require.NoError(t, err)
	require.True(t, locked)

	before := snapshotTree(t, filepath.Dir(root))
	_, err = engine.Generate(context.Background(), req)
	require.ErrorIs(t, err, ErrTargetBusy)
	var commitErr *CommitError
	assert.ErrorAs(t, err, &commitErr)
	assert.Equal(t, before, snapshotTree(t, filepath.Dir(root)))

	require.NoError(t, held.Unlock())
	_, err = engine.Generate(context.Background(), req)
	require.NoError(t, err)
}

func TestGenerate_LeftoverLockFileDoesNotBlock(t *testing.T) {
	locks := t.TempDir()
	target := filepath.Join(t.TempDir(), "app")
	require.NoError(t, os.WriteFile(lockPath(locks, target), []byte("999999"), 0o644))

	_, err := newEngine(t, WithLockDir(locks)).Generate(context.Background(), Request{
		Template: httpRust(t, httpRustContent),
		Name:     "app",
		Target:   target,
	})
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(target, manifest.FileName))
	assert.NoFileExists(t, filepath.Join(filepath.Dir(target), ".app.stencil.lock"))
}

func TestGenerate_FailureRemovesCreatedParents(t *testing.T) {
	base := t.TempDir()
	target := filepath.Join(base, "deep", "er", "app")

	_, err := newEngine(t).Generate(context.Background(), Request{
		Template: httpRust(t, map[string]string{
			"stencil.yaml": "manifest_version: 1\n",
			"bad.txt":      "{{ param \"nope\" }}",
		}),
		Name:   "app",
		Target: target,
	})
	require.Error(t, err)
	assert.NoDirExists(t, filepath.Join(base, "deep"))
}

func TestGenerate_CreatesMissingParents(t *testing.T) {
	target := filepath.Join(t.TempDir(), "deep", "er", "app")

	_, err := newEngine(t).Generate(context.Background(), Request{
		Template: httpRust(t, httpRustContent),
		Name:     "app",
		Target:   target,
	})
	require.NoError(t, err)
	assert.FileExists(t, filepath.Join(target, manifest.FileName))
}

func TestGenerate_IncrementalAddStaysInsideSymlinkedApp(t *testing.T) {
	root, _ := newApp(t)
	outside := t.TempDir()
	require.NoError(t, os.Symlink(outside, filepath.Join(root, "api")))

	_, _ = newEngine(t).Generate(context.Background(), Request{
		Template: httpRust(t, httpRustContent),
		Mode:     IncrementalAdd,
		Name:     "api",
		Target:   root,
	})

	entries, err := os.ReadDir(outside)
	require.NoError(t, err)
	assert.Empty(t, entries, "component files never follow a symlink out of the application")
}

func TestGenerate_ReportsRequestID(t *testing.T) {
	res, err := newEngine(t).Generate(context.Background(), Request{
		Template: httpRust(t, httpRustContent),
		Name:     "app",
		Target:   filepath.Join(t.TempDir(), "app"),
	})
	require.NoError(t, err)
	assert.Len(t, res.RequestID, 36)
}

func TestGenerate_MissingManifestForAdd(t *testing.T) {
	_, err := newEngine(t).Generate(context.Background(), Request{
		Template: httpRust(t, httpRustContent),
		Mode:     IncrementalAdd,
		Name:     "api",
		Target:   t.TempDir(),
	})
	assert.ErrorContains(t, err, "reading application manifest")
}

func TestGenerate_ConcurrentCreateSameTarget(t *testing.T) {
	target := filepath.Join(t.TempDir(), "race")
	engine := newEngine(t)
	tmpl := httpRust(t, httpRustContent)

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = engine.Generate(context.Background(), Request{Template: tmpl, Name: "race", Target: target})
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, ErrTargetExists)
	}
	assert.Equal(t, 1, succeeded)
	assert.FileExists(t, filepath.Join(target, manifest.FileName))
}

func TestStripReservedSuffix(t *testing.T) {
	tests := map[string]string{
		".gitignore.stencil":        ".gitignore",
		"src/lib.rs":                "src/lib.rs",
		".github.stencil/ci.yaml":   ".github/ci.yaml",
		"a.stencil/b.stencil/c.txt": "a/b/c.txt",
		".stencil":                  ".stencil",
		"stencil.yaml":              "stencil.yaml",
	}
	for in, want := range tests {
		assert.Equal(t, want, stripReservedSuffix(in), in)
	}
}

func TestMode_String(t *testing.T) {
	assert.Equal(t, "smol", SmolApp.String())
	assert.Equal(t, "bare", BareApp.String())
	assert.Equal(t, "add", IncrementalAdd.String())
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
