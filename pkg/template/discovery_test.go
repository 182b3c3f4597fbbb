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

package template

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/go-logr/logr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const httpRustDefinition = `apiVersion: stencil.altairalabs.ai/v1alpha1
kind: Template
metadata:
  name: http
  version: 0.1.0
spec:
  description: HTTP handler written in Rust
  language: Rust
  keywords: [http, rust]
  trigger: http
  parameters:
    - key: http-path
      type: string
      label: HTTP path
      default: /...
      pattern: "/\\S*"
`

func writeTemplate(t *testing.T, dir, definition string, content map[string]string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, MetadataDir), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, ContentDir), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, MetadataDir, DefinitionFileName), []byte(definition), 0644))
	for name, body := range content {
		path := filepath.Join(dir, ContentDir, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
		require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	}
}

func TestNewDiscoverer(t *testing.T) {
	tests := []struct {
		name          string
		templatesPath string
		wantPath      string
	}{
		{name: "source root", templatesPath: "", wantPath: ""},
		{name: "custom path", templatesPath: "custom/templates", wantPath: "custom/templates"},
		{name: "strips slashes", templatesPath: "/templates/", wantPath: "templates"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := NewDiscoverer(logr.Discard(), "/source", tt.templatesPath)
			assert.Equal(t, "/source", d.SourcePath)
			assert.Equal(t, tt.wantPath, d.TemplatesPath)
		})
	}
}

func TestDiscover_AutoDiscover(t *testing.T) {
	src := t.TempDir()
	writeTemplate(t, filepath.Join(src, "templates", "http-rust"), httpRustDefinition, map[string]string{
		"stencil.yaml": "manifest_version: 1\n",
	})
	writeTemplate(t, filepath.Join(src, "templates", "nested", "redis"), `apiVersion: stencil.altairalabs.ai/v1alpha1
kind: Template
metadata:
  name: redis
spec:
  trigger: redis
`, nil)

	result, err := NewDiscoverer(logr.Discard(), src, DefaultGitTemplatesPath).Discover()
	require.NoError(t, err)
	require.Len(t, result.Templates, 2)
	assert.Empty(t, result.Failures)

	http := result.Templates[0]
	assert.Equal(t, "http", http.Name)
	assert.Equal(t, "rust", http.Language, "language is normalized to lower case")
	assert.Equal(t, []string{"http", "rust"}, http.Keywords)
	assert.Equal(t, "http", http.Trigger)
	require.Len(t, http.Parameters, 1)
	require.NotNil(t, http.Parameters[0].Default)
	assert.Equal(t, "/...", *http.Parameters[0].Default)
	assert.True(t, filepath.IsAbs(http.Root))
	assert.Nil(t, http.Logic)

	redis := result.Templates[1]
	assert.Equal(t, "redis", redis.Name)
	assert.True(t, redis.LanguageNeutral())
}

func TestDiscover_SkipsBrokenSibling(t *testing.T) {
	src := t.TempDir()
	writeTemplate(t, filepath.Join(src, "good"), httpRustDefinition, nil)
	writeTemplate(t, filepath.Join(src, "bad"), "apiVersion: nope\nkind: Template\n", nil)

	result, err := NewDiscoverer(logr.Discard(), src, "").Discover()
	require.NoError(t, err)
	require.Len(t, result.Templates, 1)
	assert.Equal(t, "http", result.Templates[0].Name)

	require.Len(t, result.Failures, 1)
	assert.Equal(t, "bad", result.Failures[0].Path)
	var parseErr *MetadataParseError
	assert.True(t, errors.As(result.Failures[0], &parseErr))
}

func TestDiscover_MissingContentArea(t *testing.T) {
	src := t.TempDir()
	dir := filepath.Join(src, "nocontent")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, MetadataDir), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, MetadataDir, DefinitionFileName), []byte(httpRustDefinition), 0644))

	result, err := NewDiscoverer(logr.Discard(), src, "").Discover()
	require.NoError(t, err)
	assert.Empty(t, result.Templates)
	require.Len(t, result.Failures, 1)
	assert.Contains(t, result.Failures[0].Error(), "missing content directory")
}

func TestDiscover_MissingTemplatesPath(t *testing.T) {
	_, err := NewDiscoverer(logr.Discard(), t.TempDir(), "templates").Discover()
	assert.ErrorIs(t, err, ErrTemplatesPathNotFound)
}

func TestDiscover_FromIndex(t *testing.T) {
	src := t.TempDir()
	writeTemplate(t, filepath.Join(src, "a"), httpRustDefinition, nil)
	writeTemplate(t, filepath.Join(src, "unlisted"), `apiVersion: stencil.altairalabs.ai/v1alpha1
kind: Template
metadata:
  name: unlisted
spec: {}
`, nil)
	index := "templates:\n  - name: http\n    path: a\n  - name: escape\n    path: ../elsewhere\n"
	require.NoError(t, os.WriteFile(filepath.Join(src, IndexFileName), []byte(index), 0644))

	result, err := NewDiscoverer(logr.Discard(), src, "").Discover()
	require.NoError(t, err)
	require.Len(t, result.Templates, 1)
	assert.Equal(t, "http", result.Templates[0].Name)
	require.Len(t, result.Failures, 1)
	assert.Contains(t, result.Failures[0].Error(), "outside the source")
}

func TestDiscover_LoadsLogic(t *testing.T) {
	src := t.TempDir()
	dir := filepath.Join(src, "http")
	writeTemplate(t, dir, httpRustDefinition, map[string]string{"stencil.yaml": ""})
	logic := `pre:
  parameters:
    http-path: "params['http-path'] + '/'"
  files: "files.filter(f, !f.endsWith('.md'))"
post:
  message: "'run ' + params['project-name']"
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, MetadataDir, LogicFileName), []byte(logic), 0644))

	tmpl, err := NewDiscoverer(logr.Discard(), src, "").Load(dir)
	require.NoError(t, err)
	require.NotNil(t, tmpl.Logic)
	assert.Contains(t, tmpl.Logic.Pre.Parameters, "http-path")
	assert.NotEmpty(t, tmpl.Logic.Pre.Files)
	assert.NotEmpty(t, tmpl.Logic.Post.Message)
}

func TestDiscover_RejectsUnknownLogicFields(t *testing.T) {
	src := t.TempDir()
	dir := filepath.Join(src, "http")
	writeTemplate(t, dir, httpRustDefinition, nil)
	require.NoError(t, os.WriteFile(filepath.Join(dir, MetadataDir, LogicFileName), []byte("exec: rm -rf /\n"), 0644))

	_, err := NewDiscoverer(logr.Discard(), src, "").Load(dir)
	var parseErr *MetadataParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, "http", parseErr.Path)
}

func TestTemplate_Content(t *testing.T) {
	dir := t.TempDir()
	writeTemplate(t, dir, httpRustDefinition, map[string]string{"src/lib.rs": "fn main() {}"})

	tmpl := Template{Root: dir}
	data, err := fs.ReadFile(tmpl.Content(), "src/lib.rs")
	require.NoError(t, err)
	assert.Equal(t, "fn main() {}", string(data))
}
