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
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	securejoin "github.com/cyphar/filepath-securejoin"
	"github.com/google/uuid"

	"github.com/altairalabs/stencil/internal/fsutil"
	"github.com/altairalabs/stencil/pkg/logctx"
	"github.com/altairalabs/stencil/pkg/template"
)

// ReservedSuffix is stripped from every path segment of a content file.
const ReservedSuffix = ".stencil"

// stagedFile is one rendered file in the stage.
type stagedFile struct {
	// source is the path inside the template content area.
	source string
	perm   fs.FileMode
}

// stage is the private working directory of one request.
type stage struct {
	dir   string
	files map[string]stagedFile // keyed by slash path relative to dir
	done  bool

	// parents are the directories created to hold dir, outermost first.
	parents []string
}

// newStage creates .<base>.stencil-stage-<uuid> next to root so the commit
// is a rename on the same file system.
func (e *Engine) newStage(ctx context.Context, root string) (*stage, error) {
	parent := filepath.Dir(root)
	parents, err := mkdirAllTracked(parent)
	if err != nil {
		removeDirs(parents)
		return nil, &CommitError{Target: root, Err: err}
	}
	dir := filepath.Join(parent, fmt.Sprintf(".%s.stencil-stage-%s", filepath.Base(root), uuid.NewString()))
	if err := os.Mkdir(dir, 0o755); err != nil {
		removeDirs(parents)
		return nil, &CommitError{Target: root, Err: fmt.Errorf("creating stage: %w", err)}
	}
	logctx.LoggerWithContext(e.log, ctx).V(1).Info("stage created", "dir", dir)
	return &stage{dir: dir, files: make(map[string]stagedFile), parents: parents}, nil
}

// cleanup removes the stage and, unless the stage became the target, the
// parent directories created for it.
func (s *stage) cleanup() {
	if s.done {
		return
	}
	_ = os.RemoveAll(s.dir)
	removeDirs(s.parents)
}

// removeDirs removes the directories innermost first, stopping at the first
// one that is not empty.
func removeDirs(dirs []string) {
	for i := len(dirs) - 1; i >= 0; i-- {
		if err := os.Remove(dirs[i]); err != nil {
			return
		}
	}
}

// path returns the absolute location of rel inside the stage.
func (s *stage) path(rel string) (string, error) {
	return securejoin.SecureJoin(s.dir, filepath.FromSlash(rel))
}

// paths returns the staged files in sorted order.
func (s *stage) paths() []string {
	out := make([]string, 0, len(s.files))
	for p := range s.files {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (s *stage) write(rel string, data []byte, perm fs.FileMode) error {
	dst, err := s.path(rel)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	return os.WriteFile(dst, data, perm)
}

func (s *stage) remove(rel string) error {
	dst, err := s.path(rel)
	if err != nil {
		return err
	}
	delete(s.files, rel)
	return os.Remove(dst)
}

// retain drops every staged file not in keep.
func (s *stage) retain(keep []string) error {
	wanted := make(map[string]bool, len(keep))
	for _, k := range keep {
		wanted[k] = true
	}
	for _, p := range s.paths() {
		if wanted[p] {
			continue
		}
		if err := s.remove(p); err != nil {
			return err
		}
	}
	return nil
}

// render renders every regular file of the content area into the stage.
func (e *Engine) render(ctx context.Context, st *stage, tmpl template.Template, values map[string]string) error {
	content := tmpl.Content()
	err := fs.WalkDir(content, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		out := stripReservedSuffix(p)
		if prev, ok := st.files[out]; ok {
			return fmt.Errorf("files %s and %s both generate %s", prev.source, p, out)
		}
		// Embedded content is read-only; generated files are owner-writable.
		perm := info.Mode().Perm() | 0o200
		st.files[out] = stagedFile{source: p, perm: perm}
		return e.renderFile(st, content, out, values)
	})
	if err != nil {
		return fmt.Errorf("rendering template %s: %w", tmpl.Name, err)
	}
	logctx.LoggerWithContext(e.log, ctx).V(1).Info("content rendered", "files", len(st.files))
	return nil
}

// rerender renders the retained files again with changed values.
func (e *Engine) rerender(ctx context.Context, st *stage, tmpl template.Template, values map[string]string) error {
	content := tmpl.Content()
	for _, out := range st.paths() {
		if err := e.renderFile(st, content, out, values); err != nil {
			return fmt.Errorf("rendering template %s: %w", tmpl.Name, err)
		}
	}
	logctx.LoggerWithContext(e.log, ctx).V(1).Info("content rendered again", "files", len(st.files))
	return nil
}

func (e *Engine) renderFile(st *stage, content fs.FS, out string, values map[string]string) error {
	f := st.files[out]
	raw, err := fs.ReadFile(content, f.source)
	if err != nil {
		return err
	}
	rendered, err := e.renderer.Render(f.source, raw, values)
	if err != nil {
		return err
	}
	return st.write(out, rendered, f.perm)
}

// stripReservedSuffix removes ReservedSuffix from each segment of a slash path.
func stripReservedSuffix(p string) string {
	segments := strings.Split(p, "/")
	for i, seg := range segments {
		if trimmed := strings.TrimSuffix(seg, ReservedSuffix); trimmed != "" {
			segments[i] = trimmed
		}
	}
	return path.Join(segments...)
}

// checkCreatable accepts a missing target or an empty directory.
func checkCreatable(target string) error {
	exists, err := fsutil.Exists(target)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	empty, err := fsutil.IsEmptyDir(target)
	if err != nil {
		return err
	}
	if !empty {
		return fmt.Errorf("%w: %s", ErrTargetExists, target)
	}
	return nil
}
