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
	"os"
	"path"
	"strings"

	"github.com/altairalabs/stencil/pkg/logctx"
	"github.com/altairalabs/stencil/pkg/manifest"
	"github.com/altairalabs/stencil/pkg/params"
)

// plan is what the commit applies.
type plan struct {
	// moves maps staged paths to paths relative to the application root.
	// Only used by IncrementalAdd; new applications rename the whole stage.
	moves map[string]string

	// components are merged into the existing manifest for IncrementalAdd.
	components []manifest.Component
}

func (e *Engine) filter(ctx context.Context, st *stage, req Request, resolved params.Resolved) (*plan, error) {
	log := logctx.LoggerWithContext(e.log, ctx)

	if req.Mode == SmolApp {
		if _, ok := st.files[manifest.FileName]; !ok {
			return nil, ErrNoManifest
		}
		return &plan{}, nil
	}

	m, err := e.stagedManifest(st)
	if err != nil {
		return nil, err
	}

	if req.Mode == BareApp {
		m.StripComponents()
		data, err := m.Bytes()
		if err != nil {
			return nil, err
		}
		for _, p := range st.paths() {
			if p == manifest.FileName {
				continue
			}
			if err := st.remove(p); err != nil {
				return nil, err
			}
		}
		if err := st.write(manifest.FileName, data, st.files[manifest.FileName].perm); err != nil {
			return nil, err
		}
		log.V(1).Info("application manifest kept without components")
		return &plan{}, nil
	}

	comps, err := m.Components()
	if err != nil {
		return nil, err
	}
	if len(comps) == 0 {
		return nil, ErrNoComponents
	}

	p := &plan{moves: make(map[string]string), components: comps}
	outputPath := path.Clean(strings.ReplaceAll(resolved[ParamOutputPath], "\\", "/"))

	if len(comps) == 1 {
		c := comps[0]
		from := c.Workdir()
		for _, f := range st.paths() {
			if f == manifest.FileName {
				continue
			}
			rel, ok := underDir(f, from)
			if !ok {
				continue
			}
			p.moves[f] = path.Join(outputPath, rel)
		}
		c.Relocate(from, outputPath)
	} else {
		// Several components keep their own layout.
		whole := false
		for _, c := range comps {
			if c.Workdir() == "" {
				whole = true
			}
		}
		for _, f := range st.paths() {
			if f == manifest.FileName {
				continue
			}
			if whole || underAny(f, comps) {
				p.moves[f] = f
			}
		}
	}

	log.V(1).Info("components selected", "components", len(comps), "files", len(p.moves))
	return p, nil
}

func (e *Engine) stagedManifest(st *stage) (*manifest.Manifest, error) {
	if _, ok := st.files[manifest.FileName]; !ok {
		return nil, ErrNoManifest
	}
	p, err := st.path(manifest.FileName)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, err
	}
	return manifest.Parse(data)
}

// underDir returns f relative to dir; an empty dir contains everything.
func underDir(f, dir string) (string, bool) {
	if dir == "" {
		return f, true
	}
	return strings.CutPrefix(f, dir+"/")
}

func underAny(f string, comps []manifest.Component) bool {
	for _, c := range comps {
		if _, ok := underDir(f, c.Workdir()); ok {
			return true
		}
	}
	return false
}
