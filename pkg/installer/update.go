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

package installer

import (
	"context"
	"fmt"
	"sort"

	"github.com/altairalabs/stencil/pkg/fetcher"
	"github.com/altairalabs/stencil/pkg/store"
	"github.com/altairalabs/stencil/pkg/template"
)

// UpdateResult reports the sources refreshed by Update.
type UpdateResult struct {
	Sources []*InstalledSet

	// NotUpdatable lists templates with the requested name that came from a
	// local directory.
	NotUpdatable []template.Template
}

// Update re-fetches every Git source that provides a template named name and
// refreshes all templates from those sources. Templates from other sources
// are left alone. Templates a source no longer ships are removed.
func (i *Installer) Update(ctx context.Context, name string) (*UpdateResult, error) {
	existing, err := i.catalog.Get(ctx, name, nil, "")
	if err != nil {
		return nil, err
	}
	if len(existing) == 0 {
		return nil, fmt.Errorf("template %q: %w", name, store.ErrNotFound)
	}

	result := &UpdateResult{}
	sources := make(map[string]template.Provenance)
	for _, t := range existing {
		if t.Provenance.Kind != template.SourceGit {
			result.NotUpdatable = append(result.NotUpdatable, t)
			continue
		}
		sources[t.Provenance.SourceKey()] = t.Provenance
	}
	if len(sources) == 0 {
		return result, fmt.Errorf("template %q: %w", name, ErrNotUpdatable)
	}

	keys := make([]string, 0, len(sources))
	for k := range sources {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		set, err := i.refresh(ctx, key, sources[key])
		if set != nil {
			result.Sources = append(result.Sources, set)
		}
		if err != nil {
			return result, err
		}
	}
	return result, nil
}

// refresh reinstalls one Git source and removes its stale templates.
func (i *Installer) refresh(ctx context.Context, key string, prov template.Provenance) (*InstalledSet, error) {
	f := fetcher.NewGitFetcher(i.log, fetcher.GitFetcherConfig{
		URL:         prov.URL,
		Ref:         fetcher.GitRef{Branch: prov.Branch},
		Credentials: i.opts.Credentials,
		Options:     i.opts.Fetch,
	})
	base := template.Provenance{Kind: template.SourceGit, URL: prov.URL, Branch: prov.Branch, Subpath: prov.Subpath}

	set, err := i.install(ctx, f, prov.URL, base, prov.Subpath)
	if err != nil {
		return set, err
	}
	kept := make(map[string]bool, len(set.Installed))
	for _, t := range set.Installed {
		kept[t.ID] = true
	}

	installed, err := i.catalog.List(ctx, store.Filter{SourceKey: key})
	if err != nil {
		return set, err
	}
	for _, t := range installed {
		if kept[t.ID] {
			continue
		}
		if err := i.catalog.Remove(ctx, t.ID); err != nil {
			return set, fmt.Errorf("removing stale template %s: %w", t.Name, err)
		}
		set.Removed = append(set.Removed, Installed{
			ID:          t.ID,
			Name:        t.Name,
			Language:    t.Language,
			Description: t.Description,
		})
	}
	return set, nil
}
