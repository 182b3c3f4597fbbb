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

// Package installer materializes templates from Git repositories and local
// directories into the template store.
package installer

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/go-logr/logr"

	"github.com/altairalabs/stencil/pkg/fetcher"
	"github.com/altairalabs/stencil/pkg/logctx"
	"github.com/altairalabs/stencil/pkg/store"
	"github.com/altairalabs/stencil/pkg/template"
)

var (
	// ErrNoTemplates is returned when a source holds no template at all.
	ErrNoTemplates = errors.New("no templates found in source")

	// ErrNotUpdatable is returned for templates installed from a local
	// directory; they have to be installed again.
	ErrNotUpdatable = errors.New("template was installed from a directory and cannot be updated; install it again")
)

// Catalog is the part of the template store the installer writes to.
type Catalog interface {
	List(ctx context.Context, f store.Filter) ([]template.Template, error)
	Get(ctx context.Context, name string, language *string, sourceKey string) ([]template.Template, error)
	Put(ctx context.Context, incoming template.Template, policy store.ClashPolicy) (*store.PutResult, error)
	Remove(ctx context.Context, id string) error
	InstalledName(ctx context.Context, incoming template.Template) (string, error)
}

// ClashResolver picks a policy when incoming has the same name and language
// as templates installed from other sources.
type ClashResolver func(ctx context.Context, incoming template.Template, existing []template.Template) (store.ClashPolicy, error)

// Options configures an Installer.
type Options struct {
	// Policy is applied to clashes when OnClash is nil.
	Policy store.ClashPolicy

	// OnClash, when set, is asked for a policy on every clash.
	OnClash ClashResolver

	// Credentials are used for HTTPS Git sources.
	Credentials *fetcher.GitCredentials

	// Fetch holds timeout and work directory settings.
	Fetch fetcher.Options

	// DefaultRepository and DefaultBranch are used by InstallDefaults.
	DefaultRepository string
	DefaultBranch     string
}

// Installer installs templates into a Catalog.
type Installer struct {
	catalog Catalog
	log     logr.Logger
	opts    Options
	now     func() time.Time
}

// New creates an installer writing to catalog.
func New(log logr.Logger, catalog Catalog, opts Options) *Installer {
	if opts.Fetch.Timeout == 0 {
		opts.Fetch = fetcher.DefaultOptions()
	}
	return &Installer{
		catalog: catalog,
		log:     log.WithName("installer"),
		opts:    opts,
		now:     time.Now,
	}
}

// Installed describes one stored template for reporting.
type Installed struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Language    string `json:"language,omitempty"`
	Description string `json:"description,omitempty"`

	// Replaced is true when an earlier copy of this template was refreshed.
	Replaced bool `json:"replaced,omitempty"`
}

// InstalledSet reports the outcome of installing one source.
type InstalledSet struct {
	Source    string
	Installed []Installed
	Skipped   []*template.MetadataParseError
	Clashes   []store.Clash

	// Removed lists templates dropped during Update because the source no longer has them.
	Removed []Installed
}

// Count returns the number of templates installed.
func (s *InstalledSet) Count() int {
	return len(s.Installed)
}

// InstallFromGit shallow-clones branch of url and installs every template
// under subpath (default "templates"). An empty branch uses the remote HEAD.
func (i *Installer) InstallFromGit(ctx context.Context, url, branch, subpath string) (*InstalledSet, error) {
	if subpath == "" {
		subpath = template.DefaultGitTemplatesPath
	}
	f := fetcher.NewGitFetcher(i.log, fetcher.GitFetcherConfig{
		URL:         url,
		Ref:         fetcher.GitRef{Branch: branch},
		Credentials: i.opts.Credentials,
		Options:     i.opts.Fetch,
	})
	base := template.Provenance{Kind: template.SourceGit, URL: url, Branch: branch, Subpath: subpath}
	return i.install(ctx, f, url, base, subpath)
}

// InstallFromDirectory installs every template under subpath of path. An
// empty subpath means path itself holds the templates.
func (i *Installer) InstallFromDirectory(ctx context.Context, path, subpath string) (*InstalledSet, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, &fetcher.SourceFetchError{Source: path, Err: err}
	}
	root := filepath.Join(abs, filepath.FromSlash(subpath))
	base := template.Provenance{Kind: template.SourceDirectory, Path: root}
	return i.install(ctx, fetcher.NewDirFetcher(abs), abs, base, subpath)
}

// InstallDefaults installs the configured default repository.
func (i *Installer) InstallDefaults(ctx context.Context) (*InstalledSet, error) {
	if i.opts.DefaultRepository == "" {
		return nil, fmt.Errorf("no default template repository configured")
	}
	return i.InstallFromGit(ctx, i.opts.DefaultRepository, i.opts.DefaultBranch, "")
}

// install fetches a source and puts every template discovered in it. Every
// clash is decided before the first Put, so a failed or interrupted decision
// leaves the catalog as it was.
func (i *Installer) install(
	ctx context.Context, f fetcher.Fetcher, source string, base template.Provenance, subpath string,
) (*InstalledSet, error) {
	ctx = logctx.WithSource(ctx, source)
	log := logctx.LoggerWithContext(i.log, ctx)

	snapshot, err := f.Fetch(ctx)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := snapshot.Close(); err != nil {
			log.Error(err, "removing fetched snapshot")
		}
	}()

	discovered, err := template.NewDiscoverer(log, snapshot.Dir, subpath).Discover()
	if err != nil {
		return nil, &fetcher.SourceFetchError{Source: source, Err: err}
	}
	if len(discovered.Templates) == 0 && len(discovered.Failures) == 0 {
		return nil, &fetcher.SourceFetchError{Source: source, Err: fmt.Errorf("%w under %q", ErrNoTemplates, subpath)}
	}

	set := &InstalledSet{Source: source, Skipped: discovered.Failures}
	seen := make(map[identity]bool, len(discovered.Templates))
	installedAt := i.now().UTC()

	type pending struct {
		tmpl   template.Template
		policy store.ClashPolicy
	}
	var plan []pending
	for _, tmpl := range discovered.Templates {
		id := identity{name: tmpl.Name, language: tmpl.Language}
		if seen[id] {
			set.Skipped = append(set.Skipped, &template.MetadataParseError{
				Path: relPath(snapshot.Dir, tmpl.Root),
				Err:  fmt.Errorf("duplicate template %s (%s) in source", tmpl.Name, languageLabel(tmpl.Language)),
			})
			continue
		}
		seen[id] = true

		tmpl.Provenance = base
		tmpl.Provenance.Name = tmpl.Name
		tmpl.Provenance.InstalledAt = installedAt
		if base.Kind == template.SourceGit {
			tmpl.Provenance.Commit = snapshot.Revision
		}

		policy, err := i.policyFor(ctx, tmpl)
		if err != nil {
			return set, err
		}
		plan = append(plan, pending{tmpl: tmpl, policy: policy})
	}
	if err := ctx.Err(); err != nil {
		return set, err
	}

	for _, p := range plan {
		res, err := i.catalog.Put(ctx, p.tmpl, p.policy)
		if err != nil {
			return set, fmt.Errorf("installing template %s: %w", p.tmpl.Name, err)
		}
		if res.Clash != nil {
			set.Clashes = append(set.Clashes, *res.Clash)
		}
		set.Installed = append(set.Installed, Installed{
			ID:          res.Template.ID,
			Name:        res.Template.Name,
			Language:    res.Template.Language,
			Description: res.Template.Description,
			Replaced:    len(res.Replaced) > 0,
		})
		log.V(1).Info("template installed", "name", res.Template.Name, "language", res.Template.Language)
	}

	log.Info("source installed", "installed", set.Count(), "skipped", len(set.Skipped), "clashes", len(set.Clashes))
	return set, nil
}

// policyFor asks OnClash when the incoming template clashes with another
// source under the name it will be installed as.
func (i *Installer) policyFor(ctx context.Context, incoming template.Template) (store.ClashPolicy, error) {
	if i.opts.OnClash == nil {
		return i.opts.Policy, nil
	}
	name, err := i.catalog.InstalledName(ctx, incoming)
	if err != nil {
		return store.ClashPolicy{}, err
	}
	existing, err := i.catalog.Get(ctx, name, store.Lang(incoming.Language), "")
	if err != nil {
		return store.ClashPolicy{}, err
	}
	key := incoming.Provenance.SourceKey()
	var others []template.Template
	for _, t := range existing {
		if t.Provenance.SourceKey() != key {
			others = append(others, t)
		}
	}
	if len(others) == 0 {
		return i.opts.Policy, nil
	}
	return i.opts.OnClash(ctx, incoming, others)
}

type identity struct {
	name     string
	language string
}

func relPath(root, path string) string {
	rel, err := filepath.Rel(root, path)
	if err != nil {
		return path
	}
	return filepath.ToSlash(rel)
}

func languageLabel(language string) string {
	if language == "" {
		return "any language"
	}
	return language
}
