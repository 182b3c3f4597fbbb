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

// Package store implements the on-disk catalog of installed templates.
//
// Each template lives in its own directory, templates/<id>, holding a
// metadata and a content area. A SQLite index (catalog.db) records which
// directories are installed. A directory is always complete before its index
// row is committed, and replaced directories are only deleted after the
// commit, so a crash at any point leaves the index pointing at whole
// templates. Directories without a row are swept on Open.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/uuid"
	_ "modernc.org/sqlite" // SQLite driver

	"github.com/altairalabs/stencil/internal/fsutil"
	"github.com/altairalabs/stencil/pkg/fetcher"
	"github.com/altairalabs/stencil/pkg/template"
)

const (
	// IndexFileName is the SQLite index inside the store root.
	IndexFileName = "catalog.db"

	// TemplatesDir holds one directory per installed template.
	TemplatesDir = "templates"

	// DefaultOrphanGrace is how old an unindexed directory must be before it is swept.
	DefaultOrphanGrace = time.Hour

	incomingPrefix = ".incoming-"
	busyTimeoutMS  = 10000
)

var (
	// ErrNotFound is returned when no installed template matches.
	ErrNotFound = errors.New("template not found")

	// ErrRenameClash is returned when a rename target is taken by another source.
	ErrRenameClash = errors.New("rename target is already installed from another source")
)

const templateColumns = `id, name, language, version, description, keywords, trigger_type, parameters, logic,
	source_kind, source_url, source_branch, source_subpath, source_commit, source_path, installed_at, source_name`

// Store is the template catalog. It is safe for use by several processes
// sharing the same root.
type Store struct {
	root        string
	db          *sql.DB
	log         logr.Logger
	now         func() time.Time
	orphanGrace time.Duration
}

// Option configures a Store.
type Option func(*Store)

// WithClock overrides the clock used for install times and orphan sweeping.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithOrphanGrace overrides DefaultOrphanGrace.
func WithOrphanGrace(d time.Duration) Option {
	return func(s *Store) { s.orphanGrace = d }
}

// Filter narrows List. Zero fields match everything.
type Filter struct {
	Name      string
	ID        string
	SourceKey string
	Keyword   string

	// SourceName matches the name a template has in its source.
	SourceName string

	// Languages restricts language tags when non-nil; "" selects
	// language-neutral templates.
	Languages []string
}

// PutResult reports what Put stored.
type PutResult struct {
	// Template is the stored template, with ID and Root set.
	Template template.Template

	// Replaced are the templates removed by this Put.
	Replaced []template.Template

	// Clash is set when a template from another source had the same name and language.
	Clash *Clash
}

// Open opens (creating if needed) the store rooted at root and applies
// index migrations.
func Open(ctx context.Context, log logr.Logger, root string, opts ...Option) (*Store, error) {
	s := &Store{
		root:        root,
		log:         log.WithName("store"),
		now:         time.Now,
		orphanGrace: DefaultOrphanGrace,
	}
	for _, opt := range opts {
		opt(s)
	}

	if err := os.MkdirAll(filepath.Join(root, TemplatesDir), 0o755); err != nil {
		return nil, fmt.Errorf("creating store root: %w", err)
	}

	dbPath := filepath.Join(root, IndexFileName)
	migrator, err := NewMigrator(dbPath, s.log)
	if err != nil {
		return nil, err
	}
	upErr := migrator.Up()
	if err := migrator.Close(); err != nil && upErr == nil {
		upErr = err
	}
	if upErr != nil {
		return nil, upErr
	}

	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_txlock=immediate", dbPath, busyTimeoutMS)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening index: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("opening index: %w", err)
	}
	s.db = db

	if err := s.sweep(ctx); err != nil {
		s.log.Error(err, "sweeping orphaned template directories")
	}
	return s, nil
}

// Close closes the index.
func (s *Store) Close() error {
	return s.db.Close()
}

// Root returns the store root directory.
func (s *Store) Root() string {
	return s.root
}

// Lang returns a pointer to language, for Get.
func Lang(language string) *string {
	return &language
}

// List returns the installed templates matching f, ordered by name,
// language, source and ID.
func (s *Store) List(ctx context.Context, f Filter) ([]template.Template, error) {
	return s.list(ctx, s.db, f)
}

// Get returns the templates named name. A non-nil language narrows the
// result to that exact tag and a non-empty sourceKey to one source.
func (s *Store) Get(ctx context.Context, name string, language *string, sourceKey string) ([]template.Template, error) {
	f := Filter{Name: name, SourceKey: sourceKey}
	if language != nil {
		f.Languages = []string{*language}
	}
	return s.list(ctx, s.db, f)
}

type querier interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Store) list(ctx context.Context, q querier, f Filter) ([]template.Template, error) {
	var (
		where []string
		args  []any
	)
	if f.Name != "" {
		where = append(where, "name = ?")
		args = append(args, f.Name)
	}
	if f.ID != "" {
		where = append(where, "id = ?")
		args = append(args, f.ID)
	}
	if f.SourceKey != "" {
		where = append(where, "source_key = ?")
		args = append(args, f.SourceKey)
	}
	if f.SourceName != "" {
		where = append(where, "source_name = ?")
		args = append(args, f.SourceName)
	}
	if f.Languages != nil {
		if len(f.Languages) == 0 {
			return nil, nil
		}
		placeholders := strings.TrimSuffix(strings.Repeat("?,", len(f.Languages)), ",")
		where = append(where, "language IN ("+placeholders+")")
		for _, l := range f.Languages {
			args = append(args, strings.ToLower(l))
		}
	}

	query := "SELECT " + templateColumns + " FROM templates"
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY name, language, source_key, id"

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying index: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []template.Template
	for rows.Next() {
		t, err := s.scan(rows)
		if err != nil {
			return nil, err
		}
		if f.Keyword != "" && !t.HasKeyword(f.Keyword) {
			continue
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *Store) scan(rows *sql.Rows) (template.Template, error) {
	var (
		t           template.Template
		keywords    string
		parameters  string
		logic       sql.NullString
		kind        string
		installedAt string
	)
	err := rows.Scan(&t.ID, &t.Name, &t.Language, &t.Version, &t.Description, &keywords, &t.Trigger,
		&parameters, &logic, &kind, &t.Provenance.URL, &t.Provenance.Branch, &t.Provenance.Subpath,
		&t.Provenance.Commit, &t.Provenance.Path, &installedAt, &t.Provenance.Name)
	if err != nil {
		return t, fmt.Errorf("reading index row: %w", err)
	}
	if err := json.Unmarshal([]byte(keywords), &t.Keywords); err != nil {
		return t, fmt.Errorf("decoding keywords of %s: %w", t.ID, err)
	}
	if err := json.Unmarshal([]byte(parameters), &t.Parameters); err != nil {
		return t, fmt.Errorf("decoding parameters of %s: %w", t.ID, err)
	}
	if logic.Valid {
		t.Logic = &template.Logic{}
		if err := json.Unmarshal([]byte(logic.String), t.Logic); err != nil {
			return t, fmt.Errorf("decoding logic of %s: %w", t.ID, err)
		}
	}
	t.Provenance.Kind = template.SourceKind(kind)
	t.Provenance.InstalledAt, _ = time.Parse(time.RFC3339Nano, installedAt)
	t.Root = s.entryDir(t.ID)
	return t, nil
}

// Put installs incoming, copying its metadata and content areas from
// incoming.Root. A template with the same name, language and source is
// replaced; so is one this source shipped under the same name that was
// renamed on an earlier install, which keeps its installed name. A template
// with the same name and language from another source is a clash, handled
// by policy. The index row is written last, in the same transaction that
// removes replaced rows.
func (s *Store) Put(ctx context.Context, incoming template.Template, policy ClashPolicy) (*PutResult, error) {
	if incoming.Root == "" {
		return nil, fmt.Errorf("template %s has no source directory", incoming.Name)
	}
	if incoming.Provenance.InstalledAt.IsZero() {
		incoming.Provenance.InstalledAt = s.now().UTC()
	}
	incoming.Language = strings.ToLower(incoming.Language)
	if incoming.Provenance.Name == "" {
		incoming.Provenance.Name = incoming.Name
	}
	incoming.ID = uuid.NewString()

	staged, err := s.stageEntry(incoming.Root, incoming.ID)
	if err != nil {
		return nil, err
	}
	defer func() {
		if staged != "" {
			_ = os.RemoveAll(staged)
		}
	}()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning index transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := s.resolveClash(ctx, tx, &incoming, policy)
	if err != nil {
		return nil, err
	}

	final := s.entryDir(incoming.ID)
	if err := os.Rename(staged, final); err != nil {
		return nil, fmt.Errorf("placing template %s: %w", incoming.Name, err)
	}
	staged = ""
	if err := fsutil.SyncDir(filepath.Dir(final)); err != nil {
		s.log.V(1).Info("fsync of templates directory failed", "error", err.Error())
	}

	committed := false
	defer func() {
		if !committed {
			_ = os.RemoveAll(final)
		}
	}()
	for _, old := range result.Replaced {
		if _, err := tx.ExecContext(ctx, "DELETE FROM templates WHERE id = ?", old.ID); err != nil {
			return nil, fmt.Errorf("removing replaced template %s: %w", old.ID, err)
		}
	}
	if err := insert(ctx, tx, incoming); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing index: %w", err)
	}
	committed = true

	for _, old := range result.Replaced {
		if err := os.RemoveAll(s.entryDir(old.ID)); err != nil {
			s.log.Error(err, "removing replaced template directory", "id", old.ID)
		}
	}

	incoming.Root = final
	result.Template = incoming
	s.log.V(1).Info("template stored", "id", incoming.ID, "name", incoming.Name,
		"language", incoming.Language, "replaced", len(result.Replaced))
	return result, nil
}

func (s *Store) resolveClash(ctx context.Context, tx *sql.Tx, incoming *template.Template, policy ClashPolicy) (*PutResult, error) {
	key := incoming.Provenance.SourceKey()
	renamed, err := s.renamedFrom(ctx, tx, *incoming)
	if err != nil {
		return nil, err
	}
	if renamed != "" {
		incoming.Name = renamed
	}

	existing, err := s.list(ctx, tx, Filter{Name: incoming.Name, Languages: []string{incoming.Language}})
	if err != nil {
		return nil, err
	}

	result := &PutResult{}
	var others []template.Template
	for _, t := range existing {
		if t.Provenance.SourceKey() == key {
			result.Replaced = append(result.Replaced, t)
		} else {
			others = append(others, t)
		}
	}
	if len(others) == 0 {
		return result, nil
	}

	clash := Clash{Incoming: *incoming, Existing: others, Resolution: policy}
	result.Clash = &clash
	switch policy.action {
	case actionOverwrite:
		result.Replaced = append(result.Replaced, others...)
	case actionRename:
		if policy.newName == "" || policy.newName == incoming.Name {
			return nil, fmt.Errorf("rename of %s needs a different name", incoming.Name)
		}
		taken, err := s.list(ctx, tx, Filter{Name: policy.newName, Languages: []string{incoming.Language}})
		if err != nil {
			return nil, err
		}
		for _, t := range taken {
			if t.Provenance.SourceKey() != key {
				return nil, fmt.Errorf("%w: %s", ErrRenameClash, policy.newName)
			}
			result.Replaced = append(result.Replaced, t)
		}
		incoming.Name = policy.newName
	}
	return result, nil
}

// renamedFrom returns the installed name of the template this source
// previously shipped as incoming.Name, when that install was renamed.
func (s *Store) renamedFrom(ctx context.Context, q querier, incoming template.Template) (string, error) {
	prior, err := s.list(ctx, q, Filter{
		SourceKey:  incoming.Provenance.SourceKey(),
		SourceName: incoming.Provenance.Name,
		Languages:  []string{incoming.Language},
	})
	if err != nil {
		return "", err
	}
	for _, t := range prior {
		if t.Name != incoming.Provenance.Name {
			return t.Name, nil
		}
	}
	return "", nil
}

// InstalledName returns the name incoming is stored under when put from its
// source: its own name, or the name an earlier rename gave it.
func (s *Store) InstalledName(ctx context.Context, incoming template.Template) (string, error) {
	if incoming.Provenance.Name == "" {
		incoming.Provenance.Name = incoming.Name
	}
	incoming.Language = strings.ToLower(incoming.Language)
	name, err := s.renamedFrom(ctx, s.db, incoming)
	if err != nil || name == "" {
		return incoming.Name, err
	}
	return name, nil
}

func insert(ctx context.Context, tx *sql.Tx, t template.Template) error {
	keywords, err := json.Marshal(nonNil(t.Keywords))
	if err != nil {
		return err
	}
	parameters, err := json.Marshal(nonNilParams(t.Parameters))
	if err != nil {
		return err
	}
	var logic sql.NullString
	if !t.Logic.Empty() {
		data, err := json.Marshal(t.Logic)
		if err != nil {
			return err
		}
		logic = sql.NullString{String: string(data), Valid: true}
	}

	p := t.Provenance
	_, err = tx.ExecContext(ctx, `INSERT INTO templates (`+templateColumns+`, source_key)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.ID, t.Name, t.Language, t.Version, t.Description, string(keywords), t.Trigger, string(parameters), logic,
		string(p.Kind), p.URL, p.Branch, p.Subpath, p.Commit, p.Path, p.InstalledAt.UTC().Format(time.RFC3339Nano),
		p.Name, p.SourceKey())
	if err != nil {
		return fmt.Errorf("indexing template %s: %w", t.Name, err)
	}
	return nil
}

// Remove deletes the template with the given ID.
func (s *Store) Remove(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM templates WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("removing template %s: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err := os.RemoveAll(s.entryDir(id)); err != nil {
		s.log.Error(err, "removing template directory", "id", id)
	}
	return nil
}

func (s *Store) entryDir(id string) string {
	return filepath.Join(s.root, TemplatesDir, id)
}

// stageEntry copies the metadata and content areas of src into a fresh
// hidden directory next to the final entry location.
func (s *Store) stageEntry(src, id string) (string, error) {
	staged := filepath.Join(s.root, TemplatesDir, incomingPrefix+id)
	for _, area := range []string{template.MetadataDir, template.ContentDir} {
		from := filepath.Join(src, area)
		if _, err := os.Stat(from); err != nil {
			_ = os.RemoveAll(staged)
			return "", fmt.Errorf("template area %s: %w", area, err)
		}
		if err := fetcher.CopyDirectoryExcluding(from, filepath.Join(staged, area), []string{".git"}); err != nil {
			_ = os.RemoveAll(staged)
			return "", fmt.Errorf("copying template %s area: %w", area, err)
		}
	}
	return staged, nil
}

// sweep removes directories that no index row refers to once they are older
// than the orphan grace period. Younger ones may belong to a Put in progress
// in another process.
func (s *Store) sweep(ctx context.Context) error {
	dir := filepath.Join(s.root, TemplatesDir)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return err
	}

	known := make(map[string]bool)
	rows, err := s.db.QueryContext(ctx, "SELECT id FROM templates")
	if err != nil {
		return err
	}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return err
		}
		known[id] = true
	}
	_ = rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	cutoff := s.now().Add(-s.orphanGrace)
	for _, entry := range entries {
		name := entry.Name()
		if known[name] {
			continue
		}
		info, err := entry.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		s.log.V(1).Info("sweeping orphaned template directory", "dir", name)
		if err := os.RemoveAll(filepath.Join(dir, name)); err != nil {
			s.log.Error(err, "sweeping orphaned template directory", "dir", name)
		}
	}
	return nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

func nonNilParams(p []template.ParameterDefinition) []template.ParameterDefinition {
	if p == nil {
		return []template.ParameterDefinition{}
	}
	return p
}
