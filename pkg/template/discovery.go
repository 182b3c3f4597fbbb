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
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/go-logr/logr"
	"gopkg.in/yaml.v3"
)

const (
	// IndexFileName is the name of the optional index file.
	IndexFileName = ".template-index.yaml"

	// DefinitionFileName is the template definition inside the metadata area.
	DefinitionFileName = "template.yaml"

	// LogicFileName is the optional logic definition inside the metadata area.
	LogicFileName = "logic.yaml"

	// DefaultGitTemplatesPath is where templates live within a git source.
	DefaultGitTemplatesPath = "templates"
)

// ErrTemplatesPathNotFound is returned when the templates path does not exist in the source.
var ErrTemplatesPathNotFound = errors.New("templates path not found in source")

// Discoverer finds templates in a source directory.
type Discoverer struct {
	// SourcePath is the root path of the template source.
	SourcePath string

	// TemplatesPath is the relative path to templates within the source.
	// Empty means the source root itself.
	TemplatesPath string

	log    logr.Logger
	schema *SchemaValidator
}

// DiscoveryResult holds the templates found in a source and the ones skipped.
type DiscoveryResult struct {
	Templates []Template
	Failures  []*MetadataParseError
}

// NewDiscoverer creates a new template discoverer.
func NewDiscoverer(log logr.Logger, sourcePath, templatesPath string) *Discoverer {
	templatesPath = strings.Trim(filepath.ToSlash(templatesPath), "/")
	return &Discoverer{
		SourcePath:    sourcePath,
		TemplatesPath: templatesPath,
		log:           log.WithName("discovery"),
		schema:        NewSchemaValidator(log),
	}
}

// Dir returns the absolute directory that is scanned.
func (d *Discoverer) Dir() string {
	return filepath.Join(d.SourcePath, filepath.FromSlash(d.TemplatesPath))
}

// Discover finds all templates under the templates path.
// It first looks for an index file, then falls back to scanning for
// metadata/template.yaml. A template that fails to load is reported in
// Failures and does not stop discovery of its siblings.
func (d *Discoverer) Discover() (*DiscoveryResult, error) {
	dir := d.Dir()
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return nil, fmt.Errorf("%w: %s", ErrTemplatesPathNotFound, d.TemplatesPath)
	}

	indexPath := filepath.Join(dir, IndexFileName)
	if _, err := os.Stat(indexPath); err == nil {
		return d.discoverFromIndex(indexPath)
	}
	return d.autoDiscover(dir)
}

func (d *Discoverer) discoverFromIndex(indexPath string) (*DiscoveryResult, error) {
	data, err := os.ReadFile(indexPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read index file: %w", err)
	}

	var index Index
	if err := yaml.Unmarshal(data, &index); err != nil {
		return nil, fmt.Errorf("failed to parse index file: %w", err)
	}

	result := &DiscoveryResult{}
	indexDir := filepath.Dir(indexPath)
	for _, entry := range index.Templates {
		if filepath.IsAbs(entry.Path) || strings.HasPrefix(filepath.Clean(entry.Path), "..") {
			result.Failures = append(result.Failures, &MetadataParseError{
				Path: entry.Path,
				Err:  fmt.Errorf("index entry %q points outside the source", entry.Name),
			})
			continue
		}
		d.collect(result, filepath.Join(indexDir, entry.Path))
	}
	return result, nil
}

func (d *Discoverer) autoDiscover(dir string) (*DiscoveryResult, error) {
	result := &DiscoveryResult{}
	err := filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
		if err != nil {
			d.log.V(1).Info("skipping unreadable path", "path", path, "error", err.Error())
			return nil
		}
		if !entry.IsDir() {
			return nil
		}
		if entry.Name() == ".git" {
			return filepath.SkipDir
		}
		definition := filepath.Join(path, MetadataDir, DefinitionFileName)
		if _, err := os.Stat(definition); err != nil {
			return nil
		}
		d.collect(result, path)
		// Never descend into a template.
		return filepath.SkipDir
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan templates directory: %w", err)
	}

	sort.Slice(result.Templates, func(i, j int) bool {
		return result.Templates[i].Root < result.Templates[j].Root
	})
	return result, nil
}

func (d *Discoverer) collect(result *DiscoveryResult, templateDir string) {
	tmpl, err := d.Load(templateDir)
	if err != nil {
		var parseErr *MetadataParseError
		if !errors.As(err, &parseErr) {
			parseErr = &MetadataParseError{Path: d.relative(templateDir), Err: err}
		}
		d.log.Info("skipping template", "path", parseErr.Path, "error", parseErr.Err.Error())
		result.Failures = append(result.Failures, parseErr)
		return
	}
	result.Templates = append(result.Templates, *tmpl)
}

// Load reads one template directory containing metadata/template.yaml and
// a content area.
func (d *Discoverer) Load(templateDir string) (*Template, error) {
	rel := d.relative(templateDir)
	fail := func(err error) (*Template, error) {
		return nil, &MetadataParseError{Path: rel, Err: err}
	}

	data, err := os.ReadFile(filepath.Join(templateDir, MetadataDir, DefinitionFileName))
	if err != nil {
		return fail(fmt.Errorf("failed to read %s: %w", DefinitionFileName, err))
	}
	def, err := d.schema.Parse(data)
	if err != nil {
		return fail(err)
	}

	if info, err := os.Stat(filepath.Join(templateDir, ContentDir)); err != nil || !info.IsDir() {
		return fail(fmt.Errorf("missing %s directory", ContentDir))
	}

	logic, err := loadLogic(filepath.Join(templateDir, MetadataDir, LogicFileName))
	if err != nil {
		return fail(err)
	}

	root, err := filepath.Abs(templateDir)
	if err != nil {
		return fail(err)
	}

	return &Template{
		Name:        def.Metadata.Name,
		Version:     def.Metadata.Version,
		Description: def.Spec.Description,
		Language:    strings.ToLower(def.Spec.Language),
		Keywords:    def.Spec.Keywords,
		Trigger:     def.Spec.Trigger,
		Parameters:  def.Spec.Parameters,
		Root:        root,
		Logic:       logic,
	}, nil
}

func (d *Discoverer) relative(templateDir string) string {
	rel, err := filepath.Rel(d.SourcePath, templateDir)
	if err != nil {
		return templateDir
	}
	return filepath.ToSlash(rel)
}

func loadLogic(path string) (*Logic, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", LogicFileName, err)
	}

	var logic Logic
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&logic); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse %s: %w", LogicFileName, err)
	}
	if logic.Empty() {
		return nil, nil
	}
	return &logic, nil
}
