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

// Package template defines the installable template model and discovers
// templates inside a source tree.
package template

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

const (
	// APIVersion is the accepted apiVersion of template.yaml.
	APIVersion = "stencil.altairalabs.ai/v1alpha1"

	// Kind is the accepted kind of template.yaml.
	Kind = "Template"

	// MetadataDir holds template.yaml and logic.yaml.
	MetadataDir = "metadata"

	// ContentDir holds the renderable files.
	ContentDir = "content"

	// TriggerAny marks a component template usable with every trigger type.
	TriggerAny = "*"
)

// ParameterType defines the type of a template parameter.
type ParameterType string

const (
	// ParameterTypeString is a free-form string, optionally checked by a pattern.
	ParameterTypeString ParameterType = "string"
	// ParameterTypeNumber is a numeric parameter bounded by min and max.
	ParameterTypeNumber ParameterType = "number"
	// ParameterTypeBoolean is a boolean parameter.
	ParameterTypeBoolean ParameterType = "boolean"
	// ParameterTypeEnum is an enumeration parameter.
	ParameterTypeEnum ParameterType = "enum"
)

// ParameterDefinition defines a configurable parameter for a template.
type ParameterDefinition struct {
	// Key is the parameter name used in content files.
	Key string `json:"key" yaml:"key"`

	// Type is the parameter type.
	Type ParameterType `json:"type" yaml:"type"`

	// Label is the prompt shown to the user.
	Label string `json:"label,omitempty" yaml:"label,omitempty"`

	// Required indicates whether a value must be provided when no default exists.
	Required bool `json:"required,omitempty" yaml:"required,omitempty"`

	// Default is the value used when none is supplied.
	Default *string `json:"default,omitempty" yaml:"default,omitempty"`

	// Pattern is a regular expression the whole string value must match.
	Pattern string `json:"pattern,omitempty" yaml:"pattern,omitempty"`

	// Options are the stored tokens accepted by an enum parameter.
	Options []string `json:"options,omitempty" yaml:"options,omitempty"`

	// Mapping translates a display value into its stored token.
	Mapping map[string]string `json:"mapping,omitempty" yaml:"mapping,omitempty"`

	// Min is the lower bound of a number parameter.
	Min *float64 `json:"min,omitempty" yaml:"min,omitempty"`

	// Max is the upper bound of a number parameter.
	Max *float64 `json:"max,omitempty" yaml:"max,omitempty"`
}

// DisplayLabel returns the label, falling back to the key.
func (p ParameterDefinition) DisplayLabel() string {
	if p.Label != "" {
		return p.Label
	}
	return p.Key
}

// HasDefault reports whether the parameter declares a default value.
func (p ParameterDefinition) HasDefault() bool {
	return p.Default != nil
}

// Choices returns the values a user may pick for an enum parameter:
// display values first, then tokens without a display value.
func (p ParameterDefinition) Choices() []string {
	mapped := make(map[string]bool, len(p.Mapping))
	displays := make([]string, 0, len(p.Mapping))
	for display, token := range p.Mapping {
		displays = append(displays, display)
		mapped[token] = true
	}
	slices.Sort(displays)
	choices := displays
	for _, opt := range p.Options {
		if !mapped[opt] {
			choices = append(choices, opt)
		}
	}
	return choices
}

// SourceKind identifies where a template was installed from.
type SourceKind string

const (
	SourceGit       SourceKind = "git"
	SourceDirectory SourceKind = "dir"
	SourceBuiltin   SourceKind = "builtin"
)

// Provenance records where an installed template came from.
type Provenance struct {
	Kind        SourceKind `json:"kind"`
	URL         string     `json:"url,omitempty"`
	Branch      string     `json:"branch,omitempty"`
	Subpath     string     `json:"subpath,omitempty"`
	Commit      string     `json:"commit,omitempty"`
	Path        string     `json:"path,omitempty"`
	InstalledAt time.Time  `json:"installedAt"`

	// Name is the template name in the source. It differs from the
	// installed name when a clash was resolved by renaming.
	Name string `json:"name,omitempty"`
}

// SourceKey identifies the source independent of the fetched commit or the
// install time. Two templates with the same key came from the same place.
func (p Provenance) SourceKey() string {
	switch p.Kind {
	case SourceGit:
		return fmt.Sprintf("git:%s#%s:%s", p.URL, p.Branch, strings.Trim(p.Subpath, "/"))
	case SourceDirectory:
		return "dir:" + p.Path
	default:
		return string(p.Kind)
	}
}

// String renders the provenance for table output.
func (p Provenance) String() string {
	switch p.Kind {
	case SourceGit:
		s := p.URL
		if p.Branch != "" {
			s += "@" + p.Branch
		}
		if len(p.Commit) >= 7 {
			s += " (" + p.Commit[:7] + ")"
		}
		return s
	case SourceDirectory:
		return p.Path
	default:
		return string(p.Kind)
	}
}

// Logic is the optional author-supplied program set of a template.
// Each entry is a CEL expression evaluated in the sandbox.
type Logic struct {
	Pre  PreLogic  `json:"pre,omitempty" yaml:"pre,omitempty"`
	Post PostLogic `json:"post,omitempty" yaml:"post,omitempty"`
}

// PreLogic runs after rendering and before filtering.
type PreLogic struct {
	// Parameters maps a parameter key to an expression producing its new value.
	Parameters map[string]string `json:"parameters,omitempty" yaml:"parameters,omitempty"`

	// Files is an expression producing the kept subset of the candidate file list.
	Files string `json:"files,omitempty" yaml:"files,omitempty"`
}

// PostLogic runs after commit and may only produce text.
type PostLogic struct {
	Message string `json:"message,omitempty" yaml:"message,omitempty"`
}

// Empty reports whether no program is declared.
func (l *Logic) Empty() bool {
	return l == nil || (len(l.Pre.Parameters) == 0 && l.Pre.Files == "" && l.Post.Message == "")
}

// Template is an installed or discovered template.
type Template struct {
	// ID is assigned by the store; empty for templates that are not installed.
	ID string `json:"-"`

	Name        string                `json:"name"`
	Version     string                `json:"version,omitempty"`
	Description string                `json:"description,omitempty"`
	Language    string                `json:"language,omitempty"`
	Keywords    []string              `json:"keywords,omitempty"`
	Trigger     string                `json:"trigger,omitempty"`
	Parameters  []ParameterDefinition `json:"parameters,omitempty"`
	Provenance  Provenance            `json:"provenance"`

	// Root is the directory holding the metadata and content areas.
	Root string `json:"-"`

	// Logic is the optional sandboxed program set.
	Logic *Logic `json:"-"`

	// Files overrides Root as the content area, for built-in templates.
	Files fs.FS `json:"-"`
}

// ContentRoot returns the path of the content area.
func (t *Template) ContentRoot() string {
	return filepath.Join(t.Root, ContentDir)
}

// Content returns the content area as a file system.
func (t *Template) Content() fs.FS {
	if t.Files != nil {
		return t.Files
	}
	return os.DirFS(t.ContentRoot())
}

// LanguageNeutral reports whether the template matches any language.
func (t *Template) LanguageNeutral() bool {
	return t.Language == ""
}

// HasKeyword reports whether the template carries the keyword, ignoring case.
func (t *Template) HasKeyword(keyword string) bool {
	for _, k := range t.Keywords {
		if strings.EqualFold(k, keyword) {
			return true
		}
	}
	return false
}

// Parameter returns the definition for key.
func (t *Template) Parameter(key string) (ParameterDefinition, bool) {
	for _, p := range t.Parameters {
		if p.Key == key {
			return p, true
		}
	}
	return ParameterDefinition{}, false
}

// Definition represents a parsed template.yaml file.
type Definition struct {
	APIVersion string             `json:"apiVersion" yaml:"apiVersion"`
	Kind       string             `json:"kind" yaml:"kind"`
	Metadata   DefinitionMetadata `json:"metadata" yaml:"metadata"`
	Spec       DefinitionSpec     `json:"spec" yaml:"spec"`
}

// DefinitionMetadata is the metadata section of template.yaml.
type DefinitionMetadata struct {
	Name    string `json:"name" yaml:"name"`
	Version string `json:"version,omitempty" yaml:"version,omitempty"`
}

// DefinitionSpec is the spec section of template.yaml.
type DefinitionSpec struct {
	Description string                `json:"description,omitempty" yaml:"description,omitempty"`
	Language    string                `json:"language,omitempty" yaml:"language,omitempty"`
	Keywords    []string              `json:"keywords,omitempty" yaml:"keywords,omitempty"`
	Trigger     string                `json:"trigger,omitempty" yaml:"trigger,omitempty"`
	Parameters  []ParameterDefinition `json:"parameters,omitempty" yaml:"parameters,omitempty"`
}

// IndexEntry represents a template entry in the index file.
type IndexEntry struct {
	Name string `json:"name" yaml:"name"`
	Path string `json:"path" yaml:"path"`
}

// Index represents the .template-index.yaml file.
type Index struct {
	Templates []IndexEntry `json:"templates" yaml:"templates"`
}

// MetadataParseError reports a template whose metadata could not be loaded.
// It is scoped to one template; sibling templates are unaffected.
type MetadataParseError struct {
	// Path is the template directory relative to the source root.
	Path string
	Err  error
}

func (e *MetadataParseError) Error() string {
	return fmt.Sprintf("template %s: invalid metadata: %v", e.Path, e.Err)
}

func (e *MetadataParseError) Unwrap() error {
	return e.Err
}
