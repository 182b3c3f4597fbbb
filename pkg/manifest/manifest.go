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

// Package manifest reads and merges the application manifest (stencil.yaml).
// Documents are handled as yaml.v3 nodes so key order and comments survive.
package manifest

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"path"
	"strings"

	"gopkg.in/yaml.v3"
)

// FileName is the manifest file at the root of an application.
const FileName = "stencil.yaml"

const (
	keyComponents  = "components"
	keyApplication = "application"
	keyTrigger     = "trigger"
	keyType        = "type"
	keyID          = "id"
	keyBuild       = "build"
	keyWorkdir     = "workdir"
	keySource      = "source"
)

// ErrEmpty is returned for a manifest without a top-level mapping.
var ErrEmpty = errors.New("manifest is empty")

// ConflictError is returned by Merge when a component id already exists.
type ConflictError struct {
	ComponentID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("component %q already exists in the manifest", e.ComponentID)
}

// Manifest is a parsed application manifest.
type Manifest struct {
	doc *yaml.Node
}

// Component is one entry of the components list.
type Component struct {
	ID   string
	node *yaml.Node
}

// Parse decodes a manifest.
func Parse(data []byte) (*Manifest, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 {
		return nil, ErrEmpty
	}
	if doc.Content[0].Kind != yaml.MappingNode {
		return nil, fmt.Errorf("failed to parse manifest: top level must be a mapping")
	}
	return &Manifest{doc: &doc}, nil
}

func (m *Manifest) root() *yaml.Node {
	return m.doc.Content[0]
}

// AppTriggerType returns application.trigger.type, or empty.
func (m *Manifest) AppTriggerType() string {
	app := lookup(m.root(), keyApplication)
	trigger := lookup(app, keyTrigger)
	typ := lookup(trigger, keyType)
	if typ == nil || typ.Kind != yaml.ScalarNode {
		return ""
	}
	return typ.Value
}

// Components returns the component entries in document order.
func (m *Manifest) Components() ([]Component, error) {
	seq := lookup(m.root(), keyComponents)
	if seq == nil {
		return nil, nil
	}
	if seq.Kind != yaml.SequenceNode {
		return nil, fmt.Errorf("manifest %s must be a list", keyComponents)
	}
	out := make([]Component, 0, len(seq.Content))
	for i, item := range seq.Content {
		if item.Kind != yaml.MappingNode {
			return nil, fmt.Errorf("manifest %s[%d] must be a mapping", keyComponents, i)
		}
		id := lookup(item, keyID)
		if id == nil || id.Kind != yaml.ScalarNode || id.Value == "" {
			return nil, fmt.Errorf("manifest %s[%d] has no %s", keyComponents, i, keyID)
		}
		out = append(out, Component{ID: id.Value, node: item})
	}
	return out, nil
}

// StripComponents removes the components list, leaving application metadata.
func (m *Manifest) StripComponents() {
	root := m.root()
	for i := 0; i+1 < len(root.Content); i += 2 {
		if root.Content[i].Value == keyComponents {
			root.Content = append(root.Content[:i], root.Content[i+2:]...)
			return
		}
	}
}

// Bytes encodes the manifest with two-space indentation.
func (m *Manifest) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(m.doc); err != nil {
		return nil, fmt.Errorf("failed to encode manifest: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("failed to encode manifest: %w", err)
	}
	return buf.Bytes(), nil
}

// Merge appends entries to the components of existing. Existing entries keep
// their order. A duplicate id, against existing entries or among entries,
// returns a *ConflictError and no output.
func Merge(existing []byte, entries []Component) ([]byte, error) {
	m, err := Parse(existing)
	if err != nil {
		return nil, err
	}
	current, err := m.Components()
	if err != nil {
		return nil, err
	}

	ids := make(map[string]bool, len(current)+len(entries))
	for _, c := range current {
		ids[c.ID] = true
	}
	for _, e := range entries {
		if ids[e.ID] {
			return nil, &ConflictError{ComponentID: e.ID}
		}
		ids[e.ID] = true
	}

	seq := lookup(m.root(), keyComponents)
	if seq == nil {
		seq = &yaml.Node{Kind: yaml.SequenceNode, Tag: "!!seq"}
		m.root().Content = append(m.root().Content,
			&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: keyComponents}, seq)
	}
	// An empty flow list such as "components: []" would keep the new entries inline.
	seq.Style &^= yaml.FlowStyle
	for _, e := range entries {
		seq.Content = append(seq.Content, e.node)
	}
	return m.Bytes()
}

// Digest returns the hex SHA-256 of a manifest's bytes.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Workdir returns build.workdir, cleaned and slash separated, or empty.
func (c Component) Workdir() string {
	wd := lookup(lookup(c.node, keyBuild), keyWorkdir)
	if wd == nil || wd.Kind != yaml.ScalarNode || wd.Value == "" {
		return ""
	}
	cleaned := path.Clean(strings.ReplaceAll(wd.Value, "\\", "/"))
	if cleaned == "." {
		return ""
	}
	return cleaned
}

// Relocate rewrites the component for content moved from the directory from
// (empty for the application root) to the directory to. build.workdir is set
// to to when a build section exists, and a relative source under from is
// rebased.
func (c Component) Relocate(from, to string) {
	if build := lookup(c.node, keyBuild); build != nil && build.Kind == yaml.MappingNode {
		setScalar(build, keyWorkdir, to)
	}
	src := lookup(c.node, keySource)
	if src == nil || src.Kind != yaml.ScalarNode || src.Value == "" || path.IsAbs(src.Value) {
		return
	}
	rel := src.Value
	if from != "" {
		trimmed, ok := strings.CutPrefix(path.Clean(rel), from+"/")
		if !ok {
			return
		}
		rel = trimmed
	}
	src.Value = path.Join(to, rel)
}

func lookup(node *yaml.Node, key string) *yaml.Node {
	if node == nil || node.Kind != yaml.MappingNode {
		return nil
	}
	for i := 0; i+1 < len(node.Content); i += 2 {
		if node.Content[i].Value == key {
			return node.Content[i+1]
		}
	}
	return nil
}

func setScalar(node *yaml.Node, key, value string) {
	if v := lookup(node, key); v != nil {
		v.Kind = yaml.ScalarNode
		v.Tag = "!!str"
		v.Value = value
		v.Content = nil
		return
	}
	node.Content = append(node.Content,
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key},
		&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: value})
}
