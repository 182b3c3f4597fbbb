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

// Package resolver selects a template from a snapshot of the store given a
// name, language and keyword. Resolution is a pure function of its inputs.
package resolver

import (
	"sort"
	"strings"

	"github.com/sahilm/fuzzy"

	"github.com/altairalabs/stencil/pkg/template"
)

// Kind classifies an Outcome.
type Kind int

const (
	// Unique means exactly one template was selected.
	Unique Kind = iota + 1
	// Ambiguous means the caller has to choose among Candidates.
	Ambiguous
	// NotFound means nothing matched.
	NotFound
	// LanguageMismatch means the name exists but not in the effective language.
	LanguageMismatch
)

func (k Kind) String() string {
	switch k {
	case Unique:
		return "unique"
	case Ambiguous:
		return "ambiguous"
	case NotFound:
		return "not-found"
	case LanguageMismatch:
		return "language-mismatch"
	default:
		return "unknown"
	}
}

// Reason explains why an outcome is Ambiguous.
type Reason string

const (
	// ReasonBrowse is set when no name was given.
	ReasonBrowse Reason = "browse"
	// ReasonConfirmLanguage is set when no effective language is known.
	ReasonConfirmLanguage Reason = "confirm-language"
	// ReasonProviders is set when several sources provide the chosen language.
	ReasonProviders Reason = "providers"
)

// Query is a resolution request.
type Query struct {
	Name string

	// Language is the explicit --lang flag and wins over DefaultLanguage.
	Language        string
	DefaultLanguage string

	Keyword     string
	Interactive bool

	// ExistingAppTrigger is the trigger type of the application a component
	// is added to. Incompatible templates are filtered out silently.
	ExistingAppTrigger string
}

// EffectiveLanguage returns the language used for resolution.
func (q Query) EffectiveLanguage() string {
	if q.Language != "" {
		return strings.ToLower(q.Language)
	}
	return strings.ToLower(q.DefaultLanguage)
}

// Outcome is the result of Resolve.
type Outcome struct {
	Kind  Kind
	Query Query

	// Template is set for Unique.
	Template *template.Template

	// Candidates are ordered by name, language, source and ID.
	Candidates []template.Template
	Reason     Reason

	// Suggestions are installed names offered on NotFound.
	Suggestions []string

	// OfferDefaults is set on NotFound when the store is empty.
	OfferDefaults bool

	// Languages lists the languages with matches for LanguageMismatch and
	// for ReasonConfirmLanguage.
	Languages []string
}

// NeedsPrompt reports whether an interactive caller should ask the user.
func (o Outcome) NeedsPrompt() bool {
	if !o.Query.Interactive {
		return false
	}
	switch o.Kind {
	case Ambiguous, LanguageMismatch:
		return true
	case NotFound:
		return o.OfferDefaults
	}
	return false
}

// Err returns nil for Unique and a *Error otherwise.
func (o Outcome) Err() error {
	if o.Kind == Unique {
		return nil
	}
	return &Error{
		Kind:          o.Kind,
		Reason:        o.Reason,
		Name:          o.Query.Name,
		Keyword:       o.Query.Keyword,
		Language:      o.Query.EffectiveLanguage(),
		Languages:     o.Languages,
		Suggestions:   o.Suggestions,
		OfferDefaults: o.OfferDefaults,
		Candidates:    o.Candidates,
	}
}

// Resolve selects templates from snapshot for q.
func Resolve(snapshot []template.Template, q Query) Outcome {
	out := Outcome{Query: q}
	name := strings.ToLower(strings.TrimSpace(q.Name))
	out.Query.Name = name

	matches := filter(snapshot, name, q.Keyword, q.ExistingAppTrigger)
	sortCandidates(matches)

	if name == "" {
		if len(matches) == 0 {
			out.Kind = NotFound
			out.OfferDefaults = len(snapshot) == 0
			return out
		}
		out.Kind = Ambiguous
		out.Reason = ReasonBrowse
		out.Candidates = matches
		return out
	}

	if len(matches) == 0 {
		return notFound(out, snapshot, name)
	}

	lang := q.EffectiveLanguage()
	if lang == "" {
		out.Kind = Ambiguous
		out.Reason = ReasonConfirmLanguage
		out.Candidates = matches
		out.Languages = languages(matches)
		return out
	}

	var exact, neutral []template.Template
	for _, t := range matches {
		switch {
		case t.Language == lang:
			exact = append(exact, t)
		case t.LanguageNeutral():
			neutral = append(neutral, t)
		}
	}
	selected := exact
	if len(selected) == 0 {
		selected = neutral
	}

	switch len(selected) {
	case 0:
		out.Kind = LanguageMismatch
		out.Candidates = matches
		out.Languages = languages(matches)
	case 1:
		out.Kind = Unique
		out.Template = &selected[0]
		out.Candidates = selected
	default:
		out.Kind = Ambiguous
		out.Reason = ReasonProviders
		out.Candidates = selected
	}
	return out
}

func notFound(out Outcome, snapshot []template.Template, name string) Outcome {
	out.Kind = NotFound
	if len(snapshot) == 0 {
		out.OfferDefaults = true
		return out
	}
	out.Suggestions = suggest(snapshot, name)
	return out
}

// filter applies the name, keyword and trigger filters.
func filter(snapshot []template.Template, name, keyword, appTrigger string) []template.Template {
	var out []template.Template
	for _, t := range snapshot {
		if name != "" && t.Name != name {
			continue
		}
		if keyword != "" && !t.HasKeyword(keyword) {
			continue
		}
		if !TriggerCompatible(t, appTrigger) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// TriggerCompatible reports whether t can be added to an application with
// the given trigger type. An empty appTrigger accepts every template.
func TriggerCompatible(t template.Template, appTrigger string) bool {
	if appTrigger == "" {
		return true
	}
	switch t.Trigger {
	case "", template.TriggerAny:
		return true
	}
	return strings.EqualFold(t.Trigger, appTrigger)
}

func sortCandidates(ts []template.Template) {
	sort.SliceStable(ts, func(i, j int) bool {
		a, b := ts[i], ts[j]
		if a.Name != b.Name {
			return a.Name < b.Name
		}
		if a.Language != b.Language {
			return a.Language < b.Language
		}
		ak, bk := a.Provenance.SourceKey(), b.Provenance.SourceKey()
		if ak != bk {
			return ak < bk
		}
		return a.ID < b.ID
	})
}

func languages(ts []template.Template) []string {
	seen := make(map[string]bool)
	var out []string
	for _, t := range ts {
		if seen[t.Language] {
			continue
		}
		seen[t.Language] = true
		out = append(out, t.Language)
	}
	sort.Strings(out)
	return out
}

// suggest orders the installed names by fuzzy score against name, followed
// by the names that do not match at all in alphabetical order.
func suggest(snapshot []template.Template, name string) []string {
	seen := make(map[string]bool)
	var names []string
	for _, t := range snapshot {
		if !seen[t.Name] {
			seen[t.Name] = true
			names = append(names, t.Name)
		}
	}
	sort.Strings(names)

	matches := fuzzy.Find(name, names)
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		return matches[i].Str < matches[j].Str
	})

	out := make([]string, 0, len(names))
	used := make(map[string]bool, len(matches))
	for _, m := range matches {
		out = append(out, m.Str)
		used[m.Str] = true
	}
	for _, n := range names {
		if !used[n] {
			out = append(out, n)
		}
	}
	return out
}
