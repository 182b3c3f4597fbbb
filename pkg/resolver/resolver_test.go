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

package resolver

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altairalabs/stencil/pkg/template"
)

func tmpl(id, name, language, trigger string, keywords ...string) template.Template {
	return template.Template{
		ID:       id,
		Name:     name,
		Language: language,
		Trigger:  trigger,
		Keywords: keywords,
		Provenance: template.Provenance{
			Kind:   template.SourceGit,
			URL:    "https://example.com/" + id + ".git",
			Branch: "main",
		},
	}
}

func ids(ts []template.Template) []string {
	out := make([]string, len(ts))
	for i, t := range ts {
		out[i] = t.ID
	}
	return out
}

// httpStore holds http for rust and go plus a few neighbors.
func httpStore() []template.Template {
	return []template.Template{
		tmpl("3", "redis", "rust", "redis", "redis", "queue"),
		tmpl("2", "http", "go", "http", "http", "web"),
		tmpl("1", "http", "rust", "http", "http", "web"),
		tmpl("4", "timer", "", "*", "cron"),
		tmpl("5", "static", "", "", "web"),
	}
}

func TestResolve(t *testing.T) {
	tests := []struct {
		name          string
		snapshot      []template.Template
		query         Query
		wantKind      Kind
		wantReason    Reason
		wantIDs       []string
		wantLanguages []string
		wantDefaults  bool
	}{
		{
			name:         "empty store offers defaults",
			snapshot:     nil,
			query:        Query{Name: "http", Interactive: true},
			wantKind:     NotFound,
			wantDefaults: true,
		},
		{
			name:         "empty store without a name offers defaults",
			query:        Query{Interactive: true},
			wantKind:     NotFound,
			wantDefaults: true,
		},
		{
			name:       "no name browses everything",
			snapshot:   httpStore(),
			query:      Query{Interactive: true},
			wantKind:   Ambiguous,
			wantReason: ReasonBrowse,
			wantIDs:    []string{"2", "1", "3", "5", "4"},
		},
		{
			name:       "no name with keyword",
			snapshot:   httpStore(),
			query:      Query{Keyword: "WEB", Interactive: true},
			wantKind:   Ambiguous,
			wantReason: ReasonBrowse,
			wantIDs:    []string{"2", "1", "5"},
		},
		{
			name:     "no name keyword without matches",
			snapshot: httpStore(),
			query:    Query{Keyword: "grpc"},
			wantKind: NotFound,
		},
		{
			name:          "scenario B: no language is ambiguous across languages",
			snapshot:      httpStore(),
			query:         Query{Name: "http", Interactive: true},
			wantKind:      Ambiguous,
			wantReason:    ReasonConfirmLanguage,
			wantIDs:       []string{"2", "1"},
			wantLanguages: []string{"go", "rust"},
		},
		{
			name:          "single language match is never auto-selected",
			snapshot:      httpStore(),
			query:         Query{Name: "redis", Interactive: true},
			wantKind:      Ambiguous,
			wantReason:    ReasonConfirmLanguage,
			wantIDs:       []string{"3"},
			wantLanguages: []string{"rust"},
		},
		{
			name:     "explicit language",
			snapshot: httpStore(),
			query:    Query{Name: "http", Language: "Rust"},
			wantKind: Unique,
			wantIDs:  []string{"1"},
		},
		{
			name:     "explicit language wins over default",
			snapshot: httpStore(),
			query:    Query{Name: "http", Language: "go", DefaultLanguage: "rust"},
			wantKind: Unique,
			wantIDs:  []string{"2"},
		},
		{
			name:     "default language",
			snapshot: httpStore(),
			query:    Query{Name: "http", DefaultLanguage: "rust"},
			wantKind: Unique,
			wantIDs:  []string{"1"},
		},
		{
			name:          "scenario C: default language not installed",
			snapshot:      httpStore(),
			query:         Query{Name: "http", DefaultLanguage: "haskell", Interactive: true},
			wantKind:      LanguageMismatch,
			wantIDs:       []string{"2", "1"},
			wantLanguages: []string{"go", "rust"},
		},
		{
			name:     "neutral template matches any language",
			snapshot: httpStore(),
			query:    Query{Name: "timer", Language: "haskell"},
			wantKind: Unique,
			wantIDs:  []string{"4"},
		},
		{
			name: "language-specific wins over neutral",
			snapshot: append(httpStore(),
				tmpl("6", "http", "", "http"),
			),
			query:    Query{Name: "http", Language: "go"},
			wantKind: Unique,
			wantIDs:  []string{"2"},
		},
		{
			name: "neutral used when language has no specific match",
			snapshot: append(httpStore(),
				tmpl("6", "http", "", "http"),
			),
			query:    Query{Name: "http", Language: "haskell"},
			wantKind: Unique,
			wantIDs:  []string{"6"},
		},
		{
			name: "several providers of one language",
			snapshot: append(httpStore(),
				tmpl("0", "http", "rust", "http"),
			),
			query:      Query{Name: "http", Language: "rust"},
			wantKind:   Ambiguous,
			wantReason: ReasonProviders,
			wantIDs:    []string{"0", "1"},
		},
		{
			name:     "unknown name",
			snapshot: httpStore(),
			query:    Query{Name: "htp", Language: "rust"},
			wantKind: NotFound,
		},
		{
			name:     "keyword must also match",
			snapshot: httpStore(),
			query:    Query{Name: "http", Keyword: "queue", Language: "rust"},
			wantKind: NotFound,
		},
		{
			name:     "trigger filter hides incompatible templates",
			snapshot: httpStore(),
			query:    Query{Name: "redis", Language: "rust", ExistingAppTrigger: "http"},
			wantKind: NotFound,
		},
		{
			name:       "trigger filter keeps wildcard and unset triggers",
			snapshot:   httpStore(),
			query:      Query{ExistingAppTrigger: "redis", Interactive: true},
			wantKind:   Ambiguous,
			wantReason: ReasonBrowse,
			wantIDs:    []string{"3", "5", "4"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := Resolve(tt.snapshot, tt.query)
			assert.Equal(t, tt.wantKind, out.Kind, out.Kind.String())
			assert.Equal(t, tt.wantReason, out.Reason)
			assert.Equal(t, tt.wantDefaults, out.OfferDefaults)
			if tt.wantIDs != nil {
				assert.Equal(t, tt.wantIDs, ids(out.Candidates))
			}
			if tt.wantLanguages != nil {
				assert.Equal(t, tt.wantLanguages, out.Languages)
			}
			if tt.wantKind == Unique {
				require.NotNil(t, out.Template)
				assert.Equal(t, tt.wantIDs[0], out.Template.ID)
				assert.NoError(t, out.Err())
			} else {
				assert.Nil(t, out.Template)
				assert.Error(t, out.Err())
			}
		})
	}
}

func TestResolve_Deterministic(t *testing.T) {
	snapshot := httpStore()
	reversed := make([]template.Template, len(snapshot))
	for i := range snapshot {
		reversed[len(snapshot)-1-i] = snapshot[i]
	}

	q := Query{Name: "http", Interactive: true}
	first := Resolve(snapshot, q)
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, Resolve(snapshot, q))
	}
	assert.Equal(t, ids(first.Candidates), ids(Resolve(reversed, q).Candidates))
}

func TestResolve_DoesNotMutateSnapshot(t *testing.T) {
	snapshot := httpStore()
	before := ids(snapshot)
	Resolve(snapshot, Query{Interactive: true})
	assert.Equal(t, before, ids(snapshot))
}

func TestResolve_Suggestions(t *testing.T) {
	out := Resolve(httpStore(), Query{Name: "htp", Language: "rust"})
	require.Equal(t, NotFound, out.Kind)
	assert.False(t, out.OfferDefaults)
	require.NotEmpty(t, out.Suggestions)
	assert.Equal(t, "http", out.Suggestions[0])
	assert.ElementsMatch(t, []string{"http", "redis", "static", "timer"}, out.Suggestions)
}

func TestOutcome_NeedsPrompt(t *testing.T) {
	interactive := Resolve(httpStore(), Query{Name: "http", Interactive: true})
	assert.True(t, interactive.NeedsPrompt())

	batch := Resolve(httpStore(), Query{Name: "http"})
	assert.Equal(t, Ambiguous, batch.Kind)
	assert.False(t, batch.NeedsPrompt())

	unique := Resolve(httpStore(), Query{Name: "http", Language: "go", Interactive: true})
	assert.False(t, unique.NeedsPrompt())

	empty := Resolve(nil, Query{Name: "http", Interactive: true})
	assert.True(t, empty.NeedsPrompt())
}

func TestOutcome_ErrMessages(t *testing.T) {
	tests := []struct {
		name     string
		snapshot []template.Template
		query    Query
		contains []string
	}{
		{
			name:     "non-interactive language confirmation lists languages",
			snapshot: httpStore(),
			query:    Query{Name: "http"},
			contains: []string{"go, rust", "--lang"},
		},
		{
			name:     "language mismatch",
			snapshot: httpStore(),
			query:    Query{Name: "http", DefaultLanguage: "haskell"},
			contains: []string{"not installed for haskell", "go, rust"},
		},
		{
			name:     "not found lists installed names",
			snapshot: httpStore(),
			query:    Query{Name: "grpc", Language: "go"},
			contains: []string{`"grpc" not found`, "http"},
		},
		{
			name:     "empty store",
			query:    Query{Name: "http"},
			contains: []string{"no templates are installed"},
		},
		{
			name:     "browse",
			snapshot: httpStore(),
			query:    Query{},
			contains: []string{"no template name given", "http, redis"},
		},
		{
			name:     "providers",
			snapshot: append(httpStore(), tmpl("0", "http", "rust", "http")),
			query:    Query{Name: "http", Language: "rust"},
			contains: []string{"provided by 2 sources", "https://example.com/0.git@main"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Resolve(tt.snapshot, tt.query).Err()
			var resErr *Error
			require.True(t, errors.As(err, &resErr))
			for _, s := range tt.contains {
				assert.Contains(t, err.Error(), s)
			}
		})
	}
}

func TestTriggerCompatible(t *testing.T) {
	assert.True(t, TriggerCompatible(tmpl("1", "a", "", "redis"), ""))
	assert.True(t, TriggerCompatible(tmpl("1", "a", "", ""), "http"))
	assert.True(t, TriggerCompatible(tmpl("1", "a", "", template.TriggerAny), "http"))
	assert.True(t, TriggerCompatible(tmpl("1", "a", "", "HTTP"), "http"))
	assert.False(t, TriggerCompatible(tmpl("1", "a", "", "redis"), "http"))
}
