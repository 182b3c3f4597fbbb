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
	"fmt"
	"strings"

	"github.com/altairalabs/stencil/pkg/template"
)

// Error is a resolution failure returned by Outcome.Err.
type Error struct {
	Kind          Kind
	Reason        Reason
	Name          string
	Keyword       string
	Language      string
	Languages     []string
	Suggestions   []string
	OfferDefaults bool
	Candidates    []template.Template
}

func (e *Error) Error() string {
	switch e.Kind {
	case NotFound:
		return e.notFound()
	case LanguageMismatch:
		return fmt.Sprintf("template %q is not installed for %s; available languages: %s",
			e.Name, e.Language, joinLanguages(e.Languages))
	case Ambiguous:
		return e.ambiguous()
	}
	return fmt.Sprintf("template %q could not be resolved", e.Name)
}

func (e *Error) notFound() string {
	if e.OfferDefaults {
		return "no templates are installed; run 'stencil templates install' to install the default templates"
	}
	if e.Name == "" {
		return fmt.Sprintf("no templates match keyword %q", e.Keyword)
	}
	if len(e.Suggestions) == 0 {
		return fmt.Sprintf("template %q not found", e.Name)
	}
	return fmt.Sprintf("template %q not found; installed templates: %s", e.Name, strings.Join(e.Suggestions, ", "))
}

func (e *Error) ambiguous() string {
	switch e.Reason {
	case ReasonBrowse:
		return fmt.Sprintf("no template name given; available templates: %s", candidateNames(e.Candidates))
	case ReasonConfirmLanguage:
		return fmt.Sprintf("template %q is available for %s; choose one with --lang",
			e.Name, joinLanguages(e.Languages))
	case ReasonProviders:
		sources := make([]string, 0, len(e.Candidates))
		for _, c := range e.Candidates {
			sources = append(sources, c.Provenance.String())
		}
		return fmt.Sprintf("template %q (%s) is provided by %d sources: %s; remove or rename one",
			e.Name, languageLabel(e.Language), len(e.Candidates), strings.Join(sources, ", "))
	}
	return fmt.Sprintf("template %q is ambiguous", e.Name)
}

func candidateNames(ts []template.Template) string {
	seen := make(map[string]bool)
	var names []string
	for _, t := range ts {
		if !seen[t.Name] {
			seen[t.Name] = true
			names = append(names, t.Name)
		}
	}
	return strings.Join(names, ", ")
}

func joinLanguages(langs []string) string {
	labels := make([]string, len(langs))
	for i, l := range langs {
		labels[i] = languageLabel(l)
	}
	return strings.Join(labels, ", ")
}

func languageLabel(language string) string {
	if language == "" {
		return "any language"
	}
	return language
}
