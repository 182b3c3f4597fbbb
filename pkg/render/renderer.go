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

// Package render substitutes parameters into template content files.
package render

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"
	"text/template"
	"unicode/utf8"
)

var (
	wordBoundary = regexp.MustCompile(`([a-z0-9])([A-Z])`)
	separators   = regexp.MustCompile(`[-_\s]+`)
)

// Renderer renders content files with text/template.
// Content that is not valid UTF-8 text is returned unchanged.
type Renderer struct {
	// FuncMap contains custom template functions.
	FuncMap template.FuncMap
}

// NewRenderer creates a new content renderer.
func NewRenderer() *Renderer {
	return &Renderer{
		FuncMap: defaultFuncMap(),
	}
}

// defaultFuncMap returns the default template functions.
func defaultFuncMap() template.FuncMap {
	return template.FuncMap{
		"lower":     strings.ToLower,
		"upper":     strings.ToUpper,
		"trimSpace": strings.TrimSpace,
		"trimPrefix": func(prefix, s string) string {
			return strings.TrimPrefix(s, prefix)
		},
		"trimSuffix": func(suffix, s string) string {
			return strings.TrimSuffix(s, suffix)
		},
		"replace": func(old, new, s string) string {
			return strings.ReplaceAll(s, old, new)
		},
		"contains": func(s, substr string) bool {
			return strings.Contains(s, substr)
		},
		"split": strings.Split,
		"join": func(sep string, elems []string) string {
			return strings.Join(elems, sep)
		},
		"default": func(defaultVal, val string) string {
			if val == "" {
				return defaultVal
			}
			return val
		},
		"quote": func(s string) string {
			return fmt.Sprintf("%q", s)
		},
		"kebabCase":  toKebabCase,
		"snakeCase":  toSnakeCase,
		"camelCase":  toCamelCase,
		"pascalCase": toPascalCase,
	}
}

func toKebabCase(s string) string {
	s = wordBoundary.ReplaceAllString(s, "${1}-${2}")
	return strings.ToLower(separators.ReplaceAllString(s, "-"))
}

func toSnakeCase(s string) string {
	s = wordBoundary.ReplaceAllString(s, "${1}_${2}")
	return strings.ToLower(separators.ReplaceAllString(s, "_"))
}

func toCamelCase(s string) string {
	parts := separators.Split(s, -1)
	if len(parts) == 0 {
		return s
	}
	result := strings.ToLower(parts[0])
	for _, part := range parts[1:] {
		if part != "" {
			result += strings.ToUpper(part[:1]) + strings.ToLower(part[1:])
		}
	}
	return result
}

func toPascalCase(s string) string {
	camel := toCamelCase(s)
	if camel == "" {
		return camel
	}
	return strings.ToUpper(camel[:1]) + camel[1:]
}

// IsText reports whether content is rendered rather than copied verbatim.
func IsText(content []byte) bool {
	return utf8.Valid(content) && !bytes.Contains(content, []byte{0})
}

// Render renders one content file. Parameters are available both as the
// template data ({{ index . "project-name" }}) and through the param function
// ({{ param "project-name" }}). Referencing an undeclared parameter is an error.
func (r *Renderer) Render(name string, content []byte, params map[string]string) ([]byte, error) {
	if !IsText(content) {
		return content, nil
	}

	funcs := make(template.FuncMap, len(r.FuncMap)+1)
	for k, v := range r.FuncMap {
		funcs[k] = v
	}
	funcs["param"] = func(key string) (string, error) {
		v, ok := params[key]
		if !ok {
			return "", fmt.Errorf("unknown parameter %q", key)
		}
		return v, nil
	}

	tmpl, err := template.New(name).Option("missingkey=error").Funcs(funcs).Parse(string(content))
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", name, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, params); err != nil {
		return nil, fmt.Errorf("failed to render %s: %w", name, err)
	}
	return buf.Bytes(), nil
}
