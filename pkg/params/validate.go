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

// Package params validates supplied values against a template's parameter
// schema and resolves defaults and value mappings.
package params

import (
	"fmt"
	"maps"
	"math"
	"regexp"
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/altairalabs/stencil/pkg/template"
)

// Resolved holds validated values keyed by parameter key. Enum values hold
// the stored token, booleans are "true" or "false".
type Resolved map[string]string

// Clone returns a copy of r.
func (r Resolved) Clone() Resolved {
	return maps.Clone(r)
}

// FieldError is one failing parameter.
type FieldError struct {
	Key    string
	Label  string
	Value  string
	Reason string
}

func (f FieldError) Error() string {
	return fmt.Sprintf("%s: %s", f.Key, f.Reason)
}

// ValidationError lists every failing parameter of one validation pass.
type ValidationError struct {
	Fields []FieldError
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		msgs[i] = f.Error()
	}
	return "invalid parameters: " + strings.Join(msgs, "; ")
}

// Field returns the error for key, if any.
func (e *ValidationError) Field(key string) (FieldError, bool) {
	for _, f := range e.Fields {
		if f.Key == key {
			return f, true
		}
	}
	return FieldError{}, false
}

// Validate checks supplied against schema. Missing values take their default;
// optional parameters without a default resolve to the empty string. Keys
// not declared in schema are errors. All failures are returned together as
// a *ValidationError.
func Validate(schema []template.ParameterDefinition, supplied map[string]string) (Resolved, error) {
	resolved := make(Resolved, len(schema))
	var fields []FieldError
	declared := make(map[string]bool, len(schema))

	for _, def := range schema {
		declared[def.Key] = true

		val, ok := supplied[def.Key]
		if val == "" {
			switch {
			case def.HasDefault() && (!ok || def.Required || def.Type != template.ParameterTypeString):
				val = *def.Default
			case def.Required:
				fields = append(fields, fieldError(def, "", "is required"))
				continue
			default:
				resolved[def.Key] = ""
				continue
			}
		}

		norm, err := check(def, val)
		if err != nil {
			fields = append(fields, fieldError(def, val, err.Error()))
			continue
		}
		resolved[def.Key] = norm
	}

	var unknown []string
	for key := range supplied {
		if !declared[key] {
			unknown = append(unknown, key)
		}
	}
	sort.Strings(unknown)
	for _, key := range unknown {
		fields = append(fields, FieldError{Key: key, Label: key, Value: supplied[key], Reason: "is not a parameter of this template"})
	}

	if len(fields) > 0 {
		return nil, &ValidationError{Fields: fields}
	}
	return resolved, nil
}

// Check validates a single value and returns its normalized form.
func Check(def template.ParameterDefinition, value string) (string, error) {
	return check(def, value)
}

func check(def template.ParameterDefinition, value string) (string, error) {
	switch def.Type {
	case template.ParameterTypeBoolean:
		return checkBoolean(value)
	case template.ParameterTypeNumber:
		return checkNumber(def, value)
	case template.ParameterTypeEnum:
		return checkEnum(def, value)
	default:
		return checkString(def, value)
	}
}

func checkString(def template.ParameterDefinition, value string) (string, error) {
	if def.Pattern == "" {
		return value, nil
	}
	re, err := regexp.Compile(`^(?:` + def.Pattern + `)$`)
	if err != nil {
		return "", fmt.Errorf("has invalid pattern %q: %w", def.Pattern, err)
	}
	if !re.MatchString(value) {
		return "", fmt.Errorf("must match pattern %q", def.Pattern)
	}
	return value, nil
}

func checkNumber(def template.ParameterDefinition, value string) (string, error) {
	n, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil || math.IsNaN(n) || math.IsInf(n, 0) {
		return "", fmt.Errorf("must be a number")
	}
	if def.Min != nil && n < *def.Min {
		return "", fmt.Errorf("must be >= %v", *def.Min)
	}
	if def.Max != nil && n > *def.Max {
		return "", fmt.Errorf("must be <= %v", *def.Max)
	}
	return strings.TrimSpace(value), nil
}

func checkBoolean(value string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "true", "yes", "y", "1":
		return "true", nil
	case "false", "no", "n", "0":
		return "false", nil
	}
	return "", fmt.Errorf("must be a boolean (true/false, yes/no)")
}

func checkEnum(def template.ParameterDefinition, value string) (string, error) {
	if token, ok := def.Mapping[value]; ok {
		return token, nil
	}
	if slices.Contains(def.Options, value) {
		return value, nil
	}
	return "", fmt.Errorf("must be one of: %s", strings.Join(def.Choices(), ", "))
}

func fieldError(def template.ParameterDefinition, value, reason string) FieldError {
	return FieldError{Key: def.Key, Label: def.DisplayLabel(), Value: value, Reason: reason}
}
