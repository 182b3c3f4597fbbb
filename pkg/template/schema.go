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
	// embed is used to embed template.schema.json
	_ "embed"
	"fmt"
	"regexp"
	"slices"
	"strings"

	"github.com/go-logr/logr"
	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
	k8syaml "sigs.k8s.io/yaml"
)

//go:embed template.schema.json
var embeddedSchema string

// SchemaValidator validates template.yaml against the embedded JSON Schema.
type SchemaValidator struct {
	log    logr.Logger
	loader gojsonschema.JSONLoader
}

// NewSchemaValidator creates a validator for template definitions.
func NewSchemaValidator(log logr.Logger) *SchemaValidator {
	return &SchemaValidator{
		log:    log.WithName("schema-validator"),
		loader: gojsonschema.NewStringLoader(embeddedSchema),
	}
}

// Validate checks raw template.yaml bytes against the schema.
func (v *SchemaValidator) Validate(data []byte) error {
	doc, err := k8syaml.YAMLToJSON(data)
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", DefinitionFileName, err)
	}

	result, err := gojsonschema.Validate(v.loader, gojsonschema.NewBytesLoader(doc))
	if err != nil {
		return fmt.Errorf("schema validation error: %w", err)
	}

	if !result.Valid() {
		var errs []string
		for _, desc := range result.Errors() {
			errs = append(errs, fmt.Sprintf("%s: %s", desc.Field(), desc.Description()))
		}
		return fmt.Errorf("invalid %s: %s", DefinitionFileName, strings.Join(errs, "; "))
	}
	return nil
}

// Parse validates and decodes template.yaml, then checks the rules the
// schema cannot express.
func (v *SchemaValidator) Parse(data []byte) (*Definition, error) {
	if err := v.Validate(data); err != nil {
		return nil, err
	}

	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", DefinitionFileName, err)
	}
	if err := checkParameters(def.Spec.Parameters); err != nil {
		return nil, err
	}

	v.log.V(2).Info("template definition parsed", "name", def.Metadata.Name)
	return &def, nil
}

func checkParameters(defs []ParameterDefinition) error {
	seen := make(map[string]bool, len(defs))
	for _, p := range defs {
		if seen[p.Key] {
			return fmt.Errorf("parameter %q declared more than once", p.Key)
		}
		seen[p.Key] = true

		switch p.Type {
		case ParameterTypeEnum:
			if len(p.Options) == 0 {
				return fmt.Errorf("enum parameter %q has no options", p.Key)
			}
			for display, token := range p.Mapping {
				if !slices.Contains(p.Options, token) {
					return fmt.Errorf("parameter %q maps %q to unknown option %q", p.Key, display, token)
				}
			}
		case ParameterTypeString:
			if p.Pattern != "" {
				if _, err := regexp.Compile(p.Pattern); err != nil {
					return fmt.Errorf("parameter %q has invalid pattern: %w", p.Key, err)
				}
			}
		case ParameterTypeNumber:
			if p.Min != nil && p.Max != nil && *p.Min > *p.Max {
				return fmt.Errorf("parameter %q has min greater than max", p.Key)
			}
		}
	}
	return nil
}
