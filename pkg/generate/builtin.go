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

package generate

import (
	"embed"
	"io/fs"

	"github.com/altairalabs/stencil/pkg/template"
)

// BareTemplateName is the built-in template behind "new --empty".
const BareTemplateName = "bare"

//go:embed builtin/bare/content
var builtinFS embed.FS

// BareTemplate returns the built-in template that creates an application
// manifest with a trigger and no components.
func BareTemplate() template.Template {
	content, err := fs.Sub(builtinFS, "builtin/bare/content")
	if err != nil {
		panic(err)
	}
	defaultTrigger := "http"
	noDescription := ""
	return template.Template{
		Name:        BareTemplateName,
		Description: "Empty application with a trigger and no components",
		Trigger:     template.TriggerAny,
		Parameters: []template.ParameterDefinition{
			{
				Key:      "trigger",
				Type:     template.ParameterTypeEnum,
				Label:    "Trigger",
				Required: true,
				Default:  &defaultTrigger,
				Options:  []string{"http", "redis"},
				Mapping:  map[string]string{"HTTP": "http", "Redis": "redis"},
			},
			{
				Key:     "description",
				Type:    template.ParameterTypeString,
				Label:   "Description",
				Default: &noDescription,
			},
		},
		Provenance: template.Provenance{Kind: template.SourceBuiltin},
		Files:      content,
	}
}
