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

package main

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/altairalabs/stencil/internal/prompt"
	"github.com/altairalabs/stencil/pkg/generate"
	"github.com/altairalabs/stencil/pkg/params"
	"github.com/altairalabs/stencil/pkg/resolver"
	"github.com/altairalabs/stencil/pkg/store"
	"github.com/altairalabs/stencil/pkg/template"
)

// resolveTemplate turns a resolver outcome into a template, asking the user
// when the outcome needs a decision and prompts are allowed.
func (a *app) resolveTemplate(ctx context.Context, st *store.Store, q resolver.Query) (template.Template, error) {
	offered := false
	for {
		snapshot, err := st.List(ctx, store.Filter{})
		if err != nil {
			return template.Template{}, err
		}
		out := resolver.Resolve(snapshot, q)
		a.log.V(1).Info("template resolved", "kind", out.Kind.String(), "candidates", len(out.Candidates))

		if out.Kind == resolver.Unique {
			return *out.Template, nil
		}
		if !out.NeedsPrompt() {
			return template.Template{}, out.Err()
		}

		if out.Kind == resolver.NotFound {
			if offered {
				return template.Template{}, out.Err()
			}
			offered = true
			install, err := a.prompter.Confirm(ctx, fmt.Sprintf(
				"No templates are installed. Install the default templates from %s?", a.cfg.DefaultRepository), true)
			if err != nil {
				return template.Template{}, err
			}
			if !install {
				return template.Template{}, out.Err()
			}
			set, err := a.newInstaller(st, store.KeepBoth, a.promptClash).InstallDefaults(ctx)
			if err != nil {
				return template.Template{}, err
			}
			a.reportInstall(set)
			continue
		}

		if out.Kind == resolver.LanguageMismatch {
			_, _ = fmt.Fprintln(a.stderr, out.Err())
		}
		if len(out.Candidates) == 0 {
			return template.Template{}, errNoChoice
		}
		i, err := a.prompter.Select(ctx, selectTitle(out), candidateOptions(out))
		if err != nil {
			return template.Template{}, err
		}
		return out.Candidates[i], nil
	}
}

func selectTitle(out resolver.Outcome) string {
	switch {
	case out.Kind == resolver.LanguageMismatch:
		return fmt.Sprintf("Choose one of the available languages for %s", out.Query.Name)
	case out.Reason == resolver.ReasonConfirmLanguage:
		return fmt.Sprintf("Choose a language for %s", out.Query.Name)
	case out.Reason == resolver.ReasonProviders:
		return fmt.Sprintf("%s is installed from several sources; choose one", out.Query.Name)
	}
	return "Choose a template"
}

func candidateOptions(out resolver.Outcome) []prompt.Option {
	perLanguage := make(map[string]int)
	for _, c := range out.Candidates {
		perLanguage[c.Language]++
	}
	options := make([]prompt.Option, len(out.Candidates))
	for i, c := range out.Candidates {
		var opt prompt.Option
		switch {
		case out.Reason == resolver.ReasonProviders:
			opt = prompt.Option{Label: c.Provenance.String(), Detail: c.Description}
		case out.Reason == resolver.ReasonBrowse:
			opt = prompt.Option{Label: describe(c), Detail: c.Description}
		default:
			opt = prompt.Option{Label: languageLabel(c.Language), Detail: c.Description}
			if perLanguage[c.Language] > 1 {
				opt.Detail = strings.TrimSpace(opt.Detail + " [" + c.Provenance.String() + "]")
			}
		}
		options[i] = opt
	}
	return options
}

// promptClash asks how to install a template whose name and language are
// already installed from another source.
func (a *app) promptClash(ctx context.Context, incoming template.Template, existing []template.Template) (store.ClashPolicy, error) {
	sources := make([]string, len(existing))
	for i, e := range existing {
		sources[i] = e.Provenance.String()
	}
	title := fmt.Sprintf("%s is already installed from %s", describe(incoming), strings.Join(sources, ", "))
	i, err := a.prompter.Select(ctx, title, []prompt.Option{
		{Label: "Keep both", Detail: "install alongside; choose between them with --lang or at the prompt"},
		{Label: "Overwrite", Detail: "replace the installed copies"},
		{Label: "Rename", Detail: "install the new template under another name"},
	})
	if err != nil {
		return store.ClashPolicy{}, err
	}
	switch i {
	case 1:
		return store.Overwrite, nil
	case 2:
		name, err := a.prompter.Input(ctx, "New name", "", func(s string) (string, error) {
			s = strings.ToLower(strings.TrimSpace(s))
			if s == incoming.Name {
				return "", errors.New("must differ from the current name")
			}
			return s, generate.CheckName(s)
		})
		if err != nil {
			return store.ClashPolicy{}, err
		}
		return store.RenameTo(name), nil
	}
	return store.KeepBoth, nil
}

// collectParameters asks for every declared parameter that has no value yet.
// With acceptDefaults only parameters without a default are asked.
func (a *app) collectParameters(ctx context.Context, tmpl template.Template, values map[string]string, acceptDefaults bool) (map[string]string, error) {
	if !a.interactive() {
		return values, nil
	}
	for _, def := range tmpl.Parameters {
		if def.Key == generate.ParamProjectName || def.Key == generate.ParamProjectNameSnake {
			continue
		}
		if _, ok := values[def.Key]; ok {
			continue
		}
		if acceptDefaults && def.HasDefault() {
			continue
		}
		v, err := a.askParameter(ctx, def)
		if err != nil {
			return nil, err
		}
		values[def.Key] = v
	}
	return values, nil
}

func (a *app) askParameter(ctx context.Context, def template.ParameterDefinition) (string, error) {
	fallback := ""
	if def.HasDefault() {
		fallback = *def.Default
	}

	switch def.Type {
	case template.ParameterTypeEnum:
		choices := def.Choices()
		options := make([]prompt.Option, len(choices))
		for i, c := range choices {
			options[i] = prompt.Option{Label: c}
			if c == fallback || def.Mapping[c] == fallback {
				options[i].Detail = "default"
			}
		}
		i, err := a.prompter.Select(ctx, def.DisplayLabel(), options)
		if err != nil {
			return "", err
		}
		return choices[i], nil

	case template.ParameterTypeBoolean:
		yes := false
		if fallback != "" {
			if v, err := params.Check(def, fallback); err == nil {
				yes = v == "true"
			}
		}
		ok, err := a.prompter.Confirm(ctx, def.DisplayLabel()+"?", yes)
		if err != nil {
			return "", err
		}
		if ok {
			return "true", nil
		}
		return "false", nil
	}

	return a.prompter.Input(ctx, def.DisplayLabel(), fallback, func(s string) (string, error) {
		if s == "" && !def.Required {
			return "", nil
		}
		if s == "" {
			return "", errors.New("is required")
		}
		return params.Check(def, s)
	})
}

func languageLabel(language string) string {
	if language == "" {
		return "any"
	}
	return language
}
