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
	"os"
	"path/filepath"
	"strings"

	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/spf13/cobra"

	"github.com/altairalabs/stencil/pkg/generate"
	"github.com/altairalabs/stencil/pkg/manifest"
	"github.com/altairalabs/stencil/pkg/params"
	"github.com/altairalabs/stencil/pkg/resolver"
	"github.com/altairalabs/stencil/pkg/template"
)

type newOptions struct {
	language       string
	keyword        string
	empty          bool
	acceptDefaults bool
	values         []string
	output         string
	addTo          string
}

func newNewCommand(a *app) *cobra.Command {
	opts := &newOptions{}
	cmd := &cobra.Command{
		Use:   "new [TEMPLATE] [NAME]",
		Short: "Create an application from a template",
		Long: `Create a new application from an installed template.

With --empty the application gets a manifest and no components; without a
TEMPLATE the built-in "bare" template is used, so the only argument is NAME.
With --add-to the template's components are added to an existing application.`,
		Args: cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNew(cmd.Context(), a, opts, args)
		},
	}
	addGenerateFlags(cmd, opts)
	cmd.Flags().BoolVar(&opts.empty, "empty", false, "Create the application manifest without components")
	cmd.Flags().StringVar(&opts.addTo, "add-to", "",
		"Add the template's components to the application with this manifest (or directory)")
	cmd.MarkFlagsMutuallyExclusive("empty", "add-to")
	return cmd
}

func newAddCommand(a *app) *cobra.Command {
	opts := &newOptions{}
	cmd := &cobra.Command{
		Use:   "add [TEMPLATE] [NAME]",
		Short: "Add a component to an existing application",
		Long:  "Add the components of a template to the application in the current directory.",
		Args:  cobra.MaximumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNew(cmd.Context(), a, opts, args)
		},
	}
	addGenerateFlags(cmd, opts)
	cmd.Flags().StringVarP(&opts.addTo, "to", "f", manifest.FileName, "Manifest (or directory) of the application")
	return cmd
}

func addGenerateFlags(cmd *cobra.Command, opts *newOptions) {
	f := cmd.Flags()
	f.StringVarP(&opts.language, "lang", "l", "", "Template language")
	f.StringVar(&opts.keyword, "keyword", "", "Only consider templates with this keyword")
	f.StringArrayVarP(&opts.values, "value", "v", nil, "Parameter value as KEY=VALUE (repeatable)")
	f.StringVarP(&opts.output, "output", "o", "",
		"Directory to create (default NAME); with --add-to, where component files go inside the application")
	f.BoolVar(&opts.acceptDefaults, "accept-defaults", false, "Use parameter defaults without prompting")
}

func runNew(ctx context.Context, a *app, opts *newOptions, args []string) error {
	values, err := parseValues(opts.values)
	if err != nil {
		return err
	}

	mode := generate.SmolApp
	var appTrigger string
	switch {
	case opts.addTo != "":
		mode = generate.IncrementalAdd
		if appTrigger, err = readAppTrigger(opts.addTo); err != nil {
			return err
		}
	case opts.empty:
		mode = generate.BareApp
	}

	var templateName, name string
	switch {
	case len(args) == 1 && mode == generate.BareApp:
		name = args[0]
	case len(args) == 1:
		templateName = args[0]
	case len(args) == 2:
		templateName, name = args[0], args[1]
	}

	var tmpl template.Template
	if mode == generate.BareApp && templateName == "" {
		tmpl = generate.BareTemplate()
	} else {
		st, err := a.openStore(ctx)
		if err != nil {
			return err
		}
		defer func() { _ = st.Close() }()

		tmpl, err = a.resolveTemplate(ctx, st, resolver.Query{
			Name:               templateName,
			Language:           opts.language,
			DefaultLanguage:    a.cfg.Language(),
			Keyword:            opts.keyword,
			Interactive:        a.interactive(),
			ExistingAppTrigger: appTrigger,
		})
		if err != nil {
			return err
		}
	}

	if name == "" {
		if name, err = a.askName(ctx, mode); err != nil {
			return err
		}
	}
	if values, err = a.collectParameters(ctx, tmpl, values, opts.acceptDefaults); err != nil {
		return err
	}

	req := generate.Request{
		Template: tmpl,
		Mode:     mode,
		Values:   values,
		Name:     name,
		Target:   opts.output,
		Authors:  gitAuthor(),
	}
	if mode == generate.IncrementalAdd {
		req.Target = opts.addTo
		req.OutputPath = opts.output
	} else if req.Target == "" {
		req.Target = name
	}

	engine, err := a.newEngine()
	if err != nil {
		return err
	}
	res, err := engine.Generate(ctx, req)
	if err != nil {
		return err
	}
	a.log.V(1).Info("generation finished", "request_id", res.RequestID, "files", len(res.Files))

	if mode == generate.IncrementalAdd {
		a.printf("Added %s to %s from %s\n", strings.Join(res.Components, ", "), res.Root, describe(tmpl))
	} else {
		a.printf("Created %s from %s\n", res.Root, describe(tmpl))
	}
	if res.Message != "" {
		a.printf("\n%s\n", res.Message)
	}
	return nil
}

// parseValues parses repeated KEY=VALUE flags; later values win.
func parseValues(raw []string) (map[string]string, error) {
	values := make(map[string]string, len(raw))
	for _, kv := range raw {
		k, v, ok := strings.Cut(kv, "=")
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("invalid --value %q: expected KEY=VALUE", kv)
		}
		values[k] = v
	}
	return values, nil
}

// readAppTrigger returns the trigger type of the application being extended.
func readAppTrigger(target string) (string, error) {
	p := target
	if info, err := os.Stat(p); err == nil && info.IsDir() {
		p = filepath.Join(p, manifest.FileName)
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return "", fmt.Errorf("reading application manifest: %w", err)
	}
	m, err := manifest.Parse(data)
	if err != nil {
		return "", fmt.Errorf("%s: %w", p, err)
	}
	return m.AppTriggerType(), nil
}

func (a *app) askName(ctx context.Context, mode generate.Mode) (string, error) {
	label := "Project name"
	if mode == generate.IncrementalAdd {
		label = "Component name"
	}
	if !a.interactive() {
		return "", &params.ValidationError{Fields: []params.FieldError{{
			Key:    generate.ParamProjectName,
			Label:  label,
			Reason: "is required; pass it as the NAME argument",
		}}}
	}
	return a.prompter.Input(ctx, label, "", func(s string) (string, error) {
		s = strings.TrimSpace(s)
		return s, generate.CheckName(s)
	})
}

// gitAuthor returns "Name <email>" from the global Git configuration.
func gitAuthor() string {
	cfg, err := gitconfig.LoadConfig(gitconfig.GlobalScope)
	if err != nil {
		return ""
	}
	switch {
	case cfg.User.Name != "" && cfg.User.Email != "":
		return fmt.Sprintf("%s <%s>", cfg.User.Name, cfg.User.Email)
	case cfg.User.Name != "":
		return cfg.User.Name
	}
	return cfg.User.Email
}

func describe(t template.Template) string {
	if t.LanguageNeutral() {
		return t.Name
	}
	return fmt.Sprintf("%s (%s)", t.Name, t.Language)
}

var errNoChoice = errors.New("nothing to choose from")
