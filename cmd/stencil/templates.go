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
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/altairalabs/stencil/internal/prompt"
	"github.com/altairalabs/stencil/pkg/installer"
	"github.com/altairalabs/stencil/pkg/store"
	"github.com/altairalabs/stencil/pkg/template"
)

func newTemplatesCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "templates",
		Aliases: []string{"template"},
		Short:   "Manage installed templates",
	}
	cmd.AddCommand(
		newTemplatesInstallCommand(a),
		newTemplatesListCommand(a),
		newTemplatesUpdateCommand(a),
		newTemplatesRemoveCommand(a),
	)
	return cmd
}

func newTemplatesInstallCommand(a *app) *cobra.Command {
	var (
		gitURL, branch, subpath, dir string
		defaults                     bool
		onClash                      string
	)
	cmd := &cobra.Command{
		Use:   "install",
		Short: "Install templates from a Git repository or a directory",
		Example: `  stencil templates install --git https://github.com/altairalabs/stencil-templates
  stencil templates install --git git@example.com:team/templates.git --branch v2 --subpath scaffolds
  stencil templates install --dir ./my-templates --on-clash rename:http-local
  stencil templates install --defaults`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			policy := store.KeepBoth
			var resolve installer.ClashResolver
			switch {
			case onClash != "":
				p, err := store.ParseClashPolicy(onClash)
				if err != nil {
					return err
				}
				policy = p
			case a.interactive():
				resolve = a.promptClash
			}

			st, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()
			inst := a.newInstaller(st, policy, resolve)

			var set *installer.InstalledSet
			switch {
			case gitURL != "":
				set, err = inst.InstallFromGit(ctx, gitURL, branch, subpath)
			case dir != "":
				set, err = inst.InstallFromDirectory(ctx, dir, subpath)
			default:
				set, err = inst.InstallDefaults(ctx)
			}
			if err != nil {
				return err
			}
			a.reportInstall(set)
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVar(&gitURL, "git", "", "Git repository URL")
	f.StringVar(&branch, "branch", "", "Branch to install from (default: the remote HEAD)")
	f.StringVar(&subpath, "subpath", "",
		"Directory inside the source holding the templates (default: templates for Git, the root for --dir)")
	f.StringVar(&dir, "dir", "", "Local directory")
	f.BoolVar(&defaults, "defaults", false, "Install the default template repository")
	f.StringVar(&onClash, "on-clash", "",
		"What to do when a template is already installed from another source: keep-both, overwrite or rename:NEW")
	cmd.MarkFlagsMutuallyExclusive("git", "dir", "defaults")
	cmd.MarkFlagsOneRequired("git", "dir", "defaults")
	cmd.MarkFlagsMutuallyExclusive("branch", "dir")
	return cmd
}

func newTemplatesListCommand(a *app) *cobra.Command {
	var (
		language, keyword, format string
		verbose                   bool
	)
	cmd := &cobra.Command{
		Use:   "list [NAME]",
		Short: "List installed templates",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if format != formatTable && format != formatJSON {
				return fmt.Errorf("unknown output format %q (use %s or %s)", format, formatTable, formatJSON)
			}

			st, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			f := store.Filter{Keyword: keyword}
			if len(args) == 1 {
				f.Name = strings.ToLower(args[0])
			}
			if cmd.Flags().Changed("lang") {
				f.Languages = []string{language}
			}
			templates, err := st.List(ctx, f)
			if err != nil {
				return err
			}

			if format == formatJSON {
				return writeTemplatesJSON(a.stdout, templates)
			}
			if len(templates) == 0 {
				a.printf("No templates installed. Install some with 'stencil templates install --defaults'.\n")
				return nil
			}
			return writeTemplatesTable(a.stdout, templates, verbose)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&language, "lang", "l", "", "Only list templates for this language (empty for language-neutral)")
	f.StringVar(&keyword, "keyword", "", "Only list templates with this keyword")
	f.StringVarP(&format, "output", "o", formatTable, "Output format: table or json")
	f.BoolVar(&verbose, "verbose", false, "Show the source of every template")
	return cmd
}

func newTemplatesUpdateCommand(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "update NAME",
		Short: "Refresh templates from the Git sources they were installed from",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			res, err := a.newInstaller(st, store.KeepBoth, nil).Update(ctx, strings.ToLower(args[0]))
			if res != nil {
				for _, t := range res.NotUpdatable {
					a.warnf("%s was installed from directory %s; reinstall it with 'stencil templates install --dir %s'",
						describe(t), t.Provenance.Path, t.Provenance.Path)
				}
			}
			if err != nil {
				if errors.Is(err, installer.ErrNotUpdatable) {
					return fmt.Errorf("%s: %w", args[0], err)
				}
				return err
			}
			for _, set := range res.Sources {
				a.reportInstall(set)
			}
			return nil
		},
	}
}

func newTemplatesRemoveCommand(a *app) *cobra.Command {
	var language, id string
	cmd := &cobra.Command{
		Use:     "remove NAME",
		Aliases: []string{"uninstall"},
		Short:   "Remove an installed template",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = st.Close() }()

			name := strings.ToLower(args[0])
			var lang *string
			if cmd.Flags().Changed("lang") {
				lang = store.Lang(language)
			}
			matches, err := st.Get(ctx, name, lang, "")
			if err != nil {
				return err
			}
			if id != "" {
				matches = withID(matches, id)
			}

			var target template.Template
			switch {
			case len(matches) == 0:
				return fmt.Errorf("%w: %s", store.ErrNotFound, name)
			case len(matches) == 1:
				target = matches[0]
			case a.interactive():
				options := make([]prompt.Option, len(matches))
				for i, m := range matches {
					options[i] = prompt.Option{Label: describe(m), Detail: m.Provenance.String()}
				}
				i, err := a.prompter.Select(ctx, fmt.Sprintf("Several templates are named %s; choose one to remove", name), options)
				if err != nil {
					return err
				}
				target = matches[i]
			default:
				lines := make([]string, len(matches))
				for i, m := range matches {
					lines[i] = fmt.Sprintf("  %s  %s  %s", m.ID, languageLabel(m.Language), m.Provenance.String())
				}
				return fmt.Errorf("several templates are named %s; choose one with --lang or --id:\n%s",
					name, strings.Join(lines, "\n"))
			}

			if err := st.Remove(ctx, target.ID); err != nil {
				return err
			}
			a.printf("Removed %s from %s\n", describe(target), target.Provenance.String())
			return nil
		},
	}
	cmd.Flags().StringVarP(&language, "lang", "l", "", "Language of the template to remove")
	cmd.Flags().StringVar(&id, "id", "", "ID of the template to remove, as shown by 'templates list --verbose'")
	return cmd
}

func withID(ts []template.Template, id string) []template.Template {
	for _, t := range ts {
		if t.ID == id {
			return []template.Template{t}
		}
	}
	return nil
}
