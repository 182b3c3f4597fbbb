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
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/altairalabs/stencil/internal/config"
)

func newConfigCommand(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Read and change stencil settings",
		Long: fmt.Sprintf(`Read and change the settings stored in $%s/%s.

Keys: %s`, config.EnvHome, config.FileName, strings.Join(config.Keys(), ", ")),
	}

	get := &cobra.Command{
		Use:   "get [KEY]",
		Short: "Print a setting, or every setting without KEY",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 1 {
				v, err := a.cfg.Get(args[0])
				if err != nil {
					return err
				}
				a.printf("%s\n", v)
				return nil
			}
			tw := tabwriter.NewWriter(a.stdout, 0, 0, 2, ' ', 0)
			for _, k := range config.Keys() {
				v, _ := a.cfg.Get(k)
				_, _ = fmt.Fprintf(tw, "%s\t%s\n", k, v)
			}
			return tw.Flush()
		},
	}

	set := &cobra.Command{
		Use:   "set KEY VALUE",
		Short: "Change a setting",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.cfg.Set(args[0], args[1]); err != nil {
				return err
			}
			return a.cfg.Save()
		},
	}

	unset := &cobra.Command{
		Use:   "unset KEY",
		Short: "Restore the default of a setting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.cfg.Unset(args[0]); err != nil {
				return err
			}
			return a.cfg.Save()
		},
	}

	cmd.AddCommand(get, set, unset)
	return cmd
}
