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
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/altairalabs/stencil/pkg/installer"
	"github.com/altairalabs/stencil/pkg/template"
)

const (
	formatTable = "table"
	formatJSON  = "json"
)

func writeTemplatesJSON(w io.Writer, templates []template.Template) error {
	if templates == nil {
		templates = []template.Template{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(templates)
}

// writeTemplatesTable prints one row per template. The source column is
// shown when a name is installed more than once for the same language, or
// when verbose is set.
func writeTemplatesTable(w io.Writer, templates []template.Template, verbose bool) error {
	seen := make(map[string]int)
	for _, t := range templates {
		seen[t.Name+"\x00"+t.Language]++
	}
	withSource := verbose
	for _, n := range seen {
		if n > 1 {
			withSource = true
		}
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	header := []string{"NAME", "LANGUAGE", "DESCRIPTION"}
	if withSource {
		header = append(header, "SOURCE")
	}
	if verbose {
		header = append(header, "ID")
	}
	_, _ = fmt.Fprintln(tw, strings.Join(header, "\t"))
	for _, t := range templates {
		row := []string{t.Name, languageLabel(t.Language), t.Description}
		if withSource {
			row = append(row, t.Provenance.String())
		}
		if verbose {
			row = append(row, t.ID)
		}
		_, _ = fmt.Fprintln(tw, strings.Join(row, "\t"))
	}
	return tw.Flush()
}

func (a *app) reportInstall(set *installer.InstalledSet) {
	for _, skipped := range set.Skipped {
		a.warnf("skipped %v", skipped)
	}
	for _, c := range set.Clashes {
		a.warnf("%s", c)
	}

	a.printf("Installed %d template(s) from %s\n", set.Count(), set.Source)
	tw := tabwriter.NewWriter(a.stdout, 0, 0, 2, ' ', 0)
	for _, t := range set.Installed {
		note := ""
		if t.Replaced {
			note = "(updated)"
		}
		_, _ = fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", t.Name, languageLabel(t.Language), t.Description, note)
	}
	for _, t := range set.Removed {
		_, _ = fmt.Fprintf(tw, "  %s\t%s\t%s\t%s\n", t.Name, languageLabel(t.Language), t.Description, "(removed)")
	}
	_ = tw.Flush()
}
