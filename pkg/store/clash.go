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

package store

import (
	"fmt"
	"strings"

	"github.com/altairalabs/stencil/pkg/template"
)

type clashAction int

const (
	actionKeepBoth clashAction = iota
	actionRename
	actionOverwrite
)

// ClashPolicy decides what Put does when an installed template has the same
// name and language but comes from a different source.
type ClashPolicy struct {
	action  clashAction
	newName string
}

var (
	// KeepBoth retains the existing template next to the incoming one.
	KeepBoth = ClashPolicy{action: actionKeepBoth}

	// Overwrite replaces every clashing template in one transaction.
	Overwrite = ClashPolicy{action: actionOverwrite}
)

// RenameTo installs the incoming template under newName.
func RenameTo(newName string) ClashPolicy {
	return ClashPolicy{action: actionRename, newName: newName}
}

// NewName returns the rename target, or empty for other policies.
func (p ClashPolicy) NewName() string {
	return p.newName
}

func (p ClashPolicy) String() string {
	switch p.action {
	case actionOverwrite:
		return "overwrite"
	case actionRename:
		return "rename:" + p.newName
	default:
		return "keep-both"
	}
}

// ParseClashPolicy parses keep-both, overwrite or rename:NEW.
func ParseClashPolicy(s string) (ClashPolicy, error) {
	switch {
	case s == "" || s == "keep-both":
		return KeepBoth, nil
	case s == "overwrite":
		return Overwrite, nil
	case strings.HasPrefix(s, "rename:"):
		name := strings.TrimPrefix(s, "rename:")
		if name == "" {
			return ClashPolicy{}, fmt.Errorf("rename policy needs a new name")
		}
		return RenameTo(name), nil
	}
	return ClashPolicy{}, fmt.Errorf("unknown clash policy %q (want keep-both, overwrite or rename:NEW)", s)
}

// Clash records a name clash met during Put and how it was resolved.
type Clash struct {
	// Incoming is the template being installed, under its original name.
	Incoming template.Template

	// Existing are the installed templates it clashed with.
	Existing []template.Template

	// Resolution is the policy that was applied.
	Resolution ClashPolicy
}

func (c Clash) String() string {
	return fmt.Sprintf("%s (%s) clashed with %d installed template(s): %s",
		c.Incoming.Name, languageLabel(c.Incoming.Language), len(c.Existing), c.Resolution)
}

func languageLabel(language string) string {
	if language == "" {
		return "any language"
	}
	return language
}
