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
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/altairalabs/stencil/internal/prompt"
	"github.com/altairalabs/stencil/pkg/fetcher"
	"github.com/altairalabs/stencil/pkg/generate"
	"github.com/altairalabs/stencil/pkg/installer"
	"github.com/altairalabs/stencil/pkg/manifest"
	"github.com/altairalabs/stencil/pkg/params"
	"github.com/altairalabs/stencil/pkg/resolver"
	"github.com/altairalabs/stencil/pkg/sandbox"
	"github.com/altairalabs/stencil/pkg/store"
)

func TestExitCode(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, exitOK},
		{"other", errors.New("boom"), exitError},
		{"interrupted", fmt.Errorf("asking: %w", prompt.ErrInterrupted), exitInterrupted},
		{"cancelled", context.Canceled, exitInterrupted},
		{"resolution", &resolver.Error{}, exitResolution},
		{"store not found", fmt.Errorf("%w: http", store.ErrNotFound), exitResolution},
		{"validation", &params.ValidationError{}, exitValidation},
		{"source", &fetcher.SourceFetchError{}, exitSource},
		{"no templates", installer.ErrNoTemplates, exitSource},
		{"sandbox", &sandbox.Error{}, exitSandbox},
		{"commit", &generate.CommitError{}, exitCommit},
		{"manifest conflict", &manifest.ConflictError{}, exitCommit},
		{"target exists", generate.ErrTargetExists, exitCommit},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, exitCode(tt.err))
		})
	}
}
