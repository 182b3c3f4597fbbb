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

// Process exit codes.
const (
	exitOK          = 0
	exitError       = 1
	exitResolution  = 2
	exitValidation  = 3
	exitSource      = 4
	exitCommit      = 5
	exitSandbox     = 6
	exitInterrupted = 130
)

// exitCode maps an error returned by a command to the process exit code.
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}

	var (
		resErr    *resolver.Error
		valErr    *params.ValidationError
		fetchErr  *fetcher.SourceFetchError
		sbErr     *sandbox.Error
		commitErr *generate.CommitError
		conflict  *manifest.ConflictError
	)
	switch {
	case errors.Is(err, prompt.ErrInterrupted), errors.Is(err, context.Canceled):
		return exitInterrupted
	case errors.As(err, &resErr), errors.Is(err, store.ErrNotFound):
		return exitResolution
	case errors.As(err, &valErr):
		return exitValidation
	case errors.As(err, &fetchErr), errors.Is(err, installer.ErrNoTemplates):
		return exitSource
	case errors.As(err, &sbErr):
		return exitSandbox
	case errors.As(err, &commitErr), errors.As(err, &conflict),
		errors.Is(err, generate.ErrTargetExists):
		return exitCommit
	}
	return exitError
}
