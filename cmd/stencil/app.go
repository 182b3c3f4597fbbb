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
	"fmt"
	"io"
	"os"

	"github.com/go-logr/logr"

	"github.com/altairalabs/stencil/internal/config"
	"github.com/altairalabs/stencil/internal/prompt"
	"github.com/altairalabs/stencil/pkg/generate"
	"github.com/altairalabs/stencil/pkg/installer"
	"github.com/altairalabs/stencil/pkg/render"
	"github.com/altairalabs/stencil/pkg/sandbox"
	"github.com/altairalabs/stencil/pkg/store"
)

// app holds what every command shares.
type app struct {
	log    logr.Logger
	stdout io.Writer
	stderr io.Writer

	// prompter asks questions when terminal is true and --no-interaction
	// is not set.
	prompter prompt.Prompter
	terminal bool

	// home overrides the stencil home directory; empty means config.Load.
	home string

	cfg           *config.Options
	noInteraction bool
}

func newApp(log logr.Logger) *app {
	return &app{
		log:      log,
		stdout:   os.Stdout,
		stderr:   os.Stderr,
		prompter: prompt.NewTerminal(os.Stdin, os.Stderr),
		terminal: isTerminal(os.Stdin) && isTerminal(os.Stderr),
	}
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	return err == nil && info.Mode()&os.ModeCharDevice != 0
}

// interactive reports whether prompts may be shown.
func (a *app) interactive() bool {
	return a.terminal && !a.noInteraction && a.prompter != nil
}

func (a *app) loadConfig() error {
	var (
		cfg *config.Options
		err error
	)
	if a.home != "" {
		cfg, err = config.LoadFrom(a.home)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.log.V(1).Info("configuration loaded", "home", cfg.Home)
	return nil
}

func (a *app) openStore(ctx context.Context) (*store.Store, error) {
	s, err := store.Open(ctx, a.log, a.cfg.StoreDir())
	if err != nil {
		return nil, fmt.Errorf("failed to open template store: %w", err)
	}
	return s, nil
}

func (a *app) newInstaller(catalog installer.Catalog, policy store.ClashPolicy, onClash installer.ClashResolver) *installer.Installer {
	return installer.New(a.log, catalog, installer.Options{
		Policy:            policy,
		OnClash:           onClash,
		Credentials:       a.cfg.GitCredentials(),
		DefaultRepository: a.cfg.DefaultRepository,
		DefaultBranch:     a.cfg.DefaultBranch,
	})
}

func (a *app) newEngine() (*generate.Engine, error) {
	sb, err := sandbox.New(a.log, a.cfg.SandboxLimits())
	if err != nil {
		return nil, err
	}
	return generate.New(a.log, render.NewRenderer(), sb, generate.WithLockDir(a.cfg.LockDir())), nil
}

func (a *app) printf(format string, args ...any) {
	_, _ = fmt.Fprintf(a.stdout, format, args...)
}

func (a *app) warnf(format string, args ...any) {
	_, _ = fmt.Fprintf(a.stderr, "Warning: "+format+"\n", args...)
}
