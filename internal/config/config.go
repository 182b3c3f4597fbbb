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

// Package config provides configuration management for the stencil CLI.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"sigs.k8s.io/yaml"

	"github.com/altairalabs/stencil/internal/fsutil"
	"github.com/altairalabs/stencil/pkg/fetcher"
	"github.com/altairalabs/stencil/pkg/sandbox"
)

// Environment variables read by Load.
const (
	EnvHome            = "STENCIL_HOME"
	EnvDefaultLanguage = "STENCIL_DEFAULT_LANGUAGE"
	EnvGitUsername     = "STENCIL_GIT_USERNAME"
	EnvGitToken        = "STENCIL_GIT_TOKEN"
)

const (
	// FileName is the configuration file inside the home directory.
	FileName = "config.yaml"

	// DefaultRepository holds the default template set.
	DefaultRepository = "https://github.com/altairalabs/stencil-templates"

	// DefaultBranch is the branch of DefaultRepository that is installed.
	DefaultBranch = "main"

	defaultHomeDir = ".stencil"
	storeDir       = "templates"
	lockDir        = "locks"
)

// Settable keys, as used by "stencil config".
const (
	KeyDefaultLanguage   = "default-language"
	KeyDefaultRepository = "default-repository"
	KeyDefaultBranch     = "default-branch"
	KeySandboxTimeout    = "sandbox.timeout"
	KeySandboxCostLimit  = "sandbox.cost-limit"
)

// ErrUnknownKey is returned for a key that is not one of the settable keys.
var ErrUnknownKey = errors.New("unknown configuration key")

var languagePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9+#._-]*$`)

// SandboxOptions bounds template logic evaluation.
type SandboxOptions struct {
	// Timeout is a duration string such as "2s".
	Timeout string `json:"timeout,omitempty"`

	// CostLimit is the CEL cost budget per expression.
	CostLimit uint64 `json:"costLimit,omitempty"`
}

// Options holds all configuration options for the CLI.
type Options struct {
	// DefaultLanguage is used when no --lang is given.
	DefaultLanguage string `json:"defaultLanguage,omitempty"`

	// DefaultRepository is installed by "templates install --defaults".
	DefaultRepository string `json:"defaultRepository,omitempty"`

	// DefaultBranch is the branch of DefaultRepository.
	DefaultBranch string `json:"defaultBranch,omitempty"`

	Sandbox SandboxOptions `json:"sandbox,omitzero"`

	// Home is the stencil home directory. Not persisted.
	Home string `json:"-"`

	// envLanguage comes from STENCIL_DEFAULT_LANGUAGE and wins over
	// DefaultLanguage without being saved.
	envLanguage string

	gitUsername string
	gitToken    string
}

// DefaultOptions returns Options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		DefaultRepository: DefaultRepository,
		DefaultBranch:     DefaultBranch,
	}
}

// Validate checks if the Options are valid.
func (o *Options) Validate() error {
	var errs []error
	if o.DefaultLanguage != "" && !languagePattern.MatchString(o.DefaultLanguage) {
		errs = append(errs, fmt.Errorf("defaultLanguage %q is not a valid language tag", o.DefaultLanguage))
	}
	if o.DefaultBranch != "" && strings.ContainsAny(o.DefaultBranch, " \t\n~^:?*[\\") {
		errs = append(errs, fmt.Errorf("defaultBranch %q is not a valid branch name", o.DefaultBranch))
	}
	if o.Sandbox.Timeout != "" {
		d, err := time.ParseDuration(o.Sandbox.Timeout)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("sandbox.timeout: %w", err))
		case d <= 0:
			errs = append(errs, fmt.Errorf("sandbox.timeout must be positive, got %s", o.Sandbox.Timeout))
		}
	}
	return errors.Join(errs...)
}

// Language returns the effective default language, lowercased.
func (o *Options) Language() string {
	if o.envLanguage != "" {
		return strings.ToLower(o.envLanguage)
	}
	return strings.ToLower(o.DefaultLanguage)
}

// Path is the configuration file location.
func (o *Options) Path() string {
	return filepath.Join(o.Home, FileName)
}

// StoreDir is the template store root.
func (o *Options) StoreDir() string {
	return filepath.Join(o.Home, storeDir)
}

// LockDir holds the commit locks of application directories.
func (o *Options) LockDir() string {
	return filepath.Join(o.Home, lockDir)
}

// SandboxLimits converts the sandbox settings. Validate has already
// rejected malformed durations.
func (o *Options) SandboxLimits() sandbox.Options {
	opts := sandbox.DefaultOptions()
	if d, err := time.ParseDuration(o.Sandbox.Timeout); err == nil && d > 0 {
		opts.Timeout = d
	}
	if o.Sandbox.CostLimit > 0 {
		opts.CostLimit = o.Sandbox.CostLimit
	}
	return opts
}

// GitCredentials returns HTTPS credentials from the environment, or nil.
func (o *Options) GitCredentials() *fetcher.GitCredentials {
	if o.gitToken == "" {
		return nil
	}
	user := o.gitUsername
	if user == "" {
		// Token-only hosts accept any non-empty user name.
		user = "stencil"
	}
	return &fetcher.GitCredentials{Username: user, Password: o.gitToken}
}

// HomeDir returns $STENCIL_HOME or ~/.stencil.
func HomeDir() (string, error) {
	if h := os.Getenv(EnvHome); h != "" {
		return filepath.Abs(h)
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("locating home directory (set %s): %w", EnvHome, err)
	}
	return filepath.Join(home, defaultHomeDir), nil
}

// Load reads the configuration file in the stencil home directory and
// applies environment overrides. A missing file yields DefaultOptions.
func Load() (*Options, error) {
	home, err := HomeDir()
	if err != nil {
		return nil, err
	}
	return LoadFrom(home)
}

// LoadFrom is Load with an explicit home directory.
func LoadFrom(home string) (*Options, error) {
	opts := DefaultOptions()
	opts.Home = home

	data, err := os.ReadFile(opts.Path())
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("reading %s: %w", opts.Path(), err)
	default:
		if err := yaml.UnmarshalStrict(data, &opts); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", opts.Path(), err)
		}
	}

	opts.envLanguage = os.Getenv(EnvDefaultLanguage)
	opts.gitUsername = os.Getenv(EnvGitUsername)
	opts.gitToken = os.Getenv(EnvGitToken)

	if err := opts.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", opts.Path(), err)
	}
	if opts.envLanguage != "" && !languagePattern.MatchString(opts.envLanguage) {
		return nil, fmt.Errorf("%s %q is not a valid language tag", EnvDefaultLanguage, opts.envLanguage)
	}
	return &opts, nil
}

// Save writes the persisted fields atomically.
func (o *Options) Save() error {
	if err := o.Validate(); err != nil {
		return err
	}
	data, err := yaml.Marshal(o)
	if err != nil {
		return err
	}
	return fsutil.WriteFileAtomic(o.Path(), data, 0o644)
}

// Keys lists the settable keys in sorted order.
func Keys() []string {
	keys := []string{
		KeyDefaultLanguage,
		KeyDefaultRepository,
		KeyDefaultBranch,
		KeySandboxTimeout,
		KeySandboxCostLimit,
	}
	sort.Strings(keys)
	return keys
}

// Get returns the persisted value of key; unset keys return "".
func (o *Options) Get(key string) (string, error) {
	switch key {
	case KeyDefaultLanguage:
		return o.DefaultLanguage, nil
	case KeyDefaultRepository:
		return o.DefaultRepository, nil
	case KeyDefaultBranch:
		return o.DefaultBranch, nil
	case KeySandboxTimeout:
		return o.Sandbox.Timeout, nil
	case KeySandboxCostLimit:
		if o.Sandbox.CostLimit == 0 {
			return "", nil
		}
		return strconv.FormatUint(o.Sandbox.CostLimit, 10), nil
	}
	return "", fmt.Errorf("%w %q (known keys: %s)", ErrUnknownKey, key, strings.Join(Keys(), ", "))
}

// Set updates key and validates the result. Call Save to persist it.
func (o *Options) Set(key, value string) error {
	next := *o
	switch key {
	case KeyDefaultLanguage:
		next.DefaultLanguage = strings.ToLower(value)
	case KeyDefaultRepository:
		next.DefaultRepository = value
	case KeyDefaultBranch:
		next.DefaultBranch = value
	case KeySandboxTimeout:
		next.Sandbox.Timeout = value
	case KeySandboxCostLimit:
		n, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return fmt.Errorf("%s must be a positive integer: %w", key, err)
		}
		next.Sandbox.CostLimit = n
	default:
		return fmt.Errorf("%w %q (known keys: %s)", ErrUnknownKey, key, strings.Join(Keys(), ", "))
	}
	if err := next.Validate(); err != nil {
		return err
	}
	*o = next
	return nil
}

// Unset restores the default value of key.
func (o *Options) Unset(key string) error {
	defaults := DefaultOptions()
	switch key {
	case KeyDefaultLanguage:
		o.DefaultLanguage = defaults.DefaultLanguage
	case KeyDefaultRepository:
		o.DefaultRepository = defaults.DefaultRepository
	case KeyDefaultBranch:
		o.DefaultBranch = defaults.DefaultBranch
	case KeySandboxTimeout:
		o.Sandbox.Timeout = defaults.Sandbox.Timeout
	case KeySandboxCostLimit:
		o.Sandbox.CostLimit = defaults.Sandbox.CostLimit
	default:
		return fmt.Errorf("%w %q (known keys: %s)", ErrUnknownKey, key, strings.Join(Keys(), ", "))
	}
	return nil
}
