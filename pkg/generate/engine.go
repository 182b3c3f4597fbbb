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

// Package generate turns a template into a new application or adds its
// components to an existing one. Every request is built in a private stage
// next to the target and applied in a single commit step; a failure before
// the commit leaves the target untouched.
package generate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/go-logr/logr"
	"github.com/google/uuid"

	"github.com/altairalabs/stencil/pkg/logctx"
	"github.com/altairalabs/stencil/pkg/manifest"
	"github.com/altairalabs/stencil/pkg/params"
	"github.com/altairalabs/stencil/pkg/sandbox"
	"github.com/altairalabs/stencil/pkg/template"
)

// Built-in parameters available to every template without declaration.
const (
	ParamProjectName      = "project-name"
	ParamProjectNameSnake = "project-name-snake"
	ParamOutputPath       = "output-path"
	ParamAuthors          = "authors"
)

// Stage names, as logged.
const (
	stageResolveInputs      = "resolve-inputs"
	stageValidateParameters = "validate-parameters"
	stageStage              = "stage"
	stageRender             = "render"
	stagePreLogic           = "pre-logic"
	stageFilter             = "filter"
	stageCommit             = "commit"
	stagePostLogic          = "post-logic"
)

var projectNamePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_-]*$`)

var errInvalidName = errors.New("must start with a letter and contain only letters, digits, '-' and '_'")

var (
	// ErrTargetExists is returned when a new application's directory exists
	// and is not empty.
	ErrTargetExists = errors.New("target directory already exists and is not empty")

	// ErrNoManifest is returned when a template renders no stencil.yaml.
	ErrNoManifest = errors.New("template has no " + manifest.FileName)

	// ErrNoComponents is returned when a template added to an application
	// defines no component.
	ErrNoComponents = errors.New("template defines no components")
)

// Mode selects what a request produces.
type Mode int

const (
	// SmolApp creates an application with the template's manifest and content.
	SmolApp Mode = iota
	// BareApp creates an application manifest without components or content.
	BareApp
	// IncrementalAdd adds the template's components to an existing application.
	IncrementalAdd
)

func (m Mode) String() string {
	switch m {
	case BareApp:
		return "bare"
	case IncrementalAdd:
		return "add"
	default:
		return "smol"
	}
}

// Renderer renders one content file with the resolved parameters.
type Renderer interface {
	Render(name string, content []byte, params map[string]string) ([]byte, error)
}

// LogicRunner runs template logic.
type LogicRunner interface {
	RunPre(ctx context.Context, logic *template.Logic, params map[string]string, files []string) (*sandbox.PreResult, error)
	RunPost(ctx context.Context, logic *template.Logic, params map[string]string, files []string) (string, error)
}

// Request is one generation request.
type Request struct {
	Template template.Template
	Mode     Mode

	// Values are the user-supplied parameter values.
	Values map[string]string

	// Name is the project name for new applications and the component name
	// for IncrementalAdd.
	Name string

	// Target is the application directory to create, or for IncrementalAdd
	// the existing manifest (or the directory holding it).
	Target string

	// OutputPath is where IncrementalAdd places component content, relative
	// to the application. Defaults to Name.
	OutputPath string

	// Authors fills the authors built-in parameter.
	Authors string
}

// Result describes a committed request.
type Result struct {
	// Root is the application directory.
	Root string

	// Files are the written paths relative to Root, including the manifest.
	Files []string

	// Components are the ids of the components added by IncrementalAdd.
	Components []string

	Params  params.Resolved
	Message string

	// RequestID is the id the request was logged under.
	RequestID string
}

// Engine runs generation requests.
type Engine struct {
	renderer Renderer
	logic    LogicRunner
	log      logr.Logger
	locks    *targetLocks
	lockDir  string
}

// Option configures an Engine.
type Option func(*Engine)

// WithLockDir sets the directory holding the per-target commit locks.
func WithLockDir(dir string) Option {
	return func(e *Engine) { e.lockDir = dir }
}

// DefaultLockDir returns the lock directory used when WithLockDir is not given.
func DefaultLockDir() string {
	return filepath.Join(os.TempDir(), "stencil-locks")
}

// New creates an engine.
func New(log logr.Logger, renderer Renderer, logic LogicRunner, opts ...Option) *Engine {
	e := &Engine{
		renderer: renderer,
		logic:    logic,
		log:      log.WithName("generate"),
		locks:    newTargetLocks(),
		lockDir:  DefaultLockDir(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// inputs is the outcome of ResolveInputs.
type inputs struct {
	root         string
	manifestPath string
	manifest     []byte
	digest       string
	manifestPerm os.FileMode
}

// Generate runs the request through every stage in order.
func (e *Engine) Generate(ctx context.Context, req Request) (*Result, error) {
	ctx = logctx.WithRequestID(ctx, uuid.NewString())
	ctx = logctx.WithTemplate(ctx, req.Template.Name)
	ctx = logctx.WithLanguage(ctx, req.Template.Language)
	ctx = logctx.WithMode(ctx, req.Mode.String())

	in, err := e.resolveInputs(logctx.WithStage(ctx, stageResolveInputs), req)
	if err != nil {
		return nil, err
	}

	resolved, err := e.validate(logctx.WithStage(ctx, stageValidateParameters), req)
	if err != nil {
		return nil, err
	}

	st, err := e.newStage(logctx.WithStage(ctx, stageStage), in.root)
	if err != nil {
		return nil, err
	}
	defer st.cleanup()

	if err := e.render(logctx.WithStage(ctx, stageRender), st, req.Template, resolved); err != nil {
		return nil, err
	}

	resolved, err = e.preLogic(logctx.WithStage(ctx, stagePreLogic), st, req.Template, resolved)
	if err != nil {
		return nil, err
	}

	plan, err := e.filter(logctx.WithStage(ctx, stageFilter), st, req, resolved)
	if err != nil {
		return nil, err
	}

	result, err := e.commit(logctx.WithStage(ctx, stageCommit), st, in, plan)
	if err != nil {
		return nil, err
	}
	result.Params = resolved
	result.RequestID = logctx.RequestID(ctx)

	postCtx := logctx.WithStage(ctx, stagePostLogic)
	msg, err := e.logic.RunPost(postCtx, req.Template.Logic, resolved, result.Files)
	if err != nil {
		// The commit stands; the message is best effort.
		logctx.LoggerWithContext(e.log, postCtx).Error(err, "post logic failed")
	}
	result.Message = msg

	logctx.LoggerWithContext(e.log, ctx).Info("generation committed", "root", result.Root, "files", len(result.Files))
	return result, nil
}

func (e *Engine) resolveInputs(ctx context.Context, req Request) (*inputs, error) {
	log := logctx.LoggerWithContext(e.log, ctx)
	if req.Target == "" {
		return nil, fmt.Errorf("no target given")
	}
	target, err := filepath.Abs(req.Target)
	if err != nil {
		return nil, err
	}

	if req.Mode != IncrementalAdd {
		if err := checkCreatable(target); err != nil {
			return nil, err
		}
		log.V(1).Info("target resolved", "root", target)
		return &inputs{root: target}, nil
	}

	manifestPath := target
	if info, err := os.Stat(target); err == nil && info.IsDir() {
		manifestPath = filepath.Join(target, manifest.FileName)
	}
	info, err := os.Stat(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("reading application manifest: %w", err)
	}
	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("reading application manifest: %w", err)
	}
	if _, err := manifest.Parse(data); err != nil {
		return nil, fmt.Errorf("%s: %w", manifestPath, err)
	}
	log.V(1).Info("application manifest resolved", "manifest", manifestPath)
	return &inputs{
		root:         filepath.Dir(manifestPath),
		manifestPath: manifestPath,
		manifest:     data,
		digest:       manifest.Digest(data),
		manifestPerm: info.Mode().Perm(),
	}, nil
}

// validate validates the template parameters and adds the built-ins.
func (e *Engine) validate(ctx context.Context, req Request) (params.Resolved, error) {
	tmpl := req.Template
	supplied := make(map[string]string, len(req.Values))
	builtins := map[string]string{
		ParamProjectName:      req.Name,
		ParamProjectNameSnake: snakeName(req.Name),
		ParamOutputPath:       req.OutputPath,
		ParamAuthors:          req.Authors,
	}
	for k, v := range req.Values {
		if _, declared := tmpl.Parameter(k); !declared {
			if _, ok := builtins[k]; ok {
				if k == ParamOutputPath || k == ParamAuthors {
					builtins[k] = v
				}
				continue
			}
		}
		supplied[k] = v
	}
	if builtins[ParamOutputPath] == "" && req.Mode == IncrementalAdd {
		builtins[ParamOutputPath] = req.Name
	}

	resolved, err := params.Validate(tmpl.Parameters, supplied)
	var vErr *params.ValidationError
	if err != nil && !errors.As(err, &vErr) {
		return nil, err
	}
	if vErr == nil {
		vErr = &params.ValidationError{}
	}
	if err := CheckName(req.Name); err != nil {
		vErr.Fields = append(vErr.Fields, params.FieldError{
			Key:    ParamProjectName,
			Label:  "Name",
			Value:  req.Name,
			Reason: err.Error(),
		})
	}
	if out := builtins[ParamOutputPath]; out != "" && !isRelativeInside(out) {
		vErr.Fields = append(vErr.Fields, params.FieldError{
			Key:    ParamOutputPath,
			Label:  "Output path",
			Value:  out,
			Reason: "must be a relative path inside the application",
		})
	}
	if len(vErr.Fields) > 0 {
		return nil, vErr
	}

	if resolved == nil {
		resolved = params.Resolved{}
	}
	for k, v := range builtins {
		if _, declared := tmpl.Parameter(k); !declared {
			resolved[k] = v
		}
	}
	logctx.LoggerWithContext(e.log, ctx).V(1).Info("parameters validated", "count", len(resolved))
	return resolved, nil
}

func (e *Engine) preLogic(ctx context.Context, st *stage, tmpl template.Template, resolved params.Resolved) (params.Resolved, error) {
	if tmpl.Logic == nil || (len(tmpl.Logic.Pre.Parameters) == 0 && tmpl.Logic.Pre.Files == "") {
		return resolved, nil
	}
	log := logctx.LoggerWithContext(e.log, ctx)

	res, err := e.logic.RunPre(ctx, tmpl.Logic, resolved, st.paths())
	if err != nil {
		return nil, err
	}
	if err := st.retain(res.Files); err != nil {
		return nil, err
	}
	if res.ParamsChanged {
		log.V(1).Info("parameters changed by logic, rendering again")
		if err := e.rerender(ctx, st, tmpl, res.Params); err != nil {
			return nil, err
		}
	}
	return params.Resolved(res.Params), nil
}

// CheckName reports whether name can name a project or a component.
func CheckName(name string) error {
	if !projectNamePattern.MatchString(name) {
		return errInvalidName
	}
	return nil
}

func snakeName(name string) string {
	return strings.ReplaceAll(strings.ToLower(name), "-", "_")
}

func isRelativeInside(p string) bool {
	if filepath.IsAbs(p) || strings.HasPrefix(p, "/") {
		return false
	}
	clean := filepath.ToSlash(filepath.Clean(p))
	return clean != "." && clean != ".." && !strings.HasPrefix(clean, "../")
}
