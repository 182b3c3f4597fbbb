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

// Package sandbox runs template logic as CEL expressions under cost and
// time bounds. Expressions see only the parameter set and the list of staged
// file paths; CEL has no filesystem or network access.
package sandbox

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"reflect"
	"sort"
	"time"

	"github.com/go-logr/logr"
	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types/ref"
	"github.com/google/cel-go/ext"

	"github.com/altairalabs/stencil/pkg/template"
)

// Activation variable names.
const (
	VarParams = "params"
	VarFiles  = "files"
)

// Stage names used in errors.
const (
	StagePreParameters = "pre.parameters"
	StagePreFiles      = "pre.files"
	StagePostMessage   = "post.message"
)

const (
	defaultTimeout   = 2 * time.Second
	defaultCostLimit = 1_000_000
	interruptEvery   = 100
)

// ErrTimeout marks an evaluation stopped by the time bound.
var ErrTimeout = errors.New("logic timed out")

// Error is a failure in template logic.
type Error struct {
	// Stage is the logic entry, e.g. "pre.parameters[http-path]".
	Stage string
	Expr  string
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("template logic %s failed: %v", e.Stage, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Options bounds every evaluation.
type Options struct {
	Timeout   time.Duration
	CostLimit uint64
}

// DefaultOptions returns a 2s timeout and a cost limit of one million.
func DefaultOptions() Options {
	return Options{Timeout: defaultTimeout, CostLimit: defaultCostLimit}
}

// Sandbox compiles and evaluates template logic.
type Sandbox struct {
	env  *cel.Env
	opts Options
	log  logr.Logger
}

// New creates a sandbox with a shared CEL environment.
func New(log logr.Logger, opts Options) (*Sandbox, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.CostLimit == 0 {
		opts.CostLimit = defaultCostLimit
	}
	env, err := cel.NewEnv(
		cel.Variable(VarParams, cel.MapType(cel.StringType, cel.StringType)),
		cel.Variable(VarFiles, cel.ListType(cel.StringType)),
		ext.Strings(),
		ext.Lists(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}
	return &Sandbox{env: env, opts: opts, log: log.WithName("sandbox")}, nil
}

// PreResult is the output of the pre-render logic.
type PreResult struct {
	// Params is the parameter set after pre.parameters ran.
	Params map[string]string

	// Files is the retained file list in its new order.
	Files []string

	// ParamsChanged reports whether any parameter value changed.
	ParamsChanged bool
}

// RunPre evaluates pre.parameters and then pre.files. Parameter expressions
// see the incoming values; they may only rewrite existing keys. The files
// expression must return a subset of files.
func (s *Sandbox) RunPre(ctx context.Context, logic *template.Logic, params map[string]string, files []string) (*PreResult, error) {
	result := &PreResult{Params: maps.Clone(params), Files: files}
	if logic == nil {
		return result, nil
	}

	keys := make([]string, 0, len(logic.Pre.Parameters))
	for k := range logic.Pre.Parameters {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		expr := logic.Pre.Parameters[key]
		stage := fmt.Sprintf("%s[%s]", StagePreParameters, key)
		if _, ok := params[key]; !ok {
			return nil, &Error{Stage: stage, Expr: expr, Err: fmt.Errorf("unknown parameter %q", key)}
		}
		val, err := s.evalString(ctx, stage, expr, params, files)
		if err != nil {
			return nil, err
		}
		if val != params[key] {
			result.ParamsChanged = true
		}
		result.Params[key] = val
	}

	if logic.Pre.Files != "" {
		kept, err := s.evalFiles(ctx, logic.Pre.Files, result.Params, files)
		if err != nil {
			return nil, err
		}
		result.Files = kept
	}
	return result, nil
}

// RunPost evaluates post.message. An empty expression yields no message.
func (s *Sandbox) RunPost(ctx context.Context, logic *template.Logic, params map[string]string, files []string) (string, error) {
	if logic == nil || logic.Post.Message == "" {
		return "", nil
	}
	return s.evalString(ctx, StagePostMessage, logic.Post.Message, params, files)
}

// Check compiles every expression in logic without running it.
func (s *Sandbox) Check(logic *template.Logic) error {
	if logic == nil {
		return nil
	}
	for key, expr := range logic.Pre.Parameters {
		if _, err := s.compile(fmt.Sprintf("%s[%s]", StagePreParameters, key), expr); err != nil {
			return err
		}
	}
	for stage, expr := range map[string]string{StagePreFiles: logic.Pre.Files, StagePostMessage: logic.Post.Message} {
		if expr == "" {
			continue
		}
		if _, err := s.compile(stage, expr); err != nil {
			return err
		}
	}
	return nil
}

func (s *Sandbox) evalString(ctx context.Context, stage, expr string, params map[string]string, files []string) (string, error) {
	out, err := s.eval(ctx, stage, expr, params, files)
	if err != nil {
		return "", err
	}
	str, ok := out.Value().(string)
	if !ok {
		return "", &Error{Stage: stage, Expr: expr, Err: fmt.Errorf("expression returned %s, want string", out.Type().TypeName())}
	}
	return str, nil
}

func (s *Sandbox) evalFiles(ctx context.Context, expr string, params map[string]string, files []string) ([]string, error) {
	out, err := s.eval(ctx, StagePreFiles, expr, params, files)
	if err != nil {
		return nil, err
	}
	native, err := out.ConvertToNative(reflect.TypeOf([]string{}))
	if err != nil {
		return nil, &Error{Stage: StagePreFiles, Expr: expr, Err: fmt.Errorf("expression must return a list of strings: %w", err)}
	}

	candidates := make(map[string]bool, len(files))
	for _, f := range files {
		candidates[f] = true
	}
	seen := make(map[string]bool)
	var kept []string
	for _, f := range native.([]string) {
		if !candidates[f] {
			return nil, &Error{Stage: StagePreFiles, Expr: expr, Err: fmt.Errorf("file %q is not part of the generated tree", f)}
		}
		if seen[f] {
			continue
		}
		seen[f] = true
		kept = append(kept, f)
	}
	return kept, nil
}

func (s *Sandbox) eval(ctx context.Context, stage, expr string, params map[string]string, files []string) (ref.Val, error) {
	prg, err := s.compile(stage, expr)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.Timeout)
	defer cancel()

	if files == nil {
		files = []string{}
	}
	out, _, err := prg.ContextEval(ctx, map[string]any{
		VarParams: params,
		VarFiles:  files,
	})
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w after %s", ErrTimeout, s.opts.Timeout)
		}
		return nil, &Error{Stage: stage, Expr: expr, Err: err}
	}
	s.log.V(1).Info("logic evaluated", "stage", stage)
	return out, nil
}

func (s *Sandbox) compile(stage, expr string) (cel.Program, error) {
	ast, issues := s.env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, &Error{Stage: stage, Expr: expr, Err: fmt.Errorf("compile error: %w", issues.Err())}
	}
	prg, err := s.env.Program(ast,
		cel.CostLimit(s.opts.CostLimit),
		cel.InterruptCheckFrequency(interruptEvery),
	)
	if err != nil {
		return nil, &Error{Stage: stage, Expr: expr, Err: fmt.Errorf("program error: %w", err)}
	}
	return prg, nil
}
