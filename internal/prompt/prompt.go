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

// Package prompt asks the user questions on the terminal.
package prompt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	tea "github.com/charmbracelet/bubbletea"
)

var (
	// ErrInterrupted is returned when the user cancels a prompt.
	ErrInterrupted = errors.New("interrupted")

	// ErrNoAnswer is returned by Script when it runs out of answers.
	ErrNoAnswer = errors.New("no answer available")
)

// Option is one entry of a Select prompt.
type Option struct {
	Label  string
	Detail string
}

// Prompter asks questions. Every method blocks until answered, cancelled
// or ctx is done.
type Prompter interface {
	// Select returns the index of the chosen option.
	Select(ctx context.Context, title string, options []Option) (int, error)

	// Confirm asks a yes/no question; def is the answer to a bare enter.
	Confirm(ctx context.Context, question string, def bool) (bool, error)

	// Input reads a line. An empty line selects def. validate may
	// normalize the value; a validation error asks again.
	Input(ctx context.Context, label, def string, validate func(string) (string, error)) (string, error)
}

// Terminal prompts with bubbletea programs on the given streams.
type Terminal struct {
	in  io.Reader
	out io.Writer
}

// NewTerminal creates a Terminal reading in and drawing on out.
func NewTerminal(in io.Reader, out io.Writer) *Terminal {
	return &Terminal{in: in, out: out}
}

func (t *Terminal) run(ctx context.Context, m tea.Model) (tea.Model, error) {
	p := tea.NewProgram(m,
		tea.WithContext(ctx),
		tea.WithInput(t.in),
		tea.WithOutput(t.out),
	)
	final, err := p.Run()
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if err != nil {
		if errors.Is(err, tea.ErrProgramKilled) {
			return nil, ErrInterrupted
		}
		return nil, fmt.Errorf("prompt failed: %w", err)
	}
	return final, nil
}

// Select implements Prompter.
func (t *Terminal) Select(ctx context.Context, title string, options []Option) (int, error) {
	if len(options) == 0 {
		return -1, fmt.Errorf("nothing to choose for %q", title)
	}
	final, err := t.run(ctx, newSelectModel(title, options))
	if err != nil {
		return -1, err
	}
	m := final.(selectModel)
	if m.cancelled || !m.done {
		return -1, ErrInterrupted
	}
	return m.chosen, nil
}

// Confirm implements Prompter.
func (t *Terminal) Confirm(ctx context.Context, question string, def bool) (bool, error) {
	final, err := t.run(ctx, confirmModel{question: question, answer: def})
	if err != nil {
		return false, err
	}
	m := final.(confirmModel)
	if m.cancelled || !m.done {
		return false, ErrInterrupted
	}
	return m.answer, nil
}

// Input implements Prompter.
func (t *Terminal) Input(ctx context.Context, label, def string, validate func(string) (string, error)) (string, error) {
	final, err := t.run(ctx, newInputModel(label, def, validate))
	if err != nil {
		return "", err
	}
	m := final.(inputModel)
	if m.cancelled || !m.done {
		return "", ErrInterrupted
	}
	return m.value, nil
}

// Script answers prompts from a fixed list of answers, in order.
// Select accepts an option label or a 1-based index, Confirm accepts
// y/yes/n/no, and an empty answer selects the default.
type Script struct {
	mu      sync.Mutex
	answers []string

	// Asked records every question in order.
	Asked []string
}

// NewScript creates a Script with the given answers.
func NewScript(answers ...string) *Script {
	return &Script{answers: answers}
}

func (s *Script) next(question string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Asked = append(s.Asked, question)
	if len(s.answers) == 0 {
		return "", fmt.Errorf("%w for %q", ErrNoAnswer, question)
	}
	a := s.answers[0]
	s.answers = s.answers[1:]
	return a, nil
}

// Remaining returns the number of unused answers.
func (s *Script) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.answers)
}

// Select implements Prompter.
func (s *Script) Select(ctx context.Context, title string, options []Option) (int, error) {
	if err := ctx.Err(); err != nil {
		return -1, err
	}
	a, err := s.next(title)
	if err != nil {
		return -1, err
	}
	for i, opt := range options {
		if opt.Label == a {
			return i, nil
		}
	}
	if n, err := strconv.Atoi(a); err == nil && n >= 1 && n <= len(options) {
		return n - 1, nil
	}
	return -1, fmt.Errorf("answer %q matches no option of %q", a, title)
}

// Confirm implements Prompter.
func (s *Script) Confirm(ctx context.Context, question string, def bool) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	a, err := s.next(question)
	if err != nil {
		return false, err
	}
	switch strings.ToLower(a) {
	case "":
		return def, nil
	case "y", "yes":
		return true, nil
	case "n", "no":
		return false, nil
	}
	return false, fmt.Errorf("answer %q to %q is not yes or no", a, question)
}

// Input implements Prompter. Unlike Terminal it does not ask again after
// a validation error.
func (s *Script) Input(ctx context.Context, label, def string, validate func(string) (string, error)) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	a, err := s.next(label)
	if err != nil {
		return "", err
	}
	if a == "" {
		a = def
	}
	if validate == nil {
		return a, nil
	}
	return validate(a)
}
