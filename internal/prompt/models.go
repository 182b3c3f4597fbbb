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

package prompt

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/key"
	"github.com/charmbracelet/bubbles/textinput"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
)

var (
	titleStyle    = lipgloss.NewStyle().Bold(true)
	cursorStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("12")).Bold(true)
	detailStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	errorStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("9"))
	answeredStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("10"))
)

// keyMap holds the bindings shared by every prompt.
type keyMap struct {
	Up     key.Binding
	Down   key.Binding
	Submit key.Binding
	Cancel key.Binding
	Yes    key.Binding
	No     key.Binding
}

var keys = keyMap{
	Up:     key.NewBinding(key.WithKeys("up", "k", "shift+tab")),
	Down:   key.NewBinding(key.WithKeys("down", "j", "tab")),
	Submit: key.NewBinding(key.WithKeys("enter")),
	Cancel: key.NewBinding(key.WithKeys("ctrl+c", "esc")),
	Yes:    key.NewBinding(key.WithKeys("y", "Y")),
	No:     key.NewBinding(key.WithKeys("n", "N")),
}

// selectModel picks one of a list of options.
type selectModel struct {
	title     string
	options   []Option
	cursor    int
	chosen    int
	cancelled bool
	done      bool
}

func newSelectModel(title string, options []Option) selectModel {
	return selectModel{title: title, options: options, chosen: -1}
}

func (m selectModel) Init() tea.Cmd {
	return nil
}

func (m selectModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	k, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch {
	case key.Matches(k, keys.Cancel):
		m.cancelled = true
		return m, tea.Quit
	case key.Matches(k, keys.Up):
		if m.cursor > 0 {
			m.cursor--
		}
	case key.Matches(k, keys.Down):
		if m.cursor < len(m.options)-1 {
			m.cursor++
		}
	case key.Matches(k, keys.Submit):
		m.chosen = m.cursor
		m.done = true
		return m, tea.Quit
	}
	return m, nil
}

func (m selectModel) View() string {
	var b strings.Builder
	if m.done {
		fmt.Fprintf(&b, "%s %s\n", titleStyle.Render(m.title), answeredStyle.Render(m.options[m.chosen].Label))
		return b.String()
	}
	b.WriteString(titleStyle.Render(m.title))
	b.WriteString("\n")
	for i, opt := range m.options {
		line := "  " + opt.Label
		if i == m.cursor {
			line = cursorStyle.Render("> " + opt.Label)
		}
		b.WriteString(line)
		if opt.Detail != "" {
			b.WriteString("  ")
			b.WriteString(detailStyle.Render(opt.Detail))
		}
		b.WriteString("\n")
	}
	b.WriteString(detailStyle.Render("up/down: move, enter: choose, esc: cancel"))
	b.WriteString("\n")
	return b.String()
}

// confirmModel asks a yes/no question.
type confirmModel struct {
	question  string
	answer    bool
	cancelled bool
	done      bool
}

func (m confirmModel) Init() tea.Cmd {
	return nil
}

func (m confirmModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	k, ok := msg.(tea.KeyMsg)
	if !ok {
		return m, nil
	}
	switch {
	case key.Matches(k, keys.Cancel):
		m.cancelled = true
		return m, tea.Quit
	case key.Matches(k, keys.Yes):
		m.answer = true
		m.done = true
		return m, tea.Quit
	case key.Matches(k, keys.No):
		m.answer = false
		m.done = true
		return m, tea.Quit
	case key.Matches(k, keys.Submit):
		m.done = true
		return m, tea.Quit
	}
	return m, nil
}

func (m confirmModel) View() string {
	if m.done {
		answer := "no"
		if m.answer {
			answer = "yes"
		}
		return fmt.Sprintf("%s %s\n", titleStyle.Render(m.question), answeredStyle.Render(answer))
	}
	hint := "[y/N]"
	if m.answer {
		hint = "[Y/n]"
	}
	return fmt.Sprintf("%s %s ", titleStyle.Render(m.question), detailStyle.Render(hint))
}

// inputModel reads one line of text. An empty answer selects the default.
type inputModel struct {
	label     string
	fallback  string
	input     textinput.Model
	validate  func(string) (string, error)
	value     string
	err       error
	cancelled bool
	done      bool
}

func newInputModel(label, fallback string, validate func(string) (string, error)) inputModel {
	ti := textinput.New()
	ti.Placeholder = fallback
	ti.CharLimit = 512
	ti.Width = 60
	ti.Focus()
	return inputModel{label: label, fallback: fallback, input: ti, validate: validate}
}

func (m inputModel) Init() tea.Cmd {
	return textinput.Blink
}

func (m inputModel) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	if k, ok := msg.(tea.KeyMsg); ok {
		switch {
		case key.Matches(k, keys.Cancel):
			m.cancelled = true
			return m, tea.Quit
		case key.Matches(k, keys.Submit):
			raw := m.input.Value()
			if raw == "" {
				raw = m.fallback
			}
			value := raw
			if m.validate != nil {
				v, err := m.validate(raw)
				if err != nil {
					m.err = err
					return m, nil
				}
				value = v
			}
			m.value = value
			m.done = true
			return m, tea.Quit
		}
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return m, cmd
}

func (m inputModel) View() string {
	if m.done {
		return fmt.Sprintf("%s %s\n", titleStyle.Render(m.label), answeredStyle.Render(m.value))
	}
	var b strings.Builder
	b.WriteString(titleStyle.Render(m.label))
	b.WriteString(" ")
	b.WriteString(m.input.View())
	b.WriteString("\n")
	if m.err != nil {
		b.WriteString(errorStyle.Render(m.err.Error()))
		b.WriteString("\n")
	}
	return b.String()
}
