package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
)

func (m *model) startNewChat() tea.Cmd {
	m.active = screenNewChat
	m.newChatName = ""
	m.form = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().
				Title("Username").
				Description("Who do you want to message?").
				Value(&m.newChatName).
				Validate(func(s string) error {
					s = strings.TrimSpace(s)
					if s == "" {
						return fmt.Errorf("username is required")
					}
					if strings.EqualFold(s, m.me) {
						return fmt.Errorf("that's you")
					}
					return nil
				}),
		),
	).WithShowHelp(false)
	return m.form.Init()
}

func (m *model) updateNewChat(msg tea.Msg) tea.Cmd {
	if k, ok := msg.(tea.KeyMsg); ok && k.String() == "esc" {
		m.form = nil
		m.active = screenList
		return nil
	}
	if m.form == nil {
		m.active = screenList
		return nil
	}

	updated, cmd := m.form.Update(msg)
	if f, ok := updated.(*huh.Form); ok {
		m.form = f
	}
	switch m.form.State {
	case huh.StateCompleted:
		name := m.newChatName
		m.form = nil
		m.active = screenList
		return m.openWithUsername(name)
	case huh.StateAborted:
		m.form = nil
		m.active = screenList
		return nil
	}
	return cmd
}
