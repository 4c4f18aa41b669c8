package ui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"

	"github.com/notepid/twilight_dm/internal/app"
	"github.com/notepid/twilight_dm/internal/user"
)

type usersModel struct {
	app *app.App
	ctx context.Context

	width  int
	height int

	Done bool

	state usersState

	list list.Model
	err  error

	selected *user.User

	form *huh.Form

	createUsername    string
	createPassword    string
	createDisplayName string
	createSave        bool

	editDisplayName string
	editSave        bool

	newPassword string
	pwConfirm   string
	pwSave      bool

	deleteConfirm bool
}

type usersState int

const (
	usersStateList usersState = iota
	usersStateDetail
	usersStateCreate
	usersStateEditProfile
	usersStateResetPassword
	usersStateDelete
)

type userItem struct {
	id    string
	title string
	desc  string
	kind  string
}

func (i userItem) Title() string       { return i.title }
func (i userItem) Description() string { return i.desc }
func (i userItem) FilterValue() string { return i.title }

func newUsersModel(a *app.App) *usersModel {
	m := &usersModel{app: a, ctx: context.Background(), state: usersStateList}
	m.reloadList()
	return m
}

func (m *usersModel) SetSize(w, h int) {
	m.width, m.height = w, h
	m.list.SetSize(w, h-2)
}

func (m *usersModel) Update(msg tea.Msg) tea.Cmd {
	if m.err != nil {
		if msg, ok := msg.(tea.KeyMsg); ok {
			if msg.String() == "esc" || msg.String() == "q" || msg.String() == "enter" {
				m.err = nil
				m.state = usersStateList
				m.form = nil
				m.selected = nil
				m.reloadList()
			}
		}
		return nil
	}

	if msg, ok := msg.(tea.KeyMsg); ok {
		switch msg.String() {
		case "q":
			if m.state == usersStateList && m.list.FilterState() != list.Filtering {
				m.Done = true
				return nil
			}
		case "esc":
			if m.list.FilterState() != list.Filtering {
				m.back()
				return nil
			}
		}
	}

	switch m.state {
	case usersStateList:
		return m.updateList(msg)
	case usersStateDetail:
		return m.updateDetail(msg)
	default:
		return m.updateForm(msg)
	}
}

func (m *usersModel) updateList(msg tea.Msg) tea.Cmd {
	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)

	if msg, ok := msg.(tea.KeyMsg); ok && msg.String() == "enter" && m.list.FilterState() != list.Filtering {
		it, ok := m.list.SelectedItem().(userItem)
		if !ok {
			return cmd
		}
		if it.kind == "create" {
			return m.startCreate()
		}

		u, err := m.app.Users.GetByID(m.ctx, it.id)
		if err != nil {
			m.err = err
			return nil
		}
		m.selected = u
		m.state = usersStateDetail
		m.list = newActionList(m.width, m.height)
		return nil
	}
	return cmd
}

func (m *usersModel) updateDetail(msg tea.Msg) tea.Cmd {
	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)

	if msg, ok := msg.(tea.KeyMsg); ok && msg.String() == "enter" {
		it, ok := m.list.SelectedItem().(userItem)
		if !ok {
			return cmd
		}
		switch it.kind {
		case "edit_profile":
			return m.startEditProfile()
		case "reset_password":
			return m.startResetPassword()
		case "delete":
			return m.startDelete()
		case "back":
			m.back()
		}
		return nil
	}
	return cmd
}

func (m *usersModel) updateForm(msg tea.Msg) tea.Cmd {
	if m.form == nil {
		m.err = fmt.Errorf("internal error: form not initialized")
		return nil
	}
	updated, cmd := m.form.Update(msg)
	f, ok := updated.(*huh.Form)
	if !ok {
		m.err = fmt.Errorf("internal error: unexpected form model type")
		return nil
	}
	m.form = f
	if m.form.State != huh.StateCompleted {
		return cmd
	}

	switch m.state {
	case usersStateCreate:
		if m.createSave {
			if m.app.Users.Exists(m.ctx, m.createUsername) {
				m.err = fmt.Errorf("username already exists")
				return nil
			}
			if _, err := m.app.Users.Create(m.ctx, strings.TrimSpace(m.createUsername), m.createPassword, strings.TrimSpace(m.createDisplayName)); err != nil {
				m.err = err
				return nil
			}
		}
		m.form = nil
		m.state = usersStateList
		m.reloadList()
	case usersStateEditProfile:
		if m.editSave && m.selected != nil {
			if err := m.app.Users.UpdateDisplayName(m.ctx, m.selected.ID, strings.TrimSpace(m.editDisplayName)); err != nil {
				m.err = err
				return nil
			}
		}
		m.refreshSelected()
		m.toDetail()
	case usersStateResetPassword:
		if m.pwSave && m.selected != nil {
			if err := m.app.Users.UpdatePassword(m.ctx, m.selected.ID, m.newPassword); err != nil {
				m.err = err
				return nil
			}
		}
		m.toDetail()
	case usersStateDelete:
		if m.deleteConfirm && m.selected != nil {
			if err := m.app.Users.Delete(m.ctx, m.selected.ID); err != nil {
				m.err = err
				return nil
			}
			m.form = nil
			m.selected = nil
			m.state = usersStateList
			m.reloadList()
			return nil
		}
		m.toDetail()
	}
	return nil
}

func (m *usersModel) View() string {
	if m.err != nil {
		return fmt.Sprintf("Users error: %v\n\nPress Enter/Esc to go back.", m.err)
	}

	switch m.state {
	case usersStateList:
		m.list.Title = "Users"
		return m.list.View() + "\n(q to quit, enter to select)"
	case usersStateDetail:
		if m.selected == nil {
			return "No user selected\n\n(esc to go back)"
		}
		header := titleStyle.Render(fmt.Sprintf("User: %s", m.selected.Username)) + "\n"
		meta := fmt.Sprintf("Display name: %s\nCreated: %s\n\n",
			m.selected.DisplayName, m.selected.CreatedAt.Local().Format("2006-01-02 15:04"),
		)
		m.list.Title = "Actions"
		return header + meta + m.list.View() + "\n(esc to go back)"
	default:
		return m.form.View() + "\n\n(esc to go back)"
	}
}

func (m *usersModel) reloadList() {
	users, err := m.app.Users.List(m.ctx)
	if err != nil {
		m.err = err
		return
	}

	items := make([]list.Item, 0, len(users)+1)
	items = append(items, userItem{title: "+ Create new user", desc: "Add a new account", kind: "create"})
	for _, u := range users {
		desc := u.DisplayName
		if desc == "" {
			desc = "(no display name)"
		}
		items = append(items, userItem{id: u.ID, title: u.Username, desc: desc, kind: "user"})
	}

	m.list = list.New(items, list.NewDefaultDelegate(), m.width, m.height-2)
	m.list.SetShowStatusBar(false)
	m.list.SetFilteringEnabled(true)
	m.list.SetShowHelp(true)
	m.list.Title = "Users"
}

func newActionList(w, h int) list.Model {
	items := []list.Item{
		userItem{title: "Edit display name", desc: "Name shown in conversation lists", kind: "edit_profile"},
		userItem{title: "Reset password", desc: "Set a new password", kind: "reset_password"},
		userItem{title: "Delete account", desc: "Conversations stay visible to the other side", kind: "delete"},
		userItem{title: "Back", desc: "Return to users list", kind: "back"},
	}
	l := list.New(items, list.NewDefaultDelegate(), w, h-8)
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(false)
	l.SetShowHelp(true)
	return l
}

func (m *usersModel) startCreate() tea.Cmd {
	m.state = usersStateCreate
	m.createUsername = ""
	m.createPassword = ""
	m.createDisplayName = ""
	m.createSave = true
	m.form = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("Username").Value(&m.createUsername).Validate(validUsername),
			huh.NewInput().Title("Password").EchoMode(huh.EchoModePassword).Value(&m.createPassword).Validate(user.ValidatePassword),
			huh.NewInput().Title("Display name").Value(&m.createDisplayName).Validate(user.ValidateDisplayName),
		),
		huh.NewGroup(
			huh.NewConfirm().Title("Create user?").Value(&m.createSave),
		),
	)
	return m.form.Init()
}

func (m *usersModel) startEditProfile() tea.Cmd {
	m.state = usersStateEditProfile
	m.editDisplayName = m.selected.DisplayName
	m.editSave = true
	m.form = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("Display name").Value(&m.editDisplayName).Validate(user.ValidateDisplayName),
		),
		huh.NewGroup(
			huh.NewConfirm().Title("Save changes?").Value(&m.editSave),
		),
	)
	return m.form.Init()
}

func (m *usersModel) startResetPassword() tea.Cmd {
	m.state = usersStateResetPassword
	m.newPassword = ""
	m.pwConfirm = ""
	m.pwSave = true
	m.form = huh.NewForm(
		huh.NewGroup(
			huh.NewInput().Title("New password").EchoMode(huh.EchoModePassword).Value(&m.newPassword).Validate(user.ValidatePassword),
			huh.NewInput().Title("Confirm password").EchoMode(huh.EchoModePassword).Value(&m.pwConfirm).Validate(func(s string) error {
				if s != m.newPassword {
					return fmt.Errorf("passwords do not match")
				}
				return nil
			}),
		),
		huh.NewGroup(
			huh.NewConfirm().Title("Reset password?").Value(&m.pwSave),
		),
	)
	return m.form.Init()
}

func (m *usersModel) startDelete() tea.Cmd {
	m.state = usersStateDelete
	m.deleteConfirm = false
	m.form = huh.NewForm(
		huh.NewGroup(
			huh.NewConfirm().
				Title(fmt.Sprintf("Delete %s?", m.selected.Username)).
				Description("Their messages stay; the other side sees a deleted user.").
				Value(&m.deleteConfirm),
		),
	)
	return m.form.Init()
}

func (m *usersModel) back() {
	switch m.state {
	case usersStateList:
		m.Done = true
	case usersStateDetail:
		m.state = usersStateList
		m.selected = nil
		m.form = nil
		m.reloadList()
	default:
		if m.selected == nil {
			m.form = nil
			m.state = usersStateList
			m.reloadList()
			return
		}
		m.toDetail()
	}
}

func (m *usersModel) toDetail() {
	m.state = usersStateDetail
	m.form = nil
	m.list = newActionList(m.width, m.height)
}

func (m *usersModel) refreshSelected() {
	if m.selected == nil {
		return
	}
	u, err := m.app.Users.GetByID(m.ctx, m.selected.ID)
	if err == nil {
		m.selected = u
	}
}

func validUsername(s string) error {
	return user.ValidateUsername(strings.TrimSpace(s))
}
