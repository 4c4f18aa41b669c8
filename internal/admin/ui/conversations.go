package ui

import (
	"context"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/notepid/twilight_dm/internal/app"
	"github.com/notepid/twilight_dm/internal/dm"
	"github.com/notepid/twilight_dm/internal/user"
)

// conversationsModel is a read-only browser. It never marks anything read.
type conversationsModel struct {
	app *app.App
	ctx context.Context

	width  int
	height int

	Done bool

	state conversationsState
	list  list.Model
	body  viewport.Model
	err   error

	owner    *user.User
	selected dm.ConversationView
}

type conversationsState int

const (
	conversationsStateUsers conversationsState = iota
	conversationsStateList
	conversationsStateDetail
)

type convItem struct {
	id    string
	title string
	desc  string
	view  dm.ConversationView
}

func (i convItem) Title() string       { return i.title }
func (i convItem) Description() string { return i.desc }
func (i convItem) FilterValue() string { return i.title }

func newConversationsModel(a *app.App) *conversationsModel {
	m := &conversationsModel{app: a, ctx: context.Background(), state: conversationsStateUsers}
	m.reloadUsers()
	return m
}

func (m *conversationsModel) SetSize(w, h int) {
	m.width, m.height = w, h
	m.list.SetSize(w, h-2)
	m.body.Width, m.body.Height = w, h-6
}

func (m *conversationsModel) Update(msg tea.Msg) tea.Cmd {
	if m.err != nil {
		if msg, ok := msg.(tea.KeyMsg); ok {
			if msg.String() == "esc" || msg.String() == "q" || msg.String() == "enter" {
				m.err = nil
				m.state = conversationsStateUsers
				m.reloadUsers()
			}
		}
		return nil
	}

	if msg, ok := msg.(tea.KeyMsg); ok && m.list.FilterState() != list.Filtering {
		switch msg.String() {
		case "q":
			if m.state == conversationsStateUsers {
				m.Done = true
				return nil
			}
		case "esc":
			m.back()
			return nil
		}
	}

	if m.state == conversationsStateDetail {
		var cmd tea.Cmd
		m.body, cmd = m.body.Update(msg)
		return cmd
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)

	if msg, ok := msg.(tea.KeyMsg); ok && msg.String() == "enter" && m.list.FilterState() != list.Filtering {
		it, ok := m.list.SelectedItem().(convItem)
		if !ok {
			return cmd
		}
		switch m.state {
		case conversationsStateUsers:
			u, err := m.app.Users.GetByID(m.ctx, it.id)
			if err != nil {
				m.err = err
				return nil
			}
			m.owner = u
			m.state = conversationsStateList
			m.reloadConversations()
		case conversationsStateList:
			m.selected = it.view
			m.state = conversationsStateDetail
			m.loadThread()
		}
		return nil
	}
	return cmd
}

func (m *conversationsModel) View() string {
	if m.err != nil {
		return fmt.Sprintf("Conversations error: %v\n\nPress Enter/Esc to go back.", m.err)
	}

	switch m.state {
	case conversationsStateUsers:
		m.list.Title = "Pick a user"
		return m.list.View() + "\n(q to quit, enter to select)"
	case conversationsStateList:
		m.list.Title = fmt.Sprintf("Conversations of %s", m.owner.Username)
		return m.list.View() + "\n(esc back)"
	case conversationsStateDetail:
		header := titleStyle.Render(fmt.Sprintf("%s ↔ %s", m.owner.Username, m.selected.Name()))
		return header + "\n\n" + m.body.View() + "\n\n(esc back)"
	default:
		return "Conversations"
	}
}

func (m *conversationsModel) reloadUsers() {
	users, err := m.app.Users.List(m.ctx)
	if err != nil {
		m.err = err
		return
	}
	items := make([]list.Item, 0, len(users))
	for _, u := range users {
		items = append(items, convItem{id: u.ID, title: u.Username, desc: u.Profile().Name()})
	}
	m.setList(items)
}

func (m *conversationsModel) reloadConversations() {
	dir := dm.NewDirectory(m.app.Messages, m.app.Users, m.app.Broker, m.app.Config.Messages.DirectoryWorkers)
	views, err := dir.Load(m.ctx, m.owner.ID)
	if err != nil {
		m.err = err
		return
	}
	items := make([]list.Item, 0, len(views))
	for _, v := range views {
		desc := fmt.Sprintf("last %s • %d unread", v.RecencyAt().Local().Format("2006-01-02 15:04"), v.Unread)
		items = append(items, convItem{id: v.Conversation.ID, title: v.Name(), desc: desc, view: v})
	}
	m.setList(items)
}

func (m *conversationsModel) loadThread() {
	msgs, err := m.app.Messages.ListMessages(m.ctx, m.selected.Conversation.ID)
	if err != nil {
		m.err = err
		return
	}
	var b strings.Builder
	for _, msg := range msgs {
		from := m.selected.Name()
		if msg.SenderID == m.owner.ID {
			from = m.owner.Username
		}
		status := "unread"
		if msg.ReadAt != nil {
			status = "read " + msg.ReadAt.Local().Format("15:04")
		}
		fmt.Fprintf(&b, "[%s] %s: %s (%s)\n",
			msg.CreatedAt.Local().Format("2006-01-02 15:04"), from, dm.SanitizeForDisplay(msg.Content), status)
	}
	if len(msgs) == 0 {
		b.WriteString("(no messages)")
	}
	m.body = viewport.New(m.width, m.height-6)
	m.body.SetContent(b.String())
}

func (m *conversationsModel) setList(items []list.Item) {
	m.list = list.New(items, list.NewDefaultDelegate(), m.width, m.height-2)
	m.list.SetShowStatusBar(false)
	m.list.SetFilteringEnabled(true)
	m.list.SetShowHelp(true)
}

func (m *conversationsModel) back() {
	switch m.state {
	case conversationsStateUsers:
		m.Done = true
	case conversationsStateList:
		m.state = conversationsStateUsers
		m.owner = nil
		m.reloadUsers()
	case conversationsStateDetail:
		m.state = conversationsStateList
		m.reloadConversations()
	}
}
