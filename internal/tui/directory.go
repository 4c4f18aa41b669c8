package tui

import (
	"fmt"
	"strings"
	"time"

	"github.com/charmbracelet/bubbles/list"
	tea "github.com/charmbracelet/bubbletea"

	"github.com/notepid/twilight_dm/internal/dm"
)

type convItem struct {
	view dm.ConversationView
}

func (i convItem) Title() string {
	name := i.view.Name()
	if i.view.Unread > 0 {
		name = fmt.Sprintf("%s (%d)", name, i.view.Unread)
	}
	return name
}

func (i convItem) Description() string {
	last := i.view.LastMessage
	if last == nil {
		return "No messages yet"
	}
	prefix := ""
	if last.SenderID != i.view.OtherID {
		prefix = "You: "
	}
	return fmt.Sprintf("%s · %s%s", formatWhen(i.view.RecencyAt()), prefix, preview(last.Content, 48))
}

func (i convItem) FilterValue() string { return i.view.Name() }

func (m *model) setViews(views []dm.ConversationView) {
	m.views = views
	for _, v := range views {
		m.names[v.OtherID] = v.Name()
	}
	m.refreshList()
}

// refreshList applies the search box to the loaded list.
func (m *model) refreshList() {
	selected := ""
	if it, ok := m.list.SelectedItem().(convItem); ok {
		selected = it.view.Conversation.ID
	}

	filtered := dm.FilterConversations(m.views, m.search.Value())
	items := make([]list.Item, len(filtered))
	cursor := 0
	for i, v := range filtered {
		items[i] = convItem{view: v}
		if v.Conversation.ID == selected {
			cursor = i
		}
	}
	m.list.SetItems(items)
	m.list.Select(cursor)
}

func (m *model) updateList(msg tea.Msg) tea.Cmd {
	if m.search.Focused() {
		if k, ok := msg.(tea.KeyMsg); ok {
			switch k.String() {
			case "esc":
				m.search.Blur()
				m.search.SetValue("")
				m.refreshList()
				return nil
			case "enter", "down", "up":
				m.search.Blur()
				if k.String() == "enter" {
					return m.openSelected()
				}
			default:
				var cmd tea.Cmd
				m.search, cmd = m.search.Update(msg)
				m.refreshList()
				return cmd
			}
		}
	}

	if k, ok := msg.(tea.KeyMsg); ok {
		switch k.String() {
		case "q":
			return tea.Quit
		case "/":
			return m.search.Focus()
		case "n":
			return m.startNewChat()
		case "r":
			m.sess.Directory.Refresh()
			return nil
		case "enter":
			return m.openSelected()
		}
	}

	var cmd tea.Cmd
	m.list, cmd = m.list.Update(msg)
	return cmd
}

func (m *model) openSelected() tea.Cmd {
	it, ok := m.list.SelectedItem().(convItem)
	if !ok {
		return nil
	}
	return m.selectConversation(it.view.Conversation.ID)
}

func (m *model) viewList() string {
	var b strings.Builder
	header := "Twilight DM"
	if m.me != "" {
		header += " · " + m.me
	}
	if n := dm.TotalUnread(m.views); n > 0 {
		header += " · " + m.st.unread.Render(fmt.Sprintf("%d unread", n))
	}
	b.WriteString(m.st.header.Render(header))
	b.WriteString("\n")
	if m.search.Focused() || m.search.Value() != "" {
		b.WriteString(m.search.View())
	}
	b.WriteString("\n")
	if len(m.views) == 0 {
		b.WriteString(m.st.meta.Render("No conversations yet. Press n to start one."))
	} else {
		b.WriteString(m.list.View())
	}
	b.WriteString("\n" + m.st.help.Render("enter open · / search · n new chat · r refresh · q quit"))
	return b.String()
}

func formatWhen(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	local := t.Local()
	if time.Since(local) < 24*time.Hour {
		return local.Format("15:04")
	}
	return local.Format("Jan 2")
}

func preview(s string, n int) string {
	s = strings.Join(strings.Fields(dm.SanitizeForDisplay(s)), " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
