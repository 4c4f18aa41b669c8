package tui

import (
	"fmt"
	"strings"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/notepid/twilight_dm/internal/dm"
	"github.com/notepid/twilight_dm/internal/message"
)

func (m *model) updateThread(msg tea.Msg) tea.Cmd {
	if k, ok := msg.(tea.KeyMsg); ok {
		switch k.String() {
		case "esc":
			m.input.Blur()
			m.input.Reset()
			m.sess.Composer.SetDraft("")
			m.sess.Thread.Close()
			m.active = screenList
			m.openSeq++
			return nil
		case "enter":
			return m.send()
		case "pgup", "pgdown":
			var cmd tea.Cmd
			m.viewport, cmd = m.viewport.Update(msg)
			return cmd
		}
	}

	if m.sending {
		return nil
	}
	var cmd tea.Cmd
	m.input, cmd = m.input.Update(msg)
	return cmd
}

func (m *model) send() tea.Cmd {
	if m.sending {
		m.notice = friendlyError(dm.ErrSendInFlight)
		return nil
	}
	text := m.input.Value()
	m.sending = true
	ctx, sess := m.ctx, m.sess
	return func() tea.Msg {
		_, err := sess.Send(ctx, text)
		return sendDoneMsg{err: err}
	}
}

// renderThread redraws the buffer into the viewport, keeping the view
// pinned to the newest message when it already was.
func (m *model) renderThread() {
	if m.viewport.Width <= 0 {
		return
	}
	atBottom := m.viewport.AtBottom()
	m.viewport.SetContent(m.formatMessages(m.thread.Messages))
	if atBottom || m.viewport.YOffset == 0 {
		m.viewport.GotoBottom()
	}
}

func (m *model) formatMessages(msgs []*message.Message) string {
	switch m.thread.State {
	case dm.ThreadLoading:
		return m.st.meta.Render("Loading...")
	case dm.ThreadDenied:
		return m.st.err.Render("This conversation is not available.")
	case dm.ThreadFailed:
		return m.st.err.Render("Could not load this conversation. Press esc and try again.")
	}
	if len(msgs) == 0 {
		return m.st.meta.Render("No messages yet. Say hello!")
	}

	me := m.sess.UserID
	var b strings.Builder
	for i, msg := range msgs {
		if i > 0 {
			b.WriteString("\n")
		}
		who := m.st.theirs.Render(m.otherName())
		if msg.SenderID == me {
			who = m.st.mine.Render("You")
		}
		when := m.st.meta.Render(msg.CreatedAt.Local().Format("15:04"))
		fmt.Fprintf(&b, "%s %s: %s", when, who, dm.SanitizeForDisplay(msg.Content))
		if msg.SenderID == me && msg.ReadAt != nil {
			b.WriteString(m.st.meta.Render(" ✓"))
		}
	}
	return b.String()
}

func (m *model) otherName() string {
	conv := m.thread.Conversation
	if conv == nil {
		return "?"
	}
	other, ok := conv.Other(m.sess.UserID)
	if !ok {
		return "?"
	}
	if name, ok := m.names[other]; ok {
		return name
	}
	return "?"
}

func (m *model) viewThread() string {
	var b strings.Builder
	b.WriteString(m.st.header.Render(m.otherName()))
	b.WriteString("\n")
	b.WriteString(m.st.divider.Render(strings.Repeat("─", max(m.width, 1))))
	b.WriteString("\n")
	b.WriteString(m.viewport.View())
	b.WriteString("\n")
	if m.sending {
		b.WriteString(m.st.meta.Render("sending..."))
	} else {
		b.WriteString(m.input.View())
	}
	b.WriteString("\n" + m.st.help.Render("enter send · pgup/pgdown scroll · esc back"))
	return b.String()
}
