// Package tui is the terminal messenger: a conversation list with search,
// the open thread with its composer, and a form to start a new chat.
package tui

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/charmbracelet/bubbles/list"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"

	"github.com/notepid/twilight_dm/internal/dm"
	"github.com/notepid/twilight_dm/internal/message"
	"github.com/notepid/twilight_dm/internal/user"
)

// Resolver maps a username to an account id.
type Resolver func(ctx context.Context, username string) (string, error)

// Options configure a messenger model.
type Options struct {
	Session  *dm.Session
	Resolve  Resolver
	Username string
	// With is a username to open a chat with on start.
	With     string
	Renderer *lipgloss.Renderer
}

type screen int

const (
	screenList screen = iota
	screenThread
	screenNewChat
)

type openedMsg struct {
	seq            int
	conversationID string
	otherID        string
	otherName      string
	err            error
}

type sendDoneMsg struct {
	err error
}

type startedMsg struct {
	views []dm.ConversationView
	err   error
}

type model struct {
	ctx     context.Context
	sess    *dm.Session
	resolve Resolver
	me      string
	with    string
	inbox   *inbox
	st      styles

	width  int
	height int
	active screen

	views  []dm.ConversationView
	names  map[string]string
	list   list.Model
	search textinput.Model

	thread      dm.ThreadUpdate
	threadSeen  uint64
	viewport    viewport.Model
	input       textinput.Model
	sending     bool
	openSeq     int

	form        *huh.Form
	newChatName string

	notice string
}

// New builds the messenger model. The session's subscriptions feed the
// model until ctx is done.
func New(ctx context.Context, opts Options) tea.Model {
	st := newStyles(opts.Renderer)

	l := list.New(nil, list.NewDefaultDelegate(), 0, 0)
	l.Title = "Messages"
	l.SetShowStatusBar(false)
	l.SetFilteringEnabled(false)
	l.SetShowHelp(false)
	l.Styles.Title = st.title

	search := textinput.New()
	search.Prompt = "search: "
	search.Placeholder = "name"

	input := textinput.New()
	input.Prompt = "> "
	input.Placeholder = "Write a message"
	input.CharLimit = 0

	m := &model{
		ctx:      ctx,
		sess:     opts.Session,
		resolve:  opts.Resolve,
		me:       opts.Username,
		with:     opts.With,
		inbox:    newInbox(),
		st:       st,
		names:    make(map[string]string),
		list:     l,
		search:   search,
		viewport: viewport.New(0, 0),
		input:    input,
	}
	m.sess.Thread.OnUpdate(m.inbox.putThread)
	return m
}

func (m *model) Init() tea.Cmd {
	return tea.Batch(m.start(), m.inbox.wait(m.ctx))
}

func (m *model) start() tea.Cmd {
	sess, in := m.sess, m.inbox
	return func() tea.Msg {
		views, err := sess.Start(in.putViews)
		return startedMsg{views: views, err: err}
	}
}

func (m *model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		m.setSize(msg.Width, msg.Height)
		return m, nil

	case tea.KeyMsg:
		if msg.Type == tea.KeyCtrlC {
			return m, tea.Quit
		}
		m.notice = ""

	case startedMsg:
		// The subscription is live even when the first load fails, so a
		// later event or a manual refresh fills the list.
		if msg.err != nil {
			m.notice = friendlyError(msg.err)
		} else {
			m.setViews(msg.views)
		}
		if m.with != "" {
			name := m.with
			m.with = ""
			return m, m.openWithUsername(name)
		}
		return m, nil

	case inboxMsg:
		m.applyInbox(msg)
		return m, m.inbox.wait(m.ctx)

	case openedMsg:
		return m, m.handleOpened(msg)

	case sendDoneMsg:
		m.sending = false
		if msg.err != nil {
			m.notice = friendlyError(msg.err)
		}
		m.input.SetValue(m.sess.Composer.Draft())
		m.input.CursorEnd()
		return m, nil
	}

	switch m.active {
	case screenThread:
		return m, m.updateThread(msg)
	case screenNewChat:
		return m, m.updateNewChat(msg)
	default:
		return m, m.updateList(msg)
	}
}

func (m *model) setSize(w, h int) {
	m.width, m.height = w, h
	m.list.SetSize(w, h-4)
	m.search.Width = w - len(m.search.Prompt) - 1
	m.input.Width = w - len(m.input.Prompt) - 1
	m.viewport.Width = w
	m.viewport.Height = max(h-5, 1)
	m.renderThread()
}

func (m *model) applyInbox(msg inboxMsg) {
	if msg.hasViews {
		if msg.viewsErr != nil {
			m.notice = friendlyError(msg.viewsErr)
		} else {
			m.setViews(msg.views)
		}
	}
	if msg.hasThread && msg.thread.Version > m.threadSeen {
		m.threadSeen = msg.thread.Version
		m.thread = msg.thread
		m.renderThread()
	}
}

func (m *model) handleOpened(msg openedMsg) tea.Cmd {
	if msg.seq != m.openSeq {
		// A newer open superseded this one.
		return nil
	}
	if msg.err != nil {
		if errors.Is(msg.err, dm.ErrStale) {
			return nil
		}
		m.notice = friendlyError(msg.err)
		m.active = screenList
		return nil
	}
	if msg.otherID != "" {
		if _, ok := m.names[msg.otherID]; !ok {
			m.names[msg.otherID] = msg.otherName
		}
	}
	if snap := m.sess.Thread.Snapshot(); snap.Version > m.threadSeen {
		m.threadSeen = snap.Version
		m.thread = snap
	}
	m.active = screenThread
	m.input.Reset()
	m.renderThread()
	return m.input.Focus()
}

// selectConversation opens id on the session's thread off the UI loop.
func (m *model) selectConversation(id string) tea.Cmd {
	m.openSeq++
	seq, sess := m.openSeq, m.sess
	return func() tea.Msg {
		return openedMsg{seq: seq, conversationID: id, err: sess.Select(id)}
	}
}

// openWithUsername is the deep link: find or create the conversation with
// the named user and open it.
func (m *model) openWithUsername(name string) tea.Cmd {
	m.openSeq++
	seq, ctx, sess, resolve := m.openSeq, m.ctx, m.sess, m.resolve
	name = strings.TrimSpace(name)
	return func() tea.Msg {
		otherID, err := resolve(ctx, name)
		if err != nil {
			log.Printf("tui: resolve %q: %v", name, err)
			return openedMsg{seq: seq, err: dm.ErrUnknownUser}
		}
		id, err := sess.OpenChatWith(ctx, otherID)
		return openedMsg{seq: seq, conversationID: id, otherID: otherID, otherName: name, err: err}
	}
}

func (m *model) View() string {
	var b strings.Builder
	switch m.active {
	case screenThread:
		b.WriteString(m.viewThread())
	case screenNewChat:
		b.WriteString(m.st.title.Render("New conversation"))
		b.WriteString("\n\n")
		if m.form != nil {
			b.WriteString(m.form.View())
		}
		b.WriteString("\n\n" + m.st.help.Render("(esc to cancel)"))
	default:
		b.WriteString(m.viewList())
	}
	if m.notice != "" {
		b.WriteString("\n" + m.st.notice.Render(m.notice))
	}
	return b.String()
}

func friendlyError(err error) string {
	switch {
	case errors.Is(err, dm.ErrNotFound):
		return "That conversation is not available."
	case errors.Is(err, dm.ErrUnknownUser), errors.Is(err, user.ErrNotFound):
		return "No such user."
	case errors.Is(err, dm.ErrSelfConversation), errors.Is(err, message.ErrSelfConversation):
		return "You can't start a conversation with yourself."
	case errors.Is(err, dm.ErrEmptyMessage):
		return "Type a message first."
	case errors.Is(err, dm.ErrMessageTooLong):
		return "That message is too long."
	case errors.Is(err, dm.ErrInvalidText):
		return "That message contains characters that can't be sent."
	case errors.Is(err, dm.ErrSendInFlight):
		return "Still sending the previous message."
	case errors.Is(err, dm.ErrNoThread):
		return "Open a conversation first."
	default:
		return fmt.Sprintf("Something went wrong: %v", err)
	}
}
