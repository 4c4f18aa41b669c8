package tui

import (
	"context"
	"sync"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/notepid/twilight_dm/internal/dm"
)

// inbox carries session callbacks into the bubbletea loop. Callbacks never
// block: the latest directory list and the newest thread snapshot replace
// whatever is still waiting, and one wake-up is enough to pick both up.
type inbox struct {
	mu sync.Mutex

	views    []dm.ConversationView
	viewsErr error
	hasViews bool

	thread    dm.ThreadUpdate
	hasThread bool

	wake chan struct{}
}

type inboxMsg struct {
	views    []dm.ConversationView
	viewsErr error
	hasViews bool

	thread    dm.ThreadUpdate
	hasThread bool
}

func newInbox() *inbox {
	return &inbox{wake: make(chan struct{}, 1)}
}

func (in *inbox) putViews(views []dm.ConversationView, err error) {
	in.mu.Lock()
	in.views, in.viewsErr, in.hasViews = views, err, true
	in.mu.Unlock()
	in.signal()
}

// putThread keeps only the highest version seen.
func (in *inbox) putThread(up dm.ThreadUpdate) {
	in.mu.Lock()
	if in.hasThread && up.Version < in.thread.Version {
		in.mu.Unlock()
		return
	}
	in.thread, in.hasThread = up, true
	in.mu.Unlock()
	in.signal()
}

func (in *inbox) signal() {
	select {
	case in.wake <- struct{}{}:
	default:
	}
}

func (in *inbox) take() inboxMsg {
	in.mu.Lock()
	defer in.mu.Unlock()
	msg := inboxMsg{
		views: in.views, viewsErr: in.viewsErr, hasViews: in.hasViews,
		thread: in.thread, hasThread: in.hasThread,
	}
	in.views, in.viewsErr, in.hasViews = nil, nil, false
	in.hasThread = false
	return msg
}

// wait returns a command that blocks until something arrives or ctx ends.
func (in *inbox) wait(ctx context.Context) tea.Cmd {
	return func() tea.Msg {
		select {
		case <-in.wake:
			return in.take()
		case <-ctx.Done():
			return nil
		}
	}
}
