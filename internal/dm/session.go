package dm

import (
	"context"
	"fmt"
	"sync"

	"github.com/notepid/twilight_dm/internal/message"
)

// ChatOpener opens a chat with another user from anywhere in the app.
// Callers get it injected instead of reaching for shared state.
type ChatOpener interface {
	OpenChatWith(ctx context.Context, otherUserID string) (string, error)
}

// Deps are the collaborators a Session is built from.
type Deps struct {
	Store     Store
	Feed      Feed
	Profiles  ProfileLookup
	MaxLength int
	Workers   int
}

// Session is one signed-in user's messenger: a directory, at most one open
// thread, a composer and the deep-link opener.
type Session struct {
	UserID    string
	Directory *Directory
	Thread    *Thread
	Composer  *Composer
	Opener    *Opener

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

var _ ChatOpener = (*Session)(nil)

// NewSession wires the core for userID. ctx bounds every subscription the
// session creates.
func NewSession(ctx context.Context, userID string, deps Deps) *Session {
	sctx, cancel := context.WithCancel(ctx)
	return &Session{
		UserID:    userID,
		Directory: NewDirectory(deps.Store, deps.Profiles, deps.Feed, deps.Workers),
		Thread:    NewThread(deps.Store, deps.Feed),
		Composer:  NewComposer(deps.Store, deps.MaxLength),
		Opener:    NewOpener(deps.Store, deps.Profiles),
		ctx:       sctx,
		cancel:    cancel,
	}
}

// Start loads the directory and keeps it live. onChange receives every
// recompute after the initial load.
func (s *Session) Start(onChange func([]ConversationView, error)) ([]ConversationView, error) {
	views, err := s.Directory.Load(s.ctx, s.UserID)
	if subErr := s.Directory.Subscribe(s.ctx, s.UserID, onChange); subErr != nil {
		return views, subErr
	}
	return views, err
}

// Select opens a conversation in the thread, closing the previous one.
func (s *Session) Select(conversationID string) error {
	return s.Thread.Open(s.ctx, conversationID, s.UserID)
}

// OpenChatWith finds or creates the conversation with otherUserID and
// selects it.
func (s *Session) OpenChatWith(ctx context.Context, otherUserID string) (string, error) {
	id, err := s.Opener.OpenWith(ctx, s.UserID, otherUserID, OpenOptions{CreateIfMissing: true})
	if err != nil {
		return "", err
	}
	s.Directory.Refresh()
	if err := s.Select(id); err != nil {
		return id, err
	}
	return id, nil
}

// Send submits text to the open conversation's other participant.
func (s *Session) Send(ctx context.Context, text string) (*message.Message, error) {
	conv := s.Thread.Conversation()
	if conv == nil {
		return nil, ErrNoThread
	}
	other, ok := conv.Other(s.UserID)
	if !ok {
		return nil, ErrNotFound
	}
	s.Composer.SetDraft(text)
	m, err := s.Composer.Submit(ctx, conv.ID, s.UserID, other)
	if err != nil {
		return nil, err
	}
	s.Directory.Refresh()
	return m, nil
}

// Close releases the thread and directory subscriptions.
func (s *Session) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Thread.Close()
	s.Directory.Close()
	s.cancel()
}

// String is used in log lines.
func (s *Session) String() string {
	return fmt.Sprintf("session(%s)", s.UserID)
}
