// Package dm implements direct messaging between two users: the
// conversation directory with unread accounting, the live message thread
// with read receipts, the composer, and find-or-create of conversations.
//
// The package consumes storage, the event feed and profile lookup through
// the small interfaces below; internal/message and internal/user provide
// the SQLite-backed implementations.
package dm

import (
	"context"
	"errors"
	"time"

	"github.com/notepid/twilight_dm/internal/message"
	"github.com/notepid/twilight_dm/internal/user"
)

var (
	// ErrEmptyMessage is returned before any store call when the text is blank.
	ErrEmptyMessage = errors.New("message cannot be empty")
	// ErrMessageTooLong is returned when the text exceeds the configured limit.
	ErrMessageTooLong = errors.New("message too long")
	// ErrInvalidText is returned for text that is not valid UTF-8.
	ErrInvalidText = errors.New("message contains invalid UTF-8")
	// ErrSendInFlight is returned when a composer is already sending.
	ErrSendInFlight = errors.New("a send is already in progress")
	// ErrNotFound covers both a missing conversation and one the viewer is
	// not a participant of.
	ErrNotFound = errors.New("conversation not found")
	// ErrUnknownUser is returned when a deep link names a user that does not exist.
	ErrUnknownUser = errors.New("unknown user")
	// ErrSelfConversation is returned when opening a conversation with oneself.
	ErrSelfConversation = errors.New("cannot open a conversation with yourself")
	// ErrStale is returned by an operation superseded by a newer one.
	ErrStale = errors.New("superseded by a newer request")
	// ErrNoThread is returned when sending with no open thread.
	ErrNoThread = errors.New("no conversation is open")
)

// Store is the persistence the core reads and writes.
type Store interface {
	GetConversation(ctx context.Context, id string) (*message.Conversation, error)
	FindConversation(ctx context.Context, a, b string) (*message.Conversation, error)
	CreateConversation(ctx context.Context, a, b string) (*message.Conversation, error)
	ListConversations(ctx context.Context, userID string) ([]*message.Conversation, error)
	TouchConversation(ctx context.Context, id string, at time.Time) error

	ListMessages(ctx context.Context, conversationID string) ([]*message.Message, error)
	LastMessage(ctx context.Context, conversationID string) (*message.Message, error)
	CountUnread(ctx context.Context, conversationID, userID string) (int, error)
	InsertMessage(ctx context.Context, conversationID, senderID, recipientID, content string) (*message.Message, error)
	MarkRead(ctx context.Context, conversationID, readerID string) (int64, error)
}

// Feed delivers change events per topic. *message.Broker satisfies it.
type Feed interface {
	Subscribe(topic string, buffer int) *message.Subscription
}

// ProfileLookup resolves public profiles in one batch.
type ProfileLookup interface {
	LookupProfiles(ctx context.Context, ids []string) (map[string]user.Profile, error)
}

var (
	_ Store         = (*message.Repo)(nil)
	_ Feed          = (*message.Broker)(nil)
	_ ProfileLookup = (*user.Repo)(nil)
)
