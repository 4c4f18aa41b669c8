package message

import (
	"time"

	"github.com/notepid/twilight_dm/internal/chat"
)

// Conversation is the durable pairing of two users. Participant1 always
// sorts before Participant2; callers should not rely on which slot a user
// occupies.
type Conversation struct {
	ID            string
	Participant1  string
	Participant2  string
	LastMessageAt time.Time
	CreatedAt     time.Time
}

// Has reports whether userID occupies either participant slot.
func (c *Conversation) Has(userID string) bool {
	return userID != "" && (c.Participant1 == userID || c.Participant2 == userID)
}

// Other returns the participant that is not me. ok is false when me is not
// a participant at all.
func (c *Conversation) Other(me string) (string, bool) {
	switch me {
	case "":
		return "", false
	case c.Participant1:
		return c.Participant2, c.Participant2 != me
	case c.Participant2:
		return c.Participant1, true
	default:
		return "", false
	}
}

// Message is a single direct message. Seq is the store's insertion order
// and is the only ordering used for display.
type Message struct {
	Seq            int64
	ID             string
	ConversationID string
	SenderID       string
	RecipientID    string
	Content        string
	CreatedAt      time.Time
	ReadAt         *time.Time // nil = unread
}

// Unread reports whether the message has not been read by its recipient.
func (m *Message) Unread() bool { return m.ReadAt == nil }

// EventKind identifies a change notification.
type EventKind int

const (
	EventInsert EventKind = iota + 1
	EventRead
)

func (k EventKind) String() string {
	switch k {
	case EventInsert:
		return "insert"
	case EventRead:
		return "read"
	default:
		return "unknown"
	}
}

// Event is published by the repo after a write commits.
type Event struct {
	Kind           EventKind
	ConversationID string
	Message        *Message // set for EventInsert
	ReaderID       string   // set for EventRead
	MessageID      string   // set for EventRead of a single message
	ReadAt         time.Time
	Count          int64 // rows marked read, for EventRead
}

// Broker is the event feed the repo publishes to.
type Broker = chat.Broker[Event]

// Subscription is a live listener on one feed topic.
type Subscription = chat.Subscription[Event]

// NewBroker creates an event feed for conversations and messages.
func NewBroker() *Broker {
	return chat.NewBroker[Event]()
}

// RecipientTopic carries inserts addressed to userID and read receipts
// written by userID.
func RecipientTopic(userID string) string { return "recipient:" + userID }

// ConversationTopic carries inserts into one conversation and read
// receipts written by either participant.
func ConversationTopic(conversationID string) string { return "conversation:" + conversationID }
