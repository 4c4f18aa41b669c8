package dm

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/notepid/twilight_dm/internal/message"
)

// Composer validates and sends outgoing messages. One composer allows at
// most one send in flight.
type Composer struct {
	store  Store
	maxLen int

	mu       sync.Mutex
	inflight bool
	draft    string
}

// NewComposer creates a composer with the given message length limit.
func NewComposer(store Store, maxLen int) *Composer {
	if maxLen <= 0 {
		maxLen = DefaultMaxLength
	}
	return &Composer{store: store, maxLen: maxLen}
}

// SetDraft replaces the pending input text.
func (c *Composer) SetDraft(text string) {
	c.mu.Lock()
	c.draft = text
	c.mu.Unlock()
}

// Draft returns the pending input text.
func (c *Composer) Draft() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draft
}

// Submit sends the draft. The draft is cleared on success and kept on any
// failure so the user can retry.
func (c *Composer) Submit(ctx context.Context, conversationID, senderID, recipientID string) (*message.Message, error) {
	draft := c.Draft()
	m, err := c.Send(ctx, conversationID, senderID, recipientID, draft)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	if c.draft == draft {
		c.draft = ""
	}
	c.mu.Unlock()
	return m, nil
}

// Send inserts a message and then bumps the conversation's recency marker.
// Blank text is rejected before any store call. A failed bump is logged
// and not returned: the next send or directory refresh corrects it.
func (c *Composer) Send(ctx context.Context, conversationID, senderID, recipientID, text string) (*message.Message, error) {
	content, err := ValidateMessage(text, c.maxLen)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if c.inflight {
		c.mu.Unlock()
		return nil, ErrSendInFlight
	}
	c.inflight = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.inflight = false
		c.mu.Unlock()
	}()

	m, err := c.store.InsertMessage(ctx, conversationID, senderID, recipientID, content)
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}

	if err := c.store.TouchConversation(ctx, conversationID, m.CreatedAt); err != nil {
		log.Printf("dm: bump conversation %s after message %s: %v", conversationID, m.ID, err)
	}
	return m, nil
}
