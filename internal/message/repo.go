package message

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrNotFound is returned when a conversation or message does not exist.
	ErrNotFound = errors.New("not found")
	// ErrConversationExists is returned when a create lost the race to a
	// concurrent creator for the same pair.
	ErrConversationExists = errors.New("conversation already exists")
	// ErrNotParticipant is returned when a write names a user that is not
	// part of the conversation.
	ErrNotParticipant = errors.New("not a participant")
	// ErrSelfConversation is returned for a pair made of one user.
	ErrSelfConversation = errors.New("cannot converse with self")
)

// Repo handles database operations for conversations and messages and
// publishes change events once writes commit.
type Repo struct {
	db     *sql.DB
	broker *Broker
	now    func() time.Time
}

// NewRepo creates a new message repository. broker may be nil, in which
// case no events are published.
func NewRepo(db *sql.DB, broker *Broker) *Repo {
	return &Repo{db: db, broker: broker, now: time.Now}
}

// Broker returns the feed the repo publishes to.
func (r *Repo) Broker() *Broker { return r.broker }

// orderedPair returns the pair in storage order.
func orderedPair(a, b string) (string, string) {
	if a < b {
		return a, b
	}
	return b, a
}

const conversationColumns = `id, participant_1, participant_2, last_message_at, created_at`

// GetConversation returns a single conversation by ID.
func (r *Repo) GetConversation(ctx context.Context, id string) (*Conversation, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+conversationColumns+` FROM conversations WHERE id = ?`, id)
	c, err := scanConversation(row)
	if err != nil {
		return nil, fmt.Errorf("get conversation %s: %w", id, err)
	}
	return c, nil
}

// FindConversation returns the conversation between two users.
func (r *Repo) FindConversation(ctx context.Context, a, b string) (*Conversation, error) {
	p1, p2 := orderedPair(a, b)
	row := r.db.QueryRowContext(ctx, `
		SELECT `+conversationColumns+` FROM conversations
		WHERE participant_1 = ? AND participant_2 = ?
	`, p1, p2)
	c, err := scanConversation(row)
	if err != nil {
		return nil, fmt.Errorf("find conversation: %w", err)
	}
	return c, nil
}

// CreateConversation inserts a conversation for the pair. It never
// creates a second row for a pair: if one already exists it returns
// ErrConversationExists and the caller should re-query.
func (r *Repo) CreateConversation(ctx context.Context, a, b string) (*Conversation, error) {
	if a == "" || b == "" {
		return nil, fmt.Errorf("create conversation: %w", ErrNotParticipant)
	}
	if a == b {
		return nil, fmt.Errorf("create conversation: %w", ErrSelfConversation)
	}

	p1, p2 := orderedPair(a, b)
	now := time.UnixMicro(r.now().UnixMicro()).UTC()
	c := &Conversation{
		ID:            uuid.NewString(),
		Participant1:  p1,
		Participant2:  p2,
		LastMessageAt: now,
		CreatedAt:     now,
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO conversations (id, participant_1, participant_2, last_message_at, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(participant_1, participant_2) DO NOTHING
	`, c.ID, p1, p2, now.UnixMicro(), now.UnixMicro())
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	if n == 0 {
		return nil, ErrConversationExists
	}
	return c, nil
}

// ListConversations returns every conversation userID participates in,
// most recent first.
func (r *Repo) ListConversations(ctx context.Context, userID string) ([]*Conversation, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+conversationColumns+` FROM conversations
		WHERE participant_1 = ? OR participant_2 = ?
		ORDER BY last_message_at DESC, id
	`, userID, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var convs []*Conversation
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, fmt.Errorf("list conversations: %w", err)
		}
		convs = append(convs, c)
	}
	return convs, rows.Err()
}

// TouchConversation advances last_message_at to at. The marker never
// moves backwards.
func (r *Repo) TouchConversation(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE conversations SET last_message_at = MAX(last_message_at, ?) WHERE id = ?
	`, at.UnixMicro(), id)
	if err != nil {
		return fmt.Errorf("touch conversation %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("touch conversation %s: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("touch conversation %s: %w", id, ErrNotFound)
	}
	return nil
}

const messageColumns = `seq, id, conversation_id, sender_id, recipient_id, content, created_at, read_at`

// ListMessages returns a conversation's messages in insertion order.
func (r *Repo) ListMessages(ctx context.Context, conversationID string) ([]*Message, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE conversation_id = ?
		ORDER BY seq ASC
	`, conversationID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var messages []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("list messages: %w", err)
		}
		messages = append(messages, m)
	}
	return messages, rows.Err()
}

// LastMessage returns the most recent message, or nil when the
// conversation is empty.
func (r *Repo) LastMessage(ctx context.Context, conversationID string) (*Message, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT `+messageColumns+` FROM messages
		WHERE conversation_id = ?
		ORDER BY seq DESC LIMIT 1
	`, conversationID)
	m, err := scanMessage(row)
	if errors.Is(err, ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("last message %s: %w", conversationID, err)
	}
	return m, nil
}

// CountUnread returns the number of messages addressed to userID that have
// no read timestamp.
func (r *Repo) CountUnread(ctx context.Context, conversationID, userID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM messages
		WHERE conversation_id = ? AND recipient_id = ? AND read_at IS NULL
	`, conversationID, userID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count unread %s: %w", conversationID, err)
	}
	return count, nil
}

// InsertMessage stores a new unread message. The row is only written when
// sender and recipient are the conversation's two participants.
func (r *Repo) InsertMessage(ctx context.Context, conversationID, senderID, recipientID, content string) (*Message, error) {
	if senderID == recipientID {
		return nil, fmt.Errorf("insert message: %w", ErrSelfConversation)
	}

	p1, p2 := orderedPair(senderID, recipientID)
	m := &Message{
		ID:             uuid.NewString(),
		ConversationID: conversationID,
		SenderID:       senderID,
		RecipientID:    recipientID,
		Content:        content,
		CreatedAt:      time.UnixMicro(r.now().UnixMicro()).UTC(),
	}

	res, err := r.db.ExecContext(ctx, `
		INSERT INTO messages (id, conversation_id, sender_id, recipient_id, content, created_at)
		SELECT ?, id, ?, ?, ?, ? FROM conversations
		WHERE id = ? AND participant_1 = ? AND participant_2 = ?
	`, m.ID, senderID, recipientID, content, m.CreatedAt.UnixMicro(), conversationID, p1, p2)
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}
	if n == 0 {
		return nil, fmt.Errorf("insert message into %s: %w", conversationID, ErrNotParticipant)
	}
	if m.Seq, err = res.LastInsertId(); err != nil {
		return nil, fmt.Errorf("insert message: %w", err)
	}

	r.publish(RecipientTopic(recipientID), Event{Kind: EventInsert, ConversationID: conversationID, Message: m})
	r.publish(ConversationTopic(conversationID), Event{Kind: EventInsert, ConversationID: conversationID, Message: m})
	return m, nil
}

// MarkRead sets read_at on every unread message in the conversation
// addressed to readerID. Messages readerID sent are never touched.
// Returns the number of rows changed; zero means nothing was unread.
func (r *Repo) MarkRead(ctx context.Context, conversationID, readerID string) (int64, error) {
	now := r.now().UnixMicro()
	res, err := r.db.ExecContext(ctx, `
		UPDATE messages SET read_at = ?
		WHERE conversation_id = ? AND recipient_id = ? AND read_at IS NULL
	`, now, conversationID, readerID)
	if err != nil {
		return 0, fmt.Errorf("mark read %s: %w", conversationID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("mark read %s: %w", conversationID, err)
	}
	if n > 0 {
		ev := Event{Kind: EventRead, ConversationID: conversationID, ReaderID: readerID, ReadAt: time.UnixMicro(now).UTC(), Count: n}
		r.publish(RecipientTopic(readerID), ev)
		r.publish(ConversationTopic(conversationID), ev)
	}
	return n, nil
}

// MarkMessageRead marks one message read on behalf of viewerID. It is a
// no-op, returning false, unless viewerID is the message's recipient and
// the message is still unread.
func (r *Repo) MarkMessageRead(ctx context.Context, messageID, viewerID string) (bool, error) {
	var conversationID string
	now := r.now().UnixMicro()
	err := r.db.QueryRowContext(ctx, `
		UPDATE messages SET read_at = ?
		WHERE id = ? AND recipient_id = ? AND read_at IS NULL
		RETURNING conversation_id
	`, now, messageID, viewerID).Scan(&conversationID)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("mark message read %s: %w", messageID, err)
	}
	ev := Event{Kind: EventRead, ConversationID: conversationID, ReaderID: viewerID, MessageID: messageID, ReadAt: time.UnixMicro(now).UTC(), Count: 1}
	r.publish(RecipientTopic(viewerID), ev)
	r.publish(ConversationTopic(conversationID), ev)
	return true, nil
}

// GetMessage returns a single message by ID.
func (r *Repo) GetMessage(ctx context.Context, id string) (*Message, error) {
	row := r.db.QueryRowContext(ctx, `SELECT `+messageColumns+` FROM messages WHERE id = ?`, id)
	m, err := scanMessage(row)
	if err != nil {
		return nil, fmt.Errorf("get message %s: %w", id, err)
	}
	return m, nil
}

func (r *Repo) publish(topic string, ev Event) {
	if r.broker == nil {
		return
	}
	r.broker.Publish(topic, ev)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanConversation(s scanner) (*Conversation, error) {
	c := &Conversation{}
	var last, created int64
	err := s.Scan(&c.ID, &c.Participant1, &c.Participant2, &last, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.LastMessageAt = time.UnixMicro(last).UTC()
	c.CreatedAt = time.UnixMicro(created).UTC()
	return c, nil
}

func scanMessage(s scanner) (*Message, error) {
	m := &Message{}
	var created int64
	var readAt sql.NullInt64
	err := s.Scan(&m.Seq, &m.ID, &m.ConversationID, &m.SenderID, &m.RecipientID,
		&m.Content, &created, &readAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	m.CreatedAt = time.UnixMicro(created).UTC()
	if readAt.Valid {
		t := time.UnixMicro(readAt.Int64).UTC()
		m.ReadAt = &t
	}
	return m, nil
}
