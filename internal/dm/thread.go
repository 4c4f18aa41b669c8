package dm

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/notepid/twilight_dm/internal/message"
)

// ThreadState is the lifecycle of a thread.
type ThreadState int

const (
	ThreadUnopened ThreadState = iota
	ThreadLoading
	ThreadReady
	ThreadDenied
	ThreadFailed
	ThreadClosed
)

func (s ThreadState) String() string {
	switch s {
	case ThreadUnopened:
		return "unopened"
	case ThreadLoading:
		return "loading"
	case ThreadReady:
		return "ready"
	case ThreadDenied:
		return "denied"
	case ThreadFailed:
		return "failed"
	case ThreadClosed:
		return "closed"
	default:
		return fmt.Sprintf("ThreadState(%d)", int(s))
	}
}

// ThreadUpdate is a snapshot of the thread. Version increases with every
// change; consumers drop snapshots older than one they already applied.
type ThreadUpdate struct {
	Version        uint64
	ConversationID string
	State          ThreadState
	Conversation   *message.Conversation
	Messages       []*message.Message
	Err            error
}

// Thread holds the ordered message buffer for the one open conversation.
type Thread struct {
	store Store
	feed  Feed

	mu       sync.Mutex
	gen      uint64
	version  uint64
	state    ThreadState
	convID   string
	userID   string
	conv     *message.Conversation
	messages []*message.Message
	seen     map[string]struct{}
	sub      *message.Subscription
	cancel   context.CancelFunc
	err      error
	onUpdate func(ThreadUpdate)
}

// NewThread creates an unopened thread.
func NewThread(store Store, feed Feed) *Thread {
	return &Thread{store: store, feed: feed}
}

// OnUpdate registers a callback run after every state or buffer change.
// It is called without locks held and must not block.
func (t *Thread) OnUpdate(fn func(ThreadUpdate)) {
	t.mu.Lock()
	t.onUpdate = fn
	t.mu.Unlock()
}

// Open loads a conversation for userID. Any previously open conversation
// is closed first and its late results are discarded. The sequence is:
// subscribe (events held), fetch history, mark read, then apply held and
// live events deduplicated by message id.
func (t *Thread) Open(ctx context.Context, conversationID, userID string) error {
	t.mu.Lock()
	t.releaseLocked()
	t.gen++
	gen := t.gen
	octx, cancel := context.WithCancel(ctx)
	t.cancel = cancel
	t.convID, t.userID = conversationID, userID
	t.conv = nil
	t.messages = nil
	t.seen = make(map[string]struct{})
	t.err = nil
	t.setStateLocked(ThreadLoading)
	up := t.snapshotLocked()
	t.mu.Unlock()
	t.notify(up)

	conv, err := t.store.GetConversation(octx, conversationID)
	if err == nil && !conv.Has(userID) {
		err = message.ErrNotFound
	}
	if err != nil {
		return t.fail(gen, err)
	}

	sub := t.feed.Subscribe(message.ConversationTopic(conversationID), 0)
	t.mu.Lock()
	if t.gen != gen {
		t.mu.Unlock()
		sub.Close()
		return ErrStale
	}
	t.sub = sub
	t.conv = conv
	t.mu.Unlock()

	history, err := t.store.ListMessages(octx, conversationID)
	if err != nil {
		return t.fail(gen, err)
	}

	t.mu.Lock()
	if t.gen != gen {
		t.mu.Unlock()
		return ErrStale
	}
	for _, m := range history {
		t.insertLocked(m)
	}
	t.mu.Unlock()

	if _, err := t.store.MarkRead(octx, conversationID, userID); err != nil {
		if t.isCurrent(gen) {
			log.Printf("dm: mark read %s for %s: %v", conversationID, userID, err)
		}
	} else {
		t.markLocalRead(gen, "")
	}

	t.mu.Lock()
	if t.gen != gen {
		t.mu.Unlock()
		return ErrStale
	}
	t.setStateLocked(ThreadReady)
	up = t.snapshotLocked()
	t.mu.Unlock()
	t.notify(up)

	go t.listen(octx, gen, sub)
	return nil
}

// Close releases the conversation subscription. Safe to call repeatedly.
func (t *Thread) Close() {
	t.mu.Lock()
	if t.state == ThreadUnopened || t.state == ThreadClosed {
		t.mu.Unlock()
		return
	}
	t.releaseLocked()
	t.gen++
	t.setStateLocked(ThreadClosed)
	up := t.snapshotLocked()
	t.mu.Unlock()
	t.notify(up)
}

// Snapshot returns the current state and a copy of the buffer.
func (t *Thread) Snapshot() ThreadUpdate {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.snapshotLocked()
}

// ConversationID returns the open conversation, or "" when none.
func (t *Thread) ConversationID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == ThreadClosed || t.state == ThreadUnopened {
		return ""
	}
	return t.convID
}

// Conversation returns the open conversation once it has been resolved.
func (t *Thread) Conversation() *message.Conversation {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != ThreadReady && t.state != ThreadLoading {
		return nil
	}
	return t.conv
}

func (t *Thread) listen(ctx context.Context, gen uint64, sub *message.Subscription) {
	for {
		select {
		case <-sub.Done():
			return
		case <-ctx.Done():
			return
		case ev := <-sub.Events():
			if sub.Lagged() {
				t.resync(ctx, gen)
			}
			switch ev.Kind {
			case message.EventInsert:
				if ev.Message != nil {
					t.apply(ctx, gen, ev.Message)
				}
			case message.EventRead:
				t.applyRead(ctx, gen, ev)
			}
		}
	}
}

// apply appends one pushed message. Events for a superseded open or for
// another conversation are discarded.
func (t *Thread) apply(ctx context.Context, gen uint64, m *message.Message) {
	t.mu.Lock()
	if t.gen != gen || t.state != ThreadReady || m.ConversationID != t.convID {
		t.mu.Unlock()
		return
	}
	if !t.insertLocked(m) {
		t.mu.Unlock()
		return
	}
	incoming := m.RecipientID == t.userID && m.ReadAt == nil
	convID, userID := t.convID, t.userID
	up := t.snapshotLocked()
	t.mu.Unlock()
	t.notify(up)

	if !incoming {
		return
	}
	// The viewer has the thread open, so the message is observed now.
	if _, err := t.store.MarkRead(ctx, convID, userID); err != nil {
		if !errors.Is(err, context.Canceled) {
			log.Printf("dm: mark read %s for %s: %v", convID, userID, err)
		}
		return
	}
	t.markLocalRead(gen, m.ID)
}

// applyRead shows the other participant's read receipt on my messages.
// The viewer's own reads are already reflected by markLocalRead.
func (t *Thread) applyRead(ctx context.Context, gen uint64, ev message.Event) {
	t.mu.Lock()
	if t.gen != gen || t.state != ThreadReady || ev.ConversationID != t.convID || ev.ReaderID == t.userID {
		t.mu.Unlock()
		return
	}
	at := ev.ReadAt
	var marked int64
	for i, m := range t.messages {
		if m.RecipientID != ev.ReaderID || m.ReadAt != nil || (ev.MessageID != "" && m.ID != ev.MessageID) {
			continue
		}
		cp := *m
		cp.ReadAt = &at
		t.messages[i] = &cp
		marked++
	}
	if marked > 0 {
		t.version++
	}
	up := t.snapshotLocked()
	t.mu.Unlock()
	if marked > 0 {
		t.notify(up)
	}
	// The receipt covers rows whose insert event has not arrived yet.
	if marked < ev.Count {
		t.resync(ctx, gen)
	}
}

// resync merges the stored history after the feed dropped events. Read
// receipts in the store are copied onto buffered messages.
func (t *Thread) resync(ctx context.Context, gen uint64) {
	t.mu.Lock()
	convID := t.convID
	t.mu.Unlock()

	history, err := t.store.ListMessages(ctx, convID)
	if err != nil {
		log.Printf("dm: resync %s: %v", convID, err)
		return
	}
	t.mu.Lock()
	if t.gen != gen {
		t.mu.Unlock()
		return
	}
	changed := false
	for _, m := range history {
		if t.insertLocked(m) || t.syncReadLocked(m) {
			changed = true
		}
	}
	if !changed {
		t.mu.Unlock()
		return
	}
	up := t.snapshotLocked()
	t.mu.Unlock()
	t.notify(up)
}

// insertLocked places m by store sequence. Duplicates are ignored.
func (t *Thread) insertLocked(m *message.Message) bool {
	if _, dup := t.seen[m.ID]; dup {
		return false
	}
	t.seen[m.ID] = struct{}{}
	cp := *m
	i := sort.Search(len(t.messages), func(i int) bool { return t.messages[i].Seq > m.Seq })
	t.messages = append(t.messages, nil)
	copy(t.messages[i+1:], t.messages[i:])
	t.messages[i] = &cp
	t.version++
	return true
}

// syncReadLocked copies a stored read_at onto the buffered copy of m.
func (t *Thread) syncReadLocked(m *message.Message) bool {
	if m.ReadAt == nil {
		return false
	}
	i := sort.Search(len(t.messages), func(i int) bool { return t.messages[i].Seq >= m.Seq })
	if i == len(t.messages) || t.messages[i].ID != m.ID || t.messages[i].ReadAt != nil {
		return false
	}
	cp := *t.messages[i]
	at := *m.ReadAt
	cp.ReadAt = &at
	t.messages[i] = &cp
	t.version++
	return true
}

// markLocalRead reflects a successful MarkRead in the buffer. With an
// empty id every unread message addressed to the viewer is updated.
func (t *Thread) markLocalRead(gen uint64, id string) {
	t.mu.Lock()
	if t.gen != gen {
		t.mu.Unlock()
		return
	}
	now := time.Now().UTC()
	changed := false
	for i, m := range t.messages {
		if m.RecipientID != t.userID || m.ReadAt != nil || (id != "" && m.ID != id) {
			continue
		}
		cp := *m
		cp.ReadAt = &now
		t.messages[i] = &cp
		changed = true
	}
	if !changed {
		t.mu.Unlock()
		return
	}
	t.version++
	up := t.snapshotLocked()
	t.mu.Unlock()
	t.notify(up)
}

func (t *Thread) fail(gen uint64, err error) error {
	t.mu.Lock()
	if t.gen != gen {
		t.mu.Unlock()
		return ErrStale
	}
	t.releaseLocked()
	t.messages = nil
	if errors.Is(err, message.ErrNotFound) {
		err = ErrNotFound
		t.setStateLocked(ThreadDenied)
	} else {
		err = fmt.Errorf("open thread %s: %w", t.convID, err)
		t.setStateLocked(ThreadFailed)
	}
	t.err = err
	up := t.snapshotLocked()
	t.mu.Unlock()
	t.notify(up)
	return err
}

func (t *Thread) isCurrent(gen uint64) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.gen == gen
}

func (t *Thread) releaseLocked() {
	if t.cancel != nil {
		t.cancel()
		t.cancel = nil
	}
	if t.sub != nil {
		t.sub.Close()
		t.sub = nil
	}
}

func (t *Thread) setStateLocked(s ThreadState) {
	t.state = s
	t.version++
}

func (t *Thread) snapshotLocked() ThreadUpdate {
	msgs := make([]*message.Message, len(t.messages))
	copy(msgs, t.messages)
	return ThreadUpdate{
		Version:        t.version,
		ConversationID: t.convID,
		State:          t.state,
		Conversation:   t.conv,
		Messages:       msgs,
		Err:            t.err,
	}
}

func (t *Thread) notify(up ThreadUpdate) {
	t.mu.Lock()
	fn := t.onUpdate
	t.mu.Unlock()
	if fn != nil {
		fn(up)
	}
}
