package dm

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/notepid/twilight_dm/internal/message"
)

func TestComposerRejectsBlankBeforeStore(t *testing.T) {
	e := newTestEnv(t)
	store := &scriptedStore{Store: e.messages}
	c := NewComposer(store, 0)

	for _, text := range []string{"", "   ", "\n\t  \n"} {
		if _, err := c.Send(context.Background(), "conv", "a", "b", text); !errors.Is(err, ErrEmptyMessage) {
			t.Fatalf("expected ErrEmptyMessage for %q, got %v", text, err)
		}
	}
	if n := store.insertCalls.Load(); n != 0 {
		t.Fatalf("expected no store calls, got %d", n)
	}
}

func TestComposerRejectsTooLongAndInvalid(t *testing.T) {
	e := newTestEnv(t)
	store := &scriptedStore{Store: e.messages}
	c := NewComposer(store, 5)

	if _, err := c.Send(context.Background(), "conv", "a", "b", "abcdef"); !errors.Is(err, ErrMessageTooLong) {
		t.Fatalf("expected ErrMessageTooLong, got %v", err)
	}
	if _, err := c.Send(context.Background(), "conv", "a", "b", "ok\xff"); !errors.Is(err, ErrInvalidText) {
		t.Fatalf("expected ErrInvalidText, got %v", err)
	}
	if n := store.insertCalls.Load(); n != 0 {
		t.Fatalf("expected no store calls, got %d", n)
	}
}

func TestComposerTrimsAndStores(t *testing.T) {
	e := newTestEnv(t)
	a := e.addUser(t, "a", "")
	b := e.addUser(t, "b", "")
	conv := e.conversation(t, a, b)

	m, err := NewComposer(e.messages, 0).Send(context.Background(), conv, a, b, "  hello there \n")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if m.Content != "hello there" {
		t.Fatalf("expected trimmed content, got %q", m.Content)
	}
	if m.ReadAt != nil {
		t.Fatalf("expected new message to be unread")
	}
	c, _ := e.messages.GetConversation(context.Background(), conv)
	if !c.LastMessageAt.Equal(m.CreatedAt) {
		t.Fatalf("expected last_message_at %v, got %v", m.CreatedAt, c.LastMessageAt)
	}
}

func TestComposerAllowsOneSendInFlight(t *testing.T) {
	e := newTestEnv(t)
	a := e.addUser(t, "a", "")
	b := e.addUser(t, "b", "")
	conv := e.conversation(t, a, b)

	store := &scriptedStore{Store: e.messages, insertGate: make(chan struct{})}
	c := NewComposer(store, 0)

	done := make(chan error, 1)
	go func() {
		_, err := c.Send(context.Background(), conv, a, b, "first")
		done <- err
	}()
	waitFor(t, "first insert to start", func() bool { return store.insertCalls.Load() == 1 })

	if _, err := c.Send(context.Background(), conv, a, b, "second"); !errors.Is(err, ErrSendInFlight) {
		t.Fatalf("expected ErrSendInFlight, got %v", err)
	}
	if n := store.insertCalls.Load(); n != 1 {
		t.Fatalf("expected the overlapping send to skip the store, got %d calls", n)
	}

	close(store.insertGate)
	if err := <-done; err != nil {
		t.Fatalf("first send: %v", err)
	}
	if _, err := c.Send(context.Background(), conv, a, b, "third"); err != nil {
		t.Fatalf("expected composer to accept a send after the first finished, got %v", err)
	}
	msgs, _ := e.messages.ListMessages(context.Background(), conv)
	if got := contents(msgs); !equalStrings(got, []string{"first", "third"}) {
		t.Fatalf("expected [first third], got %v", got)
	}
}

func TestComposerToleratesFailedBump(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	a := e.addUser(t, "a", "")
	b := e.addUser(t, "b", "")
	conv := e.conversation(t, a, b)
	time.Sleep(2 * time.Millisecond)

	store := &scriptedStore{Store: e.messages, touchErr: errors.New("disk full")}
	c := NewComposer(store, 0)
	m, err := c.Send(ctx, conv, a, b, "kept")
	if err != nil {
		t.Fatalf("expected the send to succeed despite the bump failure, got %v", err)
	}
	if msgs, _ := e.messages.ListMessages(ctx, conv); len(msgs) != 1 {
		t.Fatalf("expected the message to be stored")
	}
	stale, _ := e.messages.GetConversation(ctx, conv)
	if !stale.LastMessageAt.Before(m.CreatedAt) {
		t.Fatalf("expected the marker to lag behind after a failed bump")
	}

	// The directory still orders by the real last message.
	views, err := NewDirectory(e.messages, e.users, e.broker, 1).Load(ctx, a)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !views[0].RecencyAt().Equal(m.CreatedAt) {
		t.Fatalf("expected recency %v, got %v", m.CreatedAt, views[0].RecencyAt())
	}

	store.touchErr = nil
	m2, err := c.Send(ctx, conv, b, a, "next")
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	healed, _ := e.messages.GetConversation(ctx, conv)
	if !healed.LastMessageAt.Equal(m2.CreatedAt) {
		t.Fatalf("expected the next send to correct the marker")
	}
}

func TestComposerDraftKeptOnFailureClearedOnSuccess(t *testing.T) {
	e := newTestEnv(t)
	a := e.addUser(t, "a", "")
	b := e.addUser(t, "b", "")
	conv := e.conversation(t, a, b)

	store := &scriptedStore{Store: e.messages, insertErr: errors.New("offline")}
	c := NewComposer(store, 0)
	c.SetDraft("retry me")

	if _, err := c.Submit(context.Background(), conv, a, b); err == nil {
		t.Fatalf("expected submit to fail")
	}
	if c.Draft() != "retry me" {
		t.Fatalf("expected draft kept after failure, got %q", c.Draft())
	}

	store.insertErr = nil
	if _, err := c.Submit(context.Background(), conv, a, b); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if c.Draft() != "" {
		t.Fatalf("expected draft cleared after success, got %q", c.Draft())
	}
}

func TestComposerRejectsOutsider(t *testing.T) {
	e := newTestEnv(t)
	a := e.addUser(t, "a", "")
	b := e.addUser(t, "b", "")
	x := e.addUser(t, "x", "")
	conv := e.conversation(t, a, b)

	_, err := NewComposer(e.messages, 0).Send(context.Background(), conv, x, a, "sneaky")
	if !errors.Is(err, message.ErrNotParticipant) {
		t.Fatalf("expected send by non-participant to fail, got %v", err)
	}
}
