package dm

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/notepid/twilight_dm/internal/message"
	"github.com/notepid/twilight_dm/internal/user"
)

func TestDirectoryLoadWithoutUserIsEmpty(t *testing.T) {
	e := newTestEnv(t)
	d := NewDirectory(e.messages, e.users, e.broker, 2)

	views, err := d.Load(context.Background(), "")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}
	if len(views) != 0 {
		t.Fatalf("expected empty list, got %d", len(views))
	}
}

func TestDirectoryLoadSummaries(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	me := e.addUser(t, "me", "Me")
	bob := e.addUser(t, "bob", "Bob")
	carol := e.addUser(t, "carol", "Carol")

	withBob := e.conversation(t, me, bob)
	withCarol := e.conversation(t, me, carol)

	e.send(t, withCarol, carol, me, "hi from carol")
	e.send(t, withBob, bob, me, "one")
	e.send(t, withBob, bob, me, "two")
	e.send(t, withBob, me, bob, "reply")

	profiles := &countingProfiles{ProfileLookup: e.users}
	d := NewDirectory(e.messages, profiles, e.broker, 2)
	views, err := d.Load(ctx, me)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if profiles.calls.Load() != 1 {
		t.Fatalf("expected exactly one batch profile lookup, got %d", profiles.calls.Load())
	}
	if len(views) != 2 {
		t.Fatalf("expected 2 conversations, got %d", len(views))
	}
	if views[0].Conversation.ID != withBob {
		t.Fatalf("expected most recent conversation first (bob), got %s", views[0].Name())
	}
	if views[0].Name() != "Bob" || views[0].OtherID != bob {
		t.Fatalf("expected counterpart Bob, got %q (%s)", views[0].Name(), views[0].OtherID)
	}
	if views[0].Unread != 2 {
		t.Fatalf("expected 2 unread from bob, got %d", views[0].Unread)
	}
	if views[0].LastMessage == nil || views[0].LastMessage.Content != "reply" {
		t.Fatalf("expected last message 'reply', got %+v", views[0].LastMessage)
	}
	if views[1].Unread != 1 || views[1].Name() != "Carol" {
		t.Fatalf("expected Carol with 1 unread, got %q %d", views[1].Name(), views[1].Unread)
	}
	if TotalUnread(views) != 3 {
		t.Fatalf("expected total unread 3, got %d", TotalUnread(views))
	}

	if got := d.Conversations(); len(got) != 2 {
		t.Fatalf("expected Conversations to return last load, got %d", len(got))
	}
}

func TestDirectoryKeepsConversationWithDeletedUser(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	me := e.addUser(t, "me", "")
	ghost := e.addUser(t, "ghost", "Ghost")
	conv := e.conversation(t, me, ghost)
	e.send(t, conv, ghost, me, "boo")

	if err := e.users.Delete(ctx, ghost); err != nil {
		t.Fatalf("Delete: %v", err)
	}

	views, err := NewDirectory(e.messages, e.users, e.broker, 1).Load(ctx, me)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("expected conversation to stay listed, got %d", len(views))
	}
	if views[0].OtherKnown {
		t.Fatalf("expected counterpart to be unknown")
	}
	if views[0].Name() != user.DeletedProfile(ghost).Name() {
		t.Fatalf("expected placeholder name, got %q", views[0].Name())
	}
	if views[0].Unread != 1 {
		t.Fatalf("expected history to stay reachable with 1 unread, got %d", views[0].Unread)
	}
}

func TestDirectoryRecencyCoversMissedBump(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	me := e.addUser(t, "me", "")
	bob := e.addUser(t, "bob", "")
	carol := e.addUser(t, "carol", "")
	withBob := e.conversation(t, me, bob)
	withCarol := e.conversation(t, me, carol)

	e.send(t, withCarol, carol, me, "earlier")
	// Insert without bumping, as if the client crashed between the writes.
	time.Sleep(2 * time.Millisecond)
	if _, err := e.messages.InsertMessage(ctx, withBob, bob, me, "later"); err != nil {
		t.Fatalf("InsertMessage: %v", err)
	}

	views, err := NewDirectory(e.messages, e.users, e.broker, 1).Load(ctx, me)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if views[0].Conversation.ID != withBob {
		t.Fatalf("expected bob's conversation first by its last message")
	}
}

func TestDirectorySubscribeRecomputesOnInsertAndRead(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	me := e.addUser(t, "me", "")
	bob := e.addUser(t, "bob", "")
	conv := e.conversation(t, me, bob)

	d := NewDirectory(e.messages, e.users, e.broker, 1)
	var mu sync.Mutex
	var latest []ConversationView
	if err := d.Subscribe(ctx, me, func(views []ConversationView, err error) {
		if err != nil {
			t.Errorf("refresh error: %v", err)
			return
		}
		mu.Lock()
		latest = views
		mu.Unlock()
	}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	defer d.Close()

	unread := func() int {
		mu.Lock()
		defer mu.Unlock()
		if len(latest) != 1 {
			return -1
		}
		return latest[0].Unread
	}

	e.send(t, conv, bob, me, "ping")
	waitFor(t, "unread 1", func() bool { return unread() == 1 })

	e.send(t, conv, bob, me, "ping again")
	waitFor(t, "unread 2", func() bool { return unread() == 2 })

	if _, err := e.messages.MarkRead(ctx, conv, me); err != nil {
		t.Fatalf("MarkRead: %v", err)
	}
	waitFor(t, "unread 0 after read", func() bool { return unread() == 0 })
}

func TestDirectoryCloseReleasesSubscription(t *testing.T) {
	e := newTestEnv(t)
	me := e.addUser(t, "me", "")
	d := NewDirectory(e.messages, e.users, e.broker, 1)

	if err := d.Subscribe(context.Background(), me, nil); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if n := e.broker.Subscribers(message.RecipientTopic(me)); n != 1 {
		t.Fatalf("expected 1 subscriber, got %d", n)
	}

	// Re-subscribing replaces, never stacks.
	if err := d.Subscribe(context.Background(), me, nil); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if n := e.broker.Subscribers(message.RecipientTopic(me)); n != 1 {
		t.Fatalf("expected 1 subscriber after resubscribe, got %d", n)
	}

	d.Close()
	d.Close()
	if n := e.broker.Topics(); n != 0 {
		t.Fatalf("expected no live topics after Close, got %d", n)
	}
}

func TestFilterConversations(t *testing.T) {
	views := []ConversationView{
		{Conversation: &message.Conversation{ID: "1"}, Other: user.Profile{DisplayName: "Alice Smith"}},
		{Conversation: &message.Conversation{ID: "2"}, Other: user.Profile{Username: "bob"}},
		{Conversation: &message.Conversation{ID: "3"}, Other: user.Profile{DisplayName: "Malice"}},
	}

	got := FilterConversations(views, "ALICE")
	if len(got) != 2 || got[0].Conversation.ID != "1" || got[1].Conversation.ID != "3" {
		t.Fatalf("expected [1 3], got %+v", got)
	}
	if got := FilterConversations(views, "  "); len(got) != 3 {
		t.Fatalf("expected blank query to keep all, got %d", len(got))
	}
	if got := FilterConversations(views, "zed"); len(got) != 0 {
		t.Fatalf("expected no match, got %d", len(got))
	}
}

func TestSortConversationsTiesById(t *testing.T) {
	at := time.Unix(100, 0)
	views := []ConversationView{
		{Conversation: &message.Conversation{ID: "b", LastMessageAt: at}},
		{Conversation: &message.Conversation{ID: "a", LastMessageAt: at}},
		{Conversation: &message.Conversation{ID: "c", LastMessageAt: at.Add(time.Second)}},
	}
	SortConversations(views)
	if views[0].Conversation.ID != "c" || views[1].Conversation.ID != "a" || views[2].Conversation.ID != "b" {
		t.Fatalf("expected [c a b], got [%s %s %s]", views[0].Conversation.ID, views[1].Conversation.ID, views[2].Conversation.ID)
	}
}

func TestDirectoryOnChangeMayRequestRefresh(t *testing.T) {
	e := newTestEnv(t)
	me := e.addUser(t, "me", "")
	bob := e.addUser(t, "bob", "")
	conv := e.conversation(t, me, bob)

	d := NewDirectory(e.messages, e.users, e.broker, 1)
	defer d.Close()
	var calls atomic.Int32
	if err := d.Subscribe(context.Background(), me, func([]ConversationView, error) {
		if calls.Add(1) == 1 {
			d.Refresh()
			_ = d.Conversations()
		}
	}); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}

	e.send(t, conv, bob, me, "ping")
	waitFor(t, "refresh requested from onChange", func() bool { return calls.Load() >= 2 })
}
