package dm

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/notepid/twilight_dm/internal/message"
)

func TestOpenerCreatesOnceUnderConcurrency(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	a := e.addUser(t, "a", "")
	b := e.addUser(t, "b", "")
	o := NewOpener(e.messages, e.users)

	const n = 8
	ids := make([]string, n)
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Half the callers open from each side of the pair.
			me, other := a, b
			if i%2 == 1 {
				me, other = b, a
			}
			ids[i], errs[i] = o.OpenWith(ctx, me, other, OpenOptions{CreateIfMissing: true})
		}(i)
	}
	wg.Wait()

	for i := range ids {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if ids[i] != ids[0] {
			t.Fatalf("expected every caller to get %s, caller %d got %s", ids[0], i, ids[i])
		}
	}
	convs, _ := e.messages.ListConversations(ctx, a)
	if len(convs) != 1 {
		t.Fatalf("expected exactly one conversation, got %d", len(convs))
	}
}

func TestOpenerRecoversFromLostCreateRace(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	a := e.addUser(t, "a", "")
	b := e.addUser(t, "b", "")

	store := &scriptedStore{Store: e.messages, createErr: message.ErrConversationExists}
	id, err := NewOpener(store, e.users).OpenWith(ctx, a, b, OpenOptions{CreateIfMissing: true})
	if err != nil {
		t.Fatalf("expected the existing row to be returned, got %v", err)
	}
	c, err := e.messages.FindConversation(ctx, a, b)
	if err != nil {
		t.Fatalf("FindConversation: %v", err)
	}
	if c.ID != id {
		t.Fatalf("expected %s, got %s", c.ID, id)
	}
}

func TestOpenerReturnsExisting(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	a := e.addUser(t, "a", "")
	b := e.addUser(t, "b", "")
	conv := e.conversation(t, a, b)

	id, err := NewOpener(e.messages, e.users).OpenWith(ctx, b, a, OpenOptions{})
	if err != nil {
		t.Fatalf("OpenWith: %v", err)
	}
	if id != conv {
		t.Fatalf("expected existing %s, got %s", conv, id)
	}
}

func TestOpenerErrors(t *testing.T) {
	ctx := context.Background()
	e := newTestEnv(t)
	a := e.addUser(t, "a", "")
	b := e.addUser(t, "b", "")
	o := NewOpener(e.messages, e.users)

	if _, err := o.OpenWith(ctx, a, a, OpenOptions{CreateIfMissing: true}); !errors.Is(err, ErrSelfConversation) {
		t.Fatalf("expected ErrSelfConversation, got %v", err)
	}
	if _, err := o.OpenWith(ctx, a, "", OpenOptions{CreateIfMissing: true}); !errors.Is(err, ErrUnknownUser) {
		t.Fatalf("expected ErrUnknownUser for empty id, got %v", err)
	}
	if _, err := o.OpenWith(ctx, a, "nobody", OpenOptions{CreateIfMissing: true}); !errors.Is(err, ErrUnknownUser) {
		t.Fatalf("expected ErrUnknownUser, got %v", err)
	}
	if _, err := o.OpenWith(ctx, a, b, OpenOptions{}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound without create, got %v", err)
	}
	if convs, _ := e.messages.ListConversations(ctx, a); len(convs) != 0 {
		t.Fatalf("expected no conversation created by failed opens, got %d", len(convs))
	}
}
