package dm

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/notepid/twilight_dm/internal/message"
	"github.com/notepid/twilight_dm/internal/user"
)

// ConversationView is one row of the conversation list.
type ConversationView struct {
	Conversation *message.Conversation
	OtherID      string
	Other        user.Profile
	OtherKnown   bool // false when the counterpart's profile did not resolve
	LastMessage  *message.Message
	Unread       int
}

// RecencyAt is the sort key. A failed timestamp bump is covered by the
// last message itself.
func (v ConversationView) RecencyAt() time.Time {
	at := v.Conversation.LastMessageAt
	if v.LastMessage != nil && v.LastMessage.CreatedAt.After(at) {
		at = v.LastMessage.CreatedAt
	}
	return at
}

// Name is the counterpart's display name.
func (v ConversationView) Name() string { return v.Other.Name() }

// SortConversations orders views most recent first, ties by id.
func SortConversations(views []ConversationView) {
	sort.SliceStable(views, func(i, j int) bool {
		ai, aj := views[i].RecencyAt(), views[j].RecencyAt()
		if !ai.Equal(aj) {
			return ai.After(aj)
		}
		return views[i].Conversation.ID < views[j].Conversation.ID
	})
}

// FilterConversations keeps views whose counterpart name contains query,
// ignoring case. It works over the already loaded list only.
func FilterConversations(views []ConversationView, query string) []ConversationView {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return views
	}
	out := make([]ConversationView, 0, len(views))
	for _, v := range views {
		if strings.Contains(strings.ToLower(v.Name()), q) {
			out = append(out, v)
		}
	}
	return out
}

// TotalUnread sums unread counts across views.
func TotalUnread(views []ConversationView) int {
	total := 0
	for _, v := range views {
		total += v.Unread
	}
	return total
}

// Directory owns the conversation list for one user and is the only
// writer of its unread counts.
type Directory struct {
	store    Store
	profiles ProfileLookup
	feed     Feed
	workers  int

	mu      sync.Mutex
	userID  string
	views   []ConversationView
	started uint64 // loads started
	applied uint64 // newest load whose result is in views
	sub     *message.Subscription
	refresh chan struct{}
	wg      sync.WaitGroup
}

// NewDirectory creates a directory. workers bounds the per-conversation
// summary fetches that run at once.
func NewDirectory(store Store, profiles ProfileLookup, feed Feed, workers int) *Directory {
	if workers <= 0 {
		workers = 1
	}
	return &Directory{
		store:    store,
		profiles: profiles,
		feed:     feed,
		workers:  workers,
	}
}

// Load fetches every conversation userID participates in and returns them
// most recent first. An empty userID yields an empty list.
func (d *Directory) Load(ctx context.Context, userID string) ([]ConversationView, error) {
	if userID == "" {
		d.mu.Lock()
		d.views = nil
		d.mu.Unlock()
		return nil, nil
	}

	d.mu.Lock()
	d.started++
	seq := d.started
	d.mu.Unlock()

	convs, err := d.store.ListConversations(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load conversations: %w", err)
	}

	views := make([]ConversationView, len(convs))
	ids := make([]string, 0, len(convs))
	seen := make(map[string]bool, len(convs))
	for i, c := range convs {
		other, _ := c.Other(userID)
		views[i] = ConversationView{Conversation: c, OtherID: other}
		if other != "" && !seen[other] {
			seen[other] = true
			ids = append(ids, other)
		}
	}

	profiles, err := d.profiles.LookupProfiles(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load profiles: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(d.workers)
	for i := range views {
		v := &views[i]
		if p, ok := profiles[v.OtherID]; ok {
			v.Other, v.OtherKnown = p, true
		} else {
			v.Other = user.DeletedProfile(v.OtherID)
		}
		g.Go(func() error {
			last, err := d.store.LastMessage(gctx, v.Conversation.ID)
			if err != nil {
				return err
			}
			unread, err := d.store.CountUnread(gctx, v.Conversation.ID, userID)
			if err != nil {
				return err
			}
			v.LastMessage, v.Unread = last, unread
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("load conversation summaries: %w", err)
	}

	SortConversations(views)

	d.mu.Lock()
	if seq > d.applied {
		d.applied = seq
		d.userID = userID
		d.views = views
	}
	d.mu.Unlock()

	return cloneViews(views), nil
}

// Conversations returns the last loaded list.
func (d *Directory) Conversations() []ConversationView {
	d.mu.Lock()
	defer d.mu.Unlock()
	return cloneViews(d.views)
}

// Subscribe listens for messages addressed to userID and read receipts
// written by userID, recomputing the whole list on each. onChange runs on
// the listener goroutine after every recompute. A previous subscription is
// released first.
//
// onChange may call Refresh and Conversations but must not call Subscribe
// or Close: both wait for the listener to stop and would deadlock.
func (d *Directory) Subscribe(ctx context.Context, userID string, onChange func([]ConversationView, error)) error {
	if userID == "" {
		return nil
	}
	d.Close()

	sub := d.feed.Subscribe(message.RecipientTopic(userID), 0)
	refresh := make(chan struct{}, 1)

	d.mu.Lock()
	d.userID = userID
	d.sub = sub
	d.refresh = refresh
	d.mu.Unlock()

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		for {
			select {
			case <-sub.Done():
				return
			case <-ctx.Done():
				return
			case <-sub.Events():
			case <-refresh:
			}
			drain(sub, refresh)
			sub.Lagged()

			views, err := d.Load(ctx, userID)
			if err != nil {
				log.Printf("dm: directory refresh for %s: %v", userID, err)
			}
			select {
			case <-sub.Done():
				return
			default:
			}
			if onChange != nil {
				onChange(views, err)
			}
		}
	}()
	return nil
}

// drain collapses queued notifications into one recompute.
func drain(sub *message.Subscription, refresh chan struct{}) {
	for {
		select {
		case <-sub.Events():
		case <-refresh:
		default:
			return
		}
	}
}

// Refresh asks the listener to recompute. It does nothing when the
// directory is not subscribed.
func (d *Directory) Refresh() {
	d.mu.Lock()
	refresh := d.refresh
	d.mu.Unlock()
	if refresh == nil {
		return
	}
	select {
	case refresh <- struct{}{}:
	default:
	}
}

// Close releases the subscription and waits for the listener to stop.
// Safe to call more than once, but not from inside onChange.
func (d *Directory) Close() {
	d.mu.Lock()
	sub := d.sub
	d.sub = nil
	d.refresh = nil
	d.mu.Unlock()

	if sub != nil {
		sub.Close()
	}
	d.wg.Wait()
}

func cloneViews(views []ConversationView) []ConversationView {
	if views == nil {
		return nil
	}
	out := make([]ConversationView, len(views))
	copy(out, views)
	return out
}
