package dm

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/notepid/twilight_dm/internal/db"
	"github.com/notepid/twilight_dm/internal/message"
	"github.com/notepid/twilight_dm/internal/user"
)

type testEnv struct {
	db       *db.DB
	users    *user.Repo
	messages *message.Repo
	broker   *message.Broker
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	d, err := db.Open(filepath.Join(t.TempDir(), "dm.db"))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { d.Close() })
	broker := message.NewBroker()
	return &testEnv{
		db:       d,
		users:    user.NewRepo(d.DB),
		messages: message.NewRepo(d.DB, broker),
		broker:   broker,
	}
}

// addUser inserts an account row directly; password hashing is not under
// test here.
func (e *testEnv) addUser(t *testing.T, username, displayName string) string {
	t.Helper()
	id := uuid.NewString()
	now := time.Now().UnixMicro()
	_, err := e.db.Exec(`
		INSERT INTO users (id, username, password_hash, display_name, created_at, updated_at)
		VALUES (?, ?, 'x', ?, ?, ?)
	`, id, username, displayName, now, now)
	if err != nil {
		t.Fatalf("add user %s: %v", username, err)
	}
	return id
}

func (e *testEnv) conversation(t *testing.T, a, b string) string {
	t.Helper()
	c, err := e.messages.CreateConversation(context.Background(), a, b)
	if err != nil {
		t.Fatalf("create conversation: %v", err)
	}
	return c.ID
}

func (e *testEnv) send(t *testing.T, convID, from, to, text string) *message.Message {
	t.Helper()
	m, err := NewComposer(e.messages, 0).Send(context.Background(), convID, from, to, text)
	if err != nil {
		t.Fatalf("send %q: %v", text, err)
	}
	return m
}

func (e *testEnv) deps() Deps {
	return Deps{Store: e.messages, Feed: e.broker, Profiles: e.users, Workers: 2}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func contents(msgs []*message.Message) []string {
	out := make([]string, len(msgs))
	for i, m := range msgs {
		out[i] = m.Content
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// countingProfiles records how many lookups were made.
type countingProfiles struct {
	ProfileLookup
	calls atomic.Int32
}

func (c *countingProfiles) LookupProfiles(ctx context.Context, ids []string) (map[string]user.Profile, error) {
	c.calls.Add(1)
	return c.ProfileLookup.LookupProfiles(ctx, ids)
}

// gatedStore holds ListMessages for one conversation until released, and
// ignores cancellation so the late response really arrives late.
type gatedStore struct {
	Store
	gateConv string
	entered  chan struct{}
	release  chan struct{}
	once     sync.Once
}

func (g *gatedStore) ListMessages(ctx context.Context, conversationID string) ([]*message.Message, error) {
	if conversationID == g.gateConv {
		g.once.Do(func() { close(g.entered) })
		<-g.release
		return g.Store.ListMessages(context.Background(), conversationID)
	}
	return g.Store.ListMessages(ctx, conversationID)
}

// scriptedStore lets tests fail or block individual writes.
type scriptedStore struct {
	Store
	insertCalls atomic.Int32
	insertErr   error
	insertGate  chan struct{}
	touchErr    error
	createErr   error
}

func (s *scriptedStore) InsertMessage(ctx context.Context, conversationID, senderID, recipientID, content string) (*message.Message, error) {
	s.insertCalls.Add(1)
	if s.insertGate != nil {
		<-s.insertGate
	}
	if s.insertErr != nil {
		return nil, s.insertErr
	}
	return s.Store.InsertMessage(ctx, conversationID, senderID, recipientID, content)
}

func (s *scriptedStore) TouchConversation(ctx context.Context, id string, at time.Time) error {
	if s.touchErr != nil {
		return s.touchErr
	}
	return s.Store.TouchConversation(ctx, id, at)
}

func (s *scriptedStore) CreateConversation(ctx context.Context, a, b string) (*message.Conversation, error) {
	if s.createErr != nil {
		// Simulate another client creating the row first.
		s.Store.CreateConversation(ctx, a, b)
		return nil, s.createErr
	}
	return s.Store.CreateConversation(ctx, a, b)
}

// stallingStore blocks the first MarkRead after stall is set until
// release is closed, so the thread's listener stops draining the feed.
type stallingStore struct {
	Store
	stall   atomic.Bool
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (s *stallingStore) MarkRead(ctx context.Context, conversationID, readerID string) (int64, error) {
	if s.stall.Load() {
		s.once.Do(func() { close(s.entered) })
		<-s.release
	}
	return s.Store.MarkRead(ctx, conversationID, readerID)
}
