package dm

import (
	"context"
	"errors"
	"fmt"

	"github.com/notepid/twilight_dm/internal/message"
)

// OpenOptions controls OpenWith.
type OpenOptions struct {
	CreateIfMissing bool
}

// Opener finds or creates the single conversation for a pair of users.
type Opener struct {
	store    Store
	profiles ProfileLookup
}

// NewOpener creates an opener. When profiles is non-nil, creating a
// conversation requires the other user to resolve.
func NewOpener(store Store, profiles ProfileLookup) *Opener {
	return &Opener{store: store, profiles: profiles}
}

// OpenWith returns the id of the conversation between me and other. A
// concurrent creator winning the race is not an error: the existing row
// is re-read and returned.
func (o *Opener) OpenWith(ctx context.Context, me, other string, opts OpenOptions) (string, error) {
	if me == "" || other == "" {
		return "", ErrUnknownUser
	}
	if me == other {
		return "", ErrSelfConversation
	}

	c, err := o.store.FindConversation(ctx, me, other)
	if err == nil {
		return c.ID, nil
	}
	if !errors.Is(err, message.ErrNotFound) {
		return "", fmt.Errorf("find conversation: %w", err)
	}
	if !opts.CreateIfMissing {
		return "", ErrNotFound
	}

	if o.profiles != nil {
		found, err := o.profiles.LookupProfiles(ctx, []string{other})
		if err != nil {
			return "", fmt.Errorf("lookup user %s: %w", other, err)
		}
		if _, ok := found[other]; !ok {
			return "", ErrUnknownUser
		}
	}

	c, err = o.store.CreateConversation(ctx, me, other)
	if errors.Is(err, message.ErrConversationExists) {
		c, err = o.store.FindConversation(ctx, me, other)
	}
	if err != nil {
		return "", fmt.Errorf("create conversation: %w", err)
	}
	return c.ID, nil
}
