// Package subscription keeps track of who receives the daily weather bulletin
// for which location.
package subscription

import (
	"context"
	"errors"
	"fmt"
	"io"
)

var (
	// ErrUnknownKind is returned for any subscriber kind other than User or Guild.
	ErrUnknownKind = errors.New("unknown subscriber kind")
	// ErrNotSubscribed is returned when a subscriber is not registered for a location.
	ErrNotSubscribed = errors.New("subscription not found")
	// ErrNoTimezone is returned when local time is requested for a location without timezone.
	ErrNoTimezone = errors.New("location has no timezone")
	// ErrTargetNotFound is returned by resolvers when a stored ID no longer maps to a live target.
	ErrTargetNotFound = errors.New("notification target not found")
)

// Kind selects one of the two subscription namespaces.
type Kind string

const (
	// User subscriptions deliver to the user's direct messages.
	User Kind = "u"
	// Guild subscriptions deliver to a text channel of the guild.
	Guild Kind = "s"
)

// Kinds returns every subscriber kind in a stable order.
func Kinds() []Kind {
	return []Kind{User, Guild}
}

// ParseKind converts the persisted form of a kind.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if err := k.Validate(); err != nil {
		return "", err
	}
	return k, nil
}

// Validate rejects kinds other than User and Guild.
func (k Kind) Validate() error {
	switch k {
	case User, Guild:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownKind, string(k))
	}
}

func (k Kind) String() string {
	switch k {
	case User:
		return "user"
	case Guild:
		return "guild"
	default:
		return "unknown(" + string(k) + ")"
	}
}

// Attachment is a file sent along with a notification.
type Attachment struct {
	Name        string
	ContentType string
	Reader      io.Reader
}

// Target is a live handle a bulletin can be delivered through: a DM channel
// for users, a text channel for guilds.
type Target interface {
	// EntityID is the ID persisted for this target and handed back to a Resolver on load.
	EntityID() int64
	Send(ctx context.Context, text string, attachment *Attachment) error
}

// Resolver maps a persisted entity ID to a live target. It returns
// ErrTargetNotFound when the entity is gone.
type Resolver func(ctx context.Context, id int64) (Target, error)

// Observer is notified when a (kind, location) pair appears or disappears.
// Callbacks run while the registry lock is held and must not call back into
// the registry.
type Observer interface {
	LocationAdded(kind Kind, loc Location)
	LocationRemoved(kind Kind, loc Location)
}
