// Package presence tracks user liveness and per-room membership.
// Liveness is carried entirely by each record's expiry, never by index
// membership: the index sets go stale between sweeps on purpose, which
// keeps register, touch, and reads O(1) without a consistent global view.
package presence

import (
	"context"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/christopherjohns/parlor/internal/message"
	"github.com/christopherjohns/parlor/internal/notify"
	"github.com/christopherjohns/parlor/internal/store"
)

// Tracker is the presence and membership store.
type Tracker struct {
	db  store.Store
	bus *notify.Bus
	log *message.Log
}

// NewTracker creates a Tracker over the shared store. The message log is
// used to emit join announcements.
func NewTracker(db store.Store, bus *notify.Bus, log *message.Log) *Tracker {
	return &Tracker{db: db, bus: bus, log: log}
}

// Validate reports whether the stored secret for name equals secret.
// A missing or expired identity record never validates.
func (t *Tracker) Validate(ctx context.Context, name, secret string) (bool, error) {
	stored, err := t.db.RecordField(ctx, store.UserKey(name), "secret")
	if err != nil {
		return false, err
	}
	return stored != "" && stored == secret, nil
}

// Register creates an identity for name and returns its fresh secret.
// It reports ok=false if an unexpired record already holds the name.
// The new record carries no expiry until the first Touch; the name is
// added to the global user index and an index change is published.
func (t *Tracker) Register(ctx context.Context, name, ip string) (secret string, ok bool, err error) {
	exists, err := t.db.Exists(ctx, store.UserKey(name))
	if err != nil {
		return "", false, err
	}
	if exists {
		return "", false, nil
	}

	secret = uuid.NewString()
	err = t.db.WriteRecord(ctx, store.UserKey(name), map[string]string{
		"ip":        ip,
		"timestamp": strconv.FormatInt(time.Now().Unix(), 10),
		"secret":    secret,
	})
	if err != nil {
		return "", false, err
	}

	if _, err := t.db.SetAdd(ctx, store.UsersKey(), name); err != nil {
		return "", false, err
	}
	if err := t.bus.Publish(ctx, store.UsersKey(), name); err != nil {
		return "", false, err
	}
	return secret, true, nil
}

// Touch refreshes name's liveness expiry to ttl. With a non-empty room it
// also creates the room on first sight (publishing a room-index change),
// refreshes the room's expiry, adds name to the room's membership on
// first sight (publishing a membership change and announcing the join),
// and refreshes the membership record's expiry.
func (t *Tracker) Touch(ctx context.Context, name string, ttl time.Duration, room string) error {
	if err := t.db.RefreshRecord(ctx, store.UserKey(name), ttl); err != nil {
		return err
	}
	if room == "" {
		return nil
	}

	added, err := t.db.SetAdd(ctx, store.RoomsKey(), room)
	if err != nil {
		return err
	}
	if added {
		err := t.db.WriteRecord(ctx, store.RoomKey(room), map[string]string{
			"timestamp": strconv.FormatInt(time.Now().Unix(), 10),
		})
		if err != nil {
			return err
		}
		if err := t.bus.Publish(ctx, store.RoomsKey(), room); err != nil {
			return err
		}
	}
	if err := t.db.RefreshRecord(ctx, store.RoomKey(room), ttl); err != nil {
		return err
	}

	added, err = t.db.SetAdd(ctx, store.RoomUsersKey(room), name)
	if err != nil {
		return err
	}
	if added {
		err := t.db.WriteRecord(ctx, store.MemberKey(room, name), map[string]string{
			"timestamp": strconv.FormatInt(time.Now().Unix(), 10),
		})
		if err != nil {
			return err
		}
		if err := t.bus.Publish(ctx, store.RoomUsersKey(room), name); err != nil {
			return err
		}
		if _, err := t.log.Append(ctx, room, message.SystemSender, name+" has joined the room."); err != nil {
			return err
		}
	}
	return t.db.RefreshRecord(ctx, store.MemberKey(room, name), ttl)
}

// IPOf returns the IP recorded when name registered, or "" if the
// identity record is gone.
func (t *Tracker) IPOf(ctx context.Context, name string) (string, error) {
	return t.db.RecordField(ctx, store.UserKey(name), "ip")
}

// Alive reports whether name currently holds an unexpired identity record.
func (t *Tracker) Alive(ctx context.Context, name string) (bool, error) {
	return t.db.Exists(ctx, store.UserKey(name))
}

// Rooms returns every room in the global room index.
func (t *Tracker) Rooms(ctx context.Context) ([]string, error) {
	return t.db.SetMembers(ctx, store.RoomsKey())
}

// RoomCard returns the cardinality of the global room index.
func (t *Tracker) RoomCard(ctx context.Context) (int, error) {
	return t.db.SetCard(ctx, store.RoomsKey())
}

// Members returns the room's membership index.
func (t *Tracker) Members(ctx context.Context, room string) ([]string, error) {
	return t.db.SetMembers(ctx, store.RoomUsersKey(room))
}

// MemberCard returns the cardinality of the room's membership index.
func (t *Tracker) MemberCard(ctx context.Context, room string) (int, error) {
	return t.db.SetCard(ctx, store.RoomUsersKey(room))
}
