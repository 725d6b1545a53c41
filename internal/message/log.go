package message

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/christopherjohns/parlor/internal/notify"
	"github.com/christopherjohns/parlor/internal/store"
)

// Log reads and appends room message lists in the shared store and
// publishes a change hint per append.
type Log struct {
	db  store.Store
	bus *notify.Bus
}

// NewLog creates a Log over the shared store and notification bus.
func NewLog(db store.Store, bus *notify.Bus) *Log {
	return &Log{db: db, bus: bus}
}

// Append adds an entry to the room's log and publishes a change for the
// room's message channel. A non-system sender must hold a current
// membership record for the room; otherwise the append is refused and
// the log is unchanged.
func (l *Log) Append(ctx context.Context, room, sender, text string) (bool, error) {
	if sender != SystemSender {
		member, err := l.db.Exists(ctx, store.MemberKey(room, sender))
		if err != nil {
			return false, err
		}
		if !member {
			return false, nil
		}
	}

	data, err := json.Marshal(Entry{
		User:    sender,
		Message: text,
		Time:    timestamp(time.Now()),
	})
	if err != nil {
		return false, fmt.Errorf("message: marshal entry: %w", err)
	}

	key := store.MessagesKey(room)
	if err := l.db.ListPush(ctx, key, string(data)); err != nil {
		return false, err
	}
	if err := l.bus.Publish(ctx, key, room); err != nil {
		return false, err
	}
	return true, nil
}

// ReadTail returns the last limit entries of the room's log, oldest
// first, along with the current log length.
func (l *Log) ReadTail(ctx context.Context, room string, limit int) ([]Entry, int, error) {
	if limit <= 0 || limit > DefaultTailLimit {
		limit = DefaultTailLimit
	}

	key := store.MessagesKey(room)
	vals, err := l.db.ListTail(ctx, key, limit)
	if err != nil {
		return nil, 0, err
	}

	entries := make([]Entry, 0, len(vals))
	for _, v := range vals {
		var e Entry
		if err := json.Unmarshal([]byte(v), &e); err != nil {
			log.Printf("message: skipping malformed entry in %s: %v", room, err)
			continue
		}
		entries = append(entries, e)
	}

	length, err := l.db.ListLen(ctx, key)
	if err != nil {
		return nil, 0, err
	}
	return entries, length, nil
}

// Len returns the current length of the room's log.
func (l *Log) Len(ctx context.Context, room string) (int, error) {
	return l.db.ListLen(ctx, store.MessagesKey(room))
}

// Messages is the long-poll read. If cursor equals the log's current
// length it blocks on the room's message channel until a publish or the
// context deadline; deadline expiry is treated as "no change yet". It
// then returns the tail window with entries from senders the viewer is
// ignoring filtered out, plus the current length as the new cursor. The
// new cursor can equal the supplied one after a spurious wake. System
// entries, and all entries for an anonymous viewer, pass unfiltered.
func (l *Log) Messages(ctx context.Context, room string, cursor int, viewer string, limit int) (int, []Entry, error) {
	key := store.MessagesKey(room)

	length, err := l.db.ListLen(ctx, key)
	if err != nil {
		return 0, nil, err
	}
	if cursor == length {
		if err := l.bus.WaitForChange(ctx, key); err != nil && !errors.Is(err, notify.ErrNoChange) {
			return 0, nil, err
		}
	}

	entries, length, err := l.ReadTail(ctx, room, limit)
	if err != nil {
		return 0, nil, err
	}

	if viewer != "" {
		visible := entries[:0]
		for _, e := range entries {
			if e.System() {
				visible = append(visible, e)
				continue
			}
			ignored, err := l.db.Exists(ctx, store.IgnoreEdgeKey(viewer, e.User))
			if err != nil {
				return 0, nil, err
			}
			if !ignored {
				visible = append(visible, e)
			}
		}
		entries = visible
	}

	return length, entries, nil
}
