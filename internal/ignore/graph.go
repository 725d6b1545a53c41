// Package ignore maintains directed ignore edges between users. An edge
// from a to b hides b's messages from a; the edge value records b's IP at
// ignore time for audit only.
package ignore

import (
	"context"

	"github.com/christopherjohns/parlor/internal/message"
	"github.com/christopherjohns/parlor/internal/store"
)

// Graph reads and mutates ignore edges in the shared store.
type Graph struct {
	db  store.Store
	log *message.Log
}

// NewGraph creates a Graph. The message log is used to announce ignore
// and unignore actions in the room they were issued from.
func NewGraph(db store.Store, log *message.Log) *Graph {
	return &Graph{db: db, log: log}
}

// Ignore creates the edge user -> ignored with ignoredIP as its audit
// value. Both users must hold current identity records and ignoredIP must
// be non-empty, otherwise it reports false. A newly created edge is
// announced in room and reported true; an already existing edge reports
// false without a second announcement. Store failures surface as errors,
// distinct from the existing-edge case.
func (g *Graph) Ignore(ctx context.Context, room, user, ignored, ignoredIP string) (bool, error) {
	if ignoredIP == "" {
		return false, nil
	}
	for _, name := range []string{user, ignored} {
		alive, err := g.db.Exists(ctx, store.UserKey(name))
		if err != nil {
			return false, err
		}
		if !alive {
			return false, nil
		}
	}

	// Bookkeeping flag: user has issued at least one ignore. Nothing
	// consumes this beyond HasIgnored; it is kept as an observable side
	// effect.
	if _, err := g.db.SetAdd(ctx, store.IgnoredKey(), user); err != nil {
		return false, err
	}

	created, err := g.db.SetIfAbsent(ctx, store.IgnoreEdgeKey(user, ignored), ignoredIP)
	if err != nil {
		return false, err
	}
	if !created {
		return false, nil
	}

	if _, err := g.log.Append(ctx, room, message.SystemSender, user+" has ignored "+ignored+"."); err != nil {
		return false, err
	}
	return true, nil
}

// Unignore deletes the edge user -> ignored, announcing the change in
// room. It reports false if no edge existed.
func (g *Graph) Unignore(ctx context.Context, room, user, ignored string) (bool, error) {
	deleted, err := g.db.Delete(ctx, store.IgnoreEdgeKey(user, ignored))
	if err != nil {
		return false, err
	}
	if !deleted {
		return false, nil
	}

	if _, err := g.log.Append(ctx, room, message.SystemSender, user+" has unignored "+ignored+"."); err != nil {
		return false, err
	}
	return true, nil
}

// IsIgnoredBy reports whether user is ignoring sender.
func (g *Graph) IsIgnoredBy(ctx context.Context, user, sender string) (bool, error) {
	return g.db.Exists(ctx, store.IgnoreEdgeKey(user, sender))
}

// HasIgnored reports whether user has ever issued an ignore.
func (g *Graph) HasIgnored(ctx context.Context, user string) (bool, error) {
	return g.db.SetHas(ctx, store.IgnoredKey(), user)
}
