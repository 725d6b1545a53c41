// Package sweep reconciles the index sets against expired liveness
// records. Indexes are allowed to go stale between runs; the sweep is the
// only thing that ever removes a name from them.
package sweep

import (
	"context"
	"log"
	"time"

	"github.com/christopherjohns/parlor/internal/message"
	"github.com/christopherjohns/parlor/internal/notify"
	"github.com/christopherjohns/parlor/internal/store"
)

// Sweeper prunes zombie index entries and announces departures.
type Sweeper struct {
	db  store.Store
	bus *notify.Bus
	log *message.Log
}

// NewSweeper creates a Sweeper over the shared store.
func NewSweeper(db store.Store, bus *notify.Bus, log *message.Log) *Sweeper {
	return &Sweeper{db: db, bus: bus, log: log}
}

// Sweep runs one reconciliation pass. Users whose identity record has
// expired are removed from the global index with an index-change publish
// and no chat-visible side effect. Members whose membership record has
// expired are removed from their room's index with a membership-change
// publish and a departure announcement. Rooms themselves are never
// pruned. A store failure aborts the pass; the next scheduled run picks
// up where state then stands. Racing against a concurrent touch or
// register is benign: at worst presence is momentarily stale.
func (s *Sweeper) Sweep(ctx context.Context) error {
	names, err := s.db.SetMembers(ctx, store.UsersKey())
	if err != nil {
		return err
	}
	for _, name := range names {
		alive, err := s.db.Exists(ctx, store.UserKey(name))
		if err != nil {
			return err
		}
		if alive {
			continue
		}
		if err := s.db.SetRemove(ctx, store.UsersKey(), name); err != nil {
			return err
		}
		if err := s.bus.Publish(ctx, store.UsersKey(), name); err != nil {
			return err
		}
	}

	rooms, err := s.db.SetMembers(ctx, store.RoomsKey())
	if err != nil {
		return err
	}
	for _, room := range rooms {
		members, err := s.db.SetMembers(ctx, store.RoomUsersKey(room))
		if err != nil {
			return err
		}
		for _, name := range members {
			present, err := s.db.Exists(ctx, store.MemberKey(room, name))
			if err != nil {
				return err
			}
			if present {
				continue
			}
			if err := s.db.SetRemove(ctx, store.RoomUsersKey(room), name); err != nil {
				return err
			}
			if err := s.bus.Publish(ctx, store.RoomUsersKey(room), name); err != nil {
				return err
			}
			if _, err := s.log.Append(ctx, room, message.SystemSender, name+" has left the room."); err != nil {
				return err
			}
		}
	}
	return nil
}

// Run sweeps on a fixed period until ctx is cancelled. The period should
// match the liveness poll timeout so records expire at most one period
// before their index entry is reconciled.
func (s *Sweeper) Run(ctx context.Context, period time.Duration) {
	ticker := time.NewTicker(period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Sweep(ctx); err != nil {
				log.Printf("sweep: pass aborted: %v", err)
			}
		}
	}
}
