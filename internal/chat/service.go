// Package chat ties the presence tracker, message log, ignore graph, and
// sweeper together behind the contract the presentation layer consumes.
// Mutations publish on the notification bus; the blocking reads compare a
// caller-supplied cursor against current cardinality or length, wait for
// a change hint if nothing moved, then re-read and return a fresh
// snapshot with the new cursor.
package chat

import (
	"context"
	"errors"
	"time"

	"github.com/christopherjohns/parlor/internal/ignore"
	"github.com/christopherjohns/parlor/internal/message"
	"github.com/christopherjohns/parlor/internal/notify"
	"github.com/christopherjohns/parlor/internal/presence"
	"github.com/christopherjohns/parlor/internal/store"
	"github.com/christopherjohns/parlor/internal/sweep"
)

// NoCursor makes a blocking read return immediately with current state.
const NoCursor = -1

// RoomInfo is one row of the room listing.
type RoomInfo struct {
	Name   string `json:"name"`
	Users  int    `json:"users"`
	Length int    `json:"length"`
}

// Service is the chat core facade.
type Service struct {
	db       store.Store
	bus      *notify.Bus
	presence *presence.Tracker
	messages *message.Log
	ignores  *ignore.Graph
	sweeper  *sweep.Sweeper
}

// New wires a Service over the shared store and notification bus.
func New(db store.Store, bus *notify.Bus) *Service {
	log := message.NewLog(db, bus)
	return &Service{
		db:       db,
		bus:      bus,
		presence: presence.NewTracker(db, bus, log),
		messages: log,
		ignores:  ignore.NewGraph(db, log),
		sweeper:  sweep.NewSweeper(db, bus, log),
	}
}

// Validate reports whether secret is name's current secret.
func (s *Service) Validate(ctx context.Context, name, secret string) (bool, error) {
	return s.presence.Validate(ctx, name, secret)
}

// Register creates an identity and returns its secret, or ok=false if the
// name is currently held.
func (s *Service) Register(ctx context.Context, name, ip string) (string, bool, error) {
	return s.presence.Register(ctx, name, ip)
}

// Touch refreshes name's liveness, and its membership in room if given.
func (s *Service) Touch(ctx context.Context, name string, ttl time.Duration, room string) error {
	return s.presence.Touch(ctx, name, ttl, room)
}

// SendMessage appends a chat entry from sender to the room's log. Pass
// message.SystemSender to emit a system message regardless of membership.
func (s *Service) SendMessage(ctx context.Context, room, sender, text string) (bool, error) {
	return s.messages.Append(ctx, room, sender, text)
}

// Ignore creates an ignore edge from user to ignored.
func (s *Service) Ignore(ctx context.Context, room, user, ignored, ignoredIP string) (bool, error) {
	return s.ignores.Ignore(ctx, room, user, ignored, ignoredIP)
}

// Unignore removes the ignore edge from user to ignored.
func (s *Service) Unignore(ctx context.Context, room, user, ignored string) (bool, error) {
	return s.ignores.Unignore(ctx, room, user, ignored)
}

// IsIgnoredBy reports whether user is ignoring sender.
func (s *Service) IsIgnoredBy(ctx context.Context, user, sender string) (bool, error) {
	return s.ignores.IsIgnoredBy(ctx, user, sender)
}

// UserIP returns the IP recorded for name at registration.
func (s *Service) UserIP(ctx context.Context, name string) (string, error) {
	return s.presence.IPOf(ctx, name)
}

// Flush runs one reconciliation sweep.
func (s *Service) Flush(ctx context.Context) error {
	return s.sweeper.Sweep(ctx)
}

// RunSweeper sweeps on period until ctx is cancelled.
func (s *Service) RunSweeper(ctx context.Context, period time.Duration) {
	s.sweeper.Run(ctx, period)
}

// Rooms lists every known room with its member and message counts. If
// cursor equals the room index cardinality the call blocks on the room
// index channel until a change hint or the context deadline; either way
// the returned cursor is the cardinality read on the way out, which can
// equal the supplied one after a spurious wake or timeout.
func (s *Service) Rooms(ctx context.Context, cursor int) (int, []RoomInfo, error) {
	card, err := s.presence.RoomCard(ctx)
	if err != nil {
		return 0, nil, err
	}
	if cursor == card {
		if err := s.bus.WaitForChange(ctx, store.RoomsKey()); err != nil && !errors.Is(err, notify.ErrNoChange) {
			return 0, nil, err
		}
	}

	names, err := s.presence.Rooms(ctx)
	if err != nil {
		return 0, nil, err
	}
	infos := make([]RoomInfo, 0, len(names))
	for _, name := range names {
		users, err := s.presence.MemberCard(ctx, name)
		if err != nil {
			return 0, nil, err
		}
		length, err := s.messages.Len(ctx, name)
		if err != nil {
			return 0, nil, err
		}
		infos = append(infos, RoomInfo{Name: name, Users: users, Length: length})
	}

	card, err = s.presence.RoomCard(ctx)
	if err != nil {
		return 0, nil, err
	}
	return card, infos, nil
}

// Users lists the room's current members, blocking like Rooms when cursor
// matches the membership index cardinality. Counts can legitimately
// shrink, so callers must react to any difference, not assume growth.
func (s *Service) Users(ctx context.Context, room string, cursor int) (int, []string, error) {
	card, err := s.presence.MemberCard(ctx, room)
	if err != nil {
		return 0, nil, err
	}
	if cursor == card {
		if err := s.bus.WaitForChange(ctx, store.RoomUsersKey(room)); err != nil && !errors.Is(err, notify.ErrNoChange) {
			return 0, nil, err
		}
	}

	members, err := s.presence.Members(ctx, room)
	if err != nil {
		return 0, nil, err
	}
	card, err = s.presence.MemberCard(ctx, room)
	if err != nil {
		return 0, nil, err
	}
	return card, members, nil
}

// Messages is the long-poll read of the room's log tail, filtered for
// viewer. See message.Log.Messages.
func (s *Service) Messages(ctx context.Context, room string, cursor int, viewer string, limit int) (int, []message.Entry, error) {
	return s.messages.Messages(ctx, room, cursor, viewer, limit)
}
