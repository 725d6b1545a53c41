package message

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/christopherjohns/parlor/internal/notify"
	"github.com/christopherjohns/parlor/internal/store"
)

func newTestLog(t *testing.T) (*Log, store.Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	db := store.NewRedisStore(client)
	return NewLog(db, notify.NewBus(client)), db
}

// joinRoom plants a membership record so name counts as a current member.
func joinRoom(t *testing.T, db store.Store, room, name string) {
	t.Helper()
	err := db.WriteRecord(context.Background(), store.MemberKey(room, name), map[string]string{"timestamp": "0"})
	if err != nil {
		t.Fatalf("write membership record: %v", err)
	}
}

func TestAppendSystemMessageAlwaysSucceeds(t *testing.T) {
	l, _ := newTestLog(t)
	ctx := context.Background()

	sent, err := l.Append(ctx, "lobby", SystemSender, "the lights flicker")
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if !sent {
		t.Fatal("system message should always be accepted")
	}

	n, err := l.Len(ctx, "lobby")
	if err != nil {
		t.Fatalf("len: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected length 1, got %d", n)
	}
}

func TestAppendRefusesNonMember(t *testing.T) {
	l, _ := newTestLog(t)
	ctx := context.Background()

	sent, err := l.Append(ctx, "lobby", "alice", "hi")
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if sent {
		t.Fatal("non-member append should be refused")
	}

	n, _ := l.Len(ctx, "lobby")
	if n != 0 {
		t.Fatalf("log should be unchanged, got length %d", n)
	}
}

func TestAppendAcceptsMember(t *testing.T) {
	l, db := newTestLog(t)
	ctx := context.Background()
	joinRoom(t, db, "lobby", "alice")

	sent, err := l.Append(ctx, "lobby", "alice", "hi")
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if !sent {
		t.Fatal("member append should succeed")
	}

	n, _ := l.Len(ctx, "lobby")
	if n != 1 {
		t.Fatalf("expected length 1, got %d", n)
	}
}

func TestReadTailWindow(t *testing.T) {
	l, db := newTestLog(t)
	ctx := context.Background()
	joinRoom(t, db, "lobby", "alice")

	for i := 0; i < 5; i++ {
		l.Append(ctx, "lobby", "alice", fmt.Sprintf("msg-%d", i))
	}

	entries, length, err := l.ReadTail(ctx, "lobby", 3)
	if err != nil {
		t.Fatalf("read tail: %v", err)
	}
	if length != 5 {
		t.Fatalf("expected length 5, got %d", length)
	}
	if len(entries) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(entries))
	}
	// Oldest-first within the window.
	if entries[0].Message != "msg-2" || entries[2].Message != "msg-4" {
		t.Errorf("unexpected window [%s .. %s]", entries[0].Message, entries[2].Message)
	}
}

func TestReadTailShorterThanLimit(t *testing.T) {
	l, db := newTestLog(t)
	ctx := context.Background()
	joinRoom(t, db, "lobby", "alice")

	l.Append(ctx, "lobby", "alice", "only one")

	entries, length, err := l.ReadTail(ctx, "lobby", 10)
	if err != nil {
		t.Fatalf("read tail: %v", err)
	}
	if length != 1 || len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d (length %d)", len(entries), length)
	}
	if entries[0].User != "alice" {
		t.Errorf("expected sender alice, got %q", entries[0].User)
	}
}

func TestMessagesReturnsImmediatelyOnStaleCursor(t *testing.T) {
	l, db := newTestLog(t)
	ctx := context.Background()
	joinRoom(t, db, "lobby", "alice")
	l.Append(ctx, "lobby", "alice", "hi")

	// Cursor 0 differs from length 1, so no blocking.
	cursor, entries, err := l.Messages(ctx, "lobby", 0, "", 0)
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if cursor != 1 {
		t.Fatalf("expected cursor 1, got %d", cursor)
	}
	if len(entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(entries))
	}
}

func TestMessagesBlocksUntilAppend(t *testing.T) {
	l, db := newTestLog(t)
	joinRoom(t, db, "lobby", "alice")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	type result struct {
		cursor  int
		entries []Entry
		err     error
	}
	done := make(chan result, 1)
	go func() {
		cursor, entries, err := l.Messages(ctx, "lobby", 0, "", 0)
		done <- result{cursor, entries, err}
	}()

	// Let the waiter subscribe, then append.
	time.Sleep(100 * time.Millisecond)
	if _, err := l.Append(context.Background(), "lobby", "alice", "hi"); err != nil {
		t.Fatalf("append: %v", err)
	}

	select {
	case res := <-done:
		if res.err != nil {
			t.Fatalf("messages: %v", res.err)
		}
		if res.cursor != 1 {
			t.Errorf("expected cursor 1, got %d", res.cursor)
		}
		if len(res.entries) != 1 || res.entries[0].Message != "hi" {
			t.Errorf("expected the appended entry, got %v", res.entries)
		}
	case <-ctx.Done():
		t.Fatal("messages call never unblocked")
	}
}

func TestMessagesDeadlineIsNoChange(t *testing.T) {
	l, _ := newTestLog(t)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	cursor, entries, err := l.Messages(ctx, "lobby", 0, "", 0)
	if err != nil {
		t.Fatalf("deadline expiry must not be an error: %v", err)
	}
	if cursor != 0 {
		t.Errorf("expected unchanged cursor 0, got %d", cursor)
	}
	if len(entries) != 0 {
		t.Errorf("expected no entries, got %d", len(entries))
	}
}

func TestMessagesFiltersIgnoredSenders(t *testing.T) {
	l, db := newTestLog(t)
	ctx := context.Background()
	joinRoom(t, db, "lobby", "alice")
	joinRoom(t, db, "lobby", "bob")

	l.Append(ctx, "lobby", "bob", "spam")
	l.Append(ctx, "lobby", "alice", "hello")
	l.Append(ctx, "lobby", SystemSender, "bob has joined the room.")

	// carol ignores bob.
	if _, err := db.SetIfAbsent(ctx, store.IgnoreEdgeKey("carol", "bob"), "1.2.3.4"); err != nil {
		t.Fatalf("create edge: %v", err)
	}

	cursor, entries, err := l.Messages(ctx, "lobby", -1, "carol", 0)
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if cursor != 3 {
		t.Fatalf("expected cursor 3, got %d", cursor)
	}
	if len(entries) != 2 {
		t.Fatalf("expected bob's entry filtered, got %d entries", len(entries))
	}
	for _, e := range entries {
		if e.User == "bob" {
			t.Errorf("bob's entry should be hidden from carol: %v", e)
		}
	}

	// Another viewer still sees everything.
	_, entries, err = l.Messages(ctx, "lobby", -1, "dave", 0)
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected all 3 entries for dave, got %d", len(entries))
	}

	// Anonymous viewers are never filtered.
	_, entries, err = l.Messages(ctx, "lobby", -1, "", 0)
	if err != nil {
		t.Fatalf("messages: %v", err)
	}
	if len(entries) != 3 {
		t.Fatalf("expected all 3 entries anonymously, got %d", len(entries))
	}
}
