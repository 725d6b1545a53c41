package ignore

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/christopherjohns/parlor/internal/message"
	"github.com/christopherjohns/parlor/internal/notify"
	"github.com/christopherjohns/parlor/internal/store"
)

func newTestGraph(t *testing.T) (*Graph, *message.Log, store.Store) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	db := store.NewRedisStore(client)
	log := message.NewLog(db, notify.NewBus(client))
	return NewGraph(db, log), log, db
}

// registerUser plants an identity record so name counts as live.
func registerUser(t *testing.T, db store.Store, name string) {
	t.Helper()
	err := db.WriteRecord(context.Background(), store.UserKey(name), map[string]string{"secret": "x"})
	if err != nil {
		t.Fatalf("write identity record: %v", err)
	}
}

func TestIgnoreCreatesEdgeAndAnnounces(t *testing.T) {
	g, log, db := newTestGraph(t)
	ctx := context.Background()
	registerUser(t, db, "alice")
	registerUser(t, db, "bob")

	done, err := g.Ignore(ctx, "lobby", "alice", "bob", "1.2.3.4")
	if err != nil {
		t.Fatalf("ignore: %v", err)
	}
	if !done {
		t.Fatal("ignore should succeed")
	}

	ignored, err := g.IsIgnoredBy(ctx, "alice", "bob")
	if err != nil {
		t.Fatalf("is ignored by: %v", err)
	}
	if !ignored {
		t.Error("edge should exist")
	}

	entries, length, err := log.ReadTail(ctx, "lobby", 10)
	if err != nil {
		t.Fatalf("read tail: %v", err)
	}
	if length != 1 {
		t.Fatalf("expected one announcement, got %d", length)
	}
	if entries[0].Message != "alice has ignored bob." {
		t.Errorf("unexpected announcement %q", entries[0].Message)
	}
}

func TestIgnoreRequiresLiveUsers(t *testing.T) {
	g, log, db := newTestGraph(t)
	ctx := context.Background()
	registerUser(t, db, "alice")

	done, err := g.Ignore(ctx, "lobby", "alice", "ghost", "1.2.3.4")
	if err != nil {
		t.Fatalf("ignore: %v", err)
	}
	if done {
		t.Fatal("ignoring a dead identity should fail")
	}

	done, err = g.Ignore(ctx, "lobby", "ghost", "alice", "1.2.3.4")
	if err != nil {
		t.Fatalf("ignore: %v", err)
	}
	if done {
		t.Fatal("a dead identity cannot issue an ignore")
	}

	if n, _ := log.Len(ctx, "lobby"); n != 0 {
		t.Errorf("failed ignores must not announce, got %d messages", n)
	}
}

func TestIgnoreRequiresIP(t *testing.T) {
	g, _, db := newTestGraph(t)
	ctx := context.Background()
	registerUser(t, db, "alice")
	registerUser(t, db, "bob")

	done, err := g.Ignore(ctx, "lobby", "alice", "bob", "")
	if err != nil {
		t.Fatalf("ignore: %v", err)
	}
	if done {
		t.Fatal("ignore without an audit IP should fail")
	}
}

func TestRepeatIgnoreIsQuiet(t *testing.T) {
	g, log, db := newTestGraph(t)
	ctx := context.Background()
	registerUser(t, db, "alice")
	registerUser(t, db, "bob")

	g.Ignore(ctx, "lobby", "alice", "bob", "1.2.3.4")

	done, err := g.Ignore(ctx, "lobby", "alice", "bob", "1.2.3.4")
	if err != nil {
		t.Fatalf("ignore: %v", err)
	}
	if done {
		t.Fatal("repeat ignore should report false")
	}

	if n, _ := log.Len(ctx, "lobby"); n != 1 {
		t.Errorf("repeat ignore must not re-announce, got %d messages", n)
	}
}

func TestUnignore(t *testing.T) {
	g, log, db := newTestGraph(t)
	ctx := context.Background()
	registerUser(t, db, "alice")
	registerUser(t, db, "bob")

	// No edge yet.
	done, err := g.Unignore(ctx, "lobby", "alice", "bob")
	if err != nil {
		t.Fatalf("unignore: %v", err)
	}
	if done {
		t.Fatal("unignore without an edge should fail")
	}

	g.Ignore(ctx, "lobby", "alice", "bob", "1.2.3.4")

	done, err = g.Unignore(ctx, "lobby", "alice", "bob")
	if err != nil {
		t.Fatalf("unignore: %v", err)
	}
	if !done {
		t.Fatal("unignore of an existing edge should succeed")
	}

	ignored, _ := g.IsIgnoredBy(ctx, "alice", "bob")
	if ignored {
		t.Error("edge should be gone")
	}

	entries, _, _ := log.ReadTail(ctx, "lobby", 10)
	if len(entries) != 2 || entries[1].Message != "alice has unignored bob." {
		t.Errorf("expected unignore announcement, got %v", entries)
	}
}

func TestHasIgnoredFlagPersists(t *testing.T) {
	g, _, db := newTestGraph(t)
	ctx := context.Background()
	registerUser(t, db, "alice")
	registerUser(t, db, "bob")

	has, err := g.HasIgnored(ctx, "alice")
	if err != nil {
		t.Fatalf("has ignored: %v", err)
	}
	if has {
		t.Fatal("flag should start unset")
	}

	g.Ignore(ctx, "lobby", "alice", "bob", "1.2.3.4")
	g.Unignore(ctx, "lobby", "alice", "bob")

	// The flag records "has ever issued an ignore"; removing the edge
	// does not clear it.
	has, err = g.HasIgnored(ctx, "alice")
	if err != nil {
		t.Fatalf("has ignored: %v", err)
	}
	if !has {
		t.Error("flag should persist after unignore")
	}
}

func TestIgnoreEdgeIsDirected(t *testing.T) {
	g, _, db := newTestGraph(t)
	ctx := context.Background()
	registerUser(t, db, "alice")
	registerUser(t, db, "bob")

	g.Ignore(ctx, "lobby", "alice", "bob", "1.2.3.4")

	ignored, _ := g.IsIgnoredBy(ctx, "bob", "alice")
	if ignored {
		t.Error("the reverse edge should not exist")
	}
}
