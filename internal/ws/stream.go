// Package ws streams change hints over a WebSocket. A hint names the
// state that changed (rooms, users, messages) and carries no payload;
// clients react by re-polling the authoritative HTTP endpoints, exactly
// as a long-poll wake would. This keeps delivery semantics identical to
// the notification bus: a wake is a hint, not an event.
package ws

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"nhooyr.io/websocket"

	"github.com/christopherjohns/parlor/internal/notify"
	"github.com/christopherjohns/parlor/internal/store"
)

const (
	// sendBufferSize is the number of hints that can be queued per client.
	// Hints are coalescable, so overflow just drops duplicates.
	sendBufferSize = 8

	// writeTimeout is the max time to wait for a single write to complete.
	writeTimeout = 5 * time.Second
)

// Hint tells the client which slice of state changed.
type Hint struct {
	Changed string `json:"changed"`
}

// Stream upgrades requests to WebSockets and forwards change hints from
// the notification bus.
type Stream struct {
	bus *notify.Bus
}

// NewStream creates a Stream over the notification bus.
func NewStream(bus *notify.Bus) *Stream {
	return &Stream{bus: bus}
}

// ServeHTTP upgrades the connection and streams hints until the client
// disconnects. Every client watches the global room index; a ?room=
// query parameter adds that room's membership and message channels.
func (s *Stream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	room := r.URL.Query().Get("room")

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // Allow all origins in dev; tighten in production.
	})
	if err != nil {
		log.Printf("ws: accept error: %v", err)
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	watched := map[string]string{
		"rooms": store.RoomsKey(),
	}
	if room != "" {
		watched["users"] = store.RoomUsersKey(room)
		watched["messages"] = store.MessagesKey(room)
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	hints := make(chan string, sendBufferSize)
	var wg sync.WaitGroup
	for name, key := range watched {
		wg.Add(1)
		go func(name, key string) {
			defer wg.Done()
			s.watch(ctx, name, key, hints)
		}(name, key)
	}

	// The client never sends anything meaningful; reading serves only to
	// notice the close.
	go func() {
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				cancel()
				return
			}
		}
	}()

	s.writePump(ctx, conn, hints)
	cancel()
	wg.Wait()
}

// watch forwards every wake on key as a hint named name.
func (s *Stream) watch(ctx context.Context, name, key string, hints chan<- string) {
	for {
		err := s.bus.WaitForChange(ctx, key)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			log.Printf("ws: watch %s: %v", key, err)
			return
		}
		select {
		case hints <- name:
		default:
			// Buffer full: the client already has an identical pending
			// hint, coalescing is fine.
		}
	}
}

// writePump drains hints, writing each to the connection. It exits when
// ctx is cancelled or a write fails.
func (s *Stream) writePump(ctx context.Context, conn *websocket.Conn, hints <-chan string) {
	for {
		select {
		case <-ctx.Done():
			return
		case name := <-hints:
			data, err := json.Marshal(Hint{Changed: name})
			if err != nil {
				log.Printf("ws: marshal hint: %v", err)
				continue
			}
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err = conn.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				log.Printf("ws: write hint: %v", err)
				return
			}
		}
	}
}
