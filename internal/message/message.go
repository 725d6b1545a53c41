// Package message is the per-room append-only chat log. Entries are
// immutable once written; reads are bounded tail windows addressed by a
// length cursor.
package message

import "time"

// SystemSender is the sender value for messages emitted by the service
// itself (joins, leaves, ignores). System entries bypass membership
// checks and are never filtered from any viewer.
const SystemSender = ""

// DefaultTailLimit bounds how many entries a single read returns.
const DefaultTailLimit = 255

// Entry is one chat message. User is empty for system messages.
type Entry struct {
	User    string `json:"user,omitempty"`
	Message string `json:"message"`
	Time    string `json:"time"`
}

// System reports whether the entry was emitted by the service.
func (e Entry) System() bool {
	return e.User == SystemSender
}

// timestamp formats the wall clock the way entries carry it.
func timestamp(t time.Time) string {
	return t.Format("15:04:05")
}
