package store

import "strings"

// The key layout is shared by every component, so the builders live here.
//
//	users                       set of registered names
//	users:<name>                identity record (ip, timestamp, secret)
//	rooms                       set of known rooms
//	rooms:<room>                room record (timestamp)
//	rooms:<room>:users          set of current members
//	rooms:<room>:users:<name>   membership record (timestamp)
//	rooms:<room>:messages       list of JSON message entries
//	ignored                     set of users that have ever issued an ignore
//	ignored:<a>:<b>             ignore edge, value is b's IP at ignore time

// Key joins path segments into a store key.
func Key(parts ...string) string {
	return strings.Join(parts, ":")
}

// UsersKey is the global user index set.
func UsersKey() string { return "users" }

// UserKey is a user's identity record.
func UserKey(name string) string { return Key("users", name) }

// RoomsKey is the global room index set.
func RoomsKey() string { return "rooms" }

// RoomKey is a room's record.
func RoomKey(room string) string { return Key("rooms", room) }

// RoomUsersKey is a room's membership index set.
func RoomUsersKey(room string) string { return Key("rooms", room, "users") }

// MemberKey is a (room, user) membership record.
func MemberKey(room, name string) string { return Key("rooms", room, "users", name) }

// MessagesKey is a room's message list.
func MessagesKey(room string) string { return Key("rooms", room, "messages") }

// IgnoredKey is the set of users that have issued at least one ignore.
func IgnoredKey() string { return "ignored" }

// IgnoreEdgeKey is the directed ignore edge from user to ignored.
func IgnoreEdgeKey(user, ignored string) string { return Key("ignored", user, ignored) }
