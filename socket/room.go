package socket

import (
	"net/http"
	"regexp"

	"github.com/gorilla/mux"
)

// DefaultRoom is used when a request carries no usable room key.
const DefaultRoom = "default"

// MaxRoomKeyLength caps sanitized room keys.
const MaxRoomKeyLength = 50

var roomKeyStrip = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// SanitizeRoomKey strips every character outside [A-Za-z0-9_-] and truncates
// to MaxRoomKeyLength. An empty result resolves to DefaultRoom. Distinct
// inputs may sanitize to the same key; that collision is accepted behavior.
func SanitizeRoomKey(raw string) string {
	key := roomKeyStrip.ReplaceAllString(raw, "")
	if len(key) > MaxRoomKeyLength {
		key = key[:MaxRoomKeyLength]
	}
	if key == "" {
		return DefaultRoom
	}
	return key
}

// RoomKeyFromRequest extracts the requested room from the path variable,
// falling back to the "room" query parameter, then DefaultRoom, and returns
// the sanitized key.
func RoomKeyFromRequest(r *http.Request) string {
	raw := mux.Vars(r)["room"]
	if raw == "" {
		raw = r.URL.Query().Get("room")
	}
	if raw == "" {
		raw = DefaultRoom
	}
	return SanitizeRoomKey(raw)
}
