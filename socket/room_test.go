package socket

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeRoomKey(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"clean key unchanged", "room1", "room1"},
		{"underscores and dashes kept", "my_room-2", "my_room-2"},
		{"traversal characters stripped", "../../etc/passwd", "etcpasswd"},
		{"url junk stripped", "room?x=1&y=2", "roomxy12"},
		{"only junk falls back to default", "../..//", DefaultRoom},
		{"empty falls back to default", "", DefaultRoom},
		{"truncated to max length", strings.Repeat("a", 80), strings.Repeat("a", MaxRoomKeyLength)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, SanitizeRoomKey(tc.in))
		})
	}
}

func TestSanitizeRoomKeyIdempotent(t *testing.T) {
	for _, raw := range []string{"room1", "../../etc", "a b c", strings.Repeat("z", 200), ""} {
		once := SanitizeRoomKey(raw)
		assert.Equal(t, once, SanitizeRoomKey(once), "sanitizing %q twice diverged", raw)
	}
}
