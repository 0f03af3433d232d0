package awareness

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureBroadcaster struct {
	updates []Update
}

func (c *captureBroadcaster) BroadcastAwareness(u Update) {
	c.updates = append(c.updates, u)
}

func TestLocalUpdatesBumpClockAndBroadcast(t *testing.T) {
	a := New("me")
	capture := &captureBroadcaster{}
	a.SetBroadcaster(capture)

	a.SetLocalState(func(s *State) {
		s.User = &User{ID: "me", Name: "Ada", Color: "#ff0000"}
	})
	a.SetLocalState(func(s *State) {
		s.Cursor = &Cursor{Line: 3, Column: 7}
	})

	require.Len(t, capture.updates, 2)
	assert.Equal(t, uint64(1), capture.updates[0].Clock)
	assert.Equal(t, uint64(2), capture.updates[1].Clock)

	// Each broadcast carries the whole record, not just the changed field.
	last := capture.updates[1].State
	require.NotNil(t, last)
	assert.Equal(t, "Ada", last.User.Name)
	assert.Equal(t, 3, last.Cursor.Line)
}

func TestRemoteMergeByClock(t *testing.T) {
	a := New("me")

	a.ApplyUpdate(Update{ClientID: "peer", Clock: 2, State: &State{User: &User{Name: "new"}}})
	a.ApplyUpdate(Update{ClientID: "peer", Clock: 1, State: &State{User: &User{Name: "old"}}})

	states := a.States()
	require.Contains(t, states, "peer")
	assert.Equal(t, "new", states["peer"].User.Name, "stale record must not replace a newer one")

	a.ApplyUpdate(Update{ClientID: "peer", Clock: 3, State: &State{User: &User{Name: "newest"}}})
	assert.Equal(t, "newest", a.States()["peer"].User.Name)
}

func TestOwnAndEmptyUpdatesIgnored(t *testing.T) {
	a := New("me")

	a.ApplyUpdate(Update{ClientID: "me", Clock: 99, State: &State{User: &User{Name: "echo"}}})
	a.ApplyUpdate(Update{Clock: 1, State: &State{}})

	states := a.States()
	assert.Len(t, states, 1) // only the local record
	assert.Contains(t, states, "me")
}

func TestNilStateRemovesPeer(t *testing.T) {
	a := New("me")
	var removed []string
	a.OnChange(func(ch Change) { removed = append(removed, ch.Removed...) })

	a.ApplyUpdate(Update{ClientID: "peer", Clock: 1, State: &State{User: &User{Name: "p"}}})
	a.ApplyUpdate(Update{ClientID: "peer", Clock: 2, State: nil})

	assert.NotContains(t, a.States(), "peer")
	assert.Equal(t, []string{"peer"}, removed)
}

func TestSweepEvictsStaleRecords(t *testing.T) {
	a := New("me")
	a.Timeout = 30 * time.Second

	now := time.Unix(1000, 0)
	a.now = func() time.Time { return now }

	a.ApplyUpdate(Update{ClientID: "quiet", Clock: 1, State: &State{User: &User{Name: "q"}}})
	a.ApplyUpdate(Update{ClientID: "chatty", Clock: 1, State: &State{User: &User{Name: "c"}}})

	// chatty refreshes just before the window expires; quiet stays silent.
	now = now.Add(29 * time.Second)
	a.ApplyUpdate(Update{ClientID: "chatty", Clock: 2, State: &State{User: &User{Name: "c"}}})

	now = now.Add(2 * time.Second)
	evicted := a.Sweep()

	assert.Equal(t, []string{"quiet"}, evicted)
	states := a.States()
	assert.NotContains(t, states, "quiet")
	assert.Contains(t, states, "chatty")
}

func TestClearDropsAllPeers(t *testing.T) {
	a := New("me")
	a.SetLocalState(func(s *State) { s.User = &User{Name: "local"} })
	a.ApplyUpdate(Update{ClientID: "p1", Clock: 1, State: &State{}})
	a.ApplyUpdate(Update{ClientID: "p2", Clock: 1, State: &State{}})

	a.Clear()

	states := a.States()
	assert.Len(t, states, 1)
	require.Contains(t, states, "me")
	assert.Equal(t, "local", states["me"].User.Name)
}

func TestChangeCallbackClassification(t *testing.T) {
	a := New("me")
	var changes []Change
	a.OnChange(func(ch Change) { changes = append(changes, ch) })

	a.ApplyUpdate(Update{ClientID: "peer", Clock: 1, State: &State{}})
	a.ApplyUpdate(Update{ClientID: "peer", Clock: 2, State: &State{}})
	a.ApplyUpdate(Update{ClientID: "peer", Clock: 2, State: &State{}}) // duplicate, no callback

	require.Len(t, changes, 2)
	assert.Equal(t, []string{"peer"}, changes[0].Added)
	assert.Equal(t, []string{"peer"}, changes[1].Updated)
}
