package awareness

import (
	"sync"
	"time"
)

// DefaultTimeout is the staleness window after which a peer record is evicted
// when no refresh has been observed.
const DefaultTimeout = 30 * time.Second

// User is a participant's display identity.
type User struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

// Cursor is a participant's caret position.
type Cursor struct {
	Line   int `json:"line"`
	Column int `json:"column"`
}

// EditorState is a participant's advertised editor mode, mirrored read-only
// by its peers.
type EditorState struct {
	Mode         string `json:"mode"` // "shared" or "independent"
	Content      string `json:"content"`
	Language     string `json:"language"`
	LanguageName string `json:"languageName"`
	IsLocked     bool   `json:"isLocked"`
	Timestamp    int64  `json:"timestamp"`
}

// LanguageChange is a language-switch proposal published through awareness.
// There is no accept/decline wire message; recipients resolve it locally.
type LanguageChange struct {
	Language     string `json:"language"`
	LanguageName string `json:"languageName"`
	Timestamp    int64  `json:"timestamp"`
	FromUser     User   `json:"fromUser"`
}

// State is one participant's ephemeral presence record. The owner replaces it
// wholesale on every update; it is never merged field-by-field across updates.
type State struct {
	User           *User           `json:"user,omitempty"`
	Cursor         *Cursor         `json:"cursor,omitempty"`
	EditorState    *EditorState    `json:"editorState,omitempty"`
	LanguageChange *LanguageChange `json:"languageChange,omitempty"`
}

// Update is one participant's record on the wire. A nil State announces
// departure.
type Update struct {
	ClientID string `json:"clientID"`
	Clock    uint64 `json:"clock"`
	State    *State `json:"state"`
}

type entry struct {
	state   State
	clock   uint64
	refresh time.Time
}

// Broadcaster publishes local record changes to the rest of the room. It is
// injected explicitly so nothing here depends on a process-wide provider
// handle.
type Broadcaster interface {
	BroadcastAwareness(update Update)
}

// Awareness maintains the local presence record and a mirror of every peer's
// record, merged by per-participant clock and aged out after Timeout.
type Awareness struct {
	mu          sync.Mutex
	clientID    string
	clock       uint64
	local       State
	peers       map[string]*entry
	Timeout     time.Duration
	broadcaster Broadcaster
	onChange    []func(Change)
	now         func() time.Time
}

// Change describes one round of record changes delivered to listeners.
type Change struct {
	Added   []string
	Updated []string
	Removed []string
}

func New(clientID string) *Awareness {
	return &Awareness{
		clientID: clientID,
		peers:    make(map[string]*entry),
		Timeout:  DefaultTimeout,
		now:      time.Now,
	}
}

// ClientID returns the local participant identity.
func (a *Awareness) ClientID() string { return a.clientID }

// SetBroadcaster installs the publish target for local record changes.
func (a *Awareness) SetBroadcaster(b Broadcaster) {
	a.mu.Lock()
	a.broadcaster = b
	a.mu.Unlock()
}

// OnChange registers a listener called after every record change, local or
// remote.
func (a *Awareness) OnChange(fn func(Change)) {
	a.mu.Lock()
	a.onChange = append(a.onChange, fn)
	a.mu.Unlock()
}

// LocalState returns a copy of the local record.
func (a *Awareness) LocalState() State {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.local
}

// SetLocalState replaces the local record wholesale, bumps the clock, and
// broadcasts the full record.
func (a *Awareness) SetLocalState(mutate func(*State)) {
	a.mu.Lock()
	mutate(&a.local)
	a.clock++
	update := Update{ClientID: a.clientID, Clock: a.clock, State: cloneState(a.local)}
	b := a.broadcaster
	listeners := a.listeners()
	a.mu.Unlock()

	if b != nil {
		b.BroadcastAwareness(update)
	}
	change := Change{Updated: []string{a.clientID}}
	for _, fn := range listeners {
		fn(change)
	}
}

// LocalUpdate returns the current local record as a wire update, used to
// announce presence right after (re)connecting.
func (a *Awareness) LocalUpdate() Update {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Update{ClientID: a.clientID, Clock: a.clock, State: cloneState(a.local)}
}

// ApplyUpdate merges one remote record. Records older than the mirrored clock
// are discarded; a nil state removes the peer.
func (a *Awareness) ApplyUpdate(update Update) {
	if update.ClientID == "" || update.ClientID == a.clientID {
		return
	}

	a.mu.Lock()
	var change Change
	existing, known := a.peers[update.ClientID]

	switch {
	case update.State == nil:
		if !known {
			a.mu.Unlock()
			return
		}
		delete(a.peers, update.ClientID)
		change.Removed = []string{update.ClientID}
	case !known:
		a.peers[update.ClientID] = &entry{state: *update.State, clock: update.Clock, refresh: a.now()}
		change.Added = []string{update.ClientID}
	case update.Clock > existing.clock:
		existing.state = *update.State
		existing.clock = update.Clock
		existing.refresh = a.now()
		change.Updated = []string{update.ClientID}
	default:
		a.mu.Unlock()
		return // stale or duplicate
	}
	listeners := a.listeners()
	a.mu.Unlock()

	for _, fn := range listeners {
		fn(change)
	}
}

// States returns a snapshot of every known record keyed by participant
// identity, the local record included.
func (a *Awareness) States() map[string]State {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make(map[string]State, len(a.peers)+1)
	out[a.clientID] = a.local
	for id, e := range a.peers {
		out[id] = e.state
	}
	return out
}

// Sweep evicts every peer record whose last refresh is older than Timeout,
// treating the owner as departed. It reports the evicted identities.
func (a *Awareness) Sweep() []string {
	a.mu.Lock()
	cutoff := a.now().Add(-a.Timeout)
	var evicted []string
	for id, e := range a.peers {
		if e.refresh.Before(cutoff) {
			delete(a.peers, id)
			evicted = append(evicted, id)
		}
	}
	var listeners []func(Change)
	if len(evicted) > 0 {
		listeners = a.listeners()
	}
	a.mu.Unlock()

	if len(evicted) > 0 {
		change := Change{Removed: evicted}
		for _, fn := range listeners {
			fn(change)
		}
	}
	return evicted
}

// Clear drops every peer record, used when the underlying connection closes.
func (a *Awareness) Clear() {
	a.mu.Lock()
	var removed []string
	for id := range a.peers {
		removed = append(removed, id)
		delete(a.peers, id)
	}
	var listeners []func(Change)
	if len(removed) > 0 {
		listeners = a.listeners()
	}
	a.mu.Unlock()

	if len(removed) > 0 {
		change := Change{Removed: removed}
		for _, fn := range listeners {
			fn(change)
		}
	}
}

func (a *Awareness) listeners() []func(Change) {
	out := make([]func(Change), len(a.onChange))
	copy(out, a.onChange)
	return out
}

func cloneState(s State) *State {
	c := s
	return &c
}
