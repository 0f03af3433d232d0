package session

import (
	"errors"
	"sort"
	"sync"
	"time"

	"cocode/awareness"
)

// Editor modes advertised through awareness.
const (
	ModeShared      = "shared"
	ModeIndependent = "independent"
)

// MaxSharedEditors caps how many participants may declare shared mode at
// once. The cap is cooperative: it is enforced locally before any broadcast,
// never by the server.
const MaxSharedEditors = 2

// ErrSharedEditorsFull is returned when switching to shared mode would exceed
// the cap.
var ErrSharedEditorsFull = errors.New("shared editor limit reached")

// Collaborator is the derived, client-only view of one remote participant.
type Collaborator struct {
	ClientID    string
	User        awareness.User
	Cursor      *awareness.Cursor
	EditorState *awareness.EditorState
}

// PendingLanguageChange is a surfaced proposal awaiting a local accept or
// decline.
type PendingLanguageChange struct {
	FromUser     awareness.User
	Language     string
	LanguageName string
	Timestamp    int64
}

// Collab is the client-side collaboration state machine: it derives the
// visible collaborator list from awareness records and layers the
// language-change negotiation and editor-mode advertisement on top.
type Collab struct {
	mu sync.Mutex
	aw *awareness.Awareness

	user     awareness.User
	language Language
	cursor   *awareness.Cursor

	mode                string
	independentContent  string
	independentLanguage Language
	locked              bool

	collaborators []Collaborator
	pending       *PendingLanguageChange
	lastProposal  int64

	onCollaborators []func([]Collaborator)
	onLanguage      []func(Language)
	onProposal      []func(PendingLanguageChange)

	now func() time.Time
}

// NewCollab attaches the state machine to an awareness engine and announces
// the local identity. The identity's display name and color come from the
// caller; they are not negotiated here.
func NewCollab(aw *awareness.Awareness, user awareness.User) *Collab {
	c := &Collab{
		aw:                  aw,
		user:                user,
		language:            DefaultLanguage,
		mode:                ModeShared,
		independentLanguage: DefaultLanguage,
		now:                 time.Now,
	}
	aw.OnChange(c.handleAwarenessChange)
	aw.SetLocalState(func(s *awareness.State) {
		u := user
		s.User = &u
	})
	return c
}

// OnCollaborators registers a listener for collaborator list changes.
func (c *Collab) OnCollaborators(fn func([]Collaborator)) {
	c.mu.Lock()
	c.onCollaborators = append(c.onCollaborators, fn)
	c.mu.Unlock()
}

// OnLanguage registers a listener fired when the shared language changes
// locally (immediate switch or accepted proposal).
func (c *Collab) OnLanguage(fn func(Language)) {
	c.mu.Lock()
	c.onLanguage = append(c.onLanguage, fn)
	c.mu.Unlock()
}

// OnProposal registers a listener fired when a new language-change proposal
// is surfaced.
func (c *Collab) OnProposal(fn func(PendingLanguageChange)) {
	c.mu.Lock()
	c.onProposal = append(c.onProposal, fn)
	c.mu.Unlock()
}

// Collaborators returns the current derived list, local identity excluded.
func (c *Collab) Collaborators() []Collaborator {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Collaborator, len(c.collaborators))
	copy(out, c.collaborators)
	return out
}

// Language returns the current shared editor language.
func (c *Collab) Language() Language {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.language
}

// Mode returns the local editor mode.
func (c *Collab) Mode() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Locked reports the local advisory lock flag.
func (c *Collab) Locked() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.locked
}

// PendingProposal returns the currently surfaced proposal, if any.
func (c *Collab) PendingProposal() *PendingLanguageChange {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pending == nil {
		return nil
	}
	p := *c.pending
	return &p
}

// SetUser updates the local display identity and republishes it.
func (c *Collab) SetUser(user awareness.User) {
	c.mu.Lock()
	c.user = user
	c.mu.Unlock()
	c.aw.SetLocalState(func(s *awareness.State) {
		u := user
		s.User = &u
	})
}

// SetCursor publishes the local caret position.
func (c *Collab) SetCursor(line, column int) {
	cur := awareness.Cursor{Line: line, Column: column}
	c.mu.Lock()
	c.cursor = &cur
	c.mu.Unlock()
	c.aw.SetLocalState(func(s *awareness.State) {
		s.Cursor = &cur
	})
}

// RequestLanguageChange switches the shared language. Alone in the room the
// switch applies immediately and returns true; with collaborators present a
// proposal is published instead and false is returned — the switch only
// happens on each peer as that peer accepts.
func (c *Collab) RequestLanguageChange(lang Language) bool {
	c.mu.Lock()
	alone := len(c.collaborators) == 0
	if alone {
		c.language = lang
	}
	user := c.user
	listeners := c.languageListeners()
	c.mu.Unlock()

	if alone {
		c.broadcastEditorState()
		for _, fn := range listeners {
			fn(lang)
		}
		return true
	}

	c.aw.SetLocalState(func(s *awareness.State) {
		s.LanguageChange = &awareness.LanguageChange{
			Language:     lang.ID,
			LanguageName: lang.Name,
			Timestamp:    c.now().UnixMilli(),
			FromUser:     user,
		}
	})
	return false
}

// AcceptProposal applies the surfaced language proposal locally.
func (c *Collab) AcceptProposal() {
	c.mu.Lock()
	if c.pending == nil {
		c.mu.Unlock()
		return
	}
	lang, ok := LanguageByID(c.pending.Language)
	if !ok {
		lang = Language{ID: c.pending.Language, Name: c.pending.LanguageName}
	}
	c.language = lang
	c.pending = nil
	listeners := c.languageListeners()
	c.mu.Unlock()

	c.broadcastEditorState()
	for _, fn := range listeners {
		fn(lang)
	}
}

// DeclineProposal drops the surfaced proposal. Nothing is sent; the proposer
// is not informed.
func (c *Collab) DeclineProposal() {
	c.mu.Lock()
	c.pending = nil
	c.mu.Unlock()
}

// SetEditorMode switches between shared and independent editing. Switching to
// shared is refused before any broadcast when the cooperative cap is already
// met by other participants.
func (c *Collab) SetEditorMode(mode string) error {
	c.mu.Lock()
	if mode == ModeShared && c.mode != ModeShared {
		if c.sharedPeerCount()+1 > MaxSharedEditors {
			c.mu.Unlock()
			return ErrSharedEditorsFull
		}
	}
	c.mode = mode
	c.mu.Unlock()

	c.broadcastEditorState()
	return nil
}

// SetIndependentContent updates the independent editor buffer and advertises
// it to peers for read-only display.
func (c *Collab) SetIndependentContent(content string) {
	c.mu.Lock()
	c.independentContent = content
	c.mu.Unlock()
	c.broadcastEditorState()
}

// SetIndependentLanguage updates the independent editor language.
func (c *Collab) SetIndependentLanguage(lang Language) {
	c.mu.Lock()
	c.independentLanguage = lang
	c.mu.Unlock()
	c.broadcastEditorState()
}

// SetLocked toggles the advisory lock flag. Peers mirror it for display; it
// never blocks the owner's own edits from merging.
func (c *Collab) SetLocked(locked bool) {
	c.mu.Lock()
	c.locked = locked
	c.mu.Unlock()
	c.broadcastEditorState()
}

// SharedEditorCount counts participants currently in shared mode, the local
// one included. Peers that have not advertised a mode count as shared.
func (c *Collab) SharedEditorCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := c.sharedPeerCount()
	if c.mode == ModeShared {
		n++
	}
	return n
}

func (c *Collab) sharedPeerCount() int {
	n := 0
	for _, col := range c.collaborators {
		if col.EditorState == nil || col.EditorState.Mode == ModeShared {
			n++
		}
	}
	return n
}

func (c *Collab) broadcastEditorState() {
	c.mu.Lock()
	state := awareness.EditorState{
		Mode:      c.mode,
		IsLocked:  c.locked,
		Timestamp: c.now().UnixMilli(),
	}
	if c.mode == ModeIndependent {
		state.Content = c.independentContent
		state.Language = c.independentLanguage.ID
		state.LanguageName = c.independentLanguage.Name
	} else {
		state.Language = c.language.ID
		state.LanguageName = c.language.Name
	}
	c.mu.Unlock()

	c.aw.SetLocalState(func(s *awareness.State) {
		s.EditorState = &state
	})
}

// handleAwarenessChange recomputes the collaborator list and surfaces any new
// language proposal on every awareness report.
func (c *Collab) handleAwarenessChange(_ awareness.Change) {
	states := c.aw.States()

	c.mu.Lock()
	local := c.aw.ClientID()
	collaborators := make([]Collaborator, 0, len(states))
	var proposal *PendingLanguageChange

	for clientID, state := range states {
		if clientID == local {
			continue
		}
		if state.User != nil {
			collaborators = append(collaborators, Collaborator{
				ClientID:    clientID,
				User:        *state.User,
				Cursor:      state.Cursor,
				EditorState: state.EditorState,
			})
		}

		// Surface only proposals newer than the last one acted on and
		// not authored locally. A later proposal supersedes an earlier
		// undecided one.
		lc := state.LanguageChange
		if lc != nil && lc.Timestamp > c.lastProposal && lc.FromUser.ID != c.user.ID {
			if proposal == nil || lc.Timestamp > proposal.Timestamp {
				proposal = &PendingLanguageChange{
					FromUser:     lc.FromUser,
					Language:     lc.Language,
					LanguageName: lc.LanguageName,
					Timestamp:    lc.Timestamp,
				}
			}
		}
	}

	sort.Slice(collaborators, func(i, j int) bool {
		return collaborators[i].ClientID < collaborators[j].ClientID
	})
	c.collaborators = collaborators

	var proposalListeners []func(PendingLanguageChange)
	if proposal != nil {
		c.lastProposal = proposal.Timestamp
		c.pending = proposal
		proposalListeners = make([]func(PendingLanguageChange), len(c.onProposal))
		copy(proposalListeners, c.onProposal)
	}
	collabListeners := make([]func([]Collaborator), len(c.onCollaborators))
	copy(collabListeners, c.onCollaborators)
	snapshot := make([]Collaborator, len(collaborators))
	copy(snapshot, collaborators)
	pendingCopy := proposal
	c.mu.Unlock()

	for _, fn := range collabListeners {
		fn(snapshot)
	}
	if pendingCopy != nil {
		for _, fn := range proposalListeners {
			fn(*pendingCopy)
		}
	}
}

func (c *Collab) languageListeners() []func(Language) {
	out := make([]func(Language), len(c.onLanguage))
	copy(out, c.onLanguage)
	return out
}
