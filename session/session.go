// Package session is the client side of the collaborative session: one
// replica of the shared document, the presence engine, and the collaboration
// state machine, all driven through a websocket provider.
package session

import (
	"github.com/google/uuid"

	"cocode/awareness"
	"cocode/crdt"
)

// Session bundles one participant's replica: document, awareness, provider,
// and collaboration state machine. Every cross-replica effect flows through
// received protocol messages; sessions never share mutable state.
type Session struct {
	Doc       *crdt.Doc
	Awareness *awareness.Awareness
	Provider  *Provider
	Collab    *Collab
}

// New creates a session for the given room and identity. Connect must be
// called to go online; local editing works immediately either way.
func New(serverURL, room string, user awareness.User) *Session {
	clientID := uuid.NewString()
	doc := crdt.NewDoc(clientID)
	aw := awareness.New(clientID)
	provider := NewProvider(serverURL, room, doc, aw)
	aw.SetBroadcaster(provider)
	collab := NewCollab(aw, user)

	return &Session{
		Doc:       doc,
		Awareness: aw,
		Provider:  provider,
		Collab:    collab,
	}
}

// Connect brings the session online.
func (s *Session) Connect() { s.Provider.Connect() }

// Close leaves the room.
func (s *Session) Close() { s.Provider.Close() }

// Insert applies a local edit immediately and broadcasts the resulting
// operations. Edits never block on the network.
func (s *Session) Insert(pos int, text string) error {
	ops, err := s.Doc.InsertAt(pos, text)
	if err != nil {
		return err
	}
	s.Provider.BroadcastOps(ops)
	return nil
}

// Delete removes n characters at pos locally and broadcasts the operations.
func (s *Session) Delete(pos, n int) error {
	ops, err := s.Doc.DeleteAt(pos, n)
	if err != nil {
		return err
	}
	s.Provider.BroadcastOps(ops)
	return nil
}

// Text returns the current visible document.
func (s *Session) Text() string { return s.Doc.String() }
