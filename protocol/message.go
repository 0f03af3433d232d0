// Package protocol defines the frames replicas exchange through the relay.
// The server forwards these opaquely; only the receiving sync and awareness
// engines decode them.
package protocol

import (
	"encoding/json"
	"fmt"

	"cocode/awareness"
	"cocode/crdt"
)

const (
	// TypeSyncStep1 carries a replica's state vector, asking for what it
	// is missing. Sent on connect.
	TypeSyncStep1 = "sync-step1"
	// TypeSyncStep2 answers step 1 with the missing operations, plus the
	// responder's own state vector so the exchange converges both ways.
	TypeSyncStep2 = "sync-step2"
	// TypeUpdate carries incremental operations from local edits.
	TypeUpdate = "update"
	// TypeAwareness carries presence records.
	TypeAwareness = "awareness"
)

// Message is the envelope multiplexing sync and awareness frames on one
// channel.
type Message struct {
	Type        string             `json:"type"`
	StateVector crdt.StateVector   `json:"stateVector,omitempty"`
	Ops         []crdt.Op          `json:"ops,omitempty"`
	Awareness   []awareness.Update `json:"awareness,omitempty"`
}

// Encode marshals a message for the wire.
func Encode(m Message) ([]byte, error) {
	return json.Marshal(m)
}

// Decode parses a frame received from the relay.
func Decode(data []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("decode frame: %w", err)
	}
	if m.Type == "" {
		return Message{}, fmt.Errorf("decode frame: missing type")
	}
	return m, nil
}

// SyncStep1 builds the opening handshake frame.
func SyncStep1(sv crdt.StateVector) Message {
	return Message{Type: TypeSyncStep1, StateVector: sv}
}

// SyncStep2 builds the catch-up reply.
func SyncStep2(ops []crdt.Op, sv crdt.StateVector) Message {
	return Message{Type: TypeSyncStep2, Ops: ops, StateVector: sv}
}

// Update builds an incremental edit frame.
func Update(ops []crdt.Op) Message {
	return Message{Type: TypeUpdate, Ops: ops}
}

// Awareness builds a presence frame.
func Awareness(updates ...awareness.Update) Message {
	return Message{Type: TypeAwareness, Awareness: updates}
}
