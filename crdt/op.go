package crdt

// ID identifies an operation: the originating site plus that site's
// locally-incrementing sequence number. Sequence numbers are contiguous per
// site, which is what lets a StateVector summarize "seen so far" compactly.
type ID struct {
	Site string `json:"site"`
	Seq  uint64 `json:"seq"`
}

type OpType string

const (
	OpInsert OpType = "insert"
	OpDelete OpType = "delete"
)

// Op is one document operation. Inserts carry the Lamport timestamp used for
// the position tie-break, the inserted atom, and the ID of the atom to their
// left at insertion time (nil for document start). Deletes reference the
// insert op whose atom they remove; the atom is tombstoned, never excised, so
// concurrent operations around it keep a stable reference point.
type Op struct {
	Type    OpType `json:"type"`
	ID      ID     `json:"id"`
	Lamport uint64 `json:"lamport,omitempty"`
	Origin  *ID    `json:"origin,omitempty"`
	Value   string `json:"value,omitempty"`
	Target  *ID    `json:"target,omitempty"`
}
