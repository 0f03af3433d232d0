package crdt

// StateVector summarizes the operations a replica has applied, as the highest
// contiguous sequence number seen per originating site. It is exchanged during
// the connect handshake to compute minimal catch-up deltas.
type StateVector map[string]uint64

// Includes reports whether the operation identified by id is already
// reflected in the vector.
func (sv StateVector) Includes(id ID) bool {
	return sv[id.Site] >= id.Seq
}

// Copy returns an independent copy of the vector.
func (sv StateVector) Copy() StateVector {
	out := make(StateVector, len(sv))
	for site, seq := range sv {
		out[site] = seq
	}
	return out
}
