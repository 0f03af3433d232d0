package crdt

import (
	"fmt"
	"strings"
	"sync"
)

// item is one atom of the replicated sequence. Deleted atoms remain as
// tombstones so later-arriving operations can still resolve their neighbors.
type item struct {
	id      ID
	lamport uint64
	origin  *ID
	value   rune
	deleted bool
}

// Doc is one replica of the shared text. Applying the same set of operations,
// in any order and with any duplication, yields the same visible sequence on
// every replica: duplicates are filtered by the state vector, out-of-order
// arrivals wait in a pending buffer until their dependencies exist, and
// concurrent inserts at the same spot are ordered by (Lamport, Site).
type Doc struct {
	mu      sync.Mutex
	site    string
	seq     uint64
	lamport uint64
	items   []item
	index   map[ID]int // atom ID -> position in items
	log     map[string][]Op
	sv      StateVector
	pending []Op
}

// NewDoc creates an empty replica owned by the given site identifier.
func NewDoc(site string) *Doc {
	return &Doc{
		site:  site,
		index: make(map[ID]int),
		log:   make(map[string][]Op),
		sv:    make(StateVector),
	}
}

// Site returns the replica's site identifier.
func (d *Doc) Site() string { return d.site }

// String renders the visible text.
func (d *Doc) String() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var b strings.Builder
	for _, it := range d.items {
		if !it.deleted {
			b.WriteRune(it.value)
		}
	}
	return b.String()
}

// Len returns the visible character count.
func (d *Doc) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.visibleLen()
}

// StateVector returns a snapshot of the operations applied so far.
func (d *Doc) StateVector() StateVector {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.sv.Copy()
}

// InsertAt inserts s at the visible position pos, applies it locally right
// away, and returns the operations to broadcast. Local edits never wait for
// the network.
func (d *Doc) InsertAt(pos int, s string) ([]Op, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if pos < 0 || pos > d.visibleLen() {
		return nil, fmt.Errorf("insert position %d out of range [0,%d]", pos, d.visibleLen())
	}

	origin := d.originBefore(pos)
	ops := make([]Op, 0, len(s))
	for _, r := range s {
		d.seq++
		d.lamport++
		op := Op{
			Type:    OpInsert,
			ID:      ID{Site: d.site, Seq: d.seq},
			Lamport: d.lamport,
			Origin:  origin,
			Value:   string(r),
		}
		d.integrate(op)
		d.record(op)
		ops = append(ops, op)
		id := op.ID
		origin = &id
	}
	return ops, nil
}

// DeleteAt tombstones n visible characters starting at pos, applies locally,
// and returns the operations to broadcast.
func (d *Doc) DeleteAt(pos, n int) ([]Op, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if pos < 0 || n < 0 || pos+n > d.visibleLen() {
		return nil, fmt.Errorf("delete range [%d,%d) out of range [0,%d]", pos, pos+n, d.visibleLen())
	}

	// Resolve targets before tombstoning so visible offsets stay stable.
	targets := make([]ID, 0, n)
	seen := 0
	for _, it := range d.items {
		if it.deleted {
			continue
		}
		if seen >= pos && seen < pos+n {
			targets = append(targets, it.id)
		}
		seen++
	}

	ops := make([]Op, 0, n)
	for _, target := range targets {
		d.seq++
		d.lamport++
		t := target
		op := Op{
			Type:   OpDelete,
			ID:     ID{Site: d.site, Seq: d.seq},
			Target: &t,
		}
		d.items[d.index[target]].deleted = true
		d.record(op)
		ops = append(ops, op)
	}
	return ops, nil
}

// Apply merges one remote operation. Duplicates are no-ops; operations whose
// dependencies have not arrived yet are buffered and retried as later
// operations land. Apply never fails on a well-formed frame.
func (d *Doc) Apply(op Op) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.apply(op)
	d.drainPending()
}

// ApplyAll merges a batch of remote operations, typically a catch-up delta.
func (d *Doc) ApplyAll(ops []Op) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, op := range ops {
		d.apply(op)
	}
	d.drainPending()
}

// OpsSince returns every applied operation not yet reflected in remote, in
// per-site sequence order. This is the minimal catch-up delta: nothing the
// remote vector already covers is included.
func (d *Doc) OpsSince(remote StateVector) []Op {
	d.mu.Lock()
	defer d.mu.Unlock()

	var out []Op
	for site, ops := range d.log {
		have := remote[site]
		if have >= uint64(len(ops)) {
			continue
		}
		out = append(out, ops[have:]...)
	}
	return out
}

func (d *Doc) visibleLen() int {
	n := 0
	for _, it := range d.items {
		if !it.deleted {
			n++
		}
	}
	return n
}

// originBefore returns the ID of the visible atom just left of pos, or nil
// for the document start.
func (d *Doc) originBefore(pos int) *ID {
	if pos == 0 {
		return nil
	}
	seen := 0
	for i := range d.items {
		if d.items[i].deleted {
			continue
		}
		seen++
		if seen == pos {
			id := d.items[i].id
			return &id
		}
	}
	return nil
}

func (d *Doc) apply(op Op) {
	if !wellFormed(op) {
		return // malformed frames are dropped, never fatal
	}
	if d.sv.Includes(op.ID) {
		return // already reflected, duplicate-safe
	}
	if !d.applicable(op) {
		d.pending = append(d.pending, op)
		return
	}
	d.applyReady(op)
}

func wellFormed(op Op) bool {
	if op.ID.Site == "" || op.ID.Seq == 0 {
		return false
	}
	switch op.Type {
	case OpInsert:
		return len([]rune(op.Value)) == 1
	case OpDelete:
		return op.Target != nil
	}
	return false
}

// applicable reports whether op's dependencies are satisfied: the site's
// previous operation has been applied (per-site order) and any referenced
// atom exists.
func (d *Doc) applicable(op Op) bool {
	if op.ID.Seq != d.sv[op.ID.Site]+1 {
		return false
	}
	switch op.Type {
	case OpInsert:
		if op.Origin != nil {
			if _, ok := d.index[*op.Origin]; !ok {
				return false
			}
		}
	case OpDelete:
		if _, ok := d.index[*op.Target]; !ok {
			return false
		}
	}
	return true
}

func (d *Doc) applyReady(op Op) {
	switch op.Type {
	case OpInsert:
		if op.Lamport > d.lamport {
			d.lamport = op.Lamport
		}
		d.integrate(op)
	case OpDelete:
		d.items[d.index[*op.Target]].deleted = true
	}
	d.record(op)
}

// drainPending retries buffered operations until no more become applicable.
func (d *Doc) drainPending() {
	for {
		progressed := false
		remaining := d.pending[:0]
		for _, op := range d.pending {
			if d.sv.Includes(op.ID) {
				progressed = true
				continue
			}
			if d.applicable(op) {
				d.applyReady(op)
				progressed = true
			} else {
				remaining = append(remaining, op)
			}
		}
		d.pending = remaining
		if !progressed || len(d.pending) == 0 {
			return
		}
	}
}

// integrate places an insert using the RGA rule: start just after the origin
// atom and skip every atom with a greater (Lamport, Site) timestamp; insert
// before the first smaller one. Lamport timestamps grow along causal chains,
// so subtrees of preceding siblings are skipped as a unit and every replica
// picks the same spot regardless of arrival order.
func (d *Doc) integrate(op Op) {
	pos := 0
	if op.Origin != nil {
		pos = d.index[*op.Origin] + 1
	}
	for pos < len(d.items) {
		c := d.items[pos]
		if c.lamport < op.Lamport || (c.lamport == op.Lamport && c.id.Site < op.ID.Site) {
			break
		}
		pos++
	}

	it := item{
		id:      op.ID,
		lamport: op.Lamport,
		origin:  op.Origin,
		value:   []rune(op.Value)[0],
		deleted: false,
	}
	d.items = append(d.items, item{})
	copy(d.items[pos+1:], d.items[pos:])
	d.items[pos] = it

	for id, i := range d.index {
		if i >= pos {
			d.index[id] = i + 1
		}
	}
	d.index[it.id] = pos
}

// record appends op to the per-site log and advances the state vector.
func (d *Doc) record(op Op) {
	d.log[op.ID.Site] = append(d.log[op.ID.Site], op)
	d.sv[op.ID.Site] = op.ID.Seq
}
