// Package ringtable maintains a peer's view of the DHT ring: the ordered
// set of (identifier, name, ip, p_port) members and the right-neighbor
// relation a peer uses to forward ring-protocol messages (spec.md §3,
// §4.4). It is built on the standard library's container/ring, the
// teacher's pack having no ring-shaped structure of its own — the
// teacher's routingTable package is a Kademlia XOR-tree over 160-bit
// info-hashes, a different domain entirely (see DESIGN.md), so this
// package is new code wired to the stdlib's only general container that
// models a ring's adjacency directly.
package ringtable

import (
	"container/ring"
	"fmt"
	"sort"

	"stormring/internal/wire"
)

// Member is one ring position: identifier plus the handle needed to
// reach it.
type Member struct {
	Identifier int
	Tuple      wire.Tuple
}

// Table is a peer's local member table (spec.md §3: "local member table"),
// ordered by ascending identifier and wired into a container/ring so the
// right neighbor of any member is a single Next() away.
type Table struct {
	members map[int]Member
	r       *ring.Ring // always points at the lowest identifier present
}

// New builds a Table from the manager's setup-dht membership reply
// (spec.md §4.3), assigning identifiers 0..n-1 in the order given —
// matching the original source's convention that the leader receives
// identifier 0 and the rest follow registration order.
func New(members []wire.Tuple) *Table {
	t := &Table{members: make(map[int]Member, len(members))}
	for i, m := range members {
		t.members[i] = Member{Identifier: i, Tuple: m}
	}
	t.rebuild()
	return t
}

// Empty returns a Table with no members, for a peer that has not yet
// joined a ring.
func Empty() *Table {
	return &Table{members: make(map[int]Member)}
}

func (t *Table) rebuild() {
	ids := make([]int, 0, len(t.members))
	for id := range t.members {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	if len(ids) == 0 {
		t.r = nil
		return
	}
	r := ring.New(len(ids))
	for _, id := range ids {
		r.Value = t.members[id]
		r = r.Next()
	}
	// r now points just past the last insert, i.e. back at the first.
	t.r = r
}

// Size returns the number of members currently in the ring.
func (t *Table) Size() int { return len(t.members) }

// Get returns the member at the given identifier.
func (t *Table) Get(id int) (Member, bool) {
	m, ok := t.members[id]
	return m, ok
}

// RightNeighbor returns the member immediately clockwise of id — the
// destination for any message this peer cannot service locally
// (spec.md §4.4: "forward it to its right neighbor").
func (t *Table) RightNeighbor(id int) (Member, error) {
	if t.r == nil {
		return Member{}, fmt.Errorf("ringtable: empty ring")
	}
	cur := t.r
	for i := 0; i < t.r.Len(); i++ {
		if cur.Value.(Member).Identifier == id {
			return cur.Next().Value.(Member), nil
		}
		cur = cur.Next()
	}
	return Member{}, fmt.Errorf("ringtable: identifier %d not present", id)
}

// Insert adds a member, used by join-dht to extend the ring without a
// full rebuild of the caller's data — only the internal container/ring
// is rebuilt, identifiers supplied by the caller are preserved.
func (t *Table) Insert(m Member) {
	t.members[m.Identifier] = m
	t.rebuild()
}

// Remove drops a member, used by leave-dht.
func (t *Table) Remove(id int) {
	delete(t.members, id)
	t.rebuild()
}

// All returns every member ordered by ascending identifier.
func (t *Table) All() []Member {
	out := make([]Member, 0, len(t.members))
	if t.r == nil {
		return out
	}
	cur := t.r
	for i := 0; i < t.r.Len(); i++ {
		out = append(out, cur.Value.(Member))
		cur = cur.Next()
	}
	return out
}
