package manager

// registry holds the peer state information base (spec.md §3: "SIB"),
// adapted from the teacher's map-backed peer store into a plain map since,
// unlike the teacher's bounded info-hash cache, registered peers are not
// evicted — they live from register to deregister (spec.md §3 Lifecycle).
type registry struct {
	peers map[string]*PeerRecord
}

func newRegistry() *registry {
	return &registry{peers: make(map[string]*PeerRecord)}
}

func (r *registry) get(name string) (*PeerRecord, bool) {
	p, ok := r.peers[name]
	return p, ok
}

func (r *registry) add(name string, rec *PeerRecord) {
	r.peers[name] = rec
}

func (r *registry) remove(name string) {
	delete(r.peers, name)
}

func (r *registry) count() int {
	return len(r.peers)
}

// byState returns the names of every peer currently in state s, in
// unspecified order.
func (r *registry) byState(s PeerState) []string {
	var out []string
	for name, rec := range r.peers {
		if rec.State == s {
			out = append(out, name)
		}
	}
	return out
}
