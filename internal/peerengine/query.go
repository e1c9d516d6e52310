package peerengine

import (
	"net"

	"stormring/internal/dataset"
	"stormring/internal/hashutil"
	"stormring/internal/wire"
)

// LastFindResult returns the outcome of the most recently completed
// find-event query this peer originated.
func (e *Engine) LastFindResult() FindResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.lastFindResult
}

// onFindEvent is reached for every inbound find-event datagram: a ring
// node processing a hop of the walk, or the originating Free peer
// receiving its answer. Only a ring member runs the walk; a Free peer
// can only be on the receiving end of a reply (spec.md §4.6).
func (e *Engine) onFindEvent(env wire.Envelope, raddr net.UDPAddr) {
	if e.state != StateRingMember {
		e.onFindEventReply(env)
		return
	}
	e.onFindEventAtRingNode(env)
}

func (e *Engine) onFindEventReply(env wire.Envelope) {
	e.lastFindResult = FindResult{Requested: true, Found: env.Found, Record: env.Record, IDSeq: env.IDSeq}
	if env.Found {
		e.log.Infof("peer %s: find-event hit, record=%v id-seq=%v", e.Name, env.Record, env.IDSeq)
	} else {
		e.log.Infof("peer %s: find-event miss, id-seq=%v", e.Name, env.IDSeq)
	}
}

// onFindEventAtRingNode implements spec.md §4.6's walk, resolving the
// Open Question in favor of the placement-side definition of s: both
// sides derive the modulus from the total dataset size ℓ, not the
// receiving node's local table size (hashutil.TableSize's doc comment;
// spec.md §9).
func (e *Engine) onFindEventAtRingNode(env wire.Envelope) {
	tableSize := hashutil.TableSize(e.datasetSize)
	_, id := hashutil.Place(env.EventID, tableSize, e.ringSize)

	if id == e.identifier {
		e.reportFindResult(env)
		return
	}

	visited := append(append([]int(nil), env.IDSeq...), e.identifier)
	remaining := remainingIdentifiers(e.ringSize, visited)
	if len(remaining) == 0 {
		e.replyFindResult(env, false, nil, visited)
		return
	}
	next := e.rand.Choice(remaining)
	member, ok := e.table.Get(next)
	if !ok {
		e.log.Errorf("peer %s: find-event chose unknown identifier %d", e.Name, next)
		return
	}
	forwarded := env
	forwarded.IDSeq = visited
	addr := wire.ResolveAddr(member.Tuple.IP, member.Tuple.PPort)
	if err := wire.SendTo(e.conn, addr, forwarded, e.log); err != nil {
		e.log.Errorf("peer %s: find-event forward failed: %v", e.Name, err)
	}
}

func (e *Engine) reportFindResult(env wire.Envelope) {
	idSeq := append(append([]int(nil), env.IDSeq...), e.identifier)
	for _, r := range e.local {
		eid, err := dataset.Record(r).EventID()
		if err != nil {
			continue
		}
		if eid == env.EventID {
			e.replyFindResult(env, true, []string(r), idSeq)
			return
		}
	}
	e.replyFindResult(env, false, nil, idSeq)
}

func (e *Engine) replyFindResult(env wire.Envelope, found bool, record []string, idSeq []int) {
	if env.Origin == nil {
		e.log.Errorf("peer %s: find-event reply has no origin to answer", e.Name)
		return
	}
	addr := wire.ResolveAddr(env.Origin.IP, env.Origin.PPort)
	reply := wire.Envelope{
		Status:      wire.StatusPeerMessage,
		CommandType: wire.CmdFindEvent,
		Found:       found,
		Record:      record,
		IDSeq:       idSeq,
	}
	if err := wire.SendTo(e.conn, addr, reply, e.log); err != nil {
		e.log.Errorf("peer %s: find-event reply failed: %v", e.Name, err)
	}
}

// remainingIdentifiers returns {0..ringSize-1} minus visited, the
// candidate set for the next hop (spec.md §4.6 step 3). Strictly
// decreasing in size across hops, which bounds the walk at ringSize
// nodes.
func remainingIdentifiers(ringSize int, visited []int) []int {
	seen := make(map[int]bool, len(visited))
	for _, v := range visited {
		seen[v] = true
	}
	out := make([]int, 0, ringSize)
	for i := 0; i < ringSize; i++ {
		if !seen[i] {
			out = append(out, i)
		}
	}
	return out
}
