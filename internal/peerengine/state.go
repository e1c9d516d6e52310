// Package peerengine implements a peer's ring participation state machine
// (spec.md §4.3): the identity/ring-coordinate record, the dispatcher that
// is its sole mutator, the DHT builder, the lifecycle choreography
// (setup/teardown/leave/join), and the find-event query engine.
//
// Grounded on the teacher's dht.go loop()/handlePacket() split — one
// goroutine owns the socket and every state mutation — generalized from a
// Kademlia node's routing table update to this ring's identifier/neighbor
// bookkeeping (spec.md §9: "re-architect as an owned ring-participant
// value passed explicitly to the dispatcher; the dispatcher is the sole
// mutator").
package peerengine

import (
	"net"
	"sync"

	"stormring/internal/dataset"
	"stormring/internal/logger"
	"stormring/internal/ringtable"
	"stormring/internal/wire"
)

// State is the peer's coarse lifecycle state (spec.md §4.3):
// Unregistered -> Registered -> RingMember -> Unregistered.
type State int

const (
	StateUnregistered State = iota
	StateRegistered
	StateRingMember
)

func (s State) String() string {
	switch s {
	case StateUnregistered:
		return "Unregistered"
	case StateRegistered:
		return "Registered"
	case StateRingMember:
		return "RingMember"
	default:
		return "Unknown"
	}
}

// Flags are the transient sub-states that gate interpretation of inbound
// teardown/reset-id traffic (spec.md §4.3).
type Flags struct {
	TearingDown bool
	Leaving     bool
	Joining     bool
}

// Engine is one peer's ring identity and mutable ring-participation state.
// Every exported method that mutates state takes Engine's lock; the
// dispatcher (dispatcher.go) is the only caller on the hot path, but
// shell-issued requests (lifecycle.go) read flags and identity too, so the
// mutex is real, not decorative (spec.md §5: "implementations targeting
// strict memory models must place ... behind a mutex").
type Engine struct {
	mu sync.Mutex

	Name        string
	IP          string
	MPort       int
	PPort       int
	ManagerAddr string
	ManagerPort int

	conn   *net.UDPConn
	log    logger.Logger
	rand   Rand
	loader *dataset.Loader

	state       State
	identifier  int // -1 when not in a ring
	ringSize    int
	table       *ringtable.Table
	local       []dataset.Record
	flags       Flags
	yearUsed    int
	pendingYear     int // year requested via RequestSetupDHT, consumed by the builder
	pendingEventID  int // event id requested via RequestQueryDHT, consumed on the manager's reply
	datasetSize     int // l, the record count from set-id or the last buildDHT, for find-event's s
	lastFindResult  FindResult
}

// FindResult is the outcome of the most recently completed find-event
// query this peer originated, for the shell to poll (spec.md §5: query
// replies "arrive asynchronously on the dispatcher").
type FindResult struct {
	Requested bool
	Found     bool
	Record    []string
	IDSeq     []int
}

// New constructs an Engine bound to conn for sending, with dataset records
// served by loader.
func New(name, ip string, mPort, pPort int, managerAddr string, managerPort int, conn *net.UDPConn, log logger.Logger, rnd Rand, loader *dataset.Loader) *Engine {
	return &Engine{
		Name:        name,
		IP:          ip,
		MPort:       mPort,
		PPort:       pPort,
		ManagerAddr: managerAddr,
		ManagerPort: managerPort,
		conn:        conn,
		log:         log,
		rand:        rnd,
		loader:      loader,
		state:       StateUnregistered,
		identifier:  -1,
		table:       ringtable.Empty(),
	}
}

// Snapshot is a read-only copy of Engine's state, for tests and shell
// status display.
type Snapshot struct {
	State      State
	Identifier int
	RingSize   int
	LocalCount int
	Flags      Flags
}

func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Snapshot{
		State:      e.state,
		Identifier: e.identifier,
		RingSize:   e.ringSize,
		LocalCount: len(e.local),
		Flags:      e.flags,
	}
}

func (e *Engine) managerUDPAddr() net.UDPAddr {
	return wire.ResolveAddr(e.ManagerAddr, e.ManagerPort)
}

func (e *Engine) sendToManager(env wire.Envelope) error {
	return wire.SendTo(e.conn, e.managerUDPAddr(), env, e.log)
}

func (e *Engine) sendToMember(m ringtable.Member, env wire.Envelope) error {
	addr := wire.ResolveAddr(m.Tuple.IP, m.Tuple.PPort)
	return wire.SendTo(e.conn, addr, env, e.log)
}
