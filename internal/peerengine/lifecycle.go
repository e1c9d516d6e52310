package peerengine

import (
	"stormring/internal/ringtable"
	"stormring/internal/wire"
)

// --- Shell-facing requests. These send to the manager and at most record
// the setup year or query event id its reply will need; the dispatcher
// goroutine is the sole mutator of ring state (spec.md §5). ---

// Register sends the manager a register request.
func (e *Engine) Register() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sendToManager(wire.Envelope{
		Command:     wire.CmdRegister,
		PeerName:    e.Name,
		IPv4Address: e.IP,
		MPort:       e.MPort,
		PPort:       e.PPort,
	})
}

// Deregister sends the manager a deregister request.
func (e *Engine) Deregister() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sendToManager(wire.Envelope{Command: wire.CmdDeregister, PeerName: e.Name})
}

// RequestSetupDHT asks the manager to form a ring of size n from the
// given dataset year. year is remembered so the builder can use it once
// this peer learns it is the elected leader.
func (e *Engine) RequestSetupDHT(n, year int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pendingYear = year
	return e.sendToManager(wire.Envelope{Command: wire.CmdSetupDHT, PeerName: e.Name, N: n, Year: year})
}

// RequestTeardownDHT asks the manager to begin tearing down the ring.
// Only meaningful for the current leader (spec.md §4.2).
func (e *Engine) RequestTeardownDHT() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sendToManager(wire.Envelope{Command: wire.CmdTeardownDHT, PeerName: e.Name})
}

// RequestQueryDHT asks the manager for a random ring member to query for
// eventID, and remembers eventID for when that reply arrives.
func (e *Engine) RequestQueryDHT(eventID int) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pendingEventID = eventID
	return e.sendToManager(wire.Envelope{Command: wire.CmdQueryDHT, PeerName: e.Name})
}

// RequestLeaveDHT asks the manager to let this (non-leader) peer leave
// the ring.
func (e *Engine) RequestLeaveDHT() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sendToManager(wire.Envelope{Command: wire.CmdLeaveDHT, PeerName: e.Name})
}

// RequestJoinDHT asks the manager to let this free peer join the current
// ring as its new leader.
func (e *Engine) RequestJoinDHT() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sendToManager(wire.Envelope{Command: wire.CmdJoinDHT, PeerName: e.Name})
}

// --- Manager-reply handlers. Caller (handleManagerSuccess) holds e.mu. ---

// onSetupDHTAccepted runs the leader's half of the setup choreography
// (spec.md §4.5 step 1-3): install identifier 0, fan out set-id to every
// other member, then build the DHT.
func (e *Engine) onSetupDHTAccepted(env wire.Envelope) {
	e.identifier = 0
	e.ringSize = env.Size
	e.table = ringtable.New(env.Members)
	e.state = StateRingMember
	e.yearUsed = e.pendingYear

	records, err := e.loader.Load(e.yearUsed)
	if err != nil {
		e.log.Errorf("peer %s: dataset load for year %d failed: %v", e.Name, e.yearUsed, err)
		return
	}
	e.datasetSize = len(records)

	for i := 1; i < len(env.Members); i++ {
		m := env.Members[i]
		addr := wire.ResolveAddr(m.IP, m.PPort)
		setID := wire.Envelope{
			Status:      wire.StatusPeerMessage,
			CommandType: wire.CmdSetID,
			Identifier:  i,
			RingSize:    env.Size,
			MemberData:  env.Members,
			Year:        e.yearUsed,
			DatasetSize: e.datasetSize,
		}
		if err := wire.SendTo(e.conn, addr, setID, e.log); err != nil {
			e.log.Errorf("peer %s: set-id to %s failed: %v", e.Name, m.Name, err)
		}
	}

	if err := e.buildDHT(true); err != nil {
		e.log.Errorf("peer %s: initial DHT build failed: %v", e.Name, err)
	}
}

func (e *Engine) onTeardownAccepted() {
	e.flags.TearingDown = true
	e.local = nil
	neighbor, err := e.table.RightNeighbor(e.identifier)
	if err != nil {
		e.log.Errorf("peer %s: cannot start teardown, no right neighbor: %v", e.Name, err)
		return
	}
	env := wire.Envelope{Status: wire.StatusPeerMessage, CommandType: wire.CmdTeardown}
	if err := e.sendToMember(neighbor, env); err != nil {
		e.log.Errorf("peer %s: teardown send failed: %v", e.Name, err)
	}
}

func (e *Engine) onTeardownCompleteAccepted() {
	e.state = StateRegistered
	e.identifier = -1
	e.ringSize = 0
	e.table = ringtable.Empty()
	e.local = nil
	e.flags = Flags{}
	e.log.Infof("peer %s: ring teardown complete", e.Name)
}

func (e *Engine) onQueryDHTAccepted(env wire.Envelope) {
	addr := wire.ResolveAddr(env.Addr, env.QueryPPort)
	self := wire.Tuple{Name: e.Name, IP: e.IP, PPort: e.PPort}
	find := wire.Envelope{
		Status:      wire.StatusPeerMessage,
		CommandType: wire.CmdFindEvent,
		EventID:     e.pendingEventID,
		IDSeq:       []int{},
		Origin:      &self,
	}
	if err := wire.SendTo(e.conn, addr, find, e.log); err != nil {
		e.log.Errorf("peer %s: find-event send failed: %v", e.Name, err)
	}
}

func (e *Engine) onLeaveAccepted() {
	e.flags.Leaving = true
	e.local = nil
	neighbor, err := e.table.RightNeighbor(e.identifier)
	if err != nil {
		e.log.Errorf("peer %s: cannot leave, no right neighbor: %v", e.Name, err)
		return
	}
	env := wire.Envelope{Status: wire.StatusPeerMessage, CommandType: wire.CmdTeardown, Cause: "leave"}
	if err := e.sendToMember(neighbor, env); err != nil {
		e.log.Errorf("peer %s: leave teardown send failed: %v", e.Name, err)
	}
}

// onJoinAccepted is the skeleton the Open Question (spec.md §9) calls
// for: the joiner becomes the new leader immediately and starts the
// ring-extension reset-id sweep. The original source's leave/join
// rotation logic is inconsistent about tuple arity across code paths; this
// is a best-effort, compile-clean reconstruction of evident intent, not a
// byte-for-bit reproduction.
func (e *Engine) onJoinAccepted(env wire.Envelope) {
	e.identifier = 0
	e.state = StateRingMember
	e.flags.Joining = true

	self := wire.Tuple{Name: e.Name, IP: e.IP, PPort: e.PPort}
	members := []wire.Tuple{self}
	if env.Initiator != nil {
		members = append(members, *env.Initiator)
	}
	e.table = ringtable.New(members)
	e.ringSize = len(members)

	neighbor, err := e.table.RightNeighbor(0)
	if err != nil {
		e.log.Errorf("peer %s: join has no right neighbor: %v", e.Name, err)
		return
	}
	reset := wire.Envelope{
		Status:      wire.StatusPeerMessage,
		CommandType: wire.CmdResetID,
		Identifier:  1,
		Cause:       "join",
		Initiator:   &self,
	}
	if err := e.sendToMember(neighbor, reset); err != nil {
		e.log.Errorf("peer %s: join reset-id send failed: %v", e.Name, err)
	}
}

// --- Ring-message handlers. Caller (handlePeerMessage) holds e.mu. ---

func (e *Engine) onSetID(env wire.Envelope) {
	e.identifier = env.Identifier
	e.ringSize = env.RingSize
	e.table = ringtable.New(env.MemberData)
	e.state = StateRingMember
	e.yearUsed = env.Year
	e.datasetSize = env.DatasetSize
	e.log.Infof("peer %s: installed identifier %d of %d", e.Name, e.identifier, e.ringSize)
}

// onTeardown is spec.md §4.5's teardown sweep. The initiator's own flag
// (TearingDown/Leaving/Joining) distinguishes "this message has returned
// to me" from "I'm just a relay", since every other peer's flags are
// false for a sweep it did not start.
func (e *Engine) onTeardown(env wire.Envelope, raw []byte) {
	e.local = nil

	switch {
	case e.flags.TearingDown:
		e.flags.TearingDown = false
		if err := e.sendToManager(wire.Envelope{Command: wire.CmdTeardownComplete, PeerName: e.Name}); err != nil {
			e.log.Errorf("peer %s: teardown-complete send failed: %v", e.Name, err)
		}
		return
	case e.flags.Leaving:
		neighbor, err := e.table.RightNeighbor(e.identifier)
		if err != nil {
			e.log.Errorf("peer %s: leave reset-id has no right neighbor: %v", e.Name, err)
			return
		}
		reset := wire.Envelope{Status: wire.StatusPeerMessage, CommandType: wire.CmdResetID, Identifier: 0, Cause: "leave"}
		if err := e.sendToMember(neighbor, reset); err != nil {
			e.log.Errorf("peer %s: leave reset-id send failed: %v", e.Name, err)
		}
		return
	case e.flags.Joining:
		e.flags.Joining = false
		e.emitRebuildDHT()
		return
	}

	neighbor, err := e.table.RightNeighbor(e.identifier)
	if err != nil {
		e.log.Errorf("peer %s: cannot forward teardown, no right neighbor: %v", e.Name, err)
		return
	}
	addr := wire.ResolveAddr(neighbor.Tuple.IP, neighbor.Tuple.PPort)
	if err := wire.SendRaw(e.conn, addr, raw, e.log); err != nil {
		e.log.Errorf("peer %s: teardown forward failed: %v", e.Name, err)
	}
}

func (e *Engine) onResetID(env wire.Envelope) {
	switch env.Cause {
	case "leave":
		if e.flags.Leaving {
			e.flags.Leaving = false
			e.emitRebuildDHT()
			e.state = StateRegistered
			e.identifier = -1
			e.ringSize = 0
			e.table = ringtable.Empty()
			return
		}
		e.rotateForLeave(env)
	case "join":
		if e.flags.Joining {
			neighbor, err := e.table.RightNeighbor(e.identifier)
			if err != nil {
				e.log.Errorf("peer %s: join teardown-to-clear has no right neighbor: %v", e.Name, err)
				return
			}
			e.local = nil
			clear := wire.Envelope{Status: wire.StatusPeerMessage, CommandType: wire.CmdTeardown}
			if err := e.sendToMember(neighbor, clear); err != nil {
				e.log.Errorf("peer %s: join teardown-to-clear send failed: %v", e.Name, err)
			}
			return
		}
		e.rotateForJoin(env)
	default:
		e.log.Debugf("peer %s: reset-id with unrecognized cause %q", e.Name, env.Cause)
	}
}

// rotateForLeave implements spec.md §4.5 leave step 3.
func (e *Engine) rotateForLeave(env wire.Envelope) {
	e.identifier = env.Identifier
	if e.ringSize > 0 {
		e.table.Remove(e.ringSize - 1)
		e.ringSize--
	}
	neighbor, err := e.table.RightNeighbor(e.identifier)
	if err != nil {
		e.log.Errorf("peer %s: leave rotation has no right neighbor: %v", e.Name, err)
		return
	}
	next := wire.Envelope{Status: wire.StatusPeerMessage, CommandType: wire.CmdResetID, Identifier: env.Identifier + 1, Cause: "leave"}
	if err := e.sendToMember(neighbor, next); err != nil {
		e.log.Errorf("peer %s: leave reset-id forward failed: %v", e.Name, err)
	}
}

// rotateForJoin implements spec.md §4.5 join step 2.
func (e *Engine) rotateForJoin(env wire.Envelope) {
	e.identifier = env.Identifier
	e.ringSize++
	if env.Initiator != nil {
		e.table.Insert(ringtable.Member{Identifier: 0, Tuple: *env.Initiator})
	}
	neighbor, err := e.table.RightNeighbor(e.identifier)
	if err != nil {
		e.log.Errorf("peer %s: join rotation has no right neighbor: %v", e.Name, err)
		return
	}
	next := wire.Envelope{Status: wire.StatusPeerMessage, CommandType: wire.CmdResetID, Identifier: env.Identifier + 1, Cause: "join", Initiator: env.Initiator}
	if err := e.sendToMember(neighbor, next); err != nil {
		e.log.Errorf("peer %s: join reset-id forward failed: %v", e.Name, err)
	}
}

// emitRebuildDHT starts the rebuild-dht sweep (spec.md §4.5 leave step 4 /
// join step 3): rebuild locally first, then hand off to the ring. The
// initiator's name marks the sweep's closing hop so the last node can
// report completion without looping all the way back.
func (e *Engine) emitRebuildDHT() {
	if err := e.buildDHT(false); err != nil {
		e.log.Errorf("peer %s: rebuild failed: %v", e.Name, err)
	}
	neighbor, err := e.table.RightNeighbor(e.identifier)
	if err != nil {
		e.log.Errorf("peer %s: rebuild-dht has no right neighbor: %v", e.Name, err)
		return
	}
	env := wire.Envelope{Status: wire.StatusPeerMessage, CommandType: wire.CmdRebuildDHT, InitiatorName: e.Name}
	if err := e.sendToMember(neighbor, env); err != nil {
		e.log.Errorf("peer %s: rebuild-dht send failed: %v", e.Name, err)
	}
}

func (e *Engine) onRebuildDHT(env wire.Envelope, raw []byte) {
	if err := e.buildDHT(false); err != nil {
		e.log.Errorf("peer %s: rebuild failed: %v", e.Name, err)
	}
	neighbor, err := e.table.RightNeighbor(e.identifier)
	if err != nil {
		e.log.Errorf("peer %s: rebuild-dht has no right neighbor: %v", e.Name, err)
		return
	}
	if neighbor.Tuple.Name == env.InitiatorName {
		if err := e.sendToManager(wire.Envelope{Command: wire.CmdDHTRebuilt, PeerName: e.Name}); err != nil {
			e.log.Errorf("peer %s: dht-rebuilt send failed: %v", e.Name, err)
		}
		return
	}
	addr := wire.ResolveAddr(neighbor.Tuple.IP, neighbor.Tuple.PPort)
	if err := wire.SendRaw(e.conn, addr, raw, e.log); err != nil {
		e.log.Errorf("peer %s: rebuild-dht forward failed: %v", e.Name, err)
	}
}
