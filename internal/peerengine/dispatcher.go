package peerengine

import (
	"net"

	"stormring/internal/arena"
	"stormring/internal/wire"
)

// Run is the peer's single receive loop (spec.md §4.3): decode every
// inbound datagram and switch on outer Status, then inner CommandType.
// It is the sole mutator of ring state; the shell-facing Request* methods
// in lifecycle.go only send, apart from recording the setup year or query
// event id that the manager's reply will need (spec.md §5).
func (e *Engine) Run(stop <-chan struct{}) {
	bytesArena := arena.NewArena(wire.MaxDatagramSize, 4)
	packets := make(chan wire.Packet)
	go wire.ReadLoop(e.conn, packets, bytesArena, stop, e.log)

	for {
		select {
		case <-stop:
			return
		case p := <-packets:
			e.handleDatagram(p.B, p.Raddr)
			bytesArena.Push(p.B)
		}
	}
}

func (e *Engine) handleDatagram(b []byte, raddr net.UDPAddr) {
	env, err := wire.Decode(b)
	if err != nil {
		e.log.Debugf("peer %s: decode failed from %v: %v", e.Name, raddr, err)
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	switch env.Status {
	case wire.StatusSuccess:
		e.handleManagerSuccess(env)
	case wire.StatusFailure:
		e.log.Errorf("peer %s: manager reported failure: %s", e.Name, env.Message)
	case wire.StatusPeerMessage:
		e.handlePeerMessage(env, b, raddr)
	default:
		e.log.Debugf("peer %s: datagram with unrecognized status %q from %v", e.Name, env.Status, raddr)
	}
}

// handleManagerSuccess dispatches a manager reply. setup-dht's initial
// membership reply and dht-complete's acknowledgment both echo
// command-type=setup-dht (session.go's dhtComplete handler), so the two
// are told apart by whether Members was populated — see DESIGN.md.
func (e *Engine) handleManagerSuccess(env wire.Envelope) {
	switch env.CommandType {
	case wire.CmdRegister:
		e.state = StateRegistered
		e.log.Infof("peer %s: registered", e.Name)
	case wire.CmdDeregister:
		e.state = StateUnregistered
		e.log.Infof("peer %s: deregistered", e.Name)
	case wire.CmdSetupDHT:
		if len(env.Members) > 0 {
			e.onSetupDHTAccepted(env)
		} else {
			e.log.Infof("peer %s: dht-complete acknowledged by manager", e.Name)
		}
	case wire.CmdTeardownDHT:
		e.onTeardownAccepted()
	case wire.CmdTeardownComplete:
		e.onTeardownCompleteAccepted()
	case wire.CmdQueryDHT:
		e.onQueryDHTAccepted(env)
	case wire.CmdLeaveDHT:
		e.onLeaveAccepted()
	case wire.CmdJoinDHT:
		e.onJoinAccepted(env)
	case wire.CmdDHTRebuilt:
		e.log.Infof("peer %s: dht-rebuilt acknowledged by manager", e.Name)
	default:
		e.log.Debugf("peer %s: unrecognized manager command-type %q", e.Name, env.CommandType)
	}
}

func (e *Engine) handlePeerMessage(env wire.Envelope, raw []byte, raddr net.UDPAddr) {
	switch env.CommandType {
	case wire.CmdSetID:
		e.onSetID(env)
	case wire.CmdStore:
		e.handleStore(env, raw)
	case wire.CmdTeardown:
		e.onTeardown(env, raw)
	case wire.CmdResetID:
		e.onResetID(env)
	case wire.CmdRebuildDHT:
		e.onRebuildDHT(env, raw)
	case wire.CmdFindEvent:
		e.onFindEvent(env, raddr)
	default:
		e.log.Debugf("peer %s: unrecognized peer command-type %q", e.Name, env.CommandType)
	}
}
