// Package manager implements the session manager's state machine
// (spec.md §4.2): peer registration, DHT setup/teardown gating, and the
// single request/reply loop over the datagram transport.
package manager

import (
	"fmt"
	"net"

	"stormring/internal/arena"
	"stormring/internal/config"
	"stormring/internal/logger"
	"stormring/internal/ports"
	"stormring/internal/wire"
)

// Manager holds the peer registry and DHT lifecycle flags. Every method
// that mutates state is called from Run's single loop, so — per spec.md
// §5 — no locking is needed: the gating rules in Handle are the
// functional equivalent of a lock.
type Manager struct {
	cfg      config.ManagerConfig
	log      logger.Logger
	rand     Rand
	registry *registry
	allocPorts *ports.Allocator

	dhtExists          bool
	dhtReady           bool
	teardownInProgress bool
	ringSize           int

	conn *net.UDPConn
}

// New constructs a Manager. The manager's own listen port is reserved
// immediately, matching the original source reserving host_port at
// startup.
func New(cfg config.ManagerConfig, log logger.Logger, rand Rand) *Manager {
	alloc := ports.New(cfg.MinPort, cfg.MaxPort)
	_ = alloc.Reserve(cfg.ListenPort)
	return &Manager{
		cfg:        cfg,
		log:        log,
		rand:       rand,
		registry:   newRegistry(),
		allocPorts: alloc,
	}
}

// Listen binds the manager's UDP socket.
func (m *Manager) Listen() error {
	conn, err := wire.Listen(m.cfg.ListenAddr, m.cfg.ListenPort, m.log)
	if err != nil {
		return err
	}
	m.conn = conn
	m.log.Infof("manager listening on %s:%d", m.cfg.ListenAddr, m.cfg.ListenPort)
	return nil
}

// Run is the manager's single cooperative loop: receive one datagram,
// decode, dispatch, reply, repeat (spec.md §5). It blocks until stop is
// closed. The socket read happens on a helper goroutine (wire.ReadLoop)
// so Run can select between an inbound packet and shutdown; all state
// mutation still happens here, in the one goroutine that calls Handle.
func (m *Manager) Run(stop <-chan struct{}) {
	bytesArena := arena.NewArena(wire.MaxDatagramSize, 4)
	packets := make(chan wire.Packet)
	go wire.ReadLoop(m.conn, packets, bytesArena, stop, m.log)

	for {
		select {
		case <-stop:
			return
		case p := <-packets:
			reply := m.handleDatagram(p.B)
			if err := wire.SendTo(m.conn, p.Raddr, reply, m.log); err != nil {
				m.log.Debugf("manager: reply to %v failed: %v", p.Raddr, err)
			}
			bytesArena.Push(p.B)
		}
	}
}

func (m *Manager) handleDatagram(b []byte) wire.Envelope {
	env, err := wire.Decode(b)
	if err != nil {
		m.log.Debugf("manager: decode failed: %v", err)
		return failure(err.Error())
	}
	reply, err := m.Handle(env)
	if err != nil {
		m.log.Debugf("manager: %s failed: %v", env.Command, err)
		return failure(err.Error())
	}
	return reply
}

// Handle applies the gating rules of spec.md §4.2 and dispatches to the
// named command's handler. It is exported so tests (and an in-process
// peer, in integration tests) can drive the state machine without a
// socket.
func (m *Manager) Handle(env wire.Envelope) (wire.Envelope, error) {
	if m.teardownInProgress && env.Command != wire.CmdTeardownComplete {
		return wire.Envelope{}, fmt.Errorf("%w: teardown in progress", ErrPhaseConflict)
	}
	if m.dhtExists && !m.dhtReady && env.Command != wire.CmdDHTComplete {
		return wire.Envelope{}, fmt.Errorf("%w: DHT setup in progress", ErrPhaseConflict)
	}

	switch env.Command {
	case wire.CmdRegister:
		return m.register(env)
	case wire.CmdDeregister:
		return m.deregister(env)
	case wire.CmdSetupDHT:
		return m.setupDHT(env)
	case wire.CmdDHTComplete:
		return m.dhtComplete(env)
	case wire.CmdTeardownDHT:
		return m.teardownDHT(env)
	case wire.CmdTeardownComplete:
		return m.teardownComplete(env)
	case wire.CmdQueryDHT:
		return m.queryDHT(env)
	case wire.CmdLeaveDHT:
		return m.leaveDHT(env)
	case wire.CmdJoinDHT:
		return m.joinDHT(env)
	case wire.CmdDHTRebuilt:
		// Acknowledged but not gated (see DESIGN.md: supplemented feature,
		// the manager has no state machine slot for it in spec.md §4.2).
		m.log.Infof("manager: dht-rebuilt reported by %s", env.PeerName)
		return wire.Envelope{Status: wire.StatusSuccess, CommandType: wire.CmdDHTRebuilt}, nil
	default:
		return wire.Envelope{}, ErrUnknownCommand
	}
}

func (m *Manager) register(env wire.Envelope) (wire.Envelope, error) {
	if _, exists := m.registry.get(env.PeerName); exists {
		return wire.Envelope{}, fmt.Errorf("%w: peer name already exists", ErrNameCollision)
	}
	if !m.allocPorts.IsAvailable(env.MPort) || !m.allocPorts.IsAvailable(env.PPort) {
		return wire.Envelope{}, fmt.Errorf("%w: port number already in use", ErrPortConflict)
	}
	if err := m.allocPorts.Reserve(env.MPort); err != nil {
		return wire.Envelope{}, fmt.Errorf("%w: %v", ErrPortConflict, err)
	}
	if err := m.allocPorts.Reserve(env.PPort); err != nil {
		m.allocPorts.Release(env.MPort)
		return wire.Envelope{}, fmt.Errorf("%w: %v", ErrPortConflict, err)
	}
	m.registry.add(env.PeerName, &PeerRecord{IP: env.IPv4Address, MPort: env.MPort, PPort: env.PPort, State: Free})
	return wire.Envelope{Status: wire.StatusSuccess, CommandType: wire.CmdRegister}, nil
}

func (m *Manager) deregister(env wire.Envelope) (wire.Envelope, error) {
	rec, ok := m.registry.get(env.PeerName)
	if !ok {
		return wire.Envelope{}, fmt.Errorf("%w: peer not registered", ErrUnknownPeer)
	}
	if rec.State != Free {
		return wire.Envelope{}, fmt.Errorf("%w: peer not in Free state", ErrPrecondition)
	}
	m.allocPorts.Release(rec.MPort)
	m.allocPorts.Release(rec.PPort)
	m.registry.remove(env.PeerName)
	return wire.Envelope{Status: wire.StatusSuccess, CommandType: wire.CmdDeregister}, nil
}

func (m *Manager) setupDHT(env wire.Envelope) (wire.Envelope, error) {
	leader := env.PeerName
	n := env.N
	if _, ok := m.registry.get(leader); !ok {
		return wire.Envelope{}, fmt.Errorf("%w: peer not registered", ErrUnknownPeer)
	}
	if n < 3 {
		return wire.Envelope{}, fmt.Errorf("%w: DHT size must be at least 3", ErrPrecondition)
	}
	if m.registry.count() < n {
		return wire.Envelope{}, fmt.Errorf("%w: not enough peers registered", ErrPrecondition)
	}
	if m.dhtExists {
		return wire.Envelope{}, fmt.Errorf("%w: DHT already exists", ErrPhaseConflict)
	}
	freePeers := m.registry.byState(Free)
	if !contains(freePeers, leader) {
		return wire.Envelope{}, fmt.Errorf("%w: leader not free", ErrPrecondition)
	}
	if len(freePeers) < n {
		return wire.Envelope{}, fmt.Errorf("%w: not enough free peers", ErrPrecondition)
	}

	pool := remove(freePeers, leader)
	selected := m.rand.Sample(pool, n-1)

	m.setState(leader, Leader)
	for _, name := range selected {
		m.setState(name, InDHT)
	}
	m.dhtExists = true
	m.dhtReady = false
	m.ringSize = n

	members := make([]wire.Tuple, 0, n)
	for _, name := range append([]string{leader}, selected...) {
		rec, _ := m.registry.get(name)
		members = append(members, wire.Tuple{Name: name, IP: rec.IP, PPort: rec.PPort})
	}

	return wire.Envelope{
		Status:      wire.StatusSuccess,
		CommandType: wire.CmdSetupDHT,
		Size:        n,
		Members:     members,
	}, nil
}

func (m *Manager) dhtComplete(env wire.Envelope) (wire.Envelope, error) {
	rec, ok := m.registry.get(env.PeerName)
	if !ok {
		return wire.Envelope{}, fmt.Errorf("%w: peer not registered", ErrUnknownPeer)
	}
	if rec.State != Leader {
		return wire.Envelope{}, fmt.Errorf("%w: peer not leader", ErrPrecondition)
	}
	m.dhtReady = true
	m.log.Infof("manager: DHT setup complete by leader %s", env.PeerName)
	return wire.Envelope{Status: wire.StatusSuccess, CommandType: wire.CmdSetupDHT}, nil
}

func (m *Manager) teardownDHT(env wire.Envelope) (wire.Envelope, error) {
	rec, ok := m.registry.get(env.PeerName)
	if !ok || rec.State != Leader {
		return wire.Envelope{}, fmt.Errorf("%w: peer not the DHT leader", ErrPrecondition)
	}
	m.teardownInProgress = true
	m.log.Infof("manager: teardown initiated by leader %s", env.PeerName)
	return wire.Envelope{Status: wire.StatusSuccess, CommandType: wire.CmdTeardownDHT}, nil
}

func (m *Manager) teardownComplete(env wire.Envelope) (wire.Envelope, error) {
	for _, name := range append(m.registry.byState(InDHT), m.registry.byState(Leader)...) {
		m.setState(name, Free)
	}
	m.dhtExists = false
	m.dhtReady = false
	m.teardownInProgress = false
	m.ringSize = 0
	m.log.Infof("manager: DHT teardown completed by %s", env.PeerName)
	return wire.Envelope{Status: wire.StatusSuccess, CommandType: wire.CmdTeardownComplete}, nil
}

func (m *Manager) queryDHT(env wire.Envelope) (wire.Envelope, error) {
	if !m.dhtReady {
		return wire.Envelope{}, fmt.Errorf("%w: DHT set up has not been completed", ErrPrecondition)
	}
	rec, ok := m.registry.get(env.PeerName)
	if !ok {
		return wire.Envelope{}, fmt.Errorf("%w: peer is not registered", ErrUnknownPeer)
	}
	if rec.State != Free {
		return wire.Envelope{}, fmt.Errorf("%w: peer is in DHT", ErrPrecondition)
	}
	dhtPeers := m.registry.byState(InDHT)
	if len(dhtPeers) == 0 {
		return wire.Envelope{}, fmt.Errorf("%w: DHT has no members", ErrPrecondition)
	}
	chosen := m.rand.Choice(dhtPeers)
	chosenRec, _ := m.registry.get(chosen)
	return wire.Envelope{
		Status:        wire.StatusSuccess,
		CommandType:   wire.CmdQueryDHT,
		QueryPeerName: chosen,
		Addr:          chosenRec.IP,
		QueryPPort:    chosenRec.PPort,
	}, nil
}

// leaveDHT and joinDHT only validate and flip state server-side; the bulk
// of the choreography (spec.md §4.5) runs peer to peer, per the Open
// Question on the under-specified leave/join extension.
func (m *Manager) leaveDHT(env wire.Envelope) (wire.Envelope, error) {
	rec, ok := m.registry.get(env.PeerName)
	if !ok || rec.State == Free {
		return wire.Envelope{}, fmt.Errorf("%w: peer is not in the DHT", ErrPrecondition)
	}
	return wire.Envelope{Status: wire.StatusSuccess, CommandType: wire.CmdLeaveDHT}, nil
}

func (m *Manager) joinDHT(env wire.Envelope) (wire.Envelope, error) {
	rec, ok := m.registry.get(env.PeerName)
	if !ok || rec.State != Free {
		return wire.Envelope{}, fmt.Errorf("%w: peer must be Free to join", ErrPrecondition)
	}
	leaderNames := m.registry.byState(Leader)
	if len(leaderNames) != 1 {
		return wire.Envelope{}, fmt.Errorf("%w: no DHT to join", ErrPrecondition)
	}
	priorLeader, _ := m.registry.get(leaderNames[0])
	m.setState(leaderNames[0], InDHT)
	m.setState(env.PeerName, Leader)
	m.ringSize++
	return wire.Envelope{
		Status:      wire.StatusSuccess,
		CommandType: wire.CmdJoinDHT,
		Initiator:   &wire.Tuple{Name: leaderNames[0], IP: priorLeader.IP, PPort: priorLeader.PPort},
	}, nil
}

func (m *Manager) setState(name string, s PeerState) {
	if rec, ok := m.registry.get(name); ok {
		rec.State = s
	}
}

func failure(msg string) wire.Envelope {
	return wire.Envelope{Status: wire.StatusFailure, Message: msg}
}

func contains(xs []string, x string) bool {
	for _, v := range xs {
		if v == x {
			return true
		}
	}
	return false
}

func remove(xs []string, x string) []string {
	out := make([]string, 0, len(xs))
	for _, v := range xs {
		if v != x {
			out = append(out, v)
		}
	}
	return out
}
