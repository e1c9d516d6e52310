package manager

import (
	"errors"
	"testing"

	"stormring/internal/config"
	"stormring/internal/logger"
	"stormring/internal/wire"
)

// sequentialRand picks deterministically: Sample takes the first k of
// pool (in the order given), Choice takes the first element. Good enough
// for tests that don't care which peer gets picked, only that the manager
// enforces its preconditions.
type sequentialRand struct{}

func (sequentialRand) Sample(pool []string, k int) []string { return append([]string(nil), pool[:k]...) }
func (sequentialRand) Choice(pool []string) string          { return pool[0] }

func newTestManager() *Manager {
	cfg := config.DefaultManagerConfig()
	return New(cfg, logger.Nop{}, sequentialRand{})
}

func registerPeer(t *testing.T, m *Manager, name string, mport, pport int) {
	t.Helper()
	reply, err := m.Handle(wire.Envelope{
		Command: wire.CmdRegister, PeerName: name, IPv4Address: "127.0.0.1", MPort: mport, PPort: pport,
	})
	if err != nil || reply.Status != wire.StatusSuccess {
		t.Fatalf("register(%s) failed: reply=%+v err=%v", name, reply, err)
	}
}

func TestRegisterDeregisterRestoresPortRange(t *testing.T) {
	m := newTestManager()
	registerPeer(t, m, "apple", 15001, 15002)
	if m.allocPorts.IsAvailable(15001) {
		t.Fatal("expected 15001 reserved after register")
	}
	reply, err := m.Handle(wire.Envelope{Command: wire.CmdDeregister, PeerName: "apple"})
	if err != nil || reply.Status != wire.StatusSuccess {
		t.Fatalf("deregister failed: reply=%+v err=%v", reply, err)
	}
	if !m.allocPorts.IsAvailable(15001) || !m.allocPorts.IsAvailable(15002) {
		t.Fatal("expected ports released after deregister")
	}
}

func TestDuplicateNameRejected(t *testing.T) {
	m := newTestManager()
	registerPeer(t, m, "apple", 15001, 15002)
	_, err := m.Handle(wire.Envelope{Command: wire.CmdRegister, PeerName: "apple", IPv4Address: "127.0.0.1", MPort: 15003, PPort: 15004})
	if !errors.Is(err, ErrNameCollision) {
		t.Fatalf("expected ErrNameCollision, got %v", err)
	}
}

func TestSetupDHTBoundary(t *testing.T) {
	m := newTestManager()
	registerPeer(t, m, "apple", 15001, 15002)
	registerPeer(t, m, "goat", 15003, 15004)

	if _, err := m.Handle(wire.Envelope{Command: wire.CmdSetupDHT, PeerName: "apple", N: 2, Year: 1950}); !errors.Is(err, ErrPrecondition) {
		t.Fatalf("n=2 expected ErrPrecondition, got %v", err)
	}

	registerPeer(t, m, "tree", 15005, 15006)
	reply, err := m.Handle(wire.Envelope{Command: wire.CmdSetupDHT, PeerName: "apple", N: 3, Year: 1950})
	if err != nil || reply.Status != wire.StatusSuccess {
		t.Fatalf("n=3 with 3 free peers should succeed: reply=%+v err=%v", reply, err)
	}
	if reply.Size != 3 || len(reply.Members) != 3 || reply.Members[0].Name != "apple" {
		t.Fatalf("unexpected setup-dht reply: %+v", reply)
	}
}

func TestPhaseGatingBetweenSetupAndComplete(t *testing.T) {
	m := newTestManager()
	registerPeer(t, m, "apple", 15001, 15002)
	registerPeer(t, m, "goat", 15003, 15004)
	registerPeer(t, m, "tree", 15005, 15006)
	if _, err := m.Handle(wire.Envelope{Command: wire.CmdSetupDHT, PeerName: "apple", N: 3, Year: 1950}); err != nil {
		t.Fatal(err)
	}

	_, err := m.Handle(wire.Envelope{Command: wire.CmdRegister, PeerName: "sky", IPv4Address: "127.0.0.1", MPort: 15007, PPort: 15008})
	if !errors.Is(err, ErrPhaseConflict) {
		t.Fatalf("expected ErrPhaseConflict while DHT setup in progress, got %v", err)
	}
}

func TestDeregisterWhileInDHTRejected(t *testing.T) {
	m := newTestManager()
	registerPeer(t, m, "apple", 15001, 15002)
	registerPeer(t, m, "goat", 15003, 15004)
	registerPeer(t, m, "tree", 15005, 15006)
	if _, err := m.Handle(wire.Envelope{Command: wire.CmdSetupDHT, PeerName: "apple", N: 3, Year: 1950}); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Handle(wire.Envelope{Command: wire.CmdDHTComplete, PeerName: "apple"}); err != nil {
		t.Fatal(err)
	}
	_, err := m.Handle(wire.Envelope{Command: wire.CmdDeregister, PeerName: "goat"})
	if !errors.Is(err, ErrPrecondition) {
		t.Fatalf("expected ErrPrecondition, got %v", err)
	}
}

func TestFullSetupTeardownRoundTrip(t *testing.T) {
	m := newTestManager()
	registerPeer(t, m, "apple", 15001, 15002)
	registerPeer(t, m, "goat", 15003, 15004)
	registerPeer(t, m, "tree", 15005, 15006)

	if _, err := m.Handle(wire.Envelope{Command: wire.CmdSetupDHT, PeerName: "apple", N: 3, Year: 1950}); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Handle(wire.Envelope{Command: wire.CmdDHTComplete, PeerName: "apple"}); err != nil {
		t.Fatal(err)
	}
	if !m.dhtReady {
		t.Fatal("expected dhtReady after dht-complete")
	}
	if _, err := m.Handle(wire.Envelope{Command: wire.CmdTeardownDHT, PeerName: "apple"}); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Handle(wire.Envelope{Command: wire.CmdTeardownComplete, PeerName: "apple"}); err != nil {
		t.Fatal(err)
	}
	if m.dhtExists || m.dhtReady || m.teardownInProgress {
		t.Fatal("expected session flags reset after teardown-complete")
	}
	for _, name := range []string{"apple", "goat", "tree"} {
		rec, _ := m.registry.get(name)
		if rec.State != Free {
			t.Fatalf("expected %s Free after teardown, got %v", name, rec.State)
		}
	}
}

func TestQueryBeforeCompleteFails(t *testing.T) {
	m := newTestManager()
	registerPeer(t, m, "apple", 15001, 15002)
	registerPeer(t, m, "goat", 15003, 15004)
	registerPeer(t, m, "tree", 15005, 15006)
	if _, err := m.Handle(wire.Envelope{Command: wire.CmdSetupDHT, PeerName: "apple", N: 3, Year: 1950}); err != nil {
		t.Fatal(err)
	}
	_, err := m.Handle(wire.Envelope{Command: wire.CmdQueryDHT, PeerName: "apple"})
	if err == nil {
		t.Fatal("query-dht before dht-complete should fail")
	}
}

func TestQueryRejectsDHTMember(t *testing.T) {
	m := newTestManager()
	registerPeer(t, m, "apple", 15001, 15002)
	registerPeer(t, m, "goat", 15003, 15004)
	registerPeer(t, m, "tree", 15005, 15006)
	if _, err := m.Handle(wire.Envelope{Command: wire.CmdSetupDHT, PeerName: "apple", N: 3, Year: 1950}); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Handle(wire.Envelope{Command: wire.CmdDHTComplete, PeerName: "apple"}); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Handle(wire.Envelope{Command: wire.CmdQueryDHT, PeerName: "goat"}); !errors.Is(err, ErrPrecondition) {
		t.Fatalf("expected ErrPrecondition for in-DHT querier, got %v", err)
	}
}

func TestRegistrationPortBoundary(t *testing.T) {
	m := newTestManager()
	_, err := m.Handle(wire.Envelope{Command: wire.CmdRegister, PeerName: "apple", IPv4Address: "127.0.0.1", MPort: 14999, PPort: 15002})
	if !errors.Is(err, ErrPortConflict) {
		t.Fatalf("expected ErrPortConflict for port 14999, got %v", err)
	}
}
