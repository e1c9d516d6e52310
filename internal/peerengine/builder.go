package peerengine

import (
	"stormring/internal/dataset"
	"stormring/internal/hashutil"
	"stormring/internal/wire"
)

// buildDHT runs the two-level hashing algorithm of spec.md §4.4: read the
// dataset, place every record either in the local table or forward it
// one hop toward its owner. Caller holds e.mu.
func (e *Engine) buildDHT(firstTimeSetup bool) error {
	records, err := e.loader.Load(e.yearUsed)
	if err != nil {
		e.log.Errorf("peer %s: dataset load for year %d failed: %v", e.Name, e.yearUsed, err)
		return err
	}

	e.datasetSize = len(records)
	tableSize := hashutil.TableSize(e.datasetSize)
	e.local = e.local[:0]

	for _, r := range records {
		eventID, err := r.EventID()
		if err != nil {
			e.log.Debugf("peer %s: skipping record with bad event id: %v", e.Name, err)
			continue
		}
		_, id := hashutil.Place(eventID, tableSize, e.ringSize)
		if id == e.identifier {
			e.local = append(e.local, r)
			continue
		}
		neighbor, err := e.table.RightNeighbor(e.identifier)
		if err != nil {
			e.log.Errorf("peer %s: no right neighbor while building DHT: %v", e.Name, err)
			continue
		}
		env := wire.Envelope{
			Status:      wire.StatusPeerMessage,
			CommandType: wire.CmdStore,
			TargetID:    id,
			Entry:       []string(r),
		}
		if err := e.sendToMember(neighbor, env); err != nil {
			e.log.Errorf("peer %s: store forward to %s failed: %v", e.Name, neighbor.Tuple.Name, err)
		}
	}

	e.log.Infof("peer %s: DHT build complete, %d records stored locally (table size s=%d)", e.Name, len(e.local), tableSize)

	if firstTimeSetup {
		return e.sendToManager(wire.Envelope{Command: wire.CmdDHTComplete, PeerName: e.Name})
	}
	return nil
}

// handleStore is the receive side of ring-forwarded store traffic
// (spec.md §4.4): append locally on identifier match, else forward
// unchanged to the right neighbor. Caller holds e.mu.
func (e *Engine) handleStore(env wire.Envelope, raw []byte) {
	if env.TargetID == e.identifier {
		e.local = append(e.local, dataset.Record(env.Entry))
		return
	}
	neighbor, err := e.table.RightNeighbor(e.identifier)
	if err != nil {
		e.log.Errorf("peer %s: cannot forward store, no right neighbor: %v", e.Name, err)
		return
	}
	addr := wire.ResolveAddr(neighbor.Tuple.IP, neighbor.Tuple.PPort)
	if err := wire.SendRaw(e.conn, addr, raw, e.log); err != nil {
		e.log.Errorf("peer %s: store forward failed: %v", e.Name, err)
	}
}
