// Package fastpath implements the optional batch executor (spec §4.7):
// an alternative top-level driver trading strict MVCC equivalence for a
// simpler fixed-batch, reservation-table pipeline. The MVCC engine in
// core/blockstm remains this repository's primary driver; this package
// is the documented approximation.
package fastpath

import (
	"fmt"
	"sync"

	"github.com/holiman/uint256"

	blockstm "github.com/0xPolygon/parallel-block-executor/core/blockstm"
)

// Snapshot is the shared writable view spec §4.7 step 5 describes: base
// storage overlaid with every write a prior batch's selection round has
// applied so far. All transactions within one batch read the same
// Snapshot contents — none of a batch's own in-flight writes are visible
// to its other members, which is exactly the optimism the reservation
// table exists to police.
type Snapshot struct {
	base   blockstm.BaseView
	mu     sync.RWMutex
	writes map[blockstm.Key][]byte
}

func NewSnapshot(base blockstm.BaseView) *Snapshot {
	return &Snapshot{base: base, writes: make(map[blockstm.Key][]byte)}
}

// Read resolves k against the overlay, falling through to the base view.
func (s *Snapshot) Read(k blockstm.Key) ([]byte, error) {
	s.mu.RLock()
	v, ok := s.writes[k]
	s.mu.RUnlock()

	if ok {
		return v, nil
	}

	return s.base.Read(k)
}

// apply commits a selected batch member's plain writes into the overlay.
func (s *Snapshot) apply(writes []blockstm.WriteDescriptor) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, w := range writes {
		s.writes[w.Path] = w.Entry.Value()
	}
}

// applyDeltas materializes a selected batch member's aggregator deltas
// against the overlay's current value (spec §4.7 step 5's "asynchronously
// materialize aggregator deltas against a per-batch aggregator
// snapshot" — done synchronously here, since the fast path already
// serializes batch-to-batch application).
func (s *Snapshot) applyDeltas(deltas []blockstm.WriteDescriptor) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, d := range deltas {
		var base *uint256.Int

		if cur, ok := s.writes[d.Path]; ok {
			base = new(uint256.Int).SetBytes(cur)
		} else if raw, err := s.base.Read(d.Path); err == nil {
			base = new(uint256.Int).SetBytes(raw)
		} else {
			base = new(uint256.Int)
		}

		resolved, err := d.Entry.Delta().Apply(base)
		if err != nil {
			// Every selecting round already assumed this delta would
			// apply; discovering otherwise only once the base value is
			// known leaves no consistent state to produce, the same
			// fatal condition the MVCC committer enforces (spec §4.6/§7).
			panic(fmt.Sprintf("blockstm/fastpath: delta application failed for %s: %v", d.Path, err))
		}

		b := resolved.Bytes32()
		s.writes[d.Path] = b[:]
	}
}

// View is handed to a Task's Execute call. It wraps a Snapshot and
// records every key read, which runBatch uses to populate the
// reservation table after the whole batch finishes executing.
type View struct {
	snap  *Snapshot
	reads []blockstm.Key
}

func (v *View) Read(k blockstm.Key) ([]byte, error) {
	v.reads = append(v.reads, k)
	return v.snap.Read(k)
}
