package blockstm

import (
	"fmt"
	"runtime"
	"sync"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/emirpasic/gods/maps/treemap"
	"github.com/emirpasic/gods/utils"
	"github.com/holiman/uint256"
)

// FetchErrorKind enumerates the four failure modes spec §4.1 defines for
// MultiVersionMap.fetch_data.
type FetchErrorKind uint8

const (
	FetchNotFound FetchErrorKind = iota
	FetchDependency
	FetchUnresolved
	FetchDeltaApplicationFailure
)

// FetchError is the error half of fetch_data's Result (spec §4.1).
type FetchError struct {
	Kind FetchErrorKind

	// Dependency is the blocking incarnation's index, valid when
	// Kind == FetchDependency.
	Dependency TxnIndex

	// Pending is the still-unresolved delta chain, valid when
	// Kind == FetchUnresolved. The caller resolves it against the base
	// view and calls SetAggregatorBaseValue before retrying.
	Pending DeltaOp
}

func (e *FetchError) Error() string {
	switch e.Kind {
	case FetchNotFound:
		return "blockstm: no writer found"
	case FetchDependency:
		return fmt.Sprintf("blockstm: read blocked on unresolved incarnation %d", e.Dependency)
	case FetchUnresolved:
		return "blockstm: delta chain unresolved against base view"
	case FetchDeltaApplicationFailure:
		return "blockstm: delta application failed"
	default:
		return "blockstm: fetch error"
	}
}

// FetchOutputKind distinguishes fetch_data's two success shapes.
type FetchOutputKind uint8

const (
	OutputVersioned FetchOutputKind = iota
	OutputResolved
)

// FetchOutput is the success half of fetch_data's Result (spec §4.1).
type FetchOutput struct {
	Kind FetchOutputKind

	Version Version // valid when Kind == OutputVersioned
	Value   []byte  // valid when Kind == OutputVersioned

	Resolved *uint256.Int // valid when Kind == OutputResolved
}

// keyHistory is the per-key ordered write history of spec §3: an ordered
// map TxnIndex -> (Incarnation, WriteEntry), plus the memoized aggregator
// base value that SetAggregatorBaseValue/materialize_delta use.
type keyHistory struct {
	mu       sync.RWMutex
	versions *treemap.Map // TxnIndex -> versionedEntry

	hasBase   bool
	baseValue *uint256.Int
}

type versionedEntry struct {
	incarnation Incarnation
	entry       WriteEntry
}

func newKeyHistory() *keyHistory {
	return &keyHistory{versions: treemap.NewWith(utils.IntComparator)}
}

// mvShard is one lock-striped shard of the MultiVersionMap's key space.
type mvShard struct {
	mu   sync.RWMutex
	keys map[Key]*keyHistory
}

// MultiVersionMap is the concurrent keyed store of spec §4.1: per key, an
// ordered (txn_idx, incarnation) -> write history with a delta column.
type MultiVersionMap struct {
	shards []*mvShard
	mask   uint64
}

// MakeMVHashMap constructs an empty MultiVersionMap striped to roughly
// 4x GOMAXPROCS shards, the sizing the teacher's worker pool already uses
// as its own concurrency baseline.
func MakeMVHashMap() *MultiVersionMap {
	n := nextPow2(4 * runtime.GOMAXPROCS(0))
	if n < 16 {
		n = 16
	}

	shards := make([]*mvShard, n)
	for i := range shards {
		shards[i] = &mvShard{keys: make(map[Key]*keyHistory)}
	}

	return &MultiVersionMap{shards: shards, mask: uint64(n - 1)}
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

func (m *MultiVersionMap) shardFor(k Key) *mvShard {
	return m.shards[keyHash(k)&m.mask]
}

func keyHash(k Key) uint64 {
	h := uint64(14695981039346656037)
	const prime = 1099511628211
	mix := func(b byte) {
		h ^= uint64(b)
		h *= prime
	}
	mix(byte(k.Kind))
	for _, b := range k.Address {
		mix(b)
	}
	if k.Kind == KeyStorage {
		for _, b := range k.Slot {
			mix(b)
		}
	}
	return h
}

// entryFor returns the keyHistory for k, creating it under the shard lock
// when create is true and it doesn't yet exist.
func (m *MultiVersionMap) entryFor(k Key, create bool) *keyHistory {
	shard := m.shardFor(k)

	shard.mu.RLock()
	h, ok := shard.keys[k]
	shard.mu.RUnlock()

	if ok || !create {
		return h
	}

	shard.mu.Lock()
	defer shard.mu.Unlock()

	if h, ok = shard.keys[k]; ok {
		return h
	}

	h = newKeyHistory()
	shard.keys[k] = h

	return h
}

// Write inserts or replaces the entry at k[version.TxnIndex] (spec §4.1).
// Idempotent for the same version.
func (m *MultiVersionMap) Write(k Key, v Version, entry WriteEntry) {
	h := m.entryFor(k, true)

	h.mu.Lock()
	defer h.mu.Unlock()

	h.versions.Put(int(v.TxnIndex), versionedEntry{incarnation: v.Incarnation, entry: entry})
}

// AddDelta is shorthand for Write with a Delta entry (spec §4.1).
func (m *MultiVersionMap) AddDelta(k Key, v Version, op DeltaOp) {
	m.Write(k, v, NewDeltaEntry(op))
}

// MarkEstimate replaces the entry's payload with Estimate while preserving
// the slot (spec §4.1). It is a no-op if the txn has no entry at k.
func (m *MultiVersionMap) MarkEstimate(k Key, txn TxnIndex) {
	h := m.entryFor(k, false)
	if h == nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	v, found := h.versions.Get(int(txn))
	if !found {
		return
	}

	ve := v.(versionedEntry)
	ve.entry = newEstimateEntry(ve.entry)
	h.versions.Put(int(txn), ve)
}

// Delete removes the slot for txn at k (spec §4.1), used when a
// re-execution's write set shrinks. It never resurrects a deleted slot —
// there is simply nothing left to resurrect once Remove runs.
func (m *MultiVersionMap) Delete(k Key, txn TxnIndex) {
	h := m.entryFor(k, false)
	if h == nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.versions.Remove(int(txn))
}

// SetAggregatorBaseValue memoizes the base-view value for an aggregator key
// so that later calls to FetchData and MaterializeDelta short-circuit
// instead of re-querying the base view (spec §4.1).
func (m *MultiVersionMap) SetAggregatorBaseValue(k Key, v *uint256.Int) {
	h := m.entryFor(k, true)

	h.mu.Lock()
	defer h.mu.Unlock()

	h.hasBase = true
	h.baseValue = v
}

// FetchData implements spec §4.1's fetch_data: find the greatest
// txn_idx' < reader_idx with an entry at k, walking a delta chain backward
// as needed. A chain that bottoms out at Storage resolves against the
// memoized aggregator base value when one is set, and is reported as
// FetchUnresolved otherwise. A reader never observes its own writes nor
// those of any idx' >= reader_idx.
func (m *MultiVersionMap) FetchData(k Key, readerIdx TxnIndex) (FetchOutput, *FetchError) {
	return m.fetch(k, readerIdx, true)
}

// FetchCode mirrors FetchData for module keys (spec §4.1's fetch_code):
// module writes are always Value entries (a compiled module is never a
// delta target), so no delta resolution path is reachable here in
// practice, but the same walk is used for uniformity and so a module
// write left as Estimate still reports Dependency correctly.
func (m *MultiVersionMap) FetchCode(k Key, readerIdx TxnIndex) (FetchOutput, *FetchError) {
	return m.fetch(k, readerIdx, false)
}

// MaterializeDelta is fetch_data's committed-read twin (spec §4.1): it walks
// exactly like FetchData, consulting the memoized aggregator base value when
// the chain bottoms out at Storage, so a prior SetAggregatorBaseValue call
// makes this short-circuit.
func (m *MultiVersionMap) MaterializeDelta(k Key, txn TxnIndex) (FetchOutput, *FetchError) {
	return m.fetch(k, txn, true)
}

func (m *MultiVersionMap) fetch(k Key, readerIdx TxnIndex, useBase bool) (FetchOutput, *FetchError) {
	h := m.entryFor(k, false)
	if h == nil {
		return FetchOutput{}, &FetchError{Kind: FetchNotFound}
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	var pending []DeltaOp

	idx := int(readerIdx) - 1

	for idx >= 0 {
		fk, fv := h.versions.Floor(idx)
		if fk == nil {
			break
		}

		ve := fv.(versionedEntry)
		version := Version{TxnIndex: TxnIndex(fk.(int)), Incarnation: ve.incarnation}

		if ve.entry.IsEstimate() {
			return FetchOutput{}, &FetchError{Kind: FetchDependency, Dependency: version.TxnIndex}
		}

		if ve.entry.IsValue() {
			if len(pending) == 0 {
				return FetchOutput{Kind: OutputVersioned, Version: version, Value: ve.entry.Value()}, nil
			}

			base := new(uint256.Int).SetBytes(ve.entry.Value())
			resolved, err := applyChain(base, pending)
			if err != nil {
				return FetchOutput{}, &FetchError{Kind: FetchDeltaApplicationFailure}
			}

			return FetchOutput{Kind: OutputResolved, Resolved: resolved}, nil
		}

		// Delta entry: accumulate and keep walking backward.
		pending = append(pending, ve.entry.Delta())
		idx = fk.(int) - 1
	}

	// Bottomed out with nothing below: either Storage (spec's base view
	// supplies the value) or, if no delta was ever seen, a genuine miss.
	if len(pending) == 0 {
		return FetchOutput{}, &FetchError{Kind: FetchNotFound}
	}

	combined, err := composeChain(pending)
	if err != nil {
		return FetchOutput{}, &FetchError{Kind: FetchDeltaApplicationFailure}
	}

	if useBase && h.hasBase {
		resolved, err := combined.Apply(h.baseValue)
		if err != nil {
			return FetchOutput{}, &FetchError{Kind: FetchDeltaApplicationFailure}
		}

		return FetchOutput{Kind: OutputResolved, Resolved: resolved}, nil
	}

	return FetchOutput{}, &FetchError{Kind: FetchUnresolved, Pending: combined}
}

// composeChain folds a chain of deltas collected newest-first into one net
// DeltaOp applied in chronological (oldest-first) order.
func composeChain(newestFirst []DeltaOp) (DeltaOp, error) {
	combined := DeltaOp{Increment: true, Delta: uint256.NewInt(0)}

	for i := len(newestFirst) - 1; i >= 0; i-- {
		next, err := newestFirst[i].Compose(combined)
		if err != nil {
			return DeltaOp{}, err
		}

		combined = next
	}

	return combined, nil
}

func applyChain(base *uint256.Int, newestFirst []DeltaOp) (*uint256.Int, error) {
	combined, err := composeChain(newestFirst)
	if err != nil {
		return nil, err
	}

	return combined.Apply(base)
}

// FlushWriteSet applies every write in out to the map in one call, the
// shorthand the execution worker uses right after a successful incarnation
// (spec §4.4 step 5).
func (m *MultiVersionMap) FlushWriteSet(out TxnOutput) {
	for _, w := range out {
		m.Write(w.Path, w.Version, w.Entry)
	}
}

// ModuleKeySet extracts the module (code) keys referenced by a write set.
func ModuleKeySet(out TxnOutput) mapset.Set[Key] {
	s := mapset.NewThreadUnsafeSet[Key]()
	for _, w := range out {
		if w.Path.IsModule() {
			s.Add(w.Path)
		}
	}
	return s
}
