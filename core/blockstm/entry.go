package blockstm

import (
	"errors"

	"github.com/holiman/uint256"
)

// ErrDeltaOverflow is returned by DeltaOp.Apply when applying the delta to
// a base value would overflow or underflow the 256-bit aggregator. Spec §3
// calls this the DeltaApplicationFailure read outcome.
var ErrDeltaOverflow = errors.New("blockstm: aggregator delta application overflow")

// DeltaOp is a commutative numeric change applied to an aggregator value
// (spec §3 "Delta(op)"). It generalizes the spec's illustrative u128 to the
// 256-bit width the rest of the teacher's stack (holiman/uint256) already
// standardizes on.
type DeltaOp struct {
	Increment bool // true: base += Delta, false: base -= Delta
	Delta     *uint256.Int
	// Limit bounds the aggregator's value when non-zero; exceeding it on
	// the increment side is also a DeltaApplicationFailure. Zero means
	// unlimited, matching an unbounded Aptos aggregator.
	Limit *uint256.Int
}

// Apply materializes op against base, returning the new value or
// ErrDeltaOverflow. It never mutates base.
func (op DeltaOp) Apply(base *uint256.Int) (*uint256.Int, error) {
	result := new(uint256.Int)

	var overflow bool
	if op.Increment {
		overflow = result.AddOverflow(base, op.Delta)
	} else {
		overflow = result.SubOverflow(base, op.Delta)
	}

	if overflow {
		return nil, ErrDeltaOverflow
	}

	if op.Limit != nil && !op.Limit.IsZero() && result.Gt(op.Limit) {
		return nil, ErrDeltaOverflow
	}

	return result, nil
}

// Compose folds op on top of an earlier delta "prev" in the same chain,
// producing a single delta equivalent to applying prev then op to any base.
// Used by fetch_data when walking backwards through a run of Delta entries.
func (op DeltaOp) Compose(prev DeltaOp) (DeltaOp, error) {
	// Represent both as signed offsets against a zero base and recombine;
	// the actual magnitude bound (Limit) is re-checked once a real base is
	// known, at materialization time, so it is not enforced here.
	signed := func(d DeltaOp) (bool, *uint256.Int) { return d.Increment, d.Delta }

	aPos, aMag := signed(prev)
	bPos, bMag := signed(op)

	switch {
	case aPos == bPos:
		sum := new(uint256.Int).Add(aMag, bMag)
		return DeltaOp{Increment: aPos, Delta: sum, Limit: op.Limit}, nil
	case aMag.Cmp(bMag) >= 0:
		diff := new(uint256.Int).Sub(aMag, bMag)
		return DeltaOp{Increment: aPos, Delta: diff, Limit: op.Limit}, nil
	default:
		diff := new(uint256.Int).Sub(bMag, aMag)
		return DeltaOp{Increment: bPos, Delta: diff, Limit: op.Limit}, nil
	}
}

// writeKind distinguishes the three WriteEntry payload shapes of spec §3.
type writeKind uint8

const (
	writeValue writeKind = iota
	writeDelta
	writeEstimate
)

// WriteEntry is one of Value(bytes|tombstone), Delta(op) or Estimate
// (spec §3). nil Value means a tombstone (an explicit delete recorded by a
// writer, as opposed to the slot being entirely absent).
type WriteEntry struct {
	kind  writeKind
	value []byte
	delta DeltaOp
}

func NewValueEntry(value []byte) WriteEntry   { return WriteEntry{kind: writeValue, value: value} }
func NewTombstoneEntry() WriteEntry           { return WriteEntry{kind: writeValue, value: nil} }
func NewDeltaEntry(op DeltaOp) WriteEntry     { return WriteEntry{kind: writeDelta, delta: op} }
func newEstimateEntry(prior WriteEntry) WriteEntry {
	prior.kind = writeEstimate
	return prior
}

func (w WriteEntry) IsValue() bool    { return w.kind == writeValue }
func (w WriteEntry) IsDelta() bool    { return w.kind == writeDelta }
func (w WriteEntry) IsEstimate() bool { return w.kind == writeEstimate }
func (w WriteEntry) Value() []byte    { return w.value }
func (w WriteEntry) Delta() DeltaOp   { return w.delta }

// readKind enumerates the observation variants of spec §3's ReadDescriptor.
type readKind uint8

const (
	ReadVersion readKind = iota
	ReadResolved
	ReadStorage
	ReadDeltaApplicationFailure
)

// ReadDescriptor is the per-(key) record of what a reader observed, as
// captured by SpeculativeView and replayed during validation (spec §4.4).
type ReadDescriptor struct {
	Path Key
	Kind readKind

	// Version, valid when Kind == ReadVersion.
	Version Version

	// Resolved, valid when Kind == ReadResolved.
	Resolved *uint256.Int
}

// WriteDescriptor records one key this incarnation wrote, tagged with the
// version that produced it (spec §4.2's write-set entries).
type WriteDescriptor struct {
	Path    Key
	Version Version
	Entry   WriteEntry
}

// TxnInput is the read set captured by one execution.
type TxnInput []ReadDescriptor

// TxnOutput is a write set: either the "real" writes (Value/Delta, no
// Estimate) or, for AllWriteSet, every key the incarnation touched.
type TxnOutput []WriteDescriptor

// hasNewWrite reports whether t contains any key absent from prev — the
// condition spec §4.4 step 5 calls "wrote outside the previous write set"
// and that forces revalidation of later transactions.
func (t TxnOutput) hasNewWrite(prev TxnOutput) bool {
	prevKeys := make(map[Key]struct{}, len(prev))
	for _, w := range prev {
		prevKeys[w.Path] = struct{}{}
	}
	for _, w := range t {
		if _, ok := prevKeys[w.Path]; !ok {
			return true
		}
	}
	return false
}

func (t TxnOutput) keySet() map[Key]struct{} {
	s := make(map[Key]struct{}, len(t))
	for _, w := range t {
		s[w.Path] = struct{}{}
	}
	return s
}

// statusKind classifies how an incarnation finished (spec §6 ExecutionStatus).
type statusKind uint8

const (
	StatusSuccess statusKind = iota
	StatusSkipRest
	StatusAbort
)

// ExecutionStatus is the outcome ExecutorTask.Execute produces for one
// incarnation (spec §3 "result" field, §6 ExecutionStatus).
type ExecutionStatus struct {
	Kind   statusKind
	Output Output
	Err    error // valid when Kind == StatusAbort
}

func Success(out Output) ExecutionStatus  { return ExecutionStatus{Kind: StatusSuccess, Output: out} }
func SkipRest(out Output) ExecutionStatus { return ExecutionStatus{Kind: StatusSkipRest, Output: out} }
func Abort(err error) ExecutionStatus     { return ExecutionStatus{Kind: StatusAbort, Err: err} }

// Output is the per-transaction effect an ExecutorTask produces: a write
// set and a delta set (spec §6).
type Output interface {
	GetWrites() []WriteDescriptor
	GetDeltas() []WriteDescriptor
	SkipOutput() Output
}
