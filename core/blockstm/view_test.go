package blockstm

import (
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

type fakeBaseView struct {
	data map[Key][]byte
}

func newFakeBaseView() *fakeBaseView { return &fakeBaseView{data: make(map[Key][]byte)} }

func (f *fakeBaseView) Read(k Key) ([]byte, error) {
	v, ok := f.data[k]
	if !ok {
		return nil, ErrNotFound
	}
	return v, nil
}

func TestSpeculativeView_ReadBytes_FallsThroughToBase(t *testing.T) {
	mvm := MakeMVHashMap()
	base := newFakeBaseView()
	k := BalanceKey(common.HexToAddress("0x1"))
	base.data[k] = []byte{7}

	sched := NewScheduler(1)
	view := NewSpeculativeView(mvm, base, sched, 0)

	v, err := view.ReadBytes(k)
	require.NoError(t, err)
	require.Equal(t, []byte{7}, v)

	reads := view.ReadSet()
	require.Len(t, reads, 1)
	require.Equal(t, ReadStorage, reads[0].Kind)
}

func TestSpeculativeView_ReadBytes_VersionedFromMVM(t *testing.T) {
	mvm := MakeMVHashMap()
	base := newFakeBaseView()
	k := BalanceKey(common.HexToAddress("0x1"))

	mvm.Write(k, Version{TxnIndex: 0, Incarnation: 0}, NewValueEntry([]byte{3}))

	sched := NewScheduler(2)
	view := NewSpeculativeView(mvm, base, sched, 1)

	v, err := view.ReadBytes(k)
	require.NoError(t, err)
	require.Equal(t, []byte{3}, v)

	reads := view.ReadSet()
	require.Len(t, reads, 1)
	require.Equal(t, ReadVersion, reads[0].Kind)
	require.Equal(t, TxnIndex(0), reads[0].Version.TxnIndex)
}

func TestSpeculativeView_ReadAggregator_ResolvesAgainstBase(t *testing.T) {
	mvm := MakeMVHashMap()
	base := newFakeBaseView()
	k := BalanceKey(common.HexToAddress("0x1"))

	baseVal := uint256.NewInt(1000).Bytes32()
	base.data[k] = baseVal[:]

	mvm.AddDelta(k, Version{TxnIndex: 0, Incarnation: 0}, DeltaOp{Increment: true, Delta: uint256.NewInt(50)})

	sched := NewScheduler(2)
	view := NewSpeculativeView(mvm, base, sched, 1)

	got, err := view.ReadAggregator(k)
	require.NoError(t, err)
	require.Equal(t, uint256.NewInt(1050), got)

	reads := view.ReadSet()
	require.Len(t, reads, 1)
	require.Equal(t, ReadResolved, reads[0].Kind)
}

func TestSpeculativeView_ReadBytes_BlocksOnDependencyUntilFinishExecution(t *testing.T) {
	mvm := MakeMVHashMap()
	base := newFakeBaseView()
	k := BalanceKey(common.HexToAddress("0x1"))

	sched := NewScheduler(2)
	sched.NextTask() // claim txn 0's execution slot

	mvm.Write(k, Version{TxnIndex: 0, Incarnation: 0}, NewValueEntry([]byte{1}))
	mvm.MarkEstimate(k, 0)

	view := NewSpeculativeView(mvm, base, sched, 1)

	done := make(chan struct{})

	go func() {
		v, err := view.ReadBytes(k)
		require.NoError(t, err)
		require.Equal(t, []byte{1}, v)
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("read resolved before the dependency finished")
	case <-time.After(20 * time.Millisecond):
	}

	// Simulate txn 0's re-execution landing a real value before it
	// finishes, the way worker.go always writes before FinishExecution.
	mvm.Write(k, Version{TxnIndex: 0, Incarnation: 0}, NewValueEntry([]byte{1}))
	sched.FinishExecution(0, 0, false)

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("blocked read never woke up")
	}
}
