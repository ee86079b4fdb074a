package blockstm

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"
)

func TestMultiVersionMap_FetchData_NotFound(t *testing.T) {
	m := MakeMVHashMap()
	k := BalanceKey(common.HexToAddress("0x1"))

	_, ferr := m.FetchData(k, 5)
	require.NotNil(t, ferr)
	require.Equal(t, FetchNotFound, ferr.Kind)
}

func TestMultiVersionMap_FetchData_VersionedValue(t *testing.T) {
	m := MakeMVHashMap()
	k := BalanceKey(common.HexToAddress("0x1"))

	m.Write(k, Version{TxnIndex: 2, Incarnation: 0}, NewValueEntry([]byte{42}))

	out, ferr := m.FetchData(k, 5)
	require.Nil(t, ferr)
	require.Equal(t, OutputVersioned, out.Kind)
	require.Equal(t, TxnIndex(2), out.Version.TxnIndex)
	require.Equal(t, []byte{42}, out.Value)

	// A reader at or before the writer never observes the write.
	_, ferr = m.FetchData(k, 2)
	require.NotNil(t, ferr)
	require.Equal(t, FetchNotFound, ferr.Kind)
}

func TestMultiVersionMap_FetchData_EstimateIsDependency(t *testing.T) {
	m := MakeMVHashMap()
	k := BalanceKey(common.HexToAddress("0x1"))

	m.Write(k, Version{TxnIndex: 2, Incarnation: 0}, NewValueEntry([]byte{1}))
	m.MarkEstimate(k, 2)

	_, ferr := m.FetchData(k, 5)
	require.NotNil(t, ferr)
	require.Equal(t, FetchDependency, ferr.Kind)
	require.Equal(t, TxnIndex(2), ferr.Dependency)
}

func TestMultiVersionMap_DeltaChain_UnresolvedThenBase(t *testing.T) {
	m := MakeMVHashMap()
	k := BalanceKey(common.HexToAddress("0x1"))

	m.AddDelta(k, Version{TxnIndex: 0, Incarnation: 0}, DeltaOp{Increment: true, Delta: uint256.NewInt(10)})
	m.AddDelta(k, Version{TxnIndex: 1, Incarnation: 0}, DeltaOp{Increment: true, Delta: uint256.NewInt(5)})

	_, ferr := m.FetchData(k, 5)
	require.NotNil(t, ferr)
	require.Equal(t, FetchUnresolved, ferr.Kind)
	require.True(t, ferr.Pending.Increment)
	require.Equal(t, uint256.NewInt(15), ferr.Pending.Delta)

	m.SetAggregatorBaseValue(k, uint256.NewInt(100))

	out, ferr := m.FetchData(k, 5)
	require.Nil(t, ferr)
	require.Equal(t, OutputResolved, out.Kind)
	require.Equal(t, uint256.NewInt(115), out.Resolved)
}

func TestMultiVersionMap_DeltaChain_BottomsOutAtValue(t *testing.T) {
	m := MakeMVHashMap()
	k := BalanceKey(common.HexToAddress("0x1"))

	base := uint256.NewInt(1_000_000).Bytes32()
	m.Write(k, Version{TxnIndex: 0, Incarnation: 0}, NewValueEntry(base[:]))
	m.AddDelta(k, Version{TxnIndex: 1, Incarnation: 0}, DeltaOp{Increment: false, Delta: uint256.NewInt(100)})

	out, ferr := m.FetchData(k, 5)
	require.Nil(t, ferr)
	require.Equal(t, OutputResolved, out.Kind)
	require.Equal(t, uint256.NewInt(999_900), out.Resolved)
}

func TestMultiVersionMap_Delete_RemovesSlot(t *testing.T) {
	m := MakeMVHashMap()
	k := BalanceKey(common.HexToAddress("0x1"))

	m.Write(k, Version{TxnIndex: 2, Incarnation: 0}, NewValueEntry([]byte{1}))
	m.Delete(k, 2)

	_, ferr := m.FetchData(k, 5)
	require.NotNil(t, ferr)
	require.Equal(t, FetchNotFound, ferr.Kind)
}

func TestMultiVersionMap_MaterializeDelta_Overflow(t *testing.T) {
	m := MakeMVHashMap()
	k := BalanceKey(common.HexToAddress("0x1"))

	m.SetAggregatorBaseValue(k, uint256.NewInt(5))
	m.AddDelta(k, Version{TxnIndex: 0, Incarnation: 0}, DeltaOp{Increment: false, Delta: uint256.NewInt(10)})

	_, ferr := m.MaterializeDelta(k, 1)
	require.NotNil(t, ferr)
	require.Equal(t, FetchDeltaApplicationFailure, ferr.Kind)
}

func TestModuleKeySet(t *testing.T) {
	addr := common.HexToAddress("0x1")
	out := TxnOutput{
		{Path: CodeKey(addr), Entry: NewValueEntry([]byte{1})},
		{Path: BalanceKey(addr), Entry: NewValueEntry([]byte{2})},
	}

	s := ModuleKeySet(out)
	require.Equal(t, 1, s.Cardinality())
	require.True(t, s.Contains(CodeKey(addr)))
}
