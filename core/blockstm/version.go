package blockstm

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// TxnIndex identifies a transaction's position in a block. Ordering over
// indices is the executor's canonical ordering.
type TxnIndex int

// Incarnation counts re-executions of a TxnIndex. It starts at 0 and is
// bumped by one on every abort.
type Incarnation int

// Version uniquely identifies one speculative execution of a transaction.
type Version struct {
	TxnIndex    TxnIndex
	Incarnation Incarnation
}

func (v Version) String() string {
	return fmt.Sprintf("(%d,%d)", v.TxnIndex, v.Incarnation)
}

// KeyKind distinguishes the EVM-shaped storage cells a Key can address.
// Code and CodeHash form the "module key" sub-space; everything else is a
// data key (spec §3).
type KeyKind uint8

const (
	KeyBalance KeyKind = iota
	KeyNonce
	KeyCode
	KeyCodeHash
	KeySuicide
	KeyStorage
)

func (k KeyKind) String() string {
	switch k {
	case KeyBalance:
		return "balance"
	case KeyNonce:
		return "nonce"
	case KeyCode:
		return "code"
	case KeyCodeHash:
		return "codehash"
	case KeySuicide:
		return "suicide"
	case KeyStorage:
		return "storage"
	default:
		return "unknown"
	}
}

// Key is an opaque, hashable, ordered identifier of a storage cell. It is
// comparable (no slice/map fields) so it can be used directly as a map key,
// matching every call site in this package that does `map[Key]...`.
type Key struct {
	Kind    KeyKind
	Address common.Address
	Slot    common.Hash
}

// IsModule reports whether k belongs to the module-key sub-space (code
// publishing / code reads), which module-race detection (§4.2) tracks
// separately from ordinary data keys.
func (k Key) IsModule() bool {
	return k.Kind == KeyCode || k.Kind == KeyCodeHash
}

func (k Key) String() string {
	if k.Kind == KeyStorage {
		return fmt.Sprintf("%s/%s/%s", k.Kind, k.Address.Hex(), k.Slot.Hex())
	}
	return fmt.Sprintf("%s/%s", k.Kind, k.Address.Hex())
}

func BalanceKey(addr common.Address) Key  { return Key{Kind: KeyBalance, Address: addr} }
func NonceKey(addr common.Address) Key    { return Key{Kind: KeyNonce, Address: addr} }
func CodeKey(addr common.Address) Key     { return Key{Kind: KeyCode, Address: addr} }
func CodeHashKey(addr common.Address) Key { return Key{Kind: KeyCodeHash, Address: addr} }
func SuicideKey(addr common.Address) Key  { return Key{Kind: KeySuicide, Address: addr} }
func StorageKey(addr common.Address, slot common.Hash) Key {
	return Key{Kind: KeyStorage, Address: addr, Slot: slot}
}

// ExecutionStat records when a given incarnation started and finished,
// relative to the executor's epoch. Used only for reporting (dag.go).
type ExecutionStat struct {
	Start       uint64
	End         uint64
	Worker      int
	Incarnation int
}
