// Package excache implements the executable cache FSM: the side cache of
// compiled modules with a coarse lifecycle state machine, transitions
// enforced only between blocks.
package excache

import (
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/log"
	lru "github.com/hashicorp/golang-lru/v2"
)

// Kind is one of the five states of the executable cache's lifecycle FSM.
type Kind uint8

const (
	Empty Kind = iota
	Before
	Updated
	Pruned
	After
)

func (k Kind) String() string {
	switch k {
	case Empty:
		return "empty"
	case Before:
		return "before"
	case Updated:
		return "updated"
	case Pruned:
		return "pruned"
	case After:
		return "after"
	default:
		return "unknown"
	}
}

// State is one point in the FSM. Before/After carry the block root the
// cache is currently anchored to; Updated/Pruned carry no payload of
// their own.
type State struct {
	Kind Kind
	Root common.Hash
}

// Store is the opaque ExecutableStore side cache of compiled modules.
// Reads and inserts are only valid while the FSM is in Empty or
// Before(_); every other state means the cache is mid-maintenance and
// off-limits to a running block.
type Store struct {
	mu    sync.Mutex
	state State
	cache *lru.Cache[common.Hash, []byte]

	log log.Logger
}

// New builds a Store backed by an LRU of the given module capacity.
func New(size int) *Store {
	cache, err := lru.New[common.Hash, []byte](size)
	if err != nil {
		// golang-lru only rejects construction for size <= 0, a
		// programmer error at call sites, not a runtime condition.
		panic(err)
	}

	return &Store{cache: cache, log: log.New("module", "excache")}
}

// Get looks up a compiled module by its code hash (spec's fetch_code
// path). It panics if called outside {Empty, Before(_)} — that can only
// happen from a caller bug, since ExecuteBlock never touches the store
// between blocks.
func (s *Store) Get(id common.Hash) ([]byte, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.assertReadable()

	return s.cache.Get(id)
}

// Insert records a freshly compiled module, subject to the same state
// restriction as Get.
func (s *Store) Insert(id common.Hash, code []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.assertReadable()

	s.cache.Add(id, code)
}

func (s *Store) assertReadable() {
	if s.state.Kind != Empty && s.state.Kind != Before {
		panic("excache: module cache accessed outside Empty/Before state")
	}
}

// Transition moves the FSM to next, called only in quiescence (between
// blocks, never while a block is executing). The legal lifecycle edges
// are Empty->Before, Before->Updated, Updated->Pruned, Pruned->After,
// After->Before (the next block) and After->Empty (shutdown). Any other
// edge is unexpected and forces a flush: every cached module is
// discarded and the FSM resets to Empty rather than trusting content
// that was never validated under the transition that actually occurred.
func (s *Store) Transition(next State) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !legalEdge(s.state.Kind, next.Kind) {
		s.log.Warn("excache: unexpected FSM transition, flushing module cache", "from", s.state.Kind, "to", next.Kind)
		s.cache.Purge()
		s.state = State{Kind: Empty}

		return
	}

	s.state = next
}

func legalEdge(from, to Kind) bool {
	switch from {
	case Empty:
		return to == Before
	case Before:
		return to == Updated
	case Updated:
		return to == Pruned
	case Pruned:
		return to == After
	case After:
		return to == Before || to == Empty
	default:
		return false
	}
}

// CurrentState reports the FSM's current state.
func (s *Store) CurrentState() State {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.state
}
