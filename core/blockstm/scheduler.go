package blockstm

import "sync"

// txnState is spec §3's per-TxnIndex status FSM:
//
//	ReadyToExecute(i) -- try_incarnate --> Executing(i)
//	Executing(i)      -- finish_execution --> Executed(i)
//	Executed(i)       -- try_abort --> Aborting(i)
//	Aborting(i)       -- finish_abort --> ReadyToExecute(i+1)
//	Executed(i)       -- commit --> Committed (terminal)
type txnState uint8

const (
	stReadyToExecute txnState = iota
	stExecuting
	stExecuted
	stAborting
	stCommitted
)

// invalidWave never equals a real validation_wave value (which starts at
// 0), so it reliably marks a cell as "not validated in the current wave".
const invalidWave = ^uint64(0)

type txnCell struct {
	mu            sync.Mutex
	state         txnState
	incarnation   Incarnation
	validatedWave uint64
	waiters       []chan struct{}
}

// TaskKind is the scheduler's task alphabet (spec §4.3).
type TaskKind uint8

const (
	TaskNone TaskKind = iota
	TaskExecute
	TaskValidate
	TaskDone
)

// SchedulerTask is what NextTask hands a worker.
type SchedulerTask struct {
	Kind    TaskKind
	Version Version
	Wave    uint64
}

// Scheduler dispenses execution/validation/commit work and enforces that,
// at commit time, every committed txn has been validated in a wave
// strictly after every write it depends on (spec §4.3).
type Scheduler struct {
	n int

	cells []*txnCell

	executionIdx  atomicInt
	validationIdx atomicInt
	commitIdx     atomicInt

	validationWave atomicUint64
	done           atomicBool
}

func NewScheduler(n int) *Scheduler {
	cells := make([]*txnCell, n)
	for i := range cells {
		cells[i] = &txnCell{state: stReadyToExecute, validatedWave: invalidWave}
	}

	s := &Scheduler{n: n, cells: cells}

	if n == 0 {
		s.done.Store(true)
	}

	return s
}

// NextTask implements spec §4.3's next_task: prefer whichever of
// execution_idx/validation_idx is lower, claim an eligible index from that
// side via fetch-and-add, and fall back to the other side or NoTask.
func (s *Scheduler) NextTask() SchedulerTask {
	if s.done.Load() {
		return SchedulerTask{Kind: TaskDone}
	}

	execIdx := s.executionIdx.Load()
	valIdx := s.validationIdx.Load()

	if valIdx <= execIdx {
		if t, ok := s.tryNextValidation(); ok {
			return t
		}
		if t, ok := s.tryNextExecution(); ok {
			return t
		}
	} else {
		if t, ok := s.tryNextExecution(); ok {
			return t
		}
		if t, ok := s.tryNextValidation(); ok {
			return t
		}
	}

	return SchedulerTask{Kind: TaskNone}
}

func (s *Scheduler) tryNextExecution() (SchedulerTask, bool) {
	i := s.executionIdx.Add(1) - 1
	if i < 0 || i >= s.n {
		return SchedulerTask{}, false
	}

	cell := s.cells[i]
	cell.mu.Lock()
	defer cell.mu.Unlock()

	if cell.state != stReadyToExecute {
		return SchedulerTask{}, false
	}

	cell.state = stExecuting

	return SchedulerTask{Kind: TaskExecute, Version: Version{TxnIndex(i), cell.incarnation}}, true
}

func (s *Scheduler) tryNextValidation() (SchedulerTask, bool) {
	i := s.validationIdx.Add(1) - 1
	if i < 0 || i >= s.n {
		return SchedulerTask{}, false
	}

	cell := s.cells[i]
	cell.mu.Lock()
	defer cell.mu.Unlock()

	if cell.state != stExecuted {
		return SchedulerTask{}, false
	}

	return SchedulerTask{Kind: TaskValidate, Version: Version{TxnIndex(i), cell.incarnation}, Wave: s.validationWave.Load()}, true
}

// FinishExecution implements spec §4.3's finish_execution: transition to
// Executed, wake any waiter suspended on this index's prior incarnation,
// and fold validation_idx back down to at least this index (bumping the
// wave). That fold already puts every later index back in line for
// validation, so the extra fold to i+1 for an incarnation that wrote
// outside its previous write set never moves the cursor further.
func (s *Scheduler) FinishExecution(i TxnIndex, incarnation Incarnation, wroteOutsidePrevSet bool) SchedulerTask {
	cell := s.cells[i]

	cell.mu.Lock()
	cell.state = stExecuted
	cell.incarnation = incarnation
	cell.validatedWave = invalidWave
	waiters := cell.waiters
	cell.waiters = nil
	cell.mu.Unlock()

	for _, w := range waiters {
		close(w)
	}

	s.validationIdx.DecreaseTo(int(i))
	s.validationWave.Add(1)

	if wroteOutsidePrevSet {
		s.validationIdx.DecreaseTo(int(i) + 1)
	}

	cell.mu.Lock()
	defer cell.mu.Unlock()

	if cell.state == stExecuted {
		return SchedulerTask{Kind: TaskValidate, Version: Version{i, cell.incarnation}, Wave: s.validationWave.Load()}
	}

	return SchedulerTask{Kind: TaskNone}
}

// FinishValidation records that version passed validation in wave. A stale
// wave (one the scheduler has since superseded via a validation_idx
// decrease) is silently ignored, which is exactly the happens-before spec
// §5 requires: "the decrement of validation_idx" happens-before "the next
// validation of any index >= the decrement point".
func (s *Scheduler) FinishValidation(i TxnIndex, wave uint64) {
	cell := s.cells[i]

	cell.mu.Lock()
	defer cell.mu.Unlock()

	if cell.state != stExecuted {
		return
	}

	if wave == s.validationWave.Load() {
		cell.validatedWave = wave
	}
}

// TryAbort implements spec §4.3's try_abort: only the first caller to
// observe Executed(incarnation) wins the CAS.
func (s *Scheduler) TryAbort(i TxnIndex, incarnation Incarnation) bool {
	cell := s.cells[i]

	cell.mu.Lock()
	defer cell.mu.Unlock()

	if cell.state != stExecuted || cell.incarnation != incarnation {
		return false
	}

	cell.state = stAborting

	return true
}

// FinishAbort implements spec §4.3's finish_abort.
func (s *Scheduler) FinishAbort(i TxnIndex, incarnation Incarnation) {
	cell := s.cells[i]

	cell.mu.Lock()
	cell.state = stReadyToExecute
	cell.incarnation = incarnation + 1
	cell.mu.Unlock()

	s.executionIdx.DecreaseTo(int(i))
}

// AddDependency registers txn a as a waiter on txn b finishing its current
// incarnation (spec §4.4). If b has already finished, ok is false and the
// caller should re-read immediately instead of waiting. Otherwise the
// returned channel closes once b's incarnation reaches Executed.
func (s *Scheduler) AddDependency(a, b TxnIndex) (wait <-chan struct{}, ok bool) {
	cellB := s.cells[b]

	cellB.mu.Lock()
	defer cellB.mu.Unlock()

	if cellB.state == stExecuted || cellB.state == stCommitted {
		return nil, false
	}

	ch := make(chan struct{})
	cellB.waiters = append(cellB.waiters, ch)

	return ch, true
}

// TryCommit implements spec §4.3's try_commit: the coordinator-only loop
// that advances commit_idx in strict index order once the head transaction
// is Executed and has a validation on record from the current wave. A head
// whose last validation is from an older wave pulls validation_idx back
// down to itself, so a worker re-validates it in the current wave.
func (s *Scheduler) TryCommit() (TxnIndex, bool) {
	i := s.commitIdx.Load()
	if i < 0 || i >= s.n {
		return 0, false
	}

	cell := s.cells[i]

	cell.mu.Lock()
	defer cell.mu.Unlock()

	if cell.state != stExecuted {
		return 0, false
	}

	if cell.validatedWave != s.validationWave.Load() {
		s.validationIdx.DecreaseTo(i)
		return 0, false
	}

	cell.state = stCommitted
	s.commitIdx.Add(1)

	if i == s.n-1 {
		s.done.Store(true)
	}

	return TxnIndex(i), true
}

func (s *Scheduler) Done() bool { return s.done.Load() }
func (s *Scheduler) Len() int   { return s.n }
