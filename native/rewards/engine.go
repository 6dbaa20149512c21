package rewards

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	coreerrors "gridmarket/core/errors"
	"gridmarket/core/events"
	nativecommon "gridmarket/native/common"
)

type rewardState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
	NextSequence(key []byte, start uint64) (uint64, error)
	AddMember(key []byte) error
	RemoveMember(key []byte) (bool, error)
	ScanMembers(prefix, start []byte, limit int) ([][]byte, error)
	Atomic(fn func() error) error
}

type currency interface {
	Transfer(from, to common.Address, amount *big.Int) error
}

// Engine distributes queued payouts a bounded slice at a time. The queue and
// its cursor live in state, so a restarted node resumes where it stopped.
type Engine struct {
	state   rewardState
	bank    currency
	params  Params
	emitter events.Emitter
	tickFn  func() uint64
}

// NewEngine binds the reward engine to state and the currency primitive.
func NewEngine(state rewardState, bank currency, params Params) *Engine {
	return &Engine{
		state:   state,
		bank:    bank,
		params:  params,
		emitter: events.NoopEmitter{},
		tickFn:  func() uint64 { return 0 },
	}
}

// SetEmitter overrides the event emitter used by the engine.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetTickFunc sets the source of the current tick.
func (e *Engine) SetTickFunc(tick func() uint64) {
	if tick == nil {
		tick = func() uint64 { return 0 }
	}
	e.tickFn = tick
}

// Params returns the reward parameters.
func (e *Engine) Params() Params { return e.params }

// Enqueue appends a payout task over dataset to the queue. A provider
// dataset must name each provider once.
func (e *Engine) Enqueue(variant Variant, payout *big.Int, dataset []Entry) (*Task, error) {
	if !variant.valid() {
		return nil, fmt.Errorf("rewards: variant %d: %w", variant, coreerrors.ErrUnknownVariant)
	}
	if payout == nil || payout.Sign() <= 0 {
		return nil, fmt.Errorf("rewards: payout: %w", coreerrors.ErrInvalidAmount)
	}
	if len(dataset) == 0 {
		return nil, fmt.Errorf("rewards: empty dataset: %w", coreerrors.ErrIllegalRequest)
	}
	if len(dataset) > e.params.MaxDatasetLength {
		return nil, fmt.Errorf("rewards: dataset of %d entries: %w", len(dataset), coreerrors.ErrCapacityExceeded)
	}
	total := new(big.Int)
	seen := make(map[common.Address]struct{}, len(dataset))
	for i, entry := range dataset {
		if entry.Account == (common.Address{}) {
			return nil, fmt.Errorf("rewards: entry %d has no account: %w", i, coreerrors.ErrIllegalRequest)
		}
		if variant == VariantProvider {
			if _, dup := seen[entry.Account]; dup {
				return nil, fmt.Errorf("rewards: provider %s listed twice: %w", entry.Account.Hex(), coreerrors.ErrIllegalRequest)
			}
			seen[entry.Account] = struct{}{}
		}
		total.Add(total, new(big.Int).SetUint64(entry.Weight))
	}
	if variant != VariantClient && total.Sign() == 0 {
		return nil, fmt.Errorf("rewards: %s dataset has no weight: %w", variant, coreerrors.ErrIllegalRequest)
	}
	id, err := e.state.NextSequence(taskSequence, 1)
	if err != nil {
		return nil, err
	}
	task := &Task{
		ID:          id,
		Variant:     variant,
		Payout:      new(big.Int).Set(payout),
		Length:      uint64(len(dataset)),
		TotalWeight: total,
		EnqueuedAt:  e.tickFn(),
		Credited:    big.NewInt(0),
		ShareCount:  uint64(len(dataset)),
		Part:        1,
		Parts:       1,
	}
	for i, entry := range dataset {
		if err := e.state.KVPut(entryKey(id, uint64(i)), &entry); err != nil {
			return nil, err
		}
	}
	if err := e.queueTasks(task); err != nil {
		return nil, err
	}
	return task, nil
}

// queueTasks stores tasks whose entries are already written and appends
// them to the queue in order.
func (e *Engine) queueTasks(tasks ...*Task) error {
	queue, err := e.Queue()
	if err != nil {
		return err
	}
	for _, task := range tasks {
		if err := e.putTask(task); err != nil {
			return err
		}
		queue.Tasks = append(queue.Tasks, task.ID)
	}
	if err := e.putQueue(queue); err != nil {
		return err
	}
	for _, task := range tasks {
		e.emitter.Emit(events.RewardTaskQueued{
			TaskID:  task.ID,
			Variant: task.Variant.String(),
			Payout:  new(big.Int).Set(task.Payout),
			Entries: task.Length,
			Part:    task.Part,
			Parts:   task.Parts,
		})
	}
	return nil
}

// StepResult describes one call to Step.
type StepResult struct {
	Active    bool
	TaskID    uint64
	Processed uint64
	Credited  *big.Int
	TaskDone  bool
	Drained   bool
}

// Step processes at most ForBlock entries of the running task, crediting
// each contributor's income. It is called once per tick and does nothing
// while the queue is empty.
func (e *Engine) Step() (StepResult, error) {
	queue, err := e.Queue()
	if err != nil {
		return StepResult{}, err
	}
	if !queue.Active() {
		return StepResult{}, nil
	}
	if queue.TaskIndex >= uint64(len(queue.Tasks)) {
		return StepResult{}, fmt.Errorf("rewards: cursor %d past %d tasks", queue.TaskIndex, len(queue.Tasks))
	}
	task, err := e.Task(queue.Tasks[queue.TaskIndex])
	if err != nil {
		return StepResult{}, err
	}
	result := StepResult{Active: true, TaskID: task.ID, Credited: big.NewInt(0)}
	queued := uint64(len(queue.Tasks))

	end := queue.ItemIndex + uint64(e.params.ForBlock)
	if end > task.Length {
		end = task.Length
	}
	for i := queue.ItemIndex; i < end; i++ {
		var entry Entry
		ok, err := e.state.KVGet(entryKey(task.ID, i), &entry)
		if err != nil {
			return StepResult{}, err
		}
		if ok {
			share := e.share(task, entry)
			if err := e.credit(task.Variant, entry.Account, share); err != nil {
				return StepResult{}, err
			}
			result.Credited.Add(result.Credited, share)
			if err := e.state.KVDelete(entryKey(task.ID, i)); err != nil {
				return StepResult{}, err
			}
		}
		result.Processed++
	}
	task.Credited = nativecommon.SaturatingAdd(task.Credited, result.Credited)

	switch {
	case end < task.Length:
		queue.ItemIndex = end
		if err := e.putTask(task); err != nil {
			return StepResult{}, err
		}
	case queue.TaskIndex+1 < uint64(len(queue.Tasks)):
		result.TaskDone = true
		queue.TaskIndex++
		queue.ItemIndex = 0
		if err := e.state.KVDelete(taskKey(task.ID)); err != nil {
			return StepResult{}, err
		}
	default:
		result.TaskDone = true
		result.Drained = true
		if err := e.state.KVDelete(taskKey(task.ID)); err != nil {
			return StepResult{}, err
		}
		queue = Queue{}
	}
	if err := e.putQueue(queue); err != nil {
		return StepResult{}, err
	}
	e.emitter.Emit(events.RewardSlice{
		TaskID:    task.ID,
		Variant:   task.Variant.String(),
		Processed: result.Processed,
		ItemIndex: queue.ItemIndex,
		Credited:  new(big.Int).Set(result.Credited),
	})
	if result.Drained {
		e.emitter.Emit(events.RewardQueueDrained{Tasks: queued})
	}
	return result, nil
}

// share computes one contributor's cut of the task payout. Fractions
// truncate toward zero; the remainder stays in the pot.
func (e *Engine) share(task *Task, entry Entry) *big.Int {
	weight := new(big.Int).SetUint64(entry.Weight)
	count := new(big.Int).SetUint64(task.ShareCount)
	switch task.Variant {
	case VariantGateway:
		return nativecommon.MulDiv(task.Payout, weight, task.TotalWeight)
	case VariantProvider:
		byPoints := nativecommon.MulDiv(nativecommon.Percent(task.Payout, e.params.ProviderPointsPercent), weight, task.TotalWeight)
		equal := nativecommon.MulDiv(nativecommon.Percent(task.Payout, 100-e.params.ProviderPointsPercent), big.NewInt(1), count)
		return nativecommon.SaturatingAdd(byPoints, equal)
	case VariantClient:
		return nativecommon.MulDiv(task.Payout, big.NewInt(1), count)
	default:
		return big.NewInt(0)
	}
}

// Queue returns the task queue and its cursor.
func (e *Engine) Queue() (Queue, error) {
	var queue Queue
	if _, err := e.state.KVGet(queueKey, &queue); err != nil {
		return Queue{}, fmt.Errorf("rewards: load queue: %w", err)
	}
	return queue, nil
}

func (e *Engine) putQueue(queue Queue) error {
	if !queue.Active() {
		return e.state.KVDelete(queueKey)
	}
	return e.state.KVPut(queueKey, &queue)
}

// Task loads a queued task.
func (e *Engine) Task(id uint64) (*Task, error) {
	task := new(Task)
	ok, err := e.state.KVGet(taskKey(id), task)
	if err != nil {
		return nil, fmt.Errorf("rewards: load task %d: %w", id, err)
	}
	if !ok {
		return nil, fmt.Errorf("rewards: task %d: %w", id, coreerrors.ErrRewardTaskNotFound)
	}
	task.normalise()
	return task, nil
}

func (e *Engine) putTask(task *Task) error {
	return e.state.KVPut(taskKey(task.ID), task)
}
