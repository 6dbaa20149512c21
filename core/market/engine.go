package market

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"gridmarket/core/events"
	"gridmarket/core/state"
	"gridmarket/native/bank"
	"gridmarket/native/registry"
	"gridmarket/native/rental"
	"gridmarket/native/rewards"
	"gridmarket/native/staking"
	"gridmarket/observability/metrics"
	"gridmarket/storage"
)

var tickKey = []byte("market/tick")

// Engine is the single writer of market state. Every command and every tick
// hook runs under one mutex inside a state snapshot; on success the snapshot
// is written to the database in one batch and its buffered events are
// published, on failure both are dropped.
type Engine struct {
	mu      sync.Mutex
	state   *state.Manager
	buffer  *events.Buffer
	emitter events.Emitter
	logger  *slog.Logger
	metrics *metrics.MarketMetrics
	params  Params
	tick    uint64
	nowFn   func() time.Time

	bank     *bank.Bank
	ledger   *staking.Ledger
	registry *registry.Registry
	rental   *rental.Manager
	rewards  *rewards.Engine
}

// NewEngine wires the market modules over db and restores the last processed
// tick.
func NewEngine(db storage.Database, params Params) (*Engine, error) {
	if db == nil {
		return nil, fmt.Errorf("market: database required")
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}
	manager := state.NewManager(db)
	buffer := &events.Buffer{}
	manager.AttachJournal(buffer)

	e := &Engine{
		state:   manager,
		buffer:  buffer,
		emitter: events.NoopEmitter{},
		logger:  slog.Default(),
		metrics: metrics.Market(),
		params:  params,
		nowFn:   func() time.Time { return time.Now().UTC() },
	}

	e.bank = bank.NewBank(manager, params.MinimumBalance)
	e.bank.RegisterModuleAccount(staking.VaultAddress)
	e.bank.RegisterModuleAccount(rental.EscrowAddress)
	e.bank.RegisterModuleAccount(rewards.PotAddress)

	e.ledger = staking.NewLedger(manager, e.bank)
	e.ledger.SetPenaltySink(rewards.PotAddress)
	e.ledger.SetEmitter(buffer)

	e.registry = registry.NewRegistry(manager, e.ledger, params.Registry)
	e.registry.SetEmitter(buffer)
	e.registry.SetTickFunc(e.currentTick)
	e.registry.SetNowFunc(e.now)

	e.rental = rental.NewManager(manager, e.ledger, e.registry, e.bank, params.Rental)
	e.rental.SetEmitter(buffer)
	e.rental.SetTickFunc(e.currentTick)
	e.rental.SetNowFunc(e.now)

	e.rewards = rewards.NewEngine(manager, e.bank, params.Rewards)
	e.rewards.SetEmitter(buffer)
	e.rewards.SetTickFunc(e.currentTick)

	tick, err := manager.Uint64(tickKey)
	if err != nil {
		return nil, fmt.Errorf("market: load tick: %w", err)
	}
	e.tick = tick
	e.metrics.SetTick(tick)
	return e, nil
}

// SetEmitter sets the downstream emitter that receives committed events.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	e.emitter = emitter
}

// SetLogger overrides the logger used for tick hook reports.
func (e *Engine) SetLogger(logger *slog.Logger) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if logger == nil {
		logger = slog.Default()
	}
	e.logger = logger
}

// SetNowFunc overrides the wall clock used to timestamp records.
func (e *Engine) SetNowFunc(now func() time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	e.nowFn = now
}

// Params returns the market parameters.
func (e *Engine) Params() Params { return e.params }

func (e *Engine) currentTick() uint64 { return e.tick }

func (e *Engine) now() time.Time { return e.nowFn() }

// apply runs one command under the engine lock.
func (e *Engine) apply(command, module string, fn func() error) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	err := e.applyLocked(module, fn)
	e.metrics.ObserveCommand(command, err)
	if err != nil {
		e.logger.Debug("market command rejected", "command", command, "error", err)
	}
	return err
}

// applyLocked runs fn in a fresh snapshot. A non-empty module is checked
// against the pause switches first.
func (e *Engine) applyLocked(module string, fn func() error) error {
	if module != "" {
		if err := e.guard(module); err != nil {
			return err
		}
	}
	id := e.state.Snapshot()
	if err := fn(); err != nil {
		e.state.RevertToSnapshot(id)
		return err
	}
	if err := e.state.MergeSnapshot(id); err != nil {
		return err
	}
	e.publish()
	return nil
}

func (e *Engine) publish() {
	for _, evt := range e.buffer.Events() {
		e.metrics.RecordEvent(evt.EventType())
	}
	e.buffer.Flush(e.emitter)
}
