package rewards

import (
	"fmt"
	"math/big"

	coreerrors "gridmarket/core/errors"
)

// Source pages the contributors of an epoch snapshot in a stable key order.
type Source interface {
	// Page returns up to limit entries starting at cursor, the cursor the
	// following page starts at, and whether the source is exhausted.
	Page(cursor []byte, limit int) (entries []Entry, next []byte, done bool, err error)
}

// Build is an epoch snapshot being collected, one page per tick. Its entries
// are written straight into part tasks that only join the queue once the
// whole snapshot is known, because every share depends on the totals.
type Build struct {
	Variant     Variant
	Payout      *big.Int
	StartedAt   uint64
	Cursor      []byte
	Parts       []uint64
	PartLength  uint64
	Entries     uint64
	TotalWeight *big.Int
}

func (b *Build) normalise() {
	if b.Payout == nil {
		b.Payout = big.NewInt(0)
	}
	if b.TotalWeight == nil {
		b.TotalWeight = big.NewInt(0)
	}
}

// CollectResult describes one call to CollectEpoch.
type CollectResult struct {
	Collecting bool
	Collected  int
	// Queued lists the part tasks appended to the queue when the snapshot
	// completed.
	Queued []uint64
}

// BeginEpoch opens an epoch snapshot of variant paying payout. It reports
// false without touching state while a previous snapshot of the same variant
// is still being collected.
func (e *Engine) BeginEpoch(variant Variant, payout *big.Int) (bool, error) {
	if variant != VariantProvider && variant != VariantClient {
		return false, fmt.Errorf("rewards: no epoch snapshot for %s: %w", variant, coreerrors.ErrUnknownVariant)
	}
	if payout == nil || payout.Sign() <= 0 {
		return false, fmt.Errorf("rewards: payout: %w", coreerrors.ErrInvalidAmount)
	}
	_, open, err := e.Building(variant)
	if err != nil || open {
		return false, err
	}
	build := &Build{
		Variant:     variant,
		Payout:      new(big.Int).Set(payout),
		StartedAt:   e.tickFn(),
		TotalWeight: big.NewInt(0),
	}
	if err := e.state.KVPut(buildKey(variant), build); err != nil {
		return false, err
	}
	return true, nil
}

// Building returns the open epoch snapshot of variant, if any.
func (e *Engine) Building(variant Variant) (*Build, bool, error) {
	build := new(Build)
	ok, err := e.state.KVGet(buildKey(variant), build)
	if err != nil {
		return nil, false, fmt.Errorf("rewards: load %s epoch snapshot: %w", variant, err)
	}
	if !ok {
		return nil, false, nil
	}
	build.normalise()
	return build, true, nil
}

// CollectEpoch reads one page of at most ForBlock contributors from src into
// the open snapshot of variant. Parts hold at most MaxDatasetLength entries.
// When src is exhausted the parts are queued with the snapshot totals and the
// snapshot is closed. Without an open snapshot it does nothing.
func (e *Engine) CollectEpoch(variant Variant, src Source) (CollectResult, error) {
	build, open, err := e.Building(variant)
	if err != nil || !open {
		return CollectResult{}, err
	}
	result := CollectResult{Collecting: true}
	entries, next, done, err := src.Page(build.Cursor, e.params.ForBlock)
	if err != nil {
		return CollectResult{}, fmt.Errorf("rewards: page %s snapshot: %w", variant, err)
	}
	for _, entry := range entries {
		if len(build.Parts) == 0 || build.PartLength >= uint64(e.params.MaxDatasetLength) {
			id, err := e.state.NextSequence(taskSequence, 1)
			if err != nil {
				return CollectResult{}, err
			}
			build.Parts = append(build.Parts, id)
			build.PartLength = 0
		}
		part := build.Parts[len(build.Parts)-1]
		if err := e.state.KVPut(entryKey(part, build.PartLength), &entry); err != nil {
			return CollectResult{}, err
		}
		build.PartLength++
		build.Entries++
		build.TotalWeight.Add(build.TotalWeight, new(big.Int).SetUint64(entry.Weight))
		result.Collected++
	}
	build.Cursor = next

	if !done {
		if err := e.state.KVPut(buildKey(variant), build); err != nil {
			return CollectResult{}, err
		}
		return result, nil
	}
	if err := e.state.KVDelete(buildKey(variant)); err != nil {
		return CollectResult{}, err
	}
	if build.Entries == 0 {
		return result, nil
	}
	tasks := make([]*Task, 0, len(build.Parts))
	for i, id := range build.Parts {
		length := uint64(e.params.MaxDatasetLength)
		if i == len(build.Parts)-1 {
			length = build.PartLength
		}
		tasks = append(tasks, &Task{
			ID:          id,
			Variant:     variant,
			Payout:      new(big.Int).Set(build.Payout),
			Length:      length,
			TotalWeight: new(big.Int).Set(build.TotalWeight),
			EnqueuedAt:  e.tickFn(),
			Credited:    big.NewInt(0),
			ShareCount:  build.Entries,
			Part:        uint64(i + 1),
			Parts:       uint64(len(build.Parts)),
		})
		result.Queued = append(result.Queued, id)
	}
	return result, e.queueTasks(tasks...)
}
