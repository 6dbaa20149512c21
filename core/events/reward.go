package events

import (
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"gridmarket/core/types"
)

const (
	TypeRewardTaskQueued   = "reward.taskQueued"
	TypeRewardSlice        = "reward.slice"
	TypeRewardQueueDrained = "reward.queueDrained"
	TypeIncomePaid         = "reward.incomePaid"
	TypeModulePause        = "module.pause"
)

// RewardTaskQueued is emitted when market accounting enqueues a workload.
// An epoch snapshot split across several tasks emits one event per part.
type RewardTaskQueued struct {
	TaskID  uint64
	Variant string
	Payout  *big.Int
	Entries uint64
	Part    uint64
	Parts   uint64
}

// EventType satisfies the Event interface.
func (RewardTaskQueued) EventType() string { return TypeRewardTaskQueued }

// Event converts the structured payload into a broadcastable event.
func (e RewardTaskQueued) Event() *types.Event {
	return &types.Event{Type: TypeRewardTaskQueued, Attributes: map[string]string{
		"taskId":  formatUint(e.TaskID),
		"variant": e.Variant,
		"payout":  formatAmount(e.Payout),
		"entries": formatUint(e.Entries),
		"part":    formatUint(e.Part),
		"parts":   formatUint(e.Parts),
	}}
}

// RewardSlice reports one bounded step of the reward cycle.
type RewardSlice struct {
	TaskID    uint64
	Variant   string
	Processed uint64
	ItemIndex uint64
	Credited  *big.Int
}

// EventType satisfies the Event interface.
func (RewardSlice) EventType() string { return TypeRewardSlice }

// Event converts the structured payload into a broadcastable event.
func (e RewardSlice) Event() *types.Event {
	return &types.Event{Type: TypeRewardSlice, Attributes: map[string]string{
		"taskId":    formatUint(e.TaskID),
		"variant":   e.Variant,
		"processed": formatUint(e.Processed),
		"itemIndex": formatUint(e.ItemIndex),
		"credited":  formatAmount(e.Credited),
	}}
}

// RewardQueueDrained is emitted when the last queued task completes.
type RewardQueueDrained struct {
	Tasks uint64
}

// EventType satisfies the Event interface.
func (RewardQueueDrained) EventType() string { return TypeRewardQueueDrained }

// Event converts the structured payload into a broadcastable event.
func (e RewardQueueDrained) Event() *types.Event {
	return &types.Event{Type: TypeRewardQueueDrained, Attributes: map[string]string{
		"tasks": formatUint(e.Tasks),
	}}
}

// IncomePaid is emitted for each income balance paid out of the reward pot.
type IncomePaid struct {
	Variant string
	Account common.Address
	Amount  *big.Int
}

// EventType satisfies the Event interface.
func (IncomePaid) EventType() string { return TypeIncomePaid }

// Event converts the structured payload into a broadcastable event.
func (e IncomePaid) Event() *types.Event {
	return &types.Event{Type: TypeIncomePaid, Attributes: map[string]string{
		"variant": e.Variant,
		"account": formatAddress(e.Account),
		"amount":  formatAmount(e.Amount),
	}}
}

// ModulePause is emitted when an administrator toggles a module.
type ModulePause struct {
	Module string
	Paused bool
}

// EventType satisfies the Event interface.
func (ModulePause) EventType() string { return TypeModulePause }

// Event converts the structured payload into a broadcastable event.
func (e ModulePause) Event() *types.Event {
	return &types.Event{Type: TypeModulePause, Attributes: map[string]string{
		"module": e.Module,
		"paused": strconv.FormatBool(e.Paused),
	}}
}
