package events

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"gridmarket/core/types"
)

const (
	// TypeStakeBonded is emitted when an account bonds funds into escrow.
	TypeStakeBonded = "stake.bonded"
	// TypeStakeLocked is emitted when active stake is reserved as collateral.
	TypeStakeLocked = "stake.locked"
	// TypeStakeUnlocked is emitted when reserved collateral returns to active.
	TypeStakeUnlocked = "stake.unlocked"
	// TypeStakePenalized is emitted when stake is seized for a fault.
	TypeStakePenalized = "stake.penalized"
	// TypeStakeWithdrawn is emitted when active stake leaves escrow.
	TypeStakeWithdrawn = "stake.withdrawn"
)

// StakeChanged describes a staking ledger movement. Kind selects one of the
// stake event types above.
type StakeChanged struct {
	Kind    string
	Account common.Address
	Amount  *big.Int
	Total   *big.Int
	Active  *big.Int
	Locked  *big.Int
}

// EventType satisfies the Event interface.
func (e StakeChanged) EventType() string { return e.Kind }

// Event converts the structured payload into a broadcastable event.
func (e StakeChanged) Event() *types.Event {
	attrs := map[string]string{
		"account": formatAddress(e.Account),
		"amount":  formatAmount(e.Amount),
		"total":   formatAmount(e.Total),
		"active":  formatAmount(e.Active),
		"locked":  formatAmount(e.Locked),
	}
	return &types.Event{Type: e.Kind, Attributes: attrs}
}
