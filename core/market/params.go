package market

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"gridmarket/native/registry"
	"gridmarket/native/rental"
	"gridmarket/native/rewards"
)

// Params bundles the parameters of every market module.
type Params struct {
	MinimumBalance *big.Int
	Registry       registry.Params
	Rental         rental.Params
	Rewards        rewards.Params
	// EpochLength is the number of ticks between automatic provider and
	// client reward snapshots. Zero disables them.
	EpochLength         uint64
	ProviderEpochPayout *big.Int
	ClientEpochPayout   *big.Int
}

// DefaultParams returns the stock market parameters with the epoch trigger
// disabled.
func DefaultParams() Params {
	return Params{
		MinimumBalance:      big.NewInt(1000),
		Registry:            registry.DefaultParams(),
		Rental:              rental.DefaultParams(),
		Rewards:             rewards.DefaultParams(),
		ProviderEpochPayout: big.NewInt(0),
		ClientEpochPayout:   big.NewInt(0),
	}
}

// Validate checks every module's parameters.
func (p Params) Validate() error {
	if p.MinimumBalance == nil || p.MinimumBalance.Sign() < 0 {
		return fmt.Errorf("market: minimum balance must not be negative")
	}
	if err := p.Registry.Validate(); err != nil {
		return err
	}
	if err := p.Rental.Validate(); err != nil {
		return err
	}
	if err := p.Rewards.Validate(); err != nil {
		return err
	}
	for name, v := range map[string]*big.Int{"provider": p.ProviderEpochPayout, "client": p.ClientEpochPayout} {
		if v != nil && v.Sign() < 0 {
			return fmt.Errorf("market: %s epoch payout must not be negative", name)
		}
	}
	return nil
}

// Allocation is a genesis balance.
type Allocation struct {
	Address common.Address
	Balance *big.Int
}

// Genesis seeds account balances and the reward pot. It is applied at most
// once per database.
type Genesis struct {
	Accounts  []Allocation
	RewardPot *big.Int
}
