package market

import (
	"fmt"

	"gridmarket/native/rewards"
)

var genesisKey = []byte("market/genesis")

// ApplyGenesis mints the genesis balances and funds the reward pot. It runs
// once per database; later calls report false and change nothing.
func (e *Engine) ApplyGenesis(gen Genesis) (bool, error) {
	applied := false
	err := e.apply("genesis", "", func() error {
		done, err := e.state.KVHas(genesisKey)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
		for _, alloc := range gen.Accounts {
			if alloc.Balance == nil || alloc.Balance.Sign() == 0 {
				continue
			}
			if err := e.bank.Mint(alloc.Address, alloc.Balance); err != nil {
				return fmt.Errorf("market: genesis %s: %w", alloc.Address.Hex(), err)
			}
		}
		if gen.RewardPot != nil && gen.RewardPot.Sign() > 0 {
			if err := e.bank.Mint(rewards.PotAddress, gen.RewardPot); err != nil {
				return fmt.Errorf("market: genesis reward pot: %w", err)
			}
		}
		applied = true
		return e.state.KVPut(genesisKey, true)
	})
	return applied && err == nil, err
}
