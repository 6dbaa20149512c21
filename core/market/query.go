package market

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"gridmarket/native/registry"
	"gridmarket/native/rental"
	"gridmarket/native/rewards"
	"gridmarket/native/staking"
)

// Read accessors take the engine lock so that they never observe a command
// half way through.

func (e *Engine) Balance(account common.Address) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.bank.FreeBalance(account)
}

func (e *Engine) TotalSupply() (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.bank.TotalSupply()
}

// StakeAccount returns the staking account of addr, or a zero account when
// it never bonded.
func (e *Engine) StakeAccount(account common.Address) (*staking.Account, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.ledger.Account(account)
}

func (e *Engine) Resource(index uint64) (*registry.Resource, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.registry.Resource(index)
}

func (e *Engine) OwnerResources(owner common.Address) ([]uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.registry.OwnerResources(owner)
}

// OnlineResources lists rentable resources from the cheapest up.
func (e *Engine) OnlineResources(limit int) ([]*registry.Resource, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.registry.OnlineResources(limit)
}

func (e *Engine) ProviderPoints(owner common.Address) (registry.ProviderPoints, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.registry.ProviderPoints(owner)
}

func (e *Engine) Totals() (registry.Totals, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.registry.Totals()
}

func (e *Engine) Order(index uint64) (*rental.Order, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rental.Order(index)
}

func (e *Engine) Agreement(index uint64) (*rental.Agreement, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rental.Agreement(index)
}

func (e *Engine) ProviderAgreements(provider common.Address) ([]uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rental.ProviderAgreements(provider)
}

func (e *Engine) TenantAgreements(tenant common.Address) ([]uint64, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rental.TenantAgreements(tenant)
}

// EarnedRent returns the rent the provider of agreement index could withdraw
// right now.
func (e *Engine) EarnedRent(index uint64) (*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	agreement, err := e.rental.Agreement(index)
	if err != nil {
		return nil, err
	}
	return rental.EarnedRent(agreement), nil
}

func (e *Engine) RewardQueue() (rewards.Queue, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rewards.Queue()
}

func (e *Engine) RewardTask(id uint64) (*rewards.Task, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rewards.Task(id)
}

// Income returns the unpaid income of account for every variant.
func (e *Engine) Income(account common.Address) (map[rewards.Variant]*big.Int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make(map[rewards.Variant]*big.Int, len(rewards.Variants))
	for _, variant := range rewards.Variants {
		income, ok, err := e.rewards.Income(variant, account)
		if err != nil {
			return nil, err
		}
		amount := big.NewInt(0)
		if ok && income.TotalIncome != nil {
			amount = new(big.Int).Set(income.TotalIncome)
		}
		out[variant] = amount
	}
	return out, nil
}
