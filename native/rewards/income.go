package rewards

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	coreerrors "gridmarket/core/errors"
	"gridmarket/core/events"
	nativecommon "gridmarket/native/common"
)

// Income returns the unpaid income of account under variant.
func (e *Engine) Income(variant Variant, account common.Address) (*Income, bool, error) {
	income := &Income{TotalIncome: big.NewInt(0)}
	ok, err := e.state.KVGet(incomeKey(variant, account), income)
	if err != nil {
		return nil, false, fmt.Errorf("rewards: load income: %w", err)
	}
	if income.TotalIncome == nil {
		income.TotalIncome = big.NewInt(0)
	}
	return income, ok, nil
}

// PendingAccounts lists the accounts holding unpaid income under variant, in
// address order.
func (e *Engine) PendingAccounts(variant Variant) ([]common.Address, error) {
	members, err := e.state.ScanMembers(pendingVariantPrefix(variant), nil, 0)
	if err != nil {
		return nil, fmt.Errorf("rewards: scan pending %s income: %w", variant, err)
	}
	out := make([]common.Address, 0, len(members))
	for _, suffix := range members {
		out = append(out, common.BytesToAddress(suffix))
	}
	return out, nil
}

func (e *Engine) credit(variant Variant, account common.Address, share *big.Int) error {
	if share.Sign() == 0 {
		return nil
	}
	income, _, err := e.Income(variant, account)
	if err != nil {
		return err
	}
	income.TotalIncome = nativecommon.SaturatingAdd(income.TotalIncome, share)
	if err := e.state.KVPut(incomeKey(variant, account), income); err != nil {
		return err
	}
	return e.state.AddMember(pendingKey(variant, account))
}

// pay transfers the unpaid income of account under variant out of the pot
// and zeroes it. The income record itself is kept.
func (e *Engine) pay(variant Variant, account common.Address) (*big.Int, error) {
	income, ok, err := e.Income(variant, account)
	if err != nil {
		return nil, err
	}
	amount := new(big.Int).Set(income.TotalIncome)
	if ok && amount.Sign() > 0 {
		if err := e.bank.Transfer(PotAddress, account, amount); err != nil {
			return nil, fmt.Errorf("rewards: pay %s income: %w", variant, err)
		}
		income.TotalIncome = big.NewInt(0)
		if err := e.state.KVPut(incomeKey(variant, account), income); err != nil {
			return nil, err
		}
		e.emitter.Emit(events.IncomePaid{Variant: variant.String(), Account: account, Amount: new(big.Int).Set(amount)})
	}
	if _, err := e.state.RemoveMember(pendingKey(variant, account)); err != nil {
		return nil, err
	}
	return amount, nil
}

// PayoutOutcome reports the payout of one account's income.
type PayoutOutcome struct {
	Variant Variant
	Account common.Address
	Amount  *big.Int
	Err     error
}

// PayoutQueue pays every pending income of every variant out of the pot.
// Each account is paid atomically; an account that cannot be paid keeps its
// income and stays pending.
func (e *Engine) PayoutQueue() ([]PayoutOutcome, error) {
	var outcomes []PayoutOutcome
	for _, variant := range Variants {
		pending, err := e.PendingAccounts(variant)
		if err != nil {
			return outcomes, err
		}
		for _, account := range pending {
			outcome := PayoutOutcome{Variant: variant, Account: account}
			outcome.Err = e.state.Atomic(func() error {
				amount, err := e.pay(variant, account)
				outcome.Amount = amount
				return err
			})
			outcomes = append(outcomes, outcome)
		}
	}
	return outcomes, nil
}

// WithdrawIncome pays account every unit of income it holds across variants.
func (e *Engine) WithdrawIncome(account common.Address) (*big.Int, error) {
	total := new(big.Int)
	for _, variant := range Variants {
		amount, err := e.pay(variant, account)
		if err != nil {
			return nil, err
		}
		total.Add(total, amount)
	}
	if total.Sign() == 0 {
		return nil, fmt.Errorf("rewards: %s: %w", account.Hex(), coreerrors.ErrNothingToWithdraw)
	}
	return total, nil
}
