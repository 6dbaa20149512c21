package market

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	nativecommon "gridmarket/native/common"
	"gridmarket/native/registry"
	"gridmarket/native/rental"
	"gridmarket/native/rewards"
)

// Command names, shared with the HTTP API and the metrics labels.
const (
	CmdBond                   = "bond"
	CmdWithdraw               = "withdraw"
	CmdRegisterResource       = "register_resource"
	CmdModifyResourcePrice    = "modify_resource_price"
	CmdAddResourceDuration    = "add_resource_duration"
	CmdOfflineResource        = "offline_resource"
	CmdCreateOrder            = "create_order"
	CmdOrderExec              = "order_exec"
	CmdHeartbeat              = "heartbeat"
	CmdCancelOrder            = "cancel_order"
	CmdRenewAgreement         = "renew_agreement"
	CmdWithdrawRentalAmount   = "withdraw_rental_amount"
	CmdWithdrawFaultExecution = "withdraw_fault_execution"
	CmdWithdrawIncome         = "withdraw_income"
	CmdPayoutQueue            = "payout_queue"
	CmdEnqueueReward          = "enqueue_reward"
	CmdPauseModule            = "pause_module"
	CmdResumeModule           = "resume_module"
)

// Bond moves amount from the account's free balance into staking escrow.
func (e *Engine) Bond(account common.Address, amount *big.Int) error {
	return e.apply(CmdBond, nativecommon.ModuleStaking, func() error {
		return e.ledger.Bond(account, amount)
	})
}

// Withdraw returns active stake to the account's free balance.
func (e *Engine) Withdraw(account common.Address, amount *big.Int) error {
	return e.apply(CmdWithdraw, nativecommon.ModuleStaking, func() error {
		return e.ledger.Withdraw(account, amount)
	})
}

// RegisterResource lists a resource for owner and locks its collateral.
func (e *Engine) RegisterResource(owner common.Address, req registry.RegisterRequest) (*registry.Resource, error) {
	var res *registry.Resource
	err := e.apply(CmdRegisterResource, nativecommon.ModuleRegistry, func() error {
		var err error
		res, err = e.registry.Register(owner, req)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// ModifyResourcePrice reprices a listing. Live agreements keep their terms.
func (e *Engine) ModifyResourcePrice(owner common.Address, index uint64, price *big.Int) (*registry.Resource, error) {
	var res *registry.Resource
	err := e.apply(CmdModifyResourcePrice, nativecommon.ModuleRegistry, func() error {
		var err error
		res, err = e.registry.ModifyPrice(owner, index, price)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// AddResourceDuration pushes a listing's expiry back by duration ticks.
func (e *Engine) AddResourceDuration(owner common.Address, index, duration uint64) (*registry.Resource, error) {
	var res *registry.Resource
	err := e.apply(CmdAddResourceDuration, nativecommon.ModuleRegistry, func() error {
		var err error
		res, err = e.registry.ExtendDuration(owner, index, duration)
		return err
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// OfflineResource delists an idle resource and returns the released
// collateral.
func (e *Engine) OfflineResource(owner common.Address, index uint64) (*big.Int, error) {
	var released *big.Int
	err := e.apply(CmdOfflineResource, nativecommon.ModuleRegistry, func() error {
		var err error
		released, err = e.registry.Offline(owner, index)
		return err
	})
	if err != nil {
		return nil, err
	}
	return released, nil
}

// CreateOrder reserves an idle resource for tenant until the provider
// executes or the tenant cancels the order.
func (e *Engine) CreateOrder(tenant common.Address, resourceIndex, duration uint64, pubKey []byte) (*rental.Order, error) {
	var order *rental.Order
	err := e.apply(CmdCreateOrder, nativecommon.ModuleRental, func() error {
		var err error
		order, err = e.rental.CreateOrder(tenant, resourceIndex, duration, pubKey)
		return err
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// ExecOrder lets the provider accept a pending order, creating or extending
// the agreement.
func (e *Engine) ExecOrder(provider common.Address, orderIndex uint64) (*rental.Agreement, error) {
	var agreement *rental.Agreement
	err := e.apply(CmdOrderExec, nativecommon.ModuleRental, func() error {
		var err error
		agreement, err = e.rental.ExecOrder(provider, orderIndex)
		return err
	})
	if err != nil {
		return nil, err
	}
	return agreement, nil
}

// Heartbeat records provider liveness for an agreement.
func (e *Engine) Heartbeat(provider common.Address, agreementIndex uint64) (*rental.Agreement, error) {
	var agreement *rental.Agreement
	err := e.apply(CmdHeartbeat, nativecommon.ModuleRental, func() error {
		var err error
		agreement, err = e.rental.Heartbeat(provider, agreementIndex)
		return err
	})
	if err != nil {
		return nil, err
	}
	return agreement, nil
}

// CancelOrder withdraws a pending order, freeing the resource it reserved.
func (e *Engine) CancelOrder(tenant common.Address, orderIndex uint64) (*rental.Order, error) {
	var order *rental.Order
	err := e.apply(CmdCancelOrder, nativecommon.ModuleRental, func() error {
		var err error
		order, err = e.rental.CancelOrder(tenant, orderIndex)
		return err
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// RenewAgreement files an order extending a live agreement by duration
// ticks. The provider executes it like any other order.
func (e *Engine) RenewAgreement(tenant common.Address, agreementIndex, duration uint64) (*rental.Order, error) {
	var order *rental.Order
	err := e.apply(CmdRenewAgreement, nativecommon.ModuleRental, func() error {
		var err error
		order, err = e.rental.RenewAgreement(tenant, agreementIndex, duration)
		return err
	})
	if err != nil {
		return nil, err
	}
	return order, nil
}

// WithdrawRentalAmount pays the provider the rent earned so far.
func (e *Engine) WithdrawRentalAmount(provider common.Address, agreementIndex uint64) (*big.Int, error) {
	var amount *big.Int
	err := e.apply(CmdWithdrawRentalAmount, nativecommon.ModuleRental, func() error {
		var err error
		amount, err = e.rental.WithdrawRentalAmount(provider, agreementIndex)
		return err
	})
	if err != nil {
		return nil, err
	}
	return amount, nil
}

// WithdrawFaultExecution refunds the unearned rent of a punished agreement
// to its tenant and deletes the agreement.
func (e *Engine) WithdrawFaultExecution(tenant common.Address, agreementIndex uint64) (*big.Int, error) {
	var amount *big.Int
	err := e.apply(CmdWithdrawFaultExecution, nativecommon.ModuleRental, func() error {
		var err error
		amount, err = e.rental.WithdrawFaultExecution(tenant, agreementIndex)
		return err
	})
	if err != nil {
		return nil, err
	}
	return amount, nil
}

// WithdrawIncome pays account its reward income across every variant.
func (e *Engine) WithdrawIncome(account common.Address) (*big.Int, error) {
	var amount *big.Int
	err := e.apply(CmdWithdrawIncome, nativecommon.ModuleRewards, func() error {
		var err error
		amount, err = e.rewards.WithdrawIncome(account)
		return err
	})
	if err != nil {
		return nil, err
	}
	return amount, nil
}

// PayoutQueue pays every pending income out of the reward pot. Accounts that
// cannot be paid are reported in their outcome and keep their income.
func (e *Engine) PayoutQueue() ([]rewards.PayoutOutcome, error) {
	var outcomes []rewards.PayoutOutcome
	err := e.apply(CmdPayoutQueue, nativecommon.ModuleRewards, func() error {
		var err error
		outcomes, err = e.rewards.PayoutQueue()
		for _, outcome := range outcomes {
			if outcome.Err != nil {
				e.logger.Warn("market: income payout failed",
					"variant", outcome.Variant.String(),
					"account", outcome.Account.Hex(),
					"error", outcome.Err)
			}
		}
		return err
	})
	if err != nil {
		return nil, err
	}
	return outcomes, nil
}

// EnqueueReward queues a payout over dataset for the reward cycle.
func (e *Engine) EnqueueReward(variant rewards.Variant, payout *big.Int, dataset []rewards.Entry) (*rewards.Task, error) {
	var task *rewards.Task
	err := e.apply(CmdEnqueueReward, nativecommon.ModuleRewards, func() error {
		var err error
		task, err = e.rewards.Enqueue(variant, payout, dataset)
		return err
	})
	if err != nil {
		return nil, err
	}
	return task, nil
}
