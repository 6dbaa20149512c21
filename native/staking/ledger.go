package staking

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	coreerrors "gridmarket/core/errors"
	"gridmarket/core/events"
)

type ledgerState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// currency is the funds-transfer primitive the ledger settles through.
type currency interface {
	Transfer(from, to common.Address, amount *big.Int) error
}

// Ledger keeps escrow balances. Bonded funds sit in VaultAddress; the ledger
// only tracks how much of each account's share is active or locked.
type Ledger struct {
	state   ledgerState
	bank    currency
	emitter events.Emitter
	sink    common.Address
}

// NewLedger binds the ledger to state and the currency primitive. Penalties
// remain in the vault until SetPenaltySink names a destination.
func NewLedger(state ledgerState, bank currency) *Ledger {
	return &Ledger{state: state, bank: bank, emitter: events.NoopEmitter{}, sink: VaultAddress}
}

// SetEmitter overrides the event emitter used by the ledger.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		l.emitter = events.NoopEmitter{}
		return
	}
	l.emitter = emitter
}

// SetPenaltySink sets the account that receives seized stake.
func (l *Ledger) SetPenaltySink(addr common.Address) {
	l.sink = addr
}

// Account returns the staking account of addr.
func (l *Ledger) Account(addr common.Address) (*Account, bool, error) {
	acct := newAccount()
	ok, err := l.state.KVGet(accountKey(addr), acct)
	if err != nil {
		return nil, false, fmt.Errorf("staking: load account: %w", err)
	}
	if !ok {
		return nil, false, nil
	}
	acct.normalise()
	return acct, true, nil
}

func (l *Ledger) mustAccount(addr common.Address) (*Account, error) {
	acct, ok, err := l.Account(addr)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("staking: %s: %w", addr.Hex(), coreerrors.ErrStakingAccountNotFound)
	}
	return acct, nil
}

func (l *Ledger) store(addr common.Address, acct *Account) error {
	if !acct.Balanced() {
		return fmt.Errorf("staking: account %s out of balance", addr.Hex())
	}
	return l.state.KVPut(accountKey(addr), acct)
}

func (l *Ledger) emit(kind string, addr common.Address, amount *big.Int, acct *Account) {
	l.emitter.Emit(events.StakeChanged{
		Kind:    kind,
		Account: addr,
		Amount:  new(big.Int).Set(amount),
		Total:   new(big.Int).Set(acct.Amount),
		Active:  new(big.Int).Set(acct.Active),
		Locked:  new(big.Int).Set(acct.Locked),
	})
}

func validAmount(amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return coreerrors.ErrInvalidAmount
	}
	return nil
}

// Bond moves amount from the account's free balance into the vault and
// credits it as active stake, creating the account if needed.
func (l *Ledger) Bond(addr common.Address, amount *big.Int) error {
	if err := validAmount(amount); err != nil {
		return fmt.Errorf("staking: bond: %w", err)
	}
	acct, ok, err := l.Account(addr)
	if err != nil {
		return err
	}
	if !ok {
		acct = newAccount()
	}
	if err := l.bank.Transfer(addr, VaultAddress, amount); err != nil {
		return fmt.Errorf("staking: bond: %w", err)
	}
	acct.Amount.Add(acct.Amount, amount)
	acct.Active.Add(acct.Active, amount)
	if err := l.store(addr, acct); err != nil {
		return err
	}
	l.emit(events.TypeStakeBonded, addr, amount, acct)
	return nil
}

// Lock reserves amount of active stake as collateral.
func (l *Ledger) Lock(addr common.Address, amount *big.Int) error {
	if err := validAmount(amount); err != nil {
		return fmt.Errorf("staking: lock: %w", err)
	}
	acct, err := l.mustAccount(addr)
	if err != nil {
		return err
	}
	if acct.Active.Cmp(amount) < 0 {
		return fmt.Errorf("staking: lock %s of %s active: %w", amount, acct.Active, coreerrors.ErrInsufficientActive)
	}
	acct.Active.Sub(acct.Active, amount)
	acct.Locked.Add(acct.Locked, amount)
	if err := l.store(addr, acct); err != nil {
		return err
	}
	l.emit(events.TypeStakeLocked, addr, amount, acct)
	return nil
}

// Unlock returns amount of locked collateral to active stake.
func (l *Ledger) Unlock(addr common.Address, amount *big.Int) error {
	if err := validAmount(amount); err != nil {
		return fmt.Errorf("staking: unlock: %w", err)
	}
	acct, err := l.mustAccount(addr)
	if err != nil {
		return err
	}
	if acct.Locked.Cmp(amount) < 0 {
		return fmt.Errorf("staking: unlock %s of %s locked: %w", amount, acct.Locked, coreerrors.ErrInsufficientLocked)
	}
	acct.Locked.Sub(acct.Locked, amount)
	acct.Active.Add(acct.Active, amount)
	if err := l.store(addr, acct); err != nil {
		return err
	}
	l.emit(events.TypeStakeUnlocked, addr, amount, acct)
	return nil
}

// Release unlocks up to amount and returns what was actually released. A
// penalty clears every lock on the account, so collateral owed back after a
// penalty may already be gone.
func (l *Ledger) Release(addr common.Address, amount *big.Int) (*big.Int, error) {
	if amount == nil || amount.Sign() <= 0 {
		return big.NewInt(0), nil
	}
	acct, err := l.mustAccount(addr)
	if err != nil {
		return nil, err
	}
	released := new(big.Int).Set(amount)
	if acct.Locked.Cmp(released) < 0 {
		released.Set(acct.Locked)
	}
	if released.Sign() == 0 {
		return released, nil
	}
	acct.Locked.Sub(acct.Locked, released)
	acct.Active.Add(acct.Active, released)
	if err := l.store(addr, acct); err != nil {
		return nil, err
	}
	l.emit(events.TypeStakeUnlocked, addr, released, acct)
	return released, nil
}

// Penalty frees the whole lock and then seizes amount from the account's
// total, so the active balance absorbs whatever the lock did not cover. The
// seized funds move from the vault to the penalty sink.
func (l *Ledger) Penalty(addr common.Address, amount *big.Int) error {
	if err := validAmount(amount); err != nil {
		return fmt.Errorf("staking: penalty: %w", err)
	}
	acct, err := l.mustAccount(addr)
	if err != nil {
		return err
	}
	if acct.Amount.Cmp(amount) < 0 {
		return fmt.Errorf("staking: penalty %s of %s staked: %w", amount, acct.Amount, coreerrors.ErrInsufficientStake)
	}
	if l.sink != VaultAddress {
		if err := l.bank.Transfer(VaultAddress, l.sink, amount); err != nil {
			return fmt.Errorf("staking: penalty: %w", err)
		}
	}
	acct.Amount.Sub(acct.Amount, amount)
	acct.Locked.SetUint64(0)
	acct.Active.Set(acct.Amount)
	if err := l.store(addr, acct); err != nil {
		return err
	}
	l.emit(events.TypeStakePenalized, addr, amount, acct)
	return nil
}

// Withdraw removes amount of active stake and pays it back out of the vault.
func (l *Ledger) Withdraw(addr common.Address, amount *big.Int) error {
	if err := validAmount(amount); err != nil {
		return fmt.Errorf("staking: withdraw: %w", err)
	}
	acct, err := l.mustAccount(addr)
	if err != nil {
		return err
	}
	if acct.Active.Cmp(amount) < 0 {
		return fmt.Errorf("staking: withdraw %s of %s active: %w", amount, acct.Active, coreerrors.ErrInsufficientActive)
	}
	if err := l.bank.Transfer(VaultAddress, addr, amount); err != nil {
		return fmt.Errorf("staking: withdraw: %w", err)
	}
	acct.Amount.Sub(acct.Amount, amount)
	acct.Active.Sub(acct.Active, amount)
	if err := l.store(addr, acct); err != nil {
		return err
	}
	l.emit(events.TypeStakeWithdrawn, addr, amount, acct)
	return nil
}
