package bank

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	coreerrors "gridmarket/core/errors"
)

type bankState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
}

var (
	balancePrefix = []byte("bank/balance/")
	supplyKey     = []byte("bank/supply")
)

func balanceKey(addr common.Address) []byte {
	key := make([]byte, len(balancePrefix)+common.AddressLength)
	copy(key, balancePrefix)
	copy(key[len(balancePrefix):], addr[:])
	return key
}

// ModuleAddress derives the account that holds funds on behalf of a module.
// Module accounts have no key and are exempt from the existential minimum.
func ModuleAddress(name string) common.Address {
	return common.BytesToAddress(crypto.Keccak256([]byte("gridmarket/module/" + name))[12:])
}

// Bank is the currency primitive used by the market: a balance table with an
// existential minimum. Accounts holding less than the minimum are not allowed
// to exist, except module accounts.
type Bank struct {
	state   bankState
	minimum *big.Int
	modules map[common.Address]struct{}
}

// NewBank binds a bank to state. A nil minimum means no existential minimum.
func NewBank(state bankState, minimum *big.Int) *Bank {
	min := big.NewInt(0)
	if minimum != nil && minimum.Sign() > 0 {
		min = new(big.Int).Set(minimum)
	}
	return &Bank{state: state, minimum: min, modules: make(map[common.Address]struct{})}
}

// RegisterModuleAccount exempts addr from the existential minimum.
func (b *Bank) RegisterModuleAccount(addr common.Address) {
	b.modules[addr] = struct{}{}
}

func (b *Bank) isModule(addr common.Address) bool {
	_, ok := b.modules[addr]
	return ok
}

// MinimumBalance returns the existential minimum.
func (b *Bank) MinimumBalance() *big.Int {
	return new(big.Int).Set(b.minimum)
}

// FreeBalance returns the spendable balance of addr.
func (b *Bank) FreeBalance(addr common.Address) (*big.Int, error) {
	balance := new(big.Int)
	if _, err := b.state.KVGet(balanceKey(addr), balance); err != nil {
		return nil, fmt.Errorf("bank: load balance: %w", err)
	}
	return balance, nil
}

func (b *Bank) putBalance(addr common.Address, balance *big.Int) error {
	if balance.Sign() == 0 {
		return b.state.KVDelete(balanceKey(addr))
	}
	return b.state.KVPut(balanceKey(addr), balance)
}

// Transfer moves amount from one account to another. It fails when the
// sender cannot cover the amount, when the sender would be left with a
// non-zero balance below the minimum, or when the recipient would be created
// below it. A zero amount is a no-op.
func (b *Bank) Transfer(from, to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() < 0 {
		return fmt.Errorf("bank: transfer: %w", coreerrors.ErrInvalidAmount)
	}
	if amount.Sign() == 0 || from == to {
		return nil
	}
	fromBal, err := b.FreeBalance(from)
	if err != nil {
		return err
	}
	if fromBal.Cmp(amount) < 0 {
		return fmt.Errorf("bank: transfer %s from %s: %w", amount, from.Hex(), coreerrors.ErrInsufficientBalance)
	}
	remaining := new(big.Int).Sub(fromBal, amount)
	if !b.isModule(from) && remaining.Sign() > 0 && remaining.Cmp(b.minimum) < 0 {
		return fmt.Errorf("bank: sender %s left with dust: %w", from.Hex(), coreerrors.ErrExistentialDeposit)
	}
	toBal, err := b.FreeBalance(to)
	if err != nil {
		return err
	}
	credited := new(big.Int).Add(toBal, amount)
	if !b.isModule(to) && credited.Cmp(b.minimum) < 0 {
		return fmt.Errorf("bank: recipient %s below minimum: %w", to.Hex(), coreerrors.ErrExistentialDeposit)
	}
	if err := b.putBalance(from, remaining); err != nil {
		return err
	}
	return b.putBalance(to, credited)
}

// Mint credits new funds to addr and grows the total supply.
func (b *Bank) Mint(to common.Address, amount *big.Int) error {
	if amount == nil || amount.Sign() <= 0 {
		return fmt.Errorf("bank: mint: %w", coreerrors.ErrInvalidAmount)
	}
	balance, err := b.FreeBalance(to)
	if err != nil {
		return err
	}
	credited := new(big.Int).Add(balance, amount)
	if !b.isModule(to) && credited.Cmp(b.minimum) < 0 {
		return fmt.Errorf("bank: mint to %s below minimum: %w", to.Hex(), coreerrors.ErrExistentialDeposit)
	}
	supply, err := b.TotalSupply()
	if err != nil {
		return err
	}
	if err := b.putBalance(to, credited); err != nil {
		return err
	}
	return b.state.KVPut(supplyKey, supply.Add(supply, amount))
}

// TotalSupply returns the sum of all minted funds.
func (b *Bank) TotalSupply() (*big.Int, error) {
	supply := new(big.Int)
	if _, err := b.state.KVGet(supplyKey, supply); err != nil {
		return nil, fmt.Errorf("bank: load supply: %w", err)
	}
	return supply, nil
}
