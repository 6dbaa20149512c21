package staking

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"gridmarket/native/bank"
)

// VaultAddress holds every bonded unit on behalf of the ledger.
var VaultAddress = bank.ModuleAddress("staking")

// Account is a per-account escrow balance. Amount always equals Active plus
// Locked. Accounts are created on first bond and never removed.
type Account struct {
	Amount *big.Int
	Active *big.Int
	Locked *big.Int
}

func newAccount() *Account {
	return &Account{Amount: big.NewInt(0), Active: big.NewInt(0), Locked: big.NewInt(0)}
}

// Clone returns a deep copy.
func (a *Account) Clone() *Account {
	if a == nil {
		return nil
	}
	return &Account{
		Amount: new(big.Int).Set(a.Amount),
		Active: new(big.Int).Set(a.Active),
		Locked: new(big.Int).Set(a.Locked),
	}
}

func (a *Account) normalise() {
	if a.Amount == nil {
		a.Amount = big.NewInt(0)
	}
	if a.Active == nil {
		a.Active = big.NewInt(0)
	}
	if a.Locked == nil {
		a.Locked = big.NewInt(0)
	}
}

// Balanced reports whether the account satisfies Amount == Active + Locked.
func (a *Account) Balanced() bool {
	if a == nil {
		return false
	}
	return new(big.Int).Add(a.Active, a.Locked).Cmp(a.Amount) == 0
}

var accountPrefix = []byte("staking/account/")

func accountKey(addr common.Address) []byte {
	key := make([]byte, len(accountPrefix)+common.AddressLength)
	copy(key, accountPrefix)
	copy(key[len(accountPrefix):], addr[:])
	return key
}
