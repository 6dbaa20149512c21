package staking

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	coreerrors "gridmarket/core/errors"
	"gridmarket/core/events"
	"gridmarket/core/state"
	"gridmarket/native/bank"
	"gridmarket/storage"
)

type fixture struct {
	ledger *Ledger
	bank   *bank.Bank
	events *events.Buffer
	sink   common.Address
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	mgr := state.NewManager(db)
	b := bank.NewBank(mgr, big.NewInt(1))
	sink := bank.ModuleAddress("pot")
	b.RegisterModuleAccount(VaultAddress)
	b.RegisterModuleAccount(sink)
	ledger := NewLedger(mgr, b)
	buf := &events.Buffer{}
	ledger.SetEmitter(buf)
	ledger.SetPenaltySink(sink)
	return &fixture{ledger: ledger, bank: b, events: buf, sink: sink}
}

func (f *fixture) fund(t *testing.T, addr common.Address, amount *big.Int) {
	t.Helper()
	require.NoError(t, f.bank.Mint(addr, amount))
}

func (f *fixture) account(t *testing.T, addr common.Address) *Account {
	t.Helper()
	acct, ok, err := f.ledger.Account(addr)
	require.NoError(t, err)
	require.True(t, ok)
	require.True(t, acct.Balanced(), "amount must equal active+locked")
	return acct
}

func amt(v int64) *big.Int { return big.NewInt(v) }

func TestLockRequiresActiveStake(t *testing.T) {
	f := newFixture(t)
	alice := common.HexToAddress("0xa1")
	f.fund(t, alice, new(big.Int).SetUint64(20_000_000_000_000))

	require.NoError(t, f.ledger.Bond(alice, amt(100)))
	err := f.ledger.Lock(alice, amt(10_000_000))
	require.ErrorIs(t, err, coreerrors.ErrInsufficientActive)
	require.Equal(t, amt(100), f.account(t, alice).Active)

	require.NoError(t, f.ledger.Bond(alice, amt(10_000_000_000_000-100)))
	before := f.account(t, alice)
	require.Equal(t, amt(10_000_000_000_000), before.Amount)

	require.NoError(t, f.ledger.Lock(alice, amt(10_000_000)))
	after := f.account(t, alice)
	require.Equal(t, new(big.Int).Sub(before.Active, amt(10_000_000)), after.Active)
	require.Equal(t, amt(10_000_000), after.Locked)

	vault, err := f.bank.FreeBalance(VaultAddress)
	require.NoError(t, err)
	require.Equal(t, amt(10_000_000_000_000), vault)
}

func TestUnlockAndRelease(t *testing.T) {
	f := newFixture(t)
	alice := common.HexToAddress("0xa1")
	f.fund(t, alice, amt(1_000))
	require.NoError(t, f.ledger.Bond(alice, amt(500)))
	require.NoError(t, f.ledger.Lock(alice, amt(300)))

	require.ErrorIs(t, f.ledger.Unlock(alice, amt(301)), coreerrors.ErrInsufficientLocked)
	require.NoError(t, f.ledger.Unlock(alice, amt(100)))
	require.Equal(t, amt(200), f.account(t, alice).Locked)

	released, err := f.ledger.Release(alice, amt(250))
	require.NoError(t, err)
	require.Equal(t, amt(200), released)
	acct := f.account(t, alice)
	require.Zero(t, acct.Locked.Sign())
	require.Equal(t, amt(500), acct.Active)
}

func TestPenaltyClearsLockAndSeizesStake(t *testing.T) {
	f := newFixture(t)
	alice := common.HexToAddress("0xa1")
	f.fund(t, alice, amt(1_000))
	require.NoError(t, f.ledger.Bond(alice, amt(500)))
	require.NoError(t, f.ledger.Lock(alice, amt(100)))

	require.NoError(t, f.ledger.Penalty(alice, amt(150)))
	acct := f.account(t, alice)
	require.Equal(t, amt(350), acct.Amount)
	require.Equal(t, amt(350), acct.Active)
	require.Zero(t, acct.Locked.Sign())

	pot, err := f.bank.FreeBalance(f.sink)
	require.NoError(t, err)
	require.Equal(t, amt(150), pot)

	require.ErrorIs(t, f.ledger.Penalty(alice, amt(351)), coreerrors.ErrInsufficientStake)
	require.Equal(t, amt(350), f.account(t, alice).Amount)
}

func TestWithdraw(t *testing.T) {
	f := newFixture(t)
	alice := common.HexToAddress("0xa1")
	f.fund(t, alice, amt(1_000))
	require.NoError(t, f.ledger.Bond(alice, amt(500)))
	require.NoError(t, f.ledger.Lock(alice, amt(400)))

	require.ErrorIs(t, f.ledger.Withdraw(alice, amt(101)), coreerrors.ErrInsufficientActive)
	require.NoError(t, f.ledger.Withdraw(alice, amt(100)))
	acct := f.account(t, alice)
	require.Equal(t, amt(400), acct.Amount)
	require.Zero(t, acct.Active.Sign())

	free, err := f.bank.FreeBalance(alice)
	require.NoError(t, err)
	require.Equal(t, amt(600), free)
}

func TestMissingAccount(t *testing.T) {
	f := newFixture(t)
	ghost := common.HexToAddress("0xdead")
	require.ErrorIs(t, f.ledger.Lock(ghost, amt(1)), coreerrors.ErrStakingAccountNotFound)
	require.ErrorIs(t, f.ledger.Penalty(ghost, amt(1)), coreerrors.ErrStakingAccountNotFound)
	require.ErrorIs(t, f.ledger.Withdraw(ghost, amt(1)), coreerrors.ErrStakingAccountNotFound)
	require.ErrorIs(t, f.ledger.Bond(ghost, amt(0)), coreerrors.ErrInvalidAmount)
}

func TestLedgerEmitsEvents(t *testing.T) {
	f := newFixture(t)
	alice := common.HexToAddress("0xa1")
	f.fund(t, alice, amt(1_000))
	require.NoError(t, f.ledger.Bond(alice, amt(500)))
	require.NoError(t, f.ledger.Lock(alice, amt(100)))

	evts := f.events.Events()
	require.Len(t, evts, 2)
	require.Equal(t, events.TypeStakeBonded, evts[0].EventType())
	locked := events.Flatten(evts[1])
	require.Equal(t, events.TypeStakeLocked, locked.Type)
	require.Equal(t, "100", locked.Attributes["locked"])
	require.Equal(t, "400", locked.Attributes["active"])
}
