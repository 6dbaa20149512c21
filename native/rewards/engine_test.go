package rewards

import (
	"bytes"
	"fmt"
	"math/big"
	"sort"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	coreerrors "gridmarket/core/errors"
	"gridmarket/core/state"
	"gridmarket/native/bank"
	"gridmarket/native/registry"
	"gridmarket/native/rental"
	"gridmarket/storage"
)

type fixture struct {
	mgr    *state.Manager
	bank   *bank.Bank
	engine *Engine
}

func newFixture(t *testing.T, forBlock int) *fixture {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	return newFixtureOn(t, db, forBlock)
}

func newFixtureOn(t *testing.T, db storage.Database, forBlock int) *fixture {
	t.Helper()
	mgr := state.NewManager(db)
	b := bank.NewBank(mgr, big.NewInt(1))
	b.RegisterModuleAccount(PotAddress)
	params := DefaultParams()
	params.ForBlock = forBlock
	return &fixture{mgr: mgr, bank: b, engine: NewEngine(mgr, b, params)}
}

func addr(i int) common.Address {
	return common.BigToAddress(big.NewInt(int64(i + 1)))
}

func (f *fixture) income(t *testing.T, v Variant, account common.Address) *big.Int {
	t.Helper()
	income, _, err := f.engine.Income(v, account)
	require.NoError(t, err)
	return income.TotalIncome
}

func TestGatewayTaskSpansThreeTicks(t *testing.T) {
	f := newFixture(t, 500)
	dataset := make([]Entry, 1200)
	for i := range dataset {
		dataset[i] = Entry{Account: addr(i), Weight: 1}
	}
	_, err := f.engine.Enqueue(VariantGateway, big.NewInt(1_200_000), dataset)
	require.NoError(t, err)

	wantCursor := []uint64{500, 1000}
	for tick := 0; tick < 2; tick++ {
		res, err := f.engine.Step()
		require.NoError(t, err)
		require.Equal(t, uint64(500), res.Processed)
		require.False(t, res.Drained)
		queue, err := f.engine.Queue()
		require.NoError(t, err)
		require.True(t, queue.Active(), "queue drained early at tick %d", tick)
		require.Equal(t, wantCursor[tick], queue.ItemIndex)
		require.Zero(t, queue.TaskIndex)
	}
	require.Zero(t, f.income(t, VariantGateway, addr(1100)).Sign())

	res, err := f.engine.Step()
	require.NoError(t, err)
	require.Equal(t, uint64(200), res.Processed)
	require.True(t, res.TaskDone)
	require.True(t, res.Drained)

	queue, err := f.engine.Queue()
	require.NoError(t, err)
	require.Equal(t, Queue{}, queue)
	for _, i := range []int{0, 499, 500, 1199} {
		require.Equal(t, big.NewInt(1_000), f.income(t, VariantGateway, addr(i)))
	}

	res, err = f.engine.Step()
	require.NoError(t, err)
	require.False(t, res.Active)
}

func TestProviderShares(t *testing.T) {
	f := newFixture(t, 500)
	a, b := addr(0), addr(1)
	_, err := f.engine.Enqueue(VariantProvider, big.NewInt(1_000), []Entry{
		{Account: a, Weight: 2},
		{Account: b, Weight: 8},
	})
	require.NoError(t, err)
	_, err = f.engine.Step()
	require.NoError(t, err)
	require.Equal(t, big.NewInt(320), f.income(t, VariantProvider, a))
	require.Equal(t, big.NewInt(680), f.income(t, VariantProvider, b))
}

func TestClientSharesTruncate(t *testing.T) {
	f := newFixture(t, 500)
	tenant := addr(0)
	_, err := f.engine.Enqueue(VariantClient, big.NewInt(100), []Entry{
		{Account: tenant}, {Account: addr(1)}, {Account: tenant},
	})
	require.NoError(t, err)
	res, err := f.engine.Step()
	require.NoError(t, err)
	require.Equal(t, big.NewInt(99), res.Credited)
	// One share per agreement, so a tenant with two agreements gets two.
	require.Equal(t, big.NewInt(66), f.income(t, VariantClient, tenant))
}

func TestQueueAdvancesAcrossTasks(t *testing.T) {
	f := newFixture(t, 2)
	first, err := f.engine.Enqueue(VariantClient, big.NewInt(30), []Entry{{Account: addr(0)}, {Account: addr(1)}, {Account: addr(2)}})
	require.NoError(t, err)
	second, err := f.engine.Enqueue(VariantClient, big.NewInt(10), []Entry{{Account: addr(3)}})
	require.NoError(t, err)

	res, err := f.engine.Step()
	require.NoError(t, err)
	require.Equal(t, first.ID, res.TaskID)
	require.Equal(t, uint64(2), res.Processed)

	res, err = f.engine.Step()
	require.NoError(t, err)
	require.Equal(t, uint64(1), res.Processed)
	require.True(t, res.TaskDone)
	require.False(t, res.Drained)
	queue, err := f.engine.Queue()
	require.NoError(t, err)
	require.Equal(t, uint64(1), queue.TaskIndex)
	require.Zero(t, queue.ItemIndex)
	_, err = f.engine.Task(first.ID)
	require.Error(t, err)

	res, err = f.engine.Step()
	require.NoError(t, err)
	require.Equal(t, second.ID, res.TaskID)
	require.True(t, res.Drained)
	require.Equal(t, big.NewInt(10), f.income(t, VariantClient, addr(3)))
}

func TestCursorSurvivesRestart(t *testing.T) {
	f := newFixture(t, 2)
	dataset := []Entry{{Account: addr(0), Weight: 1}, {Account: addr(1), Weight: 1}, {Account: addr(2), Weight: 1}}
	_, err := f.engine.Enqueue(VariantGateway, big.NewInt(300), dataset)
	require.NoError(t, err)
	_, err = f.engine.Step()
	require.NoError(t, err)

	restarted := NewEngine(f.mgr, f.bank, f.engine.Params())
	res, err := restarted.Step()
	require.NoError(t, err)
	require.Equal(t, uint64(1), res.Processed)
	require.True(t, res.Drained)
	for i := range dataset {
		require.Equal(t, big.NewInt(100), f.income(t, VariantGateway, addr(i)))
	}
}

func TestEnqueueValidation(t *testing.T) {
	f := newFixture(t, 500)
	f.engine.params.MaxDatasetLength = 2
	one := []Entry{{Account: addr(0), Weight: 1}}
	tests := []struct {
		name    string
		variant Variant
		payout  *big.Int
		dataset []Entry
		err     error
	}{
		{name: "unknown variant", variant: Variant(9), payout: big.NewInt(1), dataset: one, err: coreerrors.ErrUnknownVariant},
		{name: "zero payout", variant: VariantGateway, payout: big.NewInt(0), dataset: one, err: coreerrors.ErrInvalidAmount},
		{name: "empty dataset", variant: VariantGateway, payout: big.NewInt(1), err: coreerrors.ErrIllegalRequest},
		{name: "zero weight", variant: VariantGateway, payout: big.NewInt(1), dataset: []Entry{{Account: addr(0)}}, err: coreerrors.ErrIllegalRequest},
		{name: "missing account", variant: VariantClient, payout: big.NewInt(1), dataset: []Entry{{Weight: 1}}, err: coreerrors.ErrIllegalRequest},
		{name: "too long", variant: VariantClient, payout: big.NewInt(1), dataset: make3(), err: coreerrors.ErrCapacityExceeded},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.engine.Enqueue(tc.variant, tc.payout, tc.dataset)
			require.ErrorIs(t, err, tc.err)
		})
	}
}

func make3() []Entry {
	return []Entry{{Account: addr(0)}, {Account: addr(1)}, {Account: addr(2)}}
}

func TestPayoutQueue(t *testing.T) {
	f := newFixture(t, 500)
	require.NoError(t, f.bank.Mint(PotAddress, big.NewInt(1_000)))
	_, err := f.engine.Enqueue(VariantGateway, big.NewInt(600), []Entry{{Account: addr(0), Weight: 1}, {Account: addr(1), Weight: 2}})
	require.NoError(t, err)
	_, err = f.engine.Step()
	require.NoError(t, err)

	outcomes, err := f.engine.PayoutQueue()
	require.NoError(t, err)
	require.Len(t, outcomes, 2)
	for _, o := range outcomes {
		require.NoError(t, o.Err)
	}
	bal, err := f.bank.FreeBalance(addr(1))
	require.NoError(t, err)
	require.Equal(t, big.NewInt(400), bal)
	require.Zero(t, f.income(t, VariantGateway, addr(1)).Sign())
	_, ok, err := f.engine.Income(VariantGateway, addr(1))
	require.NoError(t, err)
	require.True(t, ok, "income records persist at zero")

	pending, err := f.engine.PendingAccounts(VariantGateway)
	require.NoError(t, err)
	require.Empty(t, pending)
}

func TestPayoutQueueKeepsUnpaidIncome(t *testing.T) {
	f := newFixture(t, 500)
	require.NoError(t, f.bank.Mint(PotAddress, big.NewInt(150)))
	_, err := f.engine.Enqueue(VariantClient, big.NewInt(200), []Entry{{Account: addr(0)}, {Account: addr(1)}})
	require.NoError(t, err)
	_, err = f.engine.Step()
	require.NoError(t, err)

	outcomes, err := f.engine.PayoutQueue()
	require.NoError(t, err)
	require.Len(t, outcomes, 2)
	require.NoError(t, outcomes[0].Err)
	require.ErrorIs(t, outcomes[1].Err, coreerrors.ErrInsufficientBalance)
	require.Equal(t, big.NewInt(100), f.income(t, VariantClient, outcomes[1].Account))
	pending, err := f.engine.PendingAccounts(VariantClient)
	require.NoError(t, err)
	require.Equal(t, []common.Address{outcomes[1].Account}, pending)
}

func TestWithdrawIncome(t *testing.T) {
	f := newFixture(t, 500)
	require.NoError(t, f.bank.Mint(PotAddress, big.NewInt(1_000)))
	account := addr(0)
	_, err := f.engine.WithdrawIncome(account)
	require.ErrorIs(t, err, coreerrors.ErrNothingToWithdraw)

	_, err = f.engine.Enqueue(VariantClient, big.NewInt(50), []Entry{{Account: account}})
	require.NoError(t, err)
	_, err = f.engine.Enqueue(VariantGateway, big.NewInt(70), []Entry{{Account: account, Weight: 3}})
	require.NoError(t, err)
	for i := 0; i < 2; i++ {
		_, err = f.engine.Step()
		require.NoError(t, err)
	}
	paid, err := f.engine.WithdrawIncome(account)
	require.NoError(t, err)
	require.Equal(t, big.NewInt(120), paid)
}

func TestParseVariant(t *testing.T) {
	for _, v := range Variants {
		parsed, err := ParseVariant(v.String())
		require.NoError(t, err)
		require.Equal(t, v, parsed)
	}
	_, err := ParseVariant("miner")
	require.ErrorIs(t, err, coreerrors.ErrUnknownVariant)
}

type fakeProviders map[common.Address]uint64

func (f fakeProviders) ProvidersPage(start []byte, limit int) ([]common.Address, error) {
	owners := make([]common.Address, 0, len(f))
	for owner := range f {
		if bytes.Compare(owner[:], start) >= 0 {
			owners = append(owners, owner)
		}
	}
	sort.Slice(owners, func(i, j int) bool { return bytes.Compare(owners[i][:], owners[j][:]) < 0 })
	if limit > 0 && len(owners) > limit {
		owners = owners[:limit]
	}
	return owners, nil
}

func (f fakeProviders) ProviderPoints(owner common.Address) (registry.ProviderPoints, error) {
	return registry.ProviderPoints{Points: f[owner], Resources: 1}, nil
}

type fakeAgreements map[uint64]*rental.Agreement

func (f fakeAgreements) LiveAgreementsFrom(start uint64, limit int) ([]uint64, error) {
	var out []uint64
	for index := range f {
		if index >= start {
			out = append(out, index)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (f fakeAgreements) Agreement(index uint64) (*rental.Agreement, error) {
	a, ok := f[index]
	if !ok {
		return nil, fmt.Errorf("agreement %d missing", index)
	}
	return a, nil
}

// drain reads src to the end, two entries per page.
func drain(t *testing.T, src Source) []Entry {
	t.Helper()
	var (
		all    []Entry
		cursor []byte
	)
	for pages := 0; pages < 100; pages++ {
		entries, next, done, err := src.Page(cursor, 2)
		require.NoError(t, err)
		all = append(all, entries...)
		if done {
			return all
		}
		cursor = next
	}
	t.Fatal("source never finished")
	return nil
}

func TestSnapshotSources(t *testing.T) {
	providers := drain(t, ProviderSource(fakeProviders{addr(0): 4, addr(1): 0, addr(2): 9, addr(3): 1}))
	require.Equal(t, []Entry{{Account: addr(0), Weight: 4}, {Account: addr(2), Weight: 9}, {Account: addr(3), Weight: 1}}, providers)

	clients := drain(t, ClientSource(fakeAgreements{
		1: {Tenant: addr(5), Status: rental.AgreementUsing},
		2: {Tenant: addr(6), Status: rental.AgreementPunished},
		3: {Tenant: addr(5), Status: rental.AgreementUsing},
	}))
	require.Equal(t, []Entry{{Account: addr(5), Weight: 1}, {Account: addr(5), Weight: 1}}, clients)
}

func TestEnqueueRejectsRepeatedProvider(t *testing.T) {
	f := newFixture(t, 500)
	_, err := f.engine.Enqueue(VariantProvider, big.NewInt(1_000), []Entry{
		{Account: addr(0), Weight: 1},
		{Account: addr(1), Weight: 1},
		{Account: addr(0), Weight: 1},
	})
	require.ErrorIs(t, err, coreerrors.ErrIllegalRequest)

	task, err := f.engine.Enqueue(VariantProvider, big.NewInt(1_000), []Entry{
		{Account: addr(0), Weight: 1},
		{Account: addr(1), Weight: 3},
	})
	require.NoError(t, err)
	require.Equal(t, uint64(2), task.ShareCount)
}

func TestEpochSnapshotSplitsIntoParts(t *testing.T) {
	f := newFixture(t, 2)
	f.engine.params.MaxDatasetLength = 3
	providers := fakeProviders{}
	for i := 0; i < 7; i++ {
		providers[addr(i)] = uint64(i + 1)
	}
	src := ProviderSource(providers)

	started, err := f.engine.BeginEpoch(VariantProvider, big.NewInt(2_800))
	require.NoError(t, err)
	require.True(t, started)
	started, err = f.engine.BeginEpoch(VariantProvider, big.NewInt(1))
	require.NoError(t, err)
	require.False(t, started, "a second snapshot must wait for the first")

	var queued []uint64
	for tick := 0; tick < 4; tick++ {
		res, err := f.engine.CollectEpoch(VariantProvider, src)
		require.NoError(t, err)
		require.True(t, res.Collecting)
		require.LessOrEqual(t, res.Collected, 2)
		if tick < 3 {
			require.Empty(t, res.Queued)
			queue, err := f.engine.Queue()
			require.NoError(t, err)
			require.False(t, queue.Active(), "parts wait for the totals")
		}
		queued = res.Queued
	}
	require.Len(t, queued, 3)
	_, open, err := f.engine.Building(VariantProvider)
	require.NoError(t, err)
	require.False(t, open)

	lengths := []uint64{3, 3, 1}
	for i, id := range queued {
		task, err := f.engine.Task(id)
		require.NoError(t, err)
		require.Equal(t, lengths[i], task.Length)
		require.Equal(t, uint64(7), task.ShareCount)
		require.Equal(t, big.NewInt(28), task.TotalWeight)
		require.Equal(t, uint64(i+1), task.Part)
		require.Equal(t, uint64(3), task.Parts)
	}

	for step := 0; step < 10; step++ {
		res, err := f.engine.Step()
		require.NoError(t, err)
		if res.Drained {
			break
		}
	}
	// 60% by points (1680 * w / 28) plus 40% equally over 7 providers (160).
	for i := 0; i < 7; i++ {
		want := big.NewInt(int64(60*(i+1) + 160))
		require.Equal(t, want, f.income(t, VariantProvider, addr(i)), "provider %d", i)
	}
}

// countingDB tallies the keys and bytes written through it.
type countingDB struct {
	storage.Database
	ops   int
	bytes int
}

func (c *countingDB) Put(key, value []byte) error {
	c.ops++
	c.bytes += len(key) + len(value)
	return c.Database.Put(key, value)
}

func (c *countingDB) Delete(key []byte) error {
	c.ops++
	c.bytes += len(key)
	return c.Database.Delete(key)
}

func (c *countingDB) Write(batch *storage.Batch) error {
	for _, op := range batch.Ops() {
		c.ops++
		c.bytes += len(op.Key) + len(op.Value)
	}
	return c.Database.Write(batch)
}

func TestStepWritesStayFlatAsIncomeAccrues(t *testing.T) {
	db := &countingDB{Database: storage.NewMemDB()}
	f := newFixtureOn(t, db, 100)
	dataset := make([]Entry, 2_000)
	for i := range dataset {
		dataset[i] = Entry{Account: addr(i), Weight: 1}
	}
	_, err := f.engine.Enqueue(VariantGateway, big.NewInt(2_000_000), dataset)
	require.NoError(t, err)

	var ops, written []int
	for step := 0; step < 19; step++ {
		db.ops, db.bytes = 0, 0
		res, err := f.engine.Step()
		require.NoError(t, err)
		require.Equal(t, uint64(100), res.Processed)
		ops = append(ops, db.ops)
		written = append(written, db.bytes)
	}
	pending, err := f.engine.PendingAccounts(VariantGateway)
	require.NoError(t, err)
	require.Len(t, pending, 1_900)
	for step := range ops {
		require.Equal(t, ops[0], ops[step], "step %d", step)
		// Only the task and queue counters grow, by a byte or two.
		require.InDelta(t, written[0], written[step], 16, "step %d", step)
	}
}
