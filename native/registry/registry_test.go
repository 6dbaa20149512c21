package registry

import (
	"bytes"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	coreerrors "gridmarket/core/errors"
	"gridmarket/core/events"
	"gridmarket/core/state"
	"gridmarket/native/bank"
	"gridmarket/native/staking"
	"gridmarket/storage"
)

var stakeBase = big.NewInt(1_000)

type fixture struct {
	mgr      *state.Manager
	bank     *bank.Bank
	ledger   *staking.Ledger
	registry *Registry
	events   *events.Buffer
	tick     uint64
}

func newFixture(t *testing.T, mutate ...func(*Params)) *fixture {
	t.Helper()
	db := storage.NewMemDB()
	t.Cleanup(db.Close)
	return newFixtureOn(t, db, mutate...)
}

func newFixtureOn(t *testing.T, db storage.Database, mutate ...func(*Params)) *fixture {
	t.Helper()
	mgr := state.NewManager(db)
	b := bank.NewBank(mgr, big.NewInt(1))
	b.RegisterModuleAccount(staking.VaultAddress)
	ledger := staking.NewLedger(mgr, b)
	params := DefaultParams()
	params.ResourceStakeBase = stakeBase
	for _, fn := range mutate {
		fn(&params)
	}
	f := &fixture{mgr: mgr, bank: b, ledger: ledger, events: &events.Buffer{}}
	f.registry = NewRegistry(mgr, ledger, params)
	f.registry.SetEmitter(f.events)
	f.registry.SetTickFunc(func() uint64 { return f.tick })
	mgr.AttachJournal(f.events)
	return f
}

func (f *fixture) provider(t *testing.T, addr common.Address, stake int64) common.Address {
	t.Helper()
	require.NoError(t, f.bank.Mint(addr, big.NewInt(stake+1)))
	require.NoError(t, f.ledger.Bond(addr, big.NewInt(stake)))
	return addr
}

func (f *fixture) stake(t *testing.T, addr common.Address) *staking.Account {
	t.Helper()
	acct, ok, err := f.ledger.Account(addr)
	require.NoError(t, err)
	require.True(t, ok)
	return acct
}

func request(peer string, cpu, mem uint64, price int64, duration uint64) RegisterRequest {
	return RegisterRequest{
		PeerID:    peer,
		Config:    Config{CPU: cpu, Memory: mem, System: "linux", CPUModel: "epyc"},
		UnitPrice: big.NewInt(price),
		Duration:  duration,
	}
}

func TestRegisterLocksCollateral(t *testing.T) {
	f := newFixture(t)
	owner := f.provider(t, common.HexToAddress("0xa1"), 1_000_000)
	f.tick = 10

	res, err := f.registry.Register(owner, request("peer-1", 1, 1, 5, 100))
	require.NoError(t, err)
	require.Equal(t, uint64(1), res.Index)
	require.Equal(t, new(big.Int).Mul(big.NewInt(2), stakeBase), res.Collateral)
	require.Equal(t, uint64(110), res.Rental.EndTick)
	require.Equal(t, StatusUnused, res.Status)
	require.Equal(t, res.Collateral, f.stake(t, owner).Locked)

	bucket, err := f.registry.ExpiryBucket(110)
	require.NoError(t, err)
	require.Equal(t, []uint64{1}, bucket)

	pts, err := f.registry.ProviderPoints(owner)
	require.NoError(t, err)
	require.Equal(t, ProviderPoints{Points: 2, CPU: 1, Memory: 1, Resources: 1}, pts)
	providers, err := f.registry.Providers()
	require.NoError(t, err)
	require.Equal(t, []common.Address{owner}, providers)
}

func TestRegisterValidation(t *testing.T) {
	f := newFixture(t)
	owner := f.provider(t, common.HexToAddress("0xa1"), 1_000_000)
	_, err := f.registry.Register(owner, request("taken", 1, 1, 5, 10))
	require.NoError(t, err)

	tests := []struct {
		name string
		req  RegisterRequest
	}{
		{name: "cpu zero", req: request("p", 0, 1, 5, 10)},
		{name: "cpu too large", req: request("p", 65, 1, 5, 10)},
		{name: "memory zero", req: request("p", 1, 0, 5, 10)},
		{name: "memory too large", req: request("p", 1, 257, 5, 10)},
		{name: "empty peer", req: request("", 1, 1, 5, 10)},
		{name: "duplicate peer", req: request("taken", 1, 1, 5, 10)},
		{name: "zero duration", req: request("p", 1, 1, 5, 0)},
		{name: "zero price", req: request("p", 1, 1, 0, 10)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.registry.Register(owner, tc.req)
			require.ErrorIs(t, err, coreerrors.ErrIllegalRequest)
		})
	}

	// Upper bounds are inclusive.
	_, err = f.registry.Register(owner, request("max", 64, 256, 5, 10))
	require.NoError(t, err)
}

func TestRegisterInsufficientStake(t *testing.T) {
	f := newFixture(t)
	owner := f.provider(t, common.HexToAddress("0xa1"), 1_500)
	_, err := f.registry.Register(owner, request("p", 1, 1, 5, 10))
	require.ErrorIs(t, err, coreerrors.ErrInsufficientActive)
}

func TestExpiryBucketCapacity(t *testing.T) {
	f := newFixture(t, func(p *Params) { p.ExpiryBucketCap = 2 })
	owner := f.provider(t, common.HexToAddress("0xa1"), 1_000_000)
	for _, peer := range []string{"a", "b"} {
		_, err := f.registry.Register(owner, request(peer, 1, 1, 5, 10))
		require.NoError(t, err)
	}
	lockedBefore := f.stake(t, owner).Locked

	err := f.mgr.Atomic(func() error {
		_, err := f.registry.Register(owner, request("c", 1, 1, 5, 10))
		return err
	})
	require.ErrorIs(t, err, coreerrors.ErrCapacityExceeded)
	require.Equal(t, lockedBefore, f.stake(t, owner).Locked)

	// A different expiry tick still has room.
	_, err = f.registry.Register(owner, request("c", 1, 1, 5, 11))
	require.NoError(t, err)
}

func TestRegisterOfflineRoundTrip(t *testing.T) {
	f := newFixture(t)
	owner := f.provider(t, common.HexToAddress("0xa1"), 1_000_000)
	res, err := f.registry.Register(owner, request("peer-1", 4, 8, 5, 50))
	require.NoError(t, err)

	released, err := f.registry.Offline(owner, res.Index)
	require.NoError(t, err)
	require.Equal(t, res.Collateral, released)

	_, err = f.registry.Resource(res.Index)
	require.ErrorIs(t, err, coreerrors.ErrResourceNotFound)
	require.Zero(t, f.stake(t, owner).Locked.Sign())
	bucket, err := f.registry.ExpiryBucket(res.Rental.EndTick)
	require.NoError(t, err)
	require.Empty(t, bucket)
	owned, err := f.registry.OwnerResources(owner)
	require.NoError(t, err)
	require.Empty(t, owned)
	totals, err := f.registry.Totals()
	require.NoError(t, err)
	require.Equal(t, Totals{}, totals)

	// The peer id can be listed again.
	_, err = f.registry.Register(owner, request("peer-1", 1, 1, 5, 50))
	require.NoError(t, err)
}

func TestOfflineRequiresIdleResource(t *testing.T) {
	f := newFixture(t)
	owner := f.provider(t, common.HexToAddress("0xa1"), 1_000_000)
	res, err := f.registry.Register(owner, request("peer-1", 1, 1, 5, 50))
	require.NoError(t, err)

	_, err = f.registry.Offline(common.HexToAddress("0xb2"), res.Index)
	require.ErrorIs(t, err, coreerrors.ErrNotOwner)

	require.NoError(t, f.registry.SetStatus(res.Index, StatusLocked))
	_, err = f.registry.Offline(owner, res.Index)
	require.ErrorIs(t, err, coreerrors.ErrResourceBusy)

	require.NoError(t, f.registry.SetStatus(res.Index, StatusInuse))
	_, err = f.registry.Offline(owner, res.Index)
	require.ErrorIs(t, err, coreerrors.ErrResourceBusy)

	_, err = f.registry.MarkFault(res.Index)
	require.NoError(t, err)
	_, err = f.registry.Offline(owner, res.Index)
	require.NoError(t, err)
}

func TestOnlineListOrderedByPrice(t *testing.T) {
	f := newFixture(t)
	owner := f.provider(t, common.HexToAddress("0xa1"), 1_000_000)
	prices := []int64{30, 10, 20, 10}
	hints := []uint64{0, 7, 1, 0} // placement ignores right and wrong hints alike
	for i, price := range prices {
		req := request(string(rune('a'+i)), 1, 1, price, 50)
		req.HintIndex = hints[i]
		_, err := f.registry.Register(owner, req)
		require.NoError(t, err)
	}
	require.Equal(t, []uint64{2, 4, 3, 1}, onlineIndexes(t, f, 0))
	require.Equal(t, []uint64{2, 4}, onlineIndexes(t, f, 2))

	_, err := f.registry.ModifyPrice(owner, 1, big.NewInt(1))
	require.NoError(t, err)
	require.Equal(t, []uint64{1, 2, 4, 3}, onlineIndexes(t, f, 0))

	_, err = f.registry.MarkFault(2)
	require.NoError(t, err)
	require.Equal(t, []uint64{1, 4, 3}, onlineIndexes(t, f, 0))
}

func onlineIndexes(t *testing.T, f *fixture, limit int) []uint64 {
	t.Helper()
	list, err := f.registry.OnlineResources(limit)
	require.NoError(t, err)
	out := make([]uint64, 0, len(list))
	for _, res := range list {
		out = append(out, res.Index)
	}
	return out
}

func TestOnlineKeyOrdersByPrice(t *testing.T) {
	small := onlineKey(big.NewInt(255), 9)
	mid := onlineKey(big.NewInt(256), 1)
	huge := onlineKey(new(big.Int).Lsh(big.NewInt(1), 70), 1)
	require.Negative(t, bytes.Compare(small, mid))
	require.Negative(t, bytes.Compare(mid, huge))
	require.Negative(t, bytes.Compare(onlineKey(big.NewInt(5), 1), onlineKey(big.NewInt(5), 2)))

	f := newFixture(t)
	owner := f.provider(t, common.HexToAddress("0xa1"), 1_000_000)
	req := request("peer-1", 1, 1, 1, 50)
	req.UnitPrice = new(big.Int).Lsh(big.NewInt(1), 256)
	_, err := f.registry.Register(owner, req)
	require.ErrorIs(t, err, coreerrors.ErrIllegalRequest)
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

func (c *countingDB) reset() { c.ops, c.bytes = 0, 0 }

func TestSweepCostIndependentOfCatalog(t *testing.T) {
	const bucket = 40
	sweep := func(t *testing.T, others int) (int, int) {
		db := &countingDB{Database: storage.NewMemDB()}
		f := newFixtureOn(t, db)
		for i := 0; i < bucket; i++ {
			owner := f.provider(t, common.BigToAddress(big.NewInt(int64(10_000+i))), 1_000_000)
			_, err := f.registry.Register(owner, request(fmt.Sprintf("swept-%d", i), 1, 1, int64(10+i), 10))
			require.NoError(t, err)
		}
		for i := 0; i < others; i++ {
			owner := f.provider(t, common.BigToAddress(big.NewInt(int64(50_000+i))), 1_000_000)
			_, err := f.registry.Register(owner, request(fmt.Sprintf("kept-%d", i), 1, 1, int64(5+i), uint64(20+i%50)))
			require.NoError(t, err)
		}
		f.tick = 10
		db.reset()
		outcomes, err := f.registry.SweepExpired(10)
		require.NoError(t, err)
		require.Len(t, outcomes, bucket)
		for _, o := range outcomes {
			require.NoError(t, o.Err)
			require.True(t, o.Removed)
		}
		online, err := f.registry.OnlineResources(0)
		require.NoError(t, err)
		require.Len(t, online, others)
		return db.ops, db.bytes
	}

	smallOps, smallBytes := sweep(t, 0)
	largeOps, largeBytes := sweep(t, 600)
	require.Equal(t, smallOps, largeOps)
	// Only the catalog totals record differs, by a few bytes per write.
	require.InDelta(t, smallBytes, largeBytes, float64(bucket*16))
}

func TestExtendDurationMovesBucket(t *testing.T) {
	f := newFixture(t)
	owner := f.provider(t, common.HexToAddress("0xa1"), 1_000_000)
	res, err := f.registry.Register(owner, request("peer-1", 1, 1, 5, 50))
	require.NoError(t, err)

	updated, err := f.registry.ExtendDuration(owner, res.Index, 25)
	require.NoError(t, err)
	require.Equal(t, uint64(75), updated.Rental.EndTick)
	require.Equal(t, uint64(75), updated.Rental.Duration)

	old, err := f.registry.ExpiryBucket(50)
	require.NoError(t, err)
	require.Empty(t, old)
	moved, err := f.registry.ExpiryBucket(75)
	require.NoError(t, err)
	require.Equal(t, []uint64{res.Index}, moved)

	_, err = f.registry.ExtendDuration(common.HexToAddress("0xb2"), res.Index, 1)
	require.ErrorIs(t, err, coreerrors.ErrNotOwner)
}

func TestSweepExpired(t *testing.T) {
	f := newFixture(t)
	owner := f.provider(t, common.HexToAddress("0xa1"), 1_000_000)
	first, err := f.registry.Register(owner, request("a", 1, 1, 5, 20))
	require.NoError(t, err)
	second, err := f.registry.Register(owner, request("b", 2, 2, 5, 20))
	require.NoError(t, err)
	survivor, err := f.registry.Register(owner, request("c", 1, 1, 5, 30))
	require.NoError(t, err)

	outcomes, err := f.registry.SweepExpired(19)
	require.NoError(t, err)
	require.Empty(t, outcomes)

	outcomes, err = f.registry.SweepExpired(20)
	require.NoError(t, err)
	require.Len(t, outcomes, 2)
	for _, o := range outcomes {
		require.NoError(t, o.Err)
		require.True(t, o.Removed)
	}
	require.Equal(t, first.Collateral, outcomes[0].Released)
	require.Equal(t, second.Collateral, outcomes[1].Released)

	bucket, err := f.registry.ExpiryBucket(20)
	require.NoError(t, err)
	require.Empty(t, bucket)
	require.Equal(t, survivor.Collateral, f.stake(t, owner).Locked)
	owned, err := f.registry.OwnerResources(owner)
	require.NoError(t, err)
	require.Equal(t, []uint64{survivor.Index}, owned)

	// Sweeping the drained bucket again changes nothing.
	outcomes, err = f.registry.SweepExpired(20)
	require.NoError(t, err)
	require.Empty(t, outcomes)
}

func TestMarkFaultDropsPoints(t *testing.T) {
	f := newFixture(t)
	owner := f.provider(t, common.HexToAddress("0xa1"), 1_000_000)
	res, err := f.registry.Register(owner, request("a", 2, 6, 5, 20))
	require.NoError(t, err)

	faulted, err := f.registry.MarkFault(res.Index)
	require.NoError(t, err)
	require.Equal(t, StatusOffline, faulted.Status)
	require.Equal(t, uint64(1), faulted.FaultCount)

	totals, err := f.registry.Totals()
	require.NoError(t, err)
	require.Zero(t, totals.Points)
	providers, err := f.registry.Providers()
	require.NoError(t, err)
	require.Empty(t, providers)

	require.ErrorIs(t, f.registry.SetStatus(res.Index, StatusUnused), coreerrors.ErrResourceBusy)
}
