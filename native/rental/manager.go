package rental

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	coreerrors "gridmarket/core/errors"
	"gridmarket/core/events"
	"gridmarket/core/state"
	nativecommon "gridmarket/native/common"
	"gridmarket/native/registry"
	"gridmarket/native/staking"
)

type rentalState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
	NextSequence(key []byte, start uint64) (uint64, error)
	Uint64List(key []byte) ([]uint64, error)
	SortedSetInsert(key []byte, value uint64, limit int) error
	SortedSetRemove(key []byte, value uint64) (bool, error)
	ListAppend(key []byte, value uint64, limit int) error
	ListFilter(key []byte, value uint64) (bool, error)
	AddMember(key []byte) error
	RemoveMember(key []byte) (bool, error)
	ScanMembers(prefix, start []byte, limit int) ([][]byte, error)
	Atomic(fn func() error) error
}

type stakeLedger interface {
	Account(addr common.Address) (*staking.Account, bool, error)
	Lock(addr common.Address, amount *big.Int) error
	Release(addr common.Address, amount *big.Int) (*big.Int, error)
	Penalty(addr common.Address, amount *big.Int) error
}

type resourceRegistry interface {
	Resource(index uint64) (*registry.Resource, error)
	SetStatus(index uint64, status registry.Status) error
	MarkFault(index uint64) (*registry.Resource, error)
}

type currency interface {
	Transfer(from, to common.Address, amount *big.Int) error
}

// Manager runs the order and agreement lifecycle.
type Manager struct {
	state    rentalState
	ledger   stakeLedger
	registry resourceRegistry
	bank     currency
	params   Params
	emitter  events.Emitter
	tickFn   func() uint64
	nowFn    func() time.Time
}

// NewManager wires the rental manager to its collaborators.
func NewManager(state rentalState, ledger stakeLedger, reg resourceRegistry, bank currency, params Params) *Manager {
	return &Manager{
		state:    state,
		ledger:   ledger,
		registry: reg,
		bank:     bank,
		params:   params,
		emitter:  events.NoopEmitter{},
		tickFn:   func() uint64 { return 0 },
		nowFn:    func() time.Time { return time.Now().UTC() },
	}
}

// SetEmitter overrides the event emitter used by the manager.
func (m *Manager) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		m.emitter = events.NoopEmitter{}
		return
	}
	m.emitter = emitter
}

// SetTickFunc sets the source of the current tick.
func (m *Manager) SetTickFunc(tick func() uint64) {
	if tick == nil {
		tick = func() uint64 { return 0 }
	}
	m.tickFn = tick
}

// SetNowFunc overrides the wall clock used for order timestamps.
func (m *Manager) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	m.nowFn = now
}

// Params returns the rental parameters.
func (m *Manager) Params() Params { return m.params }

// CreateOrder reserves an idle resource for tenant. The tenant must hold
// enough active stake to cover the client fee locked at execution.
func (m *Manager) CreateOrder(tenant common.Address, resourceIndex, duration uint64, pubKey []byte) (*Order, error) {
	if duration == 0 {
		return nil, fmt.Errorf("rental: duration must be positive: %w", coreerrors.ErrIllegalRequest)
	}
	if len(pubKey) > m.params.MaxPubKeyLength {
		return nil, fmt.Errorf("rental: pubkey too long: %w", coreerrors.ErrIllegalRequest)
	}
	if err := m.requireClientStake(tenant); err != nil {
		return nil, err
	}
	res, err := m.registry.Resource(resourceIndex)
	if err != nil {
		return nil, err
	}
	if res.Status != registry.StatusUnused {
		return nil, fmt.Errorf("rental: resource %d is %s: %w", resourceIndex, res.Status, coreerrors.ErrResourceHasBeenRented)
	}
	if res.Owner == tenant {
		return nil, fmt.Errorf("rental: owner cannot rent resource %d: %w", resourceIndex, coreerrors.ErrIllegalRequest)
	}
	now := m.tickFn()
	if !fitsBefore(now, duration, res.Rental.EndTick) {
		return nil, fmt.Errorf("rental: lease past tick %d: %w", res.Rental.EndTick, coreerrors.ErrExceedsResourceExpiry)
	}
	if err := m.registry.SetStatus(resourceIndex, registry.StatusLocked); err != nil {
		return nil, err
	}
	order, err := m.newOrder(tenant, resourceIndex, duration, pubKey)
	if err != nil {
		return nil, err
	}
	m.emitter.Emit(events.OrderCreated{
		Index:         order.Index,
		Tenant:        tenant,
		ResourceIndex: resourceIndex,
		RentDuration:  duration,
	})
	return order, nil
}

// RenewAgreement records the tenant's request to extend a live agreement by
// duration ticks. The provider accepts it with ExecOrder.
func (m *Manager) RenewAgreement(tenant common.Address, agreementIndex, duration uint64) (*Order, error) {
	if duration == 0 {
		return nil, fmt.Errorf("rental: duration must be positive: %w", coreerrors.ErrIllegalRequest)
	}
	agreement, err := m.Agreement(agreementIndex)
	if err != nil {
		return nil, err
	}
	if agreement.Tenant != tenant {
		return nil, fmt.Errorf("rental: agreement %d: %w", agreementIndex, coreerrors.ErrNotTenant)
	}
	if agreement.Status != AgreementUsing {
		return nil, fmt.Errorf("rental: agreement %d is %s: %w", agreementIndex, agreement.Status, coreerrors.ErrAlreadyPunished)
	}
	res, err := m.registry.Resource(agreement.ResourceIndex)
	if err != nil {
		return nil, err
	}
	if !fitsBefore(agreement.End, duration, res.Rental.EndTick) {
		return nil, fmt.Errorf("rental: renewal past tick %d: %w", res.Rental.EndTick, coreerrors.ErrExceedsResourceExpiry)
	}
	order, err := m.newOrder(tenant, agreement.ResourceIndex, duration, agreement.PubKey)
	if err != nil {
		return nil, err
	}
	order.Renewal = true
	order.AgreementIndex = agreementIndex
	if err := m.putOrder(order); err != nil {
		return nil, err
	}
	m.emitter.Emit(events.OrderCreated{
		Index:          order.Index,
		Tenant:         tenant,
		ResourceIndex:  agreement.ResourceIndex,
		RentDuration:   duration,
		Renewal:        true,
		AgreementIndex: agreementIndex,
	})
	return order, nil
}

// ExecOrder is the provider's acceptance of a pending order. A new lease
// locks the client fee, prepays the rent into escrow and opens an agreement;
// a renewal prepays the extension and pushes the agreement's end back.
func (m *Manager) ExecOrder(provider common.Address, orderIndex uint64) (*Agreement, error) {
	order, err := m.Order(orderIndex)
	if err != nil {
		return nil, err
	}
	if order.Status != OrderPending {
		return nil, fmt.Errorf("rental: order %d is %s: %w", orderIndex, order.Status, coreerrors.ErrOrderNotPending)
	}
	res, err := m.registry.Resource(order.ResourceIndex)
	if err != nil {
		return nil, err
	}
	if res.Owner != provider {
		return nil, fmt.Errorf("rental: resource %d: %w", order.ResourceIndex, coreerrors.ErrNotOwner)
	}
	var agreement *Agreement
	if order.Renewal {
		agreement, err = m.execRenewal(order, res)
	} else {
		agreement, err = m.execLease(order, res)
	}
	if err != nil {
		return nil, err
	}
	order.Status = OrderFinished
	order.AgreementIndex = agreement.Index
	if err := m.putOrder(order); err != nil {
		return nil, err
	}
	m.emitter.Emit(events.OrderExecuted{
		OrderIndex:     order.Index,
		AgreementIndex: agreement.Index,
		Provider:       provider,
		Tenant:         agreement.Tenant,
		Renewal:        order.Renewal,
		Start:          agreement.Start,
		End:            agreement.End,
		Rent:           new(big.Int).Set(agreement.RentTotal),
	})
	return agreement, nil
}

func (m *Manager) execLease(order *Order, res *registry.Resource) (*Agreement, error) {
	if res.Status != registry.StatusLocked {
		return nil, fmt.Errorf("rental: resource %d is %s: %w", res.Index, res.Status, coreerrors.ErrResourceNotLocked)
	}
	now := m.tickFn()
	if !fitsBefore(now, order.RentDuration, res.Rental.EndTick) {
		return nil, fmt.Errorf("rental: lease past tick %d: %w", res.Rental.EndTick, coreerrors.ErrExceedsResourceExpiry)
	}
	fee := nativecommon.CopyAmount(m.params.ClientStakingFee)
	if fee.Sign() > 0 {
		if err := m.ledger.Lock(order.Tenant, fee); err != nil {
			return nil, fmt.Errorf("rental: lock client fee: %w", err)
		}
	}
	rent := nativecommon.MulUint64(res.Rental.UnitPrice, order.RentDuration)
	if err := m.bank.Transfer(order.Tenant, EscrowAddress, rent); err != nil {
		return nil, fmt.Errorf("rental: prepay rent: %w", err)
	}
	index, err := m.state.NextSequence(agreementSequence, 1)
	if err != nil {
		return nil, err
	}
	agreement := &Agreement{
		Index:         index,
		Provider:      res.Owner,
		Tenant:        order.Tenant,
		ResourceIndex: res.Index,
		Snapshot:      snapshotOf(res),
		Start:         now,
		End:           now + order.RentDuration,
		Checkpoint:    now,
		Status:        AgreementUsing,
		RentTotal:     rent,
		RentWithdrawn: big.NewInt(0),
		ClientFee:     fee,
		PubKey:        append([]byte(nil), order.PubKey...),
	}
	if err := m.scheduleExpiry(index, agreement.End); err != nil {
		return nil, err
	}
	if err := m.state.ListAppend(providerKey(agreement.Provider), index, m.params.MaxAgreementsPerAccount); err != nil {
		return nil, capacity("provider agreement list", err)
	}
	if err := m.state.ListAppend(tenantKey(agreement.Tenant), index, m.params.MaxAgreementsPerAccount); err != nil {
		return nil, capacity("tenant agreement list", err)
	}
	if err := m.state.AddMember(liveKey(index)); err != nil {
		return nil, err
	}
	if err := m.registry.SetStatus(res.Index, registry.StatusInuse); err != nil {
		return nil, err
	}
	if err := m.putAgreement(agreement); err != nil {
		return nil, err
	}
	return agreement, nil
}

func (m *Manager) execRenewal(order *Order, res *registry.Resource) (*Agreement, error) {
	agreement, err := m.Agreement(order.AgreementIndex)
	if err != nil {
		return nil, err
	}
	if agreement.Status != AgreementUsing {
		return nil, fmt.Errorf("rental: agreement %d is %s: %w", agreement.Index, agreement.Status, coreerrors.ErrAlreadyPunished)
	}
	if !fitsBefore(agreement.End, order.RentDuration, res.Rental.EndTick) {
		return nil, fmt.Errorf("rental: renewal past tick %d: %w", res.Rental.EndTick, coreerrors.ErrExceedsResourceExpiry)
	}
	extra := nativecommon.MulUint64(res.Rental.UnitPrice, order.RentDuration)
	if err := m.bank.Transfer(agreement.Tenant, EscrowAddress, extra); err != nil {
		return nil, fmt.Errorf("rental: prepay renewal: %w", err)
	}
	if _, err := m.state.SortedSetRemove(bucketKey(agreement.End), agreement.Index); err != nil {
		return nil, err
	}
	agreement.End += order.RentDuration
	agreement.RentTotal = nativecommon.SaturatingAdd(agreement.RentTotal, extra)
	agreement.Snapshot = snapshotOf(res)
	if err := m.scheduleExpiry(agreement.Index, agreement.End); err != nil {
		return nil, err
	}
	if err := m.putAgreement(agreement); err != nil {
		return nil, err
	}
	return agreement, nil
}

// CancelOrder withdraws a pending order. Cancelling a new-lease order returns
// a still reserved resource to the idle pool.
func (m *Manager) CancelOrder(tenant common.Address, orderIndex uint64) (*Order, error) {
	order, err := m.Order(orderIndex)
	if err != nil {
		return nil, err
	}
	if order.Tenant != tenant {
		return nil, fmt.Errorf("rental: order %d: %w", orderIndex, coreerrors.ErrNotTenant)
	}
	if order.Status != OrderPending {
		return nil, fmt.Errorf("rental: order %d is %s: %w", orderIndex, order.Status, coreerrors.ErrOrderNotPending)
	}
	order.Status = OrderCanceled
	if !order.Renewal {
		res, err := m.registry.Resource(order.ResourceIndex)
		switch {
		case errors.Is(err, coreerrors.ErrResourceNotFound):
		case err != nil:
			return nil, err
		case res.Status == registry.StatusLocked:
			if err := m.registry.SetStatus(res.Index, registry.StatusUnused); err != nil {
				return nil, err
			}
		}
	}
	if err := m.putOrder(order); err != nil {
		return nil, err
	}
	m.emitter.Emit(events.OrderCanceled{OrderIndex: orderIndex, Tenant: tenant})
	return order, nil
}

// Heartbeat is the provider's liveness signal. It advances the agreement's
// checkpoint to the current tick, or to End once the lease has run out.
func (m *Manager) Heartbeat(provider common.Address, agreementIndex uint64) (*Agreement, error) {
	agreement, err := m.Agreement(agreementIndex)
	if err != nil {
		return nil, err
	}
	if agreement.Provider != provider {
		return nil, fmt.Errorf("rental: agreement %d: %w", agreementIndex, coreerrors.ErrNotOwner)
	}
	if agreement.Status != AgreementUsing {
		return nil, fmt.Errorf("rental: agreement %d is %s: %w", agreementIndex, agreement.Status, coreerrors.ErrAlreadyPunished)
	}
	now := m.tickFn()
	if now < agreement.End {
		if now > agreement.Checkpoint {
			agreement.Checkpoint = now
		}
	} else {
		agreement.Checkpoint = agreement.End
	}
	if err := m.putAgreement(agreement); err != nil {
		return nil, err
	}
	m.emitter.Emit(events.AgreementHeartbeat{AgreementIndex: agreementIndex, Checkpoint: agreement.Checkpoint})
	return agreement, nil
}

func (m *Manager) requireClientStake(tenant common.Address) error {
	acct, ok, err := m.ledger.Account(tenant)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("rental: tenant %s: %w", tenant.Hex(), coreerrors.ErrNoStakingAccount)
	}
	fee := nativecommon.CopyAmount(m.params.ClientStakingFee)
	if acct.Active.Cmp(fee) < 0 {
		return fmt.Errorf("rental: client fee %s exceeds active stake %s: %w", fee, acct.Active, coreerrors.ErrInsufficientActive)
	}
	return nil
}

func (m *Manager) newOrder(tenant common.Address, resourceIndex, duration uint64, pubKey []byte) (*Order, error) {
	index, err := m.state.NextSequence(orderSequence, 1)
	if err != nil {
		return nil, err
	}
	order := &Order{
		Index:         index,
		Tenant:        tenant,
		ResourceIndex: resourceIndex,
		CreatedAt:     m.tickFn(),
		RentDuration:  duration,
		Time:          uint64(m.nowFn().Unix()),
		Status:        OrderPending,
		PubKey:        append([]byte(nil), pubKey...),
	}
	if err := m.putOrder(order); err != nil {
		return nil, err
	}
	return order, nil
}

func (m *Manager) scheduleExpiry(index, tick uint64) error {
	if err := m.state.SortedSetInsert(bucketKey(tick), index, m.params.AgreementBucketCap); err != nil {
		return capacity(fmt.Sprintf("agreement bucket %d", tick), err)
	}
	return nil
}

func capacity(what string, err error) error {
	if errors.Is(err, state.ErrListFull) {
		return fmt.Errorf("rental: %s full: %w", what, coreerrors.ErrCapacityExceeded)
	}
	return err
}

// fitsBefore reports whether start+duration does not pass limit.
func fitsBefore(start, duration, limit uint64) bool {
	if duration > math.MaxUint64-start {
		return false
	}
	return start+duration <= limit
}

func snapshotOf(res *registry.Resource) Snapshot {
	return Snapshot{
		PeerID:    res.PeerID,
		Config:    res.Config,
		UnitPrice: new(big.Int).Set(res.Rental.UnitPrice),
	}
}
