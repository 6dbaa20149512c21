package registry

import (
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	coreerrors "gridmarket/core/errors"
	"gridmarket/core/events"
	"gridmarket/core/state"
)

// registryState is the subset of the state manager the registry needs.
type registryState interface {
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

// collateral reserves and returns provider stake.
type collateral interface {
	Lock(addr common.Address, amount *big.Int) error
	Release(addr common.Address, amount *big.Int) (*big.Int, error)
}

// Registry is the resource catalog together with its expiry scheduler.
type Registry struct {
	state   registryState
	stake   collateral
	params  Params
	emitter events.Emitter
	tickFn  func() uint64
	nowFn   func() time.Time
}

// NewRegistry binds a registry to state and the staking ledger.
func NewRegistry(state registryState, stake collateral, params Params) *Registry {
	return &Registry{
		state:   state,
		stake:   stake,
		params:  params,
		emitter: events.NoopEmitter{},
		tickFn:  func() uint64 { return 0 },
		nowFn:   func() time.Time { return time.Now().UTC() },
	}
}

// SetEmitter overrides the event emitter used by the registry.
func (r *Registry) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		r.emitter = events.NoopEmitter{}
		return
	}
	r.emitter = emitter
}

// SetTickFunc sets the source of the current tick.
func (r *Registry) SetTickFunc(tick func() uint64) {
	if tick == nil {
		tick = func() uint64 { return 0 }
	}
	r.tickFn = tick
}

// SetNowFunc overrides the wall clock used for record timestamps. Passing nil
// restores the default UTC clock.
func (r *Registry) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	r.nowFn = now
}

// Params returns the registry parameters.
func (r *Registry) Params() Params { return r.params }

// RegisterRequest carries the inputs of a new listing.
type RegisterRequest struct {
	PeerID    string
	Config    Config
	UnitPrice *big.Int
	Duration  uint64
	// HintIndex is the caller's guess of the listing's position in the
	// price-ordered online list. The online index is keyed by price, so the
	// listing is placed without it.
	HintIndex uint64
}

func (r *Registry) validate(owner common.Address, req RegisterRequest) error {
	if owner == (common.Address{}) {
		return fmt.Errorf("registry: owner required: %w", coreerrors.ErrIllegalRequest)
	}
	peer := strings.TrimSpace(req.PeerID)
	if peer == "" || peer != req.PeerID || len(peer) > r.params.MaxPeerIDLength {
		return fmt.Errorf("registry: invalid peer id: %w", coreerrors.ErrIllegalRequest)
	}
	if req.Config.CPU < 1 || req.Config.CPU > r.params.MaxCPU {
		return fmt.Errorf("registry: cpu %d outside [1,%d]: %w", req.Config.CPU, r.params.MaxCPU, coreerrors.ErrIllegalRequest)
	}
	if req.Config.Memory < 1 || req.Config.Memory > r.params.MaxMemory {
		return fmt.Errorf("registry: memory %d outside [1,%d]: %w", req.Config.Memory, r.params.MaxMemory, coreerrors.ErrIllegalRequest)
	}
	if err := checkPrice(req.UnitPrice); err != nil {
		return err
	}
	if req.Duration == 0 {
		return fmt.Errorf("registry: duration must be positive: %w", coreerrors.ErrIllegalRequest)
	}
	return nil
}

// Register lists a resource for owner, locking its collateral and scheduling
// its expiry at now+duration.
func (r *Registry) Register(owner common.Address, req RegisterRequest) (*Resource, error) {
	if err := r.validate(owner, req); err != nil {
		return nil, err
	}
	now := r.tickFn()
	if req.Duration > math.MaxUint64-now {
		return nil, fmt.Errorf("registry: duration overflows tick range: %w", coreerrors.ErrIllegalRequest)
	}
	taken, err := r.state.KVGet(peerKey(req.PeerID), nil)
	if err != nil {
		return nil, err
	}
	if taken {
		return nil, fmt.Errorf("registry: peer id %q already registered: %w", req.PeerID, coreerrors.ErrIllegalRequest)
	}

	collateral := r.params.Collateral(req.Config)
	if err := r.stake.Lock(owner, collateral); err != nil {
		return nil, fmt.Errorf("registry: lock collateral: %w", err)
	}
	index, err := r.state.NextSequence(sequenceKey, 1)
	if err != nil {
		return nil, err
	}
	res := &Resource{
		Index:  index,
		Owner:  owner,
		PeerID: req.PeerID,
		Config: req.Config,
		Rental: RentalInfo{
			UnitPrice: new(big.Int).Set(req.UnitPrice),
			Duration:  req.Duration,
			EndTick:   now + req.Duration,
		},
		Status:         StatusUnused,
		Collateral:     collateral,
		RegisteredAt:   now,
		RegisteredTime: uint64(r.nowFn().Unix()),
	}
	if err := r.scheduleExpiry(index, res.Rental.EndTick); err != nil {
		return nil, err
	}
	if err := r.state.ListAppend(ownerKey(owner), index, r.params.MaxResourcesPerOwner); err != nil {
		return nil, capacity("owner resource list", err)
	}
	if err := r.addPoints(owner, res.Config); err != nil {
		return nil, err
	}
	if err := r.insertOnline(res); err != nil {
		return nil, err
	}
	if err := r.state.KVPut(peerKey(req.PeerID), index); err != nil {
		return nil, err
	}
	if err := r.put(res); err != nil {
		return nil, err
	}
	r.emitter.Emit(events.ResourceRegistered{
		Index:      index,
		Owner:      owner,
		PeerID:     res.PeerID,
		Collateral: new(big.Int).Set(collateral),
		UnitPrice:  new(big.Int).Set(res.Rental.UnitPrice),
		EndTick:    res.Rental.EndTick,
	})
	return res.Clone(), nil
}

// ModifyPrice changes the unit price of a listing. Live agreements keep the
// terms they were created with.
func (r *Registry) ModifyPrice(caller common.Address, index uint64, price *big.Int) (*Resource, error) {
	if err := checkPrice(price); err != nil {
		return nil, err
	}
	res, err := r.owned(caller, index)
	if err != nil {
		return nil, err
	}
	online := res.Status != StatusOffline
	if online {
		if _, err := r.removeOnline(res); err != nil {
			return nil, err
		}
	}
	res.Rental.UnitPrice = new(big.Int).Set(price)
	if online {
		if err := r.insertOnline(res); err != nil {
			return nil, err
		}
	}
	if err := r.put(res); err != nil {
		return nil, err
	}
	r.emitter.Emit(events.ResourcePriceModified{Index: index, UnitPrice: new(big.Int).Set(price)})
	return res.Clone(), nil
}

// ExtendDuration pushes the listing's expiry back by duration ticks, moving it
// to the new expiry bucket.
func (r *Registry) ExtendDuration(caller common.Address, index uint64, duration uint64) (*Resource, error) {
	if duration == 0 {
		return nil, fmt.Errorf("registry: duration must be positive: %w", coreerrors.ErrIllegalRequest)
	}
	res, err := r.owned(caller, index)
	if err != nil {
		return nil, err
	}
	if res.Status == StatusOffline {
		return nil, fmt.Errorf("registry: resource %d offline: %w", index, coreerrors.ErrResourceBusy)
	}
	oldEnd := res.Rental.EndTick
	if duration > math.MaxUint64-oldEnd {
		return nil, fmt.Errorf("registry: duration overflows tick range: %w", coreerrors.ErrIllegalRequest)
	}
	if _, err := r.state.SortedSetRemove(expiryKey(oldEnd), index); err != nil {
		return nil, err
	}
	res.Rental.EndTick = oldEnd + duration
	res.Rental.Duration += duration
	if err := r.scheduleExpiry(index, res.Rental.EndTick); err != nil {
		return nil, err
	}
	if err := r.put(res); err != nil {
		return nil, err
	}
	r.emitter.Emit(events.ResourceDurationExtended{Index: index, OldEndTick: oldEnd, EndTick: res.Rental.EndTick})
	return res.Clone(), nil
}

// Offline delists a resource at the owner's request. Only idle or faulted
// resources can be delisted.
func (r *Registry) Offline(caller common.Address, index uint64) (*big.Int, error) {
	res, err := r.owned(caller, index)
	if err != nil {
		return nil, err
	}
	if res.Status != StatusUnused && res.Status != StatusOffline {
		return nil, fmt.Errorf("registry: resource %d is %s: %w", index, res.Status, coreerrors.ErrResourceBusy)
	}
	return r.remove(res, "offline")
}

// SetStatus updates the lifecycle state of a resource on behalf of the rental
// manager. Use MarkFault to take a resource offline.
func (r *Registry) SetStatus(index uint64, status Status) error {
	if status == StatusOffline {
		return fmt.Errorf("registry: offline transition requires a fault: %w", coreerrors.ErrIllegalRequest)
	}
	res, err := r.Resource(index)
	if err != nil {
		return err
	}
	if res.Status == StatusOffline {
		return fmt.Errorf("registry: resource %d offline: %w", index, coreerrors.ErrResourceBusy)
	}
	res.Status = status
	return r.put(res)
}

// MarkFault takes a resource offline after a missed heartbeat and bumps its
// fault counter. Offline resources stop earning provider points.
func (r *Registry) MarkFault(index uint64) (*Resource, error) {
	res, err := r.Resource(index)
	if err != nil {
		return nil, err
	}
	if res.Status != StatusOffline {
		if err := r.subPoints(res.Owner, res.Config); err != nil {
			return nil, err
		}
		if _, err := r.removeOnline(res); err != nil {
			return nil, err
		}
	}
	res.Status = StatusOffline
	res.FaultCount++
	if err := r.put(res); err != nil {
		return nil, err
	}
	r.emitter.Emit(events.ResourceFaulted{Index: index, FaultCount: res.FaultCount})
	return res.Clone(), nil
}

// remove drops every association of res, releases its collateral and
// deletes the record. It returns the collateral actually released.
func (r *Registry) remove(res *Resource, reason string) (*big.Int, error) {
	if _, err := r.state.SortedSetRemove(expiryKey(res.Rental.EndTick), res.Index); err != nil {
		return nil, err
	}
	if _, err := r.state.ListFilter(ownerKey(res.Owner), res.Index); err != nil {
		return nil, err
	}
	if res.Status != StatusOffline {
		if err := r.subPoints(res.Owner, res.Config); err != nil {
			return nil, err
		}
		if _, err := r.removeOnline(res); err != nil {
			return nil, err
		}
	}
	if err := r.state.KVDelete(peerKey(res.PeerID)); err != nil {
		return nil, err
	}
	released, err := r.stake.Release(res.Owner, res.Collateral)
	if err != nil {
		return nil, fmt.Errorf("registry: release collateral: %w", err)
	}
	if err := r.state.KVDelete(resourceKey(res.Index)); err != nil {
		return nil, err
	}
	r.emitter.Emit(events.ResourceRemoved{
		Index:    res.Index,
		Owner:    res.Owner,
		Reason:   reason,
		Released: new(big.Int).Set(released),
	})
	return released, nil
}

func (r *Registry) scheduleExpiry(index, tick uint64) error {
	if err := r.state.SortedSetInsert(expiryKey(tick), index, r.params.ExpiryBucketCap); err != nil {
		return capacity(fmt.Sprintf("expiry bucket %d", tick), err)
	}
	return nil
}

func capacity(what string, err error) error {
	if errors.Is(err, state.ErrListFull) {
		return fmt.Errorf("registry: %s full: %w", what, coreerrors.ErrCapacityExceeded)
	}
	return err
}

func (r *Registry) owned(caller common.Address, index uint64) (*Resource, error) {
	res, err := r.Resource(index)
	if err != nil {
		return nil, err
	}
	if res.Owner != caller {
		return nil, fmt.Errorf("registry: resource %d: %w", index, coreerrors.ErrNotOwner)
	}
	return res, nil
}

func (r *Registry) put(res *Resource) error {
	return r.state.KVPut(resourceKey(res.Index), res)
}

// Resource loads a listing by index.
func (r *Registry) Resource(index uint64) (*Resource, error) {
	res := new(Resource)
	ok, err := r.state.KVGet(resourceKey(index), res)
	if err != nil {
		return nil, fmt.Errorf("registry: load resource %d: %w", index, err)
	}
	if !ok {
		return nil, fmt.Errorf("registry: resource %d: %w", index, coreerrors.ErrResourceNotFound)
	}
	if res.Rental.UnitPrice == nil {
		res.Rental.UnitPrice = big.NewInt(0)
	}
	if res.Collateral == nil {
		res.Collateral = big.NewInt(0)
	}
	return res, nil
}
