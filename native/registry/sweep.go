package registry

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// SweepOutcome reports what the expiry sweep did with one bucket member.
type SweepOutcome struct {
	Index    uint64
	Removed  bool
	Released *big.Int
	Err      error
}

// SweepExpired removes every resource scheduled to expire at tick and clears
// the bucket. Each member is processed atomically; a failing member is
// reported in its outcome and the sweep moves on. An empty bucket is a no-op.
func (r *Registry) SweepExpired(tick uint64) ([]SweepOutcome, error) {
	members, err := r.state.Uint64List(expiryKey(tick))
	if err != nil {
		return nil, fmt.Errorf("registry: load expiry bucket %d: %w", tick, err)
	}
	if len(members) == 0 {
		return nil, nil
	}
	outcomes := make([]SweepOutcome, 0, len(members))
	for _, index := range members {
		outcome := SweepOutcome{Index: index}
		outcome.Err = r.state.Atomic(func() error {
			res, err := r.Resource(index)
			if err != nil {
				return err
			}
			if res.Rental.EndTick != tick {
				return nil
			}
			released, err := r.remove(res, "expired")
			if err != nil {
				return err
			}
			outcome.Removed = true
			outcome.Released = released
			return nil
		})
		outcomes = append(outcomes, outcome)
	}
	if err := r.state.KVDelete(expiryKey(tick)); err != nil {
		return outcomes, fmt.Errorf("registry: clear expiry bucket %d: %w", tick, err)
	}
	return outcomes, nil
}

// ExpiryBucket lists the resources scheduled to expire at tick.
func (r *Registry) ExpiryBucket(tick uint64) ([]uint64, error) {
	return r.state.Uint64List(expiryKey(tick))
}

// OwnerResources lists the indexes owned by owner in registration order.
func (r *Registry) OwnerResources(owner common.Address) ([]uint64, error) {
	return r.state.Uint64List(ownerKey(owner))
}
