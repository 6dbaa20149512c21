package rental

import (
	"errors"
	"fmt"
	"math/big"

	coreerrors "gridmarket/core/errors"
	"gridmarket/core/events"
	nativecommon "gridmarket/native/common"
	"gridmarket/native/registry"
)

// ExpiryOutcome reports what the agreement expiry sweep did with one bucket
// member.
type ExpiryOutcome struct {
	AgreementIndex uint64
	Finished       bool
	Settled        *big.Int
	Err            error
}

// SweepExpired finishes every agreement whose lease ends at tick: the
// resource returns to the idle pool, the provider is paid the remaining rent,
// the tenant's fee is released and the agreement is deleted. Members are
// processed atomically and independently.
func (m *Manager) SweepExpired(tick uint64) ([]ExpiryOutcome, error) {
	members, err := m.state.Uint64List(bucketKey(tick))
	if err != nil {
		return nil, fmt.Errorf("rental: load agreement bucket %d: %w", tick, err)
	}
	if len(members) == 0 {
		return nil, nil
	}
	outcomes := make([]ExpiryOutcome, 0, len(members))
	for _, index := range members {
		outcome := ExpiryOutcome{AgreementIndex: index}
		outcome.Err = m.state.Atomic(func() error {
			agreement, err := m.Agreement(index)
			if errors.Is(err, coreerrors.ErrAgreementNotFound) {
				return nil
			}
			if err != nil {
				return err
			}
			if agreement.Status != AgreementUsing || agreement.End != tick {
				return nil
			}
			settled, err := m.finish(agreement)
			if err != nil {
				return err
			}
			outcome.Finished = true
			outcome.Settled = settled
			return nil
		})
		outcomes = append(outcomes, outcome)
	}
	if err := m.state.KVDelete(bucketKey(tick)); err != nil {
		return outcomes, fmt.Errorf("rental: clear agreement bucket %d: %w", tick, err)
	}
	return outcomes, nil
}

func (m *Manager) finish(a *Agreement) (*big.Int, error) {
	res, err := m.registry.Resource(a.ResourceIndex)
	switch {
	case errors.Is(err, coreerrors.ErrResourceNotFound):
	case err != nil:
		return nil, err
	case res.Status == registry.StatusInuse:
		if err := m.registry.SetStatus(res.Index, registry.StatusUnused); err != nil {
			return nil, err
		}
	}
	a.Status = AgreementFinished
	a.Checkpoint = a.End
	settled := EarnedRent(a)
	if settled.Sign() > 0 {
		if err := m.bank.Transfer(EscrowAddress, a.Provider, settled); err != nil {
			return nil, fmt.Errorf("rental: settle rent: %w", err)
		}
		a.RentWithdrawn = nativecommon.SaturatingAdd(a.RentWithdrawn, settled)
	}
	if _, err := m.ledger.Release(a.Tenant, a.ClientFee); err != nil {
		return nil, fmt.Errorf("rental: release client fee: %w", err)
	}
	m.emitter.Emit(events.AgreementFinished{
		AgreementIndex: a.Index,
		Provider:       a.Provider,
		Tenant:         a.Tenant,
		Settled:        new(big.Int).Set(settled),
	})
	return settled, m.deleteAgreement(a)
}

// HealthOutcome reports what the health check did with one live agreement.
type HealthOutcome struct {
	AgreementIndex uint64
	Punished       bool
	Penalty        *big.Int
	// PenaltyErr records a penalty that could not be applied. The agreement
	// is punished regardless.
	PenaltyErr error
	Err        error
}

// Penalty returns the stake seized from a provider whose resource faults.
func (m *Manager) Penalty(cfg registry.Config) *big.Int {
	return nativecommon.MulUint64(nativecommon.CopyAmount(m.params.FaultPenaltyUnit), cfg.Points())
}

// HealthCheck punishes every live agreement whose last heartbeat is more than
// HealthCheckInterval ticks old.
func (m *Manager) HealthCheck(now uint64) ([]HealthOutcome, error) {
	live, err := m.LiveAgreements()
	if err != nil {
		return nil, err
	}
	var outcomes []HealthOutcome
	for _, index := range live {
		outcome := HealthOutcome{AgreementIndex: index}
		outcome.Err = m.state.Atomic(func() error {
			agreement, err := m.Agreement(index)
			if err != nil {
				return err
			}
			if agreement.Status != AgreementUsing || now <= agreement.Checkpoint ||
				now-agreement.Checkpoint <= m.params.HealthCheckInterval {
				return nil
			}
			return m.punish(agreement, &outcome)
		})
		if outcome.Punished || outcome.Err != nil {
			outcomes = append(outcomes, outcome)
		}
	}
	return outcomes, nil
}

func (m *Manager) punish(a *Agreement, outcome *HealthOutcome) error {
	if _, err := m.registry.MarkFault(a.ResourceIndex); err != nil && !errors.Is(err, coreerrors.ErrResourceNotFound) {
		return err
	}
	a.Status = AgreementPunished
	if _, err := m.state.SortedSetRemove(bucketKey(a.End), a.Index); err != nil {
		return err
	}
	if _, err := m.state.RemoveMember(liveKey(a.Index)); err != nil {
		return err
	}
	penalty := m.Penalty(a.Snapshot.Config)
	if penalty.Sign() > 0 {
		outcome.PenaltyErr = m.state.Atomic(func() error {
			return m.ledger.Penalty(a.Provider, penalty)
		})
	}
	if _, err := m.ledger.Release(a.Tenant, a.ClientFee); err != nil {
		return fmt.Errorf("rental: release client fee: %w", err)
	}
	if err := m.putAgreement(a); err != nil {
		return err
	}
	m.emitter.Emit(events.AgreementPunished{
		AgreementIndex: a.Index,
		Provider:       a.Provider,
		Penalty:        new(big.Int).Set(penalty),
		PenaltyApplied: penalty.Sign() > 0 && outcome.PenaltyErr == nil,
	})
	outcome.Punished = true
	outcome.Penalty = penalty
	return nil
}
