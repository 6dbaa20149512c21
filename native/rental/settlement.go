package rental

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	coreerrors "gridmarket/core/errors"
	"gridmarket/core/events"
	nativecommon "gridmarket/native/common"
)

// EarnedRent returns the rent accrued up to the checkpoint that the provider
// has not withdrawn yet.
func EarnedRent(a *Agreement) *big.Int {
	if a.End <= a.Start || a.Checkpoint <= a.Start {
		return big.NewInt(0)
	}
	elapsed := a.Checkpoint
	if elapsed > a.End {
		elapsed = a.End
	}
	earned := nativecommon.MulDiv(a.RentTotal,
		new(big.Int).SetUint64(elapsed-a.Start),
		new(big.Int).SetUint64(a.End-a.Start))
	return nativecommon.SaturatingSub(earned, a.RentWithdrawn)
}

// WithdrawRentalAmount pays the provider the rent earned so far.
func (m *Manager) WithdrawRentalAmount(provider common.Address, agreementIndex uint64) (*big.Int, error) {
	agreement, err := m.Agreement(agreementIndex)
	if err != nil {
		return nil, err
	}
	if agreement.Provider != provider {
		return nil, fmt.Errorf("rental: agreement %d: %w", agreementIndex, coreerrors.ErrNotOwner)
	}
	earned := EarnedRent(agreement)
	if earned.Sign() == 0 {
		return nil, fmt.Errorf("rental: agreement %d: %w", agreementIndex, coreerrors.ErrNothingToWithdraw)
	}
	if err := m.bank.Transfer(EscrowAddress, provider, earned); err != nil {
		return nil, fmt.Errorf("rental: pay rent: %w", err)
	}
	agreement.RentWithdrawn = nativecommon.SaturatingAdd(agreement.RentWithdrawn, earned)
	if err := m.putAgreement(agreement); err != nil {
		return nil, err
	}
	m.emitter.Emit(events.RentWithdrawn{AgreementIndex: agreementIndex, Provider: provider, Amount: new(big.Int).Set(earned)})
	return earned, nil
}

// WithdrawFaultExecution refunds the tenant of a punished agreement every
// unit of rent the provider has not withdrawn, then deletes the agreement.
func (m *Manager) WithdrawFaultExecution(tenant common.Address, agreementIndex uint64) (*big.Int, error) {
	agreement, err := m.Agreement(agreementIndex)
	if err != nil {
		return nil, err
	}
	if agreement.Tenant != tenant {
		return nil, fmt.Errorf("rental: agreement %d: %w", agreementIndex, coreerrors.ErrNotTenant)
	}
	if agreement.Status != AgreementPunished {
		return nil, fmt.Errorf("rental: agreement %d is %s: %w", agreementIndex, agreement.Status, coreerrors.ErrAgreementNotPunished)
	}
	refund := nativecommon.SaturatingSub(agreement.RentTotal, agreement.RentWithdrawn)
	if refund.Sign() > 0 {
		if err := m.bank.Transfer(EscrowAddress, tenant, refund); err != nil {
			return nil, fmt.Errorf("rental: refund rent: %w", err)
		}
	}
	if err := m.deleteAgreement(agreement); err != nil {
		return nil, err
	}
	m.emitter.Emit(events.FaultRefunded{AgreementIndex: agreementIndex, Tenant: tenant, Amount: new(big.Int).Set(refund)})
	return refund, nil
}

// deleteAgreement drops the record and every index entry pointing at it.
// Deleting twice is harmless.
func (m *Manager) deleteAgreement(a *Agreement) error {
	if _, err := m.state.SortedSetRemove(bucketKey(a.End), a.Index); err != nil {
		return err
	}
	if _, err := m.state.ListFilter(providerKey(a.Provider), a.Index); err != nil {
		return err
	}
	if _, err := m.state.ListFilter(tenantKey(a.Tenant), a.Index); err != nil {
		return err
	}
	if _, err := m.state.RemoveMember(liveKey(a.Index)); err != nil {
		return err
	}
	return m.state.KVDelete(agreementKey(a.Index))
}
