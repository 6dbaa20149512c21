package rental

import (
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	coreerrors "gridmarket/core/errors"
)

// Order loads an order by index.
func (m *Manager) Order(index uint64) (*Order, error) {
	order := new(Order)
	ok, err := m.state.KVGet(orderKey(index), order)
	if err != nil {
		return nil, fmt.Errorf("rental: load order %d: %w", index, err)
	}
	if !ok {
		return nil, fmt.Errorf("rental: order %d: %w", index, coreerrors.ErrOrderNotFound)
	}
	return order, nil
}

// Agreement loads an agreement by index.
func (m *Manager) Agreement(index uint64) (*Agreement, error) {
	agreement := new(Agreement)
	ok, err := m.state.KVGet(agreementKey(index), agreement)
	if err != nil {
		return nil, fmt.Errorf("rental: load agreement %d: %w", index, err)
	}
	if !ok {
		return nil, fmt.Errorf("rental: agreement %d: %w", index, coreerrors.ErrAgreementNotFound)
	}
	agreement.normalise()
	return agreement, nil
}

// ProviderAgreements lists the agreements served by provider.
func (m *Manager) ProviderAgreements(provider common.Address) ([]uint64, error) {
	return m.state.Uint64List(providerKey(provider))
}

// TenantAgreements lists the agreements rented by tenant.
func (m *Manager) TenantAgreements(tenant common.Address) ([]uint64, error) {
	return m.state.Uint64List(tenantKey(tenant))
}

// LiveAgreements lists every agreement in use, in creation order.
func (m *Manager) LiveAgreements() ([]uint64, error) {
	return m.LiveAgreementsFrom(0, 0)
}

// LiveAgreementsFrom lists up to limit live agreements with an index of at
// least start, in creation order. A zero limit lists all of them.
func (m *Manager) LiveAgreementsFrom(start uint64, limit int) ([]uint64, error) {
	from := make([]byte, 8)
	binary.BigEndian.PutUint64(from, start)
	members, err := m.state.ScanMembers(livePrefix, from, limit)
	if err != nil {
		return nil, fmt.Errorf("rental: scan live agreements: %w", err)
	}
	out := make([]uint64, 0, len(members))
	for _, suffix := range members {
		if len(suffix) != 8 {
			return nil, fmt.Errorf("rental: malformed live key %x", suffix)
		}
		out = append(out, binary.BigEndian.Uint64(suffix))
	}
	return out, nil
}

// AgreementBucket lists the agreements whose lease ends at tick.
func (m *Manager) AgreementBucket(tick uint64) ([]uint64, error) {
	return m.state.Uint64List(bucketKey(tick))
}

func (m *Manager) putOrder(order *Order) error {
	return m.state.KVPut(orderKey(order.Index), order)
}

func (m *Manager) putAgreement(a *Agreement) error {
	return m.state.KVPut(agreementKey(a.Index), a)
}
