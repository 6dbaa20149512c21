package rewards

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"

	"gridmarket/native/registry"
	"gridmarket/native/rental"
)

type providerPager interface {
	ProvidersPage(start []byte, limit int) ([]common.Address, error)
	ProviderPoints(owner common.Address) (registry.ProviderPoints, error)
}

type agreementPager interface {
	LiveAgreementsFrom(start uint64, limit int) ([]uint64, error)
	Agreement(index uint64) (*rental.Agreement, error)
}

// ProviderSource pages every provider with online capacity, in address
// order, weighted by resource points.
func ProviderSource(src providerPager) Source { return providerSource{src: src} }

type providerSource struct{ src providerPager }

func (s providerSource) Page(cursor []byte, limit int) ([]Entry, []byte, bool, error) {
	owners, err := s.src.ProvidersPage(cursor, limit)
	if err != nil {
		return nil, nil, false, err
	}
	entries := make([]Entry, 0, len(owners))
	for _, owner := range owners {
		pts, err := s.src.ProviderPoints(owner)
		if err != nil {
			return nil, nil, false, err
		}
		if pts.Points == 0 {
			continue
		}
		entries = append(entries, Entry{Account: owner, Weight: pts.Points})
	}
	next := cursor
	if n := len(owners); n > 0 {
		// The smallest key after the last address seen.
		next = append(owners[n-1].Bytes(), 0)
	}
	return entries, next, len(owners) < limit, nil
}

// ClientSource pages one entry per live agreement, naming its tenant, in
// agreement order.
func ClientSource(src agreementPager) Source { return clientSource{src: src} }

type clientSource struct{ src agreementPager }

func (s clientSource) Page(cursor []byte, limit int) ([]Entry, []byte, bool, error) {
	var start uint64
	if len(cursor) == 8 {
		start = binary.BigEndian.Uint64(cursor)
	}
	live, err := s.src.LiveAgreementsFrom(start, limit)
	if err != nil {
		return nil, nil, false, err
	}
	entries := make([]Entry, 0, len(live))
	for _, index := range live {
		agreement, err := s.src.Agreement(index)
		if err != nil {
			return nil, nil, false, err
		}
		if agreement.Status != rental.AgreementUsing {
			continue
		}
		entries = append(entries, Entry{Account: agreement.Tenant, Weight: 1})
	}
	next := cursor
	if n := len(live); n > 0 {
		next = binary.BigEndian.AppendUint64(nil, live[n-1]+1)
	}
	return entries, next, len(live) < limit, nil
}
