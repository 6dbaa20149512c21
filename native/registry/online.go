package registry

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"

	coreerrors "gridmarket/core/errors"
)

// onlineKey orders listings by unit price, then index: a 32-byte big-endian
// price followed by the 8-byte index.
func onlineKey(price *big.Int, index uint64) []byte {
	p, _ := uint256.FromBig(price)
	word := p.Bytes32()
	key := make([]byte, 0, len(onlinePrefix)+len(word)+8)
	key = append(key, onlinePrefix...)
	key = append(key, word[:]...)
	return binary.BigEndian.AppendUint64(key, index)
}

func checkPrice(price *big.Int) error {
	if price == nil || price.Sign() <= 0 {
		return fmt.Errorf("registry: unit price must be positive: %w", coreerrors.ErrIllegalRequest)
	}
	if _, overflow := uint256.FromBig(price); overflow {
		return fmt.Errorf("registry: unit price exceeds 256 bits: %w", coreerrors.ErrIllegalRequest)
	}
	return nil
}

func (r *Registry) insertOnline(res *Resource) error {
	return r.state.AddMember(onlineKey(res.Rental.UnitPrice, res.Index))
}

func (r *Registry) removeOnline(res *Resource) (bool, error) {
	return r.state.RemoveMember(onlineKey(res.Rental.UnitPrice, res.Index))
}

// OnlineResources returns up to limit online listings, cheapest first. A zero
// limit returns all of them.
func (r *Registry) OnlineResources(limit int) ([]*Resource, error) {
	members, err := r.state.ScanMembers(onlinePrefix, nil, limit)
	if err != nil {
		return nil, fmt.Errorf("registry: scan online list: %w", err)
	}
	out := make([]*Resource, 0, len(members))
	for _, suffix := range members {
		if len(suffix) != 40 {
			return nil, fmt.Errorf("registry: malformed online key %x", suffix)
		}
		res, err := r.Resource(binary.BigEndian.Uint64(suffix[32:]))
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}
	return out, nil
}
