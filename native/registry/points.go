package registry

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// ProviderPoints returns the online capacity of owner.
func (r *Registry) ProviderPoints(owner common.Address) (ProviderPoints, error) {
	var pts ProviderPoints
	if _, err := r.state.KVGet(pointsKey(owner), &pts); err != nil {
		return ProviderPoints{}, fmt.Errorf("registry: load points: %w", err)
	}
	return pts, nil
}

// Totals returns the online capacity of the whole catalog.
func (r *Registry) Totals() (Totals, error) {
	var totals Totals
	if _, err := r.state.KVGet(totalsKey, &totals); err != nil {
		return Totals{}, fmt.Errorf("registry: load totals: %w", err)
	}
	return totals, nil
}

// Providers lists owners with at least one online resource, in address order.
func (r *Registry) Providers() ([]common.Address, error) {
	return r.ProvidersPage(nil, 0)
}

// ProvidersPage lists up to limit providers whose address sorts at or after
// start, in address order. A zero limit lists all of them.
func (r *Registry) ProvidersPage(start []byte, limit int) ([]common.Address, error) {
	members, err := r.state.ScanMembers(providerPrefix, start, limit)
	if err != nil {
		return nil, fmt.Errorf("registry: scan providers: %w", err)
	}
	out := make([]common.Address, 0, len(members))
	for _, suffix := range members {
		out = append(out, common.BytesToAddress(suffix))
	}
	return out, nil
}

func (r *Registry) addPoints(owner common.Address, cfg Config) error {
	pts, err := r.ProviderPoints(owner)
	if err != nil {
		return err
	}
	if pts.Resources == 0 {
		if err := r.state.AddMember(providerKey(owner)); err != nil {
			return err
		}
	}
	pts.Points += cfg.Points()
	pts.CPU += cfg.CPU
	pts.Memory += cfg.Memory
	pts.Resources++
	if err := r.state.KVPut(pointsKey(owner), &pts); err != nil {
		return err
	}

	totals, err := r.Totals()
	if err != nil {
		return err
	}
	totals.Points += cfg.Points()
	totals.CPU += cfg.CPU
	totals.Memory += cfg.Memory
	totals.Resources++
	return r.state.KVPut(totalsKey, &totals)
}

func (r *Registry) subPoints(owner common.Address, cfg Config) error {
	pts, err := r.ProviderPoints(owner)
	if err != nil {
		return err
	}
	pts.Points = saturatingSub(pts.Points, cfg.Points())
	pts.CPU = saturatingSub(pts.CPU, cfg.CPU)
	pts.Memory = saturatingSub(pts.Memory, cfg.Memory)
	pts.Resources = saturatingSub(pts.Resources, 1)
	if pts.Resources == 0 {
		if _, err := r.state.RemoveMember(providerKey(owner)); err != nil {
			return err
		}
		if err := r.state.KVDelete(pointsKey(owner)); err != nil {
			return err
		}
	} else if err := r.state.KVPut(pointsKey(owner), &pts); err != nil {
		return err
	}

	totals, err := r.Totals()
	if err != nil {
		return err
	}
	totals.Points = saturatingSub(totals.Points, cfg.Points())
	totals.CPU = saturatingSub(totals.CPU, cfg.CPU)
	totals.Memory = saturatingSub(totals.Memory, cfg.Memory)
	totals.Resources = saturatingSub(totals.Resources, 1)
	return r.state.KVPut(totalsKey, &totals)
}

func saturatingSub(a, b uint64) uint64 {
	if b > a {
		return 0
	}
	return a - b
}
