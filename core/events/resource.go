package events

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"gridmarket/core/types"
)

const (
	TypeResourceRegistered       = "resource.registered"
	TypeResourcePriceModified    = "resource.priceModified"
	TypeResourceDurationExtended = "resource.durationExtended"
	TypeResourceRemoved          = "resource.removed"
	TypeResourceFaulted          = "resource.faulted"
)

// ResourceRegistered is emitted once a resource is listed.
type ResourceRegistered struct {
	Index      uint64
	Owner      common.Address
	PeerID     string
	Collateral *big.Int
	UnitPrice  *big.Int
	EndTick    uint64
}

// EventType satisfies the Event interface.
func (ResourceRegistered) EventType() string { return TypeResourceRegistered }

// Event converts the structured payload into a broadcastable event.
func (e ResourceRegistered) Event() *types.Event {
	return &types.Event{Type: TypeResourceRegistered, Attributes: map[string]string{
		"index":      formatUint(e.Index),
		"owner":      formatAddress(e.Owner),
		"peerId":     e.PeerID,
		"collateral": formatAmount(e.Collateral),
		"unitPrice":  formatAmount(e.UnitPrice),
		"endTick":    formatUint(e.EndTick),
	}}
}

// ResourcePriceModified is emitted when an owner reprices a listing.
type ResourcePriceModified struct {
	Index     uint64
	UnitPrice *big.Int
}

// EventType satisfies the Event interface.
func (ResourcePriceModified) EventType() string { return TypeResourcePriceModified }

// Event converts the structured payload into a broadcastable event.
func (e ResourcePriceModified) Event() *types.Event {
	return &types.Event{Type: TypeResourcePriceModified, Attributes: map[string]string{
		"index":     formatUint(e.Index),
		"unitPrice": formatAmount(e.UnitPrice),
	}}
}

// ResourceDurationExtended is emitted when a listing's expiry moves.
type ResourceDurationExtended struct {
	Index      uint64
	OldEndTick uint64
	EndTick    uint64
}

// EventType satisfies the Event interface.
func (ResourceDurationExtended) EventType() string { return TypeResourceDurationExtended }

// Event converts the structured payload into a broadcastable event.
func (e ResourceDurationExtended) Event() *types.Event {
	return &types.Event{Type: TypeResourceDurationExtended, Attributes: map[string]string{
		"index":      formatUint(e.Index),
		"oldEndTick": formatUint(e.OldEndTick),
		"endTick":    formatUint(e.EndTick),
	}}
}

// ResourceRemoved is emitted when a listing leaves the registry, either at
// the owner's request or through the expiry sweep.
type ResourceRemoved struct {
	Index    uint64
	Owner    common.Address
	Reason   string
	Released *big.Int
}

// EventType satisfies the Event interface.
func (ResourceRemoved) EventType() string { return TypeResourceRemoved }

// Event converts the structured payload into a broadcastable event.
func (e ResourceRemoved) Event() *types.Event {
	return &types.Event{Type: TypeResourceRemoved, Attributes: map[string]string{
		"index":    formatUint(e.Index),
		"owner":    formatAddress(e.Owner),
		"reason":   e.Reason,
		"released": formatAmount(e.Released),
	}}
}

// ResourceFaulted is emitted when the health check takes a resource offline.
type ResourceFaulted struct {
	Index      uint64
	FaultCount uint64
}

// EventType satisfies the Event interface.
func (ResourceFaulted) EventType() string { return TypeResourceFaulted }

// Event converts the structured payload into a broadcastable event.
func (e ResourceFaulted) Event() *types.Event {
	return &types.Event{Type: TypeResourceFaulted, Attributes: map[string]string{
		"index":      formatUint(e.Index),
		"faultCount": formatUint(e.FaultCount),
	}}
}
