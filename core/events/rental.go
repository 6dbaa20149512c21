package events

import (
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common"

	"gridmarket/core/types"
)

const (
	TypeOrderCreated       = "rental.orderCreated"
	TypeOrderExecuted      = "rental.orderExecuted"
	TypeOrderCanceled      = "rental.orderCanceled"
	TypeAgreementHeartbeat = "rental.heartbeat"
	TypeAgreementFinished  = "rental.agreementFinished"
	TypeAgreementPunished  = "rental.agreementPunished"
	TypeRentWithdrawn      = "rental.rentWithdrawn"
	TypeFaultRefunded      = "rental.faultRefunded"
)

// OrderCreated is emitted when a tenant requests a lease or a renewal.
type OrderCreated struct {
	Index          uint64
	Tenant         common.Address
	ResourceIndex  uint64
	RentDuration   uint64
	Renewal        bool
	AgreementIndex uint64
}

// EventType satisfies the Event interface.
func (OrderCreated) EventType() string { return TypeOrderCreated }

// Event converts the structured payload into a broadcastable event.
func (e OrderCreated) Event() *types.Event {
	attrs := map[string]string{
		"index":         formatUint(e.Index),
		"tenant":        formatAddress(e.Tenant),
		"resourceIndex": formatUint(e.ResourceIndex),
		"rentDuration":  formatUint(e.RentDuration),
		"renewal":       strconv.FormatBool(e.Renewal),
	}
	if e.Renewal {
		attrs["agreementIndex"] = formatUint(e.AgreementIndex)
	}
	return &types.Event{Type: TypeOrderCreated, Attributes: attrs}
}

// OrderExecuted is emitted when the provider accepts an order.
type OrderExecuted struct {
	OrderIndex     uint64
	AgreementIndex uint64
	Provider       common.Address
	Tenant         common.Address
	Renewal        bool
	Start          uint64
	End            uint64
	Rent           *big.Int
}

// EventType satisfies the Event interface.
func (OrderExecuted) EventType() string { return TypeOrderExecuted }

// Event converts the structured payload into a broadcastable event.
func (e OrderExecuted) Event() *types.Event {
	return &types.Event{Type: TypeOrderExecuted, Attributes: map[string]string{
		"orderIndex":     formatUint(e.OrderIndex),
		"agreementIndex": formatUint(e.AgreementIndex),
		"provider":       formatAddress(e.Provider),
		"tenant":         formatAddress(e.Tenant),
		"renewal":        strconv.FormatBool(e.Renewal),
		"start":          formatUint(e.Start),
		"end":            formatUint(e.End),
		"rent":           formatAmount(e.Rent),
	}}
}

// OrderCanceled is emitted when a pending order is withdrawn.
type OrderCanceled struct {
	OrderIndex uint64
	Tenant     common.Address
}

// EventType satisfies the Event interface.
func (OrderCanceled) EventType() string { return TypeOrderCanceled }

// Event converts the structured payload into a broadcastable event.
func (e OrderCanceled) Event() *types.Event {
	return &types.Event{Type: TypeOrderCanceled, Attributes: map[string]string{
		"orderIndex": formatUint(e.OrderIndex),
		"tenant":     formatAddress(e.Tenant),
	}}
}

// AgreementHeartbeat is emitted when a provider proves liveness.
type AgreementHeartbeat struct {
	AgreementIndex uint64
	Checkpoint     uint64
}

// EventType satisfies the Event interface.
func (AgreementHeartbeat) EventType() string { return TypeAgreementHeartbeat }

// Event converts the structured payload into a broadcastable event.
func (e AgreementHeartbeat) Event() *types.Event {
	return &types.Event{Type: TypeAgreementHeartbeat, Attributes: map[string]string{
		"agreementIndex": formatUint(e.AgreementIndex),
		"checkpoint":     formatUint(e.Checkpoint),
	}}
}

// AgreementFinished is emitted by the expiry sweep.
type AgreementFinished struct {
	AgreementIndex uint64
	Provider       common.Address
	Tenant         common.Address
	Settled        *big.Int
}

// EventType satisfies the Event interface.
func (AgreementFinished) EventType() string { return TypeAgreementFinished }

// Event converts the structured payload into a broadcastable event.
func (e AgreementFinished) Event() *types.Event {
	return &types.Event{Type: TypeAgreementFinished, Attributes: map[string]string{
		"agreementIndex": formatUint(e.AgreementIndex),
		"provider":       formatAddress(e.Provider),
		"tenant":         formatAddress(e.Tenant),
		"settled":        formatAmount(e.Settled),
	}}
}

// AgreementPunished is emitted by the health check when a provider misses
// its heartbeat window.
type AgreementPunished struct {
	AgreementIndex uint64
	Provider       common.Address
	Penalty        *big.Int
	PenaltyApplied bool
}

// EventType satisfies the Event interface.
func (AgreementPunished) EventType() string { return TypeAgreementPunished }

// Event converts the structured payload into a broadcastable event.
func (e AgreementPunished) Event() *types.Event {
	return &types.Event{Type: TypeAgreementPunished, Attributes: map[string]string{
		"agreementIndex": formatUint(e.AgreementIndex),
		"provider":       formatAddress(e.Provider),
		"penalty":        formatAmount(e.Penalty),
		"penaltyApplied": strconv.FormatBool(e.PenaltyApplied),
	}}
}

// RentWithdrawn is emitted when a provider collects earned rent.
type RentWithdrawn struct {
	AgreementIndex uint64
	Provider       common.Address
	Amount         *big.Int
}

// EventType satisfies the Event interface.
func (RentWithdrawn) EventType() string { return TypeRentWithdrawn }

// Event converts the structured payload into a broadcastable event.
func (e RentWithdrawn) Event() *types.Event {
	return &types.Event{Type: TypeRentWithdrawn, Attributes: map[string]string{
		"agreementIndex": formatUint(e.AgreementIndex),
		"provider":       formatAddress(e.Provider),
		"amount":         formatAmount(e.Amount),
	}}
}

// FaultRefunded is emitted when a tenant recovers unearned rent from a
// punished agreement.
type FaultRefunded struct {
	AgreementIndex uint64
	Tenant         common.Address
	Amount         *big.Int
}

// EventType satisfies the Event interface.
func (FaultRefunded) EventType() string { return TypeFaultRefunded }

// Event converts the structured payload into a broadcastable event.
func (e FaultRefunded) Event() *types.Event {
	return &types.Event{Type: TypeFaultRefunded, Attributes: map[string]string{
		"agreementIndex": formatUint(e.AgreementIndex),
		"tenant":         formatAddress(e.Tenant),
		"amount":         formatAmount(e.Amount),
	}}
}
