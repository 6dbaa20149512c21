package rental

import (
	"fmt"
	"math/big"
)

const (
	DefaultHealthCheckInterval     = 30
	DefaultHealthCheckPeriod       = 10
	DefaultAgreementBucketCap      = 400
	DefaultMaxAgreementsPerAccount = 128
	DefaultMaxPubKeyLength         = 256
)

// Params configures the rental manager.
type Params struct {
	// ClientStakingFee is locked from the tenant for the life of an agreement.
	ClientStakingFee *big.Int
	// FaultPenaltyUnit is seized from a provider per CPU core and per unit of
	// memory of a resource that missed its heartbeat.
	FaultPenaltyUnit *big.Int
	// HealthCheckInterval is the number of ticks an agreement may go without
	// a heartbeat.
	HealthCheckInterval uint64
	// HealthCheckPeriod is how often, in ticks, the health check runs.
	HealthCheckPeriod       uint64
	AgreementBucketCap      int
	MaxAgreementsPerAccount int
	MaxPubKeyLength         int
}

// DefaultParams returns the stock rental parameters.
func DefaultParams() Params {
	return Params{
		ClientStakingFee:        big.NewInt(10_000_000),
		FaultPenaltyUnit:        big.NewInt(100_000),
		HealthCheckInterval:     DefaultHealthCheckInterval,
		HealthCheckPeriod:       DefaultHealthCheckPeriod,
		AgreementBucketCap:      DefaultAgreementBucketCap,
		MaxAgreementsPerAccount: DefaultMaxAgreementsPerAccount,
		MaxPubKeyLength:         DefaultMaxPubKeyLength,
	}
}

// Validate checks the parameters for internal consistency.
func (p Params) Validate() error {
	if p.ClientStakingFee == nil || p.ClientStakingFee.Sign() < 0 {
		return fmt.Errorf("rental: client staking fee must not be negative")
	}
	if p.FaultPenaltyUnit == nil || p.FaultPenaltyUnit.Sign() < 0 {
		return fmt.Errorf("rental: fault penalty unit must not be negative")
	}
	if p.HealthCheckInterval == 0 {
		return fmt.Errorf("rental: health check interval must be positive")
	}
	if p.HealthCheckPeriod == 0 {
		return fmt.Errorf("rental: health check period must be positive")
	}
	if p.AgreementBucketCap <= 0 || p.MaxAgreementsPerAccount <= 0 {
		return fmt.Errorf("rental: capacity limits must be positive")
	}
	if p.MaxPubKeyLength <= 0 {
		return fmt.Errorf("rental: max pubkey length must be positive")
	}
	return nil
}
