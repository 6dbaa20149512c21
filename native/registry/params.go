package registry

import (
	"fmt"
	"math/big"
)

const (
	DefaultExpiryBucketCap      = 400
	DefaultMaxResourcesPerOwner = 64
	DefaultMaxCPU               = 64
	DefaultMaxMemory            = 256
	DefaultMaxPeerIDLength      = 128
)

// Params configures registration limits and collateral.
type Params struct {
	// ResourceStakeBase is the collateral charged per CPU core and per unit
	// of memory.
	ResourceStakeBase    *big.Int
	ExpiryBucketCap      int
	MaxResourcesPerOwner int
	MaxCPU               uint64
	MaxMemory            uint64
	MaxPeerIDLength      int
}

// DefaultParams returns the stock registry limits.
func DefaultParams() Params {
	return Params{
		ResourceStakeBase:    big.NewInt(1_000_000),
		ExpiryBucketCap:      DefaultExpiryBucketCap,
		MaxResourcesPerOwner: DefaultMaxResourcesPerOwner,
		MaxCPU:               DefaultMaxCPU,
		MaxMemory:            DefaultMaxMemory,
		MaxPeerIDLength:      DefaultMaxPeerIDLength,
	}
}

// Validate checks the parameters for internal consistency.
func (p Params) Validate() error {
	if p.ResourceStakeBase == nil || p.ResourceStakeBase.Sign() <= 0 {
		return fmt.Errorf("registry: resource stake base must be positive")
	}
	if p.ExpiryBucketCap <= 0 {
		return fmt.Errorf("registry: expiry bucket cap must be positive")
	}
	if p.MaxResourcesPerOwner <= 0 {
		return fmt.Errorf("registry: max resources per owner must be positive")
	}
	if p.MaxCPU == 0 || p.MaxMemory == 0 {
		return fmt.Errorf("registry: cpu and memory limits must be positive")
	}
	if p.MaxPeerIDLength <= 0 {
		return fmt.Errorf("registry: max peer id length must be positive")
	}
	return nil
}

// Collateral returns the stake required to list cfg.
func (p Params) Collateral(cfg Config) *big.Int {
	cpu := new(big.Int).Mul(new(big.Int).SetUint64(cfg.CPU), p.ResourceStakeBase)
	mem := new(big.Int).Mul(new(big.Int).SetUint64(cfg.Memory), p.ResourceStakeBase)
	return cpu.Add(cpu, mem)
}
