package config

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"gridmarket/core/market"
	"gridmarket/native/registry"
	"gridmarket/native/rental"
	"gridmarket/native/rewards"
)

// MarketParams converts the market section into engine parameters.
func (cfg *Config) MarketParams() (market.Params, error) {
	m := cfg.Market
	params := market.Params{
		Registry: registry.Params{
			ExpiryBucketCap:      m.Registry.ExpiryBucketCap,
			MaxResourcesPerOwner: m.Registry.MaxResourcesPerOwner,
			MaxCPU:               m.Registry.MaxCPU,
			MaxMemory:            m.Registry.MaxMemory,
			MaxPeerIDLength:      m.Registry.MaxPeerIDLength,
		},
		Rental: rental.Params{
			HealthCheckInterval:     m.Rental.HealthCheckInterval,
			HealthCheckPeriod:       m.Rental.HealthCheckPeriod,
			AgreementBucketCap:      m.Rental.AgreementBucketCap,
			MaxAgreementsPerAccount: m.Rental.MaxAgreementsPerAccount,
			MaxPubKeyLength:         m.Rental.MaxPubKeyLength,
		},
		Rewards: rewards.Params{
			ForBlock:              m.Rewards.ForBlock,
			ProviderPointsPercent: m.Rewards.ProviderPointsPercent,
			MaxDatasetLength:      m.Rewards.MaxDatasetLength,
		},
		EpochLength: m.Rewards.EpochLength,
	}
	amounts := []struct {
		name  string
		value string
		dst   **big.Int
	}{
		{"market.MinimumBalance", m.MinimumBalance, &params.MinimumBalance},
		{"market.registry.ResourceStakeBase", m.Registry.ResourceStakeBase, &params.Registry.ResourceStakeBase},
		{"market.rental.ClientStakingFee", m.Rental.ClientStakingFee, &params.Rental.ClientStakingFee},
		{"market.rental.FaultPenaltyUnit", m.Rental.FaultPenaltyUnit, &params.Rental.FaultPenaltyUnit},
		{"market.rewards.ProviderEpochPayout", m.Rewards.ProviderEpochPayout, &params.ProviderEpochPayout},
		{"market.rewards.ClientEpochPayout", m.Rewards.ClientEpochPayout, &params.ClientEpochPayout},
	}
	for _, a := range amounts {
		v, err := parseUintAmount(a.value)
		if err != nil {
			return market.Params{}, fmt.Errorf("invalid %s: %w", a.name, err)
		}
		*a.dst = v
	}
	return params, nil
}

// GenesisState converts the genesis section into balances applied once by
// the engine.
func (cfg *Config) GenesisState() (market.Genesis, error) {
	gen := market.Genesis{Accounts: make([]market.Allocation, 0, len(cfg.Genesis.Accounts))}
	seen := make(map[common.Address]struct{}, len(cfg.Genesis.Accounts))
	for i, acct := range cfg.Genesis.Accounts {
		addr := strings.TrimSpace(acct.Address)
		if !common.IsHexAddress(addr) {
			return market.Genesis{}, fmt.Errorf("genesis.accounts[%d]: invalid address %q", i, acct.Address)
		}
		parsed := common.HexToAddress(addr)
		if _, dup := seen[parsed]; dup {
			return market.Genesis{}, fmt.Errorf("genesis.accounts[%d]: duplicate address %s", i, parsed.Hex())
		}
		seen[parsed] = struct{}{}
		balance, err := parseUintAmount(acct.Balance)
		if err != nil {
			return market.Genesis{}, fmt.Errorf("genesis.accounts[%d]: %w", i, err)
		}
		gen.Accounts = append(gen.Accounts, market.Allocation{Address: parsed, Balance: balance})
	}
	pot, err := parseUintAmount(cfg.Genesis.RewardPot)
	if err != nil {
		return market.Genesis{}, fmt.Errorf("invalid genesis.RewardPot: %w", err)
	}
	gen.RewardPot = pot
	return gen, nil
}

func parseUintAmount(raw string) (*big.Int, error) {
	trimmed := strings.ReplaceAll(strings.TrimSpace(raw), "_", "")
	if trimmed == "" {
		return big.NewInt(0), nil
	}
	v, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("%q is not a decimal amount", raw)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("%q must not be negative", raw)
	}
	return v, nil
}
