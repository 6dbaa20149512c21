package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestLoadCreatesDefaultFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "config.toml")

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, BackendLevelDB, cfg.Node.Backend)
	require.FileExists(t, path)

	reloaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, cfg.Market, reloaded.Market)
	require.Equal(t, cfg.Node, reloaded.Node)
}

func TestLoadParsesTOML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	contents := `[node]
DataDir = "/var/lib/market"
Backend = "Bolt"
TickIntervalMillis = 500

[market]
MinimumBalance = "10"

[market.rental]
ClientStakingFee = "5_000"
HealthCheckInterval = 12
HealthCheckPeriod = 3

[market.rewards]
ForBlock = 50
EpochLength = 100
ProviderEpochPayout = "1000000000000000000000000"

[genesis]
RewardPot = "500"

[[genesis.accounts]]
Address = "0x00000000000000000000000000000000000000aa"
Balance = "1000"

[eventlog]
Driver = "sqlite"
DSN = "file:events.db"
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, BackendBolt, cfg.Node.Backend)
	require.EqualValues(t, 500, cfg.Node.TickIntervalMillis)

	params, err := cfg.MarketParams()
	require.NoError(t, err)
	require.Equal(t, "10", params.MinimumBalance.String())
	require.Equal(t, "5000", params.Rental.ClientStakingFee.String())
	require.EqualValues(t, 12, params.Rental.HealthCheckInterval)
	require.EqualValues(t, 3, params.Rental.HealthCheckPeriod)
	require.Equal(t, 400, params.Rental.AgreementBucketCap)
	require.Equal(t, 50, params.Rewards.ForBlock)
	require.EqualValues(t, 100, params.EpochLength)
	require.Equal(t, "1000000000000000000000000", params.ProviderEpochPayout.String())
	require.Equal(t, "1000000", params.Registry.ResourceStakeBase.String())

	gen, err := cfg.GenesisState()
	require.NoError(t, err)
	require.Len(t, gen.Accounts, 1)
	require.Equal(t, common.HexToAddress("0xaa"), gen.Accounts[0].Address)
	require.Equal(t, "1000", gen.Accounts[0].Balance.String())
	require.Equal(t, "500", gen.RewardPot.String())
	require.Equal(t, "sqlite", cfg.EventLog.Driver)
}

func TestLoadParsesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	contents := `node:
  backend: memory
market:
  registry:
    maxCPU: 8
api:
  listen: "127.0.0.1:9000"
  rateLimitPerSecond: 5
  rateLimitBurst: 10
logging:
  file: /tmp/market.log
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, BackendMemory, cfg.Node.Backend)
	require.EqualValues(t, 8, cfg.Market.Registry.MaxCPU)
	require.EqualValues(t, 256, cfg.Market.Registry.MaxMemory)
	require.Equal(t, "127.0.0.1:9000", cfg.API.ListenAddress)
	require.Equal(t, "/tmp/market.log", cfg.Logging.File)
}

func TestLoadRejectsUnknownTOMLKeys(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[node]\nValidatorKey = \"abc\"\n"), 0o644))

	_, err := Load(path)
	require.ErrorContains(t, err, "unknown key")
}

func TestLoadReadsJWTSecretFromEnv(t *testing.T) {
	t.Setenv("MARKET_TEST_SECRET", "  hunter2 ")
	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("[api]\nJWTSecretEnv = \"MARKET_TEST_SECRET\"\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, "hunter2", cfg.API.JWTSecret)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "defaults"},
		{
			name:    "unknown backend",
			mutate:  func(c *Config) { c.Node.Backend = "rocksdb" },
			wantErr: "unsupported backend",
		},
		{
			name:    "persistent backend needs data dir",
			mutate:  func(c *Config) { c.Node.DataDir = " " },
			wantErr: "DataDir is required",
		},
		{
			name:    "negative amount",
			mutate:  func(c *Config) { c.Market.Rental.ClientStakingFee = "-1" },
			wantErr: "must not be negative",
		},
		{
			name:    "malformed amount",
			mutate:  func(c *Config) { c.Market.Registry.ResourceStakeBase = "1e6" },
			wantErr: "not a decimal amount",
		},
		{
			name:    "zero stake base",
			mutate:  func(c *Config) { c.Market.Registry.ResourceStakeBase = "0" },
			wantErr: "resource stake base must be positive",
		},
		{
			name:    "zero for-block budget",
			mutate:  func(c *Config) { c.Market.Rewards.ForBlock = 0 },
			wantErr: "for-block budget",
		},
		{
			name: "bad genesis address",
			mutate: func(c *Config) {
				c.Genesis.Accounts = []GenesisAccount{{Address: "alice", Balance: "1"}}
			},
			wantErr: "invalid address",
		},
		{
			name: "duplicate genesis address",
			mutate: func(c *Config) {
				c.Genesis.Accounts = []GenesisAccount{
					{Address: "0x00000000000000000000000000000000000000aa", Balance: "1"},
					{Address: "0x00000000000000000000000000000000000000AA", Balance: "2"},
				}
			},
			wantErr: "duplicate address",
		},
		{
			name:    "burst required with rate",
			mutate:  func(c *Config) { c.API.RateLimitBurst = 0 },
			wantErr: "RateLimitBurst",
		},
		{
			name:    "unsupported eventlog driver",
			mutate:  func(c *Config) { c.EventLog.Driver = "mysql" },
			wantErr: "unsupported driver",
		},
		{
			name:    "eventlog dsn",
			mutate:  func(c *Config) { c.EventLog.Driver = "postgres" },
			wantErr: "DSN is required",
		},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			cfg := Default()
			if tc.mutate != nil {
				tc.mutate(cfg)
			}
			err := cfg.Validate()
			if tc.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.ErrorContains(t, err, tc.wantErr)
		})
	}
}
