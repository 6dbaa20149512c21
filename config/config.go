package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

const (
	BackendMemory  = "memory"
	BackendLevelDB = "leveldb"
	BackendBolt    = "bolt"
)

// Config is the node configuration read by marketd.
type Config struct {
	Node      NodeConfig      `toml:"node" yaml:"node"`
	Market    MarketConfig    `toml:"market" yaml:"market"`
	Genesis   GenesisConfig   `toml:"genesis" yaml:"genesis"`
	API       APIConfig       `toml:"api" yaml:"api"`
	Logging   LoggingConfig   `toml:"logging" yaml:"logging"`
	EventLog  EventLogConfig  `toml:"eventlog" yaml:"eventlog"`
	Telemetry TelemetryConfig `toml:"telemetry" yaml:"telemetry"`
}

type NodeConfig struct {
	DataDir string `toml:"DataDir" yaml:"dataDir"`
	// Backend selects the state store: memory, leveldb or bolt.
	Backend            string `toml:"Backend" yaml:"backend"`
	TickIntervalMillis uint64 `toml:"TickIntervalMillis" yaml:"tickIntervalMillis"`
}

// MarketConfig carries the economic parameters. Amounts are decimal strings
// so that values beyond 64 bits survive both encodings.
type MarketConfig struct {
	MinimumBalance string         `toml:"MinimumBalance" yaml:"minimumBalance"`
	Registry       RegistryConfig `toml:"registry" yaml:"registry"`
	Rental         RentalConfig   `toml:"rental" yaml:"rental"`
	Rewards        RewardsConfig  `toml:"rewards" yaml:"rewards"`
}

type RegistryConfig struct {
	ResourceStakeBase    string `toml:"ResourceStakeBase" yaml:"resourceStakeBase"`
	ExpiryBucketCap      int    `toml:"ExpiryBucketCap" yaml:"expiryBucketCap"`
	MaxResourcesPerOwner int    `toml:"MaxResourcesPerOwner" yaml:"maxResourcesPerOwner"`
	MaxCPU               uint64 `toml:"MaxCPU" yaml:"maxCPU"`
	MaxMemory            uint64 `toml:"MaxMemory" yaml:"maxMemory"`
	MaxPeerIDLength      int    `toml:"MaxPeerIDLength" yaml:"maxPeerIDLength"`
}

type RentalConfig struct {
	ClientStakingFee        string `toml:"ClientStakingFee" yaml:"clientStakingFee"`
	FaultPenaltyUnit        string `toml:"FaultPenaltyUnit" yaml:"faultPenaltyUnit"`
	HealthCheckInterval     uint64 `toml:"HealthCheckInterval" yaml:"healthCheckInterval"`
	HealthCheckPeriod       uint64 `toml:"HealthCheckPeriod" yaml:"healthCheckPeriod"`
	AgreementBucketCap      int    `toml:"AgreementBucketCap" yaml:"agreementBucketCap"`
	MaxAgreementsPerAccount int    `toml:"MaxAgreementsPerAccount" yaml:"maxAgreementsPerAccount"`
	MaxPubKeyLength         int    `toml:"MaxPubKeyLength" yaml:"maxPubKeyLength"`
}

type RewardsConfig struct {
	ForBlock              int    `toml:"ForBlock" yaml:"forBlock"`
	ProviderPointsPercent uint64 `toml:"ProviderPointsPercent" yaml:"providerPointsPercent"`
	MaxDatasetLength      int    `toml:"MaxDatasetLength" yaml:"maxDatasetLength"`
	// EpochLength is the number of ticks between automatic provider and
	// client reward snapshots. Zero disables the trigger.
	EpochLength         uint64 `toml:"EpochLength" yaml:"epochLength"`
	ProviderEpochPayout string `toml:"ProviderEpochPayout" yaml:"providerEpochPayout"`
	ClientEpochPayout   string `toml:"ClientEpochPayout" yaml:"clientEpochPayout"`
}

// GenesisConfig seeds balances the first time a data directory is opened.
type GenesisConfig struct {
	Accounts  []GenesisAccount `toml:"accounts" yaml:"accounts"`
	RewardPot string           `toml:"RewardPot" yaml:"rewardPot"`
}

type GenesisAccount struct {
	Address string `toml:"Address" yaml:"address"`
	Balance string `toml:"Balance" yaml:"balance"`
}

type APIConfig struct {
	ListenAddress      string  `toml:"ListenAddress" yaml:"listen"`
	ReadTimeoutSecs    int     `toml:"ReadTimeout" yaml:"readTimeout"`
	WriteTimeoutSecs   int     `toml:"WriteTimeout" yaml:"writeTimeout"`
	JWTSecret          string  `toml:"JWTSecret" yaml:"jwtSecret"`
	JWTSecretEnv       string  `toml:"JWTSecretEnv" yaml:"jwtSecretEnv"`
	JWTIssuer          string  `toml:"JWTIssuer" yaml:"jwtIssuer"`
	RateLimitPerSecond float64 `toml:"RateLimitPerSecond" yaml:"rateLimitPerSecond"`
	RateLimitBurst     int     `toml:"RateLimitBurst" yaml:"rateLimitBurst"`
	Tracing            bool    `toml:"Tracing" yaml:"tracing"`
}

type LoggingConfig struct {
	Env   string `toml:"Env" yaml:"env"`
	Level string `toml:"Level" yaml:"level"`
	// File enables rotated file output in addition to stdout.
	File       string `toml:"File" yaml:"file"`
	MaxSizeMB  int    `toml:"MaxSizeMB" yaml:"maxSizeMB"`
	MaxBackups int    `toml:"MaxBackups" yaml:"maxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays" yaml:"maxAgeDays"`
}

// EventLogConfig enables the SQL event journal. An empty driver disables it.
type EventLogConfig struct {
	Driver string `toml:"Driver" yaml:"driver"`
	DSN    string `toml:"DSN" yaml:"dsn"`
}

// TelemetryConfig wires the OTLP exporters. Both are off by default.
type TelemetryConfig struct {
	Endpoint string `toml:"Endpoint" yaml:"endpoint"`
	Insecure bool   `toml:"Insecure" yaml:"insecure"`
	// Headers is a comma-separated key=value list sent with every export.
	Headers string `toml:"Headers" yaml:"headers"`
	Traces  bool   `toml:"Traces" yaml:"traces"`
	Metrics bool   `toml:"Metrics" yaml:"metrics"`
}

// Default returns a configuration suitable for a local single-node market.
func Default() *Config {
	return &Config{
		Node: NodeConfig{
			DataDir:            "./market-data",
			Backend:            BackendLevelDB,
			TickIntervalMillis: 6000,
		},
		Market: MarketConfig{
			MinimumBalance: "1000",
			Registry: RegistryConfig{
				ResourceStakeBase:    "1000000",
				ExpiryBucketCap:      400,
				MaxResourcesPerOwner: 64,
				MaxCPU:               64,
				MaxMemory:            256,
				MaxPeerIDLength:      128,
			},
			Rental: RentalConfig{
				ClientStakingFee:        "10000000",
				FaultPenaltyUnit:        "100000",
				HealthCheckInterval:     30,
				HealthCheckPeriod:       10,
				AgreementBucketCap:      400,
				MaxAgreementsPerAccount: 128,
				MaxPubKeyLength:         256,
			},
			Rewards: RewardsConfig{
				ForBlock:              500,
				ProviderPointsPercent: 60,
				MaxDatasetLength:      100000,
				EpochLength:           14400,
				ProviderEpochPayout:   "0",
				ClientEpochPayout:     "0",
			},
		},
		Genesis: GenesisConfig{
			Accounts:  []GenesisAccount{},
			RewardPot: "0",
		},
		API: APIConfig{
			ListenAddress:      ":8545",
			ReadTimeoutSecs:    15,
			WriteTimeoutSecs:   15,
			JWTSecretEnv:       "MARKET_JWT_SECRET",
			JWTIssuer:          "gridmarket",
			RateLimitPerSecond: 20,
			RateLimitBurst:     40,
		},
		Logging: LoggingConfig{
			Env:        "local",
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 5,
			MaxAgeDays: 28,
		},
		Telemetry: TelemetryConfig{
			Endpoint: "localhost:4318",
		},
	}
}

// Load loads the configuration from the given path. Files ending in .yaml or
// .yml are decoded as YAML, anything else as TOML. A missing file is created
// with the defaults.
func Load(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	cfg := Default()
	if isYAML(path) {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("decode config %s: %w", path, err)
		}
	} else {
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, fmt.Errorf("decode config %s: %w", path, err)
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("config file %s has unknown key %s", path, undecoded[0].String())
		}
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (cfg *Config) applyDefaults() {
	def := Default()
	if strings.TrimSpace(cfg.Node.Backend) == "" {
		cfg.Node.Backend = def.Node.Backend
	}
	cfg.Node.Backend = strings.ToLower(strings.TrimSpace(cfg.Node.Backend))
	if cfg.Node.TickIntervalMillis == 0 {
		cfg.Node.TickIntervalMillis = def.Node.TickIntervalMillis
	}
	if cfg.Genesis.Accounts == nil {
		cfg.Genesis.Accounts = []GenesisAccount{}
	}
	if strings.TrimSpace(cfg.Genesis.RewardPot) == "" {
		cfg.Genesis.RewardPot = "0"
	}
	if cfg.API.JWTSecret == "" && cfg.API.JWTSecretEnv != "" {
		cfg.API.JWTSecret = strings.TrimSpace(os.Getenv(cfg.API.JWTSecretEnv))
	}
	cfg.EventLog.Driver = strings.ToLower(strings.TrimSpace(cfg.EventLog.Driver))
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := Default()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	if isYAML(path) {
		enc := yaml.NewEncoder(f)
		defer enc.Close()
		return enc.Encode(cfg)
	}
	return toml.NewEncoder(f).Encode(cfg)
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}
