package app

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"cosmossdk.io/log"
	sdkmath "cosmossdk.io/math"
	"github.com/rs/zerolog"
	"github.com/spf13/cast"
	"github.com/spf13/viper"

	"github.com/paw-chain/poc/app/telemetry"
	"github.com/paw-chain/poc/attestation"
	"github.com/paw-chain/poc/ledger"
	"github.com/paw-chain/poc/novelty"
	"github.com/paw-chain/poc/reputation"
	"github.com/paw-chain/poc/reward"
	"github.com/paw-chain/poc/store/sqlstore"
	"github.com/paw-chain/poc/sybil"
	"github.com/paw-chain/poc/treasury"
	"github.com/paw-chain/poc/types"
	"github.com/paw-chain/poc/validator"
)

const (
	// AppName is the daemon name.
	AppName = "pocd"

	// EnvPrefix prefixes environment overrides, e.g. POCD_API_ADDRESS.
	EnvPrefix = "POCD"

	configDir  = "config"
	configFile = "pocd.toml"
	dataDir    = "data"
	zkDir      = "zk"
)

// Version is set at build time.
var Version = "dev"

// DefaultNodeHome is the default home directory for the daemon.
var DefaultNodeHome string

func init() {
	userHomeDir, err := os.UserHomeDir()
	if err != nil {
		panic(err)
	}
	DefaultNodeHome = filepath.Join(userHomeDir, "."+AppName)
}

// Reward store backends
const (
	RewardBackendKV       = "kv"
	RewardBackendSQLite   = string(sqlstore.DialectSQLite)
	RewardBackendPostgres = string(sqlstore.DialectPostgres)
)

// Config is the complete node configuration.
type Config struct {
	Home string `mapstructure:"-" json:"-"`

	Log         LogConfig          `mapstructure:"log" json:"log"`
	Storage     StorageConfig      `mapstructure:"storage" json:"storage"`
	ZK          ZKConfig           `mapstructure:"zk" json:"zk"`
	Validator   validator.Config   `mapstructure:"validator" json:"validator"`
	Novelty     novelty.Config     `mapstructure:"novelty" json:"novelty"`
	Sybil       sybil.Config       `mapstructure:"sybil" json:"sybil"`
	Attestation attestation.Config `mapstructure:"attestation" json:"attestation"`
	Reputation  reputation.Config  `mapstructure:"reputation" json:"reputation"`
	Reward      RewardConfig       `mapstructure:"reward" json:"reward"`
	Network     NetworkConfig      `mapstructure:"network" json:"network"`
	Treasury    treasury.Config    `mapstructure:"treasury" json:"treasury"`
	Ledger      LedgerConfig       `mapstructure:"ledger" json:"ledger"`
	Epoch       EpochConfig        `mapstructure:"epoch" json:"epoch"`
	API         APIConfig          `mapstructure:"api" json:"api"`
	Telemetry   telemetry.Config   `mapstructure:"telemetry" json:"telemetry"`
	Intake      IntakeConfig       `mapstructure:"intake" json:"intake"`
	Devnet      DevnetConfig       `mapstructure:"devnet" json:"devnet"`
}

// LogConfig configures the node logger.
type LogConfig struct {
	Level string `mapstructure:"level" json:"level"`
	JSON  bool   `mapstructure:"json" json:"json"`
}

// StorageConfig selects the storage backends.
type StorageConfig struct {
	// Backend is the cosmos-db backend of the main store (goleveldb or memdb).
	Backend string `mapstructure:"backend" json:"backend"`
	// RewardBackend is kv, sqlite or postgres.
	RewardBackend string `mapstructure:"reward_backend" json:"reward_backend"`
	// RewardDSN is the SQL data source; for sqlite a relative path is under the data dir.
	RewardDSN string `mapstructure:"reward_dsn" json:"reward_dsn"`
}

// ZKConfig locates proving systems.
type ZKConfig struct {
	Schemes []string `mapstructure:"schemes" json:"schemes"`
	// AutoSetup runs an insecure development setup for schemes without keys.
	AutoSetup bool `mapstructure:"auto_setup" json:"auto_setup"`
}

// RewardConfig wraps the engine configuration with base reward overrides
// keyed by contribution type name.
type RewardConfig struct {
	reward.Config       `mapstructure:",squash"`
	BaseRewardOverrides map[string]interface{} `mapstructure:"base_rewards" json:"base_reward_overrides,omitempty"`
}

// NetworkConfig holds the economic signals of the NetworkState snapshot.
type NetworkConfig struct {
	Demand  map[string]interface{} `mapstructure:"demand" json:"demand,omitempty"`
	Pricing float64                `mapstructure:"pricing" json:"pricing"`
}

// LedgerConfig configures the token ledger.
type LedgerConfig struct {
	Breaker ledger.BreakerConfig `mapstructure:"breaker" json:"breaker"`
	// TreasuryGenesis is deposited once into an empty treasury.
	TreasuryGenesis string `mapstructure:"treasury_genesis" json:"treasury_genesis"`
}

// EpochConfig configures the epoch clock.
type EpochConfig struct {
	Duration time.Duration `mapstructure:"duration" json:"duration"`
}

// APIConfig configures the HTTP API.
type APIConfig struct {
	Enable          bool          `mapstructure:"enable" json:"enable"`
	Address         string        `mapstructure:"address" json:"address"`
	CORSOrigins     []string      `mapstructure:"cors_origins" json:"cors_origins"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout" json:"write_timeout"`
	MaxRequestBytes int64         `mapstructure:"max_request_bytes" json:"max_request_bytes"`
}

// IntakeConfig bounds submission intake.
type IntakeConfig struct {
	// RatePerSecond is the sustained submissions per second per submitter.
	RatePerSecond float64 `mapstructure:"rate_per_second" json:"rate_per_second"`
	Burst         int     `mapstructure:"burst" json:"burst"`
	// MaxInFlight bounds asynchronous validations.
	MaxInFlight int `mapstructure:"max_in_flight" json:"max_in_flight"`
	// MaxTracked bounds the number of per-submitter limiters kept.
	MaxTracked int `mapstructure:"max_tracked" json:"max_tracked"`
	// MaxClockSkew is how far ahead of the node clock a submission
	// timestamp may be.
	MaxClockSkew time.Duration `mapstructure:"max_clock_skew" json:"max_clock_skew"`
}

// DevnetConfig configures the loopback attester set of a standalone node.
type DevnetConfig struct {
	Peers       int           `mapstructure:"peers" json:"peers"`
	MinQuality  float64       `mapstructure:"min_quality" json:"min_quality"`
	Seed        int64         `mapstructure:"seed" json:"seed"`
	VoteTimeout time.Duration `mapstructure:"vote_timeout" json:"vote_timeout"`
}

// DefaultConfig returns the default configuration rooted at home.
func DefaultConfig(home string) Config {
	return Config{
		Home: home,
		Log:  LogConfig{Level: "info"},
		Storage: StorageConfig{
			Backend:       "goleveldb",
			RewardBackend: RewardBackendKV,
			RewardDSN:     "rewards.sqlite",
		},
		ZK: ZKConfig{
			Schemes:   []string{string(types.SchemeGroth16)},
			AutoSetup: true,
		},
		Validator:   validator.DefaultConfig(),
		Novelty:     novelty.DefaultConfig(),
		Sybil:       sybil.DefaultConfig(),
		Attestation: attestation.DefaultConfig(),
		Reputation:  reputation.DefaultConfig(),
		Reward:      RewardConfig{Config: reward.DefaultConfig()},
		Network:     NetworkConfig{Pricing: 1.0},
		Treasury:    treasury.DefaultConfig(),
		Ledger: LedgerConfig{
			Breaker:         ledger.DefaultBreakerConfig(),
			TreasuryGenesis: "100000",
		},
		Epoch: EpochConfig{Duration: time.Hour},
		API: APIConfig{
			Enable:          true,
			Address:         "127.0.0.1:1318",
			CORSOrigins:     []string{"*"},
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    30 * time.Second,
			MaxRequestBytes: 2 << 20,
		},
		Telemetry: telemetry.DefaultConfig(),
		Intake: IntakeConfig{
			RatePerSecond: 2,
			Burst:         10,
			MaxInFlight:   256,
			MaxTracked:    100_000,
			MaxClockSkew:  5 * time.Minute,
		},
		Devnet: DevnetConfig{
			Peers:       9,
			MinQuality:  0.2,
			Seed:        1,
			VoteTimeout: 2 * time.Second,
		},
	}
}

// ConfigPath returns the config file path under home.
func ConfigPath(home string) string {
	return filepath.Join(home, configDir, configFile)
}

// DataDir returns the data directory under home.
func (c Config) DataDir() string { return filepath.Join(c.Home, dataDir) }

// ZKDir returns the directory of proving and verifying keys.
func (c Config) ZKDir() string { return filepath.Join(c.Home, configDir, zkDir) }

// LoadConfig reads home/config/pocd.toml over the defaults. A missing file is
// not an error. Values set on v (bound flags, environment) take precedence.
func LoadConfig(home string, v *viper.Viper) (Config, error) {
	cfg := DefaultConfig(home)
	if v == nil {
		v = viper.New()
	}
	v.SetConfigFile(ConfigPath(home))
	v.SetConfigType("toml")
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return cfg, fmt.Errorf("failed to read config: %w", err)
		}
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("failed to decode config: %w", err)
	}
	cfg.Home = home
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate checks every section.
func (c Config) Validate() error {
	if _, err := zerolog.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("invalid log level %q: %w", c.Log.Level, err)
	}
	switch c.Storage.Backend {
	case "goleveldb", "memdb":
	default:
		return fmt.Errorf("unsupported storage backend %q", c.Storage.Backend)
	}
	switch c.Storage.RewardBackend {
	case RewardBackendKV:
	case RewardBackendSQLite, RewardBackendPostgres:
		if c.Storage.RewardDSN == "" {
			return fmt.Errorf("reward backend %s requires reward_dsn", c.Storage.RewardBackend)
		}
	default:
		return fmt.Errorf("unsupported reward backend %q", c.Storage.RewardBackend)
	}
	if len(c.ZK.Schemes) == 0 {
		return fmt.Errorf("at least one proof scheme is required")
	}
	for _, s := range c.ZK.Schemes {
		switch types.ProofScheme(s) {
		case types.SchemeGroth16, types.SchemePlonk:
		default:
			return types.ErrSchemeUnsupported.Wrapf("scheme %q", s)
		}
	}

	validators := []struct {
		name string
		fn   func() error
	}{
		{"novelty", c.Novelty.Validate},
		{"sybil", c.Sybil.Validate},
		{"attestation", c.Attestation.Validate},
		{"reputation", c.Reputation.Validate},
		{"treasury", c.Treasury.Validate},
		{"telemetry", c.Telemetry.Validate},
	}
	for _, v := range validators {
		if err := v.fn(); err != nil {
			return fmt.Errorf("%s: %w", v.name, err)
		}
	}
	if c.Validator.ProofWorkers < 1 {
		return fmt.Errorf("validator: proof workers must be >= 1")
	}
	if _, err := c.RewardEngineConfig(); err != nil {
		return fmt.Errorf("reward: %w", err)
	}
	if _, err := c.Demand(); err != nil {
		return fmt.Errorf("network: %w", err)
	}
	if c.Network.Pricing < 0 {
		return fmt.Errorf("network: pricing must be non-negative")
	}
	if _, err := parseAmount(c.Ledger.TreasuryGenesis); err != nil {
		return fmt.Errorf("ledger: treasury genesis: %w", err)
	}
	if c.Epoch.Duration <= 0 {
		return fmt.Errorf("epoch duration must be positive")
	}
	if c.API.Enable && c.API.Address == "" {
		return fmt.Errorf("api address is required when the api is enabled")
	}
	if c.Intake.RatePerSecond <= 0 || c.Intake.Burst < 1 {
		return fmt.Errorf("intake rate and burst must be positive")
	}
	if c.Intake.MaxInFlight < 1 || c.Intake.MaxTracked < 1 {
		return fmt.Errorf("intake bounds must be positive")
	}
	if c.Intake.MaxClockSkew <= 0 {
		return fmt.Errorf("intake max clock skew must be positive")
	}
	if c.Devnet.Peers < c.Attestation.SampleSize {
		return fmt.Errorf("devnet peers %d below attestation sample size %d", c.Devnet.Peers, c.Attestation.SampleSize)
	}
	return nil
}

// RewardEngineConfig applies base reward overrides to the engine defaults.
func (c Config) RewardEngineConfig() (reward.Config, error) {
	out := c.Reward.Config
	base := reward.DefaultBaseRewards()
	for t, v := range out.BaseRewards {
		base[t] = v
	}
	if err := applyOverrides(base, c.Reward.BaseRewardOverrides); err != nil {
		return out, err
	}
	out.BaseRewards = base
	return out, out.Validate()
}

// Demand returns the per-type demand signal with overrides applied.
func (c Config) Demand() (map[types.ContributionType]float64, error) {
	demand := reward.DefaultDemand()
	if err := applyOverrides(demand, c.Network.Demand); err != nil {
		return nil, err
	}
	return demand, nil
}

// applyOverrides converts loosely typed TOML values keyed by contribution
// type name.
func applyOverrides(dst map[types.ContributionType]float64, overrides map[string]interface{}) error {
	for name, raw := range overrides {
		t, err := types.ParseContributionType(name)
		if err != nil {
			return err
		}
		v, err := cast.ToFloat64E(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
		dst[t] = v
	}
	return nil
}

// NewLogger builds the node logger from the log section.
func NewLogger(cfg LogConfig, w io.Writer) (log.Logger, error) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	opts := []log.Option{log.LevelOption(level)}
	if cfg.JSON {
		opts = append(opts, log.OutputJSONOption())
	}
	return log.NewLogger(w, opts...), nil
}

// parseAmount parses a non-negative token amount.
func parseAmount(s string) (sdkmath.LegacyDec, error) {
	if s == "" {
		return sdkmath.LegacyZeroDec(), nil
	}
	d, err := sdkmath.LegacyNewDecFromStr(s)
	if err != nil {
		return d, err
	}
	if d.IsNegative() {
		return d, fmt.Errorf("amount %s is negative", s)
	}
	return d, nil
}
