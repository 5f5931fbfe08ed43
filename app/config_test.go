package app

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"

	"github.com/paw-chain/poc/types"
)

func writeConfig(t *testing.T, home, body string) {
	t.Helper()
	path := ConfigPath(home)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
}

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig(t.TempDir())
	require.NoError(t, cfg.Validate())
	require.Equal(t, filepath.Join(cfg.Home, "data"), cfg.DataDir())
	require.Equal(t, filepath.Join(cfg.Home, "config", "zk"), cfg.ZKDir())
}

func TestLoadConfigWithoutFile(t *testing.T) {
	home := t.TempDir()
	cfg, err := LoadConfig(home, nil)
	require.NoError(t, err)
	require.Equal(t, home, cfg.Home)
	require.Equal(t, DefaultConfig(home).API.Address, cfg.API.Address)
	require.Equal(t, time.Hour, cfg.Epoch.Duration)
}

func TestLoadConfigOverrides(t *testing.T) {
	home := t.TempDir()
	writeConfig(t, home, `
[log]
level = "debug"
json = true

[storage]
backend = "memdb"
reward_backend = "sqlite"
reward_dsn = "rewards.db"

[attestation]
sample_size = 9
quorum = 6
window = "2s"
max_attempts = 4

[reward]
treasury_fee_bps = 250

[reward.base_rewards]
ml_training = 3.5

[network]
pricing = 1.25

[network.demand]
simulation = 1.9

[epoch]
duration = "10m"

[devnet]
peers = 12
`)

	cfg, err := LoadConfig(home, nil)
	require.NoError(t, err)
	require.Equal(t, "debug", cfg.Log.Level)
	require.True(t, cfg.Log.JSON)
	require.Equal(t, "memdb", cfg.Storage.Backend)
	require.Equal(t, RewardBackendSQLite, cfg.Storage.RewardBackend)
	require.Equal(t, 9, cfg.Attestation.SampleSize)
	require.Equal(t, 2*time.Second, cfg.Attestation.Window)
	require.Equal(t, 10*time.Minute, cfg.Epoch.Duration)
	require.Equal(t, 1.25, cfg.Network.Pricing)

	// untouched sections keep their defaults
	require.Equal(t, DefaultConfig(home).Intake, cfg.Intake)

	rc, err := cfg.RewardEngineConfig()
	require.NoError(t, err)
	require.EqualValues(t, 250, rc.TreasuryFeeBps)
	require.Equal(t, 3.5, rc.BaseRewards[types.ContributionMLTraining])
	require.Equal(t, 0.5, rc.BaseRewards[types.ContributionInferenceServing])

	demand, err := cfg.Demand()
	require.NoError(t, err)
	require.Equal(t, 1.9, demand[types.ContributionSimulation])
	require.Equal(t, 1.5, demand[types.ContributionMLTraining])
}

func TestLoadConfigEnvOverride(t *testing.T) {
	home := t.TempDir()
	writeConfig(t, home, `
[api]
address = "127.0.0.1:1318"
`)
	t.Setenv("POCD_API_ADDRESS", "0.0.0.0:9000")

	cfg, err := LoadConfig(home, viper.New())
	require.NoError(t, err)
	require.Equal(t, "0.0.0.0:9000", cfg.API.Address)
}

func TestLoadConfigRejectsMalformedFile(t *testing.T) {
	home := t.TempDir()
	writeConfig(t, home, "[log\nlevel = ")

	_, err := LoadConfig(home, nil)
	require.ErrorContains(t, err, "failed to read config")
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(*Config)
		errorMsg string
	}{
		{
			name:     "bad log level",
			mutate:   func(c *Config) { c.Log.Level = "loud" },
			errorMsg: "invalid log level",
		},
		{
			name:     "unknown storage backend",
			mutate:   func(c *Config) { c.Storage.Backend = "rocksdb" },
			errorMsg: "unsupported storage backend",
		},
		{
			name: "sql reward backend without dsn",
			mutate: func(c *Config) {
				c.Storage.RewardBackend = RewardBackendPostgres
				c.Storage.RewardDSN = ""
			},
			errorMsg: "requires reward_dsn",
		},
		{
			name:     "stark is not available",
			mutate:   func(c *Config) { c.ZK.Schemes = []string{"stark"} },
			errorMsg: "unsupported",
		},
		{
			name:     "no schemes",
			mutate:   func(c *Config) { c.ZK.Schemes = nil },
			errorMsg: "at least one proof scheme",
		},
		{
			name:     "quorum above sample size",
			mutate:   func(c *Config) { c.Attestation.Quorum = c.Attestation.SampleSize + 1 },
			errorMsg: "attestation",
		},
		{
			name:     "unknown demand type",
			mutate:   func(c *Config) { c.Network.Demand = map[string]interface{}{"mining": 1.0} },
			errorMsg: "network",
		},
		{
			name:     "non numeric base reward",
			mutate:   func(c *Config) { c.Reward.BaseRewardOverrides = map[string]interface{}{"ml_training": "lots"} },
			errorMsg: "reward",
		},
		{
			name:     "negative genesis",
			mutate:   func(c *Config) { c.Ledger.TreasuryGenesis = "-5" },
			errorMsg: "treasury genesis",
		},
		{
			name:     "zero intake burst",
			mutate:   func(c *Config) { c.Intake.Burst = 0 },
			errorMsg: "intake",
		},
		{
			name:     "too few devnet peers",
			mutate:   func(c *Config) { c.Devnet.Peers = 2 },
			errorMsg: "devnet peers",
		},
		{
			name: "api without address",
			mutate: func(c *Config) {
				c.API.Enable = true
				c.API.Address = ""
			},
			errorMsg: "api address",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig(t.TempDir())
			tt.mutate(&cfg)
			require.ErrorContains(t, cfg.Validate(), tt.errorMsg)
		})
	}
}

func TestParseAmount(t *testing.T) {
	d, err := parseAmount("")
	require.NoError(t, err)
	require.True(t, d.IsZero())

	d, err = parseAmount("12.5")
	require.NoError(t, err)
	require.Equal(t, "12.500000000000000000", d.String())

	_, err = parseAmount("abc")
	require.Error(t, err)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := NewLogger(LogConfig{Level: "info", JSON: true}, &buf)
	require.NoError(t, err)
	logger.Debug("hidden")
	logger.Info("shown", "epoch", 3)
	require.NotContains(t, buf.String(), "hidden")
	require.Contains(t, buf.String(), `"epoch":3`)

	_, err = NewLogger(LogConfig{Level: "nope"}, &buf)
	require.Error(t, err)
}
