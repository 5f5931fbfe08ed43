package cmd

import (
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/paw-chain/poc/app"
	"github.com/paw-chain/poc/reward"
	"github.com/paw-chain/poc/types"
)

func TestConfigInitRoundTrip(t *testing.T) {
	home := t.TempDir()
	out, err := execute(t, "config", "init", "--home", home)
	require.NoError(t, err)
	require.Contains(t, out, app.ConfigPath(home))

	got, err := app.LoadConfig(home, nil)
	require.NoError(t, err)
	want := app.DefaultConfig(home)

	require.Equal(t, want.Log, got.Log)
	require.Equal(t, want.Storage, got.Storage)
	require.Equal(t, want.ZK, got.ZK)
	require.Equal(t, want.Validator, got.Validator)
	require.Equal(t, want.Novelty, got.Novelty)
	require.Equal(t, want.Sybil, got.Sybil)
	require.Equal(t, want.Attestation, got.Attestation)
	require.Equal(t, want.Reputation, got.Reputation)
	require.Equal(t, want.Reward.Config, got.Reward.Config)
	require.Equal(t, want.Network.Pricing, got.Network.Pricing)
	require.Equal(t, want.Treasury, got.Treasury)
	require.Equal(t, want.Ledger, got.Ledger)
	require.Equal(t, want.Epoch, got.Epoch)
	require.Equal(t, want.API, got.API)
	require.Equal(t, want.Intake, got.Intake)
	require.Equal(t, want.Telemetry, got.Telemetry)
	require.Equal(t, want.Devnet, got.Devnet)

	demand, err := got.Demand()
	require.NoError(t, err)
	require.Equal(t, reward.DefaultDemand(), demand)
}

func TestRenderConfigWithOverrides(t *testing.T) {
	home := t.TempDir()
	cfg := app.DefaultConfig(home)
	cfg.Reward.BaseRewardOverrides = map[string]interface{}{"ml_training": 3.5}
	cfg.Network.Demand = map[string]interface{}{"simulation": 1.5}
	require.NoError(t, WriteConfigFile(app.ConfigPath(home), cfg))

	got, err := app.LoadConfig(home, nil)
	require.NoError(t, err)

	engine, err := got.RewardEngineConfig()
	require.NoError(t, err)
	want, err := cfg.RewardEngineConfig()
	require.NoError(t, err)
	require.Equal(t, want, engine)

	demand, err := got.Demand()
	require.NoError(t, err)
	require.Equal(t, 1.5, demand[types.ContributionSimulation])
}

func TestConfigInitRefusesOverwrite(t *testing.T) {
	home := t.TempDir()
	_, err := execute(t, "config", "init", "--home", home)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(app.ConfigPath(home), []byte("[log]\nlevel = \"warn\"\n"), 0o600))
	_, err = execute(t, "config", "init", "--home", home)
	require.ErrorContains(t, err, "already exists")

	cfg, err := app.LoadConfig(home, nil)
	require.NoError(t, err)
	require.Equal(t, "warn", cfg.Log.Level)

	_, err = execute(t, "config", "init", "--home", home, "--overwrite")
	require.NoError(t, err)
	cfg, err = app.LoadConfig(home, nil)
	require.NoError(t, err)
	require.Equal(t, "info", cfg.Log.Level)
}

func TestConfigShowWithoutFile(t *testing.T) {
	out, err := execute(t, "config", "show", "--home", t.TempDir())
	require.NoError(t, err)

	var shown map[string]json.RawMessage
	require.NoError(t, json.Unmarshal([]byte(out), &shown))
	require.Contains(t, shown, "treasury")
	require.Contains(t, shown, "attestation")
	require.NotContains(t, shown, "Home")
}

func TestConfigShowRejectsInvalidFile(t *testing.T) {
	home := t.TempDir()
	cfg := app.DefaultConfig(home)
	cfg.Attestation.Quorum = 0
	require.NoError(t, WriteConfigFile(app.ConfigPath(home), cfg))

	_, err := execute(t, "config", "show", "--home", home)
	require.Error(t, err)
}
