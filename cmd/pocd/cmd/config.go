package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"text/template"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/paw-chain/poc/app"
)

const flagOverwrite = "overwrite"

// DefaultConfigTemplate renders a Config as pocd.toml.
const DefaultConfigTemplate = `# This is a TOML config file.
# For more information, see https://github.com/toml-lang/toml

###############################################################################
###                           Base Configuration                            ###
###############################################################################

[log]
# trace|debug|info|warn|error
level = "{{ .Log.Level }}"
json = {{ .Log.JSON }}

[storage]
# goleveldb or memdb
backend = "{{ .Storage.Backend }}"
# kv stores rewards beside submissions; sqlite and postgres use reward_dsn
reward_backend = "{{ .Storage.RewardBackend }}"
reward_dsn = "{{ .Storage.RewardDSN }}"

[zk]
schemes = {{ quoteList .ZK.Schemes }}
# Generate development keys under config/zk when none exist. Not for production.
auto_setup = {{ .ZK.AutoSetup }}

###############################################################################
###                           Validation Pipeline                           ###
###############################################################################

[validator]
proof_workers = {{ .Validator.ProofWorkers }}

[novelty]
window_size = {{ .Novelty.WindowSize }}

[novelty.default]
floor = {{ .Novelty.Default.Floor }}
fully_novel = {{ .Novelty.Default.FullyNovel }}

[sybil]
reject_threshold = {{ .Sybil.RejectThreshold }}
retention = "{{ .Sybil.Retention }}"

[sybil.graph]
top_k = {{ .Sybil.Graph.TopK }}
cluster_threshold = {{ .Sybil.Graph.ClusterThreshold }}
timing_window = "{{ .Sybil.Graph.TimingWindow }}"
max_nodes = {{ .Sybil.Graph.MaxNodes }}
max_bucket = {{ .Sybil.Graph.MaxBucket }}
max_recent = {{ .Sybil.Graph.MaxRecent }}

[sybil.graph.weights]
device = {{ .Sybil.Graph.Weights.Device }}
stake = {{ .Sybil.Graph.Weights.Stake }}
subnet = {{ .Sybil.Graph.Weights.Subnet }}
timing_step = {{ .Sybil.Graph.Weights.TimingStep }}
timing_max = {{ .Sybil.Graph.Weights.TimingMax }}

[attestation]
sample_size = {{ .Attestation.SampleSize }}
quorum = {{ .Attestation.Quorum }}
window = "{{ .Attestation.Window }}"
max_attempts = {{ .Attestation.MaxAttempts }}

###############################################################################
###                          Reputation and Rewards                         ###
###############################################################################

[reputation]
decay_factor = {{ .Reputation.DecayFactor }}
floor = {{ .Reputation.Floor }}
consistency_step = {{ .Reputation.ConsistencyStep }}
expertise_step = {{ .Reputation.ExpertiseStep }}
trust_alpha = {{ .Reputation.TrustAlpha }}
reject_penalty = {{ .Reputation.RejectPenalty }}
cluster_trust_cap = {{ .Reputation.ClusterTrustCap }}
max_retries = {{ .Reputation.MaxRetries }}

[reputation.bad_faith]
consistency = {{ .Reputation.BadFaith.Consistency }}
peer_trust = {{ .Reputation.BadFaith.PeerTrust }}
expertise = {{ .Reputation.BadFaith.Expertise }}

[reward]
treasury_fee_bps = {{ .Reward.TreasuryFeeBps }}

# Base reward per contribution type, e.g. ml_training = 1.0
[reward.base_rewards]
{{- range $name, $v := .Reward.BaseRewardOverrides }}
{{ $name }} = {{ $v }}
{{- end }}
{{ range $name, $r := ranges .Reward.Ranges }}
[reward.ranges.{{ $name }}]
min = {{ $r.min }}
max = {{ $r.max }}
{{ end }}
[network]
pricing = {{ .Network.Pricing }}

# Demand signal per contribution type, e.g. simulation = 1.2
[network.demand]
{{- range $name, $v := .Network.Demand }}
{{ $name }} = {{ $v }}
{{- end }}

###############################################################################
###                                 Treasury                                ###
###############################################################################

[treasury]
voting_epochs = {{ .Treasury.VotingEpochs }}
pass_threshold = {{ .Treasury.PassThreshold }}
community_weight = {{ .Treasury.CommunityWeight }}
ai_weight = {{ .Treasury.AIWeight }}
quorum_power = {{ .Treasury.QuorumPower }}

[treasury.category_caps]
{{- range $category, $cap := .Treasury.CategoryCaps }}
{{ $category }} = {{ $cap }}
{{- end }}

[treasury.curator]
timeout = "{{ .Treasury.Curator.Timeout }}"
consecutive_failures = {{ .Treasury.Curator.ConsecutiveFailures }}
open_timeout = "{{ .Treasury.Curator.OpenTimeout }}"

[ledger]
treasury_genesis = "{{ .Ledger.TreasuryGenesis }}"

[ledger.breaker]
consecutive_failures = {{ .Ledger.Breaker.ConsecutiveFailures }}
timeout = "{{ .Ledger.Breaker.Timeout }}"
half_open_requests = {{ .Ledger.Breaker.HalfOpenRequests }}

[epoch]
duration = "{{ .Epoch.Duration }}"

###############################################################################
###                          API and Observability                          ###
###############################################################################

[api]
enable = {{ .API.Enable }}
address = "{{ .API.Address }}"
cors_origins = {{ quoteList .API.CORSOrigins }}
read_timeout = "{{ .API.ReadTimeout }}"
write_timeout = "{{ .API.WriteTimeout }}"
max_request_bytes = {{ .API.MaxRequestBytes }}

[intake]
rate_per_second = {{ .Intake.RatePerSecond }}
burst = {{ .Intake.Burst }}
max_in_flight = {{ .Intake.MaxInFlight }}
max_tracked = {{ .Intake.MaxTracked }}
max_clock_skew = "{{ .Intake.MaxClockSkew }}"

[telemetry]
enabled = {{ .Telemetry.Enabled }}
otlp_endpoint = "{{ .Telemetry.OTLPEndpoint }}"
sample_rate = {{ .Telemetry.SampleRate }}
environment = "{{ .Telemetry.Environment }}"
node_id = "{{ .Telemetry.NodeID }}"
prometheus_enabled = {{ .Telemetry.PrometheusEnabled }}
metrics_addr = "{{ .Telemetry.MetricsAddr }}"

[devnet]
peers = {{ .Devnet.Peers }}
min_quality = {{ .Devnet.MinQuality }}
seed = {{ .Devnet.Seed }}
vote_timeout = "{{ .Devnet.VoteTimeout }}"
`

var configTemplate = template.Must(template.New("pocd.toml").Funcs(template.FuncMap{
	"quoteList": func(items []string) string {
		quoted := make([]string, len(items))
		for i, s := range items {
			quoted[i] = strconv.Quote(s)
		}
		return "[" + strings.Join(quoted, ", ") + "]"
	},
	"ranges": func(r interface{}) (map[string]interface{}, error) {
		// round trip through JSON to key the ranges by their config names
		bz, err := json.Marshal(r)
		if err != nil {
			return nil, err
		}
		var out map[string]interface{}
		if err := json.Unmarshal(bz, &out); err != nil {
			return nil, err
		}
		return out, nil
	},
}).Parse(DefaultConfigTemplate))

// RenderConfig renders cfg as TOML.
func RenderConfig(cfg app.Config) ([]byte, error) {
	var buf bytes.Buffer
	if err := configTemplate.Execute(&buf, cfg); err != nil {
		return nil, fmt.Errorf("failed to render config: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteConfigFile renders cfg into path.
func WriteConfigFile(path string, cfg app.Config) error {
	bz, err := RenderConfig(cfg)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(path, bz, 0o600)
}

// ConfigCmd groups configuration subcommands.
func ConfigCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Create or inspect the node configuration",
	}
	cmd.AddCommand(configInitCmd(), configShowCmd(v))
	return cmd
}

func configInitCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write the default configuration to <home>/config/pocd.toml",
		Long: `Write the default configuration to <home>/config/pocd.toml.

Example:
  pocd config init --home ~/.pocd
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			home, err := homeDir(cmd)
			if err != nil {
				return err
			}
			path := app.ConfigPath(home)
			overwrite, _ := cmd.Flags().GetBool(flagOverwrite)
			if _, err := os.Stat(path); err == nil && !overwrite {
				return fmt.Errorf("%s already exists, use --%s to replace it", path, flagOverwrite)
			}
			if err := WriteConfigFile(path, app.DefaultConfig(home)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", path)
			return nil
		},
	}
	cmd.Flags().Bool(flagOverwrite, false, "replace an existing config file")
	return cmd
}

func configShowCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as JSON",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, v)
			if err != nil {
				return err
			}
			out, err := json.MarshalIndent(cfg, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
}
