package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cast"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/paw-chain/poc/app"
	"github.com/paw-chain/poc/treasury"
	"github.com/paw-chain/poc/types"
	"github.com/paw-chain/poc/zk"
)

const (
	flagSubmitter   = "submitter"
	flagType        = "type"
	flagQuality     = "quality"
	flagSecretFile  = "secret-file"
	flagID          = "id"
	flagDeviceID    = "device-id"
	flagStakeParent = "stake-parent"
	flagWorkload    = "workload"
	flagAttach      = "attach-payload"
	flagOutput      = "output"
)

// ProveCmd produces proofs with the local proving keys.
func ProveCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prove",
		Short: "Build proven submissions and milestone evidence",
	}
	cmd.AddCommand(proveSubmissionCmd(v), proveMilestoneCmd(v))
	return cmd
}

func proveSubmissionCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submission [payload-file]",
		Short: "Fingerprint a work payload and prove the resulting submission",
		Long: `Fingerprint a work payload and prove the resulting submission. The proof
binds the fingerprint, the submitter and the declared quality to a secret
only the worker holds.

Example:
  pocd prove submission work.bin --submitter poc1... --type ml_training \
    --quality 0.9 --secret-file secret --workload gpu_hours=2.5
`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, v)
			if err != nil {
				return err
			}
			payload, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			sub, err := submissionFromFlags(cmd, payload)
			if err != nil {
				return err
			}
			secret, err := readSecret(cmd)
			if err != nil {
				return err
			}

			scheme, _ := cmd.Flags().GetString(flagScheme)
			sys, err := zk.LoadSystem(types.ProofScheme(scheme), cfg.ZKDir())
			if err != nil {
				return fmt.Errorf("failed to load %s keys (run pocd zk setup): %w", scheme, err)
			}
			if err := sys.ProveSubmission(&sub, secret); err != nil {
				return err
			}
			if err := sub.ValidateBasic(); err != nil {
				return err
			}
			return writeOutput(cmd, sub)
		},
	}
	cmd.Flags().String(flagSubmitter, "", "contributor address")
	cmd.Flags().String(flagType, types.ContributionSimulation.String(), "contribution type")
	cmd.Flags().Float64(flagQuality, 0.8, "declared quality in [0,1]")
	cmd.Flags().String(flagSecretFile, "", "file holding the work secret")
	cmd.Flags().String(flagScheme, string(types.SchemeGroth16), "proving scheme (groth16|plonk)")
	cmd.Flags().String(flagID, "", "submission id (generated when empty)")
	cmd.Flags().String(flagDeviceID, "", "device identifier")
	cmd.Flags().String(flagStakeParent, "", "address the submitter's stake is delegated from")
	cmd.Flags().StringToString(flagWorkload, nil, "workload measurements, e.g. gpu_hours=2.5")
	cmd.Flags().Bool(flagAttach, false, "include the payload for near-duplicate detection")
	cmd.Flags().String(flagOutput, "-", "output file, - for stdout")
	_ = cmd.MarkFlagRequired(flagSubmitter)
	_ = cmd.MarkFlagRequired(flagSecretFile)
	return cmd
}

func submissionFromFlags(cmd *cobra.Command, payload []byte) (types.ContributionSubmission, error) {
	flags := cmd.Flags()
	submitter, _ := flags.GetString(flagSubmitter)
	if err := types.Address(submitter).Validate(); err != nil {
		return types.ContributionSubmission{}, fmt.Errorf("--%s: %w", flagSubmitter, err)
	}
	typeName, _ := flags.GetString(flagType)
	ctype, err := types.ParseContributionType(typeName)
	if err != nil {
		return types.ContributionSubmission{}, err
	}
	quality, _ := flags.GetFloat64(flagQuality)
	if quality < 0 || quality > 1 {
		return types.ContributionSubmission{}, fmt.Errorf("--%s must be within [0,1]", flagQuality)
	}

	id := uuid.New()
	if raw, _ := flags.GetString(flagID); raw != "" {
		if id, err = uuid.Parse(raw); err != nil {
			return types.ContributionSubmission{}, fmt.Errorf("--%s: %w", flagID, err)
		}
	}

	sub := types.ContributionSubmission{
		ID:                 id,
		Submitter:          types.Address(submitter),
		ContributionType:   ctype,
		PayloadFingerprint: types.HashPayload(payload),
		DeclaredQuality:    quality,
		Timestamp:          time.Now().UTC(),
	}
	if attach, _ := flags.GetBool(flagAttach); attach {
		sub.Payload = payload
	}

	sub.Metadata.DeviceID, _ = flags.GetString(flagDeviceID)
	stakeParent, _ := flags.GetString(flagStakeParent)
	sub.Metadata.StakeParent = types.Address(stakeParent)

	workload, _ := flags.GetStringToString(flagWorkload)
	if len(workload) > 0 {
		sub.Metadata.Workload = make(map[string]float64, len(workload))
		for k, raw := range workload {
			val, err := cast.ToFloat64E(strings.TrimSpace(raw))
			if err != nil {
				return types.ContributionSubmission{}, fmt.Errorf("workload %s: %w", k, err)
			}
			sub.Metadata.Workload[k] = val
		}
	}
	return sub, nil
}

func readSecret(cmd *cobra.Command) ([]byte, error) {
	path, _ := cmd.Flags().GetString(flagSecretFile)
	secret, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	secret = []byte(strings.TrimSpace(string(secret)))
	if len(secret) == 0 {
		return nil, fmt.Errorf("secret file %s is empty", path)
	}
	return secret, nil
}

func writeOutput(cmd *cobra.Command, v interface{}) error {
	bz, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	bz = append(bz, '\n')
	out, _ := cmd.Flags().GetString(flagOutput)
	if out == "" || out == "-" {
		_, err = cmd.OutOrStdout().Write(bz)
		return err
	}
	return os.WriteFile(out, bz, 0o600)
}

func proveMilestoneCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "milestone [proposal-file] [index] [evidence-file]",
		Short: "Prove completion of a proposal milestone",
		Long: `Prove completion of a proposal milestone. The proposal file is the JSON
returned by pocd query proposal. The output is the body expected by
pocd tx milestone.
`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd, v)
			if err != nil {
				return err
			}
			var p types.TreasuryProposal
			if err := readJSONFile(args[0], &p); err != nil {
				return err
			}
			index, err := cast.ToIntE(args[1])
			if err != nil || index < 0 || index >= len(p.Milestones) {
				return fmt.Errorf("milestone index %s out of range [0,%d)", args[1], len(p.Milestones))
			}
			evidence, err := os.ReadFile(args[2])
			if err != nil {
				return err
			}

			req := app.MilestoneRequest{Evidence: evidence}
			if p.Milestones[index].ProofRequired {
				secret, err := readSecret(cmd)
				if err != nil {
					return err
				}
				scheme, _ := cmd.Flags().GetString(flagScheme)
				sys, err := zk.LoadSystem(types.ProofScheme(scheme), cfg.ZKDir())
				if err != nil {
					return fmt.Errorf("failed to load %s keys (run pocd zk setup): %w", scheme, err)
				}
				proof, err := sys.Prove(treasury.MilestoneStatement(p, index, evidence), secret)
				if err != nil {
					return err
				}
				req.Proof = &proof
			}
			return writeOutput(cmd, req)
		},
	}
	cmd.Flags().String(flagSecretFile, "", "file holding the proposer's secret")
	cmd.Flags().String(flagScheme, string(types.SchemeGroth16), "proving scheme (groth16|plonk)")
	cmd.Flags().String(flagOutput, "-", "output file, - for stdout")
	return cmd
}
