package cmd

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/paw-chain/poc/types"
	"github.com/paw-chain/poc/zk"
)

const flagScheme = "scheme"

// ZKCmd manages proving and verifying keys.
func ZKCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "zk",
		Short: "Manage zero-knowledge proving keys",
	}
	cmd.AddCommand(zkSetupCmd(v), zkVerifyingKeyCmd(v))
	return cmd
}

func zkSetupCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "setup",
		Short: "Run a single-party development setup and write keys to <home>/config/zk",
		Long: `Run a single-party development setup and write keys to <home>/config/zk.

The resulting keys are not safe for production: whoever ran the setup can
forge proofs. Production keys come from a multi-party ceremony.

Example:
  pocd zk setup --scheme groth16
`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, v)
			if err != nil {
				return err
			}
			scheme, _ := cmd.Flags().GetString(flagScheme)
			dir := filepath.Join(cfg.ZKDir(), scheme)
			overwrite, _ := cmd.Flags().GetBool(flagOverwrite)
			if _, err := os.Stat(dir); err == nil && !overwrite {
				return fmt.Errorf("keys already exist in %s, use --%s to replace them", dir, flagOverwrite)
			}

			sys, err := zk.Setup(types.ProofScheme(scheme))
			if err != nil {
				return err
			}
			if err := sys.Save(cfg.ZKDir()); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s keys to %s\n", scheme, dir)
			return nil
		},
	}
	cmd.Flags().String(flagScheme, string(types.SchemeGroth16), "proving scheme (groth16|plonk)")
	cmd.Flags().Bool(flagOverwrite, false, "replace existing keys")
	return cmd
}

func zkVerifyingKeyCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verifying-key",
		Short: "Print the hex encoded verifying key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, v)
			if err != nil {
				return err
			}
			scheme, _ := cmd.Flags().GetString(flagScheme)
			sys, err := zk.LoadSystem(types.ProofScheme(scheme), cfg.ZKDir())
			if err != nil {
				return err
			}
			vk, err := sys.VerifyingKey()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), hex.EncodeToString(vk))
			return nil
		},
	}
	cmd.Flags().String(flagScheme, string(types.SchemeGroth16), "proving scheme (groth16|plonk)")
	return cmd
}
