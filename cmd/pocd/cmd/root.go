package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/paw-chain/poc/app"
)

const (
	flagHome     = "home"
	flagLogLevel = "log_level"
	flagLogJSON  = "log_json"
	flagNode     = "node"

	// HomeEnv overrides the default home directory.
	HomeEnv = "POCD_HOME"
)

// NewRootCmd creates the root command for pocd. Flags override the config
// file, which overrides the built-in defaults.
func NewRootCmd() *cobra.Command {
	v := viper.New()

	rootCmd := &cobra.Command{
		Use:   app.AppName,
		Short: "Proof-of-Contribution node",
		Long: `pocd validates proof-of-contribution submissions, attests them with peers,
issues rewards, tracks contributor reputation and governs the treasury.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// set the default command outputs
			cmd.SetOut(cmd.OutOrStdout())
			cmd.SetErr(cmd.ErrOrStderr())

			applyFlags(v, cmd.Flags(), map[string]string{
				flagLogLevel: "log.level",
				flagLogJSON:  "log.json",
			})
			return nil
		},
	}

	rootCmd.PersistentFlags().String(flagHome, defaultHome(), "directory for config and data")
	rootCmd.PersistentFlags().String(flagLogLevel, "info", "log level (trace|debug|info|warn|error)")
	rootCmd.PersistentFlags().Bool(flagLogJSON, false, "emit logs as JSON")

	rootCmd.AddCommand(
		StartCmd(v),
		ConfigCmd(v),
		ZKCmd(v),
		ProveCmd(v),
		TxCmd(),
		QueryCmd(),
		VersionCmd(),
	)
	return rootCmd
}

// Execute runs the root command with a background context.
func Execute(rootCmd *cobra.Command) error {
	return rootCmd.ExecuteContext(context.Background())
}

// defaultHome honors POCD_HOME before falling back to ~/.pocd.
func defaultHome() string {
	if home := os.Getenv(HomeEnv); home != "" {
		return home
	}
	return app.DefaultNodeHome
}

// applyFlags copies explicitly set flags onto config keys. Unset flags are
// left out so their defaults do not mask the config file.
func applyFlags(v *viper.Viper, flags *pflag.FlagSet, keys map[string]string) {
	for name, key := range keys {
		if f := flags.Lookup(name); f != nil && f.Changed {
			v.Set(key, f.Value.String())
		}
	}
}

func homeDir(cmd *cobra.Command) (string, error) {
	home, err := cmd.Flags().GetString(flagHome)
	if err != nil {
		return "", err
	}
	if home == "" {
		return "", fmt.Errorf("--%s must not be empty", flagHome)
	}
	return home, nil
}

func loadConfig(cmd *cobra.Command, v *viper.Viper) (app.Config, error) {
	home, err := homeDir(cmd)
	if err != nil {
		return app.Config{}, err
	}
	return app.LoadConfig(home, v)
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

// VersionCmd prints the build version.
func VersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), app.Version)
		},
	}
}
