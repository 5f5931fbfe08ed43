package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/paw-chain/poc/app"
	"github.com/paw-chain/poc/types"
)

// TxCmd groups commands that change node state over the API.
func TxCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:                        "tx",
		Short:                      "Submit contributions and treasury actions",
		SuggestionsMinimumDistance: 2,
	}
	addNodeFlag(cmd)

	cmd.AddCommand(
		submitTxCmd(),
		proposeTxCmd(),
		curateTxCmd(),
		voteTxCmd(),
		milestoneTxCmd(),
	)
	return cmd
}

// readJSONFile decodes path, or stdin for "-", into v.
func readJSONFile(path string, v interface{}) error {
	var (
		bz  []byte
		err error
	)
	if path == "-" {
		bz, err = io.ReadAll(os.Stdin)
	} else {
		bz, err = os.ReadFile(path)
	}
	if err != nil {
		return err
	}
	if err := json.Unmarshal(bz, v); err != nil {
		return fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return nil
}

func runPost(cmd *cobra.Command, path string, body interface{}) error {
	c, err := clientFromCmd(cmd)
	if err != nil {
		return err
	}
	raw, err := c.post(cmdContext(cmd), path, body)
	if err != nil {
		// the failure body may carry the partial outcome
		if raw != nil {
			_ = printJSON(cmd, raw)
		}
		return err
	}
	return printJSON(cmd, raw)
}

func submitTxCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit [submission-file]",
		Short: "Submit a proven contribution (see pocd prove)",
		Long: `Submit a proven contribution. Use - to read the submission from stdin.

Example:
  pocd prove submission work.bin --submitter poc1... --secret-file secret | pocd tx submit -
`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var sub types.ContributionSubmission
			if err := readJSONFile(args[0], &sub); err != nil {
				return err
			}
			if err := sub.ValidateBasic(); err != nil {
				return err
			}
			path := "/v1/contributions"
			if async, _ := cmd.Flags().GetBool("async"); async {
				path += "?async=true"
			}
			return runPost(cmd, path, sub)
		},
	}
	cmd.Flags().Bool("async", false, "return once the submission is admitted")
	return cmd
}

func proposeTxCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "propose [proposal-file]",
		Short: "Draft a treasury proposal",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var p types.TreasuryProposal
			if err := readJSONFile(args[0], &p); err != nil {
				return err
			}
			return runPost(cmd, "/v1/treasury/proposals", p)
		},
	}
}

func curateTxCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "curate [proposal-id]",
		Short: "Score a drafted proposal and open it for voting",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuidArg(args[0])
			if err != nil {
				return err
			}
			return runPost(cmd, "/v1/treasury/proposals/"+id+"/curate", struct{}{})
		},
	}
}

func voteTxCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vote [proposal-id] [yes|no|abstain]",
		Short: "Vote on a proposal open for voting",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuidArg(args[0])
			if err != nil {
				return err
			}
			option, err := types.ParseVoteOption(args[1])
			if err != nil {
				return err
			}
			voter, _ := cmd.Flags().GetString("voter")
			if _, err := addressArg(voter); err != nil {
				return fmt.Errorf("--voter: %w", err)
			}
			power, _ := cmd.Flags().GetFloat64("power")
			return runPost(cmd, "/v1/treasury/proposals/"+id+"/votes", app.VoteRequest{
				Voter:  types.Address(voter),
				Option: string(option),
				Power:  power,
			})
		},
	}
	cmd.Flags().String("voter", "", "voter address")
	cmd.Flags().Float64("power", 1, "voting power")
	return cmd
}

func milestoneTxCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "milestone [proposal-id] [index] [evidence-file]",
		Short: "Submit milestone evidence produced by pocd prove milestone",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := uuidArg(args[0])
			if err != nil {
				return err
			}
			index, err := strconv.Atoi(args[1])
			if err != nil || index < 0 {
				return fmt.Errorf("invalid milestone index %q", args[1])
			}
			var req app.MilestoneRequest
			if err := readJSONFile(args[2], &req); err != nil {
				return err
			}
			return runPost(cmd, fmt.Sprintf("/v1/treasury/proposals/%s/milestones/%d", id, index), req)
		},
	}
}
