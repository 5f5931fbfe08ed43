package cmd

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/paw-chain/poc/types"
)

// QueryCmd groups read-only queries against a running node.
func QueryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:                        "query",
		Aliases:                    []string{"q"},
		Short:                      "Querying subcommands",
		SuggestionsMinimumDistance: 2,
	}
	addNodeFlag(cmd)

	cmd.AddCommand(
		getCmd("submission [id]", "Show a submission record", uuidArg, "/v1/contributions/%s"),
		getCmd("reward [id]", "Show the reward issued for a contribution", uuidArg, "/v1/rewards/%s"),
		getCmd("distribution [epoch]", "Show the merkle root over an epoch's rewards", epochArg, "/v1/rewards/epoch/%s"),
		proofQueryCmd(),
		getCmd("reputation [address]", "Show the reputation of a contributor", addressArg, "/v1/reputation/%s"),
		getCmd("balance [address]", "Show the token balance of an address", addressArg, "/v1/balances/%s"),
		topQueryCmd(),
		getCmd("reward-stats", "Show aggregate reward statistics", nil, "/v1/rewards/stats"),
		getCmd("proposal [id]", "Show a treasury proposal", uuidArg, "/v1/treasury/proposals/%s"),
		proposalsQueryCmd(),
		getCmd("treasury", "Show treasury statistics", nil, "/v1/treasury/stats"),
		getCmd("node", "Show node version, epoch and network state", nil, "/v1/node"),
		getCmd("health", "Show detailed node health", nil, "/health/detailed"),
	)
	return cmd
}

func uuidArg(s string) (string, error) {
	id, err := uuid.Parse(s)
	if err != nil {
		return "", fmt.Errorf("invalid id %q: %w", s, err)
	}
	return id.String(), nil
}

func epochArg(s string) (string, error) {
	epoch, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return "", fmt.Errorf("invalid epoch %q: %w", s, err)
	}
	return strconv.FormatUint(epoch, 10), nil
}

func addressArg(s string) (string, error) {
	if err := types.Address(s).Validate(); err != nil {
		return "", err
	}
	return s, nil
}

// getCmd builds a query that GETs path, formatted with the validated
// argument when parse is set.
func getCmd(use, short string, parse func(string) (string, error), path string) *cobra.Command {
	args := cobra.NoArgs
	if parse != nil {
		args = cobra.ExactArgs(1)
	}
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  args,
		RunE: func(cmd *cobra.Command, args []string) error {
			target := path
			if parse != nil {
				arg, err := parse(args[0])
				if err != nil {
					return err
				}
				target = fmt.Sprintf(path, url.PathEscape(arg))
			}
			return runGet(cmd, target)
		},
	}
}

func runGet(cmd *cobra.Command, path string) error {
	c, err := clientFromCmd(cmd)
	if err != nil {
		return err
	}
	raw, err := c.get(cmdContext(cmd), path)
	if err != nil {
		return err
	}
	return printJSON(cmd, raw)
}

func proofQueryCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reward-proof [epoch] [id]",
		Short: "Show the merkle inclusion proof of a reward in its epoch",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			epoch, err := epochArg(args[0])
			if err != nil {
				return err
			}
			id, err := uuidArg(args[1])
			if err != nil {
				return err
			}
			return runGet(cmd, fmt.Sprintf("/v1/rewards/epoch/%s/proof/%s", epoch, id))
		},
	}
}

func topQueryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "top",
		Short: "List the highest reputations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			limit, _ := cmd.Flags().GetInt("limit")
			if limit < 1 || limit > 1000 {
				return fmt.Errorf("limit must be between 1 and 1000")
			}
			return runGet(cmd, "/v1/reputation?top="+strconv.Itoa(limit))
		},
	}
	cmd.Flags().Int("limit", 10, "number of contributors")
	return cmd
}

func proposalsQueryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "proposals",
		Short: "List treasury proposals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := "/v1/treasury/proposals"
			if status, _ := cmd.Flags().GetString("status"); status != "" {
				path += "?status=" + url.QueryEscape(status)
			}
			return runGet(cmd, path)
		},
	}
	cmd.Flags().String("status", "", "filter by status (drafted|under_curation|open_for_voting|passed|rejected|disbursing|completed|stalled)")
	return cmd
}
