package cli

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// outcome mirrors one entry of the match results request
type outcome struct {
	AccountID   string `json:"account_id"`
	DeltaRating int    `json:"delta_rating"`
	DeltaCoins  int    `json:"delta_coins"`
	Result      string `json:"result"`
}

func newMatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "match",
		Short: "Match result commands",
	}

	cmd.AddCommand(newMatchApplyCmd())

	return cmd
}

func newMatchApplyCmd() *cobra.Command {
	var specs []string

	cmd := &cobra.Command{
		Use:   "apply",
		Short: "Apply the outcomes of a resolved match",
		Long: `Apply the outcomes of a resolved match in one all-or-nothing batch.

Each --outcome is <account-id>:<delta-rating>:<delta-coins>:<win|loss|draw>, e.g.

  ledgerctl match apply --outcome 3f2a...:+15:+10:win --outcome 9b1c...:-15:-10:loss`,
		RunE: func(cmd *cobra.Command, args []string) error {
			outcomes := make([]outcome, 0, len(specs))
			for _, spec := range specs {
				o, err := parseOutcome(spec)
				if err != nil {
					return err
				}
				outcomes = append(outcomes, o)
			}

			req := map[string]any{"outcomes": outcomes}
			var result MatchResult

			if err := client.Post("/api/v1/matches/results", req, &result); err != nil {
				return err
			}

			NewOutput(cfg.Output).Print(result)
			return nil
		},
	}

	cmd.Flags().StringArrayVar(&specs, "outcome", nil, "Outcome as id:delta_rating:delta_coins:result (repeatable, required)")
	_ = cmd.MarkFlagRequired("outcome")

	return cmd
}

// parseOutcome parses id:delta_rating:delta_coins:result. The id is taken from
// the right so it may itself contain colons.
func parseOutcome(spec string) (outcome, error) {
	parts := strings.Split(spec, ":")
	if len(parts) < 4 {
		return outcome{}, fmt.Errorf("invalid outcome %q: want id:delta_rating:delta_coins:result", spec)
	}
	n := len(parts)
	id := strings.Join(parts[:n-3], ":")
	if id == "" {
		return outcome{}, fmt.Errorf("invalid outcome %q: account id is empty", spec)
	}
	rating, err := parseDelta(parts[n-3])
	if err != nil {
		return outcome{}, fmt.Errorf("invalid outcome %q: %w", spec, err)
	}
	coins, err := parseDelta(parts[n-2])
	if err != nil {
		return outcome{}, fmt.Errorf("invalid outcome %q: %w", spec, err)
	}
	return outcome{
		AccountID:   id,
		DeltaRating: rating,
		DeltaCoins:  coins,
		Result:      strings.ToLower(parts[n-1]),
	}, nil
}

func parseDelta(s string) (int, error) {
	v, err := strconv.Atoi(s)
	if err != nil {
		return 0, fmt.Errorf("delta %q is not an integer", s)
	}
	return v, nil
}
