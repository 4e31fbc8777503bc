package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newLeaderboardCmd() *cobra.Command {
	var page, limit int

	cmd := &cobra.Command{
		Use:   "leaderboard",
		Short: "Show active accounts ranked by rating",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := fmt.Sprintf("/api/v1/leaderboard?page=%d", page)
			if limit > 0 {
				path += fmt.Sprintf("&limit=%d", limit)
			}

			var result Leaderboard

			if err := client.Get(path, &result); err != nil {
				return err
			}

			NewOutput(cfg.Output).Print(result)
			return nil
		},
	}

	cmd.Flags().IntVar(&page, "page", 1, "Page number, starting at 1")
	cmd.Flags().IntVar(&limit, "limit", 0, "Page size (default: server default)")

	return cmd
}
