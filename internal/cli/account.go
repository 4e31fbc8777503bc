package cli

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"
)

func newAccountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Account management commands",
	}

	cmd.AddCommand(newAccountRegisterCmd())
	cmd.AddCommand(newAccountGetCmd())
	cmd.AddCommand(newAccountFindCmd())
	cmd.AddCommand(newAccountUpdateCmd())
	cmd.AddCommand(newAccountRenameCmd())
	cmd.AddCommand(newAccountDisableCmd())
	cmd.AddCommand(newAccountCoinsCmd())
	cmd.AddCommand(newAccountVerifyCmd())

	return cmd
}

func accountPath(id string, suffix string) string {
	return "/api/v1/accounts/" + url.PathEscape(id) + suffix
}

func newAccountRegisterCmd() *cobra.Command {
	var user, email, pass string

	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a new account",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := map[string]string{
				"username": user,
				"email":    email,
				"password": pass,
			}
			var result Account

			if err := client.Post("/api/v1/accounts", req, &result); err != nil {
				return err
			}

			NewOutput(cfg.Output).Print(result)
			return nil
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "Username (required)")
	cmd.Flags().StringVar(&email, "email", "", "Email address (required)")
	cmd.Flags().StringVar(&pass, "pass", "", "Password (required)")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("email")
	_ = cmd.MarkFlagRequired("pass")

	return cmd
}

func newAccountGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Get an account by id",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var result Account

			if err := client.Get(accountPath(args[0], ""), &result); err != nil {
				return err
			}

			NewOutput(cfg.Output).Print(result)
			return nil
		},
	}
}

func newAccountFindCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "find <username>",
		Short: "Get an account by username",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var result Account

			if err := client.Get("/api/v1/accounts/by-username/"+url.PathEscape(args[0]), &result); err != nil {
				return err
			}

			NewOutput(cfg.Output).Print(result)
			return nil
		},
	}
}

func newAccountUpdateCmd() *cobra.Command {
	var (
		email, pass, avatar, status string
		links                       map[string]string
		clearLinks                  bool
	)

	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Change the email, password or public profile of an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := map[string]any{}
			if cmd.Flags().Changed("email") {
				req["email"] = email
			}
			if cmd.Flags().Changed("pass") {
				req["password"] = pass
			}
			if cmd.Flags().Changed("avatar") {
				req["avatar_url"] = avatar
			}
			if cmd.Flags().Changed("status") {
				req["status"] = status
			}
			switch {
			case clearLinks && len(links) > 0:
				return fmt.Errorf("--link and --clear-links cannot be combined")
			case clearLinks:
				req["social_links"] = map[string]string{}
			case len(links) > 0:
				req["social_links"] = links
			}
			if len(req) == 0 {
				return fmt.Errorf("at least one of --email, --pass, --avatar, --status, --link or --clear-links is required")
			}

			var result Account

			if err := client.Patch(accountPath(args[0], ""), req, &result); err != nil {
				return err
			}

			NewOutput(cfg.Output).Print(result)
			return nil
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "New email address")
	cmd.Flags().StringVar(&pass, "pass", "", "New password")
	cmd.Flags().StringVar(&avatar, "avatar", "", "Avatar URL (empty to clear)")
	cmd.Flags().StringVar(&status, "status", "", "Status line (empty to clear)")
	cmd.Flags().StringToStringVar(&links, "link", nil, "Social link as network=url, replaces all links (repeatable)")
	cmd.Flags().BoolVar(&clearLinks, "clear-links", false, "Remove all social links")

	return cmd
}

func newAccountRenameCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rename <id> <username>",
		Short: "Change the username of an account",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req := map[string]string{"username": args[1]}
			var result Account

			if err := client.Post(accountPath(args[0], "/rename"), req, &result); err != nil {
				return err
			}

			NewOutput(cfg.Output).Print(result)
			return nil
		},
	}
}

func newAccountDisableCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "disable <id>",
		Short: "Soft-disable an account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var result Account

			if err := client.Post(accountPath(args[0], "/disable"), nil, &result); err != nil {
				return err
			}

			NewOutput(cfg.Output).Print(result)
			return nil
		},
	}
}

func newAccountCoinsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "coins <id> <delta>",
		Short: "Grant (positive) or charge (negative) coins",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			delta, err := parseDelta(args[1])
			if err != nil {
				return err
			}

			req := map[string]int{"delta": delta}
			var result Account

			if err := client.Post(accountPath(args[0], "/coins"), req, &result); err != nil {
				return err
			}

			NewOutput(cfg.Output).Print(result)
			return nil
		},
	}
}

func newAccountVerifyCmd() *cobra.Command {
	var user, pass string

	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Check a username and password",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := map[string]string{
				"username": user,
				"password": pass,
			}
			var result Account

			if err := client.Post("/api/v1/credentials/verify", req, &result); err != nil {
				return err
			}

			NewOutput(cfg.Output).Print(result)
			return nil
		},
	}

	cmd.Flags().StringVar(&user, "user", "", "Username (required)")
	cmd.Flags().StringVar(&pass, "pass", "", "Password (required)")
	_ = cmd.MarkFlagRequired("user")
	_ = cmd.MarkFlagRequired("pass")

	return cmd
}
