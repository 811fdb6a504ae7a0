package commands

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/dmitrijs2005/leasekeeper/internal/client/prompt"
	"github.com/dmitrijs2005/leasekeeper/internal/common"
	"github.com/dmitrijs2005/leasekeeper/internal/logging"
	"github.com/dmitrijs2005/leasekeeper/internal/server/auth"
	"github.com/dmitrijs2005/leasekeeper/internal/server/services"
	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

func newMigrateCommand(o *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			l, err := o.OpenLocal(cmd.Context(), o)
			if err != nil {
				return err
			}
			defer l.Close()

			if err := l.Migrate(cmd.Context()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Migrations applied.")
			return nil
		},
	}
}

func newResourceCommand(o *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "resource",
		Short: "Manage leasable resources",
	}
	cmd.AddCommand(newResourceAddCommand(o), newResourceGetCommand(o))
	return cmd
}

func newResourceAddCommand(o *Options) *cobra.Command {
	var (
		owner   int64
		login   string
		price   string
		maxH    int
		regions string
		limits  bool
	)

	cmd := &cobra.Command{
		Use:   "add",
		Short: "Register a resource; the secret and shared seed are prompted without echo",
		Long: `Register a resource. The base secret and the base64 shared seed are read
from the terminal and encrypted before they are stored.

Examples:
  leasectl resource add --owner 123456 --login player42 --price 15.50
  leasectl resource add --owner 123456 --login player42 --price 10 --max-hours 24 --limits`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if owner <= 0 || strings.TrimSpace(login) == "" {
				return fmt.Errorf("--owner and --login are required")
			}
			pph, err := decimal.NewFromString(price)
			if err != nil {
				return fmt.Errorf("invalid --price %q", price)
			}

			in := services.NewResource{OwnerTelegramID: owner, Login: login, PricePerHour: pph}
			if maxH > 0 {
				in.MaxLeaseHours = &maxH
			}
			if regions != "" {
				in.AllowedRegions = &regions
			}
			if limits {
				text, err := prompt.GetMultiline(o.In, "Game limits", cmd.OutOrStdout())
				if err != nil {
					return err
				}
				if text != "" {
					in.GameLimits = &text
				}
			}

			secret, err := o.ReadSecret(cmd.OutOrStdout(), "Base secret")
			if err != nil {
				return err
			}
			defer common.WipeByteArray(secret)
			seed, err := o.ReadSecret(cmd.OutOrStdout(), "Shared seed (base64)")
			if err != nil {
				return err
			}
			defer common.WipeByteArray(seed)
			in.Secret = logging.Secret(secret)
			in.SharedSeed = logging.Secret(seed)

			l, err := o.OpenLocal(cmd.Context(), o)
			if err != nil {
				return err
			}
			defer l.Close()

			id, err := l.AddResource(cmd.Context(), in)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Resource %d added. Product titles must contain [ID:%d].\n", id, id)
			return nil
		},
	}

	cmd.Flags().Int64Var(&owner, "owner", 0, "Owner Telegram id")
	cmd.Flags().StringVar(&login, "login", "", "Account login")
	cmd.Flags().StringVar(&price, "price", "0", "Price per hour")
	cmd.Flags().IntVar(&maxH, "max-hours", 0, "Maximum lease length in hours (0 for no limit)")
	cmd.Flags().StringVar(&regions, "regions", "", "Allowed regions, free text")
	cmd.Flags().BoolVar(&limits, "limits", false, "Prompt for game limits")
	return cmd
}

func newOwnerCommand(o *Options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "owner",
		Short: "Inspect and register owners",
	}

	ensure := &cobra.Command{
		Use:   "ensure <telegram-id>",
		Short: "Register an owner if unknown and print the account",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tg, err := parseID(args[0])
			if err != nil {
				return err
			}
			l, err := o.OpenLocal(cmd.Context(), o)
			if err != nil {
				return err
			}
			defer l.Close()

			own, err := l.EnsureOwner(cmd.Context(), tg)
			if err != nil {
				return err
			}
			sub := "none"
			if own.SubscriptionEnd != nil {
				sub = own.SubscriptionEnd.UTC().Format("2006-01-02 15:04 UTC")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Owner %d: balance %s, subscription %s\n", own.TelegramID, own.Balance.StringFixed(2), sub)
			return nil
		},
	}

	var limit int
	history := &cobra.Command{
		Use:   "history <telegram-id>",
		Short: "List the owner's recent ledger entries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tg, err := parseID(args[0])
			if err != nil {
				return err
			}
			l, err := o.OpenLocal(cmd.Context(), o)
			if err != nil {
				return err
			}
			defer l.Close()

			entries, err := l.History(cmd.Context(), tg, limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "TIME\tKIND\tAMOUNT\tSTATUS\tREF")
			for _, e := range entries {
				ref := "-"
				if e.ExternalRef != nil {
					ref = *e.ExternalRef
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", e.CreatedAt.UTC().Format("2006-01-02 15:04"), e.Kind, e.Amount.StringFixed(2), e.Status, ref)
			}
			return w.Flush()
		},
	}
	history.Flags().IntVarP(&limit, "limit", "n", 20, "Number of entries")

	cmd.AddCommand(ensure, history, newOwnerMarketplaceCommand(o))
	return cmd
}

func newOwnerMarketplaceCommand(o *Options) *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "marketplace <telegram-id>",
		Short: "Store the owner's marketplace seller id and API key; the key is prompted without echo",
		Long: `Store the marketplace account renter messages are sent from. Without it
renters are answered from the shared service account.

Example:
  leasectl owner marketplace 123456 --user-id 5550001`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tg, err := parseID(args[0])
			if err != nil {
				return err
			}
			if strings.TrimSpace(userID) == "" {
				return fmt.Errorf("--user-id is required")
			}

			key, err := o.ReadSecret(cmd.OutOrStdout(), "Marketplace API key")
			if err != nil {
				return err
			}
			defer common.WipeByteArray(key)

			l, err := o.OpenLocal(cmd.Context(), o)
			if err != nil {
				return err
			}
			defer l.Close()

			if err := l.SetMarketplaceAccount(cmd.Context(), tg, strings.TrimSpace(userID), logging.Secret(key)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Marketplace account %s saved for owner %d.\n", strings.TrimSpace(userID), tg)
			return nil
		},
	}
	cmd.Flags().StringVar(&userID, "user-id", "", "Marketplace seller id")
	return cmd
}

func newHashPasswordCommand(o *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "hash-password",
		Short: "Print the bcrypt hash to put in OperatorPasswordHash",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			pw, err := o.ReadSecret(cmd.ErrOrStderr(), "Operator password")
			if err != nil {
				return err
			}
			defer common.WipeByteArray(pw)

			h, err := auth.HashPassword(string(pw))
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), h)
			return nil
		},
	}
}
