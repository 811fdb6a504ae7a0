package commands

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/dmitrijs2005/leasekeeper/internal/client/admin"
	"github.com/dmitrijs2005/leasekeeper/internal/common"
	"github.com/spf13/cobra"
)

func newLoginCommand(o *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Log in as operator and save the access token",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := admin.New(o.Server, "", o.Dial...)
			if err != nil {
				return err
			}
			defer c.Close()

			pw, err := o.ReadSecret(cmd.OutOrStdout(), "Operator password")
			if err != nil {
				return err
			}
			defer common.WipeByteArray(pw)

			if err := c.Login(cmd.Context(), pw); err != nil {
				return err
			}
			if err := admin.SaveToken(o.StateDir, c.Token()); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged in.")
			return nil
		},
	}
}

// resourceAction is an operator call that takes one resource id.
type resourceAction struct {
	use, short, done string
	call             func(c *admin.Client, cmd *cobra.Command, id int64) error
}

func newResourceActionCommands(o *Options) []*cobra.Command {
	actions := []resourceAction{
		{"end-lease <id>", "End an active lease now, rotating the credential", "Lease on resource %d ended.",
			func(c *admin.Client, cmd *cobra.Command, id int64) error { return c.EndLease(cmd.Context(), id) }},
		{"block <id>", "Take an available resource out of rotation", "Resource %d blocked.",
			func(c *admin.Client, cmd *cobra.Command, id int64) error { return c.Block(cmd.Context(), id) }},
		{"unblock <id>", "Return a blocked resource to the pool", "Resource %d unblocked.",
			func(c *admin.Client, cmd *cobra.Command, id int64) error { return c.Unblock(cmd.Context(), id) }},
	}

	cmds := make([]*cobra.Command, 0, len(actions))
	for _, a := range actions {
		cmds = append(cmds, &cobra.Command{
			Use:   a.use,
			Short: a.short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				id, err := parseID(args[0])
				if err != nil {
					return err
				}
				c, err := o.remote()
				if err != nil {
					return err
				}
				defer c.Close()

				if err := a.call(c, cmd, id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), a.done+"\n", id)
				return nil
			},
		})
	}
	return cmds
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func newResourceGetCommand(o *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show a resource and its owner's statistics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			c, err := o.remote()
			if err != nil {
				return err
			}
			defer c.Close()

			res, err := c.GetResource(cmd.Context(), id)
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
}

func newSweepCommand(o *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run an expiry sweep now",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := o.remote()
			if err != nil {
				return err
			}
			defer c.Close()

			res, err := c.Sweep(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd, res)
		},
	}
}

func newClearBackoffCommand(o *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "clear-backoff <id>",
		Short: "Forget reclaim failures of a resource so the next sweep retries it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			c, err := o.remote()
			if err != nil {
				return err
			}
			defer c.Close()

			if err := c.ClearBackoff(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Reclaim state of resource %d cleared.\n", id)
			return nil
		},
	}
}

func newGrantCommand(o *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "grant <telegram-id> <days>",
		Short: "Extend an owner's subscription free of charge",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := parseID(args[0])
			if err != nil {
				return err
			}
			days, err := strconv.Atoi(args[1])
			if err != nil || days < 1 {
				return fmt.Errorf("invalid days %q", args[1])
			}
			c, err := o.remote()
			if err != nil {
				return err
			}
			defer c.Close()

			end, err := c.Grant(cmd.Context(), owner, days)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Subscription of %d active until %s.\n", owner, end)
			return nil
		},
	}
}

func newPurchaseCommand(o *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "purchase <telegram-id> <plan>",
		Short: "Buy a subscription plan from the owner's balance",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := parseID(args[0])
			if err != nil {
				return err
			}
			c, err := o.remote()
			if err != nil {
				return err
			}
			defer c.Close()

			end, err := c.Purchase(cmd.Context(), owner, args[1])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Plan %s purchased, subscription of %d active until %s.\n", args[1], owner, end)
			return nil
		},
	}
}

func newExportCommand(o *Options) *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Write a snapshot of owners, resources and the ledger to object storage",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := o.remote()
			if err != nil {
				return err
			}
			defer c.Close()

			key, err := c.Export(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), key)
			return nil
		},
	}
}
