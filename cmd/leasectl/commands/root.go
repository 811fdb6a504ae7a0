// Package commands implements leasectl, the operator command line.
//
// Remote commands talk to the LeaseAdmin gRPC API with the token saved by
// "leasectl login". Local commands (migrate, resource add, owner) open the
// database directly with the server configuration.
package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/dmitrijs2005/leasekeeper/internal/client/admin"
	"github.com/dmitrijs2005/leasekeeper/internal/client/prompt"
	"github.com/spf13/cobra"
	"google.golang.org/grpc"
)

// Options carries global flags and the I/O seams shared by all commands.
type Options struct {
	Server     string
	StateDir   string
	ConfigFile string

	In         *bufio.Reader
	ReadSecret func(w io.Writer, label string) ([]byte, error)
	Dial       []grpc.DialOption
	OpenLocal  func(ctx context.Context, o *Options) (Local, error)
}

func DefaultOptions() *Options {
	return &Options{
		Server:     "localhost:50051",
		In:         bufio.NewReader(os.Stdin),
		ReadSecret: prompt.GetSecret,
		OpenLocal:  openLocal,
	}
}

func NewRootCommand(o *Options) *cobra.Command {
	root := &cobra.Command{
		Use:           "leasectl",
		Short:         "Operate the leasekeeper lease engine",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if o.StateDir == "" {
				dir, err := admin.DefaultStateDir()
				if err != nil {
					return err
				}
				o.StateDir = dir
			}
			return nil
		},
	}

	root.PersistentFlags().StringVarP(&o.Server, "server", "s", o.Server, "LeaseAdmin gRPC address")
	root.PersistentFlags().StringVar(&o.StateDir, "state-dir", o.StateDir, "Directory holding the access token")
	root.PersistentFlags().StringVarP(&o.ConfigFile, "config", "c", o.ConfigFile, "Server JSON config for local commands")

	root.AddCommand(
		newLoginCommand(o),
		newResourceCommand(o),
		newOwnerCommand(o),
		newSweepCommand(o),
		newClearBackoffCommand(o),
		newGrantCommand(o),
		newPurchaseCommand(o),
		newExportCommand(o),
		newMigrateCommand(o),
		newHashPasswordCommand(o),
	)
	root.AddCommand(newResourceActionCommands(o)...)

	return root
}

// remote returns a client authenticated with the saved token.
func (o *Options) remote() (*admin.Client, error) {
	token, err := admin.LoadToken(o.StateDir)
	if err != nil {
		return nil, err
	}
	return admin.New(o.Server, token, o.Dial...)
}

func parseID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", s)
	}
	return id, nil
}
