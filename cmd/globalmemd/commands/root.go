// Package commands implements the globalmemd command line: the daemon and
// the client commands that talk to it.
package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
)

const (
	defaultServer = "http://127.0.0.1:7070"
	defaultRetry  = 5 * time.Second
)

// NewRootCmd builds the globalmemd command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "globalmemd",
		Short: "globalmem shared memory character device",
		Long: `globalmemd serves a fixed-size shared memory buffer through a set of
character device nodes (globalmem0, globalmem1, ...) over HTTP.

Use "globalmemd serve" to run the daemon and "globalmemd read|write|devices"
to talk to a running one.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().String("server", defaultServer, "Daemon URL used by client commands")
	root.PersistentFlags().Duration("retry", defaultRetry, "How long client commands retry an unreachable or busy daemon")

	root.AddCommand(newServeCmd())
	root.AddCommand(newReadCmd())
	root.AddCommand(newWriteCmd())
	root.AddCommand(newDevicesCmd())
	root.AddCommand(newVersionCmd())
	return root
}

// Execute runs the command tree.
func Execute() error {
	return NewRootCmd().Execute()
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "globalmemd %s (%s)\n", Version, Commit)
		},
	}
}
