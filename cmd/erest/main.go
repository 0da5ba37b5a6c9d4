package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (injected via ldflags at build time)
var version = "dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	flags := &requestFlags{}
	cmd := &cobra.Command{
		Use:   "erest",
		Short: "Call RESTful resources with retries",
		Long: `erest issues one HTTP verb against a resource path built from an endpoint
and a list of segments. A segment written as items(5) addresses the collection
"items" and then its item "5".

Configuration is read from --config, then ERESTCLIENT_* environment variables,
then flags.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	flags.register(cmd)
	for _, method := range []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD"} {
		cmd.AddCommand(newVerbCmd(method, flags))
	}
	return cmd
}
