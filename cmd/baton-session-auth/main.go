package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/conductorone/baton-session-auth/pkg/config"
)

var version = "dev"

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "baton-session-auth",
		Short:         "baton-session-auth verifies ES256 session tokens carried in gRPC authorization metadata",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	config.PersistentFlags(cmd.PersistentFlags())

	cmd.AddCommand(serveCmd())
	cmd.AddCommand(verifyCmd())
	cmd.AddCommand(whoamiCmd())

	return cmd
}

func main() {
	err := newRootCmd().Execute()
	if err != nil {
		fmt.Fprintln(os.Stderr, err.Error())
		os.Exit(1)
	}
}
