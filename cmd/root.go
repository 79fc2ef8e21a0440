package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/luma/coolsocket/cmd/gen"
)

var RootCmd = &cobra.Command{
	Use:   "coolsocket",
	Short: "A bidirectional TCP messaging server and client",
	Long: `A bidirectional TCP messaging server and client

Both peers of a connection may send and receive length framed messages
at any time, in any order.`,
	SilenceUsage: true,
}

func init() {
	RootCmd.AddCommand(StartCmd, SendCmd, VersionCmd, gen.RootCmd)
}

func Execute() {
	if err := RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
