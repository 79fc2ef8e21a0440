package gen

import (
	"github.com/spf13/cobra"
)

var RootCmd = &cobra.Command{
	Use:   "gen",
	Short: "Generate documentation for coolsocket",
	Long: `Generate documentation for coolsocket

Usage
	coolsocket gen man --dir man/
`,
}

func init() {
	RootCmd.AddCommand(ManPagesCmd)
}
