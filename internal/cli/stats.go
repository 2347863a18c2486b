package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show memory statistics",
		Run:   runStats,
	}

	RootCmd.AddCommand(cmd)
}

func runStats(cmd *cobra.Command, args []string) {
	m := openManager(cmd.Context(), loadConfig(), nil)
	defer closeManager(m)

	printJSON(cmd.OutOrStdout(), m.GetStats())
}
