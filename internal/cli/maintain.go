package cli

import (
	"os"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "maintain",
		Short: "Run one maintenance pass",
		Long:  "Decay and archive stale memories, archive expired short-term memories, then merge near-duplicates when an LLM is configured.",
		Run:   runMaintain,
	}

	RootCmd.AddCommand(cmd)
}

func runMaintain(cmd *cobra.Command, args []string) {
	m := openManager(cmd.Context(), loadConfig(), nil)

	rep, err := m.RunMaintenance(cmd.Context())
	printJSON(cmd.OutOrStdout(), rep)
	closeManager(m)
	if err != nil {
		os.Exit(1)
	}
}
