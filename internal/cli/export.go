package cli

import (
	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export memories as JSON",
		Long:  "Export full memory records, archived and superseded ones included, as a JSON array.",
		Run:   runExport,
	}

	filterFlags(cmd, true, 0)

	RootCmd.AddCommand(cmd)
}

func runExport(cmd *cobra.Command, args []string) {
	f, err := filterFromFlags(cmd)
	if err != nil {
		exitErr("export", err)
	}

	m := openManager(cmd.Context(), loadConfig(), nil)
	defer closeManager(m)

	entries, err := m.Export(f)
	if err != nil {
		exitErr("export", err)
	}
	printJSON(cmd.OutOrStdout(), entries)
}
