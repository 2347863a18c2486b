package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Search memories by keyword",
		Long:  "Match memory summaries and tags against the query. Unlike recall, nothing is reinforced.",
		Args:  cobra.MinimumNArgs(1),
		Run:   runSearch,
	}
	queryFlags(cmd)
	RootCmd.AddCommand(cmd)
}

func runSearch(cmd *cobra.Command, args []string) {
	q := queryFromFlags(cmd, args)

	m := openManager(cmd.Context(), loadConfig(), nil)
	defer closeManager(m)

	results, err := m.Search(q)
	if err != nil {
		exitErr("search", err)
	}

	if len(results) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "[]")
		return
	}
	printJSON(cmd.OutOrStdout(), results)
}
