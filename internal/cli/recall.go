package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/crew-memory/internal/model"
	"github.com/rcliao/crew-memory/internal/retriever"
)

func init() {
	cmd := &cobra.Command{
		Use:   "recall [query]",
		Short: "Recall the most relevant memories",
		Long: `Rank memories against the query by keyword match, recency, importance
and access frequency. Returned memories count as accessed. With no
keywords the newest memories are returned.`,
		Run: runRecall,
	}
	queryFlags(cmd)
	RootCmd.AddCommand(cmd)
}

// queryFlags registers the flags shared by recall and search.
func queryFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("agent", "a", "", "Recall as this agent (private memories of others are hidden)")
	cmd.Flags().StringSlice("type", nil, "Filter by type")
	cmd.Flags().StringP("tags", "t", "", "Filter by tags (comma-separated)")
	cmd.Flags().Float64("min-importance", 0, "Minimum importance")
	cmd.Flags().IntP("limit", "l", 0, "Max results (default from config)")
}

func queryFromFlags(cmd *cobra.Command, args []string) retriever.Query {
	flags := cmd.Flags()
	agent, _ := flags.GetString("agent")
	types, _ := flags.GetStringSlice("type")
	tags, _ := flags.GetString("tags")
	minImp, _ := flags.GetFloat64("min-importance")
	limit, _ := flags.GetInt("limit")

	q := retriever.Query{
		Text:          strings.Join(args, " "),
		AgentID:       agent,
		Tags:          splitCSV(tags),
		MinImportance: minImp,
		Limit:         limit,
	}
	for _, t := range types {
		q.Types = append(q.Types, model.MemoryType(t))
	}
	return q
}

func runRecall(cmd *cobra.Command, args []string) {
	q := queryFromFlags(cmd, args)

	m := openManager(cmd.Context(), loadConfig(), nil)
	defer closeManager(m)

	entries := m.Recall(q)
	if formatFlag == "text" {
		for _, e := range entries {
			fmt.Fprintf(cmd.OutOrStdout(), "%s  [%s] %s\n", e.ID, e.Type, e.Summary)
		}
		return
	}
	printJSON(cmd.OutOrStdout(), entries)
}
