package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "context [description]",
		Short: "Assemble relevant memories for an agent prompt",
		Long:  "Recall memories for the description and pack them, one line each, into the configured token budget.",
		Args:  cobra.MinimumNArgs(1),
		Run:   runContext,
	}

	cmd.Flags().StringP("agent", "a", "", "Agent the context is for")
	cmd.Flags().IntP("limit", "l", 0, "Max memories (default from config)")

	RootCmd.AddCommand(cmd)
}

func runContext(cmd *cobra.Command, args []string) {
	agent, _ := cmd.Flags().GetString("agent")
	limit, _ := cmd.Flags().GetInt("limit")
	query := strings.Join(args, " ")

	m := openManager(cmd.Context(), loadConfig(), nil)
	defer closeManager(m)

	block := m.GetContextForAgent(agent, query, limit)
	if formatFlag == "text" {
		fmt.Fprint(cmd.OutOrStdout(), block)
		if block != "" {
			fmt.Fprintln(cmd.OutOrStdout())
		}
		return
	}
	printJSON(cmd.OutOrStdout(), map[string]any{
		"agent":   agent,
		"query":   query,
		"context": block,
		"empty":   block == "",
	})
}
