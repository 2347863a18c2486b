package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/crew-memory/internal/model"
	"github.com/rcliao/crew-memory/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List memories",
		Long: `List memories newest first. --where takes a boolean expression over
id, type, scope, agentId, tags, importance, createdAt, lastAccessedAt,
accessCount, archived, supersededBy, summary and ageDays, e.g.

  crew-memory list --where 'importance > 0.7 && "infra" in tags'`,
		Run: runList,
	}

	filterFlags(cmd, false, 20)
	cmd.Flags().Bool("ids-only", false, "Only output ids")

	RootCmd.AddCommand(cmd)
}

func runList(cmd *cobra.Command, args []string) {
	f, err := filterFromFlags(cmd)
	if err != nil {
		exitErr("list", err)
	}
	idsOnly, _ := cmd.Flags().GetBool("ids-only")

	m := openManager(cmd.Context(), loadConfig(), nil)
	defer closeManager(m)

	ixs, err := m.List(f)
	if err != nil {
		exitErr("list", err)
	}

	if idsOnly {
		for _, ix := range ixs {
			fmt.Fprintln(cmd.OutOrStdout(), ix.ID)
		}
		return
	}
	if formatFlag == "text" {
		for _, ix := range ixs {
			fmt.Fprintf(cmd.OutOrStdout(), "%s  %-20s %.2f  %s\n", ix.ID, ix.Type, ix.Importance, ix.Summary)
		}
		return
	}
	printJSON(cmd.OutOrStdout(), ixs)
}

// filterFlags registers the filter flags shared by list and export.
func filterFlags(cmd *cobra.Command, includeAll bool, limit int) {
	cmd.Flags().StringSlice("type", nil, "Filter by type")
	cmd.Flags().StringSlice("scope", nil, "Filter by scope")
	cmd.Flags().StringP("agent", "a", "", "Only memories owned by this agent")
	cmd.Flags().String("visible-to", "", "Only memories this agent may read")
	cmd.Flags().StringP("tags", "t", "", "Filter by tags (comma-separated, all must match)")
	cmd.Flags().Float64("min-importance", 0, "Minimum importance")
	cmd.Flags().StringP("where", "w", "", "Expression filter")
	cmd.Flags().Bool("archived", includeAll, "Include archived memories")
	cmd.Flags().Bool("superseded", includeAll, "Include merged-away memories")
	cmd.Flags().IntP("limit", "l", limit, "Max results (0 = all)")
}

// filterFromFlags reads the flags registered by filterFlags.
func filterFromFlags(cmd *cobra.Command) (store.Filter, error) {
	flags := cmd.Flags()
	types, _ := flags.GetStringSlice("type")
	scopes, _ := flags.GetStringSlice("scope")
	agent, _ := flags.GetString("agent")
	visibleTo, _ := flags.GetString("visible-to")
	tags, _ := flags.GetString("tags")
	minImp, _ := flags.GetFloat64("min-importance")
	where, _ := flags.GetString("where")
	archived, _ := flags.GetBool("archived")
	superseded, _ := flags.GetBool("superseded")
	limit, _ := flags.GetInt("limit")

	f := store.Filter{
		AgentID:           agent,
		VisibleTo:         visibleTo,
		Tags:              splitCSV(tags),
		MinImportance:     minImp,
		IncludeArchived:   archived,
		IncludeSuperseded: superseded,
		Where:             where,
		Limit:             limit,
	}
	for _, t := range types {
		mt := model.MemoryType(t)
		if _, ok := model.Lookup(mt); !ok {
			return f, fmt.Errorf("%w: %s", model.ErrUnknownType, t)
		}
		f.Types = append(f.Types, mt)
	}
	for _, s := range scopes {
		sc := model.Scope(s)
		if !model.ValidScopes[sc] {
			return f, fmt.Errorf("%w: %s", model.ErrInvalidScope, s)
		}
		f.Scopes = append(f.Scopes, sc)
	}
	return f, nil
}
