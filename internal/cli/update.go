package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/crew-memory/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "update [id]",
		Short: "Change fields of a memory",
		Args:  cobra.ExactArgs(1),
		Run:   runUpdate,
	}

	cmd.Flags().String("content", "", "New content")
	cmd.Flags().StringP("summary", "s", "", "New summary")
	cmd.Flags().String("scope", "", "New scope: agent, user, shared")
	cmd.Flags().StringP("agent", "a", "", "New owning agent id")
	cmd.Flags().StringP("tags", "t", "", "Replace tags (comma-separated)")
	cmd.Flags().Float64P("importance", "i", 0, "New importance in [0,1]")
	cmd.Flags().Bool("archived", false, "Set the archived flag")

	RootCmd.AddCommand(cmd)
}

func runUpdate(cmd *cobra.Command, args []string) {
	var p model.Patch
	changed := false
	flags := cmd.Flags()

	if flags.Changed("content") {
		v, _ := flags.GetString("content")
		p.Content = &v
		changed = true
	}
	if flags.Changed("summary") {
		v, _ := flags.GetString("summary")
		p.Summary = &v
		changed = true
	}
	if flags.Changed("scope") {
		v, _ := flags.GetString("scope")
		s := model.Scope(v)
		p.Scope = &s
		changed = true
	}
	if flags.Changed("agent") {
		v, _ := flags.GetString("agent")
		p.AgentID = &v
		changed = true
	}
	if flags.Changed("tags") {
		v, _ := flags.GetString("tags")
		tags := splitCSV(v)
		p.Tags = &tags
		changed = true
	}
	if flags.Changed("importance") {
		v, _ := flags.GetFloat64("importance")
		p.Importance = &v
		changed = true
	}
	if flags.Changed("archived") {
		v, _ := flags.GetBool("archived")
		p.Archived = &v
		changed = true
	}
	if !changed {
		exitErr("update", fmt.Errorf("nothing to update"))
	}

	m := openManager(cmd.Context(), loadConfig(), nil)
	defer closeManager(m)

	e, err := m.Update(args[0], p)
	if err != nil {
		exitErr("update", err)
	}
	printJSON(cmd.OutOrStdout(), e)
}
