package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rcliao/crew-memory/internal/model"
	"github.com/rcliao/crew-memory/internal/summarizer"
)

func init() {
	cmd := &cobra.Command{
		Use:   "store [content]",
		Short: "Store a memory",
		Long:  "Store a memory. Content can be a positional arg or piped via stdin.",
		Run:   runStore,
	}

	cmd.Flags().String("type", "", "Memory type (required), see `crew-memory types`")
	cmd.Flags().StringP("summary", "s", "", "One-line summary (default: first line of content)")
	cmd.Flags().String("scope", "", "Scope: agent, user, shared (default: per type)")
	cmd.Flags().StringP("agent", "a", "", "Owning agent id")
	cmd.Flags().StringP("tags", "t", "", "Comma-separated tags")
	cmd.Flags().String("related-agents", "", "Comma-separated agent ids")
	cmd.Flags().Float64P("importance", "i", -1, "Importance in [0,1] (default: per type)")

	cmd.MarkFlagRequired("type")

	RootCmd.AddCommand(cmd)
}

func runStore(cmd *cobra.Command, args []string) {
	typ, _ := cmd.Flags().GetString("type")
	summary, _ := cmd.Flags().GetString("summary")
	scope, _ := cmd.Flags().GetString("scope")
	agent, _ := cmd.Flags().GetString("agent")
	tags, _ := cmd.Flags().GetString("tags")
	related, _ := cmd.Flags().GetString("related-agents")
	importance, _ := cmd.Flags().GetFloat64("importance")

	content := strings.TrimSpace(readContent(args))
	if content == "" {
		exitErr("store", fmt.Errorf("content is required (positional arg or stdin)"))
	}
	if summary == "" {
		summary = summarizer.Headline(content)
	}

	in := model.Input{
		Type:          model.MemoryType(typ),
		Content:       content,
		Summary:       summary,
		Scope:         model.Scope(scope),
		AgentID:       agent,
		Source:        model.Source{Type: model.SourceManual},
		Tags:          splitCSV(tags),
		RelatedAgents: splitCSV(related),
	}
	if cmd.Flags().Changed("importance") {
		in.Importance = &importance
	}

	cfg := loadConfig()
	m := openManager(cmd.Context(), cfg, nil)
	defer closeManager(m)

	res := m.Store(in)
	if !res.OK() {
		exitErr("store", res.Err)
	}
	if formatFlag == "text" {
		fmt.Fprintln(cmd.OutOrStdout(), res.Entry.ID)
		return
	}
	printJSON(cmd.OutOrStdout(), res.Entry)
}
