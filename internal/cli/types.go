package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/crew-memory/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "types",
		Short: "List memory types with their defaults and shard files",
		Run:   runTypes,
	}

	RootCmd.AddCommand(cmd)
}

type typeRow struct {
	Type       model.MemoryType `json:"type"`
	Scope      model.Scope      `json:"scope"`
	Importance float64          `json:"importance"`
	Tier       model.Tier       `json:"tier"`
	Shard      string           `json:"shard"`
}

func runTypes(cmd *cobra.Command, args []string) {
	var rows []typeRow
	for _, t := range model.Types() {
		info, _ := model.Lookup(t)
		shard := string(info.Tier) + "/" + info.File
		if info.PerAgent {
			shard = string(info.Tier) + "/<agentId>.json"
		}
		rows = append(rows, typeRow{
			Type:       t,
			Scope:      info.Scope,
			Importance: info.Importance,
			Tier:       info.Tier,
			Shard:      shard,
		})
	}

	if formatFlag == "text" {
		for _, r := range rows {
			fmt.Fprintf(cmd.OutOrStdout(), "%-22s %-7s %.2f  %s\n", r.Type, r.Scope, r.Importance, r.Shard)
		}
		return
	}
	printJSON(cmd.OutOrStdout(), rows)
}
