package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/crew-memory/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "get [id]",
		Short: "Retrieve a memory",
		Long:  "Retrieve a memory by id, including archived and superseded ones. Does not count as an access.",
		Args:  cobra.ExactArgs(1),
		Run:   runGet,
	}

	cmd.Flags().Bool("related", false, "Also return linked memories")

	RootCmd.AddCommand(cmd)
}

func runGet(cmd *cobra.Command, args []string) {
	related, _ := cmd.Flags().GetBool("related")

	m := openManager(cmd.Context(), loadConfig(), nil)
	defer closeManager(m)

	e, err := m.Get(args[0])
	if err != nil {
		exitErr("get", err)
	}
	if !related {
		printJSON(cmd.OutOrStdout(), e)
		return
	}

	links, err := m.Related(e.ID)
	if err != nil {
		exitErr("related", err)
	}
	printJSON(cmd.OutOrStdout(), struct {
		model.Entry
		Related []model.IndexEntry `json:"related"`
	}{e, links})
}
