package cli

import (
	"github.com/spf13/cobra"

	"github.com/rcliao/crew-memory/internal/model"
)

func init() {
	reinforce := &cobra.Command{
		Use:   "reinforce [id...]",
		Short: "Record an access to memories",
		Long:  "Bump the access count and last access time of each memory and restore it if archived.",
		Args:  cobra.MinimumNArgs(1),
		Run:   runReinforce,
	}

	promote := &cobra.Command{
		Use:   "promote [id]",
		Short: "Raise the importance of a memory",
		Args:  cobra.ExactArgs(1),
		Run:   runPromote,
	}
	promote.Flags().Float64P("boost", "b", 0.1, "Amount added to importance (capped at 1)")
	promote.Flags().Bool("important", false, "Pin importance at 0.95 and restore the memory if archived")

	RootCmd.AddCommand(reinforce, promote)
}

func runReinforce(cmd *cobra.Command, args []string) {
	m := openManager(cmd.Context(), loadConfig(), nil)
	defer closeManager(m)

	out := make([]model.Entry, 0, len(args))
	for _, id := range args {
		e, err := m.Reinforce(id)
		if err != nil {
			exitErr("reinforce", err)
		}
		out = append(out, e)
	}
	printJSON(cmd.OutOrStdout(), out)
}

func runPromote(cmd *cobra.Command, args []string) {
	boost, _ := cmd.Flags().GetFloat64("boost")
	important, _ := cmd.Flags().GetBool("important")

	m := openManager(cmd.Context(), loadConfig(), nil)
	defer closeManager(m)

	var (
		e   model.Entry
		err error
	)
	if important {
		e, err = m.MarkImportant(args[0])
	} else {
		e, err = m.BoostImportance(args[0], boost)
	}
	if err != nil {
		exitErr("promote", err)
	}
	printJSON(cmd.OutOrStdout(), e)
}
