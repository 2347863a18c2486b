package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func init() {
	cmd := &cobra.Command{
		Use:   "link [from-id] [to-id]",
		Short: "Create or remove a relation between memories",
		Long:  "Relations are stored on both memories in relatedMemoryIds.",
		Args:  cobra.ExactArgs(2),
		Run:   runLink,
	}

	cmd.Flags().Bool("rm", false, "Remove the link")

	RootCmd.AddCommand(cmd)
}

func runLink(cmd *cobra.Command, args []string) {
	rm, _ := cmd.Flags().GetBool("rm")
	from, to := args[0], args[1]

	m := openManager(cmd.Context(), loadConfig(), nil)
	defer closeManager(m)

	var err error
	if rm {
		err = m.Unlink(from, to)
	} else {
		err = m.Link(from, to)
	}
	if err != nil {
		exitErr("link", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), `{"ok":true,"from":%q,"to":%q,"removed":%t}`+"\n", from, to, rm)
}
