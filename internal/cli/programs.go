package cli

import (
	"text/tabwriter"

	"github.com/harun/parley/pkg/programs"
	"github.com/spf13/cobra"
)

var programsCmd = &cobra.Command{
	Use:   "programs",
	Short: "List the built-in conversation programs",
	RunE: func(cmd *cobra.Command, args []string) error {
		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		printfTo(w, "NAME\tVERSION\tDESCRIPTION\n")
		for _, info := range programs.Default().List() {
			printfTo(w, "%s\t%s\t%s\n", info.Name, info.Version, info.Description)
		}
		return w.Flush()
	},
}

func init() {
	rootCmd.AddCommand(programsCmd)
}
