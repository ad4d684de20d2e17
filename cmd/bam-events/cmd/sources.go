package cmd

import (
	"fmt"
	"text/tabwriter"

	"github.com/mfenderov/bam-events/internal/source"
	"github.com/spf13/cobra"
)

var sourcesCmd = &cobra.Command{
	Use:   "sources",
	Short: "Show configured sources",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		registry, err := source.NewRegistry(GetConfig().Sources)
		if err != nil {
			return fmt.Errorf("invalid sources: %w", err)
		}
		if registry.Len() == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No sources configured.")
			return nil
		}

		tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "NAME\tKIND\tENABLED\tPAGES\tURL")
		for _, src := range registry.All() {
			fmt.Fprintf(tw, "%s\t%s\t%t\t%d\t%s\n", src.Name, src.Kind, src.Enabled, src.MaxPages, src.URL)
		}
		return tw.Flush()
	},
}

func init() {
	rootCmd.AddCommand(sourcesCmd)
}
