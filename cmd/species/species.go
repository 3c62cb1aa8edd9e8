// Package species implements the species resolution subcommand.
package species

import (
	"github.com/spf13/cobra"

	"github.com/birdtrip/birdtrip-go/cmd/support"
	"github.com/birdtrip/birdtrip-go/internal/conf"
)

// Command creates the species command.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "species [name]...",
		Short: "Resolve species names against the eBird taxonomy",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			pipeline, err := support.NewPipeline(settings)
			if err != nil {
				return err
			}
			defer pipeline.Close()

			refs, failures, err := pipeline.Planner.ResolveSpecies(cmd.Context(), args)
			if err != nil {
				return err
			}

			for _, ref := range refs {
				cmd.Printf("%-12s %-30s %-30s %s (%.2f)\n",
					ref.Code, ref.CommonName, ref.ScientificName, ref.Method, ref.Confidence)
			}
			for _, f := range failures {
				cmd.Printf("%-12s %s: %s\n", "-", f.InputName, f.Reason)
			}
			return nil
		},
	}
}
