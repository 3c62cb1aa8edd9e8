// Package hotspots implements the nearby hotspot listing subcommand.
package hotspots

import (
	"github.com/spf13/cobra"

	"github.com/birdtrip/birdtrip-go/cmd/support"
	"github.com/birdtrip/birdtrip-go/internal/conf"
)

// Command creates the hotspots command.
func Command(settings *conf.Settings) *cobra.Command {
	var (
		lat    float64
		lng    float64
		distKm float64
	)

	cmd := &cobra.Command{
		Use:   "hotspots",
		Short: "List known birding hotspots near a coordinate",
		RunE: func(cmd *cobra.Command, _ []string) error {
			pipeline, err := support.NewPipeline(settings)
			if err != nil {
				return err
			}
			defer pipeline.Close()

			hotspots, err := pipeline.Client.NearbyHotspots(cmd.Context(), lat, lng, distKm)
			if err != nil {
				return err
			}

			for _, h := range hotspots {
				cmd.Printf("%-12s %-40s %8.4f %9.4f  %d species all time\n",
					h.LocationID, h.LocationName, h.Latitude, h.Longitude, h.NumSpeciesAllTime)
			}
			return nil
		},
	}

	cmd.Flags().Float64Var(&lat, "lat", 0, "latitude")
	cmd.Flags().Float64Var(&lng, "lng", 0, "longitude")
	cmd.Flags().Float64Var(&distKm, "dist", 25, "search distance in km (max 50)")
	_ = cmd.MarkFlagRequired("lat")
	_ = cmd.MarkFlagRequired("lng")

	return cmd
}
