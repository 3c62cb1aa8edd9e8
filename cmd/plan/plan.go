// Package plan implements the trip-planning subcommand.
package plan

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/birdtrip/birdtrip-go/cmd/support"
	"github.com/birdtrip/birdtrip-go/internal/conf"
	"github.com/birdtrip/birdtrip-go/internal/trip"
)

type options struct {
	region   string
	species  []string
	lat      float64
	lng      float64
	radiusKm float64
	backDays int
	maxStops int
	enhance  bool
	output   string
}

// Command creates the plan command.
func Command(settings *conf.Settings) *cobra.Command {
	opts := &options{}

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Plan a multi-stop birding trip",
		Long: `Plan fetches recent observations for the requested species, clusters
them into hotspots, scores the candidates and orders the best ones into a
driving route from the origin.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runPlan(cmd, settings, opts)
		},
	}

	cmd.Flags().StringVar(&opts.region, "region", "", "eBird region code, e.g. US-NY")
	cmd.Flags().StringSliceVar(&opts.species, "species", nil, "species names or codes (comma separated)")
	cmd.Flags().Float64Var(&opts.lat, "lat", 0, "trip origin latitude")
	cmd.Flags().Float64Var(&opts.lng, "lng", 0, "trip origin longitude")
	cmd.Flags().Float64Var(&opts.radiusKm, "radius", 25, "search radius in km from the origin")
	cmd.Flags().IntVar(&opts.backDays, "back", 0, "lookback window in days (default from config)")
	cmd.Flags().IntVar(&opts.maxStops, "stops", 0, "maximum route stops (default from config)")
	cmd.Flags().BoolVar(&opts.enhance, "enhance", false, "re-rank top candidates with the enhancement service")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "text", "output format: text or yaml")

	_ = cmd.MarkFlagRequired("region")
	_ = cmd.MarkFlagRequired("species")

	return cmd
}

func runPlan(cmd *cobra.Command, settings *conf.Settings, opts *options) error {
	pipeline, err := support.NewPipeline(settings)
	if err != nil {
		return err
	}
	defer pipeline.Close()

	result, err := pipeline.Planner.PlanTrip(cmd.Context(), trip.PlanRequest{
		Region:         opts.region,
		SpeciesNames:   opts.species,
		Origin:         trip.Point{Lat: opts.lat, Lng: opts.lng},
		RadiusKm:       opts.radiusKm,
		BackDays:       opts.backDays,
		MaxStops:       opts.maxStops,
		UseEnhancement: opts.enhance,
	})
	if err != nil {
		return err
	}

	if opts.output == "yaml" {
		data, err := yaml.Marshal(result)
		if err != nil {
			return fmt.Errorf("error marshaling plan: %w", err)
		}
		cmd.Print(string(data))
		return nil
	}

	printPlan(cmd, result)
	return nil
}

func printPlan(cmd *cobra.Command, plan *trip.TripPlan) {
	cmd.Printf("Trip plan for %s\n", plan.Region)
	cmd.Printf("%s\n\n", plan.Summary)

	if len(plan.Unresolved) > 0 {
		names := make([]string, len(plan.Unresolved))
		for i, u := range plan.Unresolved {
			names[i] = u.InputName
		}
		cmd.Printf("Unresolved species: %s\n", strings.Join(names, ", "))
	}
	if len(plan.FetchStats.FailedSpecies) > 0 {
		names := make([]string, len(plan.FetchStats.FailedSpecies))
		for i, f := range plan.FetchStats.FailedSpecies {
			names[i] = f.Species.CommonName
		}
		cmd.Printf("Fetch failures: %s\n", strings.Join(names, ", "))
	}

	cmd.Printf("Route: %d stop(s), %.1f km, about %s\n\n",
		len(plan.Route.Stops), plan.Route.TotalDistanceKm, plan.Route.EstimatedTime.Round(time.Minute))

	for i, stop := range plan.Route.Stops {
		name := stop.Cluster.Name
		if name == "" {
			name = fmt.Sprintf("Unnamed cluster (%s)", strings.Join(stop.Cluster.LocationIDs, ", "))
		}
		cmd.Printf("%2d. %s  score=%.2f  species=%d  last activity=%s\n",
			i+1, name, stop.Score, len(stop.Cluster.SpeciesCodes),
			stop.Cluster.LastObserved.Format("2006-01-02"))
		if note, ok := plan.StopNotes[stop.Cluster.ID]; ok {
			cmd.Printf("    %s\n", note)
		}
	}
}
