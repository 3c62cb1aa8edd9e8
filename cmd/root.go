package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/birdtrip/birdtrip-go/cmd/hotspots"
	"github.com/birdtrip/birdtrip-go/cmd/plan"
	"github.com/birdtrip/birdtrip-go/cmd/species"
	"github.com/birdtrip/birdtrip-go/internal/conf"
	"github.com/birdtrip/birdtrip-go/internal/logging"
)

// RootCommand creates and returns the root command
func RootCommand(settings *conf.Settings) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "birdtrip",
		Short: "BirdTrip-Go CLI",
		Long:  "Plan multi-stop birding trips from recent eBird observations.",
	}

	// Set up the global flags for the root command.
	setupFlags(rootCmd, settings)

	subcommands := []*cobra.Command{
		plan.Command(settings),
		species.Command(settings),
		hotspots.Command(settings),
	}
	rootCmd.AddCommand(subcommands...)

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		if settings.Main.Debug {
			logging.SetLevel(slog.LevelDebug)
		}
		return conf.ValidateSettings(settings)
	}

	return rootCmd
}

// setupFlags defines flags that are global to the command line interface
func setupFlags(rootCmd *cobra.Command, settings *conf.Settings) {
	rootCmd.PersistentFlags().BoolVarP(&settings.Main.Debug, "debug", "d", settings.Main.Debug, "Enable debug output")
	rootCmd.PersistentFlags().StringVar(&settings.EBird.APIKey, "api-key", settings.EBird.APIKey, "eBird API key (overrides config)")
	rootCmd.PersistentFlags().StringVar(&settings.EBird.Locale, "locale", settings.EBird.Locale, "Locale for common names")
}
