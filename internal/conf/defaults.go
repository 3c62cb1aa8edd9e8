// conf/defaults.go default values for settings
package conf

import (
	"time"

	"github.com/spf13/viper"
)

// Sets default values for the configuration.
func setDefaultConfig() {
	viper.SetDefault("main.name", "birdtrip-go")
	viper.SetDefault("main.debug", false)
	viper.SetDefault("main.log.enabled", true)
	viper.SetDefault("main.log.path", "logs/")

	viper.SetDefault("ebird.baseurl", "https://api.ebird.org/v2")
	viper.SetDefault("ebird.requesttimeout", 30*time.Second)
	viper.SetDefault("ebird.maxconcurrent", 5)
	viper.SetDefault("ebird.locale", "en")
	viper.SetDefault("ebird.ratelimit.maxperwindow", 750)
	viper.SetDefault("ebird.ratelimit.window", time.Hour)

	viper.SetDefault("retry.maxretries", 3)
	viper.SetDefault("retry.initialdelay", 500*time.Millisecond)
	viper.SetDefault("retry.maxdelay", 10*time.Second)
	viper.SetDefault("retry.multiplier", 2.0)

	viper.SetDefault("breaker.maxfailures", 5)
	viper.SetDefault("breaker.recoverytimeout", 30*time.Second)
	viper.SetDefault("breaker.halfopenmaxtrials", 1)

	viper.SetDefault("cache.taxonomyttl", 24*time.Hour)
	viper.SetDefault("cache.observationttl", 15*time.Minute)
	viper.SetDefault("cache.hotspotttl", time.Hour)
	viper.SetDefault("cache.fallbacktostale", true)
	viper.SetDefault("cache.maxstaleentries", 1000)

	viper.SetDefault("trip.clusterradiuskm", 2.0)
	viper.SetDefault("trip.maxstops", 8)
	viper.SetDefault("trip.lookbackdays", 14)
	viper.SetDefault("trip.relaxedfilterminresults", 5)
	viper.SetDefault("trip.relaxedfilterfactor", 1.5)
	viper.SetDefault("trip.recencyhalflifedays", 3.0)
	viper.SetDefault("trip.twooptmaxiterations", 1000)
	viper.SetDefault("trip.weights.coverage", 0.5)
	viper.SetDefault("trip.weights.recency", 0.3)
	viper.SetDefault("trip.weights.distance", 0.2)

	viper.SetDefault("enhancer.enabled", false)
	viper.SetDefault("enhancer.endpoint", "")
	viper.SetDefault("enhancer.timeout", 20*time.Second)
	viper.SetDefault("enhancer.maxadjustment", 0.15)
	viper.SetDefault("enhancer.requestsperminute", 10)
}

// GetDefaultSettings returns a Settings populated purely from defaults,
// without touching the config file. Intended for tests and embedders.
func GetDefaultSettings() *Settings {
	viper.Reset()
	setDefaultConfig()
	settings := &Settings{}
	if err := viper.Unmarshal(settings); err != nil {
		// Defaults are static, unmarshal cannot fail unless the struct drifts
		panic(err)
	}
	return settings
}
