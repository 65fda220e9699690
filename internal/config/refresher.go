package config

import (
	"fmt"
	"time"
)

// RefresherConfig contains configuration for the mapper's embedded refresher,
// the periodic loop that polls the model service for recently updated
// detector mappings and applies them to the mapping cache.
type RefresherConfig struct {
	Enabled bool `envconfig:"ENABLED" default:"true"`

	// Interval is how often a refresh cycle runs.
	Interval time.Duration `envconfig:"INTERVAL" default:"60s" validate:"gt=0"`

	// Lookback is the "updated within" window requested from the model
	// service each cycle. It must exceed Interval so consecutive cycles
	// overlap; a gap would let an update land unseen between polls.
	Lookback time.Duration `envconfig:"LOOKBACK" default:"150s" validate:"gt=0"`
}

// Validate performs validation on the RefresherConfig.
func (c *RefresherConfig) Validate() error {
	if c.Lookback <= c.Interval {
		return fmt.Errorf("refresher lookback (%s) must be greater than interval (%s)", c.Lookback, c.Interval)
	}
	return nil
}
