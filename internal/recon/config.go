package recon

import (
	"time"

	"github.com/HerbHall/relayscan/internal/probe"
	"github.com/HerbHall/relayscan/internal/targets"
)

// ReconConfig holds the Recon module configuration.
type ReconConfig struct {
	Concurrency  int           `mapstructure:"concurrency"`
	ProbeTimeout time.Duration `mapstructure:"probe_timeout"`
	ProbePort    int           `mapstructure:"probe_port"`
	MaxTargets   int           `mapstructure:"max_targets"`
	// AcceptUnversioned keeps online results that report no firmware version.
	AcceptUnversioned bool `mapstructure:"accept_unversioned"`

	AutoScanEnabled  bool          `mapstructure:"autoscan_enabled"`
	AutoScanInterval time.Duration `mapstructure:"autoscan_interval"`
	QuietStart       string        `mapstructure:"quiet_start"`
	QuietEnd         string        `mapstructure:"quiet_end"`
}

// DefaultConfig returns the default configuration for the Recon module.
func DefaultConfig() ReconConfig {
	return ReconConfig{
		Concurrency:      20,
		ProbeTimeout:     probe.DefaultTimeout,
		MaxTargets:       targets.DefaultMaxTargets,
		AutoScanInterval: time.Minute,
	}
}

// policy returns the recognition policy selected by the config.
func (c ReconConfig) policy() probe.RecognitionPolicy {
	if c.AcceptUnversioned {
		return probe.AcceptAll
	}
	return probe.RequireFirmwareVersion
}
