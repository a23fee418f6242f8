/*
Package config loads engine configuration from a TOML file.

PURPOSE:
  One file configures the server, the database, the allocation rules, and
  the batch scheduler. Every field has a working default so a missing file
  or a partial file is fine; flags on the CLI override the port and DB path.

EXAMPLE (visitorders.toml):

  [server]
  port = 8080

  [database]
  path = "visitorders.db"

  [allocation]
  vo_cadence_days       = 14
  pvo_cadence_days      = 28
  accumulation_age_days = 28
  pvo_expiry_age_days   = 28
  accumulated_vo_cap    = 26
  max_vo_balance        = 26
  max_pvo_balance       = 26

  [scheduler]
  enabled          = true
  interval_minutes = 60
  prisons          = ["MDI", "HEI"]

  [upstreams]
  incentives_url = "http://incentives.internal"
  prisoners_url  = "http://prisoner-registry.internal"
  visits_url     = "http://visit-registry.internal"
*/
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/gatehouse/visit-order-engine/vorder"
)

// Config is the full application configuration.
type Config struct {
	Server     Server     `toml:"server"`
	Database   Database   `toml:"database"`
	Allocation Allocation `toml:"allocation"`
	Scheduler  Scheduler  `toml:"scheduler"`
	Upstreams  Upstreams  `toml:"upstreams"`
}

type Server struct {
	Port int `toml:"port"`
}

type Database struct {
	Path string `toml:"path"`
}

type Allocation struct {
	VOCadenceDays       int `toml:"vo_cadence_days"`
	PVOCadenceDays      int `toml:"pvo_cadence_days"`
	AccumulationAgeDays int `toml:"accumulation_age_days"`
	PVOExpiryAgeDays    int `toml:"pvo_expiry_age_days"`
	AccumulatedVOCap    int `toml:"accumulated_vo_cap"`
	MaxVOBalance        int `toml:"max_vo_balance"`
	MaxPVOBalance       int `toml:"max_pvo_balance"`
}

type Scheduler struct {
	Enabled         bool     `toml:"enabled"`
	IntervalMinutes int      `toml:"interval_minutes"`
	Prisons         []string `toml:"prisons"`
}

type Upstreams struct {
	IncentivesURL string `toml:"incentives_url"`
	PrisonersURL  string `toml:"prisoners_url"`
	VisitsURL     string `toml:"visits_url"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	rules := vorder.DefaultRules()
	return Config{
		Server:   Server{Port: 8080},
		Database: Database{Path: "visitorders.db"},
		Allocation: Allocation{
			VOCadenceDays:       rules.VOCadenceDays,
			PVOCadenceDays:      rules.PVOCadenceDays,
			AccumulationAgeDays: rules.AccumulationAgeDays,
			PVOExpiryAgeDays:    rules.PVOExpiryAgeDays,
			AccumulatedVOCap:    rules.AccumulatedVOCap,
			MaxVOBalance:        rules.MaxVOBalance,
			MaxPVOBalance:       rules.MaxPVOBalance,
		},
		Scheduler: Scheduler{Enabled: true, IntervalMinutes: 60},
		Upstreams: Upstreams{
			IncentivesURL: "http://incentives.internal",
			PrisonersURL:  "http://prisoner-registry.internal",
			VisitsURL:     "http://visit-registry.internal",
		},
	}
}

// Load reads a TOML file over the defaults. A missing file returns the
// defaults without error; a malformed file is an error.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}

// Rules converts the allocation section to engine rules.
func (c Config) Rules() vorder.Rules {
	return vorder.Rules{
		VOCadenceDays:       c.Allocation.VOCadenceDays,
		PVOCadenceDays:      c.Allocation.PVOCadenceDays,
		AccumulationAgeDays: c.Allocation.AccumulationAgeDays,
		PVOExpiryAgeDays:    c.Allocation.PVOExpiryAgeDays,
		AccumulatedVOCap:    c.Allocation.AccumulatedVOCap,
		MaxVOBalance:        c.Allocation.MaxVOBalance,
		MaxPVOBalance:       c.Allocation.MaxPVOBalance,
	}
}

// Interval returns the scheduler tick.
func (s Scheduler) Interval() time.Duration {
	if s.IntervalMinutes <= 0 {
		return time.Hour
	}
	return time.Duration(s.IntervalMinutes) * time.Minute
}
