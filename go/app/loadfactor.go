// Package app assembles the server process: load assessment, traffic
// admission, the monitor HTTP surface, and coordinated shutdown.
package app

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	log "github.com/sirupsen/logrus"
)

// HeavyLoadValue is the load factor at which the process considers
// itself heavily loaded. Each stat contributes its utilization against
// its own heavy threshold, scaled by this value, so any single stat
// crossing its threshold pushes the composite past it.
const HeavyLoadValue = 100

var loadFactorGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "quill_load_factor",
	Help: "Composite load factor; 100 is heavy.",
})

// LoadFactorConfig sets the per-stat heavy thresholds.
type LoadFactorConfig struct {
	HeavyConnections int
	HeavyDocuments   int
	HeavySessions    int
	HeavyStoreBytes  int64
}

// DefaultLoadFactorConfig is the stock thresholds.
var DefaultLoadFactorConfig = LoadFactorConfig{
	HeavyConnections: 200,
	HeavyDocuments:   500,
	HeavySessions:    1000,
	HeavyStoreBytes:  10 << 30,
}

func (c LoadFactorConfig) withDefaults() LoadFactorConfig {
	if c.HeavyConnections <= 0 {
		c.HeavyConnections = DefaultLoadFactorConfig.HeavyConnections
	}
	if c.HeavyDocuments <= 0 {
		c.HeavyDocuments = DefaultLoadFactorConfig.HeavyDocuments
	}
	if c.HeavySessions <= 0 {
		c.HeavySessions = DefaultLoadFactorConfig.HeavySessions
	}
	if c.HeavyStoreBytes <= 0 {
		c.HeavyStoreBytes = DefaultLoadFactorConfig.HeavyStoreBytes
	}
	return c
}

// LoadStats is one sampling of the tracked stats.
type LoadStats struct {
	Connections int
	Documents   int
	Sessions    int
	StoreBytes  int64
}

// LoadFactor synthesizes a scalar load value from independent stats.
type LoadFactor struct {
	cfg    LoadFactorConfig
	sample func(context.Context) LoadStats
}

// NewLoadFactor builds a load factor over a stat sampler.
func NewLoadFactor(cfg LoadFactorConfig, sample func(context.Context) LoadStats) *LoadFactor {
	return &LoadFactor{cfg: cfg.withDefaults(), sample: sample}
}

// Value samples the stats and computes the composite: the sum of each
// stat's utilization against its heavy threshold, scaled by
// HeavyLoadValue and truncated to an integer.
func (lf *LoadFactor) Value(ctx context.Context) int {
	var stats = lf.sample(ctx)
	var composite = float64(stats.Connections)/float64(lf.cfg.HeavyConnections) +
		float64(stats.Documents)/float64(lf.cfg.HeavyDocuments) +
		float64(stats.Sessions)/float64(lf.cfg.HeavySessions) +
		float64(stats.StoreBytes)/float64(lf.cfg.HeavyStoreBytes)
	var value = int(composite * HeavyLoadValue)
	loadFactorGauge.Set(float64(value))
	return value
}

// Serve recomputes the load factor on interval until ctx is cancelled,
// so the gauge and signal stay current without a request in flight.
func (lf *LoadFactor) Serve(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	var ticker = time.NewTicker(interval)
	defer ticker.Stop()

	var last = -1
	for {
		select {
		case <-ticker.C:
			if value := lf.Value(ctx); value != last {
				log.WithField("loadFactor", value).Debug("load factor updated")
				last = value
			}
		case <-ctx.Done():
			return nil
		}
	}
}
