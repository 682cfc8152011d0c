package permcache

import (
	"fmt"
	"time"

	"github.com/platinummonkey/scribe/pkg/observability"
	"github.com/robfig/cron/v3"
)

// Sweepable is a cache that can drop expired entries in bulk
type Sweepable interface {
	Sweep(now time.Time) int
}

// DefaultSweepSchedule runs a sweep every five minutes
const DefaultSweepSchedule = "@every 5m"

// Sweeper periodically removes expired entries so users who stop being
// queried do not pin memory until restart.
type Sweeper struct {
	cron   *cron.Cron
	target Sweepable
	logger *observability.Logger
}

// NewSweeper schedules target.Sweep on schedule, a cron spec or an
// "@every <duration>" descriptor.
func NewSweeper(schedule string, target Sweepable, logger *observability.Logger) (*Sweeper, error) {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	s := &Sweeper{
		cron:   cron.New(),
		target: target,
		logger: logger,
	}
	if _, err := s.cron.AddFunc(schedule, s.run); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	return s, nil
}

func (s *Sweeper) run() {
	defer observability.RecoverPanic(s.logger, "permission cache sweep")

	start := time.Now()
	removed := s.target.Sweep(start)
	s.logger.WithFields(map[string]interface{}{
		"removed":     removed,
		"duration_ms": time.Since(start).Milliseconds(),
	}).Debug("permission cache sweep complete")
}

// Start begins running sweeps in the background
func (s *Sweeper) Start() {
	s.cron.Start()
}

// Stop stops scheduling sweeps and waits for a running one to finish
func (s *Sweeper) Stop() {
	<-s.cron.Stop().Done()
}
