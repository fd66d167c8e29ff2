package billing

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/canopyrun/canopy/internal/clock"
	"github.com/canopyrun/canopy/internal/logging"
)

// Sweeper deletes completed intervals older than the retention window on a
// cron schedule. Open intervals are never swept.
type Sweeper struct {
	store     *Store
	retention time.Duration
	clk       clock.Clock
	log       *logging.Logger
	cron      *cron.Cron
}

// NewSweeper creates a Sweeper; call Start to schedule it.
func NewSweeper(store *Store, retention time.Duration, clk clock.Clock, log *logging.Logger) *Sweeper {
	return &Sweeper{
		store:     store,
		retention: retention,
		clk:       clk,
		log:       log.Component("sweep"),
	}
}

// Start schedules the sweep with a standard 5-field cron expression.
func (s *Sweeper) Start(schedule string) error {
	s.cron = cron.New()
	if _, err := s.cron.AddFunc(schedule, s.Sweep); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", schedule, err)
	}
	s.cron.Start()
	s.log.Info("retention sweep scheduled", "schedule", schedule, "retention", s.retention)
	return nil
}

// Stop halts the schedule. Any sweep already running finishes.
func (s *Sweeper) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
}

// Sweep runs one retention pass.
func (s *Sweeper) Sweep() {
	cutoff := s.clk.Now().UTC().Add(-s.retention)
	deleted, err := s.store.DeleteCompletedBefore(cutoff)
	if err != nil {
		s.log.Error("retention sweep failed", "error", err)
		return
	}
	if deleted > 0 {
		s.log.Info("retention sweep removed intervals", "count", deleted, "cutoff", cutoff)
	}
}
