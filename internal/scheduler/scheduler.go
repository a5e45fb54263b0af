// Package scheduler runs background jobs on cron schedules.
package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/ugoodapp/ugood/internal/config"
	"github.com/ugoodapp/ugood/internal/ops"
	"github.com/ugoodapp/ugood/internal/store"
)

// Scheduler owns the nightly cycle rollover.
type Scheduler struct {
	cfg    *config.Config
	store  store.Store
	logger zerolog.Logger
	cron   *cron.Cron
	opsMu  sync.Mutex
}

// New prepares the scheduler. Jobs are registered in Start.
func New(cfg *config.Config, st store.Store, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		cfg:    cfg,
		store:  st,
		logger: logger.With().Str("component", "scheduler").Logger(),
		cron:   cron.New(cron.WithLocation(cfg.Location())),
	}
}

// Start registers the rollover job and starts the cron loop. An empty
// schedule.rollover disables the job.
func (s *Scheduler) Start() error {
	spec := s.cfg.Schedule.Rollover
	if spec == "" {
		s.logger.Info().Msg("rollover job disabled")
		return nil
	}

	if _, err := s.cron.AddFunc(spec, func() { s.RunRollover(context.Background()) }); err != nil {
		return fmt.Errorf("invalid schedule.rollover %q: %w", spec, err)
	}
	s.cron.Start()
	s.logger.Info().Str("spec", spec).Str("timezone", s.cfg.Location().String()).Msg("rollover job scheduled")
	return nil
}

// RunRollover expires previous-cycle matches once. Overlapping runs are serialized.
func (s *Scheduler) RunRollover(ctx context.Context) {
	s.opsMu.Lock()
	defer s.opsMu.Unlock()

	out, err := ops.Rollover(ctx, s.store, s.cfg)
	if err != nil {
		s.logger.Error().Err(err).Msg("rollover failed")
		return
	}
	s.logger.Info().Str("match_date", out.MatchDate).Int("expired", out.Expired).Msg("rollover complete")
}

// Stop stops scheduling and waits for a running job to finish or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) {
	done := s.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}
