package sync

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler drives the runner on a cron cadence. Manual triggers share the
// runner's guard, so a timer tick and an API call for the same pair cannot
// overlap.
type Scheduler struct {
	runner *Runner
	logger *slog.Logger
	cron   *cron.Cron
}

// NewScheduler schedules SyncAll on the given spec. Spec accepts either a
// cron expression or an @every duration; an empty spec falls back to the
// interval.
func NewScheduler(runner *Runner, spec string, interval time.Duration, logger *slog.Logger) (*Scheduler, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if spec == "" {
		if interval <= 0 {
			interval = 15 * time.Minute
		}
		spec = fmt.Sprintf("@every %s", interval)
	}

	s := &Scheduler{
		runner: runner,
		logger: logger,
		cron:   cron.New(),
	}

	_, err := s.cron.AddFunc(spec, func() {
		ctx := context.Background()
		if err := s.runner.SyncAll(ctx); err != nil {
			s.logger.Error("scheduled sync pass failed", "error", err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("schedule sync with spec %q: %w", spec, err)
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("sync scheduler started")
}

// Stop halts scheduling and waits for in-flight runs to drain.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.logger.Info("sync scheduler stopped")
}

// Trigger runs one provider sync immediately, subject to the same
// single-flight guard as scheduled runs.
func (s *Scheduler) Trigger(ctx context.Context, tenantID, provider string) error {
	cfg, err := s.runner.store.GetProviderConfig(ctx, tenantID, provider)
	if err != nil {
		return fmt.Errorf("load provider config: %w", err)
	}
	if !cfg.Enabled {
		return fmt.Errorf("provider %s is disabled for tenant %s", provider, tenantID)
	}
	return s.runner.SyncProvider(ctx, cfg)
}
