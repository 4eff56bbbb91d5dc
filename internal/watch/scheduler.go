package watch

import (
	"context"
	"fmt"
	"time"

	"github.com/go-co-op/gocron/v2"
	"go.uber.org/zap"
)

// Scheduler re-persists paths on a fixed interval so that results follow
// data that changes outside the watched documents
type Scheduler struct {
	scheduler gocron.Scheduler
	persister Persister
	logger    *zap.Logger
}

// NewScheduler creates a new scheduler instance
func NewScheduler(p Persister, logger *zap.Logger) (*Scheduler, error) {
	s, err := gocron.NewScheduler()
	if err != nil {
		return nil, fmt.Errorf("failed to create gocron scheduler: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		scheduler: s,
		persister: p,
		logger:    logger,
	}, nil
}

// ScheduleRefresh persists paths every interval and returns the job ID
func (s *Scheduler) ScheduleRefresh(ctx context.Context, interval time.Duration, paths []string) (string, error) {
	if interval <= 0 {
		return "", fmt.Errorf("refresh interval must be positive, got %s", interval)
	}
	job, err := s.scheduler.NewJob(
		gocron.DurationJob(interval),
		gocron.NewTask(func() { s.refresh(ctx, paths) }),
		gocron.WithName("refresh"),
		gocron.WithSingletonMode(gocron.LimitModeReschedule),
	)
	if err != nil {
		return "", fmt.Errorf("failed to create refresh job: %w", err)
	}
	return job.ID().String(), nil
}

func (s *Scheduler) refresh(ctx context.Context, paths []string) {
	if ctx.Err() != nil {
		return
	}
	report, err := s.persister.PersistPaths(ctx, paths)
	if err != nil {
		s.logger.Error("scheduled refresh failed", zap.Error(err))
		return
	}
	s.logger.Info("scheduled refresh",
		zap.Int("files", report.Files),
		zap.Int("changed", len(report.Changed)),
		zap.Int("errors", len(report.Errors)))
}

// Run starts the scheduler and blocks until ctx is cancelled
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Debug("starting scheduler")
	s.scheduler.Start()
	<-ctx.Done()
	s.logger.Debug("stopping scheduler")
	return s.scheduler.Shutdown()
}
