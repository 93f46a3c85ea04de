// Package scheduler runs the periodic maintenance jobs: the expiration reminder
// sweep and the system log purge.
package scheduler

import (
	"context"
	"log/slog"
	"time"

	"github.com/fleetmaster/fleetmaster-hub/internal/logging"
	"github.com/robfig/cron/v3"
	"gorm.io/gorm"
)

const (
	logPurgeSchedule = "30 3 * * *"
	jobTimeout       = 10 * time.Minute
)

type ExpirationNotifier interface {
	NotifyExpiring(ctx context.Context) (int, error)
}

type Config struct {
	ExpirationSchedule string
	LogRetentionDays   int
}

type Scheduler struct {
	cron     *cron.Cron
	db       *gorm.DB
	notifier ExpirationNotifier
	cfg      Config
	logger   *slog.Logger
}

func New(db *gorm.DB, notifier ExpirationNotifier, cfg Config, logger *slog.Logger) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithChain(cron.Recover(cronLogger), cron.SkipIfStillRunning(cronLogger)),
	)

	return &Scheduler{
		cron:     c,
		db:       db,
		notifier: notifier,
		cfg:      cfg,
		logger:   logger,
	}
}

// Start registers the jobs and starts the cron scheduler. A bad schedule fails
// startup rather than silently disabling the job.
func (s *Scheduler) Start() error {
	if _, err := s.cron.AddFunc(s.cfg.ExpirationSchedule, s.RunExpirationSweep); err != nil {
		return err
	}
	s.logger.Info("scheduled expiration sweep", "schedule", s.cfg.ExpirationSchedule)

	if s.cfg.LogRetentionDays > 0 {
		if _, err := s.cron.AddFunc(logPurgeSchedule, s.RunLogPurge); err != nil {
			return err
		}
		s.logger.Info("scheduled log purge", "schedule", logPurgeSchedule, "retention_days", s.cfg.LogRetentionDays)
	}

	s.cron.Start()
	return nil
}

// Stop halts the scheduler; the returned context is done once running jobs finish.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

// Entries reports how many jobs are registered.
func (s *Scheduler) Entries() int {
	return len(s.cron.Entries())
}

func (s *Scheduler) RunExpirationSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	sent, err := s.notifier.NotifyExpiring(ctx)
	if err != nil {
		s.logger.Error("expiration sweep failed", "action", "expiration_sweep", "error", err)
		return
	}
	s.logger.Info("expiration sweep completed", "action", "expiration_sweep", "sent", sent)
}

func (s *Scheduler) RunLogPurge() {
	ctx, cancel := context.WithTimeout(context.Background(), jobTimeout)
	defer cancel()

	deleted, err := logging.PurgeOlderThan(ctx, s.db, s.cfg.LogRetentionDays, time.Now().UTC())
	if err != nil {
		s.logger.Error("log purge failed", "action", "log_purge", "error", err)
		return
	}
	if deleted > 0 {
		s.logger.Info("log purge completed", "action", "log_purge", "deleted", deleted)
	}
}
