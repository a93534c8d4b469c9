package scheduler

import (
	"context"
	"time"

	"github.com/go-co-op/gocron"
	"go.uber.org/zap"

	"github.com/i474232898/airq-ingestion/internal/airq"
)

// Job is the recurring work; in practice the hourly ingestion batch.
type Job func(ctx context.Context) (airq.RunReport, error)

// Scheduler periodically runs the ingestion batch. Runs never overlap: a tick
// that arrives while a batch is still going is dropped.
type Scheduler struct {
	scheduler *gocron.Scheduler
	job       Job
	interval  time.Duration
	timeout   time.Duration
	log       *zap.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

// New creates a new Scheduler. timeout bounds one run; zero means the
// interval itself.
func New(job Job, interval, timeout time.Duration, log *zap.Logger) *Scheduler {
	s := gocron.NewScheduler(time.UTC)
	s.SingletonModeAll()
	if timeout <= 0 {
		timeout = interval
	}
	return &Scheduler{
		scheduler: s,
		job:       job,
		interval:  interval,
		timeout:   timeout,
		log:       log.Named("scheduler"),
	}
}

// Start schedules the periodic job and starts the underlying scheduler. The
// first run starts immediately.
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	_, err := s.scheduler.Every(s.interval).Do(s.tick)
	if err != nil {
		s.cancel()
		return err
	}

	s.scheduler.StartAsync()
	s.log.Info("scheduler started", zap.Duration("interval", s.interval))
	return nil
}

func (s *Scheduler) tick() {
	ctx, cancel := context.WithTimeout(s.ctx, s.timeout)
	defer cancel()

	s.log.Info("running ingestion job")
	report, err := s.job(ctx)
	if err != nil {
		s.log.Error("ingestion job failed", zap.String("run_id", report.ID), zap.Error(err))
		return
	}
	s.log.Info("completed ingestion job",
		zap.String("run_id", report.ID),
		zap.Int("loaded", report.Loaded()),
		zap.Int("failed", report.Failed()),
		zap.Bool("aborted", report.Aborted),
	)
}

// Stop cancels a running batch and stops future runs.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	if s.scheduler != nil {
		s.scheduler.Stop()
	}
}
