// Package scheduler triggers the weekly collect-and-digest job.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/calvin1011/watchtower/internal/intel"
	"github.com/calvin1011/watchtower/internal/pipeline"
)

// DefaultSpec fires Monday at 07:00.
const DefaultSpec = "0 7 * * 1"

// ErrAlreadyRunning is returned by RunNow while another run is in progress.
var ErrAlreadyRunning = errors.New("scheduler: weekly job already running")

// Runner runs the pipeline for a set of competitors.
type Runner interface {
	RunAll(ctx context.Context, competitors []intel.Competitor) (pipeline.Summary, error)
}

// Sender delivers the digest.
type Sender interface {
	Send(ctx context.Context, recipient string, sinceDays int) (intel.Digest, error)
}

// Competitors lists the tracked competitors.
type Competitors interface {
	All() []intel.Competitor
}

// Config configures the trigger.
type Config struct {
	Spec      string
	Timezone  string
	SinceDays int
}

// Report is the outcome of one weekly run.
type Report struct {
	Summary   pipeline.Summary
	Digest    *intel.Digest
	DigestErr error
}

// Scheduler owns one cron entry.
type Scheduler struct {
	cron        *cron.Cron
	entry       cron.EntryID
	runner      Runner
	sender      Sender
	competitors Competitors
	sinceDays   int
	running     atomic.Bool
	ctx         context.Context
	cancel      context.CancelFunc
	logger      *zap.Logger
}

// New parses the schedule and registers the weekly job. Call Start to arm it.
func New(cfg Config, runner Runner, sender Sender, competitors Competitors, logger *zap.Logger) (*Scheduler, error) {
	if runner == nil || competitors == nil {
		return nil, errors.New("scheduler: runner and competitors are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	spec := cfg.Spec
	if spec == "" {
		spec = DefaultSpec
	}
	loc := time.UTC
	if cfg.Timezone != "" {
		l, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			return nil, fmt.Errorf("load timezone %q: %w", cfg.Timezone, err)
		}
		loc = l
	}
	if cfg.SinceDays <= 0 {
		cfg.SinceDays = 7
	}

	named := logger.Named("scheduler")
	cronLog := cronLogger{log: named.Sugar()}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		cron: cron.New(
			cron.WithParser(parser),
			cron.WithLocation(loc),
			cron.WithChain(cron.Recover(cronLog)),
			cron.WithLogger(cronLog),
		),
		runner:      runner,
		sender:      sender,
		competitors: competitors,
		sinceDays:   cfg.SinceDays,
		ctx:         ctx,
		cancel:      cancel,
		logger:      named,
	}

	entry, err := s.cron.AddFunc(spec, s.tick)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("parse schedule %q: %w", spec, err)
	}
	s.entry = entry
	return s, nil
}

// Start arms the cron timer.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", zap.Time("next_run", s.Next()))
}

// Stop disarms the timer and waits for a running job. If ctx expires first,
// the job's context is cancelled.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	select {
	case <-done.Done():
		s.cancel()
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		s.cancel()
		return fmt.Errorf("scheduler stop: %w", ctx.Err())
	}
}

// Next is the next scheduled fire time, zero when not started.
func (s *Scheduler) Next() time.Time {
	return s.cron.Entry(s.entry).Next
}

// RunNow runs the weekly job synchronously.
func (s *Scheduler) RunNow(ctx context.Context) (Report, error) {
	if !s.running.CompareAndSwap(false, true) {
		return Report{}, ErrAlreadyRunning
	}
	defer s.running.Store(false)
	return s.run(ctx)
}

func (s *Scheduler) tick() {
	report, err := s.RunNow(s.ctx)
	switch {
	case errors.Is(err, ErrAlreadyRunning):
		s.logger.Warn("skipping weekly trigger, previous run still in progress")
	case err != nil:
		s.logger.Error("weekly job failed", zap.Error(err))
	default:
		s.logger.Info("weekly job finished",
			zap.Int("created", report.Summary.Created),
			zap.Int("failures", len(report.Summary.Failures)),
			zap.Bool("digest_sent", report.Digest != nil),
		)
	}
}

func (s *Scheduler) run(ctx context.Context) (Report, error) {
	var report Report
	summary, err := s.runner.RunAll(ctx, s.competitors.All())
	report.Summary = summary
	if err != nil {
		return report, fmt.Errorf("run pipeline: %w", err)
	}
	if s.sender == nil {
		return report, nil
	}
	digest, err := s.sender.Send(ctx, "", s.sinceDays)
	if err != nil {
		s.logger.Warn("weekly digest not sent", zap.Error(err))
		report.DigestErr = err
		return report, nil
	}
	report.Digest = &digest
	return report, nil
}

// cronLogger adapts zap to cron.Logger.
type cronLogger struct {
	log *zap.SugaredLogger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Errorw(msg, append(keysAndValues, "error", err)...)
}
