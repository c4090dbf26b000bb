package jobs

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/civicpulse/backend/internal/analytics"
	"github.com/civicpulse/backend/internal/service"
)

// Advisory lock keys, one per recurring job. Locks are held in postgres
// so that only one instance runs a given job at a time.
const (
	lockTriageSweep  int64 = 720001
	lockSLARun       int64 = 720002
	lockScoreCompute int64 = 720003
)

const (
	defaultSweepLimit = 200
	defaultSLALimit   = 500
	scoreWindowDays   = 30
)

// Locker is the advisory-lock slice of the store.
type Locker interface {
	TryAdvisoryLock(ctx context.Context, key int64) (bool, error)
	AdvisoryUnlock(ctx context.Context, key int64) error
}

type Triager interface {
	Sweep(ctx context.Context, limit int) (service.SweepSummary, error)
}

type SLARunner interface {
	Run(ctx context.Context, limit int) (service.SLASummary, error)
}

type Scorer interface {
	ComputeScores(ctx context.Context, windowDays int) (analytics.ScoreRunSummary, error)
}

// Scheduler runs the recurring batch jobs: the triage sweep, SLA
// computation, and score computation. Each job is guarded twice: an
// in-process atomic flag skips overlapping ticks, and a postgres advisory
// lock serializes across instances.
type Scheduler struct {
	Triage  Triager
	SLA     SLARunner
	Scores  Scorer
	Locker  Locker
	Logger  zerolog.Logger
	Timeout time.Duration

	cron *cron.Cron

	sweepInFlight  atomic.Bool
	slaInFlight    atomic.Bool
	scoresInFlight atomic.Bool
}

func NewScheduler(triage Triager, sla SLARunner, scores Scorer, locker Locker, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		Triage:  triage,
		SLA:     sla,
		Scores:  scores,
		Locker:  locker,
		Logger:  logger,
		Timeout: 5 * time.Minute,
	}
}

// Start registers the three jobs on their cron specs and starts the
// scheduler. Specs use robfig/cron syntax, including @every shorthand.
func (s *Scheduler) Start(triageSpec, slaSpec, scoresSpec string) error {
	s.cron = cron.New()

	if _, err := s.cron.AddFunc(triageSpec, func() { s.RunTriageSweep(context.Background()) }); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(slaSpec, func() { s.RunSLA(context.Background()) }); err != nil {
		return err
	}
	if _, err := s.cron.AddFunc(scoresSpec, func() { s.RunScores(context.Background()) }); err != nil {
		return err
	}

	s.cron.Start()
	s.Logger.Info().
		Str("triage", triageSpec).
		Str("sla", slaSpec).
		Str("scores", scoresSpec).
		Msg("jobs: scheduler started")
	return nil
}

// Stop stops the cron scheduler and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	s.Logger.Info().Msg("jobs: scheduler stopped")
}

// RunTriageSweep processes unprocessed reports. Safe to call from the
// admin API as well as from cron; overlapping calls are skipped.
func (s *Scheduler) RunTriageSweep(ctx context.Context) (service.SweepSummary, bool) {
	var summary service.SweepSummary
	ran := s.guarded(ctx, "triage_sweep", &s.sweepInFlight, lockTriageSweep, func(ctx context.Context) error {
		var err error
		summary, err = s.Triage.Sweep(ctx, defaultSweepLimit)
		return err
	})
	return summary, ran
}

// RunSLA computes SLA metrics for resolved issues that lack them.
func (s *Scheduler) RunSLA(ctx context.Context) (service.SLASummary, bool) {
	var summary service.SLASummary
	ran := s.guarded(ctx, "sla_run", &s.slaInFlight, lockSLARun, func(ctx context.Context) error {
		var err error
		summary, err = s.SLA.Run(ctx, defaultSLALimit)
		return err
	})
	return summary, ran
}

// RunScores recomputes tenant and area performance scores.
func (s *Scheduler) RunScores(ctx context.Context) (analytics.ScoreRunSummary, bool) {
	var summary analytics.ScoreRunSummary
	ran := s.guarded(ctx, "score_compute", &s.scoresInFlight, lockScoreCompute, func(ctx context.Context) error {
		var err error
		summary, err = s.Scores.ComputeScores(ctx, scoreWindowDays)
		return err
	})
	return summary, ran
}

// guarded runs fn under the in-flight flag and advisory lock. Returns
// false when the job was skipped because another run holds either guard.
func (s *Scheduler) guarded(ctx context.Context, name string, inFlight *atomic.Bool, lockKey int64, fn func(context.Context) error) bool {
	if !inFlight.CompareAndSwap(false, true) {
		s.Logger.Warn().Str("job", name).Msg("jobs: previous run still in flight, skipping")
		return false
	}
	defer inFlight.Store(false)

	timeout := s.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if s.Locker != nil {
		locked, err := s.Locker.TryAdvisoryLock(ctx, lockKey)
		if err != nil {
			s.Logger.Error().Err(err).Str("job", name).Msg("jobs: advisory lock failed")
			return false
		}
		if !locked {
			s.Logger.Info().Str("job", name).Msg("jobs: lock held elsewhere, skipping")
			return false
		}
		defer func() {
			if err := s.Locker.AdvisoryUnlock(context.Background(), lockKey); err != nil {
				s.Logger.Error().Err(err).Str("job", name).Msg("jobs: advisory unlock failed")
			}
		}()
	}

	start := time.Now()
	if err := fn(ctx); err != nil {
		s.Logger.Error().Err(err).Str("job", name).Dur("elapsed", time.Since(start)).Msg("jobs: run failed")
		return true
	}
	s.Logger.Info().Str("job", name).Dur("elapsed", time.Since(start)).Msg("jobs: run complete")
	return true
}
