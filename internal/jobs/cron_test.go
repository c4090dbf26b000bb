package jobs

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/civicpulse/backend/internal/analytics"
	"github.com/civicpulse/backend/internal/service"
)

type blockingTriager struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingTriager) Sweep(ctx context.Context, limit int) (service.SweepSummary, error) {
	close(b.started)
	<-b.release
	return service.SweepSummary{Reports: 1}, nil
}

type countingSLA struct{ runs int }

func (c *countingSLA) Run(ctx context.Context, limit int) (service.SLASummary, error) {
	c.runs++
	return service.SLASummary{}, nil
}

type countingScorer struct{ runs int }

func (c *countingScorer) ComputeScores(ctx context.Context, windowDays int) (analytics.ScoreRunSummary, error) {
	c.runs++
	return analytics.ScoreRunSummary{}, nil
}

type fakeLocker struct {
	mu      sync.Mutex
	held    map[int64]bool
	denyAll bool
}

func (f *fakeLocker) TryAdvisoryLock(ctx context.Context, key int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.denyAll {
		return false, nil
	}
	if f.held == nil {
		f.held = map[int64]bool{}
	}
	if f.held[key] {
		return false, nil
	}
	f.held[key] = true
	return true, nil
}

func (f *fakeLocker) AdvisoryUnlock(ctx context.Context, key int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.held, key)
	return nil
}

func TestOverlappingRunSkipped(t *testing.T) {
	triager := &blockingTriager{started: make(chan struct{}), release: make(chan struct{})}
	s := NewScheduler(triager, &countingSLA{}, &countingScorer{}, &fakeLocker{}, zerolog.Nop())

	done := make(chan service.SweepSummary, 1)
	go func() {
		summary, _ := s.RunTriageSweep(context.Background())
		done <- summary
	}()
	<-triager.started

	// Second invocation while the first still runs must be skipped.
	if _, ran := s.RunTriageSweep(context.Background()); ran {
		t.Fatalf("overlapping run must be skipped")
	}

	close(triager.release)
	select {
	case summary := <-done:
		if summary.Reports != 1 {
			t.Fatalf("unexpected summary: %+v", summary)
		}
	case <-time.After(time.Second):
		t.Fatalf("first run did not finish")
	}

	// After completion the guard is released.
	if _, ran := s.RunSLA(context.Background()); !ran {
		t.Fatalf("expected sla run to proceed")
	}
}

func TestLockHeldElsewhereSkips(t *testing.T) {
	sla := &countingSLA{}
	s := NewScheduler(nil, sla, nil, &fakeLocker{denyAll: true}, zerolog.Nop())

	if _, ran := s.RunSLA(context.Background()); ran {
		t.Fatalf("run must be skipped when the advisory lock is held elsewhere")
	}
	if sla.runs != 0 {
		t.Fatalf("job body must not run without the lock")
	}
}

func TestJobsRunIndependently(t *testing.T) {
	sla := &countingSLA{}
	scorer := &countingScorer{}
	locker := &fakeLocker{}
	s := NewScheduler(nil, sla, scorer, locker, zerolog.Nop())

	if _, ran := s.RunSLA(context.Background()); !ran {
		t.Fatalf("sla run skipped")
	}
	if _, ran := s.RunScores(context.Background()); !ran {
		t.Fatalf("scores run skipped")
	}
	if sla.runs != 1 || scorer.runs != 1 {
		t.Fatalf("expected one run each, got sla=%d scores=%d", sla.runs, scorer.runs)
	}
	locker.mu.Lock()
	defer locker.mu.Unlock()
	if len(locker.held) != 0 {
		t.Fatalf("locks must be released after runs: %v", locker.held)
	}
}
