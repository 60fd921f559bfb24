package server

import (
	"context"
	"sync"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/rs/zerolog"

	"github.com/mohammad-safakhou/wellsession/internal/search"
)

// Rebuilder rebuilds the search index from the session store.
type Rebuilder interface {
	Rebuild(ctx context.Context, src search.Lister) (int, error)
}

// Scheduler rebuilds the search index on a cron schedule.
type Scheduler struct {
	Index  Rebuilder
	Source search.Lister
	Spec   string
	Logger zerolog.Logger
	// Tick is how often the schedule is checked. Defaults to a minute.
	Tick time.Duration

	mu   sync.Mutex
	last *time.Time
	now  func() time.Time
}

// Start runs the scheduler until ctx is cancelled. The returned channel is
// closed once the loop has exited.
func (s *Scheduler) Start(ctx context.Context) <-chan struct{} {
	done := make(chan struct{})
	tick := s.Tick
	if tick <= 0 {
		tick = time.Minute
	}
	ticker := time.NewTicker(tick)
	go func() {
		defer close(done)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.tick(ctx)
			}
		}
	}()
	return done
}

// RunNow rebuilds immediately and records the run time.
func (s *Scheduler) RunNow(ctx context.Context) {
	start := s.clock()
	n, err := s.Index.Rebuild(ctx, s.Source)
	if err != nil {
		s.Logger.Error().Err(err).Msg("search index rebuild failed")
		return
	}
	s.mu.Lock()
	s.last = &start
	s.mu.Unlock()
	s.Logger.Info().Int("sessions", n).Dur("took", s.clock().Sub(start)).Msg("search index rebuilt")
}

func (s *Scheduler) tick(ctx context.Context) {
	s.mu.Lock()
	last := s.last
	s.mu.Unlock()
	if !isDue(s.Spec, last, s.clock()) {
		return
	}
	s.RunNow(ctx)
}

func (s *Scheduler) clock() time.Time {
	if s.now != nil {
		return s.now()
	}
	return time.Now()
}

// isDue determines if a job with cronSpec should run at now based on its last
// run time. Supports "@daily", "@hourly", and standard cron expressions; an
// unparsable spec falls back to daily.
func isDue(cronSpec string, last *time.Time, now time.Time) bool {
	if last == nil {
		return true
	}
	switch cronSpec {
	case "@daily":
		return now.Sub(*last) >= 24*time.Hour
	case "@hourly":
		return now.Sub(*last) >= time.Hour
	}
	expr, err := cronexpr.Parse(cronSpec)
	if err != nil {
		return now.Sub(*last) >= 24*time.Hour
	}
	next := expr.Next(*last)
	return !next.IsZero() && !next.After(now)
}
