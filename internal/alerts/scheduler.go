package alerts

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"return-radar-service/internal/parser"
)

const checkInterval = time.Minute

// Runner is one alert pass at a given instant.
type Runner interface {
	Run(ctx context.Context, now time.Time) (Summary, error)
}

// Scheduler triggers the engine once per UTC calendar day, at or after the
// configured hour.
type Scheduler struct {
	runner  Runner
	guard   RunGuard
	hour    int
	now     func() time.Time
	lastRun time.Time
	claimed time.Time
	log     zerolog.Logger
}

func NewScheduler(runner Runner, guard RunGuard, hour int, log zerolog.Logger) *Scheduler {
	if guard == nil {
		guard = LocalGuard{}
	}
	return &Scheduler{
		runner: runner,
		guard:  guard,
		hour:   hour,
		now:    time.Now,
		log:    log.With().Str("component", "scheduler").Logger(),
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	s.log.Info().Int("hour_utc", s.hour).Msg("starting alert scheduler")

	s.tick(ctx)

	ticker := time.NewTicker(checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.log.Info().Msg("alert scheduler stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick runs the engine if today's run is due and not yet claimed by another
// instance. A failed run leaves the day open, so the next tick retries it.
func (s *Scheduler) tick(ctx context.Context) bool {
	now := s.now().UTC()
	today := parser.DateOf(now)
	if !s.due(now) {
		return false
	}

	if !s.claimed.Equal(today) {
		acquired, err := s.guard.Acquire(ctx, today)
		switch {
		case err != nil:
			s.log.Warn().Err(err).Msg("run guard unavailable, relying on alert uniqueness")
		case !acquired:
			s.log.Info().Str("date", today.Format("2006-01-02")).Msg("alert run already claimed by another instance")
			s.lastRun = today
			return false
		default:
			s.claimed = today
		}
	}

	if _, err := s.runner.Run(ctx, now); err != nil {
		s.log.Error().Err(err).Msg("alert run failed, will retry")
		return true
	}
	s.lastRun = today
	return true
}

func (s *Scheduler) due(now time.Time) bool {
	return now.Hour() >= s.hour && !parser.DateOf(now).Equal(s.lastRun)
}
