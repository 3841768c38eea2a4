package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/go-co-op/gocron"
	cronlib "github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"
	"golang.org/x/xerrors"
)

// DefaultCron fires the pipeline daily at 02:00.
const DefaultCron = "0 2 * * *"

// Runner runs the pipeline for a logical date.
type Runner interface {
	Run(ctx context.Context, logicalDate time.Time) (*Report, error)
}

// LogicalDate returns midnight of t's calendar day in loc.
func LogicalDate(t time.Time, loc *time.Location) time.Time {
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// ParseLogicalDate parses a YYYY-MM-DD date in loc.
func ParseLogicalDate(s string, loc *time.Location) (time.Time, error) {
	t, err := time.ParseInLocation(logicalDateLayout, s, loc)
	if err != nil {
		return time.Time{}, xerrors.Errorf("invalid logical date %q: %w", s, err)
	}
	return t, nil
}

// Scheduler fires the pipeline once per day. Failed runs are not retried.
type Scheduler struct {
	cron     string
	location *time.Location
	runner   Runner

	s   *gocron.Scheduler
	now func() time.Time

	mu     sync.RWMutex
	job    *gocron.Job
	latest *Report
}

// NewScheduler builds a scheduler running runner on the cron expression in loc.
func NewScheduler(runner Runner, cron string, loc *time.Location) (*Scheduler, error) {
	if cron == "" {
		cron = DefaultCron
	}
	if loc == nil {
		loc = time.UTC
	}

	if _, err := cronlib.ParseStandard(cron); err != nil {
		return nil, xerrors.Errorf("invalid cron expression %q: %w", cron, err)
	}

	return &Scheduler{
		cron:     cron,
		location: loc,
		runner:   runner,
		s:        gocron.NewScheduler(loc),
		now:      time.Now,
	}, nil
}

// Start registers the daily job and blocks until ctx is done.
func (s *Scheduler) Start(ctx context.Context) error {
	l := log.Ctx(ctx)

	job, err := s.s.Cron(s.cron).Do(func() { s.fire(ctx) })
	if err != nil {
		return xerrors.Errorf("failed to schedule pipeline: %w", err)
	}

	s.s.StartAsync()

	s.mu.Lock()
	s.job = job
	s.mu.Unlock()

	l.Info().Str("cron", s.cron).Str("timezone", s.location.String()).Time("next_run", s.NextRun()).Msg("scheduler started")

	<-ctx.Done()

	s.s.Stop()
	l.Info().Msg("scheduler stopped")

	return nil
}

func (s *Scheduler) fire(ctx context.Context) {
	date := LogicalDate(s.now(), s.location)
	log.Ctx(ctx).Info().Str("logical_date", date.Format(logicalDateLayout)).Msg("scheduled run fired")

	// Errors are already logged and reported by the run itself.
	_, _ = s.Trigger(ctx, date)
}

// Trigger runs the pipeline for date right away.
func (s *Scheduler) Trigger(ctx context.Context, date time.Time) (*Report, error) {
	r, err := s.runner.Run(ctx, date)
	if r != nil {
		s.mu.Lock()
		s.latest = r
		s.mu.Unlock()
	}
	return r, err
}

// Latest returns the report of the most recent run, or nil.
func (s *Scheduler) Latest() *Report {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

// NextRun returns when the daily job fires next, zero before Start.
func (s *Scheduler) NextRun() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.job == nil {
		return time.Time{}
	}
	return s.job.NextRun()
}

// Location returns the time zone logical dates are computed in.
func (s *Scheduler) Location() *time.Location {
	return s.location
}
