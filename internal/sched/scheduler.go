package sched

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"taskgate.app/bot/common/logger"
)

// Job is one scheduled unit of work. The context carries the job name for
// log correlation; errors are logged, never fatal.
type Job func(ctx context.Context) error

// Scheduler drives the periodic side of the bot: the reconcile loop, the
// daily digests and the weekly report. Entries that are still running when
// their next tick arrives are skipped rather than stacked.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger
}

func New(location *time.Location, log *slog.Logger) *Scheduler {
	if location == nil {
		location = time.UTC
	}
	if log == nil {
		log = slog.Default()
	}
	cl := cronLogger{logger: log}
	return &Scheduler{
		cron: cron.New(
			cron.WithLocation(location),
			cron.WithChain(cron.SkipIfStillRunning(cl)),
		),
		logger: log,
	}
}

// AddInterval runs job every interval, first run one interval from Start.
func (s *Scheduler) AddInterval(name string, interval time.Duration, job Job) error {
	if interval <= 0 {
		return fmt.Errorf("job %s: interval must be positive", name)
	}
	return s.add(name, "@every "+interval.String(), job)
}

// AddDaily runs job once a day at "HH:MM" in the scheduler's location.
func (s *Scheduler) AddDaily(name, at string, job Job) error {
	hour, minute, err := parseClock(at)
	if err != nil {
		return fmt.Errorf("job %s: %w", name, err)
	}
	return s.add(name, fmt.Sprintf("%d %d * * *", minute, hour), job)
}

// AddWeekly runs job once a week at "DOW HH:MM", e.g. "MON 10:00".
func (s *Scheduler) AddWeekly(name, at string, job Job) error {
	fields := strings.Fields(at)
	if len(fields) != 2 {
		return fmt.Errorf("job %s: want \"DOW HH:MM\", got %q", name, at)
	}
	day := strings.ToUpper(fields[0])
	if _, ok := weekdays[day]; !ok {
		return fmt.Errorf("job %s: unknown weekday %q", name, fields[0])
	}
	hour, minute, err := parseClock(fields[1])
	if err != nil {
		return fmt.Errorf("job %s: %w", name, err)
	}
	return s.add(name, fmt.Sprintf("%d %d * * %s", minute, hour, day), job)
}

func (s *Scheduler) add(name, spec string, job Job) error {
	_, err := s.cron.AddFunc(spec, func() {
		ctx := logger.WithLogFields(context.Background(), logger.LogFields{Job: name})
		start := time.Now()
		if err := job(ctx); err != nil {
			s.logger.ErrorContext(ctx, "scheduled job failed", "job", name, "error", err, "duration_ms", time.Since(start).Milliseconds())
			return
		}
		s.logger.InfoContext(ctx, "scheduled job finished", "job", name, "duration_ms", time.Since(start).Milliseconds())
	})
	if err != nil {
		return fmt.Errorf("registering job %s: %w", name, err)
	}
	s.logger.Info("scheduled job registered", "job", name, "spec", spec)
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop halts scheduling and waits for running jobs to finish.
func (s *Scheduler) Stop() {
	<-s.cron.Stop().Done()
}

var weekdays = map[string]struct{}{
	"SUN": {}, "MON": {}, "TUE": {}, "WED": {}, "THU": {}, "FRI": {}, "SAT": {},
}

func parseClock(at string) (hour, minute int, err error) {
	hh, mm, ok := strings.Cut(at, ":")
	if !ok {
		return 0, 0, fmt.Errorf("want \"HH:MM\", got %q", at)
	}
	hour, err = strconv.Atoi(hh)
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("bad hour in %q", at)
	}
	minute, err = strconv.Atoi(mm)
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("bad minute in %q", at)
	}
	return hour, minute, nil
}

// cronLogger adapts slog to the cron.Logger interface. Skip notices from
// the SkipIfStillRunning chain arrive through Info.
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append([]any{"error", err}, keysAndValues...)...)
}
