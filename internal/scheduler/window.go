package scheduler

import (
	"context"
	"fmt"
	"time"
	_ "time/tzdata"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Regular US equity session, opened slightly early so subscriptions are
// warm by the bell.
const (
	DefaultOpenSchedule = "CRON_TZ=America/New_York 30 29 9 * * MON-FRI"
	DefaultCloseHour    = 16
	DefaultCloseMinute  = 0
)

// Window is the recurring span of time in which sessions may run.
// It opens on a cron schedule and closes at a fixed wall-clock time on the
// same day in the schedule's location.
type Window struct {
	open        cron.Schedule
	loc         *time.Location
	closeHour   int
	closeMinute int

	now   func() time.Time
	after func(time.Duration) <-chan time.Time
}

var parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// NewWindow parses an opening schedule (seconds field allowed, CRON_TZ
// prefix for the location) and a closing time of day.
func NewWindow(openSpec string, closeHour, closeMinute int, loc *time.Location) (*Window, error) {
	sched, err := parser.Parse(openSpec)
	if err != nil {
		return nil, fmt.Errorf("failed to parse session schedule %q: %w", openSpec, err)
	}
	if spec, ok := sched.(*cron.SpecSchedule); ok && spec.Location != time.Local {
		loc = spec.Location
	}
	if loc == nil {
		loc = time.Local
	}
	return &Window{
		open:        sched,
		loc:         loc,
		closeHour:   closeHour,
		closeMinute: closeMinute,
		now:         time.Now,
		after:       time.After,
	}, nil
}

// DefaultWindow is Monday to Friday, 09:29:30 to 16:00:00 US/Eastern.
func DefaultWindow() (*Window, error) {
	return NewWindow(DefaultOpenSchedule, DefaultCloseHour, DefaultCloseMinute, nil)
}

// CloseAt is the closing time on t's calendar day in the window's location.
func (w *Window) CloseAt(t time.Time) time.Time {
	t = t.In(w.loc)
	return time.Date(t.Year(), t.Month(), t.Day(), w.closeHour, w.closeMinute, 0, 0, w.loc)
}

// openingOn returns the opening on t's calendar day, if the schedule has one.
func (w *Window) openingOn(t time.Time) (time.Time, bool) {
	t = t.In(w.loc)
	midnight := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, w.loc)
	open := w.open.Next(midnight.Add(-time.Second)).In(w.loc)
	if open.Year() != t.Year() || open.YearDay() != t.YearDay() {
		return time.Time{}, false
	}
	return open, true
}

// Contains reports whether t falls inside an open window, bounds inclusive.
func (w *Window) Contains(t time.Time) bool {
	open, ok := w.openingOn(t)
	if !ok {
		return false
	}
	return !t.Before(open) && !t.After(w.CloseAt(t))
}

// NextOpen is the first opening strictly after t.
func (w *Window) NextOpen(t time.Time) time.Time {
	return w.open.Next(t).In(w.loc)
}

// WaitOpen blocks until the window is open. It returns immediately when it
// already is.
func (w *Window) WaitOpen(ctx context.Context, log zerolog.Logger) error {
	now := w.now()
	if w.Contains(now) {
		return nil
	}
	next := w.NextOpen(now)
	log.Info().Time("opens_at", next).Msg("Outside the trading session, waiting")

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-w.after(next.Sub(now)):
		return nil
	}
}
