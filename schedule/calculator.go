package schedule

import (
	"time"

	"github.com/recurd/recurd/errors"
)

// Options carries the schedule-type-specific parameters for next-run
// computation.
type Options struct {
	IntervalDays int      // custom: days between runs, must be >= 1
	WeeklyDays   []string // weekly: lowercase day names
	Timezone     string   // IANA zone name; empty means UTC
}

// ComputeNextRunTime computes the next run instant for a schedule.
//
// anchor supplies the wall-clock time-of-day (and, for once, the full
// target timestamp). now is the reference instant the result must be
// strictly after for recurring schedules; passing it explicitly keeps
// the function pure and lets tests pin the clock. All calendar math
// happens in the schedule's timezone so the result lands on the same
// local wall-clock time across DST transitions; the returned instant
// is in UTC.
func ComputeNextRunTime(scheduleType ScheduleType, anchor, now time.Time, opts Options) (time.Time, error) {
	loc, err := loadLocation(opts.Timezone)
	if err != nil {
		return time.Time{}, err
	}

	switch scheduleType {
	case ScheduleOnce:
		// The anchor is the run time, even when already past: a
		// past-dated one-shot is simply due immediately.
		return anchor.UTC(), nil

	case ScheduleDaily:
		a := anchor.In(loc)
		n := now.In(loc)
		candidate := atTimeOfDay(n, a, loc)
		if !candidate.After(now) {
			candidate = atTimeOfDay(n.AddDate(0, 0, 1), a, loc)
		}
		return candidate.UTC(), nil

	case ScheduleWeekly:
		days, err := ParseWeekdays(opts.WeeklyDays)
		if err != nil {
			return time.Time{}, err
		}
		a := anchor.In(loc)
		n := now.In(loc)
		// Walk forward at most one full week; offset 7 revisits
		// today's weekday so a single-day schedule whose slot has
		// passed lands seven days out.
		for offset := 0; offset <= 7; offset++ {
			day := n.AddDate(0, 0, offset)
			if !days[day.Weekday()] {
				continue
			}
			candidate := atTimeOfDay(day, a, loc)
			if candidate.After(now) {
				return candidate.UTC(), nil
			}
		}
		return time.Time{}, errors.NewInvalidScheduleError("no upcoming day found for weekly schedule")

	case ScheduleCustom:
		if opts.IntervalDays < 1 {
			return time.Time{}, errors.NewInvalidScheduleError("interval must be at least 1 day, got %d", opts.IntervalDays)
		}
		a := anchor.In(loc)
		n := now.In(loc)
		candidate := atTimeOfDay(n.AddDate(0, 0, opts.IntervalDays), a, loc)
		return candidate.UTC(), nil

	default:
		return time.Time{}, errors.NewInvalidScheduleError("unrecognized schedule type: %q", scheduleType)
	}
}

// ValidateSchedule checks schedule parameters without computing anything,
// so malformed schedules are rejected at job creation rather than at the
// first poller tick.
func ValidateSchedule(scheduleType ScheduleType, anchor *time.Time, opts Options) error {
	if !scheduleType.Valid() {
		return errors.NewInvalidScheduleError("unrecognized schedule type: %q", scheduleType)
	}
	if anchor == nil {
		return errors.NewInvalidScheduleError("schedule_time is required for %s schedules", scheduleType)
	}
	if _, err := loadLocation(opts.Timezone); err != nil {
		return err
	}
	switch scheduleType {
	case ScheduleWeekly:
		if _, err := ParseWeekdays(opts.WeeklyDays); err != nil {
			return err
		}
	case ScheduleCustom:
		if opts.IntervalDays < 1 {
			return errors.NewInvalidScheduleError("interval must be at least 1 day, got %d", opts.IntervalDays)
		}
	}
	return nil
}

// atTimeOfDay builds the instant on day's calendar date carrying
// anchor's wall-clock time, resolved in loc. Going through time.Date
// rather than adding a duration keeps the wall-clock time stable when
// the date range crosses a DST change.
func atTimeOfDay(day, anchor time.Time, loc *time.Location) time.Time {
	return time.Date(
		day.Year(), day.Month(), day.Day(),
		anchor.Hour(), anchor.Minute(), anchor.Second(), 0,
		loc,
	)
}

func loadLocation(name string) (*time.Location, error) {
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrInvalidSchedule, "unknown timezone %q", name)
	}
	return loc, nil
}
