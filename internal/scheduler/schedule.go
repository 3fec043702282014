// Copyright (c) 2026 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/ManuGH/mediapress/internal/pipeline/model"
	"github.com/ManuGH/mediapress/internal/xerr"
)

// Next computes the first fire time strictly after `after`, evaluated in
// the tenant's timezone. A nil location means UTC. Missed slots are never
// replayed: callers pass the current wall clock, not the last planned slot.
func Next(s model.Schedule, after time.Time, loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	local := after.In(loc)

	switch s.Kind {
	case model.ScheduleTimeOfDay:
		hh, mm, err := parseClockTime(s.TimeOfDay)
		if err != nil {
			return time.Time{}, err
		}
		next := time.Date(local.Year(), local.Month(), local.Day(), hh, mm, 0, 0, loc)
		if !next.After(local) {
			next = time.Date(local.Year(), local.Month(), local.Day()+1, hh, mm, 0, 0, loc)
		}
		return next, nil

	case model.ScheduleEveryNHours:
		if s.EveryN <= 0 {
			return time.Time{}, xerr.E(xerr.KindValidation, "every_n_hours requires a positive interval")
		}
		// Anchored to the top of the hour so all tenants on the same
		// cadence land in the same bucket.
		base := time.Date(local.Year(), local.Month(), local.Day(), local.Hour(), 0, 0, 0, loc)
		return base.Add(time.Duration(s.EveryN) * time.Hour), nil

	case model.ScheduleWeekdays:
		hh, mm, err := parseClockTime(s.TimeOfDay)
		if err != nil {
			return time.Time{}, err
		}
		if len(s.Weekdays) == 0 {
			return time.Time{}, xerr.E(xerr.KindValidation, "weekdays_time requires at least one weekday")
		}
		allowed := make(map[time.Weekday]bool, len(s.Weekdays))
		for _, d := range s.Weekdays {
			if d < 0 || d > 6 {
				return time.Time{}, xerr.Ef(xerr.KindValidation, "weekday %d out of range 0..6", d)
			}
			allowed[time.Weekday(d)] = true
		}
		for day := 0; day <= 7; day++ {
			next := time.Date(local.Year(), local.Month(), local.Day()+day, hh, mm, 0, 0, loc)
			if allowed[next.Weekday()] && next.After(local) {
				return next, nil
			}
		}
		return time.Time{}, xerr.E(xerr.KindInternal, "no weekday slot found within eight days")

	case model.ScheduleCron:
		sched, err := cron.ParseStandard(s.CronExpr)
		if err != nil {
			return time.Time{}, xerr.Wrap(xerr.KindValidation, fmt.Sprintf("cron expression %q", s.CronExpr), err)
		}
		return sched.Next(local), nil

	default:
		return time.Time{}, xerr.Ef(xerr.KindValidation, "unknown schedule kind %q", s.Kind)
	}
}

// ValidateSchedule rejects malformed descriptors before they are stored.
func ValidateSchedule(s model.Schedule) error {
	_, err := Next(s, time.Now(), time.UTC)
	return err
}

func parseClockTime(v string) (int, int, error) {
	t, err := time.Parse("15:04", v)
	if err != nil {
		return 0, 0, xerr.Wrap(xerr.KindValidation, fmt.Sprintf("time of day %q", v), err)
	}
	return t.Hour(), t.Minute(), nil
}
