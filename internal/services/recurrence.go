package services

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/davidmoltin/ai-action-queue/internal/models"
)

// maxCatchUpSteps bounds how many missed occurrences advanceNextRun walks through
const maxCatchUpSteps = 10000

// ValidatePattern checks a recurring pattern for structural problems
func ValidatePattern(p *models.RecurringPattern) error {
	if p == nil {
		return fmt.Errorf("%w: recurring pattern is required", models.ErrInvalidScheduleSpec)
	}
	if p.Interval < 0 {
		return fmt.Errorf("%w: interval must not be negative", models.ErrInvalidScheduleSpec)
	}

	switch p.Type {
	case models.RecurrenceDaily:
	case models.RecurrenceWeekly:
		if len(p.DaysOfWeek) == 0 {
			return fmt.Errorf("%w: weekly pattern needs days_of_week", models.ErrInvalidScheduleSpec)
		}
		for _, d := range p.DaysOfWeek {
			if d < 0 || d > 6 {
				return fmt.Errorf("%w: day of week %d outside 0..6", models.ErrInvalidScheduleSpec, d)
			}
		}
	case models.RecurrenceMonthly:
		if p.DayOfMonth < 1 || p.DayOfMonth > 31 {
			return fmt.Errorf("%w: day_of_month %d outside 1..31", models.ErrInvalidScheduleSpec, p.DayOfMonth)
		}
	case models.RecurrenceCron:
		if _, err := cron.ParseStandard(p.CronExpression); err != nil {
			return fmt.Errorf("%w: invalid cron expression %q: %v", models.ErrInvalidScheduleSpec, p.CronExpression, err)
		}
	default:
		return fmt.Errorf("%w: unknown recurrence type %q", models.ErrInvalidScheduleSpec, p.Type)
	}
	return nil
}

// ComputeNextRun returns the first occurrence of p strictly after lastRun
func ComputeNextRun(p *models.RecurringPattern, lastRun time.Time) (time.Time, error) {
	if err := ValidatePattern(p); err != nil {
		return time.Time{}, err
	}

	interval := p.Interval
	if interval == 0 {
		interval = 1
	}

	switch p.Type {
	case models.RecurrenceDaily:
		return lastRun.AddDate(0, 0, interval), nil

	case models.RecurrenceWeekly:
		days := make(map[time.Weekday]bool, len(p.DaysOfWeek))
		for _, d := range p.DaysOfWeek {
			days[time.Weekday(d)] = true
		}
		for offset := 1; offset <= 7; offset++ {
			candidate := lastRun.AddDate(0, 0, offset)
			if !days[candidate.Weekday()] {
				continue
			}
			// weeks start on Sunday; crossing into the next week skips interval-1 weeks
			if interval > 1 && int(candidate.Weekday()) <= int(lastRun.Weekday()) {
				candidate = candidate.AddDate(0, 0, 7*(interval-1))
			}
			return candidate, nil
		}
		return time.Time{}, fmt.Errorf("%w: no matching weekday", models.ErrInvalidScheduleSpec)

	case models.RecurrenceMonthly:
		candidate := monthDay(lastRun, 0, p.DayOfMonth)
		if candidate.After(lastRun) {
			return candidate, nil
		}
		return monthDay(lastRun, interval, p.DayOfMonth), nil

	case models.RecurrenceCron:
		schedule, err := cron.ParseStandard(p.CronExpression)
		if err != nil {
			return time.Time{}, fmt.Errorf("%w: %v", models.ErrInvalidScheduleSpec, err)
		}
		next := schedule.Next(lastRun)
		if next.IsZero() {
			return time.Time{}, fmt.Errorf("%w: cron expression never fires", models.ErrInvalidScheduleSpec)
		}
		return next, nil
	}

	return time.Time{}, fmt.Errorf("%w: unknown recurrence type %q", models.ErrInvalidScheduleSpec, p.Type)
}

// FirstRun returns the first occurrence of p for a schedule created at now.
// A weekly pattern listing now's weekday is due immediately.
func FirstRun(p *models.RecurringPattern, now time.Time) (time.Time, error) {
	next, err := ComputeNextRun(p, now)
	if err != nil {
		return time.Time{}, err
	}
	if p.Type == models.RecurrenceWeekly {
		for _, d := range p.DaysOfWeek {
			if time.Weekday(d) == now.Weekday() {
				return now, nil
			}
		}
	}
	return next, nil
}

// monthDay returns day of the month monthsAhead of t, clamped to the month's length, at t's time of day
func monthDay(t time.Time, monthsAhead, day int) time.Time {
	first := time.Date(t.Year(), t.Month()+time.Month(monthsAhead), 1, t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
	lastDay := first.AddDate(0, 1, -1).Day()
	if day > lastDay {
		day = lastDay
	}
	return first.AddDate(0, 0, day-1)
}

// advanceNextRun walks occurrences from previous until one is strictly after now
func advanceNextRun(p *models.RecurringPattern, previous, now time.Time) (time.Time, error) {
	next, err := ComputeNextRun(p, previous)
	if err != nil {
		return time.Time{}, err
	}
	for i := 0; !next.After(now); i++ {
		if i >= maxCatchUpSteps {
			return ComputeNextRun(p, now)
		}
		if next, err = ComputeNextRun(p, next); err != nil {
			return time.Time{}, err
		}
	}
	return next, nil
}
