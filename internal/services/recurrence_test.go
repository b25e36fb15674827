package services

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davidmoltin/ai-action-queue/internal/models"
)

func at(year int, month time.Month, day, hour, min int) time.Time {
	return time.Date(year, month, day, hour, min, 0, 0, time.UTC)
}

func TestComputeNextRun(t *testing.T) {
	// 2026-03-10 is a Tuesday
	tuesday := at(2026, time.March, 10, 9, 0)

	tests := []struct {
		name    string
		pattern models.RecurringPattern
		lastRun time.Time
		want    time.Time
	}{
		{"daily default interval", models.RecurringPattern{Type: models.RecurrenceDaily}, tuesday, at(2026, time.March, 11, 9, 0)},
		{"daily every third day", models.RecurringPattern{Type: models.RecurrenceDaily, Interval: 3}, tuesday, at(2026, time.March, 13, 9, 0)},
		{"daily across month end", models.RecurringPattern{Type: models.RecurrenceDaily}, at(2026, time.February, 28, 23, 30), at(2026, time.March, 1, 23, 30)},

		{"weekly next listed day", models.RecurringPattern{Type: models.RecurrenceWeekly, DaysOfWeek: []int{1, 3, 5}}, tuesday, at(2026, time.March, 11, 9, 0)},
		{"weekly wraps to monday", models.RecurringPattern{Type: models.RecurrenceWeekly, DaysOfWeek: []int{1, 3, 5}}, at(2026, time.March, 13, 9, 0), at(2026, time.March, 16, 9, 0)},
		{"weekly same weekday", models.RecurringPattern{Type: models.RecurrenceWeekly, DaysOfWeek: []int{2}}, tuesday, at(2026, time.March, 17, 9, 0)},
		{"biweekly within week", models.RecurringPattern{Type: models.RecurrenceWeekly, Interval: 2, DaysOfWeek: []int{3}}, tuesday, at(2026, time.March, 11, 9, 0)},
		{"biweekly skips a week", models.RecurringPattern{Type: models.RecurrenceWeekly, Interval: 2, DaysOfWeek: []int{1, 5}}, at(2026, time.March, 13, 9, 0), at(2026, time.March, 23, 9, 0)},
		{"biweekly same weekday", models.RecurringPattern{Type: models.RecurrenceWeekly, Interval: 2, DaysOfWeek: []int{2}}, tuesday, at(2026, time.March, 24, 9, 0)},

		{"monthly later this month", models.RecurringPattern{Type: models.RecurrenceMonthly, DayOfMonth: 15}, tuesday, at(2026, time.March, 15, 9, 0)},
		{"monthly next month", models.RecurringPattern{Type: models.RecurrenceMonthly, DayOfMonth: 5}, tuesday, at(2026, time.April, 5, 9, 0)},
		{"monthly same day rolls", models.RecurringPattern{Type: models.RecurrenceMonthly, DayOfMonth: 10}, tuesday, at(2026, time.April, 10, 9, 0)},
		{"monthly clamps to february", models.RecurringPattern{Type: models.RecurrenceMonthly, DayOfMonth: 31}, at(2026, time.January, 31, 9, 0), at(2026, time.February, 28, 9, 0)},
		{"monthly clamps leap february", models.RecurringPattern{Type: models.RecurrenceMonthly, DayOfMonth: 30}, at(2028, time.January, 30, 9, 0), at(2028, time.February, 29, 9, 0)},
		{"monthly every quarter", models.RecurringPattern{Type: models.RecurrenceMonthly, Interval: 3, DayOfMonth: 1}, tuesday, at(2026, time.June, 1, 9, 0)},

		{"cron weekdays", models.RecurringPattern{Type: models.RecurrenceCron, CronExpression: "0 9 * * 1-5"}, tuesday, at(2026, time.March, 11, 9, 0)},
		{"cron first of month", models.RecurringPattern{Type: models.RecurrenceCron, CronExpression: "30 8 1 * *"}, tuesday, at(2026, time.April, 1, 8, 30)},
		{"cron descriptor", models.RecurringPattern{Type: models.RecurrenceCron, CronExpression: "@daily"}, tuesday, at(2026, time.March, 11, 0, 0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ComputeNextRun(&tt.pattern, tt.lastRun)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
			assert.True(t, got.After(tt.lastRun))
		})
	}
}

func TestComputeNextRun_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		pattern *models.RecurringPattern
	}{
		{"nil", nil},
		{"unknown type", &models.RecurringPattern{Type: "hourly"}},
		{"negative interval", &models.RecurringPattern{Type: models.RecurrenceDaily, Interval: -2}},
		{"weekly without days", &models.RecurringPattern{Type: models.RecurrenceWeekly}},
		{"weekly day out of range", &models.RecurringPattern{Type: models.RecurrenceWeekly, DaysOfWeek: []int{-1}}},
		{"monthly day zero", &models.RecurringPattern{Type: models.RecurrenceMonthly}},
		{"monthly day 32", &models.RecurringPattern{Type: models.RecurrenceMonthly, DayOfMonth: 32}},
		{"cron empty", &models.RecurringPattern{Type: models.RecurrenceCron}},
		{"cron six fields", &models.RecurringPattern{Type: models.RecurrenceCron, CronExpression: "0 0 9 * * *"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ComputeNextRun(tt.pattern, time.Now())
			assert.ErrorIs(t, err, models.ErrInvalidScheduleSpec)
		})
	}
}

func TestFirstRun(t *testing.T) {
	// 2026-10-19 is a Monday
	monday := at(2026, time.October, 19, 9, 0)

	got, err := FirstRun(&models.RecurringPattern{Type: models.RecurrenceWeekly, DaysOfWeek: []int{1}}, monday)
	require.NoError(t, err)
	assert.Equal(t, monday, got, "a listed weekday is due on the day the schedule is created")

	got, err = FirstRun(&models.RecurringPattern{Type: models.RecurrenceWeekly, DaysOfWeek: []int{3}}, monday)
	require.NoError(t, err)
	assert.Equal(t, at(2026, time.October, 21, 9, 0), got)

	got, err = FirstRun(&models.RecurringPattern{Type: models.RecurrenceDaily}, monday)
	require.NoError(t, err)
	assert.Equal(t, at(2026, time.October, 20, 9, 0), got)

	_, err = FirstRun(&models.RecurringPattern{Type: models.RecurrenceWeekly}, monday)
	assert.ErrorIs(t, err, models.ErrInvalidScheduleSpec)
}

func TestAdvanceNextRun(t *testing.T) {
	start := at(2026, time.March, 10, 9, 0)
	p := &models.RecurringPattern{Type: models.RecurrenceDaily}

	got, err := advanceNextRun(p, start, start.Add(5*24*time.Hour+time.Hour))
	require.NoError(t, err)
	assert.Equal(t, at(2026, time.March, 16, 9, 0), got)

	got, err = advanceNextRun(p, start, start.Add(-time.Hour))
	require.NoError(t, err)
	assert.Equal(t, at(2026, time.March, 11, 9, 0), got, "the first occurrence is used when already in the future")

	// far enough behind to exceed the catch-up cap
	got, err = advanceNextRun(&models.RecurringPattern{Type: models.RecurrenceCron, CronExpression: "* * * * *"}, start, start.Add(30*24*time.Hour))
	require.NoError(t, err)
	assert.True(t, got.After(start.Add(30*24*time.Hour)))
}
