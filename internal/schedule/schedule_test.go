package schedule

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransition(t *testing.T) {
	cases := []struct {
		from, to Status
		allowed  bool
	}{
		{StatusScheduled, StatusProcessing, true},
		{StatusScheduled, StatusCancelled, true},
		{StatusScheduled, StatusCompleted, false},
		{StatusProcessing, StatusCompleted, true},
		{StatusProcessing, StatusFailed, true},
		{StatusProcessing, StatusScheduled, true},
		{StatusProcessing, StatusCancelled, false},
		{StatusCompleted, StatusScheduled, false},
		{StatusCancelled, StatusProcessing, false},
		{StatusFailed, StatusScheduled, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.allowed, CanTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestNextOccurrence(t *testing.T) {
	base := time.Date(2026, 1, 31, 9, 30, 0, 0, time.UTC)

	assert.Equal(t, time.Date(2026, 2, 1, 9, 30, 0, 0, time.UTC), NextOccurrence(base, PeriodDaily))
	assert.Equal(t, time.Date(2026, 2, 7, 9, 30, 0, 0, time.UTC), NextOccurrence(base, PeriodWeekly))
	// Jan 31 + 1 month normalizes per time.AddDate.
	assert.Equal(t, time.Date(2026, 3, 3, 9, 30, 0, 0, time.UTC), NextOccurrence(base, PeriodMonthly))
}

func TestNextOccurrenceNoDrift(t *testing.T) {
	// Advancing from the previous scheduled time keeps the time of day
	// stable no matter how late each execution ran.
	at := time.Date(2026, 3, 1, 6, 0, 0, 0, time.UTC)
	for i := 0; i < 365; i++ {
		at = NextOccurrence(at, PeriodDaily)
	}
	assert.Equal(t, time.Date(2027, 3, 1, 6, 0, 0, 0, time.UTC), at)
}

func TestCreateParamsValidate(t *testing.T) {
	valid := CreateParams{
		SourceAccountID:      1,
		DestinationAccountID: 2,
		Amount:               decimal.RequireFromString("10"),
		ScheduledAt:          time.Now().Add(time.Hour),
	}
	require.NoError(t, valid.validate())

	cases := []struct {
		name   string
		mutate func(*CreateParams)
	}{
		{"zero amount", func(p *CreateParams) { p.Amount = decimal.Zero }},
		{"too precise", func(p *CreateParams) { p.Amount = decimal.RequireFromString("1.00001") }},
		{"same account", func(p *CreateParams) { p.DestinationAccountID = p.SourceAccountID }},
		{"no time", func(p *CreateParams) { p.ScheduledAt = time.Time{} }},
		{"recurring without period", func(p *CreateParams) { p.Recurring = true }},
		{"bad period", func(p *CreateParams) { p.Recurring = true; p.Period = "HOURLY" }},
		{"period without recurring", func(p *CreateParams) { p.Period = PeriodDaily }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := valid
			tc.mutate(&p)
			assert.Error(t, p.validate())
		})
	}
}
