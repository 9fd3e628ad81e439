package timealign

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yegors/wxbench/internal/wx"
)

func mustAligner(t *testing.T, runAt time.Time, tz string) *Aligner {
	t.Helper()
	a, err := New(runAt, tz)
	require.NoError(t, err)
	return a
}

func TestNewInvalidTimezone(t *testing.T) {
	_, err := New(time.Now(), "Not/AZone")
	assert.Error(t, err)
}

func TestHourlyLead(t *testing.T) {
	// Cron fires a few minutes into the hour; the offset is still whole hours.
	runAt := time.Date(2025, 6, 10, 14, 3, 27, 0, time.UTC)
	a := mustAligner(t, runAt, "America/Toronto")

	assert.Equal(t, 0, a.HourlyLead(time.Date(2025, 6, 10, 14, 0, 0, 0, time.UTC)))
	assert.Equal(t, 0, a.HourlyLead(time.Date(2025, 6, 10, 14, 59, 0, 0, time.UTC)))
	assert.Equal(t, 1, a.HourlyLead(time.Date(2025, 6, 10, 15, 0, 0, 0, time.UTC)))
	assert.Equal(t, 24, a.HourlyLead(time.Date(2025, 6, 11, 14, 0, 0, 0, time.UTC)))
	assert.Equal(t, -2, a.HourlyLead(time.Date(2025, 6, 10, 12, 30, 0, 0, time.UTC)))
}

func TestDailyLead(t *testing.T) {
	// 2025-06-10 09:00 in Toronto (13:00 UTC)
	runAt := time.Date(2025, 6, 10, 13, 0, 0, 0, time.UTC)
	a := mustAligner(t, runAt, "America/Toronto")

	assert.Equal(t, 0, a.DailyLead(time.Date(2025, 6, 10, 18, 0, 0, 0, time.UTC)))
	assert.Equal(t, 1, a.DailyLead(time.Date(2025, 6, 11, 13, 0, 0, 0, time.UTC)))
	assert.Equal(t, 5, a.DailyLead(time.Date(2025, 6, 15, 13, 0, 0, 0, time.UTC)))

	// 2025-06-11 02:00 UTC is still 2025-06-10 22:00 in Toronto
	assert.Equal(t, 0, a.DailyLead(time.Date(2025, 6, 11, 2, 0, 0, 0, time.UTC)))
}

func TestDailyLeadAcrossSpringForward(t *testing.T) {
	// Toronto springs forward 2025-03-09; that day is 23 hours long but must
	// still count as exactly one day.
	runAt := time.Date(2025, 3, 8, 17, 0, 0, 0, time.UTC) // 12:00 local, EST
	a := mustAligner(t, runAt, "America/Toronto")

	assert.Equal(t, 1, a.DailyLead(time.Date(2025, 3, 9, 16, 0, 0, 0, time.UTC))) // 12:00 local, EDT
	assert.Equal(t, 2, a.DailyLead(time.Date(2025, 3, 10, 16, 0, 0, 0, time.UTC)))
}

func TestDailyLeadAcrossFallBack(t *testing.T) {
	// Toronto falls back 2025-11-02; a 25-hour day is still one day.
	runAt := time.Date(2025, 11, 1, 16, 0, 0, 0, time.UTC) // 12:00 local, EDT
	a := mustAligner(t, runAt, "America/Toronto")

	assert.Equal(t, 1, a.DailyLead(time.Date(2025, 11, 2, 17, 0, 0, 0, time.UTC))) // 12:00 local, EST
	assert.Equal(t, 2, a.DailyLead(time.Date(2025, 11, 3, 17, 0, 0, 0, time.UTC)))
}

func TestLocalDay(t *testing.T) {
	a := mustAligner(t, time.Date(2025, 6, 10, 13, 0, 0, 0, time.UTC), "America/Toronto")

	assert.Equal(t, "2025-06-10", a.LocalDay(time.Date(2025, 6, 10, 18, 0, 0, 0, time.UTC)))
	// 03:00 UTC belongs to the previous local day
	assert.Equal(t, "2025-06-10", a.LocalDay(time.Date(2025, 6, 11, 3, 0, 0, 0, time.UTC)))
}

func TestDayWindow(t *testing.T) {
	a := mustAligner(t, time.Date(2025, 6, 10, 13, 0, 0, 0, time.UTC), "America/Toronto")

	t.Run("regular day", func(t *testing.T) {
		start, end := a.DayWindow(time.Date(2025, 6, 10, 18, 0, 0, 0, time.UTC))
		assert.Equal(t, time.Date(2025, 6, 10, 4, 0, 0, 0, time.UTC), start)
		assert.Equal(t, time.Date(2025, 6, 11, 4, 0, 0, 0, time.UTC), end)
		assert.Equal(t, 24*time.Hour, end.Sub(start))
	})

	t.Run("spring forward day is 23 hours", func(t *testing.T) {
		start, end := a.DayWindow(time.Date(2025, 3, 9, 16, 0, 0, 0, time.UTC))
		assert.Equal(t, 23*time.Hour, end.Sub(start))
	})

	t.Run("fall back day is 25 hours", func(t *testing.T) {
		start, end := a.DayWindow(time.Date(2025, 11, 2, 17, 0, 0, 0, time.UTC))
		assert.Equal(t, 25*time.Hour, end.Sub(start))
	})
}

func TestLabel(t *testing.T) {
	assert.Equal(t, "+3h", Label(3, wx.LeadHour))
	assert.Equal(t, "+0h", Label(0, wx.LeadHour))
	assert.Equal(t, "-1h", Label(-1, wx.LeadHour))
	assert.Equal(t, "+2d", Label(2, wx.LeadDay))
}
