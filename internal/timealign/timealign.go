// Package timealign computes timezone-correct lead-time semantics for
// forecast readings: whole-hour offsets for hourly products and civil-date
// offsets for daily products.
package timealign

import (
	"fmt"
	"time"

	"github.com/yegors/wxbench/internal/wx"
)

// Aligner computes lead fields against a fixed run instant and IANA zone.
// Construct one per ingestion cycle; it is immutable and safe for
// concurrent use.
type Aligner struct {
	runAt time.Time
	loc   *time.Location
}

// New creates an aligner for the given run instant and IANA zone name
func New(runAt time.Time, tzName string) (*Aligner, error) {
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", tzName, err)
	}
	return &Aligner{runAt: runAt.UTC(), loc: loc}, nil
}

// RunAt returns the aligner's run instant in UTC
func (a *Aligner) RunAt() time.Time { return a.runAt }

// HourlyLead returns the whole-hour offset of a forecast validity start
// relative to the run instant. Both sides are floored to the hour first so
// a cron tick a few minutes into the hour never yields a negative
// "current hour" offset.
func (a *Aligner) HourlyLead(validStart time.Time) int {
	delta := wx.FloorToHour(validStart).Sub(wx.FloorToHour(a.runAt))
	return int(delta / time.Hour)
}

// LocalDay returns the civil date of an instant in the configured zone,
// formatted YYYY-MM-DD. DST transitions change the day's length, not its
// identity, so this is safe on 23h/25h days.
func (a *Aligner) LocalDay(t time.Time) string {
	return t.In(a.loc).Format("2006-01-02")
}

// DailyLead returns the civil-date difference between a forecast validity
// start and the run instant, in whole days. The subtraction is done on
// calendar dates, never on durations, so a DST-transition day of 23 or 25
// hours contributes exactly one day.
func (a *Aligner) DailyLead(validStart time.Time) int {
	return civilDaysBetween(dateOf(a.runAt.In(a.loc)), dateOf(validStart.In(a.loc)))
}

// DayWindow returns the UTC bounds of the local civil day containing t.
// Bounds land on local midnight, so the window spans 23 or 25 hours across
// a DST transition.
func (a *Aligner) DayWindow(t time.Time) (time.Time, time.Time) {
	y, m, d := t.In(a.loc).Date()
	start := time.Date(y, m, d, 0, 0, 0, 0, a.loc)
	return start.UTC(), start.AddDate(0, 0, 1).UTC()
}

// Label renders the conventional lead label, e.g. "+3h", "+2d", "-1h"
func Label(offset int, unit wx.LeadUnit) string {
	suffix := "h"
	if unit == wx.LeadDay {
		suffix = "d"
	}
	if offset >= 0 {
		return fmt.Sprintf("+%d%s", offset, suffix)
	}
	return fmt.Sprintf("%d%s", offset, suffix)
}

type civilDate struct {
	year  int
	month time.Month
	day   int
}

func dateOf(t time.Time) civilDate {
	y, m, d := t.Date()
	return civilDate{y, m, d}
}

// civilDaysBetween counts calendar days from a to b. Midnights are
// anchored in UTC so the count is pure date arithmetic, unaffected by the
// zone's offset changes.
func civilDaysBetween(a, b civilDate) int {
	ua := time.Date(a.year, a.month, a.day, 0, 0, 0, 0, time.UTC)
	ub := time.Date(b.year, b.month, b.day, 0, 0, 0, 0, time.UTC)
	return int(ub.Sub(ua).Hours() / 24)
}
