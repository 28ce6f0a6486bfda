// Package utils provides time and formatting helpers shared across the screener.
package utils

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Taipei is the Taiwan local time location (UTC+8).
var Taipei *time.Location

func init() {
	var err error
	Taipei, err = time.LoadLocation("Asia/Taipei")
	if err != nil {
		// Fallback: fixed zone if the tz database is not available
		Taipei = time.FixedZone("CST", 8*60*60)
	}
}

// NowTaipei returns the current time in Taiwan local time.
func NowTaipei() time.Time {
	return time.Now().In(Taipei)
}

// MarketOpenTime returns the TWSE market opening time (09:00) for a given date.
func MarketOpenTime(date time.Time) time.Time {
	d := date.In(Taipei)
	return time.Date(d.Year(), d.Month(), d.Day(), 9, 0, 0, 0, Taipei)
}

// MarketCloseTime returns the TWSE market closing time (13:30) for a given date.
func MarketCloseTime(date time.Time) time.Time {
	d := date.In(Taipei)
	return time.Date(d.Year(), d.Month(), d.Day(), 13, 30, 0, 0, Taipei)
}

// IsWeekday reports whether the given time falls on a trading weekday.
func IsWeekday(t time.Time) bool {
	wd := t.In(Taipei).Weekday()
	return wd != time.Saturday && wd != time.Sunday
}

// MinutesSinceOpen returns the number of session minutes elapsed at t,
// clamped to [0, 270] (09:00-13:30 is 4.5 hours).
func MinutesSinceOpen(t time.Time) int {
	t = t.In(Taipei)
	open := MarketOpenTime(t)
	if t.Before(open) {
		return 0
	}
	elapsed := int(t.Sub(open).Minutes())
	if elapsed > 270 {
		return 270
	}
	return elapsed
}

// SessionFraction returns elapsed session time as a fraction of the full
// session, floored at 0.1 so early-session volume ratios stay bounded.
func SessionFraction(t time.Time) float64 {
	frac := float64(MinutesSinceOpen(t)) / 270.0
	if frac < 0.1 {
		return 0.1
	}
	if frac > 1.0 {
		return 1.0
	}
	return frac
}

// ROCDate formats t in the civil-minus-1911 form "YYY/MM/DD" required by
// the TPEx endpoints (e.g. 2026-01-05 -> "115/01/05").
func ROCDate(t time.Time) string {
	t = t.In(Taipei)
	return fmt.Sprintf("%d/%02d/%02d", t.Year()-1911, int(t.Month()), t.Day())
}

// ROCMonth formats t as "YYY/MM" for the TPEx monthly history endpoint.
func ROCMonth(t time.Time) string {
	t = t.In(Taipei)
	return fmt.Sprintf("%d/%02d", t.Year()-1911, int(t.Month()))
}

// ROCToISO converts a civil-minus-1911 date like "114/03/07" (or
// "114/3/7") to ISO form "2025-03-07". Returns an empty string when the
// input does not parse.
func ROCToISO(s string) string {
	parts := strings.Split(strings.TrimSpace(s), "/")
	if len(parts) != 3 {
		return ""
	}
	year, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return ""
	}
	month, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return ""
	}
	day, err := strconv.Atoi(strings.TrimSpace(parts[2]))
	if err != nil {
		return ""
	}
	if month < 1 || month > 12 || day < 1 || day > 31 {
		return ""
	}
	return fmt.Sprintf("%04d-%02d-%02d", year+1911, month, day)
}

// CompactDate formats t as "YYYYMMDD" for exchange query parameters and
// output directory names.
func CompactDate(t time.Time) string {
	return t.In(Taipei).Format("20060102")
}

// ISODate formats t as "2006-01-02".
func ISODate(t time.Time) string {
	return t.In(Taipei).Format("2006-01-02")
}
