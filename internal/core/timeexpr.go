package core

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Weekday expressions resolve to this local hour.
const weekdayHour = 9

var relativeExpr = regexp.MustCompile(`(?i)^([+-]\d+)\s*(minutes?|hours?|days?)$`)

var absoluteLayouts = []string{
	"2006-01-02 15:04",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02T15:04:05",
}

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// ParseTimeExpression converts a human deadline into an absolute time.
//
// Three families are tried in order: relative ("+10 hours"), a weekday name
// ("Monday", resolved to 09:00 in now's location) and an absolute
// "YYYY-MM-DD HH:MM" in now's location. Absolute times in the past are
// accepted; the scheduler fires them on its next poll.
func ParseTimeExpression(expr string, now time.Time) (time.Time, error) {
	trimmed := strings.TrimSpace(expr)
	if trimmed == "" {
		return time.Time{}, &InvalidExpressionError{Expr: expr, Reason: "empty expression"}
	}
	if m := relativeExpr.FindStringSubmatch(trimmed); m != nil {
		return parseRelative(expr, m[1], m[2], now)
	}
	if day, ok := weekdays[strings.ToLower(trimmed)]; ok {
		return nextWeekday(day, now), nil
	}
	for _, layout := range absoluteLayouts {
		if t, err := time.ParseInLocation(layout, trimmed, now.Location()); err == nil {
			return t, nil
		}
	}
	return time.Time{}, &InvalidExpressionError{Expr: expr}
}

func parseRelative(expr, amount, unit string, now time.Time) (time.Time, error) {
	n, err := strconv.ParseInt(amount, 10, 64)
	if err != nil {
		return time.Time{}, &InvalidExpressionError{Expr: expr, Reason: "amount out of range"}
	}
	if n <= 0 {
		return time.Time{}, &InvalidExpressionError{Expr: expr, Reason: "amount must be positive"}
	}
	var step time.Duration
	switch u := strings.ToLower(unit); {
	case strings.HasPrefix(u, "minute"):
		step = time.Minute
	case strings.HasPrefix(u, "hour"):
		step = time.Hour
	default:
		step = 24 * time.Hour
	}
	if n > math.MaxInt64/int64(step) {
		return time.Time{}, &InvalidExpressionError{Expr: expr, Reason: "amount out of range"}
	}
	return now.Add(time.Duration(n) * step), nil
}

func nextWeekday(day time.Weekday, now time.Time) time.Time {
	ahead := (int(day) - int(now.Weekday()) + 7) % 7
	candidate := time.Date(now.Year(), now.Month(), now.Day()+ahead, weekdayHour, 0, 0, 0, now.Location())
	if !candidate.After(now) {
		candidate = time.Date(now.Year(), now.Month(), now.Day()+ahead+7, weekdayHour, 0, 0, 0, now.Location())
	}
	return candidate
}
