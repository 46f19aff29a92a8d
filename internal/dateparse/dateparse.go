// Package dateparse converts partially known dates into conservative
// millisecond bounds.
//
// Inputs look like "1912-06-23", "19##-##-##" or "-44-03-##": '#' marks an
// unknown digit and a leading '-' marks a BC year. Floor returns the first
// instant the date can denote and Ceil the last one. Anything that is not a
// date as a whole, or has a year longer than six digits, yields the unbounded
// sentinels instead of an error.
//
// Dates are resolved on the hybrid calendar (Julian before 1582-10-15,
// Gregorian after) in UTC.
package dateparse

import (
	"regexp"
	"strconv"
	"strings"

	"spotlx/internal/model"
)

// datePattern matches a whole date, optionally written as a quoted literal
// with a datatype suffix such as "1900-01-##"^^xsd:date.
var datePattern = regexp.MustCompile(`^"?(-?)([0-9]+[0-9#]{0,3})-([0-9]{2}|##)-([0-9]{2}|##)"?(?:\^\^\S+)?$`)

const (
	msPerDay = 86400000

	// julian day number of 1970-01-01
	epochJDN = 2440588
	// first day of the Gregorian calendar, 1582-10-15
	cutoverJDN = 2299161

	// int64 milliseconds run out near 292 million years
	maxYearDigits = 6
)

type unit int

const (
	unitDay unit = iota
	unitMonth
	unitYear
)

// parsed is a matched date with wildcards resolved to their lowest values.
type parsed struct {
	year  int64 // astronomical: 1 BC == 0
	month int64
	day   int64

	step      unit
	stepCount int64
}

// Floor returns the first millisecond of the earliest date s can denote, or
// model.MinTimestamp when s does not contain a date.
//
// Examples:
//
//	Floor("1900-##-##") == Floor("1900-01-01")
//	Floor("9##-##-##")  == Floor("900-01-01")
func Floor(s string) int64 {
	p, ok := parse(s)
	if !ok {
		return model.MinTimestamp
	}
	jdn := toJDN(p.year, p.month, p.day)
	ms := (jdn - epochJDN) * msPerDay
	return shiftCenturyLeapDay(ms)
}

// Ceil returns the last millisecond before the next unresolved unit begins,
// or model.MaxTimestamp when s does not contain a date.
//
// The unit is chosen by the most significant wildcard: years (10^n for n
// wildcarded digits and everything after them), then month, then day. A
// fully specified date covers exactly one day.
func Ceil(s string) int64 {
	p, ok := parse(s)
	if !ok {
		return model.MaxTimestamp
	}

	// normalize lenient fields before adding the unit
	y, m, d := fromJDN(toJDN(p.year, p.month, p.day))

	var next int64
	switch p.step {
	case unitYear:
		y += p.stepCount
		d = min(d, monthLength(y, m))
		next = toJDN(y, m, d)
	case unitMonth:
		m++
		if m > 12 {
			m = 1
			y++
		}
		d = min(d, monthLength(y, m))
		next = toJDN(y, m, d)
	default:
		next = toJDN(y, m, d) + 1
	}

	ms := (next-epochJDN)*msPerDay - 1
	return shiftCenturyLeapDay(ms)
}

// Interval builds a TimeInterval from optional since/until strings. An empty
// side keeps its sentinel.
func Interval(since, until string) model.TimeInterval {
	t := model.DefaultInterval()
	if since != "" {
		t.Begin = Floor(since)
	}
	if until != "" {
		t.End = Ceil(until)
	}
	return t
}

func parse(s string) (parsed, bool) {
	m := datePattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return parsed{}, false
	}
	bc, yearStr, monthStr, dayStr := m[1] == "-", m[2], m[3], m[4]

	if len(yearStr) > maxYearDigits {
		return parsed{}, false
	}

	var p parsed
	p.step = unitDay
	p.stepCount = 1

	if i := strings.IndexByte(yearStr, '#'); i >= 0 {
		p.step = unitYear
		p.stepCount = pow10(len(yearStr) - i)
	} else if monthStr == "##" {
		p.step = unitYear
	} else if dayStr == "##" {
		p.step = unitMonth
	}

	era, err := strconv.ParseInt(strings.ReplaceAll(yearStr, "#", "0"), 10, 64)
	if err != nil {
		return parsed{}, false
	}
	p.year = era
	if bc {
		p.year = 1 - era
	}

	p.month = 1
	if monthStr != "##" {
		p.month, _ = strconv.ParseInt(monthStr, 10, 64)
	}
	p.day = 1
	if dayStr != "##" {
		p.day, _ = strconv.ParseInt(dayStr, 10, 64)
	}

	// Feb 29 does not exist in the store's calendar for these years.
	if p.month == 2 && p.day == 29 && centuryMismatch(p.year) {
		p.day = 28
	}
	return p, true
}

// centuryMismatch reports years that the hybrid calendar may treat as leap
// years while the store's proleptic Gregorian calendar does not.
func centuryMismatch(year int64) bool {
	return year%100 == 0 && year%400 != 0
}

// shiftCenturyLeapDay moves an instant that falls on Feb 29 of a mismatch
// year back by one day.
func shiftCenturyLeapDay(ms int64) int64 {
	jdn := floorDiv(ms, msPerDay) + epochJDN
	y, m, d := fromJDN(jdn)
	if m == 2 && d == 29 && centuryMismatch(y) {
		return ms - msPerDay
	}
	return ms
}

// toJDN converts a hybrid-calendar date to a julian day number. Month and
// day may be out of range; they roll over into neighbouring months.
func toJDN(year, month, day int64) int64 {
	year += floorDiv(month-1, 12)
	month = floorMod(month-1, 12) + 1

	g := gregorianJDN(year, month, 1) + day - 1
	if g >= cutoverJDN {
		return g
	}
	return julianJDN(year, month, 1) + day - 1
}

// fromJDN converts a julian day number back to a hybrid-calendar date.
func fromJDN(jdn int64) (year, month, day int64) {
	var c int64
	if jdn >= cutoverJDN {
		a := jdn + 32044
		b := floorDiv(4*a+3, 146097)
		c = a - floorDiv(146097*b, 4)
		dd := floorDiv(4*c+3, 1461)
		e := c - floorDiv(1461*dd, 4)
		mm := floorDiv(5*e+2, 153)
		day = e - floorDiv(153*mm+2, 5) + 1
		month = mm + 3 - 12*floorDiv(mm, 10)
		year = 100*b + dd - 4800 + floorDiv(mm, 10)
		return year, month, day
	}
	c = jdn + 32082
	dd := floorDiv(4*c+3, 1461)
	e := c - floorDiv(1461*dd, 4)
	mm := floorDiv(5*e+2, 153)
	day = e - floorDiv(153*mm+2, 5) + 1
	month = mm + 3 - 12*floorDiv(mm, 10)
	year = dd - 4800 + floorDiv(mm, 10)
	return year, month, day
}

func gregorianJDN(y, m, d int64) int64 {
	a := floorDiv(14-m, 12)
	yy := y + 4800 - a
	mm := m + 12*a - 3
	return d + floorDiv(153*mm+2, 5) + 365*yy + floorDiv(yy, 4) - floorDiv(yy, 100) + floorDiv(yy, 400) - 32045
}

func julianJDN(y, m, d int64) int64 {
	a := floorDiv(14-m, 12)
	yy := y + 4800 - a
	mm := m + 12*a - 3
	return d + floorDiv(153*mm+2, 5) + 365*yy + floorDiv(yy, 4) - 32083
}

func monthLength(year, month int64) int64 {
	switch month {
	case 4, 6, 9, 11:
		return 30
	case 2:
		if isLeap(year) {
			return 29
		}
		return 28
	default:
		return 31
	}
}

// isLeap follows the hybrid calendar: Julian rules before 1583.
func isLeap(year int64) bool {
	if year < 1583 {
		return floorMod(year, 4) == 0
	}
	return year%4 == 0 && (year%100 != 0 || year%400 == 0)
}

func pow10(n int) int64 {
	v := int64(1)
	for i := 0; i < n; i++ {
		v *= 10
	}
	return v
}

func floorDiv(a, b int64) int64 {
	q := a / b
	if (a%b != 0) && ((a < 0) != (b < 0)) {
		q--
	}
	return q
}

func floorMod(a, b int64) int64 {
	return a - floorDiv(a, b)*b
}
