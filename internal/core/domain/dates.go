package domain

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

type DateMatch struct {
	Date  time.Time
	Start int
	End   int
	Text  string
}

const monthNames = `(jan(?:uary)?|feb(?:ruary)?|mar(?:ch)?|apr(?:il)?|may|june?|july?|aug(?:ust)?|sep(?:t(?:ember)?)?|oct(?:ober)?|nov(?:ember)?|dec(?:ember)?)`

var (
	isoDatePattern       = regexp.MustCompile(`\b(\d{4})[-/.](\d{1,2})[-/.](\d{1,2})\b`)
	numericDatePattern   = regexp.MustCompile(`\b(\d{1,2})([/-])(\d{1,2})([/-])(\d{4}|\d{2})\b`)
	monthFirstPattern    = regexp.MustCompile(`(?i)\b` + monthNames + `\.?\s+(\d{1,2})(?:st|nd|rd|th)?,?\s+(\d{4})\b`)
	dayFirstMonthPattern = regexp.MustCompile(`(?i)\b(\d{1,2})(?:st|nd|rd|th)?\s+` + monthNames + `\.?,?\s+(\d{4})\b`)
)

// FindDates returns the calendar dates written in text, ordered by position and
// restricted to [min, max] when those bounds are non-zero.
func FindDates(text string, min, max time.Time) []DateMatch {
	var found []DateMatch
	add := func(start, end int, year, month, day int) {
		date, ok := calendarDate(year, month, day)
		if !ok {
			return
		}
		if !min.IsZero() && date.Before(truncateDay(min)) {
			return
		}
		if !max.IsZero() && date.After(truncateDay(max)) {
			return
		}
		found = append(found, DateMatch{Date: date, Start: start, End: end, Text: text[start:end]})
	}

	for _, m := range isoDatePattern.FindAllStringSubmatchIndex(text, -1) {
		add(m[0], m[1], atoi(text[m[2]:m[3]]), atoi(text[m[4]:m[5]]), atoi(text[m[6]:m[7]]))
	}
	for _, m := range numericDatePattern.FindAllStringSubmatchIndex(text, -1) {
		if text[m[4]:m[5]] != text[m[8]:m[9]] {
			continue
		}
		add(m[0], m[1], expandYear(text[m[10]:m[11]]), atoi(text[m[2]:m[3]]), atoi(text[m[6]:m[7]]))
	}
	for _, m := range monthFirstPattern.FindAllStringSubmatchIndex(text, -1) {
		add(m[0], m[1], atoi(text[m[6]:m[7]]), monthNumber(text[m[2]:m[3]]), atoi(text[m[4]:m[5]]))
	}
	for _, m := range dayFirstMonthPattern.FindAllStringSubmatchIndex(text, -1) {
		add(m[0], m[1], atoi(text[m[6]:m[7]]), monthNumber(text[m[4]:m[5]]), atoi(text[m[2]:m[3]]))
	}

	sort.SliceStable(found, func(i, j int) bool {
		if found[i].Start != found[j].Start {
			return found[i].Start < found[j].Start
		}
		return found[i].End > found[j].End
	})
	out := found[:0]
	lastEnd := -1
	for _, match := range found {
		if match.Start < lastEnd {
			continue
		}
		out = append(out, match)
		lastEnd = match.End
	}
	return out
}

// ParseDate parses a single date cell from a reference table.
func ParseDate(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, fmt.Errorf("empty date")
	}
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02T15:04:05"} {
		if parsed, err := time.Parse(layout, value); err == nil {
			return truncateDay(parsed), nil
		}
	}
	matches := FindDates(value, time.Time{}, time.Time{})
	if len(matches) == 0 {
		return time.Time{}, fmt.Errorf("unrecognized date %q", value)
	}
	return matches[0].Date, nil
}

func SameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// DaysBetween returns the absolute number of whole days between two dates.
func DaysBetween(a, b time.Time) int {
	d := truncateDay(a).Sub(truncateDay(b))
	if d < 0 {
		d = -d
	}
	return int(d.Hours() / 24)
}

func calendarDate(year, month, day int) (time.Time, bool) {
	if year < 1900 || month < 1 || month > 12 || day < 1 || day > 31 {
		return time.Time{}, false
	}
	date := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	if date.Day() != day || int(date.Month()) != month {
		return time.Time{}, false
	}
	return date, true
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func expandYear(raw string) int {
	year := atoi(raw)
	if len(raw) == 2 {
		return 2000 + year
	}
	return year
}

func monthNumber(name string) int {
	switch strings.ToLower(name)[:3] {
	case "jan":
		return 1
	case "feb":
		return 2
	case "mar":
		return 3
	case "apr":
		return 4
	case "may":
		return 5
	case "jun":
		return 6
	case "jul":
		return 7
	case "aug":
		return 8
	case "sep":
		return 9
	case "oct":
		return 10
	case "nov":
		return 11
	case "dec":
		return 12
	}
	return 0
}

func atoi(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return -1
	}
	return n
}
