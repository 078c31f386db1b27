package enrich

import (
	"regexp"
	"strings"
	"time"

	"github.com/pauljones0/tender-watch/internal/util"
)

var isoLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	time.DateOnly,
}

const timeSuffix = `(?:\s*(?:a|at|-)?\s*(\d{1,2})\s*[:h]\s*(\d{2})?)?`

var (
	ymdRe      = regexp.MustCompile(`(?:^|\D)(\d{4})[./-](\d{1,2})[./-](\d{1,2})` + timeSuffix + `(?:\D|$)`)
	dmyRe      = regexp.MustCompile(`(?:^|\D)(\d{1,2})[./-](\d{1,2})[./-](\d{4}|\d{2})` + timeSuffix + `(?:\D|$)`)
	dayMonthRe = regexp.MustCompile(`(?:^|\D)(\d{1,2})(?:er|st|nd|rd|th)?\s+([a-z]+)\.?,?\s+(\d{4})` + timeSuffix)
	monthDayRe = regexp.MustCompile(`(?:^|[^a-z])([a-z]+)\.?\s+(\d{1,2})(?:st|nd|rd|th)?,?\s+(\d{4})` + timeSuffix)
	deadlineRe = regexp.MustCompile(`(?:date\s+limite(?:\s+de\s+(?:soumission|depot|remise))?|date\s+de\s+cloture|cloture|deadline|closing\s+date|submission\s+deadline|depot\s+des\s+offres|date\s+de\s+depot|remise\s+des\s+offres)\s*[:\-]?\s*`)
)

// deadlineWindow bounds how far after a trigger phrase the date may appear.
const deadlineWindow = 60

var monthNames = map[string]time.Month{
	"janvier": time.January, "fevrier": time.February, "mars": time.March, "avril": time.April,
	"mai": time.May, "juin": time.June, "juillet": time.July, "aout": time.August,
	"septembre": time.September, "octobre": time.October, "novembre": time.November, "decembre": time.December,
	"january": time.January, "february": time.February, "march": time.March, "april": time.April,
	"may": time.May, "june": time.June, "july": time.July, "august": time.August,
	"september": time.September, "october": time.October, "november": time.November, "december": time.December,
	"jan": time.January, "feb": time.February, "fev": time.February, "mar": time.March, "apr": time.April,
	"avr": time.April, "jun": time.June, "jul": time.July, "juil": time.July, "aug": time.August,
	"sep": time.September, "sept": time.September, "oct": time.October, "nov": time.November,
	"dec": time.December,
}

// ParseDate reads the first date found in raw. Numeric dates are day first
// (15/02/2026), French and English month names are understood, and an
// optional time of day (14h30, 14:30) is kept. Results are in UTC.
func ParseDate(raw string) (time.Time, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range isoLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}

	s = util.Fold(s)
	if m := ymdRe.FindStringSubmatch(s); m != nil {
		return build(util.SafeAtoi(m[1]), time.Month(util.SafeAtoi(m[2])), util.SafeAtoi(m[3]), m[4], m[5])
	}
	if m := dmyRe.FindStringSubmatch(s); m != nil {
		return build(expandYear(m[3]), time.Month(util.SafeAtoi(m[2])), util.SafeAtoi(m[1]), m[4], m[5])
	}
	for _, m := range dayMonthRe.FindAllStringSubmatch(s, -1) {
		if month, ok := monthNames[m[2]]; ok {
			return build(util.SafeAtoi(m[3]), month, util.SafeAtoi(m[1]), m[4], m[5])
		}
	}
	for _, m := range monthDayRe.FindAllStringSubmatch(s, -1) {
		if month, ok := monthNames[m[1]]; ok {
			return build(util.SafeAtoi(m[3]), month, util.SafeAtoi(m[2]), m[4], m[5])
		}
	}
	return time.Time{}, false
}

// FindDeadline looks for a closing date announced by a trigger phrase such as
// "Date limite de dépôt : 15/02/2026" anywhere in text.
func FindDeadline(text string) (time.Time, bool) {
	folded := util.Fold(text)
	for _, loc := range deadlineRe.FindAllStringIndex(folded, -1) {
		end := loc[1] + deadlineWindow
		if end > len(folded) {
			end = len(folded)
		}
		if t, ok := ParseDate(folded[loc[1]:end]); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

func expandYear(s string) int {
	y := util.SafeAtoi(s)
	if len(s) == 2 {
		y += 2000
	}
	return y
}

func build(year int, month time.Month, day int, hour, minute string) (time.Time, bool) {
	if year < 1900 || month < time.January || month > time.December || day < 1 || day > 31 {
		return time.Time{}, false
	}
	h, mi := 0, 0
	if hour != "" {
		h = util.SafeAtoi(hour)
		mi = util.SafeAtoi(minute)
		if h > 23 || mi > 59 {
			h, mi = 0, 0
		}
	}
	t := time.Date(year, month, day, h, mi, 0, 0, time.UTC)
	// time.Date normalizes 31/02 into March; reject instead.
	if t.Day() != day || t.Month() != month {
		return time.Time{}, false
	}
	return t, true
}
