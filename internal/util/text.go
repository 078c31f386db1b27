package util

import (
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var punctuationReplacer = strings.NewReplacer(
	"\u00a0", " ",
	"\u2019", "'",
	"\u2018", "'",
	"\u2013", "-",
	"\u2014", "-",
)

// Fold lowercases s, strips diacritics and collapses whitespace so that
// "Côte d’Ivoire" and "cote d'ivoire" compare equal.
func Fold(s string) string {
	if s == "" {
		return ""
	}
	s = punctuationReplacer.Replace(strings.ToLower(s))
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return CollapseSpaces(folded)
}

// CollapseSpaces replaces every run of whitespace with a single space and trims the ends.
func CollapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// Truncate cuts s to at most max runes, appending suffix when something was removed.
func Truncate(s string, max int, suffix string) string {
	if max <= 0 {
		return ""
	}
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return strings.TrimRightFunc(string(r[:max]), unicode.IsSpace) + suffix
}
