package filter

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/pauljones0/tender-watch/internal/config"
	"github.com/pauljones0/tender-watch/internal/util"
)

// Signals reported by Geography.Match.
const (
	SignalTerm     = "term"
	SignalContext  = "context"
	SignalURL      = "url"
	SignalSource   = "source"
	SignalSoftCity = "soft_city"
)

var contextLabels = []string{
	"lieu d'execution", "lieu d execution", "lieu de la mission", "lieu de la prestation",
	"pays", "country", "duty station", "place of performance", "location", "localisation",
}

// Geography decides whether an offer concerns the target country. It is the
// single country rule shared by the strict filter and the link follower.
type Geography struct {
	countryCode string
	terms       *TermSet
	softCities  *TermSet
	contextRe   *regexp.Regexp
	urlHints    []string
	sourceHints map[string]bool
}

func NewGeography(p config.Profile) *Geography {
	g := &Geography{
		countryCode: strings.ToLower(p.CountryCode),
		terms:       NewTermSet(append(append([]string{}, p.CountryTerms...), p.GeoTerms...)),
		softCities:  NewTermSet(p.SoftCityTerms),
		sourceHints: make(map[string]bool, len(p.SourceHints)),
	}
	for _, h := range p.URLHints {
		if h = strings.ToLower(strings.TrimSpace(h)); h != "" {
			g.urlHints = append(g.urlHints, h)
		}
	}
	for _, h := range p.SourceHints {
		if h = util.Fold(h); h != "" {
			g.sourceHints[h] = true
		}
	}

	var countries []string
	for _, t := range p.CountryTerms {
		if f := util.Fold(t); f != "" {
			countries = append(countries, regexp.QuoteMeta(f))
		}
	}
	// After a location label the bare country code is unambiguous.
	if g.countryCode != "" {
		countries = append(countries, regexp.QuoteMeta(g.countryCode))
	}
	if len(countries) > 0 {
		labels := make([]string, len(contextLabels))
		for i, l := range contextLabels {
			labels[i] = regexp.QuoteMeta(l)
		}
		g.contextRe = regexp.MustCompile(`(?:` + strings.Join(labels, "|") + `)\s*:?\s*(?:` + strings.Join(countries, "|") + `)(?:\W|$)`)
	}
	return g
}

// Configured reports whether any geography term is known. Without terms the
// rule has nothing to test and passes every offer.
func (g *Geography) Configured() bool {
	return g != nil && g.terms.Len() > 0
}

// Match tests the folded haystack, then the URL, then the source name, then
// the soft city vocabulary. It returns the first signal that fired.
func (g *Geography) Match(haystack, rawURL, sourceName string) (string, bool) {
	if term, ok := g.terms.Match(haystack); ok {
		return SignalTerm + ":" + term, true
	}
	if g.contextRe != nil && g.contextRe.MatchString(haystack) {
		return SignalContext, true
	}
	if g.matchURL(rawURL) {
		return SignalURL, true
	}
	if g.matchSource(sourceName) {
		return SignalSource, true
	}
	if term, ok := g.softCities.Match(haystack); ok {
		return SignalSoftCity + ":" + term, true
	}
	return "", false
}

func (g *Geography) matchURL(rawURL string) bool {
	if rawURL == "" {
		return false
	}
	if util.HasCountryTLD(rawURL, g.countryCode) {
		return true
	}
	lower := strings.ToLower(rawURL)
	for _, h := range g.urlHints {
		if strings.Contains(lower, h) {
			return true
		}
	}
	return false
}

func (g *Geography) matchSource(sourceName string) bool {
	if len(g.sourceHints) == 0 {
		return false
	}
	tokens := strings.FieldsFunc(util.Fold(sourceName), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, tok := range tokens {
		if g.sourceHints[tok] {
			return true
		}
	}
	return false
}
