package filter

import (
	"fmt"
	"strings"
	"time"

	"github.com/pauljones0/tender-watch/internal/config"
	"github.com/pauljones0/tender-watch/internal/models"
	"github.com/pauljones0/tender-watch/internal/util"
)

// Rejection reasons and soft tags.
const (
	ReasonMissingDeadline  = "missing_deadline"
	ReasonExpiredDeadline  = "expired_deadline"
	ReasonNotCountry       = "not_ci"
	ReasonNotTenderContext = "not_tender_context"
	TagNotFocusDomain      = "not_focus_domain"
	TagFilterErrorPrefix   = "filter_error:"
)

// defaultTenderTerms is always merged into the configured tender vocabulary.
var defaultTenderTerms = []string{
	"appel d offres", "appel d'offres", "dao", "ami", "aoi",
	"avis", "avis d appel", "avis d'appel", "consultation", "marche", "marches",
	"soumission", "soumissionner", "offre", "proposition",
	"tender", "tender notice", "bid", "bidding", "procurement",
	"request for proposal", "rfp", "request for quotation", "rfq",
	"expression of interest", "eoi",
}

// Result is the strict stage verdict. Reasons is empty iff Keep is true.
type Result struct {
	Keep     bool
	Reasons  []string
	SoftTags []string
	// Signal names the geography evidence that passed the offer, if any.
	Signal string
}

// Strict is the deterministic rule stage evaluated before any AI call.
type Strict struct {
	cfg    config.FilterConfig
	geo    *Geography
	tender *TermSet
	focus  *TermSet
	now    func() time.Time
}

func NewStrict(cfg config.FilterConfig, p config.Profile, geo *Geography) *Strict {
	if geo == nil {
		geo = NewGeography(p)
	}
	return &Strict{
		cfg:    cfg,
		geo:    geo,
		tender: NewTermSet(append(append([]string{}, p.TenderTerms...), defaultTenderTerms...)),
		focus:  NewTermSet(p.FocusTerms),
		now:    time.Now,
	}
}

// Haystack folds every textual field of the offer into one string.
func Haystack(o models.RawOffer) string {
	parts := []string{
		o.Title, o.Description, o.OfferType, o.Partner, o.SourceName,
		strings.Join(o.MatchedKeywords, " "), o.URL,
	}
	nonEmpty := parts[:0]
	for _, p := range parts {
		if strings.TrimSpace(p) != "" {
			nonEmpty = append(nonEmpty, p)
		}
	}
	return util.Fold(strings.Join(nonEmpty, " "))
}

// Evaluate runs the deadline, geography and tender context rules in order
// and stops at the first rejection. A panic inside a rule keeps the offer.
func (s *Strict) Evaluate(o models.RawOffer) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{Keep: true, SoftTags: []string{fmt.Sprintf("%s%T", TagFilterErrorPrefix, r)}}
		}
	}()

	if reason := s.checkDeadline(o.ClosingAt); reason != "" {
		return reject(reason)
	}

	text := Haystack(o)

	var signal string
	if s.cfg.GeoFilterEnabled && s.geo.Configured() {
		var ok bool
		if signal, ok = s.geo.Match(text, o.URL, o.SourceName); !ok {
			return reject(ReasonNotCountry)
		}
	}

	if s.cfg.TenderContextEnabled {
		if _, ok := s.tender.Match(text); !ok {
			return reject(ReasonNotTenderContext)
		}
	}

	res = Result{Keep: true, Signal: signal}
	if s.cfg.FocusEnabled && s.focus.Len() > 0 {
		if _, ok := s.focus.Match(text); !ok {
			res.SoftTags = append(res.SoftTags, TagNotFocusDomain)
		}
	}
	return res
}

func (s *Strict) checkDeadline(closing *time.Time) string {
	if closing == nil {
		if s.cfg.DeadlineRequired {
			return ReasonMissingDeadline
		}
		return ""
	}
	if closing.Before(s.now()) {
		return ReasonExpiredDeadline
	}
	return ""
}

func reject(reason string) Result {
	return Result{Keep: false, Reasons: []string{reason}}
}
