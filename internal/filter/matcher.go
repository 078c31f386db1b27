package filter

import (
	"regexp"
	"sync"
	"unicode"

	"github.com/cloudflare/ahocorasick"

	"github.com/pauljones0/tender-watch/internal/util"
)

// shortTermLen is the longest term that must match as a whole word.
const shortTermLen = 3

// TermSet matches a vocabulary against a folded haystack. Long terms are
// substring matches through one Aho-Corasick automaton; short alphanumeric
// terms ("ci", "ao", "dao") only match as whole words.
type TermSet struct {
	long    []string
	matcher *ahocorasick.Matcher
	// The automaton keeps per-match state, so Match is serialized.
	mu sync.Mutex

	short   []string
	shortRe []*regexp.Regexp
}

// NewTermSet folds and deduplicates terms. Empty terms are dropped.
func NewTermSet(terms []string) *TermSet {
	s := &TermSet{}
	seen := make(map[string]bool, len(terms))
	for _, raw := range terms {
		term := util.Fold(raw)
		if term == "" || seen[term] {
			continue
		}
		seen[term] = true

		if isShortWord(term) {
			s.short = append(s.short, term)
			s.shortRe = append(s.shortRe, regexp.MustCompile(`(?:^|\W)`+regexp.QuoteMeta(term)+`(?:\W|$)`))
			continue
		}
		s.long = append(s.long, term)
	}
	if len(s.long) > 0 {
		s.matcher = ahocorasick.NewStringMatcher(s.long)
	}
	return s
}

func isShortWord(term string) bool {
	n := 0
	for _, r := range term {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return false
		}
		n++
	}
	return n <= shortTermLen
}

// Len is the number of distinct terms.
func (s *TermSet) Len() int {
	if s == nil {
		return 0
	}
	return len(s.long) + len(s.short)
}

// Match returns the first term found in the folded haystack.
func (s *TermSet) Match(haystack string) (string, bool) {
	if s.Len() == 0 || haystack == "" {
		return "", false
	}
	if s.matcher != nil {
		s.mu.Lock()
		hits := s.matcher.Match([]byte(haystack))
		s.mu.Unlock()
		if len(hits) > 0 {
			first := hits[0]
			for _, h := range hits[1:] {
				if h < first {
					first = h
				}
			}
			return s.long[first], true
		}
	}
	for i, re := range s.shortRe {
		if re.MatchString(haystack) {
			return s.short[i], true
		}
	}
	return "", false
}

// MatchAll returns every term found, long terms first in vocabulary order.
func (s *TermSet) MatchAll(haystack string) []string {
	if s.Len() == 0 || haystack == "" {
		return nil
	}
	var found []string
	if s.matcher != nil {
		s.mu.Lock()
		hits := s.matcher.Match([]byte(haystack))
		s.mu.Unlock()
		seen := make([]bool, len(s.long))
		for _, h := range hits {
			seen[h] = true
		}
		for i, ok := range seen {
			if ok {
				found = append(found, s.long[i])
			}
		}
	}
	for i, re := range s.shortRe {
		if re.MatchString(haystack) {
			found = append(found, s.short[i])
		}
	}
	return found
}
