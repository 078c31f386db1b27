package scraper

import (
	"encoding/json"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// jsonLDNotice holds the schema.org fields that procurement pages publish in
// their JSON-LD blocks (Article, WebPage, Event, JobPosting, Offer...).
type jsonLDNotice struct {
	Type          any            `json:"@type"`
	Headline      string         `json:"headline"`
	Name          string         `json:"name"`
	Description   string         `json:"description"`
	DatePublished string         `json:"datePublished"`
	ValidThrough  string         `json:"validThrough"`
	Expires       string         `json:"expires"`
	EndDate       string         `json:"endDate"`
	Publisher     jsonLDEntity   `json:"publisher"`
	Author        jsonLDEntity   `json:"author"`
	Graph         []jsonLDNotice `json:"@graph"`
}

// jsonLDEntity accepts either {"name": "..."} or a bare string.
type jsonLDEntity struct {
	Name string
}

func (e *jsonLDEntity) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		e.Name = s
		return nil
	}
	var obj struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &obj); err == nil {
		e.Name = obj.Name
	}
	return nil
}

func (n jsonLDNotice) title() string {
	if n.Headline != "" {
		return n.Headline
	}
	return n.Name
}

func (n jsonLDNotice) closing() string {
	for _, v := range []string{n.ValidThrough, n.Expires, n.EndDate} {
		if v != "" {
			return v
		}
	}
	return ""
}

func (n jsonLDNotice) empty() bool {
	return n.title() == "" && n.Description == "" && n.DatePublished == "" && n.closing() == ""
}

// extractJSONLD returns the first non-empty schema.org node on the page.
// Malformed blocks are skipped.
func extractJSONLD(doc *goquery.Document) (jsonLDNotice, bool) {
	var found jsonLDNotice
	ok := false
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		raw := strings.TrimSpace(s.Text())
		if raw == "" {
			return true
		}
		for _, n := range decodeJSONLD(raw) {
			if !n.empty() {
				found, ok = n, true
				return false
			}
		}
		return true
	})
	return found, ok
}

func decodeJSONLD(raw string) []jsonLDNotice {
	var nodes []jsonLDNotice
	if strings.HasPrefix(raw, "[") {
		if err := json.Unmarshal([]byte(raw), &nodes); err != nil {
			return nil
		}
	} else {
		var n jsonLDNotice
		if err := json.Unmarshal([]byte(raw), &n); err != nil {
			return nil
		}
		nodes = []jsonLDNotice{n}
	}

	var out []jsonLDNotice
	for _, n := range nodes {
		out = append(out, n)
		out = append(out, n.Graph...)
	}
	return out
}
