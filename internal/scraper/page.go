package scraper

import (
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	readability "github.com/go-shiori/go-readability"

	"github.com/pauljones0/tender-watch/internal/enrich"
	"github.com/pauljones0/tender-watch/internal/util"
)

const maxDescriptionChars = 1500

// Details are the fields read from an offer's own page.
type Details struct {
	Title       string
	Description string
	Partner     string
	PublishedAt *time.Time
	ClosingAt   *time.Time
}

// ParseDetails reads an offer page. Missing fields are left empty; parsing
// never fails.
func ParseDetails(page *Page) Details {
	var d Details
	doc := page.Doc
	ld, hasLD := extractJSONLD(doc)

	d.Title = cleanText(doc.Find("h1").First().Text())
	if d.Title == "" && hasLD {
		d.Title = cleanText(ld.title())
	}
	if d.Title == "" {
		d.Title = cleanText(doc.Find("title").First().Text())
	}

	d.Description = metaContent(doc, `meta[name="description"]`, `meta[property="og:description"]`)
	if d.Description == "" && hasLD {
		d.Description = cleanText(ld.Description)
	}
	if d.Description == "" {
		d.Description = firstParagraph(doc)
	}
	if d.Description == "" {
		d.Description = readableExcerpt(page)
	}
	d.Description = util.Truncate(d.Description, maxDescriptionChars, "...")

	d.Partner = metaContent(doc, `meta[name="author"]`, `meta[property="og:site_name"]`)
	if d.Partner == "" && hasLD {
		d.Partner = cleanText(ld.Publisher.Name)
		if d.Partner == "" {
			d.Partner = cleanText(ld.Author.Name)
		}
	}

	if hasLD {
		d.PublishedAt = parseDatePtr(ld.DatePublished)
		d.ClosingAt = parseDatePtr(ld.closing())
	}
	if d.ClosingAt == nil {
		d.ClosingAt = findClosingDate(doc)
	}
	if d.PublishedAt == nil {
		d.PublishedAt = parseDatePtr(attr(doc.Find(`meta[property="article:published_time"]`).First(), "content"))
	}
	return d
}

// findClosingDate prefers a machine readable time element, then a deadline
// phrase in the visible text.
func findClosingDate(doc *goquery.Document) *time.Time {
	var closing *time.Time
	doc.Find("time[datetime]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		closing = parseDatePtr(attr(s, "datetime"))
		return closing == nil
	})
	if closing != nil {
		return closing
	}

	body := doc.Find("body")
	if body.Length() == 0 {
		body = doc.Selection
	}
	if t, ok := enrich.FindDeadline(body.Text()); ok {
		return &t
	}
	return nil
}

func firstParagraph(doc *goquery.Document) string {
	root := doc.Find("main").First()
	if root.Length() == 0 {
		root = doc.Find("article").First()
	}
	if root.Length() == 0 {
		root = doc.Selection
	}
	var text string
	root.Find("p").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		text = cleanText(s.Text())
		return text == ""
	})
	return text
}

func readableExcerpt(page *Page) string {
	if page.Base == nil || strings.TrimSpace(page.HTML) == "" {
		return ""
	}
	article, err := readability.FromReader(strings.NewReader(page.HTML), page.Base)
	if err != nil {
		return ""
	}
	return cleanText(article.TextContent)
}

func metaContent(doc *goquery.Document, selectors ...string) string {
	for _, sel := range selectors {
		if v := cleanText(attr(doc.Find(sel).First(), "content")); v != "" {
			return v
		}
	}
	return ""
}

func attr(s *goquery.Selection, name string) string {
	v, _ := s.Attr(name)
	return strings.TrimSpace(v)
}

func parseDatePtr(raw string) *time.Time {
	if t, ok := enrich.ParseDate(raw); ok {
		return &t
	}
	return nil
}

func cleanText(s string) string {
	return util.CollapseSpaces(s)
}
