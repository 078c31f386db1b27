package enrich

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/pauljones0/tender-watch/internal/config"
	"github.com/pauljones0/tender-watch/internal/models"
	"github.com/pauljones0/tender-watch/internal/util"
)

var pdfLinkRe = regexp.MustCompile(`(?i)(https?://\S+?\.pdf(?:\?\S+)?)(?:[\s"'<>)\]]|$)`)

// DetectPDFURL returns the attachment to read for an offer: the explicit PDF
// link, the offer URL itself when it ends in .pdf, or the first PDF link
// mentioned in the description.
func DetectPDFURL(o models.RawOffer) string {
	if u := strings.TrimSpace(o.PDFURL); u != "" {
		return u
	}
	if hasPDFSuffix(o.URL) {
		return o.URL
	}
	if m := pdfLinkRe.FindStringSubmatch(o.Description); m != nil {
		return m[1]
	}
	return ""
}

func hasPDFSuffix(rawURL string) bool {
	u := strings.ToLower(strings.TrimSpace(rawURL))
	if i := strings.IndexAny(u, "?#"); i >= 0 {
		u = u[:i]
	}
	return strings.HasSuffix(u, ".pdf")
}

// PDFExtractor downloads a PDF under a size cap and returns the text of its first pages.
type PDFExtractor struct {
	client    *http.Client
	userAgent string
	maxBytes  int64
	maxChars  int
	maxPages  int
	parse     func(data []byte, maxPages int) (string, error)
}

func NewPDFExtractor(cfg config.PDFConfig, userAgent string) *PDFExtractor {
	return &PDFExtractor{
		client:    &http.Client{Timeout: cfg.Timeout},
		userAgent: userAgent,
		maxBytes:  cfg.MaxBytes,
		maxChars:  cfg.MaxChars,
		maxPages:  cfg.MaxPages,
		parse:     extractPDFText,
	}
}

// Extract returns up to maxChars of text, or "" on any fetch, size or parse failure.
func (e *PDFExtractor) Extract(ctx context.Context, pdfURL string) string {
	data, err := e.download(ctx, pdfURL)
	if err != nil {
		slog.Debug("PDF download skipped", "url", pdfURL, "error", err)
		return ""
	}

	text, err := e.parse(data, e.maxPages)
	if err != nil {
		slog.Debug("PDF parse failed", "url", pdfURL, "error", err)
		return ""
	}
	return util.Truncate(util.Fold(text), e.maxChars, "")
}

func (e *PDFExtractor) download(ctx context.Context, pdfURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pdfURL, nil)
	if err != nil {
		return nil, err
	}
	if e.userAgent != "" {
		req.Header.Set("User-Agent", e.userAgent)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	contentType := strings.ToLower(resp.Header.Get("Content-Type"))
	if !strings.Contains(contentType, "pdf") && !hasPDFSuffix(pdfURL) {
		return nil, fmt.Errorf("not a PDF (content-type %q)", contentType)
	}
	if resp.ContentLength > e.maxBytes {
		return nil, fmt.Errorf("content length %d exceeds %d bytes", resp.ContentLength, e.maxBytes)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, e.maxBytes+1))
	if err != nil {
		return nil, err
	}
	if int64(len(data)) > e.maxBytes {
		return nil, fmt.Errorf("body exceeds %d bytes", e.maxBytes)
	}
	return data, nil
}

func extractPDFText(data []byte, maxPages int) (text string, err error) {
	// The PDF reader panics on some malformed cross-reference tables.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("malformed PDF: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", err
	}

	var sb strings.Builder
	for i := 1; i <= r.NumPage() && i <= maxPages; i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		sb.WriteString(pageText)
		sb.WriteByte(' ')
	}
	return sb.String(), nil
}
