package scraper

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"

	"github.com/pauljones0/tender-watch/internal/config"
	"github.com/pauljones0/tender-watch/internal/util"
)

const (
	maxPageBytes   = 5 * 1024 * 1024
	fetchRetries   = 2
	defaultBackoff = time.Second
)

// Page is a fetched HTML document. Base is the URL the document was
// actually served from, which differs from the requested one after a
// redirect or a host variant fallback.
type Page struct {
	Base *url.URL
	HTML string
	Doc  *goquery.Document
}

// Fetcher downloads HTML pages politely: one shared rate limit, a user agent,
// retries on transient failures and a www/non-www retry on TLS failures.
type Fetcher struct {
	client      *http.Client
	userAgent   string
	limiter     *rate.Limiter
	backoff     time.Duration
	hostVariant func(string) (string, bool)
}

func NewFetcher(cfg config.ScrapeConfig) *Fetcher {
	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}
	return &Fetcher{
		client:      &http.Client{Timeout: cfg.Timeout},
		userAgent:   cfg.UserAgent,
		limiter:     rate.NewLimiter(limit, 1),
		backoff:     defaultBackoff,
		hostVariant: util.HostVariant,
	}
}

// Fetch returns the parsed page at rawURL.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	page, err := f.fetchWithRetry(ctx, rawURL)
	if err == nil || !isTLSError(err) {
		return page, err
	}

	alt, ok := f.hostVariant(rawURL)
	if !ok {
		return nil, err
	}
	slog.Warn("TLS error, trying host variant", "url", rawURL, "variant", alt, "error", err)
	page, altErr := f.fetchWithRetry(ctx, alt)
	if altErr != nil {
		return nil, fmt.Errorf("%w (host variant %s: %v)", err, alt, altErr)
	}
	slog.Info("Host variant fallback succeeded", "url", rawURL, "variant", alt)
	return page, nil
}

// FetchHTML parses HTML obtained elsewhere (a headless renderer) as if it had been fetched.
func FetchHTML(rawURL, html string) (*Page, error) {
	base, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse URL %s: %w", rawURL, err)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML of %s: %w", rawURL, err)
	}
	return &Page{Base: base, HTML: html, Doc: doc}, nil
}

func (f *Fetcher) fetchWithRetry(ctx context.Context, rawURL string) (*Page, error) {
	var page *Page
	err := util.RetryWithBackoff(ctx, fetchRetries, f.backoff, func(attempt int) error {
		var err error
		page, err = f.fetchOnce(ctx, rawURL)
		if err != nil && attempt < fetchRetries {
			slog.Debug("Fetch attempt failed", "url", rawURL, "attempt", attempt+1, "error", err)
		}
		return err
	})
	return page, err
}

func (f *Fetcher) fetchOnce(ctx context.Context, rawURL string) (*Page, error) {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return nil, util.Permanent(fmt.Errorf("failed to parse URL %s: %w", rawURL, err))
	}
	if !util.IsHTTPURL(parsedURL) {
		return nil, util.Permanent(fmt.Errorf("invalid URL %s: only http and https allowed", rawURL))
	}

	if err := f.limiter.Wait(ctx); err != nil {
		return nil, util.Permanent(err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, util.Permanent(fmt.Errorf("failed to create request for URL %s: %w", rawURL, err))
	}
	if f.userAgent != "" {
		req.Header.Set("User-Agent", f.userAgent)
	}
	req.Header.Set("Accept", "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")

	res, err := f.client.Do(req)
	if err != nil {
		if isTLSError(err) {
			return nil, util.Permanent(fmt.Errorf("failed to fetch URL %s: %w", rawURL, err))
		}
		return nil, fmt.Errorf("failed to fetch URL %s: %w", rawURL, err)
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		err := fmt.Errorf("failed to fetch URL %s: status code %d", rawURL, res.StatusCode)
		if res.StatusCode >= 500 || res.StatusCode == http.StatusTooManyRequests {
			return nil, err
		}
		return nil, util.Permanent(err)
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, maxPageBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to read URL %s: %w", rawURL, err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, util.Permanent(fmt.Errorf("failed to parse HTML of %s: %w", rawURL, err))
	}
	return &Page{Base: res.Request.URL, HTML: string(body), Doc: doc}, nil
}

func isTLSError(err error) bool {
	var verifyErr *tls.CertificateVerificationError
	var hostErr x509.HostnameError
	var authErr x509.UnknownAuthorityError
	var invalidErr x509.CertificateInvalidError
	var recordErr tls.RecordHeaderError
	var alertErr tls.AlertError
	return errors.As(err, &verifyErr) || errors.As(err, &hostErr) || errors.As(err, &authErr) ||
		errors.As(err, &invalidErr) || errors.As(err, &recordErr) || errors.As(err, &alertErr)
}
