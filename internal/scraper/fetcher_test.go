package scraper

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"golang.org/x/time/rate"

	"github.com/pauljones0/tender-watch/internal/config"
)

func newTestFetcher(client *http.Client) *Fetcher {
	return &Fetcher{
		client:      client,
		userAgent:   "tender-watch-test",
		limiter:     rate.NewLimiter(rate.Inf, 1),
		backoff:     time.Millisecond,
		hostVariant: func(string) (string, bool) { return "", false },
	}
}

const simplePage = `<html><head><title>Avis</title></head><body><h1>Avis d'appel d'offres</h1></body></html>`

func TestFetcher_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write([]byte(simplePage))
	}))
	defer srv.Close()

	page, err := newTestFetcher(srv.Client()).Fetch(context.Background(), srv.URL+"/avis")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if got := page.Doc.Find("h1").Text(); got != "Avis d'appel d'offres" {
		t.Errorf("h1 = %q", got)
	}
	if calls.Load() != 2 {
		t.Errorf("server calls = %d, want 2", calls.Load())
	}
	if page.Base.Path != "/avis" {
		t.Errorf("Base.Path = %q, want /avis", page.Base.Path)
	}
}

func TestFetcher_ClientErrorsAreNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	_, err := newTestFetcher(srv.Client()).Fetch(context.Background(), srv.URL)
	if err == nil || !strings.Contains(err.Error(), "status code 404") {
		t.Fatalf("Fetch() error = %v, want status code 404", err)
	}
	if calls.Load() != 1 {
		t.Errorf("server calls = %d, want 1", calls.Load())
	}
}

func TestFetcher_SendsUserAgent(t *testing.T) {
	var ua string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ua = r.UserAgent()
		w.Write([]byte(simplePage))
	}))
	defer srv.Close()

	if _, err := newTestFetcher(srv.Client()).Fetch(context.Background(), srv.URL); err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if ua != "tender-watch-test" {
		t.Errorf("User-Agent = %q", ua)
	}
}

func TestFetcher_RejectsNonHTTP(t *testing.T) {
	_, err := newTestFetcher(http.DefaultClient).Fetch(context.Background(), "ftp://example.org/file")
	if err == nil {
		t.Fatal("expected error for ftp URL")
	}
}

func TestFetcher_HostVariantOnTLSError(t *testing.T) {
	// The TLS server's certificate is not trusted by a plain client.
	broken := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(simplePage))
	}))
	defer broken.Close()
	working := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<html><body><h1>Variant</h1></body></html>`))
	}))
	defer working.Close()

	f := newTestFetcher(&http.Client{Timeout: 5 * time.Second})
	var asked string
	f.hostVariant = func(rawURL string) (string, bool) {
		asked = rawURL
		return working.URL + "/marches", true
	}

	page, err := f.Fetch(context.Background(), broken.URL+"/marches")
	if err != nil {
		t.Fatalf("Fetch() error = %v", err)
	}
	if asked != broken.URL+"/marches" {
		t.Errorf("host variant asked for %q", asked)
	}
	if got := page.Doc.Find("h1").Text(); got != "Variant" {
		t.Errorf("h1 = %q, want Variant", got)
	}
}

func TestFetcher_TLSErrorWithoutVariant(t *testing.T) {
	broken := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer broken.Close()

	_, err := newTestFetcher(&http.Client{Timeout: 5 * time.Second}).Fetch(context.Background(), broken.URL)
	if err == nil || !isTLSError(err) {
		t.Fatalf("Fetch() error = %v, want a TLS error", err)
	}
}

func TestFetcher_ContextCancelled(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := newTestFetcher(srv.Client()).Fetch(ctx, srv.URL)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Fetch() error = %v, want context.Canceled", err)
	}
}

func TestNewFetcher_Defaults(t *testing.T) {
	f := NewFetcher(config.ScrapeConfig{Timeout: time.Second, UserAgent: "ua"})
	if f.limiter.Limit() != rate.Inf {
		t.Errorf("limit = %v, want Inf when no rate is set", f.limiter.Limit())
	}
	f = NewFetcher(config.ScrapeConfig{RatePerSecond: 2})
	if f.limiter.Limit() != 2 {
		t.Errorf("limit = %v, want 2", f.limiter.Limit())
	}
}

func TestFetchHTML(t *testing.T) {
	page, err := FetchHTML("https://example.org/a", simplePage)
	if err != nil {
		t.Fatalf("FetchHTML() error = %v", err)
	}
	if page.Base.Host != "example.org" || page.Doc.Find("title").Text() != "Avis" {
		t.Errorf("unexpected page %+v", page.Base)
	}
}
