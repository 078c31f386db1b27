package scraper

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
)

// Renderer returns the HTML of a page after its scripts ran.
type Renderer interface {
	Render(ctx context.Context, rawURL string) (string, error)
}

// ChromeRenderer drives a headless Chrome through the DevTools protocol.
// Each call starts a fresh browser so a crashed tab cannot leak into the
// next source.
type ChromeRenderer struct {
	userAgent string
	timeout   time.Duration
}

func NewChromeRenderer(userAgent string, timeout time.Duration) *ChromeRenderer {
	return &ChromeRenderer{userAgent: userAgent, timeout: timeout}
}

func (r *ChromeRenderer) Render(ctx context.Context, rawURL string) (string, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.DisableGPU,
		chromedp.NoSandbox,
	)
	if r.userAgent != "" {
		opts = append(opts, chromedp.UserAgent(r.userAgent))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	tabCtx, cancelTab := chromedp.NewContext(allocCtx)
	defer cancelTab()
	if r.timeout > 0 {
		var cancel context.CancelFunc
		tabCtx, cancel = context.WithTimeout(tabCtx, r.timeout)
		defer cancel()
	}

	var html string
	err := chromedp.Run(tabCtx,
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return "", fmt.Errorf("failed to render %s: %w", rawURL, err)
	}
	return html, nil
}

// renderedSource adapts a Renderer to PageSource.
type renderedSource struct {
	renderer Renderer
}

func (s renderedSource) Fetch(ctx context.Context, rawURL string) (*Page, error) {
	html, err := s.renderer.Render(ctx, rawURL)
	if err != nil {
		return nil, err
	}
	return FetchHTML(rawURL, html)
}
