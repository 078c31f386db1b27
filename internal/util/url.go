package util

import (
	"fmt"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

var trackingParams = []string{"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content", "fbclid", "gclid"}

// NormalizeURL drops fragments and tracking parameters and trims a trailing slash,
// so the same announcement linked twice on a page yields one identity.
func NormalizeURL(rawURL string) (string, error) {
	parsedURL, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return rawURL, err
	}
	if !IsHTTPURL(parsedURL) {
		return rawURL, fmt.Errorf("unsupported URL %q", rawURL)
	}

	parsedURL.Fragment = ""
	parsedURL.RawFragment = ""
	parsedURL.Host = strings.ToLower(parsedURL.Host)
	if len(parsedURL.Path) > 1 && strings.HasSuffix(parsedURL.Path, "/") {
		parsedURL.Path = strings.TrimSuffix(parsedURL.Path, "/")
		parsedURL.RawPath = ""
	}
	if parsedURL.RawQuery != "" {
		queryParams := parsedURL.Query()
		for _, param := range trackingParams {
			queryParams.Del(param)
		}
		parsedURL.RawQuery = queryParams.Encode()
	}
	return parsedURL.String(), nil
}

// IsHTTPURL reports whether u is an absolute http(s) URL with a host.
func IsHTTPURL(u *url.URL) bool {
	return u != nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// RegistrableDomain returns the eTLD+1 of host ("marchespublics.gouv.ci" for
// "www.marchespublics.gouv.ci"). It falls back to the bare host for IPs and
// single-label hosts.
func RegistrableDomain(host string) string {
	host = strings.TrimPrefix(strings.ToLower(host), "www.")
	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return host
	}
	return domain
}

// SameSite reports whether both URLs belong to the same registrable domain.
func SameSite(a, b *url.URL) bool {
	if a == nil || b == nil {
		return false
	}
	return RegistrableDomain(a.Hostname()) == RegistrableDomain(b.Hostname())
}

// HostVariant toggles the leading "www." of the URL's host. Some institutional
// sites only serve a valid certificate on one of the two names.
func HostVariant(rawURL string) (string, bool) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return "", false
	}
	if strings.HasPrefix(u.Host, "www.") {
		u.Host = strings.TrimPrefix(u.Host, "www.")
	} else {
		u.Host = "www." + u.Host
	}
	return u.String(), true
}
