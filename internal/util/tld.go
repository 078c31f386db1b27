package util

import (
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// HasCountryTLD reports whether rawURL's host sits under the given country-code
// top-level domain, including second-level registries such as "gouv.ci".
func HasCountryTLD(rawURL, countryCode string) bool {
	if countryCode == "" {
		return false
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return false
	}
	suffix, _ := publicsuffix.PublicSuffix(host)
	cc := strings.ToLower(strings.TrimPrefix(countryCode, "."))
	return suffix == cc || strings.HasSuffix(suffix, "."+cc)
}
