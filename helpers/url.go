package helpers

import (
	"net/url"
	"strings"
)

// ResolveURL builds a full URL from a possibly relative href.
// Absolute URLs pass through untouched; relative ones are joined to baseURL.
func ResolveURL(baseURL, href string) string {
	if href == "" {
		return ""
	}

	if strings.HasPrefix(href, "http://") || strings.HasPrefix(href, "https://") {
		return href
	}

	if strings.HasPrefix(href, "/") {
		return strings.TrimRight(baseURL, "/") + href
	}

	return strings.TrimRight(baseURL, "/") + "/" + href
}

// SameHost reports whether a full URL belongs to the site rooted at baseURL.
// Relative hrefs count as same-host; absolute ones must match the host
// exactly, so "www.jumia.ma.evil.com" does not pass for "www.jumia.ma".
func SameHost(baseURL, fullURL string) bool {
	if !strings.HasPrefix(fullURL, "http://") && !strings.HasPrefix(fullURL, "https://") {
		return true
	}

	base, err := url.Parse(baseURL)
	if err != nil || base.Host == "" {
		return false
	}
	full, err := url.Parse(fullURL)
	if err != nil {
		return false
	}
	return strings.EqualFold(base.Host, full.Host)
}
