package helpers

import (
	"errors"
	"net/url"
	"strings"
)

// ResolveRelative resolves href against base, returning an absolute URL.
// Legislative sites frequently emit site-relative document links, so a
// bare "/2024/Amends/HB0045.pdf" resolves against the page origin.
func ResolveRelative(base, href string) (string, error) {
	href = strings.TrimSpace(href)
	if href == "" {
		return "", errors.New("empty href")
	}

	ref, err := url.Parse(href)
	if err != nil {
		return "", err
	}
	if ref.IsAbs() {
		return ref.String(), nil
	}

	parsed, err := url.Parse(base)
	if err != nil {
		return "", err
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", errors.New("base url missing scheme or host")
	}
	return parsed.ResolveReference(ref).String(), nil
}

// IsProbablyBinary reports whether a Content-Type header denotes a binary
// document rather than renderable HTML or text.
func IsProbablyBinary(contentType string) bool {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if idx := strings.IndexByte(ct, ';'); idx != -1 {
		ct = strings.TrimSpace(ct[:idx])
	}
	switch {
	case ct == "application/pdf":
		return true
	case strings.HasPrefix(ct, "application/octet-stream"):
		return true
	case strings.HasPrefix(ct, "application/msword"):
		return true
	case strings.HasPrefix(ct, "application/vnd."):
		return true
	}
	return false
}

// IsHTMLContentType reports whether the Content-Type header denotes HTML.
func IsHTMLContentType(contentType string) bool {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	return strings.HasPrefix(ct, "text/html") || strings.HasPrefix(ct, "application/xhtml")
}
