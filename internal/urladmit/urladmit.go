// Package urladmit implements URL Admission: a host allowlist gate plus
// the credential-query-parameter stripping that keeps tokens out of
// anything persisted to the catalog or logs.
package urladmit

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ErrHostNotAllowed is returned when a URL's host is not on the
// allowlist. Fatal and non-retriable.
var ErrHostNotAllowed = errors.New("urladmit: host not allowed")

// credentialParams are query parameters known to carry a secret. They are
// stripped before a URL is persisted or logged, never before the request
// is actually made.
var credentialParams = map[string]bool{
	"token":        true,
	"api_key":      true,
	"access_token": true,
	"key":          true,
}

// Admitter gates outbound URLs against a fixed host allowlist, matched by
// suffix so a subdomain of an allowed host (e.g. cdn-lfs.huggingface.co)
// is admitted too.
type Admitter struct {
	allowedSuffixes []string
}

// New builds an Admitter from a host list. An empty host in the list is
// ignored.
func New(allowedHosts []string) *Admitter {
	suffixes := make([]string, 0, len(allowedHosts))
	for _, h := range allowedHosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h != "" {
			suffixes = append(suffixes, h)
		}
	}
	return &Admitter{allowedSuffixes: suffixes}
}

// Admit parses rawURL and verifies its host matches the allowlist.
// Returns the parsed URL on success.
func (a *Admitter) Admit(rawURL string) (*url.URL, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("urladmit: malformed URL %q: %w", rawURL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("%w: scheme %q", ErrHostNotAllowed, u.Scheme)
	}

	host := strings.ToLower(u.Hostname())
	for _, suffix := range a.allowedSuffixes {
		if host == suffix || strings.HasSuffix(host, "."+suffix) {
			return u, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", ErrHostNotAllowed, host)
}

// StripCredentials returns rawURL with any known credential query
// parameter removed, before a URL is written to the catalog or a log
// line. Other query parameters are kept.
func StripCredentials(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return rawURL
	}

	q := u.Query()
	changed := false
	for param := range q {
		if credentialParams[strings.ToLower(param)] {
			q.Del(param)
			changed = true
		}
	}
	if !changed {
		return rawURL
	}
	u.RawQuery = q.Encode()
	return u.String()
}
