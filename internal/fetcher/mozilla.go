// Package fetcher downloads the upstream Mozilla CA feed and its fingerprint.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	rootcaerrors "github.com/princespaghetti/rootca/internal/errors"
)

const (
	// DefaultFeedURL is the default URL for the Mozilla CA feed.
	DefaultFeedURL = "https://curl.se/ca/cacert.pem"

	// DefaultFingerprintURL is the sibling URL publishing the feed's SHA-256.
	DefaultFingerprintURL = "https://curl.se/ca/cacert.pem.sha256"

	// DefaultUserAgent identifies rootca to the upstream server.
	DefaultUserAgent = "rootca/dev (root certificate bundle mirror)"
)

// Fetcher handles downloading the Mozilla CA feed.
type Fetcher struct {
	client    HTTPClient
	userAgent string
}

// NewFetcher creates a new Fetcher with the given HTTP client.
// If client is nil, uses http.DefaultClient. An empty userAgent selects DefaultUserAgent.
func NewFetcher(client HTTPClient, userAgent string) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	if userAgent == "" {
		userAgent = DefaultUserAgent
	}
	return &Fetcher{
		client:    client,
		userAgent: userAgent,
	}
}

// FetchFeed downloads the full upstream feed from url.
func (f *Fetcher) FetchFeed(ctx context.Context, url string) ([]byte, error) {
	data, err := f.get(ctx, url)
	if err != nil {
		return nil, &rootcaerrors.RootcaError{Op: "download feed", Path: url, Err: err}
	}
	return data, nil
}

// FetchFingerprint downloads the single-line checksum file published next to
// the feed and returns its digest token.
func (f *Fetcher) FetchFingerprint(ctx context.Context, url string) (string, error) {
	data, err := f.get(ctx, url)
	if err != nil {
		return "", &rootcaerrors.RootcaError{Op: "download fingerprint", Path: url, Err: err}
	}

	fingerprint, err := ParseFingerprintLine(string(data))
	if err != nil {
		return "", &rootcaerrors.RootcaError{
			Op:   "parse fingerprint",
			Path: url,
			Err:  fmt.Errorf("%w: %v", rootcaerrors.ErrFetch, err),
		}
	}
	return fingerprint, nil
}

// get performs a GET request and returns the non-empty body.
// Every failure wraps ErrFetch.
func (f *Fetcher) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, "GET", url, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: create request: %v", rootcaerrors.ErrFetch, err)
	}

	req.Header.Set("User-Agent", f.userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", rootcaerrors.ErrFetch, err)
	}
	defer func() { _ = resp.Body.Close() }() // Ignore close error - standard practice

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: download failed with status %d: %s", rootcaerrors.ErrFetch, resp.StatusCode, resp.Status)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %w", rootcaerrors.ErrFetch, err)
	}

	if len(data) == 0 {
		return nil, fmt.Errorf("%w: response body is empty", rootcaerrors.ErrFetch)
	}

	return data, nil
}

// ParseFingerprintLine extracts the digest from a "<hex-digest> <filename>" line.
// The digest is returned lower-cased.
func ParseFingerprintLine(line string) (string, error) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", fmt.Errorf("empty fingerprint line")
	}

	digest := strings.ToLower(fields[0])
	if !isHex(digest) {
		return "", fmt.Errorf("fingerprint %q is not a hex digest", fields[0])
	}
	return digest, nil
}

func isHex(s string) bool {
	if len(s) == 0 || len(s)%2 != 0 {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}
