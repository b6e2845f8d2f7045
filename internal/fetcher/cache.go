package fetcher

import (
	"net/http"

	"github.com/gregjones/httpcache"
	"github.com/gregjones/httpcache/diskcache"
)

// NewCachingHTTPClient creates an HTTP client that honours the upstream
// ETag/Last-Modified headers so an unchanged feed is revalidated instead of
// downloaded again. The cache lives in cacheDir; an empty cacheDir returns
// a plain client, since a single run fetches each URL once.
func NewCachingHTTPClient(cacheDir string) *http.Client {
	if cacheDir == "" {
		return &http.Client{}
	}

	return &http.Client{
		Transport: httpcache.NewTransport(diskcache.New(cacheDir)),
	}
}

// NewFetchers returns the Fetcher for the fingerprint endpoint and the one
// for the feed. Only the feed goes through the cache: the fingerprint decides
// whether a rebuild happens and is always read from upstream.
func NewFetchers(cacheDir, userAgent string) (fingerprints, feeds *Fetcher) {
	return NewFetcher(&http.Client{}, userAgent), NewFetcher(NewCachingHTTPClient(cacheDir), userAgent)
}
