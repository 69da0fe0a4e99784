package cachekey

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var ErrMethodNotSupported = errors.New("method not supported")

const methodSeparator = ":"

// Key returns the cache key for a request: the method and the request URI.
// Headers are not part of the key, so there is exactly one stored response per URI.
func Key(r *http.Request) string {
	return KeyFor(r.Method, r.URL.RequestURI())
}

// KeyFor builds a key from a method and request URI (path and query).
func KeyFor(method, requestURI string) string {
	return method + methodSeparator + requestURI
}

// RequestFromKey generates a request equal, caching-wise, to the request
// that resulted in the provided key.
// Only GET keys are ever stored, all other methods yield ErrMethodNotSupported.
func RequestFromKey(key string) (*http.Request, error) {
	method, uri, found := strings.Cut(key, methodSeparator)
	if !found || uri == "" {
		return nil, fmt.Errorf("malformed key: %q", key)
	}
	if method != http.MethodGet {
		return nil, ErrMethodNotSupported
	}
	return http.NewRequest(method, uri, nil)
}
