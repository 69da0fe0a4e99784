package requestpolicy

import (
	"net/http"
	"net/url"
	"strings"
)

// Decision tells whether a request is intercepted, or why it is passed along untouched.
type Decision string

const (
	Intercept Decision = ""
	// The request method is not handled (only safe reads are).
	BypassMethod Decision = "method"
	// The request target is not an HTTP(S) URL.
	BypassScheme Decision = "scheme"
	// The request path contains a segment reserved for externally stored assets.
	BypassSegment Decision = "segment"
	// The request asks to switch protocols, e.g. a websocket.
	BypassUpgrade Decision = "upgrade"
)

type Policy struct {
	Methods        []string `yaml:"methods" env:"METHODS" envSeparator:","`
	Schemes        []string `yaml:"schemes" env:"SCHEMES" envSeparator:","`
	BypassSegments []string `yaml:"bypassSegments" env:"BYPASS_SEGMENTS" envSeparator:","`
	CacheSuffixes  []string `yaml:"cacheSuffixes" env:"CACHE_SUFFIXES" envSeparator:","`
}

// Default returns the policy of the playlist app: GET over http(s),
// audio under /data/ left alone, HTML and the worker script stored.
func Default() Policy {
	return Policy{
		Methods:        []string{http.MethodGet},
		Schemes:        []string{"http", "https"},
		BypassSegments: []string{"/data/"},
		CacheSuffixes:  []string{".html", "sw.js"},
	}
}

// WithDefaults fills empty lists from Default.
func (p Policy) WithDefaults() Policy {
	d := Default()
	if len(p.Methods) == 0 {
		p.Methods = d.Methods
	}
	if len(p.Schemes) == 0 {
		p.Schemes = d.Schemes
	}
	if p.BypassSegments == nil {
		p.BypassSegments = d.BypassSegments
	}
	if len(p.CacheSuffixes) == 0 {
		p.CacheSuffixes = d.CacheSuffixes
	}
	return p
}

// Decide checks the rules in order and returns the first reason to bypass,
// or Intercept if none applies.
func (p Policy) Decide(method string, target *url.URL) Decision {
	if !containsFold(p.Methods, method) {
		return BypassMethod
	}
	if !containsFold(p.Schemes, target.Scheme) {
		return BypassScheme
	}
	for _, segment := range p.BypassSegments {
		if segment != "" && strings.Contains(target.Path, segment) {
			return BypassSegment
		}
	}
	return Intercept
}

// ShouldStore reports whether a network response may be written to the cache.
// Only complete successes are stored, and only for URLs ending in one of the cache suffixes.
func (p Policy) ShouldStore(target *url.URL, statusCode int) bool {
	if statusCode < 200 || statusCode > 299 || statusCode == http.StatusPartialContent {
		return false
	}
	return p.Storable(target)
}

// Storable reports whether the URL ends in one of the cache suffixes.
// The query string is part of the URL, so "/index.html?v=2" is not storable.
func (p Policy) Storable(target *url.URL) bool {
	u := target.String()
	for _, suffix := range p.CacheSuffixes {
		if strings.HasSuffix(u, suffix) {
			return true
		}
	}
	return false
}

// IsUpgrade reports whether the request headers ask for a protocol switch.
func IsUpgrade(h http.Header) bool {
	if h.Get("Upgrade") == "" {
		return false
	}
	for _, v := range h.Values("Connection") {
		for _, token := range strings.Split(v, ",") {
			if strings.EqualFold(strings.TrimSpace(token), "upgrade") {
				return true
			}
		}
	}
	return false
}

func containsFold(list []string, s string) bool {
	for _, item := range list {
		if strings.EqualFold(item, s) {
			return true
		}
	}
	return false
}
