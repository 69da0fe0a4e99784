package offlinecache

import (
	"context"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/always-cache/offline-cache/cache"
	cachekey "github.com/always-cache/offline-cache/pkg/cache-key"
	requestpolicy "github.com/always-cache/offline-cache/pkg/request-policy"
	serializer "github.com/always-cache/offline-cache/pkg/response-serializer"
	tee "github.com/always-cache/offline-cache/pkg/response-writer-tee"
)

const (
	bodyOffline    = "Page not available offline"
	bodyCacheError = "Cache error"
)

// fetchEvent carries the state of one intercepted request through the reverse proxy.
type fetchEvent struct {
	store      cache.Store
	key        string
	networkErr error
	outcome    Outcome
}

type fetchEventKey struct{}

// fetch is the fetch interceptor. Requests it declines are passed to the
// origin untouched, all others are served network first with the cache as fallback.
func (w *Worker) fetch(rw http.ResponseWriter, r *http.Request) {
	target := w.targetURL(r)

	if !w.active() {
		w.passthrough.ServeHTTP(rw, r)
		return
	}
	reason := w.policy.Decide(r.Method, target)
	if reason == requestpolicy.Intercept && requestpolicy.IsUpgrade(r.Header) {
		reason = requestpolicy.BypassUpgrade
	}
	if reason != requestpolicy.Intercept {
		w.log.Trace().Str("url", target.String()).Str("reason", string(reason)).Msg("Not intercepting")
		w.passthrough.ServeHTTP(rw, r)
		w.logRequest(r, Bypass(reason))
		return
	}

	store, err := w.storage.Open(r.Context(), w.cacheName)
	if err != nil {
		w.log.Error().Err(err).Msg("Could not open cache store")
		sendUnavailable(rw, bodyCacheError)
		w.logRequest(r, OutcomeCacheError)
		return
	}

	event := &fetchEvent{
		store:   store,
		key:     cachekey.Key(r),
		outcome: OutcomeNetwork,
	}
	rwtee := tee.NewResponseSaver(rw)
	w.interceptor.ServeHTTP(rwtee, r.WithContext(context.WithValue(r.Context(), fetchEventKey{}, event)))

	if event.networkErr == nil {
		if w.policy.ShouldStore(target, rwtee.StatusCode()) {
			w.log.Trace().Str("key", event.key).Msg("Storing network response")
			bytes := rwtee.Response()
			w.detach("store "+event.key, func(ctx context.Context) error {
				return store.Put(ctx, event.key, bytes)
			})
			event.outcome = OutcomeStored
		} else if rwtee.StatusCode() < 200 || rwtee.StatusCode() > 299 {
			w.log.Trace().Int("status", rwtee.StatusCode()).Str("url", target.String()).Msg("Network response not ok")
		}
	}
	w.logRequest(r, event.outcome)
}

// networkFailed is called by the intercepting proxy when the origin could
// not be reached. The response is served from the cache instead.
func (w *Worker) networkFailed(rw http.ResponseWriter, r *http.Request, err error) {
	event, ok := r.Context().Value(fetchEventKey{}).(*fetchEvent)
	if !ok {
		w.originUnreachable(rw, r, err)
		return
	}
	event.networkErr = err
	w.log.Debug().Err(err).Str("key", event.key).Msg("Network failed, trying cache")

	stored, found, err := event.store.Match(r.Context(), event.key)
	if err != nil {
		w.log.Error().Err(err).Str("key", event.key).Msg("Could not read from cache")
		event.outcome = OutcomeCacheError
		sendUnavailable(rw, bodyCacheError)
		return
	}
	if !found {
		event.outcome = OutcomeOfflineMiss
		sendUnavailable(rw, bodyOffline)
		return
	}
	res, err := serializer.BytesToResponse(stored, r)
	if err != nil {
		w.log.Error().Err(err).Str("key", event.key).Msg("Could not read stored response")
		event.outcome = OutcomeCacheError
		sendUnavailable(rw, bodyCacheError)
		return
	}
	event.outcome = OutcomeHit
	if err := send(rw, res); err != nil {
		w.log.Error().Err(err).Msg("Could not write response body to client")
	}
}

// originUnreachable is the error handler of requests that are not intercepted.
func (w *Worker) originUnreachable(rw http.ResponseWriter, r *http.Request, err error) {
	w.log.Error().Err(err).Str("url", r.URL.String()).Msg("Error connecting to origin")
	http.Error(rw, "Could not connect to origin", http.StatusBadGateway)
}

// targetURL returns the full URL the request is for.
// Requests in origin form are resolved against the origin.
func (w *Worker) targetURL(r *http.Request) *url.URL {
	if r.URL.IsAbs() {
		u := *r.URL
		return &u
	}
	return &url.URL{
		Scheme:   w.originURL.Scheme,
		Host:     w.originURL.Host,
		Path:     r.URL.Path,
		RawPath:  r.URL.RawPath,
		RawQuery: r.URL.RawQuery,
	}
}

func sendUnavailable(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusServiceUnavailable)
	io.WriteString(w, body)
}

func send(w http.ResponseWriter, res *http.Response) error {
	if res.Body != nil {
		defer res.Body.Close()
	}
	copyHeader(w.Header(), res.Header)
	w.WriteHeader(res.StatusCode)
	if res.Body == nil {
		return nil
	}
	_, err := io.Copy(w, res.Body)
	return err
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}

func (w *Worker) logRequest(r *http.Request, outcome Outcome) {
	w.log.Debug().
		Str("method", r.Method).
		Str("url", r.URL.String()).
		Str("sourceIp", getRequestSourceIp(r)).
		Str("outcome", outcome.String()).
		Bool("offline", outcome.Offline()).
		Msg("Sending response to client")
}

func getRequestSourceIp(r *http.Request) string {
	// RemoteAddr is in the format:
	// 1.2.3.4:10000 for ipv4
	// [1:2:3]:10000 for ipv6
	ipAndPort := r.RemoteAddr
	portSepIdx := strings.LastIndex(ipAndPort, ":")
	// if not found, return
	if portSepIdx < 0 {
		return ipAndPort
	}
	return ipAndPort[:portSepIdx]
}
