package offlinecache

import (
	"context"
	"crypto/tls"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"sync"

	"github.com/always-cache/offline-cache/cache"
	"github.com/always-cache/offline-cache/clients"
	requestpolicy "github.com/always-cache/offline-cache/pkg/request-policy"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
)

// DefaultCacheName is the version tag of the current cache generation.
// Changing it makes the next activation purge every store of earlier generations.
const DefaultCacheName = "playlistz-cache-v1"

// DefaultControlPrefix is the path under which the worker's own endpoints live.
const DefaultControlPrefix = "/.offline"

type Config struct {
	// Storage for cache stores.
	Storage cache.Storage
	// URL of the origin server, i.e. the network.
	// Origins with paths are not supported.
	OriginURL url.URL
	// Hostname to use for HTTP requests and TLS negotiation.
	// Use if needed if e.g. the origin URL is just an IP address.
	OriginHost string
	// Name of the current cache store. DefaultCacheName if empty.
	CacheName string
	// Which requests to intercept and which responses to store.
	// Empty fields are filled from requestpolicy.Default.
	Policy requestpolicy.Policy
	// Connected pages. A new registry is created if nil.
	Clients *clients.Registry
	// Path prefix of the control endpoints. DefaultControlPrefix if empty.
	ControlPrefix string
	// Transport used for origin requests. http.DefaultTransport if nil.
	Transport http.RoundTripper
	// Logger to use. A console logger is used if nil.
	Logger *zerolog.Logger
}

type Worker struct {
	storage       cache.Storage
	cacheName     string
	policy        requestpolicy.Policy
	clients       *clients.Registry
	originURL     url.URL
	hostHeader    string
	controlPrefix string
	log           zerolog.Logger

	passthrough httputil.ReverseProxy
	interceptor httputil.ReverseProxy
	httpClient  *http.Client
	router      chi.Router

	mutex       sync.Mutex
	state       State
	skipWaiting bool

	detached sync.WaitGroup
}

// CreateWorker sets up a worker for the given configuration.
// The worker passes every request straight to the origin until Start
// (or Install and Activate) has been called.
func CreateWorker(config Config) *Worker {
	// use console logger if not specified in config
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = zerolog.New(zerolog.NewConsoleWriter())
	} else {
		logger = *config.Logger
	}

	w := &Worker{
		storage:       config.Storage,
		cacheName:     config.CacheName,
		policy:        config.Policy.WithDefaults(),
		clients:       config.Clients,
		originURL:     config.OriginURL,
		controlPrefix: strings.TrimSuffix(config.ControlPrefix, "/"),
		state:         StateParsed,
	}
	if w.cacheName == "" {
		w.cacheName = DefaultCacheName
	}
	if w.clients == nil {
		w.clients = clients.NewRegistry()
	}
	if w.controlPrefix == "" {
		w.controlPrefix = DefaultControlPrefix
	}

	// create a child logger and add defaults
	w.log = logger.With().
		Str("cache", w.cacheName).
		Str("origin", config.OriginURL.String()).
		Logger()

	host := config.OriginURL.Host
	hostHeader := host
	transport := config.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	if config.OriginHost != "" {
		hostHeader = config.OriginHost
		if config.Transport == nil {
			transport = &http.Transport{
				Proxy: http.ProxyFromEnvironment,
				TLSClientConfig: &tls.Config{
					ServerName: config.OriginHost,
				},
			}
		}
	}
	director := createDirector(config.OriginURL.Scheme, host, hostHeader)

	w.passthrough = httputil.ReverseProxy{
		Director:     director,
		Transport:    transport,
		ErrorHandler: w.originUnreachable,
	}
	w.interceptor = httputil.ReverseProxy{
		Director:     director,
		Transport:    transport,
		ErrorHandler: w.networkFailed,
	}
	w.hostHeader = hostHeader
	w.httpClient = &http.Client{
		Transport: transport,
		// do not follow redirects
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}

	w.router = w.routes()
	return w
}

// ServeHTTP implements the http.Handler interface.
func (w *Worker) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	w.router.ServeHTTP(rw, r)
}

// Clients returns the registry of connected pages.
func (w *Worker) Clients() *clients.Registry {
	return w.clients
}

// CacheName returns the version tag of the current cache generation.
func (w *Worker) CacheName() string {
	return w.cacheName
}

func (w *Worker) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(hlog.NewHandler(w.log))
	r.Use(chimw.Recoverer)

	r.Route(w.controlPrefix, func(r chi.Router) {
		r.Handle("/events", w.clients)
		r.Post("/message", w.handleMessage)
		r.Get("/status", w.handleStatus)
		r.Get("/keys", w.handleKeys)
	})
	r.Handle("/*", http.HandlerFunc(w.fetch))
	return r
}

// Start installs the worker and, since installation asks to skip waiting,
// activates it right away.
func (w *Worker) Start(ctx context.Context) error {
	w.Install(ctx)
	if w.shouldSkipWaiting() {
		return w.Activate(ctx)
	}
	return nil
}

// detach runs fn in the background. Its outcome is only logged, callers
// never wait for a particular operation. Drain waits for all of them.
func (w *Worker) detach(name string, fn func(ctx context.Context) error) {
	w.detached.Add(1)
	go func() {
		defer w.detached.Done()
		if err := fn(context.Background()); err != nil {
			w.log.Error().Err(err).Str("op", name).Msg("Background operation failed")
			return
		}
		w.log.Trace().Str("op", name).Msg("Background operation done")
	}()
}

// Drain waits until all background operations have finished or ctx is done.
func (w *Worker) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		w.detached.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func createDirector(scheme, host, hostHeader string) func(req *http.Request) {
	return func(req *http.Request) {
		req.URL.Scheme = scheme
		req.URL.Host = host
		if hostHeader != "" {
			req.Host = hostHeader
		}
	}
}
