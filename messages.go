package offlinecache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	cachekey "github.com/always-cache/offline-cache/pkg/cache-key"
	serializer "github.com/always-cache/offline-cache/pkg/response-serializer"
)

const (
	// MessageCacheURL asks the worker to fetch and store a URL.
	MessageCacheURL = "CACHE_URL"
	// MessageClaimClients asks the worker to take control of all pages now.
	MessageClaimClients = "CLAIM_CLIENTS"
)

const maxMessageBytes = 64 << 10

// Message is a control message sent by a page.
type Message struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type cacheURLData struct {
	URL string `json:"url"`
}

// HandleMessage handles a control message from a page.
// Unknown message types are ignored. Caching a URL happens in the
// background and its failures are only logged.
func (w *Worker) HandleMessage(ctx context.Context, msg Message) {
	w.log.Debug().Str("type", msg.Type).RawJSON("data", rawOrNull(msg.Data)).Msg("Received message")

	switch msg.Type {
	case MessageCacheURL:
		var data cacheURLData
		if err := json.Unmarshal(msg.Data, &data); err != nil || data.URL == "" {
			w.log.Error().Err(err).Msg("Invalid CACHE_URL message")
			return
		}
		w.detach("cache "+data.URL, func(ctx context.Context) error {
			return w.cacheURL(ctx, data.URL)
		})
	case MessageClaimClients:
		w.log.Info().Msg("Claiming control of all pages")
		w.claimAndNotify()
	default:
		w.log.Trace().Str("type", msg.Type).Msg("Ignoring unknown message")
	}
}

// cacheURL fetches the given URL from the origin and stores the response.
// Relative URLs are resolved against the origin; URLs of other hosts are refused,
// since the store only keeps responses of the origin.
// Responses other than 2xx are an error and are not stored.
func (w *Worker) cacheURL(ctx context.Context, rawURL string) error {
	ref, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parse url: %w", err)
	}
	target := w.originURL.ResolveReference(ref)
	if target.Host != w.originURL.Host {
		return fmt.Errorf("url %s is not on origin %s", rawURL, w.originURL.Host)
	}

	store, err := w.storage.Open(ctx, w.cacheName)
	if err != nil {
		return fmt.Errorf("open cache store: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
	if err != nil {
		return err
	}
	req.Host = w.hostHeader
	w.log.Debug().Str("url", target.String()).Msg("Requesting content from origin")
	res, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", target, err)
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return fmt.Errorf("fetch %s: status %d", target, res.StatusCode)
	}

	bytes, err := serializer.ResponseToBytes(res)
	if err != nil {
		return err
	}
	key := cachekey.KeyFor(http.MethodGet, target.RequestURI())
	if err := store.Put(ctx, key, bytes); err != nil {
		return fmt.Errorf("store %s: %w", key, err)
	}
	w.log.Debug().Str("key", key).Msg("Stored requested URL")
	return nil
}

func (w *Worker) handleMessage(rw http.ResponseWriter, r *http.Request) {
	var msg Message
	dec := json.NewDecoder(http.MaxBytesReader(rw, r.Body, maxMessageBytes))
	if err := dec.Decode(&msg); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			http.Error(rw, "Message too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(rw, "Invalid message", http.StatusBadRequest)
		return
	}
	w.HandleMessage(r.Context(), msg)
	rw.WriteHeader(http.StatusAccepted)
}

type status struct {
	CacheName         string   `json:"cacheName"`
	State             State    `json:"state"`
	Stores            []string `json:"stores"`
	Clients           int      `json:"clients"`
	ControlledClients int      `json:"controlledClients"`
}

func (w *Worker) handleStatus(rw http.ResponseWriter, r *http.Request) {
	stores, err := w.storage.Keys(r.Context())
	if err != nil {
		w.log.Error().Err(err).Msg("Could not list cache stores")
		http.Error(rw, "Cache error", http.StatusInternalServerError)
		return
	}
	writeJSON(rw, status{
		CacheName:         w.cacheName,
		State:             w.State(),
		Stores:            stores,
		Clients:           w.clients.Len(),
		ControlledClients: len(w.clients.MatchAll(w.cacheName)),
	})
}

func (w *Worker) handleKeys(rw http.ResponseWriter, r *http.Request) {
	uris, err := w.storedURIs(r.Context())
	if err != nil {
		w.log.Error().Err(err).Msg("Could not list cache keys")
		http.Error(rw, "Cache error", http.StatusInternalServerError)
		return
	}
	writeJSON(rw, uris)
}

// storedURIs lists the request URIs stored in the current store without creating it.
func (w *Worker) storedURIs(ctx context.Context) ([]string, error) {
	uris := make([]string, 0)
	if has, err := w.storage.Has(ctx, w.cacheName); err != nil || !has {
		return uris, err
	}
	store, err := w.storage.Open(ctx, w.cacheName)
	if err != nil {
		return nil, err
	}
	keys, err := store.Keys(ctx)
	if err != nil {
		return nil, err
	}
	for _, key := range keys {
		req, err := cachekey.RequestFromKey(key)
		if err != nil {
			w.log.Warn().Err(err).Str("key", key).Msg("Skipping unexpected cache key")
			continue
		}
		uris = append(uris, req.URL.RequestURI())
	}
	return uris, nil
}

func writeJSON(rw http.ResponseWriter, v any) {
	rw.Header().Set("Content-Type", "application/json")
	rw.Header().Set("Cache-Control", "no-store")
	json.NewEncoder(rw).Encode(v)
}

func rawOrNull(raw json.RawMessage) []byte {
	if len(raw) == 0 {
		return []byte("null")
	}
	return raw
}
