package offlinecache

import (
	"context"
	"fmt"

	"github.com/always-cache/offline-cache/clients"

	"golang.org/x/sync/errgroup"
)

// State is the lifecycle state of a worker.
type State string

const (
	StateParsed     State = "parsed"
	StateInstalled  State = "installed"
	StateActivating State = "activating"
	StateActivated  State = "activated"
)

// MessageReady is posted to every controlled page once the worker is in control.
const MessageReady = "SW_READY"

func (w *Worker) State() State {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return w.state
}

func (w *Worker) setState(state State) {
	w.mutex.Lock()
	w.state = state
	w.mutex.Unlock()
}

func (w *Worker) shouldSkipWaiting() bool {
	w.mutex.Lock()
	defer w.mutex.Unlock()
	return w.skipWaiting
}

func (w *Worker) active() bool {
	return w.State() == StateActivated
}

// Install handles the installation of a new worker version.
// It does not wait for pages of an older version to go away
// but asks to be activated immediately.
func (w *Worker) Install(ctx context.Context) {
	w.log.Info().Msg("Installing")
	w.mutex.Lock()
	if w.state == StateParsed {
		w.state = StateInstalled
	}
	w.skipWaiting = true
	w.mutex.Unlock()
}

// Activate makes the worker responsible for intercepting requests.
// It deletes every store of other cache generations, claims all connected
// pages and tells each of them that the worker is ready.
// Errors are returned as is; activating again retries the whole sequence.
func (w *Worker) Activate(ctx context.Context) error {
	w.log.Info().Msg("Activating")
	previous := w.State()
	w.setState(StateActivating)

	if err := w.deleteOldStores(ctx); err != nil {
		w.setState(previous)
		return err
	}

	w.setState(StateActivated)
	w.claimAndNotify()
	w.log.Info().Msg("Activated and controlling pages")
	return nil
}

// deleteOldStores deletes all stores not matching the current version tag, concurrently.
func (w *Worker) deleteOldStores(ctx context.Context) error {
	names, err := w.storage.Keys(ctx)
	if err != nil {
		return fmt.Errorf("list cache stores: %w", err)
	}
	w.log.Debug().Strs("stores", names).Msg("Found existing cache stores")

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range names {
		if name == w.cacheName {
			continue
		}
		g.Go(func() error {
			w.log.Info().Str("store", name).Msg("Deleting old cache store")
			if _, err := w.storage.Delete(gctx, name); err != nil {
				return fmt.Errorf("delete cache store %s: %w", name, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// claimAndNotify takes control of all connected pages and posts one ready
// message to every page it controls.
func (w *Worker) claimAndNotify() {
	claimed := w.clients.Claim(w.cacheName)
	controlled := w.clients.MatchAll(w.cacheName)
	w.log.Debug().Int("claimed", claimed).Int("controlled", len(controlled)).Msg("Claimed pages")
	for _, c := range controlled {
		if err := c.PostMessage(clients.Message{Type: MessageReady}); err != nil {
			w.log.Warn().Err(err).Str("client", c.ID.String()).Msg("Could not notify page")
		}
	}
}
