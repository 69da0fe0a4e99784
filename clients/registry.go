// Package clients keeps track of the pages connected to the cache worker.
//
// A page connects to the event stream served by Registry and stays a client
// for as long as the connection is open. Clients start out uncontrolled and
// become controlled by a worker version when that version claims them.
// Messages posted to a client are delivered over its event stream.
package clients

import (
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

const outboxSize = 16

var (
	ErrOutboxFull = errors.New("client outbox full")
	ErrClosed     = errors.New("client disconnected")
)

// Message is the envelope of every message exchanged with pages.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

type Client struct {
	ID          uuid.UUID
	ConnectedAt time.Time

	mutex      sync.Mutex
	controller string
	outbox     chan Message
	closed     bool
}

// Controller returns the version tag of the worker controlling the client,
// or an empty string if the client is not controlled.
func (c *Client) Controller() string {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.controller
}

// PostMessage queues a message for delivery without blocking.
func (c *Client) PostMessage(msg Message) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.outbox <- msg:
		return nil
	default:
		return ErrOutboxFull
	}
}

// Messages returns the channel messages posted to the client are delivered on.
func (c *Client) Messages() <-chan Message {
	return c.outbox
}

func (c *Client) close() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	if !c.closed {
		c.closed = true
		close(c.outbox)
	}
}

type Registry struct {
	mutex   sync.RWMutex
	clients map[uuid.UUID]*Client
}

func NewRegistry() *Registry {
	return &Registry{clients: make(map[uuid.UUID]*Client)}
}

// Connect registers a new, uncontrolled client.
func (r *Registry) Connect() *Client {
	c := &Client{
		ID:          uuid.New(),
		ConnectedAt: time.Now(),
		outbox:      make(chan Message, outboxSize),
	}
	r.mutex.Lock()
	r.clients[c.ID] = c
	r.mutex.Unlock()
	return c
}

// Disconnect removes the client and closes its message channel.
func (r *Registry) Disconnect(id uuid.UUID) {
	r.mutex.Lock()
	c, ok := r.clients[id]
	delete(r.clients, id)
	r.mutex.Unlock()
	if ok {
		c.close()
	}
}

// DisconnectAll removes every client, ending their event streams.
func (r *Registry) DisconnectAll() {
	r.mutex.Lock()
	all := r.clients
	r.clients = make(map[uuid.UUID]*Client)
	r.mutex.Unlock()
	for _, c := range all {
		c.close()
	}
}

// Get returns the connected client with the given ID.
func (r *Registry) Get(id uuid.UUID) (*Client, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	c, ok := r.clients[id]
	return c, ok
}

// Claim makes controller the controller of every connected client that is
// uncontrolled or controlled by another version.
// It returns the number of clients that changed hands.
func (r *Registry) Claim(controller string) int {
	claimed := 0
	for _, c := range r.all() {
		c.mutex.Lock()
		if c.controller != controller {
			c.controller = controller
			claimed++
		}
		c.mutex.Unlock()
	}
	return claimed
}

// MatchAll returns the connected clients controlled by controller, oldest first.
func (r *Registry) MatchAll(controller string) []*Client {
	matched := make([]*Client, 0)
	for _, c := range r.all() {
		if c.Controller() == controller {
			matched = append(matched, c)
		}
	}
	return matched
}

// Len returns the number of connected clients.
func (r *Registry) Len() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.clients)
}

func (r *Registry) all() []*Client {
	r.mutex.RLock()
	all := make([]*Client, 0, len(r.clients))
	for _, c := range r.clients {
		all = append(all, c)
	}
	r.mutex.RUnlock()
	sort.Slice(all, func(i, j int) bool {
		return all[i].ConnectedAt.Before(all[j].ConnectedAt)
	})
	return all
}
