package connection

import (
	"context"
	"sync"

	"github.com/mrjvadi/go-signal-server/signal"
)

// Connection is one live client socket.
type Connection interface {
	// ClientID is the logical client the connection belongs to. A client may
	// hold several connections at once.
	ClientID() string
	// UniqueID identifies this physical connection.
	UniqueID() string
	Send(ctx context.Context, sig *signal.Signal) error
}

// Registry resolves logical client ids to live connections.
type Registry interface {
	ConnectionsByClientID(clientID string) []Connection
}

// Hub is an in-memory Registry.
type Hub struct {
	mu       sync.RWMutex
	byClient map[string]map[string]Connection
}

func NewHub() *Hub {
	return &Hub{byClient: make(map[string]map[string]Connection)}
}

func (h *Hub) Add(c Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns, ok := h.byClient[c.ClientID()]
	if !ok {
		conns = make(map[string]Connection)
		h.byClient[c.ClientID()] = conns
	}
	conns[c.UniqueID()] = c
}

func (h *Hub) Remove(c Connection) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conns, ok := h.byClient[c.ClientID()]
	if !ok {
		return
	}
	delete(conns, c.UniqueID())
	if len(conns) == 0 {
		delete(h.byClient, c.ClientID())
	}
}

func (h *Hub) ConnectionsByClientID(clientID string) []Connection {
	h.mu.RLock()
	defer h.mu.RUnlock()

	conns := h.byClient[clientID]
	out := make([]Connection, 0, len(conns))
	for _, c := range conns {
		out = append(out, c)
	}
	return out
}

// Count returns the number of live connections across all clients.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := 0
	for _, conns := range h.byClient {
		n += len(conns)
	}
	return n
}

func (h *Hub) All() []Connection {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []Connection
	for _, conns := range h.byClient {
		for _, c := range conns {
			out = append(out, c)
		}
	}
	return out
}
