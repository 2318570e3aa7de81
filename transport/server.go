// Package transport serves clients over websockets.
//
// A client connects with ?id=<client id>. Each socket gets a fresh unique id,
// is registered in the connection hub and announced to every extension.
// Inbound text frames are JSON signals; their sender fields are overwritten
// with the socket's identity before they reach the router.
package transport

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/mrjvadi/go-signal-server/connection"
	"github.com/mrjvadi/go-signal-server/extension"
	"github.com/mrjvadi/go-signal-server/signal"
)

// Router is what the server hands inbound signals to.
type Router interface {
	Route(ctx context.Context, sig *signal.Signal) error
}

// Extensions lists the extensions to notify about connections.
type Extensions interface {
	All() []extension.Extension
}

type Server struct {
	router     Router
	hub        *connection.Hub
	extensions Extensions
	logger     *zap.Logger
	upgrader   websocket.Upgrader
	sendBuffer int
}

type Option func(*Server)

func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithCheckOrigin replaces the default same-origin check of the upgrader.
func WithCheckOrigin(fn func(r *http.Request) bool) Option {
	return func(s *Server) { s.upgrader.CheckOrigin = fn }
}

// WithSendBuffer sets how many outbound signals may queue per connection.
func WithSendBuffer(n int) Option {
	return func(s *Server) {
		if n > 0 {
			s.sendBuffer = n
		}
	}
}

func NewServer(router Router, hub *connection.Hub, extensions Extensions, opts ...Option) *Server {
	s := &Server{
		router:     router,
		hub:        hub,
		extensions: extensions,
		logger:     zap.NewNop(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		sendBuffer: 256,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	clientID := r.URL.Query().Get("id")
	if clientID == "" {
		http.Error(w, "missing id query parameter", http.StatusBadRequest)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client
		s.logger.Warn("websocket upgrade failed", zap.String("client", clientID), zap.Error(err))
		return
	}

	c := newConn(ws, clientID, uuid.NewString(), s.sendBuffer, s.logger)
	s.attach(c)
	defer s.detach(c)

	go c.writePump()

	ctx := r.Context()
	c.readPump(func(sig *signal.Signal) {
		if err := s.router.Route(ctx, sig); err != nil {
			c.logger.Error("route failed", zap.String("route", sig.Route()), zap.Error(err))
		}
	})
}

func (s *Server) attach(c *wsConn) {
	s.hub.Add(c)
	for _, ext := range s.extensions.All() {
		ext.RegisterConnection(c)
	}
	c.logger.Debug("connection attached")
}

func (s *Server) detach(c *wsConn) {
	s.hub.Remove(c)
	for _, ext := range s.extensions.All() {
		ext.UnregisterConnection(c)
	}
	c.close()
	c.logger.Debug("connection detached")
}
