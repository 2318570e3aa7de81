package extension

import (
	"context"
	"errors"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/mrjvadi/go-signal-server/cache"
	"github.com/mrjvadi/go-signal-server/signal"
)

// ErrNoDispatcher is returned by Host calls made before the router is attached.
var ErrNoDispatcher = errors.New("extension: no dispatcher attached")

// Dispatcher is the part of the router extensions may call back into.
type Dispatcher interface {
	RouteExtension(ctx context.Context, sig *signal.Signal) (*signal.Signal, error)
	BroadcastSignal(ctx context.Context, entityID string, sig *signal.Signal) error
	BroadcastSignals(ctx context.Context, entityIDs []string, sig *signal.Signal) error
}

type dispatcherRef struct {
	v atomic.Pointer[dispatcherBox]
}

type dispatcherBox struct{ d Dispatcher }

// Host is what an extension sees of the process: a logger, the shared
// bookkeeping store, its own config section, and the router once attached.
type Host struct {
	Logger *zap.Logger
	Cache  cache.Store
	Config map[string]any

	dispatcher *dispatcherRef
}

// NewHost returns a host with a nop logger and a memory store when either is nil.
func NewHost(logger *zap.Logger, store cache.Store) *Host {
	if logger == nil {
		logger = zap.NewNop()
	}
	if store == nil {
		store = cache.NewMemoryStore(cache.NoExpiry)
	}
	return &Host{
		Logger:     logger,
		Cache:      store,
		Config:     map[string]any{},
		dispatcher: &dispatcherRef{},
	}
}

// SetDispatcher attaches d to this host and to every host derived from it.
func (h *Host) SetDispatcher(d Dispatcher) {
	if h.dispatcher == nil {
		h.dispatcher = &dispatcherRef{}
	}
	h.dispatcher.v.Store(&dispatcherBox{d: d})
}

func (h *Host) Dispatcher() (Dispatcher, bool) {
	if h.dispatcher == nil {
		return nil, false
	}
	box := h.dispatcher.v.Load()
	if box == nil || box.d == nil {
		return nil, false
	}
	return box.d, true
}

// Setting returns a value from the extension's config section.
func (h *Host) Setting(key string) (any, bool) {
	v, ok := h.Config[key]
	return v, ok
}

func (h *Host) RouteExtension(ctx context.Context, sig *signal.Signal) (*signal.Signal, error) {
	d, ok := h.Dispatcher()
	if !ok {
		return nil, ErrNoDispatcher
	}
	return d.RouteExtension(ctx, sig)
}

func (h *Host) BroadcastSignal(ctx context.Context, entityID string, sig *signal.Signal) error {
	d, ok := h.Dispatcher()
	if !ok {
		return ErrNoDispatcher
	}
	return d.BroadcastSignal(ctx, entityID, sig)
}

func (h *Host) BroadcastSignals(ctx context.Context, entityIDs []string, sig *signal.Signal) error {
	d, ok := h.Dispatcher()
	if !ok {
		return ErrNoDispatcher
	}
	return d.BroadcastSignals(ctx, entityIDs, sig)
}

// derive returns a host for one extension sharing logger, store and dispatcher.
func (h *Host) derive(cfg map[string]any) *Host {
	if cfg == nil {
		cfg = map[string]any{}
	}
	return &Host{
		Logger:     h.Logger,
		Cache:      h.Cache,
		Config:     cfg,
		dispatcher: h.dispatcher,
	}
}
