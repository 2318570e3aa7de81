// Package router moves signals between connections and extensions.
//
// A Router starts Uninitialized and only ever moves to Initialized. In local
// mode a routed signal runs on the target extension in the calling goroutine
// and its response goes straight to the recipient's connections. In cluster
// mode signals travel over a requests channel, are executed by the process that
// owns the originating connection, and come back over a responses channel.
package router

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/mrjvadi/go-signal-server/connection"
	"github.com/mrjvadi/go-signal-server/extension"
	"github.com/mrjvadi/go-signal-server/queue"
	"github.com/mrjvadi/go-signal-server/signal"
)

var (
	// ErrNotInitialized is returned by every routing call made before Initialize.
	ErrNotInitialized = errors.New("router: not initialized")
	// ErrClosed is returned by every routing call made after Close.
	ErrClosed = errors.New("router: closed")

	ErrMissingDependency = errors.New("router: missing dependency")
)

// ExtensionSource resolves extensions by name, case-insensitively.
// *extension.Loader and *extension.Set both satisfy it.
type ExtensionSource interface {
	Lookup(name string) (extension.Extension, bool)
}

type Router struct {
	extensions ExtensionSource
	registry   connection.Registry
	handler    *queue.Handler
	cluster    *ClusterConfig
	logger     *zap.Logger
	metrics    *Metrics

	initMu      sync.Mutex
	initialized atomic.Bool
	closed      atomic.Bool
	requests    queue.Key
	responses   queue.Key
	subs        []subscription
}

type subscription struct {
	key queue.Key
	id  queue.SubscriptionID
}

type Option func(*Router)

func WithLogger(l *zap.Logger) Option {
	return func(r *Router) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithQueueHandler gives the router a queue handler. Its worker is started by
// Initialize and stopped by Close. Cluster mode requires one.
func WithQueueHandler(h *queue.Handler) Option {
	return func(r *Router) { r.handler = h }
}

// WithCluster switches the router to cluster mode.
func WithCluster(cfg ClusterConfig) Option {
	return func(r *Router) { r.cluster = &cfg }
}

func WithMetrics(m *Metrics) Option {
	return func(r *Router) { r.metrics = m }
}

func New(extensions ExtensionSource, registry connection.Registry, opts ...Option) *Router {
	r := &Router{
		extensions: extensions,
		registry:   registry,
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Router) Initialized() bool { return r.initialized.Load() }

// Initialize checks collaborators, provisions the cluster channels when in
// cluster mode and starts the queue worker. Calling it again does nothing.
func (r *Router) Initialize(ctx context.Context) error {
	r.initMu.Lock()
	defer r.initMu.Unlock()
	if r.closed.Load() {
		return ErrClosed
	}
	if r.initialized.Load() {
		return nil
	}

	if r.extensions == nil {
		return fmt.Errorf("%w: extension source", ErrMissingDependency)
	}
	if r.registry == nil {
		return fmt.Errorf("%w: connection registry", ErrMissingDependency)
	}
	if r.cluster != nil {
		if r.handler == nil {
			return fmt.Errorf("%w: queue handler is required in cluster mode", ErrMissingDependency)
		}
		if err := r.provision(ctx); err != nil {
			return err
		}
	}
	if r.handler != nil {
		r.handler.Start(context.WithoutCancel(ctx))
	}

	r.initialized.Store(true)
	mode := "local"
	if r.cluster != nil {
		mode = "cluster"
	}
	r.logger.Info("router initialized", zap.String("mode", mode))
	return nil
}

// Close stops the queue worker and closes every queue it owns. Routing calls
// made afterwards return ErrClosed.
func (r *Router) Close() error {
	r.initMu.Lock()
	defer r.initMu.Unlock()
	if !r.closed.CompareAndSwap(false, true) {
		return nil
	}

	if r.handler == nil {
		return nil
	}
	for _, s := range r.subs {
		_ = r.handler.RemoveEvent(s.key, s.id)
	}
	r.subs = nil
	return r.handler.Stop()
}

// Route accepts an untrusted signal from a connection. Invalid signals and
// unknown extensions are logged and dropped without an error.
func (r *Router) Route(ctx context.Context, sig *signal.Signal) error {
	if err := r.ready(); err != nil {
		return err
	}
	if sig == nil || !sig.IsValid() {
		r.logger.Warn("dropping invalid signal", zap.Stringer("signal", sig))
		r.metrics.dropped("invalid")
		return nil
	}

	if r.cluster != nil {
		r.metrics.routed("cluster")
		return r.handler.Enqueue(ctx, r.requests, sig)
	}

	ext, err := r.resolve(sig)
	if err != nil || ext == nil {
		return err
	}
	r.metrics.routed("local")

	resp := r.execute(ctx, ext, sig)
	if resp == nil {
		return nil
	}
	if resp.Recipient == "" {
		resp.Recipient = sig.Sender
	}
	if err := r.BroadcastSignal(ctx, resp.Recipient, resp); err != nil {
		r.logger.Warn("response delivery incomplete", zap.String("route", sig.Route()), zap.Error(err))
	}
	return nil
}

// RouteExtension runs a cross-extension action in the calling goroutine and
// returns its result, which may be nil.
func (r *Router) RouteExtension(ctx context.Context, sig *signal.Signal) (*signal.Signal, error) {
	if err := r.ready(); err != nil {
		return nil, err
	}
	if sig == nil || sig.Extension() == "" || sig.Action() == "" {
		r.logger.Warn("dropping invalid cross-extension signal", zap.Stringer("signal", sig))
		r.metrics.dropped("invalid")
		return nil, nil
	}
	ext, err := r.resolve(sig)
	if err != nil || ext == nil {
		return nil, err
	}
	start := time.Now()
	defer r.metrics.observe(ext.Name(), "cross", start)
	return ext.ExecuteCrossExtensionAction(ctx, sig.Action(), sig), nil
}

func (r *Router) ready() error {
	switch {
	case r.closed.Load():
		return ErrClosed
	case !r.initialized.Load():
		return ErrNotInitialized
	}
	return nil
}

// resolve returns nil, nil when the extension is unknown.
func (r *Router) resolve(sig *signal.Signal) (extension.Extension, error) {
	ext, ok := r.extensions.Lookup(sig.Extension())
	if !ok {
		r.logger.Warn("unknown extension", zap.String("extension", sig.Extension()), zap.String("route", sig.Route()))
		r.metrics.dropped("unknown_extension")
		return nil, nil
	}
	if !ext.Initialized() {
		return nil, fmt.Errorf("%w: %s", extension.ErrNotInitialized, ext.Name())
	}
	return ext, nil
}

func (r *Router) execute(ctx context.Context, ext extension.Extension, sig *signal.Signal) *signal.Signal {
	start := time.Now()
	defer r.metrics.observe(ext.Name(), "action", start)
	return ext.ExecuteAction(ctx, sig.Action(), sig)
}

var _ extension.Dispatcher = (*Router)(nil)
