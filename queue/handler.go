package queue

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/mrjvadi/go-signal-server/cache"
	"github.com/mrjvadi/go-signal-server/signal"
)

// Handler owns every queue of the process and drains the pull-based ones.
type Handler struct {
	factory      Factory
	queues       *cache.Memory[Queue]
	logger       *zap.Logger
	pollInterval time.Duration

	mu      sync.Mutex
	pending []Key
	wake    chan struct{}

	runMu   sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	stopped atomic.Bool
}

type HandlerOption func(*Handler)

func WithHandlerLogger(l *zap.Logger) HandlerOption {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

// WithPollInterval sets how often an idle worker re-checks the pending list
// when nothing woke it.
func WithPollInterval(d time.Duration) HandlerOption {
	return func(h *Handler) {
		if d > 0 {
			h.pollInterval = d
		}
	}
}

func NewHandler(factory Factory, opts ...HandlerOption) *Handler {
	h := &Handler{
		factory:      factory,
		queues:       cache.NewMemory[Queue](cache.NoExpiry),
		logger:       zap.NewNop(),
		pollInterval: 20 * time.Millisecond,
		wake:         make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// CreateQueue returns the queue already registered under decl's key, or
// declares a new one. A stopped handler returns ErrClosed.
func (h *Handler) CreateQueue(ctx context.Context, decl Declaration) (Queue, error) {
	if h.stopped.Load() {
		return nil, ErrClosed
	}
	if err := decl.Validate(); err != nil {
		return nil, err
	}
	q, created, err := h.queues.GetOrCreate(decl.Key().String(), func() (Queue, error) {
		return h.factory.NewQueue(ctx, decl)
	})
	if err != nil {
		return nil, err
	}
	if created && h.stopped.Load() {
		// lost a race with Stop
		h.queues.Delete(decl.Key().String())
		_ = q.Close()
		return nil, ErrClosed
	}
	if created {
		h.logger.Debug("queue created",
			zap.String("queue", decl.Key().String()),
			zap.String("service", string(h.factory.Service())))
	}
	return q, nil
}

func (h *Handler) RemoveQueue(_ context.Context, key Key) error {
	q, ok := h.queues.Delete(key.String())
	if !ok {
		return ErrUnknownQueue
	}
	return q.Close()
}

func (h *Handler) Queue(key Key) (Queue, bool) {
	return h.queues.Get(key.String())
}

// Enqueue publishes sig on key, declaring a direct queue bound with its own
// name when key is unknown, and wakes the worker.
func (h *Handler) Enqueue(ctx context.Context, key Key, sig *signal.Signal) error {
	q, err := h.CreateQueue(ctx, DefaultDeclaration(key))
	if err != nil {
		return err
	}
	if err := q.Enqueue(ctx, sig); err != nil {
		return err
	}

	h.mu.Lock()
	h.pending = append(h.pending, key)
	h.mu.Unlock()

	select {
	case h.wake <- struct{}{}:
	default:
	}
	return nil
}

func (h *Handler) AddEvent(key Key, l Listener) (SubscriptionID, error) {
	q, ok := h.Queue(key)
	if !ok {
		return 0, ErrUnknownQueue
	}
	return q.Subscribe(l), nil
}

func (h *Handler) RemoveEvent(key Key, id SubscriptionID) error {
	q, ok := h.Queue(key)
	if !ok {
		return ErrUnknownQueue
	}
	q.Unsubscribe(id)
	return nil
}

// Start runs the drain worker until ctx ends or Stop is called. Calling Start
// on a running or stopped handler does nothing.
func (h *Handler) Start(ctx context.Context) {
	h.runMu.Lock()
	defer h.runMu.Unlock()
	if h.cancel != nil || h.stopped.Load() {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	h.done = make(chan struct{})
	go func() {
		defer close(h.done)
		h.run(ctx)
	}()
}

// Stop halts the worker and closes every queue. The handler cannot be
// reused: later CreateQueue and Enqueue calls return ErrClosed. Calling Stop
// again does nothing.
func (h *Handler) Stop() error {
	if !h.stopped.CompareAndSwap(false, true) {
		return nil
	}
	h.runMu.Lock()
	if h.cancel != nil {
		h.cancel()
		<-h.done
		h.cancel = nil
	}
	h.runMu.Unlock()

	var errs []error
	for _, q := range h.queues.Search(func(string, Queue) bool { return true }) {
		h.queues.Delete(q.Key().String())
		if err := q.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := h.factory.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (h *Handler) run(ctx context.Context) {
	ticker := time.NewTicker(h.pollInterval)
	defer ticker.Stop()

	for {
		h.drain(ctx)
		select {
		case <-ctx.Done():
			return
		case <-h.wake:
		case <-ticker.C:
		}
	}
}

func (h *Handler) drain(ctx context.Context) {
	for ctx.Err() == nil {
		key, ok := h.popPending()
		if !ok {
			return
		}
		q, ok := h.Queue(key)
		if !ok || !q.CanDequeue() {
			continue
		}
		if _, err := q.Dequeue(ctx); err != nil && !errors.Is(err, ErrEmpty) {
			h.logger.Warn("dequeue failed", zap.String("queue", key.String()), zap.Error(err))
		}
	}
}

func (h *Handler) popPending() (Key, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.pending) == 0 {
		return Key{}, false
	}
	key := h.pending[0]
	h.pending = h.pending[1:]
	return key, true
}
