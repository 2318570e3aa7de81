package extension

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/mrjvadi/go-signal-server/connection"
	"github.com/mrjvadi/go-signal-server/signal"
)

const defaultLookupAttempts = 3

// Base carries the action tables and lifecycle flag every extension shares.
type Base struct {
	name           string
	host           *Host
	logger         *zap.Logger
	lookupAttempts int

	mu           sync.RWMutex
	actions      map[string]ActionFunc
	crossActions map[string]ActionFunc

	initialized atomic.Bool
}

type BaseOption func(*Base)

// WithLookupAttempts sets how many times a missing action is looked up again
// before giving up. Lookups are retried immediately.
func WithLookupAttempts(n int) BaseOption {
	return func(b *Base) {
		if n > 0 {
			b.lookupAttempts = n
		}
	}
}

func NewBase(name string, host *Host, opts ...BaseOption) *Base {
	if host == nil {
		host = NewHost(nil, nil)
	}
	b := &Base{
		name:           name,
		host:           host,
		logger:         host.Logger.With(zap.String("extension", name)),
		lookupAttempts: defaultLookupAttempts,
		actions:        make(map[string]ActionFunc),
		crossActions:   make(map[string]ActionFunc),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func (b *Base) Name() string        { return b.name }
func (b *Base) Host() *Host         { return b.host }
func (b *Base) Logger() *zap.Logger { return b.logger }
func (b *Base) Initialized() bool   { return b.initialized.Load() }

// Initialize marks the extension ready. Embedders register their actions first.
func (b *Base) Initialize(context.Context) error {
	if !b.initialized.CompareAndSwap(false, true) {
		return ErrAlreadyInitialized
	}
	b.mu.RLock()
	b.logger.Debug("extension initialized",
		zap.Int("actions", len(b.actions)),
		zap.Int("cross_actions", len(b.crossActions)))
	b.mu.RUnlock()
	return nil
}

// RegisterAction binds name to fn, replacing any earlier binding.
func (b *Base) RegisterAction(name string, fn ActionFunc) {
	b.mu.Lock()
	b.actions[strings.ToLower(name)] = fn
	b.mu.Unlock()
	b.logger.Debug("action registered", zap.String("action", name))
}

func (b *Base) RegisterCrossExtensionAction(name string, fn ActionFunc) {
	b.mu.Lock()
	b.crossActions[strings.ToLower(name)] = fn
	b.mu.Unlock()
	b.logger.Debug("cross-extension action registered", zap.String("action", name))
}

func (b *Base) ExecuteAction(ctx context.Context, action string, sig *signal.Signal) *signal.Signal {
	return b.execute(ctx, b.actions, "action", action, sig)
}

func (b *Base) ExecuteCrossExtensionAction(ctx context.Context, action string, sig *signal.Signal) *signal.Signal {
	return b.execute(ctx, b.crossActions, "cross-extension action", action, sig)
}

func (b *Base) RegisterConnection(connection.Connection)   {}
func (b *Base) UnregisterConnection(connection.Connection) {}

// CreateResponse builds the reply to req: same route, or the same extension
// with action replaced, from the server to req's sender.
func (b *Base) CreateResponse(req *signal.Signal, payload []byte, action ...string) *signal.Signal {
	route := req.Route()
	if len(action) > 0 && action[0] != "" {
		ext := req.Extension()
		if ext == "" {
			ext = b.name
		}
		route = ext + "/" + action[0]
	}
	resp := signal.New(route)
	resp.Sender = signal.ServerIdentity
	resp.Recipient = req.Sender
	resp.Payload = payload
	return resp
}

func (b *Base) lookup(table map[string]ActionFunc, name string) (ActionFunc, bool) {
	key := strings.ToLower(name)
	for i := 0; i < b.lookupAttempts; i++ {
		b.mu.RLock()
		fn, ok := table[key]
		b.mu.RUnlock()
		if ok {
			return fn, true
		}
	}
	return nil, false
}

func (b *Base) execute(ctx context.Context, table map[string]ActionFunc, kind, name string, sig *signal.Signal) (resp *signal.Signal) {
	fn, ok := b.lookup(table, name)
	if !ok {
		b.logger.Warn(kind+" not found", zap.String("action", name))
		return nil
	}

	defer func() {
		if r := recover(); r != nil {
			b.logger.Error(kind+" panicked",
				zap.String("action", name),
				zap.String("panic", fmt.Sprint(r)),
				zap.Stack("stack"))
			resp = nil
		}
	}()

	resp, err := fn(&Context{ctx: ctx, sig: sig, ext: b})
	switch {
	case errors.Is(err, ErrNotImplemented):
		b.logger.Warn(kind+" not implemented", zap.String("action", name), zap.Error(err))
		return nil
	case err != nil:
		b.logger.Error(kind+" failed", zap.String("action", name), zap.Error(err))
		return nil
	}
	return resp
}
