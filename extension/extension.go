// Package extension is the plugin side of the server.
//
// An Extension owns two action tables: actions reached by client signals
// routed to it, and cross-extension actions other extensions call
// synchronously. Concrete extensions embed *Base, register their actions in
// Initialize, then call Base.Initialize. Extensions are built either from a
// factory registered with Register or from a Go plugin exporting NewExtension,
// and are published by a Loader as one immutable Set.
package extension

import (
	"context"
	"errors"
	"fmt"

	"github.com/mrjvadi/go-signal-server/connection"
	"github.com/mrjvadi/go-signal-server/signal"
)

var (
	// ErrNotInitialized is returned when a signal reaches an extension whose
	// Initialize has not completed.
	ErrNotInitialized = errors.New("extension: not initialized")
	// ErrNotImplemented marks a handler that lacks the requested capability.
	// Executing such a handler yields no response rather than an error.
	ErrNotImplemented     = errors.New("extension: not implemented")
	ErrInvalidExtension   = errors.New("extension: invalid extension")
	ErrAlreadyLoaded      = errors.New("extension: already loaded")
	ErrAlreadyInitialized = errors.New("extension: already initialized")
)

// InvalidExtensionError says which extension failed to load and at what step.
type InvalidExtensionError struct {
	Name   string
	Reason string
	Err    error
}

func (e *InvalidExtensionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("extension %q: %s", e.Name, e.Reason)
	}
	return fmt.Sprintf("extension %q: %s: %v", e.Name, e.Reason, e.Err)
}

func (e *InvalidExtensionError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrInvalidExtension}
	}
	return []error{ErrInvalidExtension, e.Err}
}

// ActionFunc handles one signal. A nil signal with a nil error means no response.
type ActionFunc func(c *Context) (*signal.Signal, error)

type Extension interface {
	Name() string
	Initialize(ctx context.Context) error
	Initialized() bool
	// ExecuteAction runs a client-facing action. It never fails: missing
	// actions and handler errors are logged and yield nil.
	ExecuteAction(ctx context.Context, action string, sig *signal.Signal) *signal.Signal
	ExecuteCrossExtensionAction(ctx context.Context, action string, sig *signal.Signal) *signal.Signal
	RegisterConnection(conn connection.Connection)
	UnregisterConnection(conn connection.Connection)
}

// Factory builds an extension named name. Go plugins export one as NewExtension.
type Factory func(name string, host *Host) (Extension, error)
