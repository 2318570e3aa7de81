package router

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/mrjvadi/go-signal-server/connection"
	"github.com/mrjvadi/go-signal-server/signal"
)

// BroadcastSignal sends sig from the server to every live connection of
// entityID. A failing connection does not stop delivery to the others; all
// failures are returned joined. No connections is not an error.
func (r *Router) BroadcastSignal(ctx context.Context, entityID string, sig *signal.Signal) error {
	if err := r.ready(); err != nil {
		return err
	}
	if sig == nil {
		return nil
	}
	sig.Sender = signal.ServerIdentity

	conns := r.registry.ConnectionsByClientID(entityID)
	if len(conns) == 0 {
		r.logger.Debug("broadcast without connections", zap.String("entity", entityID))
		return nil
	}
	sig.Recipient = conns[0].ClientID()
	return r.sendAll(ctx, conns, sig)
}

func (r *Router) BroadcastSignals(ctx context.Context, entityIDs []string, sig *signal.Signal) error {
	if err := r.ready(); err != nil {
		return err
	}
	var errs []error
	for _, id := range entityIDs {
		if err := r.BroadcastSignal(ctx, id, sig); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// sendAll gives every connection its own copy of sig addressed to it.
func (r *Router) sendAll(ctx context.Context, conns []connection.Connection, sig *signal.Signal) error {
	var errs []error
	for _, c := range conns {
		out := sig.Clone()
		out.Recipient = c.ClientID()
		err := c.Send(ctx, out)
		r.metrics.sent(err)
		if err != nil {
			r.logger.Warn("send failed",
				zap.String("client", c.ClientID()),
				zap.String("connection", c.UniqueID()),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("connection %s: %w", c.UniqueID(), err))
		}
	}
	return errors.Join(errs...)
}
