package extension

import (
	"context"

	"go.uber.org/zap"

	"github.com/mrjvadi/go-signal-server/signal"
)

// Context is handed to every action.
type Context struct {
	ctx context.Context
	sig *signal.Signal
	ext *Base
}

func (c *Context) Ctx() context.Context   { return c.ctx }
func (c *Context) Signal() *signal.Signal { return c.sig }
func (c *Context) Host() *Host            { return c.ext.host }
func (c *Context) Logger() *zap.Logger    { return c.ext.logger }

// Bind decodes the signal payload as JSON into v.
func (c *Context) Bind(v any) error {
	return c.sig.Bind(v)
}

// Reply encodes v as the payload of a response to the current signal.
// An action name overrides the request's action.
func (c *Context) Reply(v any, action ...string) (*signal.Signal, error) {
	payload, err := signal.Encode(v)
	if err != nil {
		return nil, err
	}
	return c.ext.CreateResponse(c.sig, payload, action...), nil
}
