package extension

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/mrjvadi/go-signal-server/signal"
)

func observedHost() (*Host, *observer.ObservedLogs) {
	core, logs := observer.New(zap.DebugLevel)
	return NewHost(zap.New(core), nil), logs
}

func request(route, sender, payload string) *signal.Signal {
	s := signal.New(route)
	s.Sender = sender
	s.Payload = []byte(payload)
	return s
}

func echo(c *Context) (*signal.Signal, error) {
	return c.ext.CreateResponse(c.Signal(), c.Signal().Payload), nil
}

func TestExecuteAction(t *testing.T) {
	b := NewBase("demo", nil)
	b.RegisterAction("Echo", echo)

	resp := b.ExecuteAction(context.Background(), "ECHO", request("demo/echo", "u1", "hi"))
	require.NotNil(t, resp)
	assert.Equal(t, "hi", string(resp.Payload))
	assert.Equal(t, signal.ServerIdentity, resp.Sender)
	assert.Equal(t, "u1", resp.Recipient)
	assert.Equal(t, "demo/echo", resp.Route())
}

func TestExecuteActionUnregistered(t *testing.T) {
	host, logs := observedHost()
	b := NewBase("demo", host, WithLookupAttempts(5))

	assert.Nil(t, b.ExecuteAction(context.Background(), "missing", request("demo/missing", "u1", "")))
	assert.Equal(t, 1, logs.FilterMessage("action not found").Len())
}

func TestLastRegistrationWins(t *testing.T) {
	b := NewBase("demo", nil)
	b.RegisterAction("x", func(c *Context) (*signal.Signal, error) { return c.Reply("first") })
	b.RegisterAction("X", func(c *Context) (*signal.Signal, error) { return c.Reply("second") })

	resp := b.ExecuteAction(context.Background(), "x", request("demo/x", "u1", ""))
	require.NotNil(t, resp)
	assert.Equal(t, "second", string(resp.Payload))
}

func TestActionTablesAreSeparate(t *testing.T) {
	b := NewBase("demo", nil)
	b.RegisterCrossExtensionAction("lookup", echo)

	ctx := context.Background()
	assert.Nil(t, b.ExecuteAction(ctx, "lookup", request("demo/lookup", "u1", "x")))
	assert.NotNil(t, b.ExecuteCrossExtensionAction(ctx, "lookup", request("demo/lookup", "u1", "x")))
}

func TestHandlerFailuresAreDowngraded(t *testing.T) {
	host, logs := observedHost()
	b := NewBase("demo", host)
	b.RegisterAction("missing", func(*Context) (*signal.Signal, error) {
		return nil, fmt.Errorf("store lookup: %w", ErrNotImplemented)
	})
	b.RegisterAction("broken", func(*Context) (*signal.Signal, error) {
		return nil, errors.New("boom")
	})
	b.RegisterAction("panics", func(*Context) (*signal.Signal, error) {
		panic("bad handler")
	})

	ctx := context.Background()
	assert.Nil(t, b.ExecuteAction(ctx, "missing", request("demo/missing", "u1", "")))
	assert.Nil(t, b.ExecuteAction(ctx, "broken", request("demo/broken", "u1", "")))
	assert.Nil(t, b.ExecuteAction(ctx, "panics", request("demo/panics", "u1", "")))

	notImpl := logs.FilterMessage("action not implemented").All()
	require.Len(t, notImpl, 1)
	assert.Equal(t, zap.WarnLevel, notImpl[0].Level)
	assert.Equal(t, 1, logs.FilterMessage("action failed").Len())
	assert.Equal(t, 1, logs.FilterMessage("action panicked").Len())
}

func TestCreateResponseOverridesAction(t *testing.T) {
	b := NewBase("demo", nil)
	resp := b.CreateResponse(request("Demo/Echo", "u1", ""), []byte("x"), "done")
	assert.Equal(t, "demo/done", resp.Route())
	assert.Equal(t, "demo", resp.Extension())
	assert.Equal(t, "done", resp.Action())
	assert.True(t, resp.IsValidResponse())
}

func TestContextReplyAndBind(t *testing.T) {
	b := NewBase("demo", nil)
	b.RegisterAction("greet", func(c *Context) (*signal.Signal, error) {
		var in struct {
			Name string `json:"name"`
		}
		if err := c.Bind(&in); err != nil {
			return nil, err
		}
		return c.Reply(map[string]string{"greeting": "hello " + in.Name}, "greeted")
	})

	resp := b.ExecuteAction(context.Background(), "greet", request("demo/greet", "u1", `{"name":"ann"}`))
	require.NotNil(t, resp)
	assert.Equal(t, "greeted", resp.Action())
	assert.JSONEq(t, `{"greeting":"hello ann"}`, string(resp.Payload))
}

func TestInitializeOnce(t *testing.T) {
	b := NewBase("demo", nil)
	assert.False(t, b.Initialized())
	require.NoError(t, b.Initialize(context.Background()))
	assert.True(t, b.Initialized())
	assert.ErrorIs(t, b.Initialize(context.Background()), ErrAlreadyInitialized)
}

type fakeDispatcher struct {
	broadcasts []string
}

func (f *fakeDispatcher) RouteExtension(_ context.Context, sig *signal.Signal) (*signal.Signal, error) {
	return sig, nil
}

func (f *fakeDispatcher) BroadcastSignal(_ context.Context, id string, _ *signal.Signal) error {
	f.broadcasts = append(f.broadcasts, id)
	return nil
}

func (f *fakeDispatcher) BroadcastSignals(ctx context.Context, ids []string, sig *signal.Signal) error {
	for _, id := range ids {
		_ = f.BroadcastSignal(ctx, id, sig)
	}
	return nil
}

func TestHostDispatcherIsShared(t *testing.T) {
	root := NewHost(nil, nil)
	child := root.derive(map[string]any{"greeting": "hi"})
	ctx := context.Background()

	assert.ErrorIs(t, child.BroadcastSignal(ctx, "u1", request("a/b", "u1", "")), ErrNoDispatcher)
	_, err := child.RouteExtension(ctx, request("a/b", "u1", ""))
	assert.ErrorIs(t, err, ErrNoDispatcher)

	d := &fakeDispatcher{}
	root.SetDispatcher(d)
	require.NoError(t, child.BroadcastSignals(ctx, []string{"u1", "u2"}, request("a/b", "u1", "")))
	assert.Equal(t, []string{"u1", "u2"}, d.broadcasts)

	v, ok := child.Setting("greeting")
	require.True(t, ok)
	assert.Equal(t, "hi", v)
	_, ok = root.Setting("greeting")
	assert.False(t, ok)
}

func TestInvalidExtensionError(t *testing.T) {
	cause := errors.New("disk on fire")
	err := error(&InvalidExtensionError{Name: "demo", Reason: "initialize", Err: cause})

	assert.ErrorIs(t, err, ErrInvalidExtension)
	assert.ErrorIs(t, err, cause)
	var ie *InvalidExtensionError
	require.ErrorAs(t, err, &ie)
	assert.Equal(t, "demo", ie.Name)
	assert.Equal(t, `extension "demo": initialize: disk on fire`, err.Error())
}
